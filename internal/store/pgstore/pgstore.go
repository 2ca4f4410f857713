// Package pgstore opens the managed-mode backend: PostgreSQL via
// jackc/pgx/v5's database/sql adapter. Schema changes are applied
// out-of-band by `corrobot migrate` (golang-migrate/migrate/v4), not here —
// mirroring the teacher's own standalone/managed split in cmd/migrate.go.
package pgstore

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/ravidnaor/corrobot/internal/store"
)

// Open connects to dsn (from CORROBOT_POSTGRES_DSN, never a config file)
// and returns a Store. Run `corrobot migrate up` before the first Open.
func Open(dsn string) (store.Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return store.New(db, store.DialectPostgres), nil
}
