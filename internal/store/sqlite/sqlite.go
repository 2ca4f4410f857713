// Package sqlite opens the standalone-mode backend: a single file under the
// configured data directory, using the pure-Go modernc.org/sqlite driver so
// the binary stays CGO-free — the same constraint the teacher's own
// modernc.org/sqlite dependency exists to satisfy.
package sqlite

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/ravidnaor/corrobot/internal/store"
)

// Open creates (or reuses) the SQLite file at path, applies the schema, and
// returns a Store backed by it. A single connection is kept open so writes
// are naturally serialized — matching the single-writer discipline of §5.
func Open(path string) (store.Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(store.Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return store.New(db, store.DialectSQLite), nil
}
