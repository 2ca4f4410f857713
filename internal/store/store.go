// Package store is the Durable Store (C1): persisted channel authority,
// event records, per-event source rows, and the dedup cache. Two concrete
// backends — internal/store/sqlite (standalone) and internal/store/pgstore
// (managed) — share this one implementation over database/sql; only the
// placeholder syntax and schema-application step differ between them.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ravidnaor/corrobot/internal/model"
)

// Store is the Durable Store contract used by the Pipeline, Event Pool and
// Authority Tracker. All writes go through a single *sql.DB connection pool
// opened with MaxOpenConns(1) by the callers in sqlite/pgstore, giving the
// single-writer discipline §5 requires.
type Store interface {
	EnsureChannel(ctx context.Context, channel string, class model.ChannelClass) (*model.ChannelRecord, error)
	GetChannel(ctx context.Context, channel string) (*model.ChannelRecord, error)
	UpdateAuthority(ctx context.Context, channel string, score float64, reason string) error
	BulkUpdateScores(ctx context.Context, records []model.ChannelRecord) error

	InsertEvent(ctx context.Context, ev *model.Event) error
	InsertEventSource(ctx context.Context, src model.Source) error
	UpdateEventStatus(ctx context.Context, eventID string, status model.Status, sentAt *time.Time) error
	GetPendingEvents(ctx context.Context) ([]*model.Event, error)
	EventSources(ctx context.Context, eventID string) ([]model.Source, error)

	// CheckAndInsertDedup reports whether hashKey already existed, inserting
	// it if not — an atomic test-and-set matching spec.md §4.5 step 2.
	CheckAndInsertDedup(ctx context.Context, hashKey string) (existed bool, err error)

	Cleanup(ctx context.Context, retention time.Duration) error
	Checkpoint(ctx context.Context) error
	Close() error
}

// Dialect captures the handful of SQL differences between SQLite and Postgres.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

type sqlStore struct {
	db      *sql.DB
	dialect Dialect
}

// New wraps an already-opened *sql.DB (schema already applied by the caller)
// in the shared Store implementation.
func New(db *sql.DB, dialect Dialect) Store {
	return &sqlStore{db: db, dialect: dialect}
}

// ph returns the n-th positional placeholder for the active dialect.
func (s *sqlStore) ph(n int) string {
	if s.dialect == DialectPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (s *sqlStore) EnsureChannel(ctx context.Context, channel string, class model.ChannelClass) (*model.ChannelRecord, error) {
	rec, err := s.GetChannel(ctx, channel)
	if err == nil {
		return rec, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}
	baseline := sourceBaseline
	if class == model.ClassSmart {
		baseline = smartBaseline
	}
	q := fmt.Sprintf(`INSERT INTO channels (username, class, score, total_reports, corroborated, first_to_report, uncorroborated_urgent, last_updated)
		VALUES (%s, %s, %s, 0, 0, 0, 0, %s)
		ON CONFLICT (username) DO NOTHING`, s.ph(1), s.ph(2), s.ph(3), s.ph(4))
	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx, q, channel, string(class), baseline, now); err != nil {
		return nil, fmt.Errorf("ensure_channel insert: %w", err)
	}
	return s.GetChannel(ctx, channel)
}

const (
	sourceBaseline = 35.0
	smartBaseline  = 55.0
)

func (s *sqlStore) GetChannel(ctx context.Context, channel string) (*model.ChannelRecord, error) {
	q := fmt.Sprintf(`SELECT username, class, score, total_reports, corroborated, first_to_report, uncorroborated_urgent, last_updated
		FROM channels WHERE username = %s`, s.ph(1))
	row := s.db.QueryRowContext(ctx, q, channel)
	var rec model.ChannelRecord
	var class string
	if err := row.Scan(&rec.Channel, &class, &rec.Score, &rec.TotalReports, &rec.Corroborated,
		&rec.FirstToReport, &rec.UncorroboratedUrgent, &rec.LastUpdated); err != nil {
		return nil, err
	}
	rec.Class = model.ChannelClass(class)
	return &rec, nil
}

func (s *sqlStore) UpdateAuthority(ctx context.Context, channel string, score float64, reason string) error {
	col := ""
	switch reason {
	case "corroborated":
		col = "corroborated = corroborated + 1"
	case "first_to_report":
		col = "first_to_report = first_to_report + 1"
	case "uncorroborated_urgent":
		col = "uncorroborated_urgent = uncorroborated_urgent + 1"
	case "decay", "report":
		col = "" // score/total_reports only
	default:
		return fmt.Errorf("update_authority: unknown reason %q", reason)
	}
	q := fmt.Sprintf(`UPDATE channels SET score = %s, total_reports = total_reports + 1, last_updated = %s`, s.ph(1), s.ph(2))
	if col != "" {
		q += ", " + col
	}
	q += fmt.Sprintf(` WHERE username = %s`, s.ph(3))
	_, err := s.db.ExecContext(ctx, q, score, time.Now().UTC(), channel)
	return err
}

func (s *sqlStore) BulkUpdateScores(ctx context.Context, records []model.ChannelRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	q := fmt.Sprintf(`UPDATE channels SET score = %s, last_updated = %s WHERE username = %s`, s.ph(1), s.ph(2), s.ph(3))
	now := time.Now().UTC()
	for _, r := range records {
		if _, err := tx.ExecContext(ctx, q, r.Score, now, r.Channel); err != nil {
			return fmt.Errorf("bulk_update_scores: %w", err)
		}
	}
	return tx.Commit()
}

func (s *sqlStore) InsertEvent(ctx context.Context, ev *model.Event) error {
	sigJSON, err := json.Marshal(ev.Signature)
	if err != nil {
		return fmt.Errorf("marshal signature: %w", err)
	}
	q := fmt.Sprintf(`INSERT INTO events (event_id, signature_json, first_seen, last_updated, source_count, status, sent_at)
		VALUES (%s, %s, %s, %s, %s, %s, %s)`, s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7))
	var sentAt interface{}
	_, err = s.db.ExecContext(ctx, q, ev.ID, string(sigJSON), ev.FirstSeen, ev.LastUpdated, ev.SourceCount, string(ev.Status), sentAt)
	return err
}

// InsertEventSource enforces invariant I1 (one row per event/channel) via
// ON CONFLICT DO NOTHING, and keeps events.source_count equal to the number
// of event_sources rows (invariant I2) by only incrementing it when a row
// was actually inserted.
func (s *sqlStore) InsertEventSource(ctx context.Context, src model.Source) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	q := fmt.Sprintf(`INSERT INTO event_sources (event_id, channel, reported_at, raw_text_clipped, permalink)
		VALUES (%s, %s, %s, %s, %s)
		ON CONFLICT (event_id, channel) DO NOTHING`, s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5))
	res, err := tx.ExecContext(ctx, q, src.EventID, src.Channel, src.ReportedAt, clip(src.RawText, 500), src.Permalink)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		upd := fmt.Sprintf(`UPDATE events SET source_count = source_count + 1, last_updated = %s WHERE event_id = %s`,
			s.ph(1), s.ph(2))
		if _, err := tx.ExecContext(ctx, upd, time.Now().UTC(), src.EventID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func (s *sqlStore) UpdateEventStatus(ctx context.Context, eventID string, status model.Status, sentAt *time.Time) error {
	q := fmt.Sprintf(`UPDATE events SET status = %s, sent_at = %s, last_updated = %s WHERE event_id = %s`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4))
	var sentAtVal interface{}
	if sentAt != nil {
		sentAtVal = *sentAt
	}
	_, err := s.db.ExecContext(ctx, q, string(status), sentAtVal, time.Now().UTC(), eventID)
	return err
}

func (s *sqlStore) GetPendingEvents(ctx context.Context) ([]*model.Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT event_id, signature_json, first_seen, last_updated, source_count, status
		FROM events WHERE status = 'pending'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*model.Event
	for rows.Next() {
		ev := &model.Event{Channels: map[string]struct{}{}, ChannelClass: map[string]model.ChannelClass{}}
		var sigJSON, status string
		if err := rows.Scan(&ev.ID, &sigJSON, &ev.FirstSeen, &ev.LastUpdated, &ev.SourceCount, &status); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(sigJSON), &ev.Signature); err != nil {
			return nil, fmt.Errorf("unmarshal signature for %s: %w", ev.ID, err)
		}
		ev.Status = model.Status(status)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, ev := range events {
		srcs, err := s.EventSources(ctx, ev.ID)
		if err != nil {
			return nil, err
		}
		for _, src := range srcs {
			ev.Channels[src.Channel] = struct{}{}
			ev.Texts = append(ev.Texts, src.RawText)
			if src.Permalink != "" {
				ev.Permalinks = append(ev.Permalinks, src.Permalink)
			}
		}
	}
	return events, nil
}

func (s *sqlStore) EventSources(ctx context.Context, eventID string) ([]model.Source, error) {
	q := fmt.Sprintf(`SELECT event_id, channel, reported_at, raw_text_clipped, permalink
		FROM event_sources WHERE event_id = %s ORDER BY reported_at ASC`, s.ph(1))
	rows, err := s.db.QueryContext(ctx, q, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Source
	for rows.Next() {
		var src model.Source
		if err := rows.Scan(&src.EventID, &src.Channel, &src.ReportedAt, &src.RawText, &src.Permalink); err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

func (s *sqlStore) CheckAndInsertDedup(ctx context.Context, hashKey string) (bool, error) {
	q := fmt.Sprintf(`SELECT 1 FROM dedup_cache WHERE hash_key = %s`, s.ph(1))
	var one int
	err := s.db.QueryRowContext(ctx, q, hashKey).Scan(&one)
	if err == nil {
		return true, nil
	}
	if err != sql.ErrNoRows {
		return false, err
	}
	ins := fmt.Sprintf(`INSERT INTO dedup_cache (hash_key, created_at) VALUES (%s, %s) ON CONFLICT (hash_key) DO NOTHING`,
		s.ph(1), s.ph(2))
	if _, err := s.db.ExecContext(ctx, ins, hashKey, time.Now().UTC()); err != nil {
		return false, err
	}
	return false, nil
}

func (s *sqlStore) Cleanup(ctx context.Context, retention time.Duration) error {
	cutoff := time.Now().UTC().Add(-retention)
	q1 := fmt.Sprintf(`DELETE FROM dedup_cache WHERE created_at < %s`, s.ph(1))
	if _, err := s.db.ExecContext(ctx, q1, cutoff); err != nil {
		return fmt.Errorf("cleanup dedup: %w", err)
	}
	q2 := fmt.Sprintf(`DELETE FROM event_sources WHERE event_id IN (
		SELECT event_id FROM events WHERE status != 'pending' AND last_updated < %s)`, s.ph(1))
	if _, err := s.db.ExecContext(ctx, q2, cutoff); err != nil {
		return fmt.Errorf("cleanup event_sources: %w", err)
	}
	q3 := fmt.Sprintf(`DELETE FROM events WHERE status != 'pending' AND last_updated < %s`, s.ph(1))
	if _, err := s.db.ExecContext(ctx, q3, cutoff); err != nil {
		return fmt.Errorf("cleanup events: %w", err)
	}
	return nil
}

func (s *sqlStore) Checkpoint(ctx context.Context) error {
	if s.dialect != DialectSQLite {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`)
	return err
}

func (s *sqlStore) Close() error { return s.db.Close() }

// Schema is the semantic schema from spec.md §4.7, applied verbatim by
// internal/store/sqlite for standalone mode; managed mode applies the
// equivalent via golang-migrate migrations under ./migrations instead.
var Schema = strings.TrimSpace(`
CREATE TABLE IF NOT EXISTS channels (
	username TEXT PRIMARY KEY,
	class TEXT NOT NULL,
	score REAL NOT NULL,
	total_reports INTEGER NOT NULL DEFAULT 0,
	corroborated INTEGER NOT NULL DEFAULT 0,
	first_to_report INTEGER NOT NULL DEFAULT 0,
	uncorroborated_urgent INTEGER NOT NULL DEFAULT 0,
	last_updated TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS events (
	event_id TEXT PRIMARY KEY,
	signature_json TEXT NOT NULL,
	first_seen TIMESTAMP NOT NULL,
	last_updated TIMESTAMP NOT NULL,
	source_count INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	sent_at TIMESTAMP
);
CREATE TABLE IF NOT EXISTS event_sources (
	event_id TEXT NOT NULL REFERENCES events(event_id),
	channel TEXT NOT NULL,
	reported_at TIMESTAMP NOT NULL,
	raw_text_clipped TEXT,
	permalink TEXT,
	PRIMARY KEY (event_id, channel)
);
CREATE TABLE IF NOT EXISTS dedup_cache (
	hash_key TEXT PRIMARY KEY,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_status ON events(status);
`)
