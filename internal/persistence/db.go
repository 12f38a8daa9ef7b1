// Package persistence exports field history to SQLite and per-tick traces to
// compressed JSONL. Nothing here is read back into a running simulation.
package persistence

import (
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/macro-immunet/internal/engine"
	"github.com/talgya/macro-immunet/internal/field"
)

// DB wraps a SQLite connection for field history.
type DB struct {
	conn *sqlx.DB
}

// Sample is one recorded field entry.
type Sample struct {
	Tick    int64   `db:"tick" json:"tick"`
	X       float64 `db:"x" json:"x"`
	Y       float64 `db:"y" json:"y"`
	Label   string  `db:"label" json:"label"`
	Value   float64 `db:"value" json:"value"`
	Settled float64 `db:"settled" json:"settled"`
	Owner   string  `db:"owner" json:"owner,omitempty"`
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS field_samples (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tick INTEGER NOT NULL,
		x REAL NOT NULL,
		y REAL NOT NULL,
		label TEXT NOT NULL,
		value REAL NOT NULL,
		settled REAL NOT NULL,
		owner TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS tick_reports (
		tick INTEGER PRIMARY KEY,
		emitted INTEGER NOT NULL,
		created INTEGER NOT NULL,
		merged INTEGER NOT NULL,
		dropped INTEGER NOT NULL,
		pruned INTEGER NOT NULL,
		entries INTEGER NOT NULL,
		duration_ns INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS run_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_samples_label_tick ON field_samples(label, tick);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// RecordEntries appends one sample per entry, all stamped with tick.
func (db *DB) RecordEntries(tick int64, entries []field.EntryView) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Preparex(`INSERT INTO field_samples
		(tick, x, y, label, value, settled, owner)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		_, err := stmt.Exec(tick, e.Coord.X, e.Coord.Y, e.Label, e.Value, e.Settled, string(e.Owner))
		if err != nil {
			return fmt.Errorf("insert sample %s: %w", e.Key, err)
		}
	}

	return tx.Commit()
}

// RecordReport stores a tick report, replacing any earlier one for the tick.
func (db *DB) RecordReport(r engine.TickReport) error {
	_, err := db.conn.Exec(`INSERT OR REPLACE INTO tick_reports
		(tick, emitted, created, merged, dropped, pruned, entries, duration_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Tick, r.Emitted, r.Apply.Created, r.Apply.Merged, r.Apply.Dropped,
		r.Pruned, r.Entries, int64(r.Duration),
	)
	return err
}

// History returns the most recent samples for label, newest first.
func (db *DB) History(label string, limit int) ([]Sample, error) {
	var samples []Sample
	err := db.conn.Select(&samples,
		`SELECT tick, x, y, label, value, settled, owner FROM field_samples
		WHERE label = ? ORDER BY tick DESC, id DESC LIMIT ?`,
		label, limit,
	)
	return samples, err
}

// HistoryAt returns the samples for one key, newest first.
func (db *DB) HistoryAt(c field.Coord, label string, limit int) ([]Sample, error) {
	var samples []Sample
	err := db.conn.Select(&samples,
		`SELECT tick, x, y, label, value, settled, owner FROM field_samples
		WHERE label = ? AND x = ? AND y = ? ORDER BY tick DESC, id DESC LIMIT ?`,
		label, c.X, c.Y, limit,
	)
	return samples, err
}

// Labels returns every label that has been sampled, sorted.
func (db *DB) Labels() ([]string, error) {
	var out []string
	err := db.conn.Select(&out, "SELECT DISTINCT label FROM field_samples ORDER BY label")
	return out, err
}

// SaveMeta stores a key-value pair in run metadata.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO run_meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM run_meta WHERE key = ?", key)
	return value, err
}

// SaveFieldState records every current entry and the last tick marker.
func (db *DB) SaveFieldState(fs *field.Store) error {
	tick := fs.Tick()
	entries := fs.Entries()
	slog.Info("recording field state", "tick", tick, "entries", len(entries))

	if err := db.RecordEntries(tick, entries); err != nil {
		return fmt.Errorf("record entries: %w", err)
	}
	if err := db.SaveMeta("last_tick", fmt.Sprintf("%d", tick)); err != nil {
		return fmt.Errorf("save meta: %w", err)
	}
	return nil
}
