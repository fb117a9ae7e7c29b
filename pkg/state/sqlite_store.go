package state

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/flowsync-io/flowsync/pkg/errors"
)

// SQLiteStore keeps the state of many connectors in one database file,
// one row per (connector, key). Useful when an operator schedules a
// whole catalogue of connectors on a single host.
type SQLiteStore struct {
	db        *sql.DB
	connector string
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sync_state (
	connector  TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (connector, key)
)`

// NewSQLiteStore opens (creating if needed) the state database
func NewSQLiteStore(path, connector string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeState, "failed to open state database")
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeState, "failed to create state schema")
	}

	return &SQLiteStore{db: db, connector: connector}, nil
}

// Load reads all keys for the connector; no rows yields an empty state
func (ss *SQLiteStore) Load(ctx context.Context) (SyncState, error) {
	rows, err := ss.db.QueryContext(ctx,
		`SELECT key, value FROM sync_state WHERE connector = ?`, ss.connector)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeState, "failed to query state")
	}
	defer rows.Close()

	st := make(SyncState)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeState, "failed to scan state row")
		}
		st[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeState, "failed to read state rows")
	}
	return st, nil
}

// Save replaces the connector's state in one transaction
func (ss *SQLiteStore) Save(ctx context.Context, st SyncState) error {
	tx, err := ss.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeState, "failed to begin state transaction")
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM sync_state WHERE connector = ?`, ss.connector); err != nil {
		return errors.Wrap(err, errors.ErrorTypeState, "failed to clear previous state")
	}

	now := time.Now().UTC()
	for k, v := range st {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sync_state (connector, key, value, updated_at) VALUES (?, ?, ?, ?)`,
			ss.connector, k, v, now); err != nil {
			return errors.Wrap(err, errors.ErrorTypeState, "failed to write state row")
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeState, "failed to commit state")
	}
	return nil
}

// Close releases the database handle
func (ss *SQLiteStore) Close() error {
	return ss.db.Close()
}
