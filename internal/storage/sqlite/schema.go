// Package sqlite is the replica-side persisted-state backend, built on
// mattn/go-sqlite3. It implements the replica's local OperationLog and
// BaselineStore, plus an outbound-operations table holding unsent
// operations tagged with a send-state.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS local_operations (
	oid        TEXT NOT NULL,
	timestamp  TEXT NOT NULL,
	replica_id TEXT NOT NULL,
	payload    TEXT NOT NULL,
	PRIMARY KEY (oid, timestamp)
);
CREATE INDEX IF NOT EXISTS local_operations_timestamp_idx ON local_operations (timestamp);
CREATE INDEX IF NOT EXISTS local_operations_oid_timestamp_idx ON local_operations (oid, timestamp);

CREATE TABLE IF NOT EXISTS local_baselines (
	oid       TEXT PRIMARY KEY,
	timestamp TEXT NOT NULL,
	snapshot  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS local_baselines_timestamp_idx ON local_baselines (timestamp);

-- send_state: 'pending' (not yet sent), 'sent' (awaiting authority ack).
-- A row moves to deleted once the authority has acknowledged it, rather
-- than lingering with a terminal state, since durability beyond that point
-- is the authority's job.
CREATE TABLE IF NOT EXISTS outbound_operations (
	oid        TEXT NOT NULL,
	timestamp  TEXT NOT NULL,
	replica_id TEXT NOT NULL,
	payload    TEXT NOT NULL,
	send_state TEXT NOT NULL DEFAULT 'pending',
	PRIMARY KEY (oid, timestamp)
);
CREATE INDEX IF NOT EXISTS outbound_operations_state_idx ON outbound_operations (send_state);

CREATE TABLE IF NOT EXISTS replica_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// Open opens (creating if necessary) the replica's local SQLite database
// and ensures the schema exists.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return db, nil
}
