// Package postgres is the authority's persisted-state backend, built on
// jackc/pgx/v5 with a connected pgxpool.Pool. It implements the
// OperationLog, BaselineStore, and ReplicaRegistry
// storage contracts against three tables:
// operations(library, oid, timestamp, replicaId, payload),
// baselines(library, oid, timestamp, snapshot),
// replicas(library, replicaId, userId, type, ackedTimestamp, lastSeen).
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS operations (
	library    TEXT NOT NULL,
	oid        TEXT NOT NULL,
	timestamp  TEXT NOT NULL,
	replica_id TEXT NOT NULL,
	payload    JSONB NOT NULL,
	PRIMARY KEY (library, oid, timestamp)
);
CREATE INDEX IF NOT EXISTS operations_library_timestamp_idx ON operations (library, timestamp);
CREATE INDEX IF NOT EXISTS operations_library_oid_timestamp_idx ON operations (library, oid, timestamp);

CREATE TABLE IF NOT EXISTS baselines (
	library   TEXT NOT NULL,
	oid       TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	snapshot  JSONB NOT NULL,
	PRIMARY KEY (library, oid)
);
CREATE INDEX IF NOT EXISTS baselines_library_timestamp_idx ON baselines (library, timestamp);

CREATE TABLE IF NOT EXISTS replicas (
	library          TEXT NOT NULL,
	replica_id       TEXT NOT NULL,
	user_id          TEXT NOT NULL,
	type             TEXT NOT NULL,
	acked_timestamp  TEXT NOT NULL DEFAULT '',
	last_seen        TIMESTAMPTZ NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (library, replica_id)
);
`

// Migrate creates the schema if it doesn't already exist. The authority
// runs this once at startup, before serving any requests.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}
