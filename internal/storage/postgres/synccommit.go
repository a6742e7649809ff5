package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/collabtext/sync/internal/model"
)

// SyncCommitter persists a sync-step2 upload — the replica's baselines,
// its operations, and its advanced acked timestamp — in one pgx
// transaction. Without this the three writes can interleave with a
// crash: an ack advanced past operations the authority never durably
// received, or baselines without the operations the replica believed
// superseded them.
type SyncCommitter struct {
	pool    *pgxpool.Pool
	library string
}

func NewSyncCommitter(pool *pgxpool.Pool, library string) *SyncCommitter {
	return &SyncCommitter{pool: pool, library: library}
}

func (c *SyncCommitter) CommitSyncStep2(ctx context.Context, baselines []model.Baseline, replicaID string, ops []model.Operation, ackTo model.HLC) error {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, b := range baselines {
		if err := upsertBaseline(ctx, tx, c.library, b); err != nil {
			return err
		}
	}
	if err := insertOperations(ctx, tx, c.library, replicaID, ops); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE replicas SET acked_timestamp = GREATEST(acked_timestamp, $3) WHERE library = $1 AND replica_id = $2`,
		c.library, replicaID, string(ackTo)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
