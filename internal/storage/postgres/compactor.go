package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/collabtext/sync/internal/model"
)

// Compactor folds a bucket of operations into its OID's baseline and
// removes them from the log inside a single pgx transaction, satisfying
// internal/oplog.Compactor by structural typing. Without this, a crash
// between the baseline write and the log delete leaves the two tables
// disagreeing: the next rebase pass would re-fetch the undropped ops and
// apply them on top of a baseline that already has them, double-applying
// e.g. a list-insert.
type Compactor struct {
	pool    *pgxpool.Pool
	library string
}

func NewCompactor(pool *pgxpool.Pool, library string) *Compactor {
	return &Compactor{pool: pool, library: library}
}

func (c *Compactor) CompactOID(ctx context.Context, oid model.OID, ops []model.Operation) (model.Baseline, error) {
	if len(ops) == 0 {
		return model.Baseline{}, model.ErrNoBaselineForRebase
	}
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return model.Baseline{}, err
	}
	defer tx.Rollback(ctx)

	b, err := applyOperations(ctx, tx, c.library, oid, ops)
	if err != nil {
		return model.Baseline{}, err
	}
	if err := dropOperations(ctx, tx, c.library, ops); err != nil {
		return model.Baseline{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Baseline{}, err
	}
	return b, nil
}
