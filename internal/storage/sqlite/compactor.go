package sqlite

import (
	"context"
	"database/sql"

	"github.com/collabtext/sync/internal/model"
)

// Compactor folds a bucket of operations into its OID's local baseline
// and removes them from the local log inside a single SQL transaction,
// satisfying internal/oplog.Compactor by structural typing. This is what
// internal/replicaengine drives on global-ack to keep a long-running
// replica's local_operations table from growing unbounded, mirroring
// internal/storage/postgres.Compactor on the authority side.
type Compactor struct {
	db *sql.DB
}

func NewCompactor(db *sql.DB) *Compactor { return &Compactor{db: db} }

func (c *Compactor) CompactOID(ctx context.Context, oid model.OID, ops []model.Operation) (model.Baseline, error) {
	if len(ops) == 0 {
		return model.Baseline{}, model.ErrNoBaselineForRebase
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Baseline{}, err
	}
	defer tx.Rollback()

	b, err := applyOperations(ctx, tx, oid, ops)
	if err != nil {
		return model.Baseline{}, err
	}
	if err := dropOperations(ctx, tx, ops); err != nil {
		return model.Baseline{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.Baseline{}, err
	}
	return b, nil
}
