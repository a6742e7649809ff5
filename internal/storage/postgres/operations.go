package postgres

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/collabtext/sync/internal/model"
	"github.com/collabtext/sync/internal/wire"
)

// OperationLog is the pgx-backed OperationLog for one library, satisfying
// internal/oplog.Log by structural typing.
type OperationLog struct {
	pool    *pgxpool.Pool
	library string
}

func NewOperationLog(pool *pgxpool.Pool, library string) *OperationLog {
	return &OperationLog{pool: pool, library: library}
}

// InsertAll is idempotent on (library, oid, timestamp) via the table's
// primary key: ON CONFLICT DO NOTHING makes rebroadcast loops a no-op
// rather than an error.
func (l *OperationLog) InsertAll(ctx context.Context, replicaID string, ops []model.Operation) error {
	if len(ops) == 0 {
		return nil
	}
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := insertOperations(ctx, tx, l.library, replicaID, ops); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// insertOperations batches the insert over db, which may be the pool
// itself or a transaction a caller (SyncCommitter) already
// holds open for a larger atomic unit of work.
func insertOperations(ctx context.Context, db pgxQuerier, library, replicaID string, ops []model.Operation) error {
	batch := &pgx.Batch{}
	n := 0
	for _, op := range ops {
		if err := op.Validate(); err != nil {
			continue // corrupt op: dropped without a logged warning, never retried
		}
		payload, err := json.Marshal(wire.FromOperation(op).Data)
		if err != nil {
			continue
		}
		batch.Queue(
			`INSERT INTO operations (library, oid, timestamp, replica_id, payload)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (library, oid, timestamp) DO NOTHING`,
			library, string(op.OID), string(op.Timestamp), replicaID, payload,
		)
		n++
	}
	if n == 0 {
		return nil
	}

	br := db.SendBatch(ctx, batch)
	for i := 0; i < n; i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return err
		}
	}
	return br.Close()
}

func (l *OperationLog) GetAfter(ctx context.Context, ts model.HLC) ([]model.Operation, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT oid, timestamp, replica_id, payload FROM operations
		 WHERE library = $1 AND ($2 = '' OR timestamp > $2)
		 ORDER BY timestamp ASC`,
		l.library, string(ts))
	if err != nil {
		return nil, err
	}
	return scanOperations(rows)
}

func (l *OperationLog) GetBefore(ctx context.Context, ts model.HLC) ([]model.Operation, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT oid, timestamp, replica_id, payload FROM operations
		 WHERE library = $1 AND timestamp < $2
		 ORDER BY timestamp ASC`,
		l.library, string(ts))
	if err != nil {
		return nil, err
	}
	return scanOperations(rows)
}

func (l *OperationLog) GetForOID(ctx context.Context, oid model.OID) ([]model.Operation, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT oid, timestamp, replica_id, payload FROM operations
		 WHERE library = $1 AND oid = $2
		 ORDER BY timestamp ASC`,
		l.library, string(oid))
	if err != nil {
		return nil, err
	}
	return scanOperations(rows)
}

func (l *OperationLog) Drop(ctx context.Context, ops []model.Operation) error {
	if len(ops) == 0 {
		return nil
	}
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := dropOperations(ctx, tx, l.library, ops); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// dropOperations batches the delete over db, for the same reason
// insertOperations does: Compactor deletes the compacted prefix in the
// same transaction it writes the new baseline in.
func dropOperations(ctx context.Context, db pgxQuerier, library string, ops []model.Operation) error {
	if len(ops) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, op := range ops {
		batch.Queue(
			`DELETE FROM operations WHERE library = $1 AND oid = $2 AND timestamp = $3`,
			library, string(op.OID), string(op.Timestamp),
		)
	}
	br := db.SendBatch(ctx, batch)
	for i := 0; i < len(ops); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return err
		}
	}
	return br.Close()
}

func scanOperations(rows pgx.Rows) ([]model.Operation, error) {
	defer rows.Close()
	var out []model.Operation
	for rows.Next() {
		var oid, ts, replicaID string
		var payload []byte
		if err := rows.Scan(&oid, &ts, &replicaID, &payload); err != nil {
			return nil, err
		}
		var data wire.OpDataDTO
		if err := json.Unmarshal(payload, &data); err != nil {
			continue // corrupt stored payload: skip rather than fail the whole scan
		}
		dto := wire.OperationDTO{OID: oid, Timestamp: ts, ReplicaID: replicaID, Data: data}
		out = append(out, dto.ToOperation())
	}
	return out, rows.Err()
}
