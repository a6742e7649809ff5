package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/collabtext/sync/internal/baseline"
	"github.com/collabtext/sync/internal/model"
	"github.com/collabtext/sync/internal/wire"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx. The insert, delete, and
// upsert helpers in this package take one of these instead of a concrete
// *sql.DB, so the same SQL can run standalone or be folded into a
// caller's transaction: Compactor needs several of them to commit
// together.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// OperationLog is the SQLite-backed OperationLog for the replica's local
// store, satisfying internal/oplog.Log by structural typing.
type OperationLog struct {
	db *sql.DB
}

func NewOperationLog(db *sql.DB) *OperationLog { return &OperationLog{db: db} }

func (l *OperationLog) InsertAll(ctx context.Context, replicaID string, ops []model.Operation) error {
	if len(ops) == 0 {
		return nil
	}
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := insertOperations(ctx, tx, replicaID, ops); err != nil {
		return err
	}
	return tx.Commit()
}

// insertOperations runs over db, which may be the *sql.DB itself or a
// transaction a caller already holds open.
func insertOperations(ctx context.Context, db dbtx, replicaID string, ops []model.Operation) error {
	stmt, err := db.PrepareContext(ctx,
		`INSERT OR IGNORE INTO local_operations (oid, timestamp, replica_id, payload) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, op := range ops {
		if err := op.Validate(); err != nil {
			continue
		}
		payload, err := json.Marshal(wire.FromOperation(op).Data)
		if err != nil {
			continue
		}
		if _, err := stmt.ExecContext(ctx, string(op.OID), string(op.Timestamp), replicaID, payload); err != nil {
			return err
		}
	}
	return nil
}

func (l *OperationLog) GetAfter(ctx context.Context, ts model.HLC) ([]model.Operation, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT oid, timestamp, replica_id, payload FROM local_operations
		 WHERE (? = '' OR timestamp > ?) ORDER BY timestamp ASC`, string(ts), string(ts))
	if err != nil {
		return nil, err
	}
	return scanOperations(rows)
}

func (l *OperationLog) GetBefore(ctx context.Context, ts model.HLC) ([]model.Operation, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT oid, timestamp, replica_id, payload FROM local_operations
		 WHERE timestamp < ? ORDER BY timestamp ASC`, string(ts))
	if err != nil {
		return nil, err
	}
	return scanOperations(rows)
}

func (l *OperationLog) GetForOID(ctx context.Context, oid model.OID) ([]model.Operation, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT oid, timestamp, replica_id, payload FROM local_operations
		 WHERE oid = ? ORDER BY timestamp ASC`, string(oid))
	if err != nil {
		return nil, err
	}
	return scanOperations(rows)
}

func (l *OperationLog) Drop(ctx context.Context, ops []model.Operation) error {
	if len(ops) == 0 {
		return nil
	}
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := dropOperations(ctx, tx, ops); err != nil {
		return err
	}
	return tx.Commit()
}

// dropOperations runs over db for the same reason insertOperations does:
// Compactor deletes the compacted prefix in the same transaction it
// writes the new baseline in.
func dropOperations(ctx context.Context, db dbtx, ops []model.Operation) error {
	if len(ops) == 0 {
		return nil
	}
	stmt, err := db.PrepareContext(ctx, `DELETE FROM local_operations WHERE oid = ? AND timestamp = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, op := range ops {
		if _, err := stmt.ExecContext(ctx, string(op.OID), string(op.Timestamp)); err != nil {
			return err
		}
	}
	return nil
}

func scanOperations(rows *sql.Rows) ([]model.Operation, error) {
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
			continue
		}
		dto := wire.OperationDTO{OID: oid, Timestamp: ts, ReplicaID: replicaID, Data: data}
		out = append(out, dto.ToOperation())
	}
	return out, rows.Err()
}

// BaselineStore is the SQLite-backed BaselineStore for the replica's local
// store, satisfying internal/baseline.Store by structural typing.
type BaselineStore struct {
	db *sql.DB
}

func NewBaselineStore(db *sql.DB) *BaselineStore { return &BaselineStore{db: db} }

func (s *BaselineStore) Get(ctx context.Context, oid model.OID) (*model.Baseline, error) {
	return getBaseline(ctx, s.db, oid)
}

func getBaseline(ctx context.Context, db dbtx, oid model.OID) (*model.Baseline, error) {
	row := db.QueryRowContext(ctx,
		`SELECT oid, timestamp, snapshot FROM local_baselines WHERE oid = ?`, string(oid))
	b, err := scanBaseline(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *BaselineStore) GetAllAfter(ctx context.Context, ts model.HLC) ([]model.Baseline, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT oid, timestamp, snapshot FROM local_baselines WHERE (? = '' OR timestamp > ?)`, string(ts), string(ts))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Baseline
	for rows.Next() {
		var oid, t string
		var snapshot []byte
		if err := rows.Scan(&oid, &t, &snapshot); err != nil {
			return nil, err
		}
		var v model.Value
		if err := json.Unmarshal(snapshot, &v); err != nil {
			return nil, err
		}
		out = append(out, model.Baseline{OID: model.OID(oid), Snapshot: v, Timestamp: model.HLC(t)})
	}
	return out, rows.Err()
}

func (s *BaselineStore) Upsert(ctx context.Context, b model.Baseline) error {
	return upsertBaseline(ctx, s.db, b)
}

func upsertBaseline(ctx context.Context, db dbtx, b model.Baseline) error {
	snapshot, err := json.Marshal(wire.FromBaseline(b).Snapshot)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO local_baselines (oid, timestamp, snapshot) VALUES (?, ?, ?)
		 ON CONFLICT (oid) DO UPDATE SET timestamp = excluded.timestamp, snapshot = excluded.snapshot`,
		string(b.OID), string(b.Timestamp), snapshot)
	return err
}

// ApplyOperations computes the new snapshot in Go and upserts it
// standalone. internal/replicaengine's local compaction does not call
// this directly: it goes through Compactor.CompactOID, which re-runs the
// same computation inside one transaction shared with the local
// operations delete, mirroring internal/storage/postgres.Compactor on
// the server side.
func (s *BaselineStore) ApplyOperations(ctx context.Context, oid model.OID, ops []model.Operation) (model.Baseline, error) {
	return applyOperations(ctx, s.db, oid, ops)
}

func applyOperations(ctx context.Context, db dbtx, oid model.OID, ops []model.Operation) (model.Baseline, error) {
	if len(ops) == 0 {
		existing, err := getBaseline(ctx, db, oid)
		if err != nil {
			return model.Baseline{}, err
		}
		if existing != nil {
			return *existing, nil
		}
		return model.Baseline{}, model.ErrNoBaselineForRebase
	}

	existing, err := getBaseline(ctx, db, oid)
	if err != nil {
		return model.Baseline{}, err
	}
	var snap model.Value
	if existing != nil {
		snap = existing.Snapshot
	} else {
		snap = model.ObjectValue(make(map[string]model.Value))
	}
	newSnap := baseline.Apply(snap, ops)
	maxTS := ops[0].Timestamp
	for _, op := range ops[1:] {
		maxTS = model.MaxHLC(maxTS, op.Timestamp)
	}
	b := model.Baseline{OID: oid, Snapshot: newSnap, Timestamp: maxTS}
	if err := upsertBaseline(ctx, db, b); err != nil {
		return model.Baseline{}, err
	}
	return b, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBaseline(row rowScanner) (model.Baseline, error) {
	var oid, ts string
	var snapshot []byte
	if err := row.Scan(&oid, &ts, &snapshot); err != nil {
		return model.Baseline{}, err
	}
	var v model.Value
	if err := json.Unmarshal(snapshot, &v); err != nil {
		return model.Baseline{}, err
	}
	return model.Baseline{OID: model.OID(oid), Snapshot: v, Timestamp: model.HLC(ts)}, nil
}

// OutboundQueue is the replica's durable send buffer: operations land here
// atomically with the local commit, before any network send is attempted,
// so no operation is lost to a dropped connection.
type OutboundQueue struct {
	db *sql.DB
}

func NewOutboundQueue(db *sql.DB) *OutboundQueue { return &OutboundQueue{db: db} }

const (
	SendStatePending = "pending"
	SendStateSent    = "sent"
)

func (q *OutboundQueue) Enqueue(ctx context.Context, ops []model.Operation) error {
	if len(ops) == 0 {
		return nil
	}
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO outbound_operations (oid, timestamp, replica_id, payload, send_state) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, op := range ops {
		payload, err := json.Marshal(wire.FromOperation(op).Data)
		if err != nil {
			continue
		}
		if _, err := stmt.ExecContext(ctx, string(op.OID), string(op.Timestamp), op.ReplicaID, payload, SendStatePending); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Pending returns every operation not yet marked sent, ascending by
// timestamp so retransmission preserves HLC order.
func (q *OutboundQueue) Pending(ctx context.Context) ([]model.Operation, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT oid, timestamp, replica_id, payload FROM outbound_operations
		 WHERE send_state = ? ORDER BY timestamp ASC`, SendStatePending)
	if err != nil {
		return nil, err
	}
	return scanOperations(rows)
}

func (q *OutboundQueue) MarkSent(ctx context.Context, ops []model.Operation) error {
	return q.transition(ctx, ops, SendStateSent)
}

// Remove deletes operations once the authority has acknowledged them.
func (q *OutboundQueue) Remove(ctx context.Context, ops []model.Operation) error {
	if len(ops) == 0 {
		return nil
	}
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, `DELETE FROM outbound_operations WHERE oid = ? AND timestamp = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, op := range ops {
		if _, err := stmt.ExecContext(ctx, string(op.OID), string(op.Timestamp)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Rollback removes operations from the outbound queue. Used when a write is rejected
// as forbidden: the local op is rolled back from the outbound queue
// rather than retried.
func (q *OutboundQueue) Rollback(ctx context.Context, ops []model.Operation) error {
	return q.Remove(ctx, ops)
}

func (q *OutboundQueue) transition(ctx context.Context, ops []model.Operation, state string) error {
	if len(ops) == 0 {
		return nil
	}
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx,
		`UPDATE outbound_operations SET send_state = ? WHERE oid = ? AND timestamp = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, op := range ops {
		if _, err := stmt.ExecContext(ctx, state, string(op.OID), string(op.Timestamp)); err != nil {
			return err
		}
	}
	return tx.Commit()
}
