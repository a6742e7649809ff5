package postgres

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/collabtext/sync/internal/baseline"
	"github.com/collabtext/sync/internal/model"
	"github.com/collabtext/sync/internal/wire"
)

// BaselineStore is the pgx-backed BaselineStore for one library, satisfying
// internal/baseline.Store by structural typing.
type BaselineStore struct {
	pool    *pgxpool.Pool
	library string
}

func NewBaselineStore(pool *pgxpool.Pool, library string) *BaselineStore {
	return &BaselineStore{pool: pool, library: library}
}

func (s *BaselineStore) Get(ctx context.Context, oid model.OID) (*model.Baseline, error) {
	return getBaseline(ctx, s.pool, s.library, oid)
}

// getBaseline runs over db, which may be the pool or a transaction a
// caller already holds open, so the same lookup can participate in a
// larger atomic unit of work.
func getBaseline(ctx context.Context, db pgxQuerier, library string, oid model.OID) (*model.Baseline, error) {
	row := db.QueryRow(ctx,
		`SELECT oid, timestamp, snapshot FROM baselines WHERE library = $1 AND oid = $2`,
		library, string(oid))
	b, err := scanBaseline(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *BaselineStore) GetAllAfter(ctx context.Context, ts model.HLC) ([]model.Baseline, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT oid, timestamp, snapshot FROM baselines WHERE library = $1 AND ($2 = '' OR timestamp > $2)`,
		s.library, string(ts))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Baseline
	for rows.Next() {
		b, err := scanBaseline(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *BaselineStore) Upsert(ctx context.Context, b model.Baseline) error {
	return upsertBaseline(ctx, s.pool, s.library, b)
}

func upsertBaseline(ctx context.Context, db pgxQuerier, library string, b model.Baseline) error {
	snapshot, err := json.Marshal(wire.FromBaseline(b).Snapshot)
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx,
		`INSERT INTO baselines (library, oid, timestamp, snapshot) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (library, oid) DO UPDATE SET timestamp = EXCLUDED.timestamp, snapshot = EXCLUDED.snapshot`,
		library, string(b.OID), string(b.Timestamp), snapshot)
	return err
}

// ApplyOperations computes the new snapshot in Go (baseline.Apply) and
// upserts it in whatever transaction happens to be implicit in a single
// pool.Exec call. On its own this satisfies internal/baseline.Store, but
// it is not how a rebase pass reaches the database: internal/authority's
// rebase and internal/replicaengine's local compaction both call
// Compactor.CompactOID instead, which re-runs this same computation
// inside one transaction shared with the operations delete, so the two
// tables can never end up out of sync after a crash mid-pass.
func (s *BaselineStore) ApplyOperations(ctx context.Context, oid model.OID, ops []model.Operation) (model.Baseline, error) {
	return applyOperations(ctx, s.pool, s.library, oid, ops)
}

func applyOperations(ctx context.Context, db pgxQuerier, library string, oid model.OID, ops []model.Operation) (model.Baseline, error) {
	if len(ops) == 0 {
		existing, err := getBaseline(ctx, db, library, oid)
		if err != nil {
			return model.Baseline{}, err
		}
		if existing != nil {
			return *existing, nil
		}
		return model.Baseline{}, model.ErrNoBaselineForRebase
	}

	existing, err := getBaseline(ctx, db, library, oid)
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
	if err := upsertBaseline(ctx, db, library, b); err != nil {
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
