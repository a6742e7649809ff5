// Package baseline implements BaselineStore: per-object compacted
// snapshots with a last-included timestamp, plus the Apply function that
// folds an ordered operation slice onto a snapshot.
package baseline

import (
	"context"
	"sync"

	"github.com/collabtext/sync/internal/model"
)

// Store is the storage-agnostic BaselineStore contract.
type Store interface {
	Get(ctx context.Context, oid model.OID) (*model.Baseline, error)
	// GetAllAfter returns every baseline with timestamp strictly greater
	// than ts (or every baseline, if ts is zero). Used for initial sync.
	GetAllAfter(ctx context.Context, ts model.HLC) ([]model.Baseline, error)
	Upsert(ctx context.Context, b model.Baseline) error
	// ApplyOperations atomically computes the new snapshot by applying ops
	// (already HLC-ordered) to the existing baseline (or an empty object,
	// if none exists) and writes a baseline whose timestamp is the
	// maximum op timestamp. Must be durable before the caller drops ops
	// from the OperationLog.
	ApplyOperations(ctx context.Context, oid model.OID, ops []model.Operation) (model.Baseline, error)
}

// Memory is an in-memory Store, safe for concurrent use.
type Memory struct {
	mu   sync.RWMutex
	byOID map[model.OID]model.Baseline
}

func NewMemory() *Memory {
	return &Memory{byOID: make(map[model.OID]model.Baseline)}
}

func (m *Memory) Get(_ context.Context, oid model.OID) (*model.Baseline, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if b, ok := m.byOID[oid]; ok {
		return &b, nil
	}
	return nil, nil
}

func (m *Memory) GetAllAfter(_ context.Context, ts model.HLC) ([]model.Baseline, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Baseline, 0, len(m.byOID))
	for _, b := range m.byOID {
		if ts.Zero() || ts.Less(b.Timestamp) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *Memory) Upsert(_ context.Context, b model.Baseline) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byOID[b.OID] = b // at most one baseline per OID, upsert overwrites
	return nil
}

func (m *Memory) ApplyOperations(ctx context.Context, oid model.OID, ops []model.Operation) (model.Baseline, error) {
	if len(ops) == 0 {
		if existing, _ := m.Get(ctx, oid); existing != nil {
			return *existing, nil
		}
		return model.Baseline{}, model.ErrNoBaselineForRebase
	}

	existing, _ := m.Get(ctx, oid)
	var snap model.Value
	if existing != nil {
		snap = existing.Snapshot
	} else {
		snap = model.ObjectValue(make(map[string]model.Value))
	}

	newSnap := Apply(snap, ops)
	maxTS := ops[0].Timestamp
	for _, op := range ops[1:] {
		maxTS = model.MaxHLC(maxTS, op.Timestamp)
	}

	b := model.Baseline{OID: oid, Snapshot: newSnap, Timestamp: maxTS}
	if err := m.Upsert(ctx, b); err != nil {
		return model.Baseline{}, err
	}
	return b, nil
}
