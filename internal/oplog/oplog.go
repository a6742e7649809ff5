// Package oplog defines the OperationLog contract: ordered, per-OID
// storage of operations, idempotent on (oid, timestamp). Concrete
// backends live in internal/storage/postgres (authority) and
// internal/storage/sqlite (replica); this package also ships an in-memory
// implementation used by tests and by callers that don't need durability.
package oplog

import (
	"context"
	"sort"
	"sync"

	"github.com/collabtext/sync/internal/model"
)

// Log is the storage-agnostic OperationLog contract.
type Log interface {
	// InsertAll is idempotent on (oid, timestamp): duplicate tuples are
	// silently dropped so rebroadcast loops cannot duplicate. Malformed
	// operations (Validate reports ErrCorruptOperation) are skipped rather
	// than failing the whole batch; no warning is logged for them.
	InsertAll(ctx context.Context, replicaID string, ops []model.Operation) error
	// GetAfter returns every operation with timestamp strictly greater
	// than ts (or every operation, if ts is zero), ordered ascending.
	GetAfter(ctx context.Context, ts model.HLC) ([]model.Operation, error)
	// GetBefore returns every operation with timestamp strictly less than
	// ts, ordered ascending.
	GetBefore(ctx context.Context, ts model.HLC) ([]model.Operation, error)
	// GetForOID returns the operations on a single OID, ordered ascending.
	GetForOID(ctx context.Context, oid model.OID) ([]model.Operation, error)
	// Drop removes exactly the given operations. The caller must have
	// durably applied them to a baseline first.
	Drop(ctx context.Context, ops []model.Operation) error
}

// Compactor atomically folds a contiguous run of operations into their
// OID's baseline and removes them from the log. internal/authority's
// rebase pass and internal/replicaengine's local compaction both drive
// it through this interface rather than calling a baseline.Store and a
// Log separately, so a crash mid-pass can never leave a baseline updated
// with its compacted operations still sitting in the log (or vice
// versa): internal/storage/postgres.Compactor and
// internal/storage/sqlite.Compactor each commit both mutations in one
// transaction.
type Compactor interface {
	CompactOID(ctx context.Context, oid model.OID, ops []model.Operation) (model.Baseline, error)
}

type opKey struct {
	oid model.OID
	ts  model.HLC
}

// Memory is an in-memory Log, safe for concurrent use. It is the reference
// implementation exercised by the package's tests and is also useful as a
// replica-side log when durability isn't required (e.g. short-lived tests).
type Memory struct {
	mu   sync.RWMutex
	seen map[opKey]struct{}
	ops  []model.Operation
}

func NewMemory() *Memory {
	return &Memory{seen: make(map[opKey]struct{})}
}

func (m *Memory) InsertAll(_ context.Context, replicaID string, ops []model.Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, op := range ops {
		if err := op.Validate(); err != nil {
			continue // corrupt op: dropped without a logged warning, never retried
		}
		key := opKey{op.OID, op.Timestamp}
		if _, dup := m.seen[key]; dup {
			continue
		}
		m.seen[key] = struct{}{}
		m.ops = append(m.ops, op)
	}
	sort.Slice(m.ops, func(i, j int) bool { return m.ops[i].Timestamp.Less(m.ops[j].Timestamp) })
	return nil
}

func (m *Memory) GetAfter(_ context.Context, ts model.HLC) ([]model.Operation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Operation, 0, len(m.ops))
	for _, op := range m.ops {
		if ts.Zero() || ts.Less(op.Timestamp) {
			out = append(out, op)
		}
	}
	return out, nil
}

func (m *Memory) GetBefore(_ context.Context, ts model.HLC) ([]model.Operation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Operation, 0, len(m.ops))
	for _, op := range m.ops {
		if op.Timestamp.Less(ts) {
			out = append(out, op)
		}
	}
	return out, nil
}

func (m *Memory) GetForOID(_ context.Context, oid model.OID) ([]model.Operation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Operation, 0)
	for _, op := range m.ops {
		if op.OID == oid {
			out = append(out, op)
		}
	}
	return out, nil
}

func (m *Memory) Drop(_ context.Context, ops []model.Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	drop := make(map[opKey]struct{}, len(ops))
	for _, op := range ops {
		drop[opKey{op.OID, op.Timestamp}] = struct{}{}
	}
	kept := m.ops[:0:0]
	for _, op := range m.ops {
		key := opKey{op.OID, op.Timestamp}
		if _, found := drop[key]; found {
			delete(m.seen, key)
			continue
		}
		kept = append(kept, op)
	}
	m.ops = kept
	return nil
}

// BucketByOID groups ops by OID, preserving each bucket's ascending
// timestamp order, for the rebase procedure.
func BucketByOID(ops []model.Operation) map[model.OID][]model.Operation {
	buckets := make(map[model.OID][]model.Operation)
	for _, op := range ops {
		buckets[op.OID] = append(buckets[op.OID], op)
	}
	return buckets
}
