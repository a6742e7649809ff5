// Package replicaengine implements the client-side replica engine: the
// local operation buffer with supersession, application of inbound
// operations to local snapshots, the reconnect/resync protocol, and the
// presence channel.
package replicaengine

import (
	"sync"

	"github.com/collabtext/sync/internal/model"
)

// Buffer holds operations produced by the local replica that have not yet
// been transmitted to the authority. Once an operation has been handed
// off for transmission it becomes immutable and leaves the buffer, so
// supersession only ever needs to consider what's still pending here.
type Buffer struct {
	mu  sync.Mutex
	ops []model.Operation
}

func NewBuffer() *Buffer {
	return &Buffer{}
}

// Add appends op to the buffer, first dropping whatever it supersedes.
// This is the only mutation path, so supersession is always applied
// in-line rather than as a separate pass over the buffer.
func (b *Buffer) Add(op model.Operation) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ops = supersede(b.ops, op)
}

// AddBatch adds every operation of a batch in order, applying supersession
// incrementally so an operation produced earlier in the same batch can
// still be superseded by one produced later in it.
func (b *Buffer) AddBatch(ops []model.Operation) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, op := range ops {
		b.ops = supersede(b.ops, op)
	}
}

// supersede appends op to buffered, first removing whatever op makes
// obsolete: initialize wipes every prior op on the same OID; set/delete
// replace a prior set/delete on the same (oid, field); list mutations
// never supersede anything and are removed only by a later initialize on
// the same OID.
func supersede(buffered []model.Operation, op model.Operation) []model.Operation {
	switch op.Kind {
	case model.OpInitialize:
		buffered = filterOut(buffered, func(o model.Operation) bool {
			return o.OID == op.OID
		})
	case model.OpSet, model.OpDelete:
		buffered = filterOut(buffered, func(o model.Operation) bool {
			return o.OID == op.OID && o.Field == op.Field &&
				(o.Kind == model.OpSet || o.Kind == model.OpDelete)
		})
	}
	return append(buffered, op)
}

func filterOut(ops []model.Operation, drop func(model.Operation) bool) []model.Operation {
	kept := ops[:0:0]
	for _, op := range ops {
		if !drop(op) {
			kept = append(kept, op)
		}
	}
	return kept
}

// Drain returns every buffered operation and empties the buffer. The
// caller is expected to commit the result atomically to local storage and
// the outbound queue in the same step.
func (b *Buffer) Drain() []model.Operation {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.ops
	b.ops = nil
	return out
}

// Len reports the number of distinct pending operations, mostly useful in
// tests asserting supersession collapsed a batch to the expected count.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.ops)
}

// Peek returns a copy of the buffered operations without draining them.
func (b *Buffer) Peek() []model.Operation {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.Operation, len(b.ops))
	copy(out, b.ops)
	return out
}
