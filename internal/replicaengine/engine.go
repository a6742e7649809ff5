package replicaengine

import (
	"context"

	"github.com/collabtext/sync/internal/baseline"
	"github.com/collabtext/sync/internal/hlc"
	"github.com/collabtext/sync/internal/model"
	"github.com/collabtext/sync/internal/oplog"
	"github.com/collabtext/sync/internal/synclog"
)

// OutboundQueue is the durable send buffer a storage backend provides;
// internal/storage/sqlite.OutboundQueue satisfies this by structural
// typing.
type OutboundQueue interface {
	Enqueue(ctx context.Context, ops []model.Operation) error
	Pending(ctx context.Context) ([]model.Operation, error)
	MarkSent(ctx context.Context, ops []model.Operation) error
	Remove(ctx context.Context, ops []model.Operation) error
	Rollback(ctx context.Context, ops []model.Operation) error
}

// Engine is the client-side replica engine: it owns the local operation
// buffer, the local OperationLog/BaselineStore, the reference-counted
// entity cache, and the outbound send queue. A single
// Engine instance corresponds to one replica's local-first state.
type Engine struct {
	ReplicaID string

	clock   *hlc.Clock
	alloc   *model.OIDAllocator
	buffer  *Buffer
	cache   *Cache
	logger  *synclog.Logger

	localOps       oplog.Log
	localBaselines baseline.Store
	compactor      oplog.Compactor
	outbound       OutboundQueue
	materializer   *Materializer
}

// NewEngine wires a replica's local storage into an Engine. compactor
// folds acknowledged operations into the local baseline and drops them
// from the local log once the authority's global-ack passes them,
// mirroring internal/authority's server-side rebase so a long-running
// replica's local log doesn't grow without bound.
func NewEngine(replicaID string, localOps oplog.Log, localBaselines baseline.Store, compactor oplog.Compactor, outbound OutboundQueue) *Engine {
	loader := &ObjectLoader{Ops: localOps, Baselines: localBaselines}
	return &Engine{
		ReplicaID:      replicaID,
		clock:          hlc.New(replicaID),
		alloc:          model.NewOIDAllocator(replicaID),
		buffer:         NewBuffer(),
		cache:          NewCache(),
		logger:         synclog.New("replica:" + replicaID),
		localOps:       localOps,
		localBaselines: localBaselines,
		compactor:      compactor,
		outbound:       outbound,
		materializer:   NewMaterializer(loader),
	}
}

// Batch is the mutation context passed to the function given to RunBatch.
// Every call stamps a fresh HLC timestamp and adds the resulting operation
// to the engine's pending buffer, where it may still be superseded by a
// later call within the same batch.
type Batch struct {
	ctx context.Context
	e   *Engine
	ops []model.Operation
	err error
}

func (b *Batch) emit(op model.Operation) model.Operation {
	op.Timestamp = model.HLC(b.e.clock.Now())
	op.ReplicaID = b.e.ReplicaID
	b.e.buffer.Add(op)
	b.ops = append(b.ops, op)
	return op
}

// Set writes field on oid. If value is a ref, this checks at write time
// that following it can never lead back to oid, surfacing model.ErrCycle
// rather than silently wiring up a cycle the materializer would later have
// to detect at read time.
func (b *Batch) Set(oid model.OID, field string, value model.Value) {
	if b.err != nil {
		return
	}
	if value.Kind == model.KindRef {
		if err := b.e.checkRefCycle(b.ctx, oid, value.Ref); err != nil {
			b.err = err
			return
		}
	}
	b.emit(model.Operation{OID: oid, Kind: model.OpSet, Field: field, Value: value})
}

func (b *Batch) Delete(oid model.OID, field string) {
	b.emit(model.Operation{OID: oid, Kind: model.OpDelete, Field: field})
}

func (b *Batch) Initialize(oid model.OID, snapshot model.Value) {
	b.emit(model.Operation{OID: oid, Kind: model.OpInitialize, Value: snapshot})
}

func (b *Batch) ListInsert(oid model.OID, index int, value model.Value) {
	b.emit(model.Operation{OID: oid, Kind: model.OpListInsert, ListIndex: index, ListValue: value})
}

func (b *Batch) ListMove(oid model.OID, from, to int) {
	b.emit(model.Operation{OID: oid, Kind: model.OpListMove, ListFrom: from, ListTo: to})
}

func (b *Batch) ListDelete(oid model.OID, index int) {
	b.emit(model.Operation{OID: oid, Kind: model.OpListDelete, ListIndex: index})
}

// AllocateOID hands out a fresh sub-object OID nested under root, for
// operations that introduce a new nested object (e.g. a list element).
func (b *Batch) AllocateOID(root model.OID, fieldPath string) model.OID {
	return b.e.alloc.Allocate(root, fieldPath)
}

// RunBatch runs fn, collects every operation it emits, applies supersession
// (already done incrementally by Batch.emit via e.buffer), then commits:
// operations are persisted to local storage, enqueued for transmission,
// and then applied to the local cache, optimistically, before the
// authority acknowledges them — all before RunBatch returns, so a query
// run right after never misses its own write.
func (e *Engine) RunBatch(ctx context.Context, fn func(*Batch)) error {
	b := &Batch{ctx: ctx, e: e}
	fn(b)
	if b.err != nil {
		e.buffer.Drain() // discard whatever the batch produced before the error
		return b.err
	}

	pending := e.buffer.Drain()
	if len(pending) == 0 {
		return nil
	}

	if err := e.localOps.InsertAll(ctx, e.ReplicaID, pending); err != nil {
		return err
	}
	if err := e.outbound.Enqueue(ctx, pending); err != nil {
		return err
	}
	e.cache.ApplyLocal(pending)
	return nil
}

// PendingOutbound returns everything still waiting to be sent, for the
// protocol's outbound loop.
func (e *Engine) PendingOutbound(ctx context.Context) ([]model.Operation, error) {
	return e.outbound.Pending(ctx)
}
