package replicaengine

import (
	"context"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/collabtext/sync/internal/hlc"
	"github.com/collabtext/sync/internal/model"
	"github.com/collabtext/sync/internal/oplog"
	"github.com/collabtext/sync/internal/synclog"
)

// ingestRemote applies an authority-sourced batch of baselines and
// operations to local storage: baselines are upserted before operations
// are inserted, so a baseline never observes its own trailing operations
// twice, then every touched entity is re-materialized and its cache entry
// replaced with the result.
func (e *Engine) ingestRemote(ctx context.Context, baselines []model.Baseline, ops []model.Operation) error {
	for _, b := range baselines {
		if err := e.localBaselines.Upsert(ctx, b); err != nil {
			return err
		}
	}
	if len(ops) > 0 {
		if err := e.localOps.InsertAll(ctx, e.ReplicaID, ops); err != nil {
			return err
		}
	}

	touched := make(map[model.OID]struct{}, len(baselines)+len(ops))
	for _, b := range baselines {
		touched[b.OID] = struct{}{}
	}
	for _, op := range ops {
		touched[op.OID] = struct{}{}
	}
	for oid := range touched {
		v, err := e.materializer.Loader.Load(ctx, oid)
		if err != nil {
			e.logger.Error("ingestRemote.reload", err)
			continue
		}
		e.cache.Invalidate(oid, v)
	}
	return nil
}

// overwriteFromRemote discards every locally-held operation and replaces
// the local baseline set with the authority's, in response to the
// overwriteLocalData flag on a fresh replica id or an explicit resyncAll:
// client state is entirely replaced rather than merged. Baselines the
// authority no
// longer lists are left in place rather than deleted outright, since
// Store exposes no bulk-delete; in practice resyncAll and new-replica
// handshakes always carry changesSince=zero, so the authority's baseline
// list already covers the library's full current state.
func (e *Engine) overwriteFromRemote(ctx context.Context, baselines []model.Baseline, ops []model.Operation) error {
	stale, err := e.localOps.GetAfter(ctx, model.HLC(""))
	if err != nil {
		return err
	}
	if len(stale) > 0 {
		if err := e.localOps.Drop(ctx, stale); err != nil {
			return err
		}
	}
	return e.ingestRemote(ctx, baselines, ops)
}

// pruneAcked drops every sent outbound operation the authority has
// confirmed durable, i.e. at or before the latest global-ack it has
// broadcast. The authority never echoes a replica's own ops back to it
// (broadcastExcept in internal/authority), so global-ack advancing past an
// op's timestamp is the only signal the client gets that it's safe to stop
// retransmitting it.
func (e *Engine) pruneAcked(ctx context.Context, ack model.HLC) {
	if ack.Zero() {
		return
	}
	pending, err := e.outbound.Pending(ctx)
	if err != nil {
		e.logger.Error("pruneAcked.pending", err)
		return
	}
	var done []model.Operation
	for _, op := range pending {
		if op.Timestamp.LessEq(ack) {
			done = append(done, op)
		}
	}
	if len(done) == 0 {
		return
	}
	if err := e.outbound.Remove(ctx, done); err != nil {
		e.logger.Error("pruneAcked.remove", err)
	}
}

// localRebase is the client-side analogue of internal/authority's
// runRebasePass: it folds every local operation preceding the
// authority's global ack into its OID's local baseline and drops those
// operations from the local log, via the same compactor so the two
// mutations always commit together. Without this a long-running replica
// never trims local_operations, since ingestRemote and the write path
// only ever add rows to it.
func (e *Engine) localRebase(ctx context.Context, ack model.HLC) {
	if ack.Zero() {
		return
	}
	before, err := e.localOps.GetBefore(ctx, ack)
	if err != nil {
		e.logger.Error("localRebase.get_before", err)
		return
	}
	if len(before) == 0 {
		return
	}

	buckets := oplog.BucketByOID(before)
	var errs *multierror.Error
	for oid, ops := range buckets {
		prefix := contiguousPrefix(ops, ack)
		if len(prefix) == 0 {
			continue
		}
		if _, err := e.compactor.CompactOID(ctx, oid, prefix); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if errs != nil {
		e.logger.Error("localRebase.buckets", errs)
	}
}

// contiguousPrefix returns the leading run of ops whose timestamps are
// all < ack, mirroring internal/authority's rebase helper of the same
// name: GetBefore already filters on that condition, so in the steady
// state this returns the whole slice.
func contiguousPrefix(ops []model.Operation, ack model.HLC) []model.Operation {
	for i, op := range ops {
		if !op.Timestamp.Less(ack) {
			return ops[:i]
		}
	}
	return ops
}

// rotateReplicaID is invoked when the authority reports that this
// replica id now belongs to a different user's token, which can happen
// if a replica's local identity file is copied across accounts.
// A fresh id forces the next handshake to be treated as brand new.
func (e *Engine) rotateReplicaID() {
	newID := uuid.NewString()
	e.ReplicaID = newID
	e.clock = hlc.New(newID)
	e.alloc = model.NewOIDAllocator(newID)
	e.logger = synclog.New("replica:" + newID)
}
