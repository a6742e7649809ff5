package authority

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/collabtext/sync/internal/metrics"
	"github.com/collabtext/sync/internal/model"
	"github.com/collabtext/sync/internal/oplog"
	"github.com/collabtext/sync/internal/wire"
)

// runRebasePass folds every operation preceding the current global ack
// into its OID's baseline and drops those operations from the log, one
// OID at a time via the compactor so the two mutations always commit
// together. It always runs on the library's single writer goroutine
// (called from Library.Run's timer case), so it already has exclusive
// access to this library's state without needing its own serialize call.
func (l *Library) runRebasePass(ctx context.Context) {
	start := time.Now()

	active := l.hub.activeReplicaIDs()
	globalAck, found, err := l.reg.GetGlobalAck(ctx, time.Now(), l.cfg.TruancyThreshold, active)
	if err != nil {
		l.logger.Error("rebase.global_ack", err)
		return
	}
	if !found {
		l.logger.RebaseSkipped("no qualifying replica has acknowledged anything")
		return
	}

	before, err := l.ops.GetBefore(ctx, globalAck)
	if err != nil {
		l.logger.Error("rebase.get_before", err)
		return
	}
	if len(before) == 0 {
		l.logger.RebaseSkipped("no operations precede the global ack")
		return
	}

	buckets := oplog.BucketByOID(before)

	var errs *multierror.Error
	compacted := 0
	for oid, ops := range buckets {
		// Within each bucket, ops are already a contiguous prefix because
		// GetBefore only returned timestamps < globalAck and the log is
		// totally ordered per OID. The defensive re-check below exists in
		// case a storage backend ever fails to pre-filter: if something
		// slipped past, stop compacting that OID rather than skip a hole
		// in the middle of it.
		prefix := contiguousPrefix(ops, globalAck)
		if len(prefix) == 0 {
			continue
		}

		if _, err := l.compactor.CompactOID(ctx, oid, prefix); err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		compacted++
	}

	metrics.RebaseDuration(l.Name, start)
	l.logger.RebasePass(compacted, string(globalAck), time.Since(start))

	if errs != nil {
		l.logger.Error("rebase.buckets", errs)
	}

	l.hub.broadcastExcept("", wire.GlobalAck{Type: wire.TypeGlobalAck, Timestamp: string(globalAck)})
	l.publishBus(ctx, wire.GlobalAck{Type: wire.TypeGlobalAck, Timestamp: string(globalAck)})
}

// contiguousPrefix returns the leading run of ops whose timestamps are all
// < globalAck. GetBefore already filters on that condition, so in the
// steady state this returns the whole slice; it exists so a hypothetical
// storage backend that didn't pre-filter still compacts safely.
func contiguousPrefix(ops []model.Operation, globalAck model.HLC) []model.Operation {
	for i, op := range ops {
		if !op.Timestamp.Less(globalAck) {
			return ops[:i]
		}
	}
	return ops
}
