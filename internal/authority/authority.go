// Package authority implements the per-library coordinator: it receives
// client messages, persists them via OperationLog / BaselineStore /
// ReplicaRegistry, rebroadcasts to connected peers, and periodically
// rebases (compacts) the log. Each library is single-writer: one goroutine
// per library drains a command channel, so every mutation to that
// library's state is serialized without a lock.
package authority

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/collabtext/sync/internal/baseline"
	"github.com/collabtext/sync/internal/broadcast"
	"github.com/collabtext/sync/internal/config"
	"github.com/collabtext/sync/internal/hlc"
	"github.com/collabtext/sync/internal/model"
	"github.com/collabtext/sync/internal/oplog"
	"github.com/collabtext/sync/internal/registry"
	"github.com/collabtext/sync/internal/synclog"
)

// Step2Committer persists a sync-step2 upload's baselines, operations,
// and advanced ack in one atomic unit, instead of three independent
// storage calls that could interleave with a crash.
type Step2Committer interface {
	CommitSyncStep2(ctx context.Context, baselines []model.Baseline, replicaID string, ops []model.Operation, ackTo model.HLC) error
}

// Library is the single-writer coordinator for one library's state.
type Library struct {
	Name string

	ops       oplog.Log
	baselines baseline.Store
	reg       registry.Registry
	compactor oplog.Compactor
	step2     Step2Committer
	logger    *synclog.Logger
	clock     *hlc.Clock
	cfg       *config.AuthorityConfig
	bus       *broadcast.Bus // nil when running single-process

	hub      *hub
	presence *presenceTracker

	// originID tags this process's own bus publishes so relayBus can
	// ignore its own echo rather than redeliver a message its own
	// hub.broadcastExcept call already handled locally.
	originID string

	exec     chan func()
	rebaseCh chan struct{}
}

// NewLibrary wires the storage contracts into a coordinator. compactor
// commits a rebase pass's baseline write and log delete atomically;
// step2 commits a sync-step2 upload's baselines, operations, and ack
// atomically. bus may be nil; when set, broadcasts are also published to
// Redis so sibling authority processes can relay to their own
// locally-connected clients.
func NewLibrary(name string, ops oplog.Log, baselines baseline.Store, reg registry.Registry, compactor oplog.Compactor, step2 Step2Committer, cfg *config.AuthorityConfig, bus *broadcast.Bus) *Library {
	return &Library{
		Name:      name,
		ops:       ops,
		baselines: baselines,
		reg:       reg,
		compactor: compactor,
		step2:     step2,
		logger:    synclog.New(name),
		clock:     hlc.New("authority:" + name),
		cfg:       cfg,
		bus:       bus,
		hub:       newHub(),
		presence:  newPresenceTracker(),
		originID:  uuid.NewString(),
		exec:      make(chan func()),
		rebaseCh:  make(chan struct{}, 1),
	}
}

// Run drains the command channel and debounced rebase triggers until ctx
// is canceled. One Run goroutine per library enforces single-writer
// discipline.
func (l *Library) Run(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	pending := false

	if l.bus != nil {
		go l.relayBus(ctx)
	}

	for {
		select {
		case fn := <-l.exec:
			fn()
		case <-l.rebaseCh:
			if !pending {
				pending = true
				timer.Reset(l.cfg.RebaseDebounce)
			}
		case <-timer.C:
			pending = false
			l.runRebasePass(ctx)
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

// serialize runs fn on the library's single writer goroutine and blocks
// the caller until it completes, giving every handler exclusive access to
// this library's state.
func (l *Library) serialize(fn func()) {
	done := make(chan struct{})
	l.exec <- func() { fn(); close(done) }
	<-done
}

// triggerRebase coalesces multiple calls into a single debounced pass.
func (l *Library) triggerRebase() {
	select {
	case l.rebaseCh <- struct{}{}:
	default: // a trigger is already pending, this one is absorbed
	}
}

// Connected reports how many clients are currently attached to this
// library, used by callers that surface health/metrics.
func (l *Library) Connected() int {
	return l.hub.count()
}
