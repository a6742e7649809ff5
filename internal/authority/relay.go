package authority

import (
	"context"
	"encoding/json"

	"github.com/collabtext/sync/internal/wire"
)

// busEnvelope wraps every bus-published broadcast with the publishing
// process's originID, so a process's own relayBus loop can ignore its own
// publishes rather than redeliver to clients hub.broadcastExcept already
// reached directly. Exclusion is by connection identity, not replicaId,
// and the bus relay has to preserve that rather than approximate it.
type busEnvelope struct {
	Origin  string          `json:"origin"`
	Payload json.RawMessage `json:"payload"`
}

// relayBus forwards broadcasts published by other authority processes
// (internal/broadcast.Bus) to this process's locally-connected clients for
// the same library, so replicas connected to a different process than the
// one currently serializing writes for this library still see op-re and
// global-ack. Only HandleOp, HandleAck and the rebase pass publish to the
// bus; presence-changed, presence-offline and sync-step2 rebroadcasts are
// not published, so the presence cases below receive nothing from this
// package's handlers. This assumes upstream routing keeps a
// given library's write traffic on one process at a time (e.g. consistent
// hashing on library name); relayBus only fans out read-side broadcasts,
// it does not implement leader election for the write path itself.
func (l *Library) relayBus(ctx context.Context) {
	sub := l.bus.Subscribe(ctx, l.Name)
	defer sub.Close()

	for {
		raw, ok := sub.Next(ctx)
		if !ok {
			return
		}
		var env busEnvelope
		if err := json.Unmarshal(raw, &env); err != nil || env.Origin == l.originID {
			continue
		}

		var typed wire.Typed
		if err := json.Unmarshal(env.Payload, &typed); err != nil {
			continue
		}
		switch typed.Type {
		case wire.TypeOpRe:
			var msg wire.OpRe
			if json.Unmarshal(env.Payload, &msg) == nil {
				l.hub.broadcastExcept("", msg)
			}
		case wire.TypeGlobalAck:
			var msg wire.GlobalAck
			if json.Unmarshal(env.Payload, &msg) == nil {
				l.hub.broadcastExcept("", msg)
			}
		case wire.TypePresenceChanged:
			var msg wire.PresenceChanged
			if json.Unmarshal(env.Payload, &msg) == nil {
				l.hub.broadcastExcept("", msg)
			}
		case wire.TypePresenceOffline:
			var msg wire.PresenceOffline
			if json.Unmarshal(env.Payload, &msg) == nil {
				l.hub.broadcastExcept("", msg)
			}
		}
	}
}
