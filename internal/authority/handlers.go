package authority

import (
	"context"
	"encoding/json"
	"time"

	"github.com/collabtext/sync/internal/model"
	"github.com/collabtext/sync/internal/transport"
	"github.com/collabtext/sync/internal/wire"
)

// syncResult is what HandleSync hands back to the connection loop once it
// knows whether to register this client in the hub.
type syncResult struct {
	resp   wire.SyncResp
	status model.GetOrCreateStatus
	err    error
}

// HandleSync answers a replica's initial handshake with whatever history
// it's missing, or with a full resync signal if its replicaId is unknown.
func (l *Library) HandleSync(ctx context.Context, key string, replicaID string, token model.TokenInfo, msg wire.Sync) syncResult {
	var out syncResult
	l.serialize(func() {
		now := time.Now()

		// Step 1: validate ownership before any mutation, including
		// before a requested resyncAll forgets the entry.
		if existing, err := l.reg.Get(ctx, replicaID); err != nil {
			out.err = err
			return
		} else if existing != nil && existing.UserID != token.UserID {
			out.err = model.ErrReplicaOwnership
			return
		}

		if msg.ResyncAll {
			if err := l.reg.Delete(ctx, replicaID); err != nil {
				out.err = err
				return
			}
		}

		status, info, err := l.reg.GetOrCreate(ctx, replicaID, token, now, l.cfg.TruancyThreshold)
		if err != nil {
			out.err = err
			return
		}

		var changesSince model.HLC
		if status == model.StatusExisting {
			changesSince = info.AckedTimestamp
		}

		ops, err := l.ops.GetAfter(ctx, changesSince)
		if err != nil {
			out.err = err
			return
		}
		baselines, err := l.baselines.GetAllAfter(ctx, changesSince)
		if err != nil {
			out.err = err
			return
		}

		libraryEmpty := changesSince.Zero() && len(ops) == 0 && len(baselines) == 0
		overwrite := (msg.ResyncAll || status != model.StatusExisting) && !libraryEmpty

		active := l.hub.activeReplicaIDs()
		globalAck, _, err := l.reg.GetGlobalAck(ctx, now, l.cfg.TruancyThreshold, active)
		if err != nil {
			out.err = err
			return
		}

		opDTOs := make([]wire.OperationDTO, 0, len(ops))
		for _, op := range ops {
			opDTOs = append(opDTOs, wire.FromOperation(op))
		}
		baselineDTOs := make([]wire.BaselineDTO, 0, len(baselines))
		for _, b := range baselines {
			baselineDTOs = append(baselineDTOs, wire.FromBaseline(b))
		}

		out.status = status
		out.resp = wire.SyncResp{
			Type:                wire.TypeSyncResp,
			Operations:          opDTOs,
			Baselines:           baselineDTOs,
			ProvideChangesSince: string(changesSince),
			GlobalAckTimestamp:  string(globalAck),
			PeerPresence:        l.presence.snapshot(),
			OverwriteLocalData:  overwrite,
		}
		l.logger.SyncHandshake(replicaID, string(status), overwrite)
	})
	return out
}

// HandleSyncStep2 ingests the replica's local history upload that follows
// SyncResp, rebroadcasts it to peers, and advances the replica's ack.
func (l *Library) HandleSyncStep2(ctx context.Context, key string, token model.TokenInfo, msg wire.SyncStep2) error {
	if token.Type.ReadOnly() {
		l.logger.Forbidden(msg.ReplicaID, "sync-step2 from read-only replica")
		return model.ErrForbidden
	}

	var returnErr error
	l.serialize(func() {
		baselines := make([]model.Baseline, 0, len(msg.Baselines))
		for _, dto := range msg.Baselines {
			baselines = append(baselines, dto.ToBaseline())
		}
		ops := make([]model.Operation, 0, len(msg.Operations))
		for _, dto := range msg.Operations {
			ops = append(ops, dto.ToOperation())
		}

		// ackedTimestamp advances to the last operation's timestamp, or
		// the message's own timestamp if the upload carried no ops. This
		// can be optimistic if the client's clock runs ahead of what it
		// actually durably holds, but refusing the message outright would
		// be worse: an empty upload still means "I'm caught up to here."
		ackTo := model.HLC(msg.Timestamp)
		if len(ops) > 0 {
			ackTo = ops[0].Timestamp
			for _, op := range ops[1:] {
				ackTo = model.MaxHLC(ackTo, op.Timestamp)
			}
		}

		// step2 commits the baselines, the operations, and the advanced
		// ack in one transaction, so a crash mid-upload never leaves the
		// registry acknowledging operations the authority doesn't
		// actually have yet, or baselines without the ops they claim to
		// supersede.
		if err := l.step2.CommitSyncStep2(ctx, baselines, msg.ReplicaID, ops, ackTo); err != nil {
			returnErr = err
			return
		}
		l.logger.OpIngested(msg.ReplicaID, len(ops))

		if len(ops) > 0 {
			l.hub.broadcastExcept(key, wire.OpRe{
				Type:       wire.TypeOpRe,
				Operations: msg.Operations,
				Baselines:  msg.Baselines,
				ReplicaID:  msg.ReplicaID,
			})
		}

		l.triggerRebase()
	})
	return returnErr
}

// HandleOp ingests a live batch of operations from a connected replica and
// rebroadcasts it to every other peer on the library.
func (l *Library) HandleOp(ctx context.Context, key string, token model.TokenInfo, msg wire.Op) error {
	if token.Type.ReadOnly() {
		l.logger.Forbidden(msg.ReplicaID, "op from read-only replica")
		return model.ErrForbidden
	}

	var returnErr error
	l.serialize(func() {
		ops := make([]model.Operation, 0, len(msg.Operations))
		for _, dto := range msg.Operations {
			ops = append(ops, dto.ToOperation())
		}
		if err := l.ops.InsertAll(ctx, msg.ReplicaID, ops); err != nil {
			returnErr = err
			return
		}
		l.logger.OpIngested(msg.ReplicaID, len(ops))
		l.triggerRebase()

		active := l.hub.activeReplicaIDs()
		globalAck, _, err := l.reg.GetGlobalAck(ctx, time.Now(), l.cfg.TruancyThreshold, active)
		if err != nil {
			returnErr = err
			return
		}

		l.hub.broadcastExcept(key, wire.OpRe{
			Type:               wire.TypeOpRe,
			Operations:         msg.Operations,
			ReplicaID:          msg.ReplicaID,
			GlobalAckTimestamp: string(globalAck),
		})
		l.publishBus(ctx, wire.OpRe{Type: wire.TypeOpRe, Operations: msg.Operations, ReplicaID: msg.ReplicaID, GlobalAckTimestamp: string(globalAck)})
	})
	return returnErr
}

// HandleAck records the highest timestamp a replica reports having
// applied, advancing the registry entry that feeds global-ack computation.
func (l *Library) HandleAck(ctx context.Context, replicaID string, ts model.HLC) error {
	var returnErr error
	l.serialize(func() {
		prevAck, prevFound, _ := l.reg.GetGlobalAck(ctx, time.Now(), l.cfg.TruancyThreshold, l.hub.activeReplicaIDs())

		if err := l.reg.UpdateAcknowledged(ctx, replicaID, ts); err != nil {
			returnErr = err
			return
		}

		newAck, newFound, err := l.reg.GetGlobalAck(ctx, time.Now(), l.cfg.TruancyThreshold, l.hub.activeReplicaIDs())
		if err != nil {
			returnErr = err
			return
		}
		if newFound && (!prevFound || prevAck.Less(newAck)) {
			l.hub.broadcastExcept("", wire.GlobalAck{Type: wire.TypeGlobalAck, Timestamp: string(newAck)})
			l.publishBus(ctx, wire.GlobalAck{Type: wire.TypeGlobalAck, Timestamp: string(newAck)})
		}
	})
	return returnErr
}

// HandleHeartbeat touches lastSeen; the connection loop sends the
// heartbeat-response.
func (l *Library) HandleHeartbeat(ctx context.Context, replicaID string) {
	l.serialize(func() {
		_ = l.reg.UpdateLastSeen(ctx, replicaID, time.Now())
	})
}

// HandlePresenceUpdate records a replica's ephemeral cursor/selection
// state and broadcasts it. profile is only sent by the client on the
// first update for a connection; it's preserved by presenceTracker across
// subsequent updates.
func (l *Library) HandlePresenceUpdate(key, replicaID, userID string, presence, profile any) wire.PresenceChanged {
	var out wire.PresenceChanged
	l.serialize(func() {
		e := l.presence.update(key, replicaID, userID, presence, profile)
		entry := toWire(e)
		out = wire.PresenceChanged{Type: wire.TypePresenceChanged, ReplicaID: replicaID, UserInfo: entry}
		// Broadcast includes the sender: clients need their own loaded
		// profile echoed back too.
		l.hub.broadcastExcept("", out)
	})
	return out
}

// HandleDisconnect tears down a connection's hub entry and presence, and
// broadcasts presence-offline when that was the user's last connection.
func (l *Library) HandleDisconnect(key string) {
	l.serialize(func() {
		l.hub.unregister(key)
		userID, wasLast := l.presence.remove(key)
		if wasLast && userID != "" {
			l.hub.broadcastExcept("", wire.PresenceOffline{Type: wire.TypePresenceOffline, UserID: userID})
		}
	})
}

// Register adds a client to the hub once its sync handshake has completed
// successfully.
func (l *Library) Register(key, replicaID, userID string, conn *transport.Conn) {
	l.serialize(func() {
		l.hub.register(&client{key: key, replicaID: replicaID, userID: userID, conn: conn})
	})
}

func (l *Library) publishBus(ctx context.Context, envelope any) {
	if l.bus == nil {
		return
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return
	}
	_ = l.bus.Publish(ctx, l.Name, busEnvelope{Origin: l.originID, Payload: payload})
}
