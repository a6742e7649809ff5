package replicaengine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/collabtext/sync/internal/config"
	"github.com/collabtext/sync/internal/model"
	"github.com/collabtext/sync/internal/synclog"
	"github.com/collabtext/sync/internal/transport"
	"github.com/collabtext/sync/internal/wire"
)

// Dialer opens a connection to the authority. cmd/replica supplies either a
// direct transport.Dial against a configured URL, or one that resolves
// through internal/discovery.FindAuthority first.
type Dialer func(ctx context.Context) (*transport.Conn, error)

// Protocol drives one replica's connection lifecycle: handshake, inbound
// op-re application, outbound send, presence, heartbeats, and reconnect
// with backoff.
type Protocol struct {
	Engine *Engine
	cfg    *config.ReplicaConfig
	dial   Dialer
	logger *synclog.Logger

	onPresenceChanged func(wire.PresenceChanged)
	onPresenceOffline func(wire.PresenceOffline)

	mu     sync.Mutex
	conn   *transport.Conn
	online bool

	presenceMu  sync.Mutex
	presence    any
	profile     any
	profileSent bool
}

func NewProtocol(e *Engine, cfg *config.ReplicaConfig, dial Dialer) *Protocol {
	return &Protocol{Engine: e, cfg: cfg, dial: dial, logger: synclog.New("replica:" + e.ReplicaID)}
}

// OnPresenceChanged/OnPresenceOffline register callbacks invoked on the
// matching inbound message, e.g. to drive a collaborator-presence UI.
func (p *Protocol) OnPresenceChanged(fn func(wire.PresenceChanged)) { p.onPresenceChanged = fn }
func (p *Protocol) OnPresenceOffline(fn func(wire.PresenceOffline)) { p.onPresenceOffline = fn }

// Online reports whether the protocol currently holds a live connection.
func (p *Protocol) Online() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online
}

// UpdatePresence queues a presence-update for the next write opportunity.
// profile, when non-nil, is sent on the first update only.
func (p *Protocol) UpdatePresence(presence, profile any) {
	p.presenceMu.Lock()
	p.presence = presence
	if profile != nil {
		p.profile = profile
	}
	msg := wire.PresenceUpdate{Type: wire.TypePresenceUpdate, ReplicaID: p.Engine.ReplicaID, Presence: presence}
	if !p.profileSent {
		msg.Profile = p.profile
		p.profileSent = true
	}
	p.presenceMu.Unlock()

	conn := p.currentConn()
	if conn == nil {
		return
	}
	_ = conn.WriteJSON(msg)
}

func (p *Protocol) currentConn() *transport.Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn
}

func (p *Protocol) setConn(c *transport.Conn) {
	p.mu.Lock()
	p.conn = c
	p.mu.Unlock()
}

func (p *Protocol) setOnline(v bool) {
	p.mu.Lock()
	p.online = v
	p.mu.Unlock()
}

// Run drives the reconnect loop until ctx is cancelled. A transient
// transport failure goes offline and retries with exponential backoff
// rather than returning an error to the
// caller; a fatal handshake failure (schema mismatch) is logged and also
// retried, since the only recourse available to a library is an operator
// upgrading the replica build.
func (p *Protocol) Run(ctx context.Context) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.BackoffInitial
	b.MaxInterval = p.cfg.BackoffMax
	b.Multiplier = p.cfg.BackoffMultiplier

	attempt := 0
	for ctx.Err() == nil {
		err := p.runOnce(ctx)
		p.setOnline(false)
		p.setConn(nil)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			b.Reset()
			attempt = 0
			continue
		}
		attempt++
		wait := b.NextBackOff()
		p.logger.ConnReconnecting(p.Engine.ReplicaID, attempt, wait)
		p.logger.Error("connect", err)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}
	}
}

// runOnce performs one connect-handshake-serve cycle. It returns nil only
// when ctx was cancelled mid-session; any other return is treated by Run as
// a reason to back off and retry.
func (p *Protocol) runOnce(ctx context.Context) error {
	conn, err := p.dial(ctx)
	if err != nil {
		return fmt.Errorf("replicaengine: dial: %w", err)
	}
	defer conn.Close()

	resyncAll := false
	for {
		if err := p.handshake(ctx, conn, resyncAll); err != nil {
			if err == model.ErrReplicaOwnership {
				// Rotate replica id and resync from scratch rather than fail
				// the connection outright.
				p.Engine.rotateReplicaID()
				resyncAll = true
				continue
			}
			return fmt.Errorf("replicaengine: handshake: %w", err)
		}
		break
	}

	p.setConn(conn)
	p.setOnline(true)

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 3)
	go func() { errCh <- p.readLoop(sessionCtx, conn) }()
	go func() { errCh <- p.writeLoop(sessionCtx, conn) }()
	go func() { errCh <- p.heartbeatLoop(sessionCtx, conn) }()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		cancel()
		return err
	}
}

// handshake performs the sync / sync-resp / sync-step2 exchange from the
// replica's side.
func (p *Protocol) handshake(ctx context.Context, conn *transport.Conn, resyncAll bool) error {
	syncMsg := wire.Sync{
		Type:          wire.TypeSync,
		ReplicaID:     p.Engine.ReplicaID,
		ResyncAll:     resyncAll,
		SchemaVersion: p.cfg.SchemaVersion,
		Timestamp:     p.Engine.clock.Now(),
	}
	if err := conn.WriteJSON(syncMsg); err != nil {
		return err
	}

	var resp wire.SyncResp
	if err := conn.ReadJSON(&resp); err != nil {
		return err
	}
	if resp.Type == wire.TypeForbidden {
		return model.ErrReplicaOwnership
	}

	remoteOps := make([]model.Operation, 0, len(resp.Operations))
	for _, dto := range resp.Operations {
		remoteOps = append(remoteOps, dto.ToOperation())
	}
	remoteBaselines := make([]model.Baseline, 0, len(resp.Baselines))
	for _, dto := range resp.Baselines {
		remoteBaselines = append(remoteBaselines, dto.ToBaseline())
	}

	if resp.OverwriteLocalData {
		if err := p.Engine.overwriteFromRemote(ctx, remoteBaselines, remoteOps); err != nil {
			return err
		}
	} else if err := p.Engine.ingestRemote(ctx, remoteBaselines, remoteOps); err != nil {
		return err
	}
	p.Engine.clock.Observe(resp.GlobalAckTimestamp)

	pending, err := p.Engine.PendingOutbound(ctx)
	if err != nil {
		return err
	}
	opDTOs := make([]wire.OperationDTO, 0, len(pending))
	for _, op := range pending {
		opDTOs = append(opDTOs, wire.FromOperation(op))
	}
	step2 := wire.SyncStep2{
		Type:       wire.TypeSyncStep2,
		ReplicaID:  p.Engine.ReplicaID,
		Operations: opDTOs,
		Timestamp:  p.Engine.clock.Now(),
	}
	if err := conn.WriteJSON(step2); err != nil {
		return err
	}
	if len(pending) > 0 {
		if err := p.Engine.outbound.MarkSent(ctx, pending); err != nil {
			return err
		}
	}
	return nil
}

// readLoop decodes every inbound frame by its "type" discriminator and
// dispatches it.
func (p *Protocol) readLoop(ctx context.Context, conn *transport.Conn) error {
	for {
		raw, err := conn.ReadRaw()
		if err != nil {
			return err
		}
		typ, err := transport.DecodeType(raw)
		if err != nil {
			p.logger.OpDropped("malformed frame")
			continue
		}
		if err := p.dispatch(ctx, conn, wire.MessageType(typ), raw); err != nil {
			return err
		}
	}
}

func (p *Protocol) dispatch(ctx context.Context, conn *transport.Conn, typ wire.MessageType, raw []byte) error {
	switch typ {
	case wire.TypeOpRe:
		var msg wire.OpRe
		if err := unmarshal(raw, &msg); err != nil {
			return nil
		}
		return p.handleOpRe(ctx, msg)
	case wire.TypeGlobalAck:
		var msg wire.GlobalAck
		if err := unmarshal(raw, &msg); err != nil {
			return nil
		}
		p.Engine.clock.Observe(msg.Timestamp)
		p.Engine.pruneAcked(ctx, model.HLC(msg.Timestamp))
		p.Engine.localRebase(ctx, model.HLC(msg.Timestamp))
		return nil
	case wire.TypePresenceChanged:
		var msg wire.PresenceChanged
		if err := unmarshal(raw, &msg); err != nil {
			return nil
		}
		if p.onPresenceChanged != nil {
			p.onPresenceChanged(msg)
		}
		return nil
	case wire.TypePresenceOffline:
		var msg wire.PresenceOffline
		if err := unmarshal(raw, &msg); err != nil {
			return nil
		}
		if p.onPresenceOffline != nil {
			p.onPresenceOffline(msg)
		}
		return nil
	case wire.TypeHeartbeatResp:
		return nil
	case wire.TypeForbidden:
		var msg wire.Forbidden
		_ = unmarshal(raw, &msg)
		p.logger.Forbidden(p.Engine.ReplicaID, msg.Reason)
		return nil
	default:
		return nil
	}
}

// handleOpRe ingests a rebroadcast batch: baselines are upserted before
// operations are inserted, then affected snapshots are invalidated and
// re-materialized.
func (p *Protocol) handleOpRe(ctx context.Context, msg wire.OpRe) error {
	baselines := make([]model.Baseline, 0, len(msg.Baselines))
	for _, dto := range msg.Baselines {
		baselines = append(baselines, dto.ToBaseline())
	}
	ops := make([]model.Operation, 0, len(msg.Operations))
	for _, dto := range msg.Operations {
		ops = append(ops, dto.ToOperation())
	}
	if err := p.Engine.ingestRemote(ctx, baselines, ops); err != nil {
		return err
	}
	if msg.GlobalAckTimestamp != "" {
		p.Engine.clock.Observe(msg.GlobalAckTimestamp)
		p.Engine.pruneAcked(ctx, model.HLC(msg.GlobalAckTimestamp))
		p.Engine.localRebase(ctx, model.HLC(msg.GlobalAckTimestamp))
	}
	return nil
}

// writeLoop flushes newly-produced local operations to the authority as
// regular op messages, marks them sent, and then acks the highest
// timestamp among the operations just sent. Nothing is sent, ack
// included, while no operation is pending; operations received from the
// authority do not advance the ack sent here.
func (p *Protocol) writeLoop(ctx context.Context, conn *transport.Conn) error {
	ticker := time.NewTicker(p.cfg.AckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.flushOutbound(ctx, conn); err != nil {
				return err
			}
		}
	}
}

func (p *Protocol) flushOutbound(ctx context.Context, conn *transport.Conn) error {
	pending, err := p.Engine.PendingOutbound(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}
	opDTOs := make([]wire.OperationDTO, 0, len(pending))
	for _, op := range pending {
		opDTOs = append(opDTOs, wire.FromOperation(op))
	}
	msg := wire.Op{Type: wire.TypeOp, ReplicaID: p.Engine.ReplicaID, Operations: opDTOs}
	if err := conn.WriteJSON(msg); err != nil {
		return err
	}
	if err := p.Engine.outbound.MarkSent(ctx, pending); err != nil {
		return err
	}

	maxTS := pending[0].Timestamp
	for _, op := range pending[1:] {
		maxTS = model.MaxHLC(maxTS, op.Timestamp)
	}
	ack := wire.Ack{Type: wire.TypeAck, ReplicaID: p.Engine.ReplicaID, Timestamp: string(maxTS)}
	return conn.WriteJSON(ack)
}

// heartbeatLoop keeps the authority's lastSeen for this replica fresh
// between real traffic, for the truancy bookkeeping in the registry.
func (p *Protocol) heartbeatLoop(ctx context.Context, conn *transport.Conn) error {
	ticker := time.NewTicker(p.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			msg := wire.Heartbeat{Type: wire.TypeHeartbeat, ReplicaID: p.Engine.ReplicaID}
			if err := conn.WriteJSON(msg); err != nil {
				return err
			}
		}
	}
}

func unmarshal(raw []byte, v any) error {
	return json.Unmarshal(raw, v)
}
