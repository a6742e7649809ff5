package authority

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/google/uuid"

	"github.com/collabtext/sync/internal/model"
	"github.com/collabtext/sync/internal/transport"
	"github.com/collabtext/sync/internal/wire"
)

// Serve runs one connection's read loop until it disconnects or ctx is
// canceled. token is the already-verified identity for this connection;
// issuing and verifying it happens upstream of this process.
func (l *Library) Serve(ctx context.Context, conn *transport.Conn, token model.TokenInfo) {
	key := uuid.NewString()
	registered := false
	var replicaID string

	defer func() {
		if registered {
			l.HandleDisconnect(key)
		}
		conn.Close()
	}()

	for {
		raw, err := conn.ReadRaw()
		if err != nil {
			return // connection loss: the caller's engine treats this as transient
		}

		msgType, err := transport.DecodeType(raw)
		if err != nil {
			l.logger.OpDropped("undecodable message type")
			continue
		}

		switch wire.MessageType(msgType) {
		case wire.TypeSync:
			var msg wire.Sync
			if err := json.Unmarshal(raw, &msg); err != nil {
				continue
			}
			replicaID = msg.ReplicaID
			result := l.HandleSync(ctx, key, replicaID, token, msg)
			if result.err != nil {
				l.replyError(conn, result.err)
				if errors.Is(result.err, model.ErrReplicaOwnership) {
					return
				}
				continue
			}
			if !registered {
				l.Register(key, replicaID, token.UserID, conn)
				registered = true
			}
			_ = conn.WriteJSON(result.resp)

		case wire.TypeSyncStep2:
			var msg wire.SyncStep2
			if err := json.Unmarshal(raw, &msg); err != nil {
				continue
			}
			if err := l.HandleSyncStep2(ctx, key, token, msg); err != nil {
				l.replyError(conn, err)
			}

		case wire.TypeOp:
			var msg wire.Op
			if err := json.Unmarshal(raw, &msg); err != nil {
				continue
			}
			if err := l.HandleOp(ctx, key, token, msg); err != nil {
				l.replyError(conn, err)
			}

		case wire.TypeAck:
			var msg wire.Ack
			if err := json.Unmarshal(raw, &msg); err != nil {
				continue
			}
			if err := l.HandleAck(ctx, msg.ReplicaID, model.HLC(msg.Timestamp)); err != nil {
				l.logger.Error("ack", err)
			}

		case wire.TypeHeartbeat:
			var msg wire.Heartbeat
			if err := json.Unmarshal(raw, &msg); err != nil {
				continue
			}
			l.HandleHeartbeat(ctx, msg.ReplicaID)
			_ = conn.WriteJSON(wire.HeartbeatResponse{Type: wire.TypeHeartbeatResp})

		case wire.TypePresenceUpdate:
			var msg wire.PresenceUpdate
			if err := json.Unmarshal(raw, &msg); err != nil {
				continue
			}
			l.HandlePresenceUpdate(key, msg.ReplicaID, token.UserID, msg.Presence, msg.Profile)

		default:
			l.logger.OpDropped("unknown message type " + msgType)
		}
	}
}

func (l *Library) replyError(conn *transport.Conn, err error) {
	switch {
	case errors.Is(err, model.ErrForbidden), errors.Is(err, model.ErrReplicaOwnership):
		_ = conn.WriteJSON(wire.Forbidden{Type: wire.TypeForbidden, Reason: err.Error()})
	default:
		log.Printf("authority: library=%s error=%v", l.Name, err)
	}
}
