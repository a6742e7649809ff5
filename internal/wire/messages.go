// Package wire defines the JSON wire protocol exchanged between a replica
// and the authority. Every message is a JSON object with a "type"
// discriminator; Typed is the minimal shape used to read it.
package wire

import (
	"encoding/json"

	"github.com/collabtext/sync/internal/model"
)

type MessageType string

const (
	TypeSync           MessageType = "sync"
	TypeSyncStep2       MessageType = "sync-step2"
	TypeOp              MessageType = "op"
	TypeAck              MessageType = "ack"
	TypeHeartbeat        MessageType = "heartbeat"
	TypePresenceUpdate   MessageType = "presence-update"
	TypeSyncResp         MessageType = "sync-resp"
	TypeOpRe             MessageType = "op-re"
	TypeGlobalAck        MessageType = "global-ack"
	TypePresenceChanged  MessageType = "presence-changed"
	TypePresenceOffline  MessageType = "presence-offline"
	TypeHeartbeatResp    MessageType = "heartbeat-response"
	TypeForbidden        MessageType = "forbidden"
)

// OperationDTO is the bit-exact wire shape of an operation:
// { oid, timestamp, data: { op: "set"|"delete"|"list-insert"|..., ... } }.
type OperationDTO struct {
	OID       string     `json:"oid"`
	Timestamp string     `json:"timestamp"`
	ReplicaID string     `json:"replicaId"`
	Data      OpDataDTO  `json:"data"`
}

// OpDataDTO is the polymorphic operation payload. Only the fields relevant
// to Op are populated; the rest are omitted on the wire.
type OpDataDTO struct {
	Op        string      `json:"op"`
	Field     string      `json:"field,omitempty"`
	Value     any         `json:"value,omitempty"`
	Snapshot  any         `json:"snapshot,omitempty"`
	Index     *int        `json:"index,omitempty"`
	From      *int        `json:"from,omitempty"`
	To        *int        `json:"to,omitempty"`
}

// BaselineDTO is the bit-exact wire shape of a baseline: { oid, snapshot,
// timestamp }.
type BaselineDTO struct {
	OID       string `json:"oid"`
	Snapshot  any    `json:"snapshot"`
	Timestamp string `json:"timestamp"`
}

// Sync is sent client -> authority to begin the handshake.
type Sync struct {
	Type          MessageType `json:"type"`
	ReplicaID     string      `json:"replicaId"`
	ResyncAll     bool        `json:"resyncAll,omitempty"`
	SchemaVersion string      `json:"schemaVersion"`
	Timestamp     string      `json:"timestamp,omitempty"`
}

// SyncStep2 is the client's history upload, sent after receiving SyncResp.
type SyncStep2 struct {
	Type       MessageType    `json:"type"`
	ReplicaID  string         `json:"replicaId"`
	Operations []OperationDTO `json:"operations"`
	Baselines  []BaselineDTO  `json:"baselines"`
	Timestamp  string         `json:"timestamp"`
}

// Op is a regular operation delivery, client -> authority or (as part of
// OpRe) authority -> client.
type Op struct {
	Type       MessageType    `json:"type"`
	ReplicaID  string         `json:"replicaId"`
	Operations []OperationDTO `json:"operations"`
}

// Ack reports the highest timestamp the client has applied.
type Ack struct {
	Type      MessageType `json:"type"`
	ReplicaID string      `json:"replicaId"`
	Timestamp string      `json:"timestamp"`
}

// Heartbeat keeps a connection's lastSeen fresh between real traffic.
type Heartbeat struct {
	Type      MessageType `json:"type"`
	ReplicaID string      `json:"replicaId"`
}

// PresenceUpdate reports ephemeral cursor/selection state. Profile is only
// populated by the client on the first update of a connection;
// presenceTracker retains it across subsequent updates.
type PresenceUpdate struct {
	Type      MessageType `json:"type"`
	ReplicaID string      `json:"replicaId"`
	Presence  any         `json:"presence"`
	Profile   any         `json:"profile,omitempty"`
}

// SyncResp answers Sync.
type SyncResp struct {
	Type                MessageType    `json:"type"`
	Operations          []OperationDTO `json:"operations"`
	Baselines           []BaselineDTO  `json:"baselines"`
	ProvideChangesSince string         `json:"provideChangesSince,omitempty"`
	GlobalAckTimestamp  string         `json:"globalAckTimestamp,omitempty"`
	PeerPresence        []PresenceEntry `json:"peerPresence"`
	OverwriteLocalData  bool           `json:"overwriteLocalData"`
}

// OpRe is the authority's rebroadcast of a batch of operations/baselines to
// peers other than the sender.
type OpRe struct {
	Type               MessageType    `json:"type"`
	Operations         []OperationDTO `json:"operations"`
	Baselines          []BaselineDTO  `json:"baselines"`
	ReplicaID          string         `json:"replicaId"`
	GlobalAckTimestamp string         `json:"globalAckTimestamp,omitempty"`
}

// GlobalAck is both the periodic ack-advance broadcast and the rebase
// compaction hint.
type GlobalAck struct {
	Type      MessageType `json:"type"`
	Timestamp string      `json:"timestamp"`
}

// PresenceEntry is one participant's ephemeral presence state, as carried
// in SyncResp.PeerPresence and PresenceChanged.UserInfo.
type PresenceEntry struct {
	ID        string `json:"id"`
	ReplicaID string `json:"replicaId"`
	UserID    string `json:"userId"`
	Presence  any    `json:"presence"`
	Profile   any    `json:"profile,omitempty"`
}

type PresenceChanged struct {
	Type      MessageType   `json:"type"`
	ReplicaID string        `json:"replicaId"`
	UserInfo  PresenceEntry `json:"userInfo"`
}

type PresenceOffline struct {
	Type      MessageType `json:"type"`
	ReplicaID string      `json:"replicaId"`
	UserID    string      `json:"userId"`
}

type HeartbeatResponse struct {
	Type MessageType `json:"type"`
}

type Forbidden struct {
	Type   MessageType `json:"type"`
	Reason string      `json:"reason,omitempty"`
}

// Typed is the minimal shape every inbound message satisfies, used to peek
// at the discriminator before decoding the full payload.
type Typed struct {
	Type MessageType `json:"type"`
}

// ToOperation converts a wire DTO to the domain model.
func (dto OperationDTO) ToOperation() model.Operation {
	op := model.Operation{
		OID:       model.OID(dto.OID),
		Timestamp: model.HLC(dto.Timestamp),
		ReplicaID: dto.ReplicaID,
		Field:     dto.Data.Field,
	}
	switch dto.Data.Op {
	case "set":
		op.Kind = model.OpSet
		op.Value = valueFromAny(dto.Data.Value)
	case "delete":
		op.Kind = model.OpDelete
	case "list-insert":
		op.Kind = model.OpListInsert
		if dto.Data.Index != nil {
			op.ListIndex = *dto.Data.Index
		}
		op.ListValue = valueFromAny(dto.Data.Value)
	case "list-move":
		op.Kind = model.OpListMove
		if dto.Data.From != nil {
			op.ListFrom = *dto.Data.From
		}
		if dto.Data.To != nil {
			op.ListTo = *dto.Data.To
		}
	case "list-delete":
		op.Kind = model.OpListDelete
		if dto.Data.Index != nil {
			op.ListIndex = *dto.Data.Index
		}
	case "initialize":
		op.Kind = model.OpInitialize
		op.Value = valueFromAny(dto.Data.Snapshot)
	}
	return op
}

// FromOperation converts a domain operation to its wire DTO.
func FromOperation(op model.Operation) OperationDTO {
	dto := OperationDTO{
		OID:       string(op.OID),
		Timestamp: string(op.Timestamp),
		ReplicaID: op.ReplicaID,
	}
	switch op.Kind {
	case model.OpSet:
		dto.Data = OpDataDTO{Op: "set", Field: op.Field, Value: anyFromValue(op.Value)}
	case model.OpDelete:
		dto.Data = OpDataDTO{Op: "delete", Field: op.Field}
	case model.OpListInsert:
		idx := op.ListIndex
		dto.Data = OpDataDTO{Op: "list-insert", Index: &idx, Value: anyFromValue(op.ListValue)}
	case model.OpListMove:
		from, to := op.ListFrom, op.ListTo
		dto.Data = OpDataDTO{Op: "list-move", From: &from, To: &to}
	case model.OpListDelete:
		idx := op.ListIndex
		dto.Data = OpDataDTO{Op: "list-delete", Index: &idx}
	case model.OpInitialize:
		dto.Data = OpDataDTO{Op: "initialize", Snapshot: anyFromValue(op.Value)}
	}
	return dto
}

func (dto BaselineDTO) ToBaseline() model.Baseline {
	return model.Baseline{
		OID:       model.OID(dto.OID),
		Snapshot:  valueFromAny(dto.Snapshot),
		Timestamp: model.HLC(dto.Timestamp),
	}
}

func FromBaseline(b model.Baseline) BaselineDTO {
	return BaselineDTO{OID: string(b.OID), Snapshot: anyFromValue(b.Snapshot), Timestamp: string(b.Timestamp)}
}

func valueFromAny(raw any) model.Value {
	var v model.Value
	b, err := json.Marshal(raw)
	if err != nil {
		return model.NullValue()
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return model.NullValue()
	}
	return v
}

func anyFromValue(v model.Value) any {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil
	}
	return out
}
