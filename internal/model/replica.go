package model

import "time"

// ReplicaType distinguishes connection semantics. Read-only replicas
// never produce writes and therefore never gate rebase (see
// ReplicaRegistry.GetGlobalAck).
type ReplicaType string

const (
	Realtime         ReplicaType = "realtime"
	Push             ReplicaType = "push"
	Pull             ReplicaType = "pull"
	ReadOnlyRealtime ReplicaType = "read-only-realtime"
	ReadOnlyPull     ReplicaType = "read-only-pull"
)

// ReadOnly reports whether replicas of this type can ever author writes.
func (t ReplicaType) ReadOnly() bool {
	return t == ReadOnlyRealtime || t == ReadOnlyPull
}

// ReplicaInfo is the registry's record for one participant. It is created
// on first handshake, mutated on each message, and never deleted except by
// explicit resyncAll.
type ReplicaInfo struct {
	ReplicaID      string
	UserID         string
	Type           ReplicaType
	AckedTimestamp HLC // zero value means "never acknowledged"
	LastSeen       time.Time
	CreatedAt      time.Time
}

// HasAcked reports whether this replica has ever acknowledged a timestamp.
func (r ReplicaInfo) HasAcked() bool {
	return r.AckedTimestamp != ""
}

// Truant reports whether the replica's last-seen time exceeds threshold as
// of now. Truant replicas are excluded from rebase consensus but retained
// in the registry until explicitly forgotten.
func (r ReplicaInfo) Truant(now time.Time, threshold time.Duration) bool {
	return now.Sub(r.LastSeen) > threshold
}

// TokenInfo is the verified identity handed to the registry on handshake.
// Token issuance happens upstream of this process; the authority only
// consumes the already-verified result.
type TokenInfo struct {
	UserID string
	Type   ReplicaType
}

// GetOrCreateStatus is the three-way result of ReplicaRegistry.GetOrCreate.
type GetOrCreateStatus string

const (
	StatusNew      GetOrCreateStatus = "new"
	StatusExisting GetOrCreateStatus = "existing"
	StatusTruant   GetOrCreateStatus = "truant"
)
