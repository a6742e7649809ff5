// Package registry implements ReplicaRegistry: the per-library table of
// known replicas, their acknowledgment high-water mark, and the
// global-ack computation that gates rebase.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/collabtext/sync/internal/model"
)

// Registry is the storage-agnostic ReplicaRegistry contract.
type Registry interface {
	GetOrCreate(ctx context.Context, replicaID string, token model.TokenInfo, now time.Time, truancy time.Duration) (model.GetOrCreateStatus, model.ReplicaInfo, error)
	UpdateAcknowledged(ctx context.Context, replicaID string, ts model.HLC) error
	UpdateLastSeen(ctx context.Context, replicaID string, now time.Time) error
	Delete(ctx context.Context, replicaID string) error
	Get(ctx context.Context, replicaID string) (*model.ReplicaInfo, error)
	// GetGlobalAck returns the minimum AckedTimestamp across all
	// non-truant, non-read-only replicas, with activeOverride replicas
	// included regardless of truancy. Returns (zero, false) if any
	// qualifying replica has never acknowledged anything.
	GetGlobalAck(ctx context.Context, now time.Time, truancy time.Duration, activeOverride map[string]bool) (model.HLC, bool, error)
}

// Memory is an in-memory Registry, safe for concurrent use.
type Memory struct {
	mu   sync.RWMutex
	byID map[string]model.ReplicaInfo
}

func NewMemory() *Memory {
	return &Memory{byID: make(map[string]model.ReplicaInfo)}
}

func (m *Memory) GetOrCreate(_ context.Context, replicaID string, token model.TokenInfo, now time.Time, truancy time.Duration) (model.GetOrCreateStatus, model.ReplicaInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if info, ok := m.byID[replicaID]; ok {
		if info.UserID != token.UserID {
			return "", model.ReplicaInfo{}, model.ErrReplicaOwnership
		}
		status := model.StatusExisting
		if info.Truant(now, truancy) {
			status = model.StatusTruant
		}
		info.LastSeen = now
		m.byID[replicaID] = info
		return status, info, nil
	}

	info := model.ReplicaInfo{
		ReplicaID: replicaID,
		UserID:    token.UserID,
		Type:      token.Type,
		LastSeen:  now,
		CreatedAt: now,
	}
	m.byID[replicaID] = info
	return model.StatusNew, info, nil
}

func (m *Memory) UpdateAcknowledged(_ context.Context, replicaID string, ts model.HLC) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.byID[replicaID]
	if !ok {
		return nil
	}
	info.AckedTimestamp = model.MaxHLC(info.AckedTimestamp, ts)
	m.byID[replicaID] = info
	return nil
}

func (m *Memory) UpdateLastSeen(_ context.Context, replicaID string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.byID[replicaID]
	if !ok {
		return nil
	}
	info.LastSeen = now
	m.byID[replicaID] = info
	return nil
}

func (m *Memory) Delete(_ context.Context, replicaID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, replicaID)
	return nil
}

func (m *Memory) Get(_ context.Context, replicaID string) (*model.ReplicaInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if info, ok := m.byID[replicaID]; ok {
		return &info, nil
	}
	return nil, nil
}

func (m *Memory) GetGlobalAck(_ context.Context, now time.Time, truancy time.Duration, activeOverride map[string]bool) (model.HLC, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var min model.HLC
	found := false
	for id, info := range m.byID {
		if info.Type.ReadOnly() {
			continue // read-only replicas never produce writes, don't gate compaction
		}
		active := activeOverride[id]
		if !active && info.Truant(now, truancy) {
			continue
		}
		if !info.HasAcked() {
			return "", false, nil
		}
		if !found || info.AckedTimestamp.Less(min) {
			min = info.AckedTimestamp
			found = true
		}
	}
	return min, found, nil
}
