package authority

import (
	"sync"

	"github.com/collabtext/sync/internal/wire"
)

// presenceEntry is the in-memory record for one connected replica's
// ephemeral cursor/selection state.
type presenceEntry struct {
	id        string // clientKey, so identical across presence-changed re-announces of the same connection
	replicaID string
	userID    string
	presence  any
	profile   any
}

// presenceTracker is process-wide, in-memory, per-library state: created
// on first access, destroyed on library close. It is keyed
// by clientKey so multiple replicas for the same user (e.g. two tabs) are
// tracked independently, while presence-offline is only emitted once the
// last replica for a user disconnects.
type presenceTracker struct {
	mu      sync.Mutex
	byKey   map[string]*presenceEntry
	byUser  map[string]map[string]bool // userID -> set of clientKeys
}

func newPresenceTracker() *presenceTracker {
	return &presenceTracker{
		byKey:  make(map[string]*presenceEntry),
		byUser: make(map[string]map[string]bool),
	}
}

// update records or replaces a replica's presence and returns the entry to
// broadcast. profile is preserved across updates that don't supply one
// (the client only sends it with the initial update).
func (p *presenceTracker) update(key, replicaID, userID string, presence, profile any) presenceEntry {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.byKey[key]
	if !ok {
		e = &presenceEntry{id: key, replicaID: replicaID, userID: userID}
		p.byKey[key] = e
		if p.byUser[userID] == nil {
			p.byUser[userID] = make(map[string]bool)
		}
		p.byUser[userID][key] = true
	}
	e.presence = presence
	if profile != nil {
		e.profile = profile
	}
	return *e
}

// remove drops a disconnected client's presence. The second return value
// reports whether this was the last replica for that user, in which case
// the caller must broadcast presence-offline.
func (p *presenceTracker) remove(key string) (userID string, wasLast bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.byKey[key]
	if !ok {
		return "", false
	}
	delete(p.byKey, key)
	set := p.byUser[e.userID]
	delete(set, key)
	wasLast = len(set) == 0
	if wasLast {
		delete(p.byUser, e.userID)
	}
	return e.userID, wasLast
}

// snapshot returns every tracked entry, for inclusion in sync-resp's
// peerPresence.
func (p *presenceTracker) snapshot() []wire.PresenceEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]wire.PresenceEntry, 0, len(p.byKey))
	for _, e := range p.byKey {
		out = append(out, toWire(*e))
	}
	return out
}

func toWire(e presenceEntry) wire.PresenceEntry {
	return wire.PresenceEntry{
		ID:        e.id,
		ReplicaID: e.replicaID,
		UserID:    e.userID,
		Presence:  e.presence,
		Profile:   e.profile,
	}
}
