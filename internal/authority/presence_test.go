package authority

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPresenceUpdateCreatesEntry(t *testing.T) {
	p := newPresenceTracker()
	e := p.update("k1", "r1", "u1", map[string]any{"cursor": 3}, map[string]any{"name": "alice"})
	assert.Equal(t, "k1", e.id)
	assert.Equal(t, "u1", e.userID)
	assert.NotNil(t, e.profile)
}

func TestPresenceUpdateRetainsProfileAcrossUpdates(t *testing.T) {
	p := newPresenceTracker()
	p.update("k1", "r1", "u1", map[string]any{"cursor": 1}, map[string]any{"name": "alice"})
	second := p.update("k1", "r1", "u1", map[string]any{"cursor": 2}, nil)

	assert.Equal(t, map[string]any{"cursor": 2}, second.presence)
	assert.Equal(t, map[string]any{"name": "alice"}, second.profile, "profile omitted on later update must carry forward from the first")
}

func TestPresenceRemoveNotLastReplicaForUser(t *testing.T) {
	p := newPresenceTracker()
	p.update("k1", "r1", "u1", nil, nil)
	p.update("k2", "r2", "u1", nil, nil) // same user, second tab

	userID, wasLast := p.remove("k1")
	assert.Equal(t, "u1", userID)
	assert.False(t, wasLast)
}

func TestPresenceRemoveLastReplicaForUser(t *testing.T) {
	p := newPresenceTracker()
	p.update("k1", "r1", "u1", nil, nil)

	userID, wasLast := p.remove("k1")
	assert.Equal(t, "u1", userID)
	assert.True(t, wasLast)
}

func TestPresenceRemoveUnknownKey(t *testing.T) {
	p := newPresenceTracker()
	userID, wasLast := p.remove("missing")
	assert.Equal(t, "", userID)
	assert.False(t, wasLast)
}

func TestPresenceSnapshotIncludesAll(t *testing.T) {
	p := newPresenceTracker()
	p.update("k1", "r1", "u1", nil, nil)
	p.update("k2", "r2", "u2", nil, nil)

	snap := p.snapshot()
	assert.Len(t, snap, 2)
}
