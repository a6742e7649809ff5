package authority

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHubRegisterUnregister(t *testing.T) {
	h := newHub()
	c := &client{key: "k1", replicaID: "r1", userID: "u1"}
	h.register(c)
	assert.Equal(t, 1, h.count())
	assert.Same(t, c, h.get("k1"))

	h.unregister("k1")
	assert.Equal(t, 0, h.count())
	assert.Nil(t, h.get("k1"))
}

func TestHubActiveReplicaIDs(t *testing.T) {
	h := newHub()
	h.register(&client{key: "k1", replicaID: "r1"})
	h.register(&client{key: "k2", replicaID: "r2"})
	h.register(&client{key: "k3", replicaID: "r1"}) // r1 reconnected under a new key

	active := h.activeReplicaIDs()
	assert.Len(t, active, 2)
	assert.True(t, active["r1"])
	assert.True(t, active["r2"])
}

func TestHubGetMissing(t *testing.T) {
	h := newHub()
	assert.Nil(t, h.get("missing"))
}
