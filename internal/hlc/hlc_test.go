package hlc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNowIsMonotonic(t *testing.T) {
	c := New("replica-a")
	var prev Timestamp
	for i := 0; i < 100; i++ {
		ts := c.Now()
		if prev != "" {
			assert.True(t, Less(prev, ts), "timestamp %d (%s) did not advance past %s", i, ts, prev)
		}
		prev = ts
	}
}

func TestNowEmbedsReplicaID(t *testing.T) {
	c := New("replica-b")
	_, _, replicaID, err := Decode(c.Now())
	require.NoError(t, err)
	assert.Equal(t, "replica-b", replicaID)
}

func TestNowFrozenWallAdvancesCounter(t *testing.T) {
	frozen := time.Unix(0, 1_000_000)
	c := &Clock{replicaID: "r", now: func() time.Time { return frozen }}

	first := c.Now()
	second := c.Now()
	third := c.Now()

	assert.True(t, Less(first, second))
	assert.True(t, Less(second, third))

	_, counter1, _, err := Decode(first)
	require.NoError(t, err)
	_, counter2, _, err := Decode(second)
	require.NoError(t, err)
	assert.Equal(t, counter1+1, counter2)
}

func TestObserveAdvancesPastRemote(t *testing.T) {
	a := New("replica-a")
	b := New("replica-b")

	tsA := a.Now()
	b.Observe(tsA)
	tsB := b.Now()
	assert.True(t, Less(tsA, tsB), "observing replica a's timestamp should force replica b to sort after it")
}

func TestObserveIgnoresMalformedTimestamp(t *testing.T) {
	c := New("replica-a")
	before := c.Now()
	c.Observe("not-a-valid-timestamp")
	after := c.Now()
	assert.True(t, Less(before, after))
}

func TestDecodeRoundTrip(t *testing.T) {
	c := New("replica-xyz")
	ts := c.Now()
	wall, counter, replicaID, err := Decode(ts)
	require.NoError(t, err)
	assert.Equal(t, "replica-xyz", replicaID)
	assert.GreaterOrEqual(t, wall, int64(0))
	assert.GreaterOrEqual(t, counter, uint64(0))
}

func TestDecodeMalformed(t *testing.T) {
	_, _, _, err := Decode("garbage")
	require.Error(t, err)
}

func TestLessIsByteComparison(t *testing.T) {
	assert.True(t, Less("a", "b"))
	assert.False(t, Less("b", "a"))
	assert.False(t, Less("a", "a"))
}
