// Package hlc implements the Hybrid Logical Clock timestamps used to order
// operations across replicas without coordination. A timestamp embeds
// wall-time, a logical counter, and the producing replica id, and is
// formatted so that byte-wise string comparison equals HLC comparison.
package hlc

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Timestamp is re-exported as model.HLC at the call sites that need the
// domain type; this package only knows about the string encoding.
type Timestamp = string

const (
	wallWidth    = 20 // nanoseconds since epoch, zero-padded decimal
	counterWidth = 10 // zero-padded decimal
)

// Clock generates monotonically increasing timestamps for a single replica.
// It is safe for concurrent use.
type Clock struct {
	mu        sync.Mutex
	replicaID string
	lastWall  int64
	counter   uint64
	now       func() time.Time
}

// New returns a Clock that stamps every timestamp it produces with
// replicaID.
func New(replicaID string) *Clock {
	return &Clock{replicaID: replicaID, now: time.Now}
}

// Now produces the next timestamp. If wall-clock time has not advanced past
// the last produced timestamp's wall component, the logical counter is
// incremented instead, guaranteeing strict monotonicity even under clock
// skew or rapid successive calls.
func (c *Clock) Now() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	wall := c.now().UnixNano()
	if wall > c.lastWall {
		c.lastWall = wall
		c.counter = 0
	} else {
		c.counter++
	}
	return encode(c.lastWall, c.counter, c.replicaID)
}

// Observe advances the clock's notion of "now" to be strictly after remote,
// the way a HLC must on receipt of a remote timestamp, so a reply always
// sorts after every message that causally preceded it.
func (c *Clock) Observe(remote Timestamp) {
	wall, counter, _, err := Decode(remote)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if wall > c.lastWall {
		c.lastWall = wall
		c.counter = counter + 1
	} else if wall == c.lastWall && counter >= c.counter {
		c.counter = counter + 1
	}
}

func encode(wall int64, counter uint64, replicaID string) Timestamp {
	return fmt.Sprintf("%0*d-%0*d-%s", wallWidth, wall, counterWidth, counter, replicaID)
}

// Decode splits a timestamp back into its components. Two timestamps
// compare equal (by string ordering) iff wall, counter, and replicaID are
// all identical, i.e. equality implies the same producer and the same
// instant.
func Decode(ts Timestamp) (wall int64, counter uint64, replicaID string, err error) {
	parts := strings.SplitN(ts, "-", 3)
	if len(parts) != 3 {
		return 0, 0, "", fmt.Errorf("hlc: malformed timestamp %q", ts)
	}
	if _, err = fmt.Sscanf(parts[0], "%d", &wall); err != nil {
		return 0, 0, "", fmt.Errorf("hlc: malformed wall component in %q: %w", ts, err)
	}
	if _, err = fmt.Sscanf(parts[1], "%d", &counter); err != nil {
		return 0, 0, "", fmt.Errorf("hlc: malformed counter component in %q: %w", ts, err)
	}
	return wall, counter, parts[2], nil
}

// Less reports a < b under HLC order. Because timestamps are encoded to be
// byte-comparable, this is just a string comparison, but it's exposed here
// so callers don't need to remember that invariant.
func Less(a, b Timestamp) bool { return a < b }
