package replicaengine

import (
	"sync"

	"github.com/collabtext/sync/internal/baseline"
	"github.com/collabtext/sync/internal/model"
)

// entity is the canonical, per-OID materialized value: all subscribers to
// the same OID observe the same struct and are notified on any update.
type entity struct {
	oid       model.OID
	value     model.Value
	refcount  int
	watchers  map[int]func(model.Value)
	nextToken int
}

// Cache is the replica's reference-counted entity cache. The last
// unsubscription from an OID evicts it; subsequent access recomputes it
// from local storage (baseline + trailing ops) the way a fresh Subscribe
// would.
type Cache struct {
	mu       sync.Mutex
	entities map[model.OID]*entity
}

func NewCache() *Cache {
	return &Cache{entities: make(map[model.OID]*entity)}
}

// Unsubscribe is returned by Subscribe; calling it decrements the
// subscriber's refcount and evicts the entity once it reaches zero.
type Unsubscribe func()

// Subscribe registers interest in oid, seeding the cache entry with value
// if this is the first subscriber, and returns an Unsubscribe. on fires
// on every subsequent update to this OID until unsubscribed.
func (c *Cache) Subscribe(oid model.OID, value model.Value, on func(model.Value)) Unsubscribe {
	c.mu.Lock()
	e, ok := c.entities[oid]
	if !ok {
		e = &entity{oid: oid, value: value, watchers: make(map[int]func(model.Value))}
		c.entities[oid] = e
	}
	e.refcount++
	token := e.nextToken
	e.nextToken++
	e.watchers[token] = on
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		e, ok := c.entities[oid]
		if !ok {
			return
		}
		delete(e.watchers, token)
		e.refcount--
		if e.refcount <= 0 {
			delete(c.entities, oid)
		}
	}
}

// Peek returns the cached value for oid, if any subscriber currently holds
// it.
func (c *Cache) Peek(oid model.OID) (model.Value, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entities[oid]
	if !ok {
		return model.Value{}, false
	}
	return e.value, true
}

// ApplyLocal folds newly-produced or newly-received operations onto
// whichever cached entities they target, notifying watchers. Operations
// for OIDs with no current subscriber are ignored here; the next Subscribe
// recomputes from storage and so observes them anyway.
func (c *Cache) ApplyLocal(ops []model.Operation) {
	byOID := make(map[model.OID][]model.Operation)
	for _, op := range ops {
		byOID[op.OID] = append(byOID[op.OID], op)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for oid, oidOps := range byOID {
		e, ok := c.entities[oid]
		if !ok {
			continue
		}
		e.value = baseline.Apply(e.value, oidOps)
		for _, w := range e.watchers {
			w(e.value)
		}
	}
}

// Invalidate replaces the cached value for oid with value right away and
// notifies its watchers; it does nothing when oid has no subscriber.
// Used after inbound op-re application, with the freshly re-materialized
// snapshot.
func (c *Cache) Invalidate(oid model.OID, value model.Value) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entities[oid]
	if !ok {
		return
	}
	e.value = value
	for _, w := range e.watchers {
		w(e.value)
	}
}
