package model

import (
	"fmt"
	"strings"
)

// OID is a hierarchical object identifier. A document root has the shape
// "<collection>/<rootId>"; a nested object or array element has the shape
// "<collection>/<rootId>.<fieldPath>:<localId>". Every sub-object OID must
// sort lexicographically within [root, root+":￿"] so a store can range-
// scan a whole document by its root prefix.
type OID string

// subObjectCeiling is appended to a root OID to build the open upper bound
// of its sub-object range. ￿ sorts after any realistic localId.
const subObjectCeiling = ":￿"

// Root returns the root document OID that oid belongs to, stripping any
// ".<fieldPath>:<localId>" suffix.
func (oid OID) Root() OID {
	s := string(oid)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return OID(s[:i])
	}
	return oid
}

// IsRoot reports whether oid addresses a document root rather than a nested
// sub-object.
func (oid OID) IsRoot() bool {
	return !strings.Contains(string(oid), ".")
}

// Collection returns the collection segment of the OID.
func (oid OID) Collection() string {
	s := string(oid)
	if i := strings.IndexByte(s, '/'); i >= 0 {
		return s[:i]
	}
	return s
}

// RangeBounds returns the half-open [lo, hi) range that every sub-object OID
// nested under root must satisfy. hi is not itself a valid OID; it is the
// ceiling used in range queries.
func (root OID) RangeBounds() (lo, hi OID) {
	r := root.Root()
	return r, OID(string(r) + subObjectCeiling)
}

// InRange reports whether oid lies within root's sub-object range,
// inclusive of root itself. Every OID allocator must preserve this so a
// single range scan finds a whole document's sub-objects.
func (oid OID) InRange(root OID) bool {
	lo, hi := root.RangeBounds()
	return oid >= lo && oid < hi || oid == lo
}

// NewRootOID builds a document-root OID for the given collection.
func NewRootOID(collection, rootID string) OID {
	return OID(fmt.Sprintf("%s/%s", collection, rootID))
}

// NewSubOID builds a nested sub-object OID under root at fieldPath, with
// localID disambiguating repeated inserts at the same path (e.g. list
// elements). localID is produced by the allocator in internal/model's OID
// counter, seeded per-replica so two replicas that both process the same
// initialize operation agree on the id without coordinating.
func NewSubOID(root OID, fieldPath, localID string) OID {
	return OID(fmt.Sprintf("%s.%s:%s", root.Root(), fieldPath, localID))
}

// FieldPath returns the "<fieldPath>" segment of a nested OID, or "" for a
// root OID.
func (oid OID) FieldPath() string {
	s := string(oid)
	dot := strings.IndexByte(s, '.')
	if dot < 0 {
		return ""
	}
	rest := s[dot+1:]
	if colon := strings.IndexByte(rest, ':'); colon >= 0 {
		return rest[:colon]
	}
	return rest
}

// LocalID returns the "<localId>" segment of a nested OID, or "" for a root
// OID.
func (oid OID) LocalID() string {
	s := string(oid)
	colon := strings.LastIndexByte(s, ':')
	dot := strings.IndexByte(s, '.')
	if dot < 0 || colon < dot {
		return ""
	}
	return s[colon+1:]
}

// OIDAllocator hands out sub-object OIDs with a monotonic per-replica
// counter embedded in the localId, so two replicas observing the same
// initialize operation converge on the same id without a round trip. The
// counter is local; uniqueness across replicas comes from prefixing it with
// the allocating replica id (see Allocate).
type OIDAllocator struct {
	replicaID string
	counter   uint64
}

// NewOIDAllocator returns an allocator scoped to a single replica.
func NewOIDAllocator(replicaID string) *OIDAllocator {
	return &OIDAllocator{replicaID: replicaID}
}

// Allocate returns a fresh sub-object OID nested under root at fieldPath.
func (a *OIDAllocator) Allocate(root OID, fieldPath string) OID {
	a.counter++
	localID := fmt.Sprintf("%s-%d", a.replicaID, a.counter)
	return NewSubOID(root, fieldPath, localID)
}
