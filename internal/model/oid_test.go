package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRootOID(t *testing.T) {
	oid := NewRootOID("docs", "abc123")
	assert.Equal(t, OID("docs/abc123"), oid)
	assert.True(t, oid.IsRoot())
	assert.Equal(t, "docs", oid.Collection())
	assert.Equal(t, oid, oid.Root())
}

func TestNewSubOID(t *testing.T) {
	root := NewRootOID("docs", "abc123")
	sub := NewSubOID(root, "items", "replica-1-7")
	assert.False(t, sub.IsRoot())
	assert.Equal(t, root, sub.Root())
	assert.Equal(t, "items", sub.FieldPath())
	assert.Equal(t, "replica-1-7", sub.LocalID())
}

func TestSubOIDNestedUnderSubOID(t *testing.T) {
	root := NewRootOID("docs", "abc123")
	sub := NewSubOID(root, "items", "replica-1-1")
	nested := NewSubOID(sub, "items.0.children", "replica-1-2")
	// NewSubOID always roots to the document, never to an intermediate sub-OID.
	assert.Equal(t, root, nested.Root())
}

func TestRangeBoundsAndInRange(t *testing.T) {
	root := NewRootOID("docs", "abc123")
	sub := NewSubOID(root, "items", "replica-1-1")
	other := NewRootOID("docs", "xyz789")

	assert.True(t, sub.InRange(root))
	assert.True(t, root.InRange(root))
	assert.False(t, other.InRange(root))
}

func TestAllocatorProducesOIDsInRange(t *testing.T) {
	root := NewRootOID("docs", "doc1")
	alloc := NewOIDAllocator("replica-1")
	for i := 0; i < 10; i++ {
		oid := alloc.Allocate(root, "items")
		assert.True(t, oid.InRange(root), "allocated oid %s not in range of root %s", oid, root)
	}
}

func TestAllocatorLocalIDsAreUnique(t *testing.T) {
	root := NewRootOID("docs", "doc1")
	alloc := NewOIDAllocator("replica-1")
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		oid := alloc.Allocate(root, "items")
		id := oid.LocalID()
		assert.False(t, seen[id], "duplicate local id %s", id)
		seen[id] = true
	}
}
