package oplog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabtext/sync/internal/model"
)

func op(oid, ts string) model.Operation {
	return model.Operation{OID: model.OID(oid), Timestamp: model.HLC(ts), Kind: model.OpSet, Field: "title", Value: model.PrimitiveValue("x")}
}

func TestMemoryInsertAllIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	o := op("docs/1", "t1")
	require.NoError(t, m.InsertAll(ctx, "r1", []model.Operation{o, o}))
	require.NoError(t, m.InsertAll(ctx, "r1", []model.Operation{o}))

	all, err := m.GetAfter(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 1, "duplicate (oid, timestamp) insertions must collapse to one entry")
}

func TestMemoryInsertAllDropsCorrupt(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	corrupt := model.Operation{Timestamp: "t1", Kind: model.OpSet, Field: "title"} // missing OID
	require.NoError(t, m.InsertAll(ctx, "r1", []model.Operation{corrupt}))

	all, err := m.GetAfter(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestMemoryGetAfterOrdersAscending(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.InsertAll(ctx, "r1", []model.Operation{op("docs/1", "t3"), op("docs/1", "t1"), op("docs/1", "t2")}))

	all, err := m.GetAfter(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, model.HLC("t1"), all[0].Timestamp)
	assert.Equal(t, model.HLC("t2"), all[1].Timestamp)
	assert.Equal(t, model.HLC("t3"), all[2].Timestamp)
}

func TestMemoryGetAfterExclusiveOfTimestamp(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.InsertAll(ctx, "r1", []model.Operation{op("docs/1", "t1"), op("docs/1", "t2")}))

	after, err := m.GetAfter(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, model.HLC("t2"), after[0].Timestamp)
}

func TestMemoryGetBeforeExclusive(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.InsertAll(ctx, "r1", []model.Operation{op("docs/1", "t1"), op("docs/1", "t2")}))

	before, err := m.GetBefore(ctx, "t2")
	require.NoError(t, err)
	require.Len(t, before, 1)
	assert.Equal(t, model.HLC("t1"), before[0].Timestamp)
}

func TestMemoryGetForOID(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.InsertAll(ctx, "r1", []model.Operation{op("docs/1", "t1"), op("docs/2", "t2")}))

	ops, err := m.GetForOID(ctx, "docs/1")
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, model.OID("docs/1"), ops[0].OID)
}

func TestMemoryDrop(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	a, b := op("docs/1", "t1"), op("docs/1", "t2")
	require.NoError(t, m.InsertAll(ctx, "r1", []model.Operation{a, b}))

	require.NoError(t, m.Drop(ctx, []model.Operation{a}))

	remaining, err := m.GetAfter(ctx, "")
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, model.HLC("t2"), remaining[0].Timestamp)

	// dropped (oid, timestamp) can be re-inserted without being treated as
	// a still-seen duplicate.
	require.NoError(t, m.InsertAll(ctx, "r1", []model.Operation{a}))
	all, err := m.GetAfter(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestBucketByOID(t *testing.T) {
	ops := []model.Operation{op("docs/1", "t1"), op("docs/2", "t1"), op("docs/1", "t2")}
	buckets := BucketByOID(ops)
	require.Len(t, buckets, 2)
	assert.Len(t, buckets[model.OID("docs/1")], 2)
	assert.Len(t, buckets[model.OID("docs/2")], 1)
}
