package baseline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabtext/sync/internal/model"
)

func TestMemoryStoreUpsertAndGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	b := model.Baseline{OID: "docs/1", Snapshot: model.PrimitiveValue("v1"), Timestamp: "t1"}
	require.NoError(t, s.Upsert(ctx, b))

	got, err := s.Get(ctx, "docs/1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, b, *got)
}

func TestMemoryStoreUpsertOverwrites(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.Upsert(ctx, model.Baseline{OID: "docs/1", Snapshot: model.PrimitiveValue("v1"), Timestamp: "t1"}))
	require.NoError(t, s.Upsert(ctx, model.Baseline{OID: "docs/1", Snapshot: model.PrimitiveValue("v2"), Timestamp: "t2"}))

	got, err := s.Get(ctx, "docs/1")
	require.NoError(t, err)
	assert.Equal(t, model.HLC("t2"), got.Timestamp)
}

func TestMemoryStoreGetMissing(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	got, err := s.Get(ctx, "docs/missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryStoreApplyOperationsNoExisting(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	ops := []model.Operation{
		{OID: "docs/1", Kind: model.OpSet, Field: "title", Value: model.PrimitiveValue("hi"), Timestamp: "t1"},
	}
	b, err := s.ApplyOperations(ctx, "docs/1", ops)
	require.NoError(t, err)
	assert.Equal(t, model.HLC("t1"), b.Timestamp)
	assert.Equal(t, "hi", b.Snapshot.Obj["title"].Prim)
}

func TestMemoryStoreApplyOperationsFoldsOntoExisting(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.Upsert(ctx, model.Baseline{
		OID:       "docs/1",
		Snapshot:  model.ObjectValue(map[string]model.Value{"title": model.PrimitiveValue("old")}),
		Timestamp: "t0",
	}))

	ops := []model.Operation{
		{OID: "docs/1", Kind: model.OpSet, Field: "body", Value: model.PrimitiveValue("new-body"), Timestamp: "t1"},
	}
	b, err := s.ApplyOperations(ctx, "docs/1", ops)
	require.NoError(t, err)
	assert.Equal(t, "old", b.Snapshot.Obj["title"].Prim)
	assert.Equal(t, "new-body", b.Snapshot.Obj["body"].Prim)
	assert.Equal(t, model.HLC("t1"), b.Timestamp)
}

func TestMemoryStoreApplyOperationsNoOpsNoBaselineErrors(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	_, err := s.ApplyOperations(ctx, "docs/1", nil)
	assert.ErrorIs(t, err, model.ErrNoBaselineForRebase)
}

func TestMemoryStoreApplyOperationsNoOpsReturnsExisting(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	existing := model.Baseline{OID: "docs/1", Snapshot: model.PrimitiveValue("v"), Timestamp: "t1"}
	require.NoError(t, s.Upsert(ctx, existing))

	b, err := s.ApplyOperations(ctx, "docs/1", nil)
	require.NoError(t, err)
	assert.Equal(t, existing, b)
}

func TestMemoryStoreGetAllAfter(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.Upsert(ctx, model.Baseline{OID: "docs/1", Snapshot: model.PrimitiveValue("a"), Timestamp: "t1"}))
	require.NoError(t, s.Upsert(ctx, model.Baseline{OID: "docs/2", Snapshot: model.PrimitiveValue("b"), Timestamp: "t2"}))

	all, err := s.GetAllAfter(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	after, err := s.GetAllAfter(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, model.OID("docs/2"), after[0].OID)
}
