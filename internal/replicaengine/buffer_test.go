package replicaengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabtext/sync/internal/model"
)

func TestBufferSetSupersedesPriorSetOnSameField(t *testing.T) {
	b := NewBuffer()
	b.Add(model.Operation{OID: "docs/1", Field: "title", Kind: model.OpSet, Value: model.PrimitiveValue("a"), Timestamp: "t1"})
	b.Add(model.Operation{OID: "docs/1", Field: "title", Kind: model.OpSet, Value: model.PrimitiveValue("b"), Timestamp: "t2"})

	ops := b.Peek()
	require.Len(t, ops, 1)
	assert.Equal(t, "b", ops[0].Value.Prim)
}

func TestBufferSetAndDeleteSupersedeEachOther(t *testing.T) {
	b := NewBuffer()
	b.Add(model.Operation{OID: "docs/1", Field: "title", Kind: model.OpSet, Value: model.PrimitiveValue("a"), Timestamp: "t1"})
	b.Add(model.Operation{OID: "docs/1", Field: "title", Kind: model.OpDelete, Timestamp: "t2"})

	ops := b.Peek()
	require.Len(t, ops, 1)
	assert.Equal(t, model.OpDelete, ops[0].Kind)
}

func TestBufferDifferentFieldsDoNotSupersede(t *testing.T) {
	b := NewBuffer()
	b.Add(model.Operation{OID: "docs/1", Field: "title", Kind: model.OpSet, Timestamp: "t1"})
	b.Add(model.Operation{OID: "docs/1", Field: "body", Kind: model.OpSet, Timestamp: "t2"})
	assert.Equal(t, 2, b.Len())
}

func TestBufferInitializeWipesPriorOpsOnSameOID(t *testing.T) {
	b := NewBuffer()
	b.Add(model.Operation{OID: "docs/1", Field: "title", Kind: model.OpSet, Timestamp: "t1"})
	b.Add(model.Operation{OID: "docs/1", Field: "body", Kind: model.OpSet, Timestamp: "t2"})
	b.Add(model.Operation{OID: "docs/1", Kind: model.OpInitialize, Timestamp: "t3"})

	ops := b.Peek()
	require.Len(t, ops, 1)
	assert.Equal(t, model.OpInitialize, ops[0].Kind)
}

func TestBufferInitializeDoesNotTouchOtherOIDs(t *testing.T) {
	b := NewBuffer()
	b.Add(model.Operation{OID: "docs/2", Field: "title", Kind: model.OpSet, Timestamp: "t1"})
	b.Add(model.Operation{OID: "docs/1", Kind: model.OpInitialize, Timestamp: "t2"})
	assert.Equal(t, 2, b.Len())
}

func TestBufferInitializeSupersedesListOps(t *testing.T) {
	b := NewBuffer()
	b.Add(model.Operation{OID: "docs/1", Kind: model.OpListInsert, ListIndex: 0, Timestamp: "t1"})
	b.Add(model.Operation{OID: "docs/1", Kind: model.OpListInsert, ListIndex: 1, Timestamp: "t2"})
	b.Add(model.Operation{OID: "docs/1", Kind: model.OpInitialize, Timestamp: "t3"})

	ops := b.Peek()
	// initialize wipes every prior op on the OID, list ops included.
	require.Len(t, ops, 1)
	assert.Equal(t, model.OpInitialize, ops[0].Kind)
}

func TestBufferListOpsAccumulateIndependently(t *testing.T) {
	b := NewBuffer()
	b.Add(model.Operation{OID: "docs/1", Kind: model.OpListInsert, ListIndex: 0, Timestamp: "t1"})
	b.Add(model.Operation{OID: "docs/1", Kind: model.OpListInsert, ListIndex: 1, Timestamp: "t2"})
	assert.Equal(t, 2, b.Len())
}

func TestBufferDrainEmptiesBuffer(t *testing.T) {
	b := NewBuffer()
	b.Add(model.Operation{OID: "docs/1", Field: "title", Kind: model.OpSet, Timestamp: "t1"})
	drained := b.Drain()
	assert.Len(t, drained, 1)
	assert.Equal(t, 0, b.Len())
}

func TestBufferAddBatchSupersedesWithinBatch(t *testing.T) {
	b := NewBuffer()
	b.AddBatch([]model.Operation{
		{OID: "docs/1", Field: "title", Kind: model.OpSet, Value: model.PrimitiveValue("a"), Timestamp: "t1"},
		{OID: "docs/1", Field: "title", Kind: model.OpSet, Value: model.PrimitiveValue("b"), Timestamp: "t2"},
	})
	ops := b.Peek()
	require.Len(t, ops, 1)
	assert.Equal(t, "b", ops[0].Value.Prim)
}
