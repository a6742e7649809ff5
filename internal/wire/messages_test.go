package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabtext/sync/internal/model"
)

func TestOperationRoundTripSet(t *testing.T) {
	op := model.Operation{
		OID:       "docs/1",
		Timestamp: "t1",
		ReplicaID: "r1",
		Kind:      model.OpSet,
		Field:     "title",
		Value:     model.PrimitiveValue("hello"),
	}
	dto := FromOperation(op)
	assert.Equal(t, "set", dto.Data.Op)
	back := dto.ToOperation()
	assert.Equal(t, op.OID, back.OID)
	assert.Equal(t, op.Kind, back.Kind)
	assert.Equal(t, op.Field, back.Field)
	assert.Equal(t, "hello", back.Value.Prim)
}

func TestOperationRoundTripRefValue(t *testing.T) {
	op := model.Operation{
		OID:       "docs/1",
		Timestamp: "t1",
		Kind:      model.OpSet,
		Field:     "owner",
		Value:     model.RefValue("users/42"),
	}
	dto := FromOperation(op)
	back := dto.ToOperation()
	require.Equal(t, model.KindRef, back.Value.Kind)
	assert.Equal(t, model.OID("users/42"), back.Value.Ref)
}

func TestOperationRoundTripListInsert(t *testing.T) {
	op := model.Operation{
		OID:       "docs/1",
		Timestamp: "t1",
		Kind:      model.OpListInsert,
		ListIndex: 3,
		ListValue: model.PrimitiveValue("x"),
	}
	dto := FromOperation(op)
	require.NotNil(t, dto.Data.Index)
	assert.Equal(t, 3, *dto.Data.Index)

	back := dto.ToOperation()
	assert.Equal(t, model.OpListInsert, back.Kind)
	assert.Equal(t, 3, back.ListIndex)
	assert.Equal(t, "x", back.ListValue.Prim)
}

func TestOperationRoundTripListMove(t *testing.T) {
	op := model.Operation{OID: "docs/1", Timestamp: "t1", Kind: model.OpListMove, ListFrom: 0, ListTo: 5}
	back := FromOperation(op).ToOperation()
	assert.Equal(t, 0, back.ListFrom)
	assert.Equal(t, 5, back.ListTo)
}

func TestOperationRoundTripListDelete(t *testing.T) {
	op := model.Operation{OID: "docs/1", Timestamp: "t1", Kind: model.OpListDelete, ListIndex: 2}
	back := FromOperation(op).ToOperation()
	assert.Equal(t, model.OpListDelete, back.Kind)
	assert.Equal(t, 2, back.ListIndex)
}

func TestOperationRoundTripInitialize(t *testing.T) {
	snap := model.ObjectValue(map[string]model.Value{"title": model.PrimitiveValue("hi")})
	op := model.Operation{OID: "docs/1", Timestamp: "t1", Kind: model.OpInitialize, Value: snap}
	dto := FromOperation(op)
	assert.Equal(t, "initialize", dto.Data.Op)

	back := dto.ToOperation()
	assert.Equal(t, "hi", back.Value.Obj["title"].Prim)
}

func TestOperationRoundTripDelete(t *testing.T) {
	op := model.Operation{OID: "docs/1", Timestamp: "t1", Kind: model.OpDelete, Field: "title"}
	back := FromOperation(op).ToOperation()
	assert.Equal(t, model.OpDelete, back.Kind)
	assert.Equal(t, "title", back.Field)
}

func TestBaselineRoundTrip(t *testing.T) {
	b := model.Baseline{
		OID:       "docs/1",
		Snapshot:  model.ObjectValue(map[string]model.Value{"title": model.PrimitiveValue("hi")}),
		Timestamp: "t1",
	}
	dto := FromBaseline(b)
	back := dto.ToBaseline()
	assert.Equal(t, b.OID, back.OID)
	assert.Equal(t, b.Timestamp, back.Timestamp)
	assert.Equal(t, "hi", back.Snapshot.Obj["title"].Prim)
}

func TestTypedPeeksDiscriminator(t *testing.T) {
	raw := []byte(`{"type":"sync","replicaId":"r1","schemaVersion":"1"}`)
	var typed Typed
	require.NoError(t, json.Unmarshal(raw, &typed))
	assert.Equal(t, TypeSync, typed.Type)
}
