package baseline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/collabtext/sync/internal/model"
)

func TestApplyInitialize(t *testing.T) {
	ops := []model.Operation{
		{Kind: model.OpInitialize, Value: model.ObjectValue(map[string]model.Value{"title": model.PrimitiveValue("hi")})},
	}
	out := Apply(model.NullValue(), ops)
	assert.Equal(t, "hi", out.Obj["title"].Prim)
}

func TestApplySetAndDelete(t *testing.T) {
	ops := []model.Operation{
		{Kind: model.OpSet, Field: "title", Value: model.PrimitiveValue("a")},
		{Kind: model.OpSet, Field: "body", Value: model.PrimitiveValue("b")},
		{Kind: model.OpDelete, Field: "title"},
	}
	out := Apply(model.ObjectValue(map[string]model.Value{}), ops)
	_, hasTitle := out.Obj["title"]
	assert.False(t, hasTitle)
	assert.Equal(t, "b", out.Obj["body"].Prim)
}

func TestApplySetLastWriteWins(t *testing.T) {
	ops := []model.Operation{
		{Kind: model.OpSet, Field: "title", Value: model.PrimitiveValue("first")},
		{Kind: model.OpSet, Field: "title", Value: model.PrimitiveValue("second")},
	}
	out := Apply(model.ObjectValue(map[string]model.Value{}), ops)
	assert.Equal(t, "second", out.Obj["title"].Prim)
}

func listOf(vals ...string) model.Value {
	items := make([]model.Value, len(vals))
	for i, v := range vals {
		items[i] = model.PrimitiveValue(v)
	}
	return model.ArrayValue(items)
}

func strs(v model.Value) []string {
	out := make([]string, len(v.Arr))
	for i, item := range v.Arr {
		out[i] = item.Prim.(string)
	}
	return out
}

func TestApplyListInsert(t *testing.T) {
	ops := []model.Operation{
		{Kind: model.OpListInsert, ListIndex: 1, ListValue: model.PrimitiveValue("b")},
	}
	out := Apply(listOf("a", "c"), ops)
	assert.Equal(t, []string{"a", "b", "c"}, strs(out))
}

func TestApplyListInsertClampsOutOfRange(t *testing.T) {
	ops := []model.Operation{
		{Kind: model.OpListInsert, ListIndex: 99, ListValue: model.PrimitiveValue("z")},
	}
	out := Apply(listOf("a", "b"), ops)
	assert.Equal(t, []string{"a", "b", "z"}, strs(out))
}

func TestApplyListDelete(t *testing.T) {
	ops := []model.Operation{
		{Kind: model.OpListDelete, ListIndex: 1},
	}
	out := Apply(listOf("a", "b", "c"), ops)
	assert.Equal(t, []string{"a", "c"}, strs(out))
}

func TestApplyListDeleteOutOfRangeIsNoop(t *testing.T) {
	ops := []model.Operation{
		{Kind: model.OpListDelete, ListIndex: 99},
	}
	out := Apply(listOf("a", "b"), ops)
	assert.Equal(t, []string{"a", "b"}, strs(out))
}

func TestApplyListMove(t *testing.T) {
	ops := []model.Operation{
		{Kind: model.OpListMove, ListFrom: 0, ListTo: 2},
	}
	out := Apply(listOf("a", "b", "c"), ops)
	assert.Equal(t, []string{"b", "c", "a"}, strs(out))
}

func TestApplyListMoveFromOutOfRangeIsNoop(t *testing.T) {
	ops := []model.Operation{
		{Kind: model.OpListMove, ListFrom: 99, ListTo: 0},
	}
	out := Apply(listOf("a", "b"), ops)
	assert.Equal(t, []string{"a", "b"}, strs(out))
}

func TestApplySequenceOrderMatters(t *testing.T) {
	// a delete shifts what index 0 refers to for the move that follows it
	// in HLC order: deleting "a" first means the move then operates on the
	// remaining single-element list, not the original positions.
	ops := []model.Operation{
		{Kind: model.OpListDelete, ListIndex: 0},
		{Kind: model.OpListMove, ListFrom: 0, ListTo: 1},
	}
	out := Apply(listOf("a", "b"), ops)
	assert.Equal(t, []string{"b"}, strs(out))
}

func TestApplyDoesNotMutateInputSnapshot(t *testing.T) {
	snap := model.ObjectValue(map[string]model.Value{"title": model.PrimitiveValue("orig")})
	ops := []model.Operation{{Kind: model.OpSet, Field: "title", Value: model.PrimitiveValue("new")}}
	Apply(snap, ops)
	assert.Equal(t, "orig", snap.Obj["title"].Prim, "Apply must clone before mutating")
}
