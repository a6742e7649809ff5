package replicaengine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabtext/sync/internal/model"
)

type fakeOps struct {
	byOID map[model.OID][]model.Operation
}

func (f *fakeOps) GetForOID(_ context.Context, oid model.OID) ([]model.Operation, error) {
	return f.byOID[oid], nil
}

type fakeBaselines struct {
	byOID map[model.OID]model.Baseline
}

func (f *fakeBaselines) Get(_ context.Context, oid model.OID) (*model.Baseline, error) {
	b, ok := f.byOID[oid]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func newLoader() (*ObjectLoader, *fakeOps, *fakeBaselines) {
	ops := &fakeOps{byOID: make(map[model.OID][]model.Operation)}
	baselines := &fakeBaselines{byOID: make(map[model.OID]model.Baseline)}
	return &ObjectLoader{Ops: ops, Baselines: baselines}, ops, baselines
}

func TestObjectLoaderNoBaselineNoOps(t *testing.T) {
	loader, _, _ := newLoader()
	v, err := loader.Load(context.Background(), "docs/1")
	require.NoError(t, err)
	assert.Equal(t, model.KindObject, v.Kind)
	assert.Empty(t, v.Obj)
}

func TestObjectLoaderBaselinePlusTrailingOps(t *testing.T) {
	loader, ops, baselines := newLoader()
	baselines.byOID["docs/1"] = model.Baseline{
		OID:       "docs/1",
		Snapshot:  model.ObjectValue(map[string]model.Value{"title": model.PrimitiveValue("old")}),
		Timestamp: "t1",
	}
	ops.byOID["docs/1"] = []model.Operation{
		{OID: "docs/1", Kind: model.OpSet, Field: "title", Value: model.PrimitiveValue("new"), Timestamp: "t0"}, // before baseline: ignored
		{OID: "docs/1", Kind: model.OpSet, Field: "body", Value: model.PrimitiveValue("b"), Timestamp: "t2"},    // after baseline: applied
	}

	v, err := loader.Load(context.Background(), "docs/1")
	require.NoError(t, err)
	assert.Equal(t, "old", v.Obj["title"].Prim, "op before the baseline timestamp must not re-apply")
	assert.Equal(t, "b", v.Obj["body"].Prim)
}

func TestMaterializeResolvesNestedRef(t *testing.T) {
	loader, _, baselines := newLoader()
	baselines.byOID["docs/1"] = model.Baseline{
		OID:      "docs/1",
		Snapshot: model.ObjectValue(map[string]model.Value{"owner": model.RefValue("users/1")}),
	}
	baselines.byOID["users/1"] = model.Baseline{
		OID:      "users/1",
		Snapshot: model.ObjectValue(map[string]model.Value{"name": model.PrimitiveValue("alice")}),
	}

	m := NewMaterializer(loader)
	v, err := m.Materialize(context.Background(), "docs/1")
	require.NoError(t, err)
	assert.Equal(t, "alice", v.Obj["owner"].Obj["name"].Prim)
}

func TestMaterializeDetectsReadTimeCycle(t *testing.T) {
	loader, _, baselines := newLoader()
	baselines.byOID["docs/1"] = model.Baseline{
		OID:      "docs/1",
		Snapshot: model.ObjectValue(map[string]model.Value{"next": model.RefValue("docs/2")}),
	}
	baselines.byOID["docs/2"] = model.Baseline{
		OID:      "docs/2",
		Snapshot: model.ObjectValue(map[string]model.Value{"next": model.RefValue("docs/1")}),
	}

	m := NewMaterializer(loader)
	_, err := m.Materialize(context.Background(), "docs/1")
	assert.ErrorIs(t, err, model.ErrCycle)
}

func TestMaterializeResolvesDiamondWithoutFalseCycle(t *testing.T) {
	loader, _, baselines := newLoader()
	baselines.byOID["docs/1"] = model.Baseline{
		OID: "docs/1",
		Snapshot: model.ObjectValue(map[string]model.Value{
			"a": model.RefValue("shared/1"),
			"b": model.RefValue("shared/1"),
		}),
	}
	baselines.byOID["shared/1"] = model.Baseline{OID: "shared/1", Snapshot: model.PrimitiveValue("leaf")}

	m := NewMaterializer(loader)
	v, err := m.Materialize(context.Background(), "docs/1")
	require.NoError(t, err, "a DAG that revisits the same OID via siblings, not an ancestor, is not a cycle")
	assert.Equal(t, "leaf", v.Obj["a"].Prim)
	assert.Equal(t, "leaf", v.Obj["b"].Prim)
}

func TestCheckRefCycleDetectsSelfRef(t *testing.T) {
	loader, _, _ := newLoader()
	e := &Engine{materializer: NewMaterializer(loader)}
	err := e.checkRefCycle(context.Background(), "docs/1", "docs/1")
	assert.ErrorIs(t, err, model.ErrCycle)
}

func TestCheckRefCycleDetectsIndirectCycle(t *testing.T) {
	loader, _, baselines := newLoader()
	// docs/2 already refs docs/1; writing a ref from docs/1 -> docs/2 would close the loop.
	baselines.byOID["docs/2"] = model.Baseline{
		OID:      "docs/2",
		Snapshot: model.ObjectValue(map[string]model.Value{"back": model.RefValue("docs/1")}),
	}
	e := &Engine{materializer: NewMaterializer(loader)}
	err := e.checkRefCycle(context.Background(), "docs/1", "docs/2")
	assert.ErrorIs(t, err, model.ErrCycle)
}

func TestCheckRefCycleAllowsAcyclicRef(t *testing.T) {
	loader, _, baselines := newLoader()
	baselines.byOID["docs/2"] = model.Baseline{OID: "docs/2", Snapshot: model.PrimitiveValue("leaf")}
	e := &Engine{materializer: NewMaterializer(loader)}
	err := e.checkRefCycle(context.Background(), "docs/1", "docs/2")
	assert.NoError(t, err)
}
