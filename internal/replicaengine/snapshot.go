package replicaengine

import (
	"context"

	"github.com/collabtext/sync/internal/baseline"
	"github.com/collabtext/sync/internal/model"
)

// ObjectLoader resolves a single OID's own materialized value (its
// baseline snapshot with any trailing operations applied), without
// following refs. internal/replicaengine uses this over localOps/
// localBaselines directly so Materialize stays storage-agnostic.
type ObjectLoader struct {
	Ops       interface {
		GetForOID(ctx context.Context, oid model.OID) ([]model.Operation, error)
	}
	Baselines interface {
		Get(ctx context.Context, oid model.OID) (*model.Baseline, error)
	}
}

// Load computes oid's own value: its baseline snapshot (or an empty object,
// if none exists yet) with every operation whose timestamp is greater than
// the baseline's applied on top.
func (l *ObjectLoader) Load(ctx context.Context, oid model.OID) (model.Value, error) {
	b, err := l.Baselines.Get(ctx, oid)
	if err != nil {
		return model.Value{}, err
	}
	var snap model.Value
	var after model.HLC
	if b != nil {
		snap = b.Snapshot
		after = b.Timestamp
	} else {
		snap = model.ObjectValue(make(map[string]model.Value))
	}

	ops, err := l.Ops.GetForOID(ctx, oid)
	if err != nil {
		return model.Value{}, err
	}
	trailing := make([]model.Operation, 0, len(ops))
	for _, op := range ops {
		if after.Less(op.Timestamp) {
			trailing = append(trailing, op)
		}
	}
	return baseline.Apply(snap, trailing), nil
}

// Materializer resolves a root OID into a fully-dereferenced document by
// recursively substituting every model.Value of KindRef with the
// materialized value of the OID it points to, detecting cycles in the ref
// graph along the way.
type Materializer struct {
	Loader *ObjectLoader
}

func NewMaterializer(loader *ObjectLoader) *Materializer {
	return &Materializer{Loader: loader}
}

// Materialize resolves root, erroring with model.ErrCycle if the ref graph
// revisits an OID already on the current resolution path.
func (m *Materializer) Materialize(ctx context.Context, root model.OID) (model.Value, error) {
	return m.resolve(ctx, root, map[model.OID]bool{})
}

func (m *Materializer) resolve(ctx context.Context, oid model.OID, visiting map[model.OID]bool) (model.Value, error) {
	if visiting[oid] {
		return model.Value{}, model.ErrCycle
	}
	visiting[oid] = true
	defer delete(visiting, oid)

	v, err := m.Loader.Load(ctx, oid)
	if err != nil {
		return model.Value{}, err
	}
	return m.substituteRefs(ctx, v, visiting)
}

// checkRefCycle reports whether writing a ref from -> to would create a
// cycle in the OID graph, by walking forward from to and failing if the
// walk ever revisits from. This is the write-time half of cycle handling;
// Materialize (read-time) is the backstop for cycles that arrive from
// another replica's unsynchronized write.
func (e *Engine) checkRefCycle(ctx context.Context, from, to model.OID) error {
	if from == to {
		return model.ErrCycle
	}
	return e.materializer.walkForCycle(ctx, from, to, map[model.OID]bool{})
}

func (m *Materializer) walkForCycle(ctx context.Context, from, oid model.OID, visited map[model.OID]bool) error {
	if oid == from {
		return model.ErrCycle
	}
	if visited[oid] {
		return nil // reached again through another ref: shared, not a cycle
	}
	visited[oid] = true

	v, err := m.Loader.Load(ctx, oid)
	if err != nil {
		return err
	}
	return m.walkValueForCycle(ctx, from, v, visited)
}

func (m *Materializer) walkValueForCycle(ctx context.Context, from model.OID, v model.Value, visited map[model.OID]bool) error {
	switch v.Kind {
	case model.KindRef:
		return m.walkForCycle(ctx, from, v.Ref, visited)
	case model.KindObject:
		for _, inner := range v.Obj {
			if err := m.walkValueForCycle(ctx, from, inner, visited); err != nil {
				return err
			}
		}
	case model.KindArray:
		for _, inner := range v.Arr {
			if err := m.walkValueForCycle(ctx, from, inner, visited); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Materializer) substituteRefs(ctx context.Context, v model.Value, visiting map[model.OID]bool) (model.Value, error) {
	switch v.Kind {
	case model.KindRef:
		return m.resolve(ctx, v.Ref, visiting)
	case model.KindObject:
		out := make(map[string]model.Value, len(v.Obj))
		for k, inner := range v.Obj {
			resolved, err := m.substituteRefs(ctx, inner, visiting)
			if err != nil {
				return model.Value{}, err
			}
			out[k] = resolved
		}
		return model.ObjectValue(out), nil
	case model.KindArray:
		out := make([]model.Value, len(v.Arr))
		for i, inner := range v.Arr {
			resolved, err := m.substituteRefs(ctx, inner, visiting)
			if err != nil {
				return model.Value{}, err
			}
			out[i] = resolved
		}
		return model.ArrayValue(out), nil
	default:
		return v, nil
	}
}
