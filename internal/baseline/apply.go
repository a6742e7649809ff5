package baseline

import "github.com/collabtext/sync/internal/model"

// Apply folds ops (already sorted ascending by timestamp) onto snapshot and
// returns the resulting value. It is the single place that implements
// conflict resolution: because ops are applied strictly in HLC order,
// "last write wins" at the field level and "position-by-position
// insert/move/delete" for lists fall out of the iteration order rather than
// needing an explicit merge step.
func Apply(snapshot model.Value, ops []model.Operation) model.Value {
	current := snapshot.Clone()
	for _, op := range ops {
		current = applyOne(current, op)
	}
	return current
}

func applyOne(cur model.Value, op model.Operation) model.Value {
	switch op.Kind {
	case model.OpInitialize:
		return op.Value.Clone()

	case model.OpSet:
		obj := ensureObject(cur)
		obj.Obj[op.Field] = op.Value.Clone()
		return obj

	case model.OpDelete:
		obj := ensureObject(cur)
		delete(obj.Obj, op.Field)
		return obj

	case model.OpListInsert:
		arr := ensureArray(cur)
		idx := clamp(op.ListIndex, 0, len(arr.Arr))
		next := make([]model.Value, 0, len(arr.Arr)+1)
		next = append(next, arr.Arr[:idx]...)
		next = append(next, op.ListValue.Clone())
		next = append(next, arr.Arr[idx:]...)
		arr.Arr = next
		return arr

	case model.OpListDelete:
		arr := ensureArray(cur)
		if op.ListIndex < 0 || op.ListIndex >= len(arr.Arr) {
			return arr // position no longer present: no-op
		}
		next := make([]model.Value, 0, len(arr.Arr)-1)
		next = append(next, arr.Arr[:op.ListIndex]...)
		next = append(next, arr.Arr[op.ListIndex+1:]...)
		arr.Arr = next
		return arr

	case model.OpListMove:
		arr := ensureArray(cur)
		if op.ListFrom < 0 || op.ListFrom >= len(arr.Arr) {
			return arr // the moved item's position was already removed: no-op
		}
		item := arr.Arr[op.ListFrom]
		rest := make([]model.Value, 0, len(arr.Arr)-1)
		rest = append(rest, arr.Arr[:op.ListFrom]...)
		rest = append(rest, arr.Arr[op.ListFrom+1:]...)
		to := clamp(op.ListTo, 0, len(rest))
		next := make([]model.Value, 0, len(rest)+1)
		next = append(next, rest[:to]...)
		next = append(next, item)
		next = append(next, rest[to:]...)
		arr.Arr = next
		return arr

	default:
		return cur
	}
}

func ensureObject(v model.Value) model.Value {
	if v.Kind != model.KindObject || v.Obj == nil {
		return model.ObjectValue(make(map[string]model.Value))
	}
	return v
}

func ensureArray(v model.Value) model.Value {
	if v.Kind != model.KindArray {
		return model.ArrayValue(nil)
	}
	return v
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
