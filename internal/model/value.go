package model

import "encoding/json"

// Value is a heterogeneous JSON-like value as it appears in a snapshot or an
// operation payload: an object, an array, a primitive (string/number/bool/
// null), or a reference to another OID. Refs are the only non-JSON-native
// shape; they round-trip on the wire as {"@@type":"ref","id":"<oid>"}.
type Value struct {
	Kind ValueKind
	Obj  map[string]Value
	Arr  []Value
	Prim any
	Ref  OID
}

type ValueKind int

const (
	KindNull ValueKind = iota
	KindPrimitive
	KindObject
	KindArray
	KindRef
)

func NullValue() Value           { return Value{Kind: KindNull} }
func PrimitiveValue(v any) Value { return Value{Kind: KindPrimitive, Prim: v} }
func ObjectValue(m map[string]Value) Value {
	return Value{Kind: KindObject, Obj: m}
}
func ArrayValue(items []Value) Value { return Value{Kind: KindArray, Arr: items} }
func RefValue(oid OID) Value         { return Value{Kind: KindRef, Ref: oid} }

const refTypeTag = "@@type"
const refTypeVal = "ref"

// MarshalJSON encodes a ref as {"@@type":"ref","id":"<oid>"}, and
// everything else as its natural JSON shape.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNull:
		return []byte("null"), nil
	case KindPrimitive:
		return json.Marshal(v.Prim)
	case KindRef:
		return json.Marshal(map[string]string{refTypeTag: refTypeVal, "id": string(v.Ref)})
	case KindObject:
		return json.Marshal(v.Obj)
	case KindArray:
		return json.Marshal(v.Arr)
	default:
		return []byte("null"), nil
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = fromAny(raw)
	return nil
}

func fromAny(raw any) Value {
	switch t := raw.(type) {
	case nil:
		return NullValue()
	case map[string]any:
		if tag, ok := t[refTypeTag]; ok && tag == refTypeVal {
			if id, ok := t["id"].(string); ok {
				return RefValue(OID(id))
			}
		}
		m := make(map[string]Value, len(t))
		for k, v := range t {
			m[k] = fromAny(v)
		}
		return ObjectValue(m)
	case []any:
		arr := make([]Value, len(t))
		for i, v := range t {
			arr[i] = fromAny(v)
		}
		return ArrayValue(arr)
	default:
		return PrimitiveValue(t)
	}
}

// Clone deep-copies a Value so snapshot mutation never aliases a stored
// baseline.
func (v Value) Clone() Value {
	switch v.Kind {
	case KindObject:
		m := make(map[string]Value, len(v.Obj))
		for k, inner := range v.Obj {
			m[k] = inner.Clone()
		}
		return Value{Kind: KindObject, Obj: m}
	case KindArray:
		arr := make([]Value, len(v.Arr))
		for i, inner := range v.Arr {
			arr[i] = inner.Clone()
		}
		return Value{Kind: KindArray, Arr: arr}
	default:
		return v
	}
}
