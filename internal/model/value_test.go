package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueMarshalPrimitive(t *testing.T) {
	v := PrimitiveValue("hello")
	b, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `"hello"`, string(b))
}

func TestValueMarshalRef(t *testing.T) {
	v := RefValue(OID("docs/abc123"))
	b, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"@@type":"ref","id":"docs/abc123"}`, string(b))
}

func TestValueMarshalObjectAndArray(t *testing.T) {
	obj := ObjectValue(map[string]Value{"title": PrimitiveValue("hi")})
	b, err := json.Marshal(obj)
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"hi"}`, string(b))

	arr := ArrayValue([]Value{PrimitiveValue(float64(1)), PrimitiveValue(float64(2))})
	b, err = json.Marshal(arr)
	require.NoError(t, err)
	assert.JSONEq(t, `[1,2]`, string(b))
}

func TestValueUnmarshalRoundTrip(t *testing.T) {
	raw := `{"title":"doc","tags":["a","b"],"owner":{"@@type":"ref","id":"users/1"}}`
	var v Value
	require.NoError(t, json.Unmarshal([]byte(raw), &v))

	require.Equal(t, KindObject, v.Kind)
	assert.Equal(t, "doc", v.Obj["title"].Prim)
	require.Equal(t, KindArray, v.Obj["tags"].Kind)
	assert.Equal(t, OID("users/1"), v.Obj["owner"].Ref)

	out, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(out))
}

func TestValueUnmarshalNull(t *testing.T) {
	var v Value
	require.NoError(t, json.Unmarshal([]byte(`null`), &v))
	assert.Equal(t, KindNull, v.Kind)
}

func TestValueCloneDeepCopies(t *testing.T) {
	inner := ObjectValue(map[string]Value{"n": PrimitiveValue(float64(1))})
	orig := ObjectValue(map[string]Value{"child": inner})
	clone := orig.Clone()

	clone.Obj["child"].Obj["n"] = PrimitiveValue(float64(99))
	assert.Equal(t, float64(1), orig.Obj["child"].Obj["n"].Prim, "mutating the clone must not affect the original")
}

func TestHLCOrderingHelpers(t *testing.T) {
	a := HLC("00000000000000001000-0000000000-r1")
	b := HLC("00000000000000002000-0000000000-r1")
	assert.True(t, a.Less(b))
	assert.True(t, a.LessEq(b))
	assert.True(t, a.LessEq(a))
	assert.False(t, b.Less(a))
	assert.True(t, HLC("").Zero())
	assert.False(t, a.Zero())
	assert.Equal(t, b, MaxHLC(a, b))
	assert.Equal(t, b, MaxHLC(b, a))
}
