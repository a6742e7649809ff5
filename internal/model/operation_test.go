package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperationValidate(t *testing.T) {
	valid := Operation{OID: "docs/1", Timestamp: "ts", Kind: OpSet, Field: "title"}
	require.NoError(t, valid.Validate())

	missingOID := Operation{Timestamp: "ts", Kind: OpSet, Field: "title"}
	assert.ErrorIs(t, missingOID.Validate(), ErrCorruptOperation)

	missingTimestamp := Operation{OID: "docs/1", Kind: OpSet, Field: "title"}
	assert.ErrorIs(t, missingTimestamp.Validate(), ErrCorruptOperation)

	setWithoutField := Operation{OID: "docs/1", Timestamp: "ts", Kind: OpSet}
	assert.ErrorIs(t, setWithoutField.Validate(), ErrCorruptOperation)

	unknownKind := Operation{OID: "docs/1", Timestamp: "ts", Kind: "bogus"}
	assert.ErrorIs(t, unknownKind.Validate(), ErrCorruptOperation)

	listInsert := Operation{OID: "docs/1", Timestamp: "ts", Kind: OpListInsert}
	require.NoError(t, listInsert.Validate())
}

func TestOperationEffectKey(t *testing.T) {
	set := Operation{Kind: OpSet, Field: "title"}
	key, supersedable := set.EffectKey()
	assert.Equal(t, "title", key)
	assert.True(t, supersedable)

	del := Operation{Kind: OpDelete, Field: "title"}
	key, supersedable = del.EffectKey()
	assert.Equal(t, "title", key)
	assert.True(t, supersedable)

	init := Operation{Kind: OpInitialize}
	_, supersedable = init.EffectKey()
	assert.True(t, supersedable)

	listInsert := Operation{Kind: OpListInsert}
	_, supersedable = listInsert.EffectKey()
	assert.False(t, supersedable)
}
