package authority

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/collabtext/sync/internal/model"
)

func opAt(ts string) model.Operation {
	return model.Operation{OID: "docs/1", Timestamp: model.HLC(ts), Kind: model.OpSet, Field: "x"}
}

func TestContiguousPrefixAllBelow(t *testing.T) {
	ops := []model.Operation{opAt("t1"), opAt("t2"), opAt("t3")}
	prefix := contiguousPrefix(ops, "t5")
	assert.Len(t, prefix, 3)
}

func TestContiguousPrefixStopsAtFirstNonLess(t *testing.T) {
	ops := []model.Operation{opAt("t1"), opAt("t5"), opAt("t6")}
	prefix := contiguousPrefix(ops, "t5")
	assert.Len(t, prefix, 1)
	assert.Equal(t, model.HLC("t1"), prefix[0].Timestamp)
}

func TestContiguousPrefixEmptyWhenFirstNotLess(t *testing.T) {
	ops := []model.Operation{opAt("t9")}
	prefix := contiguousPrefix(ops, "t5")
	assert.Empty(t, prefix)
}
