package model

// HLC is a Hybrid Logical Clock timestamp: a totally-ordered,
// string-comparable, monotonically increasing string embedding
// (wall-time, logical counter, replicaId). See internal/hlc for the
// generator; this package only needs the comparable string type so that
// model has no dependency on clock generation.
type HLC string

// Less reports whether h sorts strictly before other under HLC order.
func (h HLC) Less(other HLC) bool { return h < other }

// LessEq reports whether h sorts at or before other under HLC order.
func (h HLC) LessEq(other HLC) bool { return h <= other }

// Zero reports whether h is the unset timestamp (used for "never
// acknowledged" / "no baseline yet").
func (h HLC) Zero() bool { return h == "" }

// MaxHLC returns the greater of a and b.
func MaxHLC(a, b HLC) HLC {
	if a.Less(b) {
		return b
	}
	return a
}
