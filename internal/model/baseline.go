package model

// Baseline is a compacted snapshot of a single object reflecting every
// operation on that OID with timestamp <= Timestamp. At most one Baseline
// exists per OID at any moment, and every operation still in the
// OperationLog for this OID has a strictly greater timestamp.
type Baseline struct {
	OID       OID
	Snapshot  Value
	Timestamp HLC
}
