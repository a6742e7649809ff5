package model

import "errors"

// Sentinel errors surfaced across the authority and replica engine. Handlers
// check these with errors.Is rather than matching on message text.
var (
	ErrForbidden         = errors.New("collabtext: write forbidden for read-only replica")
	ErrReplicaOwnership  = errors.New("collabtext: replica id belongs to another user")
	ErrSchemaMismatch    = errors.New("collabtext: replica schema version does not match library")
	ErrCorruptOperation  = errors.New("collabtext: malformed operation dropped")
	ErrCycle             = errors.New("collabtext: reference cycle detected during materialization")
	ErrGlobalAckUnknown  = errors.New("collabtext: global ack undefined, no qualifying replica has acknowledged")
	ErrNoBaselineForRebase = errors.New("collabtext: rebase attempted on oid with no prior baseline or operations")
)
