package core

import "errors"

// ErrNotFound is returned when a requested object does not exist in storage.
var ErrNotFound = errors.New("not found")

// Sentinel errors for the settlement domain. Each package-level operation
// that can fail in a recognizable way returns one of these (optionally
// wrapped with fmt.Errorf("...: %w", err)) so callers can use errors.Is.
var (
	ErrInvalidRecord       = errors.New("invalid BCE record")
	ErrRecordAlreadyExists = errors.New("record already in pool")
	ErrPoolFull            = errors.New("pending pool full")
	ErrRecordExpired       = errors.New("record timestamp outside acceptance window")
	ErrAlreadySettled      = errors.New("settlement block already settled")
	ErrUnderDispute        = errors.New("settlement block under dispute")
	ErrAlreadyFinalized    = errors.New("settlement block already finalized")
	ErrUnknownOperator     = errors.New("unknown consortium operator")
	ErrInvalidTransition   = errors.New("invalid settlement status transition")
)
