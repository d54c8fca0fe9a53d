package sentinel

import "errors"

// Sentinel errors for infrastructure and state-machine facts. Stores, the
// directory gateway, and the orchestrator return these (optionally wrapped)
// so callers can classify with errors.Is and translate at the boundary.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: aggregate does not exist (or is not visible to the caller)
// - ErrConflict: concurrent update lost the version race
// - ErrInvalidState: transition requested from a state outside the handler's source set
// - ErrMissingData: required field absent (e.g. key without an active claim)
// - ErrUnavailable: directory or resource temporarily unreachable
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrMissingData  = errors.New("missing required data")
	ErrUnavailable  = errors.New("unavailable")
)
