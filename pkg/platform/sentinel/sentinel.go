package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Restriction stores and other
// infrastructure layers return these (optionally wrapped) so the core can
// tell a malformed record from an unreachable backend:
// - ErrNotFound: record does not exist in the store
// - ErrMalformed: stored record could not be decoded and was skipped
// - ErrUnavailable: backend temporarily unreachable (network, disk)
// - ErrInvalidState: operation does not apply to the record's current state
var (
	ErrNotFound     = errors.New("not found")
	ErrMalformed    = errors.New("malformed record")
	ErrUnavailable  = errors.New("unavailable")
	ErrInvalidState = errors.New("invalid state")
)
