package sysmgr

import "errors"

// Status codes shared by the manager and its collaborators. Callers classify
// failures with errors.Is; implementations wrap these with context.
var (
	ErrGeneric          = errors.New("sysmgr: failure")
	ErrInvalidParameter = errors.New("sysmgr: invalid parameter")
	ErrNotInitialized   = errors.New("sysmgr: not initialized")
	ErrTimeout          = errors.New("sysmgr: timeout")
	ErrBusy             = errors.New("sysmgr: busy")
	ErrNotSupported     = errors.New("sysmgr: not supported")
	ErrNotFound         = errors.New("sysmgr: not found")
)
