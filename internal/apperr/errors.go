package apperr

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrForbidden      = errors.New("forbidden")
	ErrInvalidGrantee = errors.New("invalid grantee address")
	ErrNoSession      = errors.New("no active session")
	ErrMirrorDisabled = errors.New("chain mirror disabled")
)
