package domain

import "errors"

// Failure taxonomy shared by the broker pipeline and the HTTP layer.
// Handlers map these to statuses; raw causes stay in the server log.
var (
	ErrAuthentication  = errors.New("authentication required")
	ErrOrigin          = errors.New("origin not allowed")
	ErrMethod          = errors.New("method not allowed")
	ErrValidation      = errors.New("invalid input")
	ErrRateLimited     = errors.New("too many requests")
	ErrProvider        = errors.New("media provider unavailable")
	ErrMediaPermission = errors.New("media permission denied")
	ErrConnection      = errors.New("room connection failed")
)
