package domain

import "errors"

// Error taxonomy for the realtime core. Handlers map these onto outbound
// error events; anything unrecognized is treated as internal.
var (
	// ErrAuthFailure is terminal for the connection attempt.
	ErrAuthFailure = errors.New("authentication failure")

	// ErrNotAuthenticated rejects an operation attempted before connect
	// succeeded. The connection stays open.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrPermissionDenied rejects a room operation the user may not perform.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrValidation rejects a malformed or oversized payload with no side effects.
	ErrValidation = errors.New("validation error")

	// ErrRateLimited rejects an event over the admission limit.
	ErrRateLimited = errors.New("rate limited")

	// ErrTransientStore marks shared-store unavailability. Components with a
	// defined fallback degrade; everything else surfaces ErrInternal.
	ErrTransientStore = errors.New("transient store error")

	// ErrNotFound reports a missing record (connection, room, message).
	ErrNotFound = errors.New("not found")

	// ErrInternal is the catch-all surfaced to clients as server_error.
	ErrInternal = errors.New("internal error")
)

// Error codes carried in outbound error events.
const (
	ErrCodeAuthFailed       = "AUTH_FAILED"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodePermissionDenied = "PERMISSION_DENIED"
	ErrCodeBadRequest       = "BAD_REQUEST"
	ErrCodeNotInRoom        = "NOT_IN_ROOM"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeInternalError    = "INTERNAL_ERROR"
)

// CodeForError maps a taxonomy error to its outbound error code.
func CodeForError(err error) string {
	switch {
	case errors.Is(err, ErrAuthFailure):
		return ErrCodeAuthFailed
	case errors.Is(err, ErrNotAuthenticated):
		return ErrCodeUnauthorized
	case errors.Is(err, ErrPermissionDenied):
		return ErrCodePermissionDenied
	case errors.Is(err, ErrValidation):
		return ErrCodeBadRequest
	case errors.Is(err, ErrRateLimited):
		return ErrCodeRateLimited
	default:
		return ErrCodeInternalError
	}
}
