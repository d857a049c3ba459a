package domain

import "errors"

var (
	// ErrNotFound indicates the requested entity was not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidQuantity is returned for quantities below 1.
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
	// ErrEmptySelection is returned when checkout is requested with nothing selected.
	ErrEmptySelection = errors.New("no items selected")
	// ErrIntentExpired is returned when a checkout hand-off is read after its expiry.
	ErrIntentExpired = errors.New("checkout intent expired")
	// ErrNotAuthenticated is returned when an operation needs a session and there is none.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrSessionExpired is returned when the session could not be refreshed.
	ErrSessionExpired = errors.New("session expired")
	// ErrUnavailable wraps transport-level failures talking to the backend.
	ErrUnavailable = errors.New("backend unavailable")
	// ErrConflict is returned when the backend rejects a mutation (stock, availability).
	ErrConflict = errors.New("conflict")
)
