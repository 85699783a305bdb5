package shared

import "errors"

var (
	// ErrValidation indicates missing or malformed input fields.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound indicates a referenced resource does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition indicates a status change not permitted from the current state.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrInsufficientStock indicates a movement would drive a balance negative.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrDuplicateReference indicates a generated reference collided.
	ErrDuplicateReference = errors.New("duplicate reference")
	// ErrForbidden indicates the caller lacks ownership of the resource.
	ErrForbidden = errors.New("forbidden")
)
