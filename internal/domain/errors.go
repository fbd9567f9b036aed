package domain

import "errors"

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")

	// ErrDuplicateEvent marks an enqueue for a payment that already has attempts.
	ErrDuplicateEvent = errors.New("duplicate event")

	// ErrMissingContact marks a channel whose destination (phone or email) is absent.
	ErrMissingContact = errors.New("missing contact")
)
