package db

import "errors"

// Sentinel errors returned by resolver functions. Handlers map these to
// the public error envelope.
var (
	// ErrNotFound means the form or submission does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDeleted means the target form exists but is soft-deleted; new
	// submissions are rejected.
	ErrDeleted = errors.New("form deleted")
)
