package store

import "errors"

var (
	// ErrNotFound is returned by any lookup that finds nothing.
	ErrNotFound = errors.New("store: not found")

	// ErrAlreadyExists is returned by a create call whose unique key
	// collides with an existing row.
	ErrAlreadyExists = errors.New("store: already exists")

	// ErrConflict is returned when an optimistic update loses a race,
	// e.g. a second authorization-code exchange arriving after the first
	// already consumed it.
	ErrConflict = errors.New("store: conflict")
)
