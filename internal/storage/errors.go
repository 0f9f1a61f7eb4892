package storage

import "errors"

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when inserting into an append-only
	// store with a key that already exists.
	ErrDuplicateKey = errors.New("duplicate key")
)
