package repository

import "errors"

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrConflict is returned when an update was based on a stale version.
	ErrConflict = errors.New("concurrent modification")

	// ErrDuplicate is returned when a unique key is already taken.
	ErrDuplicate = errors.New("entity already exists")
)
