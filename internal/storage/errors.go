package storage

import "errors"

var (
	// ErrNotFound is returned when no file exists at (category, name).
	ErrNotFound = errors.New("file not found")

	// ErrInvalidName is returned for names that are not a single safe path element.
	ErrInvalidName = errors.New("invalid stored name")

	// ErrInvalidCategory is returned for unknown categories.
	ErrInvalidCategory = errors.New("invalid category")

	// ErrNameExhausted is returned when every generated name collided.
	ErrNameExhausted = errors.New("could not allocate a unique stored name")

	// ErrWrite is returned when bytes could not be persisted.
	ErrWrite = errors.New("failed to write file")
)
