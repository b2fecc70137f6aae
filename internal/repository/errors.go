package repository

import "errors"

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned when input validation fails
	ErrInvalidInput = errors.New("invalid input")

	// ErrStorage is returned when local persistence itself fails; callers
	// must not assume durability of the attempted write
	ErrStorage = errors.New("storage failure")
)
