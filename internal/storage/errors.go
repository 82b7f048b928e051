package storage

import "errors"

// Storage errors shared by all store implementations.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientHoldings is returned when a holding decrement would make
	// the amount negative, or when there is no holding to decrement.
	ErrInsufficientHoldings = errors.New("insufficient holdings")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrOutOfRange is returned when a value does not fit the numeric columns.
	ErrOutOfRange = errors.New("numeric value out of range")
)
