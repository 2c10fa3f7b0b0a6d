package models

import "errors"

var (
	// ErrNotFound is returned when a stock, portfolio, user or event does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation marks input rejected at the boundary.
	ErrValidation = errors.New("validation failed")
	// ErrAlreadyExists is returned when a unique stock or user field is taken.
	ErrAlreadyExists = errors.New("already exists")
	// ErrDuplicateOperation is returned when a position event's operation id was already recorded.
	ErrDuplicateOperation = errors.New("operation already recorded")
)
