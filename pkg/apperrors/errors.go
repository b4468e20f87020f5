package apperrors

import "errors"

var (
	// ErrNotFound indicates an unknown factory, line, or machine identifier.
	ErrNotFound = errors.New("not found")

	// ErrDependency indicates an external store call failed.
	ErrDependency = errors.New("dependency failure")
)
