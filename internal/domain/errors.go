// Package domain defines the core business entities and errors.
package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when user-supplied fields fail validation.
	// It is always wrapped with the specific field failures.
	ErrValidation = errors.New("validation failed")

	// ErrUnknownEntityType is returned when an entity type or collection name
	// is not one of the known domains.
	ErrUnknownEntityType = errors.New("unknown entity type")
)
