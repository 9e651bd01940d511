package remote

import "errors"

// Errors adapters must map their failures onto. Any other error is treated
// as transient by the sync pusher.
var (
	// ErrNotFound is returned when updating or deleting a document that does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrPermissionDenied is returned when the store refuses the write outright.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrInvalidDocument is returned when the store rejects the document body.
	ErrInvalidDocument = errors.New("invalid document")

	// ErrUnavailable is returned when the store cannot be reached.
	ErrUnavailable = errors.New("remote store unavailable")
)
