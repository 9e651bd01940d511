package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/hearth/internal/api/shared"
	"github.com/phrazzld/hearth/internal/domain"
	"github.com/phrazzld/hearth/internal/store"
)

// Request errors raised by the handlers themselves.
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrInvalidID      = errors.New("invalid id")
)

// notFoundMessages lists the entity-specific not-found errors, most
// specific first.
var notFoundMessages = []struct {
	err     error
	message string
}{
	{store.ErrTaskNotFound, "Task not found"},
	{store.ErrGoalNotFound, "Goal not found"},
	{store.ErrPenaltyNotFound, "Penalty not found"},
	{store.ErrAchievementNotFound, "Achievement not found"},
}

// MapErrorToStatusCode maps a command or request error to its HTTP status.
// Anything unrecognized is a 500 so internal error types never leak.
func MapErrorToStatusCode(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrInvalidID):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// GetSafeErrorMessage returns a client-facing message for err that carries
// no internal detail.
func GetSafeErrorMessage(err error) string {
	for _, nf := range notFoundMessages {
		if errors.Is(err, nf.err) {
			return nf.message
		}
	}

	var tooLarge *http.MaxBytesError
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		return "Not found"
	case errors.Is(err, store.ErrDuplicate):
		return "Already exists"
	case errors.Is(err, domain.ErrValidation):
		return SanitizeValidationError(err)
	case errors.Is(err, ErrInvalidID):
		return "Invalid id"
	case errors.As(err, &tooLarge):
		return fmt.Sprintf("Request body exceeds %d bytes", tooLarge.Limit)
	case errors.Is(err, ErrInvalidRequest):
		return "Invalid request format"
	}
	return "An unexpected error occurred"
}

// HandleAPIError writes the status and safe message for err, logging the
// redacted details. A non-empty message overrides the safe message.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, message string) {
	if message == "" {
		message = GetSafeErrorMessage(err)
	}
	shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), message, err)
}

// SanitizeValidationError describes the first failed field of a validation
// error, e.g. "Invalid Title: required field". Only the Go field name and a
// fixed phrase for the tag reach the client, never the rejected value.
func SanitizeValidationError(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return "Validation error"
	}
	fe := fieldErrs[0]
	return fmt.Sprintf("Invalid %s: %s", fe.Field(), validationTagMessage(fe.Tag()))
}

func validationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "min", "gte", "gt":
		return "too small"
	case "max", "lte", "lt":
		return "too large"
	case "oneof":
		return "invalid value"
	case "uuid4", "uuid":
		return "malformed id"
	}
	return "validation failed"
}
