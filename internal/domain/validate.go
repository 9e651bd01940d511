package domain

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks struct tags on user-supplied fields.
// Failures are wrapped with ErrValidation.
func Validate(fields any) error {
	if err := validate.Struct(fields); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return nil
}
