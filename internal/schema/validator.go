// Package schema validates events before they leave the service.
package schema

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

// ErrInvalidEvent is wrapped by every validation failure.
var ErrInvalidEvent = errors.New("invalid event")

// Validator checks event structs against their `validate` tags.
type Validator struct {
	v *validator.Validate
}

// New returns a Validator.
func New() *Validator {
	return &Validator{v: validator.New(validator.WithRequiredStructEnabled())}
}

// Validate returns an error wrapping ErrInvalidEvent listing every failed field.
// Non-struct values (maps, raw payloads) are accepted as-is.
func (v *Validator) Validate(event any) error {
	err := v.v.Struct(event)
	if err == nil {
		return nil
	}

	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		return nil
	}

	var fields validator.ValidationErrors
	if !errors.As(err, &fields) {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	failed := make([]string, 0, len(fields))
	for _, fe := range fields {
		failed = append(failed, fmt.Sprintf("%s(%s)", fe.Namespace(), fe.Tag()))
	}
	log.Debug().Strs("fields", failed).Msg("schema validation failed")
	return fmt.Errorf("%w: %s", ErrInvalidEvent, strings.Join(failed, ", "))
}
