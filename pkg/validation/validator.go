// Package validation holds the shared validator instance used by constructors
// across the dispatch core. Invalid input fails fast at construction time with
// an error wrapping ErrInvalidArgument.
package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidArgument marks precondition violations.
var ErrInvalidArgument = errors.New("invalid argument")

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	// ident: non-blank, no surrounding whitespace. Ids are case-sensitive and
	// otherwise opaque.
	validate.RegisterValidation("ident", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return s != "" && strings.TrimSpace(s) == s
	})
}

// Struct validates v using its `validate` struct tags.
func Struct(v any) error {
	if v == nil {
		return fmt.Errorf("%w: nil value", ErrInvalidArgument)
	}
	if err := validate.Struct(v); err != nil {
		return formatValidationError(err)
	}
	return nil
}

// Var validates a single value against a tag expression, naming it field in
// the resulting error.
func Var(field string, value any, tag string) error {
	if err := validate.Var(value, tag); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: %s: %s", ErrInvalidArgument, field, describe(verrs[0]))
		}
		return fmt.Errorf("%w: %s: %v", ErrInvalidArgument, field, err)
	}
	return nil
}

// Identifier checks that id is usable as a node, train or route identity.
func Identifier(field, id string) error {
	return Var(field, id, "ident")
}

// formatValidationError converts validator errors to a more user-friendly format
func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: %s", e.Namespace(), describe(e)))
	}
	return fmt.Errorf("%w: %s", ErrInvalidArgument, strings.Join(msgs, "; "))
}

func describe(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "field is required"
	case "ident":
		return "must be a non-blank identifier without surrounding whitespace"
	case "min", "gte":
		return "must be at least " + e.Param()
	case "max", "lte":
		return "must not exceed " + e.Param()
	case "gt":
		return "must be greater than " + e.Param()
	case "oneof":
		return "must be one of [" + e.Param() + "]"
	case "dive":
		return "invalid element"
	default:
		return fmt.Sprintf("validation failed (%s)", e.Tag())
	}
}
