package risk

import (
	"errors"
	"fmt"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"

	"github.com/toremeling86-cell/crypto-trader/models"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// ApplyDefaults fills unset strategy fields from their default tags
func ApplyDefaults(s *models.Strategy) error {
	if err := defaults.Set(s); err != nil {
		return fmt.Errorf("apply strategy defaults: %w", err)
	}
	return nil
}

// ValidateStrategy enforces the bounds a strategy must satisfy before it may run
func ValidateStrategy(s *models.Strategy) error {
	if s == nil {
		return fmt.Errorf("%w: nil strategy", ErrInvalidParameter)
	}

	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return fmt.Errorf("validate strategy %q: %w", s.ID, err)
	}

	msgs := make([]string, 0, len(validationErrors))
	for _, fe := range validationErrors {
		msgs = append(msgs, fieldMessage(fe))
	}
	return fmt.Errorf("%w: strategy %q: %s", ErrInvalidParameter, s.ID, strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "required_if":
		cond := strings.Fields(fe.Param())
		if len(cond) == 2 {
			return fmt.Sprintf("%s is required when %s is %s", field, cond[0], cond[1])
		}
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must have at least %s entries", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed validation: %s", field, fe.Tag())
	}
}
