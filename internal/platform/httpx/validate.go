package httpx

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags and reports violations as invalid input.
func Validate(target any) error {
	err := validate.Struct(target)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fieldErr := range fieldErrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", strings.ToLower(fieldErr.Field()), fieldErr.Tag()))
	}
	return fmt.Errorf("%w: %s", shared.ErrInvalidInput, strings.Join(parts, ", "))
}
