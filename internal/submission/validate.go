package submission

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ValidationError reports a payload rejected before any external interaction.
type ValidationError struct {
	Field  Field
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// payloadValidate is shared; validator caches struct metadata.
var payloadValidate *validator.Validate

func init() {
	payloadValidate = validator.New(validator.WithRequiredStructEnabled())

	// Report fields by their wire names.
	payloadValidate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = payloadValidate.RegisterValidation("brdate", layoutValidator(DateLayout))
	_ = payloadValidate.RegisterValidation("hhmm", layoutValidator(TimeLayout))
}

func layoutValidator(layout string) validator.Func {
	return func(fl validator.FieldLevel) bool {
		_, err := time.Parse(layout, fl.Field().String())
		return err == nil
	}
}

// Validate checks every field. The first failure is returned as a *ValidationError.
func (p Payload) Validate() error {
	err := payloadValidate.Struct(p)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("validating payload: %w", err)
	}
	first := verrs[0]
	return &ValidationError{Field: Field(first.Field()), Reason: describe(first)}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min", "max":
		return fmt.Sprintf("must be between %d and %d", MinCS, MaxCS)
	case "brdate":
		return fmt.Sprintf("%q is not DD/MM/YYYY", fe.Value())
	case "hhmm":
		return fmt.Sprintf("%q is not HH:MM", fe.Value())
	case "url":
		return fmt.Sprintf("%q is not a valid URL", fe.Value())
	}
	return fmt.Sprintf("failed %q check", fe.Tag())
}
