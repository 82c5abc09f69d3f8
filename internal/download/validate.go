package download

import (
	"path/filepath"
	"reflect"
	"strings"

	"github.com/elsbrock/gamedl/internal/errdefs"
	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("abspath", func(fl validator.FieldLevel) bool {
		return filepath.IsAbs(fl.Field().String())
	})
	_ = v.RegisterValidation("basename", validateBaseName)
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateBaseName accepts empty strings and single path elements.
func validateBaseName(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" {
		return true
	}
	return s != "." && s != ".." && !strings.ContainsAny(s, `/\`)
}

// Validate checks that the target can be started.
func (t Target) Validate() error {
	if err := validate.Struct(t); err != nil {
		return errdefs.NewInvalidError(t.ID, err)
	}
	return nil
}
