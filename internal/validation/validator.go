// Package validation checks request structs with go-playground/validator and
// reports failures as VALIDATION domain errors keyed by JSON field name.
package validation

import (
	"errors"
	"reflect"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	domainerrors "github.com/shelfnotes/shelfnotes-server/internal/errors"
	"github.com/shelfnotes/shelfnotes-server/internal/genre"
)

// Validator validates values and converts failures to domain errors.
type Validator struct {
	v *validator.Validate
}

// New returns a Validator with the "genre" tag registered.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(jsonName)

	//nolint:errcheck // only fails on an empty tag
	_ = v.RegisterValidation("genre", func(fl validator.FieldLevel) bool {
		_, ok := genre.Lookup(fl.Field().String())
		return ok
	})

	return &Validator{v: v}
}

func jsonName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "" || name == "-" {
		return f.Name
	}
	return name
}

// Validate checks s. Every failing field appears in the error details; the
// message lists them in field order.
func (v *Validator) Validate(s any) error {
	return v.convert(v.v.Struct(s), "")
}

// Var checks one value against tag, reporting it as field.
func (v *Validator) Var(field string, value any, tag string) error {
	return v.convert(v.v.Var(value, tag), field)
}

// convert maps validator errors to a domain error. fieldName stands in for
// the empty field name validator reports for Var.
func (v *Validator) convert(err error, fieldName string) error {
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err
	}

	details := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		name := fe.Field()
		if name == "" {
			name = fieldName
		}
		details[name] = describe(fe)
	}

	names := make([]string, 0, len(details))
	for name := range details {
		names = append(names, name)
	}
	slices.Sort(names)

	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + " " + details[name]
	}
	return domainerrors.ValidationWithDetails(strings.Join(parts, "; "), details)
}

var messages = map[string]func(param string) string{
	"required":        func(string) string { return "is required" },
	"email":           func(string) string { return "must be a valid email address" },
	"url":             func(string) string { return "must be a valid URL" },
	"alphanumunicode": func(string) string { return "must contain only letters and digits" },
	"genre":           func(string) string { return "must be a known genre" },
	"min":             func(p string) string { return "must be at least " + p + " characters" },
	"max":             func(p string) string { return "must not exceed " + p + " characters" },
	"len":             func(p string) string { return "must be exactly " + p + " characters" },
	"oneof":           func(p string) string { return "must be one of: " + p },
	"gte":             func(p string) string { return "must be greater than or equal to " + p },
	"lte":             func(p string) string { return "must be less than or equal to " + p },
	"gt":              func(p string) string { return "must be greater than " + p },
	"lt":              func(p string) string { return "must be less than " + p },
}

func describe(fe validator.FieldError) string {
	if msg, ok := messages[fe.Tag()]; ok {
		return msg(fe.Param())
	}
	return "is invalid"
}
