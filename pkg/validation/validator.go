// Package validation holds the request rules shared by the HTTP layer.
package validation

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/Aidin1998/lotmarket/pkg/errors"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
)

// MaxIdentifierLength bounds identities and asset ids.
const MaxIdentifierLength = 128

var sanitizer = bluemonday.StrictPolicy()

// ValidIdentifier reports whether s may name an identity or an asset: non
// empty, bounded, free of whitespace and control characters, and unchanged by
// a strict HTML sanitizer.
func ValidIdentifier(s string) bool {
	if s == "" || len(s) > MaxIdentifierLength {
		return false
	}
	for _, r := range s {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return false
		}
	}
	return sanitizer.Sanitize(s) == s
}

func identifier(fl validator.FieldLevel) bool {
	return ValidIdentifier(fl.Field().String())
}

// Register adds the "identifier" tag to v.
func Register(v *validator.Validate) error {
	return v.RegisterValidation("identifier", identifier)
}

// RegisterGin adds the custom tags to gin's binding validator.
func RegisterGin() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return fmt.Errorf("unexpected gin validator engine %T", binding.Validator.Engine())
	}
	return Register(v)
}

// Describe turns binding failures into per-field problem entries. Other
// errors yield nil.
func Describe(err error) []errors.ValidationError {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return nil
	}
	out := make([]errors.ValidationError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, errors.ValidationError{
			Field:   strings.ToLower(fe.Field()),
			Message: message(fe),
			Code:    fe.Tag(),
		})
	}
	return out
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "identifier":
		return fmt.Sprintf("%s must be plain text without spaces, at most %d bytes", fe.Field(), MaxIdentifierLength)
	case "lte":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}
