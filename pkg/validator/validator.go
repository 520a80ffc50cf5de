// Package validator checks request DTOs with go-playground tags plus the
// service's own rules for filter names, registration IDs and header names.
package validator

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/openctemio/webhooks/pkg/domain/shared"
	"github.com/openctemio/webhooks/pkg/domain/webhook"
)

// MaxFilterNameLength bounds a single filter name in requests.
const MaxFilterNameLength = 128

type Validator struct {
	validate *validator.Validate
}

// ValidationError is one failing field, named as the client sent it.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	parts := make([]string, len(v))
	for i, e := range v {
		parts[i] = e.Field + ": " + e.Message
	}
	return strings.Join(parts, "; ")
}

// Unwrap yields the domain form so errors.Is(err, shared.ErrValidation) holds.
func (v ValidationErrors) Unwrap() error {
	ve := &shared.ValidationError{}
	for _, e := range v {
		ve.Add(e.Field, e.Message)
	}
	return ve
}

func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(wireName)

	custom := map[string]validator.Func{
		"filter_name":     validateFilterName,
		"registration_id": validateRegistrationID,
		"header_name":     validateHeaderName,
		"delivery_status": validateDeliveryStatus,
	}
	for tag, fn := range custom {
		if err := v.RegisterValidation(tag, fn); err != nil {
			panic(fmt.Sprintf("register %s: %v", tag, err))
		}
	}
	return &Validator{validate: v}
}

// Validate returns ValidationErrors for tag failures and any other error
// (such as a non-struct argument) unchanged.
func (v *Validator) Validate(s any) error {
	err := v.validate.Struct(s)
	var fails validator.ValidationErrors
	if !errors.As(err, &fails) {
		return err
	}
	out := make(ValidationErrors, len(fails))
	for i, f := range fails {
		out[i] = ValidationError{Field: fieldPath(f), Message: message(f)}
	}
	return out
}

// wireName reports a field by its JSON name, or its snake_case Go name when
// it has none.
func wireName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	switch name {
	case "-":
		return ""
	case "":
		return toSnakeCase(f.Name)
	}
	return name
}

// fieldPath drops the struct name from the namespace, keeping positions such
// as filters[2] or headers[X-Team].
func fieldPath(f validator.FieldError) string {
	_, path, found := strings.Cut(f.Namespace(), ".")
	if !found {
		return f.Field()
	}
	return path
}

var messages = map[string]string{
	"required":        "is required",
	"url":             "must be a valid URL",
	"registration_id": "may contain only letters, digits, '-', '_' and '.'",
	"header_name":     "must be a valid HTTP header name",
	"delivery_status": "must be one of: delivered, failed, rejected, cancelled",
	"filter_name": fmt.Sprintf(
		"must be printable text of at most %d characters without surrounding spaces", MaxFilterNameLength),
}

func message(f validator.FieldError) string {
	if m, ok := messages[f.Tag()]; ok {
		return m
	}
	unit := "characters"
	if k := f.Kind(); k == reflect.Slice || k == reflect.Map {
		unit = "items"
	}
	switch f.Tag() {
	case "min":
		return fmt.Sprintf("must have at least %s %s", f.Param(), unit)
	case "max":
		return fmt.Sprintf("must have at most %s %s", f.Param(), unit)
	case "gte":
		return "must be at least " + f.Param()
	case "lte":
		return "must be at most " + f.Param()
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(f.Param(), " ", ", ")
	}
	return fmt.Sprintf("failed %q check", f.Tag())
}

// Empty values pass the custom checks below; 'required' owns that case.

func validateFilterName(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" {
		return true
	}
	if len(s) > MaxFilterNameLength || !utf8.ValidString(s) || strings.TrimSpace(s) != s {
		return false
	}
	return strings.IndexFunc(s, func(r rune) bool { return !unicode.IsPrint(r) }) < 0
}

func validateRegistrationID(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	return s == "" || shared.ValidateID(s) == nil
}

// validateHeaderName requires an RFC 7230 token.
func validateHeaderName(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" {
		return false
	}
	for i := range len(s) {
		if !isTokenChar(s[i]) {
			return false
		}
	}
	return http.CanonicalHeaderKey(s) != ""
}

func isTokenChar(c byte) bool {
	if c >= utf8.RuneSelf {
		return false
	}
	if unicode.IsLetter(rune(c)) || unicode.IsDigit(rune(c)) {
		return true
	}
	return strings.IndexByte("!#$%&'*+-.^_`|~", c) >= 0
}

func validateDeliveryStatus(fl validator.FieldLevel) bool {
	switch webhook.DeliveryStatus(fl.Field().String()) {
	case "", webhook.DeliveryDelivered, webhook.DeliveryFailed, webhook.DeliveryRejected, webhook.DeliveryCancelled:
		return true
	}
	return false
}

// toSnakeCase splits before an upper-case letter that follows a lower-case
// one, so acronyms stay together: CallbackURI -> callback_uri.
func toSnakeCase(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i, r := range s {
		if i > 0 && unicode.IsUpper(r) && !unicode.IsUpper(rune(s[i-1])) {
			b.WriteByte('_')
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
