package validator

import (
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

var propertyKey = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_.-]*$`)

// PropertyLimits bounds the free-form metadata attached to a registration.
// The values are opaque to the service but are echoed in every listing.
type PropertyLimits struct {
	MaxEntries   int // keys per object and items per array
	MaxKeyLen    int
	MaxStringLen int
	MaxDepth     int
}

var DefaultPropertyLimits = PropertyLimits{
	MaxEntries:   50,
	MaxKeyLen:    100,
	MaxStringLen: 4096,
	MaxDepth:     4,
}

type PropertiesValidator struct {
	limits PropertyLimits
}

func NewPropertiesValidator() *PropertiesValidator {
	return &PropertiesValidator{limits: DefaultPropertyLimits}
}

// PropertyError locates one problem by a dotted path such as
// properties.owner.tags[3].
type PropertyError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

type PropertyErrors []PropertyError

func (e PropertyErrors) Error() string {
	parts := make([]string, len(e))
	for i, pe := range e {
		parts[i] = pe.Path + ": " + pe.Message
	}
	return strings.Join(parts, "; ")
}

// ToValidationErrors converts property errors for API responses.
func (e PropertyErrors) ToValidationErrors() ValidationErrors {
	out := make(ValidationErrors, len(e))
	for i, pe := range e {
		out[i] = ValidationError{Field: pe.Path, Message: pe.Message}
	}
	return out
}

// ValidateProperties returns nil when properties is within limits. Keys are
// visited in sorted order so errors come back deterministically.
func (v *PropertiesValidator) ValidateProperties(properties map[string]any) PropertyErrors {
	w := propertyWalker{limits: v.limits}
	w.object("properties", properties, 1, true)
	return w.errs
}

type propertyWalker struct {
	limits PropertyLimits
	errs   PropertyErrors
}

func (w *propertyWalker) fail(path, format string, args ...any) {
	w.errs = append(w.errs, PropertyError{Path: path, Message: fmt.Sprintf(format, args...)})
}

// object checks the entries of m, whose values sit at depth. strictKeys
// applies the key syntax rule, which only top-level keys carry.
func (w *propertyWalker) object(path string, m map[string]any, depth int, strictKeys bool) {
	if len(m) > w.limits.MaxEntries {
		w.fail(path, "exceeds maximum of %d entries", w.limits.MaxEntries)
	}
	for _, k := range slices.Sorted(maps.Keys(m)) {
		p := path + "." + k
		if len(k) > w.limits.MaxKeyLen {
			w.fail(p, "key exceeds maximum length of %d", w.limits.MaxKeyLen)
		}
		if strictKeys && !propertyKey.MatchString(k) {
			w.fail(p, "key must start with a letter and contain only letters, digits, '_', '.' or '-'")
		}
		w.value(p, m[k], depth)
	}
}

// value checks val found at depth; top-level values sit at depth 1.
func (w *propertyWalker) value(path string, val any, depth int) {
	if depth > w.limits.MaxDepth {
		w.fail(path, "nesting exceeds %d levels", w.limits.MaxDepth)
		return
	}
	switch t := val.(type) {
	case string:
		if len(t) > w.limits.MaxStringLen {
			w.fail(path, "exceeds maximum length of %d", w.limits.MaxStringLen)
		}
	case map[string]any:
		w.object(path, t, depth+1, false)
	case []any:
		if len(t) > w.limits.MaxEntries {
			w.fail(path, "exceeds maximum of %d entries", w.limits.MaxEntries)
		}
		for i, item := range t {
			w.value(path+"["+strconv.Itoa(i)+"]", item, depth+1)
		}
	}
}
