package webhook

import (
	"context"
	"slices"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// WildcardFilter matches every action.
const WildcardFilter = "*"

// Filter is a named event a registration can subscribe to.
type Filter struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
}

// FilterProvider enumerates the filters a subsystem can fire.
type FilterProvider interface {
	Filters(ctx context.Context) ([]Filter, error)
}

// FilterProviderFunc adapts a function to FilterProvider.
type FilterProviderFunc func(ctx context.Context) ([]Filter, error)

// Filters implements FilterProvider.
func (f FilterProviderFunc) Filters(ctx context.Context) ([]Filter, error) {
	return f(ctx)
}

// NormalizeFilterName trims whitespace and converts to Unicode NFC so that
// visually identical names compare equal. Case is preserved.
func NormalizeFilterName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

// NormalizeFilters returns a sorted, deduplicated set of non-empty names.
func NormalizeFilters(filters []string) []string {
	out := make([]string, 0, len(filters))
	for _, f := range filters {
		if n := NormalizeFilterName(f); n != "" {
			out = append(out, n)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
