package app

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/openctemio/webhooks/pkg/domain/webhook"
	"github.com/openctemio/webhooks/pkg/logger"
)

// WildcardDescription describes the implicit "*" filter.
const WildcardDescription = "Receive all actions"

// FilterCatalog merges the filters of every provider into one set of valid
// names. The wildcard is always present.
type FilterCatalog struct {
	providers []webhook.FilterProvider
	logger    *logger.Logger

	mu      sync.RWMutex
	filters map[string]webhook.Filter
}

// NewFilterCatalog calls each provider once and merges the results. A failing
// provider aborts construction.
func NewFilterCatalog(ctx context.Context, providers []webhook.FilterProvider, log *logger.Logger) (*FilterCatalog, error) {
	c := &FilterCatalog{
		providers: providers,
		logger:    log.With("service", "filter_catalog"),
	}
	filters, err := c.collect(ctx)
	if err != nil {
		return nil, err
	}
	c.filters = filters
	c.logger.Info("filter catalog built", "providers", len(providers), "filters", len(filters))
	return c, nil
}

// Rebuild re-reads every provider. On failure the previous set stays active.
func (c *FilterCatalog) Rebuild(ctx context.Context) error {
	filters, err := c.collect(ctx)
	if err != nil {
		c.logger.Error("filter catalog rebuild failed, keeping previous set", "error", err)
		return err
	}
	c.mu.Lock()
	c.filters = filters
	c.mu.Unlock()
	c.logger.Info("filter catalog rebuilt", "filters", len(filters))
	return nil
}

// GetAllFilters returns name to description, including the wildcard.
func (c *FilterCatalog) GetAllFilters() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]string, len(c.filters))
	for name, f := range c.filters {
		out[name] = f.Description
	}
	return out
}

// List returns the filters sorted by name.
func (c *FilterCatalog) List() []webhook.Filter {
	c.mu.RLock()
	out := make([]webhook.Filter, 0, len(c.filters))
	for _, f := range c.filters {
		out = append(out, f)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// IsValid reports whether name is the wildcard or a known filter.
func (c *FilterCatalog) IsValid(name string) bool {
	if name == webhook.WildcardFilter {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.filters[name]
	return ok
}

func (c *FilterCatalog) collect(ctx context.Context) (map[string]webhook.Filter, error) {
	filters := map[string]webhook.Filter{
		webhook.WildcardFilter: {Name: webhook.WildcardFilter, Description: WildcardDescription},
	}
	origin := map[string]int{webhook.WildcardFilter: -1}

	for i, p := range c.providers {
		provided, err := p.Filters(ctx)
		if err != nil {
			return nil, fmt.Errorf("filter provider %d (%T): %w", i, p, err)
		}
		for _, f := range provided {
			f.Name = webhook.NormalizeFilterName(f.Name)
			if f.Name == "" {
				continue
			}
			if _, exists := filters[f.Name]; exists {
				c.logger.Warn("duplicate filter ignored",
					"filter", f.Name,
					"provider", fmt.Sprintf("%T", p),
					"first_provider", origin[f.Name],
				)
				continue
			}
			filters[f.Name] = f
			origin[f.Name] = i
		}
	}
	return filters, nil
}
