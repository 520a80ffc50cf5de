package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/webhooks/pkg/domain/webhook"
	"github.com/openctemio/webhooks/pkg/logger"
)

func TestFilterCatalog_MergesProviders(t *testing.T) {
	orders := NewStaticFilterProvider(
		webhook.Filter{Name: "order.created", Description: "An order was placed"},
		webhook.Filter{Name: "order.shipped", Description: "An order left the warehouse"},
	)
	users := NewStaticFilterProvider(
		webhook.Filter{Name: "user.deleted", Description: "A user was removed"},
		webhook.Filter{Name: "order.created", Description: "duplicate"},
	)

	catalog, err := NewFilterCatalog(context.Background(), []webhook.FilterProvider{orders, users}, logger.NewNop())
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"*":             WildcardDescription,
		"order.created": "An order was placed",
		"order.shipped": "An order left the warehouse",
		"user.deleted":  "A user was removed",
	}, catalog.GetAllFilters())

	list := catalog.List()
	require.Len(t, list, 4)
	assert.Equal(t, "*", list[0].Name)
	assert.Equal(t, "user.deleted", list[3].Name)
}

func TestFilterCatalog_IsValid(t *testing.T) {
	catalog, err := NewFilterCatalog(context.Background(), []webhook.FilterProvider{
		NewStaticFilterProvider(webhook.Filter{Name: "order.created"}),
	}, logger.NewNop())
	require.NoError(t, err)

	tests := []struct {
		name string
		want bool
	}{
		{"*", true},
		{"order.created", true},
		{"order.deleted", false},
		{"Order.Created", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, catalog.IsValid(tt.name))
		})
	}
}

func TestFilterCatalog_NoProviders(t *testing.T) {
	catalog, err := NewFilterCatalog(context.Background(), nil, logger.NewNop())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"*": WildcardDescription}, catalog.GetAllFilters())
}

func TestFilterCatalog_ProviderCalledOnce(t *testing.T) {
	calls := 0
	p := webhook.FilterProviderFunc(func(context.Context) ([]webhook.Filter, error) {
		calls++
		return []webhook.Filter{{Name: "a.b"}}, nil
	})

	catalog, err := NewFilterCatalog(context.Background(), []webhook.FilterProvider{p}, logger.NewNop())
	require.NoError(t, err)
	catalog.GetAllFilters()
	catalog.IsValid("a.b")
	assert.Equal(t, 1, calls)
}

func TestFilterCatalog_ProviderFailure(t *testing.T) {
	fail := true
	p := webhook.FilterProviderFunc(func(context.Context) ([]webhook.Filter, error) {
		if fail {
			return nil, errors.New("boom")
		}
		return []webhook.Filter{{Name: "a.b"}}, nil
	})

	_, err := NewFilterCatalog(context.Background(), []webhook.FilterProvider{p}, logger.NewNop())
	require.Error(t, err)

	fail = false
	catalog, err := NewFilterCatalog(context.Background(), []webhook.FilterProvider{p}, logger.NewNop())
	require.NoError(t, err)

	fail = true
	require.Error(t, catalog.Rebuild(context.Background()))
	assert.True(t, catalog.IsValid("a.b"), "previous set must survive a failed rebuild")
}

func writeFilters(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestFileFilterProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "filters.yaml")
	writeFilters(t, path, `
filters:
  - name: order.created
    description: An order was placed
  - name: " order.shipped "
`)

	catalog, err := NewFilterCatalog(context.Background(), []webhook.FilterProvider{NewFileFilterProvider(path)}, logger.NewNop())
	require.NoError(t, err)
	assert.True(t, catalog.IsValid("order.created"))
	assert.True(t, catalog.IsValid("order.shipped"))

	_, err = NewFileFilterProvider(filepath.Join(t.TempDir(), "missing.yaml")).Filters(context.Background())
	assert.Error(t, err)
}

func TestFilterWatcher_RebuildsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "filters.yaml")
	writeFilters(t, path, "filters:\n  - name: a.one\n")

	catalog, err := NewFilterCatalog(context.Background(), []webhook.FilterProvider{NewFileFilterProvider(path)}, logger.NewNop())
	require.NoError(t, err)

	w := NewFilterWatcher(catalog, path, logger.NewNop())
	w.debounce = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	writeFilters(t, path, "filters:\n  - name: a.one\n  - name: a.two\n")

	assert.Eventually(t, func() bool { return catalog.IsValid("a.two") }, 3*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
