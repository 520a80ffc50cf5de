package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/openctemio/webhooks/pkg/domain/webhook"
	"github.com/openctemio/webhooks/pkg/logger"
)

// StaticFilterProvider serves a fixed list of filters.
type StaticFilterProvider struct {
	filters []webhook.Filter
}

// NewStaticFilterProvider creates a provider for filters known at compile time.
func NewStaticFilterProvider(filters ...webhook.Filter) *StaticFilterProvider {
	return &StaticFilterProvider{filters: filters}
}

// Filters implements webhook.FilterProvider.
func (p *StaticFilterProvider) Filters(context.Context) ([]webhook.Filter, error) {
	out := make([]webhook.Filter, len(p.filters))
	copy(out, p.filters)
	return out, nil
}

// FileFilterProvider reads filters from a YAML document:
//
//	filters:
//	  - name: order.created
//	    description: An order was placed
type FileFilterProvider struct {
	path string
}

// NewFileFilterProvider creates a provider backed by path.
func NewFileFilterProvider(path string) *FileFilterProvider {
	return &FileFilterProvider{path: path}
}

type filterFile struct {
	Filters []webhook.Filter `yaml:"filters"`
}

// Filters implements webhook.FilterProvider.
func (p *FileFilterProvider) Filters(context.Context) ([]webhook.Filter, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("read filters file: %w", err)
	}
	var doc filterFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse filters file %s: %w", p.path, err)
	}
	return doc.Filters, nil
}

// Path returns the file backing the provider.
func (p *FileFilterProvider) Path() string { return p.path }

// FilterWatcher rebuilds the catalog when the filters file changes.
type FilterWatcher struct {
	catalog  *FilterCatalog
	path     string
	debounce time.Duration
	logger   *logger.Logger
}

// NewFilterWatcher creates a watcher for path.
func NewFilterWatcher(catalog *FilterCatalog, path string, log *logger.Logger) *FilterWatcher {
	return &FilterWatcher{
		catalog:  catalog,
		path:     filepath.Clean(path),
		debounce: 500 * time.Millisecond,
		logger:   log.With("service", "filter_watcher"),
	}
}

// Run blocks until ctx is cancelled. The parent directory is watched so that
// editors that replace the file atomically are picked up.
func (w *FilterWatcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	w.logger.Info("watching filters file", "path", w.path)

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				timer.Reset(w.debounce)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("filters watcher error", "error", err)
		case <-timer.C:
			_ = w.catalog.Rebuild(ctx)
		}
	}
}
