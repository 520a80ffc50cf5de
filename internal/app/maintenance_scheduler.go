package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/openctemio/webhooks/pkg/logger"
)

// DeliveryPruner drops recorded outcomes older than a retention window.
type DeliveryPruner interface {
	Prune(retention time.Duration) int
}

// CatalogRebuilder reloads the filter catalog from its providers.
type CatalogRebuilder interface {
	Rebuild(ctx context.Context) error
}

// MaintenanceSchedulerConfig holds configuration for the maintenance scheduler.
type MaintenanceSchedulerConfig struct {
	// PruneSpec is the cron spec for delivery log pruning (default: "@every 10m").
	PruneSpec string
	// Retention is how long delivery outcomes are kept (default: 24 hours).
	Retention time.Duration
	// RefreshSpec is the cron spec for catalog rebuilds. Empty disables them.
	RefreshSpec string
	// JobTimeout bounds a single job run (default: 1 minute).
	JobTimeout time.Duration
}

// DefaultMaintenanceSchedulerConfig returns the default configuration.
func DefaultMaintenanceSchedulerConfig() MaintenanceSchedulerConfig {
	return MaintenanceSchedulerConfig{
		PruneSpec:  "@every 10m",
		Retention:  24 * time.Hour,
		JobTimeout: time.Minute,
	}
}

// MaintenanceScheduler runs periodic housekeeping: pruning the delivery log
// and refreshing the filter catalog.
type MaintenanceScheduler struct {
	cron     *cron.Cron
	pruner   DeliveryPruner
	catalog  CatalogRebuilder
	config   MaintenanceSchedulerConfig
	log      *logger.Logger
	jobCount int

	mu      sync.Mutex
	running bool
}

// NewMaintenanceScheduler creates a scheduler. Either dependency may be nil,
// which disables its job. Invalid cron specs are reported here.
func NewMaintenanceScheduler(pruner DeliveryPruner, catalog CatalogRebuilder, config MaintenanceSchedulerConfig, log *logger.Logger) (*MaintenanceScheduler, error) {
	defaults := DefaultMaintenanceSchedulerConfig()
	if config.PruneSpec == "" {
		config.PruneSpec = defaults.PruneSpec
	}
	if config.Retention <= 0 {
		config.Retention = defaults.Retention
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = defaults.JobTimeout
	}

	log = log.With("service", "maintenance_scheduler")
	cl := cronLogger{log: log}
	s := &MaintenanceScheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		pruner:  pruner,
		catalog: catalog,
		config:  config,
		log:     log,
	}

	if pruner != nil {
		if _, err := s.cron.AddFunc(config.PruneSpec, s.prune); err != nil {
			return nil, fmt.Errorf("invalid prune schedule %q: %w", config.PruneSpec, err)
		}
		s.jobCount++
	}
	if catalog != nil && config.RefreshSpec != "" {
		if _, err := s.cron.AddFunc(config.RefreshSpec, s.refresh); err != nil {
			return nil, fmt.Errorf("invalid refresh schedule %q: %w", config.RefreshSpec, err)
		}
		s.jobCount++
	}
	return s, nil
}

// Jobs returns the number of scheduled jobs.
func (s *MaintenanceScheduler) Jobs() int {
	return s.jobCount
}

// Start starts the scheduler in the background.
func (s *MaintenanceScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true

	s.log.Info("starting maintenance scheduler",
		"jobs", s.jobCount,
		"prune_spec", s.config.PruneSpec,
		"retention", s.config.Retention,
		"refresh_spec", s.config.RefreshSpec,
	)
	s.cron.Start()
}

// Stop stops the scheduler and waits for running jobs, or until ctx ends.
func (s *MaintenanceScheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.log.Info("stopping maintenance scheduler")
	select {
	case <-s.cron.Stop().Done():
		s.log.Info("maintenance scheduler stopped")
	case <-ctx.Done():
		s.log.Warn("maintenance scheduler stop timed out")
	}
}

// prune removes expired delivery outcomes.
func (s *MaintenanceScheduler) prune() {
	if removed := s.pruner.Prune(s.config.Retention); removed > 0 {
		s.log.Info("pruned delivery log", "removed", removed, "retention", s.config.Retention)
	}
}

// refresh rebuilds the filter catalog. A failed rebuild keeps the previous catalog.
func (s *MaintenanceScheduler) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.JobTimeout)
	defer cancel()

	if err := s.catalog.Rebuild(ctx); err != nil {
		s.log.Error("failed to refresh filter catalog", "error", err)
		return
	}
	s.log.Debug("filter catalog refreshed")
}

// cronLogger adapts logger.Logger to cron.Logger.
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
