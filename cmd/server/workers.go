package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"

	"github.com/openctemio/webhooks/internal/app"
	"github.com/openctemio/webhooks/internal/config"
	"github.com/openctemio/webhooks/pkg/logger"
)

// Workers owns every background loop of the server process.
type Workers struct {
	services  *Services
	scheduler *app.MaintenanceScheduler
	cancel    context.CancelFunc
	done      chan struct{}
	log       *logger.Logger
}

// NewWorkers initializes the maintenance scheduler.
func NewWorkers(cfg *config.Config, svc *Services, log *logger.Logger) (*Workers, error) {
	var catalog app.CatalogRebuilder
	if cfg.Filters.RefreshCron != "" {
		catalog = svc.Filters
	}
	scheduler, err := app.NewMaintenanceScheduler(svc.DeliveryLog, catalog, app.MaintenanceSchedulerConfig{
		PruneSpec:   cfg.Sender.DeliveryLogPruneCron,
		Retention:   cfg.Sender.DeliveryLogRetention,
		RefreshSpec: cfg.Filters.RefreshCron,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("create maintenance scheduler: %w", err)
	}

	return &Workers{
		services:  svc,
		scheduler: scheduler,
		done:      make(chan struct{}),
		log:       log,
	}, nil
}

// Start launches the hub, sender, queue worker, outcome listener, filter
// watcher and scheduler.
func (w *Workers) Start(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)
	svc := w.services

	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		svc.Hub.Run(ctx)
	}()
	go func() {
		<-hubDone
		close(w.done)
	}()
	w.log.Info("websocket hub started")

	if svc.pool != nil {
		svc.pool.Start(ctx)
	}

	if svc.outcomeBus != nil {
		if err := svc.outcomeBus.Listen(ctx, svc.Observer); err != nil {
			return fmt.Errorf("listen for delivery outcomes: %w", err)
		}
	}

	if svc.worker != nil {
		if err := svc.worker.Start(); err != nil {
			return fmt.Errorf("start queue worker: %w", err)
		}
	}

	if svc.filterWatch != nil {
		go func() {
			if err := svc.filterWatch.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.log.Error("filter watcher stopped", "error", err)
			}
		}()
	}

	w.scheduler.Start()
	return nil
}

// Stop drains the sender and stops every loop. Pending pool deliveries get
// until ctx is done.
func (w *Workers) Stop(ctx context.Context) error {
	svc := w.services
	var err error

	w.scheduler.Stop(ctx)

	if svc.pool != nil {
		err = multierr.Append(err, svc.pool.Shutdown(ctx))
	}
	if svc.worker != nil {
		svc.worker.Stop()
	}
	if svc.queue != nil {
		err = multierr.Append(err, svc.queue.Close())
	}

	if w.cancel != nil {
		w.cancel()
		select {
		case <-w.done:
		case <-ctx.Done():
			err = multierr.Append(err, ctx.Err())
		}
	}
	return err
}
