package main

import (
	"context"
	"fmt"

	"github.com/openctemio/webhooks/internal/app"
	"github.com/openctemio/webhooks/internal/config"
	"github.com/openctemio/webhooks/internal/infra/jobs"
	"github.com/openctemio/webhooks/internal/infra/notification"
	"github.com/openctemio/webhooks/internal/infra/redis"
	"github.com/openctemio/webhooks/internal/infra/websocket"
	"github.com/openctemio/webhooks/pkg/domain/webhook"
	"github.com/openctemio/webhooks/pkg/jwt"
	"github.com/openctemio/webhooks/pkg/logger"
)

// builtinFilters are always available, whatever providers are configured.
var builtinFilters = []webhook.Filter{
	{Name: "webhooks.test", Description: "Test notification fired from the control API"},
}

// Services holds the application services and delivery plumbing.
type Services struct {
	Filters       *app.FilterCatalog
	Registrations *app.RegistrationsManager
	Webhooks      *app.WebhookManager
	DeliveryLog   *notification.DeliveryLog
	Hub           *websocket.Hub
	JWT           *jwt.Generator

	// Observer receives every outcome handled by this process.
	Observer webhook.DeliveryObserver
	Sender   webhook.Sender

	pool        *notification.PoolSender
	queue       *jobs.QueueSender
	worker      *jobs.Worker
	outcomeBus  *redis.OutcomeBus
	filterWatch *app.FilterWatcher
}

// ServiceDeps contains dependencies needed to create services.
type ServiceDeps struct {
	Config *config.Config
	Log    *logger.Logger
	Infra  *Infra
}

// NewServices builds the filter catalog, managers and the configured sender.
func NewServices(ctx context.Context, deps *ServiceDeps) (*Services, error) {
	cfg := deps.Config
	log := deps.Log
	s := &Services{}

	// Filters
	providers := []webhook.FilterProvider{app.NewStaticFilterProvider(builtinFilters...)}
	if cfg.Filters.File != "" {
		providers = append(providers, app.NewFileFilterProvider(cfg.Filters.File))
	}
	catalog, err := app.NewFilterCatalog(ctx, providers, log)
	if err != nil {
		return nil, fmt.Errorf("build filter catalog: %w", err)
	}
	s.Filters = catalog
	if cfg.Filters.File != "" && cfg.Filters.Watch {
		s.filterWatch = app.NewFilterWatcher(catalog, cfg.Filters.File, log)
	}

	// Delivery observers
	s.DeliveryLog, err = notification.NewDeliveryLog(cfg.Sender.DeliveryLogSize)
	if err != nil {
		return nil, fmt.Errorf("create delivery log: %w", err)
	}
	s.Hub = websocket.NewHub(log)
	s.Observer = notification.NewMultiObserver(log,
		notification.NewLoggingObserver(log),
		notification.MetricsObserver{},
		s.DeliveryLog,
		s.Hub,
	)

	// Sender
	if err := s.initSender(cfg, deps.Infra, log); err != nil {
		return nil, err
	}

	s.Registrations = app.NewRegistrationsManager(deps.Infra.Store, catalog, app.RegistrationsManagerConfig{
		MaxPerUser: cfg.WebHooks.MaxPerUser,
		Policy:     callbackPolicy(cfg),
	}, log)
	s.Webhooks = app.NewWebhookManager(deps.Infra.Store, s.Sender, app.WebhookManagerConfig{
		BroadcastBatchSize: cfg.WebHooks.BroadcastBatchSize,
	}, log)

	s.JWT = jwt.NewGenerator(jwt.TokenConfig{
		Secret:              cfg.Auth.JWTSecret,
		Issuer:              cfg.Auth.JWTIssuer,
		AccessTokenDuration: cfg.Auth.AccessTokenDuration,
	})

	return s, nil
}

func callbackPolicy(cfg *config.Config) webhook.CallbackPolicy {
	return webhook.CallbackPolicy{
		AllowPrivateNetworks: cfg.WebHooks.AllowPrivateNetworks,
		AllowHTTP:            cfg.WebHooks.AllowHTTP,
	}
}

func retryPolicy(cfg *config.SenderConfig) notification.RetryPolicy {
	return notification.RetryPolicy{
		MaxAttempts:     cfg.MaxAttempts,
		InitialInterval: cfg.InitialInterval,
		MaxInterval:     cfg.MaxInterval,
		Multiplier:      cfg.Multiplier,
		Jitter:          cfg.Jitter,
	}
}

func newDeliverer(cfg *config.Config, log *logger.Logger) *notification.Deliverer {
	client := notification.NewClient(notification.ClientConfig{
		Timeout:   cfg.Sender.Timeout,
		UserAgent: cfg.Sender.UserAgent,
		Policy:    callbackPolicy(cfg),
	})
	return notification.NewDeliverer(client, retryPolicy(&cfg.Sender),
		notification.NewHostLimiter(cfg.Sender.HostRate, cfg.Sender.HostBurst, cfg.Sender.HostLimitHosts), log)
}

// initSender wires either the in-process pool or the asynq queue. In queue
// mode the worker publishes outcomes on the bus and this process consumes
// them, so every API replica sees outcomes delivered by any worker.
func (s *Services) initSender(cfg *config.Config, infra *Infra, log *logger.Logger) error {
	deliverer := newDeliverer(cfg, log)

	switch cfg.Sender.Mode {
	case config.SenderModeQueue:
		redisCfg := jobs.ClientConfig{
			RedisAddr:     cfg.Redis.Addr(),
			RedisPassword: cfg.Redis.Password,
			RedisDB:       cfg.Redis.DB,
		}
		s.queue = jobs.NewQueueSender(redisCfg, infra.Protector, jobs.TaskOptions{
			Queue:       cfg.Queue.Name,
			MaxAttempts: cfg.Sender.MaxAttempts,
			Timeout:     cfg.Sender.Timeout,
		}, log)
		s.outcomeBus = redis.NewOutcomeBus(infra.Redis, log)

		taskHandler := jobs.NewDeliveryTaskHandler(deliverer, infra.Protector, s.outcomeBus, log)
		s.worker = jobs.NewWorker(jobs.WorkerConfig{
			Redis:           redisCfg,
			Concurrency:     cfg.Queue.Concurrency,
			Queue:           cfg.Queue.Name,
			ShutdownTimeout: cfg.Queue.ShutdownTimeout,
			RetryPolicy:     retryPolicy(&cfg.Sender),
		}, taskHandler, log)
		s.Sender = s.queue
		log.Info("queue sender initialized", "queue", cfg.Queue.Name, "concurrency", cfg.Queue.Concurrency)
	default:
		s.pool = notification.NewPoolSender(deliverer, s.Observer, notification.PoolSenderConfig{
			Workers:   cfg.Sender.Concurrency,
			QueueSize: cfg.Sender.QueueSize,
		}, log)
		s.Sender = s.pool
		log.Info("pool sender initialized", "workers", cfg.Sender.Concurrency, "queue_size", cfg.Sender.QueueSize)
	}
	return nil
}
