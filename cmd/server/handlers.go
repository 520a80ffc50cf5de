package main

import (
	"fmt"
	"math"
	"time"

	"github.com/openctemio/webhooks/internal/config"
	"github.com/openctemio/webhooks/internal/infra/http/handler"
	"github.com/openctemio/webhooks/internal/infra/http/middleware"
	"github.com/openctemio/webhooks/internal/infra/http/routes"
	"github.com/openctemio/webhooks/internal/infra/redis"
	"github.com/openctemio/webhooks/internal/infra/websocket"
	"github.com/openctemio/webhooks/pkg/logger"
	"github.com/openctemio/webhooks/pkg/validator"
)

// HandlerDeps contains dependencies needed to create handlers.
type HandlerDeps struct {
	Config   *config.Config
	Log      *logger.Logger
	Infra    *Infra
	Services *Services
}

// NewHandlers creates all HTTP handlers.
func NewHandlers(deps *HandlerDeps) routes.Handlers {
	cfg := deps.Config
	log := deps.Log
	svc := deps.Services
	v := validator.New()

	healthOpts := append(deps.Infra.HealthChecks(), handler.WithVersion(cfg.App.Version))

	return routes.Handlers{
		Health:        handler.NewHealthHandler(healthOpts...),
		Registrations: handler.NewRegistrationHandler(svc.Registrations, v, log),
		Filters:       handler.NewFilterHandler(svc.Filters),
		Notify:        handler.NewNotifyHandler(svc.Webhooks, v, log),
		Deliveries:    handler.NewDeliveryHandler(svc.DeliveryLog, v, log),
		Stream:        websocket.NewHandler(svc.Hub, cfg.Server.AllowedOrigins, log),
	}
}

// NewMiddlewares builds the /api/v1 middleware. The returned stop function
// releases the local rate limiter's cleanup goroutine.
func NewMiddlewares(deps *HandlerDeps) (routes.Middlewares, func(), error) {
	cfg := deps.Config
	log := deps.Log

	mw := routes.Middlewares{
		Auth:    middleware.Auth(deps.Services.JWT, log),
		Timeout: middleware.Timeout(cfg.Server.RequestTimeout),
		Admin:   middleware.RequireAdmin(),
	}

	if cfg.RateLimit.Enabled && cfg.RateLimit.Distributed && deps.Infra.Redis != nil {
		limit := int(math.Ceil(cfg.RateLimit.RequestsPerSec * 60))
		limiter, err := redis.NewRateLimiter(deps.Infra.Redis, "api", limit, time.Minute, log)
		if err != nil {
			return mw, nil, fmt.Errorf("create distributed rate limiter: %w", err)
		}
		mw.RateLimit = middleware.DistributedRateLimit(middleware.DistributedRateLimitConfig{
			Limiter: limiter,
			Logger:  log,
		})
		log.Info("distributed rate limiting enabled", "limit_per_minute", limit)
		return mw, func() {}, nil
	}

	rateLimit, stop := middleware.RateLimitWithStop(&cfg.RateLimit, log)
	mw.RateLimit = rateLimit
	return mw, stop, nil
}
