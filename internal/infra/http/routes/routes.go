// Package routes registers the HTTP routes of the control API.
package routes

import (
	"github.com/prometheus/client_golang/prometheus/promhttp"

	infrahttp "github.com/openctemio/webhooks/internal/infra/http"
	"github.com/openctemio/webhooks/internal/infra/http/handler"
	"github.com/openctemio/webhooks/internal/infra/websocket"
)

// Middleware is an alias to the http package's Middleware type.
type Middleware = infrahttp.Middleware

// Router is an alias to the http package's Router interface.
type Router = infrahttp.Router

// Handlers holds all HTTP handlers for route registration.
type Handlers struct {
	Health        *handler.HealthHandler
	Registrations *handler.RegistrationHandler
	Filters       *handler.FilterHandler
	Notify        *handler.NotifyHandler
	Deliveries    *handler.DeliveryHandler
	Stream        *websocket.Handler // nil disables the delivery stream
}

// Middlewares are the per-route middleware applied to /api/v1.
type Middlewares struct {
	Auth      Middleware // required
	RateLimit Middleware
	Timeout   Middleware
	Admin     Middleware // required
}

// Register registers all application routes.
func Register(router Router, h Handlers, mw Middlewares) {
	router.GET("/health", h.Health.Health)
	router.GET("/ready", h.Health.Ready)
	router.GET("/metrics", promhttp.Handler().ServeHTTP)

	router.Group("/api/v1", func(r Router) {
		if h.Stream != nil {
			// Long-lived connection: no request timeout.
			r.GET("/deliveries/stream", h.Stream.ServeWS)
		}

		api := r
		if mw.Timeout != nil {
			api = r.With(mw.Timeout)
		}
		registerRegistrationRoutes(api, h.Registrations)
		registerFilterRoutes(api, h.Filters)
		registerNotifyRoutes(api, h.Notify, mw.Admin)
		registerDeliveryRoutes(api, h.Deliveries)
	}, nonNil(mw.Auth, mw.RateLimit)...)
}

func nonNil(mws ...Middleware) []Middleware {
	out := make([]Middleware, 0, len(mws))
	for _, mw := range mws {
		if mw != nil {
			out = append(out, mw)
		}
	}
	return out
}

// registerRegistrationRoutes registers the registration CRUD endpoints.
func registerRegistrationRoutes(r Router, h *handler.RegistrationHandler) {
	r.GET("/registrations", h.List)
	r.POST("/registrations", h.Create)
	r.DELETE("/registrations", h.DeleteAll)
	r.GET("/registrations/{id}", h.Get)
	r.PUT("/registrations/{id}", h.Update)
	r.DELETE("/registrations/{id}", h.Delete)
	r.POST("/registrations/{id}/pause", h.Pause)
	r.POST("/registrations/{id}/resume", h.Resume)
}

func registerFilterRoutes(r Router, h *handler.FilterHandler) {
	r.GET("/filters", h.List)
}

// registerNotifyRoutes registers the fire endpoints. Broadcast is admin only.
func registerNotifyRoutes(r Router, h *handler.NotifyHandler, admin Middleware) {
	r.POST("/notify", h.Notify)
	r.POST("/admin/notify", h.Broadcast, admin)
}

func registerDeliveryRoutes(r Router, h *handler.DeliveryHandler) {
	r.GET("/deliveries", h.List)
	r.GET("/deliveries/stats", h.Stats)
	r.GET("/deliveries/{id}", h.Get)
}
