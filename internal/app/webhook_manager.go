package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/openctemio/webhooks/internal/metrics"
	"github.com/openctemio/webhooks/pkg/domain/shared"
	"github.com/openctemio/webhooks/pkg/domain/webhook"
	"github.com/openctemio/webhooks/pkg/logger"
)

const tracerName = "github.com/openctemio/webhooks/internal/app"

// DefaultBroadcastBatchSize is the ListUsers page size used by NotifyAll.
const DefaultBroadcastBatchSize = 500

// WebhookManagerConfig configures dispatch.
type WebhookManagerConfig struct {
	BroadcastBatchSize int
}

// DispatchResult reports how much work a notify call handed to the sender.
type DispatchResult struct {
	Submitted int `json:"submitted"`
	Users     int `json:"users"`
}

// WebhookManager resolves the registrations interested in an action and
// submits one delivery request per registration.
type WebhookManager struct {
	store  webhook.Store
	sender webhook.Sender
	config WebhookManagerConfig
	logger *logger.Logger
	tracer trace.Tracer
}

// NewWebhookManager creates a new WebhookManager.
func NewWebhookManager(store webhook.Store, sender webhook.Sender, cfg WebhookManagerConfig, log *logger.Logger) *WebhookManager {
	if cfg.BroadcastBatchSize <= 0 {
		cfg.BroadcastBatchSize = DefaultBroadcastBatchSize
	}
	return &WebhookManager{
		store:  store,
		sender: sender,
		config: cfg,
		logger: log.With("service", "dispatch"),
		tracer: otel.Tracer(tracerName),
	}
}

// Notify fires one action for one user.
func (m *WebhookManager) Notify(ctx context.Context, userID, action string, data any) (DispatchResult, error) {
	n, err := m.notification(action, data)
	if err != nil {
		return DispatchResult{}, err
	}
	return m.NotifyMany(ctx, userID, n)
}

// NotifyMany fires several actions for one user. A registration matching more
// than one of them receives a single request carrying all matched
// notifications.
func (m *WebhookManager) NotifyMany(ctx context.Context, userID string, notifications ...webhook.Notification) (result DispatchResult, err error) {
	ctx, span := m.tracer.Start(ctx, "webhooks.notify", trace.WithAttributes(
		attribute.String("webhook.user_id", userID),
		attribute.Int("webhook.notifications", len(notifications)),
	))
	start := time.Now()
	defer func() { m.finish(span, "user", start, result, err) }()

	if userID == "" {
		return DispatchResult{}, shared.NewValidationError("user_id", "is required")
	}
	if len(notifications) == 0 {
		return DispatchResult{}, shared.NewValidationError("notifications", "at least one notification is required")
	}
	for _, n := range notifications {
		if n.Action == "" {
			return DispatchResult{}, shared.NewValidationError("action", "is required")
		}
	}

	registrations, err := m.store.GetAll(ctx, userID)
	if err != nil {
		return DispatchResult{}, storeError(err)
	}

	requests := buildRequests(registrations, notifications)
	result.Users = 1
	result.Submitted, err = m.submit(ctx, requests)
	return result, err
}

// NotifyAll fires an action for every user with registrations. All pages of
// users are resolved before anything is submitted.
func (m *WebhookManager) NotifyAll(ctx context.Context, action string, data any) (result DispatchResult, err error) {
	ctx, span := m.tracer.Start(ctx, "webhooks.notify_all", trace.WithAttributes(
		attribute.String("webhook.action", action),
	))
	start := time.Now()
	defer func() { m.finish(span, "broadcast", start, result, err) }()

	n, err := m.notification(action, data)
	if err != nil {
		return DispatchResult{}, err
	}
	notifications := []webhook.Notification{n}

	var requests []*webhook.DeliveryRequest
	cursor := ""
	for {
		users, next, err := m.store.ListUsers(ctx, cursor, m.config.BroadcastBatchSize)
		if err != nil {
			return DispatchResult{}, storeError(err)
		}
		for _, userID := range users {
			registrations, err := m.store.GetAll(ctx, userID)
			if err != nil {
				return DispatchResult{}, storeError(err)
			}
			requests = append(requests, buildRequests(registrations, notifications)...)
		}
		result.Users += len(users)
		if next == "" {
			break
		}
		cursor = next
	}

	result.Submitted, err = m.submit(ctx, requests)
	return result, err
}

func (m *WebhookManager) notification(action string, data any) (webhook.Notification, error) {
	if action == "" {
		return webhook.Notification{}, shared.NewValidationError("action", "is required")
	}
	return webhook.NewNotification(action, data)
}

func (m *WebhookManager) submit(ctx context.Context, requests []*webhook.DeliveryRequest) (int, error) {
	if len(requests) == 0 {
		return 0, nil
	}
	accepted, err := m.sender.Send(ctx, requests)
	metrics.DeliveriesSubmitted.Add(float64(accepted))
	if err != nil {
		m.logger.Warn("delivery submission interrupted",
			"requested", len(requests),
			"accepted", accepted,
			"error", err,
		)
		return accepted, fmt.Errorf("submit deliveries: %w", err)
	}
	return accepted, nil
}

func (m *WebhookManager) finish(span trace.Span, scope string, start time.Time, result DispatchResult, err error) {
	metrics.DispatchDuration.WithLabelValues(scope).Observe(time.Since(start).Seconds())
	metrics.DispatchTotal.WithLabelValues(scope, metrics.Result(err)).Inc()

	span.SetAttributes(
		attribute.Int("webhook.submitted", result.Submitted),
		attribute.Int("webhook.users", result.Users),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else if result.Submitted > 0 {
		m.logger.Debug("deliveries submitted", "scope", scope, "submitted", result.Submitted, "users", result.Users)
	}
	span.End()
}

// buildRequests keeps active registrations whose filters match at least one
// notification.
func buildRequests(registrations []*webhook.Registration, notifications []webhook.Notification) []*webhook.DeliveryRequest {
	var requests []*webhook.DeliveryRequest
	for _, r := range registrations {
		if r.IsPaused() {
			continue
		}
		var matched []webhook.Notification
		for _, n := range notifications {
			if r.Matches(n.Action) {
				matched = append(matched, n)
			}
		}
		if len(matched) > 0 {
			requests = append(requests, webhook.NewDeliveryRequest(r, matched))
		}
	}
	return requests
}

func storeError(err error) error {
	if errors.Is(err, shared.ErrStoreUnavailable) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", shared.ErrStoreUnavailable, err)
}
