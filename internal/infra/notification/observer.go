package notification

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/openctemio/webhooks/internal/metrics"
	"github.com/openctemio/webhooks/pkg/domain/webhook"
	"github.com/openctemio/webhooks/pkg/logger"
)

// LoggingObserver logs every terminal outcome.
type LoggingObserver struct {
	logger *logger.Logger
}

// NewLoggingObserver creates a LoggingObserver.
func NewLoggingObserver(log *logger.Logger) *LoggingObserver {
	return &LoggingObserver{logger: log.With("component", "delivery")}
}

// OnDeliveryOutcome implements webhook.DeliveryObserver.
func (o *LoggingObserver) OnDeliveryOutcome(_ context.Context, out webhook.DeliveryOutcome) {
	args := []any{
		"delivery_id", out.DeliveryID,
		"registration_id", out.RegistrationID,
		"user_id", out.UserID,
		"callback_uri", out.CallbackURI,
		"actions", out.Actions,
		"status", out.Status,
		"attempts", out.Attempts,
	}
	if out.StatusCode != 0 {
		args = append(args, "status_code", out.StatusCode)
	}

	switch out.Status {
	case webhook.DeliveryDelivered:
		o.logger.Debug("webhook delivered", args...)
	case webhook.DeliveryCancelled:
		o.logger.Warn("webhook delivery cancelled", append(args, "error", out.Error)...)
	default:
		o.logger.Error("webhook delivery failed", append(args, "error", out.Error)...)
	}
}

// MetricsObserver counts outcomes by status.
type MetricsObserver struct{}

// OnDeliveryOutcome implements webhook.DeliveryObserver.
func (MetricsObserver) OnDeliveryOutcome(_ context.Context, out webhook.DeliveryOutcome) {
	metrics.DeliveriesTotal.WithLabelValues(string(out.Status)).Inc()
}

// MultiObserver fans an outcome out to several observers. A panicking
// observer does not prevent the others from running.
type MultiObserver struct {
	observers []webhook.DeliveryObserver
	logger    *logger.Logger
}

// NewMultiObserver creates a MultiObserver. Nil observers are skipped.
func NewMultiObserver(log *logger.Logger, observers ...webhook.DeliveryObserver) *MultiObserver {
	m := &MultiObserver{logger: log}
	for _, o := range observers {
		if o != nil {
			m.observers = append(m.observers, o)
		}
	}
	return m
}

// Add registers another observer.
func (m *MultiObserver) Add(o webhook.DeliveryObserver) {
	m.observers = append(m.observers, o)
}

// OnDeliveryOutcome implements webhook.DeliveryObserver.
func (m *MultiObserver) OnDeliveryOutcome(ctx context.Context, out webhook.DeliveryOutcome) {
	var errs error
	for _, o := range m.observers {
		errs = multierr.Append(errs, notify(ctx, o, out))
	}
	if errs != nil {
		m.logger.Error("delivery observers failed",
			"delivery_id", out.DeliveryID,
			"failures", len(multierr.Errors(errs)),
			"error", errs,
		)
	}
}

func notify(ctx context.Context, o webhook.DeliveryObserver, out webhook.DeliveryOutcome) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("observer %T panicked: %v", o, r)
		}
	}()
	o.OnDeliveryOutcome(ctx, out)
	return nil
}
