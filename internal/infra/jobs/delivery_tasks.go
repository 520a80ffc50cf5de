package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/openctemio/webhooks/internal/infra/notification"
	"github.com/openctemio/webhooks/pkg/crypto"
	"github.com/openctemio/webhooks/pkg/domain/webhook"
	"github.com/openctemio/webhooks/pkg/logger"
)

// =============================================================================
// Task Types
// =============================================================================

const (
	// TypeWebhookDeliver is the task type for one delivery request.
	TypeWebhookDeliver = "webhook:deliver"

	// DefaultQueue is the queue delivery tasks are placed on.
	DefaultQueue = "webhooks"
)

// =============================================================================
// Task Payloads
// =============================================================================

// DeliveryPayload is the queued form of a DeliveryRequest. The registration
// secret and sensitive headers are sealed with the configured protector.
type DeliveryPayload struct {
	DeliveryID    string                 `json:"delivery_id"`
	Registration  webhook.Record         `json:"registration"`
	Notifications []webhook.Notification `json:"notifications"`
	CreatedAt     time.Time              `json:"created_at"`
}

// TaskOptions control how delivery tasks are enqueued.
type TaskOptions struct {
	Queue       string
	MaxAttempts int
	Timeout     time.Duration
}

func (o TaskOptions) normalized() TaskOptions {
	if o.Queue == "" {
		o.Queue = DefaultQueue
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 1
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	return o
}

// =============================================================================
// Task Creators
// =============================================================================

// NewDeliveryTask encodes req as a task. MaxRetry is MaxAttempts-1 because
// asynq counts retries after the first run.
func NewDeliveryTask(req *webhook.DeliveryRequest, protector crypto.Protector, opts TaskOptions) (*asynq.Task, error) {
	opts = opts.normalized()

	reg := req.Registration
	if protector != nil {
		sealed, err := reg.WithSecrets(func(s string) (string, error) { return crypto.ProtectString(protector, s) })
		if err != nil {
			return nil, fmt.Errorf("seal registration: %w", err)
		}
		reg = sealed
	}

	payload, err := json.Marshal(DeliveryPayload{
		DeliveryID:    req.ID,
		Registration:  reg.ToRecord(),
		Notifications: req.Notifications,
		CreatedAt:     req.CreatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal delivery payload: %w", err)
	}

	return asynq.NewTask(
		TypeWebhookDeliver,
		payload,
		asynq.TaskID(req.ID),
		asynq.MaxRetry(opts.MaxAttempts-1),
		asynq.Timeout(opts.Timeout),
		asynq.Queue(opts.Queue),
	), nil
}

// ParseDeliveryTask decodes a task payload back into a DeliveryRequest.
func ParseDeliveryTask(payload []byte, protector crypto.Protector) (*webhook.DeliveryRequest, error) {
	var p DeliveryPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("unmarshal delivery payload: %w", err)
	}

	reg := webhook.FromRecord(p.Registration)
	if protector != nil {
		opened, err := reg.WithSecrets(func(s string) (string, error) { return crypto.UnprotectString(protector, s) })
		if err != nil {
			return nil, fmt.Errorf("open registration: %w", err)
		}
		reg = opened
	}

	return &webhook.DeliveryRequest{
		ID:            p.DeliveryID,
		Registration:  reg,
		Notifications: p.Notifications,
		CreatedAt:     p.CreatedAt,
	}, nil
}

// =============================================================================
// Task Handlers
// =============================================================================

// DeliveryTaskHandler performs one attempt per task run. asynq owns the
// retry schedule; the handler reports terminal outcomes to the observer.
type DeliveryTaskHandler struct {
	deliverer *notification.Deliverer
	protector crypto.Protector
	observer  webhook.DeliveryObserver
	logger    *logger.Logger

	retryInfo func(ctx context.Context) (retried, maxRetry int)
}

// NewDeliveryTaskHandler creates a handler. observer may be nil.
func NewDeliveryTaskHandler(deliverer *notification.Deliverer, protector crypto.Protector, observer webhook.DeliveryObserver, log *logger.Logger) *DeliveryTaskHandler {
	if observer == nil {
		observer = webhook.DeliveryObserverFunc(func(context.Context, webhook.DeliveryOutcome) {})
	}
	return &DeliveryTaskHandler{
		deliverer: deliverer,
		protector: protector,
		observer:  observer,
		logger:    log.With("component", "delivery_task"),
		retryInfo: asynqRetryInfo,
	}
}

func asynqRetryInfo(ctx context.Context) (int, int) {
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	return retried, maxRetry
}

// RegisterHandlers registers the delivery handler on mux.
func (h *DeliveryTaskHandler) RegisterHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeWebhookDeliver, h.HandleDeliver)
}

// HandleDeliver processes a TypeWebhookDeliver task.
func (h *DeliveryTaskHandler) HandleDeliver(ctx context.Context, t *asynq.Task) error {
	req, err := ParseDeliveryTask(t.Payload(), h.protector)
	if err != nil {
		h.logger.Error("dropping undecodable delivery task", "error", err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	retried, maxRetry := h.retryInfo(ctx)
	attempt := retried + 1
	res := h.deliverer.AttemptOnce(ctx, req, attempt)

	outcome := webhook.NewOutcome(req)
	outcome.Attempts = attempt
	outcome.StatusCode = res.StatusCode
	outcome.CompletedAt = time.Now().UTC()

	switch res.Class {
	case notification.AttemptDelivered:
		outcome.Status = webhook.DeliveryDelivered
		h.observer.OnDeliveryOutcome(ctx, outcome)
		return nil

	case notification.AttemptRejected:
		outcome.Status = webhook.DeliveryRejected
		outcome.Error = res.Err.Error()
		h.observer.OnDeliveryOutcome(ctx, outcome)
		return fmt.Errorf("%v: %w", res.Err, asynq.SkipRetry)

	default:
		if retried >= maxRetry {
			outcome.Status = webhook.DeliveryFailed
			outcome.Error = res.Err.Error()
			h.observer.OnDeliveryOutcome(ctx, outcome)
		} else {
			h.logger.Debug("delivery attempt failed, asynq will retry",
				"delivery_id", req.ID,
				"attempt", attempt,
				"error", res.Err,
			)
		}
		return res.Err
	}
}
