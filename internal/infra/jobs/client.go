package jobs

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/openctemio/webhooks/pkg/crypto"
	"github.com/openctemio/webhooks/pkg/domain/webhook"
	"github.com/openctemio/webhooks/pkg/logger"
)

// ClientConfig contains configuration for the job client.
type ClientConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// RedisOpt converts the config for asynq.
func (c ClientConfig) RedisOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     c.RedisAddr,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	}
}

// QueueSender implements webhook.Sender by enqueueing one asynq task per
// request. Delivery happens in Worker processes, possibly on other hosts.
type QueueSender struct {
	client    *asynq.Client
	protector crypto.Protector
	options   TaskOptions
	logger    *logger.Logger
}

var _ webhook.Sender = (*QueueSender)(nil)

// NewQueueSender creates a QueueSender. protector seals secrets in the task
// payload and may be nil.
func NewQueueSender(cfg ClientConfig, protector crypto.Protector, opts TaskOptions, log *logger.Logger) *QueueSender {
	return &QueueSender{
		client:    asynq.NewClient(cfg.RedisOpt()),
		protector: protector,
		options:   opts.normalized(),
		logger:    log.With("component", "queue_sender"),
	}
}

// Close closes the client connection.
func (s *QueueSender) Close() error {
	return s.client.Close()
}

// Send enqueues every request, stopping at the first failure.
func (s *QueueSender) Send(ctx context.Context, requests []*webhook.DeliveryRequest) (int, error) {
	for i, req := range requests {
		task, err := NewDeliveryTask(req, s.protector, s.options)
		if err != nil {
			return i, fmt.Errorf("failed to create task: %w", err)
		}

		info, err := s.client.EnqueueContext(ctx, task)
		if err != nil {
			s.logger.Error("failed to enqueue delivery",
				"delivery_id", req.ID,
				"registration_id", req.Registration.ID(),
				"error", err,
			)
			return i, fmt.Errorf("failed to enqueue task: %w", err)
		}

		s.logger.Debug("delivery queued",
			"task_id", info.ID,
			"registration_id", req.Registration.ID(),
			"queue", info.Queue,
		)
	}
	return len(requests), nil
}
