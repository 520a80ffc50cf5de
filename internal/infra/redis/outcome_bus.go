package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/openctemio/webhooks/pkg/domain/webhook"
	"github.com/openctemio/webhooks/pkg/logger"
)

// OutcomeBus publishes delivery outcomes over Redis pub/sub. Queue workers
// publish; API instances listen and feed their delivery log and streams.
type OutcomeBus struct {
	client  *Client
	channel string
	logger  *logger.Logger
}

// NewOutcomeBus creates a new OutcomeBus.
func NewOutcomeBus(client *Client, log *logger.Logger) *OutcomeBus {
	return &OutcomeBus{
		client:  client,
		channel: client.Key("outcomes"),
		logger:  log.With("component", "outcome_bus"),
	}
}

var _ webhook.DeliveryObserver = (*OutcomeBus)(nil)

// Channel returns the pub/sub channel name.
func (b *OutcomeBus) Channel() string {
	return b.channel
}

// Publish sends one outcome to every listener.
func (b *OutcomeBus) Publish(ctx context.Context, outcome webhook.DeliveryOutcome) error {
	data, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}
	if err := b.client.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("publish outcome: %w", err)
	}
	return nil
}

// OnDeliveryOutcome implements webhook.DeliveryObserver. Publish failures are
// logged; the delivery itself already completed.
func (b *OutcomeBus) OnDeliveryOutcome(ctx context.Context, outcome webhook.DeliveryOutcome) {
	if err := b.Publish(context.WithoutCancel(ctx), outcome); err != nil {
		b.logger.Warn("failed to publish delivery outcome",
			"delivery_id", outcome.DeliveryID,
			"error", err,
		)
	}
}

// Listen subscribes and forwards every received outcome to observer until ctx
// is done. It returns once the subscription is confirmed.
func (b *OutcomeBus) Listen(ctx context.Context, observer webhook.DeliveryObserver) error {
	pubsub := b.client.client.Subscribe(ctx, b.channel)

	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("subscribe to channel: %w", err)
	}

	b.logger.Info("listening for delivery outcomes", "channel", b.channel)
	go b.listenLoop(ctx, pubsub, observer)
	return nil
}

func (b *OutcomeBus) listenLoop(ctx context.Context, pubsub *redis.PubSub, observer webhook.DeliveryObserver) {
	defer func() { _ = pubsub.Close() }()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("outcome listener stopping")
			return

		case msg, ok := <-ch:
			if !ok {
				b.logger.Warn("pub/sub channel closed")
				return
			}

			var outcome webhook.DeliveryOutcome
			if err := json.Unmarshal([]byte(msg.Payload), &outcome); err != nil {
				b.logger.Error("failed to unmarshal outcome", "error", err)
				continue
			}
			observer.OnDeliveryOutcome(ctx, outcome)
		}
	}
}
