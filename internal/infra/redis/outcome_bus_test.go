package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/webhooks/pkg/domain/webhook"
	"github.com/openctemio/webhooks/pkg/logger"
)

type collectingObserver struct {
	mu       sync.Mutex
	outcomes []webhook.DeliveryOutcome
}

func (c *collectingObserver) OnDeliveryOutcome(_ context.Context, o webhook.DeliveryOutcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcomes = append(c.outcomes, o)
}

func (c *collectingObserver) snapshot() []webhook.DeliveryOutcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]webhook.DeliveryOutcome(nil), c.outcomes...)
}

func TestOutcomeBus_PublishListen(t *testing.T) {
	client, _ := newTestClient(t)
	bus := NewOutcomeBus(client, logger.NewNop())
	assert.Equal(t, "test:outcomes", bus.Channel())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	obs := &collectingObserver{}
	require.NoError(t, bus.Listen(ctx, obs))

	sent := webhook.DeliveryOutcome{
		DeliveryID:     "d1",
		RegistrationID: "r1",
		UserID:         "u1",
		CallbackURI:    "https://hooks.example.com/orders",
		Actions:        []string{"order.created"},
		Status:         webhook.DeliveryDelivered,
		Attempts:       2,
		StatusCode:     200,
		Delays:         []time.Duration{time.Second},
	}
	bus.OnDeliveryOutcome(ctx, sent)

	require.Eventually(t, func() bool { return len(obs.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	got := obs.snapshot()[0]
	assert.Equal(t, sent.DeliveryID, got.DeliveryID)
	assert.Equal(t, sent.Status, got.Status)
	assert.Equal(t, sent.Attempts, got.Attempts)
	assert.Equal(t, sent.Delays, got.Delays)
}

func TestOutcomeBus_PublishUnavailable(t *testing.T) {
	client, mr := newTestClient(t)
	bus := NewOutcomeBus(client, logger.NewNop())
	mr.Close()

	assert.Error(t, bus.Publish(context.Background(), webhook.DeliveryOutcome{DeliveryID: "d1"}))
	// Observer path only logs.
	bus.OnDeliveryOutcome(context.Background(), webhook.DeliveryOutcome{DeliveryID: "d1"})
}
