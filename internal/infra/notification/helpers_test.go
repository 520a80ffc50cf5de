package notification

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openctemio/webhooks/pkg/domain/webhook"
	"github.com/openctemio/webhooks/pkg/logger"
)

const testSecret = "0123456789abcdef0123456789abcdef"

var localPolicy = webhook.CallbackPolicy{AllowPrivateNetworks: true, AllowHTTP: true}

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     attempts,
		InitialInterval: 5 * time.Millisecond,
		MaxInterval:     time.Second,
		Multiplier:      2,
		Jitter:          0.2,
	}
}

func newTestRequest(t *testing.T, callback string, data any) *webhook.DeliveryRequest {
	t.Helper()
	r := webhook.NewRegistration(webhook.RegistrationParams{
		ID:          "r1",
		UserID:      "u1",
		CallbackURI: callback,
		Secret:      testSecret,
		Filters:     []string{"order.created"},
		Headers:     map[string]string{"X-Tenant": "acme"},
	})
	n, err := webhook.NewNotification("order.created", data)
	require.NoError(t, err)
	return webhook.NewDeliveryRequest(r, []webhook.Notification{n})
}

func newTestDeliverer(policy RetryPolicy) *Deliverer {
	client := NewClient(ClientConfig{Timeout: 5 * time.Second, Policy: localPolicy})
	return NewDeliverer(client, policy, nil, logger.NewNop())
}
