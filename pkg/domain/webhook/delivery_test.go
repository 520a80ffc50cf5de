package webhook

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/webhooks/pkg/domain/shared"
)

func TestDeliveryRequest_SingleNotificationBody(t *testing.T) {
	r := NewRegistration(RegistrationParams{ID: "r1", UserID: "u1", CallbackURI: "https://example.com/hook", Filters: []string{"order.created"}})
	n, err := NewNotification("order.created", map[string]any{"orderId": 42})
	require.NoError(t, err)

	req := NewDeliveryRequest(r, []Notification{n})
	body, err := req.Body(1)
	require.NoError(t, err)

	assert.Equal(t, `{"action":"order.created","data":{"orderId":42}}`, string(body))
	assert.NotEmpty(t, req.ID)
	assert.Equal(t, []string{"order.created"}, req.Actions())
}

func TestDeliveryRequest_BatchedEnvelope(t *testing.T) {
	r := NewRegistration(RegistrationParams{
		UserID:     "u1",
		Filters:    []string{"*"},
		Properties: map[string]any{"team": "billing"},
	})
	a, _ := NewNotification("a", 1)
	b, _ := NewNotification("b", nil)

	req := NewDeliveryRequest(r, []Notification{a, b})
	body, err := req.Body(2)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, req.ID, got["id"])
	assert.EqualValues(t, 2, got["attempt"])
	assert.Equal(t, map[string]any{"team": "billing"}, got["properties"])
	assert.Len(t, got["notifications"], 2)
}

func TestNewNotification_IsolatedFromCaller(t *testing.T) {
	data := map[string]any{"orderId": 42}
	n, err := NewNotification("order.created", data)
	require.NoError(t, err)

	data["orderId"] = 43
	assert.JSONEq(t, `{"orderId":42}`, string(n.Data))
}

func TestNewDeliveryRequest_CopiesPayloadPerRequest(t *testing.T) {
	r := NewRegistration(RegistrationParams{UserID: "u1", Filters: []string{"*"}})
	n, _ := NewNotification("a", map[string]any{"k": "v"})

	first := NewDeliveryRequest(r, []Notification{n})
	second := NewDeliveryRequest(r, []Notification{n})
	first.Notifications[0].Data[2] = 'X'

	assert.JSONEq(t, `{"k":"v"}`, string(second.Notifications[0].Data))
	assert.NotEqual(t, first.ID, second.ID)
}

func TestNewNotification_Unserializable(t *testing.T) {
	_, err := NewNotification("a", make(chan int))
	assert.True(t, errors.Is(err, shared.ErrValidation))
}

func TestDeliveryOutcome_Err(t *testing.T) {
	r := NewRegistration(RegistrationParams{UserID: "u1", CallbackURI: "https://example.com", Filters: []string{"*"}})
	o := NewOutcome(NewDeliveryRequest(r, nil))

	o.Status = DeliveryDelivered
	assert.NoError(t, o.Err())

	o.Status = DeliveryFailed
	o.Attempts = 3
	assert.ErrorIs(t, o.Err(), shared.ErrDeliveryFailed)
}
