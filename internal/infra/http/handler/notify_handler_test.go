package handler

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/webhooks/internal/app"
)

func TestNotifyHandler_Notify(t *testing.T) {
	api := newTestAPI(t)
	createRegistration(t, api, "u1")

	rec := api.do(t, http.MethodPost, "/notify", "u1", map[string]any{
		"action": "order.created",
		"data":   map[string]any{"order_id": 42},
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	result := decodeBody[app.DispatchResult](t, rec)
	assert.Equal(t, 1, result.Submitted)
	assert.Equal(t, 1, api.sender.count())
}

func TestNotifyHandler_Notify_NoMatch(t *testing.T) {
	api := newTestAPI(t)
	createRegistration(t, api, "u1")

	rec := api.do(t, http.MethodPost, "/notify", "u1", map[string]any{"action": "order.shipped"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 0, decodeBody[app.DispatchResult](t, rec).Submitted)
	assert.Equal(t, 0, api.sender.count())
}

func TestNotifyHandler_Notify_OnlyCallerRegistrations(t *testing.T) {
	api := newTestAPI(t)
	createRegistration(t, api, "u2")

	rec := api.do(t, http.MethodPost, "/notify", "u1", map[string]any{"action": "order.created"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 0, api.sender.count())
}

func TestNotifyHandler_Notify_Batch(t *testing.T) {
	api := newTestAPI(t)
	createRegistration(t, api, "u1")

	rec := api.do(t, http.MethodPost, "/notify", "u1", map[string]any{
		"notifications": []map[string]any{
			{"action": "order.created", "data": 1},
			{"action": "order.created", "data": 2},
		},
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	// Both notifications travel in one request.
	assert.Equal(t, 1, api.sender.count())
}

func TestNotifyHandler_Notify_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body any
	}{
		{"empty", map[string]any{}},
		{"padded action", map[string]any{"action": " order.created"}},
		{"batch entry without action", map[string]any{"notifications": []map[string]any{{"data": 1}}}},
		{"malformed", `{"action"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newTestAPI(t)
			rec := api.do(t, http.MethodPost, "/notify", "u1", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestNotifyHandler_Broadcast(t *testing.T) {
	api := newTestAPI(t)
	createRegistration(t, api, "u1")
	createRegistration(t, api, "u2")

	rec := api.do(t, http.MethodPost, "/admin/notify", "admin", map[string]any{"action": "order.created"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	result := decodeBody[app.DispatchResult](t, rec)
	assert.Equal(t, 2, result.Submitted)
	assert.Equal(t, 2, result.Users)
}

func TestNotifyHandler_Broadcast_RequiresAction(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(t, http.MethodPost, "/admin/notify", "admin", map[string]any{"data": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
