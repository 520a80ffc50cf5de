package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/webhooks/internal/app"
	"github.com/openctemio/webhooks/internal/infra/http/middleware"
	"github.com/openctemio/webhooks/internal/infra/memory"
	"github.com/openctemio/webhooks/internal/infra/notification"
	"github.com/openctemio/webhooks/pkg/domain/webhook"
	"github.com/openctemio/webhooks/pkg/logger"
	"github.com/openctemio/webhooks/pkg/validator"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type recordingSender struct {
	mu       sync.Mutex
	requests []*webhook.DeliveryRequest
}

func (s *recordingSender) Send(_ context.Context, requests []*webhook.DeliveryRequest) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, requests...)
	return len(requests), nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

type testAPI struct {
	router http.Handler
	store  *memory.RegistrationStore
	sender *recordingSender
	log    *notification.DeliveryLog
}

// newTestAPI wires the handlers to an in-memory store. Callers identify
// themselves with the X-Test-User and X-Test-Role headers.
func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	log := logger.NewNop()
	v := validator.New()

	catalog, err := app.NewFilterCatalog(context.Background(), []webhook.FilterProvider{
		app.NewStaticFilterProvider(
			webhook.Filter{Name: "order.created", Description: "An order was created"},
			webhook.Filter{Name: "order.shipped", Description: "An order was shipped"},
		),
	}, log)
	require.NoError(t, err)

	store := memory.NewRegistrationStore()
	sender := &recordingSender{}
	deliveries, err := notification.NewDeliveryLog(100)
	require.NoError(t, err)

	regs := NewRegistrationHandler(
		app.NewRegistrationsManager(store, catalog, app.RegistrationsManagerConfig{MaxPerUser: 3}, log), v, log)
	notify := NewNotifyHandler(
		app.NewWebhookManager(store, sender, app.WebhookManagerConfig{}, log), v, log)
	dh := NewDeliveryHandler(deliveries, v, log)
	fh := NewFilterHandler(catalog)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if user := req.Header.Get("X-Test-User"); user != "" {
				req = req.WithContext(middleware.WithUser(req.Context(), user, req.Header.Get("X-Test-Role")))
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Get("/registrations", regs.List)
	r.Post("/registrations", regs.Create)
	r.Delete("/registrations", regs.DeleteAll)
	r.Get("/registrations/{id}", regs.Get)
	r.Put("/registrations/{id}", regs.Update)
	r.Delete("/registrations/{id}", regs.Delete)
	r.Post("/registrations/{id}/pause", regs.Pause)
	r.Post("/registrations/{id}/resume", regs.Resume)
	r.Get("/filters", fh.List)
	r.Post("/notify", notify.Notify)
	r.Post("/admin/notify", notify.Broadcast)
	r.Get("/deliveries", dh.List)
	r.Get("/deliveries/stats", dh.Stats)
	r.Get("/deliveries/{id}", dh.Get)

	return &testAPI{router: r, store: store, sender: sender, log: deliveries}
}

func (a *testAPI) do(t *testing.T, method, path, user string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestParseIfMatch(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"", ""},
		{"*", ""},
		{`"v1"`, "v1"},
		{`W/"v2"`, "v2"},
		{`"v3", "v4"`, "v3"},
		{" v5 ", "v5"},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			require.Equal(t, tt.want, parseIfMatch(tt.header))
		})
	}
}

func TestFormatETag(t *testing.T) {
	require.Equal(t, "", formatETag(""))
	require.Equal(t, `"abc"`, formatETag("abc"))
}

func TestParseQueryInt(t *testing.T) {
	require.Equal(t, 7, parseQueryInt("", 7))
	require.Equal(t, 7, parseQueryInt("x", 7))
	require.Equal(t, 12, parseQueryInt("12", 7))
}
