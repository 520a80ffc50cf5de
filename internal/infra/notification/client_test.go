package notification

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/webhooks/pkg/crypto"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		status int
		want   AttemptClass
	}{
		{200, AttemptDelivered},
		{202, AttemptDelivered},
		{204, AttemptDelivered},
		{301, AttemptRejected},
		{400, AttemptRejected},
		{404, AttemptRejected},
		{410, AttemptRejected},
		{408, AttemptTransient},
		{429, AttemptTransient},
		{500, AttemptTransient},
		{503, AttemptTransient},
	}
	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.status))
		})
	}
}

func TestClient_Attempt_SignedPayload(t *testing.T) {
	var (
		gotBody   []byte
		gotHeader http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotHeader = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	req := newTestRequest(t, srv.URL, map[string]any{"orderId": 42})
	client := NewClient(ClientConfig{Timeout: 5 * time.Second, Policy: localPolicy, UserAgent: "test-agent"})

	res := client.Attempt(context.Background(), req, 1)
	require.NoError(t, res.Err)
	assert.Equal(t, AttemptDelivered, res.Class)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	assert.JSONEq(t, `{"action":"order.created","data":{"orderId":42}}`, string(gotBody))
	assert.True(t, crypto.VerifySignature(gotBody, testSecret, gotHeader.Get(HeaderSignature)))
	assert.Equal(t, crypto.Sign(gotBody, testSecret), gotHeader.Get(HeaderSignature))
	assert.Equal(t, "application/json", gotHeader.Get("Content-Type"))
	assert.Equal(t, "test-agent", gotHeader.Get("User-Agent"))
	assert.Equal(t, req.ID, gotHeader.Get(HeaderID))
	assert.Equal(t, "1", gotHeader.Get(HeaderAttempt))
	assert.NotEmpty(t, gotHeader.Get(HeaderTimestamp))
	assert.Equal(t, "acme", gotHeader.Get("X-Tenant"))
}

func TestClient_Attempt_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{Policy: localPolicy})
	res := client.Attempt(context.Background(), newTestRequest(t, srv.URL, nil), 1)
	assert.Equal(t, AttemptRejected, res.Class)
	assert.Equal(t, http.StatusGone, res.StatusCode)
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "410")
}

func TestClient_Attempt_BlockedAddress(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{})
	res := client.Attempt(context.Background(), newTestRequest(t, srv.URL, nil), 1)
	assert.Equal(t, AttemptRejected, res.Class)
	assert.ErrorIs(t, res.Err, ErrBlockedAddress)
	assert.Zero(t, hits)
}

func TestClient_Attempt_ConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	client := NewClient(ClientConfig{Policy: localPolicy})
	res := client.Attempt(context.Background(), newTestRequest(t, url, nil), 1)
	assert.Equal(t, AttemptTransient, res.Class)
	assert.Error(t, res.Err)
}

func TestClient_DoesNotFollowRedirects(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer target.Close()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target.URL, http.StatusTemporaryRedirect)
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{Policy: localPolicy})
	res := client.Attempt(context.Background(), newTestRequest(t, srv.URL, nil), 1)
	assert.Equal(t, AttemptRejected, res.Class)
	assert.Equal(t, http.StatusTemporaryRedirect, res.StatusCode)
}
