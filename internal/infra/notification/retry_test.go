package notification

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/webhooks/pkg/domain/shared"
	"github.com/openctemio/webhooks/pkg/domain/webhook"
	"github.com/openctemio/webhooks/pkg/logger"
)

func statusServer(t *testing.T, hits *atomic.Int32, status func(n int32) int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := hits.Add(1)
		w.WriteHeader(status(n))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDeliverer_RetriesUntilExhausted(t *testing.T) {
	var hits atomic.Int32
	srv := statusServer(t, &hits, func(int32) int { return http.StatusInternalServerError })

	out := newTestDeliverer(fastPolicy(3)).Deliver(context.Background(), newTestRequest(t, srv.URL, nil))

	assert.Equal(t, webhook.DeliveryFailed, out.Status)
	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, int32(3), hits.Load())
	assert.Equal(t, http.StatusInternalServerError, out.StatusCode)
	require.Len(t, out.Delays, 2)
	assert.Greater(t, out.Delays[1], out.Delays[0])
	assert.ErrorIs(t, out.Err(), shared.ErrDeliveryFailed)
}

func TestDeliverer_RejectedIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := statusServer(t, &hits, func(int32) int { return http.StatusGone })

	out := newTestDeliverer(fastPolicy(5)).Deliver(context.Background(), newTestRequest(t, srv.URL, nil))

	assert.Equal(t, webhook.DeliveryRejected, out.Status)
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, int32(1), hits.Load())
	assert.Empty(t, out.Delays)
}

func TestDeliverer_TransientThenSuccess(t *testing.T) {
	tests := []struct {
		name  string
		first int
	}{
		{"server error", http.StatusServiceUnavailable},
		{"rate limited", http.StatusTooManyRequests},
		{"request timeout", http.StatusRequestTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			srv := statusServer(t, &hits, func(n int32) int {
				if n == 1 {
					return tt.first
				}
				return http.StatusOK
			})

			out := newTestDeliverer(fastPolicy(3)).Deliver(context.Background(), newTestRequest(t, srv.URL, nil))
			assert.Equal(t, webhook.DeliveryDelivered, out.Status)
			assert.Equal(t, 2, out.Attempts)
			assert.Empty(t, out.Error)
			assert.NoError(t, out.Err())
		})
	}
}

func TestDeliverer_CancelStopsPendingRetries(t *testing.T) {
	var hits atomic.Int32
	srv := statusServer(t, &hits, func(int32) int { return http.StatusBadGateway })

	policy := fastPolicy(5)
	policy.InitialInterval = time.Second
	d := newTestDeliverer(policy)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	out := d.Deliver(ctx, newTestRequest(t, srv.URL, nil))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, webhook.DeliveryCancelled, out.Status)
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, int32(1), hits.Load())
}

func TestDeliverer_CancelledBeforeStart(t *testing.T) {
	var hits atomic.Int32
	srv := statusServer(t, &hits, func(int32) int { return http.StatusOK })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := newTestDeliverer(fastPolicy(3)).Deliver(ctx, newTestRequest(t, srv.URL, nil))
	assert.Equal(t, webhook.DeliveryCancelled, out.Status)
	assert.Zero(t, out.Attempts)
	assert.Zero(t, hits.Load())
}

func TestRetryPolicy_DelaysStrictlyIncrease(t *testing.T) {
	policy := RetryPolicy{
		MaxAttempts:     20,
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     100 * time.Millisecond,
		Multiplier:      1.5,
		Jitter:          0.9,
	}
	for run := 0; run < 50; run++ {
		b := policy.NewBackOff()
		prev := time.Duration(0)
		for i := 0; i < 20; i++ {
			d := b.NextBackOff()
			require.Greater(t, d, prev, "run %d step %d", run, i)
			prev = d
		}
	}
}

func TestRetryPolicy_DelayIndependentCallsIncrease(t *testing.T) {
	policies := []RetryPolicy{
		{MaxAttempts: 4, InitialInterval: time.Second, Multiplier: 2, Jitter: 0.1},
		{MaxAttempts: 12, InitialInterval: 100 * time.Millisecond, MaxInterval: 400 * time.Millisecond, Multiplier: 3, Jitter: 0.9},
		{MaxAttempts: 8, InitialInterval: time.Second, MaxInterval: 10 * time.Second, Multiplier: 1.05, Jitter: 0.5},
	}
	for _, p := range policies {
		for run := 0; run < 50; run++ {
			prev := time.Duration(0)
			for n := 1; n < p.MaxAttempts; n++ {
				d := p.Delay(n)
				require.Greater(t, d, prev, "policy %+v n=%d", p, n)
				prev = d
			}
		}
	}
}

func TestRetryPolicy_DelayFirstRetryWaits(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 4, InitialInterval: time.Second, Multiplier: 2, Jitter: 0.1}
	assert.GreaterOrEqual(t, p.Delay(1), time.Second)
	assert.GreaterOrEqual(t, p.Delay(0), time.Second)
	assert.GreaterOrEqual(t, p.Delay(3), 4*time.Second)
}

func TestRetryPolicy_Normalized(t *testing.T) {
	p := RetryPolicy{}.normalized()
	assert.Equal(t, DefaultRetryPolicy(), p)

	p = RetryPolicy{MaxAttempts: 7, InitialInterval: time.Minute, MaxInterval: time.Second}.normalized()
	assert.Equal(t, 7, p.MaxAttempts)
	assert.Equal(t, time.Minute, p.MaxInterval)
}

func TestHostLimiter(t *testing.T) {
	var nilLimiter *HostLimiter
	assert.NoError(t, nilLimiter.Wait(context.Background(), "https://a.example.com"))
	assert.NoError(t, NewHostLimiter(0, 0, 0).Wait(context.Background(), "https://a.example.com"))

	l := NewHostLimiter(0.001, 1, 0)
	require.NoError(t, l.Wait(context.Background(), "https://a.example.com/x"))
	require.NoError(t, l.Wait(context.Background(), "https://b.example.com/x"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(ctx, "https://A.example.com/y"))
	assert.Equal(t, 2, l.Hosts())
}

func TestDeliverer_LimiterWaitIsNotAnAttempt(t *testing.T) {
	var hits atomic.Int32
	srv := statusServer(t, &hits, func(int32) int { return http.StatusNoContent })

	tests := []struct {
		name   string
		ctx    func() (context.Context, context.CancelFunc)
		status webhook.DeliveryStatus
	}{
		{"cancelled while waiting", func() (context.Context, context.CancelFunc) {
			ctx, cancel := context.WithCancel(context.Background())
			time.AfterFunc(20*time.Millisecond, cancel)
			return ctx, cancel
		}, webhook.DeliveryCancelled},
		{"wait outlasts deadline", func() (context.Context, context.CancelFunc) {
			return context.WithTimeout(context.Background(), time.Second)
		}, webhook.DeliveryCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := NewHostLimiter(0.001, 1, 0)
			req := newTestRequest(t, srv.URL, nil)
			require.NoError(t, limiter.Wait(context.Background(), srv.URL))

			client := NewClient(ClientConfig{Timeout: 5 * time.Second, Policy: localPolicy})
			d := NewDeliverer(client, fastPolicy(3), limiter, logger.NewNop())

			ctx, cancel := tt.ctx()
			defer cancel()
			before := hits.Load()
			out := d.Deliver(ctx, req)

			assert.Equal(t, tt.status, out.Status)
			assert.Zero(t, out.Attempts)
			assert.Equal(t, before, hits.Load())
		})
	}
}

func TestHostLimiter_EvictsLeastRecentHost(t *testing.T) {
	l := NewHostLimiter(0.001, 1, 2)
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://a.example.com"))
	require.NoError(t, l.Wait(ctx, "https://b.example.com"))
	for i := range 50 {
		require.NoError(t, l.Wait(ctx, fmt.Sprintf("https://h%d.example.com", i)))
	}
	assert.Equal(t, 2, l.Hosts())

	// a was evicted, so its drained bucket is gone.
	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.NoError(t, l.Wait(short, "https://a.example.com"))
}
