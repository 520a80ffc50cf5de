package middleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/openctemio/webhooks/internal/config"
	redisinfra "github.com/openctemio/webhooks/internal/infra/redis"
	"github.com/openctemio/webhooks/pkg/apierror"
	"github.com/openctemio/webhooks/pkg/logger"
)

// decision is the outcome of one rate limit check, in the terms of the
// X-RateLimit-* headers.
type decision struct {
	allowed    bool
	limit      int
	remaining  int
	resetAt    time.Time
	retryAfter time.Duration
}

// apply writes the rate limit headers and, when denied, the 429 envelope.
// It reports whether the request may proceed.
func (d decision) apply(w http.ResponseWriter) bool {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.limit))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.resetAt.Unix(), 10))
	if d.allowed {
		h.Set("X-RateLimit-Remaining", strconv.Itoa(d.remaining))
		return true
	}
	h.Set("X-RateLimit-Remaining", "0")
	h.Set("Retry-After", strconv.Itoa(max(1, int(math.Ceil(d.retryAfter.Seconds())))))
	apierror.RateLimitExceeded().WriteJSON(w)
	return false
}

// RateLimiter is a per-client token bucket held in process memory. Buckets
// idle for three cleanup intervals are forgotten.
type RateLimiter struct {
	rate    rate.Limit
	burst   int
	idle    time.Duration
	log     *logger.Logger
	mu      sync.Mutex
	buckets map[string]*bucket

	stop     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

type bucket struct {
	*rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter starts the bucket sweeper. Call Stop to end it.
func NewRateLimiter(cfg *config.RateLimitConfig, log *logger.Logger) *RateLimiter {
	every := cfg.CleanupInterval
	if every <= 0 {
		every = time.Minute
	}
	rl := &RateLimiter{
		rate:    rate.Limit(cfg.RequestsPerSec),
		burst:   cfg.Burst,
		idle:    3 * every,
		log:     log,
		buckets: make(map[string]*bucket),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go rl.sweep(every)
	return rl
}

// Stop ends the sweeper and waits for it. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
	<-rl.stopped
}

// Visitors is the number of live buckets.
func (rl *RateLimiter) Visitors() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

func (rl *RateLimiter) sweep(every time.Duration) {
	defer close(rl.stopped)
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case now := <-t.C:
			rl.mu.Lock()
			for key, b := range rl.buckets {
				if now.Sub(b.lastSeen) > rl.idle {
					delete(rl.buckets, key)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// take consumes one token from key's bucket.
func (rl *RateLimiter) take(key string) decision {
	now := time.Now()

	rl.mu.Lock()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{Limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	rl.mu.Unlock()

	tokens := b.TokensAt(now)
	d := decision{
		allowed:    b.AllowN(now, 1),
		limit:      rl.burst,
		remaining:  max(0, int(math.Floor(tokens))-1),
		resetAt:    now,
		retryAfter: time.Second,
	}
	if missing := float64(rl.burst) - tokens; missing > 0 && rl.rate > 0 {
		d.resetAt = now.Add(time.Duration(missing / float64(rl.rate) * float64(time.Second)))
	}
	return d
}

// Middleware limits each ClientKey independently.
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := ClientKey(r)
			if !rl.take(key).apply(w) {
				rl.log.Warn("rate limit exceeded", "key", key, "path", r.URL.Path,
					"request_id", GetRequestID(r.Context()))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitWithStop returns the in-process limiter and its stop function, or
// a pass-through when rate limiting is disabled.
func RateLimitWithStop(cfg *config.RateLimitConfig, log *logger.Logger) (func(http.Handler) http.Handler, func()) {
	if !cfg.Enabled {
		return func(next http.Handler) http.Handler { return next }, func() {}
	}
	rl := NewRateLimiter(cfg, log)
	return rl.Middleware(), rl.Stop
}

// ClientKey is "user:<id>" for authenticated requests and "ip:<addr>" otherwise.
func ClientKey(r *http.Request) string {
	if userID := GetUserID(r.Context()); userID != "" {
		return "user:" + userID
	}
	return "ip:" + clientIP(r)
}

// clientIP prefers X-Real-IP, then the first X-Forwarded-For hop.
func clientIP(r *http.Request) string {
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Limiter is a limiter shared between instances, e.g. the Redis sliding window.
type Limiter interface {
	Allow(ctx context.Context, key string) (*redisinfra.RateLimitResult, error)
	Limit() int
}

// DistributedRateLimitConfig configures DistributedRateLimit.
type DistributedRateLimitConfig struct {
	Limiter  Limiter
	KeyFunc  func(r *http.Request) string // defaults to ClientKey
	SkipFunc func(r *http.Request) bool
	Logger   *logger.Logger
}

// DistributedRateLimit enforces a limit shared by every instance. It fails
// open when the limiter cannot be reached.
func DistributedRateLimit(cfg DistributedRateLimitConfig) func(http.Handler) http.Handler {
	keyOf := cfg.KeyFunc
	if keyOf == nil {
		keyOf = ClientKey
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.SkipFunc != nil && cfg.SkipFunc(r) {
				next.ServeHTTP(w, r)
				return
			}

			key := keyOf(r)
			res, err := cfg.Limiter.Allow(r.Context(), key)
			if err != nil {
				log.Error("distributed rate limit check failed", "key", key, "error", err,
					"request_id", GetRequestID(r.Context()))
				next.ServeHTTP(w, r)
				return
			}

			d := decision{
				allowed:    res.Allowed,
				limit:      cfg.Limiter.Limit(),
				remaining:  res.Remaining,
				resetAt:    res.ResetAt,
				retryAfter: time.Until(res.RetryAt),
			}
			if !d.apply(w) {
				log.Warn("distributed rate limit exceeded", "key", key, "retry_at", res.RetryAt,
					"request_id", GetRequestID(r.Context()))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
