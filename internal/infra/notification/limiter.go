package notification

import (
	"context"
	"net/url"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// DefaultMaxLimitedHosts bounds how many hosts HostLimiter tracks at once.
const DefaultMaxLimitedHosts = 10000

// HostLimiter spaces out requests per callback host so that one slow or
// busy subscriber cannot be flooded by bursts of events. Limiters live in an
// LRU cache; an evicted host starts again with a full bucket.
type HostLimiter struct {
	limit    rate.Limit
	burst    int
	limiters *lru.Cache[string, *rate.Limiter]
}

// NewHostLimiter creates a limiter allowing perSecond requests per host and
// tracking at most maxHosts hosts. A non-positive rate disables limiting.
func NewHostLimiter(perSecond float64, burst, maxHosts int) *HostLimiter {
	if burst <= 0 {
		burst = 1
	}
	if maxHosts <= 0 {
		maxHosts = DefaultMaxLimitedHosts
	}
	limiters, _ := lru.New[string, *rate.Limiter](maxHosts) // size is positive
	return &HostLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: limiters,
	}
}

// Wait blocks until a request to callbackURI may proceed or ctx is done.
func (l *HostLimiter) Wait(ctx context.Context, callbackURI string) error {
	if l == nil || l.limit <= 0 {
		return nil
	}
	return l.get(hostOf(callbackURI)).Wait(ctx)
}

func (l *HostLimiter) get(host string) *rate.Limiter {
	if lim, ok := l.limiters.Get(host); ok {
		return lim
	}
	lim := rate.NewLimiter(l.limit, l.burst)
	if prev, ok, _ := l.limiters.PeekOrAdd(host, lim); ok {
		return prev
	}
	return lim
}

// Hosts returns the number of hosts being tracked.
func (l *HostLimiter) Hosts() int {
	return l.limiters.Len()
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return strings.ToLower(u.Host)
}
