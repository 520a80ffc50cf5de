package notification

import (
	"context"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/openctemio/webhooks/pkg/domain/webhook"
)

// DefaultDeliveryLogSize is used when NewDeliveryLog is given a non-positive size.
const DefaultDeliveryLogSize = 10000

// DeliveryStats summarizes outcomes held in the log.
type DeliveryStats struct {
	Total    int                            `json:"total"`
	ByStatus map[webhook.DeliveryStatus]int `json:"by_status"`
	Attempts int                            `json:"attempts"`
	OldestAt *time.Time                     `json:"oldest_at,omitempty"`
	NewestAt *time.Time                     `json:"newest_at,omitempty"`
}

// DeliveryLog keeps recent outcomes in a bounded LRU cache keyed by
// delivery ID. It is an observer and is fed by the sender.
type DeliveryLog struct {
	cache *lru.Cache[string, webhook.DeliveryOutcome]
}

// NewDeliveryLog creates a log retaining at most size outcomes.
func NewDeliveryLog(size int) (*DeliveryLog, error) {
	if size <= 0 {
		size = DefaultDeliveryLogSize
	}
	cache, err := lru.New[string, webhook.DeliveryOutcome](size)
	if err != nil {
		return nil, err
	}
	return &DeliveryLog{cache: cache}, nil
}

// OnDeliveryOutcome implements webhook.DeliveryObserver.
func (l *DeliveryLog) OnDeliveryOutcome(_ context.Context, out webhook.DeliveryOutcome) {
	l.cache.Add(out.DeliveryID, out)
}

// Get returns an outcome by delivery ID.
func (l *DeliveryLog) Get(id string) (webhook.DeliveryOutcome, bool) {
	return l.cache.Get(id)
}

// ListByUser returns the user's outcomes, newest first. A limit of zero
// returns all of them.
func (l *DeliveryLog) ListByUser(userID string, status webhook.DeliveryStatus, limit int) []webhook.DeliveryOutcome {
	var out []webhook.DeliveryOutcome
	for _, o := range l.cache.Values() {
		if userID != "" && o.UserID != userID {
			continue
		}
		if status != "" && o.Status != status {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CompletedAt.After(out[j].CompletedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Stats summarizes the user's outcomes, or all outcomes when userID is empty.
func (l *DeliveryLog) Stats(userID string) DeliveryStats {
	stats := DeliveryStats{ByStatus: make(map[webhook.DeliveryStatus]int)}
	for _, o := range l.cache.Values() {
		if userID != "" && o.UserID != userID {
			continue
		}
		stats.Total++
		stats.ByStatus[o.Status]++
		stats.Attempts += o.Attempts
		at := o.CompletedAt
		if stats.OldestAt == nil || at.Before(*stats.OldestAt) {
			stats.OldestAt = &at
		}
		if stats.NewestAt == nil || at.After(*stats.NewestAt) {
			stats.NewestAt = &at
		}
	}
	return stats
}

// Prune drops outcomes completed before now minus retention and returns how
// many were removed.
func (l *DeliveryLog) Prune(retention time.Duration) int {
	if retention <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-retention)
	removed := 0
	for _, id := range l.cache.Keys() {
		o, ok := l.cache.Peek(id)
		if ok && o.CompletedAt.Before(cutoff) {
			l.cache.Remove(id)
			removed++
		}
	}
	return removed
}

// Len returns the number of outcomes held.
func (l *DeliveryLog) Len() int { return l.cache.Len() }
