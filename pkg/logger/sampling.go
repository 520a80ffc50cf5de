package logger

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// SamplingConfig thins out repeated info and debug records. Records at warn
// and above are never sampled.
type SamplingConfig struct {
	Enabled bool
	// Tick is the window after which counters reset.
	Tick time.Duration
	// First records with the same level and message pass per tick.
	First int
	// Thereafter every Nth repeat passes. Zero drops every repeat.
	Thereafter int
	// MaxKeys bounds the number of tracked messages. Once reached, unseen
	// messages pass unsampled until the next tick.
	MaxKeys int
}

func (c SamplingConfig) withDefaults() SamplingConfig {
	if c.Tick <= 0 {
		c.Tick = time.Second
	}
	if c.First <= 0 {
		c.First = 100
	}
	if c.Thereafter < 0 {
		c.Thereafter = 0
	}
	if c.MaxKeys <= 0 {
		c.MaxKeys = 10000
	}
	return c
}

type sampleKey struct {
	level slog.Level
	msg   string
}

// sampler is shared by every handler derived through WithAttrs/WithGroup.
type sampler struct {
	cfg     SamplingConfig
	now     func() time.Time
	mu      sync.Mutex
	resetAt time.Time
	counts  map[sampleKey]int
}

func (s *sampler) allow(level slog.Level, msg string) bool {
	if level >= slog.LevelWarn {
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if now := s.now(); now.After(s.resetAt) {
		s.resetAt = now.Add(s.cfg.Tick)
		clear(s.counts)
	}

	k := sampleKey{level, msg}
	n, seen := s.counts[k]
	if !seen && len(s.counts) >= s.cfg.MaxKeys {
		return true
	}
	n++
	s.counts[k] = n

	if n <= s.cfg.First {
		return true
	}
	return s.cfg.Thereafter > 0 && (n-s.cfg.First)%s.cfg.Thereafter == 0
}

type samplingHandler struct {
	next    slog.Handler
	sampler *sampler
}

// NewSamplingHandler wraps h. A disabled config returns h unchanged.
func NewSamplingHandler(h slog.Handler, cfg SamplingConfig) slog.Handler {
	if !cfg.Enabled {
		return h
	}
	return &samplingHandler{
		next: h,
		sampler: &sampler{
			cfg:    cfg.withDefaults(),
			now:    time.Now,
			counts: make(map[sampleKey]int),
		},
	}
}

func (h *samplingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *samplingHandler) Handle(ctx context.Context, r slog.Record) error {
	if !h.sampler.allow(r.Level, r.Message) {
		return nil
	}
	return h.next.Handle(ctx, r)
}

func (h *samplingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &samplingHandler{next: h.next.WithAttrs(attrs), sampler: h.sampler}
}

func (h *samplingHandler) WithGroup(name string) slog.Handler {
	return &samplingHandler{next: h.next.WithGroup(name), sampler: h.sampler}
}
