package notification

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/openctemio/webhooks/pkg/domain/webhook"
	"github.com/openctemio/webhooks/pkg/logger"
)

// maxRetryWindow bounds the total time spent retrying one delivery.
const maxRetryWindow = 24 * time.Hour

// RetryPolicy controls how transient failures are retried.
type RetryPolicy struct {
	// MaxAttempts includes the first attempt.
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// Jitter is the randomization factor in [0, 1).
	Jitter float64
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: time.Second,
		MaxInterval:     5 * time.Minute,
		Multiplier:      2,
		Jitter:          0.2,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = d.InitialInterval
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = d.MaxInterval
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = p.InitialInterval
	}
	if p.Multiplier <= 1 {
		p.Multiplier = d.Multiplier
	}
	if p.Jitter < 0 || p.Jitter >= 1 {
		p.Jitter = d.Jitter
	}
	return p
}

// NewBackOff returns a fresh backoff sequence for one delivery.
func (p RetryPolicy) NewBackOff() backoff.BackOff {
	p = p.normalized()
	exp := &backoff.ExponentialBackOff{
		InitialInterval:     p.InitialInterval,
		RandomizationFactor: p.Jitter,
		Multiplier:          p.Multiplier,
		MaxInterval:         p.MaxInterval,
	}
	exp.Reset()
	return &increasingBackOff{inner: exp}
}

// Delay returns the wait after the n-th failed attempt (n >= 1), for callers
// that schedule retries themselves and cannot keep a BackOff between
// attempts. The base schedule follows NewBackOff without randomization, and
// the jitter added on top stays below half the smallest step of that
// schedule, so Delay(n+1) > Delay(n) holds for independent calls.
func (p RetryPolicy) Delay(n int) time.Duration {
	p = p.normalized()
	n = max(n, 1)

	// Past MaxInterval the schedule keeps growing by at least ratio-1, the
	// same way increasingBackOff does.
	ratio := min(p.Multiplier, 1.1)
	base := p.InitialInterval
	for range n - 1 {
		if base >= maxRetryWindow {
			break
		}
		next := min(time.Duration(float64(base)*p.Multiplier), p.MaxInterval)
		floor := base + max(time.Duration(float64(base)*(ratio-1)), time.Millisecond)
		base = max(next, floor)
	}

	spread := min(p.Jitter, (ratio-1)/2)
	return base + time.Duration(rand.Float64()*spread*float64(base))
}

// increasingBackOff makes every delay strictly larger than the previous one.
// Jitter and the interval cap can otherwise produce equal or shorter waits.
type increasingBackOff struct {
	inner backoff.BackOff
	prev  time.Duration
}

func (b *increasingBackOff) NextBackOff() time.Duration {
	d := b.inner.NextBackOff()
	if d == backoff.Stop {
		return d
	}
	if d <= b.prev {
		step := b.prev / 10
		if step < time.Millisecond {
			step = time.Millisecond
		}
		d = b.prev + step
	}
	b.prev = d
	return d
}

func (b *increasingBackOff) Reset() {
	b.inner.Reset()
	b.prev = 0
}

// Deliverer runs the attempt/retry loop for one request.
type Deliverer struct {
	client  *Client
	policy  RetryPolicy
	limiter *HostLimiter
	logger  *logger.Logger
	tracer  trace.Tracer
}

// NewDeliverer creates a Deliverer. limiter may be nil.
func NewDeliverer(client *Client, policy RetryPolicy, limiter *HostLimiter, log *logger.Logger) *Deliverer {
	return &Deliverer{
		client:  client,
		policy:  policy.normalized(),
		limiter: limiter,
		logger:  log.With("component", "deliverer"),
		tracer:  otel.Tracer("github.com/openctemio/webhooks/internal/infra/notification"),
	}
}

// Policy returns the effective retry policy.
func (d *Deliverer) Policy() RetryPolicy { return d.policy }

// AttemptOnce waits for the host limiter and performs one attempt. ctx only
// bounds the wait; a started request runs to completion or its own timeout.
func (d *Deliverer) AttemptOnce(ctx context.Context, req *webhook.DeliveryRequest, attempt int) AttemptResult {
	if err := d.waitHost(ctx, req); err != nil {
		return AttemptResult{Class: AttemptTransient, Err: err}
	}
	return d.client.Attempt(context.WithoutCancel(ctx), req, attempt)
}

// waitHost blocks on the host limiter. Its errors match context.Canceled or
// context.DeadlineExceeded, including a wait the limiter refuses because it
// would outlast the deadline.
func (d *Deliverer) waitHost(ctx context.Context, req *webhook.DeliveryRequest) error {
	err := d.limiter.Wait(ctx, req.Registration.CallbackURI())
	switch {
	case err == nil:
		return ctx.Err()
	case ctx.Err() != nil:
		return fmt.Errorf("rate limit wait: %w", ctx.Err())
	default:
		return fmt.Errorf("rate limit wait: %w: %w", context.DeadlineExceeded, err)
	}
}

// Deliver attempts req until it is delivered, rejected, out of attempts or
// ctx is cancelled. Cancellation stops pending retries but does not abort an
// attempt already on the wire.
func (d *Deliverer) Deliver(ctx context.Context, req *webhook.DeliveryRequest) webhook.DeliveryOutcome {
	ctx, span := d.tracer.Start(ctx, "webhooks.deliver", trace.WithAttributes(
		attribute.String("webhook.delivery_id", req.ID),
		attribute.String("webhook.registration_id", req.Registration.ID()),
	))
	defer span.End()

	outcome := webhook.NewOutcome(req)
	var last AttemptResult

	operation := func() (AttemptResult, error) {
		// Only requests that reach the wire count as attempts.
		if err := d.waitHost(ctx, req); err != nil {
			return last, backoff.Permanent(err)
		}
		outcome.Attempts++
		last = d.client.Attempt(context.WithoutCancel(ctx), req, outcome.Attempts)
		switch last.Class {
		case AttemptDelivered:
			return last, nil
		case AttemptRejected:
			return last, backoff.Permanent(last.Err)
		default:
			return last, last.Err
		}
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(d.policy.NewBackOff()),
		backoff.WithMaxTries(uint(d.policy.MaxAttempts)), //nolint:gosec // normalized to a positive value
		backoff.WithMaxElapsedTime(maxRetryWindow),
		backoff.WithNotify(func(err error, next time.Duration) {
			outcome.Delays = append(outcome.Delays, next)
			d.logger.Debug("delivery attempt failed, retrying",
				"delivery_id", req.ID,
				"attempt", outcome.Attempts,
				"next_in", next,
				"error", err,
			)
		}),
	)

	outcome.StatusCode = last.StatusCode
	outcome.CompletedAt = time.Now().UTC()
	switch {
	case err == nil:
		outcome.Status = webhook.DeliveryDelivered
	case last.Class == AttemptRejected:
		outcome.Status = webhook.DeliveryRejected
		outcome.Error = last.Err.Error()
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		outcome.Status = webhook.DeliveryCancelled
		outcome.Error = err.Error()
	default:
		outcome.Status = webhook.DeliveryFailed
		outcome.Error = err.Error()
	}

	span.SetAttributes(
		attribute.String("webhook.status", string(outcome.Status)),
		attribute.Int("webhook.attempts", outcome.Attempts),
	)
	if !outcome.Succeeded() {
		span.SetStatus(codes.Error, outcome.Error)
	}
	return outcome
}
