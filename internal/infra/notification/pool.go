package notification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/openctemio/webhooks/internal/metrics"
	"github.com/openctemio/webhooks/pkg/domain/webhook"
	"github.com/openctemio/webhooks/pkg/logger"
)

// ErrSenderClosed is returned by Send after Shutdown.
var ErrSenderClosed = errors.New("sender is closed")

// Runner carries one request through to a terminal outcome.
type Runner interface {
	Deliver(ctx context.Context, req *webhook.DeliveryRequest) webhook.DeliveryOutcome
}

var _ Runner = (*Deliverer)(nil)

// PoolSenderConfig configures the worker pool.
type PoolSenderConfig struct {
	Workers   int
	QueueSize int
}

// PoolSender delivers requests in-process with a fixed number of workers
// reading from a bounded queue.
type PoolSender struct {
	runner   Runner
	observer webhook.DeliveryObserver
	config   PoolSenderConfig
	logger   *logger.Logger

	queue chan *webhook.DeliveryRequest

	// stopping is closed as Shutdown begins so that blocked Sends release
	// their read lock before Shutdown takes the write lock.
	stopping chan struct{}
	stopOnce sync.Once

	mu     sync.RWMutex
	closed bool

	ctx     context.Context
	cancel  context.CancelFunc
	group   *errgroup.Group
	started bool
}

var _ webhook.Sender = (*PoolSender)(nil)

// NewPoolSender creates a PoolSender. Workers are started by Start.
func NewPoolSender(runner Runner, observer webhook.DeliveryObserver, cfg PoolSenderConfig, log *logger.Logger) *PoolSender {
	if cfg.Workers <= 0 {
		cfg.Workers = 10
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.Workers * 100
	}
	if observer == nil {
		observer = webhook.DeliveryObserverFunc(func(context.Context, webhook.DeliveryOutcome) {})
	}
	return &PoolSender{
		runner:   runner,
		observer: observer,
		config:   cfg,
		logger:   log.With("service", "pool_sender"),
		queue:    make(chan *webhook.DeliveryRequest, cfg.QueueSize),
		stopping: make(chan struct{}),
	}
}

// Start launches the workers. Cancelling ctx stops queued deliveries from
// starting and abandons pending retries.
func (s *PoolSender) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.group, _ = errgroup.WithContext(s.ctx)

	for i := 0; i < s.config.Workers; i++ {
		s.group.Go(func() error {
			for req := range s.queue {
				metrics.SenderQueueDepth.Dec()
				s.process(req)
			}
			return nil
		})
	}
	s.logger.Info("pool sender started", "workers", s.config.Workers, "queue_size", s.config.QueueSize)
}

// Send enqueues requests, blocking while the queue is full. It returns the
// number accepted when ctx is cancelled or the sender shuts down first.
func (s *PoolSender) Send(ctx context.Context, requests []*webhook.DeliveryRequest) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed || !s.started {
		return 0, ErrSenderClosed
	}

	for i, req := range requests {
		select {
		case <-s.stopping:
			return i, ErrSenderClosed
		default:
		}
		select {
		case s.queue <- req:
			metrics.SenderQueueDepth.Inc()
		case <-ctx.Done():
			return i, ctx.Err()
		case <-s.stopping:
			return i, ErrSenderClosed
		case <-s.ctx.Done():
			return i, ErrSenderClosed
		}
	}
	return len(requests), nil
}

// Pending returns the number of queued requests not yet picked up.
func (s *PoolSender) Pending() int {
	return len(s.queue)
}

// Shutdown stops accepting requests and waits for queued deliveries to
// finish. When ctx expires first, remaining deliveries are cancelled and
// reported as such.
func (s *PoolSender) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopping) })
	s.mu.Lock()
	if s.closed || !s.started {
		s.closed = true
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- s.group.Wait() }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		s.logger.Warn("shutdown deadline reached, cancelling pending deliveries", "pending", len(s.queue))
		s.cancel()
		err = multierr.Append(<-done, fmt.Errorf("pool sender shutdown: %w", ctx.Err()))
	}
	s.cancel()
	s.logger.Info("pool sender stopped")
	return err
}

func (s *PoolSender) process(req *webhook.DeliveryRequest) {
	var outcome webhook.DeliveryOutcome
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic during delivery",
				"delivery_id", req.ID,
				"registration_id", req.Registration.ID(),
				"panic", r,
			)
			outcome = webhook.NewOutcome(req)
			outcome.Status = webhook.DeliveryFailed
			outcome.Error = fmt.Sprintf("panic: %v", r)
			outcome.CompletedAt = time.Now().UTC()
		}
		s.report(outcome)
	}()

	if err := s.ctx.Err(); err != nil {
		outcome = webhook.NewOutcome(req)
		outcome.Status = webhook.DeliveryCancelled
		outcome.Error = err.Error()
		outcome.CompletedAt = time.Now().UTC()
		return
	}
	outcome = s.runner.Deliver(s.ctx, req)
}

func (s *PoolSender) report(outcome webhook.DeliveryOutcome) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in delivery observer", "delivery_id", outcome.DeliveryID, "panic", r)
		}
	}()
	s.observer.OnDeliveryOutcome(context.WithoutCancel(s.ctx), outcome)
}
