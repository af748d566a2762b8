package bus

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/obs"
)

var (
	ErrSubscriptionClosed = errors.New("subscription closed")
	ErrQueueFull          = errors.New("subscription queue full")
	ErrHandlerTimeout     = errors.New("handler exceeded its dispatch bound")
	ErrAlreadyRunning     = errors.New("subscription already running")
)

// OverflowPolicy decides what happens when a subscriber's bounded queue is
// full at enqueue time.
type OverflowPolicy uint16

const (
	// OverflowDropNewest rejects the incoming event.
	OverflowDropNewest OverflowPolicy = iota
	// OverflowDropOldest evicts the queue head to make room.
	OverflowDropOldest
	// OverflowBlock suspends the publisher until there is room.
	OverflowBlock
)

// Handler consumes one delivery. Returning nil acknowledges it; returning
// an error triggers the retry/dead-letter path.
type Handler func(ctx context.Context, env Envelope) error

// DeadLetterHook observes a message being moved to the dead-letter queue.
type DeadLetterHook func(env Envelope, cause error)

// Subscription is one subscriber's ordered, bounded delivery queue.
// Deliveries are FIFO per subscription; Run may be called again after it
// returns, resuming from the undelivered backlog.
type Subscription struct {
	bus    *Bus
	topics []TopicID
	scope  Scope
	runID  uuid.UUID

	// queue is never closed; done signals shutdown so a concurrent
	// enqueue can never hit a closed channel.
	queue   chan Envelope
	done    chan struct{}
	policy  OverflowPolicy
	closed  uint32
	running uint32

	maxAttempts    int
	retryBase      time.Duration
	handlerTimeout time.Duration
	onDeadLetter   DeadLetterHook
}

// SubOption customizes a subscription.
type SubOption func(*Subscription)

// WithRun binds the subscription to one run's isolated deliveries.
func WithRun(runID uuid.UUID) SubOption {
	return func(s *Subscription) { s.runID = runID }
}

// WithQueueSize overrides the bounded queue capacity.
func WithQueueSize(n int) SubOption {
	return func(s *Subscription) {
		if n > 0 {
			s.queue = make(chan Envelope, n)
		}
	}
}

// WithOverflow selects the overflow policy.
func WithOverflow(policy OverflowPolicy) SubOption {
	return func(s *Subscription) { s.policy = policy }
}

// WithMaxAttempts overrides the bounded retry count.
func WithMaxAttempts(n int) SubOption {
	return func(s *Subscription) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithHandlerTimeout bounds each handler invocation; an expired invocation
// counts as a failed attempt.
func WithHandlerTimeout(d time.Duration) SubOption {
	return func(s *Subscription) { s.handlerTimeout = d }
}

// WithDeadLetterHook observes dead-lettered messages, e.g. to mark the
// owning run degraded.
func WithDeadLetterHook(hook DeadLetterHook) SubOption {
	return func(s *Subscription) { s.onDeadLetter = hook }
}

func newSubscription(b *Bus, topics []TopicID, scope Scope, opts ...SubOption) *Subscription {
	sub := &Subscription{
		bus:            b,
		topics:         topics,
		scope:          scope,
		queue:          make(chan Envelope, b.cfg.QueueSize),
		done:           make(chan struct{}),
		maxAttempts:    b.cfg.MaxAttempts,
		retryBase:      b.cfg.RetryBase,
		handlerTimeout: b.cfg.HandlerTimeout,
	}
	for _, opt := range opts {
		opt(sub)
	}
	return sub
}

func (s *Subscription) enqueue(ctx context.Context, env Envelope, metrics *obs.Metrics) error {
	select {
	case <-s.done:
		return ErrSubscriptionClosed
	default:
	}

	switch s.policy {
	case OverflowBlock:
		metrics.IncQueueBlocked()
		select {
		case s.queue <- env:
			return nil
		case <-s.done:
			return ErrSubscriptionClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	case OverflowDropOldest:
		for {
			select {
			case s.queue <- env:
				return nil
			case <-s.done:
				return ErrSubscriptionClosed
			default:
			}
			select {
			case <-s.queue:
				metrics.IncQueueDrop()
			default:
			}
		}
	default: // OverflowDropNewest
		select {
		case s.queue <- env:
			return nil
		default:
			metrics.IncQueueDrop()
			return ErrQueueFull
		}
	}
}

// Run consumes deliveries in FIFO order until the context is done or the
// subscription is closed. A delivery is complete only when the handler
// returns nil; failures are retried with increasing backoff and moved to
// the dead-letter queue after the attempt budget is exhausted.
func (s *Subscription) Run(ctx context.Context, handler Handler) error {
	if !atomic.CompareAndSwapUint32(&s.running, 0, 1) {
		return ErrAlreadyRunning
	}
	defer atomic.StoreUint32(&s.running, 0)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			// Drain the backlog, then stop.
			for {
				select {
				case env := <-s.queue:
					s.deliver(ctx, env, handler)
				default:
					return nil
				}
			}
		case env := <-s.queue:
			s.deliver(ctx, env, handler)
		}
	}
}

func (s *Subscription) deliver(ctx context.Context, env Envelope, handler Handler) {
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		start := time.Now()
		lastErr = s.invoke(ctx, env, handler)
		s.bus.metrics.ObserveDispatch(time.Since(start))

		if lastErr == nil {
			s.bus.metrics.IncDelivery()
			return
		}
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
		if attempt < s.maxAttempts {
			s.bus.metrics.IncRetry()
			backoff := s.retryBase * time.Duration(1<<(attempt-1))
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				lastErr = ctx.Err()
				attempt = s.maxAttempts
			case <-timer.C:
			}
		}
	}

	s.bus.metrics.IncDeadLetter()
	s.bus.dead.Push(env, s.maxAttempts, lastErr)
	logs.Errorf("dead letter on %q after %d attempts: %v",
		s.bus.topics.Name(env.Topic), s.maxAttempts, lastErr)
	if s.onDeadLetter != nil {
		s.onDeadLetter(env, lastErr)
	}
}

func (s *Subscription) invoke(ctx context.Context, env Envelope, handler Handler) error {
	if s.handlerTimeout <= 0 {
		return handler(ctx, env)
	}

	invokeCtx, cancel := context.WithTimeout(ctx, s.handlerTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- handler(invokeCtx, env)
	}()
	select {
	case err := <-done:
		return err
	case <-invokeCtx.Done():
		if invokeCtx.Err() == context.DeadlineExceeded {
			return ErrHandlerTimeout
		}
		return invokeCtx.Err()
	}
}

// Pending returns the current backlog length.
func (s *Subscription) Pending() int {
	return len(s.queue)
}

func (s *Subscription) close() {
	if atomic.CompareAndSwapUint32(&s.closed, 0, 1) {
		close(s.done)
	}
}
