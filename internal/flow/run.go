package flow

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/runcache"
	"main/internal/schema"
)

var ErrRunNotActive = errors.New("run is not active")

// RunState is the lifecycle state of one run.
type RunState uint32

const (
	RunActive RunState = iota + 1
	RunStopped
	RunAborted
)

func (s RunState) String() string {
	switch s {
	case RunActive:
		return "active"
	case RunStopped:
		return "stopped"
	case RunAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Run is one pass through the pipeline: its cache, its subscriptions and
// its lifecycle state. Multiple runs execute concurrently; each owns its
// cache exclusively.
type Run struct {
	ID    uuid.UUID
	Cache *runcache.Cache

	pipeline *Pipeline
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mu   sync.Mutex
	subs []*bus.Subscription

	state    atomic.Uint32
	degraded atomic.Bool
	cause    atomic.Value // error
	done     chan struct{}
}

func newRun(p *Pipeline, cache *runcache.Cache, cancel context.CancelFunc) *Run {
	r := &Run{
		ID:       uuid.New(),
		Cache:    cache,
		pipeline: p,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	r.state.Store(uint32(RunActive))
	return r
}

func (r *Run) attach(sub *bus.Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, sub)
}

// State returns the current lifecycle state.
func (r *Run) State() RunState {
	return RunState(r.state.Load())
}

// Degraded reports whether a delivery of this run was dead-lettered.
func (r *Run) Degraded() bool {
	return r.degraded.Load()
}

// Cause returns the abort cause, if any.
func (r *Run) Cause() error {
	if v := r.cause.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// Done is closed once the run has been torn down.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Inject publishes an event into this run's isolated chain. The runner uses
// it to hand the origin event to the entry worker after StartRun.
func (r *Run) Inject(ctx context.Context, topicName string, rec schema.Record) error {
	if r.State() != RunActive {
		return ErrRunNotActive
	}
	topic, ok := r.pipeline.bus.Topics().Lookup(topicName)
	if !ok {
		return errors.Wrap(bus.ErrUnknownTopic, topicName)
	}
	return r.pipeline.bus.Publish(ctx, topic, bus.ScopeIsolated, rec, r.ID)
}

// Stop cooperatively terminates the run from outside the worker chain.
func (r *Run) Stop(ctx context.Context) {
	if r.State() != RunActive {
		return
	}
	r.pipeline.terminate(ctx, r)
	r.finish(RunStopped)
}

func (r *Run) markDegraded() {
	if r.degraded.CompareAndSwap(false, true) {
		r.pipeline.metrics.IncRunDegraded()
		logs.Warnf("run %s degraded: delivery dead-lettered", r.ID)
	}
}

func (r *Run) abort(cause error) {
	r.cause.Store(cause)
	logs.Errorf("run %s aborted: %+v", r.ID, cause)
	r.finish(RunAborted)
}

func (r *Run) finish(state RunState) {
	if !r.state.CompareAndSwap(uint32(RunActive), uint32(state)) {
		return
	}
	r.cancel()

	r.mu.Lock()
	subs := r.subs
	r.subs = nil
	r.mu.Unlock()
	for _, sub := range subs {
		r.pipeline.bus.Unsubscribe(sub)
	}

	r.Cache.Clear()
	switch state {
	case RunStopped:
		r.pipeline.metrics.IncRunStopped()
	case RunAborted:
		r.pipeline.metrics.IncRunAborted()
	}
	close(r.done)
}

// Wait blocks until teardown or context expiry, then reports the final
// state. Handy for callers that inject an origin and need the outcome.
func (r *Run) Wait(ctx context.Context) (RunState, error) {
	select {
	case <-r.done:
		return r.State(), nil
	case <-ctx.Done():
		return r.State(), ctx.Err()
	}
}
