package flow

import (
	"context"
	"time"

	"github.com/yanun0323/errors"

	"main/internal/bus"
	"main/internal/obs"
	"main/internal/runcache"
	"main/internal/schema"
)

// TopicRunTerminated carries the flow-terminated signal for every run.
const TopicRunTerminated = "run.terminated"

var (
	ErrDuplicateWorker = errors.New("duplicate worker name")
	ErrOutputRebound   = errors.New("output connector wired to conflicting topics")
)

type outBinding struct {
	topic bus.TopicID
	scope bus.Scope
}

type workerBlueprint struct {
	name       string
	scope      bus.Scope
	topics     []bus.TopicID
	routes     map[bus.TopicID]Handler
	outputs    map[string]outBinding
	completion *outBinding
}

// Pipeline is the bootstrap-validated wiring of a worker set. Building one
// performs every configuration check exactly once; runtime dispatch trusts
// the result and touches the bus exactly once per disposition.
type Pipeline struct {
	bus        *bus.Bus
	metrics    *obs.Metrics
	blueprints map[string]*workerBlueprint
	terminated bus.TopicID
}

// NewPipeline validates workers and rules and resolves the routing table.
// Any defect fails bootstrap closed; the run never starts.
func NewPipeline(b *bus.Bus, metrics *obs.Metrics, workers []Worker, rules []Rule) (*Pipeline, error) {
	byName := make(map[string]Worker, len(workers))
	for _, w := range workers {
		name := w.Manifest().Worker
		if _, ok := byName[name]; ok {
			return nil, errors.Wrap(ErrDuplicateWorker, name)
		}
		byName[name] = w
	}

	resolved, err := validate(byName, rules, b.Topics())
	if err != nil {
		return nil, err
	}

	terminated, err := b.Topics().Intern(TopicRunTerminated)
	if err != nil {
		return nil, err
	}

	blueprints := make(map[string]*workerBlueprint, len(byName))
	for name := range byName {
		blueprints[name] = &workerBlueprint{
			name:    name,
			scope:   bus.ScopeIsolated,
			routes:  make(map[bus.TopicID]Handler),
			outputs: make(map[string]outBinding),
		}
	}

	for _, r := range resolved {
		target := blueprints[r.target]
		if _, ok := target.routes[r.topic]; !ok {
			target.topics = append(target.topics, r.topic)
		}
		target.routes[r.topic] = byName[r.target].Handlers()[r.input.Handler]
		target.scope = r.rule.Scope

		if r.rule.Source == SourceOrigin {
			continue
		}
		source := blueprints[r.rule.Source]
		if prev, ok := source.outputs[r.rule.Output]; ok && prev.topic != r.topic {
			return nil, errors.Wrap(ErrOutputRebound, r.rule.Source+"."+r.rule.Output)
		}
		binding := outBinding{topic: r.topic, scope: r.rule.Scope}
		source.outputs[r.rule.Output] = binding

		if out, ok := byName[r.rule.Source].Manifest().Output(r.rule.Output); ok && out.Role == RoleFlowControl {
			if source.completion == nil {
				c := binding
				source.completion = &c
			}
		}
	}

	return &Pipeline{
		bus:        b,
		metrics:    metrics,
		blueprints: blueprints,
		terminated: terminated,
	}, nil
}

// StartRun creates a fresh run cache anchored at the given time, binds each
// worker's adapter to this run and starts delivery. The run's birth identity
// (its origin) lives on the anchor.
func (p *Pipeline) StartRun(ctx context.Context, origin schema.Origin, at time.Time) (*Run, error) {
	cache := runcache.New()
	if err := cache.StartRun(origin, at); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	run := newRun(p, cache, cancel)

	for _, bp := range p.blueprints {
		if len(bp.topics) == 0 {
			continue
		}
		opts := []bus.SubOption{
			bus.WithDeadLetterHook(func(bus.Envelope, error) { run.markDegraded() }),
		}
		if bp.scope == bus.ScopeIsolated {
			opts = append(opts, bus.WithRun(run.ID))
		}
		sub, err := p.bus.SubscribeTopics(bp.topics, bp.scope, opts...)
		if err != nil {
			run.finish(RunAborted)
			return nil, err
		}
		run.attach(sub)

		handler := p.dispatch(run, bp)
		run.wg.Add(1)
		go func() {
			defer run.wg.Done()
			_ = sub.Run(runCtx, handler)
		}()
	}

	p.metrics.IncRunStarted()
	return run, nil
}

func (p *Pipeline) dispatch(run *Run, bp *workerBlueprint) bus.Handler {
	return func(ctx context.Context, env bus.Envelope) error {
		// Cooperative cancellation: deliveries already queued before a stop
		// may drain, but no worker runs for them afterwards.
		if run.State() != RunActive {
			return nil
		}
		ctx = WithRunID(ctx, run.ID)

		handler, ok := bp.routes[env.Topic]
		if !ok {
			return errors.Errorf("worker %s has no route for topic %d", bp.name, env.Topic)
		}

		d, err := handler(ctx, run.Cache, env.Record)
		if err != nil {
			if errors.Is(err, runcache.ErrMissingRecord) || errors.Is(err, runcache.ErrNoActiveRun) {
				// A wiring defect, not a recoverable branch. Abort the run
				// instead of retrying.
				run.abort(errors.Wrap(err, bp.name))
				return nil
			}
			return err
		}

		switch d.Kind() {
		case DispositionContinue:
			// Only adapters wired to the completion topic are triggered; a
			// worker with no wired completion simply ends its link.
			if bp.completion == nil {
				return nil
			}
			return p.publish(ctx, run, *bp.completion, nil)
		case DispositionPublish:
			binding, ok := bp.outputs[d.output]
			if !ok {
				run.abort(errors.Wrap(ErrUnknownConnector, bp.name+"."+d.output))
				return nil
			}
			return p.publish(ctx, run, binding, d.record)
		case DispositionStop:
			p.terminate(ctx, run)
			run.finish(RunStopped)
			return nil
		default:
			return errors.Errorf("worker %s returned unknown disposition %d", bp.name, d.Kind())
		}
	}
}

func (p *Pipeline) publish(ctx context.Context, run *Run, binding outBinding, rec schema.Record) error {
	return p.bus.Publish(ctx, binding.topic, binding.scope, rec, run.ID)
}

func (p *Pipeline) terminate(ctx context.Context, run *Run) {
	_ = p.bus.Publish(ctx, p.terminated, bus.ScopeBroadcast, nil, run.ID)
}
