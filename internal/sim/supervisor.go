package sim

import (
	"context"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/flow"
	"main/internal/journal"
	"main/internal/ledger"
	"main/internal/schema"
	"main/internal/venue"
)

// Workers assembles the reference worker set around shared collaborators.
func Workers(l *ledger.Ledger, conn venue.Connector, j *journal.Journal, quote Quote) []flow.Worker {
	view := l.View()
	return []flow.Worker{
		NewSignalWorker(nil),
		NewRiskWorker(view, 0.25, 0),
		NewStrategyWorker(view),
		NewEntryWorker(quote),
		NewSizeWorker(),
		NewExitWorker(quote, 0, 0),
		NewPlannerWorker(1),
		NewExecutorWorker(l, conn, j),
		NewReporterWorker(),
	}
}

// Rules is the reference wiring: one sequential interpretation chain, a
// three-way parallel planning fan-out and a terminal execution tail.
func Rules() []flow.Rule {
	isolated := bus.ScopeIsolated
	return []flow.Rule{
		{Source: flow.SourceOrigin, Topic: TopicObserve, Scope: isolated, Target: WorkerSignal, Input: "observe"},
		{Source: WorkerSignal, Output: "signal", Topic: TopicSignal, Scope: isolated, Target: WorkerRisk, Input: "signal"},
		{Source: WorkerRisk, Output: "assessed", Topic: TopicAssessed, Scope: isolated, Target: WorkerStrategy, Input: "assessed"},
		{Source: WorkerStrategy, Output: "directive", Topic: TopicDirective, Scope: isolated, Target: WorkerEntry, Input: "directive"},
		{Source: WorkerStrategy, Output: "directive", Topic: TopicDirective, Scope: isolated, Target: WorkerSize, Input: "directive"},
		{Source: WorkerStrategy, Output: "directive", Topic: TopicDirective, Scope: isolated, Target: WorkerExit, Input: "directive"},
		{Source: WorkerEntry, Output: "planned", Topic: TopicEntry, Scope: isolated, Target: WorkerPlanner, Input: "entry"},
		{Source: WorkerSize, Output: "planned", Topic: TopicSize, Scope: isolated, Target: WorkerPlanner, Input: "size"},
		{Source: WorkerExit, Output: "planned", Topic: TopicExit, Scope: isolated, Target: WorkerPlanner, Input: "exit"},
		{Source: WorkerExit, Output: "skipped", Topic: TopicUnwind, Scope: isolated, Target: WorkerPlanner, Input: "unwind"},
		{Source: WorkerPlanner, Output: "directive", Topic: TopicExecution, Scope: isolated, Target: WorkerExecutor, Input: "directive"},
		{Source: WorkerExecutor, Output: "report", Topic: TopicReport, Scope: isolated, Target: WorkerReporter, Input: "report"},
	}
}

// Supervisor starts one run per origin event and injects the origin into
// the entry topic.
type Supervisor struct {
	pipeline *flow.Pipeline
	now      func() time.Time
}

// NewSupervisor creates a supervisor over a validated pipeline.
func NewSupervisor(p *flow.Pipeline) *Supervisor {
	return &Supervisor{pipeline: p, now: time.Now}
}

// OnOrigin starts a run anchored at the origin's observation time and
// triggers the first worker.
func (s *Supervisor) OnOrigin(ctx context.Context, origin schema.Origin) (*flow.Run, error) {
	at := time.Unix(0, origin.TsNano).UTC()
	if origin.TsNano == 0 {
		at = s.now().UTC()
	}

	run, err := s.pipeline.StartRun(ctx, origin, at)
	if err != nil {
		return nil, errors.Wrap(err, "start run")
	}
	if err := run.Inject(ctx, TopicObserve, nil); err != nil {
		run.Stop(ctx)
		return nil, errors.Wrap(err, "inject origin")
	}
	return run, nil
}

// Feed replays a scripted sequence of origins with a fixed gap, waiting
// for each run to finish before emitting the next.
type Feed struct {
	supervisor *Supervisor
	origins    []schema.Origin
	gap        time.Duration
}

// NewFeed creates a scripted origin feed.
func NewFeed(s *Supervisor, origins []schema.Origin, gap time.Duration) *Feed {
	return &Feed{supervisor: s, origins: origins, gap: gap}
}

// Run emits every scripted origin in order. It returns the number of runs
// that reached a terminal state.
func (f *Feed) Run(ctx context.Context) (int, error) {
	finished := 0
	for _, origin := range f.origins {
		run, err := f.supervisor.OnOrigin(ctx, origin)
		if err != nil {
			return finished, err
		}

		state, err := run.Wait(ctx)
		if err != nil {
			return finished, err
		}
		logs.Infof("run %s finished %s (origin %s)", run.ID, state, origin.ID)
		finished++

		if f.gap > 0 {
			select {
			case <-ctx.Done():
				return finished, ctx.Err()
			case <-time.After(f.gap):
			}
		}
	}
	return finished, nil
}
