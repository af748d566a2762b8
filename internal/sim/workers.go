// Package sim is the reference strategy: a complete worker set wired
// through the pipeline, a scripted origin feed and a venue reply pump.
// It exists to exercise the execution core end to end, in process.
package sim

import (
	"context"

	"github.com/yanun0323/errors"

	"main/internal/chain"
	"main/internal/flow"
	"main/internal/ledger"
	"main/internal/runcache"
	"main/internal/schema"
)

// Worker names used by the reference wiring.
const (
	WorkerSignal   = "signal"
	WorkerRisk     = "risk"
	WorkerStrategy = "strategy"
	WorkerEntry    = "entry"
	WorkerSize     = "size"
	WorkerExit     = "exit"
	WorkerPlanner  = "planner"
	WorkerExecutor = "executor"
	WorkerReporter = "reporter"
)

// Topic names used by the reference wiring.
const (
	TopicObserve   = "run.observe"
	TopicSignal    = "run.signal"
	TopicAssessed  = "run.assessed"
	TopicDirective = "run.directive"
	TopicEntry     = "run.entry"
	TopicSize      = "run.size"
	TopicExit      = "run.exit"
	TopicUnwind    = "run.unwind"
	TopicExecution = "run.execution"
	TopicReport    = "run.report"
)

var ErrUnexpectedRecord = errors.New("handler received unexpected record")

// SignalWorker turns the run's origin into a signal. The origin itself is
// not a record; the handler reads it off the run anchor.
type SignalWorker struct {
	strength func(schema.Origin) float64
}

// NewSignalWorker creates the signal worker. The strength function rates
// an origin; nil means full strength for every origin.
func NewSignalWorker(strength func(schema.Origin) float64) *SignalWorker {
	if strength == nil {
		strength = func(schema.Origin) float64 { return 1 }
	}
	return &SignalWorker{strength: strength}
}

func (w *SignalWorker) Manifest() flow.Manifest {
	return flow.Manifest{
		Worker: WorkerSignal,
		Inputs: []flow.InputConnector{
			{Name: "observe", Handler: "observe", Payload: schema.RecordUnknown},
		},
		Outputs: []flow.OutputConnector{
			{Name: "signal", Role: flow.RolePayload, Payload: schema.RecordSignal},
		},
		Produces: []schema.RecordKind{schema.RecordSignal},
	}
}

func (w *SignalWorker) Handlers() map[string]flow.Handler {
	return map[string]flow.Handler{
		"observe": w.observe,
	}
}

func (w *SignalWorker) observe(_ context.Context, cache *runcache.Cache, _ schema.Record) (flow.Disposition, error) {
	anchor, err := cache.Anchor()
	if err != nil {
		return flow.Disposition{}, err
	}

	origin := anchor.Origin
	signal := schema.Signal{
		ID:       schema.NewSignalID(),
		Symbol:   origin.Symbol,
		Side:     sideForOrigin(origin),
		Strength: w.strength(origin),
		Note:     noteForOrigin(origin),
	}
	if err := cache.Put(signal); err != nil {
		return flow.Disposition{}, err
	}
	if err := cache.UpdateChain(func(c chain.Chain) (chain.Chain, error) {
		return c.WithSignal(signal.ID), nil
	}); err != nil {
		return flow.Disposition{}, err
	}
	return flow.Publish("signal", signal), nil
}

func sideForOrigin(origin schema.Origin) schema.Side {
	if origin.Kind == schema.OriginManual {
		return schema.SideSell
	}
	return schema.SideBuy
}

func noteForOrigin(origin schema.Origin) string {
	switch origin.Kind {
	case schema.OriginManual:
		return "manual intervention"
	case schema.OriginSchedule:
		return "scheduled rebalance"
	default:
		return ""
	}
}

// RiskWorker approves or vetoes acting on a signal. A veto ends the run;
// an approval hands control onward through the flow-control output, the
// assessment itself travels through the cache.
type RiskWorker struct {
	view        *ledger.View
	minStrength float64
	maxPosition schema.Quantity
}

// NewRiskWorker creates the risk worker. maxPosition bounds the absolute
// net position; zero disables the bound.
func NewRiskWorker(view *ledger.View, minStrength float64, maxPosition schema.Quantity) *RiskWorker {
	return &RiskWorker{
		view:        view,
		minStrength: minStrength,
		maxPosition: maxPosition,
	}
}

func (w *RiskWorker) Manifest() flow.Manifest {
	return flow.Manifest{
		Worker: WorkerRisk,
		Inputs: []flow.InputConnector{
			{Name: "signal", Handler: "assess", Payload: schema.RecordSignal},
		},
		Outputs: []flow.OutputConnector{
			{Name: "assessed", Role: flow.RoleFlowControl, Payload: schema.RecordUnknown},
		},
		Requires: []schema.RecordKind{schema.RecordSignal},
		Produces: []schema.RecordKind{schema.RecordRiskAssessment},
	}
}

func (w *RiskWorker) Handlers() map[string]flow.Handler {
	return map[string]flow.Handler{
		"assess": w.assess,
	}
}

func (w *RiskWorker) assess(_ context.Context, cache *runcache.Cache, rec schema.Record) (flow.Disposition, error) {
	signal, ok := rec.(schema.Signal)
	if !ok {
		return flow.Disposition{}, errors.Wrap(ErrUnexpectedRecord, "assess")
	}

	assessment := schema.RiskAssessment{
		ID:       schema.NewRiskID(),
		Approved: true,
	}
	if signal.Strength < w.minStrength {
		assessment.Approved = false
		assessment.Reason = "signal strength below threshold"
	}
	if assessment.Approved && w.maxPosition > 0 {
		position := w.view.Position(signal.Symbol)
		if position < 0 {
			position = -position
		}
		if position >= w.maxPosition {
			assessment.Approved = false
			assessment.Reason = "position limit reached"
		} else {
			assessment.MaxQuantity = w.maxPosition - position
		}
	}

	if err := cache.Put(assessment); err != nil {
		return flow.Disposition{}, err
	}
	if err := cache.UpdateChain(func(c chain.Chain) (chain.Chain, error) {
		return c.WithRisk(assessment.ID), nil
	}); err != nil {
		return flow.Disposition{}, err
	}

	if !assessment.Approved {
		return flow.Stop(), nil
	}
	return flow.Continue(), nil
}

// StrategyWorker emits the single directive of a run: open, adjust or
// unwind, derived from the origin kind and the approved assessment.
type StrategyWorker struct {
	view *ledger.View
}

// NewStrategyWorker creates the strategy worker.
func NewStrategyWorker(view *ledger.View) *StrategyWorker {
	return &StrategyWorker{view: view}
}

func (w *StrategyWorker) Manifest() flow.Manifest {
	return flow.Manifest{
		Worker: WorkerStrategy,
		Inputs: []flow.InputConnector{
			{Name: "assessed", Handler: "decide", Payload: schema.RecordUnknown},
		},
		Outputs: []flow.OutputConnector{
			{Name: "directive", Role: flow.RolePayload, Payload: schema.RecordStrategyDirective},
		},
		Requires: []schema.RecordKind{schema.RecordSignal, schema.RecordRiskAssessment},
		Produces: []schema.RecordKind{schema.RecordStrategyDirective},
	}
}

func (w *StrategyWorker) Handlers() map[string]flow.Handler {
	return map[string]flow.Handler{
		"decide": w.decide,
	}
}

func (w *StrategyWorker) decide(_ context.Context, cache *runcache.Cache, _ schema.Record) (flow.Disposition, error) {
	rec, err := cache.Get(schema.RecordSignal)
	if err != nil {
		return flow.Disposition{}, err
	}
	signal := rec.(schema.Signal)

	rec, err = cache.Get(schema.RecordRiskAssessment)
	if err != nil {
		return flow.Disposition{}, err
	}
	assessment := rec.(schema.RiskAssessment)

	anchor, err := cache.Anchor()
	if err != nil {
		return flow.Disposition{}, err
	}

	directive := schema.StrategyDirective{
		ID:     schema.NewDirectiveID(),
		Symbol: signal.Symbol,
		Side:   signal.Side,
	}

	active := w.view.ActiveGroups(signal.Symbol)
	switch {
	case anchor.Origin.Kind == schema.OriginManual:
		directive.Scope = schema.ScopeCloseExisting
		if len(active) > 0 {
			directive.PlanRef = active[0].PlanRef
		}
	case len(active) > 0:
		directive.Scope = schema.ScopeModifyExisting
		directive.PlanRef = active[0].PlanRef
		directive.TargetQuantity = active[0].TargetSize
	default:
		directive.Scope = schema.ScopeNew
		directive.PlanRef = schema.NewPlanRef()
		directive.TargetQuantity = assessment.MaxQuantity
		if directive.TargetQuantity <= 0 {
			directive.TargetQuantity = schema.Quantity(1_0000_0000)
		}
	}

	if err := cache.Put(directive); err != nil {
		return flow.Disposition{}, err
	}
	if err := cache.UpdateChain(func(c chain.Chain) (chain.Chain, error) {
		return c.WithDirective(directive.ID)
	}); err != nil {
		return flow.Disposition{}, err
	}
	return flow.Publish("directive", directive), nil
}
