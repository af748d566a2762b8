package sim

import (
	"context"

	"github.com/yanun0323/errors"

	"main/internal/chain"
	"main/internal/flow"
	"main/internal/runcache"
	"main/internal/schema"
)

// Quote supplies a reference price per symbol. The scripted feed provides
// one; live assemblies would back it with market data.
type Quote func(symbol string) schema.Price

// EntryWorker fixes the entry price level for new positions. Directives
// that adjust or unwind an existing position need no entry, so the worker
// lets the flow pass without producing a plan.
type EntryWorker struct {
	quote Quote
}

// NewEntryWorker creates the entry planner.
func NewEntryWorker(quote Quote) *EntryWorker {
	return &EntryWorker{quote: quote}
}

func (w *EntryWorker) Manifest() flow.Manifest {
	return flow.Manifest{
		Worker: WorkerEntry,
		Inputs: []flow.InputConnector{
			{Name: "directive", Handler: "plan", Payload: schema.RecordStrategyDirective},
		},
		Outputs: []flow.OutputConnector{
			{Name: "planned", Role: flow.RolePayload, Payload: schema.RecordEntryPlan},
		},
		Requires: []schema.RecordKind{schema.RecordStrategyDirective},
		Produces: []schema.RecordKind{schema.RecordEntryPlan},
	}
}

func (w *EntryWorker) Handlers() map[string]flow.Handler {
	return map[string]flow.Handler{
		"plan": w.plan,
	}
}

func (w *EntryWorker) plan(_ context.Context, cache *runcache.Cache, rec schema.Record) (flow.Disposition, error) {
	directive, ok := rec.(schema.StrategyDirective)
	if !ok {
		return flow.Disposition{}, errors.Wrap(ErrUnexpectedRecord, "entry plan")
	}
	if directive.Scope != schema.ScopeNew {
		return flow.Continue(), nil
	}

	plan := schema.EntryPlan{
		ID:    schema.NewPlanID(),
		Price: w.quote(directive.Symbol),
	}
	if err := cache.Put(plan); err != nil {
		return flow.Disposition{}, err
	}
	if err := cache.UpdateChain(func(c chain.Chain) (chain.Chain, error) {
		return c.WithPlan(plan.ID), nil
	}); err != nil {
		return flow.Disposition{}, err
	}
	return flow.Publish("planned", plan), nil
}

// SizeWorker fixes the position size for new positions.
type SizeWorker struct{}

// NewSizeWorker creates the size planner.
func NewSizeWorker() *SizeWorker {
	return &SizeWorker{}
}

func (w *SizeWorker) Manifest() flow.Manifest {
	return flow.Manifest{
		Worker: WorkerSize,
		Inputs: []flow.InputConnector{
			{Name: "directive", Handler: "plan", Payload: schema.RecordStrategyDirective},
		},
		Outputs: []flow.OutputConnector{
			{Name: "planned", Role: flow.RolePayload, Payload: schema.RecordSizePlan},
		},
		Requires: []schema.RecordKind{schema.RecordStrategyDirective},
		Produces: []schema.RecordKind{schema.RecordSizePlan},
	}
}

func (w *SizeWorker) Handlers() map[string]flow.Handler {
	return map[string]flow.Handler{
		"plan": w.plan,
	}
}

func (w *SizeWorker) plan(_ context.Context, cache *runcache.Cache, rec schema.Record) (flow.Disposition, error) {
	directive, ok := rec.(schema.StrategyDirective)
	if !ok {
		return flow.Disposition{}, errors.Wrap(ErrUnexpectedRecord, "size plan")
	}
	if directive.Scope != schema.ScopeNew {
		return flow.Continue(), nil
	}

	plan := schema.SizePlan{
		ID:       schema.NewPlanID(),
		Quantity: directive.TargetQuantity,
	}
	if err := cache.Put(plan); err != nil {
		return flow.Disposition{}, err
	}
	if err := cache.UpdateChain(func(c chain.Chain) (chain.Chain, error) {
		return c.WithPlan(plan.ID), nil
	}); err != nil {
		return flow.Disposition{}, err
	}
	return flow.Publish("planned", plan), nil
}

// ExitWorker fixes stop and target levels. It plans for new and
// modify-existing directives; close-existing directives carry no exit and
// are forwarded straight to the execution planner.
type ExitWorker struct {
	quote Quote
	// stopBps and targetBps offset the reference price in basis points.
	stopBps   int64
	targetBps int64
}

// NewExitWorker creates the exit planner.
func NewExitWorker(quote Quote, stopBps, targetBps int64) *ExitWorker {
	if stopBps <= 0 {
		stopBps = 200
	}
	if targetBps <= 0 {
		targetBps = 500
	}
	return &ExitWorker{quote: quote, stopBps: stopBps, targetBps: targetBps}
}

func (w *ExitWorker) Manifest() flow.Manifest {
	return flow.Manifest{
		Worker: WorkerExit,
		Inputs: []flow.InputConnector{
			{Name: "directive", Handler: "plan", Payload: schema.RecordStrategyDirective},
		},
		Outputs: []flow.OutputConnector{
			{Name: "planned", Role: flow.RolePayload, Payload: schema.RecordExitPlan},
			{Name: "skipped", Role: flow.RolePayload, Payload: schema.RecordStrategyDirective},
		},
		Requires: []schema.RecordKind{schema.RecordStrategyDirective},
		Produces: []schema.RecordKind{schema.RecordExitPlan},
	}
}

func (w *ExitWorker) Handlers() map[string]flow.Handler {
	return map[string]flow.Handler{
		"plan": w.plan,
	}
}

func (w *ExitWorker) plan(_ context.Context, cache *runcache.Cache, rec schema.Record) (flow.Disposition, error) {
	directive, ok := rec.(schema.StrategyDirective)
	if !ok {
		return flow.Disposition{}, errors.Wrap(ErrUnexpectedRecord, "exit plan")
	}
	if directive.Scope == schema.ScopeCloseExisting {
		return flow.Publish("skipped", directive), nil
	}

	price := w.quote(directive.Symbol)
	plan := schema.ExitPlan{
		ID:          schema.NewPlanID(),
		StopPrice:   price - schema.Price(int64(price)*w.stopBps/10_000),
		TargetPrice: price + schema.Price(int64(price)*w.targetBps/10_000),
	}
	if directive.Side == schema.SideSell {
		plan.StopPrice, plan.TargetPrice = plan.TargetPrice, plan.StopPrice
	}

	if err := cache.Put(plan); err != nil {
		return flow.Disposition{}, err
	}
	if err := cache.UpdateChain(func(c chain.Chain) (chain.Chain, error) {
		return c.WithPlan(plan.ID), nil
	}); err != nil {
		return flow.Disposition{}, err
	}
	return flow.Publish("planned", plan), nil
}

// PlannerWorker aggregates the parallel plans into one execution
// directive. Plans arrive as separate events; the handler that observes
// the last missing plan performs the aggregation, earlier arrivals end
// their link without output.
type PlannerWorker struct {
	slices int
}

// NewPlannerWorker creates the execution planner. slices controls how many
// orders a new position is worked into.
func NewPlannerWorker(slices int) *PlannerWorker {
	if slices <= 0 {
		slices = 1
	}
	return &PlannerWorker{slices: slices}
}

func (w *PlannerWorker) Manifest() flow.Manifest {
	return flow.Manifest{
		Worker: WorkerPlanner,
		Inputs: []flow.InputConnector{
			{Name: "entry", Handler: "collect", Payload: schema.RecordEntryPlan},
			{Name: "size", Handler: "collect", Payload: schema.RecordSizePlan},
			{Name: "exit", Handler: "collect", Payload: schema.RecordExitPlan},
			{Name: "unwind", Handler: "unwind", Payload: schema.RecordStrategyDirective},
		},
		Outputs: []flow.OutputConnector{
			{Name: "directive", Role: flow.RolePayload, Payload: schema.RecordExecutionDirective},
		},
		Requires: []schema.RecordKind{schema.RecordStrategyDirective},
		Produces: []schema.RecordKind{schema.RecordExecutionPlan, schema.RecordExecutionDirective},
	}
}

func (w *PlannerWorker) Handlers() map[string]flow.Handler {
	return map[string]flow.Handler{
		"collect": w.collect,
		"unwind":  w.unwind,
	}
}

func (w *PlannerWorker) collect(_ context.Context, cache *runcache.Cache, _ schema.Record) (flow.Disposition, error) {
	rec, err := cache.Get(schema.RecordStrategyDirective)
	if err != nil {
		return flow.Disposition{}, err
	}
	directive := rec.(schema.StrategyDirective)

	if !w.complete(cache, directive.Scope) {
		return flow.Continue(), nil
	}
	return w.aggregate(cache, directive)
}

func (w *PlannerWorker) unwind(_ context.Context, cache *runcache.Cache, rec schema.Record) (flow.Disposition, error) {
	directive, ok := rec.(schema.StrategyDirective)
	if !ok {
		return flow.Disposition{}, errors.Wrap(ErrUnexpectedRecord, "unwind")
	}

	exec := schema.ExecutionDirective{
		ID:      schema.NewExecDirectiveID(),
		Scope:   schema.ScopeCloseExisting,
		PlanRef: directive.PlanRef,
		Symbol:  directive.Symbol,
		Side:    directive.Side,
	}
	if err := cache.Put(exec); err != nil {
		return flow.Disposition{}, err
	}
	if err := cache.UpdateChain(func(c chain.Chain) (chain.Chain, error) {
		return c.WithExecDirective(exec.ID)
	}); err != nil {
		return flow.Disposition{}, err
	}
	return flow.Publish("directive", exec), nil
}

func (w *PlannerWorker) complete(cache *runcache.Cache, scope schema.DirectiveScope) bool {
	switch scope {
	case schema.ScopeNew:
		return cache.Has(schema.RecordEntryPlan) &&
			cache.Has(schema.RecordSizePlan) &&
			cache.Has(schema.RecordExitPlan)
	case schema.ScopeModifyExisting:
		return cache.Has(schema.RecordExitPlan)
	default:
		return false
	}
}

func (w *PlannerWorker) aggregate(cache *runcache.Cache, directive schema.StrategyDirective) (flow.Disposition, error) {
	plan := schema.ExecutionPlan{
		ID:        schema.NewPlanID(),
		Algorithm: "slice",
		Slices:    w.slices,
	}
	if directive.Scope == schema.ScopeModifyExisting {
		plan.Slices = 1
	}
	if err := cache.Put(plan); err != nil {
		return flow.Disposition{}, err
	}

	exec := schema.ExecutionDirective{
		ID:        schema.NewExecDirectiveID(),
		Scope:     directive.Scope,
		PlanRef:   directive.PlanRef,
		Symbol:    directive.Symbol,
		Side:      directive.Side,
		Quantity:  directive.TargetQuantity,
		Algorithm: plan.Algorithm,
		Slices:    plan.Slices,
	}
	if rec, err := cache.Get(schema.RecordSizePlan); err == nil {
		exec.Quantity = rec.(schema.SizePlan).Quantity
	}
	if rec, err := cache.Get(schema.RecordEntryPlan); err == nil {
		exec.LimitPrice = rec.(schema.EntryPlan).Price
	}
	if rec, err := cache.Get(schema.RecordExitPlan); err == nil {
		exec.StopPrice = rec.(schema.ExitPlan).StopPrice
	}

	if err := cache.Put(exec); err != nil {
		return flow.Disposition{}, err
	}
	if err := cache.UpdateChain(func(c chain.Chain) (chain.Chain, error) {
		next := c.WithPlan(plan.ID)
		return next.WithExecDirective(exec.ID)
	}); err != nil {
		return flow.Disposition{}, err
	}
	return flow.Publish("directive", exec), nil
}
