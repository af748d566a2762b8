package sim

import (
	"context"

	"github.com/google/uuid"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/chain"
	"main/internal/flow"
	"main/internal/journal"
	"main/internal/ledger"
	"main/internal/runcache"
	"main/internal/schema"
	"main/internal/venue"
)

var (
	ErrNoTargetGroup = errors.New("directive targets no existing group")
	ErrNoRunIdentity = errors.New("dispatch context carries no run id")
)

// ExecutorWorker is the terminal execution component: the only worker with
// write access to the ledger and the only caller of the venue connector.
// One aggregated directive becomes 1..N orders; the causality chain forks
// once per order.
type ExecutorWorker struct {
	ledger  *ledger.Ledger
	view    *ledger.View
	venue   venue.Connector
	journal *journal.Journal
}

// NewExecutorWorker creates the terminal execution worker.
func NewExecutorWorker(l *ledger.Ledger, conn venue.Connector, j *journal.Journal) *ExecutorWorker {
	return &ExecutorWorker{
		ledger:  l,
		view:    l.View(),
		venue:   conn,
		journal: j,
	}
}

func (w *ExecutorWorker) Manifest() flow.Manifest {
	return flow.Manifest{
		Worker: WorkerExecutor,
		Inputs: []flow.InputConnector{
			{Name: "directive", Handler: "execute", Payload: schema.RecordExecutionDirective},
		},
		Outputs: []flow.OutputConnector{
			{Name: "report", Role: flow.RolePayload, Payload: schema.RecordOrderReport},
		},
		Requires: []schema.RecordKind{schema.RecordExecutionDirective},
		Produces: []schema.RecordKind{schema.RecordOrderReport},
	}
}

func (w *ExecutorWorker) Handlers() map[string]flow.Handler {
	return map[string]flow.Handler{
		"execute": w.execute,
	}
}

func (w *ExecutorWorker) execute(ctx context.Context, cache *runcache.Cache, rec schema.Record) (flow.Disposition, error) {
	directive, ok := rec.(schema.ExecutionDirective)
	if !ok {
		return flow.Disposition{}, errors.Wrap(ErrUnexpectedRecord, "execute")
	}
	runID, ok := flow.RunIDFrom(ctx)
	if !ok {
		return flow.Disposition{}, ErrNoRunIdentity
	}

	var (
		report schema.OrderReport
		err    error
	)
	switch directive.Scope {
	case schema.ScopeNew:
		report, err = w.open(ctx, cache, runID, directive)
	case schema.ScopeModifyExisting:
		report, err = w.adjust(ctx, cache, runID, directive)
	case schema.ScopeCloseExisting:
		report, err = w.unwind(ctx, cache, runID, directive)
	default:
		err = errors.Errorf("execution directive %s has unknown scope", directive.ID)
	}
	if err != nil {
		return flow.Disposition{}, err
	}

	if err := cache.Put(report); err != nil {
		return flow.Disposition{}, err
	}
	return flow.Publish("report", report), nil
}

// open registers a fresh group and works the directive into sliced orders.
func (w *ExecutorWorker) open(ctx context.Context, cache *runcache.Cache, runID uuid.UUID, directive schema.ExecutionDirective) (schema.OrderReport, error) {
	group, err := w.ledger.RegisterGroup(directive)
	if err != nil {
		return schema.OrderReport{}, errors.Wrap(err, "register group")
	}

	slices := directive.Slices
	if slices <= 0 {
		slices = 1
	}
	quantities := sliceQuantity(directive.Quantity, slices)

	base, err := cache.Chain()
	if err != nil {
		return schema.OrderReport{}, err
	}
	branches := base.Fork(len(quantities))

	report := schema.OrderReport{GroupID: group.ID}
	for i, qty := range quantities {
		// Client ids derive from the directive, so a redelivered directive
		// resolves to the same orders instead of registering new ones.
		spec := schema.OrderSpec{
			ClientID:    schema.SlicedOrderID(directive.ID, i),
			Symbol:      directive.Symbol,
			Side:        directive.Side,
			Type:        schema.OrderTypeLimit,
			TimeInForce: schema.TimeInForceGTC,
			Price:       directive.LimitPrice,
			Quantity:    qty,
		}
		order, created, err := w.ledger.RegisterOrder(group.ID, spec)
		if err != nil {
			return schema.OrderReport{}, errors.Wrap(err, "register order")
		}
		if created {
			if err := w.venue.Place(ctx, spec); err != nil {
				return schema.OrderReport{}, errors.Wrap(err, "place order")
			}
		}

		branch := branches[i].WithOrder(order.ID)
		w.archive(runID, order.ID, branch)
		report.OrderIDs = append(report.OrderIDs, order.ID)
	}

	if err := cache.UpdateChain(func(c chain.Chain) (chain.Chain, error) {
		for _, id := range report.OrderIDs {
			c = c.WithOrder(id)
		}
		return c, nil
	}); err != nil {
		return schema.OrderReport{}, err
	}
	return report, nil
}

// adjust reprices the open orders of the directive's existing group. No
// container is created.
func (w *ExecutorWorker) adjust(ctx context.Context, cache *runcache.Cache, runID uuid.UUID, directive schema.ExecutionDirective) (schema.OrderReport, error) {
	group, ok := w.targetGroup(directive)
	if !ok {
		return schema.OrderReport{}, errors.Wrap(ErrNoTargetGroup, string(directive.PlanRef))
	}

	report := schema.OrderReport{GroupID: group.ID}
	for _, orderID := range w.view.OpenOrdersInGroup(group.ID) {
		order, err := w.ledger.Order(orderID)
		if err != nil {
			return schema.OrderReport{}, err
		}
		if err := w.venue.Modify(ctx, orderID, directive.StopPrice, order.Quantity); err != nil {
			return schema.OrderReport{}, errors.Wrap(err, "modify order")
		}
		report.OrderIDs = append(report.OrderIDs, orderID)
	}

	if err := cache.UpdateChain(func(c chain.Chain) (chain.Chain, error) {
		for _, id := range report.OrderIDs {
			c = c.WithOrder(id)
		}
		return c, nil
	}); err != nil {
		return schema.OrderReport{}, err
	}
	return report, nil
}

// unwind cancels every open order under the directive's plan, across all
// of its groups, archiving one forked chain per cancelled order.
func (w *ExecutorWorker) unwind(ctx context.Context, cache *runcache.Cache, runID uuid.UUID, directive schema.ExecutionDirective) (schema.OrderReport, error) {
	groups := w.view.GroupsByPlan(directive.PlanRef)
	if len(groups) == 0 {
		groups = w.view.ActiveGroups(directive.Symbol)
	}

	var targets []schema.OrderID
	var report schema.OrderReport
	for _, group := range groups {
		if group.Status.Terminal() {
			continue
		}
		if report.GroupID == "" {
			report.GroupID = group.ID
		}
		targets = append(targets, w.view.OpenOrdersInGroup(group.ID)...)
	}

	base, err := cache.Chain()
	if err != nil {
		return schema.OrderReport{}, err
	}
	branches := base.Fork(len(targets))

	for i, orderID := range targets {
		if err := w.venue.Cancel(ctx, orderID); err != nil {
			return schema.OrderReport{}, errors.Wrap(err, "cancel order")
		}
		branch := branches[i].WithOrder(orderID)
		w.archive(runID, orderID, branch)
		report.OrderIDs = append(report.OrderIDs, orderID)
	}

	if err := cache.UpdateChain(func(c chain.Chain) (chain.Chain, error) {
		for _, id := range report.OrderIDs {
			c = c.WithOrder(id)
		}
		return c, nil
	}); err != nil {
		return schema.OrderReport{}, err
	}
	return report, nil
}

func (w *ExecutorWorker) targetGroup(directive schema.ExecutionDirective) (ledger.ExecutionGroup, bool) {
	for _, group := range w.view.GroupsByPlan(directive.PlanRef) {
		if !group.Status.Terminal() {
			return group, true
		}
	}
	for _, group := range w.view.ActiveGroups(directive.Symbol) {
		return group, true
	}
	return ledger.ExecutionGroup{}, false
}

func (w *ExecutorWorker) archive(runID uuid.UUID, orderID schema.OrderID, c chain.Chain) {
	if err := w.journal.Record(runID, string(orderID), c); err != nil {
		logs.Warnf("journal chain for order %s, err: %+v", orderID, err)
	}
}

// sliceQuantity splits a quantity into n child quantities, remainder on
// the first slice.
func sliceQuantity(total schema.Quantity, n int) []schema.Quantity {
	if n <= 0 {
		n = 1
	}
	out := make([]schema.Quantity, n)
	each := total / schema.Quantity(n)
	rem := total - each*schema.Quantity(n)
	for i := range out {
		out[i] = each
	}
	out[0] += rem
	return out
}

// ReporterWorker closes the loop: it observes the placement report and
// ends the run.
type ReporterWorker struct{}

// NewReporterWorker creates the reporter.
func NewReporterWorker() *ReporterWorker {
	return &ReporterWorker{}
}

func (w *ReporterWorker) Manifest() flow.Manifest {
	return flow.Manifest{
		Worker: WorkerReporter,
		Inputs: []flow.InputConnector{
			{Name: "report", Handler: "report", Payload: schema.RecordOrderReport},
		},
		Requires: []schema.RecordKind{schema.RecordOrderReport},
	}
}

func (w *ReporterWorker) Handlers() map[string]flow.Handler {
	return map[string]flow.Handler{
		"report": w.report,
	}
}

func (w *ReporterWorker) report(_ context.Context, _ *runcache.Cache, rec schema.Record) (flow.Disposition, error) {
	report, ok := rec.(schema.OrderReport)
	if !ok {
		return flow.Disposition{}, errors.Wrap(ErrUnexpectedRecord, "report")
	}
	logs.Infof("group %s worked into %d orders", report.GroupID, len(report.OrderIDs))
	return flow.Stop(), nil
}
