package ledger

import (
	"main/internal/schema"
)

// View is the read-only face of the ledger handed to planning workers.
// Planners consult it for current exposure; they never mutate containers.
type View struct {
	ledger *Ledger
}

// View returns the planner-facing read surface.
func (l *Ledger) View() *View {
	return &View{ledger: l}
}

// Position returns the net signed position for a symbol, buys positive.
func (v *View) Position(symbol string) schema.Quantity {
	l := v.ledger
	l.mu.RLock()
	defer l.mu.RUnlock()

	var net int64
	for _, order := range l.orders {
		if order.Symbol != symbol {
			continue
		}
		switch order.Side {
		case schema.SideBuy:
			net += int64(order.FilledQty)
		case schema.SideSell:
			net -= int64(order.FilledQty)
		}
	}
	return schema.Quantity(net)
}

// OpenOrders returns the ids of every non-terminal order for a symbol.
func (v *View) OpenOrders(symbol string) []schema.OrderID {
	l := v.ledger
	l.mu.RLock()
	defer l.mu.RUnlock()

	var ids []schema.OrderID
	for id, order := range l.orders {
		if order.Symbol == symbol && !order.Status.Terminal() {
			ids = append(ids, id)
		}
	}
	return ids
}

// ActiveGroups returns every non-terminal group holding orders for a
// symbol. Modify and close directives resolve their targets through it.
func (v *View) ActiveGroups(symbol string) []ExecutionGroup {
	l := v.ledger
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []ExecutionGroup
	for _, group := range l.groups {
		if group.Symbol != symbol || group.Status.Terminal() {
			continue
		}
		g := *group
		g.OrderIDs = append([]schema.OrderID(nil), group.OrderIDs...)
		out = append(out, g)
	}
	return out
}

// GroupsByPlan returns copies of every group under a plan.
func (v *View) GroupsByPlan(ref schema.PlanRef) []ExecutionGroup {
	l := v.ledger
	l.mu.RLock()
	defer l.mu.RUnlock()

	plan, ok := l.plans[ref]
	if !ok {
		return nil
	}
	out := make([]ExecutionGroup, 0, len(plan.GroupIDs))
	for _, id := range plan.GroupIDs {
		group := l.groups[id]
		g := *group
		g.OrderIDs = append([]schema.OrderID(nil), group.OrderIDs...)
		out = append(out, g)
	}
	return out
}

// OpenOrdersInGroup returns the non-terminal order ids of one group.
func (v *View) OpenOrdersInGroup(groupID schema.GroupID) []schema.OrderID {
	l := v.ledger
	l.mu.RLock()
	defer l.mu.RUnlock()

	group, ok := l.groups[groupID]
	if !ok {
		return nil
	}
	var ids []schema.OrderID
	for _, id := range group.OrderIDs {
		if !l.orders[id].Status.Terminal() {
			ids = append(ids, id)
		}
	}
	return ids
}
