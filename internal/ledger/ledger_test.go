package ledger

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"

	"main/internal/schema"
)

func testDirective() schema.ExecutionDirective {
	return schema.ExecutionDirective{
		ID:         schema.NewExecDirectiveID(),
		Scope:      schema.ScopeNew,
		PlanRef:    schema.NewPlanRef(),
		Symbol:     "BTCUSDT",
		Side:       schema.SideBuy,
		Quantity:   schema.Quantity(3_0000_0000),
		LimitPrice: schema.Price(50_000_0000_0000),
		Algorithm:  "slice",
		Slices:     1,
	}
}

func testSpec(qty schema.Quantity) schema.OrderSpec {
	return schema.OrderSpec{
		ClientID:    schema.NewOrderID(),
		Symbol:      "BTCUSDT",
		Side:        schema.SideBuy,
		Type:        schema.OrderTypeLimit,
		TimeInForce: schema.TimeInForceGTC,
		Price:       schema.Price(50_000_0000_0000),
		Quantity:    qty,
	}
}

func TestRegisterGroupCreatesPlanOnFirstReference(t *testing.T) {
	l := New()
	directive := testDirective()

	group, err := l.RegisterGroup(directive)
	require.NoError(t, err)
	assert.Equal(t, GroupPending, group.Status)
	assert.Equal(t, directive.Quantity, group.TargetSize)

	plan, err := l.Plan(directive.PlanRef)
	require.NoError(t, err)
	assert.Equal(t, []schema.GroupID{group.ID}, plan.GroupIDs)

	// A later directive under the same thesis reuses the plan container.
	later := testDirective()
	later.PlanRef = directive.PlanRef
	second, err := l.RegisterGroup(later)
	require.NoError(t, err)
	plan, err = l.Plan(directive.PlanRef)
	require.NoError(t, err)
	assert.Equal(t, []schema.GroupID{group.ID, second.ID}, plan.GroupIDs)
}

func TestRegisterGroupIsIdempotentOnDirective(t *testing.T) {
	l := New()
	directive := testDirective()

	first, err := l.RegisterGroup(directive)
	require.NoError(t, err)

	// Redelivering the same directive resolves to the existing group.
	again, err := l.RegisterGroup(directive)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	plan, err := l.Plan(directive.PlanRef)
	require.NoError(t, err)
	assert.Equal(t, []schema.GroupID{first.ID}, plan.GroupIDs)
}

func TestRestoreSeedsIdempotentRegistration(t *testing.T) {
	directive := testDirective()
	orderID := schema.SlicedOrderID(directive.ID, 0)
	now := time.Now().UTC()

	snap := Snapshot{
		Plans: []Plan{{Ref: directive.PlanRef, Symbol: directive.Symbol, CreatedAt: now}},
		Groups: []ExecutionGroup{{
			ID:          "grp-restored",
			DirectiveID: directive.ID,
			PlanRef:     directive.PlanRef,
			Symbol:      directive.Symbol,
			Side:        directive.Side,
			TargetSize:  directive.Quantity,
			Status:      GroupActive,
			CreatedAt:   now,
			UpdatedAt:   now,
		}},
		Orders: []Order{{
			ID:        orderID,
			GroupID:   "grp-restored",
			Symbol:    directive.Symbol,
			Side:      directive.Side,
			Type:      schema.OrderTypeLimit,
			Price:     directive.LimitPrice,
			Quantity:  directive.Quantity,
			Status:    OrderOpen,
			CreatedAt: now,
			UpdatedAt: now,
		}},
		Fills: []Fill{{ID: "fill-restored", OrderID: orderID, Price: directive.LimitPrice, Quantity: 1, At: now}},
	}

	l := New()
	require.NoError(t, l.Restore(snap))

	// A replayed group registration resolves to the restored container.
	group, err := l.RegisterGroup(directive)
	require.NoError(t, err)
	assert.EqualValues(t, "grp-restored", group.ID)
	assert.Equal(t, []schema.OrderID{orderID}, group.OrderIDs)

	// And a replayed placement resolves to the restored order.
	spec := testSpec(directive.Quantity)
	spec.ClientID = orderID
	order, created, err := l.RegisterOrder(group.ID, spec)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, orderID, order.ID)

	plan, err := l.Plan(directive.PlanRef)
	require.NoError(t, err)
	assert.Equal(t, []schema.GroupID{group.ID}, plan.GroupIDs)
	assert.Len(t, l.Fills(orderID), 1)

	require.True(t, errors.Is(l.Restore(snap), ErrNotEmpty))
}

func TestRegisterOrderActivatesGroupAndIsIdempotent(t *testing.T) {
	l := New()
	group, err := l.RegisterGroup(testDirective())
	require.NoError(t, err)

	spec := testSpec(1_0000_0000)
	order, created, err := l.RegisterOrder(group.ID, spec)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, OrderOpen, order.Status)

	got, err := l.Group(group.ID)
	require.NoError(t, err)
	assert.Equal(t, GroupActive, got.Status)

	// Replaying the same client id must not create a second order.
	again, created, err := l.RegisterOrder(group.ID, spec)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, order.ID, again.ID)

	got, err = l.Group(group.ID)
	require.NoError(t, err)
	assert.Len(t, got.OrderIDs, 1)
}

func TestRegisterOrderRejectsUnknownOrClosedGroup(t *testing.T) {
	l := New()
	_, _, err := l.RegisterOrder("grp-missing", testSpec(1))
	require.True(t, errors.Is(err, ErrUnknownGroup))

	group, err := l.RegisterGroup(testDirective())
	require.NoError(t, err)
	require.NoError(t, l.UpdateGroupStatus(group.ID, GroupCancelled))

	_, _, err = l.RegisterOrder(group.ID, testSpec(1))
	require.True(t, errors.Is(err, ErrGroupClosed))
}

func TestFillsAccumulateAndSettleGroup(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := New(WithClock(func() time.Time { return now }))
	group, err := l.RegisterGroup(testDirective())
	require.NoError(t, err)

	order, _, err := l.RegisterOrder(group.ID, testSpec(2_0000_0000))
	require.NoError(t, err)

	_, err = l.RecordFill(order.ID, 50_000_0000_0000, 5000_0000, 10, now)
	require.NoError(t, err)

	got, err := l.Order(order.ID)
	require.NoError(t, err)
	assert.Equal(t, OrderOpen, got.Status)
	assert.EqualValues(t, 5000_0000, got.FilledQty)

	_, err = l.RecordFill(order.ID, 50_000_0000_0000, 1_5000_0000, 10, now)
	require.NoError(t, err)

	got, err = l.Order(order.ID)
	require.NoError(t, err)
	assert.Equal(t, OrderFilled, got.Status)

	settled, err := l.Group(group.ID)
	require.NoError(t, err)
	assert.Equal(t, GroupCompleted, settled.Status)
	assert.Equal(t, got.Quantity, settled.FilledSize)

	fills := l.Fills(order.ID)
	require.Len(t, fills, 2)
	assert.EqualValues(t, 5000_0000, fills[0].Quantity)
}

func TestFillRejectsTerminalOrderAndBadQuantity(t *testing.T) {
	l := New()
	group, err := l.RegisterGroup(testDirective())
	require.NoError(t, err)
	order, _, err := l.RegisterOrder(group.ID, testSpec(1_0000_0000))
	require.NoError(t, err)

	_, err = l.RecordFill(order.ID, 1, 0, 0, time.Now())
	require.True(t, errors.Is(err, ErrInvalidFill))

	require.NoError(t, l.UpdateOrderStatus(order.ID, OrderCanceled))
	_, err = l.RecordFill(order.ID, 1, 1, 0, time.Now())
	require.True(t, errors.Is(err, ErrInvalidTransition))

	_, err = l.RecordFill("ord-missing", 1, 1, 0, time.Now())
	require.True(t, errors.Is(err, ErrUnknownOrder))
}

func TestGroupWithNoFillsSettlesCancelled(t *testing.T) {
	l := New()
	group, err := l.RegisterGroup(testDirective())
	require.NoError(t, err)

	first, _, err := l.RegisterOrder(group.ID, testSpec(1_0000_0000))
	require.NoError(t, err)
	second, _, err := l.RegisterOrder(group.ID, testSpec(1_0000_0000))
	require.NoError(t, err)

	require.NoError(t, l.UpdateOrderStatus(first.ID, OrderCanceled))
	got, err := l.Group(group.ID)
	require.NoError(t, err)
	assert.Equal(t, GroupActive, got.Status)

	require.NoError(t, l.UpdateOrderStatus(second.ID, OrderCanceled))
	got, err = l.Group(group.ID)
	require.NoError(t, err)
	assert.Equal(t, GroupCancelled, got.Status)
}

func TestLifecycleTransitionsAreChecked(t *testing.T) {
	l := New()
	group, err := l.RegisterGroup(testDirective())
	require.NoError(t, err)
	order, _, err := l.RegisterOrder(group.ID, testSpec(1))
	require.NoError(t, err)

	// ACTIVE cannot go back to PENDING, and terminal orders stay terminal.
	err = l.UpdateGroupStatus(group.ID, GroupPending)
	require.True(t, errors.Is(err, ErrInvalidTransition))

	require.NoError(t, l.UpdateOrderStatus(order.ID, OrderRejected))
	err = l.UpdateOrderStatus(order.ID, OrderFilled)
	require.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestSetVenueRef(t *testing.T) {
	l := New()
	group, err := l.RegisterGroup(testDirective())
	require.NoError(t, err)
	order, _, err := l.RegisterOrder(group.ID, testSpec(1))
	require.NoError(t, err)

	require.NoError(t, l.SetVenueRef(order.ID, "venue-42"))
	got, err := l.Order(order.ID)
	require.NoError(t, err)
	assert.Equal(t, "venue-42", got.VenueRef)

	require.True(t, errors.Is(l.SetVenueRef("ord-missing", "x"), ErrUnknownOrder))
}

func TestViewPositionAndOpenOrders(t *testing.T) {
	l := New()
	view := l.View()

	buy := testDirective()
	group, err := l.RegisterGroup(buy)
	require.NoError(t, err)
	long, _, err := l.RegisterOrder(group.ID, testSpec(2_0000_0000))
	require.NoError(t, err)
	_, err = l.RecordFill(long.ID, 1, 2_0000_0000, 0, time.Now())
	require.NoError(t, err)

	sellSpec := testSpec(1_0000_0000)
	sellSpec.Side = schema.SideSell
	sell := testDirective()
	sell.Side = schema.SideSell
	sellGroup, err := l.RegisterGroup(sell)
	require.NoError(t, err)
	short, _, err := l.RegisterOrder(sellGroup.ID, sellSpec)
	require.NoError(t, err)
	_, err = l.RecordFill(short.ID, 1, 5000_0000, 0, time.Now())
	require.NoError(t, err)

	assert.EqualValues(t, 1_5000_0000, view.Position("BTCUSDT"))
	assert.Zero(t, view.Position("ETHUSDT"))

	// The long filled completely, so only the short is still open.
	open := view.OpenOrders("BTCUSDT")
	assert.Equal(t, []schema.OrderID{short.ID}, open)

	active := view.ActiveGroups("BTCUSDT")
	require.Len(t, active, 1)
	assert.Equal(t, sellGroup.ID, active[0].ID)

	byPlan := view.GroupsByPlan(buy.PlanRef)
	require.Len(t, byPlan, 1)
	assert.Equal(t, GroupCompleted, byPlan[0].Status)
	assert.Nil(t, view.GroupsByPlan("thesis-missing"))
}

func TestConcurrentFillsStayConsistent(t *testing.T) {
	l := New()
	group, err := l.RegisterGroup(testDirective())
	require.NoError(t, err)
	order, _, err := l.RegisterOrder(group.ID, testSpec(1_000_000))
	require.NoError(t, err)

	const workers = 8
	const fillsEach = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < fillsEach; j++ {
				_, _ = l.RecordFill(order.ID, 1, 1, 0, time.Now())
			}
		}()
	}
	wg.Wait()

	got, err := l.Order(order.ID)
	require.NoError(t, err)
	assert.EqualValues(t, workers*fillsEach, got.FilledQty)
	assert.Len(t, l.Fills(order.ID), workers*fillsEach)
}
