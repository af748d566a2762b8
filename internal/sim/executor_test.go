package sim

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/flow"
	"main/internal/journal"
	"main/internal/ledger"
	"main/internal/runcache"
	"main/internal/schema"
	"main/internal/venue"
)

func TestRedeliveredDirectiveCreatesNoDuplicates(t *testing.T) {
	book := ledger.New()
	paper := venue.NewPaper(venue.PaperConfig{})
	t.Cleanup(paper.Close)
	jnl := journal.New(journal.NewMemoryStore(), journal.Config{})
	t.Cleanup(jnl.Close)
	exec := NewExecutorWorker(book, paper, jnl)

	cache := runcache.New()
	origin := schema.NewOrigin(schema.OriginManual, testSymbol, time.Now().UTC().UnixNano())
	require.NoError(t, cache.StartRun(origin, time.Now()))

	directive := schema.ExecutionDirective{
		ID:         schema.NewExecDirectiveID(),
		Scope:      schema.ScopeNew,
		PlanRef:    schema.NewPlanRef(),
		Symbol:     testSymbol,
		Side:       schema.SideBuy,
		Quantity:   1_0000_0000,
		LimitPrice: 50_000_0000_0000,
		Slices:     1,
	}

	// At-least-once delivery means the same recorded directive can arrive
	// twice; both passes must settle on the same containers.
	ctx := flow.WithRunID(context.Background(), uuid.New())
	for range 2 {
		_, err := exec.Handlers()["execute"](ctx, cache, directive)
		require.NoError(t, err)
	}

	groups := book.View().GroupsByPlan(directive.PlanRef)
	require.Len(t, groups, 1)

	group, err := book.Group(groups[0].ID)
	require.NoError(t, err)
	require.Len(t, group.OrderIDs, 1)
	assert.Equal(t, schema.SlicedOrderID(directive.ID, 0), group.OrderIDs[0])
}

func TestEmergencyCloseSpansEveryOpenGroup(t *testing.T) {
	book := ledger.New()
	paper := venue.NewPaper(venue.PaperConfig{})
	t.Cleanup(paper.Close)
	store := journal.NewMemoryStore()
	jnl := journal.New(store, journal.Config{})
	exec := NewExecutorWorker(book, paper, jnl)

	// One plan holding two active groups with one open order each.
	planRef := schema.NewPlanRef()
	var orderIDs []schema.OrderID
	for range 2 {
		group, err := book.RegisterGroup(schema.ExecutionDirective{
			ID:       schema.NewExecDirectiveID(),
			Scope:    schema.ScopeNew,
			PlanRef:  planRef,
			Symbol:   testSymbol,
			Side:     schema.SideBuy,
			Quantity: 1_0000_0000,
		})
		require.NoError(t, err)

		spec := schema.OrderSpec{
			ClientID: schema.NewOrderID(),
			Symbol:   testSymbol,
			Side:     schema.SideBuy,
			Type:     schema.OrderTypeLimit,
			Price:    50_000_0000_0000,
			Quantity: 1_0000_0000,
		}
		order, _, err := book.RegisterOrder(group.ID, spec)
		require.NoError(t, err)
		require.NoError(t, paper.Place(context.Background(), spec))
		orderIDs = append(orderIDs, order.ID)
	}

	cache := runcache.New()
	origin := schema.NewOrigin(schema.OriginManual, testSymbol, time.Now().UTC().UnixNano())
	require.NoError(t, cache.StartRun(origin, time.Now()))

	ctx := flow.WithRunID(context.Background(), uuid.New())
	disp, err := exec.Handlers()["execute"](ctx, cache, schema.ExecutionDirective{
		ID:      schema.NewExecDirectiveID(),
		Scope:   schema.ScopeCloseExisting,
		PlanRef: planRef,
		Symbol:  testSymbol,
	})
	require.NoError(t, err)
	assert.Equal(t, flow.DispositionPublish, disp.Kind())

	// Every open order in both groups got a cancellation request.
	c, err := cache.Chain()
	require.NoError(t, err)
	assert.ElementsMatch(t, orderIDs, c.OrderIDs)

	// One archived branch per cancelled order, shared upstream.
	jnl.Close()
	require.Equal(t, 2, store.Len())
	first, err := store.Load(string(orderIDs[0]))
	require.NoError(t, err)
	second, err := store.Load(string(orderIDs[1]))
	require.NoError(t, err)
	assert.True(t, first.Chain.SharesUpstream(second.Chain))
	assert.Equal(t, []schema.OrderID{orderIDs[0]}, first.Chain.OrderIDs)
	assert.Equal(t, []schema.OrderID{orderIDs[1]}, second.Chain.OrderIDs)
}
