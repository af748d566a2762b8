package sim

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/chain"
	"main/internal/journal"
	"main/internal/ledger"
	"main/internal/schema"
	"main/internal/venue"
)

type pumpFixture struct {
	book  *ledger.Ledger
	store *journal.MemoryStore
	jnl   *journal.Journal
	pump  *Pump
	order ledger.Order
	group ledger.ExecutionGroup
}

func newPumpFixture(t *testing.T, qty schema.Quantity) *pumpFixture {
	t.Helper()
	book := ledger.New()
	group, err := book.RegisterGroup(schema.ExecutionDirective{
		ID:       schema.NewExecDirectiveID(),
		Scope:    schema.ScopeNew,
		PlanRef:  schema.NewPlanRef(),
		Symbol:   testSymbol,
		Side:     schema.SideBuy,
		Quantity: qty,
	})
	require.NoError(t, err)
	order, _, err := book.RegisterOrder(group.ID, schema.OrderSpec{
		ClientID: schema.NewOrderID(),
		Symbol:   testSymbol,
		Side:     schema.SideBuy,
		Type:     schema.OrderTypeLimit,
		Price:    50_000_0000_0000,
		Quantity: qty,
	})
	require.NoError(t, err)

	store := journal.NewMemoryStore()
	jnl := journal.New(store, journal.Config{})
	return &pumpFixture{
		book:  book,
		store: store,
		jnl:   jnl,
		pump:  NewPump(book, jnl),
		order: order,
		group: group,
	}
}

func TestPumpAckSetsVenueRef(t *testing.T) {
	f := newPumpFixture(t, 1_0000_0000)

	require.NoError(t, f.pump.apply(venue.Reply{
		Kind:     venue.ReplyAck,
		OrderID:  f.order.ID,
		VenueRef: "venue-7",
		At:       time.Now(),
	}))

	order, err := f.book.Order(f.order.ID)
	require.NoError(t, err)
	assert.Equal(t, "venue-7", order.VenueRef)
}

func TestPumpFinalFillCompletesOrderAndExtendsChain(t *testing.T) {
	f := newPumpFixture(t, 1_0000_0000)

	// Archive the placement chain the way the executor would.
	base := chain.New(schema.NewOrigin(schema.OriginTick, testSymbol, 1)).WithOrder(f.order.ID)
	require.NoError(t, f.store.Save(journal.Entry{
		RunID: uuid.New(),
		Key:   string(f.order.ID),
		Chain: base,
		At:    time.Now(),
	}))

	require.NoError(t, f.pump.apply(venue.Reply{
		Kind:     venue.ReplyFill,
		OrderID:  f.order.ID,
		Price:    50_000_0000_0000,
		Quantity: 1_0000_0000,
		Fee:      3,
		Final:    true,
		At:       time.Now(),
	}))

	order, err := f.book.Order(f.order.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.OrderFilled, order.Status)

	group, err := f.book.Group(f.group.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.GroupCompleted, group.Status)

	fills := f.book.Fills(f.order.ID)
	require.Len(t, fills, 1)
	assert.EqualValues(t, 3, fills[0].Fee)

	// The queued extension lands on close.
	f.jnl.Close()
	entry, err := f.store.Load(string(f.order.ID))
	require.NoError(t, err)
	assert.Equal(t, []schema.FillID{fills[0].ID}, entry.Chain.FillIDs)
}

func TestPumpVenueFinalPartialStillTerminates(t *testing.T) {
	f := newPumpFixture(t, 2_0000_0000)

	require.NoError(t, f.pump.apply(venue.Reply{
		Kind:     venue.ReplyFill,
		OrderID:  f.order.ID,
		Price:    50_000_0000_0000,
		Quantity: 5000_0000,
		Final:    true,
		At:       time.Now(),
	}))

	order, err := f.book.Order(f.order.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.OrderFilled, order.Status)
	assert.EqualValues(t, 5000_0000, order.FilledQty)
}

func TestPumpRejectAndCancel(t *testing.T) {
	f := newPumpFixture(t, 1_0000_0000)

	require.NoError(t, f.pump.apply(venue.Reply{
		Kind:    venue.ReplyReject,
		OrderID: f.order.ID,
		Reason:  "insufficient margin",
		At:      time.Now(),
	}))

	order, err := f.book.Order(f.order.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.OrderRejected, order.Status)

	// Nothing filled, so the group settles cancelled.
	group, err := f.book.Group(f.group.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.GroupCancelled, group.Status)

	require.Error(t, f.pump.apply(venue.Reply{Kind: venue.ReplyKind(99), OrderID: f.order.ID}))
}
