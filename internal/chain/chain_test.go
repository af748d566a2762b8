package chain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/schema"
)

func TestAppendReturnsFreshCopy(t *testing.T) {
	origin := schema.NewOrigin(schema.OriginTick, "BTCUSDT", 1_700_000_000_000)
	base := New(origin).WithSignal(schema.NewSignalID())

	next := base.WithOrder(schema.NewOrderID())

	assert.Len(t, base.OrderIDs, 0)
	assert.Len(t, next.OrderIDs, 1)
	assert.Equal(t, base.SignalIDs, next.SignalIDs)
}

func TestDirectiveSetOnce(t *testing.T) {
	c := New(schema.NewOrigin(schema.OriginTick, "BTCUSDT", 1))

	c, err := c.WithDirective("dir-1")
	require.NoError(t, err)

	_, err = c.WithDirective("dir-2")
	require.ErrorIs(t, err, ErrDirectiveAlreadySet)
	assert.Equal(t, schema.DirectiveID("dir-1"), c.DirectiveID)

	c, err = c.WithExecDirective("exec-1")
	require.NoError(t, err)
	_, err = c.WithExecDirective("exec-2")
	require.ErrorIs(t, err, ErrExecDirectiveAlreadySet)
}

func TestForkClearsExecutionAndSharesUpstream(t *testing.T) {
	origin := schema.NewOrigin(schema.OriginTick, "ETHUSDT", 42)
	c := New(origin).
		WithSignal(schema.NewSignalID()).
		WithRisk(schema.NewRiskID()).
		WithPlan(schema.NewPlanID())
	c, err := c.WithDirective(schema.NewDirectiveID())
	require.NoError(t, err)
	c, err = c.WithExecDirective(schema.NewExecDirectiveID())
	require.NoError(t, err)
	c = c.WithOrder(schema.NewOrderID()).WithFill(schema.NewFillID())

	branches := c.Fork(3)
	require.Len(t, branches, 3)

	for _, branch := range branches {
		assert.Empty(t, branch.OrderIDs)
		assert.Empty(t, branch.FillIDs)
		assert.True(t, branch.SharesUpstream(c))
	}

	a := branches[0].WithOrder(schema.NewOrderID())
	b := branches[1].WithOrder(schema.NewOrderID())
	assert.True(t, a.SharesUpstream(b))
	assert.NotEqual(t, a.OrderIDs, b.OrderIDs)
}

func TestForkNonPositive(t *testing.T) {
	c := New(schema.NewOrigin(schema.OriginTick, "BTCUSDT", 1))
	assert.Nil(t, c.Fork(0))
	assert.Nil(t, c.Fork(-1))
}

func TestSharesUpstreamDetectsDivergence(t *testing.T) {
	origin := schema.NewOrigin(schema.OriginTick, "BTCUSDT", 1)
	a := New(origin).WithSignal("sig-a")
	b := New(origin).WithSignal("sig-b")
	assert.False(t, a.SharesUpstream(b))
}
