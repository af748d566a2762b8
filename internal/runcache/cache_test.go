package runcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"

	"main/internal/chain"
	"main/internal/schema"
)

func startedCache(t *testing.T) *Cache {
	t.Helper()
	c := New()
	origin := schema.NewOrigin(schema.OriginTick, "BTCUSDT", 1_700_000_000_000)
	require.NoError(t, c.StartRun(origin, time.Unix(1_700_000_000, 0)))
	return c
}

func TestLifecycle(t *testing.T) {
	c := New()

	_, err := c.Get(schema.RecordSignal)
	require.True(t, errors.Is(err, ErrNoActiveRun))
	assert.False(t, c.Active())

	origin := schema.NewOrigin(schema.OriginTick, "BTCUSDT", 7)
	at := time.Unix(1_700_000_000, 0)
	require.NoError(t, c.StartRun(origin, at))
	assert.True(t, c.Active())

	require.True(t, errors.Is(c.StartRun(origin, at), ErrRunActive))

	anchor, err := c.Anchor()
	require.NoError(t, err)
	assert.Equal(t, origin, anchor.Origin)
	assert.Equal(t, at, anchor.At)

	c.Clear()
	assert.False(t, c.Active())
	_, err = c.Anchor()
	require.True(t, errors.Is(err, ErrNoActiveRun))
	_, err = c.Chain()
	require.True(t, errors.Is(err, ErrNoActiveRun))

	// A cleared cache can host the next run.
	require.NoError(t, c.StartRun(origin, at))
}

func TestStartRunRejectsBadAnchor(t *testing.T) {
	c := New()
	origin := schema.NewOrigin(schema.OriginTick, "BTCUSDT", 1)

	require.True(t, errors.Is(c.StartRun(schema.Origin{}, time.Unix(1, 0)), ErrNoOrigin))
	require.True(t, errors.Is(c.StartRun(origin, time.Time{}), ErrZeroAnchor))
}

func TestPutGetHas(t *testing.T) {
	c := startedCache(t)

	_, err := c.Get(schema.RecordSignal)
	require.True(t, errors.Is(err, ErrMissingRecord))
	assert.False(t, c.Has(schema.RecordSignal))

	first := schema.Signal{ID: "sig-1", Symbol: "BTCUSDT", Strength: 0.5}
	require.NoError(t, c.Put(first))
	assert.True(t, c.Has(schema.RecordSignal))

	// One live instance per kind: a second put overwrites.
	second := schema.Signal{ID: "sig-2", Symbol: "BTCUSDT", Strength: 0.9}
	require.NoError(t, c.Put(second))

	rec, err := c.Get(schema.RecordSignal)
	require.NoError(t, err)
	assert.Equal(t, second, rec)
}

func TestPutRejectsInvalidRecord(t *testing.T) {
	c := startedCache(t)
	require.True(t, errors.Is(c.Put(nil), ErrInvalidRecord))
}

func TestChainStartsAtOriginAndGrows(t *testing.T) {
	c := startedCache(t)

	current, err := c.Chain()
	require.NoError(t, err)
	anchor, err := c.Anchor()
	require.NoError(t, err)
	assert.Equal(t, anchor.Origin, current.Origin)

	require.NoError(t, c.UpdateChain(func(ch chain.Chain) (chain.Chain, error) {
		return ch.WithSignal("sig-1"), nil
	}))
	require.NoError(t, c.UpdateChain(func(ch chain.Chain) (chain.Chain, error) {
		return ch.WithOrder("ord-1"), nil
	}))

	current, err = c.Chain()
	require.NoError(t, err)
	assert.Equal(t, []schema.SignalID{"sig-1"}, current.SignalIDs)
	assert.Equal(t, []schema.OrderID{"ord-1"}, current.OrderIDs)
}

func TestClearDropsRecords(t *testing.T) {
	c := startedCache(t)
	require.NoError(t, c.Put(schema.Signal{ID: "sig-1"}))

	c.Clear()
	origin := schema.NewOrigin(schema.OriginTick, "BTCUSDT", 9)
	require.NoError(t, c.StartRun(origin, time.Unix(2, 0)))

	assert.False(t, c.Has(schema.RecordSignal))
}
