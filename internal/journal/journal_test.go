package journal

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"

	"main/internal/chain"
	"main/internal/schema"
)

func testChain() chain.Chain {
	origin := schema.NewOrigin(schema.OriginTick, "BTCUSDT", 1_700_000_000)
	return chain.New(origin).WithSignal(schema.NewSignalID())
}

func TestRecordPersistsThroughWorker(t *testing.T) {
	store := NewMemoryStore()
	j := New(store, Config{})
	j.Start(context.Background())

	runID := uuid.New()
	c := testChain()
	require.NoError(t, j.Record(runID, "ord-1", c))

	require.Eventually(t, func() bool { return store.Len() == 1 }, time.Second, time.Millisecond)

	entry, err := j.Lookup("ord-1")
	require.NoError(t, err)
	assert.Equal(t, runID, entry.RunID)
	assert.Equal(t, c, entry.Chain)
	assert.False(t, entry.At.IsZero())

	j.Close()
}

func TestRecordOverwritesSameKey(t *testing.T) {
	store := NewMemoryStore()
	j := New(store, Config{})
	j.Start(context.Background())

	runID := uuid.New()
	base := testChain()
	require.NoError(t, j.Record(runID, "ord-1", base))
	require.NoError(t, j.Record(runID, "ord-1", base.WithFill("fill-1")))
	j.Close()

	entry, err := j.Lookup("ord-1")
	require.NoError(t, err)
	assert.Equal(t, []schema.FillID{"fill-1"}, entry.Chain.FillIDs)
	assert.Equal(t, 1, store.Len())
}

func TestRecordValidation(t *testing.T) {
	j := New(NewMemoryStore(), Config{})
	require.True(t, errors.Is(j.Record(uuid.New(), "", testChain()), ErrEmptyKey))
}

func TestFullQueueShedsTheWrite(t *testing.T) {
	// No worker draining: the second record has nowhere to go.
	j := New(NewMemoryStore(), Config{QueueSize: 1})
	require.NoError(t, j.Record(uuid.New(), "ord-1", testChain()))
	require.True(t, errors.Is(j.Record(uuid.New(), "ord-2", testChain()), ErrQueueFull))
}

func TestCloseFlushesAndRejectsLateWrites(t *testing.T) {
	store := NewMemoryStore()
	j := New(store, Config{})

	// Queued but never picked up by a worker; Close drains it.
	require.NoError(t, j.Record(uuid.New(), "ord-1", testChain()))
	j.Close()
	assert.Equal(t, 1, store.Len())

	require.True(t, errors.Is(j.Record(uuid.New(), "ord-2", testChain()), ErrClosed))
}

func TestLookupMissingKey(t *testing.T) {
	j := New(NewMemoryStore(), Config{})
	_, err := j.Lookup("ord-missing")
	require.True(t, errors.Is(err, ErrNotFound))
}
