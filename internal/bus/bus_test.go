package bus

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"

	"main/internal/obs"
	"main/internal/schema"
	"main/internal/wal"
)

func collect(t *testing.T, sub *Subscription, n int, timeout time.Duration) []Envelope {
	t.Helper()
	got := make(chan Envelope, n+8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = sub.Run(ctx, func(_ context.Context, env Envelope) error {
			got <- env
			return nil
		})
	}()

	out := make([]Envelope, 0, n)
	deadline := time.After(timeout)
	for len(out) < n {
		select {
		case env := <-got:
			out = append(out, env)
		case <-deadline:
			t.Fatalf("received %d of %d envelopes before timeout", len(out), n)
		}
	}
	return out
}

func TestIsolatedPublishRequiresRunID(t *testing.T) {
	b := New(Config{}, WithMetrics(obs.NewMetrics()))
	topic, err := b.Topics().Intern("run.signal")
	require.NoError(t, err)

	err = b.Publish(context.Background(), topic, ScopeIsolated, nil, uuid.Nil)
	require.True(t, errors.Is(err, ErrMissingRunID))
}

func TestDeliveryIsFIFOPerSubscription(t *testing.T) {
	b := New(Config{}, WithMetrics(obs.NewMetrics()))
	topic, err := b.Topics().Intern("run.signal")
	require.NoError(t, err)

	sub, err := b.Subscribe("run.signal", ScopeBroadcast)
	require.NoError(t, err)

	const n = 20
	for i := 0; i < n; i++ {
		require.NoError(t, b.Publish(context.Background(), topic, ScopeBroadcast, nil, uuid.Nil))
	}

	got := collect(t, sub, n, time.Second)
	for i := 1; i < len(got); i++ {
		assert.Less(t, got[i-1].Seq, got[i].Seq)
	}
}

func TestIsolatedScopeReachesOnlyItsRun(t *testing.T) {
	b := New(Config{}, WithMetrics(obs.NewMetrics()))
	topic, err := b.Topics().Intern("run.signal")
	require.NoError(t, err)

	runA, runB := uuid.New(), uuid.New()
	subA, err := b.Subscribe("run.signal", ScopeIsolated, WithRun(runA))
	require.NoError(t, err)
	subB, err := b.Subscribe("run.signal", ScopeIsolated, WithRun(runB))
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), topic, ScopeIsolated, nil, runA))
	require.NoError(t, b.Publish(context.Background(), topic, ScopeIsolated, nil, runA))

	got := collect(t, subA, 2, time.Second)
	for _, env := range got {
		assert.Equal(t, runA, env.RunID)
	}
	assert.Zero(t, subB.Pending())
}

func TestBroadcastReachesEveryRun(t *testing.T) {
	b := New(Config{}, WithMetrics(obs.NewMetrics()))
	topic, err := b.Topics().Intern("run.halt")
	require.NoError(t, err)

	subA, err := b.Subscribe("run.halt", ScopeIsolated, WithRun(uuid.New()))
	require.NoError(t, err)
	subB, err := b.Subscribe("run.halt", ScopeIsolated, WithRun(uuid.New()))
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), topic, ScopeBroadcast, nil, uuid.Nil))

	assert.Equal(t, 1, subA.Pending())
	assert.Equal(t, 1, subB.Pending())
}

func TestWildcardSubscription(t *testing.T) {
	b := New(Config{}, WithMetrics(obs.NewMetrics()))
	for _, name := range []string{"plan.entry", "plan.exit", "run.report"} {
		_, err := b.Topics().Intern(name)
		require.NoError(t, err)
	}

	sub, err := b.Subscribe("plan.*", ScopeBroadcast)
	require.NoError(t, err)

	for _, name := range []string{"plan.entry", "plan.exit", "run.report"} {
		topic, ok := b.Topics().Lookup(name)
		require.True(t, ok)
		require.NoError(t, b.Publish(context.Background(), topic, ScopeBroadcast, nil, uuid.Nil))
	}
	assert.Equal(t, 2, sub.Pending())

	_, err = b.Subscribe("nothing.*", ScopeBroadcast)
	require.True(t, errors.Is(err, ErrUnknownTopic))
}

func TestRetryThenDeadLetter(t *testing.T) {
	metrics := obs.NewMetrics()
	b := New(Config{MaxAttempts: 2, RetryBase: time.Millisecond}, WithMetrics(metrics))
	topic, err := b.Topics().Intern("run.signal")
	require.NoError(t, err)

	dead := make(chan Envelope, 1)
	sub, err := b.Subscribe("run.signal", ScopeBroadcast,
		WithDeadLetterHook(func(env Envelope, _ error) { dead <- env }))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = sub.Run(ctx, func(context.Context, Envelope) error {
			return assert.AnError
		})
	}()

	require.NoError(t, b.Publish(context.Background(), topic, ScopeBroadcast, nil, uuid.Nil))

	select {
	case <-dead:
	case <-time.After(time.Second):
		t.Fatal("dead letter hook never fired")
	}

	assert.Equal(t, 1, b.DeadLetters().Len())
	snap := metrics.Snapshot()
	assert.EqualValues(t, 1, snap.Retries)
	assert.EqualValues(t, 1, snap.DeadLetters)
	assert.EqualValues(t, 0, snap.Deliveries)
}

func TestOverflowDropNewest(t *testing.T) {
	metrics := obs.NewMetrics()
	b := New(Config{}, WithMetrics(metrics))
	topic, err := b.Topics().Intern("run.signal")
	require.NoError(t, err)

	sub, err := b.Subscribe("run.signal", ScopeBroadcast, WithQueueSize(1))
	require.NoError(t, err)

	// No consumer attached: the second publish overflows and is shed.
	require.NoError(t, b.Publish(context.Background(), topic, ScopeBroadcast, nil, uuid.Nil))
	require.NoError(t, b.Publish(context.Background(), topic, ScopeBroadcast, nil, uuid.Nil))

	assert.Equal(t, 1, sub.Pending())
	assert.EqualValues(t, 1, metrics.Snapshot().QueueDrops)
}

func TestOverflowDropOldest(t *testing.T) {
	b := New(Config{}, WithMetrics(obs.NewMetrics()))
	topic, err := b.Topics().Intern("run.signal")
	require.NoError(t, err)

	sub, err := b.Subscribe("run.signal", ScopeBroadcast,
		WithQueueSize(1), WithOverflow(OverflowDropOldest))
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), topic, ScopeBroadcast, nil, uuid.Nil))
	require.NoError(t, b.Publish(context.Background(), topic, ScopeBroadcast, nil, uuid.Nil))

	got := collect(t, sub, 1, time.Second)
	assert.EqualValues(t, 2, got[0].Seq)
}

func TestUnsubscribeDuringPublishIsSafe(t *testing.T) {
	b := New(Config{QueueSize: 1}, WithMetrics(obs.NewMetrics()))
	topic, err := b.Topics().Intern("run.signal")
	require.NoError(t, err)

	sub, err := b.Subscribe("run.signal", ScopeBroadcast)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			_ = b.Publish(context.Background(), topic, ScopeBroadcast, nil, uuid.Nil)
		}
	}()

	// Tearing down while the publisher is mid-flight must not panic.
	b.Unsubscribe(sub)
	<-done

	require.NoError(t, b.Publish(context.Background(), topic, ScopeBroadcast, nil, uuid.Nil))
}

func TestReplayRedeliversRecordedEnvelopes(t *testing.T) {
	dir := t.TempDir()
	writer, err := wal.NewWriter(wal.Config{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, writer.Start(context.Background()))

	b := New(Config{}, WithLog(writer), WithMetrics(obs.NewMetrics()))
	topic, err := b.Topics().Intern("run.signal")
	require.NoError(t, err)

	signal := schema.Signal{ID: "sig-1", Symbol: "BTCUSDT", Strength: 0.7}
	require.NoError(t, b.Publish(context.Background(), topic, ScopeBroadcast, signal, uuid.Nil))
	require.NoError(t, b.Publish(context.Background(), topic, ScopeBroadcast, nil, uuid.Nil))
	require.NoError(t, writer.Close())

	// Nothing was subscribed during publish; replay feeds the late joiner.
	sub, err := b.Subscribe("run.signal", ScopeBroadcast)
	require.NoError(t, err)

	n, err := b.Replay(context.Background(), dir, "")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got := collect(t, sub, 2, time.Second)
	require.Len(t, got, 2)
	assert.Equal(t, signal, got[0].Record)
	assert.Nil(t, got[1].Record)
	assert.NotEqual(t, uuid.Nil, got[0].EventID)
}
