// Package bus is the scoped, durable, at-least-once publish/subscribe
// transport between event adapters. Every publish is recorded to the WAL
// before fan-out; per-subscriber delivery is FIFO; a bounded queue per
// subscriber enforces backpressure.
package bus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/obs"
	"main/internal/schema"
	"main/internal/wal"
)

var (
	ErrMissingRunID = errors.New("isolated publish requires a run id")
	ErrBusClosed    = errors.New("bus closed")
)

// Scope controls who receives a publish.
type Scope uint16

const (
	ScopeUnknown Scope = iota
	// ScopeBroadcast delivers to every matching subscriber of every run.
	ScopeBroadcast
	// ScopeIsolated delivers only to subscribers bound to the run
	// identified by the publish's correlation id.
	ScopeIsolated
)

func (s Scope) String() string {
	switch s {
	case ScopeBroadcast:
		return "broadcast"
	case ScopeIsolated:
		return "isolated"
	default:
		return "unknown"
	}
}

// Envelope is one delivered event.
type Envelope struct {
	Topic   TopicID
	Scope   Scope
	EventID uuid.UUID
	RunID   uuid.UUID
	Seq     uint64
	TsNano  int64
	Record  schema.Record // nil for flow-control events
}

// Config controls bus-wide defaults. Overflow policy is a property of each
// subscription, not of the bus.
type Config struct {
	QueueSize      int
	MaxAttempts    int
	RetryBase      time.Duration
	HandlerTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 10 * time.Millisecond
	}
	return c
}

// Bus routes envelopes from publishers to subscriptions.
type Bus struct {
	cfg     Config
	topics  *TopicRegistry
	log     *wal.Writer
	dead    *DeadLetterQueue
	metrics *obs.Metrics

	mu     sync.RWMutex // subscription table: mutated during bootstrap wiring only
	subs   map[TopicID][]*Subscription
	closed bool

	seqMu sync.Mutex
	seq   uint64
}

// Option customizes a bus at construction.
type Option func(*Bus)

// WithLog attaches a durable log; publishes block until recorded.
func WithLog(w *wal.Writer) Option {
	return func(b *Bus) { b.log = w }
}

// WithMetrics attaches a metrics container.
func WithMetrics(m *obs.Metrics) Option {
	return func(b *Bus) { b.metrics = m }
}

// New creates a bus.
func New(cfg Config, opts ...Option) *Bus {
	b := &Bus{
		cfg:    cfg.withDefaults(),
		topics: NewTopicRegistry(),
		dead:   NewDeadLetterQueue(),
		subs:   make(map[TopicID][]*Subscription),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Topics exposes the topic registry for bootstrap wiring.
func (b *Bus) Topics() *TopicRegistry { return b.topics }

// DeadLetters exposes the dead-letter queue.
func (b *Bus) DeadLetters() *DeadLetterQueue { return b.dead }

// Publish durably records the event, then fans it out to every matching
// subscription. Publishing with isolated scope and no run id is a contract
// violation.
func (b *Bus) Publish(ctx context.Context, topic TopicID, scope Scope, rec schema.Record, runID uuid.UUID) error {
	if scope == ScopeIsolated && runID == uuid.Nil {
		return ErrMissingRunID
	}

	start := time.Now()
	env := Envelope{
		Topic:   topic,
		Scope:   scope,
		EventID: uuid.New(),
		RunID:   runID,
		TsNano:  start.UTC().UnixNano(),
		Record:  rec,
	}

	b.seqMu.Lock()
	b.seq++
	env.Seq = b.seq
	b.seqMu.Unlock()

	if b.log != nil {
		entry, err := encodeEntry(env)
		if err != nil {
			return errors.Wrap(err, "encode envelope")
		}
		if err := b.log.Append(ctx, entry); err != nil {
			return errors.Wrap(err, "record publish")
		}
	}

	if err := b.fanout(ctx, env); err != nil {
		return err
	}

	b.metrics.IncPublish()
	b.metrics.ObservePublish(time.Since(start))
	return nil
}

func (b *Bus) fanout(ctx context.Context, env Envelope) error {
	b.mu.RLock()
	subs := b.subs[env.Topic]
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrBusClosed
	}

	for _, sub := range subs {
		if env.Scope == ScopeIsolated && sub.runID != env.RunID {
			continue
		}
		if err := sub.enqueue(ctx, env, b.metrics); err != nil {
			// Backpressure drops are accounted, not fatal to the publisher.
			logs.Warnf("drop event %s on %q: %v", env.EventID, b.topics.Name(env.Topic), err)
		}
	}
	return nil
}

// Subscribe binds a new subscription to an exact topic name or a
// trailing-wildcard pattern. Patterns resolve against the topics registered
// at call time, so bootstrap must declare topics before wiring subscribers.
func (b *Bus) Subscribe(nameOrPattern string, scope Scope, opts ...SubOption) (*Subscription, error) {
	ids, err := b.topics.Match(nameOrPattern)
	if err != nil {
		return nil, err
	}

	sub := newSubscription(b, ids, scope, opts...)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}
	for _, id := range ids {
		b.subs[id] = append(b.subs[id], sub)
	}
	return sub, nil
}

// SubscribeTopics binds a subscription to already-resolved topic ids. The
// adapter layer uses this after bootstrap validation, when names have been
// interned and pattern matching is no longer needed.
func (b *Bus) SubscribeTopics(ids []TopicID, scope Scope, opts ...SubOption) (*Subscription, error) {
	if len(ids) == 0 {
		return nil, ErrUnknownTopic
	}
	sub := newSubscription(b, ids, scope, opts...)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}
	for _, id := range ids {
		b.subs[id] = append(b.subs[id], sub)
	}
	return sub, nil
}

// Unsubscribe detaches a subscription from the routing table.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	for _, id := range sub.topics {
		entries := b.subs[id]
		for i, s := range entries {
			if s == sub {
				b.subs[id] = append(entries[:i], entries[i+1:]...)
				break
			}
		}
	}
	b.mu.Unlock()
	sub.close()
}

// Close detaches every subscription and refuses further publishes.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	seen := make(map[*Subscription]struct{})
	for _, entries := range b.subs {
		for _, sub := range entries {
			seen[sub] = struct{}{}
		}
	}
	b.subs = make(map[TopicID][]*Subscription)
	b.mu.Unlock()

	for sub := range seen {
		sub.close()
	}
}

// Replay re-injects durably recorded envelopes into the current
// subscription table, preserving event ids so downstream consumers can
// deduplicate. Used after a crash to redeliver unacknowledged messages.
func (b *Bus) Replay(ctx context.Context, dir, prefix string) (int, error) {
	total := 0
	err := wal.Scan(dir, prefix, wal.ReaderOptions{}, func(entry wal.Entry) error {
		env, err := decodeEntry(entry)
		if err != nil {
			return err
		}
		total++
		return b.fanout(ctx, env)
	})
	return total, err
}

func encodeEntry(env Envelope) (wal.Entry, error) {
	var kind schema.RecordKind
	var payload []byte
	if env.Record != nil {
		kind = env.Record.Kind()
		encoded, err := schema.EncodeRecord(env.Record)
		if err != nil {
			return wal.Entry{}, err
		}
		payload = encoded
	}
	return wal.Entry{
		Topic:   uint32(env.Topic),
		Scope:   uint16(env.Scope),
		Kind:    uint16(kind),
		Seq:     env.Seq,
		TsNano:  env.TsNano,
		EventID: env.EventID,
		RunID:   env.RunID,
		Payload: payload,
	}, nil
}

func decodeEntry(entry wal.Entry) (Envelope, error) {
	env := Envelope{
		Topic:   TopicID(entry.Topic),
		Scope:   Scope(entry.Scope),
		EventID: entry.EventID,
		RunID:   entry.RunID,
		Seq:     entry.Seq,
		TsNano:  entry.TsNano,
	}
	if kind := schema.RecordKind(entry.Kind); kind != schema.RecordUnknown {
		rec, err := schema.DecodeRecord(kind, entry.Payload)
		if err != nil {
			return Envelope{}, err
		}
		env.Record = rec
	}
	return env, nil
}
