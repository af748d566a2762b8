// Package journal archives final causality chains. Once a run terminates,
// the chain snapshot attached to each order is the only durable record of
// why that order exists; the journal owns that record.
package journal

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/chain"
)

var (
	ErrQueueFull = errors.New("journal queue full")
	ErrClosed    = errors.New("journal closed")
	ErrNotFound  = errors.New("journal entry not found")
	ErrEmptyKey  = errors.New("journal key is empty")
)

// Entry is one archived chain, keyed by the order it explains.
type Entry struct {
	RunID uuid.UUID
	Key   string
	Chain chain.Chain
	At    time.Time
}

// Store persists journal entries.
type Store interface {
	Save(Entry) error
	Load(key string) (Entry, error)
}

// Config controls the journal's write-behind queue.
type Config struct {
	QueueSize int
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	return c
}

// Journal accepts chain snapshots on the execution path and persists them
// off it. Writes are queued; a full queue sheds the write with an error
// rather than stalling the caller.
type Journal struct {
	store  Store
	queue  chan Entry
	closed atomic.Bool
	wg     sync.WaitGroup
	now    func() time.Time
}

// New creates a journal backed by the given store.
func New(store Store, cfg Config) *Journal {
	cfg = cfg.withDefaults()
	return &Journal{
		store: store,
		queue: make(chan Entry, cfg.QueueSize),
		now:   time.Now,
	}
}

// Start launches the write-behind worker.
func (j *Journal) Start(ctx context.Context) {
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		for {
			select {
			case <-ctx.Done():
				j.drain()
				return
			case entry, ok := <-j.queue:
				if !ok {
					return
				}
				j.persist(entry)
			}
		}
	}()
}

// Record queues one chain snapshot for archival.
func (j *Journal) Record(runID uuid.UUID, key string, c chain.Chain) error {
	if key == "" {
		return ErrEmptyKey
	}
	if j.closed.Load() {
		return ErrClosed
	}
	entry := Entry{
		RunID: runID,
		Key:   key,
		Chain: c,
		At:    j.now(),
	}
	select {
	case j.queue <- entry:
		return nil
	default:
		return errors.Wrap(ErrQueueFull, key)
	}
}

// Lookup reads an archived chain by its key.
func (j *Journal) Lookup(key string) (Entry, error) {
	return j.store.Load(key)
}

// Close stops accepting writes, flushes the queue and waits for the
// worker.
func (j *Journal) Close() {
	if !j.closed.CompareAndSwap(false, true) {
		return
	}
	close(j.queue)
	j.wg.Wait()
	j.drain()
}

func (j *Journal) drain() {
	for {
		select {
		case entry, ok := <-j.queue:
			if !ok {
				return
			}
			j.persist(entry)
		default:
			return
		}
	}
}

func (j *Journal) persist(entry Entry) {
	if err := j.store.Save(entry); err != nil {
		logs.Errorf("persist journal entry %s, err: %+v", entry.Key, err)
	}
}
