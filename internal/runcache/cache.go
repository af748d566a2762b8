// Package runcache is the per-run, record-kind-keyed store holding the
// objective facts and causality chain for one pass through the pipeline.
// Exactly one instance exists per run; it is never shared across runs.
package runcache

import (
	"sync"
	"time"

	"github.com/yanun0323/errors"

	"main/internal/chain"
	"main/internal/schema"
)

var (
	ErrRunActive     = errors.New("run already active")
	ErrNoActiveRun   = errors.New("no active run")
	ErrMissingRecord = errors.New("missing declared record")
	ErrInvalidRecord = errors.New("invalid record")
	ErrNoOrigin      = errors.New("origin is unknown")
	ErrZeroAnchor    = errors.New("anchor timestamp is zero")
)

// Anchor is the frozen point-in-time context of one run. The birth identity
// of the run (its origin) lives here, set once by StartRun; workers read it
// from the cache instead of receiving it through every handler call.
type Anchor struct {
	At     time.Time
	Origin schema.Origin
}

// Cache maps record kinds to at most one live instance each, valid only
// between StartRun and Clear. Writing a second instance of a kind
// overwrites; it never appends.
type Cache struct {
	mu      sync.Mutex
	active  bool
	anchor  Anchor
	records map[schema.RecordKind]schema.Record
	chain   chain.Chain
}

// New allocates an inactive cache.
func New() *Cache {
	return &Cache{records: make(map[schema.RecordKind]schema.Record)}
}

// StartRun freezes the anchor and activates the cache. It fails if a run is
// already active on this instance.
func (c *Cache) StartRun(origin schema.Origin, at time.Time) error {
	if !origin.Kind.IsAvailable() {
		return ErrNoOrigin
	}
	if at.IsZero() {
		return ErrZeroAnchor
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active {
		return ErrRunActive
	}
	c.active = true
	c.anchor = Anchor{At: at, Origin: origin}
	c.chain = chain.New(origin)
	return nil
}

// Anchor returns the frozen run anchor.
func (c *Cache) Anchor() (Anchor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return Anchor{}, ErrNoActiveRun
	}
	return c.anchor, nil
}

// Active reports whether a run is in progress.
func (c *Cache) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Put stores a record keyed by its kind, overwriting any previous instance.
func (c *Cache) Put(rec schema.Record) error {
	if rec == nil || !rec.Kind().IsAvailable() {
		return ErrInvalidRecord
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return ErrNoActiveRun
	}
	c.records[rec.Kind()] = rec
	return nil
}

// Get returns the live instance for a kind. A missing record for a declared
// dependency signals a wiring defect, not a legitimate runtime branch.
func (c *Cache) Get(kind schema.RecordKind) (schema.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return nil, ErrNoActiveRun
	}
	rec, ok := c.records[kind]
	if !ok {
		return nil, errors.Wrap(ErrMissingRecord, kind.String())
	}
	return rec, nil
}

// Has reports whether an instance of the kind is live.
func (c *Cache) Has(kind schema.RecordKind) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return false
	}
	_, ok := c.records[kind]
	return ok
}

// Chain returns the current causality chain value.
func (c *Cache) Chain() (chain.Chain, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return chain.Chain{}, ErrNoActiveRun
	}
	return c.chain, nil
}

// UpdateChain applies an append-only mutation to the causality chain. The
// chain value type only grows, so previously appended ids survive.
func (c *Cache) UpdateChain(fn func(chain.Chain) (chain.Chain, error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return ErrNoActiveRun
	}
	next, err := fn(c.chain)
	if err != nil {
		return err
	}
	c.chain = next
	return nil
}

// Clear tears the run down. Every access afterwards fails with
// ErrNoActiveRun until the next StartRun.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = false
	c.anchor = Anchor{}
	c.chain = chain.Chain{}
	for kind := range c.records {
		delete(c.records, kind)
	}
}
