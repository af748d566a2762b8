// Package flow bridges stateless workers and the event bus. A worker only
// ever sees its own connectors and the run cache; topic names, scopes and
// subscriber identities are resolved once at bootstrap and trusted at
// runtime.
package flow

import (
	"context"

	"main/internal/runcache"
	"main/internal/schema"
)

// DispositionKind is the closed set of worker outcomes.
type DispositionKind uint16

const (
	// DispositionContinue advances the chain with no external payload.
	DispositionContinue DispositionKind = iota + 1
	// DispositionPublish emits a named payload for interested subscribers.
	DispositionPublish
	// DispositionStop terminates the run and triggers cleanup.
	DispositionStop
)

func (k DispositionKind) String() string {
	switch k {
	case DispositionContinue:
		return "continue"
	case DispositionPublish:
		return "publish"
	case DispositionStop:
		return "stop"
	default:
		return "unknown"
	}
}

// Disposition is the tri-state output contract of every worker.
type Disposition struct {
	kind   DispositionKind
	output string
	record schema.Record
}

// Continue advances the chain without an external payload.
func Continue() Disposition {
	return Disposition{kind: DispositionContinue}
}

// Publish emits the record through the named output connector.
func Publish(output string, rec schema.Record) Disposition {
	return Disposition{kind: DispositionPublish, output: output, record: rec}
}

// Stop terminates the run.
func Stop() Disposition {
	return Disposition{kind: DispositionStop}
}

// Kind returns the disposition kind.
func (d Disposition) Kind() DispositionKind { return d.kind }

// Handler processes one delivery for a worker. rec is nil for pure
// triggers; the run cache carries everything else, including the anchor
// and the causality chain.
type Handler func(ctx context.Context, run *runcache.Cache, rec schema.Record) (Disposition, error)
