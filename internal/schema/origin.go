package schema

import (
	"github.com/google/uuid"
)

// SchemaVersion is the current record schema version.
const SchemaVersion uint16 = 1

// OriginKind discriminates what triggered a run.
type OriginKind uint16

const (
	OriginUnknown OriginKind = iota
	OriginTick
	OriginNews
	OriginSchedule
	OriginManual
)

func (k OriginKind) String() string {
	switch k {
	case OriginTick:
		return "tick"
	case OriginNews:
		return "news"
	case OriginSchedule:
		return "schedule"
	case OriginManual:
		return "manual"
	default:
		return "unknown"
	}
}

// IsAvailable reports whether the kind is a known trigger kind.
func (k OriginKind) IsAvailable() bool {
	return k > OriginUnknown && k <= OriginManual
}

// OriginID is a kind-prefixed unique identifier, e.g. "tick-2f9c…".
type OriginID string

// NewOriginID mints a kind-prefixed unique id.
func NewOriginID(kind OriginKind) OriginID {
	return OriginID(kind.String() + "-" + uuid.NewString())
}

// Origin is the immutable identity of the external cause of a run.
// It is copied by value into the causality chain and never mutated.
type Origin struct {
	Kind   OriginKind `json:"kind"`
	ID     OriginID   `json:"id"`
	Symbol string     `json:"symbol"`
	TsNano int64      `json:"tsNano"`
}

// NewOrigin builds an origin with a fresh kind-prefixed id.
func NewOrigin(kind OriginKind, symbol string, tsNano int64) Origin {
	return Origin{
		Kind:   kind,
		ID:     NewOriginID(kind),
		Symbol: symbol,
		TsNano: tsNano,
	}
}
