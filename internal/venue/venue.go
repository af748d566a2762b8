// Package venue is the boundary to order execution venues. The terminal
// execution component talks to a Connector; everything upstream of it never
// sees venue types.
package venue

import (
	"context"
	"time"

	"github.com/yanun0323/errors"

	"main/internal/schema"
)

var (
	ErrVenueClosed    = errors.New("venue connector closed")
	ErrUnknownOrder   = errors.New("venue has no such order")
	ErrUnsupported    = errors.New("venue does not support the operation")
	ErrAlreadyWorking = errors.New("order already working at venue")
)

// ReplyKind discriminates asynchronous venue replies.
type ReplyKind uint16

const (
	ReplyUnknown ReplyKind = iota
	ReplyAck
	ReplyReject
	ReplyFill
	ReplyCancelAck
)

func (k ReplyKind) String() string {
	switch k {
	case ReplyAck:
		return "ack"
	case ReplyReject:
		return "reject"
	case ReplyFill:
		return "fill"
	case ReplyCancelAck:
		return "cancel_ack"
	default:
		return "unknown"
	}
}

// Reply is one asynchronous venue event, keyed by the client order id the
// ledger registered the order under.
type Reply struct {
	Kind     ReplyKind
	OrderID  schema.OrderID
	VenueRef string
	Reason   string
	Price    schema.Price
	Quantity schema.Quantity
	Fee      schema.Fee
	Final    bool
	At       time.Time
}

// Connector submits orders to one venue and streams replies back. The
// contract is ack-only: Place, Modify and Cancel return once the request
// is accepted for transmission, and the venue-assigned ref arrives with
// the ack on Replies, never as a synchronous return. The shape is
// identical across paper and live venues.
type Connector interface {
	Place(ctx context.Context, spec schema.OrderSpec) error
	Modify(ctx context.Context, id schema.OrderID, price schema.Price, qty schema.Quantity) error
	Cancel(ctx context.Context, id schema.OrderID) error
	Replies() <-chan Reply
	Close()
}
