package sim

import (
	"context"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/journal"
	"main/internal/ledger"
	"main/internal/venue"
)

// Pump applies asynchronous venue replies to the ledger. It is the only
// path by which fills and venue-side rejections become ledger state, and
// it extends the archived chain of a filled order with its fill ids.
type Pump struct {
	ledger  *ledger.Ledger
	journal *journal.Journal
	done    chan struct{}
}

// NewPump creates a reply pump.
func NewPump(l *ledger.Ledger, j *journal.Journal) *Pump {
	return &Pump{
		ledger:  l,
		journal: j,
		done:    make(chan struct{}),
	}
}

// Run consumes replies until the channel closes or the context ends.
func (p *Pump) Run(ctx context.Context, replies <-chan venue.Reply) {
	defer close(p.done)
	for {
		select {
		case <-ctx.Done():
			return
		case reply, ok := <-replies:
			if !ok {
				return
			}
			if err := p.apply(reply); err != nil {
				logs.Errorf("apply venue reply %s for %s, err: %+v",
					reply.Kind, reply.OrderID, err)
			}
		}
	}
}

// Done is closed when the pump has drained.
func (p *Pump) Done() <-chan struct{} {
	return p.done
}

func (p *Pump) apply(reply venue.Reply) error {
	switch reply.Kind {
	case venue.ReplyAck:
		return p.ledger.SetVenueRef(reply.OrderID, reply.VenueRef)

	case venue.ReplyReject:
		return p.ledger.UpdateOrderStatus(reply.OrderID, ledger.OrderRejected)

	case venue.ReplyCancelAck:
		return p.ledger.UpdateOrderStatus(reply.OrderID, ledger.OrderCanceled)

	case venue.ReplyFill:
		fill, err := p.ledger.RecordFill(reply.OrderID, reply.Price, reply.Quantity, reply.Fee, reply.At)
		if err != nil {
			return err
		}
		if reply.Final {
			// A venue-final partial still terminates the order.
			if err := p.ledger.UpdateOrderStatus(reply.OrderID, ledger.OrderFilled); err != nil &&
				!errors.Is(err, ledger.ErrInvalidTransition) {
				return err
			}
		}
		p.extendChain(reply, fill)
		return nil

	default:
		return errors.Errorf("unknown reply kind %d", reply.Kind)
	}
}

// extendChain appends the fill id to the order's archived chain. A missing
// entry is tolerated; placement archival is asynchronous.
func (p *Pump) extendChain(reply venue.Reply, fill ledger.Fill) {
	entry, err := p.journal.Lookup(string(reply.OrderID))
	if err != nil {
		logs.Warnf("no archived chain for order %s, err: %+v", reply.OrderID, err)
		return
	}
	next := entry.Chain.WithFill(fill.ID)
	if err := p.journal.Record(entry.RunID, entry.Key, next); err != nil {
		logs.Warnf("extend chain for order %s, err: %+v", reply.OrderID, err)
	}
}
