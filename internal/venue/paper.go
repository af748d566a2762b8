package venue

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/yanun0323/errors"

	"main/internal/schema"
)

// PaperConfig controls the simulated venue.
type PaperConfig struct {
	// ReplyBuffer bounds the reply channel. Zero means 64.
	ReplyBuffer int
	// AutoFill makes every placed order fill completely right after its
	// ack, at its limit price. Scenario tests turn this off and drive
	// fills by hand.
	AutoFill bool
	// FeePerFill is charged on every simulated fill.
	FeePerFill schema.Fee
}

func (c PaperConfig) withDefaults() PaperConfig {
	if c.ReplyBuffer <= 0 {
		c.ReplyBuffer = 64
	}
	return c
}

type paperOrder struct {
	spec     schema.OrderSpec
	venueRef string
	working  bool
}

// Paper is an in-process venue simulator. It acks every well-formed
// request onto the bounded reply stream and keeps just enough order state
// to reject nonsense like cancelling an unknown order.
type Paper struct {
	cfg PaperConfig
	now func() time.Time

	mu     sync.Mutex
	orders map[schema.OrderID]*paperOrder
	refSeq uint64
	closed bool

	// emitMu guards the reply channel separately from the order state, so
	// a stalled consumer never blocks order entry and Close cannot race a
	// concurrent emit.
	emitMu  sync.Mutex
	sealed  bool
	replies chan Reply
}

// NewPaper creates a paper venue.
func NewPaper(cfg PaperConfig) *Paper {
	cfg = cfg.withDefaults()
	return &Paper{
		cfg:     cfg,
		now:     time.Now,
		replies: make(chan Reply, cfg.ReplyBuffer),
		orders:  make(map[schema.OrderID]*paperOrder),
	}
}

// Place accepts an order and acks it. With AutoFill set, a final fill for
// the full quantity follows the ack immediately.
func (p *Paper) Place(_ context.Context, spec schema.OrderSpec) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrVenueClosed
	}
	if _, ok := p.orders[spec.ClientID]; ok {
		p.mu.Unlock()
		return errors.Wrap(ErrAlreadyWorking, string(spec.ClientID))
	}

	p.refSeq++
	order := &paperOrder{
		spec:     spec,
		venueRef: "paper-" + strconv.FormatUint(p.refSeq, 10),
		working:  true,
	}
	p.orders[spec.ClientID] = order

	replies := []Reply{{
		Kind:     ReplyAck,
		OrderID:  spec.ClientID,
		VenueRef: order.venueRef,
		At:       p.now(),
	}}
	if p.cfg.AutoFill {
		replies = append(replies, p.fillLocked(order, spec.Price, spec.Quantity, true))
	}
	p.mu.Unlock()

	p.emit(replies...)
	return nil
}

// Modify reprices a working order and acks the change.
func (p *Paper) Modify(_ context.Context, id schema.OrderID, price schema.Price, qty schema.Quantity) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrVenueClosed
	}
	order, ok := p.orders[id]
	if !ok || !order.working {
		p.mu.Unlock()
		return errors.Wrap(ErrUnknownOrder, string(id))
	}

	order.spec.Price = price
	order.spec.Quantity = qty
	ack := Reply{
		Kind:     ReplyAck,
		OrderID:  id,
		VenueRef: order.venueRef,
		At:       p.now(),
	}
	p.mu.Unlock()

	p.emit(ack)
	return nil
}

// Cancel stops a working order and acks the cancel.
func (p *Paper) Cancel(_ context.Context, id schema.OrderID) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrVenueClosed
	}
	order, ok := p.orders[id]
	if !ok || !order.working {
		p.mu.Unlock()
		return errors.Wrap(ErrUnknownOrder, string(id))
	}

	order.working = false
	ack := Reply{
		Kind:     ReplyCancelAck,
		OrderID:  id,
		VenueRef: order.venueRef,
		At:       p.now(),
	}
	p.mu.Unlock()

	p.emit(ack)
	return nil
}

// Fill injects a scripted fill against a working order. Tests and the
// scenario harness drive partial and final fills through it.
func (p *Paper) Fill(id schema.OrderID, price schema.Price, qty schema.Quantity, final bool) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrVenueClosed
	}
	order, ok := p.orders[id]
	if !ok || !order.working {
		p.mu.Unlock()
		return errors.Wrap(ErrUnknownOrder, string(id))
	}
	fill := p.fillLocked(order, price, qty, final)
	p.mu.Unlock()

	p.emit(fill)
	return nil
}

// Reject injects a scripted rejection, terminal for the order.
func (p *Paper) Reject(id schema.OrderID, reason string) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrVenueClosed
	}
	order, ok := p.orders[id]
	if !ok || !order.working {
		p.mu.Unlock()
		return errors.Wrap(ErrUnknownOrder, string(id))
	}
	order.working = false
	reject := Reply{
		Kind:     ReplyReject,
		OrderID:  id,
		VenueRef: order.venueRef,
		Reason:   reason,
		At:       p.now(),
	}
	p.mu.Unlock()

	p.emit(reject)
	return nil
}

// Replies streams venue events, in submission order.
func (p *Paper) Replies() <-chan Reply {
	return p.replies
}

// Close stops the connector and closes the reply stream.
func (p *Paper) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.emitMu.Lock()
	p.sealed = true
	close(p.replies)
	p.emitMu.Unlock()
}

func (p *Paper) fillLocked(order *paperOrder, price schema.Price, qty schema.Quantity, final bool) Reply {
	if final {
		order.working = false
	}
	return Reply{
		Kind:     ReplyFill,
		OrderID:  order.spec.ClientID,
		VenueRef: order.venueRef,
		Price:    price,
		Quantity: qty,
		Fee:      p.cfg.FeePerFill,
		Final:    final,
		At:       p.now(),
	}
}

// emit writes replies to the bounded stream without holding the state
// lock. A full stream sheds the reply rather than stalling order entry.
func (p *Paper) emit(replies ...Reply) {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()
	if p.sealed {
		return
	}
	for _, reply := range replies {
		select {
		case p.replies <- reply:
		default:
		}
	}
}
