// Package ledger is the persistent container hierarchy recording trade
// intent and execution reality: plan -> execution group -> order -> fill.
// The ledger is the only writer of lifecycle state; causality stays in the
// run cache and journal, correlated here purely by shared ids.
package ledger

import (
	"time"

	"main/internal/schema"
)

// GroupStatus is the lifecycle of an execution group.
type GroupStatus uint16

const (
	GroupPending GroupStatus = iota + 1
	GroupActive
	GroupCompleted
	GroupCancelled
)

func (s GroupStatus) String() string {
	switch s {
	case GroupPending:
		return "PENDING"
	case GroupActive:
		return "ACTIVE"
	case GroupCompleted:
		return "COMPLETED"
	case GroupCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

func (s GroupStatus) Terminal() bool {
	return s == GroupCompleted || s == GroupCancelled
}

// groupTransitionAllowed encodes the monotonic group lifecycle:
// PENDING -> ACTIVE -> COMPLETED | CANCELLED.
func groupTransitionAllowed(from, to GroupStatus) bool {
	switch from {
	case GroupPending:
		return to == GroupActive || to == GroupCancelled
	case GroupActive:
		return to == GroupCompleted || to == GroupCancelled
	default:
		return false
	}
}

// OrderStatus is the lifecycle of an order.
type OrderStatus uint16

const (
	OrderOpen OrderStatus = iota + 1
	OrderFilled
	OrderCanceled
	OrderRejected
)

func (s OrderStatus) String() string {
	switch s {
	case OrderOpen:
		return "OPEN"
	case OrderFilled:
		return "FILLED"
	case OrderCanceled:
		return "CANCELED"
	case OrderRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

func (s OrderStatus) Terminal() bool {
	return s == OrderFilled || s == OrderCanceled || s == OrderRejected
}

// orderTransitionAllowed encodes OPEN -> FILLED | CANCELED | REJECTED.
func orderTransitionAllowed(from, to OrderStatus) bool {
	return from == OrderOpen && to.Terminal()
}

// Plan is the strategic container for one trading thesis. The ledger
// creates it on first reference; planning workers never instantiate one.
type Plan struct {
	Ref       schema.PlanRef
	Symbol    string
	GroupIDs  []schema.GroupID
	CreatedAt time.Time
}

// ExecutionGroup is one tactical unit of 1..N orders issued from one
// execution directive.
type ExecutionGroup struct {
	ID          schema.GroupID
	DirectiveID schema.ExecDirectiveID
	PlanRef     schema.PlanRef
	Symbol      string
	Side        schema.Side
	TargetSize  schema.Quantity
	FilledSize  schema.Quantity
	Status      GroupStatus
	OrderIDs    []schema.OrderID
	Algorithm   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Order is one concrete instruction sent to a venue.
type Order struct {
	ID        schema.OrderID
	GroupID   schema.GroupID
	Symbol    string
	Side      schema.Side
	Type      schema.OrderType
	Price     schema.Price
	Quantity  schema.Quantity
	FilledQty schema.Quantity
	VenueRef  string
	Status    OrderStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Fill is the immutable record of an actual execution. Only the
// venue-facing side produces fills, never planning logic.
type Fill struct {
	ID       schema.FillID
	OrderID  schema.OrderID
	Price    schema.Price
	Quantity schema.Quantity
	Fee      schema.Fee
	At       time.Time
}
