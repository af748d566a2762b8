// Package chain holds the append-only causality record correlating every id
// produced along one run, from origin down to fills.
package chain

import (
	"slices"

	"github.com/yanun0323/errors"

	"main/internal/schema"
)

var (
	ErrDirectiveAlreadySet     = errors.New("strategy directive id already set")
	ErrExecDirectiveAlreadySet = errors.New("execution directive id already set")
)

// Chain is an immutable value; every mutation returns a fresh copy with one
// more id appended. Ids are never removed or overwritten.
type Chain struct {
	Origin          schema.Origin          `json:"origin"`
	SignalIDs       []schema.SignalID      `json:"signalIds,omitempty"`
	RiskIDs         []schema.RiskID        `json:"riskIds,omitempty"`
	DirectiveID     schema.DirectiveID     `json:"directiveId,omitempty"`
	PlanIDs         []schema.PlanID        `json:"planIds,omitempty"`
	ExecDirectiveID schema.ExecDirectiveID `json:"execDirectiveId,omitempty"`
	OrderIDs        []schema.OrderID       `json:"orderIds,omitempty"`
	FillIDs         []schema.FillID        `json:"fillIds,omitempty"`
}

// New starts a chain from the origin of a run.
func New(origin schema.Origin) Chain {
	return Chain{Origin: origin}
}

func (c Chain) clone() Chain {
	c.SignalIDs = slices.Clone(c.SignalIDs)
	c.RiskIDs = slices.Clone(c.RiskIDs)
	c.PlanIDs = slices.Clone(c.PlanIDs)
	c.OrderIDs = slices.Clone(c.OrderIDs)
	c.FillIDs = slices.Clone(c.FillIDs)
	return c
}

// WithSignal appends a signal id.
func (c Chain) WithSignal(id schema.SignalID) Chain {
	next := c.clone()
	next.SignalIDs = append(next.SignalIDs, id)
	return next
}

// WithRisk appends a risk id.
func (c Chain) WithRisk(id schema.RiskID) Chain {
	next := c.clone()
	next.RiskIDs = append(next.RiskIDs, id)
	return next
}

// WithDirective sets the single strategy directive id of the run.
func (c Chain) WithDirective(id schema.DirectiveID) (Chain, error) {
	if c.DirectiveID != "" {
		return c, ErrDirectiveAlreadySet
	}
	next := c.clone()
	next.DirectiveID = id
	return next, nil
}

// WithPlan appends a plan id.
func (c Chain) WithPlan(id schema.PlanID) Chain {
	next := c.clone()
	next.PlanIDs = append(next.PlanIDs, id)
	return next
}

// WithExecDirective sets the single execution directive id of the run.
func (c Chain) WithExecDirective(id schema.ExecDirectiveID) (Chain, error) {
	if c.ExecDirectiveID != "" {
		return c, ErrExecDirectiveAlreadySet
	}
	next := c.clone()
	next.ExecDirectiveID = id
	return next, nil
}

// WithOrder appends an order id.
func (c Chain) WithOrder(id schema.OrderID) Chain {
	next := c.clone()
	next.OrderIDs = append(next.OrderIDs, id)
	return next
}

// WithFill appends a fill id.
func (c Chain) WithFill(id schema.FillID) Chain {
	next := c.clone()
	next.FillIDs = append(next.FillIDs, id)
	return next
}

// Fork expands one decision into n independent branches. Everything set so
// far is shared verbatim by every branch; order and fill ids are branch-local
// and start empty, so each branch records only its own execution.
func (c Chain) Fork(n int) []Chain {
	if n <= 0 {
		return nil
	}
	branches := make([]Chain, n)
	for i := range branches {
		b := c.clone()
		b.OrderIDs = nil
		b.FillIDs = nil
		branches[i] = b
	}
	return branches
}

// SharesUpstream reports whether two chains agree on every field upstream of
// the order/fill branch point.
func (c Chain) SharesUpstream(other Chain) bool {
	return c.Origin == other.Origin &&
		slices.Equal(c.SignalIDs, other.SignalIDs) &&
		slices.Equal(c.RiskIDs, other.RiskIDs) &&
		c.DirectiveID == other.DirectiveID &&
		slices.Equal(c.PlanIDs, other.PlanIDs) &&
		c.ExecDirectiveID == other.ExecDirectiveID
}
