package schema

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Typed, prefix-tagged identifiers for everything produced along a run.
// The prefix makes raw logs and journal rows self-describing.
type (
	SignalID        string
	RiskID          string
	DirectiveID     string
	PlanID          string
	ExecDirectiveID string
	PlanRef         string
	GroupID         string
	OrderID         string
	FillID          string
)

func newID[T ~string](prefix string) T {
	return T(prefix + "-" + uuid.NewString())
}

func NewSignalID() SignalID               { return newID[SignalID]("sig") }
func NewRiskID() RiskID                   { return newID[RiskID]("risk") }
func NewDirectiveID() DirectiveID         { return newID[DirectiveID]("dir") }
func NewPlanID() PlanID                   { return newID[PlanID]("plan") }
func NewExecDirectiveID() ExecDirectiveID { return newID[ExecDirectiveID]("exec") }
func NewPlanRef() PlanRef                 { return newID[PlanRef]("thesis") }
func NewGroupID() GroupID                 { return newID[GroupID]("grp") }
func NewOrderID() OrderID                 { return newID[OrderID]("ord") }
func NewFillID() FillID                   { return newID[FillID]("fill") }

// SlicedOrderID derives the client order id for one slice of an execution
// directive. Deterministic, so a redelivered directive resolves to the same
// orders instead of minting fresh ones.
func SlicedOrderID(id ExecDirectiveID, slice int) OrderID {
	return OrderID("ord-" + strings.TrimPrefix(string(id), "exec-") + "-" + strconv.Itoa(slice))
}
