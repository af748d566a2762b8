package schema

import (
	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
)

var ErrUnknownRecordKind = errors.New("unknown record kind")

// RecordKind identifies a run-cache data record type.
// The run cache holds at most one live instance per kind.
type RecordKind uint16

const (
	RecordUnknown RecordKind = iota
	RecordSignal
	RecordRiskAssessment
	RecordStrategyDirective
	RecordEntryPlan
	RecordSizePlan
	RecordExitPlan
	RecordExecutionPlan
	RecordExecutionDirective
	RecordOrderReport
	recordKindEnd
)

func (k RecordKind) String() string {
	switch k {
	case RecordSignal:
		return "signal"
	case RecordRiskAssessment:
		return "risk_assessment"
	case RecordStrategyDirective:
		return "strategy_directive"
	case RecordEntryPlan:
		return "entry_plan"
	case RecordSizePlan:
		return "size_plan"
	case RecordExitPlan:
		return "exit_plan"
	case RecordExecutionPlan:
		return "execution_plan"
	case RecordExecutionDirective:
		return "execution_directive"
	case RecordOrderReport:
		return "order_report"
	default:
		return "unknown"
	}
}

// IsAvailable reports whether the kind names a real record type.
func (k RecordKind) IsAvailable() bool {
	return k > RecordUnknown && k < recordKindEnd
}

// Record is the contract every worker-produced data record satisfies.
type Record interface {
	Kind() RecordKind
}

// Side describes trade direction.
type Side uint16

const (
	SideUnknown Side = iota
	SideBuy
	SideSell
)

// OrderType describes order type.
type OrderType uint16

const (
	OrderTypeUnknown OrderType = iota
	OrderTypeLimit
	OrderTypeMarket
)

// TimeInForce describes order time-in-force.
type TimeInForce uint16

const (
	TimeInForceUnknown TimeInForce = iota
	TimeInForceGTC
	TimeInForceIOC
	TimeInForceFOK
)

// DirectiveScope tells planners whether a directive opens, adjusts or
// unwinds a position.
type DirectiveScope uint16

const (
	ScopeUnknown DirectiveScope = iota
	ScopeNew
	ScopeModifyExisting
	ScopeCloseExisting
)

func (s DirectiveScope) String() string {
	switch s {
	case ScopeNew:
		return "new"
	case ScopeModifyExisting:
		return "modify-existing"
	case ScopeCloseExisting:
		return "close-existing"
	default:
		return "unknown"
	}
}

// Signal is an interpreted market observation.
type Signal struct {
	ID       SignalID `json:"id"`
	Symbol   string   `json:"symbol"`
	Side     Side     `json:"side"`
	Strength float64  `json:"strength"`
	Note     string   `json:"note"`
}

func (Signal) Kind() RecordKind { return RecordSignal }

// RiskAssessment is the risk layer's verdict on acting upon a signal.
type RiskAssessment struct {
	ID          RiskID   `json:"id"`
	Approved    bool     `json:"approved"`
	Reason      string   `json:"reason"`
	MaxQuantity Quantity `json:"maxQuantity"`
}

func (RiskAssessment) Kind() RecordKind { return RecordRiskAssessment }

// StrategyDirective is the single decision a strategy emits per run.
type StrategyDirective struct {
	ID             DirectiveID    `json:"id"`
	Scope          DirectiveScope `json:"scope"`
	Symbol         string         `json:"symbol"`
	Side           Side           `json:"side"`
	PlanRef        PlanRef        `json:"planRef"`
	TargetQuantity Quantity       `json:"targetQuantity"`
}

func (StrategyDirective) Kind() RecordKind { return RecordStrategyDirective }

// EntryPlan fixes the entry price level.
type EntryPlan struct {
	ID    PlanID `json:"id"`
	Price Price  `json:"price"`
}

func (EntryPlan) Kind() RecordKind { return RecordEntryPlan }

// SizePlan fixes the position size.
type SizePlan struct {
	ID       PlanID   `json:"id"`
	Quantity Quantity `json:"quantity"`
}

func (SizePlan) Kind() RecordKind { return RecordSizePlan }

// ExitPlan fixes stop and target levels.
type ExitPlan struct {
	ID          PlanID `json:"id"`
	StopPrice   Price  `json:"stopPrice"`
	TargetPrice Price  `json:"targetPrice"`
}

func (ExitPlan) Kind() RecordKind { return RecordExitPlan }

// ExecutionPlan fixes how the position is worked into the market.
type ExecutionPlan struct {
	ID        PlanID `json:"id"`
	Algorithm string `json:"algorithm"`
	Slices    int    `json:"slices"`
}

func (ExecutionPlan) Kind() RecordKind { return RecordExecutionPlan }

// ExecutionDirective is the aggregated, venue-ready instruction handed to
// the terminal execution component.
type ExecutionDirective struct {
	ID         ExecDirectiveID `json:"id"`
	Scope      DirectiveScope  `json:"scope"`
	PlanRef    PlanRef         `json:"planRef"`
	Symbol     string          `json:"symbol"`
	Side       Side            `json:"side"`
	Quantity   Quantity        `json:"quantity"`
	LimitPrice Price           `json:"limitPrice"`
	StopPrice  Price           `json:"stopPrice"`
	Algorithm  string          `json:"algorithm"`
	Slices     int             `json:"slices"`
}

func (ExecutionDirective) Kind() RecordKind { return RecordExecutionDirective }

// OrderSpec is one concrete instruction for a venue.
type OrderSpec struct {
	ClientID    OrderID     `json:"clientId"`
	Symbol      string      `json:"symbol"`
	Side        Side        `json:"side"`
	Type        OrderType   `json:"type"`
	TimeInForce TimeInForce `json:"timeInForce"`
	Price       Price       `json:"price"`
	Quantity    Quantity    `json:"quantity"`
}

// OrderReport summarizes what the terminal component registered, published
// for any interested subscriber after placement.
type OrderReport struct {
	GroupID  GroupID   `json:"groupId"`
	OrderIDs []OrderID `json:"orderIds"`
}

func (OrderReport) Kind() RecordKind { return RecordOrderReport }

// EncodeRecord serializes a record for the durable log.
func EncodeRecord(rec Record) ([]byte, error) {
	if rec == nil {
		return nil, nil
	}
	return sonic.ConfigFastest.Marshal(rec)
}

// DecodeRecord rebuilds a record from its kind and encoded bytes.
func DecodeRecord(kind RecordKind, data []byte) (Record, error) {
	var (
		rec Record
		err error
	)
	switch kind {
	case RecordSignal:
		v := Signal{}
		err = sonic.ConfigFastest.Unmarshal(data, &v)
		rec = v
	case RecordRiskAssessment:
		v := RiskAssessment{}
		err = sonic.ConfigFastest.Unmarshal(data, &v)
		rec = v
	case RecordStrategyDirective:
		v := StrategyDirective{}
		err = sonic.ConfigFastest.Unmarshal(data, &v)
		rec = v
	case RecordEntryPlan:
		v := EntryPlan{}
		err = sonic.ConfigFastest.Unmarshal(data, &v)
		rec = v
	case RecordSizePlan:
		v := SizePlan{}
		err = sonic.ConfigFastest.Unmarshal(data, &v)
		rec = v
	case RecordExitPlan:
		v := ExitPlan{}
		err = sonic.ConfigFastest.Unmarshal(data, &v)
		rec = v
	case RecordExecutionPlan:
		v := ExecutionPlan{}
		err = sonic.ConfigFastest.Unmarshal(data, &v)
		rec = v
	case RecordExecutionDirective:
		v := ExecutionDirective{}
		err = sonic.ConfigFastest.Unmarshal(data, &v)
		rec = v
	case RecordOrderReport:
		v := OrderReport{}
		err = sonic.ConfigFastest.Unmarshal(data, &v)
		rec = v
	default:
		return nil, ErrUnknownRecordKind
	}
	if err != nil {
		return nil, errors.Wrap(err, "decode record")
	}
	return rec, nil
}
