package ledger

import (
	"sync"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/schema"
)

var (
	ErrUnknownPlan       = errors.New("plan not found")
	ErrUnknownGroup      = errors.New("execution group not found")
	ErrUnknownOrder      = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidFill       = errors.New("invalid fill quantity")
	ErrGroupClosed       = errors.New("execution group is terminal")
	ErrNotEmpty          = errors.New("ledger already has containers")
)

// Store persists ledger containers. Saves happen inside the ledger's write
// lock, after the in-memory mutation succeeded; a store failure is logged
// and does not roll the mutation back.
type Store interface {
	SavePlan(Plan) error
	SaveGroup(ExecutionGroup) error
	SaveOrder(Order) error
	SaveFill(Fill) error
}

// Ledger owns the container hierarchy and is its only writer. All methods
// are safe for concurrent use; every status change is checked against the
// monotonic lifecycle before it is applied.
type Ledger struct {
	mu     sync.RWMutex
	plans  map[schema.PlanRef]*Plan
	groups map[schema.GroupID]*ExecutionGroup
	orders map[schema.OrderID]*Order
	fills  map[schema.OrderID][]Fill

	// byClientID and byDirective back idempotent registration: replaying a
	// placement or a group registration the ledger has already seen returns
	// the existing container instead of creating a duplicate.
	byClientID  map[schema.OrderID]schema.OrderID
	byDirective map[schema.ExecDirectiveID]schema.GroupID

	store Store
	now   func() time.Time
}

// Option customizes a ledger at construction.
type Option func(*Ledger)

// WithStore attaches a persistence backend.
func WithStore(s Store) Option {
	return func(l *Ledger) { l.store = s }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates an empty ledger.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		plans:       make(map[schema.PlanRef]*Plan),
		groups:      make(map[schema.GroupID]*ExecutionGroup),
		orders:      make(map[schema.OrderID]*Order),
		fills:       make(map[schema.OrderID][]Fill),
		byClientID:  make(map[schema.OrderID]schema.OrderID),
		byDirective: make(map[schema.ExecDirectiveID]schema.GroupID),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// RegisterGroup creates a pending execution group under the directive's
// plan, creating the plan itself on first reference. Registration is
// idempotent on the directive id: a redelivered directive resolves to the
// group it already created.
func (l *Ledger) RegisterGroup(directive schema.ExecutionDirective) (ExecutionGroup, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if existingID, ok := l.byDirective[directive.ID]; ok {
		return l.copyGroupLocked(existingID), nil
	}

	now := l.now()
	plan, ok := l.plans[directive.PlanRef]
	if !ok {
		plan = &Plan{
			Ref:       directive.PlanRef,
			Symbol:    directive.Symbol,
			CreatedAt: now,
		}
		l.plans[plan.Ref] = plan
	}

	group := &ExecutionGroup{
		ID:          schema.NewGroupID(),
		DirectiveID: directive.ID,
		PlanRef:     directive.PlanRef,
		Symbol:      directive.Symbol,
		Side:        directive.Side,
		TargetSize:  directive.Quantity,
		Status:      GroupPending,
		Algorithm:   directive.Algorithm,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	l.groups[group.ID] = group
	l.byDirective[directive.ID] = group.ID
	plan.GroupIDs = append(plan.GroupIDs, group.ID)

	l.save(func(s Store) error { return s.SavePlan(*plan) })
	l.save(func(s Store) error { return s.SaveGroup(*group) })
	return *group, nil
}

// RegisterOrder creates an open order inside a group and activates the
// group on its first order. Registration is idempotent on the client order
// id: a duplicate returns the existing order with created=false, so log
// replay cannot double-create.
func (l *Ledger) RegisterOrder(groupID schema.GroupID, spec schema.OrderSpec) (Order, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if existingID, ok := l.byClientID[spec.ClientID]; ok {
		return *l.orders[existingID], false, nil
	}

	group, ok := l.groups[groupID]
	if !ok {
		return Order{}, false, errors.Wrap(ErrUnknownGroup, string(groupID))
	}
	if group.Status.Terminal() {
		return Order{}, false, errors.Wrap(ErrGroupClosed, string(groupID))
	}

	now := l.now()
	order := &Order{
		ID:        spec.ClientID,
		GroupID:   groupID,
		Symbol:    spec.Symbol,
		Side:      spec.Side,
		Type:      spec.Type,
		Price:     spec.Price,
		Quantity:  spec.Quantity,
		Status:    OrderOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
	l.orders[order.ID] = order
	l.byClientID[spec.ClientID] = order.ID
	group.OrderIDs = append(group.OrderIDs, order.ID)
	if group.Status == GroupPending {
		group.Status = GroupActive
	}
	group.UpdatedAt = now

	l.save(func(s Store) error { return s.SaveOrder(*order) })
	l.save(func(s Store) error { return s.SaveGroup(*group) })
	return *order, true, nil
}

// RecordFill appends an immutable fill to an open order and rolls the
// filled quantity up into the group. A fill that reaches the order's full
// quantity transitions the order to FILLED; when every order in the group
// is terminal the group completes.
func (l *Ledger) RecordFill(orderID schema.OrderID, price schema.Price, qty schema.Quantity, fee schema.Fee, at time.Time) (Fill, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	order, ok := l.orders[orderID]
	if !ok {
		return Fill{}, errors.Wrap(ErrUnknownOrder, string(orderID))
	}
	if order.Status.Terminal() {
		return Fill{}, errors.Wrap(ErrInvalidTransition,
			"fill on "+order.Status.String()+" order "+string(orderID))
	}
	if qty <= 0 {
		return Fill{}, ErrInvalidFill
	}

	fill := Fill{
		ID:       schema.NewFillID(),
		OrderID:  orderID,
		Price:    price,
		Quantity: qty,
		Fee:      fee,
		At:       at,
	}
	l.fills[orderID] = append(l.fills[orderID], fill)

	order.FilledQty += qty
	order.UpdatedAt = l.now()

	group := l.groups[order.GroupID]
	group.FilledSize += qty
	group.UpdatedAt = order.UpdatedAt

	if order.FilledQty >= order.Quantity {
		order.Status = OrderFilled
		l.settleGroupLocked(group)
	}

	l.save(func(s Store) error { return s.SaveFill(fill) })
	l.save(func(s Store) error { return s.SaveOrder(*order) })
	l.save(func(s Store) error { return s.SaveGroup(*group) })
	return fill, nil
}

// UpdateOrderStatus applies a checked lifecycle transition to an order.
// Moving an order to a terminal state may complete its group.
func (l *Ledger) UpdateOrderStatus(orderID schema.OrderID, to OrderStatus) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	order, ok := l.orders[orderID]
	if !ok {
		return errors.Wrap(ErrUnknownOrder, string(orderID))
	}
	if !orderTransitionAllowed(order.Status, to) {
		return errors.Wrap(ErrInvalidTransition,
			string(orderID)+": "+order.Status.String()+" -> "+to.String())
	}
	order.Status = to
	order.UpdatedAt = l.now()

	group := l.groups[order.GroupID]
	group.UpdatedAt = order.UpdatedAt
	l.settleGroupLocked(group)

	l.save(func(s Store) error { return s.SaveOrder(*order) })
	l.save(func(s Store) error { return s.SaveGroup(*group) })
	return nil
}

// UpdateGroupStatus applies a checked lifecycle transition to a group.
func (l *Ledger) UpdateGroupStatus(groupID schema.GroupID, to GroupStatus) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	group, ok := l.groups[groupID]
	if !ok {
		return errors.Wrap(ErrUnknownGroup, string(groupID))
	}
	if !groupTransitionAllowed(group.Status, to) {
		return errors.Wrap(ErrInvalidTransition,
			string(groupID)+": "+group.Status.String()+" -> "+to.String())
	}
	group.Status = to
	group.UpdatedAt = l.now()

	l.save(func(s Store) error { return s.SaveGroup(*group) })
	return nil
}

// SetVenueRef records the venue-assigned identifier for an order.
func (l *Ledger) SetVenueRef(orderID schema.OrderID, ref string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	order, ok := l.orders[orderID]
	if !ok {
		return errors.Wrap(ErrUnknownOrder, string(orderID))
	}
	order.VenueRef = ref
	order.UpdatedAt = l.now()

	l.save(func(s Store) error { return s.SaveOrder(*order) })
	return nil
}

// settleGroupLocked closes an active group once every order reached a
// terminal state: COMPLETED when anything filled, CANCELLED when nothing
// did. Caller holds the write lock.
func (l *Ledger) settleGroupLocked(group *ExecutionGroup) {
	if group.Status != GroupActive {
		return
	}
	for _, id := range group.OrderIDs {
		if !l.orders[id].Status.Terminal() {
			return
		}
	}
	if group.FilledSize > 0 {
		group.Status = GroupCompleted
	} else {
		group.Status = GroupCancelled
	}
}

func (l *Ledger) save(fn func(Store) error) {
	if l.store == nil {
		return
	}
	if err := fn(l.store); err != nil {
		logs.Errorf("persist ledger container, err: %+v", err)
	}
}

// Plan returns a copy of the plan container.
func (l *Ledger) Plan(ref schema.PlanRef) (Plan, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	plan, ok := l.plans[ref]
	if !ok {
		return Plan{}, errors.Wrap(ErrUnknownPlan, string(ref))
	}
	out := *plan
	out.GroupIDs = append([]schema.GroupID(nil), plan.GroupIDs...)
	return out, nil
}

// Group returns a copy of an execution group.
func (l *Ledger) Group(id schema.GroupID) (ExecutionGroup, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, ok := l.groups[id]; !ok {
		return ExecutionGroup{}, errors.Wrap(ErrUnknownGroup, string(id))
	}
	return l.copyGroupLocked(id), nil
}

func (l *Ledger) copyGroupLocked(id schema.GroupID) ExecutionGroup {
	group := l.groups[id]
	out := *group
	out.OrderIDs = append([]schema.OrderID(nil), group.OrderIDs...)
	return out
}

// Order returns a copy of an order.
func (l *Ledger) Order(id schema.OrderID) (Order, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	order, ok := l.orders[id]
	if !ok {
		return Order{}, errors.Wrap(ErrUnknownOrder, string(id))
	}
	return *order, nil
}

// Fills returns the fills recorded against an order, oldest first.
func (l *Ledger) Fills(orderID schema.OrderID) []Fill {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Fill(nil), l.fills[orderID]...)
}

// Restore rebuilds the in-memory hierarchy from a persisted snapshot,
// including the idempotence indexes, so registrations replayed after a
// restart resolve to their existing containers. Only valid on an empty
// ledger. Container membership lists are reassembled from the children's
// parent references.
func (l *Ledger) Restore(snap Snapshot) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.plans) != 0 || len(l.groups) != 0 || len(l.orders) != 0 {
		return ErrNotEmpty
	}

	for _, plan := range snap.Plans {
		plan.GroupIDs = nil
		l.plans[plan.Ref] = &plan
	}
	for _, group := range snap.Groups {
		group.OrderIDs = nil
		l.groups[group.ID] = &group
		if group.DirectiveID != "" {
			l.byDirective[group.DirectiveID] = group.ID
		}
		if plan, ok := l.plans[group.PlanRef]; ok {
			plan.GroupIDs = append(plan.GroupIDs, group.ID)
		}
	}
	for _, order := range snap.Orders {
		l.orders[order.ID] = &order
		l.byClientID[order.ID] = order.ID
		if group, ok := l.groups[order.GroupID]; ok {
			group.OrderIDs = append(group.OrderIDs, order.ID)
		}
	}
	for _, fill := range snap.Fills {
		l.fills[fill.OrderID] = append(l.fills[fill.OrderID], fill)
	}
	return nil
}
