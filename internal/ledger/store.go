package ledger

import (
	"time"

	"github.com/yanun0323/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"main/internal/schema"
)

// PgStore persists ledger containers through gorm. Rows are denormalized:
// orders carry their group id and groups their plan ref, so the hierarchy
// reassembles from plain columns.
type PgStore struct {
	db *gorm.DB
}

// NewPgStore migrates the container tables and returns a store.
func NewPgStore(db *gorm.DB) (*PgStore, error) {
	if err := db.AutoMigrate(&planRow{}, &groupRow{}, &orderRow{}, &fillRow{}); err != nil {
		return nil, errors.Wrap(err, "migrate ledger tables")
	}
	return &PgStore{db: db}, nil
}

type planRow struct {
	Ref       string `gorm:"primaryKey"`
	Symbol    string
	CreatedAt time.Time
}

func (planRow) TableName() string { return "ledger_plans" }

type groupRow struct {
	ID          string `gorm:"primaryKey"`
	DirectiveID string `gorm:"index"`
	PlanRef     string `gorm:"index"`
	Symbol      string `gorm:"index"`
	Side        uint16
	TargetSize  int64
	FilledSize  int64
	Status      uint16
	Algorithm   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (groupRow) TableName() string { return "ledger_groups" }

type orderRow struct {
	ID        string `gorm:"primaryKey"`
	GroupID   string `gorm:"index"`
	Symbol    string `gorm:"index"`
	Side      uint16
	Type      uint16
	Price     int64
	Quantity  int64
	FilledQty int64
	VenueRef  string
	Status    uint16
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (orderRow) TableName() string { return "ledger_orders" }

type fillRow struct {
	ID       string `gorm:"primaryKey"`
	OrderID  string `gorm:"index"`
	Price    int64
	Quantity int64
	Fee      int64
	At       time.Time
}

func (fillRow) TableName() string { return "ledger_fills" }

// SavePlan upserts a plan row.
func (s *PgStore) SavePlan(p Plan) error {
	row := planRow{
		Ref:       string(p.Ref),
		Symbol:    p.Symbol,
		CreatedAt: p.CreatedAt,
	}
	return s.upsert(&row)
}

// SaveGroup upserts an execution group row.
func (s *PgStore) SaveGroup(g ExecutionGroup) error {
	row := groupRow{
		ID:          string(g.ID),
		DirectiveID: string(g.DirectiveID),
		PlanRef:     string(g.PlanRef),
		Symbol:      g.Symbol,
		Side:        uint16(g.Side),
		TargetSize:  int64(g.TargetSize),
		FilledSize:  int64(g.FilledSize),
		Status:      uint16(g.Status),
		Algorithm:   g.Algorithm,
		CreatedAt:   g.CreatedAt,
		UpdatedAt:   g.UpdatedAt,
	}
	return s.upsert(&row)
}

// SaveOrder upserts an order row.
func (s *PgStore) SaveOrder(o Order) error {
	row := orderRow{
		ID:        string(o.ID),
		GroupID:   string(o.GroupID),
		Symbol:    o.Symbol,
		Side:      uint16(o.Side),
		Type:      uint16(o.Type),
		Price:     int64(o.Price),
		Quantity:  int64(o.Quantity),
		FilledQty: int64(o.FilledQty),
		VenueRef:  o.VenueRef,
		Status:    uint16(o.Status),
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
	}
	return s.upsert(&row)
}

// SaveFill inserts a fill row. Fills are immutable, so a conflicting id is
// left untouched.
func (s *PgStore) SaveFill(f Fill) error {
	row := fillRow{
		ID:       string(f.ID),
		OrderID:  string(f.OrderID),
		Price:    int64(f.Price),
		Quantity: int64(f.Quantity),
		Fee:      int64(f.Fee),
		At:       f.At,
	}
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
}

func (s *PgStore) upsert(row any) error {
	return s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(row).Error
}

// Snapshot is the persisted container state handed back at restart.
// Membership lists (plan group ids, group order ids) are not part of it;
// Restore reassembles them from the children's parent references.
type Snapshot struct {
	Plans  []Plan
	Groups []ExecutionGroup
	Orders []Order
	Fills  []Fill
}

// LoadSnapshot reads every persisted container so the ledger can rebuild
// its in-memory state after a restart.
func (s *PgStore) LoadSnapshot() (Snapshot, error) {
	var snap Snapshot

	var plans []planRow
	if err := s.db.Find(&plans).Error; err != nil {
		return Snapshot{}, errors.Wrap(err, "load plans")
	}
	for _, row := range plans {
		snap.Plans = append(snap.Plans, Plan{
			Ref:       schema.PlanRef(row.Ref),
			Symbol:    row.Symbol,
			CreatedAt: row.CreatedAt,
		})
	}

	var groups []groupRow
	if err := s.db.Find(&groups).Error; err != nil {
		return Snapshot{}, errors.Wrap(err, "load groups")
	}
	for _, row := range groups {
		snap.Groups = append(snap.Groups, ExecutionGroup{
			ID:          schema.GroupID(row.ID),
			DirectiveID: schema.ExecDirectiveID(row.DirectiveID),
			PlanRef:     schema.PlanRef(row.PlanRef),
			Symbol:      row.Symbol,
			Side:        schema.Side(row.Side),
			TargetSize:  schema.Quantity(row.TargetSize),
			FilledSize:  schema.Quantity(row.FilledSize),
			Status:      GroupStatus(row.Status),
			Algorithm:   row.Algorithm,
			CreatedAt:   row.CreatedAt,
			UpdatedAt:   row.UpdatedAt,
		})
	}

	var orders []orderRow
	if err := s.db.Find(&orders).Error; err != nil {
		return Snapshot{}, errors.Wrap(err, "load orders")
	}
	for _, row := range orders {
		snap.Orders = append(snap.Orders, Order{
			ID:        schema.OrderID(row.ID),
			GroupID:   schema.GroupID(row.GroupID),
			Symbol:    row.Symbol,
			Side:      schema.Side(row.Side),
			Type:      schema.OrderType(row.Type),
			Price:     schema.Price(row.Price),
			Quantity:  schema.Quantity(row.Quantity),
			FilledQty: schema.Quantity(row.FilledQty),
			VenueRef:  row.VenueRef,
			Status:    OrderStatus(row.Status),
			CreatedAt: row.CreatedAt,
			UpdatedAt: row.UpdatedAt,
		})
	}

	var fills []fillRow
	if err := s.db.Find(&fills).Error; err != nil {
		return Snapshot{}, errors.Wrap(err, "load fills")
	}
	for _, row := range fills {
		snap.Fills = append(snap.Fills, Fill{
			ID:       schema.FillID(row.ID),
			OrderID:  schema.OrderID(row.OrderID),
			Price:    schema.Price(row.Price),
			Quantity: schema.Quantity(row.Quantity),
			Fee:      schema.Fee(row.Fee),
			At:       row.At,
		})
	}
	return snap, nil
}
