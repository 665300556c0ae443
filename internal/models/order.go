package models

import (
	"github.com/jinzhu/gorm"
)

// Order represents a customer ticket being tracked through preparation
// and payment. Totals are never stored on the order itself; they are
// recomputed from the lines on every read (see totals.go).
type Order struct {
	gorm.Model
	Status       OrderStatus
	TableNumber  int
	Waiter       string
	Instructions string
	GroupID      string      `gorm:"index"` // links secondary orders to their parent ticket
	Version      int         // bumped on every write
	Lines        []OrderLine `gorm:"foreignkey:OrderID"`
}

// OrderLine represents one product entry within an order. The length of
// Consumptions always equals Quantity, with positions contiguous from 1.
type OrderLine struct {
	gorm.Model
	OrderID        uint `gorm:"index"`
	ProductID      uint
	ProductName    string
	UnitRealCost   float64
	UnitPublicCost float64
	Quantity       int
	Consumptions   []Consumption `gorm:"foreignkey:OrderLineID"`
}

// Consumption represents one physical unit of an order line (the 3rd of
// 4 ordered tacos), able to carry its own extras.
type Consumption struct {
	gorm.Model
	OrderLineID uint    `gorm:"index"`
	Position    int     // 1..quantity, re-indexed on any removal
	Extras      []Extra `gorm:"foreignkey:ConsumptionID"`
}

// Extra represents an add-on attached to a single consumption. Costs are
// snapshots taken at attach time so historical totals survive catalog edits.
type Extra struct {
	gorm.Model
	ConsumptionID uint `gorm:"index"`
	Name          string
	RealCost      float64
	PublicCost    float64
}

// OrderStatus represents the possible states of an order. Transitions only
// move forward; Paid is terminal.
type OrderStatus int

const (
	OrderStatusPending       OrderStatus = 0
	OrderStatusConfirmed     OrderStatus = 1
	OrderStatusInPreparation OrderStatus = 2
	OrderStatusPrepared      OrderStatus = 3
	OrderStatusDelivered     OrderStatus = 4
	OrderStatusPaid          OrderStatus = 5
)

// String returns the human-readable name of the status.
func (s OrderStatus) String() string {
	switch s {
	case OrderStatusPending:
		return "pending"
	case OrderStatusConfirmed:
		return "confirmed"
	case OrderStatusInPreparation:
		return "in_preparation"
	case OrderStatusPrepared:
		return "prepared"
	case OrderStatusDelivered:
		return "delivered"
	case OrderStatusPaid:
		return "paid"
	}
	return "unknown"
}

// Valid reports whether s is a defined status value.
func (s OrderStatus) Valid() bool {
	return s >= OrderStatusPending && s <= OrderStatusPaid
}

// CanAdvanceTo reports whether the status may move to next. Status only
// increases; administrative rollback is handled outside this core.
func (s OrderStatus) CanAdvanceTo(next OrderStatus) bool {
	return next.Valid() && next > s
}

// Closed reports whether the order no longer accepts mutations.
func (s OrderStatus) Closed() bool {
	return s == OrderStatusPaid
}
