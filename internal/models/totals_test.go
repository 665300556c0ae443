package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLineTotals(t *testing.T) {
	line := OrderLine{
		UnitRealCost:   8,
		UnitPublicCost: 15,
		Quantity:       4,
		Consumptions: []Consumption{
			{Position: 1},
			{Position: 2, Extras: []Extra{{Name: "guacamole", RealCost: 1, PublicCost: 2.5}}},
			{Position: 3},
			{Position: 4, Extras: []Extra{
				{Name: "queso", RealCost: 0.5, PublicCost: 1.5},
				{Name: "crema", RealCost: 0.25, PublicCost: 1},
			}},
		},
	}

	totals := LineTotals(&line)
	assert.InDelta(t, 8*4+1+0.5+0.25, totals.Real, 1e-9)
	assert.InDelta(t, 15*4+2.5+1.5+1, totals.Public, 1e-9)
}

func TestOrderTotalsSumLines(t *testing.T) {
	order := Order{
		Lines: []OrderLine{
			{UnitRealCost: 8, UnitPublicCost: 15, Quantity: 2},
			{UnitRealCost: 3, UnitPublicCost: 5, Quantity: 1, Consumptions: []Consumption{
				{Position: 1, Extras: []Extra{{RealCost: 1, PublicCost: 2}}},
			}},
		},
	}

	totals := OrderTotals(&order)
	assert.InDelta(t, 8*2+3+1, totals.Real, 1e-9)
	assert.InDelta(t, 15*2+5+2, totals.Public, 1e-9)
}

func TestOrderTotalsEmptyOrder(t *testing.T) {
	totals := OrderTotals(&Order{})
	assert.Zero(t, totals.Real)
	assert.Zero(t, totals.Public)
}

func TestStatusMachine(t *testing.T) {
	assert.True(t, OrderStatusPending.CanAdvanceTo(OrderStatusConfirmed))
	assert.True(t, OrderStatusPending.CanAdvanceTo(OrderStatusPaid), "skipping steps forward is allowed")
	assert.False(t, OrderStatusDelivered.CanAdvanceTo(OrderStatusConfirmed))
	assert.False(t, OrderStatusPaid.CanAdvanceTo(OrderStatusPaid))
	assert.False(t, OrderStatusPending.CanAdvanceTo(OrderStatus(9)))
	assert.True(t, OrderStatusPaid.Closed())
	assert.False(t, OrderStatusDelivered.Closed())
}
