package sync

import (
	"testing"

	"comanda/internal/models"

	"github.com/jinzhu/gorm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// byID resolves only direct server ids, the way payloads look once the
// client already knows the persisted entities.
func byID(ref models.EntityRef) (uint, error) {
	if ref.ID != 0 {
		return ref.ID, nil
	}
	return 0, domainErrf(models.ReasonDependencyFailed, "unresolved reference %q", ref.LocalID)
}

func seedOrder(t *testing.T, db *gorm.DB, status models.OrderStatus) *models.Order {
	t.Helper()
	order := &models.Order{Status: status, TableNumber: 3, Waiter: "ana", Version: 1}
	require.NoError(t, db.Create(order).Error)
	return order
}

func seedLine(t *testing.T, db *gorm.DB, orderID uint, qty int) *models.OrderLine {
	t.Helper()
	line := &models.OrderLine{
		OrderID:        orderID,
		ProductID:      11,
		ProductName:    "taco pastor",
		UnitRealCost:   8,
		UnitPublicCost: 15,
		Quantity:       qty,
	}
	require.NoError(t, db.Create(line).Error)
	for pos := 1; pos <= qty; pos++ {
		require.NoError(t, db.Create(&models.Consumption{OrderLineID: line.ID, Position: pos}).Error)
	}
	return line
}

func seedExtra(t *testing.T, db *gorm.DB, lineID uint, position int, name string) {
	t.Helper()
	var c models.Consumption
	require.NoError(t, db.Where("order_line_id = ? AND position = ?", lineID, position).First(&c).Error)
	require.NoError(t, db.Create(&models.Extra{ConsumptionID: c.ID, Name: name, RealCost: 1, PublicCost: 2}).Error)
}

func apply(t *testing.T, db *gorm.DB, kind models.OperationKind, payload interface{}) (*ApplyResult, error) {
	t.Helper()
	r := NewReconciler()
	tx := db.Begin()
	require.NoError(t, tx.Error)
	res, err := r.Apply(tx, op(t, kind, "op", "", payload), byID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	require.NoError(t, tx.Commit().Error)
	return res, nil
}

func TestQuantityIncreaseAppendsConsumptions(t *testing.T) {
	db := newTestDB(t)
	order := seedOrder(t, db, models.OrderStatusPending)
	line := seedLine(t, db, order.ID, 2)

	_, err := apply(t, db, models.OpUpdateOrderLineQuantity, models.UpdateOrderLineQuantityPayload{
		LineID: models.EntityRef{ID: line.ID}, Quantity: 5,
	})
	require.NoError(t, err)

	positions, _ := lineState(t, db, line.ID)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, positions)

	var got models.OrderLine
	require.NoError(t, db.First(&got, line.ID).Error)
	assert.Equal(t, 5, got.Quantity)
}

func TestQuantityDecreaseWithExtrasNeedsForce(t *testing.T) {
	db := newTestDB(t)
	order := seedOrder(t, db, models.OrderStatusPending)
	line := seedLine(t, db, order.ID, 4)
	seedExtra(t, db, line.ID, 4, "guacamole")

	_, err := apply(t, db, models.OpUpdateOrderLineQuantity, models.UpdateOrderLineQuantityPayload{
		LineID: models.EntityRef{ID: line.ID}, Quantity: 2,
	})
	de, ok := AsDomainError(err)
	require.True(t, ok)
	assert.Equal(t, models.ReasonConsumptionHasExtras, de.Reason)

	// Nothing moved: still 4 consumptions, quantity 4, extra intact.
	positions, extras := lineState(t, db, line.ID)
	assert.Equal(t, []int{1, 2, 3, 4}, positions)
	assert.Equal(t, []int{0, 0, 0, 1}, extras)

	var got models.OrderLine
	require.NoError(t, db.First(&got, line.ID).Error)
	assert.Equal(t, 4, got.Quantity)
}

func TestQuantityDecreaseWithForceDiscardsExtras(t *testing.T) {
	db := newTestDB(t)
	order := seedOrder(t, db, models.OrderStatusPending)
	line := seedLine(t, db, order.ID, 4)
	seedExtra(t, db, line.ID, 3, "queso")
	seedExtra(t, db, line.ID, 4, "guacamole")

	_, err := apply(t, db, models.OpUpdateOrderLineQuantity, models.UpdateOrderLineQuantityPayload{
		LineID: models.EntityRef{ID: line.ID}, Quantity: 2, Force: true,
	})
	require.NoError(t, err)

	positions, extras := lineState(t, db, line.ID)
	assert.Equal(t, []int{1, 2}, positions)
	assert.Equal(t, []int{0, 0}, extras)

	var orphaned int
	require.NoError(t, db.Model(&models.Extra{}).Count(&orphaned).Error)
	assert.Zero(t, orphaned, "discarded extras must not linger")
}

func TestQuantityDecreaseWithoutExtras(t *testing.T) {
	db := newTestDB(t)
	order := seedOrder(t, db, models.OrderStatusPending)
	line := seedLine(t, db, order.ID, 3)

	_, err := apply(t, db, models.OpUpdateOrderLineQuantity, models.UpdateOrderLineQuantityPayload{
		LineID: models.EntityRef{ID: line.ID}, Quantity: 1,
	})
	require.NoError(t, err)

	positions, _ := lineState(t, db, line.ID)
	assert.Equal(t, []int{1}, positions)
}

func TestAddExtraIsAtomicAcrossPositions(t *testing.T) {
	db := newTestDB(t)
	order := seedOrder(t, db, models.OrderStatusPending)
	line := seedLine(t, db, order.ID, 3)

	_, err := apply(t, db, models.OpAddExtraToConsumptions, models.AddExtraToConsumptionsPayload{
		LineID: models.EntityRef{ID: line.ID}, Name: "crema", RealCost: 1, PublicCost: 2,
		Positions: []int{2, 7},
	})
	de, ok := AsDomainError(err)
	require.True(t, ok)
	assert.Equal(t, models.ReasonNotFound, de.Reason)

	_, extras := lineState(t, db, line.ID)
	assert.Equal(t, []int{0, 0, 0}, extras, "no partial attachment")

	_, err = apply(t, db, models.OpAddExtraToConsumptions, models.AddExtraToConsumptionsPayload{
		LineID: models.EntityRef{ID: line.ID}, Name: "crema", RealCost: 1, PublicCost: 2,
		Positions: []int{1, 3},
	})
	require.NoError(t, err)

	_, extras = lineState(t, db, line.ID)
	assert.Equal(t, []int{1, 0, 1}, extras)
}

func TestRemoveExtraFromConsumption(t *testing.T) {
	db := newTestDB(t)
	order := seedOrder(t, db, models.OrderStatusPending)
	line := seedLine(t, db, order.ID, 2)
	seedExtra(t, db, line.ID, 2, "guacamole")

	_, err := apply(t, db, models.OpRemoveExtraFromConsumption, models.RemoveExtraFromConsumptionPayload{
		LineID: models.EntityRef{ID: line.ID}, Position: 2, Name: "guacamole",
	})
	require.NoError(t, err)

	_, extras := lineState(t, db, line.ID)
	assert.Equal(t, []int{0, 0}, extras)

	// A second removal is a reported failure, not a silent no-op: the
	// client must learn to drop its optimistic state.
	_, err = apply(t, db, models.OpRemoveExtraFromConsumption, models.RemoveExtraFromConsumptionPayload{
		LineID: models.EntityRef{ID: line.ID}, Position: 2, Name: "guacamole",
	})
	de, ok := AsDomainError(err)
	require.True(t, ok)
	assert.Equal(t, models.ReasonNotFound, de.Reason)
}

func TestDeleteConsumptionReindexesAndShrinksQuantity(t *testing.T) {
	db := newTestDB(t)
	order := seedOrder(t, db, models.OrderStatusPending)
	line := seedLine(t, db, order.ID, 3)
	seedExtra(t, db, line.ID, 3, "guacamole")

	_, err := apply(t, db, models.OpDeleteConsumption, models.DeleteConsumptionPayload{
		LineID: models.EntityRef{ID: line.ID}, Position: 2,
	})
	require.NoError(t, err)

	positions, extras := lineState(t, db, line.ID)
	assert.Equal(t, []int{1, 2}, positions, "positions contiguous after removal")
	assert.Equal(t, []int{0, 1}, extras, "extra follows its consumption to the new position")

	var got models.OrderLine
	require.NoError(t, db.First(&got, line.ID).Error)
	assert.Equal(t, 2, got.Quantity)
}

func TestDeleteLastConsumptionRemovesLine(t *testing.T) {
	db := newTestDB(t)
	order := seedOrder(t, db, models.OrderStatusPending)
	line := seedLine(t, db, order.ID, 1)

	_, err := apply(t, db, models.OpDeleteConsumption, models.DeleteConsumptionPayload{
		LineID: models.EntityRef{ID: line.ID}, Position: 1,
	})
	require.NoError(t, err)

	var count int
	require.NoError(t, db.Model(&models.OrderLine{}).Where("id = ?", line.ID).Count(&count).Error)
	assert.Zero(t, count)
}

func TestStatusAdvancesForwardOnly(t *testing.T) {
	db := newTestDB(t)
	order := seedOrder(t, db, models.OrderStatusConfirmed)

	prepared := models.OrderStatusPrepared
	res, err := apply(t, db, models.OpUpdateOrder, models.UpdateOrderPayload{
		OrderID: models.EntityRef{ID: order.ID}, Status: &prepared,
	})
	require.NoError(t, err)
	require.NotNil(t, res.NewStatus)
	assert.Equal(t, models.OrderStatusPrepared, *res.NewStatus)

	// Going back to pending is not a thing.
	pending := models.OrderStatusPending
	_, err = apply(t, db, models.OpUpdateOrder, models.UpdateOrderPayload{
		OrderID: models.EntityRef{ID: order.ID}, Status: &pending,
	})
	de, ok := AsDomainError(err)
	require.True(t, ok)
	assert.Equal(t, models.ReasonInvalidStatusTransition, de.Reason)
}

func TestPaidOrderRejectsMutations(t *testing.T) {
	db := newTestDB(t)
	order := seedOrder(t, db, models.OrderStatusPaid)
	line := seedLine(t, db, order.ID, 2)

	cases := []struct {
		kind    models.OperationKind
		payload interface{}
	}{
		{models.OpUpdateOrderLineQuantity, models.UpdateOrderLineQuantityPayload{LineID: models.EntityRef{ID: line.ID}, Quantity: 3}},
		{models.OpAddExtraToConsumptions, models.AddExtraToConsumptionsPayload{LineID: models.EntityRef{ID: line.ID}, Name: "crema", Positions: []int{1}}},
		{models.OpDeleteConsumption, models.DeleteConsumptionPayload{LineID: models.EntityRef{ID: line.ID}, Position: 1}},
		{models.OpUpdateOrderInstructions, models.UpdateOrderInstructionsPayload{OrderID: models.EntityRef{ID: order.ID}, Instructions: "sin cebolla"}},
		{models.OpDeleteOrder, models.DeleteOrderPayload{OrderID: models.EntityRef{ID: order.ID}}},
		{models.OpCreateOrderLine, models.CreateOrderLinePayload{OrderID: models.EntityRef{ID: order.ID}, ProductName: "agua", Quantity: 1}},
	}
	for _, tc := range cases {
		_, err := apply(t, db, tc.kind, tc.payload)
		de, ok := AsDomainError(err)
		require.True(t, ok, "kind %s must fail", tc.kind)
		assert.Equal(t, models.ReasonOrderClosed, de.Reason, "kind %s", tc.kind)
	}
}

func TestDeleteOrderRemovesWholeAggregate(t *testing.T) {
	db := newTestDB(t)
	order := seedOrder(t, db, models.OrderStatusPending)
	line := seedLine(t, db, order.ID, 2)
	seedExtra(t, db, line.ID, 1, "crema")

	_, err := apply(t, db, models.OpDeleteOrder, models.DeleteOrderPayload{
		OrderID: models.EntityRef{ID: order.ID},
	})
	require.NoError(t, err)

	for _, probe := range []struct {
		name  string
		model interface{}
	}{
		{"orders", &models.Order{}},
		{"lines", &models.OrderLine{}},
		{"consumptions", &models.Consumption{}},
		{"extras", &models.Extra{}},
	} {
		var count int
		require.NoError(t, db.Model(probe.model).Count(&count).Error)
		assert.Zero(t, count, probe.name)
	}
}
