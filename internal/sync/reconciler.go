package sync

import (
	"encoding/json"
	"sort"

	"comanda/internal/models"

	"github.com/jinzhu/gorm"
)

// resolveFunc turns an entity reference from an operation payload into a
// server id, consulting the batch's localId mapping when the reference
// was created in the same offline session.
type resolveFunc func(models.EntityRef) (uint, error)

// ApplyResult carries what the synchronizer needs after a successful
// apply: the id of a newly created entity (if any), the order the
// operation touched, and a status change to announce.
type ApplyResult struct {
	ServerID  uint
	OrderID   uint
	NewStatus *models.OrderStatus
}

// Reconciler applies the domain rules for each operation kind against
// the store, inside the transaction handed to it. All rule violations
// come back as *DomainError; anything else is treated as a store error.
type Reconciler struct{}

// NewReconciler creates a reconciler.
func NewReconciler() *Reconciler {
	return &Reconciler{}
}

// Apply dispatches one operation to its domain rule.
func (r *Reconciler) Apply(tx *gorm.DB, op models.Operation, resolve resolveFunc) (*ApplyResult, error) {
	switch op.Kind {
	case models.OpCreateOrder:
		return r.createOrder(tx, op.Payload)
	case models.OpUpdateOrder:
		return r.updateOrder(tx, op.Payload, resolve)
	case models.OpDeleteOrder:
		return r.deleteOrder(tx, op.Payload, resolve)
	case models.OpUpdateOrderInstructions:
		return r.updateOrderInstructions(tx, op.Payload, resolve)
	case models.OpCreateOrderLine:
		return r.createOrderLine(tx, op.Payload, resolve)
	case models.OpUpdateOrderLine:
		return r.updateOrderLine(tx, op.Payload, resolve)
	case models.OpDeleteOrderLine:
		return r.deleteOrderLine(tx, op.Payload, resolve)
	case models.OpUpdateOrderLineQuantity:
		return r.updateOrderLineQuantity(tx, op.Payload, resolve)
	case models.OpAddExtraToConsumptions:
		return r.addExtraToConsumptions(tx, op.Payload, resolve)
	case models.OpRemoveExtraFromConsumption:
		return r.removeExtraFromConsumption(tx, op.Payload, resolve)
	case models.OpDeleteConsumption:
		return r.deleteConsumption(tx, op.Payload, resolve)
	}
	return nil, domainErrf(models.ReasonValidationFailed, "unknown operation kind %q", op.Kind)
}

// TargetOrderID peeks at an operation's payload to find the order it
// will mutate, so the caller can take that order's lock before opening
// the apply transaction. CreateOrder targets no existing order and
// returns 0.
func (r *Reconciler) TargetOrderID(db *gorm.DB, op models.Operation, resolve resolveFunc) (uint, error) {
	var orderRef, lineRef models.EntityRef

	switch op.Kind {
	case models.OpCreateOrder:
		return 0, nil
	case models.OpUpdateOrder:
		var p models.UpdateOrderPayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return 0, domainErrf(models.ReasonValidationFailed, "bad payload: %v", err)
		}
		orderRef = p.OrderID
	case models.OpDeleteOrder:
		var p models.DeleteOrderPayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return 0, domainErrf(models.ReasonValidationFailed, "bad payload: %v", err)
		}
		orderRef = p.OrderID
	case models.OpUpdateOrderInstructions:
		var p models.UpdateOrderInstructionsPayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return 0, domainErrf(models.ReasonValidationFailed, "bad payload: %v", err)
		}
		orderRef = p.OrderID
	case models.OpCreateOrderLine:
		var p models.CreateOrderLinePayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return 0, domainErrf(models.ReasonValidationFailed, "bad payload: %v", err)
		}
		orderRef = p.OrderID
	default:
		var p struct {
			LineID models.EntityRef `json:"lineId"`
		}
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return 0, domainErrf(models.ReasonValidationFailed, "bad payload: %v", err)
		}
		lineRef = p.LineID
	}

	if !orderRef.IsZero() {
		return resolve(orderRef)
	}
	lineID, err := resolve(lineRef)
	if err != nil {
		return 0, err
	}
	var line models.OrderLine
	err = db.Select("order_id").First(&line, lineID).Error
	if gorm.IsRecordNotFoundError(err) {
		return 0, domainErrf(models.ReasonNotFound, "order line %d not found", lineID)
	}
	if err != nil {
		return 0, err
	}
	return line.OrderID, nil
}

func (r *Reconciler) createOrder(tx *gorm.DB, payload json.RawMessage) (*ApplyResult, error) {
	var p models.CreateOrderPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, domainErrf(models.ReasonValidationFailed, "bad payload: %v", err)
	}
	if p.TableNumber < 1 {
		return nil, domainErrf(models.ReasonValidationFailed, "table number must be positive")
	}
	if p.Waiter == "" {
		return nil, domainErrf(models.ReasonValidationFailed, "waiter is required")
	}

	order := models.Order{
		Status:       models.OrderStatusPending,
		TableNumber:  p.TableNumber,
		Waiter:       p.Waiter,
		Instructions: p.Instructions,
		GroupID:      p.GroupID,
		Version:      1,
	}
	if err := tx.Create(&order).Error; err != nil {
		return nil, err
	}
	return &ApplyResult{ServerID: order.ID, OrderID: order.ID}, nil
}

func (r *Reconciler) updateOrder(tx *gorm.DB, payload json.RawMessage, resolve resolveFunc) (*ApplyResult, error) {
	var p models.UpdateOrderPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, domainErrf(models.ReasonValidationFailed, "bad payload: %v", err)
	}
	order, err := r.loadOrder(tx, p.OrderID, resolve)
	if err != nil {
		return nil, err
	}

	res := &ApplyResult{OrderID: order.ID}
	if p.Status != nil {
		if order.Status.Closed() {
			return nil, domainErrf(models.ReasonOrderClosed, "order %d is paid", order.ID)
		}
		if !order.Status.CanAdvanceTo(*p.Status) {
			return nil, domainErrf(models.ReasonInvalidStatusTransition,
				"cannot move order %d from %s to %s", order.ID, order.Status, *p.Status)
		}
		order.Status = *p.Status
		res.NewStatus = p.Status
	} else if order.Status.Closed() {
		return nil, domainErrf(models.ReasonOrderClosed, "order %d is paid", order.ID)
	}
	if p.TableNumber != nil {
		if *p.TableNumber < 1 {
			return nil, domainErrf(models.ReasonValidationFailed, "table number must be positive")
		}
		order.TableNumber = *p.TableNumber
	}
	if p.Waiter != nil {
		order.Waiter = *p.Waiter
	}

	order.Version++
	if err := tx.Save(order).Error; err != nil {
		return nil, err
	}
	return res, nil
}

func (r *Reconciler) deleteOrder(tx *gorm.DB, payload json.RawMessage, resolve resolveFunc) (*ApplyResult, error) {
	var p models.DeleteOrderPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, domainErrf(models.ReasonValidationFailed, "bad payload: %v", err)
	}
	order, err := r.loadOrder(tx, p.OrderID, resolve)
	if err != nil {
		return nil, err
	}
	if order.Status.Closed() {
		return nil, domainErrf(models.ReasonOrderClosed, "order %d is paid", order.ID)
	}

	var lines []models.OrderLine
	if err := tx.Where("order_id = ?", order.ID).Find(&lines).Error; err != nil {
		return nil, err
	}
	for i := range lines {
		if err := r.removeLine(tx, &lines[i]); err != nil {
			return nil, err
		}
	}
	if err := tx.Delete(order).Error; err != nil {
		return nil, err
	}
	return &ApplyResult{OrderID: order.ID}, nil
}

func (r *Reconciler) updateOrderInstructions(tx *gorm.DB, payload json.RawMessage, resolve resolveFunc) (*ApplyResult, error) {
	var p models.UpdateOrderInstructionsPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, domainErrf(models.ReasonValidationFailed, "bad payload: %v", err)
	}
	order, err := r.loadOrder(tx, p.OrderID, resolve)
	if err != nil {
		return nil, err
	}
	if order.Status.Closed() {
		return nil, domainErrf(models.ReasonOrderClosed, "order %d is paid", order.ID)
	}

	order.Instructions = p.Instructions
	order.Version++
	if err := tx.Save(order).Error; err != nil {
		return nil, err
	}
	return &ApplyResult{OrderID: order.ID}, nil
}

func (r *Reconciler) createOrderLine(tx *gorm.DB, payload json.RawMessage, resolve resolveFunc) (*ApplyResult, error) {
	var p models.CreateOrderLinePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, domainErrf(models.ReasonValidationFailed, "bad payload: %v", err)
	}
	if p.Quantity < 1 {
		return nil, domainErrf(models.ReasonValidationFailed, "quantity must be at least 1")
	}
	if p.ProductName == "" {
		return nil, domainErrf(models.ReasonValidationFailed, "product name is required")
	}
	order, err := r.loadOrder(tx, p.OrderID, resolve)
	if err != nil {
		return nil, err
	}
	if order.Status.Closed() {
		return nil, domainErrf(models.ReasonOrderClosed, "order %d is paid", order.ID)
	}

	line := models.OrderLine{
		OrderID:        order.ID,
		ProductID:      p.ProductID,
		ProductName:    p.ProductName,
		UnitRealCost:   p.UnitRealCost,
		UnitPublicCost: p.UnitPublicCost,
		Quantity:       p.Quantity,
	}
	if err := tx.Create(&line).Error; err != nil {
		return nil, err
	}
	// One consumption per ordered unit, positions contiguous from 1.
	for pos := 1; pos <= p.Quantity; pos++ {
		c := models.Consumption{OrderLineID: line.ID, Position: pos}
		if err := tx.Create(&c).Error; err != nil {
			return nil, err
		}
	}
	if err := r.touchOrder(tx, order); err != nil {
		return nil, err
	}
	return &ApplyResult{ServerID: line.ID, OrderID: order.ID}, nil
}

func (r *Reconciler) updateOrderLine(tx *gorm.DB, payload json.RawMessage, resolve resolveFunc) (*ApplyResult, error) {
	var p models.UpdateOrderLinePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, domainErrf(models.ReasonValidationFailed, "bad payload: %v", err)
	}
	line, order, err := r.loadLine(tx, p.LineID, resolve)
	if err != nil {
		return nil, err
	}

	if p.ProductName != nil {
		if *p.ProductName == "" {
			return nil, domainErrf(models.ReasonValidationFailed, "product name cannot be empty")
		}
		line.ProductName = *p.ProductName
	}
	if p.UnitRealCost != nil {
		line.UnitRealCost = *p.UnitRealCost
	}
	if p.UnitPublicCost != nil {
		line.UnitPublicCost = *p.UnitPublicCost
	}
	if err := tx.Save(line).Error; err != nil {
		return nil, err
	}
	if err := r.touchOrder(tx, order); err != nil {
		return nil, err
	}
	return &ApplyResult{OrderID: order.ID}, nil
}

func (r *Reconciler) deleteOrderLine(tx *gorm.DB, payload json.RawMessage, resolve resolveFunc) (*ApplyResult, error) {
	var p models.DeleteOrderLinePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, domainErrf(models.ReasonValidationFailed, "bad payload: %v", err)
	}
	line, order, err := r.loadLine(tx, p.LineID, resolve)
	if err != nil {
		return nil, err
	}
	if err := r.removeLine(tx, line); err != nil {
		return nil, err
	}
	if err := r.touchOrder(tx, order); err != nil {
		return nil, err
	}
	return &ApplyResult{OrderID: order.ID}, nil
}

// updateOrderLineQuantity resyncs the consumption list with a new
// quantity. Growth appends empty consumptions; shrink removes from the
// tail and refuses to discard extras unless the payload carries the
// force flag. Positions are contiguous from 1 afterwards.
func (r *Reconciler) updateOrderLineQuantity(tx *gorm.DB, payload json.RawMessage, resolve resolveFunc) (*ApplyResult, error) {
	var p models.UpdateOrderLineQuantityPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, domainErrf(models.ReasonValidationFailed, "bad payload: %v", err)
	}
	if p.Quantity < 1 {
		return nil, domainErrf(models.ReasonValidationFailed, "quantity must be at least 1")
	}
	line, order, err := r.loadLine(tx, p.LineID, resolve)
	if err != nil {
		return nil, err
	}

	old := len(line.Consumptions)
	switch {
	case p.Quantity > old:
		for pos := old + 1; pos <= p.Quantity; pos++ {
			c := models.Consumption{OrderLineID: line.ID, Position: pos}
			if err := tx.Create(&c).Error; err != nil {
				return nil, err
			}
		}
	case p.Quantity < old:
		doomed := line.Consumptions[p.Quantity:]
		if !p.Force {
			for _, c := range doomed {
				if len(c.Extras) > 0 {
					return nil, domainErrf(models.ReasonConsumptionHasExtras,
						"consumption %d of line %d holds %d extra(s)", c.Position, line.ID, len(c.Extras))
				}
			}
		}
		for i := range doomed {
			if err := r.removeConsumption(tx, &doomed[i]); err != nil {
				return nil, err
			}
		}
	}

	line.Quantity = p.Quantity
	if err := tx.Save(line).Error; err != nil {
		return nil, err
	}
	if err := r.reindexLine(tx, line.ID); err != nil {
		return nil, err
	}
	if err := r.touchOrder(tx, order); err != nil {
		return nil, err
	}
	return &ApplyResult{OrderID: order.ID}, nil
}

// addExtraToConsumptions attaches one extra snapshot to every named
// consumption position. The attachment is atomic: a single missing
// position fails the whole operation before anything is written.
func (r *Reconciler) addExtraToConsumptions(tx *gorm.DB, payload json.RawMessage, resolve resolveFunc) (*ApplyResult, error) {
	var p models.AddExtraToConsumptionsPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, domainErrf(models.ReasonValidationFailed, "bad payload: %v", err)
	}
	if p.Name == "" {
		return nil, domainErrf(models.ReasonValidationFailed, "extra name is required")
	}
	if len(p.Positions) == 0 {
		return nil, domainErrf(models.ReasonValidationFailed, "no consumption positions named")
	}
	line, order, err := r.loadLine(tx, p.LineID, resolve)
	if err != nil {
		return nil, err
	}

	byPos := make(map[int]*models.Consumption, len(line.Consumptions))
	for i := range line.Consumptions {
		byPos[line.Consumptions[i].Position] = &line.Consumptions[i]
	}
	targets := make([]*models.Consumption, 0, len(p.Positions))
	for _, pos := range p.Positions {
		c, ok := byPos[pos]
		if !ok {
			return nil, domainErrf(models.ReasonNotFound,
				"line %d has no consumption at position %d", line.ID, pos)
		}
		targets = append(targets, c)
	}

	for _, c := range targets {
		extra := models.Extra{
			ConsumptionID: c.ID,
			Name:          p.Name,
			RealCost:      p.RealCost,
			PublicCost:    p.PublicCost,
		}
		if err := tx.Create(&extra).Error; err != nil {
			return nil, err
		}
	}
	if err := r.touchOrder(tx, order); err != nil {
		return nil, err
	}
	return &ApplyResult{OrderID: order.ID}, nil
}

func (r *Reconciler) removeExtraFromConsumption(tx *gorm.DB, payload json.RawMessage, resolve resolveFunc) (*ApplyResult, error) {
	var p models.RemoveExtraFromConsumptionPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, domainErrf(models.ReasonValidationFailed, "bad payload: %v", err)
	}
	line, order, err := r.loadLine(tx, p.LineID, resolve)
	if err != nil {
		return nil, err
	}
	c := findConsumption(line, p.Position)
	if c == nil {
		return nil, domainErrf(models.ReasonNotFound,
			"line %d has no consumption at position %d", line.ID, p.Position)
	}

	var target *models.Extra
	for i := range c.Extras {
		e := &c.Extras[i]
		if p.ExtraID != 0 && e.ID == p.ExtraID {
			target = e
			break
		}
		if p.ExtraID == 0 && e.Name == p.Name {
			target = e
			break
		}
	}
	if target == nil {
		return nil, domainErrf(models.ReasonNotFound,
			"consumption %d of line %d has no such extra", p.Position, line.ID)
	}
	if err := tx.Delete(target).Error; err != nil {
		return nil, err
	}
	if err := r.touchOrder(tx, order); err != nil {
		return nil, err
	}
	return &ApplyResult{OrderID: order.ID}, nil
}

// deleteConsumption removes one unit from a line and shrinks the
// quantity to match; remaining consumptions are re-indexed from 1.
// Removing the last consumption removes the line with it, so the
// quantity >= 1 invariant holds for everything that stays.
func (r *Reconciler) deleteConsumption(tx *gorm.DB, payload json.RawMessage, resolve resolveFunc) (*ApplyResult, error) {
	var p models.DeleteConsumptionPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, domainErrf(models.ReasonValidationFailed, "bad payload: %v", err)
	}
	line, order, err := r.loadLine(tx, p.LineID, resolve)
	if err != nil {
		return nil, err
	}
	c := findConsumption(line, p.Position)
	if c == nil {
		return nil, domainErrf(models.ReasonNotFound,
			"line %d has no consumption at position %d", line.ID, p.Position)
	}

	if err := r.removeConsumption(tx, c); err != nil {
		return nil, err
	}
	if line.Quantity <= 1 {
		if err := tx.Delete(line).Error; err != nil {
			return nil, err
		}
	} else {
		line.Quantity--
		if err := tx.Save(line).Error; err != nil {
			return nil, err
		}
		if err := r.reindexLine(tx, line.ID); err != nil {
			return nil, err
		}
	}
	if err := r.touchOrder(tx, order); err != nil {
		return nil, err
	}
	return &ApplyResult{OrderID: order.ID}, nil
}

// loadOrder resolves an order reference and fetches the row. A reference
// created by a failed operation comes back as DependencyFailed from the
// resolver; a missing row is NotFound.
func (r *Reconciler) loadOrder(tx *gorm.DB, ref models.EntityRef, resolve resolveFunc) (*models.Order, error) {
	id, err := resolve(ref)
	if err != nil {
		return nil, err
	}
	var order models.Order
	err = tx.First(&order, id).Error
	if gorm.IsRecordNotFoundError(err) {
		return nil, domainErrf(models.ReasonNotFound, "order %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// loadLine resolves a line reference and fetches it with consumptions
// (in position order) and extras, plus the owning order for the closed
// guard and version bump. Mutations on a paid order fail here.
func (r *Reconciler) loadLine(tx *gorm.DB, ref models.EntityRef, resolve resolveFunc) (*models.OrderLine, *models.Order, error) {
	id, err := resolve(ref)
	if err != nil {
		return nil, nil, err
	}
	var line models.OrderLine
	err = tx.Preload("Consumptions", func(db *gorm.DB) *gorm.DB {
		return db.Order("position asc")
	}).Preload("Consumptions.Extras").First(&line, id).Error
	if gorm.IsRecordNotFoundError(err) {
		return nil, nil, domainErrf(models.ReasonNotFound, "order line %d not found", id)
	}
	if err != nil {
		return nil, nil, err
	}

	var order models.Order
	err = tx.First(&order, line.OrderID).Error
	if gorm.IsRecordNotFoundError(err) {
		return nil, nil, domainErrf(models.ReasonNotFound, "order %d not found", line.OrderID)
	}
	if err != nil {
		return nil, nil, err
	}
	if order.Status.Closed() {
		return nil, nil, domainErrf(models.ReasonOrderClosed, "order %d is paid", order.ID)
	}
	return &line, &order, nil
}

// removeConsumption deletes a consumption together with its extras.
func (r *Reconciler) removeConsumption(tx *gorm.DB, c *models.Consumption) error {
	if err := tx.Where("consumption_id = ?", c.ID).Delete(&models.Extra{}).Error; err != nil {
		return err
	}
	return tx.Delete(c).Error
}

// removeLine deletes a line with all its consumptions and extras.
func (r *Reconciler) removeLine(tx *gorm.DB, line *models.OrderLine) error {
	var consumptions []models.Consumption
	if err := tx.Where("order_line_id = ?", line.ID).Find(&consumptions).Error; err != nil {
		return err
	}
	for i := range consumptions {
		if err := r.removeConsumption(tx, &consumptions[i]); err != nil {
			return err
		}
	}
	return tx.Delete(line).Error
}

// reindexLine rewrites consumption positions to 1..n in current order.
func (r *Reconciler) reindexLine(tx *gorm.DB, lineID uint) error {
	var consumptions []models.Consumption
	err := tx.Where("order_line_id = ?", lineID).Order("position asc").Find(&consumptions).Error
	if err != nil {
		return err
	}
	sort.SliceStable(consumptions, func(i, j int) bool {
		return consumptions[i].Position < consumptions[j].Position
	})
	for i := range consumptions {
		want := i + 1
		if consumptions[i].Position == want {
			continue
		}
		err := tx.Model(&consumptions[i]).Update("position", want).Error
		if err != nil {
			return err
		}
	}
	return nil
}

// touchOrder bumps the order version after any mutation beneath it.
func (r *Reconciler) touchOrder(tx *gorm.DB, order *models.Order) error {
	return tx.Model(order).Update("version", gorm.Expr("version + 1")).Error
}

func findConsumption(line *models.OrderLine, position int) *models.Consumption {
	for i := range line.Consumptions {
		if line.Consumptions[i].Position == position {
			return &line.Consumptions[i]
		}
	}
	return nil
}
