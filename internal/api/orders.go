package api

import (
	"net/http"
	"strconv"

	"comanda/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/jinzhu/gorm"
)

// orderView is the read shape of an order: stored fields plus totals
// recomputed from the lines on every request.
type orderView struct {
	models.Order
	StatusName string        `json:"statusName"`
	Totals     models.Totals `json:"totals"`
	LineTotals []lineTotal   `json:"lineTotals"`
}

type lineTotal struct {
	LineID uint          `json:"lineId"`
	Totals models.Totals `json:"totals"`
}

func viewOf(order *models.Order) orderView {
	view := orderView{
		Order:      *order,
		StatusName: order.Status.String(),
		Totals:     models.OrderTotals(order),
	}
	for i := range order.Lines {
		view.LineTotals = append(view.LineTotals, lineTotal{
			LineID: order.Lines[i].ID,
			Totals: models.LineTotals(&order.Lines[i]),
		})
	}
	return view
}

// loadOrder fetches an order with lines, consumptions and extras.
func (s *Server) loadOrder(id uint) (*models.Order, error) {
	var order models.Order
	err := s.db.Preload("Lines").
		Preload("Lines.Consumptions", func(db *gorm.DB) *gorm.DB {
			return db.Order("position asc")
		}).
		Preload("Lines.Consumptions.Extras").
		First(&order, id).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func orderID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return 0, false
	}
	return uint(id), true
}

// GetOrder returns one order with resolved totals and status.
func (s *Server) GetOrder(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	order, err := s.loadOrder(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
		return
	}
	c.JSON(http.StatusOK, viewOf(order))
}

// ListOrders returns open orders, optionally restricted to one ticket
// group. Secondary orders share a group id with their parent; the
// aggregation is a query here, never a live reference on the order.
func (s *Server) ListOrders(c *gin.Context) {
	q := s.db.Preload("Lines").
		Preload("Lines.Consumptions", func(db *gorm.DB) *gorm.DB {
			return db.Order("position asc")
		}).
		Preload("Lines.Consumptions.Extras")
	if group := c.Query("group"); group != "" {
		q = q.Where("group_id = ?", group)
	}

	var orders []models.Order
	if err := q.Find(&orders).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	views := make([]orderView, 0, len(orders))
	for i := range orders {
		views = append(views, viewOf(&orders[i]))
	}
	c.JSON(http.StatusOK, views)
}

// AdvanceStatus moves an order forward through the state machine.
func (s *Server) AdvanceStatus(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	var req struct {
		Status models.OrderStatus `json:"status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.advance(c, id, req.Status)
}

// ConfirmPayment closes the order. Once paid, no mutation operation may
// touch it again.
func (s *Server) ConfirmPayment(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	s.advance(c, id, models.OrderStatusPaid)
}

func (s *Server) advance(c *gin.Context, id uint, next models.OrderStatus) {
	var order models.Order
	if err := s.db.First(&order, id).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
		return
	}
	if order.Status.Closed() {
		c.JSON(http.StatusConflict, gin.H{"error": "order is paid", "reason": models.ReasonOrderClosed})
		return
	}
	if !order.Status.CanAdvanceTo(next) {
		c.JSON(http.StatusConflict, gin.H{
			"error":  "invalid status transition",
			"reason": models.ReasonInvalidStatusTransition,
		})
		return
	}

	order.Status = next
	order.Version++
	if err := s.db.Save(&order).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	s.hub.NotifyOrderStatusChanged(order.ID, order.Status)
	c.JSON(http.StatusOK, gin.H{"id": order.ID, "status": int(order.Status), "statusName": order.Status.String()})
}

// ticketLine is one printable row of the customer ticket.
type ticketLine struct {
	Product  string   `json:"product"`
	Quantity int      `json:"quantity"`
	Unit     float64  `json:"unit"`
	Extras   []string `json:"extras,omitempty"`
	Total    float64  `json:"total"`
}

// GetTicket returns the printable data for an order: public prices only.
func (s *Server) GetTicket(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	order, err := s.loadOrder(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
		return
	}

	lines := make([]ticketLine, 0, len(order.Lines))
	for i := range order.Lines {
		l := &order.Lines[i]
		tl := ticketLine{
			Product:  l.ProductName,
			Quantity: l.Quantity,
			Unit:     l.UnitPublicCost,
			Total:    models.LineTotals(l).Public,
		}
		for _, cons := range l.Consumptions {
			for _, e := range cons.Extras {
				tl.Extras = append(tl.Extras, e.Name)
			}
		}
		lines = append(lines, tl)
	}

	c.JSON(http.StatusOK, gin.H{
		"orderId":      order.ID,
		"table":        order.TableNumber,
		"waiter":       order.Waiter,
		"instructions": order.Instructions,
		"status":       order.Status.String(),
		"lines":        lines,
		"total":        models.OrderTotals(order).Public,
	})
}
