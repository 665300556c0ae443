package api

import (
	"net/http"

	"comanda/internal/notify"
	syncengine "comanda/internal/sync"

	"github.com/gin-gonic/gin"
	"github.com/jinzhu/gorm"
)

// Server wires the HTTP surface of the point-of-sale manager: the sync
// endpoint the mobile terminals flush their queues to, the order read
// surface the dining room uses, and the websocket event stream.
type Server struct {
	Router *gin.Engine

	db    *gorm.DB
	sync  *syncengine.Synchronizer
	hub   *notify.Hub
	token string
}

// NewServer creates the API server and registers all routes.
func NewServer(db *gorm.DB, synchronizer *syncengine.Synchronizer, hub *notify.Hub, authSecret string) *Server {
	s := &Server{
		Router: gin.Default(),
		db:     db,
		sync:   synchronizer,
		hub:    hub,
		token:  authSecret,
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all API endpoints.
func (s *Server) setupRoutes() {
	s.Router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.Router.GET("/ws", s.hub.ServeWS)

	v1 := s.Router.Group("/api/v1")
	v1.Use(DeviceAuth(s.token))
	{
		// Offline queue flush
		v1.POST("/sync", s.SyncBatch)
		v1.GET("/sync/batches", s.ListBatches)

		// Order surface for the dining room
		v1.GET("/orders", s.ListOrders)
		v1.GET("/orders/:id", s.GetOrder)
		v1.GET("/orders/:id/ticket", s.GetTicket)
		v1.POST("/orders/:id/status", s.AdvanceStatus)
		v1.POST("/orders/:id/pay", s.ConfirmPayment)
	}
}
