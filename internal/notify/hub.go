package notify

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"comanda/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// WebSocket upgrader configuration
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // terminals connect from the local network
	},
}

// OrderStatusEvent is what the dining-room terminals receive whenever an
// order moves through the kitchen.
type OrderStatusEvent struct {
	Type       string    `json:"type"`
	OrderID    uint      `json:"orderId"`
	Status     int       `json:"status"`
	StatusName string    `json:"statusName"`
	At         time.Time `json:"at"`
}

// Hub broadcasts committed order status changes to connected terminals.
// It is a fire-and-forget sink: slow consumers get dropped messages,
// never backpressure into the sync pipeline.
type Hub struct {
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	clients    map[*client]bool

	onClientCount func(n int)
}

// client maintains one WebSocket connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates a notification hub. Run must be called before any
// events are published.
func NewHub() *Hub {
	return &Hub{
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 64),
		clients:    make(map[*client]bool),
	}
}

// OnClientCount registers a callback invoked whenever the number of
// connected terminals changes. Used to feed the connection gauge.
func (h *Hub) OnClientCount(fn func(n int)) {
	h.onClientCount = fn
}

// Run owns the client set until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			return
		case c := <-h.register:
			h.clients[c] = true
			h.notifyCount()
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				h.notifyCount()
			}
		case message := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					// Buffer full: the terminal is too slow, drop it.
					delete(h.clients, c)
					close(c.send)
					h.notifyCount()
				}
			}
		}
	}
}

func (h *Hub) notifyCount() {
	if h.onClientCount != nil {
		h.onClientCount(len(h.clients))
	}
}

// NotifyOrderStatusChanged publishes a status change to all terminals.
func (h *Hub) NotifyOrderStatusChanged(orderID uint, status models.OrderStatus) {
	event := OrderStatusEvent{
		Type:       "order_status",
		OrderID:    orderID,
		Status:     int(status),
		StatusName: status.String(),
		At:         time.Now(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("notify: marshal event: %v", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		log.Println("notify: broadcast buffer full, dropping event")
	}
}

// ServeWS upgrades an HTTP request into a hub subscription.
func (h *Hub) ServeWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("notify: failed to upgrade connection: %v", err)
		return
	}

	cl := &client{hub: h, conn: conn, send: make(chan []byte, 256)}
	h.register <- cl

	go cl.writePump()
	go cl.readPump()
}

// readPump drains the connection so pings and close frames are handled;
// terminals never send application data.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("notify: websocket error: %v", err)
			}
			break
		}
	}
}

// writePump pushes hub messages and keepalive pings to the terminal.
func (c *client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
