package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vip4dfw/vip4dfw-backend/internal/models"
	"github.com/vip4dfw/vip4dfw-backend/internal/observability"
)

const (
	MessageDriverLocation = "driver_location_update"
	MessageBookingStatus  = "booking_status_update"

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // tracking links are shared outside the app origin
	},
}

// BookingUpdate is one event for the subscribers of a booking.
type BookingUpdate struct {
	BookingID string          `json:"bookingId"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
}

// WebSocketMessage is the frame written to tracking clients.
type WebSocketMessage struct {
	Type      string          `json:"type"`
	BookingID string          `json:"bookingId"`
	Data      json.RawMessage `json:"data"`
}

type StatusPayload struct {
	Status        models.BookingStatus `json:"status"`
	PaymentStatus models.PaymentStatus `json:"paymentStatus"`
}

func NewBookingUpdate(bookingID, msgType string, data any) (BookingUpdate, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return BookingUpdate{}, err
	}
	return BookingUpdate{BookingID: bookingID, Type: msgType, Data: raw}, nil
}

// Client is one websocket connection watching a single booking.
type Client struct {
	BookingID string
	Conn      *websocket.Conn
	Send      chan []byte
	Hub       *Hub
}

// Hub keeps the connected clients per booking and delivers updates to them.
type Hub struct {
	clients    map[string]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	deliver    chan BookingUpdate
	done       chan struct{}
	mutex      sync.RWMutex
	logger     *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		deliver:    make(chan BookingUpdate, 256),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run serves register, unregister and deliver until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.mutex.Lock()
			if h.clients[client.BookingID] == nil {
				h.clients[client.BookingID] = make(map[*Client]bool)
			}
			h.clients[client.BookingID][client] = true
			h.mutex.Unlock()
			observability.WebsocketClients.Inc()
			h.logger.Debug("tracking client connected", "booking_id", client.BookingID)

		case client := <-h.unregister:
			h.remove(client)

		case update := <-h.deliver:
			h.broadcast(update)
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	set, ok := h.clients[client.BookingID]
	if !ok || !set[client] {
		return
	}
	delete(set, client)
	if len(set) == 0 {
		delete(h.clients, client.BookingID)
	}
	close(client.Send)
	observability.WebsocketClients.Dec()
	h.logger.Debug("tracking client disconnected", "booking_id", client.BookingID)
}

func (h *Hub) broadcast(update BookingUpdate) {
	message, err := json.Marshal(WebSocketMessage{Type: update.Type, BookingID: update.BookingID, Data: update.Data})
	if err != nil {
		h.logger.Error("marshal websocket message", "error", err)
		return
	}

	h.mutex.RLock()
	var slow []*Client
	for client := range h.clients[update.BookingID] {
		select {
		case client.Send <- message:
		default:
			slow = append(slow, client)
		}
	}
	h.mutex.RUnlock()

	for _, client := range slow {
		h.remove(client)
	}
}

func (h *Hub) closeAll() {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for id, set := range h.clients {
		for client := range set {
			close(client.Send)
			observability.WebsocketClients.Dec()
		}
		delete(h.clients, id)
	}
}

// Deliver queues an update for local clients. Updates are dropped when
// the queue is full.
func (h *Hub) Deliver(update BookingUpdate) {
	select {
	case h.deliver <- update:
	default:
		h.logger.Warn("hub queue full, dropping update", "booking_id", update.BookingID, "type", update.Type)
	}
}

func (h *Hub) ClientCount(bookingID string) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients[bookingID])
}

// ServeBooking upgrades the request and subscribes it to bookingID.
func (h *Hub) ServeBooking(w http.ResponseWriter, r *http.Request, bookingID string) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	client := &Client{
		BookingID: bookingID,
		Conn:      conn,
		Send:      make(chan []byte, 32),
		Hub:       h,
	}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return nil
	}

	go client.writePump()
	go client.readPump()
	return nil
}

// readPump only watches for the peer going away; clients never send data.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.Hub.unregister <- c:
		case <-c.Hub.done:
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(512)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.Warn("websocket read error", "booking_id", c.BookingID, "error", err)
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.Hub.logger.Warn("websocket write error", "booking_id", c.BookingID, "error", err)
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Broadcaster sends booking updates through Redis when available so
// every instance sees them, and straight to the local hub otherwise.
type Broadcaster struct {
	hub    *Hub
	cache  *Cache
	logger *slog.Logger
}

func NewBroadcaster(hub *Hub, cache *Cache, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{hub: hub, cache: cache, logger: logger}
}

func (b *Broadcaster) publish(ctx context.Context, update BookingUpdate) {
	if b == nil {
		return
	}
	if b.cache.Enabled() {
		err := b.cache.PublishBookingUpdate(ctx, update)
		if err == nil {
			return
		}
		b.logger.Warn("redis publish failed, delivering locally", "booking_id", update.BookingID, "error", err)
	}
	if b.hub != nil {
		b.hub.Deliver(update)
	}
}

func (b *Broadcaster) DriverLocation(ctx context.Context, bookingID string, loc DriverLocation) {
	update, err := NewBookingUpdate(bookingID, MessageDriverLocation, loc)
	if err != nil {
		return
	}
	b.publish(ctx, update)
}

func (b *Broadcaster) BookingStatus(ctx context.Context, booking *models.Booking) {
	update, err := NewBookingUpdate(booking.ID, MessageBookingStatus, StatusPayload{
		Status:        booking.Status,
		PaymentStatus: booking.PaymentStatus,
	})
	if err != nil {
		return
	}
	b.publish(ctx, update)
}
