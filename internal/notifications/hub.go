package notifications

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"token-sale/sale-backend/internal/sale"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

// ErrHubBusy is returned when the broadcast queue is full.
var ErrHubBusy = errors.New("broadcast channel full")

// Hub broadcasts sale events to websocket subscribers. Each connection
// subscribes to one sale.
type Hub struct {
	mu    sync.RWMutex
	rooms map[uuid.UUID]map[*subscriber]bool

	broadcast  chan Message
	register   chan *subscriber
	unregister chan *subscriber
	stop       chan struct{}
	stopOnce   sync.Once

	upgrader websocket.Upgrader
	logger   *zap.Logger
}

type subscriber struct {
	saleID uuid.UUID
	conn   *websocket.Conn
	send   chan Message
}

// NewHub creates a hub and starts its dispatch loop.
func NewHub(logger *zap.Logger) *Hub {
	h := &Hub{
		rooms:      make(map[uuid.UUID]map[*subscriber]bool),
		broadcast:  make(chan Message, sendBuffer),
		register:   make(chan *subscriber),
		unregister: make(chan *subscriber),
		stop:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger,
	}
	go h.run()
	return h
}

// RegisterRoutes registers the websocket endpoint
func (h *Hub) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/ws/sales/:id/events", h.serve)
}

// Publish queues events for the subscribers of their sale.
func (h *Hub) Publish(ctx context.Context, events []sale.Event) error {
	for _, ev := range events {
		select {
		case h.broadcast <- NewEventMessage(ev):
		case <-ctx.Done():
			return ctx.Err()
		default:
			return ErrHubBusy
		}
	}
	return nil
}

// Subscribers returns the number of connections watching a sale.
func (h *Hub) Subscribers(saleID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[saleID])
}

// Close disconnects every subscriber and stops the dispatch loop.
func (h *Hub) Close() {
	h.stopOnce.Do(func() { close(h.stop) })
}

func (h *Hub) serve(c *gin.Context) {
	saleID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid sale ID"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}

	sub := &subscriber{saleID: saleID, conn: conn, send: make(chan Message, sendBuffer)}
	sub.send <- Message{Type: MessageTypeStatus, SaleID: saleID, OccurredAt: time.Now().UTC()}
	select {
	case h.register <- sub:
	case <-h.stop:
		conn.Close()
		return
	}

	go h.writePump(sub)
	go h.readPump(sub)
}

func (h *Hub) run() {
	for {
		select {
		case sub := <-h.register:
			h.mu.Lock()
			room, ok := h.rooms[sub.saleID]
			if !ok {
				room = make(map[*subscriber]bool)
				h.rooms[sub.saleID] = room
			}
			room[sub] = true
			h.mu.Unlock()
			h.logger.Debug("Subscriber registered", zap.String("sale_id", sub.saleID.String()))

		case sub := <-h.unregister:
			h.remove(sub)

		case msg := <-h.broadcast:
			h.mu.RLock()
			var slow []*subscriber
			for sub := range h.rooms[msg.SaleID] {
				select {
				case sub.send <- msg:
				default:
					slow = append(slow, sub)
				}
			}
			h.mu.RUnlock()
			for _, sub := range slow {
				h.logger.Warn("Dropping slow subscriber", zap.String("sale_id", sub.saleID.String()))
				h.remove(sub)
			}

		case <-h.stop:
			h.mu.Lock()
			for saleID, room := range h.rooms {
				for sub := range room {
					close(sub.send)
				}
				delete(h.rooms, saleID)
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[sub.saleID]
	if !room[sub] {
		return
	}
	delete(room, sub)
	if len(room) == 0 {
		delete(h.rooms, sub.saleID)
	}
	close(sub.send)
}

// readPump discards client frames and unregisters the subscriber on close.
func (h *Hub) readPump(sub *subscriber) {
	defer func() {
		select {
		case h.unregister <- sub:
		case <-h.stop:
		}
		sub.conn.Close()
	}()

	sub.conn.SetReadLimit(512)
	sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	sub.conn.SetPongHandler(func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("Websocket closed unexpectedly", zap.Error(err))
			}
			return
		}
	}
}

func (h *Hub) writePump(sub *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sub.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-sub.send:
			sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				sub.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := sub.conn.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
