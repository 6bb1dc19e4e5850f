// Package room exposes a conversation through a live WebSocket chat room:
// human messages come in over the socket, every appended turn is broadcast
// out, and failures surface as transient in-room notices without ending
// anyone's session.
package room

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// EventType 聊天室事件类型。
type EventType string

const (
	EventMessage EventType = "message" // 一条转录轮次
	EventNotice  EventType = "notice"  // 瞬时提示（错误、限流等）
)

// Event is the wire shape exchanged with room clients.
type Event struct {
	Type      EventType `json:"type"`
	From      string    `json:"from,omitempty"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientGauge 统计在线客户端数，由 metrics 收集器实现。可为 nil。
type ClientGauge interface {
	RoomClientConnected()
	RoomClientDisconnected()
}

// client is one connected room member with its outbound queue and inbound
// rate limiter.
type client struct {
	id      string
	send    chan Event
	limiter *rate.Limiter
}

// Hub fans events out to all connected clients. A slow client's queue is
// allowed to drop events rather than stall the broadcast.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
	gauge   ClientGauge
	logger  *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(gauge ClientGauge, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[string]*client),
		gauge:   gauge,
		logger:  logger.With(zap.String("component", "room_hub")),
	}
}

// register adds a client and returns it.
func (h *Hub) register(limiter *rate.Limiter) *client {
	c := &client{
		id:      uuid.New().String(),
		send:    make(chan Event, 64),
		limiter: limiter,
	}
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()

	if h.gauge != nil {
		h.gauge.RoomClientConnected()
	}
	h.logger.Debug("client joined", zap.String("client_id", c.id))
	return c
}

// unregister removes a client and closes its queue.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c.id]
	delete(h.clients, c.id)
	h.mu.Unlock()
	if !ok {
		return
	}
	close(c.send)

	if h.gauge != nil {
		h.gauge.RoomClientDisconnected()
	}
	h.logger.Debug("client left", zap.String("client_id", c.id))
}

// Broadcast queues the event for every connected client.
func (h *Hub) Broadcast(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, c := range h.clients {
		select {
		case c.send <- ev:
		default:
			h.logger.Debug("client queue full, event dropped", zap.String("client_id", id))
		}
	}
}

// sendTo queues the event for a single client.
func (h *Hub) sendTo(c *client, ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	select {
	case c.send <- ev:
	default:
		h.logger.Debug("client queue full, event dropped", zap.String("client_id", c.id))
	}
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

