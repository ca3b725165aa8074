package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/0xmhha/staking-indexer/events"
)

// Hub maintains the set of active clients and broadcasts events to them
type Hub struct {
	clients map[*Client]struct{}
	mu      sync.RWMutex

	broadcast chan events.Event

	logger *zap.Logger
}

// NewHub creates a new Hub
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:   make(map[*Client]struct{}),
		broadcast: make(chan events.Event, 256),
		logger:    logger,
	}
}

// Run delivers queued events until ctx is done, then disconnects every client
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.Stop()
			return
		case event := <-h.broadcast:
			h.broadcastEvent(event)
		}
	}
}

// Register adds a client
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("client registered", zap.Int("total_clients", total))
}

// Unregister removes a client and closes its send queue
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
	}
	total := len(h.clients)
	h.mu.Unlock()

	if ok {
		client.close()
		h.logger.Info("client unregistered", zap.Int("total_clients", total))
	}
}

// Broadcast queues event for delivery. It never blocks.
func (h *Hub) Broadcast(event events.Event) bool {
	select {
	case h.broadcast <- event:
		return true
	default:
		h.logger.Warn("broadcast channel full, dropping event",
			zap.String("type", string(event.Type())))
		return false
	}
}

func (h *Hub) broadcastEvent(event events.Event) {
	eventData, err := json.Marshal(&Event{
		Type: SubscriptionType(event.Type()),
		Data: event,
	})
	if err != nil {
		h.logger.Error("failed to marshal event", zap.Error(err))
		return
	}
	messageBytes, err := json.Marshal(Message{Type: "event", Payload: eventData})
	if err != nil {
		h.logger.Error("failed to marshal message", zap.Error(err))
		return
	}

	var slow []*Client
	sentCount := 0

	h.mu.RLock()
	for client := range h.clients {
		if !client.Matches(event) {
			continue
		}
		if client.trySend(messageBytes) {
			sentCount++
		} else {
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	// slow consumers are disconnected rather than stall the stream
	for _, client := range slow {
		h.logger.Warn("client buffer full, closing connection")
		h.Unregister(client)
	}

	h.logger.Debug("event broadcasted",
		zap.String("type", string(event.Type())),
		zap.Int("recipients", sentCount))
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stop closes all client connections
func (h *Hub) Stop() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*Client]struct{})
	h.mu.Unlock()

	for client := range clients {
		client.close()
	}

	h.logger.Info("hub stopped")
}
