package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/0xmhha/staking-indexer/events"
	"github.com/0xmhha/staking-indexer/internal/constants"
)

const (
	writeWait  = constants.DefaultWSWriteTimeout
	pongWait   = constants.DefaultWSPongTimeout
	pingPeriod = constants.DefaultWSPingInterval // must stay below pongWait

	maxMessageSize = 4096
	sendBufferSize = 256
)

// Client is one subscriber connection. The hub writes into send; WritePump
// drains it.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	// subscriptions maps each subscribed type to its filter; nil matches all
	subscriptions map[SubscriptionType]*events.Filter
	closed        bool
	mu            sync.RWMutex

	logger *zap.Logger
}

// NewClient creates a new WebSocket client
func NewClient(hub *Hub, conn *websocket.Conn, logger *zap.Logger) *Client {
	return &Client{
		hub:           hub,
		conn:          conn,
		send:          make(chan []byte, sendBufferSize),
		subscriptions: make(map[SubscriptionType]*events.Filter),
		logger:        logger,
	}
}

// Matches reports whether event should be delivered to the client
func (c *Client) Matches(event events.Event) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	filter, ok := c.subscriptions[SubscriptionType(event.Type())]
	if !ok {
		return false
	}
	return filter == nil || filter.Match(event)
}

// Subscribe subscribes the client to an event type
func (c *Client) Subscribe(eventType SubscriptionType, filter *events.Filter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscriptions[eventType] = filter
}

// Unsubscribe unsubscribes the client from an event type
func (c *Client) Unsubscribe(eventType SubscriptionType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subscriptions, eventType)
}

// trySend queues data without blocking. It returns false when the queue
// is full or already closed.
func (c *Client) trySend(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// ReadPump reads control messages until the peer goes away, then
// unregisters the client
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}
		c.handleMessage(raw)
	}
}

// WritePump owns all writes to the connection. It exits when the send
// queue is closed or a write fails.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		var (
			kind = websocket.PingMessage
			data []byte
		)
		select {
		case msg, ok := <-c.send:
			if !ok {
				kind = websocket.CloseMessage
			} else {
				kind, data = websocket.TextMessage, msg
			}
		case <-ticker.C:
		}

		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(kind, data); err != nil || kind == websocket.CloseMessage {
			return
		}
	}
}

func (c *Client) handleMessage(raw []byte) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.logger.Debug("failed to unmarshal message", zap.Error(err))
		c.reply("error", ErrorMessage{Error: "invalid message format"})
		return
	}

	switch msg.Type {
	case "ping":
		c.reply("pong", nil)

	case "subscribe":
		var req SubscribeRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			c.reply("error", ErrorMessage{Error: "invalid subscribe request"})
			return
		}
		if !req.Type.valid() {
			c.reply("error", ErrorMessage{Error: "invalid subscription type"})
			return
		}
		var filter *events.Filter
		if len(req.Chains) > 0 || len(req.Addresses) > 0 {
			filter = &events.Filter{Chains: req.Chains, Addresses: req.Addresses}
			if err := filter.Validate(); err != nil {
				c.reply("error", ErrorMessage{Error: "invalid filter: " + err.Error()})
				return
			}
		}
		c.Subscribe(req.Type, filter)
		c.reply("success", SuccessMessage{Message: "subscribed to " + string(req.Type)})
		c.logger.Debug("client subscribed", zap.String("type", string(req.Type)))

	case "unsubscribe":
		var req UnsubscribeRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			c.reply("error", ErrorMessage{Error: "invalid unsubscribe request"})
			return
		}
		c.Unsubscribe(req.Type)
		c.reply("success", SuccessMessage{Message: "unsubscribed from " + string(req.Type)})

	default:
		c.reply("error", ErrorMessage{Error: "unknown message type: " + msg.Type})
	}
}

// reply queues a control message of the given type; payload may be nil
func (c *Client) reply(kind string, payload interface{}) {
	msg := Message{Type: kind}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			c.logger.Error("failed to marshal payload", zap.Error(err))
			return
		}
		msg.Payload = data
	}
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("failed to marshal message", zap.Error(err))
		return
	}
	if !c.trySend(data) {
		c.logger.Warn("client send buffer full, dropping message")
	}
}
