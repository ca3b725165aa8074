package websocket

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/0xmhha/staking-indexer/events"
	"github.com/0xmhha/staking-indexer/internal/constants"
)

const busSubscriptionID events.SubscriptionID = "websocket"

// Server handles WebSocket connections and relays event bus traffic to them
type Server struct {
	hub      *Hub
	bus      *events.EventBus
	upgrader websocket.Upgrader
	logger   *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a new WebSocket server. allowedOrigins restricts
// browser origins; empty or "*" allows any.
func NewServer(bus *events.EventBus, allowedOrigins []string, logger *zap.Logger) *Server {
	return &Server{
		hub:    NewHub(logger),
		bus:    bus,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  constants.DefaultWSReadBufferSize,
			WriteBufferSize: constants.DefaultWSWriteBufferSize,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return len(set) == 0 || origin == "" || set[origin]
	}
}

// Start subscribes to the event bus and begins relaying events
func (s *Server) Start(ctx context.Context) error {
	sub := s.bus.Subscribe(busSubscriptionID, []events.EventType{
		events.EventTypeCheckpoint,
		events.EventTypeStake,
		events.EventTypeClaim,
	}, nil, sendBufferSize)
	if sub == nil {
		return errors.New("event bus is not running")
	}

	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.hub.Run(ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.relay(ctx, sub)
	}()

	return nil
}

func (s *Server) relay(ctx context.Context, sub *events.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.Channel:
			if !ok {
				return
			}
			s.hub.Broadcast(event)
		}
	}
}

// ServeHTTP handles WebSocket upgrade requests
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("failed to upgrade connection", zap.Error(err))
		return
	}

	client := NewClient(s.hub, conn, s.logger)
	s.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()

	s.logger.Debug("new websocket connection",
		zap.String("remote_addr", r.RemoteAddr))
}

// Hub returns the underlying hub
func (s *Server) Hub() *Hub {
	return s.hub
}

// Stop detaches from the event bus and disconnects every client
func (s *Server) Stop() {
	if s.cancel == nil {
		return
	}
	s.bus.Unsubscribe(busSubscriptionID)
	s.cancel()
	s.wg.Wait()
}
