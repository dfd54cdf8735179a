// Package notify pushes user-visible notices about groups, events and the
// peer link to WebSocket clients and in-process subscribers.
//
// Connection errors and sync outcomes never surface as failures of the
// operation that caused them; they are reported here instead.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// NoticeType defines the type of notice
type NoticeType string

const (
	// NoticeTypeHello is sent to each client on connect
	NoticeTypeHello NoticeType = "hello"

	// NoticeTypeGroupCreated indicates a group was created locally
	NoticeTypeGroupCreated NoticeType = "group_created"

	// NoticeTypeEventAdded indicates an event was stored, locally or from the peer
	NoticeTypeEventAdded NoticeType = "event_added"

	// NoticeTypePeerConnected indicates a peer session became active
	NoticeTypePeerConnected NoticeType = "peer_connected"

	// NoticeTypePeerDisconnected indicates the active peer session ended
	NoticeTypePeerDisconnected NoticeType = "peer_disconnected"

	// NoticeTypeConnectionError indicates a connect attempt or link failed
	NoticeTypeConnectionError NoticeType = "connection_error"

	// NoticeTypeInboundRejected indicates a message from the peer was discarded
	NoticeTypeInboundRejected NoticeType = "inbound_rejected"

	// NoticeTypeMutationDropped indicates a local change was not sent
	NoticeTypeMutationDropped NoticeType = "mutation_dropped"
)

// Notice is one broadcast message
type Notice struct {
	Type      NoticeType      `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Config holds server configuration
type Config struct {
	// Addr to listen on (default: 127.0.0.1:7401)
	Addr string

	// Metrics, when set, is served on /metrics
	Metrics http.Handler

	// Logger for server activity (default: slog.Default())
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Addr: "127.0.0.1:7401",
	}
}

// Server manages WebSocket clients and local subscribers
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server
	metrics  http.Handler

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	subs   map[chan Notice]struct{}
	subsMu sync.Mutex

	broadcast chan Notice

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *slog.Logger
}

// NewServer creates a notice server. The broadcast loop runs from creation,
// so local subscribers work without Start.
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	addr := config.Addr
	if addr == "" {
		addr = DefaultConfig().Addr
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		addr:      addr,
		metrics:   config.Metrics,
		clients:   make(map[*websocket.Conn]bool),
		subs:      make(map[chan Notice]struct{}),
		broadcast: make(chan Notice, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
	}

	s.wg.Add(1)
	go s.broadcastLoop()
	return s
}

// Start begins the HTTP server and WebSocket handler
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("notice feed listening", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("notice feed server error", "error", err)
		}
	}()

	return nil
}

// Stop shuts down the HTTP server, closes clients and ends the broadcast loop
func (s *Server) Stop() error {
	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	var shutdownErr error
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("server shutdown error: %w", err)
		}
	}

	s.wg.Wait()

	s.subsMu.Lock()
	for ch := range s.subs {
		close(ch)
		delete(s.subs, ch)
	}
	s.subsMu.Unlock()

	return shutdownErr
}

// Broadcast queues a notice for every client and subscriber
func (s *Server) Broadcast(n Notice) {
	select {
	case s.broadcast <- n:
	case <-s.ctx.Done():
		return
	default:
		s.logger.Warn("broadcast channel full, dropping notice", "type", n.Type)
	}
}

// Subscribe returns a channel receiving every notice and a function that
// cancels the subscription. Slow subscribers miss notices rather than
// stalling the feed.
func (s *Server) Subscribe(buffer int) (<-chan Notice, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Notice, buffer)

	s.subsMu.Lock()
	s.subs[ch] = struct{}{}
	s.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subsMu.Lock()
			if _, ok := s.subs[ch]; ok {
				delete(s.subs, ch)
				close(ch)
			}
			s.subsMu.Unlock()
		})
	}
}

// broadcastLoop fans notices out to clients and subscribers
func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case n := <-s.broadcast:
			if n.Timestamp.IsZero() {
				n.Timestamp = time.Now()
			}

			s.subsMu.Lock()
			for ch := range s.subs {
				select {
				case ch <- n:
				default:
				}
			}
			s.subsMu.Unlock()

			data, err := json.Marshal(n)
			if err != nil {
				s.logger.Error("failed to marshal notice", "error", err)
				continue
			}

			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()

				if err != nil {
					s.logger.Debug("failed to send to client", "error", err)
					s.removeClient(conn)
				}
			}
		}
	}
}

// handleWebSocket upgrades HTTP connections to WebSocket
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Debug("feed client connected", "clients", clientCount)

	// Registered before the hello, so a client that has read it is
	// guaranteed to receive later broadcasts.
	hello, _ := json.Marshal(Notice{Type: NoticeTypeHello, Timestamp: time.Now()})
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	err = conn.Write(ctx, websocket.MessageText, hello)
	cancel()
	if err != nil {
		s.removeClient(conn)
		return
	}

	go s.readLoop(conn)
}

// readLoop notices client disconnects; clients never send anything useful
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

// removeClient safely removes a client connection
func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; exists {
		delete(s.clients, conn)
		clientCount := len(s.clients)
		s.clientsMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Debug("feed client disconnected", "clients", clientCount)
	} else {
		s.clientsMu.Unlock()
	}
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

// Addr returns the server's listening address
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected clients
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
