// Package peer provides direct links between two gather instances.
//
// A Node listens for inbound websocket connections, registers its dial URL
// with a rendezvous Resolver to obtain a globally unique id, and dials remote
// nodes by id. Each link is a Session carrying opaque messages in both
// directions.
package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	// PeerPath is the websocket endpoint of a listening node.
	PeerPath = "/peer"

	// HeaderPeerID carries the dialer's own id.
	HeaderPeerID = "X-Gather-Peer"

	// HeaderTargetID carries the id the dialer expects to reach. A node
	// rejects the handshake when it does not match its own id.
	HeaderTargetID = "X-Gather-Target"
)

// Resolver maps peer ids to dial URLs. The rendezvous client implements it.
type Resolver interface {
	Register(ctx context.Context, url string) (string, error)
	Resolve(ctx context.Context, id string) (string, error)
	Unregister(ctx context.Context, id string) error
}

// Config holds node configuration.
type Config struct {
	// ListenAddr is the TCP address for inbound sessions (default: 127.0.0.1:0).
	ListenAddr string

	// AdvertiseAddr is the host:port published to the resolver. Defaults to
	// the bound listener address.
	AdvertiseAddr string

	// DialTimeout bounds Connect (default: 10s).
	DialTimeout time.Duration

	// Logger for node activity (default: slog.Default()).
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:  "127.0.0.1:0",
		DialTimeout: 10 * time.Second,
	}
}

// Node owns the listener and every session it created.
type Node struct {
	cfg      Config
	resolver Resolver
	logger   *slog.Logger

	mu         sync.Mutex
	localID    string
	listener   net.Listener
	server     *http.Server
	inbound    *Session
	sessions   map[*Session]struct{}
	onIncoming func(*Session)
	closed     bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewNode creates a node. It does not listen until Listen is called.
func NewNode(cfg Config, resolver Resolver) (*Node, error) {
	if resolver == nil {
		return nil, fmt.Errorf("resolver is required")
	}
	if cfg.DialTimeout < 0 {
		return nil, fmt.Errorf("dial timeout must not be negative")
	}
	defaults := DefaultConfig()
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaults.ListenAddr
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaults.DialTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Node{
		cfg:      cfg,
		resolver: resolver,
		logger:   cfg.Logger,
		sessions: make(map[*Session]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// LocalID returns the id assigned by Listen, or "" before it.
func (n *Node) LocalID() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.localID
}

// Addr returns the bound listener address, or "" before Listen.
func (n *Node) Addr() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.listener == nil {
		return ""
	}
	return n.listener.Addr().String()
}

// OnIncoming registers the handler for accepted inbound sessions.
func (n *Node) OnIncoming(fn func(*Session)) {
	n.mu.Lock()
	n.onIncoming = fn
	n.mu.Unlock()
}

// Listen binds the inbound listener, registers it with the resolver and
// returns the id remote peers use to reach this node.
func (n *Node) Listen(ctx context.Context) (string, error) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return "", ErrNodeClosed
	}
	if n.listener != nil {
		n.mu.Unlock()
		return "", ErrAlreadyListening
	}

	ln, err := net.Listen("tcp", n.cfg.ListenAddr)
	if err != nil {
		n.mu.Unlock()
		return "", fmt.Errorf("failed to listen on %s: %w", n.cfg.ListenAddr, err)
	}
	n.listener = ln
	n.mu.Unlock()

	advertise := n.cfg.AdvertiseAddr
	if advertise == "" {
		advertise = ln.Addr().String()
	}
	url := "ws://" + advertise + PeerPath

	id, err := n.resolver.Register(ctx, url)
	if err != nil {
		_ = ln.Close()
		n.mu.Lock()
		n.listener = nil
		n.mu.Unlock()
		return "", fmt.Errorf("failed to register with rendezvous: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(PeerPath, n.handlePeer)
	mux.HandleFunc("/health", n.handleHealth)

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	n.mu.Lock()
	n.localID = id
	n.server = server
	n.mu.Unlock()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.logger.Info("peer node listening", "addr", ln.Addr().String(), "id", id)
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			n.logger.Error("peer node server error", "error", err)
		}
	}()

	return id, nil
}

// Connect opens a session to the node registered under remoteID.
func (n *Node) Connect(ctx context.Context, remoteID string) (*Session, error) {
	if remoteID == "" {
		return nil, fmt.Errorf("%w: remote id is required", ErrConnection)
	}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil, ErrNodeClosed
	}
	localID := n.localID
	n.mu.Unlock()

	s := newSession(n.ctx, localID, remoteID, n.logger)
	if err := s.setState(StateConnecting); err != nil {
		return nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, n.cfg.DialTimeout)
	defer cancel()

	url, err := n.resolver.Resolve(dialCtx, remoteID)
	if err != nil {
		s.finish(nil)
		return nil, fmt.Errorf("%w: failed to resolve %s: %v", ErrConnection, remoteID, err)
	}

	header := http.Header{}
	header.Set(HeaderTargetID, remoteID)
	if localID != "" {
		header.Set(HeaderPeerID, localID)
	}

	conn, _, err := websocket.Dial(dialCtx, url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		s.finish(nil)
		return nil, fmt.Errorf("%w: failed to dial %s: %v", ErrConnection, remoteID, err)
	}

	n.track(s)
	if err := s.open(conn); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	return s, nil
}

// Close unregisters from the resolver, closes every session and stops the
// listener.
func (n *Node) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	id := n.localID
	server := n.server
	sessions := make([]*Session, 0, len(n.sessions))
	for s := range n.sessions {
		sessions = append(sessions, s)
	}
	n.mu.Unlock()

	if id != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := n.resolver.Unregister(ctx, id); err != nil {
			n.logger.Warn("failed to unregister peer id", "id", id, "error", err)
		}
		cancel()
	}

	for _, s := range sessions {
		_ = s.Close()
	}
	n.cancel()

	var shutdownErr error
	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("peer node shutdown error: %w", err)
		}
	}

	n.wg.Wait()
	n.logger.Info("peer node stopped")
	return shutdownErr
}

// track records a session until it closes.
func (n *Node) track(s *Session) {
	n.mu.Lock()
	n.sessions[s] = struct{}{}
	n.mu.Unlock()

	go func() {
		<-s.Done()
		n.mu.Lock()
		delete(n.sessions, s)
		if n.inbound == s {
			n.inbound = nil
		}
		n.mu.Unlock()
	}()
}

// handlePeer accepts an inbound session. A newer inbound session replaces
// and closes the previous one.
func (n *Node) handlePeer(w http.ResponseWriter, r *http.Request) {
	n.mu.Lock()
	localID, closed := n.localID, n.closed
	n.mu.Unlock()

	if closed {
		http.Error(w, "node closed", http.StatusServiceUnavailable)
		return
	}
	if target := r.Header.Get(HeaderTargetID); target != "" && target != localID {
		http.Error(w, "unknown peer", http.StatusNotFound)
		return
	}

	remoteID := r.Header.Get(HeaderPeerID)
	s := newSession(n.ctx, localID, remoteID, n.logger)
	_ = s.setState(StateConnecting)

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		n.logger.Warn("peer handshake failed", "remote", remoteID, "error", err)
		s.finish(nil)
		return
	}

	n.track(s)
	if err := s.open(conn); err != nil {
		return
	}

	n.mu.Lock()
	prev := n.inbound
	n.inbound = s
	fn := n.onIncoming
	n.mu.Unlock()

	if prev != nil {
		n.logger.Info("replacing inbound peer session", "previous", prev.RemoteID())
		_ = prev.Close()
	}
	if fn != nil {
		fn(s)
	}
}

func (n *Node) handleHealth(w http.ResponseWriter, r *http.Request) {
	n.mu.Lock()
	id := n.localID
	inbound := n.inbound != nil
	n.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_, _ = fmt.Fprintf(w, `{"status":"ok","id":%q,"inbound":%t}`, id, inbound)
}
