package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
)

// Message is one opaque frame exchanged over a session.
type Message []byte

// maxMessageSize bounds a single inbound frame.
const maxMessageSize = 1 << 20

// Session is a bidirectional link to one remote instance.
//
// Inbound frames are read by a single goroutine and handed to the OnMessage
// handler in the order received. Frames that arrive before a handler is
// registered wait for it, so none are lost between Connect and OnMessage.
type Session struct {
	localID  string
	remoteID string
	logger   *slog.Logger

	mu        sync.Mutex
	state     State
	conn      *websocket.Conn
	onMessage func(Message)
	onClose   func(error)
	closeErr  error

	handlerReady chan struct{}
	handlerOnce  sync.Once
	finishOnce   sync.Once
	closing      atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newSession(parent context.Context, localID, remoteID string, logger *slog.Logger) *Session {
	ctx, cancel := context.WithCancel(parent)
	return &Session{
		localID:      localID,
		remoteID:     remoteID,
		logger:       logger.With("local", localID, "remote", remoteID),
		state:        StateDisconnected,
		handlerReady: make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
}

// LocalID returns the id of this end of the session.
func (s *Session) LocalID() string {
	return s.localID
}

// RemoteID returns the id of the remote end, or "" when the remote did not
// identify itself.
func (s *Session) RemoteID() string {
	return s.remoteID
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed once the session reaches StateClosed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// OnMessage registers the handler for inbound frames. It replaces any
// previous handler; a nil fn is ignored.
func (s *Session) OnMessage(fn func(Message)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.onMessage = fn
	s.mu.Unlock()
	s.handlerOnce.Do(func() { close(s.handlerReady) })
}

// OnClose registers a callback invoked once when the session closes. The
// error is nil for an orderly close by either side. Registering on an
// already closed session invokes fn immediately.
func (s *Session) OnClose(fn func(error)) {
	s.mu.Lock()
	if s.state == StateClosed {
		err := s.closeErr
		s.mu.Unlock()
		if fn != nil {
			fn(err)
		}
		return
	}
	s.onClose = fn
	s.mu.Unlock()
}

// Send writes one message to the remote end. It returns ErrNotConnected
// unless the session is open.
func (s *Session) Send(ctx context.Context, msg Message) error {
	s.mu.Lock()
	state, conn := s.state, s.conn
	s.mu.Unlock()

	if state != StateOpen {
		return fmt.Errorf("%w: session is %s", ErrNotConnected, state)
	}

	if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
		if s.State() == StateClosed {
			return fmt.Errorf("%w: session closed during send", ErrNotConnected)
		}
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// Close releases the connection and moves the session to StateClosed.
// Closing a closed session is a no-op.
func (s *Session) Close() error {
	if s.State() == StateClosed || !s.closing.CompareAndSwap(false, true) {
		return nil
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		if err := conn.Close(websocket.StatusNormalClosure, ""); err != nil {
			s.logger.Debug("close handshake incomplete", "error", err)
		}
	}
	s.finish(nil)
	return nil
}

func (s *Session) setState(to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !CanTransition(s.state, to) {
		return fmt.Errorf("invalid session transition %s -> %s", s.state, to)
	}
	s.state = to
	return nil
}

// open attaches the established connection and starts the read loop.
func (s *Session) open(conn *websocket.Conn) error {
	conn.SetReadLimit(maxMessageSize)

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	if err := s.setState(StateOpen); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "")
		s.finish(err)
		return err
	}

	s.logger.Info("peer session open")
	go s.readLoop()
	return nil
}

func (s *Session) readLoop() {
	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			s.finish(s.readError(err))
			return
		}

		fn := s.waitHandler()
		if fn == nil {
			s.finish(nil)
			return
		}
		fn(Message(data))
	}
}

// waitHandler blocks until a message handler is registered or the session
// ends.
func (s *Session) waitHandler() func(Message) {
	select {
	case <-s.handlerReady:
	case <-s.ctx.Done():
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.onMessage
}

// readError maps a read failure to the error reported through OnClose.
func (s *Session) readError(err error) error {
	if s.closing.Load() {
		return nil
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return fmt.Errorf("peer link lost: %w", err)
}

func (s *Session) finish(err error) {
	s.finishOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		s.closeErr = err
		fn := s.onClose
		s.onClose = nil
		s.mu.Unlock()

		s.cancel()
		close(s.done)

		if err != nil {
			s.logger.Warn("peer session closed", "error", err)
		} else {
			s.logger.Info("peer session closed")
		}
		if fn != nil {
			fn(err)
		}
	})
}
