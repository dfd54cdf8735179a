package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	stdsync "sync"

	"github.com/gatherapp/gather/internal/models"
	"github.com/gatherapp/gather/internal/mutation"
	"github.com/gatherapp/gather/internal/peer"
)

// defaultErrorBuffer is the capacity of the Errors channel.
const defaultErrorBuffer = 32

// Coordinator connects the local store to the active peer session.
type Coordinator struct {
	store     Store
	logger    *slog.Logger
	notifiers []Notifier
	errs      chan error

	mu     stdsync.Mutex
	active Session

	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithNotifier adds an observer of sync outcomes.
func WithNotifier(n Notifier) Option {
	return func(c *Coordinator) {
		if n != nil {
			c.notifiers = append(c.notifiers, n)
		}
	}
}

// WithErrorBuffer sets the capacity of the Errors channel.
func WithErrorBuffer(size int) Option {
	return func(c *Coordinator) {
		if size > 0 {
			c.errs = make(chan error, size)
		}
	}
}

// New creates a coordinator writing inbound events to store.
//
// If logger is nil, slog.Default() is used.
//
// Example:
//
//	database, err := db.Open(path)
//	if err != nil {
//	    return err
//	}
//	coord := sync.New(database, logger, sync.WithNotifier(feed))
//	coord.Attach(session)
func New(store Store, logger *slog.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		store:  store,
		logger: logger,
		errs:   make(chan error, defaultErrorBuffer),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Errors returns the channel inbound failures and lost links are reported
// on. Reports are dropped when nobody drains it.
func (c *Coordinator) Errors() <-chan error {
	return c.errs
}

// Active returns the active session, or nil.
func (c *Coordinator) Active() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Connected reports whether the active session is open.
func (c *Coordinator) Connected() bool {
	s := c.Active()
	return s != nil && s.State() == peer.StateOpen
}

// Attach makes s the active session, closing any previous one, and routes
// its inbound messages to HandleInbound.
func (c *Coordinator) Attach(s Session) {
	if s == nil {
		return
	}

	c.mu.Lock()
	prev := c.active
	c.active = s
	c.mu.Unlock()

	if prev != nil && prev != s {
		c.logger.Info("replacing active peer session", "previous", prev.RemoteID(), "remote", s.RemoteID())
		_ = prev.Close()
	}

	c.logger.Info("peer session attached", "remote", s.RemoteID())
	c.each(func(n Notifier) { n.PeerConnected(s.RemoteID()) })

	s.OnMessage(func(msg peer.Message) {
		_, _ = c.HandleInbound(c.ctx, mutation.Message(msg))
	})
	s.OnClose(func(err error) {
		c.mu.Lock()
		if c.active == s {
			c.active = nil
		}
		c.mu.Unlock()

		if err != nil {
			c.logger.Warn("peer session lost", "remote", s.RemoteID(), "error", err)
			c.report(err)
		}
		c.each(func(n Notifier) { n.PeerDisconnected(s.RemoteID(), err) })
	})
}

// Detach closes and forgets the active session.
func (c *Coordinator) Detach() {
	c.mu.Lock()
	s := c.active
	c.active = nil
	c.mu.Unlock()

	if s != nil {
		_ = s.Close()
	}
}

// Close detaches the active session and stops inbound processing.
func (c *Coordinator) Close() {
	c.Detach()
	c.cancel()
}

// Publish sends m to the active peer. With no open session the mutation is
// dropped and ErrNotConnected is returned; there is no retry.
func (c *Coordinator) Publish(ctx context.Context, m mutation.Mutation) error {
	msg, err := mutation.Encode(m)
	if err != nil {
		return fmt.Errorf("failed to encode mutation: %w", err)
	}

	s := c.Active()
	if s == nil || s.State() != peer.StateOpen {
		c.drop(m, ErrNotConnected)
		return ErrNotConnected
	}

	if err := s.Send(ctx, peer.Message(msg)); err != nil {
		c.drop(m, err)
		if errors.Is(err, ErrNotConnected) {
			return err
		}
		return fmt.Errorf("failed to publish mutation: %w", err)
	}

	c.logger.Debug("mutation published", "action", m.Action, "group", m.Payload.GroupID, "title", m.Payload.Title)
	c.each(func(n Notifier) { n.MutationPublished(m) })
	return nil
}

// HandleInbound decodes msg and applies it to the store.
//
// Malformed messages are discarded without touching the store and the
// error, wrapping mutation.ErrDecode, is returned and reported on Errors.
// Store failures (for example an unknown group) are handled the same way.
// Applying the same message twice creates two events.
func (c *Coordinator) HandleInbound(ctx context.Context, msg mutation.Message) (*models.Event, error) {
	m, err := mutation.Decode(msg)
	if err != nil {
		c.reject(msg, err)
		return nil, err
	}

	switch m.Action {
	case mutation.ActionAdd:
		e, err := c.store.CreateEventContext(ctx, m.Payload.GroupID, m.Fields())
		if err != nil {
			err = fmt.Errorf("failed to apply mutation: %w", err)
			c.reject(msg, err)
			return nil, err
		}
		c.logger.Info("applied remote event", "group", e.GroupID, "id", e.ID, "title", e.Title)
		c.each(func(n Notifier) { n.EventApplied(e) })
		return e, nil
	default:
		err := fmt.Errorf("%w: unhandled action %q", mutation.ErrDecode, m.Action)
		c.reject(msg, err)
		return nil, err
	}
}

func (c *Coordinator) drop(m mutation.Mutation, err error) {
	c.logger.Warn("mutation dropped", "group", m.Payload.GroupID, "title", m.Payload.Title, "error", err)
	c.each(func(n Notifier) { n.MutationDropped(m, err) })
}

func (c *Coordinator) reject(msg mutation.Message, err error) {
	c.logger.Warn("inbound message discarded", "error", err)
	c.each(func(n Notifier) { n.InboundRejected(msg, err) })
	c.report(err)
}

// report delivers err to Errors without blocking.
func (c *Coordinator) report(err error) {
	select {
	case c.errs <- err:
	default:
		c.logger.Debug("error channel full, dropping report", "error", err)
	}
}

func (c *Coordinator) each(fn func(Notifier)) {
	for _, n := range c.notifiers {
		fn(n)
	}
}
