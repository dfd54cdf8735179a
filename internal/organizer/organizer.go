// Package organizer implements the user-facing operations: groups, members,
// events and linking to a peer. Every event written locally is handed to
// the sync layer after it reaches the store.
package organizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gatherapp/gather/internal/account"
	"github.com/gatherapp/gather/internal/models"
	"github.com/gatherapp/gather/internal/mutation"
	"github.com/gatherapp/gather/internal/peer"
	gsync "github.com/gatherapp/gather/internal/sync"
)

var (
	// ErrIncomplete is returned when a local event is missing a field.
	ErrIncomplete = errors.New("all event fields are required")

	// ErrGroupName is returned for an empty group name.
	ErrGroupName = errors.New("group name is required")
)

// Store is the local store the organizer reads and writes.
type Store interface {
	CreateGroupContext(ctx context.Context, name string) (*models.Group, error)
	GetGroupContext(ctx context.Context, id int64) (*models.Group, error)
	ListGroupsContext(ctx context.Context) ([]*models.Group, error)
	DeleteGroupContext(ctx context.Context, id int64) error
	AddMemberContext(ctx context.Context, groupID int64, userID string, role models.Role) error
	CreateEventContext(ctx context.Context, groupID int64, fields models.EventFields) (*models.Event, error)
	ListEventsContext(ctx context.Context, groupID int64) ([]*models.Event, error)
}

// Syncer is the part of the sync coordinator the organizer drives.
type Syncer interface {
	Publish(ctx context.Context, m mutation.Mutation) error
	Attach(s gsync.Session)
}

// Dialer opens peer sessions. *peer.Node implements it.
type Dialer interface {
	Connect(ctx context.Context, remoteID string) (*peer.Session, error)
}

// Observer receives outcomes of local actions. The notice feed implements it.
type Observer interface {
	GroupCreated(g *models.Group, owner string)
	EventAdded(e *models.Event)
	ConnectionError(remoteID string, err error)
}

// Service implements the organizer operations.
type Service struct {
	store    Store
	syncer   Syncer
	dialer   Dialer
	accounts account.Store
	observer Observer
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithSyncer publishes new events through s.
func WithSyncer(s Syncer) Option {
	return func(svc *Service) { svc.syncer = s }
}

// WithDialer enables Connect.
func WithDialer(d Dialer) Option {
	return func(svc *Service) { svc.dialer = d }
}

// WithAccounts records group membership on user accounts.
func WithAccounts(a account.Store) Option {
	return func(svc *Service) { svc.accounts = a }
}

// WithObserver reports local outcomes to o.
func WithObserver(o Observer) Option {
	return func(svc *Service) { svc.observer = o }
}

// WithClock overrides the time source used for date parsing.
func WithClock(now func() time.Time) Option {
	return func(svc *Service) { svc.now = now }
}

// New creates a service over store. If logger is nil, slog.Default() is
// used.
func New(store Store, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	svc := &Service{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// AddResult is the outcome of AddEvent. The event is stored whether or not
// it reached the peer.
type AddResult struct {
	Event *models.Event

	// Synced is true when the event was handed to an open peer session.
	Synced bool

	// SyncErr explains why the event was not synced. It is a notice, not
	// a failure of AddEvent.
	SyncErr error
}

// CreateGroup creates a group with owner as its admin.
func (s *Service) CreateGroup(ctx context.Context, owner, name string) (*models.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrGroupName
	}

	g, err := s.store.CreateGroupContext(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create group: %w", err)
	}

	if owner != "" {
		if err := s.AddMember(ctx, g.ID, owner, models.RoleAdmin); err != nil {
			return nil, err
		}
		g, err = s.store.GetGroupContext(ctx, g.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to reload group: %w", err)
		}
	}

	s.logger.Info("group created", "id", g.ID, "name", g.Name, "owner", owner)
	if s.observer != nil {
		s.observer.GroupCreated(g, owner)
	}
	return g, nil
}

// AddMember adds or updates a member. When the user has a local account,
// the group is recorded on it too.
func (s *Service) AddMember(ctx context.Context, groupID int64, userID string, role models.Role) error {
	if err := s.store.AddMemberContext(ctx, groupID, userID, role); err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}
	if s.accounts != nil {
		err := s.accounts.JoinGroup(userID, groupID)
		if err != nil && !errors.Is(err, account.ErrUnknownUser) {
			return fmt.Errorf("failed to record membership: %w", err)
		}
	}
	return nil
}

// AddEvent validates, normalizes the date, stores the event and then
// publishes it to the peer.
func (s *Service) AddEvent(ctx context.Context, groupID int64, fields models.EventFields) (*AddResult, error) {
	fields = trimFields(fields)
	if err := fields.Complete(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIncomplete, err)
	}

	date, err := ParseDate(fields.Date, s.now())
	if err != nil {
		return nil, err
	}
	fields.Date = date

	e, err := s.store.CreateEventContext(ctx, groupID, fields)
	if err != nil {
		return nil, fmt.Errorf("failed to add event: %w", err)
	}

	s.logger.Info("event added", "group", e.GroupID, "id", e.ID, "title", e.Title)
	if s.observer != nil {
		s.observer.EventAdded(e)
	}

	res := &AddResult{Event: e}
	if s.syncer == nil {
		res.SyncErr = gsync.ErrNotConnected
		return res, nil
	}
	if err := s.syncer.Publish(ctx, mutation.FromEvent(e)); err != nil {
		res.SyncErr = err
		return res, nil
	}
	res.Synced = true
	return res, nil
}

// Groups lists all groups with their members.
func (s *Service) Groups(ctx context.Context) ([]*models.Group, error) {
	return s.store.ListGroupsContext(ctx)
}

// Group returns one group.
func (s *Service) Group(ctx context.Context, id int64) (*models.Group, error) {
	return s.store.GetGroupContext(ctx, id)
}

// Events lists the events of a group.
func (s *Service) Events(ctx context.Context, groupID int64) ([]*models.Event, error) {
	return s.store.ListEventsContext(ctx, groupID)
}

// DeleteGroup removes a group with its members and events.
func (s *Service) DeleteGroup(ctx context.Context, id int64) error {
	if err := s.store.DeleteGroupContext(ctx, id); err != nil {
		return fmt.Errorf("failed to delete group: %w", err)
	}
	s.logger.Info("group deleted", "id", id)
	return nil
}

// Connect links to the peer registered under remoteID and makes it the
// active session. Failures are reported to the observer and returned.
func (s *Service) Connect(ctx context.Context, remoteID string) error {
	if s.dialer == nil || s.syncer == nil {
		return fmt.Errorf("%w: peer networking is not running", peer.ErrConnection)
	}

	sess, err := s.dialer.Connect(ctx, remoteID)
	if err != nil {
		s.logger.Warn("connect failed", "remote", remoteID, "error", err)
		if s.observer != nil {
			s.observer.ConnectionError(remoteID, err)
		}
		return err
	}

	s.syncer.Attach(sess)
	return nil
}

func trimFields(f models.EventFields) models.EventFields {
	return models.EventFields{
		Title:       strings.TrimSpace(f.Title),
		Date:        strings.TrimSpace(f.Date),
		Location:    strings.TrimSpace(f.Location),
		Description: strings.TrimSpace(f.Description),
	}
}
