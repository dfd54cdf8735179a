package organizer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/gatherapp/gather/internal/account"
	"github.com/gatherapp/gather/internal/models"
	"github.com/gatherapp/gather/internal/mutation"
	"github.com/gatherapp/gather/internal/peer"
	"github.com/gatherapp/gather/internal/store/db"
	gsync "github.com/gatherapp/gather/internal/sync"
)

var (
	_ Store    = (*db.DB)(nil)
	_ Syncer   = (*gsync.Coordinator)(nil)
	_ Dialer   = (*peer.Node)(nil)
	_ Observer = (*recordingObserver)(nil)
)

var fixedNow = time.Date(2024, 4, 24, 9, 0, 0, 0, time.UTC) // a Wednesday

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openStore(t *testing.T) *db.DB {
	t.Helper()
	store, err := db.Open(filepath.Join(t.TempDir(), "gather.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return store
}

type fakeSyncer struct {
	published []mutation.Mutation
	err       error
	attached  []gsync.Session
}

func (f *fakeSyncer) Publish(ctx context.Context, m mutation.Mutation) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, m)
	return nil
}

func (f *fakeSyncer) Attach(s gsync.Session) {
	f.attached = append(f.attached, s)
}

type fakeDialer struct {
	err error
}

func (d *fakeDialer) Connect(ctx context.Context, remoteID string) (*peer.Session, error) {
	return nil, d.err
}

type recordingObserver struct {
	groups   []*models.Group
	events   []*models.Event
	connErrs []error
}

func (o *recordingObserver) GroupCreated(g *models.Group, owner string) {
	o.groups = append(o.groups, g)
}

func (o *recordingObserver) EventAdded(e *models.Event) {
	o.events = append(o.events, e)
}

func (o *recordingObserver) ConnectionError(_ string, err error) {
	o.connErrs = append(o.connErrs, err)
}

func meetupFields() models.EventFields {
	return models.EventFields{
		Title:       "Trailhead Meetup",
		Date:        "2024-05-01",
		Location:    "Park Gate",
		Description: "Bring water",
	}
}

func TestHikingClubScenario(t *testing.T) {
	store := openStore(t)
	syncer := &fakeSyncer{}
	obs := &recordingObserver{}
	svc := New(store, testLogger(), WithSyncer(syncer), WithObserver(obs), WithClock(func() time.Time { return fixedNow }))
	ctx := context.Background()

	g, err := svc.CreateGroup(ctx, "alice", "Hiking Club")
	if err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}
	if g.ID != 1 {
		t.Errorf("group id = %d, want 1", g.ID)
	}
	if len(g.Members) != 1 || g.Members[0].UserID != "alice" || g.Members[0].Role != models.RoleAdmin {
		t.Errorf("members = %+v, want alice as admin", g.Members)
	}

	res, err := svc.AddEvent(ctx, g.ID, meetupFields())
	if err != nil {
		t.Fatalf("AddEvent failed: %v", err)
	}
	if !res.Synced || res.SyncErr != nil {
		t.Errorf("expected synced result, got %+v", res)
	}

	events, err := svc.Events(ctx, g.ID)
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}
	if len(events) != 1 || events[0].Title != "Trailhead Meetup" || events[0].GroupID != 1 {
		t.Errorf("events = %+v", events)
	}

	if len(syncer.published) != 1 {
		t.Fatalf("published %d mutations, want 1", len(syncer.published))
	}
	want := mutation.NewAdd(1, meetupFields())
	if syncer.published[0] != want {
		t.Errorf("published %+v, want %+v", syncer.published[0], want)
	}
	if len(obs.groups) != 1 || len(obs.events) != 1 {
		t.Errorf("observer saw %d groups and %d events", len(obs.groups), len(obs.events))
	}
}

func TestAddEventWhileDisconnected(t *testing.T) {
	store := openStore(t)
	syncer := &fakeSyncer{err: gsync.ErrNotConnected}
	svc := New(store, testLogger(), WithSyncer(syncer))
	ctx := context.Background()

	g, err := svc.CreateGroup(ctx, "", "Hiking Club")
	if err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}
	res, err := svc.AddEvent(ctx, g.ID, meetupFields())
	if err != nil {
		t.Fatalf("AddEvent failed: %v", err)
	}
	if res.Synced || !errors.Is(res.SyncErr, gsync.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected notice, got %+v", res)
	}
	if res.Event == nil || res.Event.ID == 0 {
		t.Error("event was not stored")
	}
}

func TestAddEventWithoutSyncer(t *testing.T) {
	store := openStore(t)
	svc := New(store, testLogger())
	ctx := context.Background()

	g, _ := svc.CreateGroup(ctx, "", "Book Club")
	res, err := svc.AddEvent(ctx, g.ID, meetupFields())
	if err != nil {
		t.Fatalf("AddEvent failed: %v", err)
	}
	if !errors.Is(res.SyncErr, gsync.ErrNotConnected) {
		t.Errorf("SyncErr = %v, want ErrNotConnected", res.SyncErr)
	}
}

func TestAddEventValidation(t *testing.T) {
	store := openStore(t)
	syncer := &fakeSyncer{}
	svc := New(store, testLogger(), WithSyncer(syncer), WithClock(func() time.Time { return fixedNow }))
	ctx := context.Background()
	g, _ := svc.CreateGroup(ctx, "", "Hiking Club")

	tests := []struct {
		name    string
		groupID int64
		mutate  func(*models.EventFields)
		want    error
	}{
		{"missing title", g.ID, func(f *models.EventFields) { f.Title = "" }, ErrIncomplete},
		{"blank location", g.ID, func(f *models.EventFields) { f.Location = "   " }, ErrIncomplete},
		{"missing description", g.ID, func(f *models.EventFields) { f.Description = "" }, ErrIncomplete},
		{"unknown group", 99, func(*models.EventFields) {}, db.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := meetupFields()
			tt.mutate(&f)
			if _, err := svc.AddEvent(ctx, tt.groupID, f); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}

	f := meetupFields()
	f.Date = "2024-02-30"
	if _, err := svc.AddEvent(ctx, g.ID, f); err == nil {
		t.Error("expected error for impossible date")
	}

	if len(syncer.published) != 0 {
		t.Errorf("rejected events were published: %+v", syncer.published)
	}
	if n, _ := store.GetEventCount(); n != 0 {
		t.Errorf("store has %d events, want 0", n)
	}
}

func TestAddEventNormalizesDate(t *testing.T) {
	store := openStore(t)
	svc := New(store, testLogger(), WithClock(func() time.Time { return fixedNow }))
	ctx := context.Background()
	g, _ := svc.CreateGroup(ctx, "", "Hiking Club")

	f := meetupFields()
	f.Date = "tomorrow"
	res, err := svc.AddEvent(ctx, g.ID, f)
	if err != nil {
		t.Fatalf("AddEvent failed: %v", err)
	}
	if res.Event.Date != "2024-04-25" {
		t.Errorf("date = %q, want 2024-04-25", res.Event.Date)
	}
}

func TestCreateGroupValidation(t *testing.T) {
	svc := New(openStore(t), testLogger())
	if _, err := svc.CreateGroup(context.Background(), "alice", "  "); !errors.Is(err, ErrGroupName) {
		t.Errorf("expected ErrGroupName, got %v", err)
	}
}

func TestMembershipRecordedOnAccount(t *testing.T) {
	store := openStore(t)
	accounts := account.NewFileStore(filepath.Join(t.TempDir(), "accounts.yaml"))
	if _, err := accounts.Signup("alice", "pw"); err != nil {
		t.Fatalf("Signup failed: %v", err)
	}
	svc := New(store, testLogger(), WithAccounts(accounts))
	ctx := context.Background()

	g, err := svc.CreateGroup(ctx, "alice", "Hiking Club")
	if err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}
	// Members without a local account are allowed.
	if err := svc.AddMember(ctx, g.ID, "bob", models.RoleMember); err != nil {
		t.Fatalf("AddMember failed: %v", err)
	}

	user, err := accounts.Login("alice", "pw")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if len(user.Groups) != 1 || user.Groups[0] != g.ID {
		t.Errorf("groups = %v, want [%d]", user.Groups, g.ID)
	}

	got, err := svc.Group(ctx, g.ID)
	if err != nil {
		t.Fatalf("Group failed: %v", err)
	}
	if names := got.MemberNames(); len(names) != 2 {
		t.Errorf("members = %v, want 2", names)
	}
}

func TestConnectFailureReported(t *testing.T) {
	obs := &recordingObserver{}
	syncer := &fakeSyncer{}
	dialErr := errors.New("peer connection failed: unknown id")
	svc := New(openStore(t), testLogger(), WithSyncer(syncer), WithDialer(&fakeDialer{err: dialErr}), WithObserver(obs))

	if err := svc.Connect(context.Background(), "B1"); !errors.Is(err, dialErr) {
		t.Errorf("expected dial error, got %v", err)
	}
	if len(obs.connErrs) != 1 {
		t.Errorf("observer saw %d connection errors, want 1", len(obs.connErrs))
	}
	if len(syncer.attached) != 0 {
		t.Error("failed connect attached a session")
	}
}

func TestConnectWithoutNetworking(t *testing.T) {
	svc := New(openStore(t), testLogger())
	if err := svc.Connect(context.Background(), "B1"); !errors.Is(err, peer.ErrConnection) {
		t.Errorf("expected ErrConnection, got %v", err)
	}
}

func TestDeleteGroup(t *testing.T) {
	svc := New(openStore(t), testLogger())
	ctx := context.Background()
	g, _ := svc.CreateGroup(ctx, "alice", "Hiking Club")
	if _, err := svc.AddEvent(ctx, g.ID, meetupFields()); err != nil {
		t.Fatalf("AddEvent failed: %v", err)
	}
	if err := svc.DeleteGroup(ctx, g.ID); err != nil {
		t.Fatalf("DeleteGroup failed: %v", err)
	}
	if _, err := svc.Events(ctx, g.ID); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := svc.DeleteGroup(ctx, g.ID); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("expected ErrNotFound for second delete, got %v", err)
	}
}
