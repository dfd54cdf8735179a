package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/gatherapp/gather/internal/metrics"
	"github.com/gatherapp/gather/internal/models"
	"github.com/gatherapp/gather/internal/mutation"
	gsync "github.com/gatherapp/gather/internal/sync"
)

var _ gsync.Notifier = (*Handler)(nil)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startServer(t *testing.T, cfg *Config) *Server {
	t.Helper()
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.Addr = "127.0.0.1:0"
	cfg.Logger = testLogger()

	server := NewServer(cfg)
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { _ = server.Stop() })
	return server
}

// dial connects a websocket client and consumes the hello notice.
func dial(t *testing.T, ctx context.Context, server *Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, "ws://"+server.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })

	n := readNotice(t, ctx, conn)
	if n.Type != NoticeTypeHello {
		t.Fatalf("Expected hello notice, got %s", n.Type)
	}
	return conn
}

func readNotice(t *testing.T, ctx context.Context, conn *websocket.Conn) Notice {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read notice: %v", err)
	}
	var n Notice
	if err := json.Unmarshal(data, &n); err != nil {
		t.Fatalf("Failed to unmarshal notice: %v", err)
	}
	return n
}

func TestServerStartStop(t *testing.T) {
	server := NewServer(&Config{Addr: "127.0.0.1:0", Logger: testLogger()})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	if server.Addr() == "" {
		t.Fatal("Server address is empty")
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
}

func TestBroadcastToClients(t *testing.T) {
	server := startServer(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conns := []*websocket.Conn{dial(t, ctx, server), dial(t, ctx, server)}
	if count := server.ClientCount(); count != 2 {
		t.Errorf("Expected 2 clients, got %d", count)
	}

	h := NewHandler(server, testLogger())
	h.GroupCreated(&models.Group{ID: 1, Name: "Hiking Club"}, "alice")

	for i, conn := range conns {
		n := readNotice(t, ctx, conn)
		if n.Type != NoticeTypeGroupCreated {
			t.Fatalf("client %d: expected %s, got %s", i, NoticeTypeGroupCreated, n.Type)
		}
		var d GroupData
		if err := json.Unmarshal(n.Data, &d); err != nil {
			t.Fatalf("Failed to unmarshal group data: %v", err)
		}
		if d.GroupID != 1 || d.Name != "Hiking Club" || d.Owner != "alice" {
			t.Errorf("client %d: unexpected data %+v", i, d)
		}
	}
}

func TestHandlerNotices(t *testing.T) {
	server := startServer(t, nil)
	h := NewHandler(server, testLogger())
	notices, cancel := server.Subscribe(16)
	defer cancel()

	event := &models.Event{ID: 3, GroupID: 1, EventFields: models.EventFields{Title: "Trailhead Meetup"}}
	drop := mutation.NewAdd(1, models.EventFields{Title: "Offline"})

	tests := []struct {
		name string
		fire func()
		want []NoticeType
		text string
	}{
		{"local event", func() { h.EventAdded(event) }, []NoticeType{NoticeTypeEventAdded}, "event added: Trailhead Meetup"},
		{"remote event", func() { h.EventApplied(event) }, []NoticeType{NoticeTypeEventAdded}, "event received from peer"},
		{"peer connected", func() { h.PeerConnected("B") }, []NoticeType{NoticeTypePeerConnected}, "peer connected: B"},
		{"orderly disconnect", func() { h.PeerDisconnected("B", nil) }, []NoticeType{NoticeTypePeerDisconnected}, "peer disconnected"},
		{"lost link", func() { h.PeerDisconnected("B", errors.New("reset")) },
			[]NoticeType{NoticeTypeConnectionError, NoticeTypePeerDisconnected}, "connection error: reset"},
		{"connect failed", func() { h.ConnectionError("X", errors.New("unknown peer")) },
			[]NoticeType{NoticeTypeConnectionError}, "unknown peer"},
		{"dropped", func() { h.MutationDropped(drop, gsync.ErrNotConnected) },
			[]NoticeType{NoticeTypeMutationDropped}, "not synced"},
		{"rejected", func() { h.InboundRejected(nil, fmt.Errorf("%w: title is required", mutation.ErrDecode)) },
			[]NoticeType{NoticeTypeInboundRejected}, "(" + metrics.ReasonDecode + ")"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fire()
			for i, want := range tt.want {
				select {
				case n := <-notices:
					if n.Type != want {
						t.Fatalf("notice %d: got %s, want %s", i, n.Type, want)
					}
					if i == 0 && !strings.Contains(Describe(n), tt.text) {
						t.Errorf("Describe = %q, want it to contain %q", Describe(n), tt.text)
					}
				case <-time.After(5 * time.Second):
					t.Fatalf("timed out waiting for %s", want)
				}
			}
		})
	}
}

func TestSubscribeCancel(t *testing.T) {
	server := startServer(t, nil)
	ch, cancel := server.Subscribe(1)
	cancel()
	cancel()

	if _, ok := <-ch; ok {
		t.Error("expected closed channel after cancel")
	}
	// Broadcasting with no subscribers must not block.
	server.Broadcast(Notice{Type: NoticeTypeHello})
}

func TestHealthAndMetrics(t *testing.T) {
	m := metrics.New()
	m.MutationPublished(mutation.Mutation{})
	server := startServer(t, &Config{Metrics: m.Handler()})

	resp, err := http.Get("http://" + server.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	var health map[string]interface{}
	err = json.NewDecoder(resp.Body).Decode(&health)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("Failed to decode health: %v", err)
	}
	if health["status"] != "ok" {
		t.Errorf("Expected status ok, got %v", health["status"])
	}

	resp, err = http.Get("http://" + server.Addr() + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "gather_mutations_published_total 1") {
		t.Error("metrics endpoint missing published counter")
	}
}
