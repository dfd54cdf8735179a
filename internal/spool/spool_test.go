package spool

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gatherapp/gather/internal/models"
	"github.com/gatherapp/gather/internal/mutation"
	"github.com/gatherapp/gather/internal/store/db"
	gsync "github.com/gatherapp/gather/internal/sync"
)

var _ Applier = (*gsync.Coordinator)(nil)
var _ Lister = (*db.DB)(nil)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// openStore opens a store holding one group named "Hiking Club" (id 1).
func openStore(t *testing.T) *db.DB {
	t.Helper()
	store, err := db.Open(filepath.Join(t.TempDir(), "spool.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	if _, err := store.CreateGroup("Hiking Club"); err != nil {
		t.Fatalf("CreateGroup() failed: %v", err)
	}
	return store
}

func newCoordinator(store *db.DB) *gsync.Coordinator {
	return gsync.New(store, testLogger())
}

func fields(title string) models.EventFields {
	return models.EventFields{
		Title:       title,
		Date:        "2024-05-01",
		Location:    "Park Gate",
		Description: "Bring water",
	}
}

func encodeLine(t *testing.T, title string) string {
	t.Helper()
	msg, err := mutation.Encode(mutation.NewAdd(1, fields(title)))
	if err != nil {
		t.Fatalf("Encode() failed: %v", err)
	}
	return string(msg)
}

func titles(t *testing.T, store *db.DB) []string {
	t.Helper()
	events, err := store.ListEvents(1)
	if err != nil {
		t.Fatalf("ListEvents() failed: %v", err)
	}
	var out []string
	for _, e := range events {
		out = append(out, e.Title)
	}
	return out
}

func TestExportImport_RoundTrip(t *testing.T) {
	ctx := context.Background()
	src := openStore(t)
	for _, title := range []string{"Trailhead Meetup", "Summit Push"} {
		if _, err := src.CreateEvent(1, fields(title)); err != nil {
			t.Fatalf("CreateEvent() failed: %v", err)
		}
	}

	var buf bytes.Buffer
	n, err := Export(ctx, &buf, src, 1)
	if err != nil {
		t.Fatalf("Export() failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("Export() wrote %d lines, want 2", n)
	}
	if lines := strings.Count(buf.String(), "\n"); lines != 2 {
		t.Errorf("expected 2 newline-terminated lines, got %d", lines)
	}

	dst := openStore(t)
	res, err := Import(ctx, &buf, newCoordinator(dst))
	if err != nil {
		t.Fatalf("Import() failed: %v", err)
	}
	if res.Applied != 2 || !res.Clean() {
		t.Fatalf("Import() = %+v, want 2 applied", res)
	}

	got := titles(t, dst)
	if len(got) != 2 || got[0] != "Trailhead Meetup" || got[1] != "Summit Push" {
		t.Errorf("imported titles = %v", got)
	}
}

func TestExport_UnknownGroup(t *testing.T) {
	store := openStore(t)

	var buf bytes.Buffer
	if _, err := Export(context.Background(), &buf, store, 99); err == nil {
		t.Fatal("expected error for unknown group")
	}
	if buf.Len() != 0 {
		t.Errorf("expected nothing written, got %q", buf.String())
	}
}

func TestImport_SkipsBadLines(t *testing.T) {
	store := openStore(t)

	input := strings.Join([]string{
		encodeLine(t, "Trailhead Meetup"),
		"",
		`{"action":"add","payload":{"groupId":1}}`,
		"not json",
		`{"action":"add","payload":{"groupId":42,"title":"Lost"}}`,
		encodeLine(t, "Summit Push"),
	}, "\n")

	res, err := Import(context.Background(), strings.NewReader(input), newCoordinator(store))
	if err != nil {
		t.Fatalf("Import() failed: %v", err)
	}
	if res.Applied != 2 {
		t.Errorf("Applied = %d, want 2", res.Applied)
	}
	if res.Rejected != 3 {
		t.Errorf("Rejected = %d, want 3", res.Rejected)
	}
	if len(res.Errors) != 3 || !strings.HasPrefix(res.Errors[0], "line 3:") {
		t.Errorf("Errors = %v", res.Errors)
	}
	if res.Clean() {
		t.Error("Clean() = true with rejected lines")
	}

	if got := titles(t, store); len(got) != 2 {
		t.Errorf("expected 2 events stored, got %v", got)
	}
}

func TestImport_Cancelled(t *testing.T) {
	store := openStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := Import(ctx, strings.NewReader(encodeLine(t, "Trailhead Meetup")), newCoordinator(store))
	if err != context.Canceled {
		t.Fatalf("Import() error = %v, want context.Canceled", err)
	}
	if res.Applied != 0 {
		t.Errorf("expected nothing applied, got %d", res.Applied)
	}
}

func TestExportFile_Atomic(t *testing.T) {
	store := openStore(t)
	if _, err := store.CreateEvent(1, fields("Trailhead Meetup")); err != nil {
		t.Fatalf("CreateEvent() failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "out", "hiking.jsonl")
	n, err := ExportFile(context.Background(), path, store, 1)
	if err != nil {
		t.Fatalf("ExportFile() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("ExportFile() wrote %d lines, want 1", n)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file left behind: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() failed: %v", err)
	}
	if string(data) != encodeLine(t, "Trailhead Meetup")+"\n" {
		t.Errorf("file contents = %q", data)
	}
}

func startWatcher(t *testing.T, inbox string, store *db.DB) *Watcher {
	t.Helper()
	cfg := DefaultConfig(inbox)
	cfg.Debounce = 20 * time.Millisecond
	cfg.Logger = testLogger()

	w, err := NewWatcher(cfg, newCoordinator(store))
	if err != nil {
		t.Fatalf("NewWatcher() failed: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	t.Cleanup(func() { _ = w.Stop() })
	return w
}

func waitResult(t *testing.T, w *Watcher) FileResult {
	t.Helper()
	select {
	case r := <-w.Results():
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for spool file to be processed")
		return FileResult{}
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
}

func TestWatcher_AppliesNewFile(t *testing.T) {
	inbox := filepath.Join(t.TempDir(), "inbox")
	store := openStore(t)
	w := startWatcher(t, inbox, store)

	writeFile(t, filepath.Join(inbox, "batch.jsonl"), encodeLine(t, "Trailhead Meetup")+"\n")

	r := waitResult(t, w)
	if r.Err != nil {
		t.Fatalf("unexpected error: %v", r.Err)
	}
	if r.Result.Applied != 1 {
		t.Errorf("Applied = %d, want 1", r.Result.Applied)
	}
	want := filepath.Join(inbox, ProcessedDir, "batch.jsonl")
	if r.MovedTo != want {
		t.Errorf("MovedTo = %q, want %q", r.MovedTo, want)
	}
	if _, err := os.Stat(want); err != nil {
		t.Errorf("processed file missing: %v", err)
	}
	if got := titles(t, store); len(got) != 1 || got[0] != "Trailhead Meetup" {
		t.Errorf("stored titles = %v", got)
	}
}

func TestWatcher_RejectsBadFile(t *testing.T) {
	inbox := filepath.Join(t.TempDir(), "inbox")
	store := openStore(t)
	w := startWatcher(t, inbox, store)

	writeFile(t, filepath.Join(inbox, "bad.json"), `{"action":"add","payload":{"groupId":1}}`)

	r := waitResult(t, w)
	if r.Result == nil || r.Result.Rejected != 1 {
		t.Fatalf("Result = %+v, want 1 rejected", r.Result)
	}
	if filepath.Dir(r.MovedTo) != filepath.Join(inbox, RejectedDir) {
		t.Errorf("MovedTo = %q, want rejected dir", r.MovedTo)
	}
	if got := titles(t, store); len(got) != 0 {
		t.Errorf("expected store unchanged, got %v", got)
	}
}

func TestWatcher_PicksUpExistingFiles(t *testing.T) {
	inbox := filepath.Join(t.TempDir(), "inbox")
	if err := os.MkdirAll(inbox, 0o755); err != nil {
		t.Fatalf("MkdirAll() failed: %v", err)
	}
	writeFile(t, filepath.Join(inbox, "early.json"), encodeLine(t, "Trailhead Meetup"))
	writeFile(t, filepath.Join(inbox, "notes.txt"), "ignored")

	store := openStore(t)
	w := startWatcher(t, inbox, store)

	r := waitResult(t, w)
	if r.Err != nil || r.Result.Applied != 1 {
		t.Fatalf("result = %+v", r)
	}
	if _, err := os.Stat(filepath.Join(inbox, "notes.txt")); err != nil {
		t.Errorf("non-spool file should be left alone: %v", err)
	}
}

func TestWatcher_StartTwice(t *testing.T) {
	store := openStore(t)
	w := startWatcher(t, filepath.Join(t.TempDir(), "inbox"), store)

	if err := w.Start(context.Background()); err != ErrAlreadyRunning {
		t.Errorf("second Start() error = %v, want ErrAlreadyRunning", err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("Stop() failed: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("second Stop() failed: %v", err)
	}
}

func TestNewWatcher_Validation(t *testing.T) {
	store := openStore(t)
	if _, err := NewWatcher(Config{}, newCoordinator(store)); err == nil {
		t.Error("expected error for empty inbox")
	}
	if _, err := NewWatcher(DefaultConfig("inbox"), nil); err == nil {
		t.Error("expected error for nil applier")
	}
}
