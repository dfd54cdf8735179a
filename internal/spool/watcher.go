package spool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	// ProcessedDir receives inbox files whose lines all applied.
	ProcessedDir = "processed"

	// RejectedDir receives inbox files with at least one rejected line or
	// that could not be read.
	RejectedDir = "rejected"
)

// ErrAlreadyRunning is returned by Start on a running watcher.
var ErrAlreadyRunning = errors.New("watcher already running")

// Config holds watcher settings.
type Config struct {
	// Inbox is the directory watched for *.json and *.jsonl files.
	Inbox string

	// Debounce is how long a file must stay quiet before it is applied.
	Debounce time.Duration

	Logger *slog.Logger
}

// DefaultConfig returns a config for inbox with default settings.
func DefaultConfig(inbox string) Config {
	return Config{
		Inbox:    inbox,
		Debounce: 200 * time.Millisecond,
	}
}

// FileResult reports what happened to one inbox file.
type FileResult struct {
	Path    string
	MovedTo string
	Result  *Result
	Err     error
}

// Watcher applies spool files dropped into an inbox directory.
type Watcher struct {
	config  Config
	applier Applier
	logger  *slog.Logger

	watcher *fsnotify.Watcher
	results chan FileResult

	queueMu sync.Mutex
	queue   map[string]time.Time

	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewWatcher creates a watcher. It does nothing until Start is called.
func NewWatcher(cfg Config, applier Applier) (*Watcher, error) {
	if cfg.Inbox == "" {
		return nil, fmt.Errorf("inbox directory is required")
	}
	if applier == nil {
		return nil, fmt.Errorf("applier is required")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultConfig(cfg.Inbox).Debounce
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Watcher{
		config:  cfg,
		applier: applier,
		logger:  logger.With("component", "spool"),
		results: make(chan FileResult, 32),
		queue:   make(map[string]time.Time),
	}, nil
}

// Results returns processed file reports. Reports are dropped when the
// channel is not drained.
func (w *Watcher) Results() <-chan FileResult {
	return w.results
}

// Start creates the inbox layout, queues files already present and begins
// watching for new ones.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return ErrAlreadyRunning
	}

	for _, dir := range []string{w.config.Inbox, w.dir(ProcessedDir), w.dir(RejectedDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := fw.Add(w.config.Inbox); err != nil {
		_ = fw.Close()
		return fmt.Errorf("failed to watch inbox %s: %w", w.config.Inbox, err)
	}

	w.watcher = fw
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.running = true

	if err := w.queueExisting(); err != nil {
		w.logger.Warn("failed to scan inbox", "error", err)
	}

	w.wg.Add(2)
	go w.watchFileEvents()
	go w.processQueue()

	w.logger.Info("watching inbox", "dir", w.config.Inbox, "debounce", w.config.Debounce)
	return nil
}

// Stop stops watching and waits for in-flight files to finish.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	w.cancel()
	err := w.watcher.Close()
	w.wg.Wait()

	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

func (w *Watcher) dir(name string) string {
	return filepath.Join(w.config.Inbox, name)
}

func (w *Watcher) queueExisting() error {
	entries, err := os.ReadDir(w.config.Inbox)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(w.config.Inbox, entry.Name())
		if isSpoolFile(path) {
			w.queueChange(path)
		}
	}
	return nil
}

// watchFileEvents monitors the inbox and queues spool files.
func (w *Watcher) watchFileEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !isSpoolFile(event.Name) {
				continue
			}
			w.logger.Debug("file event", "op", event.Op.String(), "path", event.Name)
			w.queueChange(event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

// queueChange records a file with debouncing. Every write pushes the file's
// deadline back.
func (w *Watcher) queueChange(path string) {
	w.queueMu.Lock()
	defer w.queueMu.Unlock()

	w.queue[path] = time.Now()
}

func (w *Watcher) processQueue() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.Debounce)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.processPending()
		}
	}
}

// processPending applies files that have been quiet for long enough, oldest
// first.
func (w *Watcher) processPending() {
	w.queueMu.Lock()
	now := time.Now()
	var ready []string
	for path, queuedAt := range w.queue {
		if now.Sub(queuedAt) < w.config.Debounce {
			continue
		}
		ready = append(ready, path)
		delete(w.queue, path)
	}
	w.queueMu.Unlock()

	sort.Strings(ready)
	for _, path := range ready {
		if w.ctx.Err() != nil {
			return
		}
		w.processFile(path)
	}
}

func (w *Watcher) processFile(path string) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return
	}

	res, err := ImportFile(w.ctx, path, w.applier)
	if errors.Is(err, context.Canceled) {
		return
	}

	dest := ProcessedDir
	if err != nil || !res.Clean() {
		dest = RejectedDir
	}

	moved, moveErr := w.move(path, dest)
	if moveErr != nil {
		w.logger.Error("failed to move spool file", "path", path, "error", moveErr)
		if err == nil {
			err = moveErr
		}
	}

	if err != nil {
		w.logger.Warn("spool file failed", "path", path, "error", err)
	} else {
		w.logger.Info("spool file applied", "path", path, "applied", res.Applied, "rejected", res.Rejected)
	}

	select {
	case w.results <- FileResult{Path: path, MovedTo: moved, Result: res, Err: err}:
	default:
	}
}

// move renames path into the named subdirectory. An existing file of the
// same name gets a timestamp suffix instead of being overwritten.
func (w *Watcher) move(path, subdir string) (string, error) {
	dest := filepath.Join(w.dir(subdir), filepath.Base(path))
	if _, err := os.Stat(dest); err == nil {
		ext := filepath.Ext(dest)
		dest = fmt.Sprintf("%s.%d%s", strings.TrimSuffix(dest, ext), time.Now().UnixNano(), ext)
	}
	if err := os.Rename(path, dest); err != nil {
		return "", err
	}
	return dest, nil
}

func isSpoolFile(path string) bool {
	switch filepath.Ext(path) {
	case ".json", ".jsonl":
		return true
	default:
		return false
	}
}
