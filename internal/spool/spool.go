// Package spool carries mutations between instances as JSONL files when no
// peer link is available.
//
// Each line of a spool file is one encoded mutation message, byte for byte
// what would have been sent over a peer session. Export writes a group's
// events as add mutations; Import applies a stream line by line through the
// same path inbound peer messages take.
package spool

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gatherapp/gather/internal/models"
	"github.com/gatherapp/gather/internal/mutation"
)

// maxLineSize matches the largest message a peer session accepts.
const maxLineSize = 1 << 20

// Lister provides the events Export writes.
type Lister interface {
	ListEventsContext(ctx context.Context, groupID int64) ([]*models.Event, error)
}

// Applier applies one inbound message. *sync.Coordinator implements it.
type Applier interface {
	HandleInbound(ctx context.Context, msg mutation.Message) (*models.Event, error)
}

// Result contains statistics about an import.
type Result struct {
	Applied  int
	Rejected int
	Errors   []string
}

// Clean reports whether every line was applied.
func (r *Result) Clean() bool {
	return r.Rejected == 0
}

// Export writes every event of groupID to w, one mutation per line.
// It returns the number of lines written.
func Export(ctx context.Context, w io.Writer, l Lister, groupID int64) (int, error) {
	events, err := l.ListEventsContext(ctx, groupID)
	if err != nil {
		return 0, fmt.Errorf("failed to list events: %w", err)
	}

	bw := bufio.NewWriter(w)
	written := 0
	for _, e := range events {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		msg, err := mutation.Encode(mutation.FromEvent(e))
		if err != nil {
			return written, fmt.Errorf("failed to encode event %d: %w", e.ID, err)
		}
		if _, err := bw.Write(msg); err != nil {
			return written, fmt.Errorf("failed to write event %d: %w", e.ID, err)
		}
		if err := bw.WriteByte('\n'); err != nil {
			return written, fmt.Errorf("failed to write event %d: %w", e.ID, err)
		}
		written++
	}
	if err := bw.Flush(); err != nil {
		return written, fmt.Errorf("failed to flush export: %w", err)
	}
	return written, nil
}

// ExportFile writes an export to path atomically. Writing straight into a
// watched inbox never exposes a partial file.
func ExportFile(ctx context.Context, path string, l Lister, groupID int64) (int, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	// Write to a temp name outside the watched extensions, then rename.
	tmp := path + ".tmp"
	f, err := os.Create(tmp) // #nosec G304 - path from CLI
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}

	n, err := Export(ctx, f, l, groupID)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to close temp file: %w", cerr)
	}
	if err != nil {
		_ = os.Remove(tmp)
		return 0, err
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("failed to rename temp file: %w", err)
	}
	return n, nil
}

// Import applies r line by line. Blank lines are ignored. Lines the applier
// rejects are counted and skipped; they never stop the import. The error
// return is reserved for read failures and cancellation.
func Import(ctx context.Context, r io.Reader, a Applier) (*Result, error) {
	result := &Result{}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		if err := ctx.Err(); err != nil {
			return result, err
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		// The scanner reuses its buffer.
		msg := make(mutation.Message, len(line))
		copy(msg, line)

		if _, err := a.HandleInbound(ctx, msg); err != nil {
			result.Rejected++
			result.Errors = append(result.Errors, fmt.Sprintf("line %d: %v", lineNum, err))
			continue
		}
		result.Applied++
	}
	if err := scanner.Err(); err != nil {
		return result, fmt.Errorf("failed to read line %d: %w", lineNum+1, err)
	}
	return result, nil
}

// ImportFile opens path and imports it.
func ImportFile(ctx context.Context, path string, a Applier) (*Result, error) {
	f, err := os.Open(path) // #nosec G304 - controlled path from CLI or inbox
	if err != nil {
		return nil, fmt.Errorf("failed to open spool file: %w", err)
	}
	defer f.Close()

	return Import(ctx, f, a)
}
