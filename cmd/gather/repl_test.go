package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

var _ execIface = (*app)(nil)

type fakeExec struct {
	calls []string
	err   error
}

func (f *fakeExec) record(call string) error {
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeExec) ID() string     { return "A1" }
func (f *fakeExec) Status() string { return "no peer" }
func (f *fakeExec) Connect(ctx context.Context, remoteID string) error {
	return f.record("connect " + remoteID)
}
func (f *fakeExec) CreateGroup(ctx context.Context, name string) error {
	return f.record("group " + name)
}
func (f *fakeExec) Groups(ctx context.Context) error { return f.record("groups") }
func (f *fakeExec) AddEvent(ctx context.Context, groupID int64) error {
	return f.record(fmt.Sprintf("event %d", groupID))
}
func (f *fakeExec) Events(ctx context.Context, groupID int64) error {
	return f.record(fmt.Sprintf("events %d", groupID))
}

// captureOutput replaces printlnFn for the duration of the test.
func captureOutput(t *testing.T) *[]string {
	t.Helper()
	var out []string
	orig := printlnFn
	printlnFn = func(a ...any) (int, error) {
		out = append(out, fmt.Sprintln(a...))
		return 0, nil
	}
	t.Cleanup(func() { printlnFn = orig })
	return &out
}

func run(t *testing.T, exec execIface, lines ...string) {
	t.Helper()
	sc := bufio.NewScanner(strings.NewReader(strings.Join(lines, "\n")))
	runREPL(context.Background(), exec, sc)
}

func TestRunREPL_DispatchesCommands(t *testing.T) {
	captureOutput(t)
	exec := &fakeExec{}

	run(t, exec,
		"help",
		"id",
		"group Hiking Club",
		"groups",
		"connect A1",
		"event 1",
		"events 1",
		"status",
		"",
		"exit",
		"groups",
	)

	want := []string{"group Hiking Club", "groups", "connect A1", "event 1", "events 1"}
	if strings.Join(exec.calls, "|") != strings.Join(want, "|") {
		t.Fatalf("calls = %v, want %v", exec.calls, want)
	}
}

func TestRunREPL_UsageErrors(t *testing.T) {
	out := captureOutput(t)
	exec := &fakeExec{}

	run(t, exec, "connect", "group", "event", "event abc", "events -1", "frobnicate", "quit")

	if len(exec.calls) != 0 {
		t.Fatalf("unexpected calls: %v", exec.calls)
	}

	joined := strings.Join(*out, "")
	for _, want := range []string{
		"Usage: connect <id>",
		"Usage: group <name>",
		"Usage: event <group-id>",
		"Usage: events <group-id>",
		"Unknown command: frobnicate",
		"Bye!",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("output missing %q:\n%s", want, joined)
		}
	}
}

func TestRunREPL_PrintsErrorsAndContinues(t *testing.T) {
	out := captureOutput(t)
	exec := &fakeExec{err: errors.New("peer not found")}

	run(t, exec, "connect B2", "groups")

	if len(exec.calls) != 2 {
		t.Fatalf("expected loop to continue after error, calls = %v", exec.calls)
	}
	if !strings.Contains(strings.Join(*out, ""), "peer not found") {
		t.Errorf("error not printed: %v", *out)
	}
}

func TestRunREPL_StopsOnCancelledContext(t *testing.T) {
	captureOutput(t)
	exec := &fakeExec{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	runREPL(ctx, exec, bufio.NewScanner(strings.NewReader("groups\n")))

	if len(exec.calls) != 0 {
		t.Errorf("expected no commands after cancel, got %v", exec.calls)
	}
}

func TestRunREPL_ShowsID(t *testing.T) {
	out := captureOutput(t)

	run(t, &fakeExec{}, "id")

	if !strings.Contains(strings.Join(*out, ""), "Your id: A1") {
		t.Errorf("id not shown: %v", *out)
	}
}
