// Package rendezvous assigns globally unique ids to listening peers and maps
// them back to dial URLs.
//
// Server exposes the registry over HTTP; Client talks to it and satisfies
// peer.Resolver. There is no discovery: a remote id is always entered by hand.
package rendezvous

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrUnknownPeer is returned when an id has no registration.
	ErrUnknownPeer = errors.New("unknown peer")

	// ErrInvalidURL is returned when a registration URL is not a ws:// or
	// wss:// URL.
	ErrInvalidURL = errors.New("invalid peer url")
)

// Entry is one registration.
type Entry struct {
	ID           string    `json:"id"`
	URL          string    `json:"url"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Registry is the in-memory id table behind Server.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Register stores url under a fresh id.
func (r *Registry) Register(rawURL string) (Entry, error) {
	if err := validateURL(rawURL); err != nil {
		return Entry{}, err
	}

	e := Entry{
		ID:           uuid.NewString(),
		URL:          rawURL,
		RegisteredAt: time.Now().UTC(),
	}

	r.mu.Lock()
	r.entries[e.ID] = e
	r.mu.Unlock()
	return e, nil
}

// Lookup returns the entry for id.
func (r *Registry) Lookup(id string) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrUnknownPeer, id)
	}
	return e, nil
}

// Remove deletes id.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, id)
	}
	delete(r.entries, id)
	return nil
}

// Len returns the number of registrations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%w: scheme must be ws or wss, got %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidURL)
	}
	return nil
}

// Local adapts a Registry to peer.Resolver for in-process use, so a single
// binary can host both peers without an HTTP hop.
type Local struct {
	reg *Registry
}

// NewLocal wraps reg.
func NewLocal(reg *Registry) *Local {
	return &Local{reg: reg}
}

// Register records rawURL and returns the new peer id.
func (l *Local) Register(ctx context.Context, rawURL string) (string, error) {
	e, err := l.reg.Register(rawURL)
	if err != nil {
		return "", err
	}
	return e.ID, nil
}

// Resolve returns the url registered for id, or an error wrapping
// ErrUnknownPeer.
func (l *Local) Resolve(ctx context.Context, id string) (string, error) {
	e, err := l.reg.Lookup(id)
	if err != nil {
		return "", err
	}
	return e.URL, nil
}

// Unregister removes id. Removing an unknown id returns ErrUnknownPeer.
func (l *Local) Unregister(ctx context.Context, id string) error {
	return l.reg.Remove(id)
}
