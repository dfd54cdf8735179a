// Package sync propagates locally created events to a connected peer and
// applies the events a peer sends back.
//
// A Coordinator owns at most one active peer session. Local writes are handed
// to Publish after they reach the store; inbound messages are decoded and
// written to the same store. Delivery is fire-and-forget: nothing is queued
// while disconnected and nothing is acknowledged.
package sync

import (
	"context"

	"github.com/gatherapp/gather/internal/models"
	"github.com/gatherapp/gather/internal/mutation"
	"github.com/gatherapp/gather/internal/peer"
)

// ErrNotConnected is returned by Publish when no open session exists.
// It is the same value as peer.ErrNotConnected.
var ErrNotConnected = peer.ErrNotConnected

// Store is the part of the local store the coordinator writes to.
type Store interface {
	// CreateEventContext inserts an event into an existing group.
	//
	// Returns an error wrapping db.ErrNotFound when the group does not
	// exist, and db.ErrInvalid when the fields fail validation. On error
	// nothing is written.
	CreateEventContext(ctx context.Context, groupID int64, fields models.EventFields) (*models.Event, error)
}

// Session is a peer link as seen by the coordinator. *peer.Session
// satisfies it.
type Session interface {
	// RemoteID returns the id of the remote instance, if known.
	RemoteID() string

	// State returns the current lifecycle state. Publish only sends on
	// StateOpen.
	State() peer.State

	// Send writes one encoded mutation.
	Send(ctx context.Context, msg peer.Message) error

	// OnMessage registers the inbound handler. Messages are delivered in
	// order from a single goroutine.
	OnMessage(fn func(peer.Message))

	// OnClose registers a callback run once when the session ends.
	OnClose(fn func(error))

	// Close ends the session.
	Close() error
}

// Notifier observes sync outcomes. The notice feed and metrics implement it.
//
// Callbacks run synchronously on the goroutine that produced the outcome:
// the caller of Publish for outbound mutations, the session read loop for
// inbound ones. Implementations must not block.
type Notifier interface {
	// PeerConnected is called when a session becomes active.
	PeerConnected(remoteID string)

	// PeerDisconnected is called when the active session ends. err is nil
	// for an orderly close.
	PeerDisconnected(remoteID string, err error)

	// MutationPublished is called after a mutation was handed to the peer.
	MutationPublished(m mutation.Mutation)

	// MutationDropped is called when a mutation could not be sent.
	MutationDropped(m mutation.Mutation, err error)

	// EventApplied is called after an inbound mutation was stored.
	EventApplied(e *models.Event)

	// InboundRejected is called when an inbound message was discarded,
	// either because it did not decode or because the store refused it.
	InboundRejected(msg mutation.Message, err error)
}

// NopNotifier implements Notifier with no-ops. Embed it to observe a subset
// of outcomes.
type NopNotifier struct{}

func (NopNotifier) PeerConnected(string)                     {}
func (NopNotifier) PeerDisconnected(string, error)           {}
func (NopNotifier) MutationPublished(mutation.Mutation)      {}
func (NopNotifier) MutationDropped(mutation.Mutation, error) {}
func (NopNotifier) EventApplied(*models.Event)               {}
func (NopNotifier) InboundRejected(mutation.Message, error)  {}
