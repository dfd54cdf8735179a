// Package mutation encodes and decodes the messages two gather instances
// exchange over a peer session.
//
// A mutation is a tagged variant: the action discriminant selects the payload
// shape. Only "add" (an event added to a group) exists today. The wire form
// is one JSON object per message:
//
//	{"action":"add","payload":{"groupId":1,"title":"Trailhead Meetup",
//	 "date":"2024-05-01","location":"Park Gate","description":"Bring water"}}
//
// Decode is strict. Unknown actions, unknown fields, trailing data and
// missing groupId or title all fail with ErrDecode; a partial event is never
// produced.
package mutation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/gatherapp/gather/internal/models"
)

// Action discriminates mutation variants.
type Action string

const (
	// ActionAdd adds an event to a group.
	ActionAdd Action = "add"
)

var (
	// ErrDecode is wrapped by every Decode failure.
	ErrDecode = errors.New("decode error")

	// ErrInvalid is returned by Encode for mutations that Decode would reject.
	ErrInvalid = errors.New("invalid mutation")
)

// Message is the transport form of a mutation.
type Message []byte

// Payload is the body of an add mutation.
type Payload struct {
	GroupID     int64  `json:"groupId"`
	Title       string `json:"title"`
	Date        string `json:"date"`
	Location    string `json:"location"`
	Description string `json:"description"`
}

// Validate checks the fields a receiving store needs.
func (p *Payload) Validate() error {
	if p.GroupID <= 0 {
		return fmt.Errorf("groupId is required")
	}
	f := p.Fields()
	return f.Validate()
}

// Fields returns the event fields carried by the payload.
func (p Payload) Fields() models.EventFields {
	return models.EventFields{
		Title:       p.Title,
		Date:        p.Date,
		Location:    p.Location,
		Description: p.Description,
	}
}

// Mutation is a single change to replay on a remote store.
type Mutation struct {
	Action  Action
	Payload Payload
}

// NewAdd builds an add mutation for an event in groupID.
func NewAdd(groupID int64, fields models.EventFields) Mutation {
	return Mutation{
		Action: ActionAdd,
		Payload: Payload{
			GroupID:     groupID,
			Title:       fields.Title,
			Date:        fields.Date,
			Location:    fields.Location,
			Description: fields.Description,
		},
	}
}

// Fields returns the event fields carried by the mutation.
func (m Mutation) Fields() models.EventFields {
	return m.Payload.Fields()
}

// FromEvent builds the add mutation that replays a stored event.
func FromEvent(e *models.Event) Mutation {
	return NewAdd(e.GroupID, e.EventFields)
}

// Validate checks the action and its payload.
func (m *Mutation) Validate() error {
	switch m.Action {
	case ActionAdd:
		return m.Payload.Validate()
	case "":
		return fmt.Errorf("action is required")
	default:
		return fmt.Errorf("unknown action %q", m.Action)
	}
}

// envelope is the outer wire object. Payload stays raw until the action is
// known.
type envelope struct {
	Action  Action          `json:"action"`
	Payload json.RawMessage `json:"payload"`
}

// addPayload uses pointers for the required fields so that absent and
// zero values can be told apart.
type addPayload struct {
	GroupID     *int64  `json:"groupId"`
	Title       *string `json:"title"`
	Date        string  `json:"date"`
	Location    string  `json:"location"`
	Description string  `json:"description"`
}

// Encode serializes a mutation. Invalid mutations are rejected so that a
// sender never emits a message its peer would discard.
func Encode(m Mutation) (Message, error) {
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	payload, err := json.Marshal(m.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	data, err := json.Marshal(envelope{Action: m.Action, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal mutation: %w", err)
	}
	return data, nil
}

// Decode parses a message. Every failure wraps ErrDecode.
func Decode(msg Message) (Mutation, error) {
	var env envelope
	if err := strictUnmarshal(msg, &env); err != nil {
		return Mutation{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	switch env.Action {
	case ActionAdd:
		return decodeAdd(env.Payload)
	case "":
		return Mutation{}, fmt.Errorf("%w: action is required", ErrDecode)
	default:
		return Mutation{}, fmt.Errorf("%w: unknown action %q", ErrDecode, env.Action)
	}
}

func decodeAdd(raw json.RawMessage) (Mutation, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Mutation{}, fmt.Errorf("%w: payload is required", ErrDecode)
	}

	var p addPayload
	if err := strictUnmarshal(raw, &p); err != nil {
		return Mutation{}, fmt.Errorf("%w: payload: %v", ErrDecode, err)
	}
	if p.GroupID == nil {
		return Mutation{}, fmt.Errorf("%w: groupId is required", ErrDecode)
	}
	if p.Title == nil {
		return Mutation{}, fmt.Errorf("%w: title is required", ErrDecode)
	}

	m := Mutation{
		Action: ActionAdd,
		Payload: Payload{
			GroupID:     *p.GroupID,
			Title:       *p.Title,
			Date:        p.Date,
			Location:    p.Location,
			Description: p.Description,
		},
	}
	if err := m.Validate(); err != nil {
		return Mutation{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return m, nil
}

// strictUnmarshal rejects unknown fields and anything after the first value.
func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("unexpected data after message")
	}
	return nil
}
