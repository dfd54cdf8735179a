package notify

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gatherapp/gather/internal/metrics"
	"github.com/gatherapp/gather/internal/models"
	"github.com/gatherapp/gather/internal/mutation"
)

// Origin values for EventData.
const (
	OriginLocal  = "local"
	OriginRemote = "remote"
)

// GroupData describes a created group
type GroupData struct {
	GroupID int64  `json:"group_id"`
	Name    string `json:"name"`
	Owner   string `json:"owner,omitempty"`
}

// EventData describes a stored event
type EventData struct {
	GroupID  int64  `json:"group_id"`
	EventID  int64  `json:"event_id"`
	Title    string `json:"title"`
	Date     string `json:"date,omitempty"`
	Location string `json:"location,omitempty"`
	Origin   string `json:"origin"`
}

// PeerData describes a change of the peer link
type PeerData struct {
	RemoteID string `json:"remote_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

// RejectedData describes a discarded inbound message
type RejectedData struct {
	Reason string `json:"reason"`
	Error  string `json:"error"`
}

// DroppedData describes a local change that was not sent
type DroppedData struct {
	GroupID int64  `json:"group_id"`
	Title   string `json:"title"`
	Error   string `json:"error"`
}

// Handler turns organizer and sync outcomes into notices. It implements the
// sync coordinator's Notifier.
type Handler struct {
	server *Server
	logger *slog.Logger
}

// NewHandler creates a handler broadcasting through server
func NewHandler(server *Server, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{server: server, logger: logger}
}

// GroupCreated reports a group created by owner
func (h *Handler) GroupCreated(g *models.Group, owner string) {
	h.send(NoticeTypeGroupCreated, GroupData{GroupID: g.ID, Name: g.Name, Owner: owner})
}

// EventAdded reports a locally created event
func (h *Handler) EventAdded(e *models.Event) {
	h.send(NoticeTypeEventAdded, eventData(e, OriginLocal))
}

// ConnectionError reports a failed connect attempt
func (h *Handler) ConnectionError(remoteID string, err error) {
	h.send(NoticeTypeConnectionError, PeerData{RemoteID: remoteID, Error: err.Error()})
}

func (h *Handler) PeerConnected(remoteID string) {
	h.send(NoticeTypePeerConnected, PeerData{RemoteID: remoteID})
}

func (h *Handler) PeerDisconnected(remoteID string, err error) {
	data := PeerData{RemoteID: remoteID}
	if err != nil {
		data.Error = err.Error()
		h.send(NoticeTypeConnectionError, data)
	}
	h.send(NoticeTypePeerDisconnected, data)
}

func (h *Handler) MutationPublished(mutation.Mutation) {}

func (h *Handler) MutationDropped(m mutation.Mutation, err error) {
	h.send(NoticeTypeMutationDropped, DroppedData{
		GroupID: m.Payload.GroupID,
		Title:   m.Payload.Title,
		Error:   err.Error(),
	})
}

func (h *Handler) EventApplied(e *models.Event) {
	h.send(NoticeTypeEventAdded, eventData(e, OriginRemote))
}

func (h *Handler) InboundRejected(_ mutation.Message, err error) {
	h.send(NoticeTypeInboundRejected, RejectedData{Reason: metrics.Reason(err), Error: err.Error()})
}

func (h *Handler) send(typ NoticeType, data interface{}) {
	raw, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("failed to marshal notice data", "type", typ, "error", err)
		return
	}
	h.server.Broadcast(Notice{Type: typ, Timestamp: time.Now(), Data: raw})
}

func eventData(e *models.Event, origin string) EventData {
	return EventData{
		GroupID:  e.GroupID,
		EventID:  e.ID,
		Title:    e.Title,
		Date:     e.Date,
		Location: e.Location,
		Origin:   origin,
	}
}

// Describe renders a notice as a single line for terminal output.
func Describe(n Notice) string {
	switch n.Type {
	case NoticeTypeGroupCreated:
		var d GroupData
		if json.Unmarshal(n.Data, &d) == nil {
			return "group created: " + d.Name
		}
	case NoticeTypeEventAdded:
		var d EventData
		if json.Unmarshal(n.Data, &d) == nil {
			if d.Origin == OriginRemote {
				return "event received from peer: " + d.Title
			}
			return "event added: " + d.Title
		}
	case NoticeTypePeerConnected:
		var d PeerData
		if json.Unmarshal(n.Data, &d) == nil {
			return "peer connected: " + orUnknown(d.RemoteID)
		}
	case NoticeTypePeerDisconnected:
		var d PeerData
		if json.Unmarshal(n.Data, &d) == nil {
			return "peer disconnected: " + orUnknown(d.RemoteID)
		}
	case NoticeTypeConnectionError:
		var d PeerData
		if json.Unmarshal(n.Data, &d) == nil {
			return "connection error: " + d.Error
		}
	case NoticeTypeInboundRejected:
		var d RejectedData
		if json.Unmarshal(n.Data, &d) == nil {
			return "discarded message from peer (" + d.Reason + "): " + d.Error
		}
	case NoticeTypeMutationDropped:
		var d DroppedData
		if json.Unmarshal(n.Data, &d) == nil {
			return "not synced, no peer connected: " + d.Title
		}
	}
	return string(n.Type)
}

func orUnknown(id string) string {
	if id == "" {
		return "(unknown)"
	}
	return id
}
