package metrics

import (
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/gatherapp/gather/internal/mutation"
	"github.com/gatherapp/gather/internal/store/db"
	gsync "github.com/gatherapp/gather/internal/sync"
)

var _ gsync.Notifier = (*Metrics)(nil)

func TestReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("%w: title is required", mutation.ErrDecode), ReasonDecode},
		{fmt.Errorf("failed to apply mutation: %w", fmt.Errorf("%w: group 9", db.ErrNotFound)), ReasonUnknownGroup},
		{fmt.Errorf("%w: title too long", db.ErrInvalid), ReasonInvalid},
		{errors.New("disk I/O error"), ReasonStore},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := Reason(tt.err); got != tt.want {
				t.Errorf("Reason(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestCounters(t *testing.T) {
	m := New()

	m.MutationPublished(mutation.Mutation{})
	m.MutationPublished(mutation.Mutation{})
	m.MutationDropped(mutation.Mutation{}, gsync.ErrNotConnected)
	m.EventApplied(nil)
	m.InboundRejected(nil, mutation.ErrDecode)
	m.InboundRejected(nil, mutation.ErrDecode)
	m.InboundRejected(nil, db.ErrNotFound)

	if got := testutil.ToFloat64(m.Published); got != 2 {
		t.Errorf("published = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Dropped); got != 1 {
		t.Errorf("dropped = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Applied); got != 1 {
		t.Errorf("applied = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Rejected.WithLabelValues(ReasonDecode)); got != 2 {
		t.Errorf("rejected{decode} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Rejected.WithLabelValues(ReasonUnknownGroup)); got != 1 {
		t.Errorf("rejected{unknown_group} = %v, want 1", got)
	}
}

func TestSessionGauge(t *testing.T) {
	m := New()
	m.PeerConnected("B")
	if got := testutil.ToFloat64(m.SessionOpen); got != 1 {
		t.Errorf("gauge after connect = %v, want 1", got)
	}
	m.PeerDisconnected("B", nil)
	if got := testutil.ToFloat64(m.SessionOpen); got != 0 {
		t.Errorf("gauge after disconnect = %v, want 0", got)
	}
}

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.MutationPublished(mutation.Mutation{})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	for _, name := range []string{"gather_mutations_published_total 1", "gather_peer_session_open"} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics output missing %q", name)
		}
	}
}
