// Package metrics counts sync outcomes with Prometheus collectors.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gatherapp/gather/internal/models"
	"github.com/gatherapp/gather/internal/mutation"
	"github.com/gatherapp/gather/internal/store/db"
)

const namespace = "gather"

// Rejection reasons used as the "reason" label.
const (
	ReasonDecode       = "decode"
	ReasonUnknownGroup = "unknown_group"
	ReasonInvalid      = "invalid"
	ReasonStore        = "store"
)

// Metrics holds the collectors and the registry they live in. It observes
// the sync coordinator through the Notifier callbacks.
type Metrics struct {
	registry *prometheus.Registry

	Published   prometheus.Counter
	Dropped     prometheus.Counter
	Applied     prometheus.Counter
	Rejected    *prometheus.CounterVec
	SessionOpen prometheus.Gauge
}

// New creates the collectors on a fresh registry, with Go runtime and
// process collectors included.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_published_total",
			Help:      "Mutations sent to the connected peer.",
		}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_dropped_total",
			Help:      "Mutations discarded because no peer session was open or the send failed.",
		}),
		Applied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_applied_total",
			Help:      "Inbound mutations written to the local store.",
		}),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_rejected_total",
			Help:      "Inbound messages discarded, by reason.",
		}, []string{"reason"}),
		SessionOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peer_session_open",
			Help:      "1 while a peer session is attached, 0 otherwise.",
		}),
	}

	m.registry.MustRegister(
		m.Published,
		m.Dropped,
		m.Applied,
		m.Rejected,
		m.SessionOpen,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) PeerConnected(string) {
	m.SessionOpen.Set(1)
}

func (m *Metrics) PeerDisconnected(string, error) {
	m.SessionOpen.Set(0)
}

func (m *Metrics) MutationPublished(mutation.Mutation) {
	m.Published.Inc()
}

func (m *Metrics) MutationDropped(mutation.Mutation, error) {
	m.Dropped.Inc()
}

func (m *Metrics) EventApplied(*models.Event) {
	m.Applied.Inc()
}

func (m *Metrics) InboundRejected(_ mutation.Message, err error) {
	m.Rejected.WithLabelValues(Reason(err)).Inc()
}

// Reason classifies an inbound rejection.
func Reason(err error) string {
	switch {
	case errors.Is(err, mutation.ErrDecode):
		return ReasonDecode
	case errors.Is(err, db.ErrNotFound):
		return ReasonUnknownGroup
	case errors.Is(err, db.ErrInvalid):
		return ReasonInvalid
	default:
		return ReasonStore
	}
}
