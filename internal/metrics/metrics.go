// Package metrics holds the process-wide Prometheus registry every LDM
// binary exposes on its admin HTTP surface, following the teacher's
// MetricsRegistry shape (a struct of collectors built once in a
// constructor and registered together).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every collector the daemon and pqact populate.
type Registry struct {
	QueueInserts   *prometheus.CounterVec
	QueueEvictions prometheus.Counter
	QueueOverruns  *prometheus.CounterVec

	UpstreamSent       *prometheus.CounterVec
	DownstreamReceived *prometheus.CounterVec
	PeerReconnects     *prometheus.CounterVec

	PqactActions *prometheus.CounterVec
	PqactErrors  *prometheus.CounterVec

	OpenFileDescriptors prometheus.Gauge
	ActivePeers         prometheus.Gauge
}

// New builds and registers every collector against reg (pass
// prometheus.NewRegistry() for test isolation, or prometheus.DefaultRegisterer
// for production).
func New(reg prometheus.Registerer) *Registry {
	m := &Registry{
		QueueInserts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ldm_queue_inserts_total",
				Help: "Product-queue inserts by outcome (inserted, duplicate, too_big, corrupt).",
			},
			[]string{"outcome"},
		),
		QueueEvictions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ldm_queue_evictions_total",
				Help: "Slots reclaimed by the region allocator to make room for a new insert.",
			},
		),
		QueueOverruns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ldm_queue_overruns_total",
				Help: "Times a consumer's cursor fell behind the oldest retained slot.",
			},
			[]string{"consumer"},
		),
		UpstreamSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ldm_upstream_sent_total",
				Help: "Products sent to a downstream peer by an UpstreamWorker.",
			},
			[]string{"peer", "mode"},
		),
		DownstreamReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ldm_downstream_received_total",
				Help: "Products accepted into the queue by a DownstreamWorker.",
			},
			[]string{"peer"},
		),
		PeerReconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ldm_peer_reconnects_total",
				Help: "Reconnect attempts by a DownstreamWorker after a dropped connection.",
			},
			[]string{"peer"},
		),
		PqactActions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ldm_pqact_actions_total",
				Help: "pqact rule dispatches by action kind and outcome.",
			},
			[]string{"action", "outcome"},
		),
		PqactErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ldm_pqact_errors_total",
				Help: "pqact dispatch failures by action kind.",
			},
			[]string{"action"},
		),
		OpenFileDescriptors: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ldm_pqact_open_file_descriptors",
				Help: "stdiofile descriptors currently held open by the LRU pool.",
			},
		),
		ActivePeers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ldm_active_peers",
				Help: "Upstream and downstream peer connections currently registered.",
			},
		),
	}

	reg.MustRegister(
		m.QueueInserts,
		m.QueueEvictions,
		m.QueueOverruns,
		m.UpstreamSent,
		m.DownstreamReceived,
		m.PeerReconnects,
		m.PqactActions,
		m.PqactErrors,
		m.OpenFileDescriptors,
		m.ActivePeers,
	)
	return m
}

// Handler exposes the registry in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
