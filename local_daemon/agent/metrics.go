package agent

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ErrMetricsAlreadyRegistered is returned if NewMetrics is called more
// than once for the same nodeId against the default Prometheus registry.
var ErrMetricsAlreadyRegistered = errors.New("node agent metrics are already registered")

// Metrics is the node agent's Prometheus surface, served on /metrics
// alongside the JSON status endpoint (spec 4.H). Grounded on the
// teacher's LocalDaemonPrometheusManager: a struct of cached
// GaugeVec/CounterVec handles plus a pre-bound Gauge/Counter per metric
// labeled with this node's id, registered once at startup.
type Metrics struct {
	nodeId string

	ActiveSessionsGauge     prometheus.Gauge
	ActiveComputationsGauge prometheus.Gauge
	SessionsCreatedCounter  prometheus.Counter
	SessionsDeletedCounter  prometheus.Counter
	ComputationExitCounter  *prometheus.CounterVec // labeled "expected"/"unexpected"
	BannedSourcesGauge      prometheus.Gauge
	RouterRegisterSeconds   prometheus.Histogram
}

// NewMetrics constructs and registers the node agent's metric vectors
// against the default registry, labeled with nodeId.
func NewMetrics(nodeId string) (*Metrics, error) {
	activeSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   "arras_node",
		Name:        "active_sessions",
		Help:        "Number of sessions currently active on this node.",
		ConstLabels: prometheus.Labels{"node_id": nodeId},
	})
	activeComputations := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   "arras_node",
		Name:        "active_computations",
		Help:        "Number of computations currently running across all sessions on this node.",
		ConstLabels: prometheus.Labels{"node_id": nodeId},
	})
	sessionsCreated := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   "arras_node",
		Name:        "sessions_created_total",
		Help:        "Total number of sessions created on this node.",
		ConstLabels: prometheus.Labels{"node_id": nodeId},
	})
	sessionsDeleted := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   "arras_node",
		Name:        "sessions_deleted_total",
		Help:        "Total number of sessions deleted on this node.",
		ConstLabels: prometheus.Labels{"node_id": nodeId},
	})
	computationExit := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   "arras_node",
		Name:        "computation_exits_total",
		Help:        "Total number of computation exits, by expected/unexpected.",
		ConstLabels: prometheus.Labels{"node_id": nodeId},
	}, []string{"expected"})
	bannedSources := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   "arras_node",
		Name:        "banned_sources",
		Help:        "Number of source addresses currently banned for unknown-endpoint spam.",
		ConstLabels: prometheus.Labels{"node_id": nodeId},
	})
	registerSeconds := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace:   "arras_node",
		Name:        "router_register_seconds",
		Help:        "Latency of the router registration handshake on session create.",
		ConstLabels: prometheus.Labels{"node_id": nodeId},
		Buckets:     prometheus.DefBuckets,
	})

	for _, c := range []prometheus.Collector{activeSessions, activeComputations, sessionsCreated, sessionsDeleted, computationExit, bannedSources, registerSeconds} {
		if err := prometheus.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				return nil, ErrMetricsAlreadyRegistered
			}
			return nil, err
		}
	}

	return &Metrics{
		nodeId:                  nodeId,
		ActiveSessionsGauge:     activeSessions,
		ActiveComputationsGauge: activeComputations,
		SessionsCreatedCounter:  sessionsCreated,
		SessionsDeletedCounter:  sessionsDeleted,
		ComputationExitCounter:  computationExit,
		BannedSourcesGauge:      bannedSources,
		RouterRegisterSeconds:   registerSeconds,
	}, nil
}

// Handler returns the standard Prometheus scrape handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
