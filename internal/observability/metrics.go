package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "quake"

// Metrics holds the Prometheus counters, histograms, and gauges for ingestion,
// storage and the query API.
type Metrics struct {
	MessagesReceived prometheus.Counter
	MessagesDropped  *prometheus.CounterVec // labels: reason={overflow,invalid,store}
	EventsStored     *prometheus.CounterVec // labels: status={NORMAL,WARNING,ALERT}
	AppendRetries    prometheus.Counter
	AppendDuration   prometheus.Histogram
	IngestRunning    prometheus.Gauge
	IngestState      *prometheus.GaugeVec // labels: state
	Reconnects       prometheus.Counter
	QueueDepth       prometheus.Gauge

	// Latest-event cache.
	CacheLookups *prometheus.CounterVec // labels: result={hit,miss,error}

	SinkErrors      prometheus.Counter
	ControlCommands *prometheus.CounterVec // labels: command, outcome={sent,invalid,unavailable,failed}
	QueryDuration   *prometheus.HistogramVec
}

func newMetrics() *Metrics {
	return &Metrics{
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Total sensor messages accepted into the ingest queue.",
		}),
		MessagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Sensor messages dropped before being stored, by reason.",
		}, []string{"reason"}),
		EventsStored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_stored_total",
			Help:      "Classified events appended to the event store, by status.",
		}, []string{"status"}),
		AppendRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "append_retries_total",
			Help:      "Event store appends retried after a failure.",
		}),
		AppendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "append_duration_seconds",
			Help:      "Duration of a successful event store append, retries included.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5},
		}),
		IngestRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ingest_running",
			Help:      "1 when the ingestion worker is active, 0 when shut down.",
		}),
		IngestState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ingest_state",
			Help:      "1 for the current ingestion worker state, 0 for the others.",
		}, []string{"state"}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_reconnects_total",
			Help:      "Transport connection attempts after a disruption.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ingest_queue_depth",
			Help:      "Messages waiting in the ingest queue.",
		}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "latest_cache_lookups_total",
			Help:      "Latest-event cache lookups by result.",
		}, []string{"result"}),
		SinkErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_errors_total",
			Help:      "Failures forwarding stored events to a sink.",
		}),
		ControlCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "control_commands_total",
			Help:      "Device control commands by command and outcome.",
		}, []string{"command", "outcome"}),
		QueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Query service call duration by operation.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5},
		}, []string{"operation"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.MessagesReceived,
		m.MessagesDropped,
		m.EventsStored,
		m.AppendRetries,
		m.AppendDuration,
		m.IngestRunning,
		m.IngestState,
		m.Reconnects,
		m.QueueDepth,
		m.CacheLookups,
		m.SinkErrors,
		m.ControlCommands,
		m.QueryDuration,
	}
}

// NewMetrics creates and registers all service metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics registered with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	m := newMetrics()
	prometheus.NewRegistry().MustRegister(m.collectors()...)
	return m
}
