// Package metrics holds the Prometheus instrumentation exposed by each
// worker, grounded on the Metrics/NewMetrics/promauto pattern from
// Generativebots-ocx-backend-go-svc's internal/escrow/metrics.go.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"preforkd/internal/httpparse"
)

// Metrics holds every counter and gauge a worker updates while serving
// connections.
type Metrics struct {
	ConnectionsAccepted prometheus.Counter
	RequestsServed      *prometheus.CounterVec
	ParseErrors         *prometheus.CounterVec
	BytesServed         prometheus.Counter
	LiveWorkers         prometheus.Gauge
}

// New registers and returns a fresh Metrics set on its own registry, so
// every call (one per process, or one per test) gets independent counters
// and never collides with an earlier registration of the same names.
func New() *Metrics {
	f := promauto.With(prometheus.NewRegistry())
	return &Metrics{
		ConnectionsAccepted: f.NewCounter(prometheus.CounterOpts{
			Name: "preforkd_connections_accepted_total",
			Help: "Total TCP connections accepted by this worker.",
		}),
		RequestsServed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "preforkd_requests_served_total",
			Help: "Total requests served, labeled by response status.",
		}, []string{"status"}),
		ParseErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "preforkd_parse_errors_total",
			Help: "Total request parse failures, labeled by error kind.",
		}, []string{"kind"}),
		BytesServed: f.NewCounter(prometheus.CounterOpts{
			Name: "preforkd_bytes_served_total",
			Help: "Total response body bytes written to clients.",
		}),
		LiveWorkers: f.NewGauge(prometheus.GaugeOpts{
			Name: "preforkd_live_workers",
			Help: "Number of worker processes the master currently considers alive.",
		}),
	}
}

// RecordParseError increments the parse-error counter for kind.
func (m *Metrics) RecordParseError(kind httpparse.Kind) {
	m.ParseErrors.WithLabelValues(kind.String()).Inc()
}

// RecordResponse increments the served-requests counter for status and
// adds bodyLen to the bytes-served counter.
func (m *Metrics) RecordResponse(status int, bodyLen int) {
	m.RequestsServed.WithLabelValues(statusLabel(status)).Inc()
	if bodyLen > 0 {
		m.BytesServed.Add(float64(bodyLen))
	}
}

func statusLabel(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "other"
	}
}
