// Package metrics exposes Prometheus counters and gauges for the recorder.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the recorder's collectors on a private registry. All methods
// are safe on a nil receiver so components can run without metrics.
type Metrics struct {
	registry         *prometheus.Registry
	pollsTotal       *prometheus.CounterVec
	transitionsTotal *prometheus.CounterVec
	clientRecreates  *prometheus.CounterVec
	fatalTotal       *prometheus.CounterVec
	recordingsTotal  *prometheus.CounterVec
	activeRecordings prometheus.Gauge
	bytesTotal       prometheus.Counter
	remuxTotal       *prometheus.CounterVec
	procTerminate    *prometheus.CounterVec
	requestsTotal    prometheus.Counter
	errorsTotal      prometheus.Counter
}

// New creates and registers the recorder metrics.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		pollsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sticky_polls_total",
			Help: "Live-status polls by platform and result (offline, live, error)",
		}, []string{"platform", "result"}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sticky_loop_transitions_total",
			Help: "Poll loop state transitions",
		}, []string{"from", "to"}),
		clientRecreates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sticky_http_client_recreates_total",
			Help: "HTTP clients discarded after a transient error",
		}, []string{"platform"}),
		fatalTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sticky_channel_fatal_total",
			Help: "Channels stopped by a fatal error",
		}, []string{"platform"}),
		recordingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sticky_recordings_total",
			Help: "Finished captures by outcome (kept, discarded, failed)",
		}, []string{"platform", "outcome"}),
		activeRecordings: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sticky_active_recordings",
			Help: "Captures currently holding a registry entry",
		}),
		bytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sticky_captured_bytes_total",
			Help: "Stream bytes copied to the media tool",
		}),
		remuxTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sticky_remux_total",
			Help: "Remux runs by result (ok, failed)",
		}, []string{"result"}),
		procTerminate: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sticky_proc_terminate_total",
			Help: "Signals sent to media tool process groups",
		}, []string{"signal", "result"}),
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sticky_status_requests_total",
			Help: "Requests served by the status server",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sticky_status_errors_total",
			Help: "Status server responses with status >= 400",
		}),
	}

	m.registry.MustRegister(
		m.pollsTotal,
		m.transitionsTotal,
		m.clientRecreates,
		m.fatalTotal,
		m.recordingsTotal,
		m.activeRecordings,
		m.bytesTotal,
		m.remuxTotal,
		m.procTerminate,
		m.requestsTotal,
		m.errorsTotal,
	)
	return m
}

func (m *Metrics) IncPoll(platform, result string) {
	if m == nil {
		return
	}
	m.pollsTotal.WithLabelValues(platform, result).Inc()
}

func (m *Metrics) IncTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(from, to).Inc()
}

func (m *Metrics) IncClientRecreate(platform string) {
	if m == nil {
		return
	}
	m.clientRecreates.WithLabelValues(platform).Inc()
}

func (m *Metrics) IncFatal(platform string) {
	if m == nil {
		return
	}
	m.fatalTotal.WithLabelValues(platform).Inc()
}

// ObserveRecording counts a finished capture and the bytes it copied.
func (m *Metrics) ObserveRecording(platform, outcome string, bytes int64) {
	if m == nil {
		return
	}
	m.recordingsTotal.WithLabelValues(platform, outcome).Inc()
	if bytes > 0 {
		m.bytesTotal.Add(float64(bytes))
	}
}

// SetActiveRecordings sets the active recordings gauge.
func (m *Metrics) SetActiveRecordings(n int) {
	if m == nil {
		return
	}
	m.activeRecordings.Set(float64(n))
}

func (m *Metrics) IncRemux(result string) {
	if m == nil {
		return
	}
	m.remuxTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) IncProcTerminate(signal, result string) {
	if m == nil {
		return
	}
	m.procTerminate.WithLabelValues(signal, result).Inc()
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		h.ServeHTTP(w, r)
	})
}
