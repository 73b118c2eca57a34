// Package telemetry exposes Prometheus collectors for the singleton
// lifecycle and the HTTP surfaces, on a dedicated registry.
package telemetry

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/soloplane/soloplane/lifecycle"
)

// Metrics holds all soloplane collectors.
type Metrics struct {
	registry *prometheus.Registry

	constructed prometheus.Gauge
	ready       prometheus.Gauge
	generation  prometheus.Gauge
	cohorts     prometheus.Counter
	duplicates  prometheus.Counter
	withdrawn   prometheus.Counter
	started     *prometheus.CounterVec
	startWait   prometheus.Histogram

	httpInFlight prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	mu           sync.Mutex
	waitingSince map[string]time.Time
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry:     prometheus.NewRegistry(),
		waitingSince: make(map[string]time.Time),
	}

	m.constructed = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "soloplane", Subsystem: "lifecycle",
		Name: "constructed", Help: "Constructed singletons in the current cohort.",
	})
	m.ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "soloplane", Subsystem: "lifecycle",
		Name: "ready", Help: "Singletons that requested start in the current cohort.",
	})
	m.generation = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "soloplane", Subsystem: "lifecycle",
		Name: "generation", Help: "Cohort ordinal, incremented on every barrier release.",
	})
	m.cohorts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "soloplane", Subsystem: "lifecycle",
		Name: "cohorts_total", Help: "Cohorts released by the barrier.",
	})
	m.duplicates = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "soloplane", Subsystem: "lifecycle",
		Name: "duplicates_suppressed_total", Help: "Duplicate singleton instances suppressed.",
	})
	m.withdrawn = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "soloplane", Subsystem: "lifecycle",
		Name: "withdrawn_total", Help: "Cohort members withdrawn before finishing their start phase.",
	})
	m.started = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "soloplane", Subsystem: "lifecycle",
		Name: "started_total", Help: "Singletons that fully completed their start phase.",
	}, []string{"kind"})
	m.startWait = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "soloplane", Subsystem: "lifecycle",
		Name:    "start_wait_seconds",
		Help:    "Time singletons spend suspended at the cohort barrier.",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10), // 1ms to ~4m
	})

	m.httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "soloplane", Subsystem: "http",
		Name: "inflight_requests", Help: "Current number of in-flight HTTP requests.",
	})
	m.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "soloplane", Subsystem: "http",
		Name: "requests_total", Help: "Total number of HTTP requests handled.",
	}, []string{"method", "path", "status"})
	m.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "soloplane", Subsystem: "http",
		Name:    "request_duration_seconds",
		Help:    "Duration of HTTP requests.",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
	}, []string{"method", "path"})

	m.registry.MustRegister(
		m.constructed, m.ready, m.generation, m.cohorts, m.duplicates,
		m.withdrawn, m.started, m.startWait,
		m.httpInFlight, m.httpRequests, m.httpDuration,
	)
	return m
}

// Registry returns the dedicated registry, for /metrics and for components
// registering their own collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Observe translates a lifecycle event into collector updates. Registered as
// a coordinator observer.
func (m *Metrics) Observe(ev lifecycle.Event) {
	m.constructed.Set(float64(ev.Constructed))
	m.ready.Set(float64(ev.Ready))
	m.generation.Set(float64(ev.Generation))

	switch ev.Type {
	case lifecycle.EventDuplicateSuppressed:
		m.duplicates.Inc()
	case lifecycle.EventWithdrawn:
		m.withdrawn.Inc()
		m.dropWait(ev.InstanceID)
	case lifecycle.EventStartWaiting:
		m.mu.Lock()
		m.waitingSince[ev.InstanceID] = ev.Time
		m.mu.Unlock()
	case lifecycle.EventCohortReleased:
		m.cohorts.Inc()
	case lifecycle.EventStarted:
		m.started.WithLabelValues(string(ev.Kind)).Inc()
		if since, ok := m.takeWait(ev.InstanceID); ok {
			m.startWait.Observe(ev.Time.Sub(since).Seconds())
		} else {
			// The triggering member never waited.
			m.startWait.Observe(0)
		}
	}
}

func (m *Metrics) takeWait(id string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	since, ok := m.waitingSince[id]
	if ok {
		delete(m.waitingSince, id)
	}
	return since, ok
}

func (m *Metrics) dropWait(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.waitingSince, id)
}

// IncrementInFlight marks one more in-flight HTTP request.
func (m *Metrics) IncrementInFlight() { m.httpInFlight.Inc() }

// DecrementInFlight marks one HTTP request as finished.
func (m *Metrics) DecrementInFlight() { m.httpInFlight.Dec() }

// RecordHTTPRequest records one handled HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	m.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
