package metrics

import (
	"net/http"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pmugateway"

// Outcome labels for request counters.
const (
	OutcomeOK         = "ok"
	OutcomeValidation = "validation"
	OutcomeDownstream = "downstream"
	OutcomeTimeout    = "timeout"
	OutcomeUnknown    = "unknown_action"
)

// Metrics holds the gateway collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	requests         *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	channels         prometheus.Counter
	wsConnections    prometheus.Gauge
	probeBytes       *prometheus.CounterVec
	framesPerSecond  prometheus.Gauge
	memoryAllocBytes prometheus.Gauge
	uptimeSeconds    prometheus.Gauge

	mu         sync.Mutex
	frames     atomic.Uint64
	lastFrames uint64
	lastTick   time.Time
	startTime  time.Time
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Configure and estimate requests by transport, operation and outcome.",
		}, []string{"transport", "operation", "outcome"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time spent handling a configure or estimate request.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"transport", "operation"}),
		channels: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channels_estimated_total",
			Help:      "Channels passed through the estimator.",
		}),
		wsConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_connections",
			Help:      "Open WebSocket connections.",
		}),
		probeBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probe_bytes_total",
			Help:      "Bytes moved by the bandwidth probe endpoints.",
		}, []string{"direction"}),
		framesPerSecond: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "frames_per_second",
			Help:      "Estimated frames returned during the last second.",
		}),
		memoryAllocBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_alloc_bytes",
			Help:      "Heap bytes allocated by the process.",
		}),
		uptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Seconds since the metrics were created.",
		}),
		startTime: time.Now(),
	}
	m.lastTick = m.startTime
	m.registry.MustRegister(
		m.requests,
		m.requestDuration,
		m.channels,
		m.wsConnections,
		m.probeBytes,
		m.framesPerSecond,
		m.memoryAllocBytes,
		m.uptimeSeconds,
	)
	return m
}

// Start refreshes the sampled gauges once per second until ctxDone closes.
func (m *Metrics) Start(ctxDone <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctxDone:
				return
			case now := <-ticker.C:
				m.updatePerSecond(now)
			}
		}
	}()
}

func (m *Metrics) updatePerSecond(now time.Time) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	m.mu.Lock()
	defer m.mu.Unlock()
	frames := m.frames.Load()
	if elapsed := now.Sub(m.lastTick).Seconds(); elapsed > 0 {
		m.framesPerSecond.Set(float64(frames-m.lastFrames) / elapsed)
	}
	m.lastFrames = frames
	m.lastTick = now
	m.memoryAllocBytes.Set(float64(mem.Alloc))
	m.uptimeSeconds.Set(now.Sub(m.startTime).Seconds())
}

func (m *Metrics) ObserveRequest(transport, operation, outcome string, elapsed time.Duration) {
	m.requests.WithLabelValues(transport, operation, outcome).Inc()
	m.requestDuration.WithLabelValues(transport, operation).Observe(elapsed.Seconds())
}

// AddFrame records one estimated frame with the given channel count.
func (m *Metrics) AddFrame(channels int) {
	m.frames.Add(1)
	m.channels.Add(float64(channels))
}

func (m *Metrics) IncWSConnections() {
	m.wsConnections.Inc()
}

func (m *Metrics) DecWSConnections() {
	m.wsConnections.Dec()
}

func (m *Metrics) AddProbeBytes(direction string, n int64) {
	if n > 0 {
		m.probeBytes.WithLabelValues(direction).Add(float64(n))
	}
}

// Registry exposes the private registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
