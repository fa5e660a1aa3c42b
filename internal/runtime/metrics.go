package runtime

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks broker statistics.
type Metrics struct {
	mu sync.RWMutex

	// Per-router counts
	routerCounts map[string]*RouterMetrics
	replies      ReplyMetrics

	// Prometheus collectors
	dispatchedTotal  *prometheus.CounterVec
	repliesTotal     *prometheus.CounterVec
	timeoutsTotal    prometheus.Counter
	pendingCurrent   prometheus.Gauge
	dispatchSeconds  *prometheus.HistogramVec
	roundTripSeconds prometheus.Histogram

	registerer prometheus.Registerer
	registered bool
}

// RouterMetrics holds the counters of one router.
type RouterMetrics struct {
	Dispatched     uint64    `json:"dispatched"`
	Failed         uint64    `json:"failed"`
	LastDispatchAt time.Time `json:"last_dispatch_at,omitempty"`
}

// ReplyMetrics holds reply handling counters.
type ReplyMetrics struct {
	Resolved   uint64 `json:"resolved"`
	Redirected uint64 `json:"redirected"`
	Dropped    uint64 `json:"dropped"`
	TimedOut   uint64 `json:"timed_out"`
}

// MetricsSnapshot provides a point-in-time view of broker metrics.
type MetricsSnapshot struct {
	Routers     map[string]*RouterMetrics `json:"routers"`
	Replies     ReplyMetrics              `json:"replies"`
	CollectedAt time.Time                 `json:"collected_at"`
}

// NewMetrics creates a collector whose metric names start with namespace.
// A nil registerer falls back to the default registerer.
func NewMetrics(namespace string, registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "relay"
	}

	return &Metrics{
		routerCounts: make(map[string]*RouterMetrics),
		registerer:   registerer,
		dispatchedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "broker", Name: "dispatched_total",
			Help: "Total number of router dispatch calls",
		}, []string{"router", "outcome"}),
		repliesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "broker", Name: "replies_total",
			Help: "Total number of replies received, by how they were handled",
		}, []string{"outcome"}),
		timeoutsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "broker", Name: "timeouts_total",
			Help: "Total number of requests that expired without reply",
		}),
		pendingCurrent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "broker", Name: "pending_requests",
			Help: "Current number of requests awaiting a reply",
		}),
		dispatchSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "broker", Name: "dispatch_duration_seconds",
			Help:    "Time spent in router dispatch calls",
			Buckets: prometheus.DefBuckets,
		}, []string{"router"}),
		roundTripSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "broker", Name: "request_duration_seconds",
			Help:    "Time from request dispatch to reply",
			Buckets: []float64{.005, .01, .05, .1, .5, 1, 5, 10, 30, 60},
		}),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (m *Metrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.dispatchedTotal,
		m.repliesTotal,
		m.timeoutsTotal,
		m.pendingCurrent,
		m.dispatchSeconds,
		m.roundTripSeconds,
	}

	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			// Check if it's already registered (not an error)
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

// RecordDispatch records one router dispatch call.
func (m *Metrics) RecordDispatch(routerName string, duration time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	metrics := m.getOrCreateRouterMetrics(routerName)
	metrics.Dispatched++
	metrics.LastDispatchAt = time.Now()
	outcome := "success"
	if err != nil {
		metrics.Failed++
		outcome = "error"
	}

	m.dispatchedTotal.WithLabelValues(routerName, outcome).Inc()
	m.dispatchSeconds.WithLabelValues(routerName).Observe(duration.Seconds())
}

// RecordReplyResolved records a reply that completed a pending request.
func (m *Metrics) RecordReplyResolved(roundTrip time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.replies.Resolved++
	m.repliesTotal.WithLabelValues("resolved").Inc()
	m.roundTripSeconds.Observe(roundTrip.Seconds())
}

// RecordReplyRedirected records a reply routed onward.
func (m *Metrics) RecordReplyRedirected() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.replies.Redirected++
	m.repliesTotal.WithLabelValues("redirected").Inc()
}

// RecordReplyDropped records a malformed or undeliverable reply.
func (m *Metrics) RecordReplyDropped() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.replies.Dropped++
	m.repliesTotal.WithLabelValues("dropped").Inc()
}

// RecordTimeout records an expired request.
func (m *Metrics) RecordTimeout() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.replies.TimedOut++
	m.timeoutsTotal.Inc()
}

// SetPending sets the number of pending requests.
func (m *Metrics) SetPending(count int) {
	m.pendingCurrent.Set(float64(count))
}

// GetSnapshot returns a point-in-time snapshot of all broker metrics.
func (m *Metrics) GetSnapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := MetricsSnapshot{
		Routers:     make(map[string]*RouterMetrics, len(m.routerCounts)),
		Replies:     m.replies,
		CollectedAt: time.Now(),
	}
	for name, metrics := range m.routerCounts {
		metricsCopy := *metrics
		snapshot.Routers[name] = &metricsCopy
	}
	return snapshot
}

// GetRouterMetrics returns a copy of the counters of one router, or nil.
func (m *Metrics) GetRouterMetrics(routerName string) *RouterMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if metrics, ok := m.routerCounts[routerName]; ok {
		metricsCopy := *metrics
		return &metricsCopy
	}
	return nil
}

func (m *Metrics) getOrCreateRouterMetrics(routerName string) *RouterMetrics {
	if metrics, ok := m.routerCounts[routerName]; ok {
		return metrics
	}
	metrics := &RouterMetrics{}
	m.routerCounts[routerName] = metrics
	return metrics
}

// Reset resets all metrics (useful for testing).
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.routerCounts = make(map[string]*RouterMetrics)
	m.replies = ReplyMetrics{}
	m.dispatchedTotal.Reset()
	m.repliesTotal.Reset()
	m.dispatchSeconds.Reset()
	m.pendingCurrent.Set(0)
}
