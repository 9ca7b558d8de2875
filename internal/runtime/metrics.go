package runtime

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcomes recorded for handled requests.
const (
	OutcomeReplied   = "replied"
	OutcomeNoReply   = "no_reply"
	OutcomeError     = "error"
	OutcomePanic     = "panic"
	OutcomeTimeout   = "timeout"
	OutcomeReplyFail = "reply_failed"
)

// Reasons recorded for dropped messages.
const (
	DropMalformed  = "malformed"
	DropNoEndpoint = "no_endpoint"
	DropInFlight   = "in_flight_limit"
)

// RelayMetrics holds the relay's Prometheus collectors together with plain
// counters that back Snapshot. A nil *RelayMetrics records nothing.
type RelayMetrics struct {
	mu         sync.Mutex
	registerer prometheus.Registerer
	registered bool

	received   *prometheus.CounterVec
	dropped    *prometheus.CounterVec
	outcomes   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	inFlight   prometheus.Gauge
	reconnects prometheus.Counter
	state      prometheus.Gauge

	receivedTotal   atomic.Uint64
	droppedTotal    atomic.Uint64
	repliedTotal    atomic.Uint64
	failedTotal     atomic.Uint64
	timedOutTotal   atomic.Uint64
	reconnectsTotal atomic.Uint64
}

// MetricsSnapshot is a point-in-time view of the relay counters.
type MetricsSnapshot struct {
	Received    uint64    `json:"received"`
	Dropped     uint64    `json:"dropped"`
	Replied     uint64    `json:"replied"`
	Failed      uint64    `json:"failed"`
	TimedOut    uint64    `json:"timed_out"`
	Reconnects  uint64    `json:"reconnects"`
	CollectedAt time.Time `json:"collected_at"`
}

const (
	metricsNamespace = "protorelay"
	metricsSubsystem = "relay"
)

func newCounterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

func newGauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      name,
		Help:      help,
	})
}

// NewRelayMetrics creates the collectors. They are not registered until
// Register is called.
func NewRelayMetrics(registerer prometheus.Registerer) *RelayMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &RelayMetrics{
		registerer: registerer,
		received:   newCounterVec("messages_received_total", "Messages received per topic.", "topic"),
		dropped:    newCounterVec("messages_dropped_total", "Messages dropped before reaching a handler.", "reason"),
		outcomes:   newCounterVec("requests_total", "Handled requests per topic and outcome.", "topic", "outcome"),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "handler_duration_seconds",
			Help:      "Handler run time until reply, failure or timeout.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2, 5},
		}, []string{"topic"}),
		inFlight:   newGauge("handlers_in_flight", "Handlers currently running."),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{Namespace: metricsNamespace, Subsystem: metricsSubsystem, Name: "reconnects_total", Help: "Transport reconnects after connection loss."}),
		state:      newGauge("connection_state", "Lifecycle state: 0 disconnected, 1 subscribing, 2 listening, 3 reconnecting."),
	}
}

// Register registers the collectors. Calling it again is a no-op.
func (m *RelayMetrics) Register() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}
	for _, c := range []prometheus.Collector{m.received, m.dropped, m.outcomes, m.duration, m.inFlight, m.reconnects, m.state} {
		if err := m.registerer.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return err
			}
		}
	}
	m.registered = true
	return nil
}

func (m *RelayMetrics) Received(topic string) {
	if m == nil {
		return
	}
	m.receivedTotal.Add(1)
	m.received.WithLabelValues(topic).Inc()
}

func (m *RelayMetrics) Dropped(reason string) {
	if m == nil {
		return
	}
	m.droppedTotal.Add(1)
	m.dropped.WithLabelValues(reason).Inc()
}

// Handled records how a handler invocation ended.
func (m *RelayMetrics) Handled(topic, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	switch outcome {
	case OutcomeReplied:
		m.repliedTotal.Add(1)
	case OutcomeTimeout:
		m.timedOutTotal.Add(1)
	case OutcomeError, OutcomePanic, OutcomeReplyFail:
		m.failedTotal.Add(1)
	}
	m.outcomes.WithLabelValues(topic, outcome).Inc()
	m.duration.WithLabelValues(topic).Observe(took.Seconds())
}

func (m *RelayMetrics) HandlerStarted() {
	if m != nil {
		m.inFlight.Inc()
	}
}

func (m *RelayMetrics) HandlerFinished() {
	if m != nil {
		m.inFlight.Dec()
	}
}

func (m *RelayMetrics) Reconnected() {
	if m == nil {
		return
	}
	m.reconnectsTotal.Add(1)
	m.reconnects.Inc()
}

func (m *RelayMetrics) SetState(s State) {
	if m != nil {
		m.state.Set(float64(s))
	}
}

// Snapshot returns the running totals.
func (m *RelayMetrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{CollectedAt: time.Now()}
	if m == nil {
		return snap
	}
	snap.Received = m.receivedTotal.Load()
	snap.Dropped = m.droppedTotal.Load()
	snap.Replied = m.repliedTotal.Load()
	snap.Failed = m.failedTotal.Load()
	snap.TimedOut = m.timedOutTotal.Load()
	snap.Reconnects = m.reconnectsTotal.Load()
	return snap
}
