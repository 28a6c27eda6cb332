package streamServer

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"adbcast/sdriver"
	sagent "adbcast/streamAgent"
)

const namespace = "adbcast"

// Metrics holds the registry's collectors. It is the broadcaster
// observer of every session and counts recorder faults.
type Metrics struct {
	sessions       prometheus.GaugeFunc
	viewers        prometheus.GaugeFunc
	frames         *prometheus.CounterVec
	bytes          *prometheus.CounterVec
	evictions      *prometheus.CounterVec
	recorderFaults prometheus.Counter
	starts         *prometheus.CounterVec
	startLatency   prometheus.Histogram

	factory  promauto.Factory
	registry *Registry
}

var _ sagent.Observer = (*Metrics)(nil)

// NewMetrics registers the collectors with reg. A nil reg keeps them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		factory: factory,
		frames: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Frames delivered to broadcasters, by stream kind",
		}, []string{"kind"}),
		bytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frame_bytes_total",
			Help:      "Payload bytes delivered to broadcasters, by stream kind",
		}, []string{"kind"}),
		evictions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "viewer_evictions_total",
			Help:      "Viewers dropped for falling behind or failing a send",
		}, []string{"reason"}),
		recorderFaults: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recorder_faults_total",
			Help:      "Recordings disabled by a recorder failure",
		}),
		starts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_starts_total",
			Help:      "Session start attempts, by result",
		}, []string{"result"}),
		startLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_start_seconds",
			Help:      "Time from first attach to a streaming session",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}),
	}
}

// bind adds the gauges that read the registry's live state.
func (m *Metrics) bind(r *Registry) {
	if m.registry != nil {
		return
	}
	m.registry = r
	m.sessions = m.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_sessions",
		Help:      "Sessions currently streaming",
	}, func() float64 {
		n, _ := r.counts()
		return float64(n)
	})
	m.viewers = m.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "attached_viewers",
		Help:      "Viewers attached across all sessions",
	}, func() float64 {
		_, n := r.counts()
		return float64(n)
	})
}

func (m *Metrics) FrameBroadcast(kind sdriver.StreamKind, n int) {
	m.frames.WithLabelValues(kind.String()).Inc()
	m.bytes.WithLabelValues(kind.String()).Add(float64(n))
}

func (m *Metrics) ViewerEvicted(reason error) {
	label := "send_failed"
	if errors.Is(reason, sagent.ErrQueueOverflow) {
		label = "overflow"
	}
	m.evictions.WithLabelValues(label).Inc()
}

func (m *Metrics) RecorderFault() { m.recorderFaults.Inc() }

func (m *Metrics) observeStart(d time.Duration, err error) {
	if err != nil {
		m.starts.WithLabelValues("failed").Inc()
		return
	}
	m.starts.WithLabelValues("ok").Inc()
	m.startLatency.Observe(d.Seconds())
}
