package measure

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exports the live measurement through Prometheus. A nil *Metrics is valid and does nothing.
type Metrics struct {
	bandwidth prometheus.Gauge
	latency   prometheus.Gauge
	ticks     prometheus.Counter
	bytes     prometheus.Counter
	streams   *prometheus.CounterVec
}

// NewMetrics registers the measurement collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		bandwidth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "speedprobe_bandwidth_bits",
			Help: "Average download bandwidth in bits per second since the start of the run.",
		}),
		latency: factory.NewGauge(prometheus.GaugeOpts{
			Name: "speedprobe_latency_seconds",
			Help: "Mean inter-chunk arrival time across all streams.",
		}),
		ticks: factory.NewCounter(prometheus.CounterOpts{
			Name: "speedprobe_ticks_total",
			Help: "Number of aggregation ticks published.",
		}),
		bytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "speedprobe_bytes_total",
			Help: "Bytes aggregated into the measurement.",
		}),
		streams: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "speedprobe_stream_results_total",
			Help: "Download streams by final state.",
		}, []string{"state"}),
	}
}

func (m *Metrics) observeSnapshot(s Snapshot) {
	if m == nil {
		return
	}
	m.ticks.Inc()
	m.bandwidth.Set(s.AverageBandwidthBits)
	if s.LatencyKnown {
		m.latency.Set(s.AverageLatency.Seconds())
	}
}

func (m *Metrics) addBytes(n int) {
	if m == nil {
		return
	}
	m.bytes.Add(float64(n))
}

func (m *Metrics) observeStream(state StreamState) {
	if m == nil {
		return
	}
	m.streams.WithLabelValues(string(state)).Inc()
}

// meteredSink counts the bytes the window accepted. The first completed
// stream freezes the window and reports itself through onComplete.
type meteredSink struct {
	window     *Window
	metrics    *Metrics
	onComplete func(streamID int)
}

func (s meteredSink) Complete(streamID int) {
	s.window.Freeze()
	if s.onComplete != nil {
		s.onComplete(streamID)
	}
}

func (s meteredSink) Observe(ev ByteEvent) bool {
	accepted := s.window.Observe(ev)
	if accepted {
		s.metrics.addBytes(ev.Bytes)
	}
	return accepted
}
