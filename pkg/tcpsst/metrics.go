package tcpsst

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// metricsSet replaces the teacher's pkg/monitor hand-rolled atomic-
// counter/runtime.MemStats sampler with prometheus/client_golang
// counters and gauges, pulled in the same way dep2p-go-dep2p depends on
// it for transport-layer observability. Every MultiplexedSocket's
// metricsSet points at the same process-wide collectors, which are
// registered once against the default registry when the first socket
// is constructed.
type metricsSet struct {
	framesSent        prometheus.Counter
	framesReceived    prometheus.Counter
	unreliableDropped prometheus.Counter
	activeStreams     prometheus.Gauge
	queueDepth        *prometheus.GaugeVec
}

var (
	metricFramesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tcpsst",
		Name:      "frames_sent_total",
		Help:      "Frames enqueued to a sub-connection.",
	})
	metricFramesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tcpsst",
		Name:      "frames_received_total",
		Help:      "Frames delivered to a registered stream callback.",
	})
	metricUnreliableDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tcpsst",
		Name:      "unreliable_dropped_total",
		Help:      "Unreliable sends dropped at the per-sub-connection high-water mark.",
	})
	metricActiveStreams = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tcpsst",
		Name:      "active_streams",
		Help:      "LogicalStreams currently registered in the stream table.",
	})
	metricQueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tcpsst",
		Name:      "subconn_queue_depth",
		Help:      "Outbound queue depth of a sub-connection's write pump.",
	}, []string{"subconn_index"})

	metricsOnce sync.Once
)

func newMetricsSet() *metricsSet {
	metricsOnce.Do(func() {
		prometheus.MustRegister(
			metricFramesSent,
			metricFramesReceived,
			metricUnreliableDropped,
			metricActiveStreams,
			metricQueueDepth,
		)
	})
	return &metricsSet{
		framesSent:        metricFramesSent,
		framesReceived:    metricFramesReceived,
		unreliableDropped: metricUnreliableDropped,
		activeStreams:     metricActiveStreams,
		queueDepth:        metricQueueDepth,
	}
}
