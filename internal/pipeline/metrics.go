package pipeline

import "github.com/prometheus/client_golang/prometheus"

const (
	namespace = "eegstreamd"
	subsystem = "pipeline"
)

// Metrics holds the pipeline's Prometheus collectors.
type Metrics struct {
	samplesProcessed prometheus.Counter
	samplesRejected  prometheus.Counter
	samplesDropped   prometheus.Gauge
	queueDepth       prometheus.Gauge
	panics           prometheus.Counter
	flushes          *prometheus.CounterVec
	batchSamples     prometheus.Histogram
	flushDuration    prometheus.Histogram
}

// NewMetrics creates and registers the pipeline metrics. A nil registerer
// yields nil metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		samplesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "samples_processed_total",
			Help:      "Samples filtered and queued for transmission",
		}),
		samplesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "samples_rejected_total",
			Help:      "Samples whose channel count did not match the stream",
		}),
		samplesDropped: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "samples_dropped",
			Help:      "Samples evicted from the acquisition queue since start",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "queue_depth",
			Help:      "Samples waiting in the acquisition queue",
		}),
		panics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "recovered_panics_total",
			Help:      "Processing iterations aborted by a recovered panic",
		}),
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "flushes_total",
			Help:      "Transmission buffer flushes by result",
		}, []string{"result"}),
		batchSamples: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "batch_samples",
			Help:      "Samples per transmitted batch",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		flushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "flush_duration_seconds",
			Help:      "Time to packetize and send one batch",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
	}

	reg.MustRegister(m.samplesProcessed, m.samplesRejected, m.samplesDropped,
		m.queueDepth, m.panics, m.flushes, m.batchSamples, m.flushDuration)

	return m
}

func (m *Metrics) processed() {
	if m == nil {
		return
	}
	m.samplesProcessed.Inc()
}

func (m *Metrics) rejected() {
	if m == nil {
		return
	}
	m.samplesRejected.Inc()
}

func (m *Metrics) queue(depth int, dropped uint64) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
	m.samplesDropped.Set(float64(dropped))
}

func (m *Metrics) recovered() {
	if m == nil {
		return
	}
	m.panics.Inc()
}

func (m *Metrics) flushed(ok bool, samples int, seconds float64) {
	if m == nil {
		return
	}
	result := "sent"
	if !ok {
		result = "failed"
	}
	m.flushes.WithLabelValues(result).Inc()
	m.batchSamples.Observe(float64(samples))
	m.flushDuration.Observe(seconds)
}
