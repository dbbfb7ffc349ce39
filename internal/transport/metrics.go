package transport

import "github.com/prometheus/client_golang/prometheus"

const namespace = "eegstreamd"

// Metrics holds the transport's Prometheus collectors.
type Metrics struct {
	packetsSent       prometheus.Counter
	bytesSent         prometheus.Counter
	sendFailures      *prometheus.CounterVec
	shedEvents        prometheus.Counter
	connected         prometheus.Gauge
	datagramsReceived prometheus.Counter
	malformed         prometheus.Counter
}

// NewMetrics creates and registers the transport metrics. A nil registerer
// yields nil metrics, which every call site tolerates.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		packetsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "packets_sent_total",
			Help:      "Datagrams handed to the socket",
		}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "bytes_sent_total",
			Help:      "Payload bytes handed to the socket",
		}),
		sendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "send_failures_total",
			Help:      "Failed sends by reason",
		}, []string{"reason"}),
		shedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "shed_events_total",
			Help:      "Oversized eeg_data payloads truncated to fit a datagram",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "connected",
			Help:      "1 while the sender holds an open socket",
		}),
		datagramsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "datagrams_received_total",
			Help:      "Datagrams read by the receiver",
		}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "malformed_datagrams_total",
			Help:      "Received datagrams dropped because they could not be decoded",
		}),
	}

	reg.MustRegister(m.packetsSent, m.bytesSent, m.sendFailures, m.shedEvents,
		m.connected, m.datagramsReceived, m.malformed)

	return m
}

func (m *Metrics) sent(n int) {
	if m == nil {
		return
	}
	m.packetsSent.Inc()
	m.bytesSent.Add(float64(n))
}

func (m *Metrics) failed(reason string) {
	if m == nil {
		return
	}
	m.sendFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) shed() {
	if m == nil {
		return
	}
	m.shedEvents.Inc()
}

func (m *Metrics) setConnected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
}

func (m *Metrics) received(malformed bool) {
	if m == nil {
		return
	}
	m.datagramsReceived.Inc()
	if malformed {
		m.malformed.Inc()
	}
}
