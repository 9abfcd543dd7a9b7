package lcu

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the connector's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	active     prometheus.Gauge
	total      prometheus.Counter
	frames     prometheus.Counter
	dropped    prometheus.Counter
	dispatched *prometheus.CounterVec
	probes     prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	const ns = "lcu"
	m := &Metrics{
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "connections_active",
			Help: "Connections currently tracked by the connector.",
		}),
		total: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "connections_total",
			Help: "Connections created since start.",
		}),
		frames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "frames_received_total",
			Help: "Websocket frames read after the subscribe acknowledgment.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "frames_dropped_total",
			Help: "Websocket frames that failed to decode.",
		}),
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "handler_dispatch_total",
			Help: "Websocket handler invocations by registered uri.",
		}, []string{"uri"}),
		probes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "readiness_probes_total",
			Help: "Readiness probe requests issued.",
		}),
	}
	reg.MustRegister(m.active, m.total, m.frames, m.dropped, m.dispatched, m.probes)
	return m
}

func (m *Metrics) connectionOpened() {
	if m == nil {
		return
	}
	m.active.Inc()
	m.total.Inc()
}

func (m *Metrics) connectionClosed() {
	if m == nil {
		return
	}
	m.active.Dec()
}

func (m *Metrics) frameReceived() {
	if m != nil {
		m.frames.Inc()
	}
}

func (m *Metrics) frameDropped() {
	if m != nil {
		m.dropped.Inc()
	}
}

func (m *Metrics) handlerDispatched(uri string) {
	if m != nil {
		m.dispatched.WithLabelValues(uri).Inc()
	}
}

func (m *Metrics) probeIssued() {
	if m != nil {
		m.probes.Inc()
	}
}
