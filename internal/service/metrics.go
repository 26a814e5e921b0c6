package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"gowa-gateway/internal/model"
)

// Metrics are the manager's counters. A nil *Metrics records nothing.
type Metrics struct {
	disconnects       *prometheus.CounterVec
	reconnects        *prometheus.CounterVec
	messagesSent      prometheus.Counter
	messagesReceived  prometheus.Counter
	keepAliveFailures prometheus.Counter
	reaped            prometheus.Counter
	consolidated      prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		disconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gowa_disconnects_total",
			Help: "Session disconnects by classification",
		}, []string{"class", "action"}),
		reconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gowa_reconnects_scheduled_total",
			Help: "Reconnects scheduled by classification",
		}, []string{"class"}),
		messagesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "gowa_messages_sent_total",
			Help: "Text messages sent",
		}),
		messagesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "gowa_messages_received_total",
			Help: "Inbound messages observed",
		}),
		keepAliveFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "gowa_keepalive_failures_total",
			Help: "Failed keep-alive probes",
		}),
		reaped: factory.NewCounter(prometheus.CounterOpts{
			Name: "gowa_sessions_reaped_total",
			Help: "Idle sessions removed by the reaper",
		}),
		consolidated: factory.NewCounter(prometheus.CounterOpts{
			Name: "gowa_sessions_consolidated_total",
			Help: "Duplicate tenant sessions removed",
		}),
	}
}

func (m *Metrics) disconnect(d Decision) {
	if m == nil {
		return
	}
	m.disconnects.WithLabelValues(string(d.Class), d.Action.String()).Inc()
	if d.Action == ActionRetry {
		m.reconnects.WithLabelValues(string(d.Class)).Inc()
	}
}

func (m *Metrics) sent() {
	if m != nil {
		m.messagesSent.Inc()
	}
}

func (m *Metrics) received() {
	if m != nil {
		m.messagesReceived.Inc()
	}
}

func (m *Metrics) keepAliveFailed() {
	if m != nil {
		m.keepAliveFailures.Inc()
	}
}

func (m *Metrics) reap(n int) {
	if m != nil {
		m.reaped.Add(float64(n))
	}
}

func (m *Metrics) consolidate(n int) {
	if m != nil {
		m.consolidated.Add(float64(n))
	}
}

var sessionsDesc = prometheus.NewDesc("gowa_sessions", "Registered sessions by connection state", []string{"state"}, nil)

type sessionsCollector struct {
	m *Manager
}

// Collector exposes the registry size per connection state.
func (m *Manager) Collector() prometheus.Collector {
	return sessionsCollector{m: m}
}

func (c sessionsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- sessionsDesc
}

func (c sessionsCollector) Collect(ch chan<- prometheus.Metric) {
	counts := map[model.ConnectionState]int{
		model.StateConnecting: 0,
		model.StateQR:         0,
		model.StateOpen:       0,
		model.StateClose:      0,
	}
	c.m.mu.Lock()
	for _, s := range c.m.sessions {
		counts[s.state]++
	}
	c.m.mu.Unlock()

	for state, n := range counts {
		ch <- prometheus.MustNewConstMetric(sessionsDesc, prometheus.GaugeValue, float64(n), string(state))
	}
}
