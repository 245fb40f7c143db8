package broker

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes the broker activity as prometheus collectors.
type Metrics struct {
	mutations    *prometheus.CounterVec
	messages     *prometheus.CounterVec
	sendFailures *prometheus.CounterVec
	persistence  *prometheus.CounterVec
	connections  prometheus.Gauge
	dropped      prometheus.Counter
}

func newMetrics() *Metrics {
	return &Metrics{
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storesync",
			Name:      "mutations_total",
			Help:      "Mutations hooked from the state container.",
		}, []string{"result"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storesync",
			Name:      "messages_sent_total",
			Help:      "Messages sent to connections.",
		}, []string{"message_type"}),
		sendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storesync",
			Name:      "send_failures_total",
			Help:      "Messages that could not be sent to a connection.",
		}, []string{"message_type"}),
		persistence: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storesync",
			Name:      "persistence_operations_total",
			Help:      "Reads and writes of persistent states.",
		}, []string{"operation", "result"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "storesync",
			Name:      "connections",
			Help:      "Attached connections.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "storesync",
			Name:      "dropped_messages_total",
			Help:      "Inbound messages that were not mutation messages.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.mutations, m.messages, m.sendFailures, m.persistence, m.connections, m.dropped}
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}
