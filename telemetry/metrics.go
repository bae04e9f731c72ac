// Package telemetry provides Prometheus metrics for zyre nodes.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for a set of nodes.
type Metrics struct {
	// Lifecycle metrics
	NodeStarts *prometheus.CounterVec

	// Messaging metrics
	MessagesSent *prometheus.CounterVec
	SendFrames   prometheus.Histogram

	// Receive metrics
	EventsReceived      *prometheus.CounterVec
	RawMessagesReceived prometheus.Counter

	// Peer metrics
	Peers prometheus.Gauge

	gatherer prometheus.Gatherer
}

// NewMetrics creates metrics under namespace and registers them with reg.
// A nil reg uses a fresh private registry.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	m := &Metrics{
		NodeStarts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_starts_total",
			Help:      "Node start attempts by result",
		}, []string{"result"}),

		MessagesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Whisper and shout hand-offs by kind and result",
		}, []string{"kind", "result"}),
		SendFrames: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "send_frames",
			Help:      "Number of frames per sent message",
			Buckets:   []float64{1, 2, 3, 5, 10, 25, 50, 100},
		}),

		EventsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_received_total",
			Help:      "Decoded events by type",
		}, []string{"type"}),
		RawMessagesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "raw_messages_received_total",
			Help:      "Occurrences pulled with ReceiveRaw",
		}),

		Peers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peers",
			Help:      "Peers currently entered, as seen through received events",
		}),
	}
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m
}

// RecordStart records a node start attempt.
func (m *Metrics) RecordStart(success bool) {
	m.NodeStarts.WithLabelValues(result(success)).Inc()
}

// RecordSend records a whisper or shout hand-off.
func (m *Metrics) RecordSend(kind string, frames int, success bool) {
	m.MessagesSent.WithLabelValues(kind, result(success)).Inc()
	m.SendFrames.Observe(float64(frames))
}

// RecordEvent records a decoded event and tracks peer arrivals and departures.
func (m *Metrics) RecordEvent(eventType string) {
	m.EventsReceived.WithLabelValues(eventType).Inc()
	m.trackPeers(eventType)
}

// RecordRawReceive records a payload pulled without decoding. Arrivals and
// departures still move the peers gauge.
func (m *Metrics) RecordRawReceive(eventType string) {
	m.RawMessagesReceived.Inc()
	m.trackPeers(eventType)
}

func (m *Metrics) trackPeers(eventType string) {
	switch eventType {
	case "ENTER":
		m.Peers.Inc()
	case "EXIT":
		m.Peers.Dec()
	}
}

// Handler serves the registry the metrics were registered with.
func (m *Metrics) Handler() http.Handler {
	if m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func result(success bool) string {
	if success {
		return "ok"
	}
	return "error"
}

// MetricsServer runs an HTTP server exposing /metrics endpoint.
type MetricsServer struct {
	server *http.Server
}

// NewMetricsServer creates a new metrics server on the given address.
func NewMetricsServer(addr string, m *Metrics) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &MetricsServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Handler returns the server's mux.
func (s *MetricsServer) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the metrics server (blocking).
func (s *MetricsServer) Start() error {
	return s.server.ListenAndServe()
}

// StartAsync starts the metrics server in a goroutine.
func (s *MetricsServer) StartAsync() {
	go func() {
		_ = s.server.ListenAndServe()
	}()
}

// Stop gracefully stops the metrics server.
func (s *MetricsServer) Stop() error {
	return s.server.Close()
}
