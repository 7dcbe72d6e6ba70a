package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the agent. Each instance owns its
// registry so tests can construct metrics freely without duplicate
// registration panics.
type Metrics struct {
	registry *prometheus.Registry

	// Channel metrics
	ChannelConnected prometheus.Gauge
	ChannelConnects  prometheus.Counter
	Messages         *prometheus.CounterVec

	// Request metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	StreamUnits     prometheus.Counter

	// Block and recovery metrics
	BlocksTotal      *prometheus.CounterVec
	RecoveriesTotal  prometheus.Counter
	RecoveryInFlight prometheus.Gauge
	ReplaysTotal     prometheus.Counter
	PendingRecords   prometheus.Gauge

	// Upload metrics
	UploadSteps *prometheus.CounterVec

	// Registry metrics
	RegistryModels prometheus.Gauge

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time
}

// NewMetrics creates a new metrics collector with its own registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		registry:  registry,
		startTime: time.Now(),

		ChannelConnected: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "agent_channel_connected",
				Help: "Whether the orchestrator channel is currently open (0 or 1)",
			},
		),
		ChannelConnects: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "agent_channel_connects_total",
				Help: "Total number of successful channel connections",
			},
		),
		Messages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_channel_messages_total",
				Help: "Total number of channel messages",
			},
			[]string{"direction", "type"},
		),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_requests_total",
				Help: "Total number of logical requests by terminal outcome",
			},
			[]string{"kind", "outcome"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agent_request_duration_seconds",
				Help:    "Logical request duration in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"kind"},
		),
		StreamUnits: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "agent_stream_units_total",
				Help: "Total number of partial-result units forwarded",
			},
		),

		BlocksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_blocks_total",
				Help: "Total number of detected blocks by kind",
			},
			[]string{"kind"},
		),
		RecoveriesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "agent_recoveries_total",
				Help: "Total number of recovery procedures started",
			},
		),
		RecoveryInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "agent_recovery_in_flight",
				Help: "Whether a recovery procedure is currently running (0 or 1)",
			},
		),
		ReplaysTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "agent_replayed_requests_total",
				Help: "Total number of requests dispatched from the durable store",
			},
		),
		PendingRecords: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "agent_pending_records",
				Help: "Number of records currently in the durable retry store",
			},
		),

		UploadSteps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_upload_steps_total",
				Help: "Total number of upload pipeline steps by status",
			},
			[]string{"step", "status"},
		),

		RegistryModels: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "agent_registry_models",
				Help: "Number of models in the last pushed capability registry",
			},
		),

		Uptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "agent_uptime_seconds",
				Help: "Agent uptime in seconds",
			},
		),
	}

	go m.updateUptime()

	return m
}

// Handler exposes the registry for the ops HTTP surface.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// updateUptime continuously updates the uptime metric.
func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.Uptime.Set(time.Since(m.startTime).Seconds())
	}
}

// RecordMessage records a channel message.
func (m *Metrics) RecordMessage(direction, msgType string) {
	m.Messages.WithLabelValues(direction, msgType).Inc()
}

// RecordRequest records a logical request reaching a terminal outcome.
func (m *Metrics) RecordRequest(kind, outcome string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(kind, outcome).Inc()
	m.RequestDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordBlock records a detected block.
func (m *Metrics) RecordBlock(kind string) {
	m.BlocksTotal.WithLabelValues(kind).Inc()
}

// RecordUploadStep records one upload pipeline step result.
func (m *Metrics) RecordUploadStep(step, status string) {
	m.UploadSteps.WithLabelValues(step, status).Inc()
}

// SetConnected flips the channel connectivity gauge.
func (m *Metrics) SetConnected(connected bool) {
	if connected {
		m.ChannelConnected.Set(1)
		m.ChannelConnects.Inc()
	} else {
		m.ChannelConnected.Set(0)
	}
}

// SetPendingRecords sets the durable store depth gauge.
func (m *Metrics) SetPendingRecords(count int) {
	m.PendingRecords.Set(float64(count))
}

// SetRegistryModels sets the capability registry size gauge.
func (m *Metrics) SetRegistryModels(count int) {
	m.RegistryModels.Set(float64(count))
}
