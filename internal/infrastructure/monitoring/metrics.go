package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. Every method is safe to call on a
// nil *Metrics, so components may run without instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// App supervisor metrics
	AppsRunning     prometheus.Gauge
	AppSpawns       *prometheus.CounterVec
	AppFaults       *prometheus.CounterVec
	AppMessages     *prometheus.CounterVec
	ProtocolDropped *prometheus.CounterVec

	// App registry metrics
	RegistryApps   prometheus.Gauge
	RegistryWrites *prometheus.CounterVec

	// Client and platform metrics
	ClientsConnected prometheus.Gauge
	ClientEvents     *prometheus.CounterVec
	PlatformsRunning prometheus.Gauge
	OutboundSends    *prometheus.CounterVec

	// Progress bus metrics
	ProgressEvents *prometheus.CounterVec

	// Event stream metrics
	StreamConnections prometheus.Gauge

	Uptime    prometheus.GaugeFunc
	startTime time.Time
}

// NewMetrics creates a metrics collector backed by its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "thinghost_http_requests_total",
				Help: "Total number of HTTP API requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "thinghost_http_request_duration_seconds",
				Help:    "HTTP API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		AppsRunning: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "thinghost_apps_running",
				Help: "Number of app processes currently alive",
			},
		),
		AppSpawns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "thinghost_app_spawns_total",
				Help: "Total number of app spawn attempts",
			},
			[]string{"result"},
		),
		AppFaults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "thinghost_app_faults_total",
				Help: "Total number of app process faults",
			},
			[]string{"app", "kind"},
		),
		AppMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "thinghost_app_messages_total",
				Help: "Total number of protocol messages exchanged with apps",
			},
			[]string{"direction", "type"},
		),
		ProtocolDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "thinghost_protocol_dropped_total",
				Help: "Total number of unparseable or unrecognized app messages",
			},
			[]string{"app"},
		),

		RegistryApps: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "thinghost_registry_apps",
				Help: "Number of installed apps",
			},
		),
		RegistryWrites: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "thinghost_registry_writes_total",
				Help: "Total number of coalesced app state writes",
			},
			[]string{"result"},
		),

		ClientsConnected: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "thinghost_clients_connected",
				Help: "Number of clients in the connected state",
			},
		),
		ClientEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "thinghost_client_events_total",
				Help: "Total number of client connect, update and disconnect events",
			},
			[]string{"event"},
		),
		PlatformsRunning: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "thinghost_platforms_running",
				Help: "Number of running transport platforms",
			},
		),
		OutboundSends: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "thinghost_outbound_sends_total",
				Help: "Total number of data sends routed to clients",
			},
			[]string{"platform", "result"},
		),

		ProgressEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "thinghost_progress_events_total",
				Help: "Total number of progress events emitted",
			},
			[]string{"status"},
		),

		StreamConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "thinghost_stream_connections",
				Help: "Number of open event stream connections",
			},
		),
	}

	m.Uptime = factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "thinghost_uptime_seconds",
			Help: "Backend uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordHTTPRequest records an HTTP API request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordSpawn records a spawn attempt.
func (m *Metrics) RecordSpawn(ok bool) {
	if m == nil {
		return
	}
	m.AppSpawns.WithLabelValues(result(ok)).Inc()
}

// RecordFault records an app process fault ("exit", "error", "spawn").
func (m *Metrics) RecordFault(app, kind string) {
	if m == nil {
		return
	}
	m.AppFaults.WithLabelValues(app, kind).Inc()
}

// RecordAppMessage records a protocol message in the given direction.
func (m *Metrics) RecordAppMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.AppMessages.WithLabelValues(direction, msgType).Inc()
}

// RecordProtocolDrop records a dropped app message.
func (m *Metrics) RecordProtocolDrop(app string) {
	if m == nil {
		return
	}
	m.ProtocolDropped.WithLabelValues(app).Inc()
}

// SetAppsRunning sets the number of live app processes.
func (m *Metrics) SetAppsRunning(count int) {
	if m == nil {
		return
	}
	m.AppsRunning.Set(float64(count))
}

// SetRegistryApps sets the number of installed apps.
func (m *Metrics) SetRegistryApps(count int) {
	if m == nil {
		return
	}
	m.RegistryApps.Set(float64(count))
}

// RecordRegistryWrite records a coalesced write.
func (m *Metrics) RecordRegistryWrite(ok bool) {
	if m == nil {
		return
	}
	m.RegistryWrites.WithLabelValues(result(ok)).Inc()
}

// SetClientsConnected sets the number of connected clients.
func (m *Metrics) SetClientsConnected(count int) {
	if m == nil {
		return
	}
	m.ClientsConnected.Set(float64(count))
}

// RecordClientEvent records a client lifecycle event.
func (m *Metrics) RecordClientEvent(event string) {
	if m == nil {
		return
	}
	m.ClientEvents.WithLabelValues(event).Inc()
}

// SetPlatformsRunning sets the number of running platforms.
func (m *Metrics) SetPlatformsRunning(count int) {
	if m == nil {
		return
	}
	m.PlatformsRunning.Set(float64(count))
}

// RecordSend records an outbound send to a client.
func (m *Metrics) RecordSend(platform string, ok bool) {
	if m == nil {
		return
	}
	m.OutboundSends.WithLabelValues(platform, result(ok)).Inc()
}

// RecordProgress records an emitted progress event.
func (m *Metrics) RecordProgress(status string) {
	if m == nil {
		return
	}
	m.ProgressEvents.WithLabelValues(status).Inc()
}

// IncStreamConnections increments open event streams.
func (m *Metrics) IncStreamConnections() {
	if m == nil {
		return
	}
	m.StreamConnections.Inc()
}

// DecStreamConnections decrements open event streams.
func (m *Metrics) DecStreamConnections() {
	if m == nil {
		return
	}
	m.StreamConnections.Dec()
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
