// internal/metrics/metrics.go
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"labdevice-service/internal/model"
	"labdevice-service/internal/protocol"
)

const namespace = "labdevice"

// StatsSource reports controllers and the traffic on their transports
type StatsSource interface {
	ListControllers() []model.Controller
	TransportStats(name string) (*protocol.TransportStats, error)
}

// Metrics holds the service metrics and the registry serving them
type Metrics struct {
	registry *prometheus.Registry

	EventsTotal       *prometheus.CounterVec
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
}

// New creates the metrics and registers them, with Go runtime metrics and
// per-controller transport metrics read from source
func New(source StatsSource) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "events",
				Name:      "total",
				Help:      "Total number of events published",
			},
			[]string{"type"},
		),

		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "operations",
				Name:      "total",
				Help:      "Total number of finished device operations",
			},
			[]string{"controller", "operation_type", "status"},
		),

		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "operations",
				Name:      "duration_seconds",
				Help:      "Device operation duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
			},
			[]string{"operation_type"},
		),
	}

	m.registry.MustRegister(
		m.EventsTotal,
		m.OperationsTotal,
		m.OperationDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if source != nil {
		m.registry.MustRegister(newTransportCollector(source))
	}
	return m
}

// Registry returns the underlying Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Observe records one event
func (m *Metrics) Observe(event *model.DeviceEvent) {
	m.EventsTotal.WithLabelValues(string(event.EventType)).Inc()

	switch event.EventType {
	case model.EventOperationCompleted, model.EventOperationFailed:
	default:
		return
	}

	opType, _ := event.Data["operation_type"].(string)
	status, _ := event.Data["status"].(string)
	m.OperationsTotal.WithLabelValues(event.Controller, opType, status).Inc()

	if ms, ok := event.Data["duration_ms"].(float64); ok {
		m.OperationDuration.WithLabelValues(opType).Observe(ms / 1000)
	}
}

// Run records events until ctx is done or events is closed
func (m *Metrics) Run(ctx context.Context, events <-chan *model.DeviceEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			m.Observe(event)
		}
	}
}

// transportCollector reads controller state at scrape time
type transportCollector struct {
	source StatsSource

	online       *prometheus.Desc
	bytesWritten *prometheus.Desc
	bytesRead    *prometheus.Desc
	readTimeouts *prometheus.Desc
	errors       *prometheus.Desc
}

func newTransportCollector(source StatsSource) *transportCollector {
	labels := []string{"controller"}
	return &transportCollector{
		source: source,
		online: prometheus.NewDesc(namespace+"_controller_online",
			"Whether the controller is online", labels, nil),
		bytesWritten: prometheus.NewDesc(namespace+"_transport_bytes_written_total",
			"Bytes written to the controller transport", labels, nil),
		bytesRead: prometheus.NewDesc(namespace+"_transport_bytes_read_total",
			"Bytes read from the controller transport", labels, nil),
		readTimeouts: prometheus.NewDesc(namespace+"_transport_read_timeouts_total",
			"Reads that returned no data before the timeout", labels, nil),
		errors: prometheus.NewDesc(namespace+"_transport_errors_total",
			"Transport read and write errors", labels, nil),
	}
}

func (c *transportCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.online
	ch <- c.bytesWritten
	ch <- c.bytesRead
	ch <- c.readTimeouts
	ch <- c.errors
}

func (c *transportCollector) Collect(ch chan<- prometheus.Metric) {
	for _, controller := range c.source.ListControllers() {
		online := 0.0
		if controller.IsOnline() {
			online = 1
		}
		ch <- prometheus.MustNewConstMetric(c.online, prometheus.GaugeValue, online, controller.Name)

		// Counters restart with each connection
		stats, err := c.source.TransportStats(controller.Name)
		if err != nil {
			continue
		}
		ch <- prometheus.MustNewConstMetric(c.bytesWritten, prometheus.CounterValue, float64(stats.BytesWritten), controller.Name)
		ch <- prometheus.MustNewConstMetric(c.bytesRead, prometheus.CounterValue, float64(stats.BytesRead), controller.Name)
		ch <- prometheus.MustNewConstMetric(c.readTimeouts, prometheus.CounterValue, float64(stats.ReadTimeouts), controller.Name)
		ch <- prometheus.MustNewConstMetric(c.errors, prometheus.CounterValue, float64(stats.ErrorCount), controller.Name)
	}
}
