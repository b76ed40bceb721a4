package status

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pdmux"

var (
	outputEnabledDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "output", "enabled"),
		"Whether the output rail is enabled.", nil, nil)
	requiredPowerDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "output", "required_power_milliwatts"),
		"Power the output needs before it is enabled.", nil, nil)
	availablePowerDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "output", "available_power_milliwatts"),
		"Sum of the max power of the selected capabilities.", nil, nil)
	incompatibleDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "output", "incompatible_voltages"),
		"Whether two sources offer no common voltage.", nil, nil)
	portActiveDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "port", "active"),
		"Whether a source advertised capabilities on the port.", []string{"port"}, nil)
	portVoltageDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "port", "voltage_millivolts"),
		"Voltage of the selected capability.", []string{"port"}, nil)
	portRequestedDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "port", "requested_power_milliwatts"),
		"Power of the last request.", []string{"port"}, nil)
	portReadyDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "port", "ready"),
		"Whether the source reported its supply ready.", []string{"port"}, nil)
)

// collector exports the status snapshot taken at scrape time.
type collector struct {
	src Source
}

// Describe implements prometheus.Collector.
func (c collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		outputEnabledDesc, requiredPowerDesc, availablePowerDesc, incompatibleDesc,
		portActiveDesc, portVoltageDesc, portRequestedDesc, portReadyDesc,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c collector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Status()
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}
	gauge(outputEnabledDesc, boolValue(s.OutputEnabled))
	gauge(requiredPowerDesc, float64(s.RequiredPowerMW))
	gauge(availablePowerDesc, float64(s.AvailablePowerMW))
	gauge(incompatibleDesc, boolValue(s.Incompatible))
	for _, p := range s.Ports {
		gauge(portActiveDesc, boolValue(p.Active), p.Port)
		gauge(portVoltageDesc, float64(p.VoltageMV), p.Port)
		gauge(portRequestedDesc, float64(p.RequestedMW), p.Port)
		gauge(portReadyDesc, boolValue(p.Ready), p.Port)
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// httpMetrics counts and times the requests served by the router.
type httpMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newHTTPMetrics() *httpMetrics {
	return &httpMetrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
	}
}

func (m *httpMetrics) record(method, path string, status int, d time.Duration) {
	label := strconv.Itoa(status)
	m.requests.WithLabelValues(method, path, label).Inc()
	m.duration.WithLabelValues(method, path, label).Observe(d.Seconds())
}

// NewRegistry returns a registry holding the status collector of src.
func NewRegistry(src Source) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collector{src: src})
	return reg
}
