// internal/metrics/metrics.go
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tamzrod/scd30-monitor/internal/report"
	"github.com/tamzrod/scd30-monitor/internal/status"
)

const namespace = "scd30"

// Sample is everything exported in one update.
type Sample struct {
	TemperatureC       float32
	RelativeHumidityPc float32
	CO2PPM             float32

	Faults       uint64
	Measurements uint64

	Report    report.Stats
	Status    status.Snapshot
	Telemetry TelemetryStats
}

// TelemetryStats counts MQTT mirror messages since start.
type TelemetryStats struct {
	Sent    uint64
	Dropped uint64
}

// Metrics exposes monitor state to Prometheus on a private registry.
type Metrics struct {
	reg *prometheus.Registry

	temperature *prometheus.GaugeVec
	humidity    *prometheus.GaugeVec
	co2         *prometheus.GaugeVec

	stored         prometheus.Gauge
	overflow       prometheus.Gauge
	uploadEnabled  prometheus.Gauge
	uploadState    prometheus.Gauge
	health         prometheus.Gauge
	secondsInError prometheus.Gauge

	faults         prometheus.Counter
	measurements   prometheus.Counter
	uploads        prometheus.Counter
	uploadFailures prometheus.Counter
	pruned         prometheus.Counter
	discarded      prometheus.Counter
	mqttSent       prometheus.Counter
	mqttDropped    prometheus.Counter

	sensor string
	last   Sample
}

func newGauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
}

func newCounter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help})
}

func newReadingGauge(name, help string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		},
		[]string{"sensor"},
	)
}

// New builds and registers all collectors. sensorName labels the reading gauges.
func New(sensorName string) *Metrics {
	if sensorName == "" {
		sensorName = "scd30"
	}

	m := &Metrics{
		reg: prometheus.NewRegistry(),

		temperature: newReadingGauge("temperature_celsius", "Air temperature (units: degrees Celsius)"),
		humidity:    newReadingGauge("relative_humidity_percent", "Relative humidity (units: %)"),
		co2:         newReadingGauge("co2_ppm", "Carbon dioxide concentration (units: ppm), NaN below the validity floor"),

		stored:         newGauge("buffered_readings", "Readings waiting to be uploaded"),
		overflow:       newGauge("buffer_overflow", "1 while old readings are being discarded"),
		uploadEnabled:  newGauge("upload_enabled", "1 when uploading is fully configured"),
		uploadState:    newGauge("upload_state", "Upload pipeline state (0 idle .. 4 cleanup)"),
		health:         newGauge("health_code", "0 unknown, 1 ok, 2 error, 3 stale, 4 disabled"),
		secondsInError: newGauge("seconds_in_error", "Seconds since the sensor entered error"),

		faults:         newCounter("sensor_resets_total", "Sensor resets caused by register faults"),
		measurements:   newCounter("measurements_total", "Measurements read from the sensor"),
		uploads:        newCounter("uploads_total", "Batches confirmed by the server"),
		uploadFailures: newCounter("upload_failures_total", "Failed upload attempts"),
		pruned:         newCounter("readings_uploaded_total", "Readings removed after a confirmed upload"),
		discarded:      newCounter("readings_discarded_total", "Readings discarded on buffer overflow"),
		mqttSent:       newCounter("telemetry_sent_total", "Readings published to the MQTT broker"),
		mqttDropped:    newCounter("telemetry_dropped_total", "Readings dropped because the MQTT queue was full"),
	}

	m.reg.MustRegister(
		m.temperature, m.humidity, m.co2,
		m.stored, m.overflow, m.uploadEnabled, m.uploadState, m.health, m.secondsInError,
		m.faults, m.measurements, m.uploads, m.uploadFailures, m.pruned, m.discarded,
		m.mqttSent, m.mqttDropped,
	)

	// Add Go module build info.
	m.reg.MustRegister(collectors.NewBuildInfoCollector())
	m.reg.MustRegister(collectors.NewGoCollector())

	m.sensor = sensorName
	return m
}

// Update publishes s. Counters advance by the difference from the last update.
func (m *Metrics) Update(s Sample) {
	m.temperature.WithLabelValues(m.sensor).Set(float64(s.TemperatureC))
	m.humidity.WithLabelValues(m.sensor).Set(float64(s.RelativeHumidityPc))
	m.co2.WithLabelValues(m.sensor).Set(float64(s.CO2PPM))

	m.stored.Set(float64(s.Report.Stored))
	m.overflow.Set(boolGauge(s.Report.Overflow))
	m.uploadEnabled.Set(boolGauge(s.Report.Enabled))
	m.uploadState.Set(float64(s.Report.State))
	m.health.Set(float64(s.Status.Health))
	m.secondsInError.Set(float64(s.Status.SecondsInError))

	addDelta(m.faults, m.last.Faults, s.Faults)
	addDelta(m.measurements, m.last.Measurements, s.Measurements)
	addDelta(m.uploads, m.last.Report.Uploads, s.Report.Uploads)
	addDelta(m.uploadFailures, m.last.Report.Failures, s.Report.Failures)
	addDelta(m.pruned, m.last.Report.Pruned, s.Report.Pruned)
	addDelta(m.discarded, m.last.Report.Discarded, s.Report.Discarded)
	addDelta(m.mqttSent, m.last.Telemetry.Sent, s.Telemetry.Sent)
	addDelta(m.mqttDropped, m.last.Telemetry.Dropped, s.Telemetry.Dropped)

	m.last = s
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{
		// Opt into OpenMetrics to support exemplars.
		EnableOpenMetrics: true,
	})
}

func addDelta(c prometheus.Counter, prev, cur uint64) {
	if cur > prev {
		c.Add(float64(cur - prev))
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
