// internal/app/monitor.go
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tamzrod/scd30-monitor/internal/clock"
	"github.com/tamzrod/scd30-monitor/internal/config"
	"github.com/tamzrod/scd30-monitor/internal/metrics"
	"github.com/tamzrod/scd30-monitor/internal/report"
	"github.com/tamzrod/scd30-monitor/internal/sensor"
	"github.com/tamzrod/scd30-monitor/internal/status"
)

// ErrStopped is returned by commands submitted after Run has returned.
var ErrStopped = errors.New("app: monitor stopped")

// ErrNotPersisted wraps a failure to write applied configuration to disk.
// The values are live but will not survive a restart.
var ErrNotPersisted = errors.New("app: configuration applied but not saved")

// DefaultStepInterval is how often the components are stepped.
const DefaultStepInterval = 100 * time.Millisecond

// ---- collaborators ----

type Sensor interface {
	Step()
	Reset(wait time.Duration)
	Configure(ops ...sensor.Operation)
	RefreshInterval()
	Calibrate(ppm uint) error
	Snapshot() sensor.Snapshot
}

type Reporter interface {
	Tick()
	Configure()
	Stats() report.Stats
}

type Store interface {
	Sensor() config.SensorConfig
	Set(key, value string) error
	Commit() error
	Discard()
	Reload() error
}

type Exporter interface {
	Update(metrics.Sample)
}

// Telemetry is the MQTT mirror's delivery counters.
type Telemetry interface {
	Sent() uint64
	Dropped() uint64
}

// Deps wires a Monitor.
type Deps struct {
	Store    Store
	Sensor   Sensor
	Reporter Reporter
	Clock    clock.Clock
	Log      *slog.Logger

	// Exporter and Telemetry are optional.
	Exporter  Exporter
	Telemetry Telemetry

	// StepInterval defaults to DefaultStepInterval.
	StepInterval time.Duration
}

// View is the state published after every step for concurrent readers.
type View struct {
	Sensor  sensor.Snapshot
	Report  report.Stats
	Status  status.Snapshot
	Updated time.Time
}

type command struct {
	fn   func() error
	done chan error
}

// Monitor is the single-threaded driver loop. Sensor, report and status
// are only touched from Run; other goroutines go through Do.
type Monitor struct {
	store    Store
	sensor   Sensor
	reporter Reporter
	exporter Exporter
	mirror   Telemetry
	clk      clock.Clock
	log      *slog.Logger
	step     time.Duration

	tracker *status.Tracker

	cmds    chan command
	stopped chan struct{}
	view    atomic.Pointer[View]
}

func New(d Deps) (*Monitor, error) {
	if d.Store == nil || d.Sensor == nil || d.Reporter == nil {
		return nil, errors.New("app: store, sensor and reporter are required")
	}
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.StepInterval <= 0 {
		d.StepInterval = DefaultStepInterval
	}

	m := &Monitor{
		store:    d.Store,
		sensor:   d.Sensor,
		reporter: d.Reporter,
		exporter: d.Exporter,
		mirror:   d.Telemetry,
		clk:      d.Clock,
		log:      d.Log,
		step:     d.StepInterval,
		tracker:  status.NewTracker(staleAfter(d.Store.Sensor())),
		cmds:     make(chan command),
		stopped:  make(chan struct{}),
	}
	m.publish()
	return m, nil
}

// staleAfter allows a few missed samples plus one ready timeout.
func staleAfter(s config.SensorConfig) time.Duration {
	if s.ReadingInterval == 0 {
		return 0
	}
	return 3*time.Duration(s.ReadingInterval)*time.Second + sensor.MeasurementTimeout
}

// Run drives the components until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	defer close(m.stopped)

	ticker := time.NewTicker(m.step)
	defer ticker.Stop()

	second := time.NewTicker(time.Second)
	defer second.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case cmd := <-m.cmds:
			cmd.done <- cmd.fn()
			m.publish()

		case <-ticker.C:
			m.Step()

		case <-second.C:
			if m.tracker.Tick(m.clk.Now()) {
				m.logHealth()
			}
			m.export()
		}
	}
}

// Step runs one pass over the components. Run calls it on every tick.
func (m *Monitor) Step() {
	m.sensor.Step()
	m.reporter.Tick()

	snap := m.sensor.Snapshot()
	stats := m.reporter.Stats()
	counters := status.Counters{
		Faults:         snap.Faults,
		Measurements:   snap.Measurements,
		UploadFailures: stats.Failures,
		Sampling:       m.store.Sensor().ReadingInterval > 0,
	}
	if m.tracker.Observe(counters, m.clk.Now()) {
		m.logHealth()
	}

	m.publish()
}

func (m *Monitor) logHealth() {
	s := m.tracker.Snapshot()
	m.log.Info("health changed",
		"health", status.HealthName(s.Health),
		"last_error_code", s.LastErrorCode,
	)
}

func (m *Monitor) publish() {
	m.view.Store(&View{
		Sensor:  m.sensor.Snapshot(),
		Report:  m.reporter.Stats(),
		Status:  m.tracker.Snapshot(),
		Updated: m.clk.Now(),
	})
}

func (m *Monitor) export() {
	if m.exporter == nil {
		return
	}
	v := m.View()
	s := metrics.Sample{
		TemperatureC:       v.Sensor.TemperatureC,
		RelativeHumidityPc: v.Sensor.RelativeHumidityPc,
		CO2PPM:             v.Sensor.CO2PPM,
		Faults:             v.Sensor.Faults,
		Measurements:       v.Sensor.Measurements,
		Report:             v.Report,
		Status:             v.Status,
	}
	if m.mirror != nil {
		s.Telemetry = metrics.TelemetryStats{Sent: m.mirror.Sent(), Dropped: m.mirror.Dropped()}
	}
	m.exporter.Update(s)
}

// View returns the most recently published state. Safe for concurrent use.
func (m *Monitor) View() View {
	return *m.view.Load()
}

// ------------------------------------------------------------
// Commands (safe for concurrent use)
// ------------------------------------------------------------

// Do runs fn on the driver goroutine and waits for its result.
func (m *Monitor) Do(ctx context.Context, fn func() error) error {
	cmd := command{fn: fn, done: make(chan error, 1)}

	select {
	case m.cmds <- cmd:
	case <-m.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-cmd.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Calibrate queues a forced recalibration.
func (m *Monitor) Calibrate(ctx context.Context, ppm uint) error {
	return m.Do(ctx, func() error {
		return m.sensor.Calibrate(ppm)
	})
}

// Reset restarts sensor initialization immediately.
func (m *Monitor) Reset(ctx context.Context) error {
	return m.Do(ctx, func() error {
		m.log.Info("sensor reset requested")
		m.sensor.Reset(0)
		return nil
	})
}

// sensorKeyOps maps editable keys to the register operation they affect.
var sensorKeyOps = map[string]sensor.Operation{
	"sensor.automatic_calibration": sensor.OpConfigAutomaticCalibration,
	"sensor.temperature_offset":    sensor.OpConfigTemperatureOffset,
	"sensor.altitude_compensation": sensor.OpConfigAltitudeCompensation,
	"sensor.measurement_interval":  sensor.OpConfigContinuousMeasurement,
	"sensor.ambient_pressure":      sensor.OpConfigAmbientPressure,
}

// Apply sets and commits values, then re-arms whatever they affect.
// Nothing is applied if any value is rejected.
func (m *Monitor) Apply(ctx context.Context, values map[string]string) error {
	return m.Do(ctx, func() error {
		keys := make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			if err := m.store.Set(k, values[k]); err != nil {
				m.store.Discard()
				return err
			}
		}

		// Committed values are live even if persisting them failed.
		var commitErr error
		if err := m.store.Commit(); err != nil {
			commitErr = fmt.Errorf("%w: %v", ErrNotPersisted, err)
		}

		var ops []sensor.Operation
		reportChanged := false
		intervalChanged := false
		for _, k := range keys {
			if op, ok := sensorKeyOps[k]; ok {
				ops = append(ops, op)
			}
			switch {
			case k == "sensor.reading_interval":
				intervalChanged = true
			case strings.HasPrefix(k, "report."):
				reportChanged = true
			}
		}

		if len(ops) > 0 {
			m.sensor.Configure(ops...)
		}
		if intervalChanged {
			m.sensor.RefreshInterval()
			m.tracker.SetStaleAfter(staleAfter(m.store.Sensor()))
		}
		if reportChanged {
			m.reporter.Configure()
		}

		m.log.Info("configuration updated", "keys", keys)
		return commitErr
	})
}

// Reload re-reads the configuration file and re-applies all of it.
func (m *Monitor) Reload(ctx context.Context) error {
	return m.Do(ctx, func() error {
		if err := m.store.Reload(); err != nil {
			return err
		}
		m.sensor.Configure()
		m.reporter.Configure()
		m.tracker.SetStaleAfter(staleAfter(m.store.Sensor()))
		m.log.Info("configuration reloaded")
		return nil
	})
}
