// internal/report/report.go
package report

import (
	"fmt"
	"log/slog"

	"github.com/tamzrod/scd30-monitor/internal/config"
	"github.com/tamzrod/scd30-monitor/internal/logging"
)

// ------------------------------------------------------------
// Limits
// ------------------------------------------------------------

const (
	// MaxStoredReadings is 30 minutes at a 5 second interval.
	MaxStoredReadings = 360

	// MaxUploadBytes caps one upload body. The first reading is always
	// included even when it alone is larger.
	MaxUploadBytes = 640

	// Baseline rejects timestamps from before the clock was set
	// (2022-02-12 00:00:00 UTC).
	Baseline uint32 = 19035 * 86400
)

// Settings provides the current report configuration.
type Settings interface {
	Report() config.ReportConfig
}

// Observer is told about every reading stored in the buffer.
type Observer interface {
	Accepted(Reading)
}

// Deps wires a Report to its collaborators.
type Deps struct {
	Settings Settings
	Session  Session
	Log      *slog.Logger

	// Observer is optional.
	Observer Observer

	// Capacity overrides MaxStoredReadings when non-zero.
	Capacity int
}

// Stats is a read-only view for status reporting.
type Stats struct {
	Enabled   bool
	State     UploadState
	Stored    int
	Capacity  int
	Overflow  bool
	Uploads   uint64
	Failures  uint64
	Pruned    uint64
	Discarded uint64
}

// Report buffers readings and uploads them in batches.
// Like the sensor controller it is driven from a single goroutine.
type Report struct {
	settings Settings
	session  Session
	observer Observer
	log      *slog.Logger

	readings *Buffer
	overflow bool

	cfg     config.ReportConfig
	enabled bool

	state     UploadState
	firstTS   uint32
	lastTS    uint32
	uploads   uint64
	failures  uint64
	pruned    uint64
	discarded uint64
}

func New(d Deps) (*Report, error) {
	if d.Settings == nil {
		return nil, fmt.Errorf("report: settings required")
	}
	if d.Session == nil {
		return nil, fmt.Errorf("report: http session required")
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.Capacity <= 0 {
		d.Capacity = MaxStoredReadings
	}

	r := &Report{
		settings: d.Settings,
		session:  d.Session,
		observer: d.Observer,
		log:      d.Log,
		readings: NewBuffer(d.Capacity),
		state:    StateIdle,
	}
	r.Configure()
	return r, nil
}

// Configure re-reads the report settings. Uploading stays disabled
// unless every field it needs is present.
func (r *Report) Configure() {
	cfg := r.settings.Report()
	wasEnabled := r.enabled

	enabled := cfg.Enabled
	if cfg.Threshold == 0 {
		enabled = false
	}
	if cfg.URL == "" || !config.HasUploadScheme(cfg.URL) {
		enabled = false
	}
	if cfg.Username == "" {
		enabled = false
	}
	if cfg.Password == "" {
		enabled = false
	}
	if cfg.SensorName == "" {
		enabled = false
	}

	r.cfg = cfg
	r.enabled = enabled

	if wasEnabled != enabled {
		if enabled {
			r.log.Info("reporting enabled")
		} else {
			r.log.Info("reporting disabled")
		}
	}
}

// Add stores a reading and gives the upload pipeline a chance to start.
func (r *Report) Add(timestamp uint32, temperatureC, relativeHumidityPc, co2PPM float32) {
	if timestamp < Baseline {
		logging.Trace(r.log, "ignoring reading before clock sync", "ts", timestamp)
		return
	}

	if last, ok := r.readings.Back(); ok && last.Timestamp() >= timestamp {
		logging.Trace(r.log, "ignoring old reading", "ts", timestamp, "last", last.Timestamp())
		return
	}

	for r.readings.Full() {
		if !r.overflow {
			r.log.Warn("reading storage overflow, discarding old readings")
			r.overflow = true
		}

		old, _ := r.readings.PopFront()
		r.discarded++
		logging.Trace(r.log, "discard reading", "ts", old.Timestamp())
	}

	reading := NewReading(timestamp, temperatureC, relativeHumidityPc, co2PPM)
	r.readings.PushBack(reading)
	logging.Trace(r.log, "add reading", "n", r.readings.Len(), "ts", timestamp)

	if r.observer != nil {
		r.observer.Accepted(reading)
	}

	r.upload(true)
}

// Tick is the periodic step. It never starts a new upload.
func (r *Report) Tick() {
	if r.readings.Len() == 0 {
		r.overflow = false
		return
	}
	r.upload(false)
}

// ---- accessors ----

func (r *Report) Len() int           { return r.readings.Len() }
func (r *Report) At(i int) Reading   { return r.readings.At(i) }
func (r *Report) Overflow() bool     { return r.overflow }
func (r *Report) Enabled() bool      { return r.enabled }
func (r *Report) State() UploadState { return r.state }

func (r *Report) Stats() Stats {
	return Stats{
		Enabled:   r.enabled,
		State:     r.state,
		Stored:    r.readings.Len(),
		Capacity:  r.readings.Cap(),
		Overflow:  r.overflow,
		Uploads:   r.uploads,
		Failures:  r.failures,
		Pruned:    r.pruned,
		Discarded: r.discarded,
	}
}
