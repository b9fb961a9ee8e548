// internal/config/store.go
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrUnknownKey is returned by Set for keys outside the editable table.
var ErrUnknownKey = errors.New("config: unknown key")

// Store is the configuration provider.
// Getters return the last committed (or loaded) values.
// Set edits a pending copy; Commit makes it durable and visible.
type Store struct {
	mu      sync.RWMutex
	path    string
	current Config
	pending Config
	log     *slog.Logger
}

// NewStore wraps an already loaded config. path may be empty (no persistence).
func NewStore(path string, cfg Config, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{path: path, current: cfg, pending: cfg, log: log}
}

// Load reads path, falling back to the backup copy and then to defaults.
// Only an invalid configuration is an error.
func Load(path string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}

	cfg, err := readFirst(log, path, backupPath(path))
	if err != nil {
		log.Error("config failure, using defaults", "path", path, "err", err)
		cfg = Default()
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	Normalize(&cfg)

	return NewStore(path, cfg, log), nil
}

// Reload re-reads the file and replaces both committed and pending values.
func (s *Store) Reload() error {
	cfg, err := readFirst(s.log, s.path, backupPath(s.path))
	if err != nil {
		return err
	}
	if err := Validate(&cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	Normalize(&cfg)

	s.mu.Lock()
	s.current = cfg
	s.pending = cfg
	s.mu.Unlock()
	return nil
}

// ---- getters ----

func (s *Store) Get() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *Store) Sensor() SensorConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Sensor
}

func (s *Store) Report() ReportConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Report
}

// ---- editing ----

type setter func(c *Config, v string) error

var editable = map[string]setter{
	"sensor.automatic_calibration": func(c *Config, v string) error { return parseBool(v, &c.Sensor.AutomaticCalibration) },
	"sensor.temperature_offset":    func(c *Config, v string) error { return parseUint(v, &c.Sensor.TemperatureOffset) },
	"sensor.altitude_compensation": func(c *Config, v string) error { return parseUint(v, &c.Sensor.AltitudeCompensation) },
	"sensor.measurement_interval":  func(c *Config, v string) error { return parseUint(v, &c.Sensor.MeasurementInterval) },
	"sensor.ambient_pressure":      func(c *Config, v string) error { return parseUint(v, &c.Sensor.AmbientPressure) },
	"sensor.reading_interval":      func(c *Config, v string) error { return parseUint(v, &c.Sensor.ReadingInterval) },
	"report.enabled":               func(c *Config, v string) error { return parseBool(v, &c.Report.Enabled) },
	"report.threshold":             func(c *Config, v string) error { return parseUint(v, &c.Report.Threshold) },
	"report.url":                   func(c *Config, v string) error { c.Report.URL = v; return nil },
	"report.username":              func(c *Config, v string) error { c.Report.Username = v; return nil },
	"report.password":              func(c *Config, v string) error { c.Report.Password = v; return nil },
	"report.sensor_name":           func(c *Config, v string) error { c.Report.SensorName = v; return nil },
}

// Set edits one key of the pending configuration.
// The change is not visible to getters until Commit.
func (s *Store) Set(key, value string) error {
	fn, ok := editable[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.pending
	if err := fn(&next, value); err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	if err := Validate(&next); err != nil {
		return err
	}
	Normalize(&next)
	s.pending = next
	return nil
}

// Discard drops uncommitted edits.
func (s *Store) Discard() {
	s.mu.Lock()
	s.pending = s.current
	s.mu.Unlock()
}

// Commit publishes pending values and persists them.
// The file is written, read back, and only then copied to the backup.
func (s *Store) Commit() error {
	s.mu.Lock()
	s.current = s.pending
	cfg := s.current
	s.mu.Unlock()

	if s.path == "" {
		return nil
	}

	if err := writeFile(s.path, cfg); err != nil {
		s.log.Error("failed to write config file", "path", s.path, "err", err)
		return err
	}
	if _, err := readFile(s.path); err != nil {
		s.log.Error("config file unreadable after write", "path", s.path, "err", err)
		return err
	}
	if err := writeFile(backupPath(s.path), cfg); err != nil {
		s.log.Error("failed to write config backup", "path", backupPath(s.path), "err", err)
		return err
	}
	return nil
}

// Keys lists the editable keys.
func Keys() []string {
	out := make([]string, 0, len(editable))
	for k := range editable {
		out = append(out, k)
	}
	return out
}

// ---- file helpers ----

func backupPath(path string) string {
	if path == "" {
		return ""
	}
	return path + "~"
}

func readFirst(log *slog.Logger, paths ...string) (Config, error) {
	var last error
	for _, p := range paths {
		if p == "" {
			continue
		}
		cfg, err := readFile(p)
		if err == nil {
			log.Info("loaded config", "path", p)
			return cfg, nil
		}
		log.Warn("config file unusable", "path", p, "err", err)
		last = err
	}
	if last == nil {
		last = errors.New("config: no path")
	}
	return Config{}, last
}

func readFile(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func writeFile(path string, cfg Config) error {
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}

func parseBool(v string, dst *bool) error {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "on", "true", "1", "yes":
		*dst = true
	case "off", "false", "0", "no":
		*dst = false
	default:
		return fmt.Errorf("invalid boolean %q", v)
	}
	return nil
}

func parseUint(v string, dst *uint) error {
	n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 32)
	if err != nil {
		return fmt.Errorf("invalid number %q", v)
	}
	*dst = uint(n)
	return nil
}
