// internal/config/validate.go
package config

import (
	"fmt"
	"strings"
)

var logLevels = map[string]bool{
	"trace":    true,
	"debug":    true,
	"info":     true,
	"warning":  true,
	"warn":     true,
	"error":    true,
	"critical": true,
}

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil")
	}

	// ------------------------------------------------------------
	// LOG
	// ------------------------------------------------------------

	level := strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	if level != "" && !logLevels[level] {
		return fmt.Errorf("log.level %q: unknown level", cfg.Log.Level)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Log.Format)) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format %q: allowed text, json", cfg.Log.Format)
	}

	// ------------------------------------------------------------
	// DEVICE
	// ------------------------------------------------------------

	switch strings.ToLower(strings.TrimSpace(cfg.Device.Transport)) {
	case "rtu":
		if cfg.Device.SerialPort == "" {
			return fmt.Errorf("device.serial_port is required for rtu transport")
		}
		if cfg.Device.BaudRate <= 0 {
			return fmt.Errorf("device.baud_rate must be > 0, got %d", cfg.Device.BaudRate)
		}
	case "tcp":
		if cfg.Device.Endpoint == "" {
			return fmt.Errorf("device.endpoint is required for tcp transport")
		}
	default:
		return fmt.Errorf("device.transport %q: allowed rtu, tcp", cfg.Device.Transport)
	}

	if cfg.Device.SlaveID == 0 {
		return fmt.Errorf("device.slave_id must be non-zero")
	}
	if cfg.Device.TimeoutMs <= 0 {
		return fmt.Errorf("device.timeout_ms must be > 0, got %d", cfg.Device.TimeoutMs)
	}

	// ------------------------------------------------------------
	// REPORT
	// ------------------------------------------------------------

	// An incomplete report section is not an error: uploading stays
	// disabled until it is completed. Only a URL that can never work is
	// rejected here.
	if u := strings.TrimSpace(cfg.Report.URL); u != "" && !HasUploadScheme(u) {
		return fmt.Errorf("report.url %q: scheme must be http:// or https://", cfg.Report.URL)
	}

	// ------------------------------------------------------------
	// HTTP
	// ------------------------------------------------------------

	if cfg.HTTP.Listen != "" && !strings.Contains(cfg.HTTP.Listen, ":") {
		return fmt.Errorf("http.listen %q: expected host:port", cfg.HTTP.Listen)
	}

	return nil
}

// HasUploadScheme reports whether url starts with an accepted upload scheme.
func HasUploadScheme(url string) bool {
	return strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://")
}
