// internal/config/normalize.go
package config

import "strings"

// Normalize applies post-validation normalization.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))
	cfg.Device.Transport = strings.ToLower(strings.TrimSpace(cfg.Device.Transport))

	// Upload credentials are compared for emptiness later; whitespace-only
	// values must count as missing.
	cfg.Report.URL = strings.TrimSpace(cfg.Report.URL)
	cfg.Report.Username = strings.TrimSpace(cfg.Report.Username)
	cfg.Report.SensorName = strings.TrimSpace(cfg.Report.SensorName)

	if cfg.Telemetry.ClientID == "" {
		cfg.Telemetry.ClientID = "scd30-monitor"
	}
	if cfg.Telemetry.Topic == "" {
		cfg.Telemetry.Topic = "scd30/readings"
	}
}
