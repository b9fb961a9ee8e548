// internal/sensor/values.go
package sensor

import (
	"fmt"
	"time"

	"github.com/tamzrod/scd30-monitor/internal/config"
)

// Device register map.
// These values define the protocol and MUST NOT be configurable.
const (
	RegFirmwareVersion      uint16 = 0x0020
	RegMeasurementInterval  uint16 = 0x0025
	RegDataReady            uint16 = 0x0027
	RegMeasurementData      uint16 = 0x0028
	RegSoftReset            uint16 = 0x0034
	RegAmbientPressure      uint16 = 0x0036 // also starts continuous measurement
	RegAltitudeCompensation uint16 = 0x0038
	RegForcedRecalibration  uint16 = 0x0039
	RegAutomaticCalibration uint16 = 0x003A
	RegTemperatureOffset    uint16 = 0x003B

	measurementRegisters = 6
)

// ---- timing ----

const (
	ResetPreDelay      = 60 * time.Second
	ResetPostDelay     = 5 * time.Second
	MeasurementTimeout = 30 * time.Second

	// TransactionTimeout bounds one register request, independent of the
	// transport's own timeout.
	TransactionTimeout = MeasurementTimeout
)

// ---- limits ----

const (
	MinimumCO2PPM         = 200
	MinimumCalibrationPPM = 400
	MaximumCalibrationPPM = 2000
)

// ---- desired register values ----
// Each is re-derived from configuration whenever it is needed.

func AutomaticCalibration(s config.SensorConfig) uint16 {
	if s.AutomaticCalibration {
		return 0x0001
	}
	return 0x0000
}

func TemperatureOffset(s config.SensorConfig) uint16 {
	return clamp(s.TemperatureOffset, 0, 65535)
}

func AltitudeCompensation(s config.SensorConfig) uint16 {
	return clamp(s.AltitudeCompensation, 0, 65535)
}

func MeasurementInterval(s config.SensorConfig) uint16 {
	return clamp(s.MeasurementInterval, 2, 1800)
}

// AmbientPressure returns 0 (compensation disabled) or mbar in [700,1200].
func AmbientPressure(s config.SensorConfig) uint16 {
	if s.AmbientPressure == 0 {
		return 0
	}
	return clamp(s.AmbientPressure, 700, 1200)
}

// readingInterval is the sampling cadence in seconds; 0 disables sampling.
func readingInterval(s config.SensorConfig) uint32 {
	return uint32(clamp(s.ReadingInterval, 0, 255))
}

func clamp(v, lo, hi uint) uint16 {
	if v < lo {
		return uint16(lo)
	}
	if v > hi {
		return uint16(hi)
	}
	return uint16(v)
}

// ---- log formatting ----

func formatEnabled(v uint16) string {
	if v != 0 {
		return "enabled"
	}
	return "disabled"
}

func formatHundredthsCelsius(v uint16) string {
	return fmt.Sprintf("%d.%02d°C", v/100, v%100)
}

func formatMetres(v uint16) string { return fmt.Sprintf("%dm", v) }

func formatSeconds(v uint16) string { return fmt.Sprintf("%ds", v) }

func formatMillibar(v uint16) string { return fmt.Sprintf("%d mbar", v) }
