// internal/status/constants.go
package status

// ---- HEALTH CODES ----

// HealthUnknown represents the boot state, before the first measurement.
const HealthUnknown uint16 = 0

// HealthOK represents a sensor delivering measurements.
const HealthOK uint16 = 1

// HealthError represents a sensor that was reset after a fault and has not
// produced a measurement since.
const HealthError uint16 = 2

// HealthStale represents a healthy sensor whose last measurement is too old.
const HealthStale uint16 = 3

// HealthDisabled represents sampling turned off by configuration.
const HealthDisabled uint16 = 4

// ---- ERROR CODES ----

const (
	ErrorNone   uint16 = 0
	ErrorDevice uint16 = 1 // register fault, sensor reset
	ErrorUpload uint16 = 2 // last upload attempt failed
)

// ---- LIMITS ----

// MaxSecondsInError is where seconds-in-error saturates. It MUST NOT wrap.
const MaxSecondsInError = 65535

// HealthName returns the lower-case name of a health code.
func HealthName(code uint16) string {
	switch code {
	case HealthUnknown:
		return "unknown"
	case HealthOK:
		return "ok"
	case HealthError:
		return "error"
	case HealthStale:
		return "stale"
	case HealthDisabled:
		return "disabled"
	default:
		return "invalid"
	}
}
