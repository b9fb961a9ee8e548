// internal/status/snapshot.go
package status

// Snapshot is the current health of the monitor.
// It contains no logic and no memory of the past beyond current state.
type Snapshot struct {
	Health         uint16 `json:"health"`
	LastErrorCode  uint16 `json:"last_error_code"`
	SecondsInError uint16 `json:"seconds_in_error"`
}

// OK reports whether the snapshot should be served as healthy.
func (s Snapshot) OK() bool {
	return s.Health == HealthOK || s.Health == HealthDisabled
}
