// internal/gpio/pin.go
package gpio

import (
	"fmt"

	pgpio "periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// ReadyPin reports the sensor's data-ready line.
type ReadyPin interface {
	Ready() bool
}

// AlwaysReady is used when no data-ready line is wired.
// Reads then rely on the device's own measurement cadence.
type AlwaysReady struct{}

func (AlwaysReady) Ready() bool { return true }

type periphPin struct {
	pin pgpio.PinIO
}

func (p periphPin) Ready() bool {
	return p.pin.Read() == pgpio.High
}

// Open returns the named host GPIO configured as input.
// An empty name yields AlwaysReady.
func Open(name string) (ReadyPin, error) {
	if name == "" {
		return AlwaysReady{}, nil
	}

	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("gpio: host init: %w", err)
	}

	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("gpio: pin %q not found", name)
	}

	// The SCD30 drives RDY push-pull; the pull-down only matters while unpowered.
	if err := p.In(pgpio.PullDown, pgpio.NoEdge); err != nil {
		return nil, fmt.Errorf("gpio: configure %s as input: %w", name, err)
	}

	return periphPin{pin: p}, nil
}
