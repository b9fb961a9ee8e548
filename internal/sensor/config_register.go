// internal/sensor/config_register.go
package sensor

import (
	"github.com/tamzrod/scd30-monitor/internal/config"
	"github.com/tamzrod/scd30-monitor/internal/logging"
	"github.com/tamzrod/scd30-monitor/internal/registers"
)

// configRegister describes one read-modify-write reconciliation.
type configRegister struct {
	name    string
	address uint16

	// alwaysWrite re-asserts the value even when the device already holds it.
	alwaysWrite bool

	value  func(config.SensorConfig) uint16
	format func(uint16) string

	// toggle logs an enable/disable action instead of from/to values.
	toggle bool
}

var configRegisters = map[Operation]configRegister{
	OpConfigAutomaticCalibration: {
		name:    "automatic calibration",
		address: RegAutomaticCalibration,
		value:   AutomaticCalibration,
		format:  formatEnabled,
		toggle:  true,
	},
	OpConfigTemperatureOffset: {
		name:    "temperature offset",
		address: RegTemperatureOffset,
		value:   TemperatureOffset,
		format:  formatHundredthsCelsius,
	},
	OpConfigAltitudeCompensation: {
		name:    "altitude compensation",
		address: RegAltitudeCompensation,
		value:   AltitudeCompensation,
		format:  formatMetres,
	},
	OpConfigContinuousMeasurement: {
		name:    "measurement interval",
		address: RegMeasurementInterval,
		value:   MeasurementInterval,
		format:  formatSeconds,
	},
	// Writing this register (re)starts continuous measurement on the device,
	// so it is asserted every cycle.
	OpConfigAmbientPressure: {
		name:        "continuous measurement with ambient pressure",
		address:     RegAmbientPressure,
		alwaysWrite: true,
		value:       AmbientPressure,
		format:      formatMillibar,
	},
}

func (c *Controller) updateConfigRegister(reg configRegister) bool {
	if c.tx == nil {
		c.log.Debug("reading configuration", "register", reg.name)
		c.issue(c.client.ReadHoldingRegisters(reg.address, 1))
		c.writing = false
		return false
	}

	res, done := c.poll()
	if !done {
		return false
	}

	if c.writing {
		if res.Kind != registers.WriteAck || len(res.Values) < 1 {
			logging.Critical(c.log, "failed to write configuration", "register", reg.name, "result", res.Kind, "err", res.Err)
			c.fault()
			return false
		}

		c.log.Info("configuration written", "register", reg.name, "value", reg.format(c.writeVal))
		c.finish()
		return true
	}

	if res.Kind != registers.ReadData || len(res.Values) < 1 {
		logging.Critical(c.log, "failed to read configuration", "register", reg.name, "result", res.Kind, "err", res.Err)
		c.fault()
		return false
	}

	desired := reg.value(c.settings.Sensor())
	current := res.Values[0]

	if current == desired && !reg.alwaysWrite {
		c.log.Debug("configuration unchanged", "register", reg.name, "value", reg.format(current))
		c.finish()
		return true
	}

	if reg.toggle {
		c.log.Info("updating configuration", "register", reg.name, "action", verb(desired))
	} else {
		c.log.Info("updating configuration", "register", reg.name, "from", reg.format(current), "to", reg.format(desired))
	}

	c.writing = true
	c.writeVal = desired
	c.issue(c.client.WriteHoldingRegister(reg.address, desired))
	return false
}

func verb(v uint16) string {
	if v != 0 {
		return "enabling"
	}
	return "disabling"
}
