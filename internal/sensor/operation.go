// internal/sensor/operation.go
package sensor

import (
	"math/bits"
	"strings"
)

// Operation is one unit of controller work.
// Lower values run first when several are pending.
type Operation uint8

const (
	OpSoftReset Operation = iota
	OpReadFirmwareVersion
	OpConfigAutomaticCalibration
	OpConfigTemperatureOffset
	OpConfigAltitudeCompensation
	OpConfigContinuousMeasurement
	OpConfigAmbientPressure
	OpCalibrate
	OpTakeMeasurement

	OpNone Operation = 0xFF
)

var operationNames = [...]string{
	OpSoftReset:                   "SOFT_RESET",
	OpReadFirmwareVersion:         "READ_FIRMWARE_VERSION",
	OpConfigAutomaticCalibration:  "CONFIG_AUTOMATIC_CALIBRATION",
	OpConfigTemperatureOffset:     "CONFIG_TEMPERATURE_OFFSET",
	OpConfigAltitudeCompensation:  "CONFIG_ALTITUDE_COMPENSATION",
	OpConfigContinuousMeasurement: "CONFIG_CONTINUOUS_MEASUREMENT",
	OpConfigAmbientPressure:       "CONFIG_AMBIENT_PRESSURE",
	OpCalibrate:                   "CALIBRATE",
	OpTakeMeasurement:             "TAKE_MEASUREMENT",
}

func (op Operation) String() string {
	if int(op) < len(operationNames) {
		return operationNames[op]
	}
	return "NONE"
}

// OperationSet is a bitset of operations. The zero value is empty.
type OperationSet uint32

// NewOperationSet builds a set from ops.
func NewOperationSet(ops ...Operation) OperationSet {
	var s OperationSet
	for _, op := range ops {
		s = s.Add(op)
	}
	return s
}

func (s OperationSet) Add(op Operation) OperationSet {
	if op == OpNone {
		return s
	}
	return s | 1<<op
}

func (s OperationSet) Remove(op Operation) OperationSet {
	if op == OpNone {
		return s
	}
	return s &^ (1 << op)
}

func (s OperationSet) Has(op Operation) bool {
	return op != OpNone && s&(1<<op) != 0
}

func (s OperationSet) Union(o OperationSet) OperationSet { return s | o }

func (s OperationSet) Empty() bool { return s == 0 }

// Next returns the highest-priority (lowest-numbered) member.
func (s OperationSet) Next() (Operation, bool) {
	if s == 0 {
		return OpNone, false
	}
	return Operation(bits.TrailingZeros32(uint32(s))), true
}

// Ops lists members in priority order.
func (s OperationSet) Ops() []Operation {
	var out []Operation
	for s != 0 {
		op, _ := s.Next()
		out = append(out, op)
		s = s.Remove(op)
	}
	return out
}

func (s OperationSet) String() string {
	names := make([]string, 0, bits.OnesCount32(uint32(s)))
	for _, op := range s.Ops() {
		names = append(names, op.String())
	}
	return "{" + strings.Join(names, ",") + "}"
}

// ConfigOperations is the fixed set of register reconciliation operations.
func ConfigOperations() OperationSet {
	return NewOperationSet(
		OpConfigAutomaticCalibration,
		OpConfigTemperatureOffset,
		OpConfigAltitudeCompensation,
		OpConfigContinuousMeasurement,
		OpConfigAmbientPressure,
	)
}
