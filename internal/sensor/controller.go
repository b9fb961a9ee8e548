// internal/sensor/controller.go
package sensor

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/tamzrod/scd30-monitor/internal/clock"
	"github.com/tamzrod/scd30-monitor/internal/config"
	"github.com/tamzrod/scd30-monitor/internal/gpio"
	"github.com/tamzrod/scd30-monitor/internal/logging"
	"github.com/tamzrod/scd30-monitor/internal/registers"
)

// ErrCalibrationRange is returned by Calibrate for values the device rejects.
var ErrCalibrationRange = errors.New("sensor: calibration value out of range")

// Settings provides the current sensor configuration.
type Settings interface {
	Sensor() config.SensorConfig
}

// Sink receives every successful measurement.
type Sink interface {
	Add(timestamp uint32, temperatureC, relativeHumidityPc, co2PPM float32)
}

type measurementStatus uint8

const (
	measurementIdle measurementStatus = iota
	measurementPending
	measurementWaiting
)

// maxDispatch bounds how many operations one Step may start or finish.
const maxDispatch = 16

// Deps wires the controller to its collaborators.
type Deps struct {
	Client   registers.Client
	Ready    gpio.ReadyPin
	Settings Settings
	Sink     Sink
	Clock    clock.Clock
	Log      *slog.Logger

	// StartupDelay is the settle time before the first soft reset.
	StartupDelay time.Duration
}

// Controller runs one register operation at a time against the sensor.
// It is not safe for concurrent use; Step and the mutators must be
// called from the same goroutine.
type Controller struct {
	client   registers.Client
	ready    gpio.ReadyPin
	settings Settings
	sink     Sink
	clk      clock.Clock
	log      *slog.Logger

	configOps OperationSet
	pending   OperationSet
	current   Operation
	tx        *registers.Transaction
	txStart   time.Time
	writing   bool   // tx is the write half of a read-modify-write
	writeVal  uint16 // value sent by that write

	interval uint32

	resetStart    time.Time
	resetWait     time.Duration
	resetComplete bool

	lastReading      uint32
	measurementStart time.Time
	measurement      measurementStatus

	calibrationPPM uint16

	firmwareMajor uint8
	firmwareMinor uint8
	temperatureC  float32
	humidityPc    float32
	co2PPM        float32

	faults       uint64
	measurements uint64
}

// New builds a controller and arms the initialization sequence.
func New(d Deps) (*Controller, error) {
	if d.Client == nil {
		return nil, errors.New("sensor: register client required")
	}
	if d.Settings == nil {
		return nil, errors.New("sensor: settings required")
	}
	if d.Sink == nil {
		return nil, errors.New("sensor: sink required")
	}
	if d.Ready == nil {
		d.Ready = gpio.AlwaysReady{}
	}
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}

	c := &Controller{
		client:       d.Client,
		ready:        d.Ready,
		settings:     d.Settings,
		sink:         d.Sink,
		clk:          d.Clock,
		log:          d.Log,
		configOps:    ConfigOperations(),
		current:      OpNone,
		temperatureC: float32(math.NaN()),
		humidityPc:   float32(math.NaN()),
		co2PPM:       float32(math.NaN()),
	}
	c.Reset(d.StartupDelay)
	return c, nil
}

// Reset abandons all work and restarts device initialization after wait.
func (c *Controller) Reset(wait time.Duration) {
	c.pending = NewOperationSet(OpSoftReset)
	c.current = OpNone
	c.tx = nil
	c.writing = false

	c.pending = c.pending.Add(OpReadFirmwareVersion)
	c.Configure()

	c.resetStart = c.clk.Now()
	c.resetWait = wait
	c.resetComplete = false
	c.lastReading = 0
	c.measurement = measurementPending
}

// Configure re-arms configuration operations (all of them when ops is empty)
// and re-reads the sampling interval.
func (c *Controller) Configure(ops ...Operation) {
	if len(ops) == 0 {
		c.pending = c.pending.Union(c.configOps)
	} else {
		for _, op := range ops {
			if c.configOps.Has(op) {
				c.pending = c.pending.Add(op)
			}
		}
	}

	c.RefreshInterval()
}

// RefreshInterval re-reads the sampling interval without touching registers.
func (c *Controller) RefreshInterval() {
	c.interval = readingInterval(c.settings.Sensor())
}

// Calibrate queues a forced recalibration to ppm.
func (c *Controller) Calibrate(ppm uint) error {
	if ppm < MinimumCalibrationPPM || ppm > MaximumCalibrationPPM {
		return fmt.Errorf("%w: %d ppm (allowed %d-%d)",
			ErrCalibrationRange, ppm, MinimumCalibrationPPM, MaximumCalibrationPPM)
	}
	c.calibrationPPM = uint16(ppm)
	c.pending = c.pending.Add(OpCalibrate)
	return nil
}

// Step advances the state machine until it would wait on I/O or time.
func (c *Controller) Step() {
	if c.measurement == measurementIdle && c.interval > 0 {
		now := clock.UnixSeconds(c.clk)

		if now > c.lastReading && now%c.interval == 0 {
			logging.Trace(c.log, "take measurement")
			c.pending = c.pending.Add(OpTakeMeasurement)
			c.measurement = measurementPending
		}
	}

	for i := 0; i < maxDispatch; i++ {
		if c.current == OpNone {
			op, ok := c.pending.Next()
			if !ok {
				return
			}
			c.pending = c.pending.Remove(op)
			c.current = op
		}

		if !c.run() {
			return
		}
	}
}

// run executes the current operation.
// It returns true only when the operation finished and the next one may start.
func (c *Controller) run() bool {
	switch c.current {
	case OpSoftReset:
		return c.softReset()
	case OpReadFirmwareVersion:
		return c.readFirmwareVersion()
	case OpConfigAutomaticCalibration,
		OpConfigTemperatureOffset,
		OpConfigAltitudeCompensation,
		OpConfigContinuousMeasurement,
		OpConfigAmbientPressure:
		return c.updateConfigRegister(configRegisters[c.current])
	case OpCalibrate:
		return c.calibrate()
	case OpTakeMeasurement:
		return c.takeMeasurement()
	default:
		c.log.Error("unknown operation", "op", c.current)
		c.finish()
		return true
	}
}

func (c *Controller) issue(tx *registers.Transaction) {
	c.tx = tx
	c.txStart = c.clk.Now()
}

// poll returns the resolved result of the in-flight transaction.
// A transaction still pending after TransactionTimeout resets the controller.
func (c *Controller) poll() (registers.Result, bool) {
	res := c.tx.Result()
	if res.Kind != registers.Pending {
		return res, true
	}

	if c.elapsed(c.txStart) >= TransactionTimeout {
		logging.Critical(c.log, "register transaction timed out", "op", c.current)
		c.fault()
	}
	return res, false
}

func (c *Controller) finish() {
	c.tx = nil
	c.writing = false
	c.current = OpNone
}

// fault funnels every device failure into a full reset.
func (c *Controller) fault() {
	c.faults++
	c.Reset(ResetPreDelay)
}

func (c *Controller) elapsed(since time.Time) time.Duration {
	return c.clk.Now().Sub(since)
}

// ---- operations ----

func (c *Controller) softReset() bool {
	if c.tx == nil {
		if c.elapsed(c.resetStart) >= c.resetWait {
			c.log.Debug("restarting sensor")
			c.issue(c.client.WriteHoldingRegister(RegSoftReset, 0x0001))
			c.resetComplete = false
		}
		return false
	}

	res, done := c.poll()
	if !done {
		return false
	}

	if res.Kind != registers.WriteAck || len(res.Values) < 1 || res.Values[0] != 0x0001 {
		logging.Critical(c.log, "failed to restart sensor", "result", res.Kind, "err", res.Err)
		c.fault()
		return false
	}

	if !c.resetComplete {
		c.log.Info("restarted sensor")
		c.resetStart = c.clk.Now()
		c.resetComplete = true
		return false
	}

	if c.elapsed(c.resetStart) < ResetPostDelay {
		return false
	}

	c.finish()
	c.measurement = measurementIdle
	return true
}

func (c *Controller) readFirmwareVersion() bool {
	if c.tx == nil {
		c.log.Debug("reading firmware version")
		c.issue(c.client.ReadHoldingRegisters(RegFirmwareVersion, 1))
		return false
	}

	res, done := c.poll()
	if !done {
		return false
	}

	if res.Kind != registers.ReadData || len(res.Values) < 1 {
		c.log.Warn("failed to read firmware version", "result", res.Kind, "err", res.Err)
		c.fault()
		return false
	}

	c.firmwareMajor = uint8(res.Values[0] >> 8)
	c.firmwareMinor = uint8(res.Values[0] & 0xFF)
	c.log.Debug("firmware version", "version", c.FirmwareVersion())

	c.finish()
	return true
}

func (c *Controller) calibrate() bool {
	if c.tx == nil {
		c.log.Info("writing calibration value", "co2_ppm", c.calibrationPPM)
		c.issue(c.client.WriteHoldingRegister(RegForcedRecalibration, c.calibrationPPM))
		return false
	}

	res, done := c.poll()
	if !done {
		return false
	}

	if res.Kind != registers.WriteAck || len(res.Values) < 1 {
		logging.Critical(c.log, "failed to set calibration value", "result", res.Kind, "err", res.Err)
		c.fault()
		return false
	}

	c.log.Info("calibrated CO₂", "co2_ppm", res.Values[0])
	c.finish()
	return true
}

func (c *Controller) takeMeasurement() bool {
	if c.tx == nil {
		switch {
		case c.ready.Ready():
			logging.Trace(c.log, "read measurement data")
			c.issue(c.client.ReadHoldingRegisters(RegMeasurementData, measurementRegisters))
		case c.measurement == measurementWaiting:
			if c.elapsed(c.measurementStart) >= MeasurementTimeout {
				logging.Critical(c.log, "timeout waiting for measurement to be ready")
				c.fault()
			}
		default:
			c.measurement = measurementWaiting
			c.measurementStart = c.clk.Now()
		}
		return false
	}

	res, done := c.poll()
	if !done {
		return false
	}

	if res.Kind != registers.ReadData || len(res.Values) < measurementRegisters {
		logging.Critical(c.log, "failed to read measurement data", "result", res.Kind, "values", len(res.Values), "err", res.Err)
		c.fault()
		return false
	}

	now := clock.UnixSeconds(c.clk)
	co2 := decodeFloat(res.Values[0], res.Values[1])
	c.temperatureC = decodeFloat(res.Values[2], res.Values[3])
	c.humidityPc = decodeFloat(res.Values[4], res.Values[5])

	c.log.Debug("measurement",
		"temperature_c", c.temperatureC,
		"relative_humidity_pc", c.humidityPc,
		"co2_ppm", co2,
	)

	if co2 >= MinimumCO2PPM {
		c.co2PPM = co2
	} else {
		c.co2PPM = float32(math.NaN())
	}

	c.sink.Add(now, c.temperatureC, c.humidityPc, c.co2PPM)

	c.lastReading = now
	c.measurement = measurementIdle
	c.measurements++

	c.finish()
	return true
}

// decodeFloat joins a big-endian register pair into an IEEE-754 float.
func decodeFloat(hi, lo uint16) float32 {
	return math.Float32frombits(uint32(hi)<<16 | uint32(lo))
}

// ---- accessors ----

func (c *Controller) FirmwareVersion() string {
	return fmt.Sprintf("%d.%d", c.firmwareMajor, c.firmwareMinor)
}

func (c *Controller) Temperature() float32      { return c.temperatureC }
func (c *Controller) RelativeHumidity() float32 { return c.humidityPc }
func (c *Controller) CO2() float32              { return c.co2PPM }

// Current returns the operation in progress, or OpNone.
func (c *Controller) Current() Operation { return c.current }

// Pending returns operations waiting to run.
func (c *Controller) Pending() OperationSet { return c.pending }

// InFlight reports whether a register transaction is outstanding.
func (c *Controller) InFlight() bool { return c.tx != nil }

// Snapshot is a read-only view for status reporting.
type Snapshot struct {
	Current            Operation
	Pending            OperationSet
	FirmwareVersion    string
	TemperatureC       float32
	RelativeHumidityPc float32
	CO2PPM             float32
	Faults             uint64
	Measurements       uint64
	LastReading        uint32
}

func (c *Controller) Snapshot() Snapshot {
	return Snapshot{
		Current:            c.current,
		Pending:            c.pending,
		FirmwareVersion:    c.FirmwareVersion(),
		TemperatureC:       c.temperatureC,
		RelativeHumidityPc: c.humidityPc,
		CO2PPM:             c.co2PPM,
		Faults:             c.faults,
		Measurements:       c.measurements,
		LastReading:        c.lastReading,
	}
}
