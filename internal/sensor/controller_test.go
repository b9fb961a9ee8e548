// internal/sensor/controller_test.go
package sensor

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/tamzrod/scd30-monitor/internal/clock"
	"github.com/tamzrod/scd30-monitor/internal/config"
	"github.com/tamzrod/scd30-monitor/internal/logging"
	"github.com/tamzrod/scd30-monitor/internal/registers"
)

// ---- fakes ----

type call struct {
	addr  uint16
	value uint16 // write value or read quantity
}

type fakeClient struct {
	regs   map[uint16]uint16
	reads  []call
	writes []call

	// override answers the next request verbatim when set.
	override *registers.Result
	// hold leaves the next request pending.
	hold *registers.Transaction
}

func newFakeClient() *fakeClient {
	return &fakeClient{regs: map[uint16]uint16{
		RegFirmwareVersion:     0x0342,
		RegMeasurementInterval: 2,
	}}
}

func (f *fakeClient) answer() (*registers.Transaction, bool) {
	if f.hold != nil {
		tx := f.hold
		f.hold = nil
		return tx, true
	}
	if f.override != nil {
		res := *f.override
		f.override = nil
		return registers.Resolved(res), true
	}
	return nil, false
}

func (f *fakeClient) ReadHoldingRegisters(addr, count uint16) *registers.Transaction {
	f.reads = append(f.reads, call{addr: addr, value: count})
	if tx, ok := f.answer(); ok {
		return tx
	}
	vals := make([]uint16, count)
	for i := range vals {
		vals[i] = f.regs[addr+uint16(i)]
	}
	return registers.Resolved(registers.Result{Kind: registers.ReadData, Values: vals})
}

func (f *fakeClient) WriteHoldingRegister(addr, value uint16) *registers.Transaction {
	f.writes = append(f.writes, call{addr: addr, value: value})
	if tx, ok := f.answer(); ok {
		return tx
	}
	if addr != RegSoftReset {
		f.regs[addr] = value
	}
	return registers.Resolved(registers.Result{Kind: registers.WriteAck, Values: []uint16{value}})
}

func (f *fakeClient) wroteTo(addr uint16) bool {
	for _, w := range f.writes {
		if w.addr == addr {
			return true
		}
	}
	return false
}

type staticSettings struct{ s config.SensorConfig }

func (s *staticSettings) Sensor() config.SensorConfig { return s.s }

type reading struct {
	ts            uint32
	temp, rh, co2 float32
}

type fakeSink struct{ adds []reading }

func (f *fakeSink) Add(ts uint32, t, rh, co2 float32) {
	f.adds = append(f.adds, reading{ts, t, rh, co2})
}

type fakePin struct{ ready bool }

func (p *fakePin) Ready() bool { return p.ready }

// ---- helpers ----

type harness struct {
	c        *Controller
	client   *fakeClient
	sink     *fakeSink
	pin      *fakePin
	clk      *clock.Fake
	settings *staticSettings
}

func newHarness(t *testing.T, s config.SensorConfig) *harness {
	t.Helper()

	h := &harness{
		client:   newFakeClient(),
		sink:     &fakeSink{},
		pin:      &fakePin{ready: true},
		clk:      clock.NewFake(time.Unix(1700000000, 0)),
		settings: &staticSettings{s: s},
	}

	c, err := New(Deps{
		Client:   h.client,
		Ready:    h.pin,
		Settings: h.settings,
		Sink:     h.sink,
		Clock:    h.clk,
		Log:      logging.Discard(),
	})
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	h.c = c
	return h
}

// initialize drives the startup soft reset to completion.
func (h *harness) initialize(t *testing.T) {
	t.Helper()

	h.c.Step() // issue reset write
	h.c.Step() // ack -> post delay starts
	h.clk.Advance(ResetPostDelay)
	h.runUntilIdle(t)
}

func (h *harness) runUntilIdle(t *testing.T) {
	t.Helper()
	for i := 0; i < 100; i++ {
		if h.c.Current() == OpNone && h.c.Pending().Empty() {
			return
		}
		h.c.Step()
	}
	t.Fatalf("controller did not go idle: current=%s pending=%s", h.c.Current(), h.c.Pending())
}

// startMeasuring completes initialization with the ready pin low, leaving
// the controller waiting for data.
func (h *harness) startMeasuring(t *testing.T) {
	t.Helper()

	h.pin.ready = false
	h.c.Step()
	h.c.Step()
	h.clk.Advance(ResetPostDelay)
	for i := 0; i < 50 && h.c.Current() != OpTakeMeasurement; i++ {
		h.c.Step()
	}
	if h.c.Current() != OpTakeMeasurement || h.c.InFlight() {
		t.Fatalf("measurement not waiting: current=%s", h.c.Current())
	}
}

func measurementRegs(co2, temp, rh float32) map[uint16]uint16 {
	out := map[uint16]uint16{}
	for i, f := range []float32{co2, temp, rh} {
		b := math.Float32bits(f)
		out[RegMeasurementData+uint16(2*i)] = uint16(b >> 16)
		out[RegMeasurementData+uint16(2*i)+1] = uint16(b)
	}
	return out
}

func fullResetSet() OperationSet {
	return ConfigOperations().Union(NewOperationSet(OpSoftReset, OpReadFirmwareVersion))
}

// ---- tests ----

func TestNew_ArmsInitialization(t *testing.T) {
	h := newHarness(t, config.SensorConfig{})

	if got := h.c.Pending(); got != fullResetSet() {
		t.Fatalf("pending=%s want %s", got, fullResetSet())
	}
	if h.c.Current() != OpNone {
		t.Fatalf("current=%s want NONE", h.c.Current())
	}
}

func TestStep_SoftResetWaitsForSettleDelay(t *testing.T) {
	h := newHarness(t, config.SensorConfig{})
	h.c.Reset(10 * time.Second)

	h.c.Step()
	if len(h.client.writes) != 0 {
		t.Fatalf("reset written before settle delay")
	}
	if h.c.Current() != OpSoftReset {
		t.Fatalf("current=%s want SOFT_RESET", h.c.Current())
	}

	h.clk.Advance(10 * time.Second)
	h.c.Step()
	if len(h.client.writes) != 1 || h.client.writes[0] != (call{RegSoftReset, 1}) {
		t.Fatalf("expected one soft reset write, got %+v", h.client.writes)
	}

	// ack received: post delay must elapse before moving on
	h.c.Step()
	h.clk.Advance(ResetPostDelay - time.Second)
	h.c.Step()
	if h.c.Current() != OpSoftReset {
		t.Fatalf("left SOFT_RESET before post delay")
	}

	h.clk.Advance(time.Second)
	h.c.Step()
	if h.c.Current() != OpReadFirmwareVersion {
		t.Fatalf("current=%s want READ_FIRMWARE_VERSION in same step", h.c.Current())
	}
}

func TestStep_SoftResetBadAckResets(t *testing.T) {
	h := newHarness(t, config.SensorConfig{})

	h.client.override = &registers.Result{Kind: registers.WriteAck, Values: []uint16{0x0000}}
	h.c.Step() // write
	h.c.Step() // bad ack

	if got := h.c.Snapshot().Faults; got != 1 {
		t.Fatalf("faults=%d want 1", got)
	}
	if h.c.Pending() != fullResetSet() || h.c.Current() != OpNone {
		t.Fatalf("controller not reset: current=%s pending=%s", h.c.Current(), h.c.Pending())
	}

	// failure-triggered reset uses the long pre-delay
	h.c.Step()
	if len(h.client.writes) != 1 {
		t.Fatalf("reset re-issued without pre-delay")
	}
	h.clk.Advance(ResetPreDelay)
	h.c.Step()
	if len(h.client.writes) != 2 {
		t.Fatalf("reset not re-issued after pre-delay")
	}
}

func TestInitialization_ReadsEverythingOnce(t *testing.T) {
	h := newHarness(t, config.SensorConfig{MeasurementInterval: 2})
	h.initialize(t)

	wantReads := []uint16{
		RegFirmwareVersion,
		RegAutomaticCalibration,
		RegTemperatureOffset,
		RegAltitudeCompensation,
		RegMeasurementInterval,
		RegAmbientPressure,
	}
	if len(h.client.reads) != len(wantReads) {
		t.Fatalf("reads=%+v", h.client.reads)
	}
	for i, addr := range wantReads {
		if h.client.reads[i].addr != addr {
			t.Fatalf("read %d addr=0x%04X want 0x%04X", i, h.client.reads[i].addr, addr)
		}
	}

	// reset + always-written ambient pressure
	if len(h.client.writes) != 2 || !h.client.wroteTo(RegAmbientPressure) {
		t.Fatalf("writes=%+v", h.client.writes)
	}
	if h.c.FirmwareVersion() != "3.66" {
		t.Fatalf("firmware=%s want 3.66", h.c.FirmwareVersion())
	}
}

func TestFirmwareVersion_Decodes(t *testing.T) {
	h := newHarness(t, config.SensorConfig{})
	h.client.regs[RegFirmwareVersion] = 0x0102
	h.initialize(t)

	if got := h.c.FirmwareVersion(); got != "1.2" {
		t.Fatalf("firmware=%s want 1.2", got)
	}
}

func TestConfigAmbientPressure_AlwaysWrites(t *testing.T) {
	h := newHarness(t, config.SensorConfig{AmbientPressure: 950, AltitudeCompensation: 230})
	h.initialize(t)

	h.client.regs[RegAmbientPressure] = 950
	h.client.regs[RegAltitudeCompensation] = 230
	h.client.writes = nil

	h.c.Configure(OpConfigAmbientPressure, OpConfigAltitudeCompensation)
	h.runUntilIdle(t)

	if len(h.client.writes) != 1 || h.client.writes[0] != (call{RegAmbientPressure, 950}) {
		t.Fatalf("expected only ambient pressure write, got %+v", h.client.writes)
	}
	if h.client.wroteTo(RegAltitudeCompensation) {
		t.Fatalf("altitude compensation matched but was written")
	}
}

func TestConfigRegister_WritesOnMismatch(t *testing.T) {
	h := newHarness(t, config.SensorConfig{TemperatureOffset: 150, AutomaticCalibration: true})
	h.initialize(t)

	if h.client.regs[RegTemperatureOffset] != 150 {
		t.Fatalf("temperature offset not reconciled: %d", h.client.regs[RegTemperatureOffset])
	}
	if h.client.regs[RegAutomaticCalibration] != 1 {
		t.Fatalf("automatic calibration not reconciled")
	}
}

func TestConfigRegister_ValuesRequeried(t *testing.T) {
	h := newHarness(t, config.SensorConfig{AltitudeCompensation: 100})
	h.initialize(t)

	h.settings.s.AltitudeCompensation = 70000
	h.c.Configure(OpConfigAltitudeCompensation)
	h.runUntilIdle(t)

	if got := h.client.regs[RegAltitudeCompensation]; got != 65535 {
		t.Fatalf("altitude=%d want clamped 65535", got)
	}
}

func TestConfigure_IgnoresNonConfigOperations(t *testing.T) {
	h := newHarness(t, config.SensorConfig{})
	h.initialize(t)

	h.c.Configure(OpSoftReset, OpTakeMeasurement)
	if !h.c.Pending().Empty() {
		t.Fatalf("pending=%s want empty", h.c.Pending())
	}
}

func TestReadFault_ResetsController(t *testing.T) {
	h := newHarness(t, config.SensorConfig{})
	h.initialize(t)

	h.c.Configure(OpConfigTemperatureOffset)
	h.client.override = &registers.Result{Kind: registers.ReadData, Values: nil}

	h.c.Step() // issue read
	if !h.c.InFlight() {
		t.Fatalf("expected in-flight transaction")
	}
	h.c.Step() // zero registers -> reset

	if h.c.Current() != OpNone {
		t.Fatalf("current=%s want NONE", h.c.Current())
	}
	if h.c.InFlight() {
		t.Fatalf("in-flight transaction not cleared")
	}
	if got := h.c.Pending(); got != fullResetSet() {
		t.Fatalf("pending=%s want %s", got, fullResetSet())
	}
}

func TestWriteFault_ResetsController(t *testing.T) {
	h := newHarness(t, config.SensorConfig{})
	h.initialize(t)

	h.c.Configure(OpConfigAmbientPressure)
	h.c.Step() // read
	h.client.override = &registers.Result{Kind: registers.Fault}
	h.c.Step() // read ok -> write issued
	h.c.Step() // write fault

	if h.c.Snapshot().Faults != 1 || h.c.Pending() != fullResetSet() {
		t.Fatalf("write fault did not reset: %+v", h.c.Snapshot())
	}
}

func TestPendingTransaction_Blocks(t *testing.T) {
	h := newHarness(t, config.SensorConfig{})
	h.initialize(t)

	tx := registers.NewTransaction()
	h.client.hold = tx
	h.c.Configure(OpConfigAltitudeCompensation)

	h.c.Step()
	h.c.Step()
	h.c.Step()
	if len(h.client.reads) != 7 {
		t.Fatalf("pending transaction re-issued: %d reads", len(h.client.reads))
	}

	tx.Resolve(registers.Result{Kind: registers.ReadData, Values: []uint16{0}})
	h.c.Step()
	if h.c.Current() != OpNone {
		t.Fatalf("current=%s want NONE", h.c.Current())
	}
}

func TestReset_DiscardsInFlight(t *testing.T) {
	h := newHarness(t, config.SensorConfig{})
	h.initialize(t)

	h.client.hold = registers.NewTransaction()
	h.c.Configure(OpConfigAltitudeCompensation)
	h.c.Step()

	h.c.Reset(0)
	if h.c.InFlight() || h.c.Current() != OpNone || h.c.Pending() != fullResetSet() {
		t.Fatalf("reset left state behind: %+v", h.c.Snapshot())
	}
}

func TestCalibrate(t *testing.T) {
	h := newHarness(t, config.SensorConfig{})
	h.initialize(t)

	if err := h.c.Calibrate(399); err == nil {
		t.Fatalf("expected range error")
	}
	if err := h.c.Calibrate(2001); err == nil {
		t.Fatalf("expected range error")
	}
	if err := h.c.Calibrate(415); err != nil {
		t.Fatalf("Calibrate() err=%v", err)
	}

	h.runUntilIdle(t)
	if len(h.client.writes) == 0 || h.client.writes[len(h.client.writes)-1] != (call{RegForcedRecalibration, 415}) {
		t.Fatalf("calibration not written: %+v", h.client.writes)
	}
}

func TestTakeMeasurement(t *testing.T) {
	h := newHarness(t, config.SensorConfig{ReadingInterval: 5})
	for k, v := range measurementRegs(612.5, 21.25, 45.5) {
		h.client.regs[k] = v
	}
	h.initialize(t)

	// 1700000005 is a multiple of 5; initialization already sampled once.
	if len(h.sink.adds) != 1 {
		t.Fatalf("adds=%d want 1", len(h.sink.adds))
	}

	got := h.sink.adds[0]
	if got.ts != 1700000005 || got.co2 != 612.5 || got.temp != 21.25 || got.rh != 45.5 {
		t.Fatalf("unexpected reading %+v", got)
	}

	// same second: no second sample
	h.c.Step()
	if len(h.sink.adds) != 1 {
		t.Fatalf("sampled twice in the same second")
	}

	// off-cadence second: nothing
	h.clk.Advance(time.Second)
	h.c.Step()
	if len(h.sink.adds) != 1 {
		t.Fatalf("sampled off cadence")
	}

	h.clk.Advance(4 * time.Second)
	h.c.Step() // queue + read
	h.c.Step() // decode
	if len(h.sink.adds) != 2 || h.sink.adds[1].ts != 1700000010 {
		t.Fatalf("expected second sample at 1700000010, got %+v", h.sink.adds)
	}
}

func TestTakeMeasurement_LowCO2IsNaN(t *testing.T) {
	h := newHarness(t, config.SensorConfig{ReadingInterval: 5})
	for k, v := range measurementRegs(150, 20, 40) {
		h.client.regs[k] = v
	}
	h.initialize(t)

	if len(h.sink.adds) != 1 {
		t.Fatalf("adds=%d want 1", len(h.sink.adds))
	}
	r := h.sink.adds[0]
	if !math.IsNaN(float64(r.co2)) {
		t.Fatalf("co2=%v want NaN", r.co2)
	}
	if r.temp != 20 || r.rh != 40 {
		t.Fatalf("temperature/humidity must be kept: %+v", r)
	}
	if !math.IsNaN(float64(h.c.CO2())) {
		t.Fatalf("latest co2 should be NaN")
	}
}

func TestTakeMeasurement_ReadyTimeoutResets(t *testing.T) {
	h := newHarness(t, config.SensorConfig{ReadingInterval: 5})
	h.startMeasuring(t)

	h.clk.Advance(MeasurementTimeout - time.Second)
	h.c.Step()
	if h.c.Snapshot().Faults != 0 {
		t.Fatalf("timed out early")
	}

	h.clk.Advance(time.Second)
	h.c.Step()
	if h.c.Snapshot().Faults != 1 || h.c.Pending() != fullResetSet() {
		t.Fatalf("ready timeout did not reset")
	}
}

func TestTakeMeasurement_ShortReadResets(t *testing.T) {
	h := newHarness(t, config.SensorConfig{ReadingInterval: 5})
	h.startMeasuring(t)

	h.pin.ready = true
	h.client.override = &registers.Result{Kind: registers.ReadData, Values: []uint16{1, 2, 3}}
	h.c.Step() // read
	h.c.Step() // short result

	if len(h.sink.adds) != 0 {
		t.Fatalf("short read produced a reading")
	}
	if h.c.Snapshot().Faults != 1 {
		t.Fatalf("short measurement read did not reset")
	}
}

func TestPendingTransaction_TimesOut(t *testing.T) {
	h := newHarness(t, config.SensorConfig{})
	h.initialize(t)

	h.client.hold = registers.NewTransaction()
	h.c.Configure(OpConfigAltitudeCompensation)
	h.c.Step() // read issued, never resolves

	h.clk.Advance(TransactionTimeout - time.Second)
	h.c.Step()
	if !h.c.InFlight() || h.c.Snapshot().Faults != 0 {
		t.Fatalf("timed out early: inflight=%v faults=%d", h.c.InFlight(), h.c.Snapshot().Faults)
	}

	h.clk.Advance(time.Second)
	h.c.Step()
	if h.c.InFlight() {
		t.Fatalf("stuck transaction not abandoned")
	}
	if h.c.Snapshot().Faults != 1 || h.c.Pending() != fullResetSet() {
		t.Fatalf("timeout did not reset: faults=%d pending=%s", h.c.Snapshot().Faults, h.c.Pending())
	}
}

func TestConfigRegister_LogsAttributes(t *testing.T) {
	var buf bytes.Buffer

	h := newHarness(t, config.SensorConfig{TemperatureOffset: 150, AutomaticCalibration: true})
	h.c.log = slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: logging.LevelTrace}))
	h.initialize(t)

	var written, enabling bool
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("decode %q: %v", line, err)
		}
		reg, ok := rec["register"].(string)
		if !ok {
			continue
		}
		msg := rec["msg"].(string)
		if strings.Contains(msg, reg) {
			t.Fatalf("message %q embeds register name", msg)
		}

		switch {
		case msg == "configuration written" && reg == "temperature offset":
			written = rec["value"] == "1.50°C"
		case msg == "updating configuration" && reg == "automatic calibration":
			enabling = rec["action"] == "enabling"
		}
	}
	if !written || !enabling {
		t.Fatalf("missing structured entries (written=%v enabling=%v):\n%s", written, enabling, buf.String())
	}
}
