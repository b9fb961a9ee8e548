// internal/report/reading.go
package report

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Reading is one measurement packed into 10 bytes:
// a little-endian uint32 timestamp followed by 48 bits holding
// temperature (14 bits, signed), humidity (14 bits) and CO2 (20 bits).
// The zero value is not meaningful; use NewReading.
type Reading [10]byte

// ---- field layout ----

const (
	tempBits = 14
	rhumBits = 14
	co2Bits  = 20

	tempShift = 0
	rhumShift = tempBits
	co2Shift  = tempBits + rhumBits
)

// Fixed-point scale: stored value = round(input * Div).
// Rendering multiplies by Mul to get hundredths.
const (
	TempDiv = 100
	RhumDiv = 100
	CO2Div  = 20

	tempMul = 100 / TempDiv
	rhumMul = 100 / RhumDiv
	co2Mul  = 100 / CO2Div
)

const (
	TempMin = -(1 << (tempBits - 1)) + 1 // -81.91°C
	TempMax = (1 << (tempBits - 1)) - 1  // 81.91°C
	TempNaN = TempMin - 1

	RhumMin = 0
	RhumMax = (1 << rhumBits) - 2 // 163.82%
	RhumNaN = RhumMax + 1

	CO2Min = 0
	CO2Max = (1 << co2Bits) - 2 // 52428.70 ppm
	CO2NaN = CO2Max + 1
)

// smallest positive normal float32
const minNormal32 = 0x1p-126

// NewReading encodes raw sensor output. Non-normal inputs (NaN, ±Inf,
// zero, subnormal) become the field's NaN sentinel; everything else is
// rounded and saturated to the field range.
func NewReading(timestamp uint32, temperatureC, relativeHumidityPc, co2PPM float32) Reading {
	t := encodeField(temperatureC, TempDiv, TempMin, TempMax, TempNaN)
	h := encodeField(relativeHumidityPc, RhumDiv, RhumMin, RhumMax, RhumNaN)
	c := encodeField(co2PPM, CO2Div, CO2Min, CO2Max, CO2NaN)

	packed := uint64(uint32(t)&mask(tempBits))<<tempShift |
		uint64(uint32(h)&mask(rhumBits))<<rhumShift |
		uint64(uint32(c)&mask(co2Bits))<<co2Shift

	var r Reading
	binary.LittleEndian.PutUint32(r[0:4], timestamp)
	binary.LittleEndian.PutUint16(r[4:6], uint16(packed))
	binary.LittleEndian.PutUint32(r[6:10], uint32(packed>>16))
	return r
}

func mask(bits uint) uint32 { return 1<<bits - 1 }

func isNormal(v float32) bool {
	a := math.Abs(float64(v))
	return a >= minNormal32 && a <= math.MaxFloat32
}

func encodeField(v float32, div float64, lo, hi, nan int32) int32 {
	if !isNormal(v) {
		return nan
	}

	scaled := math.Round(float64(v) * div)
	switch {
	case scaled < float64(lo):
		return lo
	case scaled > float64(hi):
		return hi
	default:
		return int32(scaled)
	}
}

// ---- decoding ----

func (r Reading) packed() uint64 {
	return uint64(binary.LittleEndian.Uint16(r[4:6])) |
		uint64(binary.LittleEndian.Uint32(r[6:10]))<<16
}

func (r Reading) Timestamp() uint32 {
	return binary.LittleEndian.Uint32(r[0:4])
}

// RawTemperature returns the stored hundredths of °C, or TempNaN.
func (r Reading) RawTemperature() int32 {
	v := int32(uint32(r.packed()>>tempShift) & mask(tempBits))
	// sign-extend
	return v << (32 - tempBits) >> (32 - tempBits)
}

// RawHumidity returns the stored hundredths of %RH, or RhumNaN.
func (r Reading) RawHumidity() int32 {
	return int32(uint32(r.packed()>>rhumShift) & mask(rhumBits))
}

// RawCO2 returns the stored twentieths of ppm, or CO2NaN.
func (r Reading) RawCO2() int32 {
	return int32(uint32(r.packed()>>co2Shift) & mask(co2Bits))
}

func (r Reading) TemperatureC() float32 {
	return decodeField(r.RawTemperature(), TempDiv, TempNaN)
}

func (r Reading) RelativeHumidityPc() float32 {
	return decodeField(r.RawHumidity(), RhumDiv, RhumNaN)
}

func (r Reading) CO2PPM() float32 {
	return decodeField(r.RawCO2(), CO2Div, CO2NaN)
}

func decodeField(v, div, nan int32) float32 {
	if v == nan {
		return float32(math.NaN())
	}
	return float32(float64(v) / float64(div))
}

// ---- rendering ----

// segment renders the reading as one upload form group.
// NaN fields are left empty.
func (r Reading) segment() string {
	return fmt.Sprintf("&s=%d&t=%s&h=%s&c=%s",
		r.Timestamp(),
		hundredths(r.RawTemperature(), tempMul, TempNaN),
		hundredths(r.RawHumidity(), rhumMul, RhumNaN),
		hundredths(r.RawCO2(), co2Mul, CO2NaN),
	)
}

func hundredths(v, mul, nan int32) string {
	if v == nan {
		return ""
	}

	v *= mul
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

func (r Reading) String() string {
	return fmt.Sprintf("%d t=%s h=%s c=%s",
		r.Timestamp(),
		hundredths(r.RawTemperature(), tempMul, TempNaN),
		hundredths(r.RawHumidity(), rhumMul, RhumNaN),
		hundredths(r.RawCO2(), co2Mul, CO2NaN),
	)
}
