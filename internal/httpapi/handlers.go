// internal/httpapi/handlers.go
package httpapi

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/tamzrod/scd30-monitor/internal/app"
	"github.com/tamzrod/scd30-monitor/internal/sensor"
	"github.com/tamzrod/scd30-monitor/internal/status"
)

// ---- responses ----

type healthResponse struct {
	Status         string `json:"status"`
	LastErrorCode  uint16 `json:"last_error_code"`
	SecondsInError uint16 `json:"seconds_in_error"`
}

type sensorResponse struct {
	FirmwareVersion    string   `json:"firmware_version"`
	Operation          string   `json:"operation"`
	Pending            []string `json:"pending"`
	TemperatureC       *float64 `json:"temperature_c"`
	RelativeHumidityPc *float64 `json:"relative_humidity_pct"`
	CO2PPM             *float64 `json:"co2_ppm"`
	LastReading        uint32   `json:"last_reading"`
	Faults             uint64   `json:"faults"`
	Measurements       uint64   `json:"measurements"`

	Report reportResponse  `json:"report"`
	Health status.Snapshot `json:"health"`
}

type reportResponse struct {
	Enabled   bool   `json:"enabled"`
	State     string `json:"state"`
	Stored    int    `json:"stored"`
	Capacity  int    `json:"capacity"`
	Overflow  bool   `json:"overflow"`
	Uploads   uint64 `json:"uploads"`
	Failures  uint64 `json:"failures"`
	Discarded uint64 `json:"discarded"`
}

// ---- handlers ----

func (h *handlers) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s := h.backend.View().Status

	resp := healthResponse{
		Status:         status.HealthName(s.Health),
		LastErrorCode:  s.LastErrorCode,
		SecondsInError: s.SecondsInError,
	}
	if !s.OK() {
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) handleSensor(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sensorView(h.backend.View()))
}

func sensorView(v app.View) sensorResponse {
	pending := make([]string, 0)
	for _, op := range v.Sensor.Pending.Ops() {
		pending = append(pending, op.String())
	}

	return sensorResponse{
		FirmwareVersion:    v.Sensor.FirmwareVersion,
		Operation:          v.Sensor.Current.String(),
		Pending:            pending,
		TemperatureC:       finite(v.Sensor.TemperatureC),
		RelativeHumidityPc: finite(v.Sensor.RelativeHumidityPc),
		CO2PPM:             finite(v.Sensor.CO2PPM),
		LastReading:        v.Sensor.LastReading,
		Faults:             v.Sensor.Faults,
		Measurements:       v.Sensor.Measurements,
		Report: reportResponse{
			Enabled:   v.Report.Enabled,
			State:     v.Report.State.String(),
			Stored:    v.Report.Stored,
			Capacity:  v.Report.Capacity,
			Overflow:  v.Report.Overflow,
			Uploads:   v.Report.Uploads,
			Failures:  v.Report.Failures,
			Discarded: v.Report.Discarded,
		},
		Health: v.Status,
	}
}

func (h *handlers) handleCalibrate(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("ppm")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "missing ppm")
		return
	}
	ppm, err := strconv.ParseUint(raw, 10, 16)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid ppm")
		return
	}

	ctx, cancel := commandContext(r)
	defer cancel()

	if err := h.backend.Calibrate(ctx, uint(ppm)); err != nil {
		if errors.Is(err, sensor.ErrCalibrationRange) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.log.Error("calibrate failed", "err", err)
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	h.log.Info("calibration queued", "co2_ppm", ppm)
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "queued", "co2_ppm": ppm})
}

func (h *handlers) handleReset(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := commandContext(r)
	defer cancel()

	if err := h.backend.Reset(ctx); err != nil {
		h.log.Error("reset failed", "err", err)
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "resetting"})
}

func (h *handlers) handleConfig(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form")
		return
	}

	values := make(map[string]string, len(r.PostForm))
	for k, v := range r.PostForm {
		if len(v) > 0 {
			values[k] = v[len(v)-1]
		}
	}
	if len(values) == 0 {
		writeError(w, http.StatusBadRequest, "no values")
		return
	}

	ctx, cancel := commandContext(r)
	defer cancel()

	err := h.backend.Apply(ctx, values)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"status": "applied", "keys": len(values)})
	case errors.Is(err, app.ErrNotPersisted):
		h.log.Error("config not saved", "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	case errors.Is(err, app.ErrStopped), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		// unknown key, parse or validation failure
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func finite(v float32) *float64 {
	if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
		return nil
	}
	f := math.Round(float64(v)*100) / 100
	return &f
}
