// internal/httpapi/handlers_test.go
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/tamzrod/scd30-monitor/internal/app"
	"github.com/tamzrod/scd30-monitor/internal/config"
	"github.com/tamzrod/scd30-monitor/internal/logging"
	"github.com/tamzrod/scd30-monitor/internal/report"
	"github.com/tamzrod/scd30-monitor/internal/sensor"
	"github.com/tamzrod/scd30-monitor/internal/status"
)

type fakeBackend struct {
	view       app.View
	calibrated []uint
	resets     int
	applied    map[string]string
	applyErr   error
}

func (f *fakeBackend) View() app.View { return f.view }

func (f *fakeBackend) Calibrate(_ context.Context, ppm uint) error {
	if ppm < sensor.MinimumCalibrationPPM || ppm > sensor.MaximumCalibrationPPM {
		return fmt.Errorf("%w: %d", sensor.ErrCalibrationRange, ppm)
	}
	f.calibrated = append(f.calibrated, ppm)
	return nil
}

func (f *fakeBackend) Reset(context.Context) error {
	f.resets++
	return nil
}

func (f *fakeBackend) Apply(_ context.Context, values map[string]string) error {
	f.applied = values
	return f.applyErr
}

const adminPassword = "s3cret"

// serve routes req as an authenticated admin.
func serve(t *testing.T, b Backend, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	req.SetBasicAuth("admin", adminPassword)
	rec := httptest.NewRecorder()
	NewMux(b, adminPassword, nil, logging.Discard()).ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	b := &fakeBackend{}

	b.view.Status = status.Snapshot{Health: status.HealthOK}
	if rec := serve(t, b, httptest.NewRequest(http.MethodGet, "/healthz", nil)); rec.Code != http.StatusOK {
		t.Fatalf("ok: code=%d", rec.Code)
	}

	b.view.Status = status.Snapshot{Health: status.HealthError, SecondsInError: 12}
	rec := serve(t, b, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("error: code=%d", rec.Code)
	}

	var got healthResponse
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != "error" || got.SecondsInError != 12 {
		t.Fatalf("body=%+v", got)
	}
}

func TestSensor_RendersNaNAsNull(t *testing.T) {
	b := &fakeBackend{view: app.View{
		Sensor: sensor.Snapshot{
			Current:            sensor.OpTakeMeasurement,
			Pending:            sensor.NewOperationSet(sensor.OpCalibrate),
			FirmwareVersion:    "3.66",
			TemperatureC:       21.5,
			RelativeHumidityPc: 40,
			CO2PPM:             float32(math.NaN()),
		},
		Report: report.Stats{State: report.StateReceive, Stored: 3},
	}}

	rec := serve(t, b, httptest.NewRequest(http.MethodGet, "/sensor", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("code=%d", rec.Code)
	}

	var got map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["co2_ppm"] != nil {
		t.Fatalf("co2_ppm=%v want null", got["co2_ppm"])
	}
	if got["temperature_c"] != 21.5 || got["operation"] != "TAKE_MEASUREMENT" || got["firmware_version"] != "3.66" {
		t.Fatalf("body=%v", got)
	}
	rep := got["report"].(map[string]any)
	if rep["state"] != "RECEIVE" || rep["stored"] != float64(3) {
		t.Fatalf("report=%v", rep)
	}
}

func TestCalibrate(t *testing.T) {
	b := &fakeBackend{}

	cases := []struct {
		query string
		code  int
	}{
		{"", http.StatusBadRequest},
		{"?ppm=abc", http.StatusBadRequest},
		{"?ppm=100", http.StatusBadRequest},
		{"?ppm=415", http.StatusAccepted},
	}
	for _, tc := range cases {
		rec := serve(t, b, httptest.NewRequest(http.MethodPost, "/sensor/calibrate"+tc.query, nil))
		if rec.Code != tc.code {
			t.Fatalf("%q: code=%d want %d", tc.query, rec.Code, tc.code)
		}
	}
	if len(b.calibrated) != 1 || b.calibrated[0] != 415 {
		t.Fatalf("calibrated=%v", b.calibrated)
	}
}

func TestCalibrate_MethodNotAllowed(t *testing.T) {
	rec := serve(t, &fakeBackend{}, httptest.NewRequest(http.MethodGet, "/sensor/calibrate?ppm=415", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("code=%d want 405", rec.Code)
	}
}

func TestReset(t *testing.T) {
	b := &fakeBackend{}
	rec := serve(t, b, httptest.NewRequest(http.MethodPost, "/sensor/reset", nil))
	if rec.Code != http.StatusAccepted || b.resets != 1 {
		t.Fatalf("code=%d resets=%d", rec.Code, b.resets)
	}
}

func configRequest(values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/config", strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestConfig(t *testing.T) {
	b := &fakeBackend{}

	rec := serve(t, b, configRequest(url.Values{
		"sensor.ambient_pressure": {"950"},
		"report.sensor_name":      {"office"},
	}))
	if rec.Code != http.StatusOK {
		t.Fatalf("code=%d body=%s", rec.Code, rec.Body)
	}
	if b.applied["sensor.ambient_pressure"] != "950" || b.applied["report.sensor_name"] != "office" {
		t.Fatalf("applied=%v", b.applied)
	}
}

func TestConfig_Errors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"unknown key", fmt.Errorf("%w: wifi.ssid", config.ErrUnknownKey), http.StatusBadRequest},
		{"not saved", fmt.Errorf("%w: disk full", app.ErrNotPersisted), http.StatusInternalServerError},
		{"stopped", app.ErrStopped, http.StatusServiceUnavailable},
		{"invalid", errors.New("config: sensor.ambient_pressure: invalid number"), http.StatusBadRequest},
	}

	for _, tc := range cases {
		b := &fakeBackend{applyErr: tc.err}
		rec := serve(t, b, configRequest(url.Values{"x": {"1"}}))
		if rec.Code != tc.code {
			t.Fatalf("%s: code=%d want %d", tc.name, rec.Code, tc.code)
		}
	}

	rec := serve(t, &fakeBackend{}, configRequest(url.Values{}))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty: code=%d want 400", rec.Code)
	}
}

func TestMetricsRoute(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("scd30_up 1\n"))
	})

	rec := httptest.NewRecorder()
	NewMux(&fakeBackend{}, adminPassword, metrics, logging.Discard()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "scd30_up") {
		t.Fatalf("code=%d body=%q", rec.Code, rec.Body)
	}
}

func TestAdminRoutes_RequirePassword(t *testing.T) {
	routes := []func() *http.Request{
		func() *http.Request { return httptest.NewRequest(http.MethodPost, "/sensor/calibrate?ppm=415", nil) },
		func() *http.Request { return httptest.NewRequest(http.MethodPost, "/sensor/reset", nil) },
		func() *http.Request {
			return configRequest(url.Values{"report.url": {"http://attacker.example/"}})
		},
	}

	cases := []struct {
		name       string
		configured string
		auth       func(*http.Request)
	}{
		{"no credentials", adminPassword, func(*http.Request) {}},
		{"wrong password", adminPassword, func(r *http.Request) { r.SetBasicAuth("admin", "guess") }},
		{"empty password", adminPassword, func(r *http.Request) { r.SetBasicAuth("admin", "") }},
		{"locked", "", func(r *http.Request) { r.SetBasicAuth("admin", "") }},
	}

	for _, tc := range cases {
		for _, route := range routes {
			b := &fakeBackend{}
			req := route()
			tc.auth(req)

			rec := httptest.NewRecorder()
			NewMux(b, tc.configured, nil, logging.Discard()).ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("%s %s: code=%d want 401", tc.name, req.URL.Path, rec.Code)
			}
			if rec.Header().Get("WWW-Authenticate") == "" {
				t.Fatalf("%s %s: missing WWW-Authenticate", tc.name, req.URL.Path)
			}
			if b.applied != nil || b.resets != 0 || len(b.calibrated) != 0 {
				t.Fatalf("%s %s: backend reached", tc.name, req.URL.Path)
			}
		}
	}
}

func TestReadRoutes_NoPassword(t *testing.T) {
	b := &fakeBackend{}
	b.view.Status = status.Snapshot{Health: status.HealthOK}

	rec := httptest.NewRecorder()
	NewMux(b, adminPassword, nil, logging.Discard()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("code=%d want 200", rec.Code)
	}
}
