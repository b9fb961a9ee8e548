// internal/httpapi/mux.go
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/tamzrod/scd30-monitor/internal/app"
)

// commandTimeout bounds how long a handler waits for the driver loop.
const commandTimeout = 5 * time.Second

// Backend is the monitor as seen by the HTTP handlers.
type Backend interface {
	View() app.View
	Calibrate(ctx context.Context, ppm uint) error
	Reset(ctx context.Context) error
	Apply(ctx context.Context, values map[string]string) error
}

type handlers struct {
	backend       Backend
	adminPassword string
	log           *slog.Logger
}

// NewMux registers every endpoint. metrics may be nil.
// The POST routes require adminPassword via basic auth.
func NewMux(b Backend, adminPassword string, metrics http.Handler, log *slog.Logger) *http.ServeMux {
	if log == nil {
		log = slog.Default()
	}
	h := &handlers{backend: b, adminPassword: adminPassword, log: log}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealthz)
	mux.HandleFunc("GET /sensor", h.handleSensor)
	mux.HandleFunc("POST /sensor/calibrate", h.requireAdmin(h.handleCalibrate))
	mux.HandleFunc("POST /sensor/reset", h.requireAdmin(h.handleReset))
	mux.HandleFunc("POST /config", h.requireAdmin(h.handleConfig))
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}
	return mux
}

// NewServer wraps handler with the server timeouts used for the admin port.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

func commandContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), commandTimeout)
}
