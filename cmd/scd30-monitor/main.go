// cmd/scd30-monitor/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tamzrod/scd30-monitor/internal/app"
	"github.com/tamzrod/scd30-monitor/internal/config"
	"github.com/tamzrod/scd30-monitor/internal/gpio"
	"github.com/tamzrod/scd30-monitor/internal/httpapi"
	"github.com/tamzrod/scd30-monitor/internal/logging"
	"github.com/tamzrod/scd30-monitor/internal/metrics"
	"github.com/tamzrod/scd30-monitor/internal/registers/modbus"
	"github.com/tamzrod/scd30-monitor/internal/report"
	"github.com/tamzrod/scd30-monitor/internal/sensor"
	"github.com/tamzrod/scd30-monitor/internal/telemetry"
)

const appName = "scd30-monitor"

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: scd30-monitor <config.yaml>")
		os.Exit(2)
	}

	cfgPath := os.Args[1]

	// --------------------
	// Load + validate config
	// --------------------

	boot, _ := logging.New(os.Stderr, config.Default().Log, appName)

	store, err := config.Load(cfgPath, boot)
	if err != nil {
		boot.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log, err := logging.New(os.Stderr, store.Get().Log, appName)
	if err != nil {
		boot.Error("logger setup failed", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, store, log); err != nil {
		log.Error("exiting", "err", err)
		os.Exit(1)
	}
}

func run(parent context.Context, store *config.Store, log *slog.Logger) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	cfg := store.Get()
	log.Info("starting", "version", version, "transport", cfg.Device.Transport, "http", cfg.HTTP.Listen)

	// --------------------
	// Device
	// --------------------

	pin, err := gpio.Open(cfg.Device.ReadyPin)
	if err != nil {
		return err
	}

	client, closeDevice, err := modbus.Open(cfg.Device, log.With("component", "modbus"))
	if err != nil {
		return err
	}
	defer closeDevice()
	go client.Run(ctx)

	// --------------------
	// Telemetry (optional)
	// --------------------

	var (
		observer report.Observer
		mirror   app.Telemetry
	)
	if cfg.Telemetry.Broker != "" {
		pub, disconnect, err := telemetry.Dial(cfg.Telemetry, cfg.Report.SensorName, log.With("component", "telemetry"))
		if err != nil {
			return err
		}
		defer disconnect()
		go pub.Run(ctx)
		observer = pub
		mirror = pub
	}

	// --------------------
	// Report + sensor
	// --------------------

	rep, err := report.New(report.Deps{
		Settings: store,
		Session:  report.NewHTTPSession(report.HTTPTimeout, appName+"/"+version),
		Log:      log.With("component", "report"),
		Observer: observer,
	})
	if err != nil {
		return err
	}

	ctrl, err := sensor.New(sensor.Deps{
		Client:   client,
		Ready:    pin,
		Settings: store,
		Sink:     rep,
		Log:      log.With("component", "sensor"),

		StartupDelay: sensor.ResetPreDelay,
	})
	if err != nil {
		return err
	}

	exporter := metrics.New(cfg.Report.SensorName)

	monitor, err := app.New(app.Deps{
		Store:     store,
		Sensor:    ctrl,
		Reporter:  rep,
		Exporter:  exporter,
		Telemetry: mirror,
		Log:       log.With("component", "app"),
	})
	if err != nil {
		return err
	}

	// --------------------
	// HTTP
	// --------------------

	if cfg.HTTP.AdminPassword == "" {
		log.Warn("http.admin_password not set, admin routes locked")
	}

	mux := httpapi.NewMux(monitor, cfg.HTTP.AdminPassword, exporter.Handler(), log.With("component", "http"))
	srv := httpapi.NewServer(cfg.HTTP.Listen, mux)

	errCh := make(chan error, 1)
	go func() {
		log.Info("http listening", "addr", cfg.HTTP.Listen)
		errCh <- srv.ListenAndServe()
	}()

	// --------------------
	// SIGHUP reloads the config file
	// --------------------

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				if err := monitor.Reload(ctx); err != nil {
					log.Error("config reload failed", "err", err)
				}
			}
		}
	}()

	loopDone := make(chan struct{})
	go func() {
		monitor.Run(ctx)
		close(loopDone)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr = err
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	log.Info("http shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", "err", err)
	}

	cancel()
	<-loopDone
	return runErr
}
