package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mjasion/phenostation/analyzer"
	"github.com/mjasion/phenostation/capture"
	"github.com/mjasion/phenostation/config"
	"github.com/mjasion/phenostation/display"
	"github.com/mjasion/phenostation/hardware"
	"github.com/mjasion/phenostation/journal"
	"github.com/mjasion/phenostation/metrics"
	"github.com/mjasion/phenostation/pkg/buffer"
	"github.com/mjasion/phenostation/pkg/clock"
	pkgmetrics "github.com/mjasion/phenostation/pkg/metrics"
	"github.com/mjasion/phenostation/pkg/profiling"
	"github.com/mjasion/phenostation/pkg/telemetry"
	"github.com/mjasion/phenostation/sink"
	"github.com/mjasion/phenostation/station"
	"github.com/mjasion/phenostation/storage"
	"github.com/mjasion/phenostation/weight"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("c", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	logger, err := cfg.NewLogger()
	if err != nil {
		panic("Failed to create logger: " + err.Error())
	}
	defer logger.Sync()

	logger.Info("Loading configuration", zap.String("path", *configPath))
	cfg.PrintConfig(logger)
	logger.Debug("Full configuration", zap.Any("config", cfg.Redacted()))

	if err := run(cfg, logger); err != nil {
		logger.Error("Station stopped with error", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	// Display first, so later failures can be shown on the station
	fb, err := display.NewFramebuffer(cfg.Display.Device, cfg.Display.Width, cfg.Display.Height)
	if err != nil {
		return fmt.Errorf("open display: %w", err)
	}
	screen := display.NewScreen(fb, cfg.Display.LogoPath, logger)

	fail := func(msg string, err error) error {
		return showFatal(screen, logger, msg, err)
	}

	// Initialize Pyroscope profiling
	profiler, err := profiling.Start(&cfg.Profiling, logger)
	if err != nil {
		return fail("profiler init failed", err)
	}
	if profiler != nil {
		defer func() {
			if err := profiler.Stop(); err != nil {
				logger.Error("Error shutting down profiler", zap.Error(err))
			}
		}()
	}

	// Initialize OpenTelemetry providers
	otelProviders, err := telemetry.InitProviders(context.Background(), &cfg.OpenTelemetry, logger)
	if err != nil {
		return fail("telemetry init failed", err)
	}
	if otelProviders != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := otelProviders.Shutdown(shutdownCtx); err != nil {
				logger.Error("Error shutting down OpenTelemetry providers", zap.Error(err))
			}
		}()
	}

	clk := clock.Real{}

	// Hardware
	gpio, err := hardware.OpenGPIO(cfg.Pins.GPIOChip, hardware.GPIOLines{
		Inputs: map[int]string{
			cfg.Pins.ButtonLeft:  "button-left",
			cfg.Pins.ButtonRight: "button-right",
		},
		Outputs: map[int]string{
			cfg.Pins.LED: "led",
		},
	})
	if err != nil {
		return fail("gpio unavailable", err)
	}
	defer func() {
		if err := gpio.Close(); err != nil {
			logger.Warn("Error releasing GPIO lines", zap.Error(err))
		}
	}()

	led, err := gpio.DigitalOutputPin(cfg.Pins.LED)
	if err != nil {
		return fail("led pin unavailable", err)
	}
	left, err := gpio.DigitalInputPin(cfg.Pins.ButtonLeft)
	if err != nil {
		return fail("left button unavailable", err)
	}
	right, err := gpio.DigitalInputPin(cfg.Pins.ButtonRight)
	if err != nil {
		return fail("right button unavailable", err)
	}
	logger.Info("GPIO lines requested",
		zap.String("driver", gpio.Metadata().Description),
		zap.Int("inputs", len(gpio.DigitalInputPins())),
		zap.Int("outputs", len(gpio.DigitalOutputPins())),
	)

	hx711, err := hardware.OpenHX711(cfg.Pins.GPIOChip, cfg.Pins.HX711Data, cfg.Pins.HX711Clock)
	if err != nil {
		return fail("scale unavailable", err)
	}
	defer hx711.Close()

	camera := capture.NewService(hardware.NewStillCamera(hardware.StillCameraConfig{
		Command: cfg.Camera.Command,
		Args:    cfg.Camera.Args,
		Width:   cfg.Camera.Width,
		Height:  cfg.Camera.Height,
	}, logger), clk, logger)
	scale := weight.NewService(hx711, cfg.Telemetry.WeightReads, clk, logger)
	growth := analyzer.NewCommand(cfg.Analysis.Command, cfg.Analysis.Args,
		time.Duration(cfg.Analysis.TimeoutSeconds)*time.Second, logger)

	// Sinks
	backends, closeSinks := newBackends(cfg, logger)
	defer closeSinks()
	out, err := sink.NewMulti(logger, backends...)
	if err != nil {
		return fail("no data sink", err)
	}
	logger.Info("Sinks initialized", zap.Strings("backends", out.Names()))

	// Observers
	stationCfg := cfg.StationConfig()
	collectors := metrics.NewCollectors()
	history := buffer.New[station.CycleResult](cfg.Health.HistorySize, logger)
	recorders := station.Recorders{collectors}

	var ctrl *station.Controller
	healthChecker := metrics.NewHealthChecker(
		history,
		func() station.MenuState { return ctrl.State() },
		stationCfg.Timing.Period(),
		clk,
		collectors,
		cfg.Health.Port,
		logger,
	)
	recorders = append(recorders, healthChecker)

	if cfg.Journal.Path != "" {
		j, err := journal.Open(cfg.Journal.Path, logger)
		if err != nil {
			return fail("journal unavailable", err)
		}
		defer j.Close()

		past, err := j.Recent(history.Capacity())
		if err != nil {
			logger.Warn("Failed to restore cycle history from journal", zap.Error(err))
		}
		for _, res := range past {
			history.Add(res)
		}
		total, err := j.Count()
		if err != nil {
			logger.Warn("Failed to count journaled cycles", zap.Error(err))
		}
		logger.Info("Journal opened",
			zap.String("path", cfg.Journal.Path),
			zap.Int("journaled_cycles", total),
			zap.Int("restored_cycles", len(past)),
		)
		recorders = append(recorders, j)
	}

	monitor, err := storage.NewMonitor(stationCfg.ImageDir, cfg.Storage.Schedule, collectors, logger)
	if err != nil {
		return fail("storage monitor failed", err)
	}

	ctrl, err = station.New(stationCfg, station.Deps{
		Left:     left,
		Right:    right,
		LED:      led,
		Camera:   camera,
		Scale:    scale,
		Analyzer: growth,
		Sink:     out,
		Display:  screen,
		Clock:    clk,
		Recorder: recorders,
		Logger:   logger,
	})
	if err != nil {
		return fail("controller setup failed", err)
	}

	// Set up context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := healthChecker.Start(); err != nil {
			logger.Error("Health check server error", zap.Error(err))
		}
	}()
	monitor.Start()

	logger.Info("Service started",
		zap.Int("healthCheckPort", cfg.Health.Port),
		zap.Duration("cyclePeriod", stationCfg.Timing.Period()))

	runErr := ctrl.Run(ctx)
	logger.Info("Received shutdown signal", zap.String("state", ctrl.State().String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	monitor.Stop(shutdownCtx)
	if err := healthChecker.Stop(shutdownCtx); err != nil {
		logger.Error("Error shutting down health check server", zap.Error(err))
	}

	logger.Info("Shutdown complete")
	return runErr
}

// showFatal shows msg on the display and returns it wrapped around err
func showFatal(screen interface{ ShowError(msg string) error }, logger *zap.Logger, msg string, err error) error {
	if showErr := screen.ShowError(msg); showErr != nil {
		logger.Warn("Failed to show error on display", zap.Error(showErr))
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// newBackends builds every enabled sink backend and returns a func closing them
func newBackends(cfg *config.Config, logger *zap.Logger) ([]sink.Backend, func()) {
	var backends []sink.Backend
	var closers []func() error

	if cfg.InfluxDB.Enabled() {
		influx := sink.NewInflux(sink.InfluxConfig{
			URL:     cfg.InfluxDB.URL,
			Token:   cfg.InfluxDB.Token,
			Org:     cfg.InfluxDB.Org,
			Bucket:  cfg.InfluxDB.Bucket,
			Timeout: time.Duration(cfg.InfluxDB.TimeoutSeconds) * time.Second,
		}, logger)

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := influx.Ping(pingCtx); err != nil {
			logger.Warn("InfluxDB not reachable yet, writes will be retried per cycle", zap.Error(err))
		}
		cancel()

		backends = append(backends, influx)
		closers = append(closers, influx.Close)
	}

	if cfg.RemoteWrite.Enabled {
		pusher := pkgmetrics.New(pkgmetrics.Config{
			URL:      cfg.RemoteWrite.URL,
			Username: cfg.RemoteWrite.Username,
			Password: cfg.RemoteWrite.Password,
			Timeout:  time.Duration(cfg.RemoteWrite.TimeoutSeconds) * time.Second,
		}, logger)
		backends = append(backends, sink.NewRemoteWrite(pusher, cfg.RemoteWrite.Labels))
	}

	if cfg.MQTT.Enabled {
		mq := sink.NewMQTT(sink.MQTTConfig{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         byte(cfg.MQTT.QoS),
			Timeout:     time.Duration(cfg.MQTT.TimeoutSeconds) * time.Second,
		}, logger)
		if err := mq.Connect(); err != nil {
			logger.Warn("MQTT broker not reachable yet, client keeps retrying", zap.Error(err))
		}
		backends = append(backends, mq)
		closers = append(closers, mq.Close)
	}

	return backends, func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Warn("Error closing sink", zap.Error(err))
			}
		}
	}
}
