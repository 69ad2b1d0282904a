package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/adred-codev/tcpframe/internal/shared/bridge"
	"github.com/adred-codev/tcpframe/internal/shared/limits"
	"github.com/adred-codev/tcpframe/internal/shared/monitoring"
	"github.com/adred-codev/tcpframe/internal/shared/platform"
	"github.com/adred-codev/tcpframe/internal/shared/transport"
	"github.com/adred-codev/tcpframe/internal/shared/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "go.uber.org/automaxprocs"
)

func main() {
	var (
		debug = flag.Bool("debug", false, "enable debug logging (overrides LOG_LEVEL)")
	)
	flag.Parse()

	// Structured logger comes from config, so config errors go to stderr
	cfg, err := platform.LoadConfig(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *debug {
		cfg.LogLevel = "debug"
	}

	monitoring.InitGlobalLogger(monitoring.LoggerConfig{
		Level:  types.LogLevel(cfg.LogLevel),
		Format: types.LogFormat(cfg.LogFormat),
	})
	logger := log.Logger

	if cfg.LogFormat == string(types.LogFormatPretty) {
		cfg.Print()
	}
	cfg.LogConfig(logger)

	// automaxprocs has already applied the container CPU quota
	logger.Info().Int("gomaxprocs", runtime.GOMAXPROCS(0)).Msg("GOMAXPROCS configured")

	if err := run(cfg, logger); err != nil {
		logger.Error().Err(err).Msg("Server exited with error")
		os.Exit(1)
	}
}

// run owns every resource of the daemon, so its deferred cleanups run on
// both the error and the signal path.
func run(cfg *platform.Config, logger zerolog.Logger) error {
	server, err := transport.NewServer(cfg.TransportOptions(), logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	monitor, err := monitoring.NewSystemMonitor(logger)
	if err != nil {
		logger.Warn().Err(err).Msg("System monitor unavailable, CPU and memory gauges disabled")
	} else {
		monitor.StartMonitoring(cfg.MetricsInterval)
		defer monitor.Shutdown()
	}

	var limiter *limits.AdmissionLimiter
	if cfg.ConnRateLimitEnabled {
		limiter = limits.NewAdmissionLimiter(limits.AdmissionConfig{
			IPBurst:     cfg.ConnRateLimitIPBurst,
			IPRate:      cfg.ConnRateLimitIPRate,
			IPTTL:       cfg.ConnRateLimitIPTTL,
			GlobalBurst: cfg.ConnRateLimitGlobalBurst,
			GlobalRate:  cfg.ConnRateLimitGlobalRate,
			Logger:      logger,
		})
		defer limiter.Stop()
	}

	var natsBridge *bridge.Bridge
	if cfg.NATSURL != "" {
		natsBridge, err = bridge.New(bridge.Config{
			URL:            cfg.NATSURL,
			SubjectPrefix:  cfg.NATSSubjectPrefix,
			OutboundBuffer: cfg.NATSOutboundBuffer,
			Logger:         logger,
		})
		if err != nil {
			return fmt.Errorf("failed to connect NATS bridge: %w", err)
		}
		defer natsBridge.Close()

		if err := natsBridge.Start(); err != nil {
			return fmt.Errorf("failed to start NATS bridge: %w", err)
		}
	}

	relay := NewRelay(RelayConfig{
		Server:       server,
		Limiter:      limiter,
		Bridge:       natsBridge,
		Monitor:      monitor,
		MaxPerTick:   cfg.MaxReceivesPerTick,
		TickInterval: cfg.TickInterval,
		Logger:       logger,
	})

	if err := server.Start(cfg.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           newHTTPHandler(relay),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		defer monitoring.RecoverPanic(logger, "httpServer", nil)
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("Serving /metrics and /health")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	relay.Run(ctx)

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("HTTP server shutdown")
	}
	return nil
}
