package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/adred-codev/tcpframe/internal/shared/monitoring"
	"github.com/adred-codev/tcpframe/internal/shared/transport"
	"github.com/adred-codev/tcpframe/internal/shared/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "go.uber.org/automaxprocs"
	"golang.org/x/time/rate"
)

// Config for one load test run
type Config struct {
	Host               string
	Port               int
	HealthURL          string
	TargetConnections  int
	RampRate           int // connections per second
	MessagesPerSec     float64
	PayloadSize        int
	SustainDurationSec int
	ReportIntervalSec  int
	TickInterval       time.Duration
	LogLevel           string
	LogFormat          string
}

func main() {
	cfg := parseFlags()

	monitoring.InitGlobalLogger(monitoring.LoggerConfig{
		Level:   types.LogLevel(cfg.LogLevel),
		Format:  types.LogFormat(cfg.LogFormat),
		Service: "tcp-loadtest",
	})
	logger := log.Logger

	logger.Info().
		Str("target", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)).
		Int("connections", cfg.TargetConnections).
		Int("ramp_rate", cfg.RampRate).
		Float64("messages_per_sec", cfg.MessagesPerSec).
		Int("payload_size", cfg.PayloadSize).
		Int("duration_sec", cfg.SustainDurationSec).
		Msg("Starting sustained load test")

	if cfg.HealthURL != "" {
		if stats, err := checkServerHealth(cfg.HealthURL); err != nil {
			logger.Fatal().Err(err).Msg("Server health check failed")
		} else {
			logger.Info().
				Int("current_connections", stats.CurrentConnections).
				Float64("cpu_percent", stats.CPUPercent).
				Msg("Server healthy")
		}
	}

	opts := transport.DefaultOptions()
	if cfg.PayloadSize > opts.MaxMessageSize {
		opts.MaxMessageSize = cfg.PayloadSize
	}
	if err := opts.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("Invalid transport options")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	state := &State{}
	startTime := time.Now()

	go periodicReports(ctx, state, time.Duration(cfg.ReportIntervalSec)*time.Second, logger)

	var wg sync.WaitGroup
	rampUp(ctx, cfg, opts, state, &wg, logger)

	if ctx.Err() == nil {
		logger.Info().
			Int64("active", state.active.Load()).
			Msg("Ramp-up complete, sustaining load")

		select {
		case <-time.After(time.Duration(cfg.SustainDurationSec) * time.Second):
		case <-ctx.Done():
			logger.Warn().Msg("Sustain phase interrupted")
		}
	}

	stop()
	wg.Wait()

	report(state, time.Since(startTime), logger.Info()).Msg("Load test finished")
}

// rampUp starts sessions at cfg.RampRate per second until the target is
// reached or ctx ends.
func rampUp(ctx context.Context, cfg *Config, opts transport.Options, state *State, wg *sync.WaitGroup, logger zerolog.Logger) {
	ramp := rate.NewLimiter(rate.Limit(cfg.RampRate), 1)

	for i := 1; i <= cfg.TargetConnections; i++ {
		if err := ramp.Wait(ctx); err != nil {
			return
		}

		s, err := newSession(i, opts, cfg.PayloadSize, state, logger)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to create session, stopping ramp-up")
			return
		}
		state.totalCreated.Add(1)

		pace := rate.NewLimiter(rate.Limit(cfg.MessagesPerSec), 1)
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.run(ctx, cfg.Host, cfg.Port, pace, cfg.TickInterval)
		}()
	}
}

func parseFlags() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.Host, "host", getEnv("TCP_HOST", "localhost"), "Server host")
	flag.IntVar(&cfg.Port, "port", getEnvInt("TCP_PORT", 9000), "Server port")
	flag.StringVar(&cfg.HealthURL, "health", getEnv("HEALTH_URL", "http://localhost:9090/health"), "Health check URL (empty to skip)")
	flag.IntVar(&cfg.TargetConnections, "connections", getEnvInt("TARGET_CONNECTIONS", 1000), "Target number of connections")
	flag.IntVar(&cfg.RampRate, "ramp-rate", getEnvInt("RAMP_RATE", 100), "Connections per second during ramp-up")
	flag.Float64Var(&cfg.MessagesPerSec, "rate", 10, "Messages per second per connection")
	flag.IntVar(&cfg.PayloadSize, "payload", getEnvInt("PAYLOAD_SIZE", 64), "Payload size in bytes (min 8)")
	flag.IntVar(&cfg.SustainDurationSec, "duration", getEnvInt("DURATION", 60), "Sustain duration in seconds")
	flag.IntVar(&cfg.ReportIntervalSec, "report-interval", 10, "Report interval in seconds")
	flag.DurationVar(&cfg.TickInterval, "tick", 10*time.Millisecond, "Client tick interval")
	flag.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "Log level")
	flag.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "pretty"), "Log format: json or pretty")

	flag.Parse()
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func checkServerHealth(url string) (*types.Stats, error) {
	client := http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("health check returned %s", resp.Status)
	}

	var stats types.Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, fmt.Errorf("failed to decode health response: %w", err)
	}
	return &stats, nil
}

func periodicReports(ctx context.Context, state *State, interval time.Duration, logger zerolog.Logger) {
	if interval <= 0 {
		return
	}
	start := time.Now()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report(state, time.Since(start), logger.Info()).Msg("Progress")
		}
	}
}

// report attaches the counters to ev.
func report(state *State, elapsed time.Duration, ev *zerolog.Event) *zerolog.Event {
	sent := state.sent.Load()
	received := state.received.Load()

	ev = ev.
		Dur("elapsed", elapsed.Round(time.Second)).
		Int64("active", state.active.Load()).
		Int64("created", state.totalCreated.Load()).
		Int64("connect_failures", state.connectFails.Load()).
		Int64("disconnects", state.disconnects.Load()).
		Int64("sent", sent).
		Int64("received", received).
		Int64("in_flight", sent-received).
		Int64("out_of_order", state.outOfOrder.Load()).
		Int64("malformed", state.malformed.Load()).
		Int64("send_errors", state.sendErrors.Load())

	if secs := elapsed.Seconds(); secs > 0 {
		ev = ev.Float64("received_per_sec", float64(received)/secs)
	}
	return ev
}
