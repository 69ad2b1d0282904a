package platform

import (
	"fmt"
	"time"

	"github.com/adred-codev/tcpframe/internal/shared/transport"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all daemon configuration
// Tags:
//
//	env: Environment variable name
//	envDefault: Default value if not set
type Config struct {
	// Listener
	Port int `env:"TCP_PORT" envDefault:"9000"`

	// Transport
	MaxMessageSize    int           `env:"TCP_MAX_MESSAGE_SIZE" envDefault:"16384"`
	NoDelay           bool          `env:"TCP_NO_DELAY" envDefault:"true"`
	SendTimeout       time.Duration `env:"TCP_SEND_TIMEOUT" envDefault:"5s"`    // 0 disables
	ReceiveTimeout    time.Duration `env:"TCP_RECEIVE_TIMEOUT" envDefault:"5s"` // 0 disables
	SendQueueLimit    int           `env:"TCP_SEND_QUEUE_LIMIT" envDefault:"10000"`
	ReceiveQueueLimit int           `env:"TCP_RECEIVE_QUEUE_LIMIT" envDefault:"10000"`

	// Tick loop
	MaxReceivesPerTick int           `env:"TCP_MAX_RECEIVES_PER_TICK" envDefault:"10000"`
	TickInterval       time.Duration `env:"TCP_TICK_INTERVAL" envDefault:"10ms"`

	// Monitoring
	MetricsAddr     string        `env:"METRICS_ADDR" envDefault:":9090"`
	MetricsInterval time.Duration `env:"METRICS_INTERVAL" envDefault:"15s"`

	// Connection admission (per IP plus global)
	ConnRateLimitEnabled     bool          `env:"CONN_RATE_LIMIT_ENABLED" envDefault:"true"`
	ConnRateLimitIPBurst     int           `env:"CONN_RATE_LIMIT_IP_BURST" envDefault:"10"`
	ConnRateLimitIPRate      float64       `env:"CONN_RATE_LIMIT_IP_RATE" envDefault:"1.0"`
	ConnRateLimitGlobalBurst int           `env:"CONN_RATE_LIMIT_GLOBAL_BURST" envDefault:"300"`
	ConnRateLimitGlobalRate  float64       `env:"CONN_RATE_LIMIT_GLOBAL_RATE" envDefault:"50.0"`
	ConnRateLimitIPTTL       time.Duration `env:"CONN_RATE_LIMIT_IP_TTL" envDefault:"5m"`

	// NATS relay, disabled when NATS_URL is empty
	NATSURL            string `env:"NATS_URL"`
	NATSSubjectPrefix  string `env:"NATS_SUBJECT_PREFIX" envDefault:"tcp"`
	NATSOutboundBuffer int    `env:"NATS_OUTBOUND_BUFFER" envDefault:"4096"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Environment
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// LoadConfig reads configuration from .env file and environment variables
// Priority: ENV vars > .env file > defaults
//
// Optional logger parameter for structured logging. If nil, logs to stdout.
func LoadConfig(logger *zerolog.Logger) (*Config, error) {
	// .env is a development convenience; containers use plain env vars
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("No .env file found (using environment variables only)")
		} else {
			fmt.Println("Info: No .env file found (using environment variables only)")
		}
	} else if logger != nil {
		logger.Info().Msg("Loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	if logger != nil {
		logger.Info().Msg("Configuration loaded and validated successfully")
	}

	return cfg, nil
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("TCP_PORT must be 0-65535, got %d", c.Port)
	}
	if c.MetricsAddr == "" {
		return fmt.Errorf("METRICS_ADDR is required")
	}

	if err := c.TransportOptions().Validate(); err != nil {
		return err
	}

	if c.MaxReceivesPerTick < 1 {
		return fmt.Errorf("TCP_MAX_RECEIVES_PER_TICK must be > 0, got %d", c.MaxReceivesPerTick)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("TCP_TICK_INTERVAL must be > 0, got %s", c.TickInterval)
	}
	if c.MetricsInterval <= 0 {
		return fmt.Errorf("METRICS_INTERVAL must be > 0, got %s", c.MetricsInterval)
	}

	if c.ConnRateLimitEnabled {
		if c.ConnRateLimitIPBurst < 1 || c.ConnRateLimitGlobalBurst < 1 {
			return fmt.Errorf("CONN_RATE_LIMIT bursts must be > 0 (ip=%d, global=%d)",
				c.ConnRateLimitIPBurst, c.ConnRateLimitGlobalBurst)
		}
		if c.ConnRateLimitIPRate <= 0 || c.ConnRateLimitGlobalRate <= 0 {
			return fmt.Errorf("CONN_RATE_LIMIT rates must be > 0 (ip=%.2f, global=%.2f)",
				c.ConnRateLimitIPRate, c.ConnRateLimitGlobalRate)
		}
	}

	if c.NATSURL != "" {
		if c.NATSSubjectPrefix == "" {
			return fmt.Errorf("NATS_SUBJECT_PREFIX is required when NATS_URL is set")
		}
		if c.NATSOutboundBuffer < 1 {
			return fmt.Errorf("NATS_OUTBOUND_BUFFER must be > 0, got %d", c.NATSOutboundBuffer)
		}
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}

	validLogFormats := map[string]bool{"json": true, "pretty": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, pretty (got: %s)", c.LogFormat)
	}

	return nil
}

// TransportOptions maps the TCP_* settings onto transport.Options.
func (c *Config) TransportOptions() transport.Options {
	return transport.Options{
		MaxMessageSize:    c.MaxMessageSize,
		NoDelay:           c.NoDelay,
		SendTimeout:       c.SendTimeout,
		ReceiveTimeout:    c.ReceiveTimeout,
		SendQueueLimit:    c.SendQueueLimit,
		ReceiveQueueLimit: c.ReceiveQueueLimit,
	}
}

// Print logs configuration for debugging (human-readable format)
// For production, use LogConfig() with structured logging
func (c *Config) Print() {
	fmt.Println("=== Server Configuration ===")
	fmt.Printf("Environment:     %s\n", c.Environment)
	fmt.Printf("Port:            %d\n", c.Port)
	fmt.Printf("Metrics:         %s\n", c.MetricsAddr)
	fmt.Println("\n=== Transport ===")
	fmt.Printf("Max Message:     %d bytes\n", c.MaxMessageSize)
	fmt.Printf("No Delay:        %t\n", c.NoDelay)
	fmt.Printf("Send Timeout:    %s\n", c.SendTimeout)
	fmt.Printf("Recv Timeout:    %s\n", c.ReceiveTimeout)
	fmt.Printf("Send Queue:      %d\n", c.SendQueueLimit)
	fmt.Printf("Recv Queue:      %d\n", c.ReceiveQueueLimit)
	fmt.Printf("Per Tick:        %d every %s\n", c.MaxReceivesPerTick, c.TickInterval)
	fmt.Println("\n=== Rate Limits ===")
	fmt.Printf("Enabled:         %t\n", c.ConnRateLimitEnabled)
	fmt.Printf("Per IP:          %.1f/sec (burst %d)\n", c.ConnRateLimitIPRate, c.ConnRateLimitIPBurst)
	fmt.Printf("Global:          %.1f/sec (burst %d)\n", c.ConnRateLimitGlobalRate, c.ConnRateLimitGlobalBurst)
	fmt.Println("\n=== NATS ===")
	fmt.Printf("URL:             %s\n", c.NATSURL)
	fmt.Printf("Prefix:          %s\n", c.NATSSubjectPrefix)
	fmt.Println("\n=== Logging ===")
	fmt.Printf("Level:           %s\n", c.LogLevel)
	fmt.Printf("Format:          %s\n", c.LogFormat)
	fmt.Println("============================")
}

// LogConfig logs configuration using structured logging (Loki-compatible)
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("environment", c.Environment).
		Int("port", c.Port).
		Str("metrics_addr", c.MetricsAddr).
		Int("max_message_size", c.MaxMessageSize).
		Bool("no_delay", c.NoDelay).
		Dur("send_timeout", c.SendTimeout).
		Dur("receive_timeout", c.ReceiveTimeout).
		Int("send_queue_limit", c.SendQueueLimit).
		Int("receive_queue_limit", c.ReceiveQueueLimit).
		Int("max_receives_per_tick", c.MaxReceivesPerTick).
		Dur("tick_interval", c.TickInterval).
		Dur("metrics_interval", c.MetricsInterval).
		Bool("conn_rate_limit_enabled", c.ConnRateLimitEnabled).
		Bool("nats_enabled", c.NATSURL != "").
		Str("nats_subject_prefix", c.NATSSubjectPrefix).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("Server configuration loaded")
}
