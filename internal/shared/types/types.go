package types

import "time"

// LogLevel represents log verbosity level
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
	LogLevelFatal LogLevel = "fatal"
)

// LogFormat represents log output format
type LogFormat string

const (
	LogFormatJSON   LogFormat = "json"   // JSON format for Loki
	LogFormatPretty LogFormat = "pretty" // Human-readable for local dev
)

// Stats is the snapshot served by the daemon's /health endpoint.
type Stats struct {
	StartTime          time.Time `json:"start_time"`
	Uptime             string    `json:"uptime"`
	Active             bool      `json:"active"`
	CurrentConnections int       `json:"current_connections"`
	ReceivePipeDepth   int       `json:"receive_pipe_depth"`
	CPUPercent         float64   `json:"cpu_percent"`
	MemoryMB           float64   `json:"memory_mb"`
	Goroutines         int       `json:"goroutines"`
	BridgeConnected    bool      `json:"bridge_connected"`
}
