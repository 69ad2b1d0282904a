package monitoring

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/adred-codev/tcpframe/internal/shared/types"
	"github.com/rs/zerolog/log"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v: %q", err, buf.String())
	}
	return entry
}

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LoggerConfig{
		Level:   types.LogLevelInfo,
		Format:  types.LogFormatJSON,
		Service: "tcp-loadtest",
		Output:  &buf,
	})

	logger.Debug().Msg("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug line written at info level: %q", buf.String())
	}

	logger.Info().Int("port", 9000).Msg("Server started")
	entry := decodeLine(t, &buf)

	if entry["service"] != "tcp-loadtest" || entry["message"] != "Server started" || entry["level"] != "info" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if entry["port"] != float64(9000) {
		t.Fatalf("port field: got %v", entry["port"])
	}
	for _, key := range []string{"time", "caller"} {
		if _, ok := entry[key]; !ok {
			t.Fatalf("missing %q in %v", key, entry)
		}
	}
}

func TestNewLoggerDefaults(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LoggerConfig{Level: "bogus", Output: &buf})

	logger.Info().Msg("x")
	if entry := decodeLine(t, &buf); entry["service"] != "tcp-server" {
		t.Fatalf("default service: got %v", entry["service"])
	}
}

func TestNewLoggerPretty(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LoggerConfig{Format: types.LogFormatPretty, Output: &buf})

	logger.Warn().Msg("queue full")
	if out := buf.String(); !strings.Contains(out, "queue full") || strings.HasPrefix(out, "{") {
		t.Fatalf("pretty output: %q", out)
	}
}

func TestLogError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LoggerConfig{Output: &buf})

	LogError(logger, errors.New("boom"), "Accept failed", map[string]any{"port": 9000})
	entry := decodeLine(t, &buf)
	if entry["level"] != "error" || entry["error"] != "boom" || entry["port"] != float64(9000) {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestRecoverPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LoggerConfig{Output: &buf})

	func() {
		defer RecoverPanic(logger, "receivePump", map[string]any{"connection_id": 3})
		panic("bad frame")
	}()

	entry := decodeLine(t, &buf)
	if entry["goroutine"] != "receivePump" || entry["panic_value"] != "bad frame" || entry["connection_id"] != float64(3) {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if _, ok := entry["stack_trace"]; !ok {
		t.Fatalf("missing stack trace")
	}
}

func TestInitGlobalLogger(t *testing.T) {
	saved := log.Logger
	t.Cleanup(func() { log.Logger = saved })

	var buf bytes.Buffer
	InitGlobalLogger(LoggerConfig{Service: "tcp-loadtest", Output: &buf})

	log.Info().Msg("global")
	if entry := decodeLine(t, &buf); entry["service"] != "tcp-loadtest" || entry["message"] != "global" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}
