package main

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/adred-codev/tcpframe/internal/shared/bridge"
	"github.com/adred-codev/tcpframe/internal/shared/limits"
	"github.com/adred-codev/tcpframe/internal/shared/monitoring"
	"github.com/adred-codev/tcpframe/internal/shared/transport"
	"github.com/adred-codev/tcpframe/internal/shared/types"
	"github.com/rs/zerolog"
)

// shutdownTicks bounds how long Run keeps draining after Stop so the last
// Disconnected events reach the bridge.
const shutdownTicks = 100

// Relay is the application on top of the transport server: it echoes every
// payload back to its sender and, when a bridge is configured, mirrors all
// events to NATS.
//
// Every callback runs on the goroutine calling Run, so admitted needs no lock.
type Relay struct {
	server  *transport.Server
	limiter *limits.AdmissionLimiter  // optional
	bridge  *bridge.Bridge            // optional
	monitor *monitoring.SystemMonitor // optional

	maxPerTick   int
	tickInterval time.Duration
	startTime    time.Time
	logger       zerolog.Logger

	// Connections that passed admission. Rejected ids never reach the bridge.
	admitted map[int]struct{}
}

// RelayConfig wires a Relay. Only Server is required.
type RelayConfig struct {
	Server       *transport.Server
	Limiter      *limits.AdmissionLimiter
	Bridge       *bridge.Bridge
	Monitor      *monitoring.SystemMonitor
	MaxPerTick   int
	TickInterval time.Duration
	Logger       zerolog.Logger
}

// NewRelay installs its callbacks on config.Server.
func NewRelay(config RelayConfig) *Relay {
	r := &Relay{
		server:       config.Server,
		limiter:      config.Limiter,
		bridge:       config.Bridge,
		monitor:      config.Monitor,
		maxPerTick:   config.MaxPerTick,
		tickInterval: config.TickInterval,
		startTime:    time.Now(),
		logger:       config.Logger.With().Str("component", "relay").Logger(),
		admitted:     make(map[int]struct{}),
	}

	r.server.OnConnected = r.onConnected
	r.server.OnData = r.onData
	r.server.OnDisconnected = r.onDisconnected
	return r
}

func (r *Relay) onConnected(id int) {
	addr := r.server.ClientAddress(id)

	if r.limiter != nil {
		if ok, reason := r.limiter.Admit(addr); !ok {
			r.logger.Warn().
				Int("connection_id", id).
				Str("remote_addr", addr).
				Str("reason", reason).
				Msg("Connection rate limited, disconnecting")
			r.server.Disconnect(id)
			return
		}
	}

	r.admitted[id] = struct{}{}
	r.logger.Debug().Int("connection_id", id).Str("remote_addr", addr).Msg("Client connected")

	if r.bridge != nil {
		if err := r.bridge.PublishConnected(id, addr); err != nil {
			r.logger.Warn().Err(err).Int("connection_id", id).Msg("Failed to relay connect")
		}
	}
}

func (r *Relay) onData(id int, data []byte) {
	if _, ok := r.admitted[id]; !ok {
		return
	}

	// Send copies data, so the pooled buffer can be handed straight back.
	if err := r.server.Send(id, data); err != nil {
		r.logger.Debug().Err(err).Int("connection_id", id).Msg("Echo failed")
	}

	if r.bridge != nil {
		if err := r.bridge.PublishData(id, data); err != nil {
			r.logger.Warn().Err(err).Int("connection_id", id).Msg("Failed to relay data")
		}
	}
}

func (r *Relay) onDisconnected(id int) {
	if _, ok := r.admitted[id]; !ok {
		return
	}
	delete(r.admitted, id)
	r.logger.Debug().Int("connection_id", id).Msg("Client disconnected")

	if r.bridge != nil {
		if err := r.bridge.PublishDisconnected(id); err != nil {
			r.logger.Warn().Err(err).Int("connection_id", id).Msg("Failed to relay disconnect")
		}
	}
}

// tick is one pass of the loop: deliver transport events, then NATS
// messages addressed to connections.
func (r *Relay) tick() int {
	remaining := r.server.Tick(r.maxPerTick, nil)
	if r.bridge != nil {
		r.bridge.Drain(r.maxPerTick, r.server.Send)
	}
	return remaining
}

// Run ticks until ctx is cancelled, then stops the server and drains what
// is left.
func (r *Relay) Run(ctx context.Context) {
	defer monitoring.RecoverPanic(r.logger, "relay", nil)

	ticker := time.NewTicker(r.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.shutdown()
			return
		case <-ticker.C:
			r.tick()
		}
	}
}

func (r *Relay) shutdown() {
	r.logger.Info().Msg("Stopping transport server")
	r.server.Stop()

	for i := 0; i < shutdownTicks; i++ {
		if r.server.Tick(r.maxPerTick, nil) == 0 && len(r.admitted) == 0 {
			break
		}
		time.Sleep(r.tickInterval)
	}
}

// Stats is the snapshot served on /health.
func (r *Relay) Stats() types.Stats {
	stats := types.Stats{
		StartTime:          r.startTime,
		Uptime:             time.Since(r.startTime).Round(time.Second).String(),
		Active:             r.server.Active(),
		CurrentConnections: r.server.ConnectionCount(),
		ReceivePipeDepth:   r.server.ReceivePipeTotalCount(),
		Goroutines:         runtime.NumGoroutine(),
		BridgeConnected:    r.bridge != nil && r.bridge.Connected(),
	}
	if r.monitor != nil {
		m := r.monitor.GetMetrics()
		stats.CPUPercent = m.CPUPercent
		stats.MemoryMB = m.MemoryMB
	}
	return stats
}

func (r *Relay) handleHealth(w http.ResponseWriter, _ *http.Request) {
	stats := r.Stats()

	w.Header().Set("Content-Type", "application/json")
	if !stats.Active {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		r.logger.Debug().Err(err).Msg("Failed to write health response")
	}
}

// newHTTPHandler serves /metrics and /health.
func newHTTPHandler(r *Relay) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", monitoring.Handler())
	mux.HandleFunc("/health", r.handleHealth)
	return mux
}
