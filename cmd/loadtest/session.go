package main

import (
	"context"
	"encoding/binary"
	"errors"
	"sync/atomic"
	"time"

	"github.com/adred-codev/tcpframe/internal/shared/monitoring"
	"github.com/adred-codev/tcpframe/internal/shared/transport"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// seqSize is the sequence number at the front of every payload.
const seqSize = 8

// State tracks test metrics across all sessions.
type State struct {
	active       atomic.Int64
	totalCreated atomic.Int64
	connectFails atomic.Int64
	disconnects  atomic.Int64

	sent       atomic.Int64
	received   atomic.Int64
	outOfOrder atomic.Int64
	malformed  atomic.Int64
	sendErrors atomic.Int64
}

// session is one load client. All of its fields except the State counters
// are touched only by the goroutine running run.
type session struct {
	id     int
	client *transport.Client
	state  *State
	logger zerolog.Logger

	payload   []byte
	nextSend  uint64
	nextRecv  uint64
	connected bool
	everUp    bool
	ended     bool
}

func newSession(id int, opts transport.Options, payloadSize int, state *State, logger zerolog.Logger) (*session, error) {
	client, err := transport.NewClient(opts, logger)
	if err != nil {
		return nil, err
	}

	if payloadSize < seqSize {
		payloadSize = seqSize
	}

	s := &session{
		id:      id,
		client:  client,
		state:   state,
		logger:  logger.With().Int("session", id).Logger(),
		payload: make([]byte, payloadSize),
	}
	client.OnConnected = s.onConnected
	client.OnData = s.onData
	client.OnDisconnected = s.onDisconnected
	return s, nil
}

func (s *session) onConnected() {
	s.connected = true
	s.everUp = true
	s.state.active.Add(1)
}

// onData checks that echoes come back in the order they were sent.
func (s *session) onData(data []byte) {
	if len(data) < seqSize {
		s.state.malformed.Add(1)
		return
	}

	seq := binary.BigEndian.Uint64(data)
	if seq != s.nextRecv {
		s.state.outOfOrder.Add(1)
		s.logger.Warn().
			Uint64("expected", s.nextRecv).
			Uint64("got", seq).
			Msg("Echo out of order")
	}
	s.nextRecv = seq + 1
	s.state.received.Add(1)
}

func (s *session) onDisconnected() {
	if s.connected {
		s.state.active.Add(-1)
		s.state.disconnects.Add(1)
	} else if !s.everUp {
		s.state.connectFails.Add(1)
	}
	s.connected = false
	s.ended = true
}

// send pushes the next sequence-numbered payload.
func (s *session) send() error {
	binary.BigEndian.PutUint64(s.payload, s.nextSend)
	if err := s.client.Send(s.payload); err != nil {
		return err
	}
	s.nextSend++
	s.state.sent.Add(1)
	return nil
}

// run connects and then ticks until ctx ends or the connection drops.
// pace limits this session's send rate.
func (s *session) run(ctx context.Context, host string, port int, pace *rate.Limiter, tickInterval time.Duration) {
	defer monitoring.RecoverPanic(s.logger, "session", nil)

	if err := s.client.Connect(host, port); err != nil {
		s.logger.Error().Err(err).Msg("Connect refused")
		return
	}

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.client.Disconnect()
			// Let the Disconnected event land so the counters add up.
			deadline := time.Now().Add(time.Second)
			for !s.ended && time.Now().Before(deadline) {
				s.client.Tick(1000, nil)
				time.Sleep(tickInterval)
			}
			return

		case <-ticker.C:
			s.client.Tick(1000, nil)
			if s.ended {
				return
			}

			for s.connected && pace.Allow() {
				if err := s.send(); err != nil {
					s.state.sendErrors.Add(1)
					if !errors.Is(err, transport.ErrSendQueueFull) {
						s.logger.Debug().Err(err).Msg("Send failed")
					}
					break
				}
			}
		}
	}
}
