package transport

import (
	"errors"
	"fmt"
	"math"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adred-codev/tcpframe/internal/shared/monitoring"
	"github.com/rs/zerolog"
)

// Server accepts connections and multiplexes all of their events into one
// ReceivePipe, drained by Tick.
//
// Start, Stop and Tick are meant for one owning goroutine. Send, Disconnect
// and ClientAddress may be called from anywhere.
type Server struct {
	OnConnected    func(connectionID int)
	OnData         func(connectionID int, data []byte)
	OnDisconnected func(connectionID int)

	opts   Options
	logger zerolog.Logger

	mu          sync.Mutex
	listener    net.Listener
	receivePipe *ReceivePipe
	acceptDone  chan struct{}

	clients sync.Map // int -> *connection
	count   atomic.Int64

	// Connection ids are handed out by the accept loop and never reused
	// within one Start.
	counter atomic.Int32
}

// NewServer validates opts and returns a stopped server.
func NewServer(opts Options, logger zerolog.Logger) (*Server, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Server{
		opts:   opts,
		logger: logger.With().Str("component", "tcp_server").Logger(),
	}, nil
}

// Active reports whether the listener is running.
func (s *Server) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listener != nil
}

// Addr is the bound listen address, or nil when stopped. Useful after
// Start(0).
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ConnectionCount is the number of connections whose Disconnected event
// hasn't been delivered yet.
func (s *Server) ConnectionCount() int {
	return int(s.count.Load())
}

// ReceivePipeTotalCount is the number of events waiting for Tick.
func (s *Server) ReceivePipeTotalCount() int {
	pipe := s.pipe()
	if pipe == nil {
		return 0
	}
	return pipe.TotalCount()
}

func (s *Server) pipe() *ReceivePipe {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.receivePipe
}

// Start listens on port on all interfaces and begins accepting. Port 0
// picks a free port; see Addr.
func (s *Server) Start(port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		s.logger.Warn().Msg("Server already started")
		return ErrAlreadyActive
	}

	ln, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", port, err)
	}

	// A fresh pipe per Start. The previous one may still hold events from
	// the last run; they are dropped.
	s.receivePipe = NewReceivePipe(s.opts.MaxMessageSize)
	s.listener = ln
	s.acceptDone = make(chan struct{})
	s.counter.Store(0)

	s.logger.Info().
		Str("address", ln.Addr().String()).
		Int("max_message_size", s.opts.MaxMessageSize).
		Msg("Server started")

	go s.acceptLoop(ln, s.receivePipe, s.acceptDone)
	return nil
}

// nextConnectionID hands out 1, 2, 3, ... The id space is int32 so ids
// stay valid on peers that store them as 32-bit values.
func (s *Server) nextConnectionID() (int, error) {
	for {
		cur := s.counter.Load()
		if cur >= math.MaxInt32-1 {
			return 0, ErrConnectionIDsExhausted
		}
		if s.counter.CompareAndSwap(cur, cur+1) {
			return int(cur + 1), nil
		}
	}
}

// acceptLoop owns the listener. It captures this Start's pipe so a
// connection accepted just before Stop can't write into the next run's pipe.
func (s *Server) acceptLoop(ln net.Listener, pipe *ReceivePipe, done chan struct{}) {
	defer close(done)
	defer monitoring.RecoverPanic(s.logger, "acceptLoop", nil)

	var tempDelay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				s.logger.Info().Msg("Listener closed, accept loop stopped")
				return
			}

			// Same backoff net/http uses for EMFILE and friends.
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if tempDelay > time.Second {
					tempDelay = time.Second
				}
				s.logger.Warn().
					Err(err).
					Dur("retry_in", tempDelay).
					Msg("Accept error, retrying")
				time.Sleep(tempDelay)
				continue
			}

			s.logger.Error().Err(err).Msg("Accept failed, accept loop stopped")
			return
		}
		tempDelay = 0

		id, err := s.nextConnectionID()
		if err != nil {
			s.logger.Error().
				Err(err).
				Msg("Connection ids exhausted, no longer accepting. Restart the server")
			conn.Close()
			ln.Close()
			return
		}

		configureTCP(conn, s.opts)
		c := newConnection(id, conn, monitoring.RoleServer, s.opts, pipe, s.logger)
		s.clients.Store(id, c)
		s.count.Add(1)

		s.logger.Debug().
			Int("connection_id", id).
			Str("remote_addr", c.remoteAddr).
			Msg("Connection accepted")

		go c.start()
	}
}

func (s *Server) lookup(connectionID int) (*connection, bool) {
	v, ok := s.clients.Load(connectionID)
	if !ok {
		return nil, false
	}
	return v.(*connection), true
}

// Send queues payload for one connection. It never blocks on the network.
func (s *Server) Send(connectionID int, payload []byte) error {
	if !s.Active() {
		s.logger.Warn().Int("connection_id", connectionID).Msg("Send while server not active")
		return ErrNotActive
	}

	if err := checkPayload(payload, s.opts, s.logger); err != nil {
		return err
	}

	// Unknown ids are normal: the connection may have just gone away.
	c, ok := s.lookup(connectionID)
	if !ok || c.isClosed() {
		return ErrUnknownConnection
	}

	if err := c.enqueue(payload); err != nil {
		return fmt.Errorf("send to connection %d: %w", connectionID, err)
	}
	return nil
}

// Disconnect closes one connection. Its Disconnected event still arrives
// through Tick.
func (s *Server) Disconnect(connectionID int) error {
	c, ok := s.lookup(connectionID)
	if !ok {
		return ErrUnknownConnection
	}

	s.logger.Info().Int("connection_id", connectionID).Msg("Disconnecting connection")
	c.close(monitoring.DisconnectReasonKicked)
	return nil
}

// ClientAddress returns the remote IP of a connection, or "" if unknown.
func (s *Server) ClientAddress(connectionID int) string {
	c, ok := s.lookup(connectionID)
	if !ok {
		return ""
	}
	return c.remoteAddr
}

// Stop closes the listener and every connection. Disconnected events for
// them are still delivered by Tick until the next Start.
func (s *Server) Stop() {
	s.mu.Lock()
	ln := s.listener
	done := s.acceptDone
	s.listener = nil
	s.mu.Unlock()

	if ln == nil {
		return
	}

	s.logger.Info().Msg("Stopping server")
	ln.Close()
	<-done

	s.clients.Range(func(key, value any) bool {
		value.(*connection).close(monitoring.DisconnectReasonServerShutdown)
		s.clients.Delete(key)
		return true
	})
	s.count.Store(0)
	s.counter.Store(0)
}

// Tick delivers up to limit queued events through the callbacks and
// returns how many are still queued. keepGoing, if non-nil, is checked
// before each event; returning false stops the drain early.
func (s *Server) Tick(limit int, keepGoing func() bool) int {
	pipe := s.pipe()
	if pipe == nil {
		return 0
	}

	remaining := drain(pipe, limit, keepGoing, func(ev Event) {
		switch ev.Type {
		case EventConnected:
			if s.OnConnected != nil {
				s.OnConnected(ev.ConnectionID)
			}
		case EventData:
			if s.OnData != nil {
				s.OnData(ev.ConnectionID, ev.Data)
			}
		case EventDisconnected:
			if s.OnDisconnected != nil {
				s.OnDisconnected(ev.ConnectionID)
			}
			// Only now: Send/ClientAddress must keep working for the id
			// until the application has seen it go.
			if _, loaded := s.clients.LoadAndDelete(ev.ConnectionID); loaded {
				s.count.Add(-1)
			}
		}
	})

	monitoring.UpdateReceivePipeDepth(monitoring.RoleServer, remaining)
	return remaining
}
