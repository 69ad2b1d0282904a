package transport

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adred-codev/tcpframe/internal/shared/monitoring"
	"github.com/rs/zerolog"
)

// signal is a one-slot wake-up for the send pump. set never blocks and
// collapses repeated wake-ups into one.
type signal chan struct{}

func newSignal() signal { return make(signal, 1) }

func (s signal) set() {
	select {
	case s <- struct{}{}:
	default:
	}
}

func (s signal) reset() {
	select {
	case <-s:
	default:
	}
}

// connection is one live socket plus the state its two pumps share.
type connection struct {
	id          int
	conn        net.Conn
	remoteAddr  string
	connectedAt time.Time

	role        string
	opts        Options
	logger      zerolog.Logger
	receivePipe *ReceivePipe // shared with other connections on a server
	sendPipe    *SendPipe
	sendPending signal

	done      chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
	reason    string // written once inside closeOnce
}

func newConnection(id int, conn net.Conn, role string, opts Options, receivePipe *ReceivePipe, logger zerolog.Logger) *connection {
	return &connection{
		id:          id,
		conn:        conn,
		remoteAddr:  remoteIP(conn),
		connectedAt: time.Now(),
		role:        role,
		opts:        opts,
		logger:      logger.With().Int("connection_id", id).Logger(),
		receivePipe: receivePipe,
		sendPipe:    NewSendPipe(opts.MaxMessageSize),
		sendPending: newSignal(),
		done:        make(chan struct{}),
	}
}

// close shuts the socket down and wakes the send pump. Only the first call
// has an effect; its reason is the one reported. Returns the recorded reason.
func (c *connection) close(reason string) string {
	c.closeOnce.Do(func() {
		c.reason = reason
		c.closed.Store(true)
		close(c.done)
		if c.conn != nil {
			c.conn.Close()
		}
	})
	return c.reason
}

func (c *connection) isClosed() bool {
	return c.closed.Load()
}

// enqueue hands a validated payload to the send pump. A full send queue
// means the peer can't keep up; the connection is closed rather than left
// to grow without bound.
func (c *connection) enqueue(payload []byte) error {
	if c.sendPipe.Count() >= c.opts.SendQueueLimit {
		c.logger.Warn().
			Int("send_queue_limit", c.opts.SendQueueLimit).
			Msg("Send queue limit reached, disconnecting slow connection")
		monitoring.IncrementQueueOverflow(c.role, "send")
		c.close(monitoring.DisconnectReasonSendQueueLimit)
		return ErrSendQueueFull
	}

	c.sendPipe.Enqueue(payload)
	c.sendPending.set()
	return nil
}

// start runs both pumps. The send pump gets its own goroutine; the receive
// pump runs on the caller's.
func (c *connection) start() {
	monitoring.RecordConnect(c.role)
	go c.sendPump()
	c.receivePump()
}

// checkPayload applies the size rules shared by client and server sends.
func checkPayload(payload []byte, opts Options, logger zerolog.Logger) error {
	if len(payload) == 0 {
		return ErrEmptyMessage
	}
	if len(payload) > opts.MaxMessageSize {
		logger.Error().
			Int("size", len(payload)).
			Int("max_message_size", opts.MaxMessageSize).
			Msg("Message too large, not sent")
		return ErrOversizedMessage
	}
	return nil
}

// configureTCP applies socket options. Send and receive timeouts have no
// socket-level equivalent in Go; the pumps arm per-operation deadlines instead.
func configureTCP(conn net.Conn, opts Options) {
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(opts.NoDelay)
	}
}

func remoteIP(conn net.Conn) string {
	if conn == nil || conn.RemoteAddr() == nil {
		return ""
	}
	if addr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		return addr.IP.String()
	}
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return conn.RemoteAddr().String()
	}
	return host
}
