package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/adred-codev/tcpframe/internal/shared/monitoring"
	"github.com/rs/zerolog"
)

// clientConnectionID is the id a Client's events carry. A client only ever
// has one connection, so the id is a constant.
const clientConnectionID = 0

// Client is a single outbound connection.
//
// Connect, Send and Disconnect may be called from any goroutine. Callbacks
// fire only from Tick, on the goroutine calling it.
type Client struct {
	OnConnected    func()
	OnData         func(data []byte)
	OnDisconnected func()

	opts   Options
	logger zerolog.Logger

	mu    sync.Mutex
	state *clientState
}

// clientState is everything owned by one Connect attempt. A fresh one per
// attempt means a late event from an old socket can never leak into a new
// session.
type clientState struct {
	receivePipe *ReceivePipe
	cancel      context.CancelFunc
	connecting  atomic.Bool
	conn        atomic.Pointer[connection]
}

func (s *clientState) connected() bool {
	c := s.conn.Load()
	return c != nil && !c.isClosed()
}

// NewClient validates opts and returns an idle client.
func NewClient(opts Options, logger zerolog.Logger) (*Client, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Client{
		opts:   opts,
		logger: logger.With().Str("component", "tcp_client").Logger(),
	}, nil
}

func (c *Client) current() *clientState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected reports whether the socket is up.
func (c *Client) Connected() bool {
	st := c.current()
	return st != nil && st.connected()
}

// Connecting reports whether a dial is in flight.
func (c *Client) Connecting() bool {
	st := c.current()
	return st != nil && st.connecting.Load()
}

// ReceivePipeCount is the number of events waiting for Tick.
func (c *Client) ReceivePipeCount() int {
	st := c.current()
	if st == nil {
		return 0
	}
	return st.receivePipe.TotalCount()
}

// Connect starts dialing host:port in the background and returns
// immediately. The outcome arrives through Tick: OnConnected on success, or
// a lone OnDisconnected if the dial fails.
func (c *Client) Connect(host string, port int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if st := c.state; st != nil && (st.connecting.Load() || st.connected()) {
		c.logger.Warn().Msg("Client is already connected or connecting, ignoring Connect")
		return ErrAlreadyConnected
	}

	ctx, cancel := context.WithCancel(context.Background())
	st := &clientState{
		receivePipe: NewReceivePipe(c.opts.MaxMessageSize),
		cancel:      cancel,
	}
	st.connecting.Store(true)
	c.state = st

	go c.run(ctx, st, net.JoinHostPort(host, strconv.Itoa(port)))
	return nil
}

// run dials, then becomes the receive pump for the new connection.
func (c *Client) run(ctx context.Context, st *clientState, address string) {
	defer monitoring.RecoverPanic(c.logger, "clientConnect", map[string]any{
		"address": address,
	})
	defer st.cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		st.connecting.Store(false)
		c.logger.Info().
			Err(err).
			Str("address", address).
			Msg("Failed to connect")
		monitoring.RecordDisconnect(monitoring.RoleClient, monitoring.DisconnectReasonConnectFailed, 0)
		st.receivePipe.Enqueue(clientConnectionID, EventDisconnected, nil)
		return
	}

	configureTCP(conn, c.opts)
	cn := newConnection(clientConnectionID, conn, monitoring.RoleClient, c.opts, st.receivePipe, c.logger)
	st.conn.Store(cn)
	st.connecting.Store(false)

	// Disconnect may have run between the dial returning and the Store above.
	if ctx.Err() != nil {
		cn.close(monitoring.DisconnectReasonClientInitiated)
	}

	c.logger.Info().
		Str("address", address).
		Msg("Connected")

	cn.start()
}

// Send queues payload for the server. It never blocks on the network.
func (c *Client) Send(payload []byte) error {
	st := c.current()
	if st == nil || !st.connected() {
		c.logger.Warn().Msg("Send while not connected")
		return ErrNotConnected
	}

	if err := checkPayload(payload, c.opts, c.logger); err != nil {
		return err
	}

	if err := st.conn.Load().enqueue(payload); err != nil {
		return fmt.Errorf("client send: %w", err)
	}
	return nil
}

// Disconnect cancels a pending dial or closes the socket. Calling it on an
// idle client does nothing. Events already queued, including the
// Disconnected this produces, are still delivered by Tick.
func (c *Client) Disconnect() {
	st := c.current()
	if st == nil || (!st.connecting.Load() && !st.connected()) {
		return
	}

	c.logger.Info().Msg("Disconnecting")
	st.cancel()
	if cn := st.conn.Load(); cn != nil {
		cn.close(monitoring.DisconnectReasonClientInitiated)
	}
}

// Tick delivers up to limit queued events through the callbacks and
// returns how many are still queued. keepGoing, if non-nil, is checked
// before each event; returning false stops the drain early.
func (c *Client) Tick(limit int, keepGoing func() bool) int {
	st := c.current()
	if st == nil {
		return 0
	}

	return drain(st.receivePipe, limit, keepGoing, func(ev Event) {
		switch ev.Type {
		case EventConnected:
			if c.OnConnected != nil {
				c.OnConnected()
			}
		case EventData:
			if c.OnData != nil {
				c.OnData(ev.Data)
			}
		case EventDisconnected:
			if c.OnDisconnected != nil {
				c.OnDisconnected()
			}
		}
	})
}

// drain is the Tick loop shared by Client and Server. The event is only
// dequeued after dispatch returns, so Data stays valid for the callback.
func drain(pipe *ReceivePipe, limit int, keepGoing func() bool, dispatch func(Event)) int {
	for i := 0; i < limit; i++ {
		if keepGoing != nil && !keepGoing() {
			break
		}

		ev, ok := pipe.TryPeek()
		if !ok {
			break
		}

		dispatch(ev)
		pipe.TryDequeue()
	}
	return pipe.TotalCount()
}
