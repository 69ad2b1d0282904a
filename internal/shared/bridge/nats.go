package bridge

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adred-codev/tcpframe/internal/shared/monitoring"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// EventHeader carries the transport event type on inbound NATS messages.
const EventHeader = "Tcp-Event"

// Event header values.
const (
	EventConnected    = "connected"
	EventData         = "data"
	EventDisconnected = "disconnected"
)

var ErrBadSubject = errors.New("bridge: malformed subject")

// Config holds NATS connection settings for the bridge.
type Config struct {
	URL            string
	SubjectPrefix  string
	OutboundBuffer int // relay messages held for the tick loop before dropping
	MaxReconnects  int
	ReconnectWait  time.Duration
	Logger         zerolog.Logger
}

// Outbound is a message from NATS addressed to one TCP connection.
type Outbound struct {
	ConnectionID int
	Data         []byte
}

// Bridge relays transport events to NATS and NATS messages back to
// connections.
//
// Inbound: every Connected, Data and Disconnected is published to
// <prefix>.in.<id>. Outbound: messages on <prefix>.out.<id> are buffered
// and handed to the tick goroutine by Drain, so the transport is only ever
// driven from one goroutine.
type Bridge struct {
	conn     *nats.Conn
	sub      *nats.Subscription
	prefix   string
	outbound chan Outbound
	logger   zerolog.Logger
}

// New connects to NATS. The bridge does nothing until Start.
func New(config Config) (*Bridge, error) {
	if config.OutboundBuffer <= 0 {
		config.OutboundBuffer = 4096
	}
	if config.MaxReconnects == 0 {
		config.MaxReconnects = -1
	}
	if config.ReconnectWait == 0 {
		config.ReconnectWait = 2 * time.Second
	}

	b := &Bridge{
		prefix:   config.SubjectPrefix,
		outbound: make(chan Outbound, config.OutboundBuffer),
		logger:   config.Logger.With().Str("component", "nats_bridge").Logger(),
	}

	conn, err := nats.Connect(config.URL,
		nats.Name("tcp-server"),
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(b.disconnectHandler),
		nats.ReconnectHandler(b.reconnectHandler),
		nats.ErrorHandler(b.errorHandler),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	b.conn = conn
	monitoring.BridgeConnected.Set(1)

	b.logger.Info().
		Str("url", conn.ConnectedUrl()).
		Str("subject_prefix", b.prefix).
		Msg("Connected to NATS")

	return b, nil
}

func (b *Bridge) disconnectHandler(_ *nats.Conn, err error) {
	if err != nil {
		b.logger.Warn().Err(err).Msg("Disconnected from NATS")
	} else {
		b.logger.Info().Msg("Disconnected from NATS")
	}
	monitoring.BridgeConnected.Set(0)
}

func (b *Bridge) reconnectHandler(conn *nats.Conn) {
	b.logger.Info().Str("url", conn.ConnectedUrl()).Msg("Reconnected to NATS")
	monitoring.BridgeConnected.Set(1)
}

func (b *Bridge) errorHandler(_ *nats.Conn, _ *nats.Subscription, err error) {
	b.logger.Error().Err(err).Msg("NATS error")
}

// Start subscribes to <prefix>.out.*.
func (b *Bridge) Start() error {
	subject := b.prefix + ".out.*"
	sub, err := b.conn.Subscribe(subject, b.handleOutbound)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	b.sub = sub

	b.logger.Info().Str("subject", subject).Msg("Subscribed to outbound subject")
	return nil
}

// handleOutbound runs on a NATS goroutine. It must not touch the transport.
func (b *Bridge) handleOutbound(msg *nats.Msg) {
	id, err := ParseOutSubject(b.prefix, msg.Subject)
	if err != nil {
		b.logger.Debug().Err(err).Str("subject", msg.Subject).Msg("Ignoring message")
		return
	}

	select {
	case b.outbound <- Outbound{ConnectionID: id, Data: msg.Data}:
		monitoring.BridgeMessagesTotal.WithLabelValues("out").Inc()
	default:
		monitoring.BridgeMessagesDropped.Inc()
		b.logger.Warn().Int("connection_id", id).Msg("Outbound relay buffer full, message dropped")
	}
}

// Drain hands up to limit buffered outbound messages to send without
// blocking, and returns how many it handed over. Call it from the tick
// goroutine.
func (b *Bridge) Drain(limit int, send func(connectionID int, data []byte) error) int {
	n := 0
	for n < limit {
		select {
		case m := <-b.outbound:
			n++
			if err := send(m.ConnectionID, m.Data); err != nil {
				b.logger.Debug().
					Err(err).
					Int("connection_id", m.ConnectionID).
					Msg("Relay to connection failed")
			}
		default:
			return n
		}
	}
	return n
}

// PublishConnected announces a new connection.
func (b *Bridge) PublishConnected(connectionID int, remoteAddr string) error {
	return b.publish(connectionID, EventConnected, []byte(remoteAddr))
}

// PublishData forwards a payload. data is copied by the NATS client before
// this returns, so pooled buffers are safe to pass.
func (b *Bridge) PublishData(connectionID int, data []byte) error {
	return b.publish(connectionID, EventData, data)
}

// PublishDisconnected announces a closed connection.
func (b *Bridge) PublishDisconnected(connectionID int) error {
	return b.publish(connectionID, EventDisconnected, nil)
}

func (b *Bridge) publish(connectionID int, event string, data []byte) error {
	msg := &nats.Msg{
		Subject: InSubject(b.prefix, connectionID),
		Header:  nats.Header{},
		Data:    data,
	}
	msg.Header.Set(EventHeader, event)

	if err := b.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", msg.Subject, err)
	}
	monitoring.BridgeMessagesTotal.WithLabelValues("in").Inc()
	return nil
}

// Connected reports whether the NATS connection is up.
func (b *Bridge) Connected() bool {
	return b.conn != nil && b.conn.IsConnected()
}

// Close drains the subscription and closes the connection.
func (b *Bridge) Close() {
	if b.sub != nil {
		if err := b.sub.Unsubscribe(); err != nil {
			b.logger.Warn().Err(err).Msg("Failed to unsubscribe")
		}
	}
	if b.conn != nil {
		if err := b.conn.Flush(); err != nil {
			b.logger.Warn().Err(err).Msg("Failed to flush NATS connection")
		}
		b.conn.Close()
	}
	monitoring.BridgeConnected.Set(0)
	b.logger.Info().Msg("NATS bridge closed")
}

// InSubject is where events from connectionID are published.
func InSubject(prefix string, connectionID int) string {
	return prefix + ".in." + strconv.Itoa(connectionID)
}

// OutSubject is where messages for connectionID are expected.
func OutSubject(prefix string, connectionID int) string {
	return prefix + ".out." + strconv.Itoa(connectionID)
}

// ParseOutSubject extracts the connection id from <prefix>.out.<id>.
func ParseOutSubject(prefix, subject string) (int, error) {
	rest, ok := strings.CutPrefix(subject, prefix+".out.")
	if !ok || rest == "" {
		return 0, fmt.Errorf("%w: %q", ErrBadSubject, subject)
	}
	id, err := strconv.Atoi(rest)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrBadSubject, subject)
	}
	return id, nil
}
