package transport

import (
	"errors"
	"io"
	"time"

	"github.com/adred-codev/tcpframe/internal/shared/monitoring"
)

// receivePump reads frames into the ReceivePipe until the connection dies.
// Every connection produces exactly one Connected, its Data events in wire
// order, then exactly one Disconnected.
func (c *connection) receivePump() {
	defer monitoring.RecoverPanic(c.logger, "receivePump", map[string]any{
		"connection_id": c.id,
	})

	reason := monitoring.DisconnectReasonReadError
	defer func() {
		// Close first so the socket is released before the consumer can
		// observe Disconnected and reuse anything tied to it.
		reason = c.close(reason)
		monitoring.RecordDisconnect(c.role, reason, time.Since(c.connectedAt).Seconds())

		c.receivePipe.Enqueue(c.id, EventDisconnected, nil)
		c.sendPending.set()
	}()

	c.receivePipe.Enqueue(c.id, EventConnected, nil)

	header := make([]byte, HeaderSize)
	buf := make([]byte, c.opts.MaxMessageSize)

	for {
		if c.opts.ReceiveTimeout > 0 {
			c.conn.SetReadDeadline(time.Now().Add(c.opts.ReceiveTimeout))
		}

		n, err := ReadFrame(c.conn, header, buf, c.opts.MaxMessageSize)
		if err != nil {
			reason = c.readFailure(err)
			return
		}

		c.receivePipe.Enqueue(c.id, EventData, buf[:n])
		monitoring.UpdateMessageMetrics(c.role, 0, 1)
		monitoring.UpdateBytesMetrics(c.role, 0, FrameSize(n))

		// The consumer isn't ticking fast enough. Stop reading so this
		// connection can't grow the shared pipe without bound; events
		// already queued are still delivered.
		if c.receivePipe.Count(c.id) >= c.opts.ReceiveQueueLimit {
			c.logger.Warn().
				Int("receive_queue_limit", c.opts.ReceiveQueueLimit).
				Msg("Receive queue limit reached, disconnecting")
			monitoring.IncrementQueueOverflow(c.role, "receive")
			reason = monitoring.DisconnectReasonReceiveQueueLimit
			return
		}
	}
}

// readFailure logs a terminal read error and maps it to a disconnect reason.
func (c *connection) readFailure(err error) string {
	// We closed the socket ourselves; the read error is just the echo of that.
	if c.isClosed() {
		return monitoring.DisconnectReasonReadError
	}

	switch {
	case errors.Is(err, ErrHeaderAttack):
		c.logger.Warn().
			Err(err).
			Str("remote_addr", c.remoteAddr).
			Msg("Invalid frame header, disconnecting")
		monitoring.IncrementHeaderAttacks(c.role)
		return monitoring.DisconnectReasonHeaderAttack

	case errors.Is(err, io.EOF):
		c.logger.Info().Msg("Connection closed by peer")
		return monitoring.DisconnectReasonPeerClosed

	default:
		c.logger.Info().Err(err).Msg("Receive failed, closing connection")
		return monitoring.DisconnectReasonReadError
	}
}
