package transport

import (
	"time"

	"github.com/adred-codev/tcpframe/internal/shared/monitoring"
)

// sendPump drains the SendPipe into the socket. Everything queued since the
// last wake-up goes out as one write.
func (c *connection) sendPump() {
	defer monitoring.RecoverPanic(c.logger, "sendPump", map[string]any{
		"connection_id": c.id,
	})
	defer func() {
		c.close(monitoring.DisconnectReasonWriteError)
		c.sendPipe.Clear()
	}()

	// Scratch buffer, grows to the largest batch seen and is then reused.
	var payload []byte

	for !c.isClosed() {
		// Reset before draining so an Enqueue racing the drain leaves the
		// signal set and we come straight back around.
		c.sendPending.reset()

		messages := c.sendPipe.Count()
		if n, ok := c.sendPipe.DequeueAndSerializeAll(&payload); ok {
			if c.opts.SendTimeout > 0 {
				c.conn.SetWriteDeadline(time.Now().Add(c.opts.SendTimeout))
			}

			if _, err := c.conn.Write(payload[:n]); err != nil {
				if !c.isClosed() {
					c.logger.Info().Err(err).Msg("Send failed, closing connection")
				}
				return
			}

			// messages is a lower bound when sends race the drain
			monitoring.UpdateMessageMetrics(c.role, max(messages, 1), 0)
			monitoring.UpdateBytesMetrics(c.role, n, 0)
		}

		select {
		case <-c.sendPending:
		case <-c.done:
			return
		}
	}
}
