package transport

import (
	"fmt"
	"math"
	"time"
)

// Options configures one Client or Server instance. Both ends of a
// connection must agree on MaxMessageSize; there is no negotiation.
type Options struct {
	// MaxMessageSize bounds a single payload. Headers above it are treated
	// as an allocation attack.
	MaxMessageSize int

	// NoDelay disables Nagle's algorithm on every socket.
	NoDelay bool

	// SendTimeout and ReceiveTimeout are applied as per-operation deadlines.
	// Zero disables the deadline.
	SendTimeout    time.Duration
	ReceiveTimeout time.Duration

	// SendQueueLimit is the number of pending outbound messages per
	// connection before the connection is dropped.
	SendQueueLimit int

	// ReceiveQueueLimit is the number of undelivered inbound events per
	// connection before its receive pump stops reading.
	ReceiveQueueLimit int
}

// DefaultOptions mirrors the defaults used in production: 16KB messages,
// 5s socket timeouts and 10k queued messages per connection.
//
// 10k messages of 16KB each is 160MB per connection in the worst case.
func DefaultOptions() Options {
	return Options{
		MaxMessageSize:    16 * 1024,
		NoDelay:           true,
		SendTimeout:       5 * time.Second,
		ReceiveTimeout:    5 * time.Second,
		SendQueueLimit:    10000,
		ReceiveQueueLimit: 10000,
	}
}

// Validate checks the options for values the transport cannot run with.
func (o Options) Validate() error {
	if o.MaxMessageSize <= 0 {
		return fmt.Errorf("%w: MaxMessageSize must be > 0, got %d", ErrInvalidOptions, o.MaxMessageSize)
	}
	// The header is a uint32 and the pooled buffer holds header + payload.
	if int64(o.MaxMessageSize) > math.MaxInt32-HeaderSize {
		return fmt.Errorf("%w: MaxMessageSize must be <= %d, got %d", ErrInvalidOptions, math.MaxInt32-HeaderSize, o.MaxMessageSize)
	}
	if o.SendQueueLimit < 1 {
		return fmt.Errorf("%w: SendQueueLimit must be > 0, got %d", ErrInvalidOptions, o.SendQueueLimit)
	}
	if o.ReceiveQueueLimit < 1 {
		return fmt.Errorf("%w: ReceiveQueueLimit must be > 0, got %d", ErrInvalidOptions, o.ReceiveQueueLimit)
	}
	if o.SendTimeout < 0 || o.ReceiveTimeout < 0 {
		return fmt.Errorf("%w: timeouts must be >= 0", ErrInvalidOptions)
	}
	return nil
}
