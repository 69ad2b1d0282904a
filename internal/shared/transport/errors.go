package transport

import "errors"

// Errors returned by the public surface. Compare with errors.Is.
var (
	// ErrHeaderAttack marks a length header of 0 or above MaxMessageSize.
	// The connection that produced it is dropped without reading a body.
	ErrHeaderAttack = errors.New("invalid frame length header")

	ErrOversizedMessage = errors.New("message exceeds max message size")
	ErrEmptyMessage     = errors.New("message is empty")

	ErrNotConnected     = errors.New("client is not connected")
	ErrAlreadyConnected = errors.New("client is already connecting or connected")

	ErrAlreadyActive = errors.New("server is already active")
	ErrNotActive     = errors.New("server is not active")

	// ErrSendQueueFull is returned after the connection has been closed for
	// exceeding SendQueueLimit.
	ErrSendQueueFull = errors.New("send queue limit reached")

	ErrUnknownConnection = errors.New("unknown connection id")

	// ErrConnectionIDsExhausted is fatal for the listener; the server must be
	// restarted to accept again.
	ErrConnectionIDsExhausted = errors.New("connection id space exhausted")

	ErrInvalidOptions = errors.New("invalid transport options")
)
