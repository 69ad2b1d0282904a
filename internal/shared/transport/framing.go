package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// HeaderSize is the length prefix in front of every payload on the wire:
// a big-endian uint32 holding the payload length.
const HeaderSize = 4

// FrameSize is the number of wire bytes for a payload of n bytes.
func FrameSize(n int) int {
	return HeaderSize + n
}

// PutFrame writes [len][payload] into dst and returns the bytes written.
// dst must hold at least FrameSize(len(payload)) bytes.
func PutFrame(dst, payload []byte) int {
	binary.BigEndian.PutUint32(dst, uint32(len(payload)))
	return HeaderSize + copy(dst[HeaderSize:], payload)
}

// ReadFrame blocks until one full frame has been read from r and returns the
// payload length; the payload is left in buf[:n].
//
// header must be HeaderSize bytes and buf at least maxMessageSize bytes; both
// are caller-owned scratch so a steady-state read allocates nothing.
//
// A peer half-close (EOF before or inside a frame) returns io.EOF. A length
// of 0 or above maxMessageSize returns ErrHeaderAttack without touching the
// body. Any other error from r is returned unchanged.
func ReadFrame(r io.Reader, header, buf []byte, maxMessageSize int) (int, error) {
	if _, err := io.ReadFull(r, header[:HeaderSize]); err != nil {
		return 0, cleanEOF(err)
	}

	size := binary.BigEndian.Uint32(header)

	// An attacker can announce a 2GB frame; never size anything by it.
	if size == 0 || uint64(size) > uint64(maxMessageSize) {
		return 0, fmt.Errorf("%w: %d bytes (max %d)", ErrHeaderAttack, size, maxMessageSize)
	}

	n := int(size)
	if _, err := io.ReadFull(r, buf[:n]); err != nil {
		return 0, cleanEOF(err)
	}
	return n, nil
}

func cleanEOF(err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return io.EOF
	}
	return err
}
