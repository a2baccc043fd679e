// Package transport implements the length-prefixed framing carried over a
// plain TCP (optionally SOCKS5-proxied) stream: the "abridged" variant, one
// length byte for blocks under 127*4 bytes, else a 0x7F marker followed by
// a 3-byte little-endian length, all measured in 4-byte words.
package transport

import (
	"encoding/binary"
	"fmt"
	"io"
)

// ErrFrameTooLarge is returned when a decoded length exceeds maxFrameBytes,
// guarding against a corrupt or hostile peer claiming an implausible frame.
var ErrFrameTooLarge = fmt.Errorf("transport: frame exceeds maximum size")

const maxFrameBytes = 64 << 20

// AbridgedConn frames arbitrary byte payloads (each an encrypted MTP frame)
// over an underlying stream using the abridged length convention.
// The first byte written to a fresh connection is the 0xef magic that
// selects this framing on the wire; callers must construct AbridgedConn
// once per connection, before any other write.
type AbridgedConn struct {
	rw         io.ReadWriter
	wroteMagic bool
}

// NewAbridgedConn wraps rw for abridged framing.
func NewAbridgedConn(rw io.ReadWriter) *AbridgedConn {
	return &AbridgedConn{rw: rw}
}

const abridgedMagic = 0xef

// WriteFrame frames and writes payload. len(payload) must be a multiple of
// 4 (the wire envelope already guarantees this via its padding).
func (c *AbridgedConn) WriteFrame(payload []byte) error {
	if len(payload)%4 != 0 {
		return fmt.Errorf("transport: payload length %d not a multiple of 4", len(payload))
	}
	words := len(payload) / 4

	var head []byte
	if !c.wroteMagic {
		head = append(head, abridgedMagic)
		c.wroteMagic = true
	}
	if words < 127 {
		head = append(head, byte(words))
	} else {
		head = append(head, 0x7f, byte(words), byte(words>>8), byte(words>>16))
	}
	if _, err := c.rw.Write(head); err != nil {
		return err
	}
	_, err := c.rw.Write(payload)
	return err
}

// ReadFrame reads and returns one frame's payload.
func (c *AbridgedConn) ReadFrame() ([]byte, error) {
	var lenByte [1]byte
	if _, err := io.ReadFull(c.rw, lenByte[:]); err != nil {
		return nil, err
	}

	var words int
	if lenByte[0] == 0x7f {
		var rest [3]byte
		if _, err := io.ReadFull(c.rw, rest[:]); err != nil {
			return nil, err
		}
		words = int(rest[0]) | int(rest[1])<<8 | int(rest[2])<<16
	} else {
		words = int(lenByte[0])
	}

	n := words * 4
	if n > maxFrameBytes {
		return nil, ErrFrameTooLarge
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(c.rw, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// PutUint32LE is a small helper kept for call sites that build a frame's
// length-prefixed sub-fields by hand rather than through tl.Writer.
func PutUint32LE(b []byte, v uint32) { binary.LittleEndian.PutUint32(b, v) }
