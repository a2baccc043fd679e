// Package tl implements the binary codec for the schema's wire types:
// little-endian primitives, length-prefixed byte strings padded to a 4-byte
// boundary, boxed vectors, and the flags/optional-field convention described
// by the schema. Serialization is positional; there is no self-describing
// field tagging beyond the boxed constructor ID.
package tl

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ConstructorID is the 32-bit tag identifying a schema type or function on
// the wire. Boxed values are prefixed with their ConstructorID; bare values
// are not.
type ConstructorID uint32

// VectorConstructorID is the literal constructor prefixing every boxed
// vector, regardless of element type.
const VectorConstructorID ConstructorID = 0x1cb5c415

// ErrInvalidData is returned for any malformed input: an unknown
// constructor, a short read, or misaligned padding.
var ErrInvalidData = errors.New("tl: invalid data")

// Writer accumulates a serialized message. The zero value is ready to use.
type Writer struct {
	buf []byte
}

// NewWriter returns a Writer with capacity hinted by size.
func NewWriter(size int) *Writer {
	return &Writer{buf: make([]byte, 0, size)}
}

// Bytes returns the accumulated buffer.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return len(w.buf) }

// PutRaw appends raw bytes verbatim (used for nested pre-serialized bodies).
func (w *Writer) PutRaw(b []byte) { w.buf = append(w.buf, b...) }

// PutUint32 appends a 32-bit little-endian integer.
func (w *Writer) PutUint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// PutInt32 appends a 32-bit little-endian signed integer.
func (w *Writer) PutInt32(v int32) { w.PutUint32(uint32(v)) }

// PutUint64 appends a 64-bit little-endian integer.
func (w *Writer) PutUint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// PutInt64 appends a 64-bit little-endian signed integer.
func (w *Writer) PutInt64(v int64) { w.PutUint64(uint64(v)) }

// PutDouble appends a 64-bit IEEE-754 double.
func (w *Writer) PutDouble(v float64) {
	w.PutUint64(float64bits(v))
}

// PutConstructor appends a constructor ID (used to box a value).
func (w *Writer) PutConstructor(id ConstructorID) { w.PutUint32(uint32(id)) }

// PutInt128 appends a 128-bit value given as 16 raw bytes, unmodified.
func (w *Writer) PutInt128(b [16]byte) { w.buf = append(w.buf, b[:]...) }

// PutInt256 appends a 256-bit value given as 32 raw bytes, unmodified.
func (w *Writer) PutInt256(b [32]byte) { w.buf = append(w.buf, b[:]...) }

// PutBytes appends a length-prefixed, zero-padded byte string: one
// length byte followed by the bytes when len(b) < 254, otherwise 0xFE plus a
// 3-byte little-endian length; either way the whole field (prefix + data) is
// padded with zero bytes to the next multiple of 4.
func (w *Writer) PutBytes(b []byte) {
	start := len(w.buf)
	if len(b) < 254 {
		w.buf = append(w.buf, byte(len(b)))
	} else {
		w.buf = append(w.buf, 0xfe, byte(len(b)), byte(len(b)>>8), byte(len(b)>>16))
	}
	w.buf = append(w.buf, b...)
	pad := (4 - (len(w.buf)-start)%4) % 4
	for i := 0; i < pad; i++ {
		w.buf = append(w.buf, 0)
	}
}

// PutString is an alias for PutBytes over the UTF-8 encoding of s.
func (w *Writer) PutString(s string) { w.PutBytes([]byte(s)) }

// PutBool writes a boxed boolean using the BoolTrue/BoolFalse constructors
// (used where a field is bare-boolean rather than a `flags.n?true` bit).
func (w *Writer) PutBool(v bool) {
	if v {
		w.PutConstructor(constructorBoolTrue)
	} else {
		w.PutConstructor(constructorBoolFalse)
	}
}

const (
	constructorBoolTrue  ConstructorID = 0x997275b5
	constructorBoolFalse ConstructorID = 0xbc799737
)

// Reader consumes a serialized message, tracking position for precise
// "unexpected EOF" errors.
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps b for sequential decoding.
func NewReader(b []byte) *Reader { return &Reader{buf: b} }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

// Pos returns the number of bytes consumed so far, used by callers that
// need to know exactly how many input bytes a decode touched (e.g. to hash
// just the inner-data portion of a larger decrypted block).
func (r *Reader) Pos() int { return r.pos }

// RestBytes returns (and consumes) every remaining byte; used for the
// generic "consume remaining bytes" tail rule.
func (r *Reader) RestBytes() []byte {
	b := r.buf[r.pos:]
	r.pos = len(r.buf)
	return b
}

// Raw reads and returns exactly n bytes without interpreting them, for
// callers that already know a sub-message's length (e.g. a container
// envelope's body_len) and need to carve out just that slice, leaving the
// reader positioned right after it.
func (r *Reader) Raw(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *Reader) need(n int) error {
	if r.Remaining() < n {
		return fmt.Errorf("%w: need %d bytes, have %d", ErrInvalidData, n, r.Remaining())
	}
	return nil
}

// Uint32 reads a 32-bit little-endian integer.
func (r *Reader) Uint32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

// Int32 reads a 32-bit little-endian signed integer.
func (r *Reader) Int32() (int32, error) {
	v, err := r.Uint32()
	return int32(v), err
}

// Uint64 reads a 64-bit little-endian integer.
func (r *Reader) Uint64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

// Int64 reads a 64-bit little-endian signed integer.
func (r *Reader) Int64() (int64, error) {
	v, err := r.Uint64()
	return int64(v), err
}

// Double reads a 64-bit IEEE-754 double.
func (r *Reader) Double() (float64, error) {
	v, err := r.Uint64()
	if err != nil {
		return 0, err
	}
	return float64frombits(v), nil
}

// Constructor reads a 32-bit constructor ID.
func (r *Reader) Constructor() (ConstructorID, error) {
	v, err := r.Uint32()
	return ConstructorID(v), err
}

// Int128 reads a 128-bit value as 16 raw bytes.
func (r *Reader) Int128() (b [16]byte, err error) {
	if err = r.need(16); err != nil {
		return b, err
	}
	copy(b[:], r.buf[r.pos:])
	r.pos += 16
	return b, nil
}

// Int256 reads a 256-bit value as 32 raw bytes.
func (r *Reader) Int256() (b [32]byte, err error) {
	if err = r.need(32); err != nil {
		return b, err
	}
	copy(b[:], r.buf[r.pos:])
	r.pos += 32
	return b, nil
}

// Bytes reads a length-prefixed, zero-padded byte string.
func (r *Reader) Bytes() ([]byte, error) {
	start := r.pos
	if err := r.need(1); err != nil {
		return nil, err
	}
	n := int(r.buf[r.pos])
	r.pos++
	if n == 0xfe {
		if err := r.need(3); err != nil {
			return nil, err
		}
		n = int(r.buf[r.pos]) | int(r.buf[r.pos+1])<<8 | int(r.buf[r.pos+2])<<16
		r.pos += 3
	}
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	pad := (4 - (r.pos-start)%4) % 4
	if err := r.need(pad); err != nil {
		return nil, err
	}
	for i := 0; i < pad; i++ {
		if r.buf[r.pos+i] != 0 {
			return nil, fmt.Errorf("%w: non-zero padding byte", ErrInvalidData)
		}
	}
	r.pos += pad
	return b, nil
}

// String reads a length-prefixed byte string and returns it as a string.
func (r *Reader) String() (string, error) {
	b, err := r.Bytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Bool reads a boxed boolean via the BoolTrue/BoolFalse constructors.
func (r *Reader) Bool() (bool, error) {
	id, err := r.Constructor()
	if err != nil {
		return false, err
	}
	switch id {
	case constructorBoolTrue:
		return true, nil
	case constructorBoolFalse:
		return false, nil
	default:
		return false, fmt.Errorf("%w: unknown bool constructor %08x", ErrInvalidData, uint32(id))
	}
}

// Done reports whether every byte has been consumed.
func (r *Reader) Done() bool { return r.Remaining() == 0 }

// EnsureDone returns ErrInvalidData if unread trailing bytes remain, used by
// callers that expect a message to be exactly one value long.
func (r *Reader) EnsureDone() error {
	if !r.Done() {
		return fmt.Errorf("%w: %d trailing bytes", ErrInvalidData, r.Remaining())
	}
	return nil
}

