// Package plainconn implements plain (unencrypted) MTProto framing and
// msg_id allocation. It is a standalone leaf package so that both mtproto
// (the encrypted session layer) and authkey (the handshake, which runs
// before an auth key exists and so can only use plain framing) can depend
// on it without creating an import cycle between themselves.
package plainconn

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gram-proto/gram/tl"
)

// MsgIDGenerator allocates strictly monotonic, 4-aligned msg_ids: the
// high 32 bits encode server time (adjusted by a time offset learned during
// handshake or corrected by a bad_msg_notification), the low 32 bits a
// tiebreaker that guarantees monotonicity even across calls within the same
// second.
type MsgIDGenerator struct {
	mu         sync.Mutex
	timeOffset int64 // seconds, server - local
	last       int64
}

// NewMsgIDGenerator returns a generator with the given initial time offset.
func NewMsgIDGenerator(timeOffset int64) *MsgIDGenerator {
	return &MsgIDGenerator{timeOffset: timeOffset}
}

// SetTimeOffset updates the offset applied to future allocations, as done on
// a bad_msg_notification with error code 16 or 17.
func (g *MsgIDGenerator) SetTimeOffset(offset int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.timeOffset = offset
}

// TimeOffset returns the generator's current time offset.
func (g *MsgIDGenerator) TimeOffset() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.timeOffset
}

// Next allocates the next msg_id, strictly greater than any previously
// returned by this generator and a multiple of 4.
func (g *MsgIDGenerator) Next() int64 {
	return g.nextAt(time.Now())
}

func (g *MsgIDGenerator) nextAt(now time.Time) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	seconds := now.Unix() + g.timeOffset
	candidate := (seconds << 32) &^ 3 // low two bits of the tiebreaker reserved as 0b00

	if candidate <= g.last {
		candidate = g.last + 4
	}
	g.last = candidate
	return candidate
}

// ServerTimeFromMsgID extracts the server-time component embedded in a
// msg_id's high 32 bits, used to recompute the time offset on a
// bad_msg_notification{16|17}: time_offset = (bad_msg_id >> 32) - now.
func ServerTimeFromMsgID(msgID int64) int64 {
	return msgID >> 32
}

// PlainConn frames unencrypted {auth_key_id=0, msg_id, length, body}
// messages over an underlying byte stream, used only during the handshake;
// it is never reused once an authorization key exists.
type PlainConn struct {
	rw  io.ReadWriter
	ids *MsgIDGenerator
}

// NewPlainConn wraps rw for plain framing, allocating msg_ids from ids.
func NewPlainConn(rw io.ReadWriter, ids *MsgIDGenerator) *PlainConn {
	return &PlainConn{rw: rw, ids: ids}
}

// WriteMessage frames and writes body as a plain message.
func (c *PlainConn) WriteMessage(body []byte) error {
	w := tl.NewWriter(20 + len(body))
	w.PutUint64(0) // auth_key_id = 0
	w.PutInt64(c.ids.Next())
	w.PutUint32(uint32(len(body)))
	w.PutRaw(body)
	_, err := c.rw.Write(w.Bytes())
	return err
}

// ReadMessage reads one plain frame and returns its body, verifying that
// auth_key_id is zero.
func (c *PlainConn) ReadMessage() ([]byte, error) {
	var head [20]byte
	if _, err := io.ReadFull(c.rw, head[:]); err != nil {
		return nil, err
	}
	authKeyID := binary.LittleEndian.Uint64(head[0:8])
	if authKeyID != 0 {
		return nil, fmt.Errorf("%w: plain frame with non-zero auth_key_id", tl.ErrInvalidData)
	}
	length := binary.LittleEndian.Uint32(head[16:20])
	if length > 1<<24 {
		return nil, fmt.Errorf("%w: implausible plain frame length %d", tl.ErrInvalidData, length)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(c.rw, body); err != nil {
		return nil, err
	}
	return body, nil
}
