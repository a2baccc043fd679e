package mtproto

import (
	"bytes"
	"testing"

	"github.com/gram-proto/gram/tl"
	"github.com/gram-proto/gram/xcrypto"
)

// TestEncryptDecryptRoundTrip checks the decrypt(encrypt(p)) == p law: a
// body packed outbound is opened with the outbound msg_key offset (as the
// server would), sealed again with the inbound offset (as a server reply
// is), and unpacked by the same session, which reconstructs the original
// bytes.
func TestEncryptDecryptRoundTrip(t *testing.T) {
	s := newTestSession(t)

	body := tl.NewWriter(16)
	body.PutConstructor(0xdeadbeef)
	body.PutString("round trip payload")

	frame, assigned, remaining, err := s.PackOutbound([]OutboundBody{
		{Body: body.Bytes(), ContentRelated: true},
	})
	if err != nil {
		t.Fatalf("PackOutbound: %v", err)
	}
	if remaining != 0 || len(assigned) != 1 {
		t.Fatalf("unexpected pack result: assigned=%v remaining=%d", assigned, remaining)
	}

	r := tl.NewReader(frame)
	if _, err := r.Uint64(); err != nil { // auth_key_id
		t.Fatalf("auth_key_id: %v", err)
	}
	msgKey, err := r.Int128()
	if err != nil {
		t.Fatalf("msg_key: %v", err)
	}
	key, iv, err := xcrypto.DeriveKeyIV(s.authKey.Bytes(), msgKey, xcrypto.MsgKeyOffsetOutbound)
	if err != nil {
		t.Fatalf("DeriveKeyIV: %v", err)
	}
	plain, err := xcrypto.IGEDecrypt(key[:], iv[:], r.RestBytes())
	if err != nil {
		t.Fatalf("IGEDecrypt: %v", err)
	}
	inbound, err := s.encryptPayload(plain, xcrypto.MsgKeyOffsetInbound)
	if err != nil {
		t.Fatalf("encryptPayload: %v", err)
	}

	events, err := s.Unpack(inbound)
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %v, want 1", events)
	}
	up, ok := events[0].(UpdateEvent)
	if !ok {
		t.Fatalf("event = %#v, want UpdateEvent", events[0])
	}
	if !bytes.Equal(up.Body, body.Bytes()) {
		t.Fatalf("round-tripped body = %x, want %x", up.Body, body.Bytes())
	}
}

// TestGzipRoundTrip checks gzip_decompress(gzip_compress(b)) == b for a
// body large enough to clear the compression threshold and actually shrink.
func TestGzipRoundTrip(t *testing.T) {
	body := bytes.Repeat([]byte("compressible payload filler "), 64)

	wrapped, ok := gzipWrap(body, 64)
	if !ok {
		t.Fatalf("gzipWrap did not compress a %d-byte repetitive body", len(body))
	}

	r := tl.NewReader(wrapped)
	id, err := r.Constructor()
	if err != nil {
		t.Fatalf("Constructor: %v", err)
	}
	if id != constructorGzipPacked {
		t.Fatalf("constructor = %08x, want gzip_packed", uint32(id))
	}
	got, err := gzipUnwrap(r)
	if err != nil {
		t.Fatalf("gzipUnwrap: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Fatalf("gzip round trip mismatch: got %d bytes, want %d", len(got), len(body))
	}
}

// TestGzipWrapBelowThresholdIsNoop verifies small bodies are left untouched
// rather than paying container overhead for no size benefit.
func TestGzipWrapBelowThresholdIsNoop(t *testing.T) {
	body := []byte("short")
	wrapped, ok := gzipWrap(body, 500)
	if ok {
		t.Fatalf("expected no-op for a short body, got wrapped=%x", wrapped)
	}
	if !bytes.Equal(wrapped, body) {
		t.Fatalf("expected body returned unchanged")
	}
}

// TestDispatchBadServerSaltAdoptsSalt exercises the bad-salt recovery
// path: a bad_server_salt service message must replace the session's salt
// and surface a BadMessageEvent carrying the new one.
func TestDispatchBadServerSaltAdoptsSalt(t *testing.T) {
	s := newTestSession(t)
	const newSalt = int64(0x7766554433221100)

	w := tl.NewWriter(28)
	w.PutConstructor(constructorBadServerSalt)
	w.PutInt64(111) // bad_msg_id
	w.PutInt32(0)   // bad_msg_seqno
	w.PutInt32(48)  // error_code
	w.PutInt64(newSalt)

	var events []Event
	if err := s.dispatchBody(222, tl.NewReader(w.Bytes()), &events); err != nil {
		t.Fatalf("dispatchBody: %v", err)
	}
	if s.Salt() != newSalt {
		t.Fatalf("Salt() = %x, want %x", s.Salt(), newSalt)
	}
	if len(events) != 1 {
		t.Fatalf("events = %v, want 1", events)
	}
	ev, ok := events[0].(BadMessageEvent)
	if !ok {
		t.Fatalf("event = %#v, want BadMessageEvent", events[0])
	}
	if ev.NewServerSalt != newSalt || ev.Class != BadMessageRecovered {
		t.Fatalf("event = %#v, want NewServerSalt=%x Class=Recovered", ev, newSalt)
	}
}

// TestDispatchMsgsAckUntracksPending verifies an inbound msgs_ack removes
// the acknowledged message from the resend index.
func TestDispatchMsgsAckUntracksPending(t *testing.T) {
	s := newTestSession(t)
	_, assigned, _, err := s.PackOutbound([]OutboundBody{
		{Body: []byte("needs an ack"), ContentRelated: true},
	})
	if err != nil {
		t.Fatalf("PackOutbound: %v", err)
	}
	if s.PendingCount() != 1 {
		t.Fatalf("PendingCount = %d, want 1", s.PendingCount())
	}

	w := tl.NewWriter(16)
	w.PutConstructor(constructorMsgsAck)
	tl.PutVector(w, assigned, func(w *tl.Writer, v int64) { w.PutInt64(v) })

	var events []Event
	if err := s.dispatchBody(333, tl.NewReader(w.Bytes()), &events); err != nil {
		t.Fatalf("dispatchBody: %v", err)
	}
	if s.PendingCount() != 0 {
		t.Fatalf("PendingCount after ack = %d, want 0", s.PendingCount())
	}
}

// TestDispatchRPCResultSettlesPending verifies an rpc_result implicitly
// acknowledges the request it answers, clearing it from the resend index.
func TestDispatchRPCResultSettlesPending(t *testing.T) {
	s := newTestSession(t)
	_, assigned, _, err := s.PackOutbound([]OutboundBody{
		{Body: []byte("request"), ContentRelated: true},
	})
	if err != nil {
		t.Fatalf("PackOutbound: %v", err)
	}

	w := tl.NewWriter(16)
	w.PutConstructor(constructorRPCResult)
	w.PutInt64(assigned[0])
	w.PutConstructor(0x11223344)

	var events []Event
	if err := s.dispatchBody(555, tl.NewReader(w.Bytes()), &events); err != nil {
		t.Fatalf("dispatchBody: %v", err)
	}
	if s.PendingCount() != 0 {
		t.Fatalf("PendingCount after rpc_result = %d, want 0", s.PendingCount())
	}
}

// TestPackOutboundStandaloneAcks verifies acks flush on their own when no
// request bodies are waiting, and that the ack message itself is not added
// to the resend index.
func TestPackOutboundStandaloneAcks(t *testing.T) {
	s := newTestSession(t)
	s.QueueAck(1)
	s.QueueAck(2)

	frame, assigned, remaining, err := s.PackOutbound(nil)
	if err != nil {
		t.Fatalf("PackOutbound: %v", err)
	}
	if frame == nil {
		t.Fatalf("expected a standalone ack frame")
	}
	if len(assigned) != 0 || remaining != 0 {
		t.Fatalf("assigned=%v remaining=%d, want none", assigned, remaining)
	}
	if s.PendingCount() != 0 {
		t.Fatalf("PendingCount = %d, want 0 (acks are fire-and-forget)", s.PendingCount())
	}
}

// TestDedupFilterSuppressesReplays checks the advisory replay guard: the
// same msg_id seen twice in a row yields only one event.
func TestDedupFilterSuppressesReplays(t *testing.T) {
	s := newTestSession(t)

	w := tl.NewWriter(16)
	w.PutConstructor(constructorPong)
	w.PutInt64(1) // msg_id
	w.PutInt64(2) // ping_id

	var events []Event
	if err := s.dispatchBody(444, tl.NewReader(w.Bytes()), &events); err != nil {
		t.Fatalf("dispatchBody (first): %v", err)
	}
	if err := s.dispatchBody(444, tl.NewReader(w.Bytes()), &events); err != nil {
		t.Fatalf("dispatchBody (replay): %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %v, want exactly 1 (replay suppressed)", events)
	}
}

// TestResendBatchReturnsContainerSiblings verifies a bad_msg_notification
// targeting one container member returns every sibling for re-enqueueing.
func TestResendBatchReturnsContainerSiblings(t *testing.T) {
	s := newTestSession(t)
	_, assigned, _, err := s.PackOutbound([]OutboundBody{
		{Body: []byte("one"), ContentRelated: true},
		{Body: []byte("two"), ContentRelated: true},
	})
	if err != nil {
		t.Fatalf("PackOutbound: %v", err)
	}

	batch := s.ResendBatch(assigned[0])
	if len(batch) != 2 {
		t.Fatalf("ResendBatch = %v, want 2 siblings", batch)
	}
	if s.PendingCount() != 0 {
		t.Fatalf("PendingCount after ResendBatch = %d, want 0", s.PendingCount())
	}
}
