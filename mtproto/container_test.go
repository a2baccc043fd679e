package mtproto

import (
	"testing"

	"github.com/gram-proto/gram/authkey"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	raw := make([]byte, 256)
	for i := range raw {
		raw[i] = byte(i)
	}
	key, err := authkey.NewAuthKey(raw)
	if err != nil {
		t.Fatalf("NewAuthKey: %v", err)
	}
	s, err := NewSession(key, 0x1122334455667788, 0)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return s
}

// TestPackOutboundSingleBodySentBare verifies that a single content-bearing
// body is sent directly, without a MessageContainer wrapper, is tracked as
// pending, and that a second body can be packed after it.
func TestPackOutboundSingleBodySentBare(t *testing.T) {
	s := newTestSession(t)

	_, assigned, remaining, err := s.PackOutbound([]OutboundBody{
		{Body: []byte("first request"), ContentRelated: true},
	})
	if err != nil {
		t.Fatalf("PackOutbound: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("remaining = %d, want 0", remaining)
	}
	if len(assigned) != 1 {
		t.Fatalf("assigned = %v, want 1 entry", assigned)
	}
	if s.PendingCount() != 1 {
		t.Fatalf("PendingCount = %d, want 1", s.PendingCount())
	}

	msgID := assigned[0]
	tracked, ok := s.pending.Get(msgID)
	if !ok {
		t.Fatalf("tracked message for %d not found", msgID)
	}
	if tracked.ContainerMsgID != 0 {
		t.Fatalf("ContainerMsgID = %d, want 0 (bare message)", tracked.ContainerMsgID)
	}

	_, assigned2, _, err := s.PackOutbound([]OutboundBody{
		{Body: []byte("second request"), ContentRelated: true},
	})
	if err != nil {
		t.Fatalf("PackOutbound (second): %v", err)
	}
	_ = assigned2
}

// TestPackOutboundSeqNoSequence verifies the 2n+1 / n++ allocation rule
// directly: the first content-bearing message gets seq_no 1, the second 3.
func TestPackOutboundSeqNoSequence(t *testing.T) {
	s := newTestSession(t)

	first := s.seq.Next(true)
	second := s.seq.Next(true)
	if first != 1 {
		t.Fatalf("first content seq_no = %d, want 1", first)
	}
	if second != 3 {
		t.Fatalf("second content seq_no = %d, want 3", second)
	}
}

// TestPackOutboundContainerWrapsMultiple verifies that packing more than
// one body in a single call produces a MessageContainer: the top-level
// envelope's own msg_id/seq_no/body_len precede the container constructor,
// since the container is itself one top-level message.
func TestPackOutboundContainerWrapsMultiple(t *testing.T) {
	s := newTestSession(t)

	_, assigned, remaining, err := s.PackOutbound([]OutboundBody{
		{Body: []byte("req one"), ContentRelated: true},
		{Body: []byte("req two"), ContentRelated: true},
	})
	if err != nil {
		t.Fatalf("PackOutbound: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("remaining = %d, want 0", remaining)
	}
	if len(assigned) != 2 {
		t.Fatalf("assigned = %v, want 2 entries", assigned)
	}
	if s.PendingCount() != 2 {
		t.Fatalf("PendingCount = %d, want 2", s.PendingCount())
	}

	m0, ok := s.pending.Get(assigned[0])
	if !ok {
		t.Fatalf("tracked message for %d not found", assigned[0])
	}
	if m0.ContainerMsgID == 0 {
		t.Fatalf("expected ContainerMsgID set for a containerized message")
	}
	siblings := s.pending.Siblings(assigned[0], m0.ContainerMsgID)
	if len(siblings) != 2 {
		t.Fatalf("Siblings = %d, want 2", len(siblings))
	}
}

// TestPackOutboundCoalescesAcks verifies a pending ack is folded into the
// next outbound batch as its own envelope.
func TestPackOutboundCoalescesAcks(t *testing.T) {
	s := newTestSession(t)
	s.QueueAck(12345)

	if s.PendingAckCount() != 1 {
		t.Fatalf("PendingAckCount = %d, want 1", s.PendingAckCount())
	}

	_, assigned, _, err := s.PackOutbound([]OutboundBody{
		{Body: []byte("req"), ContentRelated: true},
	})
	if err != nil {
		t.Fatalf("PackOutbound: %v", err)
	}
	if s.PendingAckCount() != 0 {
		t.Fatalf("PendingAckCount after pack = %d, want 0 (acks consumed)", s.PendingAckCount())
	}
	// The ack envelope plus the request envelope means the request itself
	// was wrapped in a container alongside the coalesced ack.
	if len(assigned) != 1 {
		t.Fatalf("assigned = %v, want 1 entry (ack is not itself assigned)", assigned)
	}
}

// TestPackOutboundNothingToSend verifies an empty call with no pending acks
// returns a nil frame rather than an empty container.
func TestPackOutboundNothingToSend(t *testing.T) {
	s := newTestSession(t)
	frame, assigned, remaining, err := s.PackOutbound(nil)
	if err != nil {
		t.Fatalf("PackOutbound: %v", err)
	}
	if frame != nil || assigned != nil || remaining != 0 {
		t.Fatalf("expected nothing to send, got frame=%v assigned=%v remaining=%d", frame, assigned, remaining)
	}
}
