// Package mtproto implements the session layer: plain framing (handshake
// only), the encrypted message envelope (salts, msg_id/seq_no allocation,
// container packing, gzip, acks, service-message dispatch) and the inbound
// demultiplexer that separates RPC results from updates.
package mtproto

import (
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/gram-proto/gram/authkey"
	"github.com/gram-proto/gram/mtproto/plainconn"
	"github.com/gram-proto/gram/tl"
	"github.com/gram-proto/gram/xcrypto"
)

// Session is the encrypted MTP layer: it owns the session ID, the
// current server salt, msg_id/seq_no allocation, pending-ack coalescing,
// the in-flight message index used for resends, and the inbound dedup
// filter. It has no knowledge of transport framing or of reply channels —
// those belong to Sender, which drives Session through PackOutbound and
// Unpack.
type Session struct {
	authKey *authkey.AuthKey
	ids     *plainconn.MsgIDGenerator
	seq     seqAllocator

	sessionID int64

	mu   sync.Mutex
	salt int64

	pending *pendingIndex
	dedup   *dedupFilter

	acksMu      sync.Mutex
	pendingAcks []int64

	GzipThreshold int
}

// NewSession creates a fresh encrypted-MTP session scoped to authKey, with a
// random 64-bit session ID and the given initial salt/time offset (both
// normally the output of Handshake's Result).
func NewSession(authKey *authkey.AuthKey, salt, timeOffset int64) (*Session, error) {
	var idBuf [8]byte
	if _, err := rand.Read(idBuf[:]); err != nil {
		return nil, err
	}
	var sessionID int64
	for i, b := range idBuf {
		sessionID |= int64(b) << (8 * i)
	}

	return &Session{
		authKey:       authKey,
		ids:           plainconn.NewMsgIDGenerator(timeOffset),
		sessionID:     sessionID,
		salt:          salt,
		pending:       newPendingIndex(),
		dedup:         newDedupFilter(4096),
		GzipThreshold: defaultGzipThreshold,
	}, nil
}

// SessionID returns the session's 64-bit identifier.
func (s *Session) SessionID() int64 { return s.sessionID }

// Salt returns the currently adopted server salt.
func (s *Session) Salt() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.salt
}

// AdoptSalt replaces the current salt, as required on bad_server_salt and
// new_session_created.
func (s *Session) AdoptSalt(salt int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.salt = salt
}

// QueueAck marks msgID as needing acknowledgment; it is coalesced into the
// next outbound batch by PackOutbound.
func (s *Session) QueueAck(msgID int64) {
	s.acksMu.Lock()
	defer s.acksMu.Unlock()
	s.pendingAcks = append(s.pendingAcks, msgID)
}

// PendingAckCount reports how many acks are queued, used by the Sender to
// decide whether the >16 standalone-flush trigger has fired.
func (s *Session) PendingAckCount() int {
	s.acksMu.Lock()
	defer s.acksMu.Unlock()
	return len(s.pendingAcks)
}

func (s *Session) takeAcks() []int64 {
	s.acksMu.Lock()
	defer s.acksMu.Unlock()
	if len(s.pendingAcks) == 0 {
		return nil
	}
	acks := s.pendingAcks
	s.pendingAcks = nil
	return acks
}

// PendingCount reports how many outbound messages await a reply or ack.
func (s *Session) PendingCount() int { return s.pending.Len() }

// DrainPending fails every outstanding message at once, used when the
// Sender reports a fatal transport error.
func (s *Session) DrainPending() []*trackedMessage { return s.pending.Drain() }

// Forget drops msgID from the in-flight index without resending it, used
// when a request's fate is settled some way other than an ack or a
// retryable bad_msg_notification (an unrecoverable rejection, for one).
func (s *Session) Forget(msgID int64) { s.pending.Untrack(msgID) }

// ResendBatch returns every tracked sibling of msgID's container (or just
// msgID itself if it was sent bare) and removes them from the index, ready
// for PackOutbound to re-enqueue with fresh msg_ids/seq_nos.
func (s *Session) ResendBatch(msgID int64) []*trackedMessage {
	m, ok := s.pending.Get(msgID)
	if !ok {
		return nil
	}
	siblings := s.pending.Siblings(msgID, m.ContainerMsgID)
	for _, sib := range siblings {
		s.pending.Untrack(sib.MsgID)
	}
	return siblings
}

func (s *Session) nextMsgID() int64 { return s.ids.Next() }

// SetTimeOffset corrects the generator's clock offset after a
// bad_msg_notification{16|17}.
func (s *Session) SetTimeOffset(offset int64) { s.ids.SetTimeOffset(offset) }

func (s *Session) encryptPayload(payload []byte, offset xcrypto.MsgKeyOffset) ([]byte, error) {
	msgKey, err := xcrypto.ComputeMsgKey(s.authKey.Bytes(), payload, offset)
	if err != nil {
		return nil, err
	}
	key, iv, err := xcrypto.DeriveKeyIV(s.authKey.Bytes(), msgKey, offset)
	if err != nil {
		return nil, err
	}
	ciphertext, err := xcrypto.IGEEncrypt(key[:], iv[:], payload)
	if err != nil {
		return nil, err
	}

	out := tl.NewWriter(8 + 16 + len(ciphertext))
	out.PutUint64(s.authKey.KeyID())
	out.PutInt128(msgKey)
	out.PutRaw(ciphertext)
	return out.Bytes(), nil
}

// padPayload right-pads b with random bytes so its length is a multiple of
// 16 and lies in the wire format's mandated 12..1024-byte padding range,
// preferring the minimum padding that satisfies alignment.
func padPayload(b []byte) ([]byte, error) {
	pad := 12
	for (len(b)+pad)%16 != 0 {
		pad++
	}
	out := make([]byte, len(b)+pad)
	copy(out, b)
	if _, err := rand.Read(out[len(b):]); err != nil {
		return nil, err
	}
	return out, nil
}

func init() {
	// Compile-time sanity that the expected constructor layout doesn't
	// silently collide; real collisions would indicate a typo above.
	ids := []tl.ConstructorID{
		constructorMsgContainer, constructorRPCResult, constructorRPCError,
		constructorMsgsAck, constructorBadMsgNotification, constructorBadServerSalt,
		constructorNewSessionCreated, constructorPong, constructorFutureSalts,
		constructorFutureSalt, constructorMsgDetailedInfo, constructorMsgNewDetailedInfo,
		constructorGzipPacked, constructorMsgsAllInfo, constructorInvokeWithLayer,
		constructorPingDelayDisconnect,
	}
	seen := make(map[tl.ConstructorID]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			panic(fmt.Sprintf("mtproto: duplicate constructor id %08x", uint32(id)))
		}
		seen[id] = true
	}
}
