package mtproto

import (
	"github.com/gram-proto/gram/tl"
	"github.com/gram-proto/gram/xcrypto"
)

// OutboundBody is one request body the Sender wants written this round;
// ContentRelated controls its seq_no parity.
type OutboundBody struct {
	Body           []byte
	ContentRelated bool
}

type packedEnvelope struct {
	msgID          int64
	seqNo          int32
	body           []byte
	contentRelated bool
}

func (e *packedEnvelope) encode(w *tl.Writer) {
	w.PutInt64(e.msgID)
	w.PutInt32(e.seqNo)
	w.PutUint32(uint32(len(e.body)))
	w.PutRaw(e.body)
}

const envelopeHeaderSize = 8 + 4 + 4

// PackOutbound packs as many of bodies (plus any coalesced acks) as fit
// within the container limits into one encrypted frame.
// It returns the ciphertext ready for the transport, the msg_ids assigned
// to each of the leading bodies it managed to include (in order), and the
// count of bodies left unpacked for the caller to retry on the next round.
func (s *Session) PackOutbound(bodies []OutboundBody) (ciphertext []byte, assigned []int64, remaining int, err error) {
	var envelopes []*packedEnvelope
	var tracked []*trackedMessage
	size := 0
	ackEnvs := 0

	if acks := s.takeAcks(); len(acks) > 0 {
		aw := tl.NewWriter(8 + 8*len(acks))
		aw.PutConstructor(constructorMsgsAck)
		tl.PutVector(aw, acks, func(w *tl.Writer, v int64) { w.PutInt64(v) })
		env := &packedEnvelope{
			msgID: s.nextMsgID(),
			seqNo: s.seq.Next(false),
			body:  aw.Bytes(),
		}
		envelopes = append(envelopes, env)
		size += envelopeHeaderSize + len(env.body)
		ackEnvs = 1
	}

	packedCount := 0
	for _, b := range bodies {
		if len(envelopes) >= containerMaxCount {
			break
		}
		body := b.Body
		if wrapped, ok := gzipWrap(body, s.GzipThreshold); ok {
			body = wrapped
		}
		envSize := envelopeHeaderSize + len(body)
		if size+envSize > containerMaxBytes && len(envelopes) > 0 {
			break
		}

		env := &packedEnvelope{
			msgID:          s.nextMsgID(),
			seqNo:          s.seq.Next(b.ContentRelated),
			body:           body,
			contentRelated: b.ContentRelated,
		}
		envelopes = append(envelopes, env)
		size += envSize
		packedCount++
	}

	if len(envelopes) == 0 {
		return nil, nil, len(bodies), nil
	}

	var topMsgID int64
	var topSeqNo int32
	var topBody []byte
	var containerMsgID int64

	// An ack envelope is fire-and-forget: the server never acknowledges an
	// acknowledgment, so tracking it for resend would leave a permanent
	// entry in the in-flight index. Only the real bodies are tracked.
	if len(envelopes) == 1 {
		env := envelopes[0]
		topMsgID, topSeqNo, topBody = env.msgID, env.seqNo, env.body
		if ackEnvs == 0 {
			tracked = append(tracked, &trackedMessage{
				MsgID: env.msgID, Body: env.body, ContentRelated: env.contentRelated,
			})
		}
	} else {
		cw := tl.NewWriter(8 + size)
		cw.PutConstructor(constructorMsgContainer)
		cw.PutUint32(uint32(len(envelopes)))
		for _, env := range envelopes {
			env.encode(cw)
		}
		topMsgID = s.nextMsgID()
		topSeqNo = s.seq.Next(false)
		topBody = cw.Bytes()
		containerMsgID = topMsgID

		for _, env := range envelopes[ackEnvs:] {
			tracked = append(tracked, &trackedMessage{
				MsgID: env.msgID, Body: env.body, ContentRelated: env.contentRelated,
				ContainerMsgID: containerMsgID,
			})
		}
	}

	for _, t := range tracked {
		s.pending.Track(t)
	}

	payload := tl.NewWriter(16 + envelopeHeaderSize + len(topBody))
	payload.PutInt64(s.Salt())
	payload.PutInt64(s.sessionID)
	payload.PutInt64(topMsgID)
	payload.PutInt32(topSeqNo)
	payload.PutUint32(uint32(len(topBody)))
	payload.PutRaw(topBody)

	padded, err := padPayload(payload.Bytes())
	if err != nil {
		return nil, nil, len(bodies), err
	}

	frame, err := s.encryptPayload(padded, xcrypto.MsgKeyOffsetOutbound)
	if err != nil {
		return nil, nil, len(bodies), err
	}

	for _, env := range envelopes[len(envelopes)-packedCount:] {
		assigned = append(assigned, env.msgID)
	}
	return frame, assigned, len(bodies) - packedCount, nil
}
