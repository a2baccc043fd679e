package mtproto

import (
	"errors"
	"fmt"

	"github.com/gram-proto/gram/tl"
	"github.com/gram-proto/gram/xcrypto"
)

// ErrSessionMismatch is returned when a decrypted frame's session_id
// doesn't match this Session's own.
var ErrSessionMismatch = errors.New("mtproto: session id mismatch")

// Unpack decrypts frame, verifies it, and returns the events its top-level
// message (and any nested container children) produce. Content-bearing
// events are also queued for acknowledgment.
func (s *Session) Unpack(frame []byte) ([]Event, error) {
	if len(frame) < 8+16 {
		return nil, &InvalidDataError{Err: fmt.Errorf("frame too short")}
	}
	r := tl.NewReader(frame)
	keyID, err := r.Uint64()
	if err != nil {
		return nil, &InvalidDataError{Err: err}
	}
	if keyID != s.authKey.KeyID() {
		return nil, &InvalidDataError{Err: fmt.Errorf("unexpected auth_key_id")}
	}
	msgKey, err := r.Int128()
	if err != nil {
		return nil, &InvalidDataError{Err: err}
	}
	ciphertext := r.RestBytes()

	key, iv, err := xcrypto.DeriveKeyIV(s.authKey.Bytes(), msgKey, xcrypto.MsgKeyOffsetInbound)
	if err != nil {
		return nil, &InvalidDataError{Err: err}
	}
	plain, err := xcrypto.IGEDecrypt(key[:], iv[:], ciphertext)
	if err != nil {
		return nil, &InvalidDataError{Err: err}
	}

	gotKey, err := xcrypto.ComputeMsgKey(s.authKey.Bytes(), plain, xcrypto.MsgKeyOffsetInbound)
	if err != nil {
		return nil, &InvalidDataError{Err: err}
	}
	if gotKey != msgKey {
		return nil, &InvalidDataError{Err: fmt.Errorf("msg_key mismatch")}
	}

	pr := tl.NewReader(plain)
	if _, err := pr.Int64(); err != nil { // salt
		return nil, &InvalidDataError{Err: err}
	}
	sessionID, err := pr.Int64()
	if err != nil {
		return nil, &InvalidDataError{Err: err}
	}
	if sessionID != s.sessionID {
		return nil, ErrSessionMismatch
	}

	var events []Event
	if err := s.unpackMessage(pr, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// unpackMessage consumes one {msg_id, seq_no, body_len, body} envelope,
// recursing into MessageContainer children.
func (s *Session) unpackMessage(r *tl.Reader, events *[]Event) error {
	msgID, err := r.Int64()
	if err != nil {
		return &InvalidDataError{Err: err}
	}
	if _, err := r.Int32(); err != nil { // seq_no, informational on inbound
		return &InvalidDataError{Err: err}
	}
	bodyLen, err := r.Uint32()
	if err != nil {
		return &InvalidDataError{Err: err}
	}
	body, err := r.Raw(int(bodyLen))
	if err != nil {
		return &InvalidDataError{Err: err}
	}

	return s.dispatchBody(msgID, tl.NewReader(body), events)
}

func (s *Session) dispatchBody(msgID int64, r *tl.Reader, events *[]Event) error {
	if s.dedup.SeenBefore(msgID) {
		return nil
	}
	return s.dispatchDecoded(msgID, r, events)
}

// dispatchDecoded is dispatchBody without the replay check, so a gzip_packed
// body re-dispatched under its own msg_id is not taken for a replay of it.
func (s *Session) dispatchDecoded(msgID int64, r *tl.Reader, events *[]Event) error {
	id, err := r.Constructor()
	if err != nil {
		return &InvalidDataError{Err: err}
	}

	switch id {
	case constructorMsgContainer:
		count, err := r.Uint32()
		if err != nil {
			return &InvalidDataError{Err: err}
		}
		for i := uint32(0); i < count; i++ {
			if err := s.unpackMessage(r, events); err != nil {
				return err
			}
		}
		return nil

	case constructorGzipPacked:
		decompressed, err := gzipUnwrap(r)
		if err != nil {
			return &InvalidDataError{Err: err}
		}
		return s.dispatchDecoded(msgID, tl.NewReader(decompressed), events)

	case constructorRPCResult:
		reqMsgID, err := r.Int64()
		if err != nil {
			return &InvalidDataError{Err: err}
		}
		inner := r.RestBytes()
		ir := tl.NewReader(inner)
		innerID, err := ir.Constructor()
		if err == nil && innerID == constructorGzipPacked {
			decompressed, derr := gzipUnwrap(ir)
			if derr != nil {
				return &InvalidDataError{Err: derr}
			}
			inner = decompressed
		}
		// An rpc_result implicitly acknowledges the request it answers.
		s.pending.Untrack(reqMsgID)
		ev := RPCResultEvent{ReqMsgID: reqMsgID, Body: inner}
		if rpcErr, isErr := tryParseRPCError(inner); isErr {
			ev.IsError = true
			ev.RPCErr = rpcErr
		}
		*events = append(*events, ev)
		s.QueueAck(msgID)
		return nil

	case constructorMsgsAck:
		ids, err := tl.ReadVector(r, func(r *tl.Reader) (int64, error) { return r.Int64() })
		if err != nil {
			return &InvalidDataError{Err: err}
		}
		for _, id := range ids {
			s.pending.Untrack(id)
		}
		*events = append(*events, AckEvent{MsgIDs: ids})
		return nil

	case constructorBadMsgNotification:
		badMsgID, err := r.Int64()
		if err != nil {
			return &InvalidDataError{Err: err}
		}
		if _, err := r.Int32(); err != nil { // bad_msg_seqno
			return &InvalidDataError{Err: err}
		}
		code, err := r.Int32()
		if err != nil {
			return &InvalidDataError{Err: err}
		}
		*events = append(*events, BadMessageEvent{BadMsgID: badMsgID, ErrorCode: code, Class: ClassifyBadMessage(code)})
		return nil

	case constructorBadServerSalt:
		badMsgID, err := r.Int64()
		if err != nil {
			return &InvalidDataError{Err: err}
		}
		if _, err := r.Int32(); err != nil { // bad_msg_seqno
			return &InvalidDataError{Err: err}
		}
		code, err := r.Int32()
		if err != nil {
			return &InvalidDataError{Err: err}
		}
		newSalt, err := r.Int64()
		if err != nil {
			return &InvalidDataError{Err: err}
		}
		s.AdoptSalt(newSalt)
		*events = append(*events, BadMessageEvent{
			BadMsgID: badMsgID, ErrorCode: code, NewServerSalt: newSalt, Class: ClassifyBadMessage(code),
		})
		return nil

	case constructorNewSessionCreated:
		if _, err := r.Int64(); err != nil { // first_msg_id
			return &InvalidDataError{Err: err}
		}
		if _, err := r.Int64(); err != nil { // unique_id
			return &InvalidDataError{Err: err}
		}
		salt, err := r.Int64()
		if err != nil {
			return &InvalidDataError{Err: err}
		}
		s.AdoptSalt(salt)
		*events = append(*events, NewSessionCreatedEvent{Salt: salt})
		s.QueueAck(msgID)
		return nil

	case constructorPong:
		reqMsgID, err := r.Int64()
		if err != nil {
			return &InvalidDataError{Err: err}
		}
		pingID, err := r.Int64()
		if err != nil {
			return &InvalidDataError{Err: err}
		}
		s.pending.Untrack(reqMsgID)
		*events = append(*events, PongEvent{MsgID: reqMsgID, PingID: pingID})
		return nil

	case constructorFutureSalts:
		reqMsgID, err := r.Int64()
		if err != nil {
			return &InvalidDataError{Err: err}
		}
		if _, err := r.Int32(); err != nil { // now
			return &InvalidDataError{Err: err}
		}
		count, err := r.Int32()
		if err != nil {
			return &InvalidDataError{Err: err}
		}
		salts := make([]int64, 0, count)
		for i := int32(0); i < count; i++ {
			if _, err := r.Constructor(); err != nil { // future_salt boxed wrapper
				return &InvalidDataError{Err: err}
			}
			if _, err := r.Int32(); err != nil { // valid_since
				return &InvalidDataError{Err: err}
			}
			if _, err := r.Int32(); err != nil { // valid_until
				return &InvalidDataError{Err: err}
			}
			salt, err := r.Int64()
			if err != nil {
				return &InvalidDataError{Err: err}
			}
			salts = append(salts, salt)
		}
		*events = append(*events, FutureSaltsEvent{ReqMsgID: reqMsgID, Salts: salts})
		s.QueueAck(msgID)
		return nil

	case constructorMsgDetailedInfo:
		if _, err := r.Int64(); err != nil { // msg_id
			return &InvalidDataError{Err: err}
		}
		answerMsgID, err := r.Int64()
		if err != nil {
			return &InvalidDataError{Err: err}
		}
		*events = append(*events, DetailedInfoEvent{AnswerMsgID: answerMsgID})
		s.QueueAck(answerMsgID)
		return nil

	case constructorMsgNewDetailedInfo:
		answerMsgID, err := r.Int64()
		if err != nil {
			return &InvalidDataError{Err: err}
		}
		*events = append(*events, DetailedInfoEvent{AnswerMsgID: answerMsgID})
		s.QueueAck(answerMsgID)
		return nil

	default:
		// Anything unrecognized is treated as update-like content and
		// requires an ack.
		*events = append(*events, UpdateEvent{Body: prependConstructor(id, r)})
		s.QueueAck(msgID)
		return nil
	}
}

// prependConstructor reconstructs the full boxed body (constructor + the
// still-unread tail) for callers further up the stack (the update box) that
// need to decode it themselves against the full schema registry.
func prependConstructor(id tl.ConstructorID, r *tl.Reader) []byte {
	rest := r.RestBytes()
	w := tl.NewWriter(4 + len(rest))
	w.PutConstructor(id)
	w.PutRaw(rest)
	return w.Bytes()
}

// tryParseRPCError reports whether an rpc_result's inner body is an
// rpc_error, decoding it if so.
func tryParseRPCError(body []byte) (*RPCError, bool) {
	r := tl.NewReader(body)
	id, err := r.Constructor()
	if err != nil || id != constructorRPCError {
		return nil, false
	}
	code, err := r.Int32()
	if err != nil {
		return nil, false
	}
	msg, err := r.String()
	if err != nil {
		return nil, false
	}
	return &RPCError{Code: code, Message: msg}, true
}
