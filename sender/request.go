package sender

// requestState is the request envelope's state: a request starts
// NotSerialized, and the writer marks it Sent as soon as PackOutbound
// assigns it a msg_id, before its frame is written to the transport. A
// retryable bad_msg_notification resets it back to NotSerialized so the
// next write round assigns it a fresh msg_id. No code path sets
// stateSerialized or a non-zero containerMsgID, and nothing reads state.
type requestState int

const (
	stateNotSerialized requestState = iota
	stateSerialized
	stateSent
)

// Result is what a Request's reply channel eventually receives: either the
// raw rpc_result body, or an error — an *mtproto.RPCError (surfaced
// verbatim), an *mtproto.BadMessageError (fatal-to-the-request
// class), or a *FatalError (the Sender itself died).
type Result struct {
	Body []byte
	Err  error
}

// Request is a single enqueued outbound RPC call.
// Callers never touch this type directly; Invoke hands back
// only the eventual Result.
type Request struct {
	Body                  []byte
	ContentRelated        bool
	OriginalConstructorID uint32

	state          requestState
	msgID          int64
	containerMsgID int64

	reply chan Result
}

func newRequest(body []byte, contentRelated bool, originalConstructor uint32) *Request {
	return &Request{
		Body:                  body,
		ContentRelated:        contentRelated,
		OriginalConstructorID: originalConstructor,
		reply:                 make(chan Result, 1),
	}
}

func (r *Request) resolve(res Result) {
	select {
	case r.reply <- res:
	default:
		// Already resolved (e.g. a duplicate rpc_result after a spurious
		// resend race); the slot is cleared on first arrival and later
		// ones are silently discarded.
	}
}
