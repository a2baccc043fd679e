package mtproto

// Event is the sum type Unpack emits for the Sender to act on. Exactly one
// concrete Event type is populated in any given slot of Unpack's result
// slice.
type Event interface{ isEvent() }

// RPCResultEvent matches a reply to the request that produced it.
type RPCResultEvent struct {
	ReqMsgID int64
	Body     []byte
	IsError  bool
	RPCErr   *RPCError
}

func (RPCResultEvent) isEvent() {}

// UpdateEvent carries anything the dispatch table didn't recognize as a
// service message — forwarded to the update stream for the message box to
// judge.
type UpdateEvent struct {
	Body []byte
}

func (UpdateEvent) isEvent() {}

// AckEvent records an inbound msgs_ack for diagnostics.
type AckEvent struct {
	MsgIDs []int64
}

func (AckEvent) isEvent() {}

// BadMessageEvent carries a bad_msg_notification or bad_server_salt.
type BadMessageEvent struct {
	BadMsgID      int64
	ErrorCode     int32
	NewServerSalt int64 // only set for bad_server_salt (code 48)
	Class         BadMessageClass
}

func (BadMessageEvent) isEvent() {}

// NewSessionCreatedEvent signals the server started a fresh session state
// for this auth key; the Sender adopts the salt and may need to request a
// difference.
type NewSessionCreatedEvent struct {
	Salt int64
}

func (NewSessionCreatedEvent) isEvent() {}

// PongEvent answers a ping.
type PongEvent struct {
	MsgID int64
	PingID int64
}

func (PongEvent) isEvent() {}

// FutureSaltsEvent answers a get_future_salts request.
type FutureSaltsEvent struct {
	ReqMsgID int64
	Salts    []int64
}

func (FutureSaltsEvent) isEvent() {}

// DetailedInfoEvent is a msg_detailed_info/msg_new_detailed_info, recorded
// so its answer_msg_id can be acknowledged.
type DetailedInfoEvent struct {
	AnswerMsgID int64
}

func (DetailedInfoEvent) isEvent() {}
