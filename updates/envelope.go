package updates

import (
	"fmt"

	"github.com/gram-proto/gram/peer"
	"github.com/gram-proto/gram/tl"
)

// Envelope is the canonical shape every inbound update wire value is
// normalized to before it reaches the box's gates.
type Envelope struct {
	Updates  []Update
	Users    []int64
	Chats    []int64
	Date     int32
	SeqStart int32 // 0 means "no seq gate applies" (short forms, single updates)
	Seq      int32

	// TooLong is set for an updatesTooLong envelope: the box must request a
	// difference for TooLongEntry immediately rather than gate anything. An
	// UpdateChannelTooLong travels in Updates instead.
	TooLong      bool
	TooLongEntry Entry
}

const (
	constructorUpdates              tl.ConstructorID = 0x2299c2f0
	constructorUpdatesCombined      tl.ConstructorID = 0x8f14c4f5
	constructorUpdateShort          tl.ConstructorID = 0x2c3f4d91
	constructorUpdateShortMessage   tl.ConstructorID = 0x4e45dbc8
	constructorUpdateShortChatMsg   tl.ConstructorID = 0x5a8cf7a2
	constructorUpdateShortSentMsg   tl.ConstructorID = 0x6b1e0ed4
	constructorUpdatesTooLong       tl.ConstructorID = 0x7f56b113
)

// Normalize decodes raw (a boxed value as forwarded by mtproto.UpdateEvent)
// into a canonical Envelope. It is the one place the box deals with the
// wire's several update-envelope shapes; every gate downstream sees only
// Envelope.
func Normalize(raw []byte) (Envelope, error) {
	r := tl.NewReader(raw)
	id, err := r.Constructor()
	if err != nil {
		return Envelope{}, err
	}
	switch id {
	case constructorUpdates:
		return decodeUpdates(r)
	case constructorUpdatesCombined:
		return decodeUpdatesCombined(r)
	case constructorUpdateShort:
		return decodeUpdateShort(r)
	case constructorUpdateShortMessage:
		return decodeUpdateShortMessage(r)
	case constructorUpdateShortChatMsg:
		return decodeUpdateShortChatMessage(r)
	case constructorUpdateShortSentMsg:
		return decodeUpdateShortSentMessage(r)
	case constructorUpdatesTooLong:
		return Envelope{TooLong: true, TooLongEntry: Common}, nil
	default:
		return Envelope{}, fmt.Errorf("%w: unknown update envelope constructor %08x", tl.ErrInvalidData, uint32(id))
	}
}

// TooLongEnvelopeBody returns the wire body of an updatesTooLong envelope.
// The Sender feeds one into the update stream on new_session_created, so the
// box opens account-wide difference recovery without the server having to
// say so twice.
func TooLongEnvelopeBody() []byte {
	w := tl.NewWriter(4)
	w.PutConstructor(constructorUpdatesTooLong)
	return w.Bytes()
}

func decodeUsersChats(r *tl.Reader) (users, chats []int64, err error) {
	users, err = tl.ReadVector(r, func(r *tl.Reader) (int64, error) { return r.Int64() })
	if err != nil {
		return nil, nil, err
	}
	chats, err = tl.ReadVector(r, func(r *tl.Reader) (int64, error) { return r.Int64() })
	if err != nil {
		return nil, nil, err
	}
	return users, chats, nil
}

func decodeUpdates(r *tl.Reader) (Envelope, error) {
	ups, err := tl.ReadVector(r, decodeUpdate)
	if err != nil {
		return Envelope{}, err
	}
	users, chats, err := decodeUsersChats(r)
	if err != nil {
		return Envelope{}, err
	}
	date, err := r.Int32()
	if err != nil {
		return Envelope{}, err
	}
	seq, err := r.Int32()
	if err != nil {
		return Envelope{}, err
	}
	// A plain "updates" value has no independent seq_start: its seq window
	// is exactly one wide, so seq_start == seq.
	return Envelope{Updates: ups, Users: users, Chats: chats, Date: date, SeqStart: seq, Seq: seq}, nil
}

func decodeUpdatesCombined(r *tl.Reader) (Envelope, error) {
	ups, err := tl.ReadVector(r, decodeUpdate)
	if err != nil {
		return Envelope{}, err
	}
	users, chats, err := decodeUsersChats(r)
	if err != nil {
		return Envelope{}, err
	}
	date, err := r.Int32()
	if err != nil {
		return Envelope{}, err
	}
	seqStart, err := r.Int32()
	if err != nil {
		return Envelope{}, err
	}
	seq, err := r.Int32()
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Updates: ups, Users: users, Chats: chats, Date: date, SeqStart: seqStart, Seq: seq}, nil
}

// decodeUpdateShort wraps a single bare Update plus a date; it carries no
// seq at all, so SeqStart is left at 0 (meaning: the global seq gate does
// not apply to this envelope).
func decodeUpdateShort(r *tl.Reader) (Envelope, error) {
	upd, err := decodeUpdate(r)
	if err != nil {
		return Envelope{}, err
	}
	date, err := r.Int32()
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Updates: []Update{upd}, Date: date}, nil
}

// decodeUpdateShortMessage synthesizes an UpdateNewMessage from the
// compact single-message notification the server sends for the common
// case of "you got one new private message" — the peer/author are
// reconstructed from the Out flag and the carried user ID.
func decodeUpdateShortMessage(r *tl.Reader) (Envelope, error) {
	flags, err := r.Int32()
	if err != nil {
		return Envelope{}, err
	}
	f := tl.Flags(flags)
	out := f.Has(1)

	userID, err := r.Int64()
	if err != nil {
		return Envelope{}, err
	}
	msgID, err := r.Int32()
	if err != nil {
		return Envelope{}, err
	}
	pts, err := r.Int32()
	if err != nil {
		return Envelope{}, err
	}
	ptsCount, err := r.Int32()
	if err != nil {
		return Envelope{}, err
	}
	date, err := r.Int32()
	if err != nil {
		return Envelope{}, err
	}
	text, err := r.String()
	if err != nil {
		return Envelope{}, err
	}

	self := peer.User(0) // the logged-in user's own id is ambient context
	// the caller's session knows it; the box itself never needs it beyond
	// distinguishing which side of (self, userID) is peer vs author.
	upd := UpdateNewMessage{Pts: pts, PtsCount: ptsCount, MsgID: msgID, Text: text, Date: date}
	if out {
		upd.PeerID, upd.AuthorID = peer.User(userID), self
	} else {
		upd.PeerID, upd.AuthorID = self, peer.User(userID)
	}
	return Envelope{Updates: []Update{upd}, Date: date}, nil
}

func decodeUpdateShortChatMessage(r *tl.Reader) (Envelope, error) {
	if _, err := r.Int32(); err != nil { // flags, unused beyond parity with ShortMessage
		return Envelope{}, err
	}
	fromID, err := r.Int64()
	if err != nil {
		return Envelope{}, err
	}
	chatID, err := r.Int64()
	if err != nil {
		return Envelope{}, err
	}
	msgID, err := r.Int32()
	if err != nil {
		return Envelope{}, err
	}
	pts, err := r.Int32()
	if err != nil {
		return Envelope{}, err
	}
	ptsCount, err := r.Int32()
	if err != nil {
		return Envelope{}, err
	}
	date, err := r.Int32()
	if err != nil {
		return Envelope{}, err
	}
	text, err := r.String()
	if err != nil {
		return Envelope{}, err
	}

	upd := UpdateNewMessage{
		Pts: pts, PtsCount: ptsCount, MsgID: msgID, Text: text, Date: date,
		PeerID: peer.Chat(chatID), AuthorID: peer.User(fromID),
	}
	return Envelope{Updates: []Update{upd}, Date: date}, nil
}

// decodeUpdateShortSentMessage acknowledges the client's own outgoing
// message: it still advances pts, but the content is already known to the
// caller (it sent it), so no message body travels on this path.
func decodeUpdateShortSentMessage(r *tl.Reader) (Envelope, error) {
	msgID, err := r.Int32()
	if err != nil {
		return Envelope{}, err
	}
	pts, err := r.Int32()
	if err != nil {
		return Envelope{}, err
	}
	ptsCount, err := r.Int32()
	if err != nil {
		return Envelope{}, err
	}
	date, err := r.Int32()
	if err != nil {
		return Envelope{}, err
	}
	upd := UpdateNewMessage{Pts: pts, PtsCount: ptsCount, MsgID: msgID, Date: date}
	return Envelope{Updates: []Update{upd}, Date: date}, nil
}
