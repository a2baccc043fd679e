package updates

import (
	"fmt"

	"github.com/gram-proto/gram/peer"
	"github.com/gram-proto/gram/tl"
)

// Update is one element of an envelope's update list. Concrete types are a
// tagged union dispatched by ConstructorID — no runtime type registry is
// consulted on the hot path, only the switch in decodeUpdate.
type Update interface {
	ConstructorID() tl.ConstructorID
	Serialize(w *tl.Writer)

	// PtsInfo reports the (entry, pts, pts_count) this update carries, if
	// any. Updates with ok == false bypass the pts gate entirely and are
	// always emitted (e.g. a plain read-state notification with no
	// associated counter).
	PtsInfo() (info PtsInfo, ok bool)
}

// Update constructor IDs. These are this protocol's own — not borrowed from
// any upstream schema — but stable within this module, which is all the
// codec's contract requires.
const (
	constructorUpdateNewMessage            tl.ConstructorID = 0x5ee2b9d1
	constructorUpdateDeleteMessages        tl.ConstructorID = 0x14b9bd99
	constructorUpdateReadHistoryInbox      tl.ConstructorID = 0x9c1d8d1e
	constructorUpdateNewEncryptedMessage   tl.ConstructorID = 0x2a4f1d7a
	constructorUpdateNewChannelMessage     tl.ConstructorID = 0x62c69a1c
	constructorUpdateDeleteChannelMessages tl.ConstructorID = 0xc7c2432e
	constructorUpdateChannelTooLong        tl.ConstructorID = 0x7a17dbb3
	constructorUpdateUserStatus            tl.ConstructorID = 0x1bfbd823
)

// UpdateNewMessage advances the Common entry's pts; it wraps just enough of
// a message to let an upper layer reconstruct it (full Message modeling is
// the high-level client surface's job, out of scope here).
type UpdateNewMessage struct {
	Pts      int32
	PtsCount int32
	PeerID   peer.Id
	AuthorID peer.Id
	MsgID    int32
	Text     string
	Date     int32
}

func (UpdateNewMessage) ConstructorID() tl.ConstructorID { return constructorUpdateNewMessage }

func (u UpdateNewMessage) Serialize(w *tl.Writer) {
	w.PutConstructor(u.ConstructorID())
	w.PutInt32(u.Pts)
	w.PutInt32(u.PtsCount)
	w.PutInt64(int64(u.PeerID))
	w.PutInt64(int64(u.AuthorID))
	w.PutInt32(u.MsgID)
	w.PutString(u.Text)
	w.PutInt32(u.Date)
}

func (u UpdateNewMessage) PtsInfo() (PtsInfo, bool) {
	return PtsInfo{Entry: Common, Pts: u.Pts, PtsCount: u.PtsCount}, true
}

func decodeUpdateNewMessage(r *tl.Reader) (Update, error) {
	var u UpdateNewMessage
	var err error
	if u.Pts, err = r.Int32(); err != nil {
		return nil, err
	}
	if u.PtsCount, err = r.Int32(); err != nil {
		return nil, err
	}
	peerID, err := r.Int64()
	if err != nil {
		return nil, err
	}
	u.PeerID = peer.Id(peerID)
	authorID, err := r.Int64()
	if err != nil {
		return nil, err
	}
	u.AuthorID = peer.Id(authorID)
	if u.MsgID, err = r.Int32(); err != nil {
		return nil, err
	}
	if u.Text, err = r.String(); err != nil {
		return nil, err
	}
	if u.Date, err = r.Int32(); err != nil {
		return nil, err
	}
	return u, nil
}

// UpdateDeleteMessages advances Common without carrying message content.
type UpdateDeleteMessages struct {
	Pts        int32
	PtsCount   int32
	MessageIDs []int32
}

func (UpdateDeleteMessages) ConstructorID() tl.ConstructorID { return constructorUpdateDeleteMessages }

func (u UpdateDeleteMessages) Serialize(w *tl.Writer) {
	w.PutConstructor(u.ConstructorID())
	w.PutInt32(u.Pts)
	w.PutInt32(u.PtsCount)
	tl.PutVector(w, u.MessageIDs, func(w *tl.Writer, v int32) { w.PutInt32(v) })
}

func (u UpdateDeleteMessages) PtsInfo() (PtsInfo, bool) {
	return PtsInfo{Entry: Common, Pts: u.Pts, PtsCount: u.PtsCount}, true
}

func decodeUpdateDeleteMessages(r *tl.Reader) (Update, error) {
	var u UpdateDeleteMessages
	var err error
	if u.Pts, err = r.Int32(); err != nil {
		return nil, err
	}
	if u.PtsCount, err = r.Int32(); err != nil {
		return nil, err
	}
	if u.MessageIDs, err = tl.ReadVector(r, func(r *tl.Reader) (int32, error) { return r.Int32() }); err != nil {
		return nil, err
	}
	return u, nil
}

// UpdateReadHistoryInbox advances Common; it carries the read-up-to marker
// for a peer's inbox.
type UpdateReadHistoryInbox struct {
	Pts      int32
	PtsCount int32
	PeerID   peer.Id
	MaxID    int32
}

func (UpdateReadHistoryInbox) ConstructorID() tl.ConstructorID {
	return constructorUpdateReadHistoryInbox
}

func (u UpdateReadHistoryInbox) Serialize(w *tl.Writer) {
	w.PutConstructor(u.ConstructorID())
	w.PutInt32(u.Pts)
	w.PutInt32(u.PtsCount)
	w.PutInt64(int64(u.PeerID))
	w.PutInt32(u.MaxID)
}

func (u UpdateReadHistoryInbox) PtsInfo() (PtsInfo, bool) {
	return PtsInfo{Entry: Common, Pts: u.Pts, PtsCount: u.PtsCount}, true
}

func decodeUpdateReadHistoryInbox(r *tl.Reader) (Update, error) {
	var u UpdateReadHistoryInbox
	var err error
	if u.Pts, err = r.Int32(); err != nil {
		return nil, err
	}
	if u.PtsCount, err = r.Int32(); err != nil {
		return nil, err
	}
	peerID, err := r.Int64()
	if err != nil {
		return nil, err
	}
	u.PeerID = peer.Id(peerID)
	if u.MaxID, err = r.Int32(); err != nil {
		return nil, err
	}
	return u, nil
}

// UpdateNewEncryptedMessage advances Secondary (qts); secret-chat and bot
// updates share this single counter space rather than Common's pts.
type UpdateNewEncryptedMessage struct {
	Qts     int32
	ChatID  int64
	MsgID   int32
	Payload []byte
	Date    int32
}

func (UpdateNewEncryptedMessage) ConstructorID() tl.ConstructorID {
	return constructorUpdateNewEncryptedMessage
}

func (u UpdateNewEncryptedMessage) Serialize(w *tl.Writer) {
	w.PutConstructor(u.ConstructorID())
	w.PutInt32(u.Qts)
	w.PutInt64(u.ChatID)
	w.PutInt32(u.MsgID)
	w.PutBytes(u.Payload)
	w.PutInt32(u.Date)
}

// PtsInfo always reports a pts_count of 1: qts-gated updates arrive one at
// a time, unlike pts which batches.
func (u UpdateNewEncryptedMessage) PtsInfo() (PtsInfo, bool) {
	return PtsInfo{Entry: Secondary, Pts: u.Qts, PtsCount: 1}, true
}

func decodeUpdateNewEncryptedMessage(r *tl.Reader) (Update, error) {
	var u UpdateNewEncryptedMessage
	var err error
	if u.Qts, err = r.Int32(); err != nil {
		return nil, err
	}
	if u.ChatID, err = r.Int64(); err != nil {
		return nil, err
	}
	if u.MsgID, err = r.Int32(); err != nil {
		return nil, err
	}
	if u.Payload, err = r.Bytes(); err != nil {
		return nil, err
	}
	if u.Date, err = r.Int32(); err != nil {
		return nil, err
	}
	return u, nil
}

// UpdateNewChannelMessage advances Channel(ChannelID).
type UpdateNewChannelMessage struct {
	ChannelID int64
	Pts       int32
	PtsCount  int32
	MsgID     int32
	Text      string
	Date      int32
}

func (UpdateNewChannelMessage) ConstructorID() tl.ConstructorID {
	return constructorUpdateNewChannelMessage
}

func (u UpdateNewChannelMessage) Serialize(w *tl.Writer) {
	w.PutConstructor(u.ConstructorID())
	w.PutInt64(u.ChannelID)
	w.PutInt32(u.Pts)
	w.PutInt32(u.PtsCount)
	w.PutInt32(u.MsgID)
	w.PutString(u.Text)
	w.PutInt32(u.Date)
}

func (u UpdateNewChannelMessage) PtsInfo() (PtsInfo, bool) {
	return PtsInfo{Entry: Channel(u.ChannelID), Pts: u.Pts, PtsCount: u.PtsCount}, true
}

func decodeUpdateNewChannelMessage(r *tl.Reader) (Update, error) {
	var u UpdateNewChannelMessage
	var err error
	if u.ChannelID, err = r.Int64(); err != nil {
		return nil, err
	}
	if u.Pts, err = r.Int32(); err != nil {
		return nil, err
	}
	if u.PtsCount, err = r.Int32(); err != nil {
		return nil, err
	}
	if u.MsgID, err = r.Int32(); err != nil {
		return nil, err
	}
	if u.Text, err = r.String(); err != nil {
		return nil, err
	}
	if u.Date, err = r.Int32(); err != nil {
		return nil, err
	}
	return u, nil
}

// UpdateDeleteChannelMessages advances Channel(ChannelID) with no content.
type UpdateDeleteChannelMessages struct {
	ChannelID  int64
	Pts        int32
	PtsCount   int32
	MessageIDs []int32
}

func (UpdateDeleteChannelMessages) ConstructorID() tl.ConstructorID {
	return constructorUpdateDeleteChannelMessages
}

func (u UpdateDeleteChannelMessages) Serialize(w *tl.Writer) {
	w.PutConstructor(u.ConstructorID())
	w.PutInt64(u.ChannelID)
	w.PutInt32(u.Pts)
	w.PutInt32(u.PtsCount)
	tl.PutVector(w, u.MessageIDs, func(w *tl.Writer, v int32) { w.PutInt32(v) })
}

func (u UpdateDeleteChannelMessages) PtsInfo() (PtsInfo, bool) {
	return PtsInfo{Entry: Channel(u.ChannelID), Pts: u.Pts, PtsCount: u.PtsCount}, true
}

func decodeUpdateDeleteChannelMessages(r *tl.Reader) (Update, error) {
	var u UpdateDeleteChannelMessages
	var err error
	if u.ChannelID, err = r.Int64(); err != nil {
		return nil, err
	}
	if u.Pts, err = r.Int32(); err != nil {
		return nil, err
	}
	if u.PtsCount, err = r.Int32(); err != nil {
		return nil, err
	}
	if u.MessageIDs, err = tl.ReadVector(r, func(r *tl.Reader) (int32, error) { return r.Int32() }); err != nil {
		return nil, err
	}
	return u, nil
}

// UpdateChannelTooLong carries no pts_count to gate against: it is the
// channel-scoped twin of UpdatesTooLong and is handled by the box before
// update.PtsInfo is ever consulted (see Box.ProcessUpdates).
type UpdateChannelTooLong struct {
	ChannelID int64
	Pts       int32 // 0 if the server didn't include a hint
}

func (UpdateChannelTooLong) ConstructorID() tl.ConstructorID { return constructorUpdateChannelTooLong }

func (u UpdateChannelTooLong) Serialize(w *tl.Writer) {
	w.PutConstructor(u.ConstructorID())
	w.PutInt64(u.ChannelID)
	w.PutInt32(u.Pts)
}

func (u UpdateChannelTooLong) PtsInfo() (PtsInfo, bool) { return PtsInfo{}, false }

func decodeUpdateChannelTooLong(r *tl.Reader) (Update, error) {
	var u UpdateChannelTooLong
	var err error
	if u.ChannelID, err = r.Int64(); err != nil {
		return nil, err
	}
	if u.Pts, err = r.Int32(); err != nil {
		return nil, err
	}
	return u, nil
}

// UpdateUserStatus carries no counter at all; it always passes straight
// through to the emitted list.
type UpdateUserStatus struct {
	UserID peer.Id
	Online bool
}

func (UpdateUserStatus) ConstructorID() tl.ConstructorID { return constructorUpdateUserStatus }

func (u UpdateUserStatus) Serialize(w *tl.Writer) {
	w.PutConstructor(u.ConstructorID())
	w.PutInt64(int64(u.UserID))
	w.PutBool(u.Online)
}

func (u UpdateUserStatus) PtsInfo() (PtsInfo, bool) { return PtsInfo{}, false }

func decodeUpdateUserStatus(r *tl.Reader) (Update, error) {
	var u UpdateUserStatus
	userID, err := r.Int64()
	if err != nil {
		return nil, err
	}
	u.UserID = peer.Id(userID)
	if u.Online, err = r.Bool(); err != nil {
		return nil, err
	}
	return u, nil
}

// decodeUpdate reads one boxed Update, dispatching on its constructor ID.
// Unlike mtproto's top-level service-message dispatch (which can fall
// through unknown constructors to the update stream because it always
// consumes a whole self-delimited message), an Update here is one element
// of a vector with no independent length prefix — an unrecognized
// constructor can't be skipped without knowing its field layout, so it is
// InvalidData, same as any other codec-level unknown-constructor failure.
func decodeUpdate(r *tl.Reader) (Update, error) {
	id, err := r.Constructor()
	if err != nil {
		return nil, err
	}
	switch id {
	case constructorUpdateNewMessage:
		return decodeUpdateNewMessage(r)
	case constructorUpdateDeleteMessages:
		return decodeUpdateDeleteMessages(r)
	case constructorUpdateReadHistoryInbox:
		return decodeUpdateReadHistoryInbox(r)
	case constructorUpdateNewEncryptedMessage:
		return decodeUpdateNewEncryptedMessage(r)
	case constructorUpdateNewChannelMessage:
		return decodeUpdateNewChannelMessage(r)
	case constructorUpdateDeleteChannelMessages:
		return decodeUpdateDeleteChannelMessages(r)
	case constructorUpdateChannelTooLong:
		return decodeUpdateChannelTooLong(r)
	case constructorUpdateUserStatus:
		return decodeUpdateUserStatus(r)
	default:
		return nil, fmt.Errorf("%w: unknown update constructor %08x", tl.ErrInvalidData, uint32(id))
	}
}
