// Package updates implements the update reconciliation engine (the
// "message box"): one State per update-stream entry, gap detection and a
// short retry window against out-of-order pts/qts, and the
// difference/channel-difference requests that recover from a declared gap.
// It knows nothing about transport or MTP — it only sees the canonical
// update envelope mtproto.Session's dispatch forwards it, and it only
// produces values (never panics) to describe what the caller should do
// next.
package updates

import "fmt"

// Kind distinguishes the three independent counter spaces.
type Kind int

const (
	// KindCommon is the account-wide pts stream.
	KindCommon Kind = iota
	// KindSecondary is the qts stream shared by secret-chat and bot updates.
	KindSecondary
	// KindChannel is a per-channel pts stream, one per ChannelID.
	KindChannel
)

func (k Kind) String() string {
	switch k {
	case KindCommon:
		return "Common"
	case KindSecondary:
		return "Secondary"
	case KindChannel:
		return "Channel"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Entry is the update-box entry key: Common, Secondary, or a specific
// Channel. It is comparable and safe to use as a map key.
type Entry struct {
	Kind      Kind
	ChannelID int64 // only meaningful when Kind == KindChannel
}

// Common is the singleton account-wide entry.
var Common = Entry{Kind: KindCommon}

// Secondary is the singleton qts entry.
var Secondary = Entry{Kind: KindSecondary}

// Channel returns the entry for channelID's per-channel pts stream.
func Channel(channelID int64) Entry {
	return Entry{Kind: KindChannel, ChannelID: channelID}
}

func (e Entry) String() string {
	if e.Kind == KindChannel {
		return fmt.Sprintf("Channel(%d)", e.ChannelID)
	}
	return e.Kind.String()
}

// PtsInfo is what an Update's gate needs: which entry it advances, the
// server's pts/qts for it, and how many increments it accounts for.
type PtsInfo struct {
	Entry    Entry
	Pts      int32
	PtsCount int32
}
