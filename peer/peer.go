// Package peer implements the bot-API-compatible packing of user/chat/
// channel identifiers into a single signed 64-bit PeerId, and the
// {PeerId, PeerAuth} capability pair used wherever the wire requires
// authority over a peer rather than just its identity.
package peer

import "fmt"

// Kind classifies a PeerId.
type Kind int

const (
	KindUser Kind = iota
	KindChat
	KindChannel
)

func (k Kind) String() string {
	switch k {
	case KindUser:
		return "User"
	case KindChat:
		return "Chat"
	case KindChannel:
		return "Channel"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// channelIDOffset is the bot-API constant added to a channel's bare ID
// before negating it, keeping channel IDs out of the small-group range.
const channelIDOffset = 1_000_000_000_000

// Id is a 64-bit tagged peer identifier: positive for users, -id for small
// group chats, -(channelIDOffset+id) for channels.
type Id int64

// User returns the PeerId for a user with the given bare ID.
func User(id int64) Id { return Id(id) }

// Chat returns the PeerId for a small group chat with the given bare ID.
func Chat(id int64) Id { return Id(-id) }

// Channel returns the PeerId for a channel/supergroup with the given bare ID.
func Channel(id int64) Id { return Id(-(channelIDOffset + id)) }

// From wraps a raw bot-API-style dialog ID as a PeerId verbatim (it already
// uses this packing).
func From(dialogID int64) Id { return Id(dialogID) }

// BotAPIDialogID returns the packed value as used in bot-API-style dialog
// identifiers — this is simply the underlying int64.
func (p Id) BotAPIDialogID() int64 { return int64(p) }

// Kind classifies p by its packed range.
func (p Id) Kind() Kind {
	v := int64(p)
	switch {
	case v > 0:
		return KindUser
	case -v >= channelIDOffset:
		return KindChannel
	default:
		return KindChat
	}
}

// BareID returns the server-side bare ID (always positive) regardless of
// Kind.
func (p Id) BareID() int64 {
	v := int64(p)
	switch p.Kind() {
	case KindUser:
		return v
	case KindChannel:
		return -v - channelIDOffset
	default:
		return -v
	}
}

func (p Id) String() string {
	return fmt.Sprintf("%s(%d)", p.Kind(), p.BareID())
}

// Auth is the opaque access hash granting authority over a peer; zero means
// ambient authority (bots, mutual contacts, or the user's own peer).
type Auth int64

// HasAuthority reports whether a is non-ambient, i.e. actually required to
// act on the peer.
func (a Auth) HasAuthority() bool { return a != 0 }

// Ref is the {PeerId, PeerAuth} capability pair passed on the wire wherever
// an operation needs more than just a bare identity.
type Ref struct {
	Id   Id
	Auth Auth
}

// Subtype packs the user/bot/self/megagroup/broadcast/gigagroup flags the
// session store's peer cache keeps alongside a PeerRef's access hash.
type Subtype uint8

const (
	SubtypeBot Subtype = 1 << iota
	SubtypeSelf
	SubtypeMegagroup
	SubtypeBroadcast
	SubtypeGigagroup
)

func (s Subtype) Has(bit Subtype) bool { return s&bit != 0 }

// CacheEntry is what the session store's peer cache maps a PeerId to.
type CacheEntry struct {
	Auth    Auth
	Subtype Subtype
}
