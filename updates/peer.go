package updates

import "github.com/gram-proto/gram/peer"

// PeerCache is the subset of session.Store's peer-info cache the box needs
// to resolve a channel's access hash before it can issue a channel
// difference request.
type PeerCache interface {
	PeerInfo(id peer.Id) (peer.CacheEntry, bool)
}
