package session

import (
	"github.com/gram-proto/gram/peer"
	"github.com/gram-proto/gram/updates"
)

// BoxPeerCache adapts a Store to updates.PeerCache, the narrow read-only
// view the message box needs to resolve a channel's access hash. Store
// errors are treated as a cache miss: updates.Box already handles a miss by
// purging its tracking for that entry and waiting for the peer to be
// re-learned, which is the same degradation a transient disk error should
// produce.
type BoxPeerCache struct {
	Store Store
}

var _ updates.PeerCache = BoxPeerCache{}

func (c BoxPeerCache) PeerInfo(id peer.Id) (peer.CacheEntry, bool) {
	entry, ok, err := c.Store.PeerInfo(id)
	if err != nil {
		return peer.CacheEntry{}, false
	}
	return entry, ok
}
