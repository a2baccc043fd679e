// Package session defines the abstract persisted-state interface (the
// session store) and two reference implementations: an in-memory
// mutex-guarded Store and a bbolt-backed DiskStore. Neither holds a
// transport connection or an authorization-key-derivation routine; Store
// only remembers what Sender/Pool/Box learned on a previous run.
package session

import (
	"github.com/gram-proto/gram/peer"
)

// DCOption is the persisted per-DC endpoint and authorization key. AuthKey
// is nil until a handshake against that DC has completed.
type DCOption struct {
	DCID    int32
	IPv4    string
	IPv6    string
	AuthKey []byte // 256 bytes once set; nil means no key yet
}

// UpdateState is the persisted global counters plus the
// per-channel pts map, mirroring updates.SessionState field for field as a
// separate type (updates depends on nothing persistence-related at all).
type UpdateState struct {
	Pts      int32
	Qts      int32
	Date     int32
	Seq      int32
	Channels map[int64]int32
}

// Store is the interface every persistence backend implements: home-DC
// get/set, per-DC option get/set, peer cache read/write, and update-state
// get/set. Every operation is logically atomic per call — implementations
// may do I/O inside any method but must serialize concurrent callers
// themselves.
type Store interface {
	HomeDC() (int32, error)
	SetHomeDC(dcID int32) error

	DCOption(dcID int32) (DCOption, bool, error)
	SetDCOption(opt DCOption) error

	PeerInfo(id peer.Id) (peer.CacheEntry, bool, error)
	SetPeerInfo(id peer.Id, entry peer.CacheEntry) error

	UpdateState() (UpdateState, error)
	SetUpdateState(s UpdateState) error

	// Close releases any resources (file handles, background writers) the
	// store holds. Implementations for which this is a no-op (MemStore)
	// still provide it so callers can defer Close uniformly.
	Close() error
}
