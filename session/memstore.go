package session

import (
	"sync"

	"github.com/gram-proto/gram/peer"
)

// MemStore is a mutex-guarded in-memory Store. It is also what tests for
// Sender/Pool/Box wiring use in place of a real DiskStore.
type MemStore struct {
	mu sync.Mutex

	homeDC int32

	dcOptions map[int32]DCOption
	peers     map[peer.Id]peer.CacheEntry
	state     UpdateState
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		dcOptions: make(map[int32]DCOption),
		peers:     make(map[peer.Id]peer.CacheEntry),
		state:     UpdateState{Channels: make(map[int64]int32)},
	}
}

func (s *MemStore) HomeDC() (int32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.homeDC, nil
}

func (s *MemStore) SetHomeDC(dcID int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.homeDC = dcID
	return nil
}

func (s *MemStore) DCOption(dcID int32) (DCOption, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	opt, ok := s.dcOptions[dcID]
	return opt, ok, nil
}

func (s *MemStore) SetDCOption(opt DCOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dcOptions[opt.DCID] = opt
	return nil
}

func (s *MemStore) PeerInfo(id peer.Id) (peer.CacheEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.peers[id]
	return e, ok, nil
}

func (s *MemStore) SetPeerInfo(id peer.Id, entry peer.CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers[id] = entry
	return nil
}

func (s *MemStore) UpdateState() (UpdateState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	channels := make(map[int64]int32, len(s.state.Channels))
	for id, pts := range s.state.Channels {
		channels[id] = pts
	}
	st := s.state
	st.Channels = channels
	return st, nil
}

func (s *MemStore) SetUpdateState(st UpdateState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	channels := make(map[int64]int32, len(st.Channels))
	for id, pts := range st.Channels {
		channels[id] = pts
	}
	st.Channels = channels
	s.state = st
	return nil
}

func (s *MemStore) Close() error { return nil }
