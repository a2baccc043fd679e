package session

import (
	"encoding/binary"

	"github.com/fxamacker/cbor/v2"
	"go.etcd.io/bbolt"

	"github.com/gram-proto/gram/peer"
)

var (
	bucketHomeDC       = []byte("home_dc")
	bucketDCOptions    = []byte("dc_options")
	bucketPeerCache    = []byte("peer_cache")
	bucketUpdateState  = []byte("update_state")
	bucketChannelState = []byte("channel_state")
)

const (
	keyHomeDC      = "home_dc"
	keyUpdateState = "state"
)

// DiskStore is the bbolt-backed Store: one bucket per persisted
// concern, each value cbor-encoded. It may optionally sit on top of an
// EncryptedFile for at-rest encryption of the whole file.
type DiskStore struct {
	db  *bbolt.DB
	enc *EncryptedFile
}

func initBuckets(db *bbolt.DB) error {
	return db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketHomeDC, bucketDCOptions, bucketPeerCache, bucketUpdateState, bucketChannelState} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
}

// OpenDiskStore opens (creating if necessary) an unencrypted bbolt file at
// path.
func OpenDiskStore(path string) (*DiskStore, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}
	if err := initBuckets(db); err != nil {
		db.Close()
		return nil, err
	}
	return &DiskStore{db: db}, nil
}

// OpenEncryptedDiskStore opens a DiskStore whose file is transparently
// decrypted from (and re-encrypted back to) path using passphrase.
func OpenEncryptedDiskStore(path string, passphrase []byte) (*DiskStore, error) {
	ef, err := OpenEncryptedFile(path, passphrase)
	if err != nil {
		return nil, err
	}
	db, err := bbolt.Open(ef.PlaintextPath(), 0600, nil)
	if err != nil {
		return nil, err
	}
	if err := initBuckets(db); err != nil {
		db.Close()
		return nil, err
	}
	ef.Start()
	return &DiskStore{db: db, enc: ef}, nil
}

func (s *DiskStore) markDirty() {
	if s.enc != nil {
		s.enc.MarkDirty()
	}
}

func (s *DiskStore) HomeDC() (int32, error) {
	var dcID int32
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketHomeDC).Get([]byte(keyHomeDC))
		if raw == nil {
			return nil
		}
		return cbor.Unmarshal(raw, &dcID)
	})
	return dcID, err
}

func (s *DiskStore) SetHomeDC(dcID int32) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		raw, err := cbor.Marshal(dcID)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketHomeDC).Put([]byte(keyHomeDC), raw)
	})
	if err == nil {
		s.markDirty()
	}
	return err
}

func dcOptionKey(dcID int32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(dcID))
	return b[:]
}

func (s *DiskStore) DCOption(dcID int32) (DCOption, bool, error) {
	var opt DCOption
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketDCOptions).Get(dcOptionKey(dcID))
		if raw == nil {
			return nil
		}
		found = true
		return cbor.Unmarshal(raw, &opt)
	})
	return opt, found, err
}

func (s *DiskStore) SetDCOption(opt DCOption) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		raw, err := cbor.Marshal(opt)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketDCOptions).Put(dcOptionKey(opt.DCID), raw)
	})
	if err == nil {
		s.markDirty()
	}
	return err
}

func peerKey(id peer.Id) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(id))
	return b[:]
}

func (s *DiskStore) PeerInfo(id peer.Id) (peer.CacheEntry, bool, error) {
	var entry peer.CacheEntry
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketPeerCache).Get(peerKey(id))
		if raw == nil {
			return nil
		}
		found = true
		return cbor.Unmarshal(raw, &entry)
	})
	return entry, found, err
}

func (s *DiskStore) SetPeerInfo(id peer.Id, entry peer.CacheEntry) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		raw, err := cbor.Marshal(entry)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketPeerCache).Put(peerKey(id), raw)
	})
	if err == nil {
		s.markDirty()
	}
	return err
}

// flatUpdateState is update_state's on-disk shape: the four scalar counters,
// stored separately from channel_state's per-channel map.
type flatUpdateState struct {
	Pts, Qts, Date, Seq int32
}

func (s *DiskStore) UpdateState() (UpdateState, error) {
	st := UpdateState{Channels: make(map[int64]int32)}
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketUpdateState).Get([]byte(keyUpdateState))
		if raw != nil {
			var flat flatUpdateState
			if err := cbor.Unmarshal(raw, &flat); err != nil {
				return err
			}
			st.Pts, st.Qts, st.Date, st.Seq = flat.Pts, flat.Qts, flat.Date, flat.Seq
		}
		return tx.Bucket(bucketChannelState).ForEach(func(k, v []byte) error {
			var pts int32
			if err := cbor.Unmarshal(v, &pts); err != nil {
				return err
			}
			st.Channels[int64(binary.BigEndian.Uint64(k))] = pts
			return nil
		})
	})
	return st, err
}

// SetUpdateState persists the four scalar counters and upserts every
// channel's pts. Channels are never removed here: this module has no
// "leave channel" operation (out of scope per the high-level client
// surface's non-goals), so channel_state only grows.
func (s *DiskStore) SetUpdateState(st UpdateState) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		raw, err := cbor.Marshal(flatUpdateState{st.Pts, st.Qts, st.Date, st.Seq})
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketUpdateState).Put([]byte(keyUpdateState), raw); err != nil {
			return err
		}
		bucket := tx.Bucket(bucketChannelState)
		for id, pts := range st.Channels {
			raw, err := cbor.Marshal(pts)
			if err != nil {
				return err
			}
			var key [8]byte
			binary.BigEndian.PutUint64(key[:], uint64(id))
			if err := bucket.Put(key[:], raw); err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil {
		s.markDirty()
	}
	return err
}

// Close halts the background encryption worker (flushing a final time) if
// present, then closes the underlying bbolt file.
func (s *DiskStore) Close() error {
	if s.enc != nil {
		s.enc.Halt()
		s.enc.Wait()
	}
	return s.db.Close()
}
