package session

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gram-proto/gram/peer"
)

func TestMemStore_RoundTrip(t *testing.T) {
	s := NewMemStore()

	require.NoError(t, s.SetHomeDC(2))
	dc, err := s.HomeDC()
	require.NoError(t, err)
	require.Equal(t, int32(2), dc)

	require.NoError(t, s.SetDCOption(DCOption{DCID: 2, IPv4: "1.2.3.4:443", AuthKey: []byte("k")}))
	opt, ok, err := s.DCOption(2)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1.2.3.4:443", opt.IPv4)

	_, ok, err = s.DCOption(4)
	require.NoError(t, err)
	require.False(t, ok)

	id := peer.User(555)
	require.NoError(t, s.SetPeerInfo(id, peer.CacheEntry{Auth: 999, Subtype: peer.SubtypeSelf}))
	entry, ok, err := s.PeerInfo(id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, peer.Auth(999), entry.Auth)

	require.NoError(t, s.SetUpdateState(UpdateState{Pts: 10, Qts: 2, Date: 99, Seq: 3, Channels: map[int64]int32{7: 1}}))
	st, err := s.UpdateState()
	require.NoError(t, err)
	require.Equal(t, int32(10), st.Pts)
	require.Equal(t, int32(1), st.Channels[7])

	require.NoError(t, s.Close())
}

func TestBoxPeerCache_MissOnAbsentEntry(t *testing.T) {
	s := NewMemStore()
	cache := BoxPeerCache{Store: s}
	_, ok := cache.PeerInfo(peer.Channel(1))
	require.False(t, ok)

	require.NoError(t, s.SetPeerInfo(peer.Channel(1), peer.CacheEntry{Auth: 42}))
	entry, ok := cache.PeerInfo(peer.Channel(1))
	require.True(t, ok)
	require.Equal(t, peer.Auth(42), entry.Auth)
}

func TestDiskStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gram.db")

	s, err := OpenDiskStore(path)
	require.NoError(t, err)
	require.NoError(t, s.SetHomeDC(5))
	require.NoError(t, s.SetDCOption(DCOption{DCID: 5, IPv4: "10.0.0.1:443"}))
	require.NoError(t, s.SetPeerInfo(peer.User(1), peer.CacheEntry{Auth: 7}))
	require.NoError(t, s.SetUpdateState(UpdateState{Pts: 3, Channels: map[int64]int32{9: 2}}))
	require.NoError(t, s.Close())

	reopened, err := OpenDiskStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	dc, err := reopened.HomeDC()
	require.NoError(t, err)
	require.Equal(t, int32(5), dc)

	opt, ok, err := reopened.DCOption(5)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "10.0.0.1:443", opt.IPv4)

	entry, ok, err := reopened.PeerInfo(peer.User(1))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, peer.Auth(7), entry.Auth)

	st, err := reopened.UpdateState()
	require.NoError(t, err)
	require.Equal(t, int32(3), st.Pts)
	require.Equal(t, int32(2), st.Channels[9])
}

func TestEncryptedDiskStore_RoundTripAndWrongPassphrase(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gram.db.enc")

	s, err := OpenEncryptedDiskStore(path, []byte("correct horse battery staple"))
	require.NoError(t, err)
	require.NoError(t, s.SetHomeDC(9))
	require.NoError(t, s.Close())

	reopened, err := OpenEncryptedDiskStore(path, []byte("correct horse battery staple"))
	require.NoError(t, err)
	dc, err := reopened.HomeDC()
	require.NoError(t, err)
	require.Equal(t, int32(9), dc)
	require.NoError(t, reopened.Close())

	_, err = OpenEncryptedFile(path, []byte("wrong passphrase"))
	require.ErrorIs(t, err, errWrongPassphrase)
}
