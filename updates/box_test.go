package updates

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gram-proto/gram/peer"
)

type fakePeerCache struct {
	entries map[peer.Id]peer.CacheEntry
}

func (f fakePeerCache) PeerInfo(id peer.Id) (peer.CacheEntry, bool) {
	e, ok := f.entries[id]
	return e, ok
}

// gapEnvelope builds a no-seq-gate envelope wrapping a single update,
// mirroring what Normalize produces for an UpdateShort-shaped wire value.
func gapEnvelope(u Update) Envelope {
	return Envelope{Updates: []Update{u}}
}

func TestProcessUpdates_GapDetectionAndRecovery(t *testing.T) {
	box := NewBox(false)
	box.common.pts = 100

	u := UpdateNewMessage{Pts: 105, PtsCount: 1, MsgID: 42}
	res, err := box.ProcessUpdates(gapEnvelope(u), fakePeerCache{})
	require.NoError(t, err)
	require.Empty(t, res.Updates, "update must not be emitted while its pts is ahead of local state")
	require.Len(t, box.possibleGaps[Common], 1)

	// The deadline hasn't passed yet: no difference should be requested.
	_, ok := box.GetDifference()
	require.False(t, ok)

	box.VerifyDeadlines(time.Now().Add(2 * gapDeadline))
	req, ok := box.GetDifference()
	require.True(t, ok)
	require.Equal(t, int32(100), req.Pts)

	emitted := box.ApplyDifferenceSlice(DifferenceSlice{Pts: 105, Qts: 0, Date: 1})
	// The queued update is now a duplicate of the state the slice already
	// established (pts caught up to exactly 105), so it must not reappear.
	for _, e := range emitted {
		require.NotEqual(t, u, e)
	}
	require.Equal(t, int32(105), box.common.pts)
	require.Empty(t, box.possibleGaps[Common])
}

func TestProcessUpdates_DuplicatePtsDropped(t *testing.T) {
	box := NewBox(false)
	box.common.pts = 100

	u := UpdateNewMessage{Pts: 100, PtsCount: 1, MsgID: 1}
	res, err := box.ProcessUpdates(gapEnvelope(u), fakePeerCache{})
	require.NoError(t, err)
	require.Empty(t, res.Updates, "pts <= local must never be emitted")
	require.Equal(t, int32(100), box.common.pts)
}

func TestProcessUpdates_InOrderApplies(t *testing.T) {
	box := NewBox(false)
	box.common.pts = 100

	u := UpdateNewMessage{Pts: 101, PtsCount: 1, MsgID: 1}
	res, err := box.ProcessUpdates(gapEnvelope(u), fakePeerCache{})
	require.NoError(t, err)
	require.Len(t, res.Updates, 1)
	require.Equal(t, int32(101), box.common.pts)
}

func TestProcessUpdates_SeqGate(t *testing.T) {
	box := NewBox(false)
	box.seq = 5

	// Equal to local+1: applies.
	env := Envelope{SeqStart: 6, Seq: 6, Date: 10}
	_, err := box.ProcessUpdates(env, fakePeerCache{})
	require.NoError(t, err)
	require.Equal(t, int32(6), box.seq)

	// Less than local+1: duplicate, dropped silently.
	dup := Envelope{SeqStart: 3, Seq: 3, Date: 10}
	res, err := box.ProcessUpdates(dup, fakePeerCache{})
	require.NoError(t, err)
	require.Empty(t, res.Updates)
	require.Equal(t, int32(6), box.seq, "a duplicate seq must not move state backward")

	// Greater than local+1: a gap.
	gap := Envelope{SeqStart: 9, Seq: 9, Date: 10}
	_, err = box.ProcessUpdates(gap, fakePeerCache{})
	require.True(t, errors.Is(err, ErrGap))
	require.True(t, box.gettingDiffFor[Common])
}

func TestProcessUpdates_UpdatesTooLong(t *testing.T) {
	box := NewBox(false)
	_, err := box.ProcessUpdates(Envelope{TooLong: true, TooLongEntry: Common}, fakePeerCache{})
	require.True(t, errors.Is(err, ErrGap))
	req, ok := box.GetDifference()
	require.True(t, ok)
	require.Equal(t, int32(0), req.Pts)
}

func TestProcessUpdates_ChannelTooLongFlagsChannel(t *testing.T) {
	box := NewBox(false)
	box.channels[777] = &state{pts: 40}

	env := gapEnvelope(UpdateChannelTooLong{ChannelID: 777, Pts: 90})
	res, err := box.ProcessUpdates(env, fakePeerCache{})
	require.NoError(t, err)
	require.Empty(t, res.Updates, "a too-long marker is a recovery signal, not a deliverable update")
	require.True(t, box.gettingDiffFor[Channel(777)])

	cache := fakePeerCache{entries: map[peer.Id]peer.CacheEntry{
		peer.Channel(777): {Auth: 1},
	}}
	req, ok := box.GetChannelDifference(Channel(777), cache)
	require.True(t, ok)
	require.Equal(t, int32(40), req.Pts)
}

func TestChannelDifference_PurgesUntrackedChannel(t *testing.T) {
	box := NewBox(false)
	entry := Channel(555)
	box.gettingDiffFor[entry] = true

	_, ok := box.GetChannelDifference(entry, fakePeerCache{entries: map[peer.Id]peer.CacheEntry{}})
	require.False(t, ok)
	require.False(t, box.gettingDiffFor[entry], "purged entries must not remain flagged")
}

func TestChannelDifference_ResolvesAccessHash(t *testing.T) {
	box := NewBox(false)
	entry := Channel(555)
	box.gettingDiffFor[entry] = true
	box.channels[555] = &state{pts: 10}

	cache := fakePeerCache{entries: map[peer.Id]peer.CacheEntry{
		peer.Channel(555): {Auth: 999},
	}}
	req, ok := box.GetChannelDifference(entry, cache)
	require.True(t, ok)
	require.Equal(t, int64(999), req.AccessHash)
	require.Equal(t, int32(10), req.Pts)
	require.Equal(t, int32(channelDiffLimitUser), req.Limit)
}

func TestChannelDifference_BotBatchLimit(t *testing.T) {
	box := NewBox(true)
	entry := Channel(1)
	box.gettingDiffFor[entry] = true
	cache := fakePeerCache{entries: map[peer.Id]peer.CacheEntry{peer.Channel(1): {}}}
	req, ok := box.GetChannelDifference(entry, cache)
	require.True(t, ok)
	require.Equal(t, int32(channelDiffLimitBot), req.Limit)
}

func TestSessionState_RoundTrip(t *testing.T) {
	box := NewBox(false)
	box.common.pts = 50
	box.secondary.pts = 7
	box.date = 123
	box.seq = 9
	box.channels[10] = &state{pts: 3}

	snap := box.SessionState()

	fresh := NewBox(false)
	fresh.Load(snap)
	require.Equal(t, int32(50), fresh.common.pts)
	require.Equal(t, int32(7), fresh.secondary.pts)
	require.Equal(t, int32(9), fresh.seq)
	require.Equal(t, int32(3), fresh.channels[10].pts)
}
