package updates

import (
	"sort"
	"sync"
	"time"

	"github.com/gram-proto/gram/metrics"
	"github.com/gram-proto/gram/peer"
)

// Box is the update reconciliation engine: it owns per-entry pts state, the
// short-deadline gap queue each entry keeps while local state briefly lags
// the server, and the bookkeeping ("getting_diff_for") that decides when an
// upper layer must drive a (channel) difference request. Box is
// single-writer: callers must not invoke ProcessUpdates concurrently on the
// same Box. The mutex here guards against accidental concurrent misuse
// rather than enabling it.
type Box struct {
	mu sync.Mutex

	isBot bool

	common    state
	secondary state // qts
	date      int32
	seq       int32

	channels map[int64]*state

	possibleGaps   map[Entry][]pendingUpdate
	gettingDiffFor map[Entry]bool
}

// NewBox returns an empty Box. isBot widens the channel-difference batch
// size, since bot accounts are allowed a larger limit.
func NewBox(isBot bool) *Box {
	return &Box{
		isBot:          isBot,
		channels:       make(map[int64]*state),
		possibleGaps:   make(map[Entry][]pendingUpdate),
		gettingDiffFor: make(map[Entry]bool),
	}
}

// Result is what ProcessUpdates hands the caller on success: updates safe
// to deliver in order, plus whatever user/chat references accompanied them
// (resolving those against the peer cache is the caller's job).
type Result struct {
	Updates []Update
	Users   []int64
	Chats   []int64
}

func (b *Box) stateFor(e Entry) *state {
	switch e.Kind {
	case KindCommon:
		return &b.common
	case KindSecondary:
		return &b.secondary
	default:
		st, ok := b.channels[e.ChannelID]
		if !ok {
			st = &state{}
			b.channels[e.ChannelID] = st
		}
		return st
	}
}

// ProcessUpdates applies one normalized envelope's worth of updates. On a
// seq gap or an updatesTooLong envelope it returns ErrGap and applies
// nothing from this envelope; the caller should call GetDifference on its
// next opportunity. An update whose pts runs ahead of local state is
// queued in its entry's gap queue instead, without an error. peerCache is accepted for symmetry with GetChannelDifference
// (a future envelope shape might need it to resolve a forwarded peer) but
// is unused by the current gate logic.
func (b *Box) ProcessUpdates(env Envelope, peerCache PeerCache) (*Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if env.TooLong {
		b.gettingDiffFor[env.TooLongEntry] = true
		metrics.GapDetected(entryLabel(env.TooLongEntry))
		return nil, ErrGap
	}

	if env.SeqStart != 0 {
		switch {
		case env.SeqStart == b.seq+1:
			// in order, proceed below
		case env.SeqStart > b.seq+1:
			b.gettingDiffFor[Common] = true
			metrics.GapDetected(entryLabel(Common))
			return nil, ErrGap
		default:
			// env.SeqStart <= b.seq: duplicate, already applied.
			return &Result{}, nil
		}
	}

	var emitted []Update
	for _, u := range env.Updates {
		if tooLong, ok := u.(UpdateChannelTooLong); ok {
			// The channel-scoped twin of UpdatesTooLong: there is nothing
			// to gate, the channel needs a difference fetch outright.
			entry := Channel(tooLong.ChannelID)
			b.gettingDiffFor[entry] = true
			metrics.GapDetected(entryLabel(entry))
			continue
		}
		info, hasPts := u.PtsInfo()
		if !hasPts {
			emitted = append(emitted, u)
			continue
		}
		applied, keep := b.gateOne(u, info, time.Now())
		if applied != nil {
			emitted = append(emitted, applied)
		}
		if keep != nil {
			b.possibleGaps[info.Entry] = append(b.possibleGaps[info.Entry], *keep)
			metrics.GapDetected(entryLabel(info.Entry))
		}
	}

	emitted = append(emitted, b.drainSettledGaps()...)

	if env.SeqStart != 0 {
		b.seq = env.Seq
	}
	if env.Date != 0 {
		b.date = env.Date
	}

	return &Result{Updates: emitted, Users: env.Users, Chats: env.Chats}, nil
}

// gateOne applies the per-update pts gate against entry's current
// state. It returns the update to emit (or nil if it was a duplicate or
// queued), and a pendingUpdate to enqueue if the update raced ahead of
// local state.
func (b *Box) gateOne(u Update, info PtsInfo, now time.Time) (applied Update, queued *pendingUpdate) {
	st := b.stateFor(info.Entry)
	st.deadline = now.Add(entryDeadline)
	switch local := st.pts; {
	case local+info.PtsCount == info.Pts:
		st.pts = info.Pts
		return u, nil
	case local+info.PtsCount > info.Pts:
		return nil, nil
	default:
		return nil, &pendingUpdate{update: u, info: info, deadline: now.Add(gapDeadline)}
	}
}

// drainSettledGaps re-sorts each entry's gap queue by (pts - pts_count)
// ascending and re-feeds it through the gate. It repeats to a fixed point:
// closing one hole can make the next queued item in the same entry
// immediately eligible.
func (b *Box) drainSettledGaps() []Update {
	var emitted []Update
	for {
		progressed := false
		for entry, queue := range b.possibleGaps {
			if len(queue) == 0 {
				continue
			}
			sort.Slice(queue, func(i, j int) bool {
				return queue[i].info.Pts-queue[i].info.PtsCount < queue[j].info.Pts-queue[j].info.PtsCount
			})
			var remaining []pendingUpdate
			for _, pu := range queue {
				st := b.stateFor(entry)
				switch local := st.pts; {
				case local+pu.info.PtsCount == pu.info.Pts:
					st.pts = pu.info.Pts
					emitted = append(emitted, pu.update)
					progressed = true
				case local+pu.info.PtsCount > pu.info.Pts:
					// became a duplicate while queued (e.g. a difference
					// fetch already caught state up past it); drop it.
					progressed = true
				default:
					remaining = append(remaining, pu)
				}
			}
			b.possibleGaps[entry] = remaining
		}
		if !progressed {
			break
		}
	}
	return emitted
}

// GetDifference reports whether Common needs a difference request and, if
// so, builds it from current state.
func (b *Box) GetDifference() (*DifferenceRequest, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.gettingDiffFor[Common] {
		return nil, false
	}
	metrics.DifferenceFetched(entryLabel(Common))
	return &DifferenceRequest{Pts: b.common.pts, Qts: b.secondary.pts, Date: b.date}, true
}

// ApplyDifference merges a full get_difference response: Common and
// Secondary both land on the server's authoritative pts/qts, the global
// clock advances, Common's gap queue is replayed against the new baseline
// (anything still queued will now be a duplicate and is dropped), and
// Common is cleared from getting_diff_for.
func (b *Box) ApplyDifference(d Difference) []Update {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.common.pts = d.Pts
	b.secondary.pts = d.Qts
	b.date = d.Date
	b.seq = d.Seq
	delete(b.gettingDiffFor, Common)
	settled := b.drainSettledGaps()
	out := make([]Update, 0, len(d.NewMessages)+len(d.OtherUpdates)+len(settled))
	out = append(out, d.NewMessages...)
	out = append(out, d.OtherUpdates...)
	out = append(out, settled...)
	return out
}

// ApplyDifferenceSlice merges a partial response: state advances but
// Common stays flagged so the caller issues another GetDifference.
func (b *Box) ApplyDifferenceSlice(d DifferenceSlice) []Update {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.common.pts = d.Pts
	b.secondary.pts = d.Qts
	b.date = d.Date
	settled := b.drainSettledGaps()
	out := make([]Update, 0, len(d.NewMessages)+len(d.OtherUpdates)+len(settled))
	out = append(out, d.NewMessages...)
	out = append(out, d.OtherUpdates...)
	out = append(out, settled...)
	return out
}

// ApplyDifferenceEmpty advances only the clock; pts is untouched since
// nothing changed.
func (b *Box) ApplyDifferenceEmpty(d DifferenceEmpty) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.date = d.Date
	b.seq = d.Seq
	delete(b.gettingDiffFor, Common)
}

// ApplyDifferenceTooLong accepts the server's pts unconditionally as a
// fresh baseline and drops everything queued for Common — there is no
// longer any basis to reconcile those updates against.
func (b *Box) ApplyDifferenceTooLong(d DifferenceTooLong) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.common.pts = d.Pts
	delete(b.possibleGaps, Common)
	delete(b.gettingDiffFor, Common)
}

// GetChannelDifference reports whether entry (a Channel key) needs a
// difference request. It needs peerCache to resolve the channel's access
// hash; if the channel isn't in cache, tracking for it is purged entirely
// so a future update can re-seed it from scratch.
func (b *Box) GetChannelDifference(entry Entry, peerCache PeerCache) (*ChannelDifferenceRequest, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if entry.Kind != KindChannel || !b.gettingDiffFor[entry] {
		return nil, false
	}

	limit := int32(channelDiffLimitUser)
	if b.isBot {
		limit = channelDiffLimitBot
	}

	cached, ok := peerCache.PeerInfo(peer.Channel(entry.ChannelID))
	if !ok {
		delete(b.channels, entry.ChannelID)
		delete(b.possibleGaps, entry)
		delete(b.gettingDiffFor, entry)
		return nil, false
	}

	st := b.stateFor(entry)
	metrics.DifferenceFetched(entryLabel(entry))
	return &ChannelDifferenceRequest{
		ChannelID: entry.ChannelID, AccessHash: int64(cached.Auth), Pts: st.pts, Limit: limit,
	}, true
}

func entryLabel(e Entry) string {
	switch e.Kind {
	case KindCommon:
		return "common"
	case KindSecondary:
		return "secondary"
	default:
		return "channel"
	}
}

// ApplyChannelDifference merges a full channel-difference response.
func (b *Box) ApplyChannelDifference(entry Entry, d ChannelDifference) []Update {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.stateFor(entry)
	st.pts = d.Pts
	delete(b.gettingDiffFor, entry)
	settled := b.drainSettledGaps()
	out := make([]Update, 0, len(d.NewMessages)+len(d.OtherUpdates)+len(settled))
	out = append(out, d.NewMessages...)
	out = append(out, d.OtherUpdates...)
	out = append(out, settled...)
	return out
}

// ApplyChannelDifferenceSlice merges a partial response; entry stays
// flagged.
func (b *Box) ApplyChannelDifferenceSlice(entry Entry, d ChannelDifferenceSlice) []Update {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.stateFor(entry)
	st.pts = d.Pts
	settled := b.drainSettledGaps()
	out := make([]Update, 0, len(d.NewMessages)+len(d.OtherUpdates)+len(settled))
	out = append(out, d.NewMessages...)
	out = append(out, d.OtherUpdates...)
	out = append(out, settled...)
	return out
}

// ApplyChannelDifferenceEmpty clears the flag with no state change beyond
// the echoed pts.
func (b *Box) ApplyChannelDifferenceEmpty(entry Entry, d ChannelDifferenceEmpty) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stateFor(entry).pts = d.Pts
	delete(b.gettingDiffFor, entry)
}

// ApplyChannelDifferenceTooLong accepts the new pts baseline and discards
// the channel's gap queue; the "latest messages" payload a real server
// attaches here is intentionally not surfaced (see
// ChannelDifferenceTooLong's doc comment).
func (b *Box) ApplyChannelDifferenceTooLong(entry Entry, d ChannelDifferenceTooLong) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stateFor(entry).pts = d.Pts
	delete(b.possibleGaps, entry)
	delete(b.gettingDiffFor, entry)
}

// VerifyDeadlines promotes any entry whose no-updates-received window has
// expired, or whose gap queue has waited past its short deadline, into
// getting_diff_for, and returns the earliest deadline still upcoming across
// every tracked entry and gap — callers use this as their next wake-up
// time.
func (b *Box) VerifyDeadlines(now time.Time) time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()

	next := now.Add(entryDeadline)
	checkEntryDeadline := func(e Entry, st *state) {
		if st.deadline.IsZero() {
			st.deadline = now.Add(entryDeadline)
		}
		if !now.Before(st.deadline) {
			b.gettingDiffFor[e] = true
			st.deadline = now.Add(entryDeadline)
		}
		if st.deadline.Before(next) {
			next = st.deadline
		}
	}
	checkEntryDeadline(Common, &b.common)
	checkEntryDeadline(Secondary, &b.secondary)
	for id, st := range b.channels {
		checkEntryDeadline(Channel(id), st)
	}

	for entry, queue := range b.possibleGaps {
		for _, pu := range queue {
			if !now.Before(pu.deadline) {
				b.gettingDiffFor[entry] = true
			} else if pu.deadline.Before(next) {
				next = pu.deadline
			}
		}
	}

	return next
}
