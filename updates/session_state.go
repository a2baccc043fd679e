package updates

// SessionState is the snapshot Box hands to the session store's persistence
// hook and restores from on startup.
type SessionState struct {
	Pts      int32
	Qts      int32
	Date     int32
	Seq      int32
	Channels map[int64]int32
}

// SessionState snapshots the box's current counters. Gap queues and
// getting_diff_for flags are deliberately not persisted: on restart, a
// fresh deadline window reopens for every entry and any genuine gap will
// be rediscovered the next time an update arrives.
func (b *Box) SessionState() SessionState {
	b.mu.Lock()
	defer b.mu.Unlock()
	channels := make(map[int64]int32, len(b.channels))
	for id, st := range b.channels {
		channels[id] = st.pts
	}
	return SessionState{Pts: b.common.pts, Qts: b.secondary.pts, Date: b.date, Seq: b.seq, Channels: channels}
}

// Load restores a previously snapshotted state, replacing whatever this
// Box currently holds.
func (b *Box) Load(s SessionState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.common.pts = s.Pts
	b.secondary.pts = s.Qts
	b.date = s.Date
	b.seq = s.Seq
	b.channels = make(map[int64]*state, len(s.Channels))
	for id, pts := range s.Channels {
		b.channels[id] = &state{pts: pts}
	}
	b.possibleGaps = make(map[Entry][]pendingUpdate)
	b.gettingDiffFor = make(map[Entry]bool)
}
