package updates

import "time"

// entryDeadline is how long an entry may go without any update before
// VerifyDeadlines promotes it into gettingDiffFor.
const entryDeadline = 15 * time.Minute

// gapDeadline is how long a possible-gap item waits for the hole to close
// before its entry is promoted into gettingDiffFor.
const gapDeadline = 500 * time.Millisecond

// state is the per-entry {pts, deadline} pair.
type state struct {
	pts      int32
	deadline time.Time
}

// pendingUpdate is one update sitting in an entry's possible-gap queue: the
// box doesn't yet know whether it's a real gap or just reordering, so it
// keeps the update and the moment its deadline opened.
type pendingUpdate struct {
	update   Update
	info     PtsInfo
	deadline time.Time
}
