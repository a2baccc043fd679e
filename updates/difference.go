package updates

// DifferenceRequest is what GetDifference returns when the Common entry is
// flagged for recovery: everything the server needs to compute what the
// client missed.
type DifferenceRequest struct {
	Pts  int32
	Qts  int32
	Date int32
}

// Difference is a full (non-sliced) get_difference response: the server
// has caught the client up completely.
type Difference struct {
	NewMessages []Update
	OtherUpdates []Update
	Pts          int32
	Qts          int32
	Date         int32
	Seq          int32
}

// DifferenceSlice is a partial get_difference response: progress was made,
// but the entry must remain flagged and another request issued.
type DifferenceSlice struct {
	NewMessages  []Update
	OtherUpdates []Update
	Pts          int32
	Qts          int32
	Date         int32
	// Seq is intentionally absent: an intermediate state carries no seq,
	// only the final Difference does.
}

// DifferenceEmpty means nothing changed since the requested pts; only the
// clock advances.
type DifferenceEmpty struct {
	Date int32
	Seq  int32
}

// DifferenceTooLong means the gap is too large for the server to diff
// incrementally; the client must accept the given pts as a fresh baseline,
// discarding everything it thought it knew about missed updates.
type DifferenceTooLong struct {
	Pts int32
}

// ChannelDifferenceRequest is the per-channel analog of DifferenceRequest.
type ChannelDifferenceRequest struct {
	ChannelID int64
	AccessHash int64
	Pts        int32
	Limit      int32
}

// channelDiffLimitUser and channelDiffLimitBot are the two batch sizes:
// bot accounts are allowed to pull a much larger slice per
// channel-difference round trip.
const (
	channelDiffLimitUser = 100
	channelDiffLimitBot  = 100000
)

// ChannelDifference is a full channel difference response.
type ChannelDifference struct {
	NewMessages []Update
	OtherUpdates []Update
	Pts          int32
}

// ChannelDifferenceSlice is a partial channel difference response.
type ChannelDifferenceSlice struct {
	NewMessages  []Update
	OtherUpdates []Update
	Pts          int32
}

// ChannelDifferenceEmpty means nothing changed since the requested pts.
type ChannelDifferenceEmpty struct {
	Pts int32
}

// ChannelDifferenceTooLong means the channel gap is too large to diff
// incrementally. Even though the real payload carries a batch of latest
// messages to help the client re-seed its view, this implementation does
// not surface them — only the new pts baseline is kept, trading
// completeness for simplicity.
type ChannelDifferenceTooLong struct {
	Pts int32
}
