package updates

import "errors"

// ErrGap is returned by ProcessUpdates when the incoming envelope is
// incoherent with local state — its seq skipped ahead of what was
// expected, or the server said the update stream is UpdatesTooLong. A pts
// that runs ahead is not reported this way: the update waits in its
// entry's gap queue, and VerifyDeadlines flags the entry once the queued
// item's deadline passes.
// It is not a failure of the call (no bytes were lost, nothing panicked);
// it is the caller's signal to drive GetDifference/GetChannelDifference on
// the next opportunity. Gap detection is a value, not an exception, and it
// is never surfaced to the caller of Invoke.
var ErrGap = errors.New("updates: gap detected, difference required")
