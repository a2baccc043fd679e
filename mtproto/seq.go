package mtproto

import "sync"

// seqAllocator implements the seq_no rule: a content-bearing message gets
// 2n+1 where n is the count of content-bearing messages sent so far (and n
// is then incremented); a pure service message gets 2n without bumping the
// counter.
type seqAllocator struct {
	mu sync.Mutex
	n  int32
}

func (s *seqAllocator) Next(contentRelated bool) int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := 2 * s.n
	if contentRelated {
		seq++
		s.n++
	}
	return seq
}
