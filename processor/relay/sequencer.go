package relay

import (
	"sync/atomic"
)

// Sequencer hands out event sequence numbers 1, 2, 3, ... with no gaps or
// repeats, safely from any goroutine. It is never reset while the process
// lives.
type Sequencer struct {
	last atomic.Int64
}

// Next returns the next sequence number.
func (s *Sequencer) Next() int64 {
	return s.last.Add(1)
}

// Last returns the most recently issued number, 0 if none.
func (s *Sequencer) Last() int64 {
	return s.last.Load()
}

// Issue calls build with the next number and commits that number only if
// build succeeds. A failed build leaves the sequence untouched, so the
// next event still gets the number that was skipped.
func (s *Sequencer) Issue(build func(seq int64) error) (int64, error) {
	for {
		last := s.last.Load()
		if err := build(last + 1); err != nil {
			return 0, err
		}
		if s.last.CompareAndSwap(last, last+1) {
			return last + 1, nil
		}
	}
}
