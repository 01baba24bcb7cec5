package util

import "sync/atomic"

// Sequencer hands out strictly increasing ids, starting after the seed value.
type Sequencer struct {
	next atomic.Uint64
}

func NewSequencer(start uint64) *Sequencer {
	s := &Sequencer{}
	s.next.Store(start)
	return s
}

// Next returns the next id.
func (s *Sequencer) Next() uint64 {
	return s.next.Add(1)
}

// Current returns the last id handed out (or the seed).
func (s *Sequencer) Current() uint64 {
	return s.next.Load()
}
