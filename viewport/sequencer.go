// Package viewport owns the ID-first fetch strategy: one coordinator per
// view that reacts to viewport changes, diffs identity lists against the
// cache, fetches only what is missing and hands merged results to the
// presentation boundary. Stale async results never mutate state: every
// dispatch carries a sequence number checked on completion.
package viewport

import "sync/atomic"

// Sequencer issues monotonically increasing sequence numbers for one logical
// request stream. Only the holder of the latest number may mutate shared
// state when its result arrives.
type Sequencer struct {
	latest atomic.Uint64
}

// Next reserves and returns a new, highest sequence number.
func (s *Sequencer) Next() uint64 {
	return s.latest.Add(1)
}

// Latest returns the most recently issued sequence number.
func (s *Sequencer) Latest() uint64 {
	return s.latest.Load()
}

// IsCurrent reports whether seq is still the latest issue. A false result
// means the request was superseded and its result must be discarded.
func (s *Sequencer) IsCurrent(seq uint64) bool {
	return s.latest.Load() == seq
}
