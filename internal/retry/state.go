// Package retry implements the per-command attempt loop: deadlines,
// socket timeouts, split-retry triggers for batches, and in-doubt
// labeling of writes that may have been retransmitted.
package retry

import "time"

// State is the mutable per-command state the driver threads through
// attempts: iteration, commandSentCounter, deadline, socketTimeout,
// totalTimeout, and the AP/SC sequence counters.
type State struct {
	Iteration          int
	CommandSentCounter int
	Deadline           time.Time
	SocketTimeout      time.Duration
	TotalTimeout       time.Duration
	SequenceAP         int
	SequenceSC         int
}

// NewState seeds a fresh per-command state from the policy's timeouts.
// now is the attempt clock origin, threaded in so tests don't depend on
// wall-clock time.
func NewState(now time.Time, totalTimeout, socketTimeout time.Duration) *State {
	s := &State{TotalTimeout: totalTimeout, SocketTimeout: socketTimeout}
	if totalTimeout > 0 {
		s.Deadline = now.Add(totalTimeout)
	}
	return s
}

// RemainingTime returns how much total time is left before Deadline, or a
// very large duration if there is no deadline (TotalTimeout == 0).
func (s *State) RemainingTime(now time.Time) time.Duration {
	if s.TotalTimeout == 0 {
		return time.Hour * 24 * 365
	}
	return s.Deadline.Sub(now)
}

// EffectiveSocketTimeout shortens SocketTimeout to the remaining total
// time when that is tighter: min(socketTimeout, remaining total time).
func (s *State) EffectiveSocketTimeout(now time.Time) time.Duration {
	remaining := s.RemainingTime(now)
	if s.SocketTimeout == 0 || (s.TotalTimeout != 0 && remaining < s.SocketTimeout) {
		if remaining < 0 {
			return 0
		}
		return remaining
	}
	return s.SocketTimeout
}

// CanRetry reports the admission rule: continue while
// iteration <= maxRetries AND remaining time - sleepBetweenRetries > 0.
func (s *State) CanRetry(now time.Time, maxRetries int, sleepBetweenRetries time.Duration) bool {
	if s.Iteration > maxRetries {
		return false
	}
	if s.TotalTimeout == 0 {
		return true
	}
	return s.RemainingTime(now)-sleepBetweenRetries > 0
}

// MarkSent increments commandSentCounter, called after a write completes.
// commandSentCounter is strictly monotone within one command.
func (s *State) MarkSent() { s.CommandSentCounter++ }

// InDoubt classifies a write as in-doubt iff it is a write and it was
// transmitted more than once.
func (s *State) InDoubt(isWrite bool) bool {
	return isWrite && s.CommandSentCounter > 1
}

// PrepareRetry advances the appropriate sequence counter ahead of the
// next attempt: SC reads advance sequenceSC unless the failure was a
// timeout under LINEARIZE; every other case advances sequenceAP.
// linearizeTimeout lets the caller signal that specific exception.
func (s *State) PrepareRetry(isSCRead bool, linearizeTimeout bool) {
	s.Iteration++
	if isSCRead && !linearizeTimeout {
		s.SequenceSC++
		return
	}
	s.SequenceAP++
}
