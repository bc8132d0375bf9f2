// Package burst implements the burst/keep-alive handoff protocol of
// spec.md §4.5: letting an idle worker accept a follow-up job without
// reconnecting.
//
// spec.md §9 flags the original's byte-offset-encoded unique_name state
// machine as "the hardest part to get right" and prescribes the fix:
// "Replace byte-offset encoding with an explicit enum stored as one byte in
// the slot, plus a sequence nonce second byte to detect stale transitions.
// Model-check the four-state protocol." That is exactly what State and
// Slot below do.
package burst

import (
	"fmt"
	"sync"
)

// State is the burst handshake's explicit enum, replacing the original's
// byte-offset encoding (spec.md §4.5 table).
type State uint8

const (
	// Idle: slot idle, worker waiting (original: byte0='\0', byte1=1).
	Idle State = iota
	// GaveUp: worker has given up, no more jobs (original: byte1='\0', byte2=4).
	GaveUp
	// Parked: worker parked, willing to accept next (original: byte2=5).
	Parked
	// ExitNow: supervisor asks worker to exit now (original: byte2=6).
	ExitNow
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case GaveUp:
		return "GaveUp"
	case Parked:
		return "Parked"
	case ExitNow:
		return "ExitNow"
	default:
		return fmt.Sprintf("State(%d)", s)
	}
}

// ErrStaleTransition is returned when a transition's expected sequence
// nonce does not match the slot's current one, meaning the caller observed
// a state that has since moved on (spec.md §9 "detect stale transitions").
type ErrStaleTransition struct {
	Expected, Actual uint32
}

func (e *ErrStaleTransition) Error() string {
	return fmt.Sprintf("burst: stale transition, expected sequence %d, slot is at %d", e.Expected, e.Actual)
}

// Slot is one job-status slot's burst handshake state, guarded by its own
// mutex so the supervisor and the worker's completion goroutine can each
// safely drive it. In the original, the supervisor and worker are separate
// OS processes communicating through shared memory; here a worker is
// represented in-process by whichever goroutine owns its os/exec child, so
// this mutex plays the role of the per-connection range lock spec.md §5
// requires ("the supervisor may only transition a slot from (2=5) to (2=6)
// while holding the per-host range-lock; the worker may only transition
// (2=5)→(2=4) while holding the same lock").
type Slot struct {
	mu       sync.Mutex
	state    State
	sequence uint32
}

// NewSlot returns a Slot in the Idle state.
func NewSlot() *Slot {
	return &Slot{state: Idle}
}

// Snapshot returns the current state and sequence nonce, for a caller about
// to attempt a transition.
func (s *Slot) Snapshot() (State, uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.sequence
}

// transition moves the slot from `from` to `to`, verifying the caller's
// observed sequence still matches (no lost-wakeup race, spec.md §8 P8) and
// bumping the sequence so any other in-flight transition attempt based on
// the old snapshot is rejected.
func (s *Slot) transition(expectSeq uint32, from, to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sequence != expectSeq {
		return &ErrStaleTransition{Expected: expectSeq, Actual: s.sequence}
	}
	if s.state != from {
		return fmt.Errorf("burst: cannot transition %s -> %s, slot is at %s", from, to, s.state)
	}
	s.state = to
	s.sequence++
	return nil
}

// WorkerParks is called by a worker that finished its current transfer but
// is willing to accept another (spec.md §4.5 "worker ... sets bytes
// {1='\0', 2=4}" — modeled here as Idle -> Parked, since "willing to accept
// next" is what Parked represents in this state machine).
func (s *Slot) WorkerParks(seq uint32) error {
	return s.transition(seq, Idle, Parked)
}

// SupervisorHandsOffJob is called by the supervisor when it found a
// matching pending job for a parked worker: it writes the new job's
// msg_name into the slot (caller's responsibility, outside this type) and
// wakes the worker, which the state machine models as returning to Idle so
// the worker can park again after the new job.
func (s *Slot) SupervisorHandsOffJob(seq uint32) error {
	return s.transition(seq, Parked, Idle)
}

// SupervisorRequestsExit is called by the supervisor when no matching job
// was found for a parked worker: it moves the slot to ExitNow (the
// original's byte2=6) rather than back to Idle, and the supervisor then
// soft-kills the worker. It may only be issued while a worker is Parked.
func (s *Slot) SupervisorRequestsExit(seq uint32) error {
	return s.transition(seq, Parked, ExitNow)
}

// WorkerAcknowledgesExit is the worker's corresponding transition,
// completing the handshake spec.md §5 describes: "A worker never observes
// its own unique_name[2] = 6 before acknowledging =5" — i.e. the worker
// must have been the one to set Parked before it can observe ExitNow and
// finally give up.
func (s *Slot) WorkerAcknowledgesExit(seq uint32) error {
	return s.transition(seq, ExitNow, GaveUp)
}

// WorkerGivesUp is the worker's own decision to stop waiting (e.g. on
// keep-alive timeout) without a supervisor-issued exit request.
func (s *Slot) WorkerGivesUp(seq uint32) error {
	return s.transition(seq, Parked, GaveUp)
}

// Reset returns the slot to Idle unconditionally, used once a worker
// process has actually been reaped (spec.md §4.2 step 1) and its slot is
// being recycled for the next worker.
func (s *Slot) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Idle
	s.sequence++
}
