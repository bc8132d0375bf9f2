package burst

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHappyPathParkHandoff(t *testing.T) {
	s := NewSlot()
	_, seq := s.Snapshot()
	require.NoError(t, s.WorkerParks(seq))

	state, seq := s.Snapshot()
	assert.Equal(t, Parked, state)

	require.NoError(t, s.SupervisorHandsOffJob(seq))
	state, _ = s.Snapshot()
	assert.Equal(t, Idle, state)
}

func TestExitHandshakeRequiresParkedFirst(t *testing.T) {
	s := NewSlot()
	_, seq := s.Snapshot()
	// Supervisor cannot ask a never-parked worker to exit.
	err := s.SupervisorRequestsExit(seq)
	assert.Error(t, err)

	require.NoError(t, s.WorkerParks(seq))
	_, seq = s.Snapshot()
	require.NoError(t, s.SupervisorRequestsExit(seq))

	state, seq := s.Snapshot()
	assert.Equal(t, ExitNow, state)

	// Worker must acknowledge =5 before observing/acting on =6: it can only
	// do so from ExitNow, which it can only have reached via Parked.
	require.NoError(t, s.WorkerAcknowledgesExit(seq))
	state, _ = s.Snapshot()
	assert.Equal(t, GaveUp, state)
}

func TestStaleTransitionRejected(t *testing.T) {
	s := NewSlot()
	_, staleSeq := s.Snapshot()
	require.NoError(t, s.WorkerParks(staleSeq))

	// Someone still holding the old (pre-park) sequence tries to act on it.
	err := s.SupervisorHandsOffJob(staleSeq)
	assert.Error(t, err, "supervisor must not use the new seq to double-fire WorkerParks's caller snapshot")

	var stale *ErrStaleTransition
	require.ErrorAs(t, err, &stale)
}

// TestNoLostWakeupRace is a targeted concurrency check of spec.md §8 P8: no
// interleaving of supervisor and worker transitions can leave the slot in
// Parked with the supervisor believing it already moved the slot on.
func TestNoLostWakeupRace(t *testing.T) {
	for i := 0; i < 200; i++ {
		s := NewSlot()
		_, seq := s.Snapshot()
		require.NoError(t, s.WorkerParks(seq))
		_, seq = s.Snapshot()

		var wg sync.WaitGroup
		var supervisorErr, workerErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			supervisorErr = s.SupervisorRequestsExit(seq)
		}()
		go func() {
			defer wg.Done()
			workerErr = s.WorkerGivesUp(seq)
		}()
		wg.Wait()

		// Exactly one of the two racing transitions must win; the slot must
		// never end up silently in two minds about its own state.
		wins := 0
		if supervisorErr == nil {
			wins++
		}
		if workerErr == nil {
			wins++
		}
		assert.Equal(t, 1, wins, "exactly one of supervisor/worker transition must win the race")

		state, _ := s.Snapshot()
		assert.Contains(t, []State{ExitNow, GaveUp}, state)
	}
}
