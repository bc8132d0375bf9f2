package fdqueue

import (
	"sort"
	"sync"
)

// Queue is the dense, Key-sorted array of queue entries described in
// spec.md §4.1. Insertion uses binary search (sort.Search) and a single
// contiguous shift, exactly as the spec calls for; scans are O(N), which the
// spec notes is fine at the queue's expected scale (hundreds to low
// thousands of entries).
//
// All mutating methods are safe for concurrent use: the supervisor loop
// (internal/fdsupervisor) is the only writer in steady state, but workers'
// completion callbacks and control-channel handlers run as separate
// goroutines in this Go translation of the single-threaded C select loop
// (see spec.md §9's guidance on encapsulating global mutable state as an
// owned service).
type Queue struct {
	mu      sync.Mutex
	entries []*Entry
}

// New returns an empty Queue.
func New() *Queue {
	return &Queue{}
}

// Len returns the number of entries currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Insert places e at the position its Key dictates, preserving the
// non-decreasing Key invariant (P1).
func (q *Queue) Insert(e *Entry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := sort.Search(len(q.entries), func(i int) bool {
		return e.Key.Less(q.entries[i].Key) || e.Key.Equal(q.entries[i].Key)
	})
	q.entries = append(q.entries, nil)
	copy(q.entries[i+1:], q.entries[i:])
	q.entries[i] = e
}

// Remove deletes the entry at index i.
func (q *Queue) Remove(i int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.removeLocked(i)
}

func (q *Queue) removeLocked(i int) {
	if i < 0 || i >= len(q.entries) {
		return
	}
	copy(q.entries[i:], q.entries[i+1:])
	q.entries[len(q.entries)-1] = nil
	q.entries = q.entries[:len(q.entries)-1]
}

// RemoveEntry removes e by identity, wherever it currently sits.
func (q *Queue) RemoveEntry(e *Entry) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, x := range q.entries {
		if x == e {
			q.removeLocked(i)
			return true
		}
	}
	return false
}

// Reinsert removes e then inserts it again, for use after its Key has
// changed (e.g. after Demote on retry) to restore the sorted invariant.
func (q *Queue) Reinsert(e *Entry) {
	q.RemoveEntry(e)
	q.Insert(e)
}

// FindByPid returns the entry whose Pid equals pid, or nil.
func (q *Queue) FindByPid(pid int) *Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.entries {
		if e.Pid == pid {
			return e
		}
	}
	return nil
}

// FindFirstPendingForHost returns the highest-priority PENDING entry
// targeting hostIndex, or nil if none.
func (q *Queue) FindFirstPendingForHost(hostIndex int) *Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.entries {
		if e.HostIndex == hostIndex && e.Pid == PIDPending {
			return e
		}
	}
	return nil
}

// ScanForHelperCandidate implements the burst-handoff lookup of spec.md
// §4.5: find a pending job matching the same {host, protocol, port} as the
// idle worker, for a worker that just parked willing to accept more work.
func (q *Queue) ScanForHelperCandidate(hostIndex int, protocol string, port int, protocolOf func(*Entry) (string, int)) *Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.entries {
		if e.HostIndex != hostIndex || e.Pid != PIDPending {
			continue
		}
		p, pt := protocolOf(e)
		if p == protocol && pt == port {
			return e
		}
	}
	return nil
}

// Snapshot returns a copy of the current ordered entries, for read-only
// inspection (metrics, tests) without holding the queue lock.
func (q *Queue) Snapshot() []*Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Entry, len(q.entries))
	copy(out, q.entries)
	return out
}

// CountPendingForHost implements spec.md §8 P4 (jobs_queued accounting).
func (q *Queue) CountPendingForHost(hostIndex int) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, e := range q.entries {
		if e.HostIndex == hostIndex && e.Pid == PIDPending {
			n++
		}
	}
	return n
}

// IsSorted reports whether the queue currently satisfies P1; exported for
// property tests.
func (q *Queue) IsSorted() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := 1; i < len(q.entries); i++ {
		if q.entries[i].Key.Less(q.entries[i-1].Key) {
			return false
		}
	}
	return true
}
