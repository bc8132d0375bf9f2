package fdqueue

import (
	"sync"
	"time"
)

// ErrorQueueEntry is one job-id's back-off bookkeeping (spec.md §3
// "Error-queue").
type ErrorQueueEntry struct {
	JobID     uint32
	FirstSeen time.Time
	NextRetry time.Time
}

// ErrorQueue maps job-id to its back-off schedule. WITH_ERROR_QUEUE is
// treated as an always-on, first-class feature per spec.md §9's Open
// Questions resolution (see DESIGN.md), not a conditional compile flag.
type ErrorQueue struct {
	mu      sync.Mutex
	entries map[uint32]*ErrorQueueEntry
}

// NewErrorQueue returns an empty ErrorQueue.
func NewErrorQueue() *ErrorQueue {
	return &ErrorQueue{entries: make(map[uint32]*ErrorQueueEntry)}
}

// Insert adds jobID with the given retry interval, implementing spec.md
// §4.6 "add to error-queue with now + retry_interval" and §8 scenario 3.
func (q *ErrorQueue) Insert(jobID uint32, now time.Time, retryInterval time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[jobID]
	if !ok {
		e = &ErrorQueueEntry{JobID: jobID, FirstSeen: now}
		q.entries[jobID] = e
	}
	e.NextRetry = now.Add(retryInterval)
}

// Clear removes jobID from the error queue, implementing spec.md §4.6
// "remove from error-queue" on success.
func (q *ErrorQueue) Clear(jobID uint32) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.entries, jobID)
}

// ReadyToRetry reports whether jobID is either not in the error queue at
// all, or its back-off window has elapsed (spec.md §8 scenario 3: "the next
// start call before `next` elapses must not spawn a worker for that job-id
// even if capacity exists").
func (q *ErrorQueue) ReadyToRetry(jobID uint32, now time.Time) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[jobID]
	if !ok {
		return true
	}
	return !now.Before(e.NextRetry)
}

// Len returns the number of job-ids currently in back-off.
func (q *ErrorQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
