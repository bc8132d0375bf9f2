// Package msgcache implements the message cache of spec.md §4.3: given a
// job-id, answer with protocol, destination port, host index, and age
// limit, backed by a persisted per-job message file evaluated through the
// MessageEvaluator contract.
package msgcache

import (
	"fmt"
	"sync"
	"time"
)

// Entry is one job-id's cached metadata (spec.md §3 "Message-cache entry").
type Entry struct {
	JobID              uint32
	Protocol           string
	DestinationPort    int
	HostIndex          int
	AgeLimit           time.Duration
	Type               string // "send" or "retrieve"
	LastTransferTime   time.Time
	StillInCurrentConfig bool
	DupCheck           bool // WITH_DUP_CHECK, see DESIGN.md Open Questions
}

// Cache maps job-id to Entry, with a single-entry last-lookup cache to
// optimize bursts of same-job messages (spec.md §4.2 step 3: "look up
// job-id (with a 1-entry cache since messages often cluster by job)").
type Cache struct {
	mu        sync.RWMutex
	entries   map[uint32]*Entry
	lastHit   *Entry
	lastJob   uint32
	evaluator MessageEvaluator

	// seen backs SeenRecently: fingerprint -> last time it was admitted,
	// the WITH_DUP_CHECK lookup (spec.md §9 Open Questions).
	seen map[string]time.Time
}

// New returns a Cache backed by the given evaluator.
func New(evaluator MessageEvaluator) *Cache {
	return &Cache{entries: make(map[uint32]*Entry), evaluator: evaluator, seen: make(map[string]time.Time)}
}

// Fingerprint builds the dup-check key for a message: same host, same file
// count, same total byte count within the dup-check window is treated as a
// resend of the same data rather than a distinct job.
func Fingerprint(hostIndex int, filesToSend, fileSizeToSend int64) string {
	return fmt.Sprintf("%d:%d:%d", hostIndex, filesToSend, fileSizeToSend)
}

// SeenRecently reports whether fingerprint was already admitted within
// window of now, and records jobID's fingerprint as seen either way. Only
// meaningful for entries with DupCheck set; callers gate on that flag
// themselves so non-dup-check jobs never pay for the bookkeeping.
func (c *Cache) SeenRecently(jobID uint32, fingerprint string, window time.Duration, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for fp, at := range c.seen {
		if now.Sub(at) > window {
			delete(c.seen, fp)
		}
	}
	last, ok := c.seen[fingerprint]
	c.seen[fingerprint] = now
	if !ok {
		return false
	}
	return now.Sub(last) <= window
}

// Lookup answers a job-id's metadata, reading and evaluating the job's
// message file on first sight, and destroying nothing until restart or
// explicit GC (spec.md §3 "Created/refreshed when a new job-id first
// appears; destroyed only at restart or explicit garbage-collect").
func (c *Cache) Lookup(jobID uint32) (*Entry, error) {
	c.mu.RLock()
	if c.lastHit != nil && c.lastJob == jobID {
		e := c.lastHit
		c.mu.RUnlock()
		return e, nil
	}
	if e, ok := c.entries[jobID]; ok {
		c.mu.RUnlock()
		c.mu.Lock()
		c.lastHit, c.lastJob = e, jobID
		c.mu.Unlock()
		return e, nil
	}
	c.mu.RUnlock()

	parsed, err := c.evaluator.Evaluate(jobID)
	if err != nil {
		return nil, err
	}
	e := &Entry{
		JobID:                jobID,
		Protocol:             parsed.Protocol,
		DestinationPort:      parsed.Port,
		HostIndex:            parsed.HostIndex,
		AgeLimit:             parsed.AgeLimit,
		Type:                 parsed.Type,
		StillInCurrentConfig: true,
		DupCheck:             parsed.DupCheck,
	}
	c.mu.Lock()
	c.entries[jobID] = e
	c.lastHit, c.lastJob = e, jobID
	c.mu.Unlock()
	return e, nil
}

// Invalidate removes jobID, used when the evaluator determines the job no
// longer exists in the live config (spec.md §4.3 "still-in-current-config").
func (c *Cache) Invalidate(jobID uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, jobID)
	if c.lastJob == jobID {
		c.lastHit = nil
	}
}

// Touch records that a transfer for jobID just completed, for
// LastTransferTime bookkeeping.
func (c *Cache) Touch(jobID uint32, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[jobID]; ok {
		e.LastTransferTime = at
	}
}

// Len returns the number of cached job-ids.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
