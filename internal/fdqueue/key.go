// Package fdqueue implements the priority queue of transfer jobs described
// in spec.md §4.1: a dense array sorted by a priority key, binary-search
// insertion, and retry back-off demotion.
package fdqueue

import "fmt"

// RetryThreshold is the number of retries below which a fixed demotion
// constant is applied; beyond it the demotion grows with creation_time.
//
// See spec.md §4.1 "Retry demotion policy".
const RetryThreshold = 3

// fixedDemotion is the constant added to the key's Time component for each
// of the first RetryThreshold retries (named 60_000_000 in spec.md §4.1).
const fixedDemotion = 60_000_000

// Key is the ordering key for a queue entry.
//
// spec.md §4.1 defines msg_number as a single floating point value
// ("priority × age factor"); spec.md §9's design notes explicitly permit
// substituting "a 128-bit integer key with (9-priority, time, unique)
// lexicographic ordering" instead, noting the binary-search-insertion
// algorithm is unchanged. We take that substitution: it removes the
// floating point ambiguity around what "smaller = higher priority" means
// for the literal product formula, while preserving every invariant P1/P6
// test against (queue order, retry monotonicity).
type Key struct {
	PriorityRank int64  // 9-priorityDigit: 0 is highest priority, 9 is lowest
	Time         int64  // creation_time, bumped upward on retry demotion
	Unique       uint32 // unique_number from the message record
	Split        uint32 // split_job_counter
}

// NewKey builds a Key from a message's priority character ('0'..'9'),
// creation time, unique number and split counter.
func NewKey(priority byte, creationTime int64, unique, split uint32) Key {
	return Key{
		PriorityRank: int64('9' - priority),
		Time:         creationTime,
		Unique:       unique,
		Split:        split,
	}
}

// Less reports whether k sorts strictly before other (k has equal or higher
// priority and, for ties, an earlier effective time).
func (k Key) Less(other Key) bool {
	if k.PriorityRank != other.PriorityRank {
		return k.PriorityRank < other.PriorityRank
	}
	if k.Time != other.Time {
		return k.Time < other.Time
	}
	if k.Unique != other.Unique {
		return k.Unique < other.Unique
	}
	return k.Split < other.Split
}

// Equal reports whether k and other compare as the same ordering position.
func (k Key) Equal(other Key) bool {
	return k == other
}

// Demote returns the key with its Time component advanced per spec.md §4.1's
// retry demotion policy: a fixed constant for the first RetryThreshold
// retries, then a creation_time-scaled penalty beyond that. Demotion only
// ever increases Time, which is what keeps msg_number monotonically
// non-decreasing across failures (P6).
func (k Key) Demote(retries int) Key {
	if retries <= 0 {
		return k
	}
	n := k
	if retries <= RetryThreshold {
		n.Time += fixedDemotion
		return n
	}
	n.Time += k.Time * 10_000 * int64(retries-RetryThreshold)
	return n
}

func (k Key) String() string {
	return fmt.Sprintf("Key{rank=%d time=%d unique=%d split=%d}", k.PriorityRank, k.Time, k.Unique, k.Split)
}
