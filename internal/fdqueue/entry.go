package fdqueue

import "time"

// Pid sentinel values for Entry.Pid, matching spec.md §3's queue-entry model.
const (
	PIDPending = -1 // no worker assigned yet, entry waits for capacity
	PIDRemoved = -2 // entry is logically gone, pending compaction
)

// Flags are the special-flag bits carried by a queue entry.
type Flags uint8

const (
	FlagResend Flags = 1 << iota
	FlagHelperJob
	FlagBurstRequeue
	FlagInErrorQueue
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// Entry is one scheduled unit of work (spec.md §3 "Queue entry").
type Entry struct {
	MsgName        string // job-id as 8 hex digits (the worker's -m argument, no dir/time/unique/split parts); empty for retrieve jobs
	Key            Key
	CreationTime   int64
	Pos            int // index into message-cache (send) or directory record (retrieve)
	ConnectPos     int // index into the live-worker table, -1 if none
	Pid            int // worker process handle, PIDPending, or PIDRemoved
	Retries        int
	FilesToSend    int64
	FileSizeToSend int64
	Flags          Flags
	JobID          uint32
	HostIndex      int
	IsRetrieve     bool
	Priority       byte // msg_priority '0'..'9', carried through from the message record
}

// InFlight reports whether the entry has a live worker attached.
func (e *Entry) InFlight() bool { return e.Pid >= 0 }

// AgeLimitExceeded reports whether the entry has exceeded ageLimit given now,
// implementing spec.md §8 scenario 2 / P5.
func (e *Entry) AgeLimitExceeded(now time.Time, ageLimit time.Duration) bool {
	if ageLimit <= 0 {
		return false
	}
	created := time.Unix(e.CreationTime, 0)
	return now.Sub(created) > ageLimit
}
