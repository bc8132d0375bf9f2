package worker

import (
	"time"

	"github.com/afd-project/afd-core/internal/fdqueue"
	"github.com/afd-project/afd-core/internal/hsa"
)

// ReapDecision is what Reap decided for one finished worker's queue entry.
// Reap's noAgeingJobs argument mirrors the per-host flag named in spec.md
// §4.6: when set, semi-permanent errors only use the error-queue rather
// than boosting msg_number.
type ReapDecision struct {
	// RemoveEntry: the queue entry should be deleted (success, malformed,
	// no-files-to-send).
	RemoveEntry bool
	// Requeue: the queue entry goes back to PENDING for another attempt.
	Requeue bool
	// DeleteFiles: the file directory (outgoing spool) should be moved to
	// the delete log, for malformed jobs.
	DeleteFiles bool
	// ErrorQueued: the job-id was (or should be) added to the error queue.
	ErrorQueued bool
	Class       Classification
}

// Reap applies spec.md §4.6's reaction table for one worker's exit code
// against its host and queue entry, mutating both and the shared error
// queue. now is injected for testability.
func Reap(code ExitCode, h *hsa.Host, e *fdqueue.Entry, eq *fdqueue.ErrorQueue, noAgeingJobs bool, now time.Time) ReapDecision {
	class := Classify(code)
	unlockEC := h.LockEC()
	defer unlockEC()

	switch class {
	case ClassSuccess:
		h.RecordSuccess()
		if h.IsToggled() {
			h.ToggleRestore()
		}
		eq.Clear(e.JobID)
		return ReapDecision{RemoveEntry: true, Class: class}

	case ClassMalformed:
		h.RecordError(int(code), now)
		return ReapDecision{RemoveEntry: true, DeleteFiles: true, Class: class}

	case ClassTransient:
		wasToggled := h.IsToggled()
		if !wasToggled {
			// "Worker is not counted as faulty when in temp-toggle mode"
			h.RecordError(int(code), now)
		}
		if h.FirstErrorTime.IsZero() {
			h.FirstErrorTime = now
		}
		eq.Insert(e.JobID, now, h.RetryInterval)
		e.Retries++
		e.Key = e.Key.Demote(e.Retries)
		if h.ShouldToggle() {
			h.ToggleOnFailure(now, now.Add(h.RetryInterval))
		}
		return ReapDecision{Requeue: true, ErrorQueued: true, Class: class}

	case ClassSemiPermanent:
		h.RecordError(int(code), now)
		e.Retries++
		if noAgeingJobs {
			eq.Insert(e.JobID, now, h.RetryInterval)
			return ReapDecision{Requeue: true, ErrorQueued: true, Class: class}
		}
		e.Key = e.Key.Demote(e.Retries)
		return ReapDecision{Requeue: true, Class: class}

	case ClassNotAnError:
		if h.StatusFlags.Has(hsa.AutoPause) {
			h.StatusFlags &^= hsa.AutoPause
			h.ErrorHistory = [12]int{}
			h.ErrorCounter = 0
		}
		return ReapDecision{RemoveEntry: true, Class: class}

	case ClassAdministrative:
		// GOT_KILLED: non-faulty, administrative; leave host error state
		// untouched and requeue for a future attempt.
		return ReapDecision{Requeue: true, Class: class}

	default: // ClassUnknownFatal
		h.RecordError(int(code), now)
		e.Retries++
		e.Key = e.Key.Demote(e.Retries)
		return ReapDecision{Requeue: true, Class: class}
	}
}
