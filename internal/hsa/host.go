// Package hsa is the in-process equivalent of AFD's Host Status Array (HSA)
// and Directory Retrieval Array (DRA): shared state between the supervisor,
// worker-completion handlers, and the control plane, guarded by per-region
// locks rather than the original's mmap'd byte-range advisory locks.
//
// spec.md §9 calls for exactly this translation: "Model HSA/DRA as an owned
// region wrapper that hands out typed views to slots; every mutation that
// crosses a locked region must go through a guard object whose acquisition
// is a method returning a scoped handle; release is guaranteed on all exit
// paths." Guard objects here are returned as release functions for use with
// `defer`; nothing checks that a caller invokes each one exactly once, that
// is left to the caller.
package hsa

import (
	"sync"
	"time"

	"github.com/afd-project/afd-core/internal/burst"
)

// ConnectStatus is a job-status slot's connection state.
type ConnectStatus int

const (
	Disconnected ConnectStatus = iota
	Connecting
	Active
	BurstActive
	NotWorking
)

// StatusFlag are host-status bits (spec.md §3 "host-status flags").
type StatusFlag uint16

const (
	Disabled StatusFlag = 1 << iota
	StopTransfer
	AutoPause
	Offline
	ErrorQueueSet
	DoNotDeleteData
)

func (s StatusFlag) Has(bit StatusFlag) bool { return s&bit != 0 }

// ProtocolOption are per-host protocol option bits (spec.md §3).
type ProtocolOption uint16

const (
	PassiveFTP ProtocolOption = 1 << iota
	ExtendedMode
	IgnoreBin
	DisableBursting
	KeepTimeStamp
)

func (p ProtocolOption) Has(bit ProtocolOption) bool { return p&bit != 0 }

const errorHistoryLen = 12

// JobSlot is one per-worker job-status slot, spec.md §3.
type JobSlot struct {
	ConnectStatus   ConnectStatus
	ProcessHandle   int
	FilesAssigned   int64
	FilesDone       int64
	BytesAssigned   int64
	BytesDone       int64
	BytesInUse      int64
	BytesInUseDone  int64
	CurrentFilename string
	CurrentJobID    uint32

	// UniqueName is the 32-byte side-channel handshake field used by the
	// burst/keep-alive protocol (spec.md §4.5): the supervisor writes the
	// next job's msg_name here before handing it to a parked worker.
	UniqueName [32]byte

	// Burst drives the handoff's state machine (internal/burst), modeled
	// as a small typed state rather than raw bytes per spec.md §9's
	// guidance to "replace byte-offset encoding with an explicit enum ...
	// plus a sequence nonce". Nil until the worker in this slot parks for
	// the first time.
	Burst *burst.Slot
}

// SetUniqueName writes name (truncated if necessary) into the slot's
// handshake field, zero-padding the remainder.
func (s *JobSlot) SetUniqueName(name string) {
	s.UniqueName = [32]byte{}
	copy(s.UniqueName[:], name)
}

// UniqueNameString reads the handshake field back as a string, stopping at
// the first zero byte.
func (s *JobSlot) UniqueNameString() string {
	n := 0
	for n < len(s.UniqueName) && s.UniqueName[n] != 0 {
		n++
	}
	return string(s.UniqueName[:n])
}

// Reset clears a slot back to idle, used on worker exit (spec.md §5
// cancellation: "A worker that receives the termination signal must flush
// its slot").
func (s *JobSlot) Reset() {
	s.ConnectStatus = Disconnected
	s.ProcessHandle = -1
	s.CurrentFilename = ""
	s.CurrentJobID = 0
	s.BytesInUse = 0
	s.BytesInUseDone = 0
	s.UniqueName = [32]byte{}
	s.Burst = nil
}

// Host is one configured destination (spec.md §3 "Host record").
type Host struct {
	mu sync.RWMutex // guards everything below except Slots' own per-slot use

	Alias             string
	DisplayName       string
	ToggleIndex       int
	AllowedTransfers  int
	ActiveTransfers   int
	ErrorCounter      int
	MaxErrors         int
	FirstErrorTime    time.Time
	RetryInterval     time.Duration
	StatusFlags       StatusFlag
	ProtocolOptions   ProtocolOption
	RateLimitBytesSec int64
	ErrorHistory      [errorHistoryLen]int
	LastConnection    time.Time
	KeepConnected     time.Duration

	// SecondaryAlias is the fallback hostname used by temp-toggle
	// (SPEC_FULL.md "Temp-toggle fallback", grounded in original_source
	// fd.c's host-switch logic).
	SecondaryAlias  string
	TempToggleUntil time.Time

	// BurstCounter counts successful burst/keep-alive handoffs on this host
	// (spec.md §4.5's burst2_counter), guarded by LockCon like the rest of
	// the slot bookkeeping it derives from.
	BurstCounter int

	Slots []JobSlot
}

// NewHost allocates a Host with allowedTransfers job-status slots.
func NewHost(alias string, allowedTransfers int) *Host {
	h := &Host{
		Alias:            alias,
		AllowedTransfers: allowedTransfers,
		Slots:            make([]JobSlot, allowedTransfers),
	}
	for i := range h.Slots {
		h.Slots[i].ProcessHandle = -1
	}
	return h
}

// LockEC guards ErrorCounter and ErrorHistory (spec.md §5 "LOCK_EC").
func (h *Host) LockEC() func() {
	h.mu.Lock()
	return h.mu.Unlock
}

// LockHS guards StatusFlags (spec.md §5 "LOCK_HS").
func (h *Host) LockHS() func() {
	h.mu.Lock()
	return h.mu.Unlock
}

// LockCon guards connection allocation (ActiveTransfers, slot assignment;
// spec.md §5 "LOCK_CON").
func (h *Host) LockCon() func() {
	h.mu.Lock()
	return h.mu.Unlock
}

// RLock acquires a read-only view for observers (spec.md §5 "Read-only
// consumers may acquire shared (read) locks").
func (h *Host) RLock() func() {
	h.mu.RLock()
	return h.mu.RUnlock
}

// HasCapacity reports whether the host can admit another transfer. Caller
// must hold LockCon.
func (h *Host) HasCapacity() bool {
	return h.ActiveTransfers < h.AllowedTransfers
}

// AllocateSlot finds a free job-status slot and marks it connecting,
// incrementing ActiveTransfers. Caller must hold LockCon. Returns -1 if no
// slot is free (should not happen if HasCapacity was checked first, but
// P2/P3 require this to self-correct rather than corrupt state).
func (h *Host) AllocateSlot() int {
	for i := range h.Slots {
		if h.Slots[i].ProcessHandle < 0 && h.Slots[i].ConnectStatus == Disconnected {
			h.Slots[i].ConnectStatus = Connecting
			h.ActiveTransfers++
			return i
		}
	}
	return -1
}

// ReleaseSlot frees slot i, decrementing ActiveTransfers. Caller must hold
// LockCon.
func (h *Host) ReleaseSlot(i int) {
	if i < 0 || i >= len(h.Slots) {
		return
	}
	if h.Slots[i].ProcessHandle >= 0 || h.Slots[i].ConnectStatus != Disconnected {
		h.Slots[i].Reset()
		h.ActiveTransfers--
		if h.ActiveTransfers < 0 {
			h.ActiveTransfers = 0 // self-correct per spec.md §7 "Invariant-violation"
		}
	}
}

// RecordSuccess resets the error state on a successful transfer (spec.md
// §4.6 SUCCESS classification).
func (h *Host) RecordSuccess() {
	h.FirstErrorTime = time.Time{}
	h.ErrorCounter = 0
}

// RecordError shifts ErrorHistory and bumps ErrorCounter (spec.md §4.6 "In
// all error paths, error_history[1..N] is shifted and error_history[0] is
// set to the exit code").
func (h *Host) RecordError(exitCode int, now time.Time) {
	if h.StatusFlags.Has(Offline) {
		exitCode = 0
	}
	copy(h.ErrorHistory[1:], h.ErrorHistory[:len(h.ErrorHistory)-1])
	h.ErrorHistory[0] = exitCode
	if exitCode != 0 {
		h.ErrorCounter++
		if h.FirstErrorTime.IsZero() {
			h.FirstErrorTime = now
		}
	}
}

// ShouldToggle reports whether the host should switch to its secondary
// hostname (SPEC_FULL.md's "Temp-toggle fallback").
func (h *Host) ShouldToggle() bool {
	return h.SecondaryAlias != "" && h.MaxErrors > 0 && h.ErrorCounter >= h.MaxErrors && h.ToggleIndex == 0
}

// ToggleOnFailure flips to the secondary hostname.
func (h *Host) ToggleOnFailure(now time.Time, until time.Time) {
	h.ToggleIndex = 1
	h.TempToggleUntil = until
}

// ToggleRestore flips back to the primary hostname on first success while
// toggled.
func (h *Host) ToggleRestore() {
	h.ToggleIndex = 0
	h.TempToggleUntil = time.Time{}
}

// IsToggled reports whether the host is currently on its secondary alias.
func (h *Host) IsToggled() bool {
	return h.ToggleIndex != 0
}
