// Package fdsupervisor is the dispatch engine's main event loop (spec.md
// §4.2): a single coordinating goroutine selecting over the named control
// channels (internal/channel), the job queue (internal/fdqueue), the host
// status array (internal/hsa), the message cache (internal/msgcache), and
// the worker launcher (internal/worker), translating the original's
// single-threaded select(2) loop over file descriptors into a Go select
// over typed channels.
package fdsupervisor

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/afd-project/afd-core/internal/burst"
	"github.com/afd-project/afd-core/internal/channel"
	"github.com/afd-project/afd-core/internal/config"
	"github.com/afd-project/afd-core/internal/fdlog"
	"github.com/afd-project/afd-core/internal/fdqueue"
	"github.com/afd-project/afd-core/internal/hsa"
	"github.com/afd-project/afd-core/internal/msgcache"
	"github.com/afd-project/afd-core/internal/ratelimit"
	"github.com/afd-project/afd-core/internal/worker"
)

// Channels bundles the open control-channel endpoints the supervisor
// selects over (spec.md §6's channel list). Callers open these with
// channel.Open against the work directory's fifo pool before constructing
// a Supervisor.
type Channels struct {
	Cmd        *channel.CmdReader
	Msg        *channel.MsgReader
	Fin        *channel.FinReader
	Retry      *channel.HostIndexReader
	TrlCalc    *channel.HostIndexReader
	WakeUp     *channel.WakeUpReader
	DeleteJobs *channel.DeleteJobsReader
}

// Supervisor owns the job queue, host registry, message cache, and worker
// launcher, and drives them from one Run loop (spec.md §4.2).
type Supervisor struct {
	cfg      config.Options
	queue    *fdqueue.Queue
	errQueue *fdqueue.ErrorQueue
	hosts    *hsa.Registry
	cache    *msgcache.Cache
	launcher *worker.Launcher
	chans    Channels

	log         fdlog.Logger
	transferLog *fdlog.TransferLog
	deleteLog   *fdlog.DeleteLog

	mu       sync.Mutex
	limiters map[int]*ratelimit.HostLimiter // keyed by host index
	handles  map[int]*worker.Handle         // keyed by pid

	// NoAgeingJobs mirrors the per-host flag referenced in worker.Reap; a
	// single daemon-wide default here, overridable per host in a fuller
	// build by consulting hsa.Host directly.
	NoAgeingJobs bool
}

// New constructs a Supervisor. transferLog and deleteLog may be nil to
// disable their respective logging (e.g. in tests).
func New(cfg config.Options, queue *fdqueue.Queue, errQueue *fdqueue.ErrorQueue, hosts *hsa.Registry, cache *msgcache.Cache, launcher *worker.Launcher, chans Channels, log fdlog.Logger, transferLog *fdlog.TransferLog, deleteLog *fdlog.DeleteLog) *Supervisor {
	return &Supervisor{
		cfg:         cfg,
		queue:       queue,
		errQueue:    errQueue,
		hosts:       hosts,
		cache:       cache,
		launcher:    launcher,
		chans:       chans,
		log:         log,
		transferLog: transferLog,
		deleteLog:   deleteLog,
		limiters:    make(map[int]*ratelimit.HostLimiter),
		handles:     make(map[int]*worker.Handle),
	}
}

// Run drives the event loop until ctx is cancelled or a STOP/QUICK_STOP
// command arrives on the cmd channel, implementing spec.md §4.2's five
// steps each tick plus §5's shutdown escalation.
func (s *Supervisor) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.RescanPeriod)
	defer ticker.Stop()

	s.log.Infof("supervisor starting, rescan period %s", s.cfg.RescanPeriod)

	for {
		select {
		case <-ctx.Done():
			return s.shutdown(shutdownKindQuick)

		case cmd, ok := <-s.chans.Cmd.C:
			if !ok {
				continue
			}
			if done, err := s.handleCommand(ctx, cmd); done {
				return err
			}

		case rec, ok := <-s.chans.Msg.C:
			if ok {
				s.handleMsg(ctx, rec)
			}

		case pid, ok := <-s.chans.Fin.C:
			if ok {
				s.handleFin(ctx, pid)
			}

		case hostIdx, ok := <-s.chans.Retry.C:
			if ok {
				s.handleRetry(ctx, hostIdx)
			}

		case hostIdx, ok := <-s.chans.TrlCalc.C:
			if ok {
				s.handleTrlCalc(hostIdx)
			}

		case payload, ok := <-s.chans.DeleteJobs.C:
			if ok {
				s.handleDeleteJobs(ctx, payload)
			}

		case _, ok := <-s.chans.WakeUp.C:
			if ok {
				s.startEligibleJobs(ctx)
			}

		case <-ticker.C:
			s.checkDueDirectories(ctx)
			s.startEligibleJobs(ctx)
		}
	}
}

// handleMsg implements spec.md §4.2 step 3: look up the job-id's metadata
// through the message cache and insert a new PENDING queue entry. When the
// job's message file set dup_check, a message whose fingerprint (host,
// byte count, file count) was already admitted within the dup-check window
// is dropped instead of enqueued (spec.md §9 Open Questions, WITH_DUP_CHECK).
func (s *Supervisor) handleMsg(ctx context.Context, rec channel.MsgRecord) {
	entry, err := s.cache.Lookup(rec.JobID)
	if err != nil {
		s.log.Warnf("msg: job %d: cache lookup failed: %v", rec.JobID, err)
		return
	}
	if entry.DupCheck {
		fp := msgcache.Fingerprint(entry.HostIndex, rec.FilesToSend, rec.FileSizeToSend)
		if s.cache.SeenRecently(rec.JobID, fp, s.cfg.DupCheckWindow, time.Now()) {
			s.log.Infof("msg: job %d: dropped, duplicate of a recently admitted message", rec.JobID)
			return
		}
	}
	key := fdqueue.NewKey(rec.Priority, time.Now().Unix(), rec.JobID, 0)
	msgName := ""
	if entry.Type != "retrieve" {
		msgName = fmt.Sprintf("%08x", rec.JobID)
	}
	s.queue.Insert(&fdqueue.Entry{
		Key:            key,
		MsgName:        msgName,
		CreationTime:   time.Now().Unix(),
		Pid:            fdqueue.PIDPending,
		FilesToSend:    rec.FilesToSend,
		FileSizeToSend: rec.FileSizeToSend,
		JobID:          rec.JobID,
		HostIndex:      entry.HostIndex,
		IsRetrieve:     entry.Type == "retrieve",
		Priority:       rec.Priority,
	})
}

// handleFin implements spec.md §4.2 step 1: reap one finished worker,
// classify its exit code against its host and queue entry, and release its
// job-status slot. A negative pid signals a burst-requeue rather than a
// plain exit (spec.md §6); those are routed to the burst handoff instead of
// worker.Reap.
func (s *Supervisor) handleFin(ctx context.Context, pid int32) {
	if pid < 0 {
		s.handleBurstPark(ctx, int(-pid))
		return
	}
	s.mu.Lock()
	h, ok := s.handles[int(pid)]
	if ok {
		delete(s.handles, int(pid))
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	code, err := h.Wait()
	if err != nil {
		s.log.Warnf("fin: pid %d: wait failed: %v", pid, err)
	}

	e := s.queue.FindByPid(int(pid))
	if e == nil {
		s.log.Warnf("fin: pid %d: no matching queue entry", pid)
		return
	}
	host := s.hosts.Host(e.HostIndex)
	if host == nil {
		s.log.Errorf("fin: pid %d: host index %d out of range", pid, e.HostIndex)
		return
	}

	decision := worker.Reap(code, host, e, s.errQueue, s.NoAgeingJobs, time.Now())
	unlock := host.LockCon()
	host.ReleaseSlot(e.ConnectPos)
	unlock()

	if s.transferLog != nil {
		_ = s.transferLog.Write(host.Alias, e.ConnectPos, fmt.Sprintf("job %d exit=%d class=%s", e.JobID, code, decision.Class))
	}

	switch {
	case decision.RemoveEntry:
		s.queue.RemoveEntry(e)
		s.cache.Touch(e.JobID, time.Now())
	case decision.Requeue:
		e.Pid = fdqueue.PIDPending
		e.ConnectPos = -1
		s.queue.Reinsert(e)
	}

	s.recomputeHostLimiter(e.HostIndex)
	s.startEligibleJobs(ctx)
}

// handleBurstPark implements spec.md §4.5's keep-alive handoff: a worker
// finished its job but parked instead of exiting, offering to carry a
// follow-up job to the same host over the connection it already has. The fin
// channel encodes this case as the negation of the worker's real pid.
//
// The just-finished job retires exactly like a SUCCESS fin, except the slot
// stays connected: if a pending job targets the same host/protocol/port, its
// msg_name is written into the slot and the worker is woken to pick it up
// (burst2_counter increments); otherwise the worker is told to exit.
func (s *Supervisor) handleBurstPark(ctx context.Context, workerPid int) {
	e := s.queue.FindByPid(workerPid)
	if e == nil {
		s.log.Warnf("fin: burst park for pid %d: no matching queue entry", workerPid)
		return
	}
	host := s.hosts.Host(e.HostIndex)
	s.mu.Lock()
	h := s.handles[workerPid]
	s.mu.Unlock()
	if host == nil || h == nil {
		s.log.Warnf("fin: burst park for pid %d: no live host/handle", workerPid)
		return
	}

	unlock := host.LockCon()
	if e.ConnectPos < 0 || e.ConnectPos >= len(host.Slots) {
		unlock()
		s.log.Warnf("fin: burst park for pid %d: connect pos %d out of range", workerPid, e.ConnectPos)
		return
	}
	slot := &host.Slots[e.ConnectPos]
	if slot.Burst == nil {
		slot.Burst = burst.NewSlot()
	}
	b := slot.Burst
	unlock()

	_, seq := b.Snapshot()
	if err := b.WorkerParks(seq); err != nil {
		s.log.Warnf("fin: burst park for pid %d: %v", workerPid, err)
		return
	}
	seq++

	unlockEC := host.LockEC()
	host.RecordSuccess()
	if host.IsToggled() {
		host.ToggleRestore()
	}
	unlockEC()
	s.errQueue.Clear(e.JobID)
	s.queue.RemoveEntry(e)
	s.cache.Touch(e.JobID, time.Now())

	finished, err := s.cache.Lookup(e.JobID)
	var proto string
	var port int
	if err == nil {
		proto, port = finished.Protocol, finished.DestinationPort
	}

	next := s.queue.ScanForHelperCandidate(e.HostIndex, proto, port, func(c *fdqueue.Entry) (string, int) {
		ce, err := s.cache.Lookup(c.JobID)
		if err != nil {
			return "", 0
		}
		return ce.Protocol, ce.DestinationPort
	})

	if next == nil {
		if err := b.SupervisorRequestsExit(seq); err != nil {
			s.log.Warnf("fin: burst park for pid %d: requesting exit: %v", workerPid, err)
		}
		if err := h.SoftKill(); err != nil {
			s.log.Warnf("fin: burst park for pid %d: signalling exit: %v", workerPid, err)
		}
		unlock := host.LockCon()
		host.ReleaseSlot(e.ConnectPos)
		unlock()
		s.recomputeHostLimiter(e.HostIndex)
		return
	}

	msgName := fmt.Sprintf("%08x", next.JobID)
	unlock = host.LockCon()
	slot.SetUniqueName(msgName)
	slot.CurrentJobID = next.JobID
	host.BurstCounter++
	unlock()

	if err := b.SupervisorHandsOffJob(seq); err != nil {
		s.log.Warnf("fin: burst handoff for pid %d: %v", workerPid, err)
		return
	}

	next.Pid = workerPid
	next.ConnectPos = e.ConnectPos
	next.MsgName = msgName
	next.Flags |= fdqueue.FlagBurstRequeue
	s.queue.Reinsert(next)

	if err := h.Wake(); err != nil {
		s.log.Warnf("fin: waking pid %d for handoff: %v", workerPid, err)
	}
	if s.transferLog != nil {
		_ = s.transferLog.Write(host.Alias, e.ConnectPos, fmt.Sprintf("burst handoff job %d -> job %d", e.JobID, next.JobID))
	}
}

// handleRetry implements the retry channel: force-clears a host's error
// back-off so its pending jobs are immediately retryable, used when an
// operator issues a force-retry against a specific host (spec.md §6
// "retry (int host index)").
func (s *Supervisor) handleRetry(ctx context.Context, hostIndex int) {
	for _, e := range s.queue.Snapshot() {
		if e.HostIndex == hostIndex {
			s.errQueue.Clear(e.JobID)
		}
	}
	s.startEligibleJobs(ctx)
}

// handleTrlCalc recomputes a host's rate-limit share after its active
// transfer count changed (spec.md §4.9, §6 "trl-calc (int host index)").
func (s *Supervisor) handleTrlCalc(hostIndex int) {
	s.recomputeHostLimiter(hostIndex)
}

// handleDeleteJobs hands the opaque payload to the delete helper logic.
// The payload format is owned by whatever produces it (an AMG-side
// component outside this package's scope); here it is simply logged, since
// the dispatch engine's only obligation on this channel is to not block its
// producer.
func (s *Supervisor) handleDeleteJobs(ctx context.Context, payload []byte) {
	s.log.Infof("delete-jobs: received %d byte payload", len(payload))
}

func (s *Supervisor) recomputeHostLimiter(hostIndex int) {
	host := s.hosts.Host(hostIndex)
	if host == nil {
		return
	}
	s.mu.Lock()
	lim, ok := s.limiters[hostIndex]
	if !ok {
		lim = ratelimit.NewHostLimiter(host.RateLimitBytesSec, nil)
		s.limiters[hostIndex] = lim
	}
	s.mu.Unlock()
	lim.Recompute(host.ActiveTransfers)
}

// checkDueDirectories handles spec.md §4.2 step 2's due check: each
// configured retrieve directory whose next check time has come up is
// rescheduled and logged. No retrieve job is enqueued for it.
func (s *Supervisor) checkDueDirectories(ctx context.Context) {
	for _, idx := range s.hosts.DueDirectories(time.Now()) {
		dir := s.hosts.Directory(idx)
		if dir == nil {
			continue
		}
		dir.Reschedule(time.Now(), s.cfg.RescanPeriod, false)
		s.log.Debugf("directory %q due for retrieve check", dir.Alias)
	}
}

// startEligibleJobs implements spec.md §4.2 step 4: scan the queue for
// PENDING entries whose host has spare capacity and whose job-id is not
// currently in error-queue back-off, and launch a worker for each.
func (s *Supervisor) startEligibleJobs(ctx context.Context) {
	now := time.Now()
	for _, e := range s.queue.Snapshot() {
		if e.Pid != fdqueue.PIDPending {
			continue
		}
		if !s.errQueue.ReadyToRetry(e.JobID, now) {
			continue
		}
		host := s.hosts.Host(e.HostIndex)
		if host == nil {
			continue
		}

		cacheEntry, err := s.cache.Lookup(e.JobID)
		if err != nil {
			s.log.Warnf("start: job %d: cache lookup failed: %v", e.JobID, err)
			continue
		}

		unlockHS := host.RLock()
		doNotDelete := host.StatusFlags.Has(hsa.DoNotDeleteData)
		unlockHS()
		if !doNotDelete && e.AgeLimitExceeded(now, cacheEntry.AgeLimit) {
			s.queue.RemoveEntry(e)
			if s.deleteLog != nil {
				_ = s.deleteLog.Write(fdlog.DeleteRecord{
					Time:      now,
					JobID:     e.JobID,
					HostIndex: e.HostIndex,
					Reason:    "age_limit_exceeded",
				})
			}
			s.log.Infof("start: job %d: age limit exceeded, deleted instead of started", e.JobID)
			continue
		}

		unlock := host.LockCon()
		if host.StatusFlags.Has(hsa.StopTransfer) || host.StatusFlags.Has(hsa.Disabled) || !host.HasCapacity() {
			unlock()
			continue
		}
		slot := host.AllocateSlot()
		unlock()
		if slot < 0 {
			continue
		}

		h, err := s.launcher.Launch(ctx, cacheEntry.Protocol, e.IsRetrieve, worker.LaunchArgs{
			WorkDir:      s.cfg.WorkDir,
			HostIndex:    e.HostIndex,
			SlotIndex:    slot,
			MsgNameOrDir: e.MsgName,
			Retries:      e.Retries,
			Resend:       e.Flags.Has(fdqueue.FlagResend),
			Priority:     e.Priority,
		})
		if err != nil {
			s.log.Errorf("start: job %d: launch failed: %v", e.JobID, err)
			unlock := host.LockCon()
			host.ReleaseSlot(slot)
			unlock()
			continue
		}

		e.Pid = h.Pid
		e.ConnectPos = slot
		s.mu.Lock()
		s.handles[h.Pid] = h
		s.mu.Unlock()
		s.recomputeHostLimiter(e.HostIndex)
	}
}

type shutdownKind int

const (
	shutdownKindSave shutdownKind = iota
	shutdownKindNormal
	shutdownKindQuick
)

// handleCommand implements the cmd channel's opcodes (spec.md §6), with
// SAVE_STOP/STOP/QUICK_STOP draining into shutdown.
func (s *Supervisor) handleCommand(ctx context.Context, cmd channel.Command) (done bool, err error) {
	switch cmd {
	case channel.CmdSaveStop:
		return true, s.shutdown(shutdownKindSave)
	case channel.CmdStop:
		return true, s.shutdown(shutdownKindNormal)
	case channel.CmdQuickStop:
		return true, s.shutdown(shutdownKindQuick)
	case channel.CmdCheckFSAEntries, channel.CmdForceRemoteDirCheck:
		s.checkDueDirectories(ctx)
		s.startEligibleJobs(ctx)
	case channel.CmdFlushMsgFIFODumpQueue:
		s.startEligibleJobs(ctx)
	default:
		s.log.Debugf("cmd: unhandled opcode %d", cmd)
	}
	return false, nil
}

// shutdown implements spec.md §5's escalation: SAVE_STOP signals no worker
// and lets in-flight transfers run for up to FDTimeout; STOP soft-kills
// every live worker and waits up to ShutdownGrace; QUICK_STOP hard-kills
// immediately. Workers still running when the wait ends are hard-killed.
func (s *Supervisor) shutdown(kind shutdownKind) error {
	s.mu.Lock()
	handles := make([]*worker.Handle, 0, len(s.handles))
	for _, h := range s.handles {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	if kind == shutdownKindQuick {
		for _, h := range handles {
			_ = h.HardKill()
		}
		return nil
	}

	wait := s.cfg.ShutdownGrace
	if kind == shutdownKindSave {
		wait = s.cfg.FDTimeout
	} else {
		for _, h := range handles {
			_ = h.SoftKill()
		}
	}

	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	remaining := make(map[int]*worker.Handle, len(handles))
	for _, h := range handles {
		remaining[h.Pid] = h
	}
	for len(remaining) > 0 {
		select {
		case <-deadline.C:
			for _, h := range remaining {
				_ = h.HardKill()
			}
			return nil
		default:
			for pid, h := range remaining {
				if h.Cmd.ProcessState != nil {
					delete(remaining, pid)
				}
			}
			if len(remaining) > 0 {
				time.Sleep(50 * time.Millisecond)
			}
		}
	}
	return nil
}

// Pid returns the process id afd itself is running under.
func Pid() int { return os.Getpid() }
