package fdsupervisor

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afd-project/afd-core/internal/channel"
	"github.com/afd-project/afd-core/internal/config"
	"github.com/afd-project/afd-core/internal/fdlog"
	"github.com/afd-project/afd-core/internal/fdqueue"
	"github.com/afd-project/afd-core/internal/hsa"
	"github.com/afd-project/afd-core/internal/msgcache"
	"github.com/afd-project/afd-core/internal/worker"
)

type fakeEvaluator struct {
	entries map[uint32]msgcache.ParsedMessage
}

func (f *fakeEvaluator) Evaluate(jobID uint32) (msgcache.ParsedMessage, error) {
	return f.entries[jobID], nil
}

func newTestSupervisor(t *testing.T) (*Supervisor, *hsa.Registry) {
	t.Helper()
	hosts := hsa.NewRegistry()
	hosts.AddHost(hsa.NewHost("mirror1", 2))

	eval := &fakeEvaluator{entries: map[uint32]msgcache.ParsedMessage{
		7: {Protocol: "ftp", HostIndex: 0, Type: "send"},
	}}
	cache := msgcache.New(eval)

	queue := fdqueue.New()
	errQueue := fdqueue.NewErrorQueue()
	launcher := &worker.Launcher{
		BinaryPath: func(protocol string, retrieve bool) (string, error) {
			return "/bin/true", nil
		},
	}
	logger := fdlog.For("test", nil)

	cfg := config.Defaults()
	cfg.WorkDir = t.TempDir()
	cfg.RescanPeriod = 10 * time.Millisecond
	cfg.ShutdownGrace = 50 * time.Millisecond

	return New(cfg, queue, errQueue, hosts, cache, launcher, Channels{}, logger, nil, nil), hosts
}

func TestHandleMsgInsertsPendingEntryFromCache(t *testing.T) {
	s, _ := newTestSupervisor(t)
	s.handleMsg(context.Background(), channel.MsgRecord{JobID: 7, FilesToSend: 3, FileSizeToSend: 1024})

	assert.Equal(t, 1, s.queue.Len())
	e := s.queue.Snapshot()[0]
	assert.Equal(t, uint32(7), e.JobID)
	assert.Equal(t, fdqueue.PIDPending, e.Pid)
	assert.Equal(t, 0, e.HostIndex)
}

func TestStartEligibleJobsRespectsHostCapacity(t *testing.T) {
	s, hosts := newTestSupervisor(t)
	host := hosts.Host(0)
	unlock := host.LockCon()
	host.AllocateSlot()
	host.AllocateSlot() // fill both slots
	unlock()

	s.handleMsg(context.Background(), channel.MsgRecord{JobID: 7, FilesToSend: 1, FileSizeToSend: 10})
	s.startEligibleJobs(context.Background())

	e := s.queue.Snapshot()[0]
	assert.Equal(t, fdqueue.PIDPending, e.Pid, "no spare capacity, entry should remain pending")
}

func TestStartEligibleJobsSkipsDisabledHost(t *testing.T) {
	s, hosts := newTestSupervisor(t)
	host := hosts.Host(0)
	unlockHS := host.LockHS()
	host.StatusFlags |= hsa.Disabled
	unlockHS()

	s.handleMsg(context.Background(), channel.MsgRecord{JobID: 7, FilesToSend: 1, FileSizeToSend: 10})
	s.startEligibleJobs(context.Background())

	e := s.queue.Snapshot()[0]
	assert.Equal(t, fdqueue.PIDPending, e.Pid)
}

func TestStartEligibleJobsSkipsJobInErrorBackoff(t *testing.T) {
	s, _ := newTestSupervisor(t)
	s.handleMsg(context.Background(), channel.MsgRecord{JobID: 7, FilesToSend: 1, FileSizeToSend: 10})
	s.errQueue.Insert(7, time.Now(), time.Hour)

	s.startEligibleJobs(context.Background())

	e := s.queue.Snapshot()[0]
	assert.Equal(t, fdqueue.PIDPending, e.Pid, "job still in back-off window, must not be launched")
}

func TestHandleRetryClearsErrorQueueForHost(t *testing.T) {
	s, _ := newTestSupervisor(t)
	s.handleMsg(context.Background(), channel.MsgRecord{JobID: 7, FilesToSend: 1, FileSizeToSend: 10})
	s.errQueue.Insert(7, time.Now(), time.Hour)

	s.handleRetry(context.Background(), 0)

	assert.True(t, s.errQueue.ReadyToRetry(7, time.Now()))
}

func TestShutdownQuickHardKillsAllHandles(t *testing.T) {
	s, _ := newTestSupervisor(t)
	cmd := exec.Command("sleep", "5")
	require.NoError(t, cmd.Start())

	s.mu.Lock()
	s.handles[cmd.Process.Pid] = &worker.Handle{Cmd: cmd, Pid: cmd.Process.Pid}
	s.mu.Unlock()

	require.NoError(t, s.shutdown(shutdownKindQuick))
	_ = cmd.Wait()
}
