package hsa

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateReleaseSlotConservation(t *testing.T) {
	h := NewHost("host1", 3)
	unlock := h.LockCon()
	a := h.AllocateSlot()
	b := h.AllocateSlot()
	unlock()

	require.GreaterOrEqual(t, a, 0)
	require.GreaterOrEqual(t, b, 0)
	assert.Equal(t, 2, h.ActiveTransfers)

	live := 0
	for _, s := range h.Slots {
		if s.ProcessHandle >= 0 || s.ConnectStatus != Disconnected {
			live++
		}
	}
	assert.Equal(t, h.ActiveTransfers, live, "P3: active_transfers must equal count of live slots")

	unlock = h.LockCon()
	h.Slots[a].ProcessHandle = 1234
	h.ReleaseSlot(a)
	unlock()
	assert.Equal(t, 1, h.ActiveTransfers)
}

func TestAllocateSlotExhaustion(t *testing.T) {
	h := NewHost("host1", 1)
	unlock := h.LockCon()
	defer unlock()
	first := h.AllocateSlot()
	require.Equal(t, 0, first)
	second := h.AllocateSlot()
	assert.Equal(t, -1, second, "no slot available once allowed_transfers is exhausted")
}

func TestRecordErrorShiftsHistory(t *testing.T) {
	h := NewHost("host1", 1)
	unlock := h.LockEC()
	h.RecordError(1, time.Now())
	h.RecordError(2, time.Now())
	unlock()
	assert.Equal(t, 2, h.ErrorHistory[0])
	assert.Equal(t, 1, h.ErrorHistory[1])
	assert.Equal(t, 2, h.ErrorCounter)
}

func TestRecordErrorZeroedWhenOffline(t *testing.T) {
	h := NewHost("host1", 1)
	h.StatusFlags |= Offline
	unlock := h.LockEC()
	h.RecordError(7, time.Now())
	unlock()
	assert.Equal(t, 0, h.ErrorHistory[0])
	assert.Equal(t, 0, h.ErrorCounter, "offline hosts do not count errors")
}

func TestToggleOnFailureAndRestore(t *testing.T) {
	h := NewHost("host1", 1)
	h.SecondaryAlias = "host1-backup"
	h.MaxErrors = 3
	h.ErrorCounter = 3
	assert.True(t, h.ShouldToggle())

	h.ToggleOnFailure(time.Now(), time.Now().Add(time.Minute))
	assert.True(t, h.IsToggled())
	assert.False(t, h.ShouldToggle(), "already toggled hosts don't re-toggle")

	h.RecordSuccess()
	h.ToggleRestore()
	assert.False(t, h.IsToggled())
}

func TestDirectoryDueAndReschedule(t *testing.T) {
	d := &Directory{NextCheckTime: time.Now().Add(-time.Second)}
	now := time.Now()
	assert.True(t, d.Due(now))

	d.Reschedule(now, time.Minute, false)
	assert.False(t, d.Due(now))

	d.RetryBackoff = time.Second
	d.Reschedule(now, time.Minute, true)
	assert.WithinDuration(t, now.Add(time.Second), d.NextCheckTime, time.Millisecond)
}
