package worker

import (
	"testing"
	"time"

	"github.com/afd-project/afd-core/internal/fdqueue"
	"github.com/afd-project/afd-core/internal/hsa"
	"github.com/stretchr/testify/assert"
)

func TestReapSuccessClearsErrorsAndRemoves(t *testing.T) {
	h := hsa.NewHost("h1", 1)
	h.ErrorCounter = 3
	e := &fdqueue.Entry{JobID: 7}
	eq := fdqueue.NewErrorQueue()
	eq.Insert(7, time.Now(), time.Minute)

	d := Reap(Success, h, e, eq, false, time.Now())
	assert.True(t, d.RemoveEntry)
	assert.Equal(t, 0, h.ErrorCounter)
	assert.True(t, eq.ReadyToRetry(7, time.Now()))
}

func TestReapTransientErrorQueuesAndDemotes(t *testing.T) {
	h := hsa.NewHost("h1", 1)
	h.RetryInterval = time.Minute
	e := &fdqueue.Entry{JobID: 9, Key: fdqueue.NewKey('5', 1000, 1, 0)}
	eq := fdqueue.NewErrorQueue()
	before := e.Key

	now := time.Now()
	d := Reap(TimeoutError, h, e, eq, false, now)
	assert.True(t, d.Requeue)
	assert.True(t, d.ErrorQueued)
	assert.Equal(t, 1, h.ErrorCounter)
	assert.False(t, h.FirstErrorTime.IsZero())
	assert.False(t, eq.ReadyToRetry(9, now), "must not be retryable immediately after queuing")
	assert.False(t, e.Key.Less(before), "msg_number must not decrease on failure (P6)")
}

func TestReapMalformedDeletesFiles(t *testing.T) {
	h := hsa.NewHost("h1", 1)
	e := &fdqueue.Entry{}
	eq := fdqueue.NewErrorQueue()
	d := Reap(SyntaxError, h, e, eq, false, time.Now())
	assert.True(t, d.RemoveEntry)
	assert.True(t, d.DeleteFiles)
}

func TestReapNoFilesToSendClearsAutoPause(t *testing.T) {
	h := hsa.NewHost("h1", 1)
	h.StatusFlags |= hsa.AutoPause
	h.ErrorCounter = 5
	e := &fdqueue.Entry{}
	eq := fdqueue.NewErrorQueue()
	d := Reap(NoFilesToSend, h, e, eq, false, time.Now())
	assert.True(t, d.RemoveEntry)
	assert.False(t, h.StatusFlags.Has(hsa.AutoPause))
	assert.Equal(t, 0, h.ErrorCounter)
}

func TestReapGotKilledIsNonFaulty(t *testing.T) {
	h := hsa.NewHost("h1", 1)
	e := &fdqueue.Entry{}
	eq := fdqueue.NewErrorQueue()
	d := Reap(GotKilled, h, e, eq, false, time.Now())
	assert.True(t, d.Requeue)
	assert.Equal(t, 0, h.ErrorCounter, "administrative kill must not count as faulty")
}

func TestReapSemiPermanentUsesErrorQueueWhenNoAgeingJobs(t *testing.T) {
	h := hsa.NewHost("h1", 1)
	h.RetryInterval = time.Minute
	e := &fdqueue.Entry{Key: fdqueue.NewKey('5', 1000, 1, 0)}
	before := e.Key
	eq := fdqueue.NewErrorQueue()

	d := Reap(RemoteUserError, h, e, eq, true, time.Now())
	assert.True(t, d.ErrorQueued)
	assert.Equal(t, before, e.Key, "msg_number left alone when NO_AGEING_JOBS is set")
}

func TestReapSemiPermanentDemotesWhenAgeingAllowed(t *testing.T) {
	h := hsa.NewHost("h1", 1)
	e := &fdqueue.Entry{Key: fdqueue.NewKey('5', 1000, 1, 0)}
	before := e.Key
	eq := fdqueue.NewErrorQueue()

	d := Reap(RemoteUserError, h, e, eq, false, time.Now())
	assert.False(t, d.ErrorQueued)
	assert.False(t, e.Key.Less(before))
	assert.NotEqual(t, before, e.Key)
}

func TestReapTransientTogglesHostAfterMaxErrors(t *testing.T) {
	h := hsa.NewHost("h1", 1)
	h.RetryInterval = time.Minute
	h.SecondaryAlias = "h1-backup"
	h.MaxErrors = 2
	e := &fdqueue.Entry{Key: fdqueue.NewKey('5', 1000, 1, 0)}
	eq := fdqueue.NewErrorQueue()

	Reap(TimeoutError, h, e, eq, false, time.Now())
	assert.False(t, h.IsToggled())
	Reap(TimeoutError, h, e, eq, false, time.Now())
	assert.True(t, h.IsToggled())
}
