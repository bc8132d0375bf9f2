package msgcache

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEvaluator struct {
	calls int
	msg   ParsedMessage
	err   error
}

func (f *fakeEvaluator) Evaluate(jobID uint32) (ParsedMessage, error) {
	f.calls++
	return f.msg, f.err
}

func TestLookupEvaluatesOnFirstSight(t *testing.T) {
	ev := &fakeEvaluator{msg: ParsedMessage{Protocol: "ftp", Port: 21, HostIndex: 3, Type: "send"}}
	c := New(ev)

	e, err := c.Lookup(42)
	require.NoError(t, err)
	assert.Equal(t, "ftp", e.Protocol)
	assert.Equal(t, 21, e.DestinationPort)
	assert.Equal(t, 1, ev.calls)
}

func TestLookupUsesOneEntryCacheThenMap(t *testing.T) {
	ev := &fakeEvaluator{msg: ParsedMessage{Protocol: "sftp"}}
	c := New(ev)

	_, err := c.Lookup(1)
	require.NoError(t, err)
	_, err = c.Lookup(1)
	require.NoError(t, err)
	assert.Equal(t, 1, ev.calls, "second lookup of same job must hit the 1-entry cache")

	_, err = c.Lookup(2)
	require.NoError(t, err)
	_, err = c.Lookup(1)
	require.NoError(t, err)
	assert.Equal(t, 2, ev.calls, "job 1 must still be served from the map, not re-evaluated")
}

func TestLookupPropagatesEvaluatorError(t *testing.T) {
	ev := &fakeEvaluator{err: errors.New("no such message file")}
	c := New(ev)

	_, err := c.Lookup(99)
	assert.Error(t, err)
	assert.Equal(t, 0, c.Len())
}

func TestInvalidateDropsEntryAndLastHit(t *testing.T) {
	ev := &fakeEvaluator{msg: ParsedMessage{Protocol: "http"}}
	c := New(ev)

	_, err := c.Lookup(5)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len())

	c.Invalidate(5)
	assert.Equal(t, 0, c.Len())

	_, err = c.Lookup(5)
	require.NoError(t, err)
	assert.Equal(t, 2, ev.calls, "must re-evaluate after invalidation")
}

func TestTouchUpdatesLastTransferTime(t *testing.T) {
	ev := &fakeEvaluator{msg: ParsedMessage{Protocol: "ftp"}}
	c := New(ev)
	_, err := c.Lookup(1)
	require.NoError(t, err)

	now := time.Now()
	c.Touch(1, now)
	e, err := c.Lookup(1)
	require.NoError(t, err)
	assert.Equal(t, now, e.LastTransferTime)
}
