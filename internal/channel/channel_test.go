package channel

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openPair(t *testing.T, path string) (*os.File, *os.File) {
	t.Helper()
	var readSide, writeSide *os.File
	done := make(chan error, 1)
	go func() {
		f, err := Open(path, os.O_RDONLY, 0o600)
		readSide = f
		done <- err
	}()
	// Give the reader a moment to block on open before the writer connects,
	// mirroring the original protocol's open-on-both-ends rendezvous.
	time.Sleep(20 * time.Millisecond)
	w, err := Open(path, os.O_WRONLY, 0o600)
	require.NoError(t, err)
	writeSide = w
	require.NoError(t, <-done)
	return readSide, writeSide
}

func TestCmdReaderDeliversEachByteAsACommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cmd")
	r, w := openPair(t, path)
	defer r.Close()
	defer w.Close()

	cr := NewCmdReader(r)
	_, err := w.Write([]byte{byte(CmdStop)})
	require.NoError(t, err)

	select {
	case c := <-cr.C:
		assert.Equal(t, CmdStop, c)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for command")
	}
}

func TestMsgReaderRoundTripsRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "msg")
	r, w := openPair(t, path)
	defer r.Close()
	defer w.Close()

	mr := NewMsgReader(r)
	want := MsgRecord{JobID: 42, Priority: 5, FilesToSend: 3, FileSizeToSend: 1024}
	_, err := w.Write(EncodeMsgRecord(want))
	require.NoError(t, err)

	select {
	case got := <-mr.C:
		assert.Equal(t, want, got)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message record")
	}
}

func TestFinReaderDecodesNegativePidAsBurstRequeue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fin")
	r, w := openPair(t, path)
	defer r.Close()
	defer w.Close()

	fr := NewFinReader(r)
	_, err := w.Write(EncodePid(-4242))
	require.NoError(t, err)

	select {
	case pid := <-fr.C:
		assert.Equal(t, int32(-4242), pid)
		assert.True(t, pid < 0)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for fin pid")
	}
}

func TestHostIndexReaderRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "retry")
	r, w := openPair(t, path)
	defer r.Close()
	defer w.Close()

	hr := NewHostIndexReader(r)
	_, err := w.Write(EncodeHostIndex(17))
	require.NoError(t, err)

	select {
	case idx := <-hr.C:
		assert.Equal(t, 17, idx)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for host index")
	}
}

func TestWakeUpReaderCoalescesBurstsIntoOneSignal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wake-up")
	r, w := openPair(t, path)
	defer r.Close()
	defer w.Close()

	wr := NewWakeUpReader(r)
	_, err := w.Write([]byte{1, 1, 1})
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	select {
	case <-wr.C:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for wake-up signal")
	}
	select {
	case <-wr.C:
		t.Fatal("expected extra wake-up bytes to coalesce into a single pending signal")
	default:
	}
}

func TestDeleteJobsReaderDecodesLengthPrefixedPayload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "delete-jobs")
	r, w := openPair(t, path)
	defer r.Close()
	defer w.Close()

	dr := NewDeleteJobsReader(r)
	payload := []byte("host-index=3;job-id=abc123")
	_, err := w.Write(EncodeDeleteJobsPayload(payload))
	require.NoError(t, err)

	select {
	case got := <-dr.C:
		assert.Equal(t, payload, got)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delete-jobs payload")
	}
}
