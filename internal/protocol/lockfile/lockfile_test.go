package lockfile

import (
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireAndUnlockReleasesForNextAcquirer(t *testing.T) {
	dir := t.TempDir()

	g, err := Acquire(dir)
	require.NoError(t, err)

	other := flock.New(dir + "/LOCKFILE")
	locked, err := other.TryLock()
	require.NoError(t, err)
	assert.False(t, locked, "directory must still be locked by the first guard")

	require.NoError(t, g.Unlock())

	locked, err = other.TryLock()
	require.NoError(t, err)
	assert.True(t, locked, "lock must be free after Unlock")
	_ = other.Unlock()
}

func TestUnlockOnNilGuardIsSafe(t *testing.T) {
	var g *Guard
	assert.NoError(t, g.Unlock())
}

func TestUnlockIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	g, err := Acquire(dir)
	require.NoError(t, err)
	require.NoError(t, g.Unlock())
	assert.NoError(t, g.Unlock())
}

func TestAcquireBlocksUntilReleased(t *testing.T) {
	dir := t.TempDir()
	g, err := Acquire(dir)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		g2, err := Acquire(dir)
		require.NoError(t, err)
		close(done)
		_ = g2.Unlock()
	}()

	select {
	case <-done:
		t.Fatal("second Acquire returned before first was unlocked")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, g.Unlock())

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second Acquire did not unblock after Unlock")
	}
}
