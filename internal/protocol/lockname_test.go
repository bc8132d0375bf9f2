package protocol

import "testing"

import "github.com/stretchr/testify/assert"

func TestLockNameDot(t *testing.T) {
	assert.Equal(t, ".report.txt", LockName(LockDot, "report.txt"))
	assert.Equal(t, "sub/.report.txt", LockName(LockDot, "sub/report.txt"))
}

func TestLockNamePostfix(t *testing.T) {
	assert.Equal(t, "report.txt.NOT_READY", LockName(LockPostfix, "report.txt"))
}

func TestLockNameVMS(t *testing.T) {
	assert.Equal(t, ".report.txt.", LockName(LockVMS, "report.txt"))
}

func TestLockNameNoneOrLockFilePassesThrough(t *testing.T) {
	assert.Equal(t, "report.txt", LockName(LockNone, "report.txt"))
	assert.Equal(t, "report.txt", LockName(LockFile, "report.txt"))
}

func TestPublishNameRoundTrips(t *testing.T) {
	for _, d := range []LockDiscipline{LockDot, LockPostfix, LockVMS} {
		locked := LockName(d, "data/report.txt")
		assert.Equal(t, "data/report.txt", PublishName(d, locked), "discipline %v", d)
	}
}
