package ratelimit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitNNoopWhenOff(t *testing.T) {
	hl := NewHostLimiter(Off, nil)
	require.NoError(t, hl.WaitN(context.Background(), 1<<20))
}

func TestRecomputeSplitsShareAcrossActiveTransfers(t *testing.T) {
	hl := NewHostLimiter(1000, nil)
	hl.Recompute(4)
	hl.mu.Lock()
	limit := hl.bucket.Limit()
	hl.mu.Unlock()
	assert.InDelta(t, 250, float64(limit), 0.001)
}

func TestRecomputeNeverDividesByZero(t *testing.T) {
	hl := NewHostLimiter(1000, nil)
	hl.Recompute(0)
	hl.mu.Lock()
	limit := hl.bucket.Limit()
	hl.mu.Unlock()
	assert.InDelta(t, 1000, float64(limit), 0.001)
}

func TestGroupClampsShareToPerMemberPortion(t *testing.T) {
	g := NewGroup(100, 2)
	assert.EqualValues(t, 50, g.Clamp(1000))
	assert.EqualValues(t, 30, g.Clamp(30))
}

func TestGroupOffDoesNotClamp(t *testing.T) {
	g := NewGroup(Off, 4)
	assert.EqualValues(t, 500, g.Clamp(500))
}

func TestHostLimiterWithGroupUsesSmallerShare(t *testing.T) {
	g := NewGroup(100, 2)
	hl := NewHostLimiter(1000, g)
	hl.Recompute(1)
	hl.mu.Lock()
	limit := hl.bucket.Limit()
	hl.mu.Unlock()
	assert.InDelta(t, 50, float64(limit), 0.001)
}

func TestSetHostLimitRecomputesShare(t *testing.T) {
	hl := NewHostLimiter(1000, nil)
	hl.SetHostLimit(2000, 2)
	hl.mu.Lock()
	limit := hl.bucket.Limit()
	hl.mu.Unlock()
	assert.InDelta(t, 1000, float64(limit), 0.001)
}
