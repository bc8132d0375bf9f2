package ftp

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingLimiter struct {
	total int
}

func (l *countingLimiter) WaitN(ctx context.Context, n int) error {
	l.total += n
	return nil
}

func TestCountingReaderTracksBytesAndRateLimiter(t *testing.T) {
	lim := &countingLimiter{}
	cr := &countingReader{r: bytes.NewReader([]byte("hello world")), limiter: lim, ctx: context.Background()}

	buf := make([]byte, 5)
	n, err := cr.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.EqualValues(t, 5, cr.n)
	assert.Equal(t, 5, lim.total)
}

func TestCountingReaderWithoutLimiterStillCounts(t *testing.T) {
	cr := &countingReader{r: bytes.NewReader([]byte("abc")), ctx: context.Background()}
	buf := make([]byte, 3)
	_, err := cr.Read(buf)
	require.NoError(t, err)
	assert.EqualValues(t, 3, cr.n)
}
