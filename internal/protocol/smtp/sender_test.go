package smtp

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteMIMEAttachmentIncludesHeadersAndBody(t *testing.T) {
	var buf bytes.Buffer
	n, err := writeMIMEAttachment(&buf, "report.csv", strings.NewReader("a,b,c\n1,2,3\n"), nil, context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, len("a,b,c\n1,2,3\n"), n)

	out := buf.String()
	assert.Contains(t, out, "Subject: report.csv")
	assert.Contains(t, out, "Content-Disposition: attachment;")
	assert.Contains(t, out, "a,b,c\n1,2,3\n")
}

type capLimiter struct{ total int }

func (c *capLimiter) WaitN(ctx context.Context, n int) error {
	c.total += n
	return nil
}

func TestWriteMIMEAttachmentUsesRateLimiter(t *testing.T) {
	var buf bytes.Buffer
	lim := &capLimiter{}
	_, err := writeMIMEAttachment(&buf, "f.bin", strings.NewReader("0123456789"), lim, context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, lim.total)
}
