package scp

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShellQuoteEscapesSingleQuotes(t *testing.T) {
	assert.Equal(t, `'plain'`, shellQuote("plain"))
	assert.Equal(t, `'it'\''s'`, shellQuote("it's"))
}

func TestJoinRemote(t *testing.T) {
	assert.Equal(t, "incoming/f.txt", joinRemote("incoming", "f.txt"))
	assert.Equal(t, "incoming/f.txt", joinRemote("incoming/", "f.txt"))
	assert.Equal(t, "f.txt", joinRemote("", "f.txt"))
	assert.Equal(t, "f.txt", joinRemote(".", "f.txt"))
}

func TestAckWaitSuccess(t *testing.T) {
	r := bufio.NewReader(bytes.NewReader([]byte{0}))
	assert.NoError(t, ackWait(r))
}

func TestAckWaitErrorReportsMessage(t *testing.T) {
	r := bufio.NewReader(bytes.NewReader(append([]byte{1}, []byte("permission denied\n")...)))
	err := ackWait(r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
}
