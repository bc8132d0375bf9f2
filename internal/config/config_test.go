package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWithoutEnvReturnsDefaults(t *testing.T) {
	opt, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Defaults(), opt)
}

func TestLoadOverlaysEnvVariables(t *testing.T) {
	t.Setenv("AFD_MAX_CONNECTIONS", "42")
	t.Setenv("AFD_RESCAN_PERIOD", "30s")
	t.Setenv("AFD_WORK_DIR", "/tmp/afd")

	opt, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 42, opt.MaxConnections)
	assert.Equal(t, 30*time.Second, opt.RescanPeriod)
	assert.Equal(t, "/tmp/afd", opt.WorkDir)
}

func TestLoadRejectsMalformedDuration(t *testing.T) {
	t.Setenv("AFD_FD_TIMEOUT", "not-a-duration")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsMalformedInt(t *testing.T) {
	t.Setenv("AFD_MAX_ERRORS", "not-an-int")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadAcceptsNegativeDefaultHostLimit(t *testing.T) {
	t.Setenv("AFD_DEFAULT_HOST_LIMIT", "-1")
	opt, err := Load()
	require.NoError(t, err)
	assert.Equal(t, int64(-1), opt.DefaultHostLimit)
}
