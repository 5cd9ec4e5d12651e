package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildConfigSharedTimeKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ts", buildConfig(true).EncoderConfig.TimeKey)
	assert.Equal(t, "ts", buildConfig(false).EncoderConfig.TimeKey)
	assert.False(t, buildConfig(false).DisableStacktrace)
}

func TestNewDevelopmentLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(true)
	require.NoError(t, err)
	require.NotNil(t, logger)
	defer logger.Sync() //nolint:errcheck // best-effort flush
	logger.Info("development logger ready")
}

func TestNewProductionLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(false)
	require.NoError(t, err)
	require.NotNil(t, logger)
	defer logger.Sync() //nolint:errcheck // best-effort flush
	logger.Info("production logger ready")
}
