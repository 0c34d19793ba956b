package log

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBuild_Levels(t *testing.T) {
	logger, err := build("debug", "console", "")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.DebugLevel))

	logger, err = build("not-a-level", "json", "")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zap.DebugLevel))
	assert.True(t, logger.Core().Enabled(zap.InfoLevel))
}

func TestInit_WritesFileSink(t *testing.T) {
	prev := sugar
	t.Cleanup(func() { sugar = prev })

	dir := filepath.Join(t.TempDir(), "logs")
	require.NoError(t, Init("info", "json", dir))
	Infow("会话已创建", "sessionId", "s-1")
	Sync()

	data, err := os.ReadFile(filepath.Join(dir, "kidsafe.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"sessionId":"s-1"`)
}
