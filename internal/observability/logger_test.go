// internal/observability/logger_test.go
package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/gleaner/internal/config"
)

func TestInitializeOnce(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	Initialize(config.LoggerConfig{Level: "debug", Format: "json", ServiceName: "test"}, zapcore.AddSync(nopWriter{}))
	first := GetLogger()
	require.NotNil(t, first)

	// A second Initialize must not replace the stored logger.
	Initialize(config.LoggerConfig{Level: "error", Format: "console", ServiceName: "other"}, zapcore.AddSync(nopWriter{}))
	assert.Same(t, first, GetLogger())
}

func TestGetLoggerFallback(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	logger := GetLogger()
	require.NotNil(t, logger)
	assert.True(t, logger.Core().Enabled(zap.DebugLevel))
}

func TestInvalidLevelDefaultsToInfo(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	Initialize(config.LoggerConfig{Level: "shouting", Format: "json"}, zapcore.AddSync(nopWriter{}))
	logger := GetLogger()
	assert.False(t, logger.Core().Enabled(zap.DebugLevel))
	assert.True(t, logger.Core().Enabled(zap.InfoLevel))
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }
func (nopWriter) Sync() error                 { return nil }
