package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	l, cleanup, err := New("debug", "console")
	require.NoError(t, err)
	defer cleanup()

	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))
	assert.Same(t, l, zap.L())
}

func TestNewJSONDefaultsAndErrors(t *testing.T) {
	l, cleanup, err := New("warn", "")
	require.NoError(t, err)
	defer cleanup()
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))

	_, _, err = New("loud", "json")
	assert.Error(t, err)

	_, _, err = New("info", "xml")
	assert.Error(t, err)
}
