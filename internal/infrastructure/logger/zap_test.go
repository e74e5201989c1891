package logger

import (
	"testing"

	"finledger/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewLogger(t *testing.T) {
	log, err := NewLogger(&config.LogConfig{Level: "warn"})
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zap.InfoLevel))
	assert.True(t, log.Core().Enabled(zap.WarnLevel))

	log, err = NewLogger(&config.LogConfig{Level: "debug", Development: true})
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(zap.DebugLevel))

	_, err = NewLogger(&config.LogConfig{Level: "loud"})
	assert.Error(t, err)
}
