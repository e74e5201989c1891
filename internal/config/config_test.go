package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 8081
mysql:
  host: ""
scheduler:
  tick_spec: "*/5 * * * *"
rates:
  MXN: 1
  USD: 17.5
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, int64(1), cfg.Server.WorkerID)
	assert.Empty(t, cfg.MySQL.Host)
	assert.Equal(t, "*/5 * * * *", cfg.Scheduler.TickSpec)
	assert.Equal(t, 200, cfg.Scheduler.BatchSize)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, 600, cfg.Scheduler.StuckAfterSecond)
	assert.Equal(t, 60, cfg.Scheduler.CompensateIntervalSecond)
	assert.Equal(t, "ledger.changed", cfg.Kafka.Topic.LedgerChanged)
	assert.Equal(t, 5, cfg.Business.MaxRetryCount)
	// viper 读出的 key 是小写
	assert.Equal(t, 17.5, cfg.Rates["usd"])
}

func TestLoadConfigEnvOverride(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 8081
rates:
  MXN: 1
`)
	t.Setenv("FINLEDGER_SERVER_PORT", "9090")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"缺少汇率表", "server:\n  port: 8080\n"},
		{"汇率非正数", "rates:\n  MXN: 0\n"},
		{"批次大小为0", "scheduler:\n  batch_size: 0\nrates:\n  MXN: 1\n"},
		{"卡住判定短于锁过期", "scheduler:\n  stuck_after_second: 60\nrates:\n  MXN: 1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
