package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/robalyx/jointracker/internal/setup/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestLoadConfigFrom(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "common.toml", `
version = 1

[storage]
driver = "postgres"

[postgresql]
host = "db"
port = 5432
db_name = "tracker"
`)
	writeFile(t, dir, "bot.toml", `
version = 1

[discord]
token = "abc"
dev_guild_id = 1234

[scheduler]
workers = 3

[defaults]
report_time = "09:00"
timezone = "Asia/Tokyo"
`)

	cfg, used, err := config.LoadConfigFrom([]string{filepath.Join(dir, "missing"), dir})
	require.NoError(t, err)

	assert.Equal(t, dir, used)
	assert.Equal(t, config.DriverPostgres, cfg.Common.Storage.Driver)
	assert.Equal(t, "db", cfg.Common.PostgreSQL.Host)
	assert.Equal(t, 5432, cfg.Common.PostgreSQL.Port)
	assert.Equal(t, "abc", cfg.Bot.Discord.Token)
	assert.Equal(t, uint64(1234), cfg.Bot.Discord.DevGuildID)
	assert.Equal(t, 3, cfg.Bot.Scheduler.Workers)
	assert.Equal(t, "09:00", cfg.Bot.Defaults.ReportTime)
	assert.Equal(t, "Asia/Tokyo", cfg.Bot.Defaults.Timezone)

	// Omitted settings fall back to defaults
	assert.Equal(t, "info", cfg.Common.Debug.LogLevel)
	assert.Equal(t, 4, cfg.Bot.Scheduler.StartupConcurrency)
	assert.Equal(t, 10000, cfg.Bot.Scheduler.DeliveryTimeout)
	assert.Equal(t, "jointracker", cfg.Common.Telemetry.ServiceName)
}

func TestLoadConfigFromErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		common  string
		bot     string
		wantErr error
	}{
		{
			name:    "missing bot file",
			common:  "version = 1",
			wantErr: config.ErrConfigFileNotFound,
		},
		{
			name:    "missing version",
			common:  "[debug]\nlog_level = \"debug\"",
			bot:     "version = 1",
			wantErr: config.ErrConfigVersionMissing,
		},
		{
			name:    "version mismatch",
			common:  "version = 1",
			bot:     "version = 99",
			wantErr: config.ErrConfigVersionMismatch,
		},
		{
			name:    "unknown driver",
			common:  "version = 1\n[storage]\ndriver = \"mongo\"",
			bot:     "version = 1",
			wantErr: config.ErrUnknownStorageDriver,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			writeFile(t, dir, "common.toml", tt.common)
			if tt.bot != "" {
				writeFile(t, dir, "bot.toml", tt.bot)
			}

			_, _, err := config.LoadConfigFrom([]string{dir})
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}
