package telemetry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/robalyx/jointracker/internal/setup/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetLoggers(t *testing.T) {
	t.Parallel()

	logDir := t.TempDir()
	manager := NewManager(ServiceBot, logDir, &config.Debug{
		LogLevel:      "debug",
		MaxLogsToKeep: 5,
		MaxLogSizeMB:  1,
	}, false)
	t.Cleanup(manager.Stop)

	logger, dbLogger, err := manager.GetLoggers()
	require.NoError(t, err)

	logger.Info("hello")
	dbLogger.Debug("query")

	sessionDir := manager.GetCurrentSessionDir()
	assert.Contains(t, filepath.Base(sessionDir), "_bot")
	assert.FileExists(t, filepath.Join(sessionDir, "main.log"))
	assert.FileExists(t, filepath.Join(sessionDir, "database.log"))
	assert.NotEmpty(t, manager.GetInstanceID())
}

func TestInvalidLogLevel(t *testing.T) {
	t.Parallel()

	manager := NewManager(ServiceCLI, t.TempDir(), &config.Debug{LogLevel: "loud", MaxLogsToKeep: 5}, false)
	t.Cleanup(manager.Stop)

	_, _, err := manager.GetLoggers()
	assert.Error(t, err)
}

func TestRotateLogSessions(t *testing.T) {
	t.Parallel()

	logDir := t.TempDir()
	base := time.Now().Add(-time.Hour)

	for i, name := range []string{"a", "b", "c", "d"} {
		dir := filepath.Join(logDir, name)
		require.NoError(t, os.Mkdir(dir, os.ModePerm))

		modTime := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, os.Chtimes(dir, modTime, modTime))
	}

	manager := NewManager(ServiceCLI, logDir, &config.Debug{LogLevel: "info", MaxLogsToKeep: 3}, false)
	require.NoError(t, manager.rotateLogSessions())

	entries, err := os.ReadDir(logDir)
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	assert.Equal(t, []string{"c", "d"}, names)
}
