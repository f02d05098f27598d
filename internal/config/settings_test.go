package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withTempStateDir(t *testing.T) {
	t.Helper()
	SetStateDir(t.TempDir())
	t.Cleanup(func() { SetStateDir("") })
}

func TestLoadSettingsMissingFileReturnsDefaults(t *testing.T) {
	withTempStateDir(t)

	s, err := LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), s)
}

func TestSaveAndLoadSettings(t *testing.T) {
	withTempStateDir(t)

	s := DefaultSettings()
	s.Connections.DefaultSegments = 8
	s.Performance.FailFast = true
	require.NoError(t, SaveSettings(s))

	loaded, err := LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, 8, loaded.Connections.DefaultSegments)
	assert.True(t, loaded.Performance.FailFast)
	// Untouched fields keep their defaults.
	assert.Equal(t, 3, loaded.Connections.MaxConcurrentTasks)
}

func TestLoadSettingsMergesPartialFile(t *testing.T) {
	withTempStateDir(t)
	require.NoError(t, EnsureDirs())

	// A hand-edited file naming only one field must not zero the rest.
	partial := []byte(`{"connections": {"default_segments": 16}}`)
	require.NoError(t, os.WriteFile(GetSettingsPath(), partial, 0o644))

	s, err := LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, 16, s.Connections.DefaultSegments)
	assert.Equal(t, 32, s.Connections.MaxGlobalConnections)
	assert.Equal(t, 30*time.Second, s.Performance.RequestTimeout)
}

func TestToRuntimeConfig(t *testing.T) {
	s := DefaultSettings()
	s.Performance.ThrottleBytesPerSec = 1024

	rc := s.ToRuntimeConfig()
	assert.Equal(t, 4, rc.GetDefaultSegments())
	assert.Equal(t, int64(256*1024), rc.GetMinSegmentSize())
	assert.Equal(t, int64(1024), rc.GetThrottleBytesPerSec())
	assert.False(t, rc.GetFailFast())
}

func TestStateDirLayout(t *testing.T) {
	withTempStateDir(t)
	require.NoError(t, EnsureDirs())

	assert.DirExists(t, GetResumeDir())
	assert.Equal(t, filepath.Join(GetAppDir(), "history.db"), GetHistoryPath())
	assert.Equal(t, filepath.Join(GetAppDir(), "state.lock"), GetLockPath())
}
