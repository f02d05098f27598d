package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/IsaacGridGainsDev/torrentlite/internal/engine/types"
)

const (
	kb = 1024
	mb = 1024 * kb
)

// Settings holds all user-configurable options, organized by category.
type Settings struct {
	General     GeneralSettings     `json:"general"`
	Connections ConnectionSettings  `json:"connections"`
	Segments    SegmentSettings     `json:"segments"`
	Performance PerformanceSettings `json:"performance"`
}

// GeneralSettings contains application behavior settings.
type GeneralSettings struct {
	DefaultDownloadDir string `json:"default_download_dir"`
	HistoryEnabled     bool   `json:"history_enabled"`
	AutoResume         bool   `json:"auto_resume"`
}

// ConnectionSettings contains network connection parameters.
type ConnectionSettings struct {
	MaxConcurrentTasks   int    `json:"max_concurrent_tasks"`
	MaxGlobalConnections int    `json:"max_global_connections"`
	DefaultSegments      int    `json:"default_segments"`
	UserAgent            string `json:"user_agent"`
}

// SegmentSettings contains segment planning configuration.
type SegmentSettings struct {
	MinSegmentSize   int64 `json:"min_segment_size"`
	WorkerBufferSize int   `json:"worker_buffer_size"`
}

// PerformanceSettings contains retry and timeout tuning.
type PerformanceSettings struct {
	MaxSegmentRetries   int           `json:"max_segment_retries"`
	TaskRetryBudget     int           `json:"task_retry_budget"`
	FailFast            bool          `json:"fail_fast"`
	RequestTimeout      time.Duration `json:"request_timeout"`
	CheckpointInterval  time.Duration `json:"checkpoint_interval"`
	ThrottleBytesPerSec int64         `json:"throttle_bytes_per_sec"`
}

// DefaultSettings returns a Settings instance with sensible defaults.
func DefaultSettings() *Settings {
	homeDir, _ := os.UserHomeDir()
	defaultDir := filepath.Join(homeDir, "Downloads")

	return &Settings{
		General: GeneralSettings{
			DefaultDownloadDir: defaultDir,
			HistoryEnabled:     true,
			AutoResume:         false,
		},
		Connections: ConnectionSettings{
			MaxConcurrentTasks:   3,
			MaxGlobalConnections: 32,
			DefaultSegments:      4,
			UserAgent:            "", // empty means use default UA
		},
		Segments: SegmentSettings{
			MinSegmentSize:   256 * kb,
			WorkerBufferSize: 128 * kb,
		},
		Performance: PerformanceSettings{
			MaxSegmentRetries:  3,
			TaskRetryBudget:    2,
			FailFast:           false,
			RequestTimeout:     30 * time.Second,
			CheckpointInterval: time.Second,
		},
	}
}

// GetSettingsPath returns the path to the settings JSON file.
func GetSettingsPath() string {
	return filepath.Join(GetAppDir(), "settings.json")
}

// LoadSettings loads settings from disk. Missing file returns defaults;
// missing fields keep their default values.
func LoadSettings() (*Settings, error) {
	data, err := os.ReadFile(GetSettingsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultSettings(), nil
		}
		return nil, err
	}

	settings := DefaultSettings()
	if err := json.Unmarshal(data, settings); err != nil {
		return nil, err
	}
	return settings, nil
}

// SaveSettings saves settings to disk atomically (temp file then rename).
func SaveSettings(s *Settings) error {
	path := GetSettingsPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tempPath, path)
}

// ToRuntimeConfig converts user settings into the engine's runtime
// configuration.
func (s *Settings) ToRuntimeConfig() *types.RuntimeConfig {
	return &types.RuntimeConfig{
		UserAgent:            s.Connections.UserAgent,
		DefaultSegments:      s.Connections.DefaultSegments,
		MaxGlobalConnections: s.Connections.MaxGlobalConnections,
		MinSegmentSize:       s.Segments.MinSegmentSize,
		WorkerBufferSize:     s.Segments.WorkerBufferSize,
		MaxSegmentRetries:    s.Performance.MaxSegmentRetries,
		TaskRetryBudget:      s.Performance.TaskRetryBudget,
		FailFast:             s.Performance.FailFast,
		RequestTimeout:       s.Performance.RequestTimeout,
		CheckpointInterval:   s.Performance.CheckpointInterval,
		ThrottleBytesPerSec:  s.Performance.ThrottleBytesPerSec,
	}
}
