package config

import (
	"os"
	"path/filepath"
)

// stateDirOverride lets tests point the engine at a throwaway directory.
var stateDirOverride string

// SetStateDir overrides the application state directory (tests only).
func SetStateDir(dir string) {
	stateDirOverride = dir
}

// GetAppDir returns the torrentlite state directory (~/.torrentlite).
func GetAppDir() string {
	if stateDirOverride != "" {
		return stateDirOverride
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".torrentlite"
	}
	return filepath.Join(homeDir, ".torrentlite")
}

// GetResumeDir returns the directory holding per-task resume records.
func GetResumeDir() string {
	return filepath.Join(GetAppDir(), "resume")
}

// GetHistoryPath returns the path of the completed-downloads database.
func GetHistoryPath() string {
	return filepath.Join(GetAppDir(), "history.db")
}

// GetLockPath returns the path of the cross-process state lock.
func GetLockPath() string {
	return filepath.Join(GetAppDir(), "state.lock")
}

// EnsureDirs creates the state directories if they do not exist.
func EnsureDirs() error {
	return os.MkdirAll(GetResumeDir(), 0o755)
}
