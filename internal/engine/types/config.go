package types

import (
	"time"
)

// Size constants
const (
	KB = 1024
	MB = 1024 * KB
	GB = 1024 * MB

	// PartSuffix is appended to the destination file while downloading.
	PartSuffix = ".tlpart"
)

// Segment planning constants
const (
	MinSegmentSize = 256 * KB // floor below which the planner reduces N
	WorkerBuffer   = 128 * KB // per-worker read buffer
	MaxSegments    = 32
)

// Retry constants
const (
	MaxSegmentRetries = 3
	TaskRetryBudget   = 2 // extra best-effort rounds for failed segments
	RetryBaseDelay    = 200 * time.Millisecond
	StallTimeout      = 15 * time.Second
)

// HTTP client tuning
const (
	DefaultRequestTimeout        = 30 * time.Second
	DefaultMaxIdleConns          = 100
	DefaultIdleConnTimeout       = 90 * time.Second
	DefaultTLSHandshakeTimeout   = 10 * time.Second
	DefaultResponseHeaderTimeout = 15 * time.Second
	DefaultExpectContinueTimeout = 1 * time.Second
	DialTimeout                  = 10 * time.Second
	KeepAliveDuration            = 30 * time.Second
)

// Checkpoint and progress publishing
const (
	DefaultCheckpointInterval = 1 * time.Second
	ProgressPublishInterval   = 200 * time.Millisecond
	SpeedWindow               = 3 * time.Second
	EventChannelBuffer        = 100
)

// RuntimeConfig holds dynamic settings that can override the defaults
// above. A nil *RuntimeConfig is valid and yields defaults everywhere.
type RuntimeConfig struct {
	UserAgent            string
	DefaultSegments      int
	MinSegmentSize       int64
	WorkerBufferSize     int
	MaxSegmentRetries    int
	TaskRetryBudget      int
	FailFast             bool
	RequestTimeout       time.Duration
	StallTimeout         time.Duration
	CheckpointInterval   time.Duration
	ThrottleBytesPerSec  int64
	MaxGlobalConnections int
}

const defaultUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) " +
	"Chrome/120.0.0.0 Safari/537.36"

// GetUserAgent returns the configured user agent or the default.
func (r *RuntimeConfig) GetUserAgent() string {
	if r == nil || r.UserAgent == "" {
		return defaultUA
	}
	return r.UserAgent
}

// GetDefaultSegments returns the configured segment count or 4.
func (r *RuntimeConfig) GetDefaultSegments() int {
	if r == nil || r.DefaultSegments <= 0 {
		return 4
	}
	return r.DefaultSegments
}

// GetMinSegmentSize returns the configured value or the default floor.
func (r *RuntimeConfig) GetMinSegmentSize() int64 {
	if r == nil || r.MinSegmentSize <= 0 {
		return MinSegmentSize
	}
	return r.MinSegmentSize
}

// GetWorkerBufferSize returns the configured value or the default.
func (r *RuntimeConfig) GetWorkerBufferSize() int {
	if r == nil || r.WorkerBufferSize <= 0 {
		return WorkerBuffer
	}
	return r.WorkerBufferSize
}

// GetMaxSegmentRetries returns the configured value or the default.
func (r *RuntimeConfig) GetMaxSegmentRetries() int {
	if r == nil || r.MaxSegmentRetries <= 0 {
		return MaxSegmentRetries
	}
	return r.MaxSegmentRetries
}

// GetTaskRetryBudget returns the configured value or the default.
func (r *RuntimeConfig) GetTaskRetryBudget() int {
	if r == nil || r.TaskRetryBudget < 0 {
		return TaskRetryBudget
	}
	return r.TaskRetryBudget
}

// GetFailFast reports whether a single exhausted segment fails the task.
func (r *RuntimeConfig) GetFailFast() bool {
	return r != nil && r.FailFast
}

// GetRequestTimeout returns the configured value or the default.
func (r *RuntimeConfig) GetRequestTimeout() time.Duration {
	if r == nil || r.RequestTimeout <= 0 {
		return DefaultRequestTimeout
	}
	return r.RequestTimeout
}

// GetStallTimeout returns the configured value or the default.
func (r *RuntimeConfig) GetStallTimeout() time.Duration {
	if r == nil || r.StallTimeout <= 0 {
		return StallTimeout
	}
	return r.StallTimeout
}

// GetCheckpointInterval returns the configured value or the default.
func (r *RuntimeConfig) GetCheckpointInterval() time.Duration {
	if r == nil || r.CheckpointInterval <= 0 {
		return DefaultCheckpointInterval
	}
	return r.CheckpointInterval
}

// GetThrottleBytesPerSec returns the byte rate cap, 0 meaning unlimited.
func (r *RuntimeConfig) GetThrottleBytesPerSec() int64 {
	if r == nil || r.ThrottleBytesPerSec <= 0 {
		return 0
	}
	return r.ThrottleBytesPerSec
}

// GetMaxGlobalConnections returns the configured value or a default of 32.
func (r *RuntimeConfig) GetMaxGlobalConnections() int {
	if r == nil || r.MaxGlobalConnections <= 0 {
		return 32
	}
	return r.MaxGlobalConnections
}
