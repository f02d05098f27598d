package types

import (
	"sync/atomic"
)

// SegmentState tracks the lifecycle of a single byte-range segment.
type SegmentState int32

const (
	SegmentPending SegmentState = iota
	SegmentInFlight
	SegmentPaused
	SegmentCompleted
	SegmentFailed
)

func (s SegmentState) String() string {
	switch s {
	case SegmentPending:
		return "pending"
	case SegmentInFlight:
		return "in_flight"
	case SegmentPaused:
		return "paused"
	case SegmentCompleted:
		return "completed"
	case SegmentFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Segment is one contiguous byte range of the target resource.
// Start and End are inclusive; End == -1 means the range extent is
// unknown (single-stream download of an unsized resource).
//
// Downloaded and State are mutated by the worker goroutine while the
// checkpoint loop reads them, so access goes through the atomic
// accessors below. The plain fields keep JSON round-tripping simple.
type Segment struct {
	Index      int          `json:"index"`
	Start      int64        `json:"start"`
	End        int64        `json:"end"`
	Downloaded int64        `json:"downloaded"`
	State      SegmentState `json:"state"`
	Retries    int32        `json:"retries"`
}

// Length returns the total byte count of the segment, or -1 when the
// extent is unknown.
func (s *Segment) Length() int64 {
	if s.End < 0 {
		return -1
	}
	return s.End - s.Start + 1
}

// GetDownloaded atomically reads the confirmed byte count.
func (s *Segment) GetDownloaded() int64 {
	return atomic.LoadInt64(&s.Downloaded)
}

// AddDownloaded atomically advances the confirmed byte count.
func (s *Segment) AddDownloaded(n int64) {
	atomic.AddInt64(&s.Downloaded, n)
}

// SetDownloaded atomically overwrites the confirmed byte count.
func (s *Segment) SetDownloaded(n int64) {
	atomic.StoreInt64(&s.Downloaded, n)
}

// Remaining returns the bytes left in the segment, or -1 when unknown.
func (s *Segment) Remaining() int64 {
	if s.End < 0 {
		return -1
	}
	return s.Length() - s.GetDownloaded()
}

// GetState atomically reads the segment state.
func (s *Segment) GetState() SegmentState {
	return SegmentState(atomic.LoadInt32((*int32)(&s.State)))
}

// SetState atomically updates the segment state.
func (s *Segment) SetState(st SegmentState) {
	atomic.StoreInt32((*int32)(&s.State), int32(st))
}

// AddRetry atomically increments the retry counter.
func (s *Segment) AddRetry() {
	atomic.AddInt32(&s.Retries, 1)
}

// Clone returns a plain-value copy safe for serialization, reading the
// mutable fields through their atomic accessors.
func (s *Segment) Clone() Segment {
	return Segment{
		Index:      s.Index,
		Start:      s.Start,
		End:        s.End,
		Downloaded: s.GetDownloaded(),
		State:      s.GetState(),
		Retries:    atomic.LoadInt32(&s.Retries),
	}
}

// TaskState is the lifecycle state of a DownloadTask.
type TaskState int32

const (
	TaskPlanning TaskState = iota
	TaskDownloading
	TaskPaused
	TaskFinalizing
	TaskCompleted
	TaskFailed
	TaskCancelled
)

func (s TaskState) String() string {
	switch s {
	case TaskPlanning:
		return "planning"
	case TaskDownloading:
		return "downloading"
	case TaskPaused:
		return "paused"
	case TaskFinalizing:
		return "finalizing"
	case TaskCompleted:
		return "completed"
	case TaskFailed:
		return "failed"
	case TaskCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s TaskState) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// CanTransition reports whether moving from s to next is a legal
// state-machine step. Cancelled is reachable from any non-terminal state.
func (s TaskState) CanTransition(next TaskState) bool {
	if s.Terminal() {
		return false
	}
	if next == TaskCancelled {
		return true
	}
	switch s {
	case TaskPlanning:
		return next == TaskDownloading || next == TaskFailed
	case TaskDownloading:
		return next == TaskPaused || next == TaskFinalizing || next == TaskFailed
	case TaskPaused:
		return next == TaskDownloading || next == TaskFailed
	case TaskFinalizing:
		return next == TaskCompleted || next == TaskFailed
	default:
		return false
	}
}

// ResumeRecord is the persisted state that lets an interrupted task
// continue after a process restart. Unknown future fields are ignored
// on load, so the format is forward-readable.
type ResumeRecord struct {
	Version      int       `json:"version"`
	TaskID       string    `json:"task_id"`
	URL          string    `json:"url"`
	DestPath     string    `json:"dest_path"`
	Filename     string    `json:"filename"`
	TotalSize    int64     `json:"total_size"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	MD5Sum       string    `json:"md5_sum,omitempty"`
	SHA256Sum    string    `json:"sha256_sum,omitempty"`
	Segments     []Segment `json:"segments"`
	CreatedAt    int64     `json:"created_at"`
	UpdatedAt    int64     `json:"updated_at"`
}

// RecordVersion is written into every new resume record.
const RecordVersion = 1

// DownloadedBytes sums the confirmed offsets across all segments.
func (r *ResumeRecord) DownloadedBytes() int64 {
	var n int64
	for i := range r.Segments {
		n += r.Segments[i].Downloaded
	}
	return n
}
