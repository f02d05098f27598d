package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskStateTransitions(t *testing.T) {
	tests := []struct {
		from    TaskState
		to      TaskState
		allowed bool
	}{
		{TaskPlanning, TaskDownloading, true},
		{TaskPlanning, TaskFailed, true},
		{TaskPlanning, TaskCancelled, true},
		{TaskPlanning, TaskPaused, false},
		{TaskPlanning, TaskCompleted, false},
		{TaskDownloading, TaskPaused, true},
		{TaskDownloading, TaskFinalizing, true},
		{TaskDownloading, TaskFailed, true},
		{TaskDownloading, TaskCancelled, true},
		{TaskDownloading, TaskCompleted, false},
		{TaskPaused, TaskDownloading, true},
		{TaskPaused, TaskCancelled, true},
		{TaskPaused, TaskFinalizing, false},
		{TaskFinalizing, TaskCompleted, true},
		{TaskFinalizing, TaskFailed, true},
		{TaskCompleted, TaskDownloading, false},
		{TaskCompleted, TaskCancelled, false},
		{TaskCancelled, TaskDownloading, false},
		{TaskFailed, TaskDownloading, false},
	}
	for _, tt := range tests {
		got := tt.from.CanTransition(tt.to)
		assert.Equal(t, tt.allowed, got, "%s -> %s", tt.from, tt.to)
	}
}

func TestTaskStateTerminal(t *testing.T) {
	assert.True(t, TaskCompleted.Terminal())
	assert.True(t, TaskFailed.Terminal())
	assert.True(t, TaskCancelled.Terminal())
	assert.False(t, TaskPlanning.Terminal())
	assert.False(t, TaskDownloading.Terminal())
	assert.False(t, TaskPaused.Terminal())
	assert.False(t, TaskFinalizing.Terminal())
}

func TestSegmentAccounting(t *testing.T) {
	seg := &Segment{Index: 0, Start: 100, End: 199}

	assert.Equal(t, int64(100), seg.Length())
	assert.Equal(t, int64(100), seg.Remaining())

	seg.AddDownloaded(40)
	assert.Equal(t, int64(40), seg.GetDownloaded())
	assert.Equal(t, int64(60), seg.Remaining())

	seg.SetDownloaded(100)
	assert.Equal(t, int64(0), seg.Remaining())
}

func TestSegmentUnknownExtent(t *testing.T) {
	seg := &Segment{Index: 0, Start: 0, End: -1}
	assert.Equal(t, int64(-1), seg.Length())
	assert.Equal(t, int64(-1), seg.Remaining())
}

func TestSegmentClone(t *testing.T) {
	seg := &Segment{Index: 2, Start: 512, End: 1023}
	seg.AddDownloaded(100)
	seg.SetState(SegmentInFlight)
	seg.AddRetry()

	c := seg.Clone()
	assert.Equal(t, int64(100), c.Downloaded)
	assert.Equal(t, SegmentInFlight, c.State)
	assert.Equal(t, int32(1), c.Retries)

	// The clone is detached from the original.
	seg.AddDownloaded(50)
	assert.Equal(t, int64(100), c.Downloaded)
}

func TestResumeRecordForwardReadable(t *testing.T) {
	// Records written by a future version carry fields this version
	// does not know; loading must ignore them.
	raw := []byte(`{
		"version": 1,
		"task_id": "abc",
		"url": "http://example.com/f.bin",
		"dest_path": "/tmp/f.bin",
		"filename": "f.bin",
		"total_size": 2048,
		"segments": [{"index":0,"start":0,"end":2047,"downloaded":512,"state":1}],
		"some_future_field": {"nested": true}
	}`)

	var rec ResumeRecord
	require.NoError(t, json.Unmarshal(raw, &rec))
	assert.Equal(t, "abc", rec.TaskID)
	assert.Equal(t, int64(2048), rec.TotalSize)
	require.Len(t, rec.Segments, 1)
	assert.Equal(t, int64(512), rec.Segments[0].Downloaded)
	assert.Equal(t, int64(512), rec.DownloadedBytes())
}
