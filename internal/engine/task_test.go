package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IsaacGridGainsDev/torrentlite/internal/engine/events"
	"github.com/IsaacGridGainsDev/torrentlite/internal/engine/types"
	"github.com/IsaacGridGainsDev/torrentlite/internal/testutil"
)

// fakeStore is an in-memory Checkpointer.
type fakeStore struct {
	mu      sync.Mutex
	recs    map[string]*types.ResumeRecord
	saves   int
	deletes int
}

func newFakeStore() *fakeStore {
	return &fakeStore{recs: make(map[string]*types.ResumeRecord)}
}

func (f *fakeStore) Save(rec *types.ResumeRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *rec
	cp.Segments = append([]types.Segment(nil), rec.Segments...)
	f.recs[rec.TaskID] = &cp
	f.saves++
	return nil
}

func (f *fakeStore) Delete(taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.recs, taskID)
	f.deletes++
	return nil
}

func (f *fakeStore) get(taskID string) *types.ResumeRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recs[taskID]
}

func newTestTask(t *testing.T, url string, segments int, store *fakeStore, opts ...func(*TaskConfig)) (*Task, string) {
	t.Helper()
	dest := filepath.Join(t.TempDir(), "out.bin")
	cfg := TaskConfig{
		ID:       "task-" + t.Name(),
		URL:      url,
		DestPath: dest,
		Segments: segments,
		Runtime: &types.RuntimeConfig{
			CheckpointInterval: 50 * time.Millisecond,
		},
	}
	if store != nil {
		cfg.Checkpoint = store
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return NewTask(cfg), dest
}

func readFile(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func TestTaskSegmentedDownload(t *testing.T) {
	srv := testutil.NewMockServer(testutil.WithFileSize(10 * types.MB))
	defer srv.Close()

	store := newFakeStore()
	task, dest := newTestTask(t, srv.URL(), 4, store)

	require.NoError(t, task.Run(context.Background()))
	assert.Equal(t, types.TaskCompleted, task.State())

	assert.Equal(t, srv.Data(), readFile(t, dest))
	assert.GreaterOrEqual(t, srv.RangeRequests.Load(), int64(4))

	// Finalize must leave neither temp file nor resume record behind.
	_, err := os.Stat(dest + types.PartSuffix)
	assert.True(t, os.IsNotExist(err))
	assert.Nil(t, store.get(task.ID()))
}

func TestTaskSingleStreamWithoutRangeSupport(t *testing.T) {
	srv := testutil.NewMockServer(
		testutil.WithFileSize(1*types.MB),
		testutil.WithRangeSupport(false),
	)
	defer srv.Close()

	task, dest := newTestTask(t, srv.URL(), 4, nil)

	require.NoError(t, task.Run(context.Background()))
	assert.Equal(t, types.TaskCompleted, task.State())
	assert.Equal(t, srv.Data(), readFile(t, dest))
	assert.Zero(t, srv.RangeRequests.Load())
}

func TestTaskDegradesWhenServerIgnoresRanges(t *testing.T) {
	// The server advertises range support but answers ranged GETs with
	// a 200 full body. The task must fall back to a single stream and
	// still produce a correct file.
	srv := testutil.NewMockServer(
		testutil.WithFileSize(1*types.MB),
		testutil.WithIgnoreRanges(),
	)
	defer srv.Close()

	task, dest := newTestTask(t, srv.URL(), 4, nil)

	require.NoError(t, task.Run(context.Background()))
	assert.Equal(t, types.TaskCompleted, task.State())
	assert.Equal(t, srv.Data(), readFile(t, dest))
}

func TestTaskRetriesTransientFailures(t *testing.T) {
	srv := testutil.NewMockServer(
		testutil.WithFileSize(1*types.MB),
		testutil.WithFailFirstN(2),
	)
	defer srv.Close()

	task, dest := newTestTask(t, srv.URL(), 4, nil)

	require.NoError(t, task.Run(context.Background()))
	assert.Equal(t, types.TaskCompleted, task.State())
	assert.Equal(t, srv.Data(), readFile(t, dest))
}

func TestTaskFailsOnPermanentHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Accept-Ranges", "bytes")
			w.Header().Set("Content-Length", strconv.Itoa(1024))
			w.WriteHeader(http.StatusOK)
			return
		}
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	evCh := make(chan any, 64)
	task, _ := newTestTask(t, srv.URL, 2, nil, func(cfg *TaskConfig) {
		cfg.Events = evCh
	})

	err := task.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.TaskFailed, task.State())
	assert.Equal(t, KindPermanentHTTP, KindOf(err))
}

func TestTaskUnknownSizeSingleStream(t *testing.T) {
	srv := testutil.NewMockServer(
		testutil.WithFileSize(700*types.KB),
		testutil.WithHideLength(),
	)
	defer srv.Close()

	task, dest := newTestTask(t, srv.URL(), 4, nil)

	require.NoError(t, task.Run(context.Background()))
	assert.Equal(t, types.TaskCompleted, task.State())
	assert.Equal(t, srv.Data(), readFile(t, dest))
	assert.Equal(t, int64(700*types.KB), task.Info().TotalSize)
}

func TestTaskPauseUnknownSizeRemovesPartFile(t *testing.T) {
	srv := testutil.NewMockServer(
		testutil.WithFileSize(2*types.MB),
		testutil.WithHideLength(),
		testutil.WithChunkDelay(20*time.Millisecond),
	)
	defer srv.Close()

	store := newFakeStore()
	task, dest := newTestTask(t, srv.URL(), 4, store)

	done := make(chan error, 1)
	go func() { done <- task.Run(context.Background()) }()

	time.Sleep(150 * time.Millisecond)
	task.Pause()
	require.NoError(t, <-done)
	require.Equal(t, types.TaskPaused, task.State())

	// Nothing persists a plan for an unsized stream: no record may be
	// written and no partial file may be left behind.
	assert.Nil(t, store.get(task.ID()))
	_, err := os.Stat(dest + types.PartSuffix)
	assert.True(t, os.IsNotExist(err), "part file must be removed on a non-resumable pause")
}

func TestTaskChecksumVerified(t *testing.T) {
	srv := testutil.NewMockServer(testutil.WithFileSize(512 * types.KB))
	defer srv.Close()

	task, dest := newTestTask(t, srv.URL(), 2, nil, func(cfg *TaskConfig) {
		cfg.MD5Sum = srv.MD5Sum()
		cfg.SHA256Sum = srv.SHA256Sum()
	})

	require.NoError(t, task.Run(context.Background()))
	assert.Equal(t, types.TaskCompleted, task.State())
	assert.Equal(t, srv.Data(), readFile(t, dest))
}

func TestTaskChecksumMismatchKeepsFile(t *testing.T) {
	srv := testutil.NewMockServer(testutil.WithFileSize(512 * types.KB))
	defer srv.Close()

	task, dest := newTestTask(t, srv.URL(), 2, nil, func(cfg *TaskConfig) {
		cfg.MD5Sum = "00000000000000000000000000000000"
	})

	err := task.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.TaskFailed, task.State())
	assert.Equal(t, KindVerification, KindOf(err))

	// The bytes are kept on disk for inspection.
	assert.Equal(t, srv.Data(), readFile(t, dest))
}

func TestTaskPauseThenResume(t *testing.T) {
	srv := testutil.NewMockServer(
		testutil.WithFileSize(2*types.MB),
		testutil.WithChunkDelay(20*time.Millisecond),
		testutil.WithETag(`"v1"`),
	)
	defer srv.Close()

	store := newFakeStore()
	task, dest := newTestTask(t, srv.URL(), 4, store)

	done := make(chan error, 1)
	go func() { done <- task.Run(context.Background()) }()

	time.Sleep(150 * time.Millisecond)
	task.Pause()
	require.NoError(t, <-done)
	require.Equal(t, types.TaskPaused, task.State())

	rec := store.get(task.ID())
	require.NotNil(t, rec, "pause must persist a resume record")
	downloaded := rec.DownloadedBytes()
	assert.Positive(t, downloaded)
	assert.Less(t, downloaded, int64(2*types.MB))

	_, err := os.Stat(dest + types.PartSuffix)
	assert.NoError(t, err, "part file survives a pause")

	// A fresh task picks the plan back up from the record.
	resumed := NewTask(TaskConfig{
		ID:         task.ID(),
		URL:        srv.URL(),
		DestPath:   rec.DestPath,
		Runtime:    &types.RuntimeConfig{CheckpointInterval: 50 * time.Millisecond},
		Checkpoint: store,
		Resume:     rec,
	})
	require.NoError(t, resumed.Run(context.Background()))
	assert.Equal(t, types.TaskCompleted, resumed.State())
	assert.Equal(t, srv.Data(), readFile(t, dest))
	assert.Nil(t, store.get(task.ID()))
}

func TestTaskResumeValidatorMismatchRestarts(t *testing.T) {
	srv := testutil.NewMockServer(
		testutil.WithFileSize(1*types.MB),
		testutil.WithChunkDelay(20*time.Millisecond),
		testutil.WithETag(`"v1"`),
	)
	defer srv.Close()

	store := newFakeStore()
	task, dest := newTestTask(t, srv.URL(), 4, store)

	done := make(chan error, 1)
	go func() { done <- task.Run(context.Background()) }()
	time.Sleep(100 * time.Millisecond)
	task.Pause()
	require.NoError(t, <-done)

	rec := store.get(task.ID())
	require.NotNil(t, rec)

	// Content changed on the server since plan time: the validators no
	// longer match and the resume must fail closed into a fresh start.
	srv.SetETag(`"v2"`)

	resumed := NewTask(TaskConfig{
		ID:         task.ID(),
		URL:        srv.URL(),
		DestPath:   rec.DestPath,
		Runtime:    &types.RuntimeConfig{CheckpointInterval: 50 * time.Millisecond},
		Checkpoint: store,
		Resume:     rec,
	})
	require.NoError(t, resumed.Run(context.Background()))
	assert.Equal(t, types.TaskCompleted, resumed.State())
	assert.Equal(t, srv.Data(), readFile(t, dest))
}

func TestTaskResumeSkipsFullyConfirmedSegments(t *testing.T) {
	srv := testutil.NewMockServer(
		testutil.WithFileSize(1*types.MB),
		testutil.WithETag(`"v1"`),
	)
	defer srv.Close()

	data := srv.Data()
	half := int64(len(data) / 2)
	dest := filepath.Join(t.TempDir(), "out.bin")

	// A checkpoint can race segment completion: all of the first
	// segment's bytes are confirmed but its recorded state is still
	// in-flight. The part file holds exactly those bytes.
	require.NoError(t, os.WriteFile(dest+types.PartSuffix, data[:half], 0o644))
	rec := &types.ResumeRecord{
		Version:   types.RecordVersion,
		TaskID:    "task-" + t.Name(),
		URL:       srv.URL(),
		DestPath:  dest,
		Filename:  "testfile.bin",
		TotalSize: int64(len(data)),
		ETag:      `"v1"`,
		Segments: []types.Segment{
			{Index: 0, Start: 0, End: half - 1, Downloaded: half, State: types.SegmentInFlight},
			{Index: 1, Start: half, End: int64(len(data)) - 1, State: types.SegmentPending},
		},
		CreatedAt: time.Now().Unix(),
	}

	store := newFakeStore()
	task := NewTask(TaskConfig{
		ID:         rec.TaskID,
		URL:        srv.URL(),
		DestPath:   dest,
		Runtime:    &types.RuntimeConfig{CheckpointInterval: 50 * time.Millisecond},
		Checkpoint: store,
		Resume:     rec,
	})
	require.NoError(t, task.Run(context.Background()))
	assert.Equal(t, types.TaskCompleted, task.State())
	assert.Equal(t, data, readFile(t, dest))

	// One probe HEAD plus one ranged GET for the unfinished segment.
	// The confirmed segment must not produce a request at all: its
	// range would be the empty bytes=<end+1>-<end> spec.
	assert.EqualValues(t, 2, srv.RequestCount.Load())
	assert.EqualValues(t, 1, srv.RangeRequests.Load())
}

func TestTaskCancelRemovesEverything(t *testing.T) {
	srv := testutil.NewMockServer(
		testutil.WithFileSize(2*types.MB),
		testutil.WithChunkDelay(20*time.Millisecond),
	)
	defer srv.Close()

	store := newFakeStore()
	task, dest := newTestTask(t, srv.URL(), 4, store)

	done := make(chan error, 1)
	go func() { done <- task.Run(context.Background()) }()
	time.Sleep(150 * time.Millisecond)
	task.Cancel()
	require.NoError(t, <-done)
	assert.Equal(t, types.TaskCancelled, task.State())

	_, err := os.Stat(dest + types.PartSuffix)
	assert.True(t, os.IsNotExist(err), "cancel must remove the part file")
	_, err = os.Stat(dest)
	assert.True(t, os.IsNotExist(err))
	assert.Nil(t, store.get(task.ID()))
}

func TestTaskEmitsLifecycleEvents(t *testing.T) {
	srv := testutil.NewMockServer(testutil.WithFileSize(512 * types.KB))
	defer srv.Close()

	ch := make(chan any, 256)
	task, _ := newTestTask(t, srv.URL(), 2, nil, func(cfg *TaskConfig) {
		cfg.Events = ch
	})

	require.NoError(t, task.Run(context.Background()))
	close(ch)

	var started, progressed, completed bool
	for msg := range ch {
		switch msg.(type) {
		case events.TaskStartedMsg:
			started = true
		case events.TaskProgressMsg:
			progressed = true
		case events.TaskCompletedMsg:
			completed = true
		}
	}
	assert.True(t, started)
	assert.True(t, progressed, "aggregator must publish at least the final snapshot")
	assert.True(t, completed)
}
