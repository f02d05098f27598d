package manager

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IsaacGridGainsDev/torrentlite/internal/config"
	"github.com/IsaacGridGainsDev/torrentlite/internal/engine/events"
	"github.com/IsaacGridGainsDev/torrentlite/internal/engine/types"
	"github.com/IsaacGridGainsDev/torrentlite/internal/testutil"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	config.SetStateDir(t.TempDir())
	t.Cleanup(func() { config.SetStateDir("") })

	settings := config.DefaultSettings()
	settings.Performance.CheckpointInterval = 50 * time.Millisecond

	m, err := New(settings)
	require.NoError(t, err)
	return m
}

func TestManagerRunsDownloadToCompletion(t *testing.T) {
	srv := testutil.NewMockServer(testutil.WithFileSize(1 * types.MB))
	defer srv.Close()

	m := newTestManager(t)
	m.Start(context.Background())

	sub := m.Subscribe()
	dest := filepath.Join(t.TempDir(), "out.bin")
	id, err := m.Enqueue(Request{URL: srv.URL(), DestPath: dest, Segments: 4})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	m.Wait()

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, srv.Data(), data)

	// Completion lands in history; the dispatcher writes it
	// asynchronously, so poll briefly.
	require.Eventually(t, func() bool {
		entries, herr := m.History(10)
		return herr == nil && len(entries) == 1
	}, 2*time.Second, 20*time.Millisecond)
	entries, err := m.History(10)
	require.NoError(t, err)
	assert.Equal(t, id, entries[0].TaskID)
	assert.Equal(t, int64(1*types.MB), entries[0].Size)

	m.Shutdown(5 * time.Second)

	// Subscribers observed queued, started and completed events.
	var sawQueued, sawCompleted bool
	for msg := range sub {
		switch events.TaskIDOf(msg) {
		case id:
			switch msg.(type) {
			case events.TaskQueuedMsg:
				sawQueued = true
			case events.TaskCompletedMsg:
				sawCompleted = true
			}
		}
	}
	assert.True(t, sawQueued)
	assert.True(t, sawCompleted)
}

func TestManagerSingleInstanceLock(t *testing.T) {
	m := newTestManager(t)
	defer m.Shutdown(time.Second)

	_, err := New(config.DefaultSettings())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
}

func TestManagerPauseThenResume(t *testing.T) {
	srv := testutil.NewMockServer(
		testutil.WithFileSize(2*types.MB),
		testutil.WithChunkDelay(20*time.Millisecond),
		testutil.WithETag(`"v1"`),
	)
	defer srv.Close()

	m := newTestManager(t)
	m.Start(context.Background())

	dest := filepath.Join(t.TempDir(), "out.bin")
	id, err := m.Enqueue(Request{URL: srv.URL(), DestPath: dest, Segments: 4})
	require.NoError(t, err)

	time.Sleep(300 * time.Millisecond)
	require.NoError(t, m.Pause(id))
	m.Wait()

	task, ok := m.Task(id)
	require.True(t, ok)
	require.Equal(t, types.TaskPaused, task.State())

	records, err := m.ListResumable()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, id, records[0].TaskID)
	assert.Positive(t, records[0].DownloadedBytes())

	require.NoError(t, m.Resume(id))
	m.Wait()

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, srv.Data(), data)

	records, err = m.ListResumable()
	require.NoError(t, err)
	assert.Empty(t, records)

	m.Shutdown(5 * time.Second)
}

func TestManagerCancel(t *testing.T) {
	srv := testutil.NewMockServer(
		testutil.WithFileSize(2*types.MB),
		testutil.WithChunkDelay(20*time.Millisecond),
	)
	defer srv.Close()

	m := newTestManager(t)
	m.Start(context.Background())

	dest := filepath.Join(t.TempDir(), "out.bin")
	id, err := m.Enqueue(Request{URL: srv.URL(), DestPath: dest, Segments: 4})
	require.NoError(t, err)

	time.Sleep(300 * time.Millisecond)
	require.NoError(t, m.Cancel(id))
	m.Wait()

	task, ok := m.Task(id)
	require.True(t, ok)
	assert.Equal(t, types.TaskCancelled, task.State())

	_, err = os.Stat(dest + types.PartSuffix)
	assert.True(t, os.IsNotExist(err))

	m.Shutdown(5 * time.Second)
}

func TestManagerResumeUnknownTask(t *testing.T) {
	m := newTestManager(t)
	m.Start(context.Background())
	defer m.Shutdown(time.Second)

	err := m.Resume("no-such-task")
	require.Error(t, err)
}

func TestManagerEnqueueValidation(t *testing.T) {
	m := newTestManager(t)

	// Not started yet.
	_, err := m.Enqueue(Request{URL: "http://example.com/f"})
	require.Error(t, err)

	m.Start(context.Background())
	defer m.Shutdown(time.Second)

	_, err = m.Enqueue(Request{URL: ""})
	require.Error(t, err)
}
