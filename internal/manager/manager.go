// Package manager runs the download lifecycle: a bounded pool of task
// workers, global connection accounting, the event bus and the
// single-instance lock.
package manager

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/IsaacGridGainsDev/torrentlite/internal/config"
	"github.com/IsaacGridGainsDev/torrentlite/internal/engine"
	"github.com/IsaacGridGainsDev/torrentlite/internal/engine/events"
	"github.com/IsaacGridGainsDev/torrentlite/internal/engine/types"
	"github.com/IsaacGridGainsDev/torrentlite/internal/history"
	"github.com/IsaacGridGainsDev/torrentlite/internal/resume"
	"github.com/IsaacGridGainsDev/torrentlite/internal/utils"
)

// Request describes one download to enqueue.
type Request struct {
	URL       string
	DestPath  string // file path or directory; empty uses the configured download dir
	Segments  int    // 0 means the configured default
	MD5Sum    string
	SHA256Sum string
}

// Manager owns the task queue and the worker pool executing it.
type Manager struct {
	settings *config.Settings
	runtime  *types.RuntimeConfig
	log      zerolog.Logger

	store   *resume.Store
	history *history.Store
	lock    *flock.Flock
	client  *http.Client

	connSlots chan struct{}

	queue  chan *engine.Task
	events chan any

	mu          sync.Mutex
	tasks       map[string]*engine.Task
	subscribers []chan any
	started     bool

	ctx    context.Context
	cancel context.CancelFunc

	poolWG sync.WaitGroup // pool workers + dispatcher
	taskWG sync.WaitGroup // in-flight and queued tasks
}

// New builds a manager, acquiring the single-instance lock and opening
// the resume and history stores. Call Start before enqueuing.
func New(settings *config.Settings) (*Manager, error) {
	if err := config.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("failed to prepare state directory: %w", err)
	}

	lock := flock.New(config.GetLockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire instance lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("another instance is already running")
	}

	store, err := resume.NewStore(config.GetResumeDir())
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	hist, err := history.Open(config.GetHistoryPath())
	if err != nil {
		lock.Unlock()
		return nil, err
	}

	runtime := settings.ToRuntimeConfig()
	m := &Manager{
		settings:  settings,
		runtime:   runtime,
		client:    engine.NewClient(runtime.GetMaxGlobalConnections()),
		log:       utils.GetLogger("manager"),
		store:     store,
		history:   hist,
		lock:      lock,
		connSlots: make(chan struct{}, runtime.GetMaxGlobalConnections()),
		queue:     make(chan *engine.Task, 256),
		events:    make(chan any, types.EventChannelBuffer),
		tasks:     make(map[string]*engine.Task),
	}
	return m, nil
}

// Start launches the pool workers and the event dispatcher.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	workers := m.settings.Connections.MaxConcurrentTasks
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		m.poolWG.Add(1)
		go m.poolWorker(i)
	}
	m.poolWG.Add(1)
	go m.dispatch()

	m.log.Info().Int("workers", workers).Msg("manager started")
}

// poolWorker consumes the queue until it is closed. A cancelled
// manager context makes Run return quickly, so the queue still drains
// and every task's wait-group slot is released.
func (m *Manager) poolWorker(id int) {
	defer m.poolWG.Done()
	for task := range m.queue {
		m.log.Debug().Int("worker", id).Str("task", task.ID()).Msg("task picked up")
		_ = task.Run(m.ctx)
		m.taskWG.Done()
	}
}

// dispatch fans events out to subscribers and feeds completions into
// the history store.
func (m *Manager) dispatch() {
	defer m.poolWG.Done()
	defer func() {
		m.mu.Lock()
		for _, sub := range m.subscribers {
			close(sub)
		}
		m.subscribers = nil
		m.mu.Unlock()
	}()
	for msg := range m.events {
		if done, ok := msg.(events.TaskCompletedMsg); ok {
			m.recordCompletion(done)
		}
		m.mu.Lock()
		subs := make([]chan any, len(m.subscribers))
		copy(subs, m.subscribers)
		m.mu.Unlock()
		for _, sub := range subs {
			select {
			case sub <- msg:
			default:
				// Slow subscribers drop events rather than stall tasks.
			}
		}
	}
}

func (m *Manager) recordCompletion(msg events.TaskCompletedMsg) {
	if !m.settings.General.HistoryEnabled {
		return
	}
	err := m.history.Add(msg.TaskID, m.taskURL(msg.TaskID), msg.Filename,
		msg.DestPath, msg.Total, msg.Elapsed)
	if err != nil {
		m.log.Warn().Err(err).Str("task", msg.TaskID).Msg("failed to record history entry")
	}
}

func (m *Manager) taskURL(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tasks[id]; ok {
		return t.URL()
	}
	return ""
}

// Enqueue registers a new download and hands it to the pool. The
// returned id identifies the task in all later calls and events.
func (m *Manager) Enqueue(req Request) (string, error) {
	m.mu.Lock()
	started := m.started
	m.mu.Unlock()
	if !started {
		return "", fmt.Errorf("manager not started")
	}
	if req.URL == "" {
		return "", fmt.Errorf("empty URL")
	}
	dest := req.DestPath
	if dest == "" {
		dest = m.settings.General.DefaultDownloadDir
	}
	if dest == "" {
		dest = "."
	}

	id := uuid.New().String()
	task := engine.NewTask(engine.TaskConfig{
		ID:         id,
		URL:        req.URL,
		DestPath:   dest,
		Segments:   req.Segments,
		MD5Sum:     req.MD5Sum,
		SHA256Sum:  req.SHA256Sum,
		Runtime:    m.runtime,
		Client:     m.client,
		Events:     m.events,
		Checkpoint: m.store,
		ConnSlots:  m.connSlots,
	})
	return id, m.submit(task, events.TaskQueuedMsg{TaskID: id, URL: req.URL})
}

// Resume reconstructs a task from its persisted record and re-enqueues
// it. Unknown or corrupt records surface as errors.
func (m *Manager) Resume(taskID string) error {
	m.mu.Lock()
	started := m.started
	m.mu.Unlock()
	if !started {
		return fmt.Errorf("manager not started")
	}

	rec, err := m.store.Load(taskID)
	if err != nil {
		return err
	}
	task := engine.NewTask(engine.TaskConfig{
		ID:         rec.TaskID,
		URL:        rec.URL,
		DestPath:   rec.DestPath,
		MD5Sum:     rec.MD5Sum,
		SHA256Sum:  rec.SHA256Sum,
		Runtime:    m.runtime,
		Client:     m.client,
		Events:     m.events,
		Checkpoint: m.store,
		ConnSlots:  m.connSlots,
		Resume:     rec,
	})
	return m.submit(task, events.TaskResumedMsg{TaskID: rec.TaskID})
}

func (m *Manager) submit(task *engine.Task, announce any) error {
	m.mu.Lock()
	m.tasks[task.ID()] = task
	m.mu.Unlock()

	m.taskWG.Add(1)
	select {
	case m.queue <- task:
		m.events <- announce
		return nil
	default:
		m.taskWG.Done()
		m.mu.Lock()
		delete(m.tasks, task.ID())
		m.mu.Unlock()
		return fmt.Errorf("task queue is full")
	}
}

// Pause asks a running task to stop and persist its offsets.
func (m *Manager) Pause(taskID string) error {
	m.mu.Lock()
	task, ok := m.tasks[taskID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown task %s", taskID)
	}
	task.Pause()
	return nil
}

// Cancel aborts a task and removes everything it wrote.
func (m *Manager) Cancel(taskID string) error {
	m.mu.Lock()
	task, ok := m.tasks[taskID]
	m.mu.Unlock()
	if !ok {
		// Not in this process; best effort cleanup of persisted state.
		return m.store.Delete(taskID)
	}
	task.Cancel()
	return nil
}

// Subscribe returns a channel of task events. Slow consumers lose
// events instead of blocking the engine.
func (m *Manager) Subscribe() <-chan any {
	ch := make(chan any, types.EventChannelBuffer)
	m.mu.Lock()
	m.subscribers = append(m.subscribers, ch)
	m.mu.Unlock()
	return ch
}

// Tasks lists the tasks known to this process.
func (m *Manager) Tasks() []engine.Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	infos := make([]engine.Info, 0, len(m.tasks))
	for _, t := range m.tasks {
		infos = append(infos, t.Info())
	}
	return infos
}

// Task returns a live task by id.
func (m *Manager) Task(taskID string) (*engine.Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	return t, ok
}

// ListResumable returns the persisted records that can be resumed,
// from this or a previous process.
func (m *Manager) ListResumable() ([]*types.ResumeRecord, error) {
	return m.store.List()
}

// History returns the most recent completed downloads.
func (m *Manager) History(n int) ([]history.Entry, error) {
	return m.history.Recent(n)
}

// ClearHistory removes all history entries.
func (m *Manager) ClearHistory() error {
	return m.history.Clear()
}

// Wait blocks until every enqueued task reached a terminal or paused
// state.
func (m *Manager) Wait() {
	m.taskWG.Wait()
}

// Shutdown pauses running tasks so their offsets persist, waits for
// the pool to drain within the grace period, then releases all
// resources. Safe to call once.
func (m *Manager) Shutdown(grace time.Duration) {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		m.releaseResources()
		return
	}
	tasks := make([]*engine.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		tasks = append(tasks, t)
	}
	m.mu.Unlock()

	for _, t := range tasks {
		if !t.State().Terminal() {
			t.Pause()
		}
	}

	done := make(chan struct{})
	go func() {
		m.taskWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		m.log.Warn().Msg("shutdown grace period elapsed, aborting remaining tasks")
		m.cancel()
		<-done
	}

	m.cancel()
	close(m.queue)
	close(m.events)
	m.poolWG.Wait()
	m.releaseResources()
	m.log.Info().Msg("manager stopped")
}

func (m *Manager) releaseResources() {
	if m.history != nil {
		m.history.Close()
	}
	if m.lock != nil {
		m.lock.Unlock()
	}
}
