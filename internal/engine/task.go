package engine

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/IsaacGridGainsDev/torrentlite/internal/engine/events"
	"github.com/IsaacGridGainsDev/torrentlite/internal/engine/progress"
	"github.com/IsaacGridGainsDev/torrentlite/internal/engine/types"
	"github.com/IsaacGridGainsDev/torrentlite/internal/utils"
)

// Checkpointer persists and removes resume records. Implemented by
// *resume.Store; a nil Checkpointer disables persistence.
type Checkpointer interface {
	Save(rec *types.ResumeRecord) error
	Delete(taskID string) error
}

// TaskConfig carries everything a task needs from the manager.
type TaskConfig struct {
	ID       string
	URL      string
	DestPath string // file path, or an existing directory
	Segments int    // requested segment count; 0 means the runtime default

	MD5Sum    string // optional expected digest, hex
	SHA256Sum string // optional expected digest, hex

	Runtime    *types.RuntimeConfig
	Client     *http.Client
	Events     chan<- any
	Checkpoint Checkpointer
	ConnSlots  chan struct{} // global connection ceiling, may be nil

	// Resume, when set, reconstructs the task from a persisted record
	// instead of planning afresh.
	Resume *types.ResumeRecord
}

// Task owns the full lifecycle of one download: probe, plan, concurrent
// segment workers, checkpointing, finalize and verification.
type Task struct {
	cfg     TaskConfig
	runtime *types.RuntimeConfig
	client  *http.Client
	log     zerolog.Logger

	state atomic.Int32

	mu            sync.Mutex
	segments      []*types.Segment
	totalSize     int64
	filename      string
	destPath      string
	partPath      string
	etag          string
	lastModified  string
	supportsRange bool
	resumable     bool
	recCreatedAt  int64
	createdAt     time.Time
	updatedAt     time.Time
	cancelRun     context.CancelFunc

	file    *os.File
	agg     *progress.Aggregator
	limiter *byteLimiter

	pauseFlag  atomic.Bool
	cancelFlag atomic.Bool

	startTime time.Time
}

// Info is a read-only view of a task for listing interfaces.
type Info struct {
	ID         string
	URL        string
	DestPath   string
	Filename   string
	TotalSize  int64
	Downloaded int64
	State      types.TaskState
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NewTask builds a task in the Planning state. Run does the work.
func NewTask(cfg TaskConfig) *Task {
	client := cfg.Client
	if client == nil {
		client = NewClient(cfg.Runtime.GetMaxGlobalConnections())
	}
	t := &Task{
		cfg:       cfg,
		runtime:   cfg.Runtime,
		client:    client,
		log:       utils.GetLogger("task").With().Str("task", cfg.ID).Logger(),
		totalSize: -1,
		destPath:  cfg.DestPath,
		createdAt: time.Now(),
		updatedAt: time.Now(),
		limiter:   newByteLimiter(cfg.Runtime.GetThrottleBytesPerSec()),
	}
	t.state.Store(int32(types.TaskPlanning))
	return t
}

// ID returns the task id.
func (t *Task) ID() string { return t.cfg.ID }

// URL returns the source URL.
func (t *Task) URL() string { return t.cfg.URL }

// State returns the current lifecycle state.
func (t *Task) State() types.TaskState {
	return types.TaskState(t.state.Load())
}

// Info returns a consistent snapshot of the task's metadata.
func (t *Task) Info() Info {
	t.mu.Lock()
	defer t.mu.Unlock()
	var downloaded int64
	if t.agg != nil {
		downloaded = t.agg.Downloaded()
	} else {
		for _, seg := range t.segments {
			downloaded += seg.GetDownloaded()
		}
	}
	return Info{
		ID:         t.cfg.ID,
		URL:        t.cfg.URL,
		DestPath:   t.destPath,
		Filename:   t.filename,
		TotalSize:  t.totalSize,
		Downloaded: downloaded,
		State:      t.State(),
		CreatedAt:  t.createdAt,
		UpdatedAt:  t.updatedAt,
	}
}

// Progress returns the current progress snapshot, zero-valued before
// downloading starts.
func (t *Task) Progress() progress.Snapshot {
	t.mu.Lock()
	agg := t.agg
	t.mu.Unlock()
	if agg == nil {
		return progress.Snapshot{TaskID: t.cfg.ID, Total: -1, ETASeconds: -1, Timestamp: time.Now()}
	}
	return agg.Snapshot()
}

// Pause asks all workers to stop after their current read and persists
// the confirmed offsets. The task ends in the Paused state.
func (t *Task) Pause() {
	t.pauseFlag.Store(true)
	t.stopRun()
}

// Cancel aborts the task, removes its temp file and resume record, and
// ends in the Cancelled state.
func (t *Task) Cancel() {
	t.cancelFlag.Store(true)
	t.stopRun()
}

func (t *Task) stopRun() {
	t.mu.Lock()
	cancel := t.cancelRun
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// setState performs a validated state transition.
func (t *Task) setState(next types.TaskState) bool {
	for {
		cur := types.TaskState(t.state.Load())
		if cur == next {
			return true
		}
		if !cur.CanTransition(next) {
			t.log.Error().
				Str("from", cur.String()).
				Str("to", next.String()).
				Msg("illegal state transition ignored")
			return false
		}
		if t.state.CompareAndSwap(int32(cur), int32(next)) {
			t.mu.Lock()
			t.updatedAt = time.Now()
			t.mu.Unlock()
			t.log.Debug().Str("state", next.String()).Msg("state change")
			return true
		}
	}
}

func (t *Task) emit(msg any) {
	if t.cfg.Events != nil {
		t.cfg.Events <- msg
	}
}

// Run executes the task to a terminal or paused state. It blocks until
// done; the manager calls it from a pool worker. The returned error is
// the terminal failure, nil for Completed, Paused and Cancelled.
func (t *Task) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.cancelRun = cancel
	t.mu.Unlock()
	defer cancel()

	// Cancel may have arrived while the task sat in the queue.
	if t.cancelFlag.Load() {
		return t.finishCancelled()
	}

	if err := t.plan(runCtx); err != nil {
		if t.cancelFlag.Load() {
			return t.finishCancelled()
		}
		if t.pauseFlag.Load() && runCtx.Err() != nil {
			// Paused before a plan existed. Nothing was written, so
			// there is nothing to persist; the task stays in Planning.
			t.closeFile()
			t.log.Info().Msg("paused before planning finished")
			return nil
		}
		return t.fail(err)
	}

	err := t.download(runCtx)
	switch {
	case t.cancelFlag.Load():
		return t.finishCancelled()
	case t.pauseFlag.Load():
		return t.finishPaused()
	case err != nil:
		return t.fail(err)
	}

	if err := t.finalize(); err != nil {
		return t.fail(err)
	}
	return nil
}

// plan probes the server, builds (or reconstructs) the segment plan and
// pre-allocates the destination part file. Pre-allocation happens here,
// before any worker starts, so file creation is never racy.
func (t *Task) plan(ctx context.Context) error {
	if t.cfg.Resume != nil {
		if err := t.planFromRecord(ctx); err == nil {
			return t.openPartFile(false)
		} else if ctx.Err() != nil {
			return ctx.Err()
		}
		// Validation failed: restart from scratch per the fail-closed
		// resume policy.
		t.log.Warn().Msg("resume validation failed, restarting from scratch")
		t.discardResumeState()
	}

	pr, err := Probe(ctx, t.client, t.cfg.URL, t.runtime)
	if err != nil {
		if errors.Is(err, ErrProbeAmbiguous) {
			// Ambiguous capability answer: degrade to a single segment
			// of unknown size instead of aborting.
			t.log.Warn().Err(err).Msg("ambiguous probe, falling back to single segment")
			pr = &ProbeResult{TotalSize: -1, SupportsRange: false,
				Filename: utils.DetermineFilename(t.cfg.URL, nil)}
		} else {
			return err
		}
	}

	segCount := t.cfg.Segments
	if segCount <= 0 {
		segCount = t.runtime.GetDefaultSegments()
	}

	t.mu.Lock()
	t.totalSize = pr.TotalSize
	t.filename = pr.Filename
	t.etag = pr.ETag
	t.lastModified = pr.LastModified
	t.supportsRange = pr.SupportsRange
	t.destPath = resolveDestPath(t.cfg.DestPath, pr.Filename)
	t.partPath = t.destPath + types.PartSuffix
	var plan []types.Segment
	if pr.SupportsRange && pr.TotalSize > 0 {
		plan = PlanSegments(pr.TotalSize, segCount, t.runtime.GetMinSegmentSize())
	} else {
		plan = SingleSegmentPlan(pr.TotalSize)
	}
	t.segments = make([]*types.Segment, len(plan))
	for i := range plan {
		seg := plan[i]
		t.segments[i] = &seg
	}
	// Resume is only meaningful when the plan can be reconstructed and
	// ranges let workers skip completed bytes.
	t.resumable = pr.SupportsRange && pr.TotalSize > 0
	t.mu.Unlock()

	t.log.Info().
		Int64("size", pr.TotalSize).
		Bool("ranges", pr.SupportsRange).
		Int("segments", len(plan)).
		Str("dest", t.destPath).
		Msg("download planned")

	return t.openPartFile(true)
}

// planFromRecord validates a persisted record against a fresh probe and
// reconstructs the plan. Any mismatch fails the validation, which the
// caller answers by restarting from scratch.
func (t *Task) planFromRecord(ctx context.Context) error {
	rec := t.cfg.Resume

	pr, err := Probe(ctx, t.client, t.cfg.URL, t.runtime)
	if err != nil {
		return err
	}
	if !pr.SupportsRange || pr.TotalSize != rec.TotalSize {
		return fmt.Errorf("server capabilities changed since plan time")
	}
	if rec.ETag != "" && pr.ETag != rec.ETag {
		return fmt.Errorf("ETag changed since plan time")
	}
	if rec.ETag == "" && rec.LastModified != "" && pr.LastModified != rec.LastModified {
		return fmt.Errorf("Last-Modified changed since plan time")
	}

	partPath := rec.DestPath + types.PartSuffix
	if _, err := os.Stat(partPath); err != nil {
		return fmt.Errorf("part file missing: %w", err)
	}

	t.mu.Lock()
	t.totalSize = rec.TotalSize
	t.filename = rec.Filename
	t.etag = rec.ETag
	t.lastModified = rec.LastModified
	t.supportsRange = true
	t.destPath = rec.DestPath
	t.partPath = partPath
	t.resumable = true
	t.recCreatedAt = rec.CreatedAt
	t.segments = make([]*types.Segment, len(rec.Segments))
	for i := range rec.Segments {
		seg := rec.Segments[i]
		if seg.GetState() != types.SegmentCompleted {
			seg.SetState(types.SegmentPending)
		}
		t.segments[i] = &seg
	}
	t.mu.Unlock()

	t.log.Info().
		Int64("size", rec.TotalSize).
		Int64("downloaded", rec.DownloadedBytes()).
		Msg("resuming from persisted plan")
	return nil
}

// discardResumeState removes the stale record and part file so the
// fresh plan starts clean.
func (t *Task) discardResumeState() {
	if t.cfg.Checkpoint != nil {
		_ = t.cfg.Checkpoint.Delete(t.cfg.ID)
	}
	if rec := t.cfg.Resume; rec != nil {
		_ = os.Remove(rec.DestPath + types.PartSuffix)
	}
	t.cfg.Resume = nil
}

// openPartFile opens the working file, pre-sizing it for fresh
// segmented downloads so every worker can WriteAt into its own region.
func (t *Task) openPartFile(fresh bool) error {
	t.mu.Lock()
	partPath := t.partPath
	totalSize := t.totalSize
	t.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(partPath), 0o755); err != nil {
		return NewError(KindFilesystem, "cannot create destination directory", err)
	}
	f, err := os.OpenFile(partPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return NewError(KindFilesystem, "cannot create destination file", err)
	}
	if fresh && totalSize > 0 {
		if err := f.Truncate(totalSize); err != nil {
			f.Close()
			return NewError(KindFilesystem, "cannot pre-allocate destination file", err)
		}
	}
	t.mu.Lock()
	t.file = f
	t.mu.Unlock()
	return nil
}

// download runs the Downloading phase: aggregator, checkpoint loop and
// one worker per pending segment. Returns nil when every segment
// completed; ctx errors surface as-is for the pause/cancel paths.
func (t *Task) download(ctx context.Context) error {
	t.mu.Lock()
	var preDownloaded int64
	for _, seg := range t.segments {
		preDownloaded += seg.GetDownloaded()
	}
	t.agg = progress.NewAggregator(t.cfg.ID, t.totalSize, func(s progress.Snapshot) {
		t.emit(events.TaskProgressMsg{Snapshot: s})
	})
	t.agg.SetDownloaded(preDownloaded)
	total := t.totalSize
	filename := t.filename
	destPath := t.destPath
	t.mu.Unlock()

	if !t.setState(types.TaskDownloading) {
		return fmt.Errorf("task not in a startable state")
	}
	t.startTime = time.Now()
	t.emit(events.TaskStartedMsg{
		TaskID:   t.cfg.ID,
		URL:      t.cfg.URL,
		Filename: filename,
		DestPath: destPath,
		Total:    total,
	})

	t.agg.Start()
	defer t.agg.Stop()

	if err := t.checkpoint(); err != nil {
		t.log.Warn().Err(err).Msg("failed to write initial resume record")
	}
	stopCheckpoint := t.startCheckpointLoop(ctx)
	defer stopCheckpoint()

	err := t.downloadSegments(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, errRangeIgnored) && ctx.Err() == nil {
		// The server answered a ranged request with a full body. The
		// segmented plan cannot work; degrade to one single-stream
		// segment and start over.
		t.log.Warn().Msg("server ignored range request, degrading to single stream")
		t.restartSingleStream()
		return t.downloadSegments(ctx)
	}
	return err
}

// restartSingleStream resets the task to a one-segment plan.
func (t *Task) restartSingleStream() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, seg := range t.segments {
		if d := seg.GetDownloaded(); d > 0 {
			t.agg.Discard(d)
		}
	}
	plan := SingleSegmentPlan(t.totalSize)
	t.segments = []*types.Segment{&plan[0]}
	t.supportsRange = false
	t.resumable = false
	if t.cfg.Checkpoint != nil {
		_ = t.cfg.Checkpoint.Delete(t.cfg.ID)
	}
}

// downloadSegments runs pending segments to completion, re-running
// failed ones while the task-level retry budget lasts (best-effort
// policy). Under fail-fast the first exhausted segment fails the task.
func (t *Task) downloadSegments(ctx context.Context) error {
	budget := t.runtime.GetTaskRetryBudget()
	if t.runtime.GetFailFast() {
		budget = 0
	}

	var lastErr error
	for round := 0; round <= budget; round++ {
		lastErr = t.runSegmentsOnce(ctx)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil || errors.Is(lastErr, errRangeIgnored) {
			return lastErr
		}
		if KindOf(lastErr) == KindPermanentHTTP || KindOf(lastErr) == KindFilesystem {
			return lastErr
		}
		if round < budget {
			t.log.Warn().Err(lastErr).Int("round", round+1).
				Msg("segment failures, retrying at task level")
		}
	}
	return lastErr
}

// runSegmentsOnce spawns one worker per pending segment and waits.
func (t *Task) runSegmentsOnce(ctx context.Context) error {
	t.mu.Lock()
	var pending []*types.Segment
	for _, seg := range t.segments {
		if seg.GetState() != types.SegmentCompleted {
			pending = append(pending, seg)
		}
	}
	t.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	gctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, len(pending))
	for _, seg := range pending {
		wg.Add(1)
		go func(seg *types.Segment) {
			defer wg.Done()
			if err := t.runSegment(gctx, seg); err != nil {
				errCh <- err
				// A permanent failure (or fail-fast policy) makes the
				// other workers' remaining effort pointless.
				if t.runtime.GetFailFast() || !IsRetryable(err) {
					cancel()
				}
			}
		}(seg)
	}
	wg.Wait()
	close(errCh)

	if err := ctx.Err(); err != nil {
		return err
	}

	// Prefer the most decisive error: plan-level signals first, then
	// permanent failures, then anything that is not a context error.
	var first error
	for err := range errCh {
		if errors.Is(err, errRangeIgnored) {
			return err
		}
		switch {
		case first == nil:
			first = err
		case errors.Is(first, context.Canceled) && !errors.Is(err, context.Canceled):
			first = err
		case IsRetryable(first) && !IsRetryable(err) && !errors.Is(err, context.Canceled):
			first = err
		}
	}
	return first
}

// startCheckpointLoop persists segment offsets at a bounded rate while
// downloading. Returns a stop function that performs one final save.
func (t *Task) startCheckpointLoop(ctx context.Context) (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(t.runtime.GetCheckpointInterval())
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := t.checkpoint(); err != nil {
					t.log.Warn().Err(err).Msg("checkpoint failed")
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

// checkpoint writes the current resume record.
func (t *Task) checkpoint() error {
	t.mu.Lock()
	if t.cfg.Checkpoint == nil || !t.resumable {
		t.mu.Unlock()
		return nil
	}
	rec := &types.ResumeRecord{
		TaskID:       t.cfg.ID,
		URL:          t.cfg.URL,
		DestPath:     t.destPath,
		Filename:     t.filename,
		TotalSize:    t.totalSize,
		ETag:         t.etag,
		LastModified: t.lastModified,
		MD5Sum:       t.cfg.MD5Sum,
		SHA256Sum:    t.cfg.SHA256Sum,
		CreatedAt:    t.recCreatedAt,
		Segments:     make([]types.Segment, len(t.segments)),
	}
	for i, seg := range t.segments {
		rec.Segments[i] = seg.Clone()
	}
	store := t.cfg.Checkpoint
	t.mu.Unlock()

	if err := store.Save(rec); err != nil {
		return err
	}
	if t.recCreatedAt == 0 {
		t.mu.Lock()
		t.recCreatedAt = rec.CreatedAt
		t.mu.Unlock()
	}
	return nil
}

// finalize verifies size and digests and moves the part file into
// place. There is no merge pass, workers already wrote at their own
// offsets.
func (t *Task) finalize() error {
	if !t.setState(types.TaskFinalizing) {
		return fmt.Errorf("task not in a finalizable state")
	}

	t.mu.Lock()
	file := t.file
	partPath := t.partPath
	destPath := t.destPath
	totalSize := t.totalSize
	filename := t.filename
	t.file = nil
	t.mu.Unlock()

	if file != nil {
		if err := file.Sync(); err != nil {
			file.Close()
			return NewError(KindFilesystem, "failed to sync destination file", err)
		}
		if err := file.Close(); err != nil {
			return NewError(KindFilesystem, "failed to close destination file", err)
		}
	}

	if totalSize >= 0 {
		info, err := os.Stat(partPath)
		if err != nil {
			return NewError(KindFilesystem, "downloaded file missing at finalize", err)
		}
		if info.Size() != totalSize {
			return NewError(KindVerification,
				fmt.Sprintf("size mismatch: got %d bytes, expected %d", info.Size(), totalSize), nil)
		}
	}

	if err := os.Rename(partPath, destPath); err != nil {
		return NewError(KindFilesystem, "failed to move file into place", err)
	}

	// Digest mismatches keep the file on disk for inspection.
	if err := t.verifyDigests(destPath); err != nil {
		return err
	}

	if t.cfg.Checkpoint != nil {
		if err := t.cfg.Checkpoint.Delete(t.cfg.ID); err != nil {
			t.log.Warn().Err(err).Msg("failed to delete resume record")
		}
	}

	elapsed := time.Since(t.startTime)
	t.setState(types.TaskCompleted)
	t.emit(events.TaskCompletedMsg{
		TaskID:   t.cfg.ID,
		Filename: filename,
		DestPath: destPath,
		Total:    totalSize,
		Elapsed:  elapsed,
	})
	t.log.Info().Dur("elapsed", elapsed).Str("dest", destPath).Msg("download completed")
	return nil
}

// verifyDigests checks the finished file against any expected hashes.
func (t *Task) verifyDigests(path string) error {
	checks := []struct {
		name     string
		expected string
		newHash  func() hash.Hash
	}{
		{"md5", t.cfg.MD5Sum, md5.New},
		{"sha256", t.cfg.SHA256Sum, sha256.New},
	}

	for _, c := range checks {
		if c.expected == "" {
			continue
		}
		f, err := os.Open(path)
		if err != nil {
			return NewError(KindFilesystem, "cannot open file for verification", err)
		}
		h := c.newHash()
		_, err = io.Copy(h, f)
		f.Close()
		if err != nil {
			return NewError(KindFilesystem, "cannot read file for verification", err)
		}
		got := hex.EncodeToString(h.Sum(nil))
		if got != c.expected {
			return NewError(KindVerification,
				fmt.Sprintf("%s mismatch: got %s, expected %s", c.name, got, c.expected), nil)
		}
	}
	return nil
}

// finishPaused persists offsets and parks the task. A non-resumable
// download has no record to point at its partial bytes, so its part
// file is removed instead of being orphaned.
func (t *Task) finishPaused() error {
	t.closeFile()
	t.mu.Lock()
	resumable := t.resumable
	partPath := t.partPath
	t.mu.Unlock()
	if resumable {
		if err := t.checkpoint(); err != nil {
			t.log.Warn().Err(err).Msg("failed to persist pause state")
		}
	} else if partPath != "" {
		_ = os.Remove(partPath)
	}
	t.mu.Lock()
	for _, seg := range t.segments {
		if seg.GetState() == types.SegmentInFlight || seg.GetState() == types.SegmentPending {
			seg.SetState(types.SegmentPaused)
		}
	}
	var downloaded int64
	if t.agg != nil {
		downloaded = t.agg.Downloaded()
	}
	t.mu.Unlock()

	t.setState(types.TaskPaused)
	t.emit(events.TaskPausedMsg{TaskID: t.cfg.ID, Downloaded: downloaded})
	t.log.Info().Int64("downloaded", downloaded).Msg("download paused")
	return nil
}

// finishCancelled tears everything down: temp file and resume record
// are removed, nothing of the task survives.
func (t *Task) finishCancelled() error {
	t.closeFile()
	t.mu.Lock()
	partPath := t.partPath
	t.mu.Unlock()
	if partPath != "" {
		_ = os.Remove(partPath)
	}
	if t.cfg.Checkpoint != nil {
		_ = t.cfg.Checkpoint.Delete(t.cfg.ID)
	}
	t.setState(types.TaskCancelled)
	t.emit(events.TaskCancelledMsg{TaskID: t.cfg.ID})
	t.log.Info().Msg("download cancelled")
	return nil
}

// fail records a terminal failure. The part file and resume record are
// kept so a failed task can be inspected or retried after restart.
func (t *Task) fail(err error) error {
	t.closeFile()
	if cerr := t.checkpoint(); cerr != nil {
		t.log.Warn().Err(cerr).Msg("failed to persist failure state")
	}
	kind := KindOf(err)
	t.setState(types.TaskFailed)
	t.emit(events.TaskFailedMsg{TaskID: t.cfg.ID, Kind: kind.String(), Err: err})
	t.log.Error().Err(err).Str("kind", kind.String()).Msg("download failed")
	return err
}

func (t *Task) closeFile() {
	t.mu.Lock()
	file := t.file
	t.file = nil
	t.mu.Unlock()
	if file != nil {
		_ = file.Close()
	}
}

// resolveDestPath joins the filename when dest is an existing directory.
func resolveDestPath(dest, filename string) string {
	if info, err := os.Stat(dest); err == nil && info.IsDir() {
		return filepath.Join(dest, filename)
	}
	return dest
}
