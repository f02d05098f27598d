package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IsaacGridGainsDev/torrentlite/internal/engine/types"
)

// errRangeIgnored signals that the server answered a ranged request
// with a 200 full body, invalidating the segmented plan.
var errRangeIgnored = errors.New("server ignored range request")

// errStalePlan signals a 416 on a segment with bytes remaining, which
// means the resource shrank since plan time.
var errStalePlan = errors.New("range no longer satisfiable")

// bufPool recycles worker read buffers.
var bufPool = sync.Pool{
	New: func() any {
		buf := make([]byte, types.WorkerBuffer)
		return &buf
	},
}

// runSegment drives one segment to completion, retrying transient
// failures with exponential backoff. Offsets persist across attempts,
// so a retry resumes mid-segment instead of re-fetching from Start.
func (t *Task) runSegment(ctx context.Context, seg *types.Segment) error {
	maxRetries := t.runtime.GetMaxSegmentRetries()

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := types.RetryBaseDelay << uint(attempt-1)
			t.log.Debug().
				Int("segment", seg.Index).
				Int("attempt", attempt).
				Dur("delay", delay).
				Err(lastErr).
				Msg("retrying segment")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			seg.AddRetry()
		}

		seg.SetState(types.SegmentInFlight)
		err := t.fetchSegment(ctx, seg)
		if err == nil {
			seg.SetState(types.SegmentCompleted)
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			if t.pauseFlag.Load() {
				seg.SetState(types.SegmentPaused)
			}
			return ctx.Err()
		}
		if errors.Is(err, errRangeIgnored) {
			return err
		}
		if errors.Is(err, errStalePlan) {
			// The segment's range fell off the end of the resource.
			// Confirm against a fresh probe before giving up: a size
			// change means the plan is stale and cannot be salvaged.
			pr, perr := Probe(ctx, t.client, t.cfg.URL, t.runtime)
			if perr != nil || pr.TotalSize != t.totalSizeLocked() {
				seg.SetState(types.SegmentFailed)
				return NewError(KindPermanentHTTP, "segment plan is stale, resource changed on server", err)
			}
			continue
		}
		if !IsRetryable(err) {
			seg.SetState(types.SegmentFailed)
			return err
		}
	}

	seg.SetState(types.SegmentFailed)
	return fmt.Errorf("segment %d failed after %d attempts: %w", seg.Index, maxRetries+1, lastErr)
}

func (t *Task) totalSizeLocked() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalSize
}

// fetchSegment performs one HTTP attempt for a segment: acquire a
// global connection slot, issue the (ranged) GET and stream the body
// into the part file at the segment's own offset.
func (t *Task) fetchSegment(ctx context.Context, seg *types.Segment) error {
	// A resumed segment may be fully confirmed already; asking for its
	// range again would mean an empty bytes=<end+1>-<end> spec, which
	// servers answer with a 200 full body.
	if seg.End >= 0 && seg.Remaining() == 0 {
		return nil
	}

	release, err := t.acquireConn(ctx)
	if err != nil {
		return err
	}
	defer release()

	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, t.cfg.URL, nil)
	if err != nil {
		return NewError(KindPermanentHTTP, "invalid request", err)
	}
	req.Header.Set("User-Agent", t.runtime.GetUserAgent())

	t.mu.Lock()
	ranged := t.supportsRange && seg.End >= 0
	file := t.file
	t.mu.Unlock()
	if ranged {
		start := seg.Start + seg.GetDownloaded()
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, seg.End))
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return NewError(KindTransientNetwork, "request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusPartialContent:
		// Expected answer to a ranged request.
	case resp.StatusCode == http.StatusOK:
		if ranged {
			t.mu.Lock()
			multi := len(t.segments) > 1
			t.mu.Unlock()
			if multi {
				return errRangeIgnored
			}
			t.log.Warn().Msg("range ignored on single stream, restarting from zero")
		}
		// A 200 body always starts at byte zero, so bytes confirmed by
		// an earlier attempt belong to a response we no longer have.
		if d := seg.GetDownloaded(); d > 0 {
			t.agg.Discard(d)
			seg.SetDownloaded(0)
		}
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		if seg.Remaining() == 0 {
			// Nothing left to ask for; the segment was already done.
			return nil
		}
		return fmt.Errorf("%w: segment %d", errStalePlan, seg.Index)
	default:
		return statusError(t.cfg.URL, resp.StatusCode)
	}

	return t.streamBody(ctx, attemptCtx, cancel, resp.Body, file, seg)
}

// streamBody copies the response body into the file at the segment's
// offset, accounting every confirmed write. A watchdog cancels the
// attempt when no bytes arrive within the stall timeout.
func (t *Task) streamBody(ctx, attemptCtx context.Context, cancelAttempt context.CancelFunc, body io.Reader, file *os.File, seg *types.Segment) error {
	var lastActivity atomic.Int64
	lastActivity.Store(time.Now().UnixNano())
	watchdogDone := make(chan struct{})
	defer close(watchdogDone)
	go func() {
		stall := t.runtime.GetStallTimeout()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-watchdogDone:
				return
			case <-attemptCtx.Done():
				return
			case <-ticker.C:
				idle := time.Since(time.Unix(0, lastActivity.Load()))
				if idle > stall {
					t.log.Warn().Int("segment", seg.Index).Dur("idle", idle).
						Msg("segment stalled, aborting attempt")
					cancelAttempt()
					return
				}
			}
		}
	}()

	bufp := bufPool.Get().(*[]byte)
	defer bufPool.Put(bufp)
	buf := *bufp
	if n := t.runtime.GetWorkerBufferSize(); n > 0 && n < len(buf) {
		buf = buf[:n]
	}

	offset := seg.Start + seg.GetDownloaded()
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, werr := file.WriteAt(buf[:n], offset); werr != nil {
				return NewError(KindFilesystem, "write failed", werr)
			}
			offset += int64(n)
			seg.AddDownloaded(int64(n))
			t.agg.Add(int64(n))
			lastActivity.Store(time.Now().UnixNano())

			if seg.End >= 0 && offset > seg.End+1 {
				return NewError(KindPermanentHTTP,
					fmt.Sprintf("server sent bytes beyond segment %d end", seg.Index), nil)
			}
			if err := t.limiter.wait(ctx, n); err != nil {
				return err
			}
		}
		if readErr == io.EOF {
			if seg.End >= 0 && offset != seg.End+1 {
				return NewError(KindTransientNetwork,
					fmt.Sprintf("short body for segment %d: got %d of %d bytes",
						seg.Index, seg.GetDownloaded(), seg.End-seg.Start+1), nil)
			}
			if seg.End < 0 {
				// Unknown-size stream: EOF defines the total.
				t.mu.Lock()
				t.totalSize = offset
				t.mu.Unlock()
				t.agg.SetTotal(offset)
			}
			return nil
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Includes the stall watchdog cancelling the attempt while
			// the task itself is still live.
			return NewError(KindTransientNetwork, "read failed", readErr)
		}
	}
}

// acquireConn claims a slot from the global connection ceiling.
func (t *Task) acquireConn(ctx context.Context) (release func(), err error) {
	if t.cfg.ConnSlots == nil {
		return func() {}, nil
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case t.cfg.ConnSlots <- struct{}{}:
		return func() { <-t.cfg.ConnSlots }, nil
	}
}
