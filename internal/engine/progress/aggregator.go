// Package progress aggregates byte-delta events from all workers of a
// task into rate-limited, smoothed ProgressSnapshot values. Workers
// report every read chunk; subscribers see at most one snapshot per
// publish interval, so a fast download can never overwhelm the display
// layer.
package progress

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/IsaacGridGainsDev/torrentlite/internal/engine/types"
)

// Snapshot is an immutable view of a task's progress. Total is -1 when
// the resource size is unknown. ETASeconds is -1 when no estimate is
// possible (zero speed or unknown total).
type Snapshot struct {
	TaskID     string
	Downloaded int64
	Total      int64
	Speed      float64 // bytes per second, smoothed over the sample window
	ETASeconds int64
	Timestamp  time.Time
}

// sample is one publish-tick worth of byte deltas.
type sample struct {
	bytes int64
	at    time.Time
}

// Aggregator accumulates worker byte deltas for one task.
type Aggregator struct {
	taskID      string
	total       atomic.Int64
	downloaded  atomic.Int64
	windowBytes atomic.Int64

	mu      sync.Mutex
	samples []sample

	publish  func(Snapshot)
	interval time.Duration
	window   time.Duration

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewAggregator creates an aggregator for a task. total may be -1 for
// unknown. publish is invoked from the aggregator's own goroutine at a
// bounded rate; it must not block for long.
func NewAggregator(taskID string, total int64, publish func(Snapshot)) *Aggregator {
	a := &Aggregator{
		taskID:   taskID,
		publish:  publish,
		interval: types.ProgressPublishInterval,
		window:   types.SpeedWindow,
		done:     make(chan struct{}),
	}
	a.total.Store(total)
	return a
}

// Add records n freshly confirmed bytes. Safe for concurrent use by any
// number of workers.
func (a *Aggregator) Add(n int64) {
	if n <= 0 {
		return
	}
	a.downloaded.Add(n)
	a.windowBytes.Add(n)
}

// Discard subtracts bytes whose progress was invalidated, e.g. when a
// segment restarts after the server ignored a range request.
func (a *Aggregator) Discard(n int64) {
	if n > 0 {
		a.downloaded.Add(-n)
	}
}

// SetDownloaded seeds the cumulative counter, used when resuming from a
// persisted record.
func (a *Aggregator) SetDownloaded(n int64) {
	a.downloaded.Store(n)
}

// SetTotal updates the total once it becomes known mid-download.
func (a *Aggregator) SetTotal(n int64) {
	a.total.Store(n)
}

// Downloaded returns the cumulative confirmed byte count.
func (a *Aggregator) Downloaded() int64 {
	return a.downloaded.Load()
}

// Start launches the publish loop.
func (a *Aggregator) Start() {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()
		for {
			select {
			case <-a.done:
				return
			case <-ticker.C:
				a.tick(time.Now())
			}
		}
	}()
}

// Stop halts the publish loop and emits one final snapshot so
// subscribers always observe the end state.
func (a *Aggregator) Stop() {
	a.stopOnce.Do(func() {
		close(a.done)
		a.wg.Wait()
		if a.publish != nil {
			a.publish(a.Snapshot())
		}
	})
}

// tick rolls the sample window forward and publishes a snapshot.
func (a *Aggregator) tick(now time.Time) {
	delta := a.windowBytes.Swap(0)

	a.mu.Lock()
	a.samples = append(a.samples, sample{bytes: delta, at: now})
	cutoff := now.Add(-a.window)
	trim := 0
	for trim < len(a.samples) && a.samples[trim].at.Before(cutoff) {
		trim++
	}
	a.samples = a.samples[trim:]
	a.mu.Unlock()

	if a.publish != nil {
		a.publish(a.Snapshot())
	}
}

// Snapshot computes the current immutable progress view.
func (a *Aggregator) Snapshot() Snapshot {
	now := time.Now()
	speed := a.speed(now)
	downloaded := a.downloaded.Load()
	total := a.total.Load()

	eta := int64(-1)
	if speed > 0 && total >= 0 && total >= downloaded {
		eta = int64(float64(total-downloaded) / speed)
	}

	return Snapshot{
		TaskID:     a.taskID,
		Downloaded: downloaded,
		Total:      total,
		Speed:      speed,
		ETASeconds: eta,
		Timestamp:  now,
	}
}

// speed averages the byte deltas across the rolling window.
func (a *Aggregator) speed(now time.Time) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.samples) == 0 {
		return 0
	}
	var bytes int64
	for _, s := range a.samples {
		bytes += s.bytes
	}
	elapsed := now.Sub(a.samples[0].at) + a.interval
	if elapsed <= 0 {
		return 0
	}
	return float64(bytes) / elapsed.Seconds()
}
