package progress

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregatorAccumulates(t *testing.T) {
	a := NewAggregator("t1", 1000, nil)
	a.Add(100)
	a.Add(250)
	a.Add(0)
	a.Add(-5)
	assert.Equal(t, int64(350), a.Downloaded())

	s := a.Snapshot()
	assert.Equal(t, "t1", s.TaskID)
	assert.Equal(t, int64(350), s.Downloaded)
	assert.Equal(t, int64(1000), s.Total)
}

func TestAggregatorUnknownTotal(t *testing.T) {
	a := NewAggregator("t1", -1, nil)
	a.Add(512)

	s := a.Snapshot()
	assert.Equal(t, int64(-1), s.Total)
	assert.Equal(t, int64(-1), s.ETASeconds, "no ETA without a total")

	a.SetTotal(2048)
	assert.Equal(t, int64(2048), a.Snapshot().Total)
}

func TestAggregatorDiscard(t *testing.T) {
	a := NewAggregator("t1", 1000, nil)
	a.Add(400)
	a.Discard(150)
	assert.Equal(t, int64(250), a.Downloaded())
}

func TestAggregatorSeedsResumeOffset(t *testing.T) {
	a := NewAggregator("t1", 1000, nil)
	a.SetDownloaded(600)
	a.Add(100)
	assert.Equal(t, int64(700), a.Downloaded())
}

func TestAggregatorSpeedFromWindow(t *testing.T) {
	a := NewAggregator("t1", -1, nil)
	now := time.Now()

	// Two publish ticks worth of deltas.
	a.Add(1000)
	a.tick(now)
	a.Add(1000)
	a.tick(now.Add(a.interval))

	s := a.Snapshot()
	assert.Positive(t, s.Speed)
}

func TestAggregatorETA(t *testing.T) {
	a := NewAggregator("t1", 10_000, nil)
	a.Add(5000)
	a.tick(time.Now())

	s := a.Snapshot()
	require.Positive(t, s.Speed)
	assert.GreaterOrEqual(t, s.ETASeconds, int64(0))
}

func TestAggregatorPublishRateBounded(t *testing.T) {
	var mu sync.Mutex
	var count int
	a := NewAggregator("t1", 1000, func(Snapshot) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	a.Start()
	for i := 0; i < 100; i++ {
		a.Add(10)
		time.Sleep(5 * time.Millisecond)
	}
	a.Stop()

	// 500ms of activity with a 200ms publish interval: a handful of
	// snapshots plus the final one, never one per Add call.
	mu.Lock()
	defer mu.Unlock()
	assert.Greater(t, count, 0)
	assert.Less(t, count, 10)
}

func TestAggregatorStopPublishesFinalSnapshot(t *testing.T) {
	var mu sync.Mutex
	var last Snapshot
	a := NewAggregator("t1", 500, func(s Snapshot) {
		mu.Lock()
		last = s
		mu.Unlock()
	})
	a.Start()
	a.Add(500)
	a.Stop()
	a.Stop() // idempotent

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, int64(500), last.Downloaded)
}
