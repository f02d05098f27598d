package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IsaacGridGainsDev/torrentlite/internal/engine/types"
)

// assertCoversExactly checks the plan tiles [0, total) with no gaps
// and no overlaps.
func assertCoversExactly(t *testing.T, plan []types.Segment, total int64) {
	t.Helper()
	var next int64
	for i, seg := range plan {
		assert.Equal(t, i, seg.Index)
		assert.Equal(t, next, seg.Start, "segment %d start", i)
		require.GreaterOrEqual(t, seg.End, seg.Start, "segment %d extent", i)
		next = seg.End + 1
	}
	assert.Equal(t, total, next, "plan must cover the full size")
}

func TestPlanSegmentsEvenSplit(t *testing.T) {
	plan := PlanSegments(10*types.MB, 4, types.MinSegmentSize)
	require.Len(t, plan, 4)
	assertCoversExactly(t, plan, 10*types.MB)

	// 10 MiB divides evenly into 4.
	for i := range plan {
		assert.Equal(t, int64(10*types.MB/4), plan[i].Length())
	}
}

func TestPlanSegmentsDeterministic(t *testing.T) {
	a := PlanSegments(7_654_321, 5, types.MinSegmentSize)
	b := PlanSegments(7_654_321, 5, types.MinSegmentSize)
	assert.Equal(t, a, b)
	assertCoversExactly(t, a, 7_654_321)
}

func TestPlanSegmentsFloorReducesCount(t *testing.T) {
	// 300 KiB with a 256 KiB floor cannot sustain 4 segments.
	plan := PlanSegments(300*types.KB, 4, types.MinSegmentSize)
	require.Len(t, plan, 1)
	assertCoversExactly(t, plan, 300*types.KB)

	// 1 MiB sustains exactly 4 floor-sized segments.
	plan = PlanSegments(1*types.MB, 8, types.MinSegmentSize)
	require.Len(t, plan, 4)
	assertCoversExactly(t, plan, 1*types.MB)
}

func TestPlanSegmentsCapped(t *testing.T) {
	plan := PlanSegments(10*types.GB, 1000, types.MinSegmentSize)
	assert.Len(t, plan, types.MaxSegments)
	assertCoversExactly(t, plan, 10*types.GB)
}

func TestPlanSegmentsTinyFile(t *testing.T) {
	plan := PlanSegments(1, 8, types.MinSegmentSize)
	require.Len(t, plan, 1)
	assert.Equal(t, int64(0), plan[0].Start)
	assert.Equal(t, int64(0), plan[0].End)
}

func TestPlanSegmentsUnknownSize(t *testing.T) {
	plan := PlanSegments(-1, 4, types.MinSegmentSize)
	require.Len(t, plan, 1)
	assert.Equal(t, int64(0), plan[0].Start)
	assert.Equal(t, int64(-1), plan[0].End)
}

func TestSingleSegmentPlan(t *testing.T) {
	plan := SingleSegmentPlan(4096)
	require.Len(t, plan, 1)
	assert.Equal(t, int64(0), plan[0].Start)
	assert.Equal(t, int64(4095), plan[0].End)

	plan = SingleSegmentPlan(-1)
	require.Len(t, plan, 1)
	assert.Equal(t, int64(-1), plan[0].End)
}
