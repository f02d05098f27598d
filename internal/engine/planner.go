package engine

import (
	"github.com/IsaacGridGainsDev/torrentlite/internal/engine/types"
)

// PlanSegments divides [0, totalSize) into at most n segments.
//
// The split is deterministic: identical (totalSize, n, floor) inputs
// always produce an identical plan, which resume depends on. Segments
// are ceil(totalSize/n) bytes with the final segment absorbing the
// remainder, and n is reduced until no segment falls below the floor.
//
// A totalSize <= 0 (unknown or empty) yields a single open-ended
// segment, so every plan has at least one entry.
func PlanSegments(totalSize int64, n int, floor int64) []types.Segment {
	if totalSize < 0 {
		return []types.Segment{{Index: 0, Start: 0, End: -1}}
	}
	if totalSize == 0 {
		return []types.Segment{{Index: 0, Start: 0, End: -1}}
	}

	if n < 1 {
		n = 1
	}
	if n > types.MaxSegments {
		n = types.MaxSegments
	}
	if floor < 1 {
		floor = types.MinSegmentSize
	}

	// Shrink n until the per-segment share clears the floor.
	for n > 1 && ceilDiv(totalSize, int64(n)) < floor {
		n--
	}

	size := ceilDiv(totalSize, int64(n))
	segments := make([]types.Segment, 0, n)
	for start := int64(0); start < totalSize; start += size {
		end := start + size - 1
		if end > totalSize-1 {
			end = totalSize - 1
		}
		segments = append(segments, types.Segment{
			Index: len(segments),
			Start: start,
			End:   end,
		})
	}
	return segments
}

// SingleSegmentPlan covers the whole resource with one segment, used
// when the server ignores ranges or hides the total size.
func SingleSegmentPlan(totalSize int64) []types.Segment {
	if totalSize > 0 {
		return []types.Segment{{Index: 0, Start: 0, End: totalSize - 1}}
	}
	return []types.Segment{{Index: 0, Start: 0, End: -1}}
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}
