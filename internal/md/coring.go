package md

import (
	"fmt"

	"github.com/banshee-data/kinetics.report/internal/traj"
)

// ErrLagtime marks a coring lagtime longer than every state visit of a
// segment: no core exists and the correction is undefined.
var ErrLagtime = fmt.Errorf("no state persists for the full coring window: %w", traj.ErrValue)

// DynamicalCoring corrects spurious state crossings: a frame adopts a new
// state only once that state persists for lag consecutive frames from
// there; until then it keeps the previous core's state. Frames before the
// first core take the first core's state, and windows truncated by the
// segment end never open a new core. A lagtime of one returns the input
// unchanged; a lagtime below one is a type error; a segment with no core at
// all fails with ErrLagtime.
func DynamicalCoring(t *traj.StateTraj, lag int) (*traj.StateTraj, error) {
	if lag < 1 {
		return nil, fmt.Errorf("coring lagtime %d: must be a positive integer: %w", lag, traj.ErrType)
	}
	if lag == 1 {
		return t, nil
	}

	segments := t.StateTrajs()
	cored := make([][]int64, len(segments))
	for i, seg := range segments {
		c, err := coreSegment(seg, lag)
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w", i, err)
		}
		cored[i] = c
	}
	return traj.New(cored)
}

func coreSegment(seg []int64, lag int) ([]int64, error) {
	core, ok := findFirstCore(seg, lag)
	if !ok {
		return nil, ErrLagtime
	}

	out := make([]int64, len(seg))
	for idx, label := range seg {
		if label != core && remainsInCore(seg, idx, lag) {
			core = label
		}
		out[idx] = core
	}
	return out, nil
}

// findFirstCore returns the first state that persists for a full window.
func findFirstCore(seg []int64, lag int) (int64, bool) {
	for idx := range seg {
		if remainsInCore(seg, idx, lag) {
			return seg[idx], true
		}
	}
	return 0, false
}

// remainsInCore reports whether seg stays in seg[idx] over the whole window
// [idx, idx+lag). A window truncated by the segment end does not count.
func remainsInCore(seg []int64, idx, lag int) bool {
	if idx+lag > len(seg) {
		return false
	}
	for j := idx + 1; j < idx+lag; j++ {
		if seg[j] != seg[idx] {
			return false
		}
	}
	return true
}
