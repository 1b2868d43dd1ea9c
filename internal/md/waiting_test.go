package md

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/kinetics.report/internal/traj"
)

func mustTraj(t *testing.T, segments ...[]int64) *traj.StateTraj {
	t.Helper()
	tr, err := traj.New(segments)
	if err != nil {
		t.Fatalf("traj.New: %v", err)
	}
	return tr
}

func TestWaitingTimes(t *testing.T) {
	tr := mustTraj(t, []int64{1, 2, 1, 2, 1, 1, 3, 4, 3, 2, 1, 2, 1, 4, 3, 4})

	t.Run("single state basins", func(t *testing.T) {
		times, err := WaitingTimes(tr, []int64{1}, []int64{3})
		if err != nil {
			t.Fatalf("WaitingTimes: %v", err)
		}
		if diff := cmp.Diff([]int{6, 4}, times); diff != "" {
			t.Errorf("times mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("multi state basins", func(t *testing.T) {
		times, err := WaitingTimes(tr, []int64{1, 2}, []int64{3, 4})
		if err != nil {
			t.Fatalf("WaitingTimes: %v", err)
		}
		if diff := cmp.Diff([]int{6, 4}, times); diff != "" {
			t.Errorf("times mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestWaitingTimesSegmentsAreIsolated(t *testing.T) {
	// Same frames as above, split into two segments: the passages stay
	// intact because both complete within one segment.
	tr := mustTraj(t,
		[]int64{1, 2, 1, 2, 1, 1, 3, 4},
		[]int64{3, 2, 1, 2, 1, 4, 3, 4},
	)
	times, err := WaitingTimes(tr, []int64{1}, []int64{3})
	if err != nil {
		t.Fatalf("WaitingTimes: %v", err)
	}
	if diff := cmp.Diff([]int{6, 4}, times); diff != "" {
		t.Errorf("times mismatch (-want +got):\n%s", diff)
	}

	// A passage that would need to cross the boundary is not counted.
	tr = mustTraj(t, []int64{1, 3}, []int64{1}, []int64{3})
	times, err = WaitingTimes(tr, []int64{1}, []int64{3})
	if err != nil {
		t.Fatalf("WaitingTimes: %v", err)
	}
	if diff := cmp.Diff([]int{1}, times); diff != "" {
		t.Errorf("times mismatch (-want +got):\n%s", diff)
	}
}

func TestWaitingTimesValidation(t *testing.T) {
	tr := mustTraj(t, []int64{1, 2, 3, 2, 1, 3})

	if _, err := WaitingTimes(tr, []int64{1, 2}, []int64{2, 3}); !errors.Is(err, traj.ErrValue) {
		t.Errorf("overlapping basins err = %v, want ErrValue", err)
	}
	if _, err := WaitingTimes(tr, []int64{9}, []int64{3}); !errors.Is(err, traj.ErrValue) {
		t.Errorf("unknown start state err = %v, want ErrValue", err)
	}
	if _, err := WaitingTimes(tr, []int64{1}, []int64{9}); !errors.Is(err, traj.ErrValue) {
		t.Errorf("unknown final state err = %v, want ErrValue", err)
	}
	if _, err := WaitingTimes(tr, nil, []int64{3}); !errors.Is(err, traj.ErrValue) {
		t.Errorf("empty basin err = %v, want ErrValue", err)
	}
}
