// Package md derives kinetic observables directly from the discrete state
// trajectory, without an intermediate Markov model: passage times between
// state basins, dynamical coring of spurious crossings, and discretization
// quality measures.
package md

import (
	"fmt"

	"github.com/banshee-data/kinetics.report/internal/traj"
)

// WaitingTimes collects the observed passage times from the start basin to
// the final basin, in frames. The clock starts at the first entry into the
// start basin and stops at the first arrival in the final basin; start-basin
// visits in between do not reset it. Segments are scanned independently, so
// a passage never spans a segment boundary.
func WaitingTimes(t *traj.StateTraj, start, final []int64) ([]int, error) {
	startSet, finalSet, err := basinSets(t, start, final)
	if err != nil {
		return nil, err
	}

	var times []int
	for i := 0; i < t.NTrajs(); i++ {
		forwards := false
		tstart := 0
		for f, label := range t.Segment(i) {
			if startSet[label] {
				if !forwards {
					tstart = f
					forwards = true
				}
			} else if finalSet[label] && forwards {
				times = append(times, f-tstart)
				forwards = false
			}
		}
	}
	return times, nil
}

// basinSets validates the two basins against the trajectory's states.
// Overlapping basins or basin states that never occur are value errors.
func basinSets(t *traj.StateTraj, start, final []int64) (startSet, finalSet map[int64]bool, err error) {
	if len(start) == 0 || len(final) == 0 {
		return nil, nil, fmt.Errorf("both basins need at least one state: %w", traj.ErrValue)
	}
	toSet := func(basin []int64, name string) (map[int64]bool, error) {
		set := make(map[int64]bool, len(basin))
		for _, label := range basin {
			if _, ok := t.StateToIndex(label); !ok {
				return nil, fmt.Errorf("%s basin state %d does not occur in the trajectory: %w",
					name, label, traj.ErrValue)
			}
			set[label] = true
		}
		return set, nil
	}
	if startSet, err = toSet(start, "start"); err != nil {
		return nil, nil, err
	}
	if finalSet, err = toSet(final, "final"); err != nil {
		return nil, nil, err
	}
	for label := range startSet {
		if finalSet[label] {
			return nil, nil, fmt.Errorf("start and final basins overlap in state %d: %w",
				label, traj.ErrValue)
		}
	}
	return startSet, finalSet, nil
}
