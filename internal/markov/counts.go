// Package markov estimates Markov state models from discrete state
// trajectories: transition counts and row-stochastic transition matrices,
// implied relaxation timescales over lagtime sweeps, equilibrium populations,
// Chapman-Kolmogorov validation and Markov-chain Monte Carlo resampling.
//
// All estimators operate on the effective state resolution of their input:
// a plain trajectory is counted over its microstates, a lumped trajectory
// over its macrostates.
package markov

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/kinetics.report/internal/traj"
)

// CountMatrix counts observed transitions at the given lagtime. Entry (i, j)
// is the number of frame pairs (t, t+lagtime) with state index i at t and j
// at t+lagtime. Segments are counted independently; a transition never spans
// a segment boundary, and a segment shorter than the lagtime contributes
// nothing. A lagtime below one is a type error.
func CountMatrix(t traj.Trajectory, lagtime int) (*mat.Dense, error) {
	if lagtime < 1 {
		return nil, fmt.Errorf("lagtime %d: must be a positive integer: %w", lagtime, ErrType)
	}
	n := t.NStates()
	counts := mat.NewDense(n, n, nil)
	for _, seg := range t.IndexTrajs() {
		for i := 0; i+lagtime < len(seg); i++ {
			from, to := int(seg[i]), int(seg[i+lagtime])
			counts.Set(from, to, counts.At(from, to)+1)
		}
	}
	return counts, nil
}

// RowNormalize scales every row to sum one. Rows without any observed
// transition stay zero, so that states with insufficient statistics surface
// as NaN timescales downstream instead of aborting a sweep.
func RowNormalize(counts *mat.Dense) *mat.Dense {
	rows, cols := counts.Dims()
	tmat := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		sum := 0.0
		for j := 0; j < cols; j++ {
			sum += counts.At(i, j)
		}
		if sum == 0 {
			continue
		}
		for j := 0; j < cols; j++ {
			tmat.Set(i, j, counts.At(i, j)/sum)
		}
	}
	return tmat
}

// EstimateMarkovModel estimates the row-stochastic transition matrix at the
// given lagtime. The returned labels name the states indexing the matrix
// rows, at the trajectory's effective resolution.
func EstimateMarkovModel(t traj.Trajectory, lagtime int) (*mat.Dense, []int64, error) {
	counts, err := CountMatrix(t, lagtime)
	if err != nil {
		return nil, nil, err
	}
	return RowNormalize(counts), t.States(), nil
}
