package markov

import (
	"fmt"
	"math"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/kinetics.report/internal/traj"
)

type sweepConfig struct {
	ntimescales int
	reversible  bool
}

// SweepOption adjusts a timescale sweep.
type SweepOption func(*sweepConfig)

// WithNTimescales requests a fixed number of timescales per lagtime. The
// default is one fewer than the number of effective states.
func WithNTimescales(n int) SweepOption {
	return func(cfg *sweepConfig) { cfg.ntimescales = n }
}

// WithReversible requests reversible (detailed-balance) estimation. Not
// implemented; the sweep reports it as such.
func WithReversible(rev bool) SweepOption {
	return func(cfg *sweepConfig) { cfg.reversible = rev }
}

// ImpliedTimescales estimates the implied relaxation timescales for every
// requested lagtime. The result has one row per lagtime in caller order and
// ntimescales columns. Entries are NaN where the spectrum gives no physical
// timescale: non-positive or unit eigenvalues, or fewer non-trivial
// eigenvalues than requested.
//
// All lagtimes are validated before any estimation starts; a non-positive
// lagtime is a type error and produces no partial results. Rows are computed
// concurrently over a bounded worker pool.
func ImpliedTimescales(t traj.Trajectory, lagtimes []int, opts ...SweepOption) ([][]float64, error) {
	var cfg sweepConfig
	for _, o := range opts {
		o(&cfg)
	}
	for _, lag := range lagtimes {
		if lag < 1 {
			return nil, fmt.Errorf("lagtime %d: must be a positive integer: %w", lag, ErrType)
		}
	}
	if cfg.reversible {
		return nil, fmt.Errorf("reversible estimation: %w", ErrNotImplemented)
	}
	ntimescales := cfg.ntimescales
	if ntimescales == 0 {
		ntimescales = t.NStates() - 1
	}
	if ntimescales < 1 {
		return nil, fmt.Errorf("ntimescales %d: need at least one: %w", ntimescales, ErrValue)
	}

	results := make([][]float64, len(lagtimes))
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, lag := range lagtimes {
		g.Go(func() error {
			tmat, _, err := EstimateMarkovModel(t, lag)
			if err != nil {
				return err
			}
			results[i] = impliedTimescales(tmat, lag, ntimescales)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// impliedTimescales converts the eigen spectrum of a transition matrix into
// timescales: t_k = -lagtime / ln(lambda_k) over the non-trivial eigenvalues
// in descending order. The single leading unit eigenvalue is the stationary
// mode and is discarded; any further eigenvalue outside (0, 1) maps to NaN.
func impliedTimescales(tmat *mat.Dense, lagtime, ntimescales int) []float64 {
	out := make([]float64, ntimescales)
	for k := range out {
		out[k] = math.NaN()
	}
	vals, err := sortedEigenvalues(tmat)
	if err != nil {
		return out
	}
	for k := range out {
		if k+1 >= len(vals) {
			break
		}
		re := real(vals[k+1])
		if re > 0 && re < 1 {
			out[k] = -float64(lagtime) / math.Log(re)
		}
	}
	return out
}

// sortedEigenvalues returns the eigenvalues ordered by descending real part
// (ties by descending imaginary part).
func sortedEigenvalues(tmat *mat.Dense) ([]complex128, error) {
	var eig mat.Eigen
	if ok := eig.Factorize(tmat, mat.EigenNone); !ok {
		return nil, fmt.Errorf("eigendecomposition did not converge: %w", ErrValue)
	}
	vals := eig.Values(nil)
	sort.Slice(vals, func(i, j int) bool {
		if real(vals[i]) != real(vals[j]) {
			return real(vals[i]) > real(vals[j])
		}
		return imag(vals[i]) > imag(vals[j])
	})
	return vals, nil
}
