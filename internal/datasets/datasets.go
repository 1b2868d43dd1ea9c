// Package datasets generates synthetic state trajectories for exercising the
// analysis chain end to end: Monte Carlo realizations of explicit transition
// matrices and the multi-well chain model of Hummer and Szabo.
package datasets

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/kinetics.report/internal/markov"
	"github.com/banshee-data/kinetics.report/internal/traj"
)

type config struct {
	rng   *rand.Rand
	start *int
}

// Option adjusts trajectory generation.
type Option func(*config)

// WithSeed makes generation deterministic.
func WithSeed(seed uint64) Option {
	return func(cfg *config) { cfg.rng = rand.New(rand.NewPCG(seed, seed)) }
}

// WithRand supplies the random source directly.
func WithRand(rng *rand.Rand) Option {
	return func(cfg *config) { cfg.rng = rng }
}

// WithStart fixes the start state by its index into the transition matrix.
// Without it the start is drawn uniformly.
func WithStart(state int) Option {
	return func(cfg *config) { cfg.start = &state }
}

func applyOptions(opts []Option) config {
	var cfg config
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.rng == nil {
		cfg.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return cfg
}

// PropagateTmat draws a Monte Carlo chain of nsteps states from an explicitly
// supplied transition matrix. State labels are the 0-based row indices of the
// matrix. A matrix that is not row-normalized is a value error.
func PropagateTmat(tmat *mat.Dense, nsteps int, opts ...Option) ([]int64, error) {
	if nsteps < 1 {
		return nil, fmt.Errorf("nsteps %d: must be at least one: %w", nsteps, traj.ErrValue)
	}
	if !markov.IsTransitionMatrix(tmat) {
		return nil, fmt.Errorf("matrix is not row-normalized: %w", traj.ErrValue)
	}
	cm, err := markov.IdentityCumulative(tmat)
	if err != nil {
		return nil, err
	}

	cfg := applyOptions(opts)
	start := cfg.rng.IntN(cm.NStates())
	if cfg.start != nil {
		if *cfg.start < 0 || *cfg.start >= cm.NStates() {
			return nil, fmt.Errorf("start state %d out of range [0, %d): %w", *cfg.start, cm.NStates(), traj.ErrValue)
		}
		start = *cfg.start
	}

	chain := cm.Propagate(start, nsteps, cfg.rng)
	out := make([]int64, len(chain))
	for i, s := range chain {
		out[i] = int64(s)
	}
	return out, nil
}

// Hummer15FourState draws a Monte Carlo trajectory of the four-state chain
// model from Hummer and Szabo, J. Phys. Chem. B 119, 9029 (2015). rateK
// connects the states inside the pairs (1,2) and (3,4), rateH connects 2 and
// 3. Microstate labels are 1..4; macro holds the same frames lumped to the
// pair labels 1 and 2.
func Hummer15FourState(rateK, rateH float64, nsteps int, opts ...Option) (micro, macro []int64, err error) {
	return hummer15(4, rateK, rateH, nsteps, opts)
}

// Hummer15EightState is the eight-state variant of Hummer15FourState, with
// microstate labels 1..8 lumped pairwise into the macrostates 1..4.
func Hummer15EightState(rateK, rateH float64, nsteps int, opts ...Option) (micro, macro []int64, err error) {
	return hummer15(8, rateK, rateH, nsteps, opts)
}

func hummer15(nstates int, rateK, rateH float64, nsteps int, opts []Option) (micro, macro []int64, err error) {
	tmat, err := hummer15Tmat(nstates, rateK, rateH)
	if err != nil {
		return nil, nil, err
	}
	chain, err := PropagateTmat(tmat, nsteps, opts...)
	if err != nil {
		return nil, nil, err
	}
	micro = make([]int64, len(chain))
	macro = make([]int64, len(chain))
	for i, s := range chain {
		micro[i] = s + 1
		macro[i] = s/2 + 1
	}
	return micro, macro, nil
}

// hummer15Tmat builds the nearest-neighbor transition matrix of the chain
// model: rate k between the members of a pair, rate h across pairs, diagonal
// filled up to row normalization.
func hummer15Tmat(nstates int, rateK, rateH float64) (*mat.Dense, error) {
	if rateK < 0 || rateH < 0 || rateK+rateH > 1 {
		return nil, fmt.Errorf("rates k=%g h=%g: need non-negative rates with k+h <= 1: %w", rateK, rateH, traj.ErrValue)
	}
	tmat := mat.NewDense(nstates, nstates, nil)
	for i := 0; i < nstates; i++ {
		left, right := rateH, rateK
		if i%2 == 1 {
			left, right = rateK, rateH
		}
		sum := 0.0
		if i > 0 {
			tmat.Set(i, i-1, left)
			sum += left
		}
		if i < nstates-1 {
			tmat.Set(i, i+1, right)
			sum += right
		}
		tmat.Set(i, i, 1-sum)
	}
	return tmat, nil
}
