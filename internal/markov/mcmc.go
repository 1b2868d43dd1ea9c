package markov

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/kinetics.report/internal/traj"
)

// CumulativeMatrix holds row-cumulative transition probabilities for Monte
// Carlo propagation. Row i lists the cumulative sums of state i's outgoing
// probabilities; Perm records which state index each cumulative entry
// accumulates to. The final cumulative entry of every row is exactly one.
type CumulativeMatrix struct {
	cum  [][]float64
	perm [][]int
}

// NewCumulativeMatrix estimates the transition matrix at the given lagtime
// and converts it into descending-probability cumulative form. Lumped
// trajectories are rejected with a value error: their statistics are only
// defined on the macrostate space, and propagating those would silently
// conflate the two resolutions.
func NewCumulativeMatrix(t traj.Trajectory, lagtime int) (*CumulativeMatrix, error) {
	if _, ok := t.(*traj.LumpedStateTraj); ok {
		return nil, fmt.Errorf("cumulative statistics are not defined for lumped trajectories: %w", ErrValue)
	}
	tmat, _, err := EstimateMarkovModel(t, lagtime)
	if err != nil {
		return nil, err
	}
	return SortedCumulative(tmat)
}

// SortedCumulative builds the cumulative form of a transition matrix with
// every row ordered by descending probability, so that high-probability
// transitions are found after few comparisons. Any negative entry is a value
// error.
func SortedCumulative(tmat *mat.Dense) (*CumulativeMatrix, error) {
	rows, cols, err := checkSquareNonNegative(tmat)
	if err != nil {
		return nil, err
	}
	cum := make([][]float64, rows)
	perm := make([][]int, rows)
	for i := 0; i < rows; i++ {
		order := make([]int, cols)
		for j := range order {
			order[j] = j
		}
		sort.SliceStable(order, func(a, b int) bool {
			va, vb := tmat.At(i, order[a]), tmat.At(i, order[b])
			if va != vb {
				return va > vb
			}
			return order[a] > order[b]
		})

		c := make([]float64, cols)
		sum := 0.0
		for k, j := range order {
			sum += tmat.At(i, j)
			c[k] = sum
		}
		c[cols-1] = 1
		cum[i] = c
		perm[i] = order
	}
	return &CumulativeMatrix{cum: cum, perm: perm}, nil
}

// IdentityCumulative builds the cumulative form keeping the natural column
// order, as used for propagating an explicitly supplied transition matrix.
func IdentityCumulative(tmat *mat.Dense) (*CumulativeMatrix, error) {
	rows, cols, err := checkSquareNonNegative(tmat)
	if err != nil {
		return nil, err
	}
	cum := make([][]float64, rows)
	perm := make([][]int, rows)
	for i := 0; i < rows; i++ {
		c := make([]float64, cols)
		sum := 0.0
		for j := 0; j < cols; j++ {
			sum += tmat.At(i, j)
			c[j] = sum
		}
		c[cols-1] = 1
		cum[i] = c
		order := make([]int, cols)
		for j := range order {
			order[j] = j
		}
		perm[i] = order
	}
	return &CumulativeMatrix{cum: cum, perm: perm}, nil
}

func checkSquareNonNegative(tmat *mat.Dense) (rows, cols int, err error) {
	rows, cols = tmat.Dims()
	if rows == 0 || rows != cols {
		return 0, 0, fmt.Errorf("matrix is %dx%d, want square: %w", rows, cols, ErrValue)
	}
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if tmat.At(i, j) < 0 {
				return 0, 0, fmt.Errorf("negative transition probability at (%d, %d): %w", i, j, ErrValue)
			}
		}
	}
	return rows, cols, nil
}

// NStates returns the number of states.
func (c *CumulativeMatrix) NStates() int { return len(c.cum) }

// Step draws the successor of state given a uniform sample r in [0, 1): the
// first cumulative entry strictly above r wins. The strict comparison keeps
// zero-probability transitions unreachable even for r == 0.
func (c *CumulativeMatrix) Step(state int, r float64) int {
	row := c.cum[state]
	for k, cv := range row {
		if r < cv {
			return c.perm[state][k]
		}
	}
	return c.perm[state][len(row)-1]
}

// Propagate draws a chain of the given length starting from the state index
// start. The first element of the result is start itself.
func (c *CumulativeMatrix) Propagate(start, steps int, rng *rand.Rand) []int {
	chain := make([]int, steps)
	if steps == 0 {
		return chain
	}
	chain[0] = start
	for i := 1; i < steps; i++ {
		chain[i] = c.Step(chain[i-1], rng.Float64())
	}
	return chain
}

// WaitingTimeDist aggregates sampled waiting times as counts per duration.
// Durations are in frames (MCMC durations are already scaled by the lagtime).
type WaitingTimeDist map[int]int

// Flatten expands the distribution into a sorted list with every duration
// repeated by its count.
func (d WaitingTimeDist) Flatten() []int {
	out := make([]int, 0, d.Total())
	for wt, n := range d {
		for i := 0; i < n; i++ {
			out = append(out, wt)
		}
	}
	slices.Sort(out)
	return out
}

// Total returns the number of sampled events.
func (d WaitingTimeDist) Total() int {
	total := 0
	for _, n := range d {
		total += n
	}
	return total
}

type mcmcConfig struct {
	rng   *rand.Rand
	start *int64
}

// MCMCOption adjusts Monte Carlo propagation.
type MCMCOption func(*mcmcConfig)

// WithSeed makes the propagation deterministic.
func WithSeed(seed uint64) MCMCOption {
	return func(cfg *mcmcConfig) { cfg.rng = rand.New(rand.NewPCG(seed, seed)) }
}

// WithRand supplies the random source directly.
func WithRand(rng *rand.Rand) MCMCOption {
	return func(cfg *mcmcConfig) { cfg.rng = rng }
}

// WithStart fixes the start state by its original label. Without it the
// start is drawn uniformly from the trajectory's states.
func WithStart(label int64) MCMCOption {
	return func(cfg *mcmcConfig) { cfg.start = &label }
}

func applyMCMCOptions(opts []MCMCOption) mcmcConfig {
	var cfg mcmcConfig
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.rng == nil {
		cfg.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return cfg
}

// PropagateMCMC draws a synthetic state trajectory of the given length from
// the Markov model estimated at the given lagtime, in original labels. A
// start label that does not occur in the trajectory is a value error.
func PropagateMCMC(t traj.Trajectory, lagtime, steps int, opts ...MCMCOption) ([]int64, error) {
	if steps < 1 {
		return nil, fmt.Errorf("steps %d: must be at least one: %w", steps, ErrValue)
	}
	cm, err := NewCumulativeMatrix(t, lagtime)
	if err != nil {
		return nil, err
	}
	cfg := applyMCMCOptions(opts)
	states := t.States()

	start := cfg.rng.IntN(len(states))
	if cfg.start != nil {
		idx, ok := slices.BinarySearch(states, *cfg.start)
		if !ok {
			return nil, fmt.Errorf("start state %d does not occur in the trajectory: %w", *cfg.start, ErrValue)
		}
		start = idx
	}

	chain := cm.Propagate(start, steps, cfg.rng)
	labels := make([]int64, len(chain))
	for i, idx := range chain {
		labels[i] = states[idx]
	}
	return labels, nil
}

// EstimateWaitingTimes samples waiting times from start basin to final basin
// over an MCMC realization of the model at the given lagtime. The clock runs
// from the first entry into the start basin to the first arrival in the
// final basin and does not reset on further start-basin visits in between.
// Durations are scaled by the lagtime, i.e. reported in frames. The chain
// begins in a random final-basin state so the first start-basin entry is a
// genuine transition.
func EstimateWaitingTimes(t traj.Trajectory, lagtime, steps int, start, final []int64, opts ...MCMCOption) (WaitingTimeDist, error) {
	return estimateTimes(t, lagtime, steps, start, final, false, opts)
}

// EstimateTransitionTimes samples transition path times from start basin to
// final basin: unlike waiting times the clock resets at every start-basin
// visit, so each sample covers only the final crossing. Durations are scaled
// by the lagtime.
func EstimateTransitionTimes(t traj.Trajectory, lagtime, steps int, start, final []int64, opts ...MCMCOption) (WaitingTimeDist, error) {
	return estimateTimes(t, lagtime, steps, start, final, true, opts)
}

func estimateTimes(t traj.Trajectory, lagtime, steps int, start, final []int64, reset bool, opts []MCMCOption) (WaitingTimeDist, error) {
	if steps < 1 {
		return nil, fmt.Errorf("steps %d: must be at least one: %w", steps, ErrValue)
	}
	startSet, finalSet, err := basinIndexSets(t, start, final)
	if err != nil {
		return nil, err
	}
	cm, err := NewCumulativeMatrix(t, lagtime)
	if err != nil {
		return nil, err
	}
	cfg := applyMCMCOptions(opts)

	finalIdx := setToSlice(finalSet)
	first := finalIdx[cfg.rng.IntN(len(finalIdx))]
	chain := cm.Propagate(first, steps, cfg.rng)
	return timesFromChain(chain, startSet, finalSet, reset, lagtime), nil
}

// timesFromChain runs the passage-time clock over a propagated chain. With
// reset the clock restarts at every start-basin visit (transition times),
// without it the first entry keeps the clock (waiting times). Each sampled
// duration is scaled by the lagtime.
func timesFromChain(chain []int, startSet, finalSet map[int]struct{}, reset bool, lagtime int) WaitingTimeDist {
	dist := make(WaitingTimeDist)
	forwards := false
	tstart := 0
	for i, state := range chain {
		if _, ok := startSet[state]; ok {
			if reset || !forwards {
				tstart = i
			}
			forwards = true
		} else if _, ok := finalSet[state]; ok && forwards {
			dist[(i-tstart)*lagtime]++
			forwards = false
		}
	}
	return dist
}

// basinIndexSets validates the two basins against the trajectory's states
// and converts them to index sets. Overlapping basins or labels that do not
// occur in the trajectory are value errors.
func basinIndexSets(t traj.Trajectory, start, final []int64) (startSet, finalSet map[int]struct{}, err error) {
	if len(start) == 0 || len(final) == 0 {
		return nil, nil, fmt.Errorf("both basins need at least one state: %w", ErrValue)
	}
	states := t.States()
	toSet := func(basin []int64, name string) (map[int]struct{}, error) {
		set := make(map[int]struct{}, len(basin))
		for _, label := range basin {
			idx, ok := slices.BinarySearch(states, label)
			if !ok {
				return nil, fmt.Errorf("%s basin state %d does not occur in the trajectory: %w", name, label, ErrValue)
			}
			set[idx] = struct{}{}
		}
		return set, nil
	}
	if startSet, err = toSet(start, "start"); err != nil {
		return nil, nil, err
	}
	if finalSet, err = toSet(final, "final"); err != nil {
		return nil, nil, err
	}
	for idx := range startSet {
		if _, ok := finalSet[idx]; ok {
			return nil, nil, fmt.Errorf("start and final basins overlap in state %d: %w", states[idx], ErrValue)
		}
	}
	return startSet, finalSet, nil
}

func setToSlice(set map[int]struct{}) []int {
	out := make([]int, 0, len(set))
	for idx := range set {
		out = append(out, idx)
	}
	slices.Sort(out)
	return out
}
