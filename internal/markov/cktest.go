package markov

import (
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/kinetics.report/internal/traj"
)

// ckReferencePoints is the sampling density of the MD reference curve on its
// geometric time grid.
const ckReferencePoints = 30

// CKSeries is one curve set of a Chapman-Kolmogorov test: per state the
// self-transition probability over a shared time grid. Lagtime zero marks
// the direct MD reference, which re-estimates the model at every grid time;
// otherwise the series propagates the model of that lagtime, and Ergodic
// repeats the model's flag at every grid point.
type CKSeries struct {
	Lagtime int
	Times   []int
	Probs   [][]float64 // [state index][time index]
	Ergodic []bool
}

// CKTest compares model propagation against direct re-estimation. A model
// whose dynamics are Markovian at lagtime tau satisfies
// T(tau)^n ~ T(n*tau), so the model curves should overlay the reference.
type CKTest struct {
	States   []int64
	Lagtimes []int // ascending
	Model    []CKSeries
	MD       CKSeries
}

// ChapmanKolmogorov runs the test for every lagtime up to the horizon tmax
// (in frames). Lagtimes are sorted ascending; each of them and tmax must be
// a positive integer, or a type error is returned before any estimation.
func ChapmanKolmogorov(t traj.Trajectory, lagtimes []int, tmax int) (*CKTest, error) {
	if len(lagtimes) == 0 {
		return nil, fmt.Errorf("no lagtimes given: %w", ErrValue)
	}
	for _, lag := range lagtimes {
		if lag < 1 {
			return nil, fmt.Errorf("lagtime %d: must be a positive integer: %w", lag, ErrType)
		}
	}
	if tmax < 1 {
		return nil, fmt.Errorf("tmax %d: must be a positive integer: %w", tmax, ErrType)
	}

	sorted := slices.Clone(lagtimes)
	slices.Sort(sorted)
	states := t.States()
	n := len(states)

	ck := &CKTest{States: states, Lagtimes: sorted, Model: make([]CKSeries, len(sorted))}
	for li, lag := range sorted {
		tmat, _, err := EstimateMarkovModel(t, lag)
		if err != nil {
			return nil, err
		}
		ck.Model[li] = propagateSeries(tmat, lag, tmax/lag, n)
	}

	md, err := mdReference(t, sorted[0], tmax, n)
	if err != nil {
		return nil, err
	}
	ck.MD = md
	return ck, nil
}

// propagateSeries collects the diagonals of T(lag)^k for k = 1..steps.
func propagateSeries(tmat *mat.Dense, lag, steps, n int) CKSeries {
	s := CKSeries{
		Lagtime: lag,
		Times:   make([]int, steps),
		Probs:   make([][]float64, n),
		Ergodic: make([]bool, steps),
	}
	for i := range s.Probs {
		s.Probs[i] = make([]float64, steps)
	}
	ergodic := IsErgodic(tmat)

	power := &mat.Dense{}
	power.CloneFrom(tmat)
	for k := 0; k < steps; k++ {
		if k > 0 {
			next := &mat.Dense{}
			next.Mul(power, tmat)
			power = next
		}
		s.Times[k] = lag * (k + 1)
		s.Ergodic[k] = ergodic
		for i := 0; i < n; i++ {
			s.Probs[i][k] = power.At(i, i)
		}
	}
	return s
}

// mdReference re-estimates the model on a geometric grid between the
// smallest lagtime and tmax and collects its diagonals.
func mdReference(t traj.Trajectory, minLag, tmax, n int) (CKSeries, error) {
	times := geomTimes(minLag, tmax, ckReferencePoints)
	s := CKSeries{
		Lagtime: 0,
		Times:   times,
		Probs:   make([][]float64, n),
		Ergodic: make([]bool, len(times)),
	}
	for i := range s.Probs {
		s.Probs[i] = make([]float64, len(times))
	}
	for k, tp := range times {
		tmat, _, err := EstimateMarkovModel(t, tp)
		if err != nil {
			return CKSeries{}, err
		}
		s.Ergodic[k] = IsErgodic(tmat)
		for i := 0; i < n; i++ {
			s.Probs[i][k] = tmat.At(i, i)
		}
	}
	return s, nil
}

// geomTimes rounds a geometric sequence from start to stop onto unique
// ascending integer times.
func geomTimes(start, stop, num int) []int {
	a, b := float64(start), float64(stop)
	vals := make([]int, 0, num)
	for k := 0; k < num; k++ {
		frac := 0.0
		if num > 1 {
			frac = float64(k) / float64(num-1)
		}
		vals = append(vals, int(math.Round(a*math.Pow(b/a, frac))))
	}
	slices.Sort(vals)
	return slices.Compact(vals)
}
