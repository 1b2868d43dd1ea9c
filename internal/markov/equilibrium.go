package markov

import (
	"fmt"
	"math"
	"math/cmplx"
	"slices"
	"sort"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
	"gonum.org/v1/gonum/mat"
)

// Row sums may drift from one by accumulated float error.
const transitionMatrixTol = 1e-8

// IsTransitionMatrix reports whether tmat is square, non-negative and
// row-stochastic within tolerance.
func IsTransitionMatrix(tmat mat.Matrix) bool {
	rows, cols := tmat.Dims()
	if rows == 0 || rows != cols {
		return false
	}
	for i := 0; i < rows; i++ {
		sum := 0.0
		for j := 0; j < cols; j++ {
			v := tmat.At(i, j)
			if v < 0 {
				return false
			}
			sum += v
		}
		if math.Abs(sum-1) > transitionMatrixTol {
			return false
		}
	}
	return true
}

// IsErgodic reports whether tmat is a transition matrix whose positive-entry
// digraph is strongly connected, i.e. every state can reach every other.
// Aperiodicity is not checked.
func IsErgodic(tmat mat.Matrix) bool {
	if !IsTransitionMatrix(tmat) {
		return false
	}
	return len(communicatingClasses(tmat)) == 1
}

// communicatingClasses returns the strongly connected components of the
// positive-entry digraph, ordered by descending size (ties by smallest
// member). Component members are sorted state indices.
func communicatingClasses(tmat mat.Matrix) [][]int {
	n, _ := tmat.Dims()
	g := simple.NewDirectedGraph()
	for i := 0; i < n; i++ {
		g.AddNode(simple.Node(i))
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i != j && tmat.At(i, j) > 0 {
				g.SetEdge(g.NewEdge(simple.Node(i), simple.Node(j)))
			}
		}
	}

	sccs := topo.TarjanSCC(g)
	classes := make([][]int, len(sccs))
	for k, scc := range sccs {
		members := make([]int, len(scc))
		for m, node := range scc {
			members[m] = int(node.ID())
		}
		slices.Sort(members)
		classes[k] = members
	}
	sort.SliceStable(classes, func(i, j int) bool {
		if len(classes[i]) != len(classes[j]) {
			return len(classes[i]) > len(classes[j])
		}
		return classes[i][0] < classes[j][0]
	})
	return classes
}

type peqConfig struct {
	requireErgodic bool
}

// PeqOption adjusts the equilibrium population estimate.
type PeqOption func(*peqConfig)

// RequireErgodic makes a non-ergodic transition matrix a value error instead
// of restricting the estimate to the largest communicating class.
func RequireErgodic() PeqOption {
	return func(cfg *peqConfig) { cfg.requireErgodic = true }
}

// EquilibriumPopulation returns the stationary distribution of a transition
// matrix: the leading left eigenvector, normalized to sum one. For a
// non-ergodic matrix the estimate is by default restricted to the largest
// communicating class (row-renormalized), with zero population elsewhere;
// with RequireErgodic it is a value error. A matrix that is not
// row-stochastic is always a value error.
func EquilibriumPopulation(tmat *mat.Dense, opts ...PeqOption) ([]float64, error) {
	var cfg peqConfig
	for _, o := range opts {
		o(&cfg)
	}
	if !IsTransitionMatrix(tmat) {
		return nil, fmt.Errorf("not a row-stochastic transition matrix: %w", ErrValue)
	}

	classes := communicatingClasses(tmat)
	if len(classes) == 1 {
		return leadingLeftVector(tmat)
	}
	if cfg.requireErgodic {
		return nil, fmt.Errorf("transition matrix is not ergodic (%d communicating classes): %w",
			len(classes), ErrValue)
	}

	largest := classes[0]
	sub := subMatrix(tmat, largest)
	peqSub, err := leadingLeftVector(RowNormalize(sub))
	if err != nil {
		return nil, err
	}
	n, _ := tmat.Dims()
	peq := make([]float64, n)
	for k, idx := range largest {
		peq[idx] = peqSub[k]
	}
	return peq, nil
}

// Peq is shorthand for EquilibriumPopulation.
func Peq(tmat *mat.Dense, opts ...PeqOption) ([]float64, error) {
	return EquilibriumPopulation(tmat, opts...)
}

// leadingLeftVector returns the left eigenvector of the largest eigenvalue,
// as magnitudes normalized to sum one.
func leadingLeftVector(tmat *mat.Dense) ([]float64, error) {
	var eig mat.Eigen
	if ok := eig.Factorize(tmat.T(), mat.EigenRight); !ok {
		return nil, fmt.Errorf("eigendecomposition did not converge: %w", ErrValue)
	}
	vals := eig.Values(nil)
	var vecs mat.CDense
	eig.VectorsTo(&vecs)

	best := 0
	for k := 1; k < len(vals); k++ {
		if real(vals[k]) > real(vals[best]) {
			best = k
		}
	}

	n, _ := tmat.Dims()
	peq := make([]float64, n)
	sum := 0.0
	for i := 0; i < n; i++ {
		v := cmplx.Abs(vecs.At(i, best))
		peq[i] = v
		sum += v
	}
	if sum == 0 {
		return nil, fmt.Errorf("degenerate leading eigenvector: %w", ErrValue)
	}
	for i := range peq {
		peq[i] /= sum
	}
	return peq, nil
}

func subMatrix(tmat *mat.Dense, idx []int) *mat.Dense {
	sub := mat.NewDense(len(idx), len(idx), nil)
	for i, ri := range idx {
		for j, rj := range idx {
			sub.Set(i, j, tmat.At(ri, rj))
		}
	}
	return sub
}

// MatrixPower returns tmat raised to the n-th power. n must not be negative;
// n == 0 yields the identity.
func MatrixPower(tmat *mat.Dense, n int) (*mat.Dense, error) {
	rows, cols := tmat.Dims()
	if rows != cols {
		return nil, fmt.Errorf("matrix is %dx%d, want square: %w", rows, cols, ErrValue)
	}
	if n < 0 {
		return nil, fmt.Errorf("negative matrix power %d: %w", n, ErrValue)
	}
	var out mat.Dense
	out.Pow(tmat, n)
	return &out, nil
}
