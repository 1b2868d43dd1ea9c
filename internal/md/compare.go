package md

import (
	"fmt"
	"math"

	"github.com/banshee-data/kinetics.report/internal/traj"
)

// Method selects how two discretizations are scored against each other.
type Method string

const (
	// Symmetric scores each frame by the better of the two assignment
	// directions.
	Symmetric Method = "symmetric"
	// Directed scores each frame by how well the second discretization's
	// state is covered by the first's.
	Directed Method = "directed"
)

// CompareDiscretization scores how consistently two discretizations of the
// same underlying data assign their states, in [0, 1]. For every frame the
// overlap of the two occupied states is set against one state's total
// occupation: against the second trajectory's state (Directed), or the
// better of both directions (Symmetric). The frame scores are averaged.
// Identical discretizations score one regardless of labelling. The
// trajectories must cover the same number of frames.
func CompareDiscretization(a, b *traj.StateTraj, method Method) (float64, error) {
	switch method {
	case Symmetric, Directed:
	default:
		return 0, fmt.Errorf("unknown comparison method %q: %w", method, traj.ErrValue)
	}
	if a.NFrames() != b.NFrames() {
		return 0, fmt.Errorf("frame counts differ: %d != %d: %w",
			a.NFrames(), b.NFrames(), traj.ErrValue)
	}

	fa := a.IndexTrajsFlat()
	fb := b.IndexTrajsFlat()

	type pair struct{ a, b int32 }
	joint := make(map[pair]int)
	cntA := make([]int, a.NStates())
	cntB := make([]int, b.NStates())
	for f := range fa {
		joint[pair{fa[f], fb[f]}]++
		cntA[fa[f]]++
		cntB[fb[f]]++
	}

	sum := 0.0
	for f := range fa {
		overlap := float64(joint[pair{fa[f], fb[f]}])
		backward := overlap / float64(cntB[fb[f]])
		if method == Directed {
			sum += backward
			continue
		}
		sum += math.Max(backward, overlap/float64(cntA[fa[f]]))
	}
	return sum / float64(len(fa)), nil
}
