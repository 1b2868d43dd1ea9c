package trajio

import (
	"fmt"
	"slices"

	"github.com/banshee-data/kinetics.report/internal/traj"
)

// OpenLimits returns the cumulative frame limits that split a concatenated
// trajectory of nframes into its segments. The limits file lists one segment
// length per line; lengths not summing to nframes are a value error. An
// empty path means a single segment covering everything.
func OpenLimits(nframes int, path string, opts ...Option) ([]int, error) {
	if path == "" {
		return []int{nframes}, nil
	}
	lengths, err := OpenTxt(path, opts...)
	if err != nil {
		return nil, err
	}

	limits := make([]int, len(lengths))
	total := 0
	for i, l := range lengths {
		if l < 1 {
			return nil, fmt.Errorf("segment length %d: must be positive: %w", l, traj.ErrValue)
		}
		total += int(l)
		limits[i] = total
	}
	if total != nframes {
		return nil, fmt.Errorf("segment lengths sum to %d, trajectory has %d frames: %w",
			total, nframes, traj.ErrValue)
	}
	return limits, nil
}

// OpenTxtLimits loads a concatenated trajectory and splits it into segments
// according to the limits file.
func OpenTxtLimits(path, limitsPath string, opts ...Option) ([][]int64, error) {
	data, err := OpenTxt(path, opts...)
	if err != nil {
		return nil, err
	}
	limits, err := OpenLimits(len(data), limitsPath, opts...)
	if err != nil {
		return nil, err
	}

	segments := make([][]int64, len(limits))
	prev := 0
	for i, lim := range limits {
		segments[i] = slices.Clone(data[prev:lim])
		prev = lim
	}
	return segments, nil
}

// OpenMicrostates loads a trajectory file into its canonical form.
func OpenMicrostates(path, limitsPath string, opts ...Option) (*traj.StateTraj, error) {
	segments, err := OpenTxtLimits(path, limitsPath, opts...)
	if err != nil {
		return nil, err
	}
	return traj.New(segments)
}
