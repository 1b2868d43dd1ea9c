package md

import (
	"fmt"

	"github.com/banshee-data/kinetics.report/internal/traj"
)

// RunningMean smooths a series with a centered moving average, zero-padded
// at the borders. Even windows include one more sample before the current
// one than after it. The output has the input's length.
func RunningMean(data []float64, window int) ([]float64, error) {
	if window < 1 {
		return nil, fmt.Errorf("window %d: must be a positive integer: %w", window, traj.ErrValue)
	}

	n := len(data)
	lo := (window-1)/2 - window + 1
	hi := (window - 1) / 2

	out := make([]float64, n)
	for i := range out {
		sum := 0.0
		for j := i + lo; j <= i+hi; j++ {
			if j >= 0 && j < n {
				sum += data[j]
			}
		}
		out[i] = sum / float64(window)
	}
	return out, nil
}
