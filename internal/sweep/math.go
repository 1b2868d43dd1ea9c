package sweep

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ParseCSVInts parses a comma-separated list of int values.
// Returns nil, nil for empty input strings.
func ParseCSVInts(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid int '%s': %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// ParseCSVInt64s parses a comma-separated list of int64 state labels.
// Returns nil, nil for empty input strings.
func ParseCSVInt64s(s string) ([]int64, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid int '%s': %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// MeanStddev calculates the mean and sample standard deviation of a slice.
// Returns (0, 0) for empty slices.
func MeanStddev(xs []float64) (mean float64, stddev float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range xs {
		sum += v
	}
	mean = sum / float64(len(xs))

	var sdSum float64
	for _, v := range xs {
		d := v - mean
		sdSum += d * d
	}
	if len(xs) > 1 {
		stddev = math.Sqrt(sdSum / float64(len(xs)-1))
	} else {
		stddev = 0
	}
	return mean, stddev
}

// DistStats summarizes a waiting time distribution given as duration counts:
// mean and sample standard deviation over the expanded durations.
func DistStats(dist map[int]int) (mean float64, stddev float64) {
	var total int
	for _, count := range dist {
		total += count
	}
	if total == 0 {
		return 0, 0
	}
	xs := make([]float64, 0, total)
	for wt, count := range dist {
		for i := 0; i < count; i++ {
			xs = append(xs, float64(wt))
		}
	}
	return MeanStddev(xs)
}
