package traj

import (
	"fmt"
	"sort"
)

// Unique returns the sorted unique labels over all segments.
func Unique(segments [][]int64) []int64 {
	states, _ := uniqueStates(segments)
	return states
}

// ShiftData maps the label oldVals[i] to newVals[i] in every segment. Labels
// not listed in oldVals pass through unchanged. The two label lists must
// have equal length.
func ShiftData(segments [][]int64, oldVals, newVals []int64) ([][]int64, error) {
	if len(oldVals) != len(newVals) {
		return nil, fmt.Errorf("label lists differ in length: %d != %d: %w",
			len(oldVals), len(newVals), ErrValue)
	}
	shift := make(map[int64]int64, len(oldVals))
	for i, old := range oldVals {
		shift[old] = newVals[i]
	}

	out := make([][]int64, len(segments))
	for i, seg := range segments {
		shifted := make([]int64, len(seg))
		for j, label := range seg {
			if nv, ok := shift[label]; ok {
				shifted[j] = nv
			} else {
				shifted[j] = label
			}
		}
		out[i] = shifted
	}
	return out, nil
}

// RenameByPopulation renames the states to 1..n ordered by descending
// population over all frames. perm lists the original labels in their new
// order, so perm[0] is the most populated state. States with equal
// population are ordered by descending original label.
func RenameByPopulation(segments [][]int64) (renamed [][]int64, perm []int64) {
	states, _ := uniqueStates(segments)
	pop := make(map[int64]int, len(states))
	for _, seg := range segments {
		for _, label := range seg {
			pop[label]++
		}
	}

	perm = states
	sort.SliceStable(perm, func(i, j int) bool {
		if pop[perm[i]] != pop[perm[j]] {
			return pop[perm[i]] > pop[perm[j]]
		}
		return perm[i] > perm[j]
	})

	newVals := make([]int64, len(perm))
	for i := range perm {
		newVals[i] = int64(i + 1)
	}
	renamed, _ = ShiftData(segments, perm, newVals)
	return renamed, perm
}

// RenameByIndex renames the states to their canonical dense index 0..n-1
// (smallest label first). states lists the original labels in index order.
func RenameByIndex(segments [][]int64) (renamed [][]int64, states []int64) {
	var index map[int64]int32
	states, index = uniqueStates(segments)

	renamed = make([][]int64, len(segments))
	for i, seg := range segments {
		r := make([]int64, len(seg))
		for j, label := range seg {
			r[j] = int64(index[label])
		}
		renamed[i] = r
	}
	return renamed, states
}
