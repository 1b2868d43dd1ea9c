package traj

import (
	"encoding/json"
	"fmt"
	"iter"
	"slices"
)

// LumpedStateTraj is a microstate trajectory coarse-grained onto macrostates.
// The lump is defined by an assignment of every microstate to one macrostate;
// frames are never split. The effective resolution of the trajectory (the
// Trajectory contract: NStates, States, IndexTrajs, StateTrajs) is the macro
// one; the underlying microstate forms stay available through the
// Microstate* accessors.
type LumpedStateTraj struct {
	micro       *StateTraj
	assignment  []int64 // macro label per microstate index
	macroStates []int64 // sorted unique macro labels
	macroIndex  map[int64]int32
	macroTrajs  [][]int32 // macro index form, one slice per segment
}

// Lump coarse-grains micro onto macrostates. assignment[i] is the macrostate
// label of the i-th sorted unique microstate label, i.e. it is aligned with
// micro.States(). An assignment with one entry per frame instead of one per
// microstate is rejected with a value error naming both lengths.
func Lump(micro *StateTraj, assignment []int64) (*LumpedStateTraj, error) {
	if micro == nil {
		return nil, fmt.Errorf("no microstate trajectory given: %w", ErrValue)
	}
	if len(assignment) != micro.NStates() {
		if len(assignment) == micro.NFrames() {
			return nil, fmt.Errorf(
				"assignment has one entry per frame (%d), want one per microstate (%d); lump per-frame macrostate data with LumpFrames: %w",
				len(assignment), micro.NStates(), ErrValue)
		}
		return nil, fmt.Errorf("assignment length %d does not match %d microstates: %w",
			len(assignment), micro.NStates(), ErrValue)
	}

	macroStates, macroIndex := uniqueStates([][]int64{assignment})
	macroTrajs := make([][]int32, len(micro.trajs))
	for i, seg := range micro.trajs {
		m := make([]int32, len(seg))
		for j, idx := range seg {
			m[j] = macroIndex[assignment[idx]]
		}
		macroTrajs[i] = m
	}
	return &LumpedStateTraj{
		micro:       micro,
		assignment:  slices.Clone(assignment),
		macroStates: macroStates,
		macroIndex:  macroIndex,
		macroTrajs:  macroTrajs,
	}, nil
}

// LumpRaw builds the microstate trajectory from label segments and lumps it.
func LumpRaw(segments [][]int64, assignment []int64) (*LumpedStateTraj, error) {
	micro, err := New(segments)
	if err != nil {
		return nil, err
	}
	return Lump(micro, assignment)
}

// LumpFrames lumps from per-frame macrostate data: macroSegments[i][j] is the
// macrostate label of frame j in microSegments[i]. Both inputs must have
// identical shapes, and every microstate must map to exactly one macrostate
// over all frames; a microstate seen with two macrostates is a value error.
func LumpFrames(macroSegments, microSegments [][]int64) (*LumpedStateTraj, error) {
	if len(macroSegments) != len(microSegments) {
		return nil, fmt.Errorf("macro/micro segment counts differ: %d != %d: %w",
			len(macroSegments), len(microSegments), ErrValue)
	}
	micro, err := New(microSegments)
	if err != nil {
		return nil, err
	}

	mapping := make(map[int64]int64, micro.NStates())
	for i, mseg := range macroSegments {
		useg := microSegments[i]
		if len(mseg) != len(useg) {
			return nil, fmt.Errorf("segment %d: macro/micro lengths differ: %d != %d: %w",
				i, len(mseg), len(useg), ErrValue)
		}
		for j, macro := range mseg {
			u := useg[j]
			if prev, ok := mapping[u]; ok && prev != macro {
				return nil, fmt.Errorf("microstate %d assigned to macrostates %d and %d: %w",
					u, prev, macro, ErrValue)
			}
			mapping[u] = macro
		}
	}

	assignment := make([]int64, micro.NStates())
	for i, label := range micro.states {
		assignment[i] = mapping[label]
	}
	return Lump(micro, assignment)
}

// NStates returns the number of macrostates.
func (l *LumpedStateTraj) NStates() int { return len(l.macroStates) }

// NTrajs returns the number of contiguous segments.
func (l *LumpedStateTraj) NTrajs() int { return l.micro.NTrajs() }

// NFrames returns the total frame count over all segments.
func (l *LumpedStateTraj) NFrames() int { return l.micro.NFrames() }

// States returns the sorted macrostate labels.
func (l *LumpedStateTraj) States() []int64 { return slices.Clone(l.macroStates) }

// IndexTrajs returns the canonical macro index form, one slice per segment.
func (l *LumpedStateTraj) IndexTrajs() [][]int32 { return copyIndexTrajs(l.macroTrajs) }

// StateTrajs returns the segments in macrostate label form.
func (l *LumpedStateTraj) StateTrajs() [][]int64 {
	out := make([][]int64, len(l.macroTrajs))
	for i, seg := range l.macroTrajs {
		labels := make([]int64, len(seg))
		for j, idx := range seg {
			labels[j] = l.macroStates[idx]
		}
		out[i] = labels
	}
	return out
}

// Segment returns segment i in macrostate label form. i must be in
// [0, NTrajs).
func (l *LumpedStateTraj) Segment(i int) []int64 {
	seg := l.macroTrajs[i]
	labels := make([]int64, len(seg))
	for j, idx := range seg {
		labels[j] = l.macroStates[idx]
	}
	return labels
}

// Segments yields each segment in macrostate label form, in order.
func (l *LumpedStateTraj) Segments() iter.Seq[[]int64] {
	return func(yield func([]int64) bool) {
		for i := range l.macroTrajs {
			if !yield(l.Segment(i)) {
				return
			}
		}
	}
}

// NMicrostates returns the number of distinct microstates.
func (l *LumpedStateTraj) NMicrostates() int { return l.micro.NStates() }

// Microstates returns the sorted microstate labels.
func (l *LumpedStateTraj) Microstates() []int64 { return l.micro.States() }

// MicrostateIndexTrajs returns the canonical microstate index form.
func (l *LumpedStateTraj) MicrostateIndexTrajs() [][]int32 { return l.micro.IndexTrajs() }

// MicrostateTrajs returns the segments in microstate label form.
func (l *LumpedStateTraj) MicrostateTrajs() [][]int64 { return l.micro.StateTrajs() }

// StateAssignment returns the macrostate label per microstate index, aligned
// with Microstates().
func (l *LumpedStateTraj) StateAssignment() []int64 { return slices.Clone(l.assignment) }

// Equal reports whether both lumped trajectories have identical microstate
// index forms and identical macro groupings. The same microstate sequence
// lumped two different ways is unequal; macro label identity is irrelevant.
func (l *LumpedStateTraj) Equal(other *LumpedStateTraj) bool {
	if other == nil {
		return false
	}
	if !l.micro.Equal(other.micro) {
		return false
	}
	if len(l.macroTrajs) != len(other.macroTrajs) {
		return false
	}
	for i := range l.macroTrajs {
		if !slices.Equal(l.macroTrajs[i], other.macroTrajs[i]) {
			return false
		}
	}
	return true
}

// String renders the macrostate label segments. The first byte is always '['.
func (l *LumpedStateTraj) String() string { return fmt.Sprint(l.StateTrajs()) }

type lumpedJSON struct {
	Trajs      [][]int64 `json:"trajs"`
	Assignment []int64   `json:"assignment"`
}

// MarshalJSON encodes the microstate label segments and the assignment.
func (l *LumpedStateTraj) MarshalJSON() ([]byte, error) {
	return json.Marshal(lumpedJSON{Trajs: l.micro.StateTrajs(), Assignment: l.assignment})
}

// UnmarshalJSON decodes the form written by MarshalJSON.
func (l *LumpedStateTraj) UnmarshalJSON(b []byte) error {
	var raw lumpedJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("decode lumped trajectory: %w", err)
	}
	nl, err := LumpRaw(raw.Trajs, raw.Assignment)
	if err != nil {
		return err
	}
	*l = *nl
	return nil
}
