// Package traj canonicalizes discrete state trajectories from molecular
// dynamics (or other stochastic) simulations.
//
// A trajectory is a list of contiguous segments of integer state labels.
// Labels may be arbitrary integers; internally every trajectory is held in
// its canonical index form, where the sorted unique labels are mapped onto
// the dense indices 0..NStates-1 (smallest label first). All derived data is
// computed once at construction and values are immutable afterwards: there
// is no setter surface, and slice-returning accessors hand out copies.
package traj

import (
	"encoding/json"
	"fmt"
	"iter"
	"slices"
)

// Trajectory is the read-only contract shared by StateTraj and
// LumpedStateTraj at their effective state resolution. Estimators that only
// need the canonical form (transition counting, timescale sweeps) accept
// this interface instead of a concrete type.
type Trajectory interface {
	NStates() int
	NTrajs() int
	NFrames() int
	States() []int64
	IndexTrajs() [][]int32
	StateTrajs() [][]int64
}

// StateTraj holds one or more discrete state trajectory segments over a
// shared state space.
type StateTraj struct {
	states  []int64         // sorted unique original labels
	index   map[int64]int32 // original label -> dense index
	trajs   [][]int32       // canonical index form, one slice per segment
	nframes int
}

// New builds a StateTraj from one or more integer label segments. The input
// is copied; later changes to segments do not affect the trajectory. An
// empty segment list or an empty segment is a value error.
func New(segments [][]int64) (*StateTraj, error) {
	if len(segments) == 0 {
		return nil, fmt.Errorf("no trajectory segments given: %w", ErrValue)
	}
	for i, seg := range segments {
		if len(seg) == 0 {
			return nil, fmt.Errorf("trajectory segment %d is empty: %w", i, ErrValue)
		}
	}

	states, index := uniqueStates(segments)
	trajs := make([][]int32, len(segments))
	nframes := 0
	for i, seg := range segments {
		idx := make([]int32, len(seg))
		for j, label := range seg {
			idx[j] = index[label]
		}
		trajs[i] = idx
		nframes += len(seg)
	}
	return &StateTraj{states: states, index: index, trajs: trajs, nframes: nframes}, nil
}

// NewFlat builds a single-segment StateTraj.
func NewFlat(frames []int64) (*StateTraj, error) {
	return New([][]int64{frames})
}

// From normalizes the accepted trajectory input forms. StateTraj and
// LumpedStateTraj values pass through unchanged (identity preserved), label
// slices are wrapped via New. Any other dynamic type is a type error.
func From(v any) (Trajectory, error) {
	switch x := v.(type) {
	case *StateTraj:
		return x, nil
	case *LumpedStateTraj:
		return x, nil
	case [][]int64:
		return New(x)
	case []int64:
		return NewFlat(x)
	case [][]int:
		segs := make([][]int64, len(x))
		for i, seg := range x {
			segs[i] = toInt64(seg)
		}
		return New(segs)
	case []int:
		return NewFlat(toInt64(x))
	}
	return nil, fmt.Errorf("cannot build a state trajectory from %T: %w", v, ErrType)
}

// NStates returns the number of distinct states.
func (t *StateTraj) NStates() int { return len(t.states) }

// NTrajs returns the number of contiguous segments.
func (t *StateTraj) NTrajs() int { return len(t.trajs) }

// NFrames returns the total frame count over all segments.
func (t *StateTraj) NFrames() int { return t.nframes }

// States returns the sorted original state labels. Index i of the canonical
// form corresponds to States()[i].
func (t *StateTraj) States() []int64 { return slices.Clone(t.states) }

// IndexTrajs returns the canonical index form, one slice per segment.
func (t *StateTraj) IndexTrajs() [][]int32 { return copyIndexTrajs(t.trajs) }

// Trajs is shorthand for IndexTrajs, the canonical dense form.
func (t *StateTraj) Trajs() [][]int32 { return t.IndexTrajs() }

// StateTrajs returns the segments in their original label form.
func (t *StateTraj) StateTrajs() [][]int64 {
	out := make([][]int64, len(t.trajs))
	for i := range t.trajs {
		out[i] = t.Segment(i)
	}
	return out
}

// IndexTrajsFlat returns the concatenated canonical index form.
func (t *StateTraj) IndexTrajsFlat() []int32 {
	out := make([]int32, 0, t.nframes)
	for _, seg := range t.trajs {
		out = append(out, seg...)
	}
	return out
}

// StateTrajsFlat returns the concatenated original label form.
func (t *StateTraj) StateTrajsFlat() []int64 {
	out := make([]int64, 0, t.nframes)
	for _, seg := range t.trajs {
		for _, idx := range seg {
			out = append(out, t.states[idx])
		}
	}
	return out
}

// Segment returns segment i in original label form. i must be in
// [0, NTrajs).
func (t *StateTraj) Segment(i int) []int64 {
	seg := t.trajs[i]
	labels := make([]int64, len(seg))
	for j, idx := range seg {
		labels[j] = t.states[idx]
	}
	return labels
}

// Segments yields each segment in original label form, in order. Every
// yielded slice is a copy and rebuilds into an equivalent single-segment
// trajectory via NewFlat.
func (t *StateTraj) Segments() iter.Seq[[]int64] {
	return func(yield func([]int64) bool) {
		for i := range t.trajs {
			if !yield(t.Segment(i)) {
				return
			}
		}
	}
}

// StateToIndex maps an original label to its canonical index. The second
// return reports whether the label occurs in the trajectory.
func (t *StateTraj) StateToIndex(label int64) (int32, bool) {
	idx, ok := t.index[label]
	return idx, ok
}

// IndexToState maps a canonical index back to its original label. idx must
// be in [0, NStates).
func (t *StateTraj) IndexToState(idx int32) int64 { return t.states[idx] }

// Equal reports whether both trajectories have identical canonical index
// forms, segment for segment. Original label identity is irrelevant: two
// trajectories that visit their states in the same order compare equal even
// when labelled differently. A nil other is never equal.
func (t *StateTraj) Equal(other *StateTraj) bool {
	if other == nil {
		return false
	}
	if len(t.trajs) != len(other.trajs) {
		return false
	}
	for i := range t.trajs {
		if !slices.Equal(t.trajs[i], other.trajs[i]) {
			return false
		}
	}
	return true
}

// Equal compares two values of any type. Values that are not both plain
// trajectories or both lumped trajectories are unequal; no input panics.
func Equal(a, b any) bool {
	switch x := a.(type) {
	case *StateTraj:
		y, ok := b.(*StateTraj)
		return ok && x != nil && x.Equal(y)
	case *LumpedStateTraj:
		y, ok := b.(*LumpedStateTraj)
		return ok && x != nil && x.Equal(y)
	}
	return false
}

// String renders the original label segments. The first byte is always '['.
func (t *StateTraj) String() string { return fmt.Sprint(t.StateTrajs()) }

type stateTrajJSON struct {
	Trajs [][]int64 `json:"trajs"`
}

// MarshalJSON encodes the original label segments as {"trajs": [[…]…]}.
func (t *StateTraj) MarshalJSON() ([]byte, error) {
	return json.Marshal(stateTrajJSON{Trajs: t.StateTrajs()})
}

// UnmarshalJSON decodes the form written by MarshalJSON and canonicalizes
// it. The round trip decode(encode(x)) is Equal to x.
func (t *StateTraj) UnmarshalJSON(b []byte) error {
	var raw stateTrajJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("decode state trajectory: %w", err)
	}
	nt, err := New(raw.Trajs)
	if err != nil {
		return err
	}
	*t = *nt
	return nil
}

// MarshalText encodes the trajectory in its JSON form.
func (t *StateTraj) MarshalText() ([]byte, error) { return t.MarshalJSON() }

// UnmarshalText decodes the form written by MarshalText.
func (t *StateTraj) UnmarshalText(b []byte) error { return t.UnmarshalJSON(b) }

// Parse decodes the textual (JSON) trajectory form.
func Parse(text string) (*StateTraj, error) {
	t := new(StateTraj)
	if err := t.UnmarshalText([]byte(text)); err != nil {
		return nil, err
	}
	return t, nil
}

// uniqueStates returns the sorted unique labels of all segments and the
// label-to-index map.
func uniqueStates(segments [][]int64) ([]int64, map[int64]int32) {
	seen := make(map[int64]struct{})
	for _, seg := range segments {
		for _, label := range seg {
			seen[label] = struct{}{}
		}
	}
	states := make([]int64, 0, len(seen))
	for label := range seen {
		states = append(states, label)
	}
	slices.Sort(states)
	index := make(map[int64]int32, len(states))
	for i, label := range states {
		index[label] = int32(i)
	}
	return states, index
}

func copyIndexTrajs(src [][]int32) [][]int32 {
	out := make([][]int32, len(src))
	for i, seg := range src {
		out[i] = slices.Clone(seg)
	}
	return out
}

func toInt64(src []int) []int64 {
	out := make([]int64, len(src))
	for i, v := range src {
		out[i] = int64(v)
	}
	return out
}
