package traj

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// Four microstates {1,2,3,4} lumped onto three macrostates: 1 and 3 share a
// macrostate, 2 and 4 keep their own.
var (
	microFrames     = []int64{4, 1, 1, 1, 3, 2, 3, 2, 1, 1, 1, 3, 2, 2, 4}
	microAssignment = []int64{1, 2, 1, 3}
	macroFrames     = []int64{3, 1, 1, 1, 1, 2, 1, 2, 1, 1, 1, 1, 2, 2, 3}
)

func TestLump(t *testing.T) {
	micro, err := NewFlat(microFrames)
	if err != nil {
		t.Fatalf("NewFlat: %v", err)
	}
	lt, err := Lump(micro, microAssignment)
	if err != nil {
		t.Fatalf("Lump: %v", err)
	}

	if got := lt.NStates(); got != 3 {
		t.Errorf("NStates = %d, want 3", got)
	}
	if got := lt.NMicrostates(); got != 4 {
		t.Errorf("NMicrostates = %d, want 4", got)
	}
	if got, want := lt.NFrames(), len(microFrames); got != want {
		t.Errorf("NFrames = %d, want %d", got, want)
	}
	if diff := cmp.Diff([]int64{1, 2, 3}, lt.States()); diff != "" {
		t.Errorf("States mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int64{1, 2, 3, 4}, lt.Microstates()); diff != "" {
		t.Errorf("Microstates mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(microAssignment, lt.StateAssignment()); diff != "" {
		t.Errorf("StateAssignment mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([][]int64{macroFrames}, lt.StateTrajs()); diff != "" {
		t.Errorf("StateTrajs mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([][]int64{microFrames}, lt.MicrostateTrajs()); diff != "" {
		t.Errorf("MicrostateTrajs mismatch (-want +got):\n%s", diff)
	}

	wantMacroIndex := []int32{2, 0, 0, 0, 0, 1, 0, 1, 0, 0, 0, 0, 1, 1, 2}
	if diff := cmp.Diff([][]int32{wantMacroIndex}, lt.IndexTrajs()); diff != "" {
		t.Errorf("IndexTrajs mismatch (-want +got):\n%s", diff)
	}

	// Iteration runs at macro resolution.
	var segs [][]int64
	for seg := range lt.Segments() {
		segs = append(segs, seg)
	}
	if diff := cmp.Diff([][]int64{macroFrames}, segs); diff != "" {
		t.Errorf("Segments mismatch (-want +got):\n%s", diff)
	}

	if s := lt.String(); !strings.HasPrefix(s, "[") {
		t.Errorf("String() = %q, want leading '['", s)
	}
}

func TestLumpShapeErrors(t *testing.T) {
	micro, _ := NewFlat(microFrames)

	// One entry per frame instead of one per microstate.
	perFrame := make([]int64, micro.NFrames())
	_, err := Lump(micro, perFrame)
	if !errors.Is(err, ErrValue) {
		t.Fatalf("per-frame assignment err = %v, want ErrValue", err)
	}
	if msg := err.Error(); !strings.Contains(msg, "15") || !strings.Contains(msg, "4") {
		t.Errorf("error %q does not name both lengths", msg)
	}

	if _, err := Lump(micro, []int64{1, 2}); !errors.Is(err, ErrValue) {
		t.Errorf("short assignment err = %v, want ErrValue", err)
	}
	if _, err := Lump(nil, microAssignment); !errors.Is(err, ErrValue) {
		t.Errorf("nil micro err = %v, want ErrValue", err)
	}
}

func TestLumpRaw(t *testing.T) {
	lt, err := LumpRaw([][]int64{microFrames}, microAssignment)
	if err != nil {
		t.Fatalf("LumpRaw: %v", err)
	}
	micro, _ := NewFlat(microFrames)
	want, _ := Lump(micro, microAssignment)
	if !lt.Equal(want) {
		t.Errorf("LumpRaw built %v, want %v", lt, want)
	}
}

func TestLumpFrames(t *testing.T) {
	lt, err := LumpFrames([][]int64{macroFrames}, [][]int64{microFrames})
	if err != nil {
		t.Fatalf("LumpFrames: %v", err)
	}
	want, _ := LumpRaw([][]int64{microFrames}, microAssignment)
	if !lt.Equal(want) {
		t.Errorf("LumpFrames built %v, want %v", lt, want)
	}

	t.Run("conflicting assignment", func(t *testing.T) {
		// Microstate 1 appears under macrostates 1 and 2.
		_, err := LumpFrames([][]int64{{1, 2, 1}}, [][]int64{{1, 2, 2}})
		if !errors.Is(err, ErrValue) {
			t.Errorf("err = %v, want ErrValue", err)
		}
	})

	t.Run("shape mismatch", func(t *testing.T) {
		if _, err := LumpFrames([][]int64{{1, 1}}, [][]int64{{1, 1, 2}}); !errors.Is(err, ErrValue) {
			t.Errorf("segment length mismatch err = %v, want ErrValue", err)
		}
		if _, err := LumpFrames([][]int64{{1}}, [][]int64{{1}, {2}}); !errors.Is(err, ErrValue) {
			t.Errorf("segment count mismatch err = %v, want ErrValue", err)
		}
	})
}

func TestLumpedEqual(t *testing.T) {
	a, _ := LumpRaw([][]int64{microFrames}, microAssignment)
	b, _ := LumpRaw([][]int64{microFrames}, microAssignment)
	if !a.Equal(b) {
		t.Error("identical lumped trajectories compare unequal")
	}

	// Same microstates, different grouping.
	c, _ := LumpRaw([][]int64{microFrames}, []int64{1, 2, 2, 3})
	if a.Equal(c) {
		t.Error("different groupings compare equal")
	}

	// Macro labels renamed, grouping identical.
	d, _ := LumpRaw([][]int64{microFrames}, []int64{10, 20, 10, 30})
	if !a.Equal(d) {
		t.Error("relabelled macrostates with identical grouping compare unequal")
	}

	if a.Equal(nil) {
		t.Error("Equal(nil) = true")
	}
}

func TestLumpedJSONRoundTrip(t *testing.T) {
	lt, _ := LumpRaw([][]int64{microFrames}, microAssignment)

	b, err := json.Marshal(lt)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(b), `"assignment"`) {
		t.Errorf("encoded form %s lacks the assignment key", b)
	}

	var back LumpedStateTraj
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !lt.Equal(&back) {
		t.Errorf("round trip changed the trajectory: %v != %v", &back, lt)
	}
}
