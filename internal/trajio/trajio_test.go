package trajio

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/kinetics.report/internal/traj"
)

var trajFrames = []int64{1, 1, 1, 1, 1, 2, 2, 1, 2, 3, 2, 2, 3}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func trajFileContent() string {
	var b strings.Builder
	b.WriteString("# discretized trajectory\n")
	b.WriteString("@ xmgrace flavored comment\n")
	for _, v := range trajFrames {
		b.WriteString(strconv.FormatInt(v, 10))
		b.WriteString("\n")
	}
	return b.String()
}

func TestOpenTxt(t *testing.T) {
	path := writeFile(t, "traj.dat", trajFileContent())

	data, err := OpenTxt(path, WithComments("#", "@"))
	if err != nil {
		t.Fatalf("OpenTxt: %v", err)
	}
	if diff := cmp.Diff(trajFrames, data); diff != "" {
		t.Errorf("data mismatch (-want +got):\n%s", diff)
	}
}

func TestOpenTxtDefaultComments(t *testing.T) {
	// Only '#' is a comment by default, so the '@' line is a parse error.
	path := writeFile(t, "traj.dat", trajFileContent())

	_, err := OpenTxt(path)
	if !errors.Is(err, traj.ErrType) {
		t.Errorf("err = %v, want ErrType", err)
	}
}

func TestOpenTxtColumns(t *testing.T) {
	path := writeFile(t, "traj.dat", "1 4\n2 5\n3 6\n")

	first, err := OpenTxt(path)
	if err != nil {
		t.Fatalf("OpenTxt: %v", err)
	}
	if diff := cmp.Diff([]int64{1, 2, 3}, first); diff != "" {
		t.Errorf("column 0 mismatch (-want +got):\n%s", diff)
	}

	second, err := OpenTxt(path, WithColumn(1))
	if err != nil {
		t.Fatalf("OpenTxt: %v", err)
	}
	if diff := cmp.Diff([]int64{4, 5, 6}, second); diff != "" {
		t.Errorf("column 1 mismatch (-want +got):\n%s", diff)
	}

	if _, err := OpenTxt(path, WithColumn(5)); !errors.Is(err, traj.ErrValue) {
		t.Errorf("out of range column err = %v, want ErrValue", err)
	}
}

func TestOpenTxtErrors(t *testing.T) {
	t.Run("non-integer value", func(t *testing.T) {
		path := writeFile(t, "traj.dat", "1\n2.5\n3\n")
		_, err := OpenTxt(path)
		if !errors.Is(err, traj.ErrType) {
			t.Fatalf("err = %v, want ErrType", err)
		}
		if !strings.Contains(err.Error(), "line 2") {
			t.Errorf("error %q does not name the line", err)
		}
	})

	t.Run("empty file", func(t *testing.T) {
		path := writeFile(t, "traj.dat", "# only a comment\n")
		if _, err := OpenTxt(path); !errors.Is(err, traj.ErrValue) {
			t.Errorf("err = %v, want ErrValue", err)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := OpenTxt(filepath.Join(t.TempDir(), "nope.dat")); err == nil {
			t.Error("missing file did not fail")
		}
	})
}

func TestSaveTxtRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.dat")

	if err := SaveTxt(path, trajFrames, "cored trajectory\nlagtime: 10"); err != nil {
		t.Fatalf("SaveTxt: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if !strings.HasPrefix(lines[0], "# ") || !strings.HasPrefix(lines[1], "# ") {
		t.Errorf("header lines not '#'-prefixed: %q, %q", lines[0], lines[1])
	}

	data, err := OpenTxt(path)
	if err != nil {
		t.Fatalf("OpenTxt: %v", err)
	}
	if diff := cmp.Diff(trajFrames, data); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestOpenLimits(t *testing.T) {
	limitsPath := writeFile(t, "limits.dat", "5\n5\n3\n")

	limits, err := OpenLimits(13, limitsPath)
	if err != nil {
		t.Fatalf("OpenLimits: %v", err)
	}
	if diff := cmp.Diff([]int{5, 10, 13}, limits); diff != "" {
		t.Errorf("limits mismatch (-want +got):\n%s", diff)
	}

	t.Run("empty path means one segment", func(t *testing.T) {
		limits, err := OpenLimits(13, "")
		if err != nil {
			t.Fatalf("OpenLimits: %v", err)
		}
		if diff := cmp.Diff([]int{13}, limits); diff != "" {
			t.Errorf("limits mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("lengths must sum to nframes", func(t *testing.T) {
		if _, err := OpenLimits(12, limitsPath); !errors.Is(err, traj.ErrValue) {
			t.Errorf("err = %v, want ErrValue", err)
		}
	})

	t.Run("lengths must be positive", func(t *testing.T) {
		bad := writeFile(t, "limits.dat", "5\n0\n8\n")
		if _, err := OpenLimits(13, bad); !errors.Is(err, traj.ErrValue) {
			t.Errorf("err = %v, want ErrValue", err)
		}
	})
}

func TestOpenTxtLimits(t *testing.T) {
	trajPath := writeFile(t, "traj.dat", trajFileContent())
	limitsPath := writeFile(t, "limits.dat", "5\n5\n3\n")

	segments, err := OpenTxtLimits(trajPath, limitsPath, WithComments("#", "@"))
	if err != nil {
		t.Fatalf("OpenTxtLimits: %v", err)
	}
	want := [][]int64{
		{1, 1, 1, 1, 1},
		{2, 2, 1, 2, 3},
		{2, 2, 3},
	}
	if diff := cmp.Diff(want, segments); diff != "" {
		t.Errorf("segments mismatch (-want +got):\n%s", diff)
	}
}

func TestOpenMicrostates(t *testing.T) {
	trajPath := writeFile(t, "traj.dat", trajFileContent())
	limitsPath := writeFile(t, "limits.dat", "5\n5\n3\n")

	tr, err := OpenMicrostates(trajPath, limitsPath, WithComments("#", "@"))
	if err != nil {
		t.Fatalf("OpenMicrostates: %v", err)
	}
	if got := tr.NTrajs(); got != 3 {
		t.Errorf("NTrajs = %d, want 3", got)
	}
	if diff := cmp.Diff([]int64{1, 2, 3}, tr.States()); diff != "" {
		t.Errorf("States mismatch (-want +got):\n%s", diff)
	}
}
