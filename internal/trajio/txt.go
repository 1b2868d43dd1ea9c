// Package trajio reads and writes whitespace-separated ASCII state
// trajectory files, the interchange format of most MD discretization
// pipelines: one frame per line, optional comment lines, and a separate
// limits file carrying the segment lengths of concatenated trajectories.
package trajio

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/banshee-data/kinetics.report/internal/traj"
)

type config struct {
	comments []string
	column   int
}

// Option adjusts parsing of trajectory files.
type Option func(*config)

// WithComments replaces the comment line prefixes. The default is "#"; add
// "@" for xmgrace-flavored files.
func WithComments(prefixes ...string) Option {
	return func(cfg *config) { cfg.comments = prefixes }
}

// WithColumn selects the whitespace-separated column to read. The default
// is the first column.
func WithColumn(col int) Option {
	return func(cfg *config) { cfg.column = col }
}

func applyOptions(opts []Option) config {
	cfg := config{comments: []string{"#"}}
	for _, o := range opts {
		o(&cfg)
	}
	return cfg
}

// OpenTxt reads one integer state label per data line. Blank lines and
// comment lines are skipped; a non-integer value is a type error naming the
// line, an empty file a value error.
func OpenTxt(path string, opts ...Option) ([]int64, error) {
	cfg := applyOptions(opts)

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trajectory: %w", err)
	}
	defer f.Close()

	var data []int64
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineno := 0
	for sc.Scan() {
		lineno++
		line := strings.TrimSpace(sc.Text())
		if line == "" || isComment(line, cfg.comments) {
			continue
		}
		fields := strings.Fields(line)
		if cfg.column >= len(fields) {
			return nil, fmt.Errorf("line %d: column %d out of range, %d fields: %w",
				lineno, cfg.column, len(fields), traj.ErrValue)
		}
		v, err := strconv.ParseInt(fields[cfg.column], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: %q is not an integer state label: %w",
				lineno, fields[cfg.column], traj.ErrType)
		}
		data = append(data, v)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read trajectory: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("no data lines in %s: %w", path, traj.ErrValue)
	}
	return data, nil
}

func isComment(line string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}

// SaveTxt writes one state label per line. Header lines, if any, come first
// and are prefixed with "# ".
func SaveTxt(path string, data []int64, header string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	w := bufio.NewWriter(f)
	if header != "" {
		for _, line := range strings.Split(header, "\n") {
			fmt.Fprintf(w, "# %s\n", line)
		}
	}
	for _, v := range data {
		fmt.Fprintln(w, v)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
