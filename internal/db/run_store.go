package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/kinetics.report/internal/markov"
)

// Run status values stored in analysis_runs.status.
const (
	RunStatusRunning  = "running"
	RunStatusComplete = "complete"
	RunStatusError    = "error"
)

// AnalysisRun represents a persisted analysis job: a timescales sweep, a
// Chapman-Kolmogorov test, or a waiting time estimation. Results live in
// per-kind child tables keyed by run_id.
type AnalysisRun struct {
	RunID         string          `json:"run_id"`
	CreatedAt     int64           `json:"created_at"` // unix nanoseconds
	Kind          string          `json:"kind"`       // "timescales", "cktest", "waiting_times"
	Status        string          `json:"status"`
	Error         string          `json:"error,omitempty"`
	CompletedAt   int64           `json:"completed_at,omitempty"` // unix nanoseconds, 0 while running
	Source        string          `json:"source,omitempty"`
	Lagtimes      []int           `json:"lagtimes,omitempty"`
	Params        json.RawMessage `json:"params,omitempty"`
	Unit          string          `json:"unit"`
	FramesPerUnit float64         `json:"frames_per_unit"`
}

// RunStore provides persistence for analysis runs and their results.
type RunStore struct {
	db *sql.DB
}

// NewRunStore creates a new RunStore.
func NewRunStore(db *DB) *RunStore {
	return &RunStore{db: db.DB}
}

// InsertRun creates a new run record. A missing RunID or CreatedAt is
// filled in, so callers can pass a partially built run.
func (s *RunStore) InsertRun(run *AnalysisRun) error {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.CreatedAt == 0 {
		run.CreatedAt = time.Now().UnixNano()
	}
	if run.Status == "" {
		run.Status = RunStatusComplete
	}
	if run.Unit == "" {
		run.Unit = "frames"
	}
	if run.FramesPerUnit == 0 {
		run.FramesPerUnit = 1
	}

	query := `
		INSERT INTO analysis_runs (
			run_id, created_at, kind, status, error, completed_at,
			source, lagtimes, params, unit, frames_per_unit
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	err := retryOnBusy(func() error {
		_, err := s.db.Exec(query,
			run.RunID,
			run.CreatedAt,
			run.Kind,
			run.Status,
			nullStr(run.Error),
			nullInt64(run.CompletedAt),
			nullStr(run.Source),
			nullStr(formatInts(run.Lagtimes)),
			nullJSON(run.Params),
			run.Unit,
			run.FramesPerUnit,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", run.RunID, err)
	}
	return nil
}

// GetRun returns a single run record by ID, or nil when it does not exist.
func (s *RunStore) GetRun(runID string) (*AnalysisRun, error) {
	query := `
		SELECT run_id, created_at, kind, status, error, completed_at,
		       source, lagtimes, params, unit, frames_per_unit
		FROM analysis_runs
		WHERE run_id = ?
	`
	var run AnalysisRun
	var errMsg, source, lagtimes, params sql.NullString
	var completedAt sql.NullInt64

	err := s.db.QueryRow(query, runID).Scan(
		&run.RunID, &run.CreatedAt, &run.Kind,
		&run.Status, &errMsg, &completedAt,
		&source, &lagtimes, &params,
		&run.Unit, &run.FramesPerUnit,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying run %s: %w", runID, err)
	}

	if errMsg.Valid {
		run.Error = errMsg.String
	}
	if completedAt.Valid {
		run.CompletedAt = completedAt.Int64
	}
	if source.Valid {
		run.Source = source.String
	}
	if lagtimes.Valid {
		run.Lagtimes, err = parseInts(lagtimes.String)
		if err != nil {
			return nil, fmt.Errorf("parsing lagtimes for run %s: %w", runID, err)
		}
	}
	run.Params = jsonOrNil(params)

	return &run, nil
}

// UpdateRunStatus marks a run complete or failed. completedAt 0 leaves the
// completion time NULL.
func (s *RunStore) UpdateRunStatus(runID, status, errMsg string, completedAt int64) error {
	query := `
		UPDATE analysis_runs
		SET status = ?, error = ?, completed_at = ?
		WHERE run_id = ?
	`
	return retryOnBusy(func() error {
		res, err := s.db.Exec(query, status, nullStr(errMsg), nullInt64(completedAt), runID)
		if err != nil {
			return fmt.Errorf("updating status for run %s: %w", runID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("checking status update for run %s: %w", runID, err)
		}
		if affected == 0 {
			return fmt.Errorf("run %s not found", runID)
		}
		return nil
	})
}

// RunSummary is a lightweight version of AnalysisRun for list views (omits
// the params blob).
type RunSummary struct {
	RunID     string `json:"run_id"`
	CreatedAt int64  `json:"created_at"`
	Kind      string `json:"kind"`
	Status    string `json:"status"`
	Source    string `json:"source,omitempty"`
	Unit      string `json:"unit"`
}

// ListRuns returns recent runs, ordered by most recent first.
func (s *RunStore) ListRuns(limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	query := `
		SELECT run_id, created_at, kind, status, source, unit
		FROM analysis_runs
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var rec RunSummary
		var source sql.NullString

		if err := rows.Scan(&rec.RunID, &rec.CreatedAt, &rec.Kind, &rec.Status, &source, &rec.Unit); err != nil {
			return nil, fmt.Errorf("scanning run row: %w", err)
		}
		if source.Valid {
			rec.Source = source.String
		}

		runs = append(runs, rec)
	}

	return runs, rows.Err()
}

// DeleteRun removes a run record and all of its results.
func (s *RunStore) DeleteRun(runID string) error {
	return retryOnBusy(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning delete for run %s: %w", runID, err)
		}
		defer tx.Rollback()

		for _, table := range []string{"timescale_results", "ck_results", "waiting_time_results"} {
			if _, err := tx.Exec(fmt.Sprintf("DELETE FROM %s WHERE run_id = ?", table), runID); err != nil {
				return fmt.Errorf("deleting %s for run %s: %w", table, runID, err)
			}
		}

		res, err := tx.Exec(`DELETE FROM analysis_runs WHERE run_id = ?`, runID)
		if err != nil {
			return fmt.Errorf("deleting run %s: %w", runID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("checking delete for run %s: %w", runID, err)
		}
		if affected == 0 {
			return fmt.Errorf("run %s not found", runID)
		}

		return tx.Commit()
	})
}

// SaveTimescales persists an implied timescales sweep. timescales is
// indexed [lagtime][timescale]; NaN entries are stored as NULL.
func (s *RunStore) SaveTimescales(runID string, lagtimes []int, timescales [][]float64) error {
	if len(lagtimes) != len(timescales) {
		return fmt.Errorf("got %d lagtimes but %d timescale rows", len(lagtimes), len(timescales))
	}
	return retryOnBusy(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning timescales save for run %s: %w", runID, err)
		}
		defer tx.Rollback()

		stmt, err := tx.Prepare(`
			INSERT INTO timescale_results (run_id, lagtime, timescale_index, value)
			VALUES (?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("preparing timescales insert: %w", err)
		}
		defer stmt.Close()

		for li, lag := range lagtimes {
			for ti, value := range timescales[li] {
				var v interface{}
				if !math.IsNaN(value) {
					v = value
				}
				if _, err := stmt.Exec(runID, lag, ti, v); err != nil {
					return fmt.Errorf("inserting timescale for run %s, lagtime %d: %w", runID, lag, err)
				}
			}
		}

		return tx.Commit()
	})
}

// Timescales loads a persisted sweep back into the [lagtime][timescale]
// layout. NULL entries come back as NaN. A run with no recorded
// timescales yields empty slices.
func (s *RunStore) Timescales(runID string) (lagtimes []int, timescales [][]float64, err error) {
	query := `
		SELECT lagtime, timescale_index, value
		FROM timescale_results
		WHERE run_id = ?
		ORDER BY lagtime, timescale_index
	`
	rows, err := s.db.Query(query, runID)
	if err != nil {
		return nil, nil, fmt.Errorf("querying timescales for run %s: %w", runID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var lag, index int
		var value sql.NullFloat64
		if err := rows.Scan(&lag, &index, &value); err != nil {
			return nil, nil, fmt.Errorf("scanning timescale row: %w", err)
		}

		if len(lagtimes) == 0 || lagtimes[len(lagtimes)-1] != lag {
			lagtimes = append(lagtimes, lag)
			timescales = append(timescales, nil)
		}
		v := math.NaN()
		if value.Valid {
			v = value.Float64
		}
		last := len(timescales) - 1
		timescales[last] = append(timescales[last], v)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	return lagtimes, timescales, nil
}

// SaveCKTest persists a Chapman-Kolmogorov test. Model series are stored
// under their lagtime; the MD reference is stored under lagtime 0.
func (s *RunStore) SaveCKTest(runID string, ck *markov.CKTest) error {
	return retryOnBusy(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning ck save for run %s: %w", runID, err)
		}
		defer tx.Rollback()

		stmt, err := tx.Prepare(`
			INSERT INTO ck_results (run_id, lagtime, state, time, prob, is_ergodic)
			VALUES (?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("preparing ck insert: %w", err)
		}
		defer stmt.Close()

		insertSeries := func(series markov.CKSeries) error {
			for si, state := range ck.States {
				for ti, tp := range series.Times {
					if _, err := stmt.Exec(runID, series.Lagtime, state, tp, series.Probs[si][ti], series.Ergodic[ti]); err != nil {
						return fmt.Errorf("inserting ck point for run %s, lagtime %d: %w", runID, series.Lagtime, err)
					}
				}
			}
			return nil
		}

		for _, series := range ck.Model {
			if err := insertSeries(series); err != nil {
				return err
			}
		}
		if err := insertSeries(ck.MD); err != nil {
			return err
		}

		return tx.Commit()
	})
}

// LoadCKTest reconstructs a persisted Chapman-Kolmogorov test, or returns
// nil when the run has none recorded.
func (s *RunStore) LoadCKTest(runID string) (*markov.CKTest, error) {
	query := `
		SELECT lagtime, state, time, prob, is_ergodic
		FROM ck_results
		WHERE run_id = ?
		ORDER BY lagtime, time, state
	`
	rows, err := s.db.Query(query, runID)
	if err != nil {
		return nil, fmt.Errorf("querying ck results for run %s: %w", runID, err)
	}
	defer rows.Close()

	type ckPoint struct {
		state   int64
		time    int
		prob    float64
		ergodic bool
	}
	byLag := make(map[int][]ckPoint)
	stateSet := make(map[int64]bool)
	for rows.Next() {
		var lag int
		var p ckPoint
		if err := rows.Scan(&lag, &p.state, &p.time, &p.prob, &p.ergodic); err != nil {
			return nil, fmt.Errorf("scanning ck row: %w", err)
		}
		byLag[lag] = append(byLag[lag], p)
		stateSet[p.state] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(byLag) == 0 {
		return nil, nil
	}

	states := make([]int64, 0, len(stateSet))
	for state := range stateSet {
		states = append(states, state)
	}
	sort.Slice(states, func(i, j int) bool { return states[i] < states[j] })
	stateIndex := make(map[int64]int, len(states))
	for i, state := range states {
		stateIndex[state] = i
	}

	buildSeries := func(lag int, pts []ckPoint) markov.CKSeries {
		var times []int
		for _, p := range pts {
			if len(times) == 0 || times[len(times)-1] != p.time {
				times = append(times, p.time)
			}
		}
		timeIndex := make(map[int]int, len(times))
		for i, tp := range times {
			timeIndex[tp] = i
		}

		series := markov.CKSeries{
			Lagtime: lag,
			Times:   times,
			Probs:   make([][]float64, len(states)),
			Ergodic: make([]bool, len(times)),
		}
		for i := range series.Probs {
			series.Probs[i] = make([]float64, len(times))
		}
		for _, p := range pts {
			ti := timeIndex[p.time]
			series.Probs[stateIndex[p.state]][ti] = p.prob
			series.Ergodic[ti] = p.ergodic
		}
		return series
	}

	lags := make([]int, 0, len(byLag))
	for lag := range byLag {
		lags = append(lags, lag)
	}
	sort.Ints(lags)

	ck := &markov.CKTest{States: states}
	for _, lag := range lags {
		series := buildSeries(lag, byLag[lag])
		if lag == 0 {
			ck.MD = series
			continue
		}
		ck.Lagtimes = append(ck.Lagtimes, lag)
		ck.Model = append(ck.Model, series)
	}

	return ck, nil
}

// WaitingTimeSeries is one persisted waiting or transition time
// distribution. Lagtime 0 marks durations measured directly from the
// trajectory rather than sampled from the model.
type WaitingTimeSeries struct {
	Lagtime int                    `json:"lagtime"`
	Source  string                 `json:"source"`
	Dist    markov.WaitingTimeDist `json:"dist"`
}

// SaveWaitingTimes persists one waiting time distribution for a run.
func (s *RunStore) SaveWaitingTimes(runID string, lagtime int, source string, dist markov.WaitingTimeDist) error {
	return retryOnBusy(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning waiting times save for run %s: %w", runID, err)
		}
		defer tx.Rollback()

		stmt, err := tx.Prepare(`
			INSERT INTO waiting_time_results (run_id, lagtime, waiting_time, count, source)
			VALUES (?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("preparing waiting times insert: %w", err)
		}
		defer stmt.Close()

		times := make([]int, 0, len(dist))
		for t := range dist {
			times = append(times, t)
		}
		sort.Ints(times)
		for _, t := range times {
			if _, err := stmt.Exec(runID, lagtime, t, dist[t], source); err != nil {
				return fmt.Errorf("inserting waiting time for run %s, lagtime %d: %w", runID, lagtime, err)
			}
		}

		return tx.Commit()
	})
}

// LoadWaitingTimes loads all waiting time distributions for a run,
// ordered by lagtime. A run with none recorded yields an empty slice.
func (s *RunStore) LoadWaitingTimes(runID string) ([]WaitingTimeSeries, error) {
	query := `
		SELECT lagtime, waiting_time, count, source
		FROM waiting_time_results
		WHERE run_id = ?
		ORDER BY lagtime, waiting_time
	`
	rows, err := s.db.Query(query, runID)
	if err != nil {
		return nil, fmt.Errorf("querying waiting times for run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []WaitingTimeSeries
	for rows.Next() {
		var lag, waitingTime, count int
		var source string
		if err := rows.Scan(&lag, &waitingTime, &count, &source); err != nil {
			return nil, fmt.Errorf("scanning waiting time row: %w", err)
		}

		if len(out) == 0 || out[len(out)-1].Lagtime != lag {
			out = append(out, WaitingTimeSeries{
				Lagtime: lag,
				Source:  source,
				Dist:    make(markov.WaitingTimeDist),
			})
		}
		out[len(out)-1].Dist[waitingTime] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

// formatInts renders ints as a comma-separated list; empty input yields "".
func formatInts(vals []int) string {
	if len(vals) == 0 {
		return ""
	}
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

// parseInts parses a comma-separated list of ints.
func parseInts(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid int '%s': %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// nullStr returns nil for empty strings, pointer to string otherwise.
func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullInt64 returns nil for zero values, pointer to int64 otherwise.
func nullInt64(v int64) *int64 {
	if v == 0 {
		return nil
	}
	return &v
}

// nullJSON returns a sql.NullString for a JSON value, treating nil or empty as NULL.
func nullJSON(data json.RawMessage) *string {
	if len(data) == 0 {
		return nil
	}
	s := string(data)
	return &s
}

// jsonOrNil converts a sql.NullString to json.RawMessage, returning nil for NULL values.
func jsonOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}
