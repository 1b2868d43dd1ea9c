// Package sweep runs lagtime sweeps over a state trajectory in the
// background: implied timescale scans, Chapman-Kolmogorov tests, and
// waiting time estimation. One run executes at a time; progress is polled
// through the runner state and results are persisted as analysis runs.
package sweep

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/kinetics.report/internal/db"
	"github.com/banshee-data/kinetics.report/internal/markov"
	"github.com/banshee-data/kinetics.report/internal/md"
	"github.com/banshee-data/kinetics.report/internal/monitoring"
	"github.com/banshee-data/kinetics.report/internal/timeutil"
	"github.com/banshee-data/kinetics.report/internal/traj"
	"github.com/banshee-data/kinetics.report/internal/trajio"
	"github.com/banshee-data/kinetics.report/internal/units"
)

// Status represents the current state of an analysis run
type Status string

const (
	StatusIdle     Status = "idle"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
)

// Analysis kinds accepted in Request.Kind.
const (
	KindTimescales   = "timescales"
	KindCKTest       = "cktest"
	KindWaitingTimes = "waiting_times"
)

// maxLagtimes bounds a single sweep; each lagtime is a full model
// estimation over the trajectory.
const maxLagtimes = 1000

// maxMCMCSteps bounds the Markov chain sample length per lagtime.
const maxMCMCSteps = 100000000

// Request defines the parameters for starting an analysis run
type Request struct {
	Kind string `json:"kind"` // "timescales", "cktest", "waiting_times"

	// Data source
	Source      string `json:"source"`                 // state trajectory file
	MacroSource string `json:"macro_source,omitempty"` // macrostate file; lumps Source onto it
	LimitsFile  string `json:"limits_file,omitempty"`  // per-segment lengths, one per line

	// Lagtimes, in frames
	Lagtimes    []int  `json:"lagtimes,omitempty"`
	LagtimesCSV string `json:"lagtimes_csv,omitempty"` // "1,5,10" alternative to Lagtimes

	// Timescales
	NTimescales int `json:"ntimescales,omitempty"` // 0 selects one fewer than the state count

	// Chapman-Kolmogorov
	CKMaxTime int `json:"ck_max_time,omitempty"` // horizon in frames; 0 selects 10x the largest lagtime

	// Waiting times
	StartStates []int64 `json:"start_states,omitempty"`
	FinalStates []int64 `json:"final_states,omitempty"`
	StartCSV    string  `json:"start_csv,omitempty"`
	FinalCSV    string  `json:"final_csv,omitempty"`
	MCMCSteps   int     `json:"mcmc_steps,omitempty"` // sample length per lagtime
	Seed        uint64  `json:"seed,omitempty"`       // 0 seeds from entropy

	// Time axis for reporting
	Unit          string  `json:"unit,omitempty"`
	FramesPerUnit float64 `json:"frames_per_unit,omitempty"`
}

// State holds the current state and progress of an analysis run
type State struct {
	Status            Status     `json:"status"`
	RunID             string     `json:"run_id,omitempty"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	TotalLagtimes     int        `json:"total_lagtimes"`
	CompletedLagtimes int        `json:"completed_lagtimes"`
	CurrentLagtime    int        `json:"current_lagtime,omitempty"`
	Error             string     `json:"error,omitempty"`
	Warnings          []string   `json:"warnings,omitempty"`
	Request           *Request   `json:"request,omitempty"`
}

// Runner orchestrates analysis runs
type Runner struct {
	store  *db.RunStore
	clock  timeutil.Clock
	mu     sync.RWMutex
	state  State
	cancel context.CancelFunc
}

// NewRunner creates a new analysis runner. A nil clock selects the real one.
func NewRunner(store *db.RunStore, clock timeutil.Clock) *Runner {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Runner{
		store: store,
		clock: clock,
		state: State{Status: StatusIdle},
	}
}

// addWarning appends a warning message to the run state.
func (r *Runner) addWarning(msg string) {
	r.mu.Lock()
	r.state.Warnings = append(r.state.Warnings, msg)
	r.mu.Unlock()
}

// GetState returns a copy of the current run state.
func (r *Runner) GetState() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	// Return a copy to avoid race conditions
	state := r.state
	warnings := make([]string, len(r.state.Warnings))
	copy(warnings, r.state.Warnings)
	state.Warnings = warnings
	return state
}

// Start begins a new analysis run. The request is validated and the
// trajectory loaded synchronously, so a bad request fails here; the
// per-lagtime estimation runs in a background goroutine.
func (r *Runner) Start(ctx context.Context, req Request) error {
	if err := normalizeRequest(&req); err != nil {
		return err
	}

	t, err := loadTrajectory(req)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.state.Status == StatusRunning {
		r.mu.Unlock()
		return fmt.Errorf("analysis already in progress")
	}

	runID := uuid.New().String()
	now := r.clock.Now()
	r.state = State{
		Status:        StatusRunning,
		RunID:         runID,
		StartedAt:     &now,
		TotalLagtimes: len(req.Lagtimes),
		Request:       &req,
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.mu.Unlock()

	params, _ := json.Marshal(req)
	if err := r.store.InsertRun(&db.AnalysisRun{
		RunID:         runID,
		CreatedAt:     now.UnixNano(),
		Kind:          req.Kind,
		Status:        db.RunStatusRunning,
		Source:        req.Source,
		Lagtimes:      req.Lagtimes,
		Params:        params,
		Unit:          req.Unit,
		FramesPerUnit: req.FramesPerUnit,
	}); err != nil {
		cancel()
		r.mu.Lock()
		r.state.Status = StatusError
		r.state.Error = err.Error()
		r.cancel = nil
		r.mu.Unlock()
		return fmt.Errorf("recording run: %w", err)
	}

	// Run analysis in background
	go r.run(runCtx, runID, req, t)

	return nil
}

// Stop cancels a running analysis
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
}

// normalizeRequest validates the request and fills in derived fields:
// CSV forms are parsed, lagtimes sorted and deduplicated, defaults applied.
func normalizeRequest(req *Request) error {
	switch req.Kind {
	case KindTimescales, KindCKTest, KindWaitingTimes:
	case "":
		return fmt.Errorf("kind is required (timescales, cktest, waiting_times)")
	default:
		return fmt.Errorf("unknown kind %q", req.Kind)
	}

	if req.Source == "" {
		return fmt.Errorf("source trajectory is required")
	}

	if len(req.Lagtimes) == 0 && req.LagtimesCSV != "" {
		lags, err := ParseCSVInts(req.LagtimesCSV)
		if err != nil {
			return fmt.Errorf("lagtimes: %w", err)
		}
		req.Lagtimes = lags
	}
	if len(req.Lagtimes) == 0 {
		return fmt.Errorf("no lagtimes given")
	}
	for _, lag := range req.Lagtimes {
		if lag < 1 {
			return fmt.Errorf("lagtime %d: must be a positive integer", lag)
		}
	}
	slices.Sort(req.Lagtimes)
	req.Lagtimes = slices.Compact(req.Lagtimes)
	if len(req.Lagtimes) > maxLagtimes {
		return fmt.Errorf("too many lagtimes: %d (max %d)", len(req.Lagtimes), maxLagtimes)
	}

	maxLag := req.Lagtimes[len(req.Lagtimes)-1]
	if req.Kind == KindCKTest {
		if req.CKMaxTime == 0 {
			req.CKMaxTime = 10 * maxLag
		}
		if req.CKMaxTime < maxLag {
			return fmt.Errorf("ck_max_time %d is below the largest lagtime %d", req.CKMaxTime, maxLag)
		}
	}

	if req.Kind == KindWaitingTimes {
		// Model sampling runs on the cumulative statistics, which are not
		// defined for lumped trajectories.
		if req.MacroSource != "" {
			return fmt.Errorf("waiting times require a plain state trajectory, not a lumped one")
		}
		if len(req.StartStates) == 0 && req.StartCSV != "" {
			states, err := ParseCSVInt64s(req.StartCSV)
			if err != nil {
				return fmt.Errorf("start states: %w", err)
			}
			req.StartStates = states
		}
		if len(req.FinalStates) == 0 && req.FinalCSV != "" {
			states, err := ParseCSVInt64s(req.FinalCSV)
			if err != nil {
				return fmt.Errorf("final states: %w", err)
			}
			req.FinalStates = states
		}
		if len(req.StartStates) == 0 || len(req.FinalStates) == 0 {
			return fmt.Errorf("start and final states are required for waiting times")
		}
		if req.MCMCSteps <= 0 {
			req.MCMCSteps = 100000
		}
		if req.MCMCSteps > maxMCMCSteps {
			return fmt.Errorf("mcmc_steps must not exceed %d, got %d", maxMCMCSteps, req.MCMCSteps)
		}
	}

	if req.Unit == "" {
		req.Unit = units.Frames
	}
	if !units.IsValid(req.Unit) {
		return fmt.Errorf("invalid unit %q (valid: %s)", req.Unit, units.GetValidUnitsString())
	}
	if req.FramesPerUnit < 0 {
		return fmt.Errorf("frames_per_unit must be positive, got %g", req.FramesPerUnit)
	}
	if req.FramesPerUnit == 0 {
		req.FramesPerUnit = 1
	}

	return nil
}

// loadTrajectory opens the trajectory named by the request. With a macro
// source the microstate trajectory is lumped onto the macrostates.
func loadTrajectory(req Request) (traj.Trajectory, error) {
	micro, err := trajio.OpenTxtLimits(req.Source, req.LimitsFile)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", req.Source, err)
	}
	if req.MacroSource == "" {
		return traj.New(micro)
	}
	macro, err := trajio.OpenTxtLimits(req.MacroSource, req.LimitsFile)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", req.MacroSource, err)
	}
	return traj.LumpFrames(macro, micro)
}

// run executes the analysis in a background goroutine
func (r *Runner) run(ctx context.Context, runID string, req Request, t traj.Trajectory) {
	var runErr error
	switch req.Kind {
	case KindTimescales:
		runErr = r.runTimescales(ctx, runID, req, t)
	case KindCKTest:
		runErr = r.runCKTest(ctx, runID, req, t)
	case KindWaitingTimes:
		runErr = r.runWaitingTimes(ctx, runID, req, t)
	}

	now := r.clock.Now()
	status := db.RunStatusComplete
	errMsg := ""
	if runErr != nil {
		status = db.RunStatusError
		errMsg = runErr.Error()
	}
	if err := r.store.UpdateRunStatus(runID, status, errMsg, now.UnixNano()); err != nil {
		monitoring.Logf("[sweep] WARNING: Failed to record completion of run %s: %v", runID, err)
		r.addWarning(fmt.Sprintf("failed to record completion: %v", err))
	}

	r.mu.Lock()
	if runErr != nil {
		r.state.Status = StatusError
		r.state.Error = runErr.Error()
	} else {
		r.state.Status = StatusComplete
	}
	r.state.CompletedAt = &now
	r.cancel = nil
	r.mu.Unlock()

	if runErr != nil {
		monitoring.Logf("[sweep] Run %s failed: %v", runID, runErr)
	} else {
		monitoring.Logf("[sweep] Run %s complete: %d lagtimes evaluated", runID, len(req.Lagtimes))
	}
}

// runTimescales estimates implied timescales one lagtime at a time, so that
// progress tracks the sweep and Stop takes effect between lagtimes.
func (r *Runner) runTimescales(ctx context.Context, runID string, req Request, t traj.Trajectory) error {
	total := len(req.Lagtimes)
	timescales := make([][]float64, 0, total)
	for i, lag := range req.Lagtimes {
		// Check for cancellation
		select {
		case <-ctx.Done():
			return fmt.Errorf("analysis stopped at lagtime %d/%d: %v", i, total, ctx.Err())
		default:
		}

		monitoring.Logf("[sweep] Lagtime %d/%d: tau=%d", i+1, total, lag)
		r.mu.Lock()
		r.state.CurrentLagtime = lag
		r.mu.Unlock()

		rows, err := markov.ImpliedTimescales(t, []int{lag}, markov.WithNTimescales(req.NTimescales))
		if err != nil {
			return err
		}
		timescales = append(timescales, rows[0])

		r.mu.Lock()
		r.state.CompletedLagtimes = i + 1
		r.mu.Unlock()
	}

	return r.store.SaveTimescales(runID, req.Lagtimes, timescales)
}

// runCKTest builds the Chapman-Kolmogorov test one lagtime at a time. The
// MD reference depends only on the smallest lagtime and the horizon, so it
// is taken from the first iteration.
func (r *Runner) runCKTest(ctx context.Context, runID string, req Request, t traj.Trajectory) error {
	total := len(req.Lagtimes)
	full := &markov.CKTest{}
	for i, lag := range req.Lagtimes {
		// Check for cancellation
		select {
		case <-ctx.Done():
			return fmt.Errorf("analysis stopped at lagtime %d/%d: %v", i, total, ctx.Err())
		default:
		}

		monitoring.Logf("[sweep] Lagtime %d/%d: tau=%d, tmax=%d", i+1, total, lag, req.CKMaxTime)
		r.mu.Lock()
		r.state.CurrentLagtime = lag
		r.mu.Unlock()

		ck, err := markov.ChapmanKolmogorov(t, []int{lag}, req.CKMaxTime)
		if err != nil {
			return err
		}
		if i == 0 {
			full.States = ck.States
			full.MD = ck.MD
		}
		full.Lagtimes = append(full.Lagtimes, lag)
		full.Model = append(full.Model, ck.Model[0])

		r.mu.Lock()
		r.state.CompletedLagtimes = i + 1
		r.mu.Unlock()
	}

	return r.store.SaveCKTest(runID, full)
}

// runWaitingTimes samples waiting times from the model at each lagtime.
// The direct estimate from the trajectory itself is stored under lagtime 0
// as the reference.
func (r *Runner) runWaitingTimes(ctx context.Context, runID string, req Request, t traj.Trajectory) error {
	st, err := macroStateTraj(t)
	if err != nil {
		return err
	}
	times, err := md.WaitingTimes(st, req.StartStates, req.FinalStates)
	if err != nil {
		return err
	}
	dist := make(markov.WaitingTimeDist, len(times))
	for _, wt := range times {
		dist[wt]++
	}
	if err := r.store.SaveWaitingTimes(runID, 0, "md", dist); err != nil {
		return err
	}

	var opts []markov.MCMCOption
	if req.Seed != 0 {
		opts = append(opts, markov.WithSeed(req.Seed))
	}

	total := len(req.Lagtimes)
	for i, lag := range req.Lagtimes {
		// Check for cancellation
		select {
		case <-ctx.Done():
			return fmt.Errorf("analysis stopped at lagtime %d/%d: %v", i, total, ctx.Err())
		default:
		}

		monitoring.Logf("[sweep] Lagtime %d/%d: tau=%d, steps=%d", i+1, total, lag, req.MCMCSteps)
		r.mu.Lock()
		r.state.CurrentLagtime = lag
		r.mu.Unlock()

		sampled, err := markov.EstimateWaitingTimes(t, lag, req.MCMCSteps, req.StartStates, req.FinalStates, opts...)
		if err != nil {
			return err
		}
		if err := r.store.SaveWaitingTimes(runID, lag, "mcmc", sampled); err != nil {
			return err
		}

		r.mu.Lock()
		r.state.CompletedLagtimes = i + 1
		r.mu.Unlock()
	}

	return nil
}

// macroStateTraj returns the trajectory itself for plain state trajectories
// and rebuilds the macrostate frames for lumped ones, so direct waiting
// times are always measured on the states the model sees.
func macroStateTraj(t traj.Trajectory) (*traj.StateTraj, error) {
	if st, ok := t.(*traj.StateTraj); ok {
		return st, nil
	}
	return traj.New(t.StateTrajs())
}
