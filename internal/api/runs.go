package api

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/banshee-data/kinetics.report/internal/db"
	"github.com/banshee-data/kinetics.report/internal/markov"
	"github.com/banshee-data/kinetics.report/internal/sweep"
	"github.com/banshee-data/kinetics.report/internal/units"
)

// handleRunAPI is the dispatcher for /api/runs/{run_id}/... endpoints.
func (s *Server) handleRunAPI(w http.ResponseWriter, r *http.Request) {
	runID, subPath := parseRunPath(r.URL.Path)

	if runID == "" {
		s.handleListRuns(w, r)
		return
	}

	if subPath == "" {
		if r.Method == http.MethodDelete {
			s.handleDeleteRun(w, r, runID)
			return
		}
		s.handleGetRun(w, r, runID)
		return
	}

	switch subPath {
	case "timescales":
		s.handleRunTimescales(w, r, runID)
	case "cktest":
		s.handleRunCKTest(w, r, runID)
	case "waiting-times":
		s.handleRunWaitingTimes(w, r, runID)
	case "charts/timescales":
		s.handleTimescalesChart(w, r, runID)
	case "charts/cktest":
		s.handleCKTestChart(w, r, runID)
	case "charts/waiting-times":
		s.handleWaitingTimesChart(w, r, runID)
	case "plots/timescales.png":
		s.handleTimescalesPlot(w, r, runID)
	case "plots/cktest.png":
		s.handleCKTestPlot(w, r, runID)
	default:
		s.writeJSONError(w, http.StatusNotFound, "endpoint not found")
	}
}

// parseRunPath extracts run_id and remaining path segments from /api/runs/{run_id}/...
func parseRunPath(path string) (runID string, subPath string) {
	trimmed := strings.TrimPrefix(path, "/api/runs/")
	if trimmed == path {
		return "", ""
	}
	parts := strings.SplitN(trimmed, "/", 2)
	runID = parts[0]
	if len(parts) > 1 {
		subPath = parts[1]
	}
	return
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	limit := 0 // store default
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	runs, err := s.store.ListRuns(limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve runs: %v", err))
		return
	}

	if err := json.NewEncoder(w).Encode(runs); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write runs")
		return
	}
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request, runID string) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	run, err := s.store.GetRun(runID)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve run: %v", err))
		return
	}
	if run == nil {
		s.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("run %s not found", runID))
		return
	}

	if err := json.NewEncoder(w).Encode(run); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write run")
		return
	}
}

func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request, runID string) {
	w.Header().Set("Content-Type", "application/json")

	if err := s.store.DeleteRun(runID); err != nil {
		if strings.Contains(err.Error(), "not found") {
			s.writeJSONError(w, http.StatusNotFound, err.Error())
			return
		}
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to delete run: %v", err))
		return
	}

	json.NewEncoder(w).Encode(map[string]string{"status": "deleted", "run_id": runID})
}

// loadRun fetches the run record or writes the error response itself.
// A nil return means the response has been written.
func (s *Server) loadRun(w http.ResponseWriter, runID string) *db.AnalysisRun {
	run, err := s.store.GetRun(runID)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve run: %v", err))
		return nil
	}
	if run == nil {
		s.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("run %s not found", runID))
		return nil
	}
	return run
}

// TimescalesAPI is the JSON shape of an implied timescales result. The
// lagtime axis and the timescales are converted to the run's unit; spectrum
// entries the estimate could not resolve are null.
type TimescalesAPI struct {
	RunID      string       `json:"run_id"`
	Unit       string       `json:"unit"`
	Lagtimes   []float64    `json:"lagtimes"`
	Timescales [][]*float64 `json:"timescales"` // [lagtime index][timescale index]
}

func (s *Server) handleRunTimescales(w http.ResponseWriter, r *http.Request, runID string) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	run := s.loadRun(w, runID)
	if run == nil {
		return
	}

	lagtimes, timescales, err := s.store.Timescales(runID)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve timescales: %v", err))
		return
	}
	if len(lagtimes) == 0 {
		s.writeJSONError(w, http.StatusNotFound,
			fmt.Sprintf("no timescales recorded for run %s", runID))
		return
	}

	resp := TimescalesAPI{RunID: runID, Unit: run.Unit}
	for _, lag := range lagtimes {
		resp.Lagtimes = append(resp.Lagtimes, units.Convert(float64(lag), run.Unit, run.FramesPerUnit))
	}
	for _, row := range timescales {
		apiRow := make([]*float64, len(row))
		for j, v := range row {
			if !math.IsNaN(v) {
				converted := units.Convert(v, run.Unit, run.FramesPerUnit)
				apiRow[j] = &converted
			}
		}
		resp.Timescales = append(resp.Timescales, apiRow)
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write timescales")
		return
	}
}

// CKSeriesAPI is one Chapman-Kolmogorov curve set with times in the run's
// unit. Lagtime zero marks the direct MD reference.
type CKSeriesAPI struct {
	Lagtime int          `json:"lagtime"`
	Times   []float64    `json:"times"`
	Probs   [][]*float64 `json:"probs"` // [state index][time index]
	Ergodic []bool       `json:"ergodic"`
}

// CKTestAPI is the JSON shape of a Chapman-Kolmogorov test result.
type CKTestAPI struct {
	RunID    string        `json:"run_id"`
	Unit     string        `json:"unit"`
	States   []int64       `json:"states"`
	Lagtimes []int         `json:"lagtimes"`
	Model    []CKSeriesAPI `json:"model"`
	MD       CKSeriesAPI   `json:"md"`
}

func ckSeriesToAPI(series markov.CKSeries, unit string, framesPerUnit float64) CKSeriesAPI {
	out := CKSeriesAPI{Lagtime: series.Lagtime, Ergodic: series.Ergodic}
	for _, t := range series.Times {
		out.Times = append(out.Times, units.Convert(float64(t), unit, framesPerUnit))
	}
	for _, row := range series.Probs {
		apiRow := make([]*float64, len(row))
		for j, v := range row {
			if !math.IsNaN(v) {
				p := v
				apiRow[j] = &p
			}
		}
		out.Probs = append(out.Probs, apiRow)
	}
	return out
}

func (s *Server) handleRunCKTest(w http.ResponseWriter, r *http.Request, runID string) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	run := s.loadRun(w, runID)
	if run == nil {
		return
	}

	ck, err := s.store.LoadCKTest(runID)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve ck test: %v", err))
		return
	}
	if ck == nil || len(ck.Lagtimes) == 0 {
		s.writeJSONError(w, http.StatusNotFound,
			fmt.Sprintf("no ck test recorded for run %s", runID))
		return
	}

	resp := CKTestAPI{
		RunID:    runID,
		Unit:     run.Unit,
		States:   ck.States,
		Lagtimes: ck.Lagtimes,
		MD:       ckSeriesToAPI(ck.MD, run.Unit, run.FramesPerUnit),
	}
	for _, series := range ck.Model {
		resp.Model = append(resp.Model, ckSeriesToAPI(series, run.Unit, run.FramesPerUnit))
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write ck test")
		return
	}
}

// WaitingTimeSeriesAPI summarises one waiting time distribution. The
// histogram keys stay in frames; mean and stddev are converted to the run's
// unit. Lagtime zero marks direct counting on the trajectory.
type WaitingTimeSeriesAPI struct {
	Lagtime int         `json:"lagtime"`
	Source  string      `json:"source"`
	Total   int         `json:"total"`
	Mean    float64     `json:"mean"`
	Stddev  float64     `json:"stddev"`
	Dist    map[int]int `json:"dist"`
}

// WaitingTimesAPI is the JSON shape of a waiting times result.
type WaitingTimesAPI struct {
	RunID  string                 `json:"run_id"`
	Unit   string                 `json:"unit"`
	Series []WaitingTimeSeriesAPI `json:"series"`
}

func (s *Server) handleRunWaitingTimes(w http.ResponseWriter, r *http.Request, runID string) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	run := s.loadRun(w, runID)
	if run == nil {
		return
	}

	series, err := s.store.LoadWaitingTimes(runID)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve waiting times: %v", err))
		return
	}
	if len(series) == 0 {
		s.writeJSONError(w, http.StatusNotFound,
			fmt.Sprintf("no waiting times recorded for run %s", runID))
		return
	}

	resp := WaitingTimesAPI{RunID: runID, Unit: run.Unit}
	for _, wt := range series {
		mean, stddev := sweep.DistStats(wt.Dist)
		resp.Series = append(resp.Series, WaitingTimeSeriesAPI{
			Lagtime: wt.Lagtime,
			Source:  wt.Source,
			Total:   wt.Dist.Total(),
			Mean:    units.Convert(mean, run.Unit, run.FramesPerUnit),
			Stddev:  units.Convert(stddev, run.Unit, run.FramesPerUnit),
			Dist:    wt.Dist,
		})
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write waiting times")
		return
	}
}
