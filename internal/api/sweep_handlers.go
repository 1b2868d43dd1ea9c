package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/banshee-data/kinetics.report/internal/sweep"
)

// applyConfigDefaults fills request fields the caller left unset from the
// analysis config.
func (s *Server) applyConfigDefaults(req *sweep.Request) {
	if s.config == nil {
		return
	}
	if len(req.Lagtimes) == 0 && req.LagtimesCSV == "" {
		req.Lagtimes = s.config.GetLagtimes()
	}
	if req.NTimescales == 0 {
		req.NTimescales = s.config.GetNTimescales()
	}
	if req.CKMaxTime == 0 {
		req.CKMaxTime = s.config.GetCKMaxTime()
	}
	if req.MCMCSteps == 0 {
		req.MCMCSteps = s.config.GetMCMCSteps()
	}
	if req.Unit == "" {
		req.Unit = s.config.GetUnit()
	}
	if req.FramesPerUnit == 0 {
		req.FramesPerUnit = s.config.GetFramesPerUnit()
	}
}

// handleSweepStart starts a background analysis run
func (s *Server) handleSweepStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.runner == nil {
		http.Error(w, "Sweep runner not configured", http.StatusServiceUnavailable)
		return
	}

	var req sweep.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request: "+err.Error(), http.StatusBadRequest)
		return
	}
	s.applyConfigDefaults(&req)

	// The run outlives the request, so it must not inherit the request
	// context; cancellation goes through /api/sweep/stop.
	if err := s.runner.Start(context.Background(), req); err != nil {
		if strings.Contains(err.Error(), "already in progress") {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	state := s.runner.GetState()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "started", "run_id": state.RunID})
}

// handleSweepStatus returns the current runner state
func (s *Server) handleSweepStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.runner == nil {
		http.Error(w, "Sweep runner not configured", http.StatusServiceUnavailable)
		return
	}

	state := s.runner.GetState()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(state)
}

// handleSweepStop cancels a running analysis
func (s *Server) handleSweepStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.runner == nil {
		http.Error(w, "Sweep runner not configured", http.StatusServiceUnavailable)
		return
	}

	s.runner.Stop()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "stopped"})
}
