// Package api serves the analysis HTTP API: starting and polling background
// sweeps, browsing persisted runs, and rendering result charts and plots.
package api

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/kinetics.report/internal/config"
	"github.com/banshee-data/kinetics.report/internal/db"
	"github.com/banshee-data/kinetics.report/internal/sweep"
	"github.com/banshee-data/kinetics.report/internal/version"
)

// ANSI colors for request log lines.
const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

// Server holds the handler dependencies: the run database and its store,
// the sweep runner, and the analysis defaults from config.
type Server struct {
	db     *db.DB
	store  *db.RunStore
	runner *sweep.Runner
	config *config.AnalysisConfig
}

func NewServer(database *db.DB, store *db.RunStore, runner *sweep.Runner, cfg *config.AnalysisConfig) *Server {
	return &Server{
		db:     database,
		store:  store,
		runner: runner,
		config: cfg,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	code := strconv.Itoa(statusCode)
	switch {
	case statusCode >= 400:
		return colorBoldRed + code + colorReset
	case statusCode >= 300:
		return colorYellow + code + colorReset
	case statusCode >= 200:
		return colorBoldGreen + code + colorReset
	default:
		return code
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux wires up the analysis routes. Per-run endpoints hang under
// /api/runs/ and dispatch on the rest of the path in handleRunAPI.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/api/version", s.handleVersion)
	mux.HandleFunc("/api/sweep", s.handleSweepStart)
	mux.HandleFunc("/api/sweep/status", s.handleSweepStatus)
	mux.HandleFunc("/api/sweep/stop", s.handleSweepStop)
	mux.HandleFunc("/api/runs", s.handleListRuns)
	mux.HandleFunc("/api/runs/", s.handleRunAPI)
	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	io.WriteString(w, "ok\n")
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"version":    version.Version,
		"git_sha":    version.GitSHA,
		"build_time": version.BuildTime,
	})
}
