// Command kinetics is the kinetics.report service and CLI. It serves the
// analysis HTTP API and runs one-shot analyses from the command line:
// implied timescale sweeps, Chapman-Kolmogorov tests, waiting times,
// discretization comparison, and dynamical coring.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/vg"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/kinetics.report/internal/api"
	"github.com/banshee-data/kinetics.report/internal/config"
	"github.com/banshee-data/kinetics.report/internal/db"
	"github.com/banshee-data/kinetics.report/internal/markov"
	"github.com/banshee-data/kinetics.report/internal/md"
	"github.com/banshee-data/kinetics.report/internal/monitoring"
	"github.com/banshee-data/kinetics.report/internal/security"
	"github.com/banshee-data/kinetics.report/internal/sweep"
	"github.com/banshee-data/kinetics.report/internal/timeutil"
	"github.com/banshee-data/kinetics.report/internal/trajio"
	"github.com/banshee-data/kinetics.report/internal/units"
	"github.com/banshee-data/kinetics.report/internal/version"
)

func main() {
	quiet := flag.Bool("quiet", false, "Suppress progress output (errors still print)")
	flag.Usage = printUsage
	flag.Parse()

	if *quiet {
		monitoring.SetLogger(nil)
	}

	if flag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}

	command := flag.Arg(0)
	args := flag.Args()[1:]

	switch command {
	case "serve":
		handleServe(args)
	case "sweep":
		handleSweep(args)
	case "ck":
		handleCK(args)
	case "wt":
		handleWT(args)
	case "compare":
		handleCompare(args)
	case "coring":
		handleCoring(args)
	case "migrate":
		handleMigrate(args)
	case "version":
		fmt.Printf("kinetics-report version %s (%s) built %s\n", version.Version, version.GitSHA, version.BuildTime)
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`kinetics-report - Markov state model analysis for state trajectories

Usage: kinetics-report [-quiet] <command> [options]

Commands:
  serve      Run the analysis HTTP service
  sweep      Estimate implied timescales over a lagtime sweep
  ck         Run a Chapman-Kolmogorov test
  wt         Estimate waiting times from MD counting and MCMC sampling
  compare    Score the similarity of two discretizations
  coring     Apply dynamical coring to a state trajectory
  migrate    Manage the database schema (up, down, status, version, force, baseline)
  version    Show version and build information
  help       Show this help message

Common Flags:
  -i <file>              State trajectory, one integer state per line
  -macro <file>          Macrostate trajectory; lumps -i onto it frame by frame
  -limits <file>         Per-segment frame counts for concatenated trajectories
  -lagtimes <csv>        Lagtimes in frames, e.g. 1,2,5,10
  -unit <unit>           Reporting unit: frames, fs, ps, ns, us
  -frames-per-unit <n>   Trajectory frames per unit of time
  -db <file>             SQLite database holding run results

Examples:
  # Serve the analysis API on :8081
  kinetics-report serve -db kinetics_data.db

  # Implied timescales of a macrostate trajectory, reported in ns
  kinetics-report sweep -i macrotraj.txt -lagtimes 1,5,10,50 -unit ns -frames-per-unit 5 -plot timescales.png

  # Chapman-Kolmogorov test of microstates lumped onto macrostates
  kinetics-report ck -i microtraj.txt -macro macrotraj.txt -lagtimes 1,5,25

  # Waiting times from state 1 to state 4
  kinetics-report wt -i macrotraj.txt -lagtimes 1,2,5 -start 1 -final 4

  # Compare two clusterings of the same simulation
  kinetics-report compare -a cluster_a.txt -b cluster_b.txt -method symmetric

  # Remove spurious crossings shorter than 10 frames
  kinetics-report coring -i macrotraj.txt -lag 10 -o cored.txt`)
}

func handleServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Analysis config JSON (fields omitted there keep their defaults)")
	dbPath := fs.String("db", "", "SQLite database path (overrides config)")
	listen := fs.String("listen", "", "Listen address (overrides config)")
	dev := fs.Bool("dev", false, "Run in dev mode: read migrations from the source tree and apply them on open")
	fs.Parse(args)

	db.DevMode = *dev

	cfg := config.DefaultAnalysisConfig()
	if *configPath != "" {
		loaded, err := config.LoadAnalysisConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}

	addr := cfg.GetListenAddr()
	if *listen != "" {
		addr = *listen
	}
	path := cfg.GetDBPath()
	if *dbPath != "" {
		path = *dbPath
	}

	// Outside dev mode an out-of-date schema refuses to open; the operator
	// runs 'kinetics-report migrate up' first.
	database, err := db.NewDBWithMigrationCheck(path, !*dev)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	store := db.NewRunStore(database)
	runner := sweep.NewRunner(store, timeutil.RealClock{})

	// Wait group for the HTTP server and the sweep watchdog routines
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// cancel any in-flight sweep on shutdown so the run is recorded
	// before the database closes
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		runner.Stop()
		log.Print("sweep watchdog terminated")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		// mount the API handlers and the admin routes on one mux
		mux := api.NewServer(database, store, runner, cfg).ServeMux()
		if err := database.AttachAdminRoutes(mux); err != nil {
			log.Fatalf("failed to attach admin routes: %v", err)
		}

		server := &http.Server{
			Addr:    addr,
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()
		log.Printf("Serving analysis API on %s (db %s)", addr, path)

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		// Create a shutdown context with a shorter timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			// Force close the server if graceful shutdown fails
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	// Wait for all goroutines to finish
	wg.Wait()
	log.Printf("Graceful shutdown complete")
}

// openStore opens the results database for a one-shot analysis run.
func openStore(path string) (*db.DB, *db.RunStore) {
	database, err := db.NewDB(path)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	return database, db.NewRunStore(database)
}

// runAndWait starts an analysis run and blocks until it reaches a terminal
// state, reporting progress as lagtimes finish. An interrupt cancels the run
// through the runner, so whatever completed is still recorded.
func runAndWait(runner *sweep.Runner, req sweep.Request) sweep.State {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runner.Start(ctx, req); err != nil {
		log.Fatalf("Failed to start %s run: %v", req.Kind, err)
	}

	state := runner.GetState()
	monitoring.Logf("run %s started: kind=%s lagtimes=%d", state.RunID, req.Kind, state.TotalLagtimes)

	done := 0
	warned := 0
	for {
		state = runner.GetState()
		for ; warned < len(state.Warnings); warned++ {
			monitoring.Logf("warning: %s", state.Warnings[warned])
		}
		if state.CompletedLagtimes > done {
			done = state.CompletedLagtimes
			monitoring.Logf("completed %d/%d lagtimes", done, state.TotalLagtimes)
		}
		if state.Status != sweep.StatusRunning {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	if state.Status == sweep.StatusError {
		log.Fatalf("Run %s failed: %s", state.RunID, state.Error)
	}
	monitoring.Logf("run %s complete", state.RunID)
	return state
}

// savePlot writes a PNG with the same layout the HTTP plot endpoints serve.
func savePlot(path string, p *plot.Plot) {
	if err := security.ValidateExportPath(path); err != nil {
		log.Fatalf("Invalid plot path: %v", err)
	}
	if err := p.Save(10*vg.Inch, 6*vg.Inch, path); err != nil {
		log.Fatalf("Failed to save plot: %v", err)
	}
	monitoring.Logf("wrote %s", path)
}

func handleSweep(args []string) {
	fs := flag.NewFlagSet("sweep", flag.ExitOnError)
	input := fs.String("i", "", "State trajectory file (required)")
	macro := fs.String("macro", "", "Macrostate trajectory; lumps -i onto it")
	limits := fs.String("limits", "", "Per-segment frame counts file")
	lagtimes := fs.String("lagtimes", "1,2,5,10,20,50", "Lagtimes in frames (CSV)")
	nTimescales := fs.Int("n", 0, "Number of timescales (0 selects one fewer than the state count)")
	unit := fs.String("unit", units.Frames, "Reporting unit: frames, fs, ps, ns, us")
	framesPerUnit := fs.Float64("frames-per-unit", 1, "Trajectory frames per unit of time")
	dbPath := fs.String("db", "kinetics_data.db", "SQLite database holding run results")
	output := fs.String("o", "", "Write the timescales table to this file")
	plotPath := fs.String("plot", "", "Write an implied timescales PNG to this file")
	fs.Parse(args)

	if *input == "" {
		fmt.Fprintln(os.Stderr, "Error: -i flag is required. Specify the state trajectory file")
		fs.Usage()
		os.Exit(1)
	}

	database, store := openStore(*dbPath)
	defer database.Close()

	state := runAndWait(sweep.NewRunner(store, timeutil.RealClock{}), sweep.Request{
		Kind:          sweep.KindTimescales,
		Source:        *input,
		MacroSource:   *macro,
		LimitsFile:    *limits,
		LagtimesCSV:   *lagtimes,
		NTimescales:   *nTimescales,
		Unit:          *unit,
		FramesPerUnit: *framesPerUnit,
	})

	lags, timescales, err := store.Timescales(state.RunID)
	if err != nil {
		log.Fatalf("Failed to load timescales: %v", err)
	}
	printTimescales(os.Stdout, *unit, *framesPerUnit, lags, timescales)

	if *output != "" {
		if err := security.ValidateExportPath(*output); err != nil {
			log.Fatalf("Invalid output path: %v", err)
		}
		f, err := os.Create(*output)
		if err != nil {
			log.Fatalf("Failed to create %s: %v", *output, err)
		}
		printTimescales(f, *unit, *framesPerUnit, lags, timescales)
		if err := f.Close(); err != nil {
			log.Fatalf("Failed to write %s: %v", *output, err)
		}
		monitoring.Logf("wrote %s", *output)
	}

	if *plotPath != "" {
		p, err := api.BuildTimescalesPlot(*unit, *framesPerUnit, lags, timescales)
		if err != nil {
			log.Fatalf("Failed to build plot: %v", err)
		}
		savePlot(*plotPath, p)
	}
}

// printTimescales writes the timescales table: one row per lagtime, one
// column per implied timescale, all in the reporting unit.
func printTimescales(w io.Writer, unit string, framesPerUnit float64, lagtimes []int, timescales [][]float64) {
	nCols := 0
	for _, row := range timescales {
		if len(row) > nCols {
			nCols = len(row)
		}
	}

	fmt.Fprintf(w, "# implied timescales [%s]\n", unit)
	fmt.Fprintf(w, "# lagtime")
	for j := 0; j < nCols; j++ {
		fmt.Fprintf(w, "\tt%d", j+2)
	}
	fmt.Fprintln(w)

	for i, lag := range lagtimes {
		fmt.Fprintf(w, "%g", units.Convert(float64(lag), unit, framesPerUnit))
		for _, ts := range timescales[i] {
			fmt.Fprintf(w, "\t%g", units.Convert(ts, unit, framesPerUnit))
		}
		fmt.Fprintln(w)
	}
}

func handleCK(args []string) {
	fs := flag.NewFlagSet("ck", flag.ExitOnError)
	input := fs.String("i", "", "State trajectory file (required)")
	macro := fs.String("macro", "", "Macrostate trajectory; lumps -i onto it")
	limits := fs.String("limits", "", "Per-segment frame counts file")
	lagtimes := fs.String("lagtimes", "1,2,5", "Lagtimes in frames (CSV)")
	maxTime := fs.Int("max-time", 0, "Propagation horizon in frames (0 selects 10x the largest lagtime)")
	unit := fs.String("unit", units.Frames, "Reporting unit: frames, fs, ps, ns, us")
	framesPerUnit := fs.Float64("frames-per-unit", 1, "Trajectory frames per unit of time")
	dbPath := fs.String("db", "kinetics_data.db", "SQLite database holding run results")
	plotState := fs.Int64("state", -1, "State to print and plot (default: first state of the test)")
	plotPath := fs.String("plot", "", "Write a Chapman-Kolmogorov PNG to this file")
	fs.Parse(args)

	if *input == "" {
		fmt.Fprintln(os.Stderr, "Error: -i flag is required. Specify the state trajectory file")
		fs.Usage()
		os.Exit(1)
	}

	database, store := openStore(*dbPath)
	defer database.Close()

	state := runAndWait(sweep.NewRunner(store, timeutil.RealClock{}), sweep.Request{
		Kind:          sweep.KindCKTest,
		Source:        *input,
		MacroSource:   *macro,
		LimitsFile:    *limits,
		LagtimesCSV:   *lagtimes,
		CKMaxTime:     *maxTime,
		Unit:          *unit,
		FramesPerUnit: *framesPerUnit,
	})

	ck, err := store.LoadCKTest(state.RunID)
	if err != nil {
		log.Fatalf("Failed to load ck test: %v", err)
	}
	if ck == nil {
		log.Fatalf("Run %s recorded no ck test", state.RunID)
	}

	stateIdx := 0
	if *plotState >= 0 {
		stateIdx = -1
		for i, s := range ck.States {
			if s == *plotState {
				stateIdx = i
				break
			}
		}
		if stateIdx < 0 {
			log.Fatalf("State %d not in test (states: %v)", *plotState, ck.States)
		}
	}

	printCKTest(os.Stdout, ck, stateIdx, *unit, *framesPerUnit)

	if *plotPath != "" {
		p, err := api.BuildCKTestPlot(ck, stateIdx, *unit, *framesPerUnit)
		if err != nil {
			log.Fatalf("Failed to build plot: %v", err)
		}
		savePlot(*plotPath, p)
	}
}

// printCKTest writes the self-transition curves for one state: the MD
// reference first, then the propagated model at each lagtime.
func printCKTest(w io.Writer, ck *markov.CKTest, stateIdx int, unit string, framesPerUnit float64) {
	fmt.Fprintf(w, "# ck test, state %d [%s]\n", ck.States[stateIdx], unit)
	series := append([]markov.CKSeries{ck.MD}, ck.Model...)
	for _, s := range series {
		name := "md"
		if s.Lagtime > 0 {
			name = fmt.Sprintf("tau=%d", s.Lagtime)
		}
		fmt.Fprintf(w, "# %s\n", name)
		for i, t := range s.Times {
			fmt.Fprintf(w, "%g\t%g\n", units.Convert(float64(t), unit, framesPerUnit), s.Probs[stateIdx][i])
		}
	}
}

func handleWT(args []string) {
	fs := flag.NewFlagSet("wt", flag.ExitOnError)
	input := fs.String("i", "", "State trajectory file (required)")
	macro := fs.String("macro", "", "Macrostate trajectory; lumps -i onto it")
	limits := fs.String("limits", "", "Per-segment frame counts file")
	lagtimes := fs.String("lagtimes", "1,2,5", "Lagtimes in frames (CSV)")
	start := fs.String("start", "", "Start states (CSV, required)")
	final := fs.String("final", "", "Final states (CSV, required)")
	steps := fs.Int("steps", 0, "MCMC sample length per lagtime (0 selects the default)")
	seed := fs.Uint64("seed", 0, "MCMC seed (0 seeds from entropy)")
	unit := fs.String("unit", units.Frames, "Reporting unit: frames, fs, ps, ns, us")
	framesPerUnit := fs.Float64("frames-per-unit", 1, "Trajectory frames per unit of time")
	dbPath := fs.String("db", "kinetics_data.db", "SQLite database holding run results")
	fs.Parse(args)

	if *input == "" {
		fmt.Fprintln(os.Stderr, "Error: -i flag is required. Specify the state trajectory file")
		fs.Usage()
		os.Exit(1)
	}
	if *start == "" || *final == "" {
		fmt.Fprintln(os.Stderr, "Error: -start and -final flags are required")
		fs.Usage()
		os.Exit(1)
	}

	database, store := openStore(*dbPath)
	defer database.Close()

	state := runAndWait(sweep.NewRunner(store, timeutil.RealClock{}), sweep.Request{
		Kind:          sweep.KindWaitingTimes,
		Source:        *input,
		MacroSource:   *macro,
		LimitsFile:    *limits,
		LagtimesCSV:   *lagtimes,
		StartCSV:      *start,
		FinalCSV:      *final,
		MCMCSteps:     *steps,
		Seed:          *seed,
		Unit:          *unit,
		FramesPerUnit: *framesPerUnit,
	})

	series, err := store.LoadWaitingTimes(state.RunID)
	if err != nil {
		log.Fatalf("Failed to load waiting times: %v", err)
	}
	printWaitingTimes(os.Stdout, series, *unit, *framesPerUnit)
}

// printWaitingTimes writes one summary row per series: the MD estimate
// first, then the MCMC estimate at each lagtime.
func printWaitingTimes(w io.Writer, series []db.WaitingTimeSeries, unit string, framesPerUnit float64) {
	fmt.Fprintf(w, "# waiting times [%s]\n", unit)
	fmt.Fprintf(w, "# source\tlagtime\tcount\tmean\tstddev\n")
	for _, s := range series {
		total := 0
		for _, n := range s.Dist {
			total += n
		}
		mean, stddev := sweep.DistStats(s.Dist)
		fmt.Fprintf(w, "%s\t%d\t%d\t%g\t%g\n",
			s.Source, s.Lagtime, total,
			units.Convert(mean, unit, framesPerUnit),
			units.Convert(stddev, unit, framesPerUnit))
	}
}

func handleCompare(args []string) {
	fs := flag.NewFlagSet("compare", flag.ExitOnError)
	fileA := fs.String("a", "", "First state trajectory (required)")
	fileB := fs.String("b", "", "Second state trajectory (required)")
	limitsA := fs.String("limits-a", "", "Per-segment frame counts for -a")
	limitsB := fs.String("limits-b", "", "Per-segment frame counts for -b")
	method := fs.String("method", "symmetric", "Similarity method: symmetric or directed")
	fs.Parse(args)

	if *fileA == "" || *fileB == "" {
		fmt.Fprintln(os.Stderr, "Error: -a and -b flags are required")
		fs.Usage()
		os.Exit(1)
	}

	var m md.Method
	switch *method {
	case "symmetric":
		m = md.Symmetric
	case "directed":
		m = md.Directed
	default:
		log.Fatalf("Unknown method %q (valid: symmetric, directed)", *method)
	}

	a, err := trajio.OpenMicrostates(*fileA, *limitsA)
	if err != nil {
		log.Fatalf("Failed to open %s: %v", *fileA, err)
	}
	b, err := trajio.OpenMicrostates(*fileB, *limitsB)
	if err != nil {
		log.Fatalf("Failed to open %s: %v", *fileB, err)
	}

	score, err := md.CompareDiscretization(a, b, m)
	if err != nil {
		log.Fatalf("Comparison failed: %v", err)
	}
	fmt.Printf("similarity (%s): %.6f\n", *method, score)
}

func handleCoring(args []string) {
	fs := flag.NewFlagSet("coring", flag.ExitOnError)
	input := fs.String("i", "", "State trajectory file (required)")
	limits := fs.String("limits", "", "Per-segment frame counts file")
	lag := fs.Int("lag", 0, "Coring window in frames (required)")
	output := fs.String("o", "", "Output trajectory file (required)")
	fs.Parse(args)

	if *input == "" || *output == "" {
		fmt.Fprintln(os.Stderr, "Error: -i and -o flags are required")
		fs.Usage()
		os.Exit(1)
	}
	if *lag < 1 {
		fmt.Fprintln(os.Stderr, "Error: -lag must be a positive number of frames")
		fs.Usage()
		os.Exit(1)
	}
	if err := security.ValidateExportPath(*output); err != nil {
		log.Fatalf("Invalid output path: %v", err)
	}

	t, err := trajio.OpenMicrostates(*input, *limits)
	if err != nil {
		log.Fatalf("Failed to open %s: %v", *input, err)
	}

	cored, err := md.DynamicalCoring(t, *lag)
	if err != nil {
		log.Fatalf("Coring failed: %v", err)
	}

	header := fmt.Sprintf("dynamical coring of %s, window %d frames", *input, *lag)
	if err := trajio.SaveTxt(*output, cored.StateTrajsFlat(), header); err != nil {
		log.Fatalf("Failed to write %s: %v", *output, err)
	}
	monitoring.Logf("wrote %s (%d frames)", *output, cored.NFrames())
}

func handleMigrate(args []string) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	dbPath := fs.String("db", "kinetics_data.db", "SQLite database path")
	fs.Parse(args)

	db.RunMigrateCommand(fs.Args(), *dbPath)
}
