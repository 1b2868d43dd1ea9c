package api

import (
	"bytes"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/kinetics.report/internal/markov"
	"github.com/banshee-data/kinetics.report/internal/units"
)

// echartsAssetsPrefix points rendered pages at the go-echarts asset host so
// charts work without bundling javascript.
const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// handleTimescalesChart renders an implied timescales chart: one line per
// timescale index over the lagtime axis, both axes logarithmic. Spectrum
// entries the estimate could not resolve become gaps in the line.
func (s *Server) handleTimescalesChart(w http.ResponseWriter, r *http.Request, runID string) {
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

	xs := make([]float64, len(lagtimes))
	for i, lag := range lagtimes {
		xs[i] = units.Convert(float64(lag), run.Unit, run.FramesPerUnit)
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Implied Timescales", Theme: "dark", Width: "1200px", Height: "700px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Implied timescales", Subtitle: fmt.Sprintf("run=%s lagtimes=%d unit=%s", runID, len(lagtimes), run.Unit)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "30"}),
		charts.WithXAxisOpts(opts.XAxis{Type: "log", Name: units.AxisLabel(run.Unit), NameLocation: "middle", NameGap: 30}),
		charts.WithYAxisOpts(opts.YAxis{Type: "log", Name: units.AxisLabel(run.Unit), NameLocation: "middle", NameGap: 45}),
	)

	// Reference diagonal: timescales at or below the lagtime are unresolved.
	diag := make([]opts.LineData, len(xs))
	for i, x := range xs {
		diag[i] = opts.LineData{Value: []interface{}{x, x}}
	}
	line.AddSeries("lagtime", diag,
		charts.WithLineStyleOpts(opts.LineStyle{Type: "dashed", Color: "#9e9e9e"}),
	)

	nSeries := 0
	for _, row := range timescales {
		if len(row) > nSeries {
			nSeries = len(row)
		}
	}
	for j := 0; j < nSeries; j++ {
		data := make([]opts.LineData, len(timescales))
		for i, row := range timescales {
			if j < len(row) && !math.IsNaN(row[j]) && row[j] > 0 {
				data[i] = opts.LineData{Value: []interface{}{xs[i], units.Convert(row[j], run.Unit, run.FramesPerUnit)}}
			} else {
				data[i] = opts.LineData{Value: []interface{}{xs[i], nil}}
			}
		}
		line.AddSeries(fmt.Sprintf("t%d", j+2), data)
	}

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// ckStateIndex resolves the ?state= query parameter against the test's
// state set. The first state is the default.
func ckStateIndex(r *http.Request, ck *markov.CKTest) (int, error) {
	q := r.URL.Query().Get("state")
	if q == "" {
		return 0, nil
	}
	state, err := strconv.ParseInt(q, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid 'state' parameter %q", q)
	}
	for i, st := range ck.States {
		if st == state {
			return i, nil
		}
	}
	return 0, fmt.Errorf("state %d not in test (states: %v)", state, ck.States)
}

// handleCKTestChart renders the Chapman-Kolmogorov curves for one state:
// the dashed MD reference against each lagtime's propagated model.
func (s *Server) handleCKTestChart(w http.ResponseWriter, r *http.Request, runID string) {
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

	stateIdx, err := ckStateIndex(r, ck)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	state := ck.States[stateIdx]

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Chapman-Kolmogorov Test", Theme: "dark", Width: "1200px", Height: "700px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: fmt.Sprintf("Chapman-Kolmogorov test, state %d", state), Subtitle: fmt.Sprintf("run=%s lagtimes=%d unit=%s", runID, len(ck.Lagtimes), run.Unit)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "30"}),
		charts.WithXAxisOpts(opts.XAxis{Type: "log", Name: units.AxisLabel(run.Unit), NameLocation: "middle", NameGap: 30}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 1, Name: "self-transition probability", NameLocation: "middle", NameGap: 45}),
	)

	line.AddSeries("MD", ckSeriesData(ck.MD, stateIdx, run.Unit, run.FramesPerUnit),
		charts.WithLineStyleOpts(opts.LineStyle{Type: "dashed", Color: "#9e9e9e"}),
	)
	for _, series := range ck.Model {
		line.AddSeries(fmt.Sprintf("tau=%d", series.Lagtime),
			ckSeriesData(series, stateIdx, run.Unit, run.FramesPerUnit))
	}

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func ckSeriesData(series markov.CKSeries, stateIdx int, unit string, framesPerUnit float64) []opts.LineData {
	data := make([]opts.LineData, len(series.Times))
	for i, t := range series.Times {
		x := units.Convert(float64(t), unit, framesPerUnit)
		if stateIdx < len(series.Probs) && i < len(series.Probs[stateIdx]) && !math.IsNaN(series.Probs[stateIdx][i]) {
			data[i] = opts.LineData{Value: []interface{}{x, series.Probs[stateIdx][i]}}
		} else {
			data[i] = opts.LineData{Value: []interface{}{x, nil}}
		}
	}
	return data
}

// handleWaitingTimesChart renders the waiting time histograms: direct MD
// counting next to each sampled lagtime, over a shared duration axis.
func (s *Server) handleWaitingTimesChart(w http.ResponseWriter, r *http.Request, runID string) {
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

	durationSet := make(map[int]struct{})
	for _, wt := range series {
		for d := range wt.Dist {
			durationSet[d] = struct{}{}
		}
	}
	durations := make([]int, 0, len(durationSet))
	for d := range durationSet {
		durations = append(durations, d)
	}
	sort.Ints(durations)

	x := make([]string, len(durations))
	for i, d := range durations {
		x[i] = strconv.FormatFloat(units.Convert(float64(d), run.Unit, run.FramesPerUnit), 'g', -1, 64)
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "720px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Waiting times", Subtitle: fmt.Sprintf("run=%s unit=%s", runID, run.Unit)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "30"}),
	)
	bar.SetXAxis(x)
	for _, wt := range series {
		y := make([]opts.BarData, len(durations))
		for i, d := range durations {
			y[i] = opts.BarData{Value: wt.Dist[d]}
		}
		name := "md"
		if wt.Lagtime > 0 {
			name = fmt.Sprintf("mcmc tau=%d", wt.Lagtime)
		}
		bar.AddSeries(name, y)
	}

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	page.AddCharts(bar)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
