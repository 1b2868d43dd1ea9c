package api

import (
	"fmt"
	"image/color"
	"log"
	"math"
	"net/http"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/kinetics.report/internal/markov"
	"github.com/banshee-data/kinetics.report/internal/security"
	"github.com/banshee-data/kinetics.report/internal/units"
)

// BuildTimescalesPlot lays out the implied timescales on logarithmic axes:
// one line per timescale index plus the dashed lagtime diagonal. Entries
// the estimate could not resolve are left out of their line.
func BuildTimescalesPlot(unit string, framesPerUnit float64, lagtimes []int, timescales [][]float64) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = "Implied Timescales"
	p.X.Label.Text = units.AxisLabel(unit)
	p.Y.Label.Text = units.AxisLabel(unit)
	p.X.Scale = plot.LogScale{}
	p.X.Tick.Marker = plot.LogTicks{Prec: -1}
	p.Y.Scale = plot.LogScale{}
	p.Y.Tick.Marker = plot.LogTicks{Prec: -1}

	xs := make([]float64, len(lagtimes))
	for i, lag := range lagtimes {
		xs[i] = units.Convert(float64(lag), unit, framesPerUnit)
	}

	// Reference diagonal: timescales at or below the lagtime are unresolved.
	diag := make(plotter.XYs, len(xs))
	for i, x := range xs {
		diag[i] = plotter.XY{X: x, Y: x}
	}
	diagLine, err := plotter.NewLine(diag)
	if err != nil {
		return nil, err
	}
	diagLine.Color = color.Gray{Y: 128}
	diagLine.Width = vg.Points(1)
	diagLine.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	p.Add(diagLine)
	p.Legend.Add("lagtime", diagLine)

	nSeries := 0
	for _, row := range timescales {
		if len(row) > nSeries {
			nSeries = len(row)
		}
	}
	colors := generateColors(nSeries)

	for j := 0; j < nSeries; j++ {
		pts := make(plotter.XYs, 0, len(lagtimes))
		for i, row := range timescales {
			// Log scale admits only positive resolved values
			if j >= len(row) || math.IsNaN(row[j]) || row[j] <= 0 {
				continue
			}
			pts = append(pts, plotter.XY{X: xs[i], Y: units.Convert(row[j], unit, framesPerUnit)})
		}
		if len(pts) == 0 {
			continue
		}

		tsLine, err := plotter.NewLine(pts)
		if err != nil {
			return nil, err
		}
		tsLine.Color = colors[j]
		tsLine.Width = vg.Points(1)

		tsPoints, err := plotter.NewScatter(pts)
		if err != nil {
			return nil, err
		}
		tsPoints.GlyphStyle.Color = colors[j]
		tsPoints.GlyphStyle.Radius = vg.Points(2)

		p.Add(tsLine, tsPoints)
		p.Legend.Add(fmt.Sprintf("t%d", j+2), tsLine, tsPoints)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	return p, nil
}

// BuildCKTestPlot lays out the Chapman-Kolmogorov curves for one state: the
// dashed MD reference against each lagtime's propagated model, log time axis.
func BuildCKTestPlot(ck *markov.CKTest, stateIdx int, unit string, framesPerUnit float64) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Chapman-Kolmogorov Test, State %d", ck.States[stateIdx])
	p.X.Label.Text = units.AxisLabel(unit)
	p.Y.Label.Text = "self-transition probability"
	p.X.Scale = plot.LogScale{}
	p.X.Tick.Marker = plot.LogTicks{Prec: -1}
	p.Y.Min = 0
	p.Y.Max = 1

	mdLine, err := plotter.NewLine(ckSeriesXYs(ck.MD, stateIdx, unit, framesPerUnit))
	if err != nil {
		return nil, err
	}
	mdLine.Color = color.Gray{Y: 128}
	mdLine.Width = vg.Points(1)
	mdLine.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	p.Add(mdLine)
	p.Legend.Add("MD", mdLine)

	colors := generateColors(len(ck.Model))
	for i, series := range ck.Model {
		ckLine, err := plotter.NewLine(ckSeriesXYs(series, stateIdx, unit, framesPerUnit))
		if err != nil {
			return nil, err
		}
		ckLine.Color = colors[i]
		ckLine.Width = vg.Points(1)
		p.Add(ckLine)
		p.Legend.Add(fmt.Sprintf("tau=%d", series.Lagtime), ckLine)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	return p, nil
}

func ckSeriesXYs(series markov.CKSeries, stateIdx int, unit string, framesPerUnit float64) plotter.XYs {
	pts := make(plotter.XYs, 0, len(series.Times))
	for i, t := range series.Times {
		if stateIdx >= len(series.Probs) || i >= len(series.Probs[stateIdx]) || math.IsNaN(series.Probs[stateIdx][i]) {
			continue
		}
		pts = append(pts, plotter.XY{
			X: units.Convert(float64(t), unit, framesPerUnit),
			Y: series.Probs[stateIdx][i],
		})
	}
	return pts
}

// handleTimescalesPlot serves the implied timescales as a static PNG.
func (s *Server) handleTimescalesPlot(w http.ResponseWriter, r *http.Request, runID string) {
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

	p, err := BuildTimescalesPlot(run.Unit, run.FramesPerUnit, lagtimes, timescales)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to build plot: %v", err))
		return
	}
	s.writePlotPNG(w, p, fmt.Sprintf("timescales-%s.png", security.SanitizeFilename(runID)))
}

// handleCKTestPlot serves the Chapman-Kolmogorov curves for one state as a
// static PNG. The state is selected with ?state=, defaulting to the first.
func (s *Server) handleCKTestPlot(w http.ResponseWriter, r *http.Request, runID string) {
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

	stateIdx, err := ckStateIndex(r, ck)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	p, err := BuildCKTestPlot(ck, stateIdx, run.Unit, run.FramesPerUnit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to build plot: %v", err))
		return
	}
	s.writePlotPNG(w, p, fmt.Sprintf("cktest-%s.png", security.SanitizeFilename(runID)))
}

// writePlotPNG renders the plot and streams it as a PNG response. The run ID
// lands in the download filename, sanitized because it arrives from the URL.
func (s *Server) writePlotPNG(w http.ResponseWriter, p *plot.Plot, filename string) {
	wt, err := p.WriterTo(10*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render plot: %v", err))
		return
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%s", filename))
	w.Header().Set("Content-Type", "image/png")
	if _, err := wt.WriteTo(w); err != nil {
		log.Printf("failed to write plot response: %v", err)
	}
}

// generateColors creates a palette of distinct colors for plot lines
func generateColors(n int) []color.Color {
	if n <= 0 {
		return nil
	}

	colors := make([]color.Color, n)
	for i := 0; i < n; i++ {
		hue := float64(i) / float64(n)
		r, g, b := hslToRGB(hue, 0.7, 0.5)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

// hslToRGB converts HSL to RGB (0-255 range)
func hslToRGB(h, s, l float64) (r, g, b uint8) {
	var rf, gf, bf float64

	if s == 0 {
		rf, gf, bf = l, l, l
	} else {
		var q float64
		if l < 0.5 {
			q = l * (1 + s)
		} else {
			q = l + s - l*s
		}
		p := 2*l - q
		rf = hueToRGB(p, q, h+1.0/3.0)
		gf = hueToRGB(p, q, h)
		bf = hueToRGB(p, q, h-1.0/3.0)
	}

	return uint8(rf * 255), uint8(gf * 255), uint8(bf * 255)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t += 1
	}
	if t > 1 {
		t -= 1
	}
	if t < 1.0/6.0 {
		return p + (q-p)*6*t
	}
	if t < 1.0/2.0 {
		return q
	}
	if t < 2.0/3.0 {
		return p + (q-p)*(2.0/3.0-t)*6
	}
	return p
}
