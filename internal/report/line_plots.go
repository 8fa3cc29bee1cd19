package report

import (
	"bytes"
	"fmt"
	"image/color"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/user/cophy_analyzer_go/internal/analysis"
	"github.com/user/cophy_analyzer_go/internal/parser"
	"github.com/user/cophy_analyzer_go/internal/study"
)

// maxOverviewPoints bounds the number of samples drawn per channel in the
// recording overview.
const maxOverviewPoints = 4000

var (
	colorPa     = color.RGBA{R: 0xd6, G: 0x27, B: 0x28, A: 255}
	colorPd     = color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 255}
	colorFlow   = color.RGBA{R: 0x2c, G: 0xa0, B: 0x2c, A: 255}
	colorSmooth = color.RGBA{R: 0xff, G: 0x7f, B: 0x0e, A: 255}
	colorBeat   = color.Gray{Y: 190}
)

var channelColors = map[parser.Channel]color.Color{
	parser.ChannelPa:   colorPa,
	parser.ChannelPd:   colorPd,
	parser.ChannelFlow: colorFlow,
}

var trendLabels = map[analysis.Metric]struct{ Title, Y string }{
	analysis.MetricPdPa:                    {"Beat-wise Pd/Pa", "Pd/Pa"},
	analysis.MetricMicrovascularResistance: {"Beat-wise microvascular resistance", "Pd / flow"},
	analysis.MetricStenosisResistance:      {"Beat-wise stenosis resistance", "(Pa - Pd) / flow"},
}

// CreateTrendPlot draws a beat-wise series and its smoothed curve.
func CreateTrendPlot(trend study.Trend) ([]byte, error) {
	if len(trend.Raw) == 0 {
		return nil, fmt.Errorf("no beats to plot for %s", trend.Metric)
	}
	labels, ok := trendLabels[trend.Metric]
	if !ok {
		labels.Title, labels.Y = string(trend.Metric), string(trend.Metric)
	}

	p := plot.New()
	p.Title.Text = labels.Title
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = labels.Y
	p.Add(plotter.NewGrid())

	raw, err := plotter.NewLine(pointsXY(trend.Raw))
	if err != nil {
		return nil, fmt.Errorf("failed to create line for %s: %w", trend.Metric, err)
	}
	raw.Color = colorPd
	raw.Width = vg.Points(1)
	p.Add(raw)
	p.Legend.Add("per beat", raw)

	if len(trend.Smoothed) > 0 {
		smooth, err := plotter.NewLine(pointsXY(trend.Smoothed))
		if err != nil {
			return nil, fmt.Errorf("failed to create smoothed line for %s: %w", trend.Metric, err)
		}
		smooth.Color = colorSmooth
		smooth.Width = vg.Points(2)
		p.Add(smooth)
		p.Legend.Add("smoothed", smooth)
	}

	first, last := trend.Raw[0].Time, trend.Raw[len(trend.Raw)-1].Time
	p.X.Tick.Marker = plot.ConstantTicks(generateTicks(first, last, tickStep(last-first)))
	p.Legend.Top = true
	return writePNG(p, vg.Points(800), vg.Points(300))
}

func pointsXY(points []analysis.Point) plotter.XYs {
	pts := make(plotter.XYs, len(points))
	for i, pt := range points {
		pts[i] = plotter.XY{X: pt.Time, Y: pt.Value}
	}
	return pts
}

// CreateEnsemblePlot overlays every accepted beat of one channel with the
// ensemble mean.
func CreateEnsemblePlot(ens *analysis.Ensemble, ch parser.Channel, title string) ([]byte, error) {
	mean, err := ens.MeanTrace(ch)
	if err != nil {
		return nil, err
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Time in beat (s)"
	p.Y.Label.Text = string(ch)
	p.Add(plotter.NewGrid())

	for i, beat := range ens.Beats {
		line, err := plotter.NewLine(seriesXY(beat.Time, beat.Channels[ch]))
		if err != nil {
			return nil, fmt.Errorf("failed to create line for beat %d: %w", i, err)
		}
		line.Color = colorBeat
		line.Width = vg.Points(0.75)
		p.Add(line)
		if i == 0 {
			p.Legend.Add(fmt.Sprintf("beats (n=%d)", len(ens.Beats)), line)
		}
	}

	meanLine, err := plotter.NewLine(seriesXY(ens.Time, mean))
	if err != nil {
		return nil, fmt.Errorf("failed to create mean line: %w", err)
	}
	meanLine.Color = channelColor(ch)
	meanLine.Width = vg.Points(2)
	p.Add(meanLine)
	p.Legend.Add("mean", meanLine)
	p.Legend.Top = true

	return writePNG(p, vg.Points(500), vg.Points(350))
}

// CreatePressurePlot draws pa and pd over the whole recording and marks the
// selected rest and hyperaemia windows.
func CreatePressurePlot(rep *study.Report) ([]byte, error) {
	pa, okPa := rep.Table.Channel(parser.ChannelPa)
	pd, okPd := rep.Table.Channel(parser.ChannelPd)
	if !okPa || !okPd || len(pa) < 2 {
		return nil, fmt.Errorf("no pressure channels to plot")
	}
	timeAxis := rep.Table.Time()
	step := max(1, len(pa)/maxOverviewPoints)

	p := plot.New()
	p.Title.Text = "Pressure recording"
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Pressure (mmHg)"
	p.Add(plotter.NewGrid())

	for _, ch := range []struct {
		name  parser.Channel
		trace []float64
	}{{parser.ChannelPa, pa}, {parser.ChannelPd, pd}} {
		line, err := plotter.NewLine(decimate(timeAxis, ch.trace, step))
		if err != nil {
			return nil, fmt.Errorf("failed to create line for %s: %w", ch.name, err)
		}
		line.Color = channelColor(ch.name)
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(string(ch.name), line)
	}

	yMin, yMax := math.Min(floats.Min(pa), floats.Min(pd)), math.Max(floats.Max(pa), floats.Max(pd))
	for _, role := range []analysis.State{analysis.StateRest, analysis.StateHyperaemia} {
		ens := rep.Ensemble(role)
		if ens == nil {
			continue
		}
		c := color.Color(colorFlow)
		if role == analysis.StateHyperaemia {
			c = colorSmooth
		}
		for i, ts := range []float64{ens.Window.From, ens.Window.To} {
			marker, err := plotter.NewLine(plotter.XYs{{X: ts, Y: yMin}, {X: ts, Y: yMax}})
			if err != nil {
				return nil, fmt.Errorf("failed to mark %s window: %w", role, err)
			}
			marker.Color = c
			marker.Dashes = []vg.Length{vg.Points(5), vg.Points(5)}
			p.Add(marker)
			if i == 0 {
				p.Legend.Add(string(role)+" window", marker)
			}
		}
	}

	duration := rep.Table.Duration()
	p.X.Min = 0
	p.X.Max = duration
	p.X.Tick.Marker = plot.ConstantTicks(generateTicks(0, duration, tickStep(duration)))
	p.Legend.Top = true
	return writePNG(p, vg.Points(900), vg.Points(350))
}

func channelColor(ch parser.Channel) color.Color {
	if c, ok := channelColors[ch]; ok {
		return c
	}
	return color.Black
}

func seriesXY(x, y []float64) plotter.XYs {
	n := min(len(x), len(y))
	pts := make(plotter.XYs, n)
	for i := 0; i < n; i++ {
		pts[i] = plotter.XY{X: x[i], Y: y[i]}
	}
	return pts
}

func decimate(x, y []float64, step int) plotter.XYs {
	n := min(len(x), len(y))
	pts := make(plotter.XYs, 0, n/step+1)
	for i := 0; i < n; i += step {
		pts = append(pts, plotter.XY{X: x[i], Y: y[i]})
	}
	return pts
}

func writePNG(p *plot.Plot, w, h vg.Length) ([]byte, error) {
	writer, err := p.WriterTo(w, h, "png")
	if err != nil {
		return nil, fmt.Errorf("failed to create plot writer: %w", err)
	}
	buf := new(bytes.Buffer)
	if _, err := writer.WriteTo(buf); err != nil {
		return nil, fmt.Errorf("failed to write plot to buffer: %w", err)
	}
	return buf.Bytes(), nil
}

// tickStep picks a round tick spacing giving roughly ten ticks over span.
func tickStep(span float64) float64 {
	if span <= 0 {
		return 1
	}
	raw := span / 10
	mag := math.Pow(10, math.Floor(math.Log10(raw)))
	for _, m := range []float64{1, 2, 5} {
		if raw <= m*mag {
			return m * mag
		}
	}
	return 10 * mag
}

// generateTicks returns labelled ticks at multiples of step within [min, max].
func generateTicks(min, max, step float64) []plot.Tick {
	var ticks []plot.Tick
	if step <= 0 {
		return []plot.Tick{{Value: min, Label: fmt.Sprintf("%g", min)}}
	}
	for v := math.Ceil(min/step) * step; v <= max+step*1e-9; v += step {
		ticks = append(ticks, plot.Tick{Value: v, Label: fmt.Sprintf("%g", math.Round(v*1000)/1000)})
	}
	if len(ticks) == 0 {
		ticks = append(ticks, plot.Tick{Value: min, Label: fmt.Sprintf("%g", min)})
		if min != max {
			ticks = append(ticks, plot.Tick{Value: max, Label: fmt.Sprintf("%g", max)})
		}
	}
	return ticks
}
