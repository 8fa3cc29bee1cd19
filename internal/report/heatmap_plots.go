package report

import (
	"fmt"
	"image/color"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/user/cophy_analyzer_go/internal/analysis"
	"github.com/user/cophy_analyzer_go/internal/parser"
)

// BoundaryColormap maps values to colours by fixed boundaries.
type BoundaryColormap struct {
	Boundaries []float64     // N+1 boundaries for N colors
	Colors     []color.Color // N colors
	UnderColor color.Color
	OverColor  color.Color
	NaNColor   color.Color
}

// Color returns the color for a given z value.
func (cm *BoundaryColormap) Color(z float64) color.Color {
	if math.IsNaN(z) {
		return cm.NaNColor
	}
	if z < cm.Boundaries[0] {
		return cm.UnderColor
	}
	for i := range cm.Colors {
		if z >= cm.Boundaries[i] && z < cm.Boundaries[i+1] {
			return cm.Colors[i]
		}
	}
	return cm.OverColor
}

// RatioColormap shades pressure ratios: at or below 0.80 red, up to 0.89
// amber, above green.
var RatioColormap = &BoundaryColormap{
	Boundaries: []float64{0, 0.805, 0.895},
	Colors: []color.Color{
		color.RGBA{R: 0xd6, G: 0x27, B: 0x28, A: 255},
		color.RGBA{R: 0xff, G: 0x7f, B: 0x0e, A: 255},
	},
	UnderColor: color.Gray{Y: 120},
	OverColor:  color.RGBA{R: 0x2c, G: 0xa0, B: 0x2c, A: 255},
	NaNColor:   color.Gray{Y: 200},
}

// beatGrid exposes one channel of an ensemble as a grid: columns are
// samples within the beat, rows are beats.
type beatGrid struct {
	ens *analysis.Ensemble
	ch  parser.Channel
}

func (g beatGrid) Dims() (c, r int) { return g.ens.Len(), len(g.ens.Beats) }

func (g beatGrid) Z(c, r int) float64 {
	trace := g.ens.Beats[r].Channels[g.ch]
	if c >= len(trace) {
		return math.NaN()
	}
	return trace[c]
}

func (g beatGrid) X(c int) float64 { return g.ens.Time[c] }

func (g beatGrid) Y(r int) float64 { return float64(r + 1) }

// CreateBeatHeatmap renders every accepted beat of a channel as one row.
func CreateBeatHeatmap(ens *analysis.Ensemble, ch parser.Channel, title string) ([]byte, error) {
	if ens.Empty() || ens.Len() < 2 {
		return nil, fmt.Errorf("no beats to plot heatmap")
	}
	if _, ok := ens.Beats[0].Channels[ch]; !ok {
		return nil, fmt.Errorf("ensemble has no %s channel", ch)
	}
	grid := beatGrid{ens: ens, ch: ch}

	hm := plotter.NewHeatMap(grid, palette.Heat(64, 1))
	hm.NaN = color.Gray{Y: 200}
	switch {
	case hm.Min > hm.Max: // all NaN
		hm.Min, hm.Max = 0, 1
	case hm.Min == hm.Max:
		hm.Max = hm.Min + 1
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Time in beat (s)"
	p.Y.Label.Text = "Beat"
	p.Add(hm)

	rows := len(ens.Beats)
	yTicks := make([]plot.Tick, rows)
	for i := 0; i < rows; i++ {
		yTicks[i] = plot.Tick{Value: float64(i + 1), Label: fmt.Sprintf("%d", i+1)}
	}
	p.Y.Tick.Marker = plot.ConstantTicks(yTicks)
	p.Y.Min = 0.5
	p.Y.Max = float64(rows) + 0.5

	span := ens.Time[len(ens.Time)-1]
	p.X.Tick.Marker = plot.ConstantTicks(generateTicks(0, span, tickStep(span)))

	return writePNG(p, vg.Points(500), vg.Points(350))
}
