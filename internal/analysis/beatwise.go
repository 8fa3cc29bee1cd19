package analysis

import (
	"log/slog"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/integrate"

	"github.com/user/cophy_analyzer_go/internal/parser"
)

// Metric is a beat-wise trend quantity.
type Metric string

const (
	MetricPdPa                    Metric = "pdpa"
	MetricMicrovascularResistance Metric = "microvascular_resistance"
	MetricStenosisResistance      Metric = "stenosis_resistance"
)

// ParseMetric validates a metric name.
func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case MetricPdPa, MetricMicrovascularResistance, MetricStenosisResistance:
		return Metric(s), nil
	default:
		return "", &ArgumentError{Arg: "metric", Value: s}
	}
}

// Point is one beat of a trend: the time of the beat's last sample and its value.
type Point struct {
	Time  float64
	Value float64
}

// SeriesConfig controls beat-wise trends.
type SeriesConfig struct {
	ClipMin   float64 // PdPa display range
	ClipMax   float64
	FlowPhase Phase // Flow reduction for the resistances
}

// DefaultSeriesConfig clips PdPa to [0, 4] and divides by peak flow.
func DefaultSeriesConfig() SeriesConfig {
	return SeriesConfig{ClipMin: 0, ClipMax: 4, FlowPhase: PhasePeak}
}

// BeatwiseSeries computes one point per consecutive peak pair over the whole
// table. A beat whose value is degenerate (zero area or zero flow) yields 0.
func BeatwiseSeries(table *parser.WaveformTable, peaks []int, metric Metric, cfg SeriesConfig) ([]Point, error) {
	if _, err := ParseMetric(string(metric)); err != nil {
		return nil, err
	}
	if metric != MetricPdPa {
		if _, err := ParsePhase(string(cfg.FlowPhase)); err != nil {
			return nil, err
		}
	}
	need := []parser.Channel{parser.ChannelPa, parser.ChannelPd}
	if metric != MetricPdPa {
		need = append(need, parser.ChannelFlow)
	}
	data := make(map[parser.Channel][]float64, len(need))
	for _, ch := range need {
		values, ok := table.Channel(ch)
		if !ok {
			return nil, &InsufficientDataError{What: "beat-wise " + string(metric) + " channel " + string(ch), Have: 0, Need: 1}
		}
		data[ch] = values
	}
	time := table.Time()

	points := make([]Point, 0, len(peaks))
	degenerate := 0
	for i := 0; i+1 < len(peaks); i++ {
		from, to := peaks[i], peaks[i+1]
		if from < 0 || to > len(time) || to-from < 2 {
			continue
		}
		var value float64
		var err error
		switch metric {
		case MetricPdPa:
			value, err = beatPdPa(time[from:to], data[parser.ChannelPa][from:to], data[parser.ChannelPd][from:to], cfg)
		case MetricMicrovascularResistance:
			value, err = beatResistance(nil, data[parser.ChannelPd][from:to], data[parser.ChannelFlow][from:to], cfg.FlowPhase)
		case MetricStenosisResistance:
			value, err = beatResistance(data[parser.ChannelPa][from:to], data[parser.ChannelPd][from:to], data[parser.ChannelFlow][from:to], cfg.FlowPhase)
		}
		if err != nil {
			degenerate++
			value = 0
		}
		points = append(points, Point{Time: time[to-1], Value: value})
	}
	if degenerate > 0 {
		slog.Debug("degenerate beats in trend", "metric", metric, "beats", degenerate)
	}
	return points, nil
}

// beatPdPa is the ratio of the trapezoidal areas under pd and pa, clipped.
func beatPdPa(t, pa, pd []float64, cfg SeriesConfig) (float64, error) {
	r, err := Ratio(integrate.Trapezoidal(t, pd), integrate.Trapezoidal(t, pa), "beat pd/pa area")
	if err != nil {
		return 0, err
	}
	return clip(r, cfg.ClipMin, cfg.ClipMax), nil
}

// beatResistance is mean(pd)/flow, or (mean(pa)-mean(pd))/flow when pa is
// given.
func beatResistance(pa, pd, flow []float64, phase Phase) (float64, error) {
	pressure := mean(pd)
	if pa != nil {
		pressure = mean(pa) - pressure
	}
	f := mean(flow)
	if phase == PhasePeak {
		f = floats.Max(flow)
	}
	return Ratio(pressure, f, "beat flow")
}

func clip(v, low, high float64) float64 {
	return math.Max(low, math.Min(high, v))
}

// Values extracts the values of a series.
func Values(points []Point) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.Value
	}
	return out
}
