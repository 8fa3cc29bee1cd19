package analysis

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/user/cophy_analyzer_go/internal/parser"
	"gonum.org/v1/gonum/floats"
)

// CleanerConfig controls artifact clipping of pressure channels.
type CleanerConfig struct {
	Quantile   float64 // High quantile of the reference channel, e.g. 0.9
	NQuantiles float64 // Multiplier k in median + k*quantile
}

// DefaultCleanerConfig returns the 90th percentile / 1.5 setting.
func DefaultCleanerConfig() CleanerConfig {
	return CleanerConfig{Quantile: 0.9, NQuantiles: 1.5}
}

// ClipThreshold returns median(ref) + k*quantile(ref).
func ClipThreshold(ref []float64, cfg CleanerConfig) float64 {
	return Median(ref) + cfg.NQuantiles*Quantile(ref, cfg.Quantile)
}

// ClipWave marks samples of wave above the reference threshold invalid and
// repairs them by forward fill. ref may be nil to use wave itself. The result
// has the same length as wave; a leading invalid run stays NaN.
func ClipWave(wave, ref []float64, cfg CleanerConfig) []float64 {
	if ref == nil {
		ref = wave
	}
	threshold := ClipThreshold(ref, cfg)
	out := make([]float64, len(wave))
	clipped := 0
	for i, v := range wave {
		if v > threshold {
			out[i] = math.NaN()
			clipped++
			continue
		}
		out[i] = v
	}
	if clipped > 0 {
		slog.Debug("clipped pressure artifacts", "samples", clipped, "threshold", threshold)
	}
	return ForwardFill(out)
}

// ForwardFill replaces each NaN with the most recent non-NaN value.
func ForwardFill(values []float64) []float64 {
	out := make([]float64, len(values))
	last := math.NaN()
	for i, v := range values {
		if !math.IsNaN(v) {
			last = v
		}
		out[i] = last
	}
	return out
}

// CleanPressures clips pd against its own distribution and pa against the
// cleaned pd, returning a new table. Gaps in the flow channel are forward
// filled; other channels are shared unchanged.
func CleanPressures(table *parser.WaveformTable, cfg CleanerConfig) (*parser.WaveformTable, error) {
	pd, ok := table.Channel(parser.ChannelPd)
	if !ok {
		return nil, fmt.Errorf("cannot clean pressures: no %s channel", parser.ChannelPd)
	}
	pa, ok := table.Channel(parser.ChannelPa)
	if !ok {
		return nil, fmt.Errorf("cannot clean pressures: no %s channel", parser.ChannelPa)
	}
	cleanPd := ClipWave(pd, nil, cfg)
	cleanPa := ClipWave(pa, cleanPd, cfg)

	out, err := table.WithChannel(parser.ChannelPd, cleanPd)
	if err != nil {
		return nil, err
	}
	if out, err = out.WithChannel(parser.ChannelPa, cleanPa); err != nil {
		return nil, err
	}
	if flow, ok := table.Channel(parser.ChannelFlow); ok && floats.HasNaN(flow) {
		return out.WithChannel(parser.ChannelFlow, ForwardFill(flow))
	}
	return out, nil
}
