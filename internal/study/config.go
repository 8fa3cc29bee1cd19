package study

import (
	"github.com/user/cophy_analyzer_go/internal/analysis"
	"github.com/user/cophy_analyzer_go/internal/parser"
)

// Config holds every tunable of the analysis pipeline.
type Config struct {
	SampleRate      float64
	PdOffsetSamples int // Applied to text studies only
	Cleaner         analysis.CleanerConfig

	MaxBeats     int
	MinRRSeconds float64 // Shortest accepted peak-to-peak interval
	AcceptBand   float64

	PeakThresholds []float64
	MinHeartRate   float64 // bpm, drives threshold relaxation

	TrendChannel      parser.Channel // Reference channel of the beat-wise trends
	TrendMinRRSeconds float64
	Series            analysis.SeriesConfig
	SmoothWindow      int
	SmoothOrder       int
}

// DefaultConfig returns the settings the tool ships with.
func DefaultConfig() Config {
	return Config{
		SampleRate:      parser.SampleRate,
		PdOffsetSamples: 10, // 0.05 s
		Cleaner:         analysis.DefaultCleanerConfig(),

		MaxBeats:     10,
		MinRRSeconds: 0.5,
		AcceptBand:   0.1,

		PeakThresholds: []float64{0.3, 0.15, 0.05},
		MinHeartRate:   10,

		TrendChannel:      parser.ChannelPd,
		TrendMinRRSeconds: 0.5,
		Series:            analysis.DefaultSeriesConfig(),
		SmoothWindow:      analysis.DefaultSmoothWindow,
		SmoothOrder:       analysis.DefaultSmoothOrder,
	}
}

// detector builds the beat detector described by the config.
func (c Config) detector() *analysis.PeakDetector {
	d := analysis.NewPeakDetector(c.SampleRate)
	if len(c.PeakThresholds) > 0 {
		d.Thresholds = append([]float64(nil), c.PeakThresholds...)
	}
	if c.MinHeartRate > 0 {
		d.MinHeartRate = c.MinHeartRate
	}
	return d
}

// ensembler builds the beat ensembler described by the config.
func (c Config) ensembler() *analysis.Ensembler {
	ec := analysis.DefaultEnsembleConfig(c.SampleRate)
	ec.MaxBeats = c.MaxBeats
	ec.MinRRSamples = analysis.MinIntervalSamples(c.SampleRate, c.MinRRSeconds)
	ec.AcceptBand = c.AcceptBand
	return analysis.NewEnsembler(c.detector(), ec)
}
