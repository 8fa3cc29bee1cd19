package analysis

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/samber/lo"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/interp"

	"github.com/user/cophy_analyzer_go/internal/parser"
)

// EnsembleConfig controls beat extraction for one window.
type EnsembleConfig struct {
	MaxBeats         int
	MinRRSamples     int     // Minimum peak separation passed to the detector
	AcceptBand       float64 // Beats within (1±AcceptBand)*median RR are kept
	ReferenceChannel parser.Channel
	Channels         []parser.Channel // Channels resampled into each beat
}

// DefaultEnsembleConfig returns 10 beats, 0.5 s minimum RR and a 10% band
// with pa as reference.
func DefaultEnsembleConfig(sampleRate float64) EnsembleConfig {
	return EnsembleConfig{
		MaxBeats:         10,
		MinRRSamples:     MinIntervalSamples(sampleRate, 0.5),
		AcceptBand:       0.1,
		ReferenceChannel: parser.ChannelPa,
		Channels:         []parser.Channel{parser.ChannelPa, parser.ChannelPd, parser.ChannelFlow},
	}
}

// Beat is one time-normalised cardiac cycle. All vectors share Time's length.
type Beat struct {
	Time       []float64 // Local time, starting at 0
	Channels   map[parser.Channel][]float64
	StartIndex int // Sample index of the opening peak in the full table
	EndIndex   int // Sample index of the closing peak
}

// Ensemble is the accepted beat set of one window and its mean trace.
// It is rebuilt, never updated, whenever its inputs change.
type Ensemble struct {
	Window    Window
	Beats     []Beat
	Rejected  int // Intervals outside the acceptance band
	Skipped   int // Intervals left unexamined after MaxBeats was reached
	Intervals int // Peak-to-peak intervals found in the window
	MedianRR  float64
	Time      []float64 // Local time axis of the mean trace
	Mean      map[parser.Channel][]float64
}

// Empty reports whether no beat was accepted.
func (e *Ensemble) Empty() bool {
	return e == nil || len(e.Beats) == 0
}

// Len returns the number of samples per beat.
func (e *Ensemble) Len() int {
	if e == nil {
		return 0
	}
	return len(e.Time)
}

// MeanTrace returns the sample-wise mean of a channel across beats.
func (e *Ensemble) MeanTrace(ch parser.Channel) ([]float64, error) {
	if e.Empty() {
		return nil, &InsufficientDataError{What: "ensemble " + string(ch), Have: 0, Need: 1}
	}
	trace, ok := e.Mean[ch]
	if !ok {
		return nil, &InsufficientDataError{What: "ensemble channel " + string(ch), Have: 0, Need: 1}
	}
	return trace, nil
}

// Ensembler extracts, gates, resamples and averages beats of a window.
type Ensembler struct {
	Detector BeatDetector
	Config   EnsembleConfig
}

// NewEnsembler wires a detector and configuration.
func NewEnsembler(detector BeatDetector, cfg EnsembleConfig) *Ensembler {
	return &Ensembler{Detector: detector, Config: cfg}
}

// Build computes the ensemble of window. Too few peaks yield an empty
// ensemble rather than an error; a missing reference channel or an inverted
// window is an ArgumentError.
func (e *Ensembler) Build(table *parser.WaveformTable, window Window) (*Ensemble, error) {
	ens := &Ensemble{Window: window, Mean: make(map[parser.Channel][]float64)}
	if window.To <= window.From {
		return nil, &ArgumentError{Arg: "window", Value: fmt.Sprintf("[%g, %g)", window.From, window.To)}
	}
	ref, ok := table.Channel(e.Config.ReferenceChannel)
	if !ok {
		return nil, &ArgumentError{Arg: "reference channel", Value: string(e.Config.ReferenceChannel)}
	}
	channels := lo.Filter(e.Config.Channels, func(ch parser.Channel, _ int) bool { return table.Has(ch) })

	time := table.Time()
	iFrom, iTo := parser.NearestIndex(time, window.From), parser.NearestIndex(time, window.To)
	if iTo <= iFrom {
		slog.Info("window covers no samples", "state", window.Role, "from", window.From, "to", window.To)
		return ens, nil
	}

	peaks := e.Detector.Detect(ref[iFrom:iTo], e.Config.MinRRSamples)
	if len(peaks) < 2 {
		slog.Info("too few peaks for an ensemble", "state", window.Role, "peaks", len(peaks))
		return ens, nil
	}
	ens.Intervals = len(peaks) - 1
	ens.MedianRR = Median(diffs(peaks))
	beatLen := int(math.Round(ens.MedianRR))
	low, high := (1-e.Config.AcceptBand)*ens.MedianRR, (1+e.Config.AcceptBand)*ens.MedianRR

	for i := 0; i+1 < len(peaks); i++ {
		if e.Config.MaxBeats > 0 && len(ens.Beats) >= e.Config.MaxBeats {
			ens.Skipped = ens.Intervals - i
			slog.Warn("ensemble beat limit reached, skipping remaining beats", "state", window.Role, "max_beats", e.Config.MaxBeats, "skipped", ens.Skipped)
			break
		}
		start, end := peaks[i], peaks[i+1]
		rr := float64(end - start)
		if rr < low || rr > high {
			ens.Rejected++
			continue
		}
		beat := Beat{
			Channels:   make(map[parser.Channel][]float64, len(channels)),
			StartIndex: iFrom + start,
			EndIndex:   iFrom + end,
		}
		localTime := make([]float64, end-start)
		for k := range localTime {
			localTime[k] = time[iFrom+start+k] - time[iFrom+start]
		}
		beat.Time = Resample(localTime, beatLen)
		for _, ch := range channels {
			values, _ := table.Channel(ch)
			beat.Channels[ch] = Resample(values[iFrom+start:iFrom+end], beatLen)
		}
		ens.Beats = append(ens.Beats, beat)
	}

	if len(ens.Beats) > 0 {
		ens.Time = ens.Beats[0].Time
		for _, ch := range channels {
			ens.Mean[ch] = averageBeats(ens.Beats, ch)
		}
	}
	slog.Debug("ensemble built", "state", window.Role, "beats", len(ens.Beats), "rejected", ens.Rejected, "median_rr", ens.MedianRR)
	return ens, nil
}

// minCubicPoints is the shortest segment the not-a-knot spline accepts.
const minCubicPoints = 3

// fitPredictor is satisfied by the gonum interpolators used for resampling.
type fitPredictor interface {
	Fit(xs, ys []float64) error
	Predict(x float64) float64
}

// Resample maps y onto n evenly spaced points over the same normalised span
// using a not-a-knot cubic spline, falling back to linear interpolation for
// segments too short for a cubic fit.
func Resample(y []float64, n int) []float64 {
	if n <= 0 || len(y) == 0 {
		return []float64{}
	}
	if len(y) == 1 {
		out := make([]float64, n)
		floats.AddConst(y[0], out)
		return out
	}
	xs := linspace(0, 1, len(y))
	var fit fitPredictor = &interp.PiecewiseLinear{}
	if len(y) >= minCubicPoints {
		fit = &interp.NotAKnotCubic{}
	}
	if err := fit.Fit(xs, y); err != nil {
		slog.Debug("cubic resample failed, using linear", "samples", len(y), "err", err)
		fit = &interp.PiecewiseLinear{}
		if err := fit.Fit(xs, y); err != nil {
			return make([]float64, n)
		}
	}
	out := make([]float64, n)
	for i, x := range linspace(0, 1, n) {
		out[i] = fit.Predict(x)
	}
	return out
}

func averageBeats(beats []Beat, ch parser.Channel) []float64 {
	sum := make([]float64, len(beats[0].Channels[ch]))
	for _, b := range beats {
		floats.Add(sum, b.Channels[ch])
	}
	floats.Scale(1/float64(len(beats)), sum)
	return sum
}
