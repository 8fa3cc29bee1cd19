package analysis

import (
	"fmt"
	"math"

	"github.com/user/cophy_analyzer_go/internal/parser"
)

// WaveFreeStartFraction and WaveFreeEndMargin bound the wave-free period:
// it starts a quarter of the way from notch to end-diastole and stops 5 ms
// before end-diastole.
const (
	WaveFreeStartFraction = 0.25
	WaveFreeEndMargin     = 0.005
)

// WholeCycle is the mean or peak of the ensemble's mean trace of ch.
func WholeCycle(ens *Ensemble, ch parser.Channel, phase Phase) (float64, error) {
	trace, err := ens.MeanTrace(ch)
	if err != nil {
		return 0, err
	}
	return reduce(trace, phase, "whole-cycle "+string(ch))
}

// landmarkIndices maps both landmarks onto the ensemble's local time axis.
func landmarkIndices(ens *Ensemble, lm Landmarks) (notch, endDiastole int, err error) {
	if !lm.Complete() {
		return 0, 0, &DegenerateInputError{What: "notch and end-diastole landmarks are required"}
	}
	return parser.NearestIndex(ens.Time, *lm.Notch), parser.NearestIndex(ens.Time, *lm.EndDiastole), nil
}

// Systolic restricts the mean trace to samples outside [notch, end-diastole).
// Inverted landmarks yield 0 together with a DegenerateInputError.
func Systolic(ens *Ensemble, ch parser.Channel, phase Phase, lm Landmarks) (float64, error) {
	trace, err := ens.MeanTrace(ch)
	if err != nil {
		return 0, err
	}
	iNotch, iEnd, err := landmarkIndices(ens, lm)
	if err != nil {
		return 0, err
	}
	if iEnd <= iNotch {
		return 0, &DegenerateInputError{What: fmt.Sprintf("systolic %s: notch %.3fs is not before end-diastole %.3fs", ch, *lm.Notch, *lm.EndDiastole)}
	}
	samples := make([]float64, 0, len(trace))
	samples = append(samples, trace[:iNotch]...)
	samples = append(samples, trace[iEnd:]...)
	return reduce(samples, phase, "systolic "+string(ch))
}

// Diastolic restricts the mean trace to [notch, end-diastole).
func Diastolic(ens *Ensemble, ch parser.Channel, phase Phase, lm Landmarks) (float64, error) {
	trace, err := ens.MeanTrace(ch)
	if err != nil {
		return 0, err
	}
	iNotch, iEnd, err := landmarkIndices(ens, lm)
	if err != nil {
		return 0, err
	}
	if iEnd <= iNotch {
		return 0, &DegenerateInputError{What: fmt.Sprintf("diastolic %s: notch %.3fs is not before end-diastole %.3fs", ch, *lm.Notch, *lm.EndDiastole)}
	}
	return reduce(trace[iNotch:iEnd], phase, "diastolic "+string(ch))
}

// WaveFreeSpan returns the [start, end) sample range of the wave-free period.
// Inverted landmarks give end <= start.
func WaveFreeSpan(ens *Ensemble, lm Landmarks) (start, end int, err error) {
	if !lm.Complete() {
		return 0, 0, &DegenerateInputError{What: "notch and end-diastole landmarks are required"}
	}
	notch, endDiastole := *lm.Notch, *lm.EndDiastole
	from := notch + (endDiastole-notch)*WaveFreeStartFraction
	to := endDiastole - WaveFreeEndMargin
	return parser.NearestIndex(ens.Time, from), parser.NearestIndex(ens.Time, to), nil
}

// WaveFree restricts the mean trace to the wave-free period. An empty or
// inverted period yields 0 together with a DegenerateInputError.
func WaveFree(ens *Ensemble, ch parser.Channel, phase Phase, lm Landmarks) (float64, error) {
	if _, err := ParsePhase(string(phase)); err != nil {
		return 0, err
	}
	trace, err := ens.MeanTrace(ch)
	if err != nil {
		return 0, err
	}
	start, end, err := WaveFreeSpan(ens, lm)
	if err != nil {
		return 0, err
	}
	if end <= start {
		return 0, &DegenerateInputError{What: fmt.Sprintf("wave-free %s: empty period, are notch and end-diastole the wrong way around?", ch)}
	}
	return reduce(trace[start:end], phase, "wave-free "+string(ch))
}

// DiastolicProxy restricts the mean trace of ch to samples where the mean pa
// trace is below its own average. It needs no landmarks.
func DiastolicProxy(ens *Ensemble, ch parser.Channel, phase Phase) (float64, error) {
	pa, err := ens.MeanTrace(parser.ChannelPa)
	if err != nil {
		return 0, err
	}
	trace, err := ens.MeanTrace(ch)
	if err != nil {
		return 0, err
	}
	paMean := mean(pa)
	samples := make([]float64, 0, len(trace))
	for i, v := range trace {
		if pa[i] < paMean {
			samples = append(samples, v)
		}
	}
	return reduce(samples, phase, "diastolic proxy "+string(ch))
}

// RestingFullCycleRatio is the minimum of pd/pa over the mean cycle. Samples
// with a zero pa are skipped.
func RestingFullCycleRatio(ens *Ensemble) (float64, error) {
	pa, err := ens.MeanTrace(parser.ChannelPa)
	if err != nil {
		return 0, err
	}
	pd, err := ens.MeanTrace(parser.ChannelPd)
	if err != nil {
		return 0, err
	}
	lowest := math.Inf(1)
	for i := range pa {
		r, err := Ratio(pd[i], pa[i], "pd/pa")
		if err != nil {
			continue
		}
		lowest = math.Min(lowest, r)
	}
	if math.IsInf(lowest, 1) {
		return 0, &DegenerateInputError{What: "RFR: pa is zero over the whole cycle"}
	}
	return lowest, nil
}
