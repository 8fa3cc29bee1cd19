package analysis

import (
	"log/slog"
	"math"
	"sort"
)

// BeatDetector locates cycle boundaries on a reference trace. Returned
// indices are strictly increasing and more than minDistance apart.
type BeatDetector interface {
	Detect(trace []float64, minDistance int) []int
}

// PeakDetector is the default BeatDetector: local maxima above a relative
// amplitude threshold, thinned so that taller peaks win within minDistance.
// When fewer peaks than a lower heart-rate bound implies are found, the
// threshold is relaxed step by step; the last attempt is accepted as is.
type PeakDetector struct {
	SampleRate   float64
	Thresholds   []float64 // Relative amplitude thresholds, tried in order
	MinHeartRate float64   // bpm, sets the expected minimum peak count
}

// NewPeakDetector returns a detector with thresholds 0.3, 0.15 and 0.05 and a
// 10 bpm lower bound.
func NewPeakDetector(sampleRate float64) *PeakDetector {
	return &PeakDetector{
		SampleRate:   sampleRate,
		Thresholds:   []float64{0.3, 0.15, 0.05},
		MinHeartRate: 10,
	}
}

// MinIntervalSamples converts a minimum RR interval in seconds to samples.
func MinIntervalSamples(sampleRate, minRRSeconds float64) int {
	return int(minRRSeconds * sampleRate)
}

// ExpectedMinPeaks is the peak count implied by MinHeartRate over the trace.
func (d *PeakDetector) ExpectedMinPeaks(n int) int {
	if d.SampleRate <= 0 {
		return 0
	}
	return int(float64(n) / d.SampleRate / 60 * d.MinHeartRate)
}

// Detect never fails: sparse or flat traces yield fewer or no peaks.
func (d *PeakDetector) Detect(trace []float64, minDistance int) []int {
	expected := d.ExpectedMinPeaks(len(trace))
	var peaks []int
	for i, thres := range d.Thresholds {
		peaks = FindPeaks(trace, thres, minDistance)
		if len(peaks) >= expected {
			break
		}
		if i+1 < len(d.Thresholds) {
			slog.Debug("too few peaks, relaxing threshold", "found", len(peaks), "expected", expected, "next_threshold", d.Thresholds[i+1])
		}
	}
	return peaks
}

// FindPeaks returns local maxima of y that exceed min + thres*(max-min),
// keeping the tallest peak within any minDistance neighbourhood. Flat tops
// are reported at their middle sample. NaN samples are never peaks.
func FindPeaks(y []float64, thres float64, minDistance int) []int {
	n := len(y)
	if n < 3 {
		return nil
	}
	low, high := math.Inf(1), math.Inf(-1)
	for _, v := range y {
		if math.IsNaN(v) {
			continue
		}
		low = math.Min(low, v)
		high = math.Max(high, v)
	}
	if math.IsInf(low, 1) || high == low {
		return nil
	}
	threshold := low + thres*(high-low)

	var candidates []int
	for i := 1; i < n-1; {
		v := y[i]
		if math.IsNaN(v) || math.IsNaN(y[i-1]) || v <= threshold || v <= y[i-1] {
			i++
			continue
		}
		// Walk to the right edge of a plateau.
		j := i
		for j+1 < n && y[j+1] == v {
			j++
		}
		if j+1 < n && y[j+1] < v {
			candidates = append(candidates, (i+j)/2)
		}
		i = j + 1
	}
	if minDistance <= 1 || len(candidates) < 2 {
		return candidates
	}

	byHeight := make([]int, len(candidates))
	copy(byHeight, candidates)
	sort.SliceStable(byHeight, func(a, b int) bool { return y[byHeight[a]] > y[byHeight[b]] })

	removed := make(map[int]bool, len(candidates))
	for _, p := range byHeight {
		if removed[p] {
			continue
		}
		// candidates is sorted, so the neighbourhood is a contiguous run.
		start := sort.SearchInts(candidates, p-minDistance)
		for k := start; k < len(candidates) && candidates[k] <= p+minDistance; k++ {
			if candidates[k] != p {
				removed[candidates[k]] = true
			}
		}
	}
	peaks := make([]int, 0, len(candidates))
	for _, p := range candidates {
		if !removed[p] {
			peaks = append(peaks, p)
		}
	}
	return peaks
}
