package analysis

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// finite returns the non-NaN values of data.
func finite(data []float64) []float64 {
	out := make([]float64, 0, len(data))
	for _, v := range data {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

// Quantile ignores NaNs and interpolates linearly between order statistics
// (the same estimator numpy's default quantile uses). p is in [0, 1].
func Quantile(data []float64, p float64) float64 {
	sorted := finite(data)
	if len(sorted) == 0 {
		return math.NaN()
	}
	sort.Float64s(sorted)
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}
	index := p * float64(len(sorted)-1)
	lower := int(math.Floor(index))
	upper := int(math.Ceil(index))
	if lower == upper {
		return sorted[lower]
	}
	weight := index - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}

// Median ignores NaNs; an even count averages the two middle values.
func Median(data []float64) float64 {
	return Quantile(data, 0.5)
}

// mean returns NaN for an empty slice.
func mean(data []float64) float64 {
	if len(data) == 0 {
		return math.NaN()
	}
	return stat.Mean(data, nil)
}

// peak returns NaN for an empty slice.
func peak(data []float64) float64 {
	if len(data) == 0 {
		return math.NaN()
	}
	return floats.Max(data)
}

// reduce applies a phase selector to a slice. A slice holding a NaN is
// degenerate for both phases.
func reduce(data []float64, phase Phase, what string) (float64, error) {
	if _, err := ParsePhase(string(phase)); err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, &DegenerateInputError{What: what + ": empty sample range"}
	}
	if floats.HasNaN(data) {
		return 0, &DegenerateInputError{What: what + ": trace contains missing samples"}
	}
	if phase == PhasePeak {
		return peak(data), nil
	}
	return mean(data), nil
}

// nearZero is the denominator magnitude below which a ratio is degenerate.
const nearZero = 1e-9

// Ratio divides num by den, failing with DegenerateInputError when den is
// zero, near zero or not a number.
func Ratio(num, den float64, what string) (float64, error) {
	if math.IsNaN(den) || math.IsNaN(num) || math.Abs(den) < nearZero {
		return 0, &DegenerateInputError{What: what + ": zero denominator"}
	}
	return num / den, nil
}

// linspace returns n evenly spaced points over [start, stop].
func linspace(start, stop float64, n int) []float64 {
	if n <= 0 {
		return []float64{}
	}
	if n == 1 {
		return []float64{start}
	}
	out := make([]float64, n)
	floats.Span(out, start, stop)
	return out
}

func diffs(idx []int) []float64 {
	if len(idx) < 2 {
		return nil
	}
	out := make([]float64, len(idx)-1)
	for i := 1; i < len(idx); i++ {
		out[i-1] = float64(idx[i] - idx[i-1])
	}
	return out
}
