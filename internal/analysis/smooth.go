package analysis

import (
	"errors"
	"fmt"
	"log/slog"

	"gonum.org/v1/gonum/mat"
)

// Default trend smoothing window and polynomial order.
const (
	DefaultSmoothWindow = 17
	DefaultSmoothOrder  = 3
)

// SavitzkyGolay smooths y with a least-squares polynomial of the given order
// over a sliding window of odd length. The first and last window/2 samples
// are taken from the polynomial fitted to the first and last full window.
func SavitzkyGolay(y []float64, window, order int) ([]float64, error) {
	if window < 1 || window%2 == 0 {
		return nil, &ArgumentError{Arg: "window", Value: fmt.Sprint(window)}
	}
	if order < 0 || order >= window {
		return nil, &ArgumentError{Arg: "order", Value: fmt.Sprint(order)}
	}
	n := len(y)
	if n < window {
		return nil, &InsufficientDataError{What: "smoothing window", Have: n, Need: window}
	}
	half := window / 2

	design := mat.NewDense(window, order+1, nil)
	for i := 0; i < window; i++ {
		t := float64(i - half)
		v := 1.0
		for j := 0; j <= order; j++ {
			design.Set(i, j, v)
			v *= t
		}
	}
	// proj maps a window of samples onto polynomial coefficients.
	var normal, proj mat.Dense
	normal.Mul(design.T(), design)
	if err := proj.Solve(&normal, design.T()); err != nil {
		return nil, fmt.Errorf("savitzky-golay fit: %w", err)
	}

	fit := func(start int) []float64 {
		var coef mat.VecDense
		coef.MulVec(&proj, mat.NewVecDense(window, y[start:start+window]))
		out := make([]float64, order+1)
		for j := range out {
			out[j] = coef.AtVec(j)
		}
		return out
	}

	out := make([]float64, n)
	for i := half; i < n-half; i++ {
		out[i] = fit(i - half)[0]
	}
	head, tail := fit(0), fit(n-window)
	for i := 0; i < half; i++ {
		out[i] = polyval(head, float64(i-half))
		out[n-half+i] = polyval(tail, float64(i+1))
	}
	return out, nil
}

// polyval evaluates c[0] + c[1]*t + ... by Horner's rule.
func polyval(c []float64, t float64) float64 {
	v := 0.0
	for j := len(c) - 1; j >= 0; j-- {
		v = v*t + c[j]
	}
	return v
}

// SmoothSeries applies SavitzkyGolay to the values of a trend. With fewer
// points than the window it returns a constant series at the mean value (0
// for an empty series) instead of failing.
func SmoothSeries(points []Point, window, order int) ([]Point, error) {
	values := Values(points)
	smoothed, err := SavitzkyGolay(values, window, order)
	switch {
	case err == nil:
	case errors.Is(err, ErrInsufficientData):
		level := 0.0
		if len(values) > 0 {
			level = mean(values)
		}
		slog.Info("too few beats to smooth trend, using constant", "beats", len(values), "window", window)
		smoothed = make([]float64, len(values))
		for i := range smoothed {
			smoothed[i] = level
		}
	default:
		return nil, err
	}
	out := make([]Point, len(points))
	for i, p := range points {
		out[i] = Point{Time: p.Time, Value: smoothed[i]}
	}
	return out, nil
}
