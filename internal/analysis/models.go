package analysis

import (
	"fmt"
	"math"
	"strings"

	"github.com/samber/lo"
)

// State is the physiological role of an analysis window.
type State string

const (
	StateRest       State = "rest"
	StateHyperaemia State = "hyperaemia"
)

// ParseState accepts "rest", "hyp" and "hyperaemia" (case-insensitive).
func ParseState(s string) (State, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rest":
		return StateRest, nil
	case "hyp", "hyperaemia", "hyperemia":
		return StateHyperaemia, nil
	default:
		return "", &ArgumentError{Arg: "state", Value: s}
	}
}

// Phase selects the mean or the maximum of a trace.
type Phase string

const (
	PhaseMean Phase = "mean"
	PhasePeak Phase = "peak"
)

// ParsePhase validates a mean/peak selector.
func ParsePhase(s string) (Phase, error) {
	switch Phase(s) {
	case PhaseMean, PhasePeak:
		return Phase(s), nil
	default:
		return "", &ArgumentError{Arg: "phase", Value: s}
	}
}

// Window is a [From, To) time interval of the recording with a role.
type Window struct {
	Role State
	From float64
	To   float64
}

// Landmarks are the optional beat-relative notch and end-diastole times of
// one window role.
type Landmarks struct {
	Notch       *float64
	EndDiastole *float64
}

// Complete reports whether both landmarks are set.
func (l Landmarks) Complete() bool {
	return l.Notch != nil && l.EndDiastole != nil
}

// NewLandmarks is a convenience constructor for a complete pair.
func NewLandmarks(notch, endDiastole float64) Landmarks {
	return Landmarks{Notch: &notch, EndDiastole: &endDiastole}
}

// Category groups index results for display.
type Category string

const (
	CategoryPressures      Category = "pressures"
	CategoryPressureRatios Category = "pressure_ratios"
	CategoryFlows          Category = "flows"
	CategoryFlowRatios     Category = "flow_ratios"
	CategoryResistances    Category = "resistances"
)

// Categories lists the result groups in display order.
var Categories = []Category{CategoryPressures, CategoryPressureRatios, CategoryFlows, CategoryFlowRatios, CategoryResistances}

// IndexResult is one named scalar. State and Phase are empty when not
// applicable. Note carries the diagnostic for a degenerate (zeroed) value.
type IndexResult struct {
	Name     string
	Category Category
	State    State
	Phase    Phase
	Value    float64
	Note     string
}

// Rounded returns the value rounded to two decimals for display.
func (r IndexResult) Rounded() float64 {
	return math.Round(r.Value*100) / 100
}

// label joins name, state and phase, e.g. "Pa rest mean".
func (r IndexResult) label() string {
	parts := []string{r.Name}
	if r.State != "" {
		parts = append(parts, string(r.State))
	}
	if r.Phase != "" {
		parts = append(parts, string(r.Phase))
	}
	return strings.Join(parts, " ")
}

func (r IndexResult) String() string {
	return fmt.Sprintf("%s = %.2f", r.label(), r.Rounded())
}

// Results is the computed index set grouped by category.
type Results struct {
	Pressures      []IndexResult
	PressureRatios []IndexResult
	Flows          []IndexResult
	FlowRatios     []IndexResult
	Resistances    []IndexResult
	Diagnostics    []string
}

// NewResults returns an empty result set.
func NewResults() *Results {
	return &Results{
		Pressures:      make([]IndexResult, 0),
		PressureRatios: make([]IndexResult, 0),
		Flows:          make([]IndexResult, 0),
		FlowRatios:     make([]IndexResult, 0),
		Resistances:    make([]IndexResult, 0),
		Diagnostics:    make([]string, 0),
	}
}

// ByCategory returns the results of one group.
func (r *Results) ByCategory(c Category) []IndexResult {
	switch c {
	case CategoryPressures:
		return r.Pressures
	case CategoryPressureRatios:
		return r.PressureRatios
	case CategoryFlows:
		return r.Flows
	case CategoryFlowRatios:
		return r.FlowRatios
	case CategoryResistances:
		return r.Resistances
	default:
		return nil
	}
}

// All returns every result in display order.
func (r *Results) All() []IndexResult {
	return lo.Flatten(lo.Map(Categories, func(c Category, _ int) []IndexResult {
		return r.ByCategory(c)
	}))
}

// Find looks up a result by name, state and phase.
func (r *Results) Find(name string, state State, phase Phase) (IndexResult, bool) {
	return lo.Find(r.All(), func(res IndexResult) bool {
		return res.Name == name && res.State == state && res.Phase == phase
	})
}

func (r *Results) add(res IndexResult) {
	switch res.Category {
	case CategoryPressures:
		r.Pressures = append(r.Pressures, res)
	case CategoryPressureRatios:
		r.PressureRatios = append(r.PressureRatios, res)
	case CategoryFlows:
		r.Flows = append(r.Flows, res)
	case CategoryFlowRatios:
		r.FlowRatios = append(r.FlowRatios, res)
	case CategoryResistances:
		r.Resistances = append(r.Resistances, res)
	}
}
