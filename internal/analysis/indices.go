package analysis

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/user/cophy_analyzer_go/internal/parser"
)

// IndexInput bundles the ensembles and landmarks of both window roles. A nil
// ensemble means the role has no window.
type IndexInput struct {
	Rest          *Ensemble
	Hyperaemia    *Ensemble
	RestLandmarks Landmarks
	HypLandmarks  Landmarks
}

// measureFunc computes one scalar.
type measureFunc func() (float64, error)

// collector gathers results so that one failing index never suppresses the
// others. Insufficient data omits the result; degenerate input records 0
// with a note; anything else is fatal and kept in err.
type collector struct {
	results *Results
	err     error
}

func (c *collector) add(name string, cat Category, state State, phase Phase, fn measureFunc) {
	if c.err != nil {
		return
	}
	value, err := fn()
	res := IndexResult{Name: name, Category: cat, State: state, Phase: phase, Value: value}
	switch {
	case err == nil:
	case errors.Is(err, ErrInsufficientData):
		c.results.Diagnostics = append(c.results.Diagnostics, fmt.Sprintf("%s omitted: %v", res.label(), err))
		slog.Info("index omitted", "index", res.label(), "err", err)
		return
	case errors.Is(err, ErrDegenerateInput):
		res.Value = 0
		res.Note = err.Error()
		c.results.Diagnostics = append(c.results.Diagnostics, fmt.Sprintf("%s set to 0: %v", res.label(), err))
		slog.Warn("degenerate index", "index", res.label(), "err", err)
	default:
		c.err = fmt.Errorf("computing %s: %w", res.label(), err)
		return
	}
	c.results.add(res)
}

// ratio composes num/den, passing through the first error of either side.
func ratio(what string, num, den measureFunc) measureFunc {
	return func() (float64, error) {
		n, err := num()
		if err != nil {
			return 0, err
		}
		d, err := den()
		if err != nil {
			return 0, err
		}
		return Ratio(n, d, what)
	}
}

// difference composes a()-b().
func difference(a, b measureFunc) measureFunc {
	return func() (float64, error) {
		x, err := a()
		if err != nil {
			return 0, err
		}
		y, err := b()
		if err != nil {
			return 0, err
		}
		return x - y, nil
	}
}

func wholeCycle(ens *Ensemble, ch parser.Channel, phase Phase) measureFunc {
	return func() (float64, error) { return WholeCycle(ens, ch, phase) }
}

func systolic(ens *Ensemble, ch parser.Channel, phase Phase, lm Landmarks) measureFunc {
	return func() (float64, error) { return Systolic(ens, ch, phase, lm) }
}

func diastolic(ens *Ensemble, ch parser.Channel, phase Phase, lm Landmarks) measureFunc {
	return func() (float64, error) { return Diastolic(ens, ch, phase, lm) }
}

func waveFree(ens *Ensemble, ch parser.Channel, phase Phase, lm Landmarks) measureFunc {
	return func() (float64, error) { return WaveFree(ens, ch, phase, lm) }
}

func diastolicProxy(ens *Ensemble, ch parser.Channel, phase Phase) measureFunc {
	return func() (float64, error) { return DiastolicProxy(ens, ch, phase) }
}

var phases = []Phase{PhaseMean, PhasePeak}

// stateNames holds the index names that differ between rest and hyperaemia.
type stateNames struct {
	pdpa, wavefreeRatio, stenosis, microvascular string
}

var namesByState = map[State]stateNames{
	StateRest:       {pdpa: "PdPa", wavefreeRatio: "iFR", stenosis: "BSR", microvascular: "BMR"},
	StateHyperaemia: {pdpa: "FFR", wavefreeRatio: "iFR (hyp.)", stenosis: "HSR", microvascular: "HMR"},
}

// CalculateIndices computes every index the inputs allow. Roles without a
// usable ensemble and landmark-dependent indices without both landmarks are
// skipped with a diagnostic. Only caller contract violations are returned as
// errors.
func CalculateIndices(in IndexInput) (*Results, error) {
	c := &collector{results: NewResults()}

	restOK := usable(c.results, in.Rest, StateRest)
	hypOK := usable(c.results, in.Hyperaemia, StateHyperaemia)

	if restOK {
		addWholeCycle(c, in.Rest, StateRest)
		c.add("dPR", CategoryPressureRatios, StateRest, "", ratio("dPR",
			diastolicProxy(in.Rest, parser.ChannelPd, PhaseMean),
			diastolicProxy(in.Rest, parser.ChannelPa, PhaseMean)))
		c.add("RFR", CategoryPressureRatios, StateRest, "", func() (float64, error) {
			return RestingFullCycleRatio(in.Rest)
		})
	}
	if hypOK {
		addWholeCycle(c, in.Hyperaemia, StateHyperaemia)
	}
	if restOK && hypOK {
		for _, ph := range phases {
			c.add("CFR", CategoryFlowRatios, "", ph, ratio("CFR",
				wholeCycle(in.Hyperaemia, parser.ChannelFlow, ph),
				wholeCycle(in.Rest, parser.ChannelFlow, ph)))
		}
	}

	restLm := landmarksReady(c.results, restOK, in.RestLandmarks, StateRest)
	hypLm := landmarksReady(c.results, hypOK, in.HypLandmarks, StateHyperaemia)
	if restLm {
		addLandmarkIndices(c, in.Rest, StateRest, in.RestLandmarks)
	}
	if hypLm {
		addLandmarkIndices(c, in.Hyperaemia, StateHyperaemia, in.HypLandmarks)
	}
	if restLm && hypLm {
		for _, ph := range phases {
			c.add("Systolic CFR", CategoryFlowRatios, "", ph, ratio("systolic CFR",
				systolic(in.Hyperaemia, parser.ChannelFlow, ph, in.HypLandmarks),
				systolic(in.Rest, parser.ChannelFlow, ph, in.RestLandmarks)))
		}
		for _, ph := range phases {
			c.add("Wavefree CFR", CategoryFlowRatios, "", ph, ratio("wave-free CFR",
				waveFree(in.Hyperaemia, parser.ChannelFlow, ph, in.HypLandmarks),
				waveFree(in.Rest, parser.ChannelFlow, ph, in.RestLandmarks)))
		}
	}

	if c.err != nil {
		return nil, c.err
	}
	return c.results, nil
}

func usable(res *Results, ens *Ensemble, state State) bool {
	switch {
	case ens == nil:
		res.Diagnostics = append(res.Diagnostics, fmt.Sprintf("no %s window selected", state))
		return false
	case ens.Empty():
		res.Diagnostics = append(res.Diagnostics, fmt.Sprintf("%s ensemble has no accepted beats (%d rejected)", state, ens.Rejected))
		return false
	}
	return true
}

func landmarksReady(res *Results, ensembleOK bool, lm Landmarks, state State) bool {
	if !ensembleOK {
		return false
	}
	if !lm.Complete() {
		res.Diagnostics = append(res.Diagnostics, fmt.Sprintf("%s notch/end-diastole not set, landmark indices skipped", state))
		return false
	}
	return true
}

// addWholeCycle adds the pressures, flows, pressure ratio and resistances
// of one role.
func addWholeCycle(c *collector, ens *Ensemble, state State) {
	names := namesByState[state]
	for _, ph := range phases {
		c.add("Pa", CategoryPressures, state, ph, wholeCycle(ens, parser.ChannelPa, ph))
		c.add("Pd", CategoryPressures, state, ph, wholeCycle(ens, parser.ChannelPd, ph))
	}
	c.add(names.pdpa, CategoryPressureRatios, state, "", ratio(names.pdpa,
		wholeCycle(ens, parser.ChannelPd, PhaseMean),
		wholeCycle(ens, parser.ChannelPa, PhaseMean)))
	for _, ph := range phases {
		c.add("Flow", CategoryFlows, state, ph, wholeCycle(ens, parser.ChannelFlow, ph))
	}

	gradient := difference(wholeCycle(ens, parser.ChannelPa, PhaseMean), wholeCycle(ens, parser.ChannelPd, PhaseMean))
	for _, ph := range phases {
		c.add(names.stenosis, CategoryResistances, state, ph, ratio(names.stenosis,
			gradient, wholeCycle(ens, parser.ChannelFlow, ph)))
	}
	for _, ph := range phases {
		c.add(names.microvascular, CategoryResistances, state, ph, ratio(names.microvascular,
			wholeCycle(ens, parser.ChannelPd, PhaseMean), wholeCycle(ens, parser.ChannelFlow, ph)))
	}
}

// addLandmarkIndices adds the systolic, diastolic and wave-free measures of
// one role.
func addLandmarkIndices(c *collector, ens *Ensemble, state State, lm Landmarks) {
	names := namesByState[state]
	c.add("Systolic Pa", CategoryPressures, state, PhaseMean, systolic(ens, parser.ChannelPa, PhaseMean, lm))
	c.add("Systolic Pd", CategoryPressures, state, PhaseMean, systolic(ens, parser.ChannelPd, PhaseMean, lm))
	c.add("Diastolic Pa", CategoryPressures, state, PhaseMean, diastolic(ens, parser.ChannelPa, PhaseMean, lm))
	c.add("Diastolic Pd", CategoryPressures, state, PhaseMean, diastolic(ens, parser.ChannelPd, PhaseMean, lm))
	for _, ph := range phases {
		c.add("Wavefree Pa", CategoryPressures, state, ph, waveFree(ens, parser.ChannelPa, ph, lm))
		c.add("Wavefree Pd", CategoryPressures, state, ph, waveFree(ens, parser.ChannelPd, ph, lm))
	}
	c.add(names.wavefreeRatio, CategoryPressureRatios, state, "", ratio(names.wavefreeRatio,
		waveFree(ens, parser.ChannelPd, PhaseMean, lm),
		waveFree(ens, parser.ChannelPa, PhaseMean, lm)))
	for _, ph := range phases {
		c.add("Wavefree flow", CategoryFlows, state, ph, waveFree(ens, parser.ChannelFlow, ph, lm))
	}
}
