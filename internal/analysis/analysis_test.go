package analysis

import (
	"errors"
	"math"
	"math/rand"
	"reflect"
	"testing"

	"github.com/user/cophy_analyzer_go/internal/parser"
)

const rate = parser.SampleRate

// sinusoid returns offset + amplitude*sin(2*pi*t/period) sampled at 200 Hz.
func sinusoid(n int, period, amplitude, offset float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = offset + amplitude*math.Sin(2*math.Pi*float64(i)/rate/period)
	}
	return out
}

func scaled(values []float64, k float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = k * v
	}
	return out
}

// syntheticTable builds pa = 100 + 100*sin(2*pi*t), pd = pdScale*pa and a
// flow trace with the same period.
func syntheticTable(t *testing.T, seconds int, pdScale float64) *parser.WaveformTable {
	t.Helper()
	pa := sinusoid(seconds*rate, 1, 100, 100)
	table, err := parser.NewWaveformTable(rate, map[parser.Channel][]float64{
		parser.ChannelPa:   pa,
		parser.ChannelPd:   scaled(pa, pdScale),
		parser.ChannelFlow: sinusoid(seconds*rate, 1, 20, 40),
	})
	if err != nil {
		t.Fatalf("NewWaveformTable: %v", err)
	}
	return table
}

func defaultEnsembler() *Ensembler {
	return NewEnsembler(NewPeakDetector(rate), DefaultEnsembleConfig(rate))
}

func TestQuantileMatchesLinearInterpolation(t *testing.T) {
	tests := []struct {
		data []float64
		p    float64
		want float64
	}{
		{[]float64{1, 2, 3, 4}, 0.5, 2.5},
		{[]float64{10, 1, 2, 3, 4, 5, 6, 7, 8, 9}, 0.9, 9.1},
		{[]float64{3, math.NaN(), 1, 2}, 0.5, 2},
		{[]float64{7}, 0.9, 7},
	}
	for _, tt := range tests {
		if got := Quantile(tt.data, tt.p); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("Quantile(%v, %v) = %v, want %v", tt.data, tt.p, got, tt.want)
		}
	}
	if !math.IsNaN(Quantile(nil, 0.5)) {
		t.Errorf("Quantile of empty data should be NaN")
	}
}

func TestClipWaveWithoutOutliersIsUnchanged(t *testing.T) {
	wave := sinusoid(1000, 0.8, 20, 100)
	got := ClipWave(wave, nil, DefaultCleanerConfig())
	if !reflect.DeepEqual(got, wave) {
		t.Fatalf("clean wave was modified")
	}
}

func TestClipWaveRemovesSpikes(t *testing.T) {
	cfg := DefaultCleanerConfig()
	wave := sinusoid(1000, 0.8, 20, 100)
	wave[0] = 5000
	wave[400] = 5000
	wave[401] = 4000
	threshold := ClipThreshold(wave, cfg)

	got := ClipWave(wave, nil, cfg)
	if len(got) != len(wave) {
		t.Fatalf("length = %d, want %d", len(got), len(wave))
	}
	if !math.IsNaN(got[0]) {
		t.Errorf("leading artifact should stay invalid, got %v", got[0])
	}
	if got[400] != wave[399] || got[401] != wave[399] {
		t.Errorf("spike not forward filled: %v %v, want %v", got[400], got[401], wave[399])
	}
	for i, v := range got[1:] {
		if v > threshold {
			t.Fatalf("sample %d = %v exceeds threshold %v", i+1, v, threshold)
		}
	}
}

func TestCleanPressuresUsesCleanedPdAsReference(t *testing.T) {
	pd := sinusoid(1000, 1, 10, 80)
	pa := sinusoid(1000, 1, 10, 90)
	pa[500] = 1e4
	table, err := parser.NewWaveformTable(rate, map[parser.Channel][]float64{
		parser.ChannelPa: pa,
		parser.ChannelPd: pd,
	})
	if err != nil {
		t.Fatal(err)
	}
	cleaned, err := CleanPressures(table, DefaultCleanerConfig())
	if err != nil {
		t.Fatalf("CleanPressures: %v", err)
	}
	gotPa, _ := cleaned.Channel(parser.ChannelPa)
	if gotPa[500] != pa[499] {
		t.Errorf("pa spike = %v, want %v", gotPa[500], pa[499])
	}
	gotPd, _ := cleaned.Channel(parser.ChannelPd)
	if !reflect.DeepEqual(gotPd, pd) {
		t.Errorf("pd without artifacts should be unchanged")
	}
	if orig, _ := table.Channel(parser.ChannelPa); orig[500] != 1e4 {
		t.Errorf("input table was mutated")
	}
}

func TestCleanPressuresFillsFlowGaps(t *testing.T) {
	table := syntheticTable(t, 10, 0.9)
	flow, _ := table.Channel(parser.ChannelFlow)
	gappy := append([]float64(nil), flow...)
	gappy[420] = math.NaN()
	table, err := table.WithChannel(parser.ChannelFlow, gappy)
	if err != nil {
		t.Fatal(err)
	}
	cleaned, err := CleanPressures(table, DefaultCleanerConfig())
	if err != nil {
		t.Fatalf("CleanPressures: %v", err)
	}
	got, _ := cleaned.Channel(parser.ChannelFlow)
	if got[420] != flow[419] {
		t.Errorf("flow gap = %v, want %v", got[420], flow[419])
	}
	if orig, _ := table.Channel(parser.ChannelFlow); !math.IsNaN(orig[420]) {
		t.Errorf("input table was mutated")
	}
}

func TestFindPeaksPeriodicSignal(t *testing.T) {
	const period = 160
	y := sinusoid(4000, float64(period)/rate, 50, 100)
	peaks := FindPeaks(y, 0.3, 100)
	if len(peaks) != 25 {
		t.Fatalf("found %d peaks, want 25", len(peaks))
	}
	for i := 1; i < len(peaks); i++ {
		if d := peaks[i] - peaks[i-1]; d < period-1 || d > period+1 {
			t.Errorf("spacing %d at %d, want %d±1", d, i, period)
		}
	}
}

func TestFindPeaksRespectsMinimumDistance(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	y := sinusoid(6000, 0.9, 40, 100)
	for i := range y {
		y[i] += 8*math.Sin(float64(i)/3) + rng.Float64()*5
	}
	const minDistance = 100
	peaks := FindPeaks(y, 0.3, minDistance)
	if len(peaks) < 2 {
		t.Fatalf("expected peaks on a noisy periodic trace, got %d", len(peaks))
	}
	for i := 1; i < len(peaks); i++ {
		if peaks[i]-peaks[i-1] < minDistance {
			t.Fatalf("peaks %d and %d closer than %d", peaks[i-1], peaks[i], minDistance)
		}
	}
}

func TestFindPeaksPlateauReportsMiddle(t *testing.T) {
	y := []float64{0, 1, 5, 5, 5, 1, 0}
	if got := FindPeaks(y, 0.3, 1); !reflect.DeepEqual(got, []int{3}) {
		t.Errorf("plateau peaks = %v, want [3]", got)
	}
	if got := FindPeaks([]float64{2, 2, 2, 2}, 0.3, 1); len(got) != 0 {
		t.Errorf("flat trace peaks = %v, want none", got)
	}
}

func TestPeakDetectorRelaxesThreshold(t *testing.T) {
	// 60 s with one tall spike and 59 short ones; only the relaxed threshold
	// reaches the 10 bpm lower bound.
	trace := make([]float64, 60*rate)
	for i := 0; i < 60; i++ {
		trace[100+i*rate] = 2
	}
	trace[100] = 10

	d := NewPeakDetector(rate)
	if got := d.ExpectedMinPeaks(len(trace)); got != 10 {
		t.Fatalf("ExpectedMinPeaks = %d, want 10", got)
	}
	if got := len(FindPeaks(trace, d.Thresholds[0], 100)); got != 1 {
		t.Fatalf("strict threshold found %d peaks, want 1", got)
	}
	if got := len(d.Detect(trace, 100)); got != 60 {
		t.Errorf("Detect found %d peaks, want 60", got)
	}
	if got := d.Detect(make([]float64, 500), 100); len(got) != 0 {
		t.Errorf("flat trace should yield no peaks, got %v", got)
	}
}

// fixedDetector returns preset boundaries.
type fixedDetector []int

func (f fixedDetector) Detect([]float64, int) []int { return f }

func TestEnsembleCountsAndLengths(t *testing.T) {
	table := syntheticTable(t, 10, 0.9)
	ens, err := defaultEnsembler().Build(table, Window{Role: StateRest, From: 0, To: 10})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(ens.Beats)+ens.Rejected+ens.Skipped != ens.Intervals {
		t.Errorf("accepted %d + rejected %d + skipped %d != intervals %d", len(ens.Beats), ens.Rejected, ens.Skipped, ens.Intervals)
	}
	if ens.Intervals != 9 || len(ens.Beats) != 9 {
		t.Errorf("intervals = %d, beats = %d, want 9 and 9", ens.Intervals, len(ens.Beats))
	}
	want := int(math.Round(ens.MedianRR))
	if want != rate {
		t.Errorf("median RR = %v, want %d", ens.MedianRR, rate)
	}
	for i, b := range ens.Beats {
		for ch, v := range b.Channels {
			if len(v) != want {
				t.Errorf("beat %d channel %s has %d samples, want %d", i, ch, len(v), want)
			}
		}
		if len(b.Time) != want || b.Time[0] != 0 {
			t.Errorf("beat %d time axis malformed", i)
		}
	}
	pa, err := ens.MeanTrace(parser.ChannelPa)
	if err != nil {
		t.Fatal(err)
	}
	if peak(pa) < 199 || peak(pa) > 200.5 {
		t.Errorf("mean pa peak = %v, want about 200", peak(pa))
	}
}

func TestEnsembleBeatLimit(t *testing.T) {
	table := syntheticTable(t, 30, 0.9)
	ens, err := defaultEnsembler().Build(table, Window{Role: StateHyperaemia, From: 0, To: 30})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(ens.Beats) != 10 {
		t.Errorf("beats = %d, want 10", len(ens.Beats))
	}
	if ens.Skipped != ens.Intervals-10 || ens.Rejected != 0 {
		t.Errorf("skipped = %d rejected = %d of %d intervals", ens.Skipped, ens.Rejected, ens.Intervals)
	}
}

func TestEnsembleAcceptanceBand(t *testing.T) {
	table := syntheticTable(t, 10, 0.9)
	tests := []struct {
		name     string
		peaks    fixedDetector
		accepted int
		rejected int
	}{
		{"outlier rejected", fixedDetector{0, 100, 200, 300, 450, 550}, 4, 1},
		{"band is inclusive", fixedDetector{0, 100, 210, 300, 400}, 4, 0},
		{"short beat rejected", fixedDetector{0, 100, 200, 300, 350, 450}, 4, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEnsembler(tt.peaks, DefaultEnsembleConfig(rate))
			ens, err := e.Build(table, Window{Role: StateRest, From: 0, To: 10})
			if err != nil {
				t.Fatal(err)
			}
			if len(ens.Beats) != tt.accepted || ens.Rejected != tt.rejected {
				t.Errorf("accepted %d rejected %d, want %d and %d", len(ens.Beats), ens.Rejected, tt.accepted, tt.rejected)
			}
			for _, b := range ens.Beats {
				if len(b.Channels[parser.ChannelPd]) != 100 {
					t.Errorf("beat length %d, want 100", len(b.Channels[parser.ChannelPd]))
				}
			}
		})
	}
}

func TestEnsembleWithoutBeats(t *testing.T) {
	table := syntheticTable(t, 10, 0.9)
	ens, err := defaultEnsembler().Build(table, Window{Role: StateRest, From: 2.0, To: 2.3})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !ens.Empty() || ens.Rejected != 0 {
		t.Fatalf("expected an empty ensemble, got %d beats %d rejected", len(ens.Beats), ens.Rejected)
	}
	res, err := CalculateIndices(IndexInput{Rest: ens})
	if err != nil {
		t.Fatalf("CalculateIndices: %v", err)
	}
	if len(res.All()) != 0 {
		t.Errorf("expected no indices, got %v", res.All())
	}
	if len(res.Diagnostics) == 0 {
		t.Errorf("expected a diagnostic for the empty ensemble")
	}
}

func TestEnsembleInvertedWindow(t *testing.T) {
	table := syntheticTable(t, 10, 0.9)
	_, err := defaultEnsembler().Build(table, Window{Role: StateRest, From: 5, To: 1})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("err = %v, want invalid argument", err)
	}
}

func TestResampleShortSegments(t *testing.T) {
	if got := Resample([]float64{4}, 3); !reflect.DeepEqual(got, []float64{4, 4, 4}) {
		t.Errorf("single sample = %v", got)
	}
	got := Resample([]float64{0, 2}, 3)
	if math.Abs(got[1]-1) > 1e-12 {
		t.Errorf("two samples midpoint = %v, want 1", got[1])
	}
	line := []float64{0, 1, 2, 3, 4, 5}
	got = Resample(line, 11)
	for i, v := range got {
		if math.Abs(v-float64(i)*0.5) > 1e-9 {
			t.Fatalf("cubic resample of a line at %d = %v", i, v)
		}
	}
}

func buildRest(t *testing.T, pdScale float64) *Ensemble {
	t.Helper()
	ens, err := defaultEnsembler().Build(syntheticTable(t, 10, pdScale), Window{Role: StateRest, From: 0, To: 10})
	if err != nil {
		t.Fatal(err)
	}
	if ens.Empty() {
		t.Fatal("rest ensemble is empty")
	}
	return ens
}

func TestPdPaIsOneWhenPressuresMatch(t *testing.T) {
	ens := buildRest(t, 1)
	res, err := CalculateIndices(IndexInput{Rest: ens})
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"PdPa", "dPR", "RFR"} {
		got, ok := res.Find(name, StateRest, "")
		if !ok {
			t.Fatalf("%s missing", name)
		}
		if math.Abs(got.Value-1) > 1e-12 {
			t.Errorf("%s = %v, want 1", name, got.Value)
		}
	}

	peaks := NewPeakDetector(rate).Detect(sinusoid(2000, 1, 100, 100), rate/2)
	table := syntheticTable(t, 10, 1)
	series, err := BeatwiseSeries(table, peaks, MetricPdPa, DefaultSeriesConfig())
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range series {
		if p.Value != 1 {
			t.Errorf("beat at %.3fs PdPa = %v, want 1", p.Time, p.Value)
		}
	}
}

func TestLandmarkIndicesNeedBothLandmarks(t *testing.T) {
	ens := buildRest(t, 0.8)
	notch := 0.1
	res, err := CalculateIndices(IndexInput{Rest: ens, RestLandmarks: Landmarks{Notch: &notch}})
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"Systolic Pa", "Wavefree Pa", "iFR", "Wavefree flow"} {
		if _, ok := lookupAny(res, name); ok {
			t.Errorf("%s reported without end-diastole", name)
		}
	}
	if _, ok := res.Find("PdPa", StateRest, ""); !ok {
		t.Errorf("whole-cycle PdPa missing")
	}

	res, err = CalculateIndices(IndexInput{Rest: ens, RestLandmarks: NewLandmarks(0.1, 0.4)})
	if err != nil {
		t.Fatal(err)
	}
	ifr, ok := res.Find("iFR", StateRest, "")
	if !ok {
		t.Fatal("iFR missing with both landmarks")
	}
	if math.Abs(ifr.Value-0.8) > 1e-9 {
		t.Errorf("iFR = %v, want 0.8", ifr.Value)
	}
	if _, ok := res.Find("Diastolic Pd", StateRest, PhaseMean); !ok {
		t.Errorf("diastolic Pd missing")
	}
}

func lookupAny(res *Results, name string) (IndexResult, bool) {
	for _, r := range res.All() {
		if r.Name == name {
			return r, true
		}
	}
	return IndexResult{}, false
}

func TestWaveFreeSpan(t *testing.T) {
	ens := buildRest(t, 0.9)
	if got := ens.Time[len(ens.Time)-1]; math.Abs(got-0.995) > 1e-9 {
		t.Fatalf("ensemble ends at %v, want 0.995", got)
	}
	start, end, err := WaveFreeSpan(ens, NewLandmarks(0.1, 0.4))
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(ens.Time[start]-0.175) > 1e-9 || math.Abs(ens.Time[end]-0.395) > 1e-9 {
		t.Errorf("wave-free span [%v, %v], want [0.175, 0.395]", ens.Time[start], ens.Time[end])
	}
}

func TestInvertedLandmarksGiveZero(t *testing.T) {
	ens := buildRest(t, 0.9)
	lm := NewLandmarks(0.4, 0.1)
	v, err := WaveFree(ens, parser.ChannelPa, PhaseMean, lm)
	if v != 0 || !errors.Is(err, ErrDegenerateInput) {
		t.Errorf("WaveFree = %v, %v; want 0 and degenerate input", v, err)
	}

	res, err := CalculateIndices(IndexInput{Rest: ens, RestLandmarks: lm})
	if err != nil {
		t.Fatal(err)
	}
	ifr, ok := res.Find("iFR", StateRest, "")
	if !ok || ifr.Value != 0 || ifr.Note == "" {
		t.Errorf("iFR = %+v, want 0 with a note", ifr)
	}
	if _, ok := res.Find("PdPa", StateRest, ""); !ok {
		t.Errorf("a degenerate index suppressed PdPa")
	}

	v, err = Systolic(ens, parser.ChannelFlow, PhaseMean, lm)
	if v != 0 || !errors.Is(err, ErrDegenerateInput) {
		t.Errorf("Systolic = %v, %v; want 0 and degenerate input", v, err)
	}
	for _, name := range []string{"Systolic Pa", "Systolic Pd"} {
		got, ok := res.Find(name, StateRest, PhaseMean)
		if !ok || got.Value != 0 || got.Note == "" {
			t.Errorf("%s = %+v, want 0 with a note", name, got)
		}
	}

	res, err = CalculateIndices(IndexInput{
		Rest: ens, RestLandmarks: lm,
		Hyperaemia: ens, HypLandmarks: NewLandmarks(0.1, 0.4),
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, ph := range phases {
		cfr, ok := res.Find("Systolic CFR", "", ph)
		if !ok || cfr.Value != 0 || cfr.Note == "" {
			t.Errorf("Systolic CFR %s = %+v, want 0 with a note", ph, cfr)
		}
	}
}

func TestMissingFlowSampleIsDegenerate(t *testing.T) {
	n := 200
	flow := sinusoid(n, 1, 20, 40)
	flow[84] = math.NaN()
	ens := &Ensemble{
		Beats: []Beat{{}},
		Time:  linspace(0, 0.995, n),
		Mean: map[parser.Channel][]float64{
			parser.ChannelPa:   sinusoid(n, 1, 20, 100),
			parser.ChannelPd:   sinusoid(n, 1, 15, 80),
			parser.ChannelFlow: flow,
		},
	}
	for _, ph := range phases {
		v, err := WholeCycle(ens, parser.ChannelFlow, ph)
		if v != 0 || !errors.Is(err, ErrDegenerateInput) {
			t.Errorf("WholeCycle flow %s = %v, %v; want 0 and degenerate input", ph, v, err)
		}
	}

	res, err := CalculateIndices(IndexInput{Rest: ens})
	if err != nil {
		t.Fatal(err)
	}
	for _, ph := range phases {
		got, ok := res.Find("Flow", StateRest, ph)
		if !ok || got.Value != 0 || got.Note == "" {
			t.Errorf("Flow %s = %+v, want 0 with a note", ph, got)
		}
	}
	if pd, ok := res.Find("Pd", StateRest, PhaseMean); !ok || math.IsNaN(pd.Value) || pd.Note != "" {
		t.Errorf("Pd = %+v, want an unaffected value", pd)
	}
}

func TestZeroFlowResistanceIsDegenerate(t *testing.T) {
	n := 200
	ens := &Ensemble{
		Beats: []Beat{{}},
		Time:  linspace(0, 0.995, n),
		Mean: map[parser.Channel][]float64{
			parser.ChannelPa:   sinusoid(n, 1, 20, 100),
			parser.ChannelPd:   sinusoid(n, 1, 15, 80),
			parser.ChannelFlow: make([]float64, n),
		},
	}
	res, err := CalculateIndices(IndexInput{Rest: ens})
	if err != nil {
		t.Fatalf("zero flow must not fail the batch: %v", err)
	}
	for _, name := range []string{"BSR", "BMR"} {
		got, ok := res.Find(name, StateRest, PhasePeak)
		if !ok {
			t.Fatalf("%s peak missing", name)
		}
		if got.Value != 0 || got.Note == "" {
			t.Errorf("%s peak = %+v, want 0 with a note", name, got)
		}
	}
	if _, ok := res.Find("PdPa", StateRest, ""); !ok {
		t.Errorf("PdPa missing next to degenerate resistances")
	}
}

func TestCalculateIndicesBothStates(t *testing.T) {
	rest := buildRest(t, 0.95)
	hypTable := syntheticTable(t, 10, 0.75)
	hyp, err := defaultEnsembler().Build(hypTable, Window{Role: StateHyperaemia, From: 0, To: 10})
	if err != nil {
		t.Fatal(err)
	}
	in := IndexInput{
		Rest:          rest,
		Hyperaemia:    hyp,
		RestLandmarks: NewLandmarks(0.35, 0.9),
		HypLandmarks:  NewLandmarks(0.35, 0.9),
	}
	res, err := CalculateIndices(in)
	if err != nil {
		t.Fatal(err)
	}
	ffr, ok := res.Find("FFR", StateHyperaemia, "")
	if !ok || math.Abs(ffr.Value-0.75) > 1e-9 {
		t.Errorf("FFR = %+v, want 0.75", ffr)
	}
	cfr, ok := res.Find("CFR", "", PhaseMean)
	if !ok || math.Abs(cfr.Value-1) > 1e-9 {
		t.Errorf("CFR = %+v, want 1 for identical flow", cfr)
	}
	for _, name := range []string{"Systolic CFR", "Wavefree CFR"} {
		for _, ph := range []Phase{PhaseMean, PhasePeak} {
			if _, ok := res.Find(name, "", ph); !ok {
				t.Errorf("%s %s missing", name, ph)
			}
		}
	}
	if _, ok := res.Find("iFR (hyp.)", StateHyperaemia, ""); !ok {
		t.Errorf("iFR (hyp.) missing")
	}
	if len(res.Resistances) != 8 {
		t.Errorf("resistances = %d, want 8", len(res.Resistances))
	}

	again, err := CalculateIndices(in)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(res, again) {
		t.Errorf("recomputation on unchanged inputs differs")
	}
}

func TestInvalidPhaseIsArgumentError(t *testing.T) {
	ens := buildRest(t, 0.9)
	_, err := WholeCycle(ens, parser.ChannelPa, Phase("median"))
	var argErr *ArgumentError
	if !errors.As(err, &argErr) || argErr.Arg != "phase" {
		t.Errorf("err = %v, want phase ArgumentError", err)
	}
	if _, err := ParsePhase("max"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("ParsePhase accepted an unknown selector")
	}
}

func TestBeatwisePdPaScenario(t *testing.T) {
	pa := sinusoid(2000, 1, 100, 100)
	table, err := parser.NewWaveformTable(rate, map[parser.Channel][]float64{
		parser.ChannelPa:   pa,
		parser.ChannelPd:   scaled(pa, 0.9),
		parser.ChannelFlow: sinusoid(2000, 1, 20, 40),
	})
	if err != nil {
		t.Fatal(err)
	}
	pd, _ := table.Channel(parser.ChannelPd)
	peaks := NewPeakDetector(rate).Detect(pd, rate/2)
	if len(peaks) != 10 {
		t.Fatalf("detected %d beats on a 10 s 1 Hz trace, want 10", len(peaks))
	}
	series, err := BeatwiseSeries(table, peaks, MetricPdPa, DefaultSeriesConfig())
	if err != nil {
		t.Fatal(err)
	}
	if len(series) != len(peaks)-1 {
		t.Fatalf("series has %d points, want %d", len(series), len(peaks)-1)
	}
	for _, p := range series {
		if math.Abs(p.Value-0.9) > 1e-9 {
			t.Errorf("PdPa at %.3fs = %v, want 0.9", p.Time, p.Value)
		}
	}
	times := table.Time()
	if series[0].Time != times[peaks[1]-1] {
		t.Errorf("first point at %v, want %v", series[0].Time, times[peaks[1]-1])
	}
}

func TestBeatwiseResistances(t *testing.T) {
	n := 600
	pa := make([]float64, n)
	pd := make([]float64, n)
	flow := make([]float64, n)
	for i := range pa {
		pa[i], pd[i], flow[i] = 100, 80, 10
	}
	flow[50] = 20
	for i := 400; i < 600; i++ {
		flow[i] = 0
	}
	table, err := parser.NewWaveformTable(rate, map[parser.Channel][]float64{
		parser.ChannelPa: pa, parser.ChannelPd: pd, parser.ChannelFlow: flow,
	})
	if err != nil {
		t.Fatal(err)
	}
	peaks := []int{0, 200, 400, 599}

	tests := []struct {
		metric Metric
		phase  Phase
		want   []float64
	}{
		{MetricMicrovascularResistance, PhasePeak, []float64{4, 8, 0}},
		{MetricMicrovascularResistance, PhaseMean, []float64{80 / 10.05, 8, 0}},
		{MetricStenosisResistance, PhasePeak, []float64{1, 2, 0}},
	}
	for _, tt := range tests {
		cfg := DefaultSeriesConfig()
		cfg.FlowPhase = tt.phase
		got, err := BeatwiseSeries(table, peaks, tt.metric, cfg)
		if err != nil {
			t.Fatalf("%s: %v", tt.metric, err)
		}
		if len(got) != len(tt.want) {
			t.Fatalf("%s: %d points, want %d", tt.metric, len(got), len(tt.want))
		}
		for i, w := range tt.want {
			if math.Abs(got[i].Value-w) > 1e-9 {
				t.Errorf("%s %s beat %d = %v, want %v", tt.metric, tt.phase, i, got[i].Value, w)
			}
		}
	}

	if _, err := BeatwiseSeries(table, peaks, Metric("ifr"), DefaultSeriesConfig()); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("unknown metric accepted: %v", err)
	}
}

func TestBeatwisePdPaClipped(t *testing.T) {
	pa := sinusoid(1000, 1, 1, 1)
	table, err := parser.NewWaveformTable(rate, map[parser.Channel][]float64{
		parser.ChannelPa: pa,
		parser.ChannelPd: scaled(pa, 10),
	})
	if err != nil {
		t.Fatal(err)
	}
	got, err := BeatwiseSeries(table, []int{50, 250, 450}, MetricPdPa, DefaultSeriesConfig())
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range got {
		if p.Value != 4 {
			t.Errorf("PdPa = %v, want clipped to 4", p.Value)
		}
	}
}

func TestSavitzkyGolayPreservesCubic(t *testing.T) {
	y := make([]float64, 40)
	for i := range y {
		x := float64(i)
		y[i] = 0.01*x*x*x - 0.2*x*x + x + 2
	}
	got, err := SavitzkyGolay(y, DefaultSmoothWindow, DefaultSmoothOrder)
	if err != nil {
		t.Fatal(err)
	}
	for i := range y {
		if math.Abs(got[i]-y[i]) > 1e-6 {
			t.Errorf("sample %d = %v, want %v", i, got[i], y[i])
		}
	}
	if _, err := SavitzkyGolay(y, 16, 3); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("even window accepted")
	}
}

func TestSmoothSeriesTooFewBeats(t *testing.T) {
	points := []Point{{1, 0.8}, {2, 0.9}, {3, 1.0}}
	got, err := SmoothSeries(points, DefaultSmoothWindow, DefaultSmoothOrder)
	if err != nil {
		t.Fatalf("SmoothSeries: %v", err)
	}
	for i, p := range got {
		if p.Time != points[i].Time || math.Abs(p.Value-0.9) > 1e-12 {
			t.Errorf("point %d = %+v, want constant 0.9", i, p)
		}
	}
	empty, err := SmoothSeries(nil, DefaultSmoothWindow, DefaultSmoothOrder)
	if err != nil || len(empty) != 0 {
		t.Errorf("empty series = %v, %v", empty, err)
	}
}
