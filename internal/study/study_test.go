package study

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"testing"

	"github.com/user/cophy_analyzer_go/internal/analysis"
	"github.com/user/cophy_analyzer_go/internal/annotations"
	"github.com/user/cophy_analyzer_go/internal/parser"
)

const variant2Header = "Time[s]\tPa[mmHg]\tPa_Trans[mmHg]\tPd[mmHg]\tECG[V]\tIPV[cm/s]\tPv[mmHg]\tTimeStamp[s]\tRWave"

func decimal(v float64) string {
	return strings.ReplaceAll(strconv.FormatFloat(v, 'f', 4, 64), ".", ",")
}

// writeScenario writes a variant 2 text study: pa is a 1 Hz sinusoid around
// 100 mmHg with amplitude 100, pd = 0.9*pa and pa_trans = 1.02*pa.
func writeScenario(t *testing.T, samples int) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("Patient ID: P001 Study date: 12.03.2019 Export date: 13.03.2019\n")
	b.WriteString(variant2Header + "\n")
	for i := 0; i < samples; i++ {
		ts := float64(i) / parser.SampleRate
		pa := 100 + 100*math.Sin(2*math.Pi*ts)
		flow := 40 + 20*math.Sin(2*math.Pi*ts)
		fields := []string{decimal(ts), decimal(pa), decimal(1.02 * pa), decimal(0.9 * pa), "0", decimal(flow), "0", fmt.Sprintf("%d", i*5), ""}
		b.WriteString(strings.Join(fields, "\t") + "\n")
	}
	path := filepath.Join(t.TempDir(), "scenario.txt")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func unshiftedConfig() Config {
	cfg := DefaultConfig()
	cfg.PdOffsetSamples = 0
	return cfg
}

func TestRecomputeScenario(t *testing.T) {
	path := writeScenario(t, 2000)
	s, err := Load(path, unshiftedConfig())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Study.Demographics.PatientID != "P001" {
		t.Errorf("patient id = %q", s.Study.Demographics.PatientID)
	}
	s, err = s.WithWindow(analysis.StateRest, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	rep, err := Recompute(s)
	if err != nil {
		t.Fatalf("Recompute: %v", err)
	}

	if got := len(rep.Rest.Beats); got != 9 {
		t.Errorf("rest beats = %d, want 9", got)
	}
	pdpa, ok := rep.Results.Find("PdPa", analysis.StateRest, "")
	if !ok || math.Abs(pdpa.Value-0.9) > 1e-3 {
		t.Errorf("PdPa = %+v, want 0.9", pdpa)
	}
	if rep.Hyperaemia != nil {
		t.Errorf("no hyperaemia window was selected")
	}

	if len(rep.Trends) != len(TrendMetrics) {
		t.Fatalf("trends = %d, want %d", len(rep.Trends), len(TrendMetrics))
	}
	trend := rep.Trends[0]
	if trend.Metric != analysis.MetricPdPa || len(trend.Raw) != 9 {
		t.Fatalf("pdpa trend has %d points, want 9", len(trend.Raw))
	}
	for _, p := range trend.Raw {
		if math.Abs(p.Value-0.9) > 1e-3 {
			t.Errorf("beat at %.2fs PdPa = %v, want 0.9", p.Time, p.Value)
		}
	}
	if len(trend.Smoothed) != len(trend.Raw) {
		t.Errorf("smoothed trend length %d, want %d", len(trend.Smoothed), len(trend.Raw))
	}

	again, err := Recompute(s)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(rep.Results, again.Results) || !reflect.DeepEqual(rep.Trends, again.Trends) {
		t.Errorf("recompute on an unchanged session differs")
	}
}

func TestLandmarksFromSidecar(t *testing.T) {
	path := writeScenario(t, 2000)
	labels := &annotations.Labels{}
	labels.SetWindow(analysis.StateRest, &analysis.Window{From: 0, To: 10})
	labels.SetLandmarks(analysis.StateRest, analysis.NewLandmarks(0.1, 0.4))
	if err := annotations.Save(path, labels); err != nil {
		t.Fatal(err)
	}

	s, err := Load(path, unshiftedConfig())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	rep, err := Recompute(s)
	if err != nil {
		t.Fatal(err)
	}
	ifr, ok := rep.Results.Find("iFR", analysis.StateRest, "")
	if !ok || math.Abs(ifr.Value-0.9) > 1e-3 {
		t.Errorf("iFR = %+v, want 0.9", ifr)
	}

	cleared := s.WithLandmarks(analysis.StateRest, analysis.Landmarks{})
	rep, err = Recompute(cleared)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := rep.Results.Find("iFR", analysis.StateRest, ""); ok {
		t.Errorf("iFR reported without landmarks")
	}
	if !s.Landmarks(analysis.StateRest).Complete() {
		t.Errorf("clearing landmarks modified the original session")
	}
	if got := cleared.Labels().Count(); got != 1 {
		t.Errorf("labels of cleared session = %d, want 1 (rest window)", got)
	}
}

func TestSessionIsImmutable(t *testing.T) {
	s, err := Load(writeScenario(t, 600), unshiftedConfig())
	if err != nil {
		t.Fatal(err)
	}
	withHyp, err := s.WithWindow(analysis.StateHyperaemia, 0.5, 2.5)
	if err != nil {
		t.Fatal(err)
	}
	if s.Window(analysis.StateHyperaemia) != nil {
		t.Errorf("WithWindow modified the receiver")
	}
	if w := withHyp.Window(analysis.StateHyperaemia); w == nil || w.From != 0.5 || w.Role != analysis.StateHyperaemia {
		t.Errorf("hyperaemia window = %+v", w)
	}
	if withHyp.WithoutWindow(analysis.StateHyperaemia).Window(analysis.StateHyperaemia) != nil {
		t.Errorf("WithoutWindow kept the window")
	}
	if _, err := s.WithWindow(analysis.StateRest, 3, 1); !errors.Is(err, analysis.ErrInvalidArgument) {
		t.Errorf("inverted window accepted: %v", err)
	}
	if withHyp.ID != s.ID {
		t.Errorf("derived session should keep the study id")
	}
}

func TestWindowWithoutBeats(t *testing.T) {
	s, err := Load(writeScenario(t, 2000), unshiftedConfig())
	if err != nil {
		t.Fatal(err)
	}
	s, err = s.WithWindow(analysis.StateRest, 2.0, 2.3)
	if err != nil {
		t.Fatal(err)
	}
	rep, err := Recompute(s)
	if err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	if !rep.Rest.Empty() || rep.Rest.Rejected != 0 {
		t.Errorf("expected an empty rest ensemble")
	}
	if _, ok := rep.Results.Find("Pa", analysis.StateRest, analysis.PhaseMean); ok {
		t.Errorf("whole-cycle Pa reported for an empty ensemble")
	}
}

func TestWithPaSourceReparses(t *testing.T) {
	s, err := Load(writeScenario(t, 600), unshiftedConfig())
	if err != nil {
		t.Fatal(err)
	}
	s, _ = s.WithWindow(analysis.StateRest, 0, 3)
	trans, err := s.WithPaSource(parser.PaTrans)
	if err != nil {
		t.Fatalf("WithPaSource: %v", err)
	}
	if trans.Study.PaSource != parser.PaTrans {
		t.Fatalf("pa source = %s", trans.Study.PaSource)
	}
	orig, _ := s.Table.Channel(parser.ChannelPa)
	got, _ := trans.Table.Channel(parser.ChannelPa)
	if math.Abs(got[50]-1.02*orig[50]) > 1e-3 {
		t.Errorf("pa[50] = %v, want transduced %v", got[50], 1.02*orig[50])
	}
	if trans.Window(analysis.StateRest) == nil || trans.ID != s.ID {
		t.Errorf("re-parse lost the session selections")
	}
	if pa := trans.Labels().Pa; pa == nil || *pa {
		t.Errorf("labels should record the transduced pa")
	}
}

func TestDefaultPdOffset(t *testing.T) {
	path := writeScenario(t, 600)
	shifted, err := Load(path, DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	plain, err := Load(path, unshiftedConfig())
	if err != nil {
		t.Fatal(err)
	}
	pd, _ := shifted.Table.Channel(parser.ChannelPd)
	raw, _ := plain.Table.Channel(parser.ChannelPd)
	if pd[0] != raw[10] || pd[len(pd)-1] != 0 {
		t.Errorf("pd not shifted by 10 samples: pd[0]=%v raw[10]=%v tail=%v", pd[0], raw[10], pd[len(pd)-1])
	}
	flow, _ := shifted.Table.Channel(parser.ChannelFlow)
	rawFlow, _ := plain.Table.Channel(parser.ChannelFlow)
	if !reflect.DeepEqual(flow, rawFlow) {
		t.Errorf("flow must not be shifted")
	}
}

func TestLoadMissingFile(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "absent.sdy"), DefaultConfig())
	if s != nil || !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Load = %v, %v; want nil and not-exist", s, err)
	}
}
