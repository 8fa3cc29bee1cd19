package study

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/user/cophy_analyzer_go/internal/analysis"
	"github.com/user/cophy_analyzer_go/internal/parser"
)

// Trend is a beat-wise series and its smoothed counterpart.
type Trend struct {
	Metric   analysis.Metric
	Raw      []analysis.Point
	Smoothed []analysis.Point
}

// Report is everything derived from one session.
type Report struct {
	SessionID    uuid.UUID
	Path         string
	Format       parser.FileFormat
	PaSource     parser.PaSource
	Demographics parser.Demographics
	Table        *parser.WaveformTable

	Rest       *analysis.Ensemble // nil without a rest window
	Hyperaemia *analysis.Ensemble
	Results    *analysis.Results
	Trends     []Trend
	Warnings   []string
}

// Ensemble returns the ensemble of a role.
func (r *Report) Ensemble(role analysis.State) *analysis.Ensemble {
	if role == analysis.StateHyperaemia {
		return r.Hyperaemia
	}
	return r.Rest
}

// TrendMetrics lists the beat-wise trends in display order.
var TrendMetrics = []analysis.Metric{
	analysis.MetricPdPa,
	analysis.MetricMicrovascularResistance,
	analysis.MetricStenosisResistance,
}

// Recompute runs detection, ensembling, index calculation and the beat-wise
// trends from scratch. Only caller contract violations fail.
func Recompute(s *Session) (*Report, error) {
	rep := &Report{
		SessionID:    s.ID,
		Path:         s.Study.Path,
		Format:       s.Study.Format,
		PaSource:     s.Study.PaSource,
		Demographics: s.Study.Demographics,
		Table:        s.Table,
		Warnings:     append([]string(nil), s.Study.Warnings...),
	}

	ens := s.Config.ensembler()
	var err error
	if w := s.rest; w != nil {
		if rep.Rest, err = ens.Build(s.Table, *w); err != nil {
			return nil, fmt.Errorf("rest ensemble: %w", err)
		}
	}
	if w := s.hyp; w != nil {
		if rep.Hyperaemia, err = ens.Build(s.Table, *w); err != nil {
			return nil, fmt.Errorf("hyperaemia ensemble: %w", err)
		}
	}

	rep.Results, err = analysis.CalculateIndices(analysis.IndexInput{
		Rest:          rep.Rest,
		Hyperaemia:    rep.Hyperaemia,
		RestLandmarks: s.restLm,
		HypLandmarks:  s.hypLm,
	})
	if err != nil {
		return nil, err
	}

	rep.Trends, err = trends(s)
	if err != nil {
		return nil, err
	}
	slog.Info("recomputed study", "session", s.ID, "indices", len(rep.Results.All()), "trends", len(rep.Trends))
	return rep, nil
}

func trends(s *Session) ([]Trend, error) {
	ref, ok := s.Table.Channel(s.Config.TrendChannel)
	if !ok {
		slog.Warn("no trend reference channel", "channel", s.Config.TrendChannel)
		return nil, nil
	}
	peaks := s.Config.detector().Detect(ref, analysis.MinIntervalSamples(s.Config.SampleRate, s.Config.TrendMinRRSeconds))

	out := make([]Trend, 0, len(TrendMetrics))
	for _, m := range TrendMetrics {
		raw, err := analysis.BeatwiseSeries(s.Table, peaks, m, s.Config.Series)
		if errors.Is(err, analysis.ErrInsufficientData) {
			slog.Info("trend skipped", "metric", m, "err", err)
			continue
		}
		if err != nil {
			return nil, err
		}
		smoothed, err := analysis.SmoothSeries(raw, s.Config.SmoothWindow, s.Config.SmoothOrder)
		if err != nil {
			return nil, err
		}
		out = append(out, Trend{Metric: m, Raw: raw, Smoothed: smoothed})
	}
	return out, nil
}
