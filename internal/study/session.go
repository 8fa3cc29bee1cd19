package study

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/user/cophy_analyzer_go/internal/analysis"
	"github.com/user/cophy_analyzer_go/internal/annotations"
	"github.com/user/cophy_analyzer_go/internal/parser"
)

// Session is one loaded study together with the windows and landmarks the
// caller selected. It is never modified: every With* method returns a new
// session sharing the unchanged parts.
type Session struct {
	ID     uuid.UUID
	Study  *parser.Study
	Table  *parser.WaveformTable // Cleaned pressures
	Config Config

	rest, hyp     *analysis.Window
	restLm, hypLm analysis.Landmarks
}

// Load parses and cleans a study file and applies the labels stored next to
// it, if any. A failed load returns no session.
func Load(path string, cfg Config) (*Session, error) {
	labels, err := annotations.Load(path)
	if err != nil {
		return nil, err
	}
	return LoadWithLabels(path, cfg, labels)
}

// LoadWithLabels is Load with caller-supplied labels.
func LoadWithLabels(path string, cfg Config, labels *annotations.Labels) (*Session, error) {
	if labels == nil {
		labels = &annotations.Labels{}
	}
	s, err := open(path, cfg, labels.PaSource())
	if err != nil {
		return nil, err
	}
	s.ID = uuid.New()
	s.rest = labels.Window(analysis.StateRest)
	s.hyp = labels.Window(analysis.StateHyperaemia)
	s.restLm = labels.Landmarks(analysis.StateRest)
	s.hypLm = labels.Landmarks(analysis.StateHyperaemia)
	slog.Info("study loaded", "session", s.ID, "path", path, "format", s.Study.Format, "samples", s.Table.Len(), "labels", labels.Count())
	return s, nil
}

func open(path string, cfg Config, src parser.PaSource) (*Session, error) {
	st, err := parser.ReadStudy(path, parser.ReadOptions{PaSource: src, PdOffsetSamples: cfg.PdOffsetSamples})
	if err != nil {
		return nil, err
	}
	for _, w := range st.Warnings {
		slog.Warn(w, "path", path)
	}
	cleaned, err := analysis.CleanPressures(st.Table, cfg.Cleaner)
	if err != nil {
		return nil, fmt.Errorf("failed to clean %s: %w", path, err)
	}
	return &Session{Study: st, Table: cleaned, Config: cfg}, nil
}

func (s *Session) clone() *Session {
	c := *s
	return &c
}

// Window returns the window of a role, or nil.
func (s *Session) Window(role analysis.State) *analysis.Window {
	if role == analysis.StateHyperaemia {
		return s.hyp
	}
	return s.rest
}

// Landmarks returns the landmarks of a role.
func (s *Session) Landmarks(role analysis.State) analysis.Landmarks {
	if role == analysis.StateHyperaemia {
		return s.hypLm
	}
	return s.restLm
}

// WithWindow sets the [from, to) window of a role.
func (s *Session) WithWindow(role analysis.State, from, to float64) (*Session, error) {
	if to <= from {
		return nil, &analysis.ArgumentError{Arg: "window", Value: fmt.Sprintf("[%g, %g)", from, to)}
	}
	c := s.clone()
	w := &analysis.Window{Role: role, From: from, To: to}
	if role == analysis.StateHyperaemia {
		c.hyp = w
	} else {
		c.rest = w
	}
	return c, nil
}

// WithoutWindow clears the window of a role.
func (s *Session) WithoutWindow(role analysis.State) *Session {
	c := s.clone()
	if role == analysis.StateHyperaemia {
		c.hyp = nil
	} else {
		c.rest = nil
	}
	return c
}

// WithLandmarks replaces the landmarks of a role. Either may be nil.
func (s *Session) WithLandmarks(role analysis.State, lm analysis.Landmarks) *Session {
	c := s.clone()
	if role == analysis.StateHyperaemia {
		c.hypLm = lm
	} else {
		c.restLm = lm
	}
	return c
}

// WithPaSource re-parses the file with another pa channel, keeping the
// selected windows and landmarks.
func (s *Session) WithPaSource(src parser.PaSource) (*Session, error) {
	if src == s.Study.PaSource {
		return s, nil
	}
	n, err := open(s.Study.Path, s.Config, src)
	if err != nil {
		return nil, err
	}
	n.ID = s.ID
	n.rest, n.hyp, n.restLm, n.hypLm = s.rest, s.hyp, s.restLm, s.hypLm
	slog.Info("pa source changed", "session", s.ID, "from", s.Study.PaSource, "to", n.Study.PaSource)
	return n, nil
}

// Labels returns the session's selections in persistable form.
func (s *Session) Labels() *annotations.Labels {
	physio := s.Study.PaSource != parser.PaTrans
	l := &annotations.Labels{Pa: &physio}
	l.SetWindow(analysis.StateRest, s.rest)
	l.SetWindow(analysis.StateHyperaemia, s.hyp)
	l.SetLandmarks(analysis.StateRest, s.restLm)
	l.SetLandmarks(analysis.StateHyperaemia, s.hypLm)
	return l
}
