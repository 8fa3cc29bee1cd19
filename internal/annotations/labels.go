package annotations

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/user/cophy_analyzer_go/internal/analysis"
	"github.com/user/cophy_analyzer_go/internal/parser"
)

// SidecarSuffix is appended to the study file name to locate its labels.
const SidecarSuffix = ".cph.json"

// Labels is the persisted annotation mapping of one study. Absent keys are
// nil. Pa true selects the physiological pa channel.
type Labels struct {
	Pa              *bool       `json:"pa,omitempty"`
	RangeRest       *[2]float64 `json:"range_rest,omitempty"`
	RangeHyp        *[2]float64 `json:"range_hyp,omitempty"`
	NotchRest       *float64    `json:"notch_rest,omitempty"`
	NotchHyp        *float64    `json:"notch_hyp,omitempty"`
	EndDiastoleRest *float64    `json:"enddiastole_rest,omitempty"`
	EndDiastoleHyp  *float64    `json:"enddiastole_hyp,omitempty"`
}

// SidecarPath returns the label file path for a study file.
func SidecarPath(studyPath string) string {
	return studyPath + SidecarSuffix
}

// Load reads the labels stored next to a study. A missing file yields empty
// labels.
func Load(studyPath string) (*Labels, error) {
	path := SidecarPath(studyPath)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Labels{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read labels: %w", err)
	}
	var labels Labels
	if err := json.Unmarshal(data, &labels); err != nil {
		return nil, fmt.Errorf("failed to decode labels %s: %w", path, err)
	}
	return &labels, nil
}

// Save writes the labels next to a study, replacing any previous file.
func Save(studyPath string, labels *Labels) error {
	data, err := json.MarshalIndent(labels, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode labels: %w", err)
	}
	if err := os.WriteFile(SidecarPath(studyPath), data, 0o644); err != nil {
		return fmt.Errorf("failed to write labels: %w", err)
	}
	return nil
}

// PaSource maps the pa flag onto a channel selection.
func (l *Labels) PaSource() parser.PaSource {
	if l.Pa != nil && !*l.Pa {
		return parser.PaTrans
	}
	return parser.PaPhysio
}

// Window returns the window of a role, or nil when unset.
func (l *Labels) Window(role analysis.State) *analysis.Window {
	r := l.RangeRest
	if role == analysis.StateHyperaemia {
		r = l.RangeHyp
	}
	if r == nil {
		return nil
	}
	from, to := r[0], r[1]
	if from > to {
		from, to = to, from
	}
	return &analysis.Window{Role: role, From: from, To: to}
}

// Landmarks returns the notch and end-diastole of a role.
func (l *Labels) Landmarks(role analysis.State) analysis.Landmarks {
	if role == analysis.StateHyperaemia {
		return analysis.Landmarks{Notch: l.NotchHyp, EndDiastole: l.EndDiastoleHyp}
	}
	return analysis.Landmarks{Notch: l.NotchRest, EndDiastole: l.EndDiastoleRest}
}

// SetWindow stores or clears (w == nil) the window of a role.
func (l *Labels) SetWindow(role analysis.State, w *analysis.Window) {
	var r *[2]float64
	if w != nil {
		r = &[2]float64{w.From, w.To}
	}
	if role == analysis.StateHyperaemia {
		l.RangeHyp = r
		return
	}
	l.RangeRest = r
}

// SetLandmarks stores the landmarks of a role.
func (l *Labels) SetLandmarks(role analysis.State, lm analysis.Landmarks) {
	if role == analysis.StateHyperaemia {
		l.NotchHyp, l.EndDiastoleHyp = lm.Notch, lm.EndDiastole
		return
	}
	l.NotchRest, l.EndDiastoleRest = lm.Notch, lm.EndDiastole
}

// Count returns the number of set labels, not counting the pa flag.
func (l *Labels) Count() int {
	n := 0
	for _, set := range []bool{
		l.RangeRest != nil, l.RangeHyp != nil,
		l.NotchRest != nil, l.NotchHyp != nil,
		l.EndDiastoleRest != nil, l.EndDiastoleHyp != nil,
	} {
		if set {
			n++
		}
	}
	return n
}

// StudyFile is a recorder file found in a study folder.
type StudyFile struct {
	Path   string
	Labels int
}

func (s StudyFile) String() string {
	return fmt.Sprintf("%s - %d labels", s.Path, s.Labels)
}

// ListStudies returns the .txt and .sdy files of dir with their label counts,
// sorted by path. Unreadable sidecars count as zero labels.
func ListStudies(dir string) ([]StudyFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list study folder: %w", err)
	}
	var files []StudyFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".txt" && ext != ".sdy" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		count := 0
		if labels, err := Load(path); err == nil {
			count = labels.Count()
		}
		files = append(files, StudyFile{Path: path, Labels: count})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}
