package parser

import (
	"fmt"
	"math"
	"sort"
)

// SampleRate is the fixed acquisition rate of both recorder formats (Hz).
const SampleRate = 200

// Channel names a column of the canonical waveform table.
type Channel string

const (
	ChannelPa       Channel = "pa"
	ChannelPd       Channel = "pd"
	ChannelFlow     Channel = "flow"
	ChannelECG      Channel = "ecg"
	ChannelPaTrans  Channel = "pa_trans"
	ChannelPaPhysio Channel = "pa_physio"
	ChannelPv       Channel = "pv"
	ChannelCalc1    Channel = "calc1"
	ChannelCalc2    Channel = "calc2"
	ChannelCalc3    Channel = "calc3"

	// Columns that exist only in the text format.
	ChannelRecordedTime Channel = "time"
	ChannelTimestamp    Channel = "timestamp"
	ChannelRWave        Channel = "rwave"
)

// PaSource selects which recorded channel becomes the canonical pa channel.
type PaSource string

const (
	PaPhysio PaSource = "pa_physio" // Default
	PaTrans  PaSource = "pa_trans"
)

// ExamType is the raw exam-type code stored in the binary header.
type ExamType int32

var examTypeLabels = map[ExamType]string{
	3: "Pressure",
	4: "Flow",
	5: "Combo",
}

// String returns the label for known codes and the raw code otherwise.
func (e ExamType) String() string {
	if label, ok := examTypeLabels[e]; ok {
		return label
	}
	return fmt.Sprintf("%d", int32(e))
}

// Demographics holds the patient/study fields attached to a loaded study.
// For text files only PatientID, StudyDate and ExportDate are filled.
type Demographics struct {
	Fields     map[string]string // Keyed by DemographicFields for binary files
	PatientID  string
	StudyDate  string
	ExportDate string
	ExamType   ExamType
	FileType   uint32
	Timestamp  [2]uint32
}

// WaveformTable is the canonical fixed-rate multi-channel recording.
// All numeric channels share the same length; time is index / SampleRate.
// A table is never mutated after a reader returns it.
type WaveformTable struct {
	SampleRate float64
	numeric    map[Channel][]float64
	text       map[Channel][]string
	order      []Channel
	length     int
}

// NewWaveformTable builds a table from equal-length numeric columns.
func NewWaveformTable(sampleRate float64, columns map[Channel][]float64) (*WaveformTable, error) {
	t := newTable(sampleRate)
	names := make([]Channel, 0, len(columns))
	for name := range columns {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	for _, name := range names {
		if err := t.setNumeric(name, columns[name]); err != nil {
			return nil, err
		}
	}
	t.seal()
	return t, nil
}

func newTable(sampleRate float64) *WaveformTable {
	return &WaveformTable{
		SampleRate: sampleRate,
		numeric:    make(map[Channel][]float64),
		text:       make(map[Channel][]string),
		length:     -1,
	}
}

func (t *WaveformTable) seal() {
	if t.length < 0 {
		t.length = 0
	}
}

func (t *WaveformTable) setNumeric(name Channel, values []float64) error {
	if t.length >= 0 && len(values) != t.length {
		return fmt.Errorf("channel %s has %d samples, expected %d", name, len(values), t.length)
	}
	t.length = len(values)
	if _, exists := t.numeric[name]; !exists {
		t.order = append(t.order, name)
	}
	t.numeric[name] = values
	return nil
}

func (t *WaveformTable) setText(name Channel, values []string) error {
	if t.length >= 0 && len(values) != t.length {
		return fmt.Errorf("text channel %s has %d rows, expected %d", name, len(values), t.length)
	}
	t.text[name] = values
	return nil
}

// Len returns the number of samples per channel.
func (t *WaveformTable) Len() int { return t.length }

// Duration returns the recording length in seconds.
func (t *WaveformTable) Duration() float64 {
	if t.SampleRate <= 0 {
		return 0
	}
	return float64(t.length) / t.SampleRate
}

// Time returns the sample time axis, i / SampleRate.
func (t *WaveformTable) Time() []float64 {
	out := make([]float64, t.length)
	for i := range out {
		out[i] = float64(i) / t.SampleRate
	}
	return out
}

// Channel returns the numeric samples of a channel. Callers must not modify
// the returned slice.
func (t *WaveformTable) Channel(name Channel) ([]float64, bool) {
	v, ok := t.numeric[name]
	return v, ok
}

// Has reports whether a numeric channel is present.
func (t *WaveformTable) Has(name Channel) bool {
	_, ok := t.numeric[name]
	return ok
}

// TextChannel returns an opaque text column (e.g. the R-wave marker).
func (t *WaveformTable) TextChannel(name Channel) ([]string, bool) {
	v, ok := t.text[name]
	return v, ok
}

// Channels lists the numeric channels in insertion order.
func (t *WaveformTable) Channels() []Channel {
	out := make([]Channel, len(t.order))
	copy(out, t.order)
	return out
}

// IndexAt returns the sample index nearest to time ts.
func (t *WaveformTable) IndexAt(ts float64) int {
	return NearestIndex(t.Time(), ts)
}

// WithChannel returns a copy of the table where one channel is replaced.
// The other columns are shared with the receiver.
func (t *WaveformTable) WithChannel(name Channel, values []float64) (*WaveformTable, error) {
	if len(values) != t.length {
		return nil, fmt.Errorf("replacement for channel %s has %d samples, expected %d", name, len(values), t.length)
	}
	out := &WaveformTable{
		SampleRate: t.SampleRate,
		numeric:    make(map[Channel][]float64, len(t.numeric)),
		text:       t.text,
		order:      append([]Channel(nil), t.order...),
		length:     t.length,
	}
	for k, v := range t.numeric {
		out.numeric[k] = v
	}
	if _, exists := out.numeric[name]; !exists {
		out.order = append(out.order, name)
	}
	out.numeric[name] = values
	return out, nil
}

// NearestIndex returns the index of the sorted slice element closest to value.
// Ties go to the upper index; values past the end map to the last element.
func NearestIndex(sorted []float64, value float64) int {
	idx := sort.SearchFloat64s(sorted, value)
	if idx > 0 && (idx == len(sorted) || math.Abs(value-sorted[idx-1]) < math.Abs(value-sorted[idx])) {
		return idx - 1
	}
	return idx
}
