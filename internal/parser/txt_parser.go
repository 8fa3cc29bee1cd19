package parser

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// headerMarker identifies the column-heading row of a text export.
const headerMarker = "RWave"

// placeholder is used for preamble fields that could not be extracted.
const placeholder = "NA"

// HeaderVariant is one historically observed column layout of the text format.
type HeaderVariant struct {
	Name           string
	Headers        []string  // Accepted heading rows, compared verbatim
	Columns        []Channel // Channel name per tab-separated column
	NumericColumns int       // Leading columns converted to numbers
}

// KnownHeaderVariants is the closed set of text layouts. A heading row that
// matches none of them is a FormatError; near misses are not guessed at.
var KnownHeaderVariants = []HeaderVariant{
	{
		Name:           "variant1",
		Headers:        []string{"Time\tPa\tPd\tECG\tIPV\tPv\tRWave\tTm"},
		Columns:        []Channel{ChannelRecordedTime, ChannelPa, ChannelPd, ChannelECG, ChannelFlow, ChannelPv, ChannelRWave, ChannelTimestamp},
		NumericColumns: 5,
	},
	{
		Name:           "variant2",
		Headers:        []string{"Time[s]\tPa[mmHg]\tPa_Trans[mmHg]\tPd[mmHg]\tECG[V]\tIPV[cm/s]\tPv[mmHg]\tTimeStamp[s]\tRWave"},
		Columns:        []Channel{ChannelRecordedTime, ChannelPa, ChannelPaTrans, ChannelPd, ChannelECG, ChannelFlow, ChannelPv, ChannelTimestamp, ChannelRWave},
		NumericColumns: 7,
	},
	{
		Name:           "variant3",
		Headers:        []string{"Time\tPa\tPd\tECG\tIPV\tPv\tRWave\t", "Time\tPa\tPd\tECG\tIPV\tPv\tRWave"},
		Columns:        []Channel{ChannelRecordedTime, ChannelPa, ChannelPd, ChannelECG, ChannelFlow, ChannelPv, ChannelRWave},
		NumericColumns: 5,
	},
}

var (
	patientIDPattern  = regexp.MustCompile(`(?i)patient\s*(?:id)?\s*[:=]?\s*([A-Za-z0-9_\-]+)`)
	studyDatePattern  = regexp.MustCompile(`(?i)study\s*date\s*[:=]?\s*(\d{1,4}[./\-]\d{1,2}[./\-]\d{1,4}(?:\s+\d{1,2}:\d{2}(?::\d{2})?)?)`)
	exportDatePattern = regexp.MustCompile(`(?i)export(?:ed)?\s*(?:date)?\s*[:=]?\s*(\d{1,4}[./\-]\d{1,2}[./\-]\d{1,4}(?:\s+\d{1,2}:\d{2}(?::\d{2})?)?)`)
)

// MatchHeaderVariant returns the variant whose heading row equals line exactly.
func MatchHeaderVariant(line string) (*HeaderVariant, bool) {
	for i := range KnownHeaderVariants {
		for _, h := range KnownHeaderVariants[i].Headers {
			if line == h {
				return &KnownHeaderVariants[i], true
			}
		}
	}
	return nil, false
}

// DelimitedTextReader parses the tab-separated recorder export.
type DelimitedTextReader struct {
	PdOffsetSamples int // Shift pd backward by this many samples, zero-padding the tail
	PaSource        PaSource
}

// Read parses a text study.
func (r *DelimitedTextReader) Read(path string) (*Study, error) {
	file, err := openStudyFile(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return r.parse(path, file)
}

func (r *DelimitedTextReader) parse(path string, src io.Reader) (*Study, error) {
	study := &Study{Path: path, PaSource: normalisePaSource(r.PaSource)}

	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var (
		firstLine     string
		lineNo        int
		variant       *HeaderVariant
		headingLineNo = -1
		numeric       [][]float64
		text          [][]string
	)

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if lineNo == 0 {
			firstLine = line
		}
		lineNo++

		if variant == nil {
			if !strings.Contains(line, headerMarker) {
				continue
			}
			matched, ok := MatchHeaderVariant(line)
			if !ok {
				return nil, &FormatError{Path: path, Header: line, Reason: "heading row matches no known layout"}
			}
			variant = matched
			headingLineNo = lineNo - 1
			numeric = make([][]float64, variant.NumericColumns)
			text = make([][]string, len(variant.Columns)-variant.NumericColumns)
			continue
		}

		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		for i := range variant.Columns {
			raw := ""
			if i < len(fields) {
				raw = fields[i]
			}
			if i >= variant.NumericColumns {
				// Marker columns stay opaque text; their content varies by firmware.
				text[i-variant.NumericColumns] = append(text[i-variant.NumericColumns], raw)
				continue
			}
			v, err := parseDecimal(raw)
			if err != nil {
				return nil, &FormatError{Path: path, Reason: fmt.Sprintf("line %d column %s: %v", lineNo, variant.Columns[i], err)}
			}
			numeric[i] = append(numeric[i], v)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read text study %s: %w", path, err)
	}
	if variant == nil {
		return nil, &FormatError{Path: path, Reason: "failed to find heading row"}
	}
	study.Format = FileFormat{Kind: FormatText, Variant: variant}

	table := newTable(SampleRate)
	for i := 0; i < variant.NumericColumns; i++ {
		if err := table.setNumeric(variant.Columns[i], numeric[i]); err != nil {
			return nil, err
		}
	}
	table.seal()
	for i, col := range text {
		if err := table.setText(variant.Columns[variant.NumericColumns+i], col); err != nil {
			return nil, err
		}
	}

	if r.PdOffsetSamples > 0 {
		pd, _ := table.Channel(ChannelPd)
		table.numeric[ChannelPd] = ShiftBackward(pd, r.PdOffsetSamples)
		// Flow is deliberately left unshifted.
	}

	if study.PaSource == PaTrans {
		if trans, ok := table.Channel(ChannelPaTrans); ok {
			physio, _ := table.Channel(ChannelPa)
			table.numeric[ChannelPaPhysio] = physio
			table.order = append(table.order, ChannelPaPhysio)
			pa := make([]float64, len(trans))
			copy(pa, trans)
			table.numeric[ChannelPa] = pa
		} else {
			study.Warnings = append(study.Warnings, "Warning: pa_trans requested but the file has no transduced pa column, using Pa.")
			study.PaSource = PaPhysio
		}
	}
	study.Table = table

	study.Demographics = Demographics{PatientID: placeholder, StudyDate: placeholder, ExportDate: placeholder}
	if headingLineNo > 0 {
		study.Demographics.PatientID = extractFirst(patientIDPattern, firstLine)
		study.Demographics.StudyDate = extractFirst(studyDatePattern, firstLine)
		study.Demographics.ExportDate = extractFirst(exportDatePattern, firstLine)
	}
	preamble := []struct{ name, value string }{
		{"patient id", study.Demographics.PatientID},
		{"study date", study.Demographics.StudyDate},
		{"export date", study.Demographics.ExportDate},
	}
	for _, field := range preamble {
		if field.value == placeholder {
			study.Warnings = append(study.Warnings, fmt.Sprintf("Warning: %s not found in preamble.", field.name))
		}
	}

	slog.Debug("text study parsed", "path", path, "variant", variant.Name, "samples", table.Len())
	return study, nil
}

// parseDecimal converts a field that may use a comma as decimal separator.
// Empty fields become NaN.
func parseDecimal(raw string) (float64, error) {
	s := strings.ReplaceAll(strings.TrimSpace(raw), ",", ".")
	if s == "" {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}

func extractFirst(re *regexp.Regexp, line string) string {
	if m := re.FindStringSubmatch(line); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return placeholder
}

// ShiftBackward moves samples offset positions earlier and zero-fills the tail.
func ShiftBackward(values []float64, offset int) []float64 {
	out := make([]float64, len(values))
	if offset <= 0 {
		copy(out, values)
		return out
	}
	if offset < len(values) {
		copy(out, values[offset:])
	}
	return out
}
