package parser

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"golang.org/x/text/encoding/unicode"
)

// NumChannelsPerFrame is the width of one row of the binary sample grid.
// Column offsets below are only valid for this recorder layout.
const NumChannelsPerFrame = 1123

// demographicFieldBytes is the fixed width of each UTF-16 header text field.
const demographicFieldBytes = 512

// DemographicFields are the header text fields, in file order.
var DemographicFields = []string{
	"SURNAME", "FIRSTNAME", "MIDDLENAME", "SEX", "MRN", "CONSULTANT", "DOB", "PROCEDURE", "PROCEDURE_ID",
	"ACCESSION_NUMBER", "FFR", "FFR SUID", "REFERRING PHYSICIAN", "PATIENT HISTORY", "IVUS SUID",
	"DEPARTMENT", "INSTITUTION", "CATHLAB ID",
}

// BinaryColumns maps each logical channel to its column group inside a frame.
// Each frame holds len(group) consecutive samples of the channel.
var BinaryColumns = map[Channel][]int{
	ChannelPd:       {5, 7, 9, 11},
	ChannelPaTrans:  {12, 13, 14, 15},
	ChannelPaPhysio: {16, 17, 18, 19},
	ChannelECG:      {24, 26, 28, 30},
	ChannelFlow:     {32, 32, 33, 33},
	ChannelCalc1:    {34, 34, 35, 35},
	ChannelCalc2:    {36, 36, 37, 37},
	ChannelCalc3:    {38, 38, 39, 39},
}

// binaryChannelOrder fixes the column order of the resulting table.
var binaryChannelOrder = []Channel{
	ChannelPd, ChannelPaTrans, ChannelPaPhysio, ChannelECG, ChannelFlow, ChannelCalc1, ChannelCalc2, ChannelCalc3,
}

// HeaderBytes is the size of the fixed binary header preceding the samples.
var HeaderBytes = binary.Size(binaryHeader{}) + len(DemographicFields)*demographicFieldBytes

type binaryHeader struct {
	FileType  uint32
	Timestamp [2]uint32
	ExamType  int32
}

// BinaryStudyReader parses the packed binary recorder format.
type BinaryStudyReader struct {
	PaSource PaSource
}

// Read parses a binary study. A trailing partial frame is dropped and noted
// in Study.Warnings rather than failing the load.
func (r *BinaryStudyReader) Read(path string) (*Study, error) {
	file, err := openStudyFile(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return r.parse(path, file)
}

func (r *BinaryStudyReader) parse(path string, src io.Reader) (*Study, error) {
	study := &Study{
		Path:     path,
		Format:   FileFormat{Kind: FormatBinary},
		PaSource: normalisePaSource(r.PaSource),
	}

	demographics, err := readBinaryHeader(src)
	if err != nil {
		return nil, &FormatError{Path: path, Reason: fmt.Sprintf("truncated header: %v", err)}
	}
	study.Demographics = demographics

	raw, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("failed to read sample grid of %s: %w", path, err)
	}
	if len(raw)%2 != 0 {
		study.Warnings = append(study.Warnings, "Warning: odd trailing byte after sample grid ignored.")
		raw = raw[:len(raw)-1]
	}
	totalSamples := len(raw) / 2
	frames := totalSamples / NumChannelsPerFrame
	if remainder := totalSamples % NumChannelsPerFrame; remainder != 0 {
		study.Warnings = append(study.Warnings, fmt.Sprintf("Warning: %d samples do not fill a %d-channel frame, truncated to %d frames.", remainder, NumChannelsPerFrame, frames))
	}
	if frames == 0 {
		return nil, &FormatError{Path: path, Reason: "no complete sample frames after header"}
	}

	table := newTable(SampleRate)
	for _, name := range binaryChannelOrder {
		if err := table.setNumeric(name, extractColumns(raw, frames, BinaryColumns[name])); err != nil {
			return nil, err
		}
	}
	paSrc, ok := table.Channel(Channel(study.PaSource))
	if !ok {
		return nil, fmt.Errorf("unknown pa source %q", study.PaSource)
	}
	pa := make([]float64, len(paSrc))
	copy(pa, paSrc)
	if err := table.setNumeric(ChannelPa, pa); err != nil {
		return nil, err
	}
	table.seal()
	study.Table = table

	slog.Debug("binary study parsed", "path", path, "frames", frames, "samples", table.Len(), "exam_type", demographics.ExamType.String())
	return study, nil
}

func readBinaryHeader(src io.Reader) (Demographics, error) {
	var hdr binaryHeader
	if err := binary.Read(src, binary.LittleEndian, &hdr); err != nil {
		return Demographics{}, err
	}
	d := Demographics{
		Fields:     make(map[string]string, len(DemographicFields)),
		FileType:   hdr.FileType,
		Timestamp:  hdr.Timestamp,
		ExamType:   ExamType(hdr.ExamType),
		ExportDate: "NA (SDY file)",
	}
	buf := make([]byte, demographicFieldBytes)
	for _, name := range DemographicFields {
		if _, err := io.ReadFull(src, buf); err != nil {
			return Demographics{}, fmt.Errorf("field %s: %w", name, err)
		}
		value, err := decodeUTF16Field(buf)
		if err != nil {
			return Demographics{}, fmt.Errorf("field %s: %w", name, err)
		}
		d.Fields[name] = value
	}
	d.PatientID = d.Fields["MRN"]
	d.StudyDate = fmt.Sprintf("%d %d", hdr.Timestamp[0], hdr.Timestamp[1])
	return d, nil
}

func decodeUTF16Field(b []byte) (string, error) {
	decoded, err := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder().Bytes(b)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(strings.ReplaceAll(string(decoded), "\x00", "")), nil
}

// extractColumns flattens a column group of the (frames, NumChannelsPerFrame)
// little-endian uint16 grid in row-major order.
func extractColumns(raw []byte, frames int, cols []int) []float64 {
	out := make([]float64, 0, frames*len(cols))
	for f := 0; f < frames; f++ {
		rowStart := f * NumChannelsPerFrame
		for _, c := range cols {
			off := (rowStart + c) * 2
			out = append(out, float64(binary.LittleEndian.Uint16(raw[off:off+2])))
		}
	}
	return out
}
