package parser

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FormatKind distinguishes the two recorder file families.
type FormatKind int

const (
	FormatUnknown FormatKind = iota
	FormatBinary
	FormatText
)

func (k FormatKind) String() string {
	switch k {
	case FormatBinary:
		return "binary"
	case FormatText:
		return "text"
	default:
		return "unknown"
	}
}

// FileFormat is resolved once per load: Binary, or Text with the header
// variant that was matched.
type FileFormat struct {
	Kind    FormatKind
	Variant *HeaderVariant // Set for FormatText once the header row is matched
}

func (f FileFormat) String() string {
	if f.Kind == FormatText && f.Variant != nil {
		return fmt.Sprintf("text(%s)", f.Variant.Name)
	}
	return f.Kind.String()
}

// Study is everything a reader produces for one recorder file.
type Study struct {
	Path         string
	Format       FileFormat
	Table        *WaveformTable
	Demographics Demographics
	PaSource     PaSource
	Warnings     []string // Non-fatal observations made while parsing
}

// StudyReader is the capability shared by both format strategies.
type StudyReader interface {
	Read(path string) (*Study, error)
}

// ReadOptions are the caller-selectable parse parameters.
type ReadOptions struct {
	PaSource        PaSource
	PdOffsetSamples int // Text files only: shift pd backward by this many samples
}

// DetectFormat picks the strategy from the file extension.
func DetectFormat(path string) (FileFormat, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".sdy":
		return FileFormat{Kind: FormatBinary}, nil
	case ".txt":
		return FileFormat{Kind: FormatText}, nil
	default:
		return FileFormat{}, &FormatError{Path: path, Reason: fmt.Sprintf("unsupported file extension %q", filepath.Ext(path))}
	}
}

// NewReader returns the reader for a detected format.
func NewReader(format FileFormat, opts ReadOptions) (StudyReader, error) {
	switch format.Kind {
	case FormatBinary:
		return &BinaryStudyReader{PaSource: opts.PaSource}, nil
	case FormatText:
		return &DelimitedTextReader{PdOffsetSamples: opts.PdOffsetSamples, PaSource: opts.PaSource}, nil
	default:
		return nil, fmt.Errorf("no reader for format %s", format)
	}
}

// ReadStudy detects the format of path and parses it.
func ReadStudy(path string, opts ReadOptions) (*Study, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}
	reader, err := NewReader(format, opts)
	if err != nil {
		return nil, err
	}
	return reader.Read(path)
}

func openStudyFile(path string) (*os.File, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &MissingFileError{Path: path, Err: err}
		}
		return nil, fmt.Errorf("failed to open study file: %w", err)
	}
	return file, nil
}

func normalisePaSource(src PaSource) PaSource {
	if src == "" {
		return PaPhysio
	}
	return src
}
