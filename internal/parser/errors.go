package parser

import (
	"fmt"
	"io/fs"
)

// FormatError reports a file whose layout or header is not recognised.
// It is fatal for the file: no partial study is returned alongside it.
type FormatError struct {
	Path   string
	Header string // Raw header text, when the failure concerns a header row
	Reason string
}

func (e *FormatError) Error() string {
	if e.Header != "" {
		return fmt.Sprintf("unable to process data format %q in file %s: %s", e.Header, e.Path, e.Reason)
	}
	return fmt.Sprintf("unable to process file %s: %s", e.Path, e.Reason)
}

// MissingFileError reports a study path that does not exist.
type MissingFileError struct {
	Path string
	Err  error
}

func (e *MissingFileError) Error() string {
	return fmt.Sprintf("study file not found: %s", e.Path)
}

func (e *MissingFileError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return fs.ErrNotExist
}
