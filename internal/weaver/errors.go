package weaver

import (
	"errors"
	"fmt"
)

// ErrMissingFile marks an included entry whose path does not exist.
var ErrMissingFile = errors.New("file does not exist")

// ErrNoSelection is returned by callers that short-circuit on an empty selection.
var ErrNoSelection = errors.New("no files selected")

// UnsupportedFormatError is an existing entry whose extension is not recognized.
type UnsupportedFormatError struct {
	Path string
	Ext  string
}

func (e *UnsupportedFormatError) Error() string {
	if e.Ext == "" {
		return fmt.Sprintf("unsupported format: %s has no extension", e.Path)
	}
	return fmt.Sprintf("unsupported format %q: %s", e.Ext, e.Path)
}

// ProcessingError is an existing entry that could not be read or parsed as its claimed format.
type ProcessingError struct {
	Path string
	Err  error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("processing %s: %v", e.Path, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// WriteError means the output document could not be persisted.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// IsUnsupported checks if err is an UnsupportedFormatError
func IsUnsupported(err error) bool {
	var e *UnsupportedFormatError
	return errors.As(err, &e)
}

// IsProcessing checks if err is a ProcessingError
func IsProcessing(err error) bool {
	var e *ProcessingError
	return errors.As(err, &e)
}

// IsWrite checks if err is a WriteError
func IsWrite(err error) bool {
	var e *WriteError
	return errors.As(err, &e)
}
