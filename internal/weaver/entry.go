// Package weaver is the merge engine: it resolves an ordered selection of
// entries, turns each existing entry into PDF pages and writes the
// concatenation to a single output document.
package weaver

import "path/filepath"

// Entry is one candidate input supplied by the caller.
type Entry struct {
	Included    bool   `json:"included"`
	DisplayName string `json:"name"`
	Path        string `json:"path"`
}

// NewEntry returns an included entry whose display name is the base of path.
func NewEntry(path string) Entry {
	return Entry{Included: true, DisplayName: filepath.Base(path), Path: path}
}

// classifyName is the name used for extension dispatch.
func (e Entry) classifyName() string {
	if e.DisplayName != "" {
		return e.DisplayName
	}
	return filepath.Base(e.Path)
}

// Status is the outcome code of one merge call.
type Status string

const (
	StatusSuccess Status = "success"
	// StatusPartial means the output was written but unreadable inputs were skipped.
	StatusPartial Status = "partial"
	StatusFailure Status = "failure"
)

// MergeResult is returned by every MergeFiles call.
type MergeResult struct {
	Status           Status   `json:"status"`
	OutputPath       string   `json:"output_path"`
	Pages            int      `json:"pages"`
	MissingPaths     []string `json:"missing_paths"`
	UnsupportedPaths []string `json:"unsupported_paths"`
	FailedPaths      []string `json:"failed_paths"`
	Err              error    `json:"-"`
}

func newResult(outputPath string) *MergeResult {
	return &MergeResult{
		Status:           StatusSuccess,
		OutputPath:       outputPath,
		MissingPaths:     []string{},
		UnsupportedPaths: []string{},
		FailedPaths:      []string{},
	}
}

// OK reports whether the output document was written.
func (r *MergeResult) OK() bool { return r.Status != StatusFailure }

// Skipped reports whether any included entry did not contribute pages.
func (r *MergeResult) Skipped() bool {
	return len(r.MissingPaths)+len(r.UnsupportedPaths)+len(r.FailedPaths) > 0
}
