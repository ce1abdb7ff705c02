// Package selection keeps the caller's ordered list of merge entries.
package selection

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/local/pdfweaver/internal/filetype"
	"github.com/local/pdfweaver/internal/weaver"
)

// List is an ordered, caller-owned sequence of entries. It is not safe for
// concurrent use.
type List struct {
	entries []weaver.Entry
}

// New returns a list holding an included entry per path, in order.
func New(paths ...string) *List {
	l := &List{}
	for _, p := range paths {
		l.entries = append(l.entries, weaver.NewEntry(p))
	}
	return l
}

// Len returns the number of entries.
func (l *List) Len() int { return len(l.entries) }

// Entries returns a copy of the entries in order.
func (l *List) Entries() []weaver.Entry {
	out := make([]weaver.Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Included returns how many entries are marked included.
func (l *List) Included() int {
	return len(weaver.Resolve(l.entries))
}

// AddFile appends path as an included entry. Files whose extension is not
// accepted are rejected with an UnsupportedFormatError.
func (l *List) AddFile(path string) error {
	if !filetype.Accepted(path) {
		return &weaver.UnsupportedFormatError{Path: path, Ext: filepath.Ext(path)}
	}
	l.entries = append(l.entries, weaver.NewEntry(path))
	return nil
}

// AddFolder appends every accepted regular file directly inside dir, sorted
// by name, and returns how many were added.
func (l *List) AddFolder(dir string) (int, error) {
	des, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read folder %s: %w", dir, err)
	}
	names := make([]string, 0, len(des))
	for _, de := range des {
		if !de.Type().IsRegular() {
			continue
		}
		if filetype.Accepted(de.Name()) {
			names = append(names, de.Name())
		}
	}
	sort.Strings(names)
	for _, n := range names {
		l.entries = append(l.entries, weaver.NewEntry(filepath.Join(dir, n)))
	}
	log.Debug().Str("dir", dir).Int("added", len(names)).Msg("added folder to selection")
	return len(names), nil
}

// MoveUp swaps entry i with its predecessor. It reports false when i is the
// first entry or out of range.
func (l *List) MoveUp(i int) bool {
	if i <= 0 || i >= len(l.entries) {
		return false
	}
	l.entries[i-1], l.entries[i] = l.entries[i], l.entries[i-1]
	return true
}

// MoveDown swaps entry i with its successor. It reports false when i is the
// last entry or out of range.
func (l *List) MoveDown(i int) bool {
	if i < 0 || i >= len(l.entries)-1 {
		return false
	}
	l.entries[i], l.entries[i+1] = l.entries[i+1], l.entries[i]
	return true
}

// Remove deletes entry i.
func (l *List) Remove(i int) bool {
	if i < 0 || i >= len(l.entries) {
		return false
	}
	l.entries = append(l.entries[:i], l.entries[i+1:]...)
	return true
}

// SetIncluded marks entry i included or excluded.
func (l *List) SetIncluded(i int, included bool) bool {
	if i < 0 || i >= len(l.entries) {
		return false
	}
	l.entries[i].Included = included
	return true
}

// Exclude marks each index excluded and returns the first out-of-range index as an error.
func (l *List) Exclude(indexes ...int) error {
	for _, i := range indexes {
		if !l.SetIncluded(i, false) {
			return fmt.Errorf("exclude index %d out of range [0,%d)", i, len(l.entries))
		}
	}
	return nil
}

// Merge runs the engine over the list. An empty selection short-circuits
// with weaver.ErrNoSelection and nothing is written.
func (l *List) Merge(eng *weaver.Engine, outputPath string) (*weaver.MergeResult, error) {
	if l.Included() == 0 {
		return nil, weaver.ErrNoSelection
	}
	return eng.MergeFiles(l.Entries(), outputPath)
}
