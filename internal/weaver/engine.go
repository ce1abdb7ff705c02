package weaver

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/rs/zerolog/log"
)

const (
	DefaultPageSize    = "Letter"
	DefaultImageMargin = 80.0
	DefaultOutputName  = "output.pdf"
)

// Options configures an Engine.
type Options struct {
	// PageSize names the paper size used for image pages (pdfcpu paper size names).
	PageSize string
	// ImageMargin is subtracted from each page dimension to get the image fit box,
	// in points. Zero selects DefaultImageMargin.
	ImageMargin float64
	// SkipUnreadable records unparseable inputs in FailedPaths instead of aborting.
	SkipUnreadable bool
}

// Engine merges ordered entries into one PDF document. It is synchronous and
// keeps no state between calls; callers serialize calls sharing an output path.
type Engine struct {
	opts    Options
	adapter *Adapter
}

// New validates opts and returns an engine.
func New(opts Options) (*Engine, error) {
	if opts.PageSize == "" {
		opts.PageSize = DefaultPageSize
	}
	if opts.ImageMargin == 0 {
		opts.ImageMargin = DefaultImageMargin
	}
	adapter, err := NewAdapter(opts.PageSize, opts.ImageMargin)
	if err != nil {
		return nil, err
	}
	return &Engine{opts: opts, adapter: adapter}, nil
}

// MustNew is New for static options.
func MustNew(opts Options) *Engine {
	e, err := New(opts)
	if err != nil {
		panic(err)
	}
	return e
}

// MergeFiles merges the included entries, in order, into outputPath.
//
// Missing and unsupported entries are recorded on the result and skipped.
// Any fatal error leaves outputPath untouched, sets StatusFailure on the
// returned result and is also returned as err. The result is never nil.
func (e *Engine) MergeFiles(entries []Entry, outputPath string) (*MergeResult, error) {
	start := time.Now()
	res := newResult(outputPath)
	included := Resolve(entries)

	log.Info().
		Int("entries", len(entries)).
		Int("included", len(included)).
		Str("output", outputPath).
		Msg("loading and merging files")

	frags := make([]*Fragment, 0, len(included))
	for _, entry := range included {
		var frag *Fragment
		_, err := os.Stat(entry.Path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			log.Warn().Err(fmt.Errorf("%w: %v", ErrMissingFile, err)).Str("path", entry.Path).Msg("skipping missing file")
			res.MissingPaths = append(res.MissingPaths, entry.Path)
			continue
		case err != nil:
			err = &ProcessingError{Path: entry.Path, Err: err}
		default:
			log.Debug().Str("path", entry.Path).Str("name", entry.DisplayName).Msg("merging file")
			frag, err = e.adapter.Load(entry)
		}
		switch {
		case err == nil:
			frags = append(frags, frag)
		case IsUnsupported(err):
			log.Warn().Err(err).Str("path", entry.Path).Msg("skipping unsupported file")
			res.UnsupportedPaths = append(res.UnsupportedPaths, entry.Path)
		case IsProcessing(err) && e.opts.SkipUnreadable:
			log.Warn().Err(err).Str("path", entry.Path).Msg("skipping unreadable file")
			res.FailedPaths = append(res.FailedPaths, entry.Path)
		default:
			return e.fail(res, err)
		}
	}

	data, pages, err := e.assemble(frags)
	if err != nil {
		return e.fail(res, err)
	}

	log.Info().Str("output", outputPath).Int("pages", pages).Msg("saving merged document")
	if err := writeFileAtomic(outputPath, data); err != nil {
		return e.fail(res, &WriteError{Path: outputPath, Err: err})
	}

	res.Pages = pages
	if len(res.FailedPaths) > 0 {
		res.Status = StatusPartial
	}

	log.Info().
		Str("status", string(res.Status)).
		Str("output", outputPath).
		Int("pages", pages).
		Int("missing", len(res.MissingPaths)).
		Int("unsupported", len(res.UnsupportedPaths)).
		Int("failed", len(res.FailedPaths)).
		Dur("duration", time.Since(start)).
		Msg("merge finished")
	return res, nil
}

// assemble concatenates fragment pages in order.
func (e *Engine) assemble(frags []*Fragment) ([]byte, int, error) {
	if len(frags) == 0 {
		dim := e.adapter.PageDim()
		data, err := emptyDocument(&dim)
		return data, 0, err
	}

	pages := 0
	rsc := make([]io.ReadSeeker, 0, len(frags))
	for _, f := range frags {
		rsc = append(rsc, bytes.NewReader(f.Data))
		pages += f.Pages
	}

	var buf bytes.Buffer
	if err := api.MergeRaw(rsc, &buf, false, newConfiguration()); err != nil {
		return nil, 0, fmt.Errorf("merge %d fragments: %w", len(frags), err)
	}
	return buf.Bytes(), pages, nil
}

func (e *Engine) fail(res *MergeResult, err error) (*MergeResult, error) {
	log.Error().Err(err).Str("output", res.OutputPath).Msg("merge failed")
	res.Status = StatusFailure
	res.Err = err
	res.Pages = 0
	return res, err
}
