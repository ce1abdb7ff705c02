// Package pdfcheck re-opens merged documents with MuPDF to confirm they are
// readable and renders page previews.
package pdfcheck

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"math/rand"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
)

// Doc abstracts an opened PDF document.
type Doc interface {
	NumPage() int
	Render(i int, dpi float64) (image.Image, error)
	Close() error
}

// Opener abstracts opening a PDF path into a Doc.
type Opener interface {
	Open(path string) (Doc, error)
}

// defaultOpener is provided in doc_open_fitz.go using go-fitz.
var defaultOpener Opener

func setDefaultOpener(o Opener) { defaultOpener = o }

// ErrPageCount is returned by Verify when the document has an unexpected page count.
var ErrPageCount = errors.New("page count mismatch")

// PageProbe captures the result of rendering a single page.
type PageProbe struct {
	PageIndex int    `json:"page_index"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Err       string `json:"err,omitempty"`
}

// Report describes one verification run.
type Report struct {
	FilePath      string      `json:"file_path"`
	TotalPages    int         `json:"total_pages"`
	ExpectedPages int         `json:"expected_pages"`
	SampledPages  []int       `json:"sampled_pages"`
	Probes        []PageProbe `json:"probes"`
	OK            bool        `json:"ok"`
	DurationMs    int64       `json:"duration_ms"`
}

// probeDPI keeps sample renders cheap.
const probeDPI = 24

// Checker verifies documents through an Opener.
type Checker struct {
	opener Opener
}

// New returns a checker using the MuPDF opener.
func New() *Checker { return &Checker{opener: defaultOpener} }

// NewWithOpener returns a checker using o.
func NewWithOpener(o Opener) *Checker { return &Checker{opener: o} }

func (c *Checker) open(path string) (Doc, error) {
	if c.opener == nil {
		return nil, errors.New("no PDF opener configured")
	}
	d, err := c.opener.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	return d, nil
}

// Verify opens path, checks it has wantPages pages and renders a sample of
// them. A failed page render makes the report not OK and returns an error.
func (c *Checker) Verify(path string, wantPages int) (*Report, error) {
	start := time.Now()
	d, err := c.open(path)
	if err != nil {
		return nil, err
	}
	defer d.Close()

	total := d.NumPage()
	rep := &Report{
		FilePath:      path,
		TotalPages:    total,
		ExpectedPages: wantPages,
		SampledPages:  sampleIndices(total),
	}
	defer func() { rep.DurationMs = time.Since(start).Milliseconds() }()

	if total != wantPages {
		return rep, fmt.Errorf("%w: %s has %d pages, expected %d", ErrPageCount, path, total, wantPages)
	}

	var renderErr error
	for _, idx := range rep.SampledPages {
		probe := PageProbe{PageIndex: idx}
		img, rerr := d.Render(idx, probeDPI)
		if rerr != nil {
			probe.Err = rerr.Error()
			if renderErr == nil {
				renderErr = fmt.Errorf("render page %d of %s: %w", idx+1, path, rerr)
			}
		} else {
			probe.Width, probe.Height = img.Bounds().Dx(), img.Bounds().Dy()
		}
		rep.Probes = append(rep.Probes, probe)
	}
	if renderErr != nil {
		return rep, renderErr
	}

	rep.OK = true
	log.Debug().
		Str("path", path).
		Int("pages", total).
		Ints("sampled", rep.SampledPages).
		Msg("verified merged document")
	return rep, nil
}

// PageCount opens path and returns its page count.
func (c *Checker) PageCount(path string) (int, error) {
	d, err := c.open(path)
	if err != nil {
		return 0, err
	}
	defer d.Close()
	return d.NumPage(), nil
}

// RenderPageToJPEG renders 1-based pageNum of path as a JPEG.
// Returns JPEG bytes, width, height, error
func (c *Checker) RenderPageToJPEG(path string, pageNum, dpi, quality int, gray bool) ([]byte, int, int, error) {
	d, err := c.open(path)
	if err != nil {
		return nil, 0, 0, err
	}
	defer d.Close()

	if pageNum < 1 || pageNum > d.NumPage() {
		return nil, 0, 0, fmt.Errorf("page %d out of range [1,%d]", pageNum, d.NumPage())
	}

	img, err := d.Render(pageNum-1, float64(dpi))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to render page %d: %w", pageNum, err)
	}
	bounds := img.Bounds()

	final := img
	if gray {
		g := image.NewGray(bounds)
		draw.Draw(g, bounds, img, bounds.Min, draw.Src)
		final = g
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, final, &jpeg.Options{Quality: quality}); err != nil {
		return nil, 0, 0, fmt.Errorf("failed to encode JPEG: %w", err)
	}

	log.Debug().
		Int("page", pageNum).
		Int("width", bounds.Dx()).
		Int("height", bounds.Dy()).
		Int("jpeg_size", buf.Len()).
		Bool("gray", gray).
		Msg("rendered preview")

	return buf.Bytes(), bounds.Dx(), bounds.Dy(), nil
}

// sampleIndices picks up to 5 pages: first, mid, last plus random distinct
// pages; documents of 5 pages or fewer are sampled whole.
func sampleIndices(total int) []int {
	if total <= 0 {
		return []int{}
	}
	if total <= 5 {
		idx := make([]int, total)
		for i := range idx {
			idx[i] = i
		}
		return idx
	}

	base := map[int]struct{}{0: {}, total / 2: {}, total - 1: {}}
	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	for len(base) < 5 {
		base[rnd.Intn(total)] = struct{}{}
	}

	out := make([]int, 0, len(base))
	for i := range base {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}
