package weaver

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"github.com/rs/zerolog/log"

	"github.com/local/pdfweaver/internal/filetype"
)

// Fragment holds the validated PDF bytes contributed by one entry.
type Fragment struct {
	Path  string
	Class filetype.Class
	Data  []byte
	Pages int
}

// Adapter turns an existing entry into a Fragment.
type Adapter struct {
	detector *filetype.Detector
	pageSize string
	pageDim  *types.Dim
	margin   float64
}

// paperOverrides corrects pdfcpu paper sizes that are off by a point.
var paperOverrides = map[string]types.Dim{
	"Letter": {Width: 612, Height: 792},
}

// NewAdapter returns an adapter that lays images out on pages of the named
// paper size, keeping margin points free on each dimension.
func NewAdapter(pageSize string, margin float64) (*Adapter, error) {
	ref, ok := types.PaperSize[pageSize]
	if !ok {
		return nil, fmt.Errorf("unknown page size %q", pageSize)
	}
	dim := *ref
	if d, ok := paperOverrides[pageSize]; ok {
		dim = d
	}
	if margin < 0 || margin >= dim.Width || margin >= dim.Height {
		return nil, fmt.Errorf("image margin %.1f does not fit page size %s", margin, pageSize)
	}
	return &Adapter{
		detector: filetype.New(),
		pageSize: pageSize,
		pageDim:  &dim,
		margin:   margin,
	}, nil
}

// PageDim returns the page dimensions used for image pages.
func (a *Adapter) PageDim() types.Dim { return *a.pageDim }

// Load classifies e by its extension and produces its fragment.
// The caller guarantees e.Path exists.
func (a *Adapter) Load(e Entry) (*Fragment, error) {
	name := e.classifyName()
	switch filetype.ClassifyName(name) {
	case filetype.ClassDocument:
		return a.loadDocument(e.Path)
	case filetype.ClassImage:
		return a.loadImage(e.Path)
	default:
		return nil, &UnsupportedFormatError{Path: e.Path, Ext: filepath.Ext(name)}
	}
}

func (a *Adapter) loadDocument(path string) (*Fragment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ProcessingError{Path: path, Err: err}
	}
	if info := a.detector.DetectBytes(data); !info.IsPDF() {
		return nil, &ProcessingError{Path: path, Err: fmt.Errorf("content is %s, not a PDF document", info.MIMEType)}
	}
	return a.parse(path, filetype.ClassDocument, data)
}

func (a *Adapter) loadImage(path string) (*Fragment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ProcessingError{Path: path, Err: err}
	}
	info := a.detector.DetectBytes(data)
	if !info.IsRaster() {
		return nil, &ProcessingError{Path: path, Err: fmt.Errorf("content is %s, not a PNG or JPEG image", info.MIMEType)}
	}
	page, err := a.renderImagePage(data)
	if err != nil {
		return nil, &ProcessingError{Path: path, Err: err}
	}
	return a.parse(path, filetype.ClassImage, page)
}

// parse reads data back as a PDF document and counts its pages.
func (a *Adapter) parse(path string, class filetype.Class, data []byte) (*Fragment, error) {
	ctx, err := api.ReadContext(bytes.NewReader(data), newConfiguration())
	if err != nil {
		return nil, &ProcessingError{Path: path, Err: fmt.Errorf("read pdf: %w", err)}
	}
	if err := api.ValidateContext(ctx); err != nil {
		return nil, &ProcessingError{Path: path, Err: fmt.Errorf("validate pdf: %w", err)}
	}
	if err := ctx.EnsurePageCount(); err != nil {
		return nil, &ProcessingError{Path: path, Err: fmt.Errorf("count pages: %w", err)}
	}

	log.Debug().
		Str("path", path).
		Str("class", class.String()).
		Int("pages", ctx.PageCount).
		Int("bytes", len(data)).
		Msg("loaded fragment")

	return &Fragment{Path: path, Class: class, Data: data, Pages: ctx.PageCount}, nil
}

// newConfiguration returns a fresh pdfcpu configuration; pdfcpu mutates it per command.
func newConfiguration() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}
