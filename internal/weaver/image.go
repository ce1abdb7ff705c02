package weaver

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // register JPEG for DecodeConfig
	_ "image/png"  // register PNG for DecodeConfig
	"io"
	"math"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// FitScale returns the factor that scales a w×h image to the largest size
// fitting inside boxW×boxH without changing its aspect ratio.
func FitScale(w, h int, boxW, boxH float64) float64 {
	if w <= 0 || h <= 0 {
		return 0
	}
	return math.Min(boxW/float64(w), boxH/float64(h))
}

// renderImagePage lays the image out centered on a single page and returns
// the rendered document. Nothing touches the filesystem.
func (a *Adapter) renderImagePage(data []byte) ([]byte, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image header: %w", err)
	}
	scale := FitScale(cfg.Width, cfg.Height, a.pageDim.Width-a.margin, a.pageDim.Height-a.margin)
	if scale <= 0 {
		return nil, errors.New("image has no pixels")
	}

	imp := pdfcpu.DefaultImportConfig()
	imp.PageDim = a.pageDim
	imp.PageSize = a.pageSize
	imp.UserDim = false
	imp.Pos = types.Center
	imp.Dx, imp.Dy = 0, 0
	// Absolute scaling multiplies the pixel dimensions, taken as points.
	imp.Scale = scale
	imp.ScaleAbs = true
	imp.InpUnit = types.POINTS

	var buf bytes.Buffer
	if err := api.ImportImages(nil, &buf, []io.Reader{bytes.NewReader(data)}, imp, newConfiguration()); err != nil {
		return nil, fmt.Errorf("render image page: %w", err)
	}
	return buf.Bytes(), nil
}

// emptyDocument returns a document whose page tree has no kids. pdfcpu
// cannot serialize a context without pages, so the objects and xref table
// are laid out here.
func emptyDocument(dim *types.Dim) ([]byte, error) {
	if dim == nil {
		return nil, errors.New("empty document: missing page size")
	}
	objs := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [] /Count 0 /MediaBox [0 0 %s %s] >>", pdfNum(dim.Width), pdfNum(dim.Height)),
		"<< /Producer (pdfweaver) >>",
	}
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n")
	offsets := make([]int, len(objs))
	for i, o := range objs {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, o)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f\r\n", len(objs)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n\r\n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R /Info 3 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)
	return buf.Bytes(), nil
}

func pdfNum(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
