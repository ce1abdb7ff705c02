package weaver

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"github.com/stretchr/testify/require"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(Options{PageSize: DefaultPageSize, ImageMargin: DefaultImageMargin})
	require.NoError(t, err)
	return e
}

func solidImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	return img
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, solidImage(w, h)))
	return buf.Bytes()
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}

func writePNG(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	return writeFile(t, dir, name, pngBytes(t, w, h))
}

func writeJPEG(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, solidImage(w, h), &jpeg.Options{Quality: 80}))
	return writeFile(t, dir, name, buf.Bytes())
}

// writePDF creates a document with one page per size; each page takes the
// dimensions of its image so page order is observable through page sizes.
func writePDF(t *testing.T, dir, name string, sizes ...[2]int) string {
	t.Helper()
	imgs := make([]io.Reader, 0, len(sizes))
	for _, s := range sizes {
		imgs = append(imgs, bytes.NewReader(pngBytes(t, s[0], s[1])))
	}
	imp := pdfcpu.DefaultImportConfig()
	imp.Pos = types.Full
	var buf bytes.Buffer
	require.NoError(t, api.ImportImages(nil, &buf, imgs, imp, newConfiguration()))
	return writeFile(t, dir, name, buf.Bytes())
}

func pageCount(t *testing.T, path string) int {
	t.Helper()
	n, err := api.PageCountFile(path)
	require.NoError(t, err)
	return n
}

func pageSizes(t *testing.T, path string) [][2]int {
	t.Helper()
	dims, err := api.PageDimsFile(path)
	require.NoError(t, err)
	out := make([][2]int, 0, len(dims))
	for _, d := range dims {
		out = append(out, [2]int{int(d.Width + 0.5), int(d.Height + 0.5)})
	}
	return out
}
