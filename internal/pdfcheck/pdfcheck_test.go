package pdfcheck

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDoc struct {
	pages   int
	badPage int
	closed  bool
}

func (d *fakeDoc) NumPage() int { return d.pages }

func (d *fakeDoc) Render(i int, dpi float64) (image.Image, error) {
	if i == d.badPage {
		return nil, errors.New("broken content stream")
	}
	side := int(dpi)
	return image.NewRGBA(image.Rect(0, 0, side, side*2)), nil
}

func (d *fakeDoc) Close() error { d.closed = true; return nil }

type fakeOpener struct {
	doc *fakeDoc
	err error
}

func (o fakeOpener) Open(string) (Doc, error) {
	if o.err != nil {
		return nil, o.err
	}
	return o.doc, nil
}

func TestVerify_OK(t *testing.T) {
	doc := &fakeDoc{pages: 3, badPage: -1}
	rep, err := NewWithOpener(fakeOpener{doc: doc}).Verify("out.pdf", 3)
	require.NoError(t, err)

	assert.True(t, rep.OK)
	assert.Equal(t, []int{0, 1, 2}, rep.SampledPages)
	require.Len(t, rep.Probes, 3)
	assert.Equal(t, probeDPI, rep.Probes[0].Width)
	assert.True(t, doc.closed)
}

func TestVerify_PageCountMismatch(t *testing.T) {
	rep, err := NewWithOpener(fakeOpener{doc: &fakeDoc{pages: 2, badPage: -1}}).Verify("out.pdf", 3)
	require.ErrorIs(t, err, ErrPageCount)
	assert.False(t, rep.OK)
	assert.Equal(t, 2, rep.TotalPages)
}

func TestVerify_RenderFailure(t *testing.T) {
	rep, err := NewWithOpener(fakeOpener{doc: &fakeDoc{pages: 2, badPage: 1}}).Verify("out.pdf", 2)
	require.Error(t, err)
	assert.False(t, rep.OK)
	assert.NotEmpty(t, rep.Probes[1].Err)
}

func TestVerify_ZeroPages(t *testing.T) {
	rep, err := NewWithOpener(fakeOpener{doc: &fakeDoc{pages: 0, badPage: -1}}).Verify("empty.pdf", 0)
	require.NoError(t, err)
	assert.True(t, rep.OK)
	assert.Empty(t, rep.SampledPages)
}

func TestOpenErrors(t *testing.T) {
	c := NewWithOpener(fakeOpener{err: errors.New("not a pdf")})
	_, err := c.Verify("x.pdf", 1)
	assert.ErrorContains(t, err, "not a pdf")

	_, err = c.PageCount("x.pdf")
	assert.Error(t, err)

	_, err = NewWithOpener(nil).PageCount("x.pdf")
	assert.Error(t, err)
}

func TestRenderPageToJPEG(t *testing.T) {
	c := NewWithOpener(fakeOpener{doc: &fakeDoc{pages: 2, badPage: -1}})

	data, w, h, err := c.RenderPageToJPEG("out.pdf", 2, 30, 70, true)
	require.NoError(t, err)
	assert.Equal(t, 30, w)
	assert.Equal(t, 60, h)
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.Width)

	_, _, _, err = c.RenderPageToJPEG("out.pdf", 3, 30, 70, false)
	assert.Error(t, err)
	_, _, _, err = c.RenderPageToJPEG("out.pdf", 0, 30, 70, false)
	assert.Error(t, err)
}

func TestSampleIndices(t *testing.T) {
	assert.Empty(t, sampleIndices(0))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, sampleIndices(5))

	got := sampleIndices(40)
	assert.Len(t, got, 5)
	assert.Contains(t, got, 0)
	assert.Contains(t, got, 20)
	assert.Contains(t, got, 39)
	assert.IsIncreasing(t, got)
}

func TestProbeDocument(t *testing.T) {
	doc := probeDocument()
	assert.True(t, bytes.HasPrefix(doc, []byte("%PDF-1.4\n")))
	assert.True(t, bytes.HasSuffix(doc, []byte("%%EOF\n")))
	idx := bytes.Index(doc, []byte("1 0 obj"))
	assert.Contains(t, string(doc), fmt.Sprintf("%010d 00000 n", idx))
}

func TestSelfTest(t *testing.T) {
	require.NoError(t, NewWithOpener(fakeOpener{doc: &fakeDoc{pages: 1, badPage: -1}}).SelfTest())
	assert.Error(t, NewWithOpener(fakeOpener{doc: &fakeDoc{pages: 1, badPage: 0}}).SelfTest())
	assert.Error(t, NewWithOpener(fakeOpener{err: errors.New("no mupdf")}).SelfTest())
}
