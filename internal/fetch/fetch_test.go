package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/pdfweaver/internal/weaver"
)

type fakeS3 struct {
	objects map[string]string
	err     error
}

func (f *fakeS3) Download(_ context.Context, bucket, key string, w io.WriterAt) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	body, ok := f.objects[bucket+"/"+key]
	if !ok {
		return 0, fmt.Errorf("get object: %w", &types.NoSuchKey{})
	}
	n, err := w.WriteAt([]byte(body), 0)
	return int64(n), err
}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/files/scan.png":
			_, _ = w.Write([]byte("png-bytes"))
		case "/boom":
			w.WriteHeader(http.StatusBadGateway)
		case "/busy":
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetch_LocalRefs(t *testing.T) {
	f := New(Options{})

	l, err := f.Fetch(context.Background(), "/in/report.pdf")
	require.NoError(t, err)
	assert.Equal(t, "/in/report.pdf", l.Path)
	assert.Equal(t, "report.pdf", l.Name)

	l, err = f.Fetch(context.Background(), "file:///in/a#b.pdf")
	require.NoError(t, err)
	assert.Equal(t, "/in/a#b.pdf", l.Path, "local paths keep '#'")

	l.Cleanup()
}

func TestFetch_HTTP(t *testing.T) {
	srv := newServer(t)
	dir := t.TempDir()
	f := New(Options{TempDir: dir})

	l, err := f.Fetch(context.Background(), srv.URL+"/files/scan.png#page=2")
	require.NoError(t, err)
	assert.Equal(t, "scan.png", l.Name)
	assert.True(t, strings.HasPrefix(filepath.Base(l.Path), TempPrefix))
	assert.Equal(t, ".png", filepath.Ext(l.Path))
	data, err := os.ReadFile(l.Path)
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))

	l.Cleanup()
	assert.NoFileExists(t, l.Path)

	_, err = f.Fetch(context.Background(), srv.URL+"/missing.pdf")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.Fetch(context.Background(), srv.URL+"/boom")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)

	leftovers, _ := os.ReadDir(dir)
	assert.Empty(t, leftovers)
}

type fakeLimiter struct {
	acquired, released int
	backoffs, resets   []string
	err                error
}

func (l *fakeLimiter) Acquire(_ context.Context, host string) (func(), error) {
	if l.err != nil {
		return nil, l.err
	}
	l.acquired++
	return func() { l.released++ }, nil
}

func (l *fakeLimiter) Backoff(_ context.Context, host string) time.Duration {
	l.backoffs = append(l.backoffs, host)
	return time.Minute
}

func (l *fakeLimiter) Reset(_ context.Context, host string) { l.resets = append(l.resets, host) }

func TestFetch_HTTPLimiter(t *testing.T) {
	srv := newServer(t)
	host := strings.TrimPrefix(srv.URL, "http://")
	lim := &fakeLimiter{}
	f := New(Options{TempDir: t.TempDir(), Limiter: lim})

	l, err := f.Fetch(context.Background(), srv.URL+"/files/scan.png")
	require.NoError(t, err)
	l.Cleanup()
	assert.Equal(t, []string{host}, lim.resets)

	_, err = f.Fetch(context.Background(), srv.URL+"/busy")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http 429")
	assert.Equal(t, []string{host}, lim.backoffs)
	assert.Equal(t, 2, lim.acquired)
	assert.Equal(t, 2, lim.released)

	lim.err = errors.New("host cooling down")
	_, err = f.Fetch(context.Background(), srv.URL+"/files/scan.png")
	assert.EqualError(t, err, "host cooling down")
	assert.Equal(t, 2, lim.acquired)
}

func TestFetch_S3(t *testing.T) {
	dir := t.TempDir()
	f := New(Options{TempDir: dir, S3: &fakeS3{objects: map[string]string{"inbox/scans/a.pdf": "%PDF"}}})

	l, err := f.Fetch(context.Background(), "s3://inbox/scans/a.pdf")
	require.NoError(t, err)
	assert.Equal(t, "a.pdf", l.Name)
	data, err := os.ReadFile(l.Path)
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(data))
	l.Cleanup()

	_, err = f.Fetch(context.Background(), "s3://inbox/scans/b.pdf")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.Fetch(context.Background(), "s3://inbox")
	assert.Error(t, err)

	_, err = New(Options{}).Fetch(context.Background(), "s3://inbox/a.pdf")
	assert.Error(t, err, "no s3 client configured")
}

func TestLocalize(t *testing.T) {
	srv := newServer(t)
	dir := t.TempDir()
	f := New(Options{TempDir: dir})

	entries := []weaver.Entry{
		{Included: true, Path: srv.URL + "/files/scan.png"},
		{Included: true, DisplayName: "gone.pdf", Path: srv.URL + "/gone.pdf"},
		{Included: false, Path: srv.URL + "/boom"},
		{Included: true, DisplayName: "local.pdf", Path: "/in/local.pdf"},
	}

	out, cleanup, err := f.Localize(context.Background(), entries)
	require.NoError(t, err)
	require.Len(t, out, 4)

	assert.Equal(t, "scan.png", out[0].DisplayName)
	assert.FileExists(t, out[0].Path)
	assert.Equal(t, entries[1], out[1], "missing remote keeps its ref")
	assert.Equal(t, entries[2], out[2], "excluded entries are never fetched")
	assert.Equal(t, "/in/local.pdf", out[3].Path)

	cleanup()
	assert.NoFileExists(t, out[0].Path)
}

func TestLocalize_ErrorCleansUp(t *testing.T) {
	srv := newServer(t)
	dir := t.TempDir()
	f := New(Options{TempDir: dir, S3: &fakeS3{err: errors.New("throttled")}})

	_, _, err := f.Localize(context.Background(), []weaver.Entry{
		{Included: true, Path: srv.URL + "/files/scan.png"},
		{Included: true, Path: "s3://inbox/a.pdf"},
	})
	require.Error(t, err)

	leftovers, _ := os.ReadDir(dir)
	assert.Empty(t, leftovers)
}

func TestCleanupTemps(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, TempPrefix+"old.pdf")
	fresh := filepath.Join(dir, TempPrefix+"fresh.pdf")
	other := filepath.Join(dir, "keep.pdf")
	for _, p := range []string{old, fresh, other} {
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	}
	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))
	require.NoError(t, os.Chtimes(other, past, past))

	assert.Equal(t, 1, CleanupTemps(dir, time.Hour))
	assert.NoFileExists(t, old)
	assert.FileExists(t, fresh)
	assert.FileExists(t, other)
}
