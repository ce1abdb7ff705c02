// Package fetch turns merge input references into local files.
//
// Supported references:
//   - file://path or plain filesystem paths (used in place)
//   - http(s):// URLs (downloaded to a temp file)
//   - s3://bucket/key (downloaded to a temp file through the transfer manager)
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"

	"github.com/local/pdfweaver/internal/storage"
	"github.com/local/pdfweaver/internal/weaver"
)

// TempPrefix names every temp file created by this package.
const TempPrefix = "pdfweaver-"

// ErrNotFound is returned when the remote object does not exist.
var ErrNotFound = errors.New("remote object not found")

// S3Downloader is the subset of storage.S3Client used for s3:// refs.
type S3Downloader interface {
	Download(ctx context.Context, bucket, key string, w io.WriterAt) (int64, error)
}

// HostLimiter throttles HTTP downloads per host; see limiter.Adaptive.
type HostLimiter interface {
	Acquire(ctx context.Context, host string) (func(), error)
	Backoff(ctx context.Context, host string) time.Duration
	Reset(ctx context.Context, host string)
}

// Options configures a Fetcher.
type Options struct {
	S3         S3Downloader
	HTTPClient *http.Client
	// Limiter is optional.
	Limiter HostLimiter
	// TempDir holds downloads; empty means os.TempDir().
	TempDir string
}

// Fetcher downloads remote references.
type Fetcher struct {
	s3      S3Downloader
	client  *http.Client
	limiter HostLimiter
	tempDir string
}

// New returns a Fetcher.
func New(opts Options) *Fetcher {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	return &Fetcher{s3: opts.S3, client: client, limiter: opts.Limiter, tempDir: opts.TempDir}
}

// Local is a reference materialized on disk.
type Local struct {
	Ref  string
	Path string
	// Name is the base name of the reference, used for classification.
	Name string
	temp bool
}

// Cleanup removes the downloaded file, if any.
func (l *Local) Cleanup() {
	if l.temp {
		_ = os.Remove(l.Path)
	}
}

// IsRemote reports whether ref needs downloading.
func IsRemote(ref string) bool {
	return strings.HasPrefix(ref, "s3://") || strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

// Fetch resolves ref to a local file. Local paths are not checked for
// existence.
func (f *Fetcher) Fetch(ctx context.Context, ref string) (*Local, error) {
	// Strip optional #page fragment if present
	if i := strings.Index(ref, "#"); i >= 0 && IsRemote(ref) {
		ref = ref[:i]
	}

	switch {
	case strings.HasPrefix(ref, "s3://"):
		return f.fetchS3(ctx, ref)
	case strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://"):
		return f.fetchHTTP(ctx, ref)
	case strings.HasPrefix(ref, "file://"):
		p := strings.TrimPrefix(ref, "file://")
		return &Local{Ref: ref, Path: p, Name: filepath.Base(p)}, nil
	default:
		return &Local{Ref: ref, Path: ref, Name: filepath.Base(ref)}, nil
	}
}

func (f *Fetcher) fetchS3(ctx context.Context, ref string) (*Local, error) {
	if f.s3 == nil {
		return nil, fmt.Errorf("s3 not configured for %s", ref)
	}
	bucket, key, err := storage.ParseURL(ref)
	if err != nil {
		return nil, err
	}
	name := path.Base(key)
	tmp, err := f.createTemp(name)
	if err != nil {
		return nil, err
	}
	defer tmp.Close()

	if _, err := f.s3.Download(ctx, bucket, key, tmp); err != nil {
		_ = os.Remove(tmp.Name())
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return nil, err
	}
	log.Info().Str("bucket", bucket).Str("key", key).Str("file", filepath.Base(tmp.Name())).Msg("downloaded s3 input to temp")
	return &Local{Ref: ref, Path: tmp.Name(), Name: name, temp: true}, nil
}

func (f *Fetcher) fetchHTTP(ctx context.Context, ref string) (*Local, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("invalid url %s: %w", ref, err)
	}
	if f.limiter != nil {
		release, err := f.limiter.Acquire(ctx, u.Host)
		if err != nil {
			return nil, err
		}
		defer release()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable:
		if f.limiter != nil {
			d := f.limiter.Backoff(ctx, u.Host)
			log.Warn().Str("host", u.Host).Dur("cooldown", d).Int("status", resp.StatusCode).Msg("remote host throttling downloads")
		}
		return nil, fmt.Errorf("http %d fetching %s", resp.StatusCode, ref)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("http %d fetching %s", resp.StatusCode, ref)
	}
	if f.limiter != nil {
		f.limiter.Reset(ctx, u.Host)
	}

	name := path.Base(u.Path)
	tmp, err := f.createTemp(name)
	if err != nil {
		return nil, err
	}
	defer tmp.Close()
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		_ = os.Remove(tmp.Name())
		return nil, fmt.Errorf("download %s: %w", ref, err)
	}
	log.Info().Str("url", ref).Str("file", filepath.Base(tmp.Name())).Msg("downloaded http input to temp")
	return &Local{Ref: ref, Path: tmp.Name(), Name: name, temp: true}, nil
}

// createTemp keeps the reference's extension on the temp file name.
func (f *Fetcher) createTemp(name string) (*os.File, error) {
	ext := filepath.Ext(name)
	tmp, err := os.CreateTemp(f.tempDir, TempPrefix+"*"+ext)
	if err != nil {
		return nil, fmt.Errorf("create temp: %w", err)
	}
	return tmp, nil
}

// Localize fetches every included entry and returns entries pointing at
// local files plus a cleanup func. Excluded entries are passed through
// untouched. A remote ref that does not exist keeps its original path so
// the merge reports it as missing.
func (f *Fetcher) Localize(ctx context.Context, entries []weaver.Entry) ([]weaver.Entry, func(), error) {
	var locals []*Local
	cleanup := func() {
		for _, l := range locals {
			l.Cleanup()
		}
	}

	out := make([]weaver.Entry, len(entries))
	for i, e := range entries {
		out[i] = e
		if !e.Included {
			continue
		}
		l, err := f.Fetch(ctx, e.Path)
		if errors.Is(err, ErrNotFound) {
			log.Warn().Str("ref", e.Path).Msg("remote input not found")
			continue
		}
		if err != nil {
			cleanup()
			return nil, func() {}, err
		}
		locals = append(locals, l)
		out[i].Path = l.Path
		if out[i].DisplayName == "" {
			out[i].DisplayName = l.Name
		}
	}
	return out, cleanup, nil
}
