package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 serves the path-style subset of S3 the client uses.
type fakeS3 struct {
	mu      sync.Mutex
	bucket  string
	objects map[string][]byte
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p := strings.TrimPrefix(r.URL.Path, "/")
	bucket, key, _ := strings.Cut(p, "/")
	if bucket != f.bucket {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch {
	case r.Method == http.MethodHead && key == "":
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[key] = body
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodGet && key == "":
		prefix := r.URL.Query().Get("prefix")
		var sb strings.Builder
		sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult><Name>` + f.bucket + `</Name><IsTruncated>false</IsTruncated>`)
		for k := range f.objects {
			if strings.HasPrefix(k, prefix) {
				sb.WriteString(fmt.Sprintf("<Contents><Key>%s</Key><Size>%d</Size></Contents>", k, len(f.objects[k])))
			}
		}
		sb.WriteString(`</ListBucketResult>`)
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(sb.String()))
	case r.Method == http.MethodGet:
		data, ok := f.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`<Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`))
			return
		}
		w.Header().Set("Content-Length", fmt.Sprint(len(data)))
		_, _ = w.Write(data)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestClient(t *testing.T) (*S3Client, *fakeS3) {
	t.Helper()
	fake := &fakeS3{bucket: "results", objects: map[string][]byte{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	c, err := NewS3Client(context.Background(), Options{
		Bucket:          "results",
		Region:          "us-east-1",
		Endpoint:        srv.URL,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
	})
	require.NoError(t, err)
	return c, fake
}

func TestS3Client_UploadDownload(t *testing.T) {
	c, fake := newTestClient(t)
	ctx := context.Background()

	url, err := c.Upload(ctx, "merged/report_v1.pdf", bytes.NewReader([]byte("%PDF-1.7 body")), map[string]string{"job": "j1"})
	require.NoError(t, err)
	assert.Equal(t, "s3://results/merged/report_v1.pdf", url)
	assert.Equal(t, "%PDF-1.7 body", string(fake.objects["merged/report_v1.pdf"]))

	buf := manager.NewWriteAtBuffer(nil)
	n, err := c.Download(ctx, "results", "merged/report_v1.pdf", buf)
	require.NoError(t, err)
	assert.Equal(t, int64(len("%PDF-1.7 body")), n)
	assert.Equal(t, "%PDF-1.7 body", string(buf.Bytes()))

	_, err = c.Download(ctx, "results", "nope.pdf", manager.NewWriteAtBuffer(nil))
	assert.Error(t, err)
}

func TestS3Client_VersionedKey(t *testing.T) {
	c, fake := newTestClient(t)
	fake.objects["merged/report_v1.pdf"] = []byte("a")
	fake.objects["merged/report_v3.pdf"] = []byte("b")
	fake.objects["merged/other_v9.pdf"] = []byte("c")

	key, err := c.VersionedKey(context.Background(), "merged", "report.pdf")
	require.NoError(t, err)
	assert.Equal(t, "merged/report_v4.pdf", key)

	key, err = c.VersionedKey(context.Background(), "merged", "fresh")
	require.NoError(t, err)
	assert.Equal(t, "merged/fresh_v1.pdf", key)
}

func TestS3Client_Ping(t *testing.T) {
	c, _ := newTestClient(t)
	require.NoError(t, c.Ping(context.Background()))
	assert.Equal(t, "results", c.Bucket())
}

func TestParseURL(t *testing.T) {
	b, k, err := ParseURL("s3://inbox/scans/a.png")
	require.NoError(t, err)
	assert.Equal(t, "inbox", b)
	assert.Equal(t, "scans/a.png", k)

	for _, bad := range []string{"s3://", "s3://bucket", "s3://bucket/", "http://x/y", "s3:///key"} {
		_, _, err := ParseURL(bad)
		assert.Error(t, err, bad)
	}
}
