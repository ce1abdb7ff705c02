package limiter

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquire_InflightCap(t *testing.T) {
	l := New(nil, Options{MaxInflight: 2})
	ctx := context.Background()

	r1, err := l.Acquire(ctx, "Files.Example.com")
	require.NoError(t, err)
	r2, err := l.Acquire(ctx, "files.example.com")
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(short, "files.example.com")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	other, err := l.Acquire(ctx, "cdn.example.com")
	require.NoError(t, err)
	other()

	r1()
	r3, err := l.Acquire(ctx, "files.example.com")
	require.NoError(t, err)
	r2()
	r3()
}

func TestNilClientHasNoCooldown(t *testing.T) {
	l := New(nil, Options{})
	ctx := context.Background()
	assert.Zero(t, l.Backoff(ctx, "h"))
	assert.Zero(t, l.Remaining(ctx, "h"))
	l.Reset(ctx, "h")
	release, err := l.Acquire(ctx, "h")
	require.NoError(t, err)
	release()
}

func TestCooldown_Redis(t *testing.T) {
	url := os.Getenv("PDFWEAVER_TEST_REDIS")
	if url == "" {
		t.Skip("PDFWEAVER_TEST_REDIS not set")
	}
	opt, err := redis.ParseURL(url)
	require.NoError(t, err)
	c := redis.NewClient(opt)
	t.Cleanup(func() { _ = c.Close() })

	l := New(c, Options{BaseBackoff: 10 * time.Second, MaxBackoff: 15 * time.Second})
	ctx := context.Background()
	host := uuid.NewString() + ".example.com"
	t.Cleanup(func() { l.Reset(context.Background(), host) })

	assert.Equal(t, 10*time.Second, l.Backoff(ctx, host))
	assert.Equal(t, 15*time.Second, l.Backoff(ctx, host), "capped at MaxBackoff")
	assert.Greater(t, l.Remaining(ctx, host), time.Duration(0))

	_, err = l.Acquire(ctx, host)
	assert.ErrorIs(t, err, ErrCoolingDown)

	l.Reset(ctx, host)
	release, err := l.Acquire(ctx, host)
	require.NoError(t, err)
	release()
}
