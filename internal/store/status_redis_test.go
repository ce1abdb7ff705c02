package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashRoundTrip(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	st := Status{
		Status:   StatePartial,
		Progress: 100,
		Message:  "merged with skipped files",
		Start:    &start,
		Metadata: map[string]interface{}{"pages": 4, "missing_paths": []string{"b.pdf"}},
	}

	h := toHash(st)
	strs := make(map[string]string, len(h))
	for k, v := range h {
		strs[k] = fmt.Sprint(v)
	}
	got := fromHash(strs)

	assert.Equal(t, StatePartial, got.Status)
	assert.Equal(t, 100, got.Progress)
	require.NotNil(t, got.Start)
	assert.True(t, start.Equal(*got.Start))
	assert.Nil(t, got.End)
	assert.EqualValues(t, 4, got.Metadata["pages"])
	assert.Equal(t, []interface{}{"b.pdf"}, got.Metadata["missing_paths"])
}

func TestFinal(t *testing.T) {
	for _, s := range []string{StateSuccess, StatePartial, StateFailed, StateCancelled} {
		assert.True(t, Final(s), s)
	}
	for _, s := range []string{StateQueued, StateProcessing, StateRetrying, ""} {
		assert.False(t, Final(s), s)
	}
}

func TestRedisStatus_SetGet(t *testing.T) {
	url := os.Getenv("PDFWEAVER_TEST_REDIS")
	if url == "" {
		t.Skip("PDFWEAVER_TEST_REDIS not set")
	}
	opt, err := redis.ParseURL(url)
	require.NoError(t, err)
	c := redis.NewClient(opt)
	t.Cleanup(func() { _ = c.Close() })

	s := NewRedisStatus(c, time.Minute)
	ctx := context.Background()
	id := uuid.NewString()
	t.Cleanup(func() { c.Del(context.Background(), s.key(id)) })

	_, ok, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	now := time.Now().UTC()
	require.NoError(t, s.Set(ctx, id, Status{Status: StateSuccess, Progress: 100, End: &now}))
	require.NoError(t, s.Set(ctx, id, Status{Status: StateRetrying, Progress: 0}))

	got, ok, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StateRetrying, got.Status)
	assert.Nil(t, got.End, "a non-final status clears the end time")

	ttl, err := c.TTL(ctx, s.key(id)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}
