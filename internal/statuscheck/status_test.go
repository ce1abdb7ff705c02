package statuscheck

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type selfTest struct{ err error }

func (s selfTest) SelfTest() error { return s.err }

func ok(context.Context) error { return nil }

func TestSummary_AllHealthy(t *testing.T) {
	c := New(Options{Redis: pingFunc(ok), S3: pingFunc(ok), S3Bucket: "merged", MuPDF: selfTest{}})
	sum := c.Summary(context.Background())

	assert.True(t, sum.Redis.OK)
	assert.Equal(t, "Connected (merged)", sum.S3.Message)
	assert.True(t, sum.MuPDF.OK)
	assert.True(t, sum.Healthy())
}

func TestSummary_S3Disabled(t *testing.T) {
	sum := New(Options{Redis: pingFunc(ok), MuPDF: selfTest{}}).Summary(context.Background())

	assert.False(t, sum.S3.OK)
	assert.True(t, sum.S3.Disabled)
	assert.True(t, sum.Healthy())
}

func TestSummary_Failures(t *testing.T) {
	c := New(Options{
		Redis: pingFunc(func(context.Context) error { return errors.New("dial tcp: connection refused") }),
		S3:    pingFunc(func(context.Context) error { return context.DeadlineExceeded }),
		MuPDF: selfTest{err: errors.New(strings.Repeat("x", 300))},
	})
	sum := c.Summary(context.Background())

	assert.False(t, sum.Healthy())
	assert.Equal(t, "dial tcp: connection refused", sum.Redis.Message)
	assert.Equal(t, "timeout", sum.S3.Message)
	assert.Len(t, sum.MuPDF.Message, 120)
}

func TestSummary_MissingClients(t *testing.T) {
	sum := New(Options{}).Summary(context.Background())
	assert.False(t, sum.Redis.OK)
	assert.False(t, sum.MuPDF.OK)
	assert.False(t, sum.Healthy())
}
