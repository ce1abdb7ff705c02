package statuscheck

import (
	"context"
	"errors"
	"time"
)

// Pinger models the minimal capability needed to probe a remote dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SelfTester probes the local PDF renderer.
type SelfTester interface {
	SelfTest() error
}

// Checker aggregates health checks for the merge service's dependencies.
type Checker struct {
	redis  Pinger
	s3     Pinger
	mupdf  SelfTester
	bucket string
}

// Options configures the Checker. S3 is optional.
type Options struct {
	Redis    Pinger
	S3       Pinger
	S3Bucket string
	MuPDF    SelfTester
}

// Status represents the readiness of a subsystem.
type Status struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
	// Disabled marks optional subsystems that are not configured.
	Disabled bool `json:"disabled,omitempty"`
}

// Summary bundles all subsystem statuses.
type Summary struct {
	Redis Status `json:"redis"`
	S3    Status `json:"s3"`
	MuPDF Status `json:"mupdf"`
}

// Healthy reports whether every configured subsystem is OK.
func (s Summary) Healthy() bool {
	for _, st := range []Status{s.Redis, s.S3, s.MuPDF} {
		if !st.OK && !st.Disabled {
			return false
		}
	}
	return true
}

// New creates a new Checker with the provided options.
func New(opts Options) *Checker {
	return &Checker{redis: opts.Redis, s3: opts.S3, mupdf: opts.MuPDF, bucket: opts.S3Bucket}
}

// Summary returns the current status snapshot.
func (c *Checker) Summary(ctx context.Context) Summary {
	return Summary{
		Redis: c.checkRedis(ctx),
		S3:    c.checkS3(ctx),
		MuPDF: c.checkMuPDF(),
	}
}

func (c *Checker) checkRedis(ctx context.Context) Status {
	if c.redis == nil {
		return Status{OK: false, Message: "client unavailable"}
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.redis.Ping(ctx); err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	return Status{OK: true, Message: "Connected"}
}

func (c *Checker) checkS3(ctx context.Context) Status {
	if c.s3 == nil {
		return Status{Disabled: true, Message: "Upload disabled"}
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.s3.Ping(ctx); err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	msg := "Connected"
	if c.bucket != "" {
		msg += " (" + c.bucket + ")"
	}
	return Status{OK: true, Message: msg}
}

func (c *Checker) checkMuPDF() Status {
	if c.mupdf == nil {
		return Status{OK: false, Message: "renderer unavailable"}
	}
	if err := c.mupdf.SelfTest(); err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	return Status{OK: true, Message: "Available"}
}

func trimError(err error) string {
	if err == nil {
		return ""
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	msg := err.Error()
	if len(msg) > 120 {
		return msg[:120]
	}
	return msg
}
