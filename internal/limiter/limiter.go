// Package limiter throttles remote input downloads per host: a local
// in-flight cap plus a cooldown shared through Redis once a host starts
// answering 429/503.
package limiter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// ErrCoolingDown is returned by Acquire while a host's cooldown is active.
var ErrCoolingDown = errors.New("host cooling down")

type Adaptive struct {
	rdb         *redis.Client
	maxInflight int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	mu          sync.Mutex
	sem         map[string]chan struct{}
}

type Options struct {
	MaxInflight int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// New returns a limiter. A nil client disables the shared cooldown.
func New(c *redis.Client, opts Options) *Adaptive {
	if opts.MaxInflight <= 0 {
		opts.MaxInflight = 4
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = 30 * time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 5 * time.Minute
	}
	return &Adaptive{
		rdb:         c,
		maxInflight: opts.MaxInflight,
		baseBackoff: opts.BaseBackoff,
		maxBackoff:  opts.MaxBackoff,
		sem:         map[string]chan struct{}{},
	}
}

func (a *Adaptive) key(host string) string {
	return fmt.Sprintf("fetch:cb:%s", strings.ToLower(host))
}

// Remaining returns how long host stays in cooldown, zero when it is open for downloads.
func (a *Adaptive) Remaining(ctx context.Context, host string) time.Duration {
	if a.rdb == nil {
		return 0
	}
	ts, err := a.rdb.Get(ctx, a.key(host)).Int64()
	if err != nil {
		return 0
	}
	if d := time.Until(time.Unix(ts, 0)); d > 0 {
		return d
	}
	return 0
}

// Backoff sets or extends the cooldown for host with exponential backoff per strike.
func (a *Adaptive) Backoff(ctx context.Context, host string) time.Duration {
	if a.rdb == nil {
		return 0
	}
	k := a.key(host)
	attempts, _ := a.rdb.Incr(ctx, k+":attempts").Result()
	if attempts < 1 {
		attempts = 1
	}
	d := a.baseBackoff
	for i := int64(1); i < attempts && d < a.maxBackoff; i++ {
		d *= 2
	}
	if d > a.maxBackoff {
		d = a.maxBackoff
	}
	until := time.Now().Add(d).Unix()
	pipe := a.rdb.TxPipeline()
	pipe.Set(ctx, k, until, d)
	pipe.Expire(ctx, k+":attempts", a.maxBackoff*2)
	_, _ = pipe.Exec(ctx)
	return d
}

// Reset clears the cooldown for host.
func (a *Adaptive) Reset(ctx context.Context, host string) {
	if a.rdb == nil {
		return
	}
	k := a.key(host)
	_ = a.rdb.Del(ctx, k, k+":attempts").Err()
}

// Acquire waits for an in-flight slot for host and returns its release func.
// It fails fast with ErrCoolingDown while the host is backing off.
func (a *Adaptive) Acquire(ctx context.Context, host string) (func(), error) {
	if d := a.Remaining(ctx, host); d > 0 {
		return nil, fmt.Errorf("%w: %s for %s", ErrCoolingDown, host, d.Round(time.Second))
	}
	key := strings.ToLower(host)
	a.mu.Lock()
	ch, ok := a.sem[key]
	if !ok {
		ch = make(chan struct{}, a.maxInflight)
		a.sem[key] = ch
	}
	a.mu.Unlock()
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
