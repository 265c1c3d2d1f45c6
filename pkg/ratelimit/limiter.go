package ratelimit

import (
	"context"
	"sync"
	"time"
)

const (
	DefaultHardLimit = 1200
	DefaultSoftLimit = 1150
)

// Limiter counts requests in fixed wall-clock minute windows. Once the count for
// the current minute reaches the soft limit, callers wait for the next minute.
type Limiter struct {
	lock      sync.Mutex
	softLimit int
	hardLimit int
	window    int64 // unix minute the counter belongs to
	count     int

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

type Option func(*Limiter)

// WithClock replaces the wall clock and the sleep function, mainly for tests.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
		if sleep != nil {
			l.sleep = sleep
		}
	}
}

func NewLimiter(softLimit, hardLimit int, opts ...Option) *Limiter {
	if hardLimit <= 0 {
		hardLimit = DefaultHardLimit
	}
	if softLimit <= 0 || softLimit > hardLimit {
		softLimit = min(DefaultSoftLimit, hardLimit)
	}
	l := &Limiter{
		softLimit: softLimit,
		hardLimit: hardLimit,
		now:       time.Now,
		sleep:     sleepCtx,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Acquire takes one slot in the current window, waiting for the next window when
// the current one is full. The lock is only held while checking and counting.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		wait, ok := l.tryAcquire()
		if ok {
			return nil
		}
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (l *Limiter) tryAcquire() (time.Duration, bool) {
	l.lock.Lock()
	defer l.lock.Unlock()

	now := l.now()
	minute := now.Unix() / 60
	if minute != l.window {
		l.window = minute
		l.count = 0
	}
	if l.count >= l.softLimit {
		next := time.Unix((minute+1)*60, 0)
		return next.Sub(now), false
	}
	l.count++
	return 0, true
}

// Used reports the count for the current window.
func (l *Limiter) Used() int {
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.now().Unix()/60 != l.window {
		return 0
	}
	return l.count
}

func (l *Limiter) SoftLimit() int { return l.softLimit }

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
