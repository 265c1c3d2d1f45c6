package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

var ErrRetriesExhausted = errors.New("retries exhausted")

// RateLimitError is returned when the server rejects a request for exceeding its limits.
type RateLimitError struct {
	Status     int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited by server (status %d)", e.Status)
}

// Classifier reports whether err is worth retrying.
type Classifier func(err error) bool

type Settings struct {
	MaxRetries int           // total attempts
	BaseDelay  time.Duration // first backoff, doubled per attempt
	MinSpacing time.Duration // delay before each attempt, per caller
	Timeout    time.Duration // per attempt
}

// Client runs calls through the minute-window limiter, a per-call delay and retry with backoff.
type Client struct {
	limiter    *Limiter
	spacing    time.Duration
	maxRetries int
	baseDelay  time.Duration
	timeout    time.Duration
	retryable  Classifier
	sleep      func(ctx context.Context, d time.Duration) error
	log        *logrus.Entry
}

func NewClient(limiter *Limiter, cfg Settings, retryable Classifier, log *logrus.Logger) *Client {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if retryable == nil {
		retryable = DefaultRetryable
	}
	return &Client{
		limiter:    limiter,
		spacing:    cfg.MinSpacing,
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.BaseDelay,
		timeout:    cfg.Timeout,
		retryable:  retryable,
		sleep:      sleepCtx,
		log:        log.WithField("component", "ratelimit"),
	}
}

// WithSleep swaps the sleep used for spacing and backoff, mainly for tests.
func (c *Client) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *Client {
	c.sleep = sleep
	return c
}

// Call runs fn with rate limiting and retries. Non-retryable errors come back as-is;
// when every attempt fails the error wraps ErrRetriesExhausted and the last failure.
func Call[T any](ctx context.Context, c *Client, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if err := c.limiter.Acquire(ctx); err != nil {
			return zero, err
		}
		// only the window counter is shared; the delay runs in the caller's goroutine
		if c.spacing > 0 {
			if err := c.sleep(ctx, c.spacing); err != nil {
				return zero, err
			}
		}

		result, err := runAttempt(ctx, c.timeout, fn)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if !c.retryable(err) {
			return zero, err
		}
		lastErr = err

		if attempt == c.maxRetries-1 {
			break
		}
		delay := c.backoff(err, attempt)
		c.log.WithFields(logrus.Fields{
			"op":      op,
			"attempt": attempt + 1,
			"delay":   delay.String(),
		}).Warnf("🔁 Retrying after error: %v", err)
		if err := c.sleep(ctx, delay); err != nil {
			return zero, err
		}
	}

	return zero, fmt.Errorf("%s: %w after %d attempts: %w", op, ErrRetriesExhausted, c.maxRetries, lastErr)
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(callCtx)
}

func (c *Client) backoff(err error, attempt int) time.Duration {
	var rl *RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		return rl.RetryAfter
	}
	return c.baseDelay * time.Duration(1<<attempt)
}

// DefaultRetryable treats timeouts, dropped connections and server rate limiting as transient.
func DefaultRetryable(err error) bool {
	if err == nil {
		return false
	}
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, http.ErrHandlerTimeout) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "eof")
}
