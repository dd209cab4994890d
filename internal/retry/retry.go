package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy configures exponential backoff between attempts.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultPolicy is used for zero-valued fields.
var DefaultPolicy = Policy{
	MaxAttempts:     5,
	InitialInterval: time.Second,
	MaxInterval:     30 * time.Second,
}

// temporary is implemented by errors that know whether they are retryable.
type temporary interface {
	Temporary() bool
}

// IsRetryable reports whether err, or anything it wraps, is marked temporary.
func IsRetryable(err error) bool {
	var t temporary
	return errors.As(err, &t) && t.Temporary()
}

// Backoff retries temporary failures with exponential backoff and gives up
// immediately on anything else.
type Backoff struct {
	policy Policy
	logger *slog.Logger
}

// New creates a Backoff retrier. Zero fields fall back to DefaultPolicy.
func New(p Policy, logger *slog.Logger) *Backoff {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultPolicy.MaxAttempts
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = DefaultPolicy.InitialInterval
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = DefaultPolicy.MaxInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Backoff{policy: p, logger: logger}
}

// Do runs op until it succeeds, fails permanently, the attempt budget is
// spent, or ctx is done.
func (b *Backoff) Do(ctx context.Context, op func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = b.policy.InitialInterval
	eb.MaxInterval = b.policy.MaxInterval
	eb.MaxElapsedTime = 0

	policy := backoff.WithContext(
		backoff.WithMaxRetries(eb, uint64(b.policy.MaxAttempts-1)), ctx)

	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		b.logger.Warn("retrying request", "attempt", attempt, "wait", wait, "error", err)
	})
}
