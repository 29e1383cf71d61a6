package provider

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// RetryPolicy bounds attempts and exponential backoff.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy is 3 attempts, 500ms doubling up to 8s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 8 * time.Second}
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return d
}

// Retry runs fn until it succeeds, returns a non-retryable error, the
// attempts run out, or ctx is done.
func Retry(ctx context.Context, p RetryPolicy, log zerolog.Logger, op string, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil || !Retryable(err) || attempt == attempts {
			return err
		}
		d := p.delay(attempt)
		log.Warn().Err(err).Str("op", op).Int("attempt", attempt).Dur("backoff", d).Msg("retrying")
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
	}
	return err
}

// retrying wraps an Adapter so Load is retried under a RetryPolicy.
type retrying struct {
	Adapter
	policy RetryPolicy
	log    zerolog.Logger
}

// WithRetry returns a wrapped adapter whose Load retries ModelLoadError and
// NetworkError with backoff.
func WithRetry(a Adapter, p RetryPolicy, log zerolog.Logger) Adapter {
	if p.MaxAttempts <= 1 {
		return a
	}
	return &retrying{Adapter: a, policy: p, log: log}
}

func (r *retrying) Load(ctx context.Context, ref string, sink ProgressSink) (Handle, error) {
	var h Handle
	err := Retry(ctx, r.policy, r.log, "load "+ref, func(ctx context.Context) error {
		var err error
		h, err = r.Adapter.Load(ctx, ref, sink)
		return err
	})
	return h, err
}
