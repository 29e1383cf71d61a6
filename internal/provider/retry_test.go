package provider

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelpilot/internal/catalog"
)

func fastPolicy(n int) RetryPolicy {
	return RetryPolicy{MaxAttempts: n, BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond}
}

func TestRetry_RetriesOnlyRetryable(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(3), zerolog.Nop(), "op", func(context.Context) error {
		calls++
		return &NetworkError{Provider: catalog.ProviderOllama, Msg: "flaky"}
	})
	assert.True(t, IsNetworkError(err))
	assert.Equal(t, 3, calls)

	calls = 0
	err = Retry(context.Background(), fastPolicy(3), zerolog.Nop(), "op", func(context.Context) error {
		calls++
		return &ResourceError{Provider: catalog.ProviderOllama, Msg: "oom"}
	})
	assert.True(t, IsResourceError(err))
	assert.Equal(t, 1, calls, "resource errors are not retried")
}

func TestRetry_SucceedsAfterTransientFailure(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(5), zerolog.Nop(), "op", func(context.Context) error {
		calls++
		if calls < 3 {
			return &ModelLoadError{Msg: "not yet"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_StopsOnContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, RetryPolicy{MaxAttempts: 10, BaseDelay: time.Hour}, zerolog.Nop(), "op", func(context.Context) error {
		calls++
		cancel()
		return &NetworkError{}
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicy_DelayIsBounded(t *testing.T) {
	properties := gopter.NewProperties(nil)
	properties.Property("backoff never exceeds the cap and never shrinks", prop.ForAll(
		func(attempt int) bool {
			p := DefaultRetryPolicy()
			d := p.delay(attempt)
			return d <= p.MaxDelay && d >= p.BaseDelay && p.delay(attempt+1) >= d
		},
		gen.IntRange(1, 40),
	))
	properties.TestingRun(t)
}

type countingAdapter struct {
	fakeAdapterBase
	failures int
	loads    int
}

func (c *countingAdapter) Load(ctx context.Context, ref string, sink ProgressSink) (Handle, error) {
	c.loads++
	if c.loads <= c.failures {
		return Handle{}, &NetworkError{Msg: "reset"}
	}
	return Handle{Ref: ref, Token: ref}, nil
}

func TestWithRetry_WrapsLoad(t *testing.T) {
	inner := &countingAdapter{failures: 2}
	a := WithRetry(inner, fastPolicy(3), zerolog.Nop())
	h, err := a.Load(context.Background(), "m", nil)
	require.NoError(t, err)
	assert.Equal(t, "m", h.Ref)
	assert.Equal(t, 3, inner.loads)

	assert.Same(t, Adapter(inner), WithRetry(inner, fastPolicy(1), zerolog.Nop()))
}
