package image

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedGenerator fails with the queued errors in order, then succeeds.
type scriptedGenerator struct {
	errs  []error
	calls int
	block bool
}

func (g *scriptedGenerator) Generate(ctx context.Context, _ Params) ([]byte, error) {
	g.calls++
	if g.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if g.calls <= len(g.errs) {
		return nil, g.errs[g.calls-1]
	}
	return pngBytes, nil
}

type recordedSleep struct {
	delays []time.Duration
}

func (r *recordedSleep) sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

func TestRetryConfigDelay(t *testing.T) {
	cfg := RetryConfig{Delays: []time.Duration{time.Second, 3 * time.Second}}
	assert.Equal(t, time.Second, cfg.Delay(1))
	assert.Equal(t, 3*time.Second, cfg.Delay(2))
	assert.Equal(t, 3*time.Second, cfg.Delay(7))
	assert.Zero(t, RetryConfig{}.Delay(1))
}

func TestRetrySucceedsOnLastAttempt(t *testing.T) {
	retryable := []*Error{
		NewConnectionError("down", nil),
		NewTimeoutError(time.Second, nil),
		NewRateLimitError("slow", 0),
		NewServerError("boom"),
		NewUnknownError(errors.New("odd")),
	}
	for _, e := range retryable {
		for n := 1; n <= 4; n++ {
			gen := &scriptedGenerator{}
			for i := 0; i < n-1; i++ {
				gen.errs = append(gen.errs, e)
			}
			sleeps := &recordedSleep{}
			r := NewRetrier(gen, RetryConfig{MaxAttempts: n, Delays: []time.Duration{time.Millisecond}}, WithSleeper(sleeps.sleep))

			img, err := r.Generate(context.Background(), Params{Prompt: "x"})
			require.NoError(t, err, "%s with %d attempts", e.Kind, n)
			assert.Equal(t, pngBytes, img)
			assert.Equal(t, n, gen.calls)
			assert.Len(t, sleeps.delays, n-1)
		}
	}
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	gen := &scriptedGenerator{errs: []error{NewClientError(MsgInvalidAPIKey), NewServerError("never reached")}}
	sleeps := &recordedSleep{}
	r := NewRetrier(gen, RetryConfig{MaxAttempts: 5, Delays: []time.Duration{time.Second}}, WithSleeper(sleeps.sleep))

	_, err := r.Generate(context.Background(), Params{Prompt: "x"})
	assert.EqualError(t, err, MsgInvalidAPIKey)
	assert.Equal(t, 1, gen.calls)
	assert.Empty(t, sleeps.delays)
}

func TestRetryReturnsLastError(t *testing.T) {
	gen := &scriptedGenerator{errs: []error{NewServerError("first"), NewConnectionError("second", nil), NewServerError("third")}}
	sleeps := &recordedSleep{}
	r := NewRetrier(gen, RetryConfig{MaxAttempts: 3, Delays: []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}}, WithSleeper(sleeps.sleep))

	_, err := r.Generate(context.Background(), Params{Prompt: "x"})
	assert.EqualError(t, err, "third")
	assert.Equal(t, 3, gen.calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeps.delays)
}

func TestRetryDelayClampsToLast(t *testing.T) {
	gen := &scriptedGenerator{errs: []error{NewServerError("a"), NewServerError("b"), NewServerError("c"), NewServerError("d")}}
	sleeps := &recordedSleep{}
	r := NewRetrier(gen, RetryConfig{MaxAttempts: 5, Delays: []time.Duration{time.Second, 2 * time.Second}}, WithSleeper(sleeps.sleep))

	_, err := r.Generate(context.Background(), Params{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 2 * time.Second, 2 * time.Second}, sleeps.delays)
}

func TestRetryHonorsRetryAfter(t *testing.T) {
	gen := &scriptedGenerator{errs: []error{NewRateLimitError(MsgRateLimited, 5*time.Second)}}
	sleeps := &recordedSleep{}
	var hooked []time.Duration
	r := NewRetrier(gen, RetryConfig{MaxAttempts: 2, Delays: []time.Duration{time.Second}},
		WithSleeper(sleeps.sleep),
		WithRetryHook(func(attempt int, delay time.Duration, err *Error) {
			assert.Equal(t, 1, attempt)
			assert.Equal(t, KindRateLimit, err.Kind)
			hooked = append(hooked, delay)
		}))

	_, err := r.Generate(context.Background(), Params{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{5 * time.Second}, sleeps.delays)
	assert.Equal(t, []time.Duration{5 * time.Second}, hooked)
}

func TestRetryAttemptTimeout(t *testing.T) {
	gen := &scriptedGenerator{block: true}
	sleeps := &recordedSleep{}
	r := NewRetrier(gen, RetryConfig{MaxAttempts: 2, Timeout: 10 * time.Millisecond}, WithSleeper(sleeps.sleep))

	_, err := r.Generate(context.Background(), Params{Prompt: "x"})
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, KindTimeout, e.Kind)
	assert.Equal(t, 2, gen.calls)
}

func TestRetryEmptyBytesIsFailure(t *testing.T) {
	r := NewRetrier(emptyGenerator{}, RetryConfig{MaxAttempts: 3})

	_, err := r.Generate(context.Background(), Params{Prompt: "x"})
	assert.EqualError(t, err, MsgNoImageData)
}

func TestRetryStopsWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	gen := &scriptedGenerator{errs: []error{NewServerError("a"), NewServerError("b")}}
	r := NewRetrier(gen, RetryConfig{MaxAttempts: 3, Delays: []time.Duration{time.Hour}},
		WithSleeper(func(ctx context.Context, d time.Duration) error {
			cancel()
			return sleepContext(ctx, d)
		}))

	_, err := r.Generate(ctx, Params{Prompt: "x"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, gen.calls)
}

func TestRetrierShutdownClosesBackend(t *testing.T) {
	closer := &closingGenerator{}
	r := NewRetrier(closer, DefaultRetryConfig())
	require.NoError(t, r.Shutdown())
	assert.True(t, closer.closed)

	assert.NoError(t, NewRetrier(emptyGenerator{}, DefaultRetryConfig()).Shutdown())
}

func TestNewRetrierNormalizesAttempts(t *testing.T) {
	r := NewRetrier(emptyGenerator{}, RetryConfig{MaxAttempts: 0})
	assert.Equal(t, 1, r.Config().MaxAttempts)
}

type emptyGenerator struct{}

func (emptyGenerator) Generate(context.Context, Params) ([]byte, error) {
	return nil, nil
}

type closingGenerator struct {
	emptyGenerator
	closed bool
}

func (g *closingGenerator) Close() error {
	g.closed = true
	return nil
}
