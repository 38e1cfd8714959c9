package image

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/dmorgan81/illustrate/internal/log"
)

type RetryConfig struct {
	MaxAttempts int
	// Delays holds the wait after each failed attempt; the last entry repeats
	// for attempts beyond its length.
	Delays  []time.Duration
	Timeout time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		Delays:      []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second},
		Timeout:     60 * time.Second,
	}
}

// Delay returns the configured wait after the given 1-based attempt.
func (c RetryConfig) Delay(attempt int) time.Duration {
	if len(c.Delays) == 0 {
		return 0
	}
	return c.Delays[min(max(attempt-1, 0), len(c.Delays)-1)]
}

// RetryHook observes every scheduled retry before the engine sleeps.
type RetryHook func(attempt int, delay time.Duration, err *Error)

type Sleeper func(context.Context, time.Duration) error

type RetryOption func(*Retrier)

func WithRetryHook(hook RetryHook) RetryOption {
	return func(r *Retrier) { r.hooks = append(r.hooks, hook) }
}

func WithSleeper(sleep Sleeper) RetryOption {
	return func(r *Retrier) { r.sleep = sleep }
}

// Retrier is the only component that retries: it wraps a backend and applies
// bounded attempts with classification-aware backoff.
type Retrier struct {
	generator Generator
	config    RetryConfig
	hooks     []RetryHook
	sleep     Sleeper
}

func NewRetrier(generator Generator, config RetryConfig, opts ...RetryOption) *Retrier {
	config.MaxAttempts = max(config.MaxAttempts, 1)
	config.Delays = append([]time.Duration(nil), config.Delays...)
	r := &Retrier{generator: generator, config: config, sleep: sleepContext}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Retrier) Config() RetryConfig {
	return r.config
}

func (r *Retrier) Generate(ctx context.Context, params Params) ([]byte, error) {
	logger := log.FromContextOrDiscard(ctx).WithGroup("retry").With("card", params.CardID)

	var last *Error
	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		data, err := r.attempt(ctx, params)
		if err == nil {
			if attempt > 1 {
				logger.Info("succeeded after retry", "attempt", attempt)
			}
			return data, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}

		last = Classify(err)
		attrs := []any{"attempt", attempt, "max", r.config.MaxAttempts, "kind", last.Kind.String(), "error", last.Message}
		if !last.Retryable {
			logger.Warn("attempt failed, not retryable", attrs...)
			return nil, last
		}
		if attempt == r.config.MaxAttempts {
			logger.Warn("attempt failed, giving up", attrs...)
			return nil, last
		}

		delay := r.config.Delay(attempt)
		if last.RetryAfter > 0 {
			delay = last.RetryAfter
		}
		logger.Warn("attempt failed, retrying", append(attrs, slog.Duration("delay", delay))...)
		for _, hook := range r.hooks {
			hook(attempt, delay, last)
		}
		if err := r.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, last
}

func (r *Retrier) attempt(ctx context.Context, params Params) ([]byte, error) {
	if r.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
	}

	data, err := r.generator.Generate(ctx, params)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, NewTimeoutError(r.config.Timeout, err)
		}
		return nil, err
	}
	if len(data) == 0 {
		return nil, NewClientError(MsgNoImageData)
	}
	return data, nil
}

// Shutdown releases the wrapped backend's resources.
func (r *Retrier) Shutdown() error {
	if c, ok := r.generator.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
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
