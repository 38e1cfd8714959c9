package inject

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"

	"github.com/dmorgan81/illustrate/internal/config"
	"github.com/dmorgan81/illustrate/internal/image"
	"github.com/dmorgan81/illustrate/internal/log"
	"github.com/dmorgan81/illustrate/internal/metrics"
	"github.com/dmorgan81/illustrate/internal/param"
	"github.com/samber/do"
)

// newRetrier builds the configured backend and wraps it with metrics and the
// retry engine. The backend is fixed for the injector's lifetime.
func newRetrier(ctx context.Context, i *do.Injector) (*image.Retrier, error) {
	cfg := do.MustInvoke[*config.Config](i)
	m := do.MustInvoke[*metrics.Metrics](i)

	backend, err := newBackend(ctx, i, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating %s backend: %w", cfg.Backend, err)
	}

	logger := log.FromContextOrDiscard(ctx).WithGroup("retry")
	retry := image.RetryConfig{
		MaxAttempts: cfg.Retry.MaxAttempts,
		Delays:      cfg.RetryDelays(),
		Timeout:     cfg.Retry.Timeout,
	}
	logger.Info("using backend", "backend", cfg.Backend, "attempts", retry.MaxAttempts, "timeout", retry.Timeout)

	return image.NewRetrier(m.Instrument(cfg.Backend, backend), retry, image.WithRetryHook(m.RetryHook(cfg.Backend))), nil
}

func newBackend(ctx context.Context, i *do.Injector, cfg *config.Config) (image.Generator, error) {
	client := do.MustInvoke[*http.Client](i)
	fetcher := lazyFetcher{i}

	switch cfg.Backend {
	case config.BackendGemini:
		key, err := param.Resolve(ctx, fetcher, cfg.Gemini.Key, cfg.Gemini.KeyParam)
		if err != nil {
			return nil, err
		}
		return image.NewGeminiGenerator(client, key, cfg.Gemini.Model, cfg.Gemini.BaseURL)
	case config.BackendPollinations:
		p := cfg.Pollinations
		return image.NewPollinationsGenerator(client, p.BaseURL, p.Model, p.Width, p.Height), nil
	case config.BackendSpace:
		token, err := param.Resolve(ctx, fetcher, cfg.Space.Token, cfg.Space.TokenParam)
		if err != nil {
			return nil, err
		}
		s := cfg.Space
		return image.NewSpaceGenerator(client, image.SpaceOptions{
			Space:          s.Name,
			Token:          token,
			HubURL:         s.HubURL,
			NegativePrompt: s.NegativePrompt,
			Width:          s.Width,
			Height:         s.Height,
			Guidance:       s.Guidance,
		})
	case config.BackendImagen:
		key, err := param.Resolve(ctx, fetcher, cfg.Imagen.Key, cfg.Imagen.KeyParam)
		if err != nil {
			return nil, err
		}
		return image.NewImagenGenerator(ctx, client, key, cfg.Imagen.Model, cfg.Imagen.BaseURL)
	case config.BackendMock:
		mode, err := image.ParseFailureMode(cfg.Mock.FailureMode)
		if err != nil {
			return nil, err
		}
		var rnd *rand.Rand
		if cfg.Mock.Seed != 0 {
			rnd = rand.New(rand.NewSource(cfg.Mock.Seed))
		}
		return image.NewMockGenerator(image.MockConfig{
			FailureMode:              mode,
			FailureRate:              cfg.Mock.FailureRate,
			MaxAttemptsBeforeSuccess: cfg.Mock.MaxAttemptsBeforeSuccess,
		}, rnd), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// lazyFetcher defers building the parameter store client until a secret
// actually has to be fetched.
type lazyFetcher struct {
	i *do.Injector
}

func (l lazyFetcher) Fetch(ctx context.Context, name string) (string, error) {
	f, err := do.Invoke[param.Fetcher](l.i)
	if err != nil {
		return "", err
	}
	return f.Fetch(ctx, name)
}
