package inject

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/dmorgan81/illustrate/internal/batch"
	"github.com/dmorgan81/illustrate/internal/config"
	"github.com/dmorgan81/illustrate/internal/handler"
	"github.com/dmorgan81/illustrate/internal/image"
	"github.com/samber/do"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mockConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("ILLUSTRATE_BACKEND", "mock")
	t.Setenv("ILLUSTRATE_RETRY_DELAYS", "1ms")
	cfg, err := config.Load(config.New(), "")
	require.NoError(t, err)
	return cfg
}

func TestSetupMockEndToEnd(t *testing.T) {
	cfg := mockConfig(t)
	cfg.Batch.OutputDir = t.TempDir()
	cfg.Mock.FailureMode = "connection"
	cfg.Mock.MaxAttemptsBeforeSuccess = 2

	injector := Setup(context.Background(), cfg)
	t.Cleanup(func() { _ = injector.Shutdown() })

	h := do.MustInvoke[*handler.Handler](injector)
	assert.Equal(t, "mock", h.Mode())

	res := h.GenerateImage(context.Background(), 7, "Q", "A", cfg.Batch.OutputDir)
	require.True(t, res.Success, res.Error)
	info, err := os.Stat(filepath.Join(cfg.Batch.OutputDir, "card-007.png"))
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	runner := do.MustInvoke[*batch.Runner](injector)
	summary, err := runner.Run(context.Background(), []batch.Card{{ID: 1, Question: "Q", Answer: "A"}}, batch.Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
}

func TestSetupRetryConfig(t *testing.T) {
	cfg := mockConfig(t)
	cfg.Retry.MaxAttempts = 4

	injector := Setup(context.Background(), cfg)
	r := do.MustInvoke[*image.Retrier](injector)
	assert.Equal(t, 4, r.Config().MaxAttempts)
}

func TestSetupBackends(t *testing.T) {
	for _, backend := range []string{config.BackendPollinations, config.BackendSpace, config.BackendGemini} {
		t.Run(backend, func(t *testing.T) {
			cfg := mockConfig(t)
			cfg.Backend = backend
			cfg.Space.Name = "owner/painter"
			cfg.Gemini.Key = "key"

			_, err := do.Invoke[*image.Retrier](Setup(context.Background(), cfg))
			assert.NoError(t, err)
		})
	}
}
