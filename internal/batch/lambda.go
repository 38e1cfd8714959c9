package batch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dmorgan81/illustrate/internal/log"
	"github.com/samber/lo"
)

type Event struct {
	Cards     []Card `json:"cards"`
	OutputDir string `json:"outputDir,omitempty"`
	Title     string `json:"title,omitempty"`
}

// Handle is the Lambda entry point. Relative output directories live under
// the writable temp dir, and finished runs are published when a bucket is
// configured.
func (r *Runner) Handle(ctx context.Context, event Event) (Summary, error) {
	log := log.FromContextOrDiscard(ctx).WithGroup("Handler").With("cards", len(event.Cards))
	log.Info("handling lambda invocation")

	dir := lo.Ternary(event.OutputDir != "", event.OutputDir, r.defaults.OutputDir)
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(os.TempDir(), dir)
	}
	cards := lo.Map(event.Cards, func(c Card, idx int) Card {
		c.ID = lo.Ternary(c.ID > 0, c.ID, idx+1)
		return c
	})

	summary, err := r.Run(ctx, cards, Options{OutputDir: dir, Title: event.Title})
	if err != nil {
		return summary, err
	}
	if r.publisher != nil {
		if _, err := r.publisher.Publish(ctx, dir); err != nil {
			return summary, fmt.Errorf("publishing: %w", err)
		}
	}
	return summary, nil
}
