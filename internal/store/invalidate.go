package store

import (
	"context"

	"github.com/dmorgan81/illustrate/internal/log"
)

type Invalidator interface {
	Invalidate(context.Context, []string) error
}

// nopInvalidator stands in when no CDN distribution is configured.
type nopInvalidator struct{}

func (nopInvalidator) Invalidate(ctx context.Context, paths []string) error {
	log.FromContextOrDiscard(ctx).WithGroup("cloudfront").Debug("no distribution configured, skipping invalidation", "paths", len(paths))
	return nil
}
