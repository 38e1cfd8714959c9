package store

import (
	"context"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/dmorgan81/illustrate/internal/log"
	"github.com/samber/do"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

const publishWorkers = 4

// Publisher mirrors a finished output directory to the object store and
// invalidates every uploaded path.
type Publisher struct {
	uploader    *S3Uploader
	invalidator Invalidator
}

func NewPublisher(uploader *S3Uploader, invalidator Invalidator) *Publisher {
	return &Publisher{uploader: uploader, invalidator: invalidator}
}

func NewS3Publisher(i *do.Injector) (*Publisher, error) {
	return NewPublisher(do.MustInvoke[*S3Uploader](i), do.MustInvoke[Invalidator](i)), nil
}

// Publish uploads every regular, non-hidden file under dir and returns the
// object keys written.
func (p *Publisher) Publish(ctx context.Context, dir string) ([]string, error) {
	log := log.FromContextOrDiscard(ctx).WithGroup("publish").With("dir", dir, "bucket", p.uploader.Bucket)
	log.Info("publishing output directory")

	var names []string
	err := filepath.WalkDir(dir, func(file string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if strings.HasPrefix(d.Name(), ".") && file != dir {
			return lo.Ternary(d.IsDir(), fs.SkipDir, nil)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, file)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(publishWorkers)
	for _, name := range names {
		group.Go(func() error {
			data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(name)))
			if err != nil {
				return err
			}
			return p.uploader.Upload(gctx, UploadParams{
				Name:        name,
				Data:        data,
				ContentType: contentType(name),
			})
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	keys := lo.Map(names, func(name string, _ int) string { return p.uploader.Key(name) })
	paths := lo.Map(keys, func(key string, _ int) string { return "/" + key })
	if err := p.invalidator.Invalidate(ctx, paths); err != nil {
		return keys, fmt.Errorf("invalidating: %w", err)
	}
	log.Info("published", "objects", len(keys))
	return keys, nil
}

func contentType(name string) string {
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}
	if strings.HasSuffix(name, ".tsv") {
		return "text/tab-separated-values"
	}
	return "application/octet-stream"
}
