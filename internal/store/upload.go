package store

import (
	"context"
	"os"
	"path/filepath"

	"github.com/dmorgan81/illustrate/internal/log"
)

type UploadParams struct {
	Name        string
	Data        []byte
	ContentType string
	Metadata    map[string]string
}

type Uploader interface {
	Upload(context.Context, UploadParams) error
}

// FileUploader writes to the local filesystem, treating Name as a path.
type FileUploader struct{}

func (*FileUploader) Upload(ctx context.Context, params UploadParams) error {
	log := log.FromContextOrDiscard(ctx).WithGroup("file")
	log.Info("writing", "file", params.Name, "bytes", len(params.Data))
	if err := os.MkdirAll(filepath.Dir(params.Name), 0o755); err != nil {
		return err
	}
	return os.WriteFile(params.Name, params.Data, 0o644)
}
