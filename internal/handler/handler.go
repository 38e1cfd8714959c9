package handler

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dmorgan81/illustrate/internal/config"
	"github.com/dmorgan81/illustrate/internal/image"
	"github.com/dmorgan81/illustrate/internal/log"
	"github.com/dmorgan81/illustrate/internal/metrics"
	"github.com/dmorgan81/illustrate/internal/prompt"
	"github.com/dmorgan81/illustrate/internal/store"
	"github.com/samber/do"
)

// Result reports the outcome for one card. Exactly one of ImagePath and
// Error is set.
type Result struct {
	CardID    int    `json:"cardId"`
	Success   bool   `json:"success"`
	ImagePath string `json:"imagePath,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Handler is the single entry point callers use to illustrate a card. It is
// the error boundary: nothing it calls can make GenerateImage fail.
type Handler struct {
	mode      string
	builder   *prompt.Builder
	generator image.Generator
	uploader  store.Uploader
	metrics   *metrics.Metrics
}

func New(mode string, builder *prompt.Builder, generator image.Generator, uploader store.Uploader, m *metrics.Metrics) *Handler {
	return &Handler{
		mode:      mode,
		builder:   builder,
		generator: generator,
		uploader:  uploader,
		metrics:   m,
	}
}

func NewHandler(i *do.Injector) (*Handler, error) {
	return New(
		do.MustInvoke[*config.Config](i).Backend,
		do.MustInvoke[*prompt.Builder](i),
		do.MustInvoke[*image.Retrier](i),
		do.MustInvoke[store.Uploader](i),
		do.MustInvoke[*metrics.Metrics](i),
	), nil
}

// Mode names the backend selected at construction.
func (h *Handler) Mode() string {
	return h.mode
}

func ImageName(cardID int) string {
	return fmt.Sprintf("card-%03d.png", cardID)
}

func (h *Handler) GenerateImage(ctx context.Context, cardID int, question, answer, outputDir string) (result Result) {
	log := log.FromContextOrDiscard(ctx).WithGroup("handler").With("card", cardID, "backend", h.mode)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			log.Error("recovered from panic", "panic", r)
			result = Result{CardID: cardID, Error: fmt.Sprintf("internal error: %v", r)}
		}
		if h.metrics != nil {
			h.metrics.ObserveCard(h.mode, result.Success, time.Since(start))
		}
	}()

	log.Info("illustrating card")
	path, err := h.generate(ctx, cardID, question, answer, outputDir)
	if err != nil {
		log.Error("card failed", "error", err)
		return Result{CardID: cardID, Error: message(err)}
	}
	log.Info("card illustrated", "path", path, "elapsed", time.Since(start))
	return Result{CardID: cardID, Success: true, ImagePath: path}
}

func (h *Handler) generate(ctx context.Context, cardID int, question, answer, outputDir string) (string, error) {
	text, err := h.builder.Build(ctx, question, answer)
	if err != nil {
		return "", err
	}

	data, err := h.generator.Generate(ctx, image.Params{CardID: cardID, Prompt: text})
	if err != nil {
		return "", err
	}

	path := filepath.Join(outputDir, ImageName(cardID))
	err = h.uploader.Upload(ctx, store.UploadParams{
		Name:        path,
		Data:        data,
		ContentType: "image/png",
		Metadata: map[string]string{
			"card":    strconv.Itoa(cardID),
			"backend": h.mode,
		},
	})
	if err != nil {
		return "", fmt.Errorf("saving image: %w", err)
	}
	return path, nil
}

const unknownError = "unknown error"

// message never returns "", so a failed Result always carries an error.
func message(err error) string {
	var e *image.Error
	if errors.As(err, &e) {
		if e.Message != "" {
			return e.Message
		}
		if e.Err != nil && e.Err.Error() != "" {
			return e.Err.Error()
		}
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return unknownError
}
