package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dmorgan81/illustrate/internal/config"
	"github.com/dmorgan81/illustrate/internal/handler"
	"github.com/dmorgan81/illustrate/internal/log"
	"github.com/dmorgan81/illustrate/internal/page"
	"github.com/dmorgan81/illustrate/internal/store"
	"github.com/gofrs/flock"
	"github.com/samber/do"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// LockFile guards an output directory against concurrent runs.
const LockFile = ".illustrate.lock"

var (
	ErrNoImages = errors.New("no images were generated")
	ErrLocked   = errors.New("output directory is in use by another run")
)

type Card struct {
	ID       int    `json:"id"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

type Options struct {
	OutputDir   string
	Title       string
	Concurrency int
	// Delay is the minimum spacing between the starts of consecutive cards.
	Delay time.Duration
}

type Summary struct {
	Backend   string           `json:"backend"`
	Results   []handler.Result `json:"results"`
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
}

func (s Summary) SuccessRate() float64 {
	total := s.Succeeded + s.Failed
	if total == 0 {
		return 0
	}
	return float64(s.Succeeded) / float64(total)
}

type Illustrator interface {
	GenerateImage(ctx context.Context, cardID int, question, answer, outputDir string) handler.Result
	Mode() string
}

type Runner struct {
	illustrator Illustrator
	templator   *page.Templator
	files       store.Uploader
	publisher   *store.Publisher
	defaults    Options
}

func New(illustrator Illustrator, templator *page.Templator, publisher *store.Publisher, defaults Options) *Runner {
	return &Runner{
		illustrator: illustrator,
		templator:   templator,
		files:       &store.FileUploader{},
		publisher:   publisher,
		defaults:    defaults,
	}
}

func NewRunner(i *do.Injector) (*Runner, error) {
	cfg := do.MustInvoke[*config.Config](i)
	var publisher *store.Publisher
	if cfg.Publish.Bucket != "" {
		publisher = do.MustInvoke[*store.Publisher](i)
	}
	return New(
		do.MustInvoke[*handler.Handler](i),
		do.MustInvoke[*page.Templator](i),
		publisher,
		Options{
			OutputDir:   cfg.Batch.OutputDir,
			Concurrency: cfg.Batch.Concurrency,
			Delay:       cfg.Batch.Delay,
		},
	), nil
}

func (r *Runner) options(opts Options) Options {
	opts.OutputDir = lo.Ternary(opts.OutputDir != "", opts.OutputDir, r.defaults.OutputDir)
	opts.Concurrency = lo.Ternary(opts.Concurrency > 0, opts.Concurrency, max(r.defaults.Concurrency, 1))
	opts.Delay = lo.Ternary(opts.Delay > 0, opts.Delay, r.defaults.Delay)
	opts.Title = lo.Ternary(opts.Title != "", opts.Title, filepath.Base(opts.OutputDir))
	return opts
}

// Run illustrates every card into opts.OutputDir and writes an index page.
// Per-card failures are reported in the summary; the returned error is set
// only when the run as a whole failed.
func (r *Runner) Run(ctx context.Context, cards []Card, opts Options) (Summary, error) {
	opts = r.options(opts)
	log := log.FromContextOrDiscard(ctx).WithGroup("batch").With("dir", opts.OutputDir, "backend", r.illustrator.Mode())
	summary := Summary{Backend: r.illustrator.Mode()}

	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return summary, fmt.Errorf("creating output dir: %w", err)
	}
	lock := flock.New(filepath.Join(opts.OutputDir, LockFile))
	locked, err := lock.TryLock()
	if err != nil {
		return summary, fmt.Errorf("locking output dir: %w", err)
	}
	if !locked {
		return summary, ErrLocked
	}
	defer func() { _ = lock.Unlock() }()

	log.Info("starting batch", "cards", len(cards), "concurrency", opts.Concurrency, "delay", opts.Delay)

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.Delay > 0 {
		limiter = rate.NewLimiter(rate.Every(opts.Delay), 1)
	}

	results := make([]handler.Result, len(cards))
	var group errgroup.Group
	group.SetLimit(opts.Concurrency)
	for idx, card := range cards {
		if err := limiter.Wait(ctx); err != nil {
			for j := idx; j < len(cards); j++ {
				results[j] = handler.Result{CardID: cards[j].ID, Error: err.Error()}
			}
			break
		}
		group.Go(func() error {
			results[idx] = r.illustrator.GenerateImage(ctx, card.ID, card.Question, card.Answer, opts.OutputDir)
			return nil
		})
	}
	_ = group.Wait()

	summary.Results = results
	for _, res := range results {
		if res.Success {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
	}
	log.Info("batch finished", "succeeded", summary.Succeeded, "failed", summary.Failed, "rate", summary.SuccessRate())

	if err := r.writeIndex(ctx, cards, opts, summary); err != nil {
		log.Warn("failed to write index page", "error", err)
	}

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	if summary.Succeeded == 0 {
		return summary, ErrNoImages
	}
	return summary, nil
}

func (r *Runner) writeIndex(ctx context.Context, cards []Card, opts Options, summary Summary) error {
	params := page.Params{
		Title:     opts.Title,
		Backend:   summary.Backend,
		Succeeded: summary.Succeeded,
		Cards: lo.Map(cards, func(c Card, idx int) page.Card {
			res := summary.Results[idx]
			return page.Card{
				ID:       c.ID,
				Question: c.Question,
				Answer:   c.Answer,
				Image:    lo.Ternary(res.Success, filepath.Base(res.ImagePath), ""),
				Error:    res.Error,
			}
		}),
	}
	html, err := r.templator.Template(ctx, params)
	if err != nil {
		return err
	}
	return r.files.Upload(ctx, store.UploadParams{
		Name:        filepath.Join(opts.OutputDir, "index.html"),
		Data:        html,
		ContentType: "text/html",
	})
}
