package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dmorgan81/illustrate/internal/batch"
	"github.com/dmorgan81/illustrate/internal/config"
	"github.com/dmorgan81/illustrate/internal/deck"
	"github.com/dmorgan81/illustrate/internal/inject"
	"github.com/dmorgan81/illustrate/internal/log"
	"github.com/dmorgan81/illustrate/internal/metrics"
	"github.com/dmorgan81/illustrate/internal/store"
	"github.com/joho/godotenv"
	"github.com/samber/do"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type app struct {
	v       *viper.Viper
	cfgPath string
	envFile string
	publish bool
}

// flagKeys maps persistent flags onto config keys.
var flagKeys = map[string]string{
	"backend":      "backend",
	"log-level":    "log_level",
	"log-format":   "log_format",
	"output":       "batch.output_dir",
	"concurrency":  "batch.concurrency",
	"delay":        "batch.delay",
	"attempts":     "retry.max_attempts",
	"timeout":      "retry.timeout",
	"mock-failure": "mock.failure_mode",
	"mock-rate":    "mock.failure_rate",
	"metrics-file": "metrics.textfile",
}

func NewRootCommand() *cobra.Command {
	a := &app{v: config.New()}

	root := &cobra.Command{
		Use:           "illustrate <deck.tsv>",
		Short:         "Illustrate a flashcard deck with generated images",
		Long:          `Illustrate reads a tab-separated flashcard deck, generates one image per card and writes the images, an annotated deck and a preview page to the output directory.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          a.runDeck,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgPath, "config", "", "config file (yaml, json or toml)")
	flags.StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before configuration")
	flags.String("backend", config.BackendPollinations, "image backend: gemini, pollinations, space, imagen or mock")
	flags.String("log-level", "info", "log level: debug, info, warn or error")
	flags.String("log-format", "text", "log format: json or text")
	flags.StringP("output", "o", "illustrated", "output directory")
	flags.IntP("concurrency", "c", 1, "cards illustrated at once")
	flags.Duration("delay", 0, "minimum spacing between card starts")
	flags.Int("attempts", 3, "attempts per card")
	flags.Duration("timeout", time.Minute, "per-attempt timeout")
	flags.String("mock-failure", "none", "mock backend failure mode: none, connection, timeout, ratelimit, server or random")
	flags.Float64("mock-rate", 0.3, "mock backend failure rate for random mode")
	flags.String("metrics-file", "", "write prometheus metrics to this textfile")
	root.Flags().BoolVar(&a.publish, "publish", false, "upload the output directory to the configured bucket")

	for name, key := range flagKeys {
		_ = a.v.BindPFlag(key, flags.Lookup(name))
	}
	// humans read the CLI's logs; the lambda keeps the json default
	a.v.SetDefault("log_format", "text")

	root.AddCommand(a.cardCommand())
	return root
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := NewRootCommand()
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
		return err
	}
	return nil
}

func (a *app) setup(cmd *cobra.Command) (context.Context, *config.Config, *do.Injector, error) {
	if err := godotenv.Load(a.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, nil, nil, fmt.Errorf("loading %s: %w", a.envFile, err)
	}
	cfg, err := config.Load(a.v, a.cfgPath)
	if err != nil {
		return nil, nil, nil, err
	}
	logger := log.NewWithOptions(cmd.ErrOrStderr(), cfg.LogFormat, log.ParseLevel(cfg.LogLevel))
	ctx := log.NewContext(cmd.Context(), logger)
	return ctx, cfg, inject.Setup(ctx, cfg), nil
}

func (a *app) runDeck(cmd *cobra.Command, args []string) error {
	ctx, cfg, injector, err := a.setup(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = injector.Shutdown() }()

	path := args[0]
	d, err := deck.Load(path)
	if err != nil {
		return fmt.Errorf("loading deck: %w", err)
	}
	cards := lo.Map(d.Cards, func(c deck.Card, _ int) batch.Card {
		return batch.Card{ID: c.ID, Question: c.Question, Answer: c.Answer}
	})

	runner := do.MustInvoke[*batch.Runner](injector)
	summary, runErr := runner.Run(ctx, cards, batch.Options{
		Title: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
	})

	if len(summary.Results) == len(d.Cards) {
		for idx, res := range summary.Results {
			if res.Success {
				d.Cards[idx].Image = filepath.Base(res.ImagePath)
			}
		}
		if err := deck.Save(filepath.Join(cfg.Batch.OutputDir, filepath.Base(path)), d); err != nil {
			return fmt.Errorf("saving deck: %w", err)
		}
		printSummary(cmd.OutOrStdout(), summary)
	}

	if cfg.Metrics.Textfile != "" {
		if err := do.MustInvoke[*metrics.Metrics](injector).WriteTextfile(cfg.Metrics.Textfile); err != nil {
			return fmt.Errorf("writing metrics: %w", err)
		}
	}
	if runErr != nil {
		return runErr
	}

	if a.publish {
		if cfg.Publish.Bucket == "" {
			return fmt.Errorf("%w: --publish needs publish.bucket", config.ErrInvalidConfig)
		}
		keys, err := do.MustInvoke[*store.Publisher](injector).Publish(ctx, cfg.Batch.OutputDir)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "published %d objects to s3://%s\n", len(keys), cfg.Publish.Bucket)
	}
	return nil
}

func printSummary(out io.Writer, summary batch.Summary) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, "CARD\tSTATUS\tDETAIL")
	for _, res := range summary.Results {
		status := lo.Ternary(res.Success, "ok", "failed")
		detail := lo.Ternary(res.Success, res.ImagePath, res.Error)
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\n", res.CardID, status, detail)
	}
	_ = w.Flush()
	_, _ = fmt.Fprintf(out, "%d/%d cards illustrated with %s (%.0f%%)\n",
		summary.Succeeded, len(summary.Results), summary.Backend, summary.SuccessRate()*100)
}
