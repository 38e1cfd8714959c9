package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/dmorgan81/illustrate/internal/batch"
	"github.com/dmorgan81/illustrate/internal/cli"
	"github.com/dmorgan81/illustrate/internal/config"
	"github.com/dmorgan81/illustrate/internal/inject"
	"github.com/dmorgan81/illustrate/internal/log"
	"github.com/samber/do"
)

func main() {
	if os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" {
		startLambda()
		return
	}
	if err := cli.Execute(context.Background()); err != nil {
		os.Exit(1)
	}
}

func startLambda() {
	ctx := log.NewContext(context.Background(), log.New(os.Stderr))
	cfg, err := config.Load(config.New(), os.Getenv("ILLUSTRATE_CONFIG_FILE"))
	if err != nil {
		log.FromContextOrDiscard(ctx).Error("loading configuration", "error", err)
		os.Exit(1)
	}
	ctx = log.NewContext(ctx, log.NewWithOptions(os.Stderr, cfg.LogFormat, log.ParseLevel(cfg.LogLevel)))

	injector := inject.Setup(ctx, cfg)
	runner := do.MustInvoke[*batch.Runner](injector)
	lambda.StartWithOptions(runner.Handle, lambda.WithContext(ctx), lambda.WithEnableSIGTERM(func() {
		_ = injector.Shutdown()
	}))
}
