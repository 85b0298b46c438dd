package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/samvad-hq/samvad-base-service/internal/app"
	"github.com/samvad-hq/samvad-base-service/internal/config"
	"github.com/samvad-hq/samvad-base-service/internal/logger"
	"github.com/samvad-hq/samvad-base-service/pkg/httpclient"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "basesvc: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.Init(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Close()

	logger.DebugObj("basesvc starting", "config", map[string]any{
		"app_env":         cfg.Env,
		"http_timeout":    cfg.HTTPTimeout.String(),
		"journal_type":    cfg.JournalType,
		"publishers_file": cfg.PublishersFile,
		"request_method":  cfg.RequestMethod,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner, err := app.NewRunner(ctx, cfg, log)
	if err != nil {
		logger.ErrorObj("failed to initialize runner", "error", err.Error())
		return err
	}
	defer func() {
		if err := runner.Close(); err != nil {
			logger.ErrorObj("runner close failed", "error", err.Error())
		}
	}()

	if err := httpclient.ConfigureShared(runner.ServiceOptions()...); err != nil {
		return fmt.Errorf("configure service: %w", err)
	}

	return runner.Run(ctx, httpclient.Shared(), os.Stdout)
}
