package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/hml-forecast-producer/internal/adapter/feed"
	"github.com/couchcryptid/hml-forecast-producer/internal/adapter/httpadapter"
	"github.com/couchcryptid/hml-forecast-producer/internal/config"
	"github.com/couchcryptid/hml-forecast-producer/internal/domain"
	"github.com/couchcryptid/hml-forecast-producer/internal/observability"
	"github.com/couchcryptid/hml-forecast-producer/internal/pipeline"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newRunCmd() *cobra.Command {
	var printJSON bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one fetch-dedup-publish pass and exit",
		Long: "Run one pass and exit with 0 when every product was handled, 2 when some\n" +
			"listings were skipped or failed, and 1 when the run aborted.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := observability.NewLogger(cfg)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger, observability.NewMetrics())
			if err != nil {
				return err
			}
			defer a.close()

			res, runErr := a.pipeline.RunOnce(ctx)
			if printJSON {
				if err := json.NewEncoder(cmd.OutOrStdout()).Encode(res); err != nil {
					return err
				}
			}
			return runOutcome(res, runErr)
		},
	}
	cmd.Flags().BoolVar(&printJSON, "json", false, "print the run result as JSON to stdout")
	return cmd
}

// runOutcome maps a run result to the command's error and exit code.
func runOutcome(res pipeline.Result, err error) error {
	if err != nil {
		return &exitError{code: exitFatal, err: err}
	}
	if res.Status == pipeline.StatusPartial {
		return &exitError{
			code: exitPartial,
			err:  fmt.Errorf("%d listing(s) not delivered", len(res.Failures)),
		}
	}
	return nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the pipeline on RUN_INTERVAL and serve health, metrics, and status over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := observability.NewLogger(cfg)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger, observability.NewMetrics())
			if err != nil {
				return err
			}
			defer a.close()

			srv := httpadapter.NewServer(cfg.HTTPAddr, a.pipeline, a.pipeline, logger)

			g, gCtx := errgroup.WithContext(ctx)
			g.Go(func() error {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("http server: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				logger.Info("scheduler started", "interval", cfg.RunInterval, "broker", cfg.BrokerType, "store", cfg.StoreBackend)
				return a.pipeline.Run(gCtx, cfg.RunInterval)
			})
			g.Go(func() error {
				<-gCtx.Done()
				logger.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})

			err = g.Wait()
			logger.Info("shutdown complete")
			return err
		},
	}
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "Fetch and validate the catalog, print products in delivery order as JSON lines",
		Long: "Fetch the catalog, validate and sort it, and print one JSON object per\n" +
			"product. Nothing is published and the idempotency store is not touched.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := observability.NewLogger(cfg)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return inspect(ctx, feed.NewClient(cfg, logger), cmd.OutOrStdout(), logger)
		},
	}
}

func inspect(ctx context.Context, f pipeline.Fetcher, w io.Writer, logger *slog.Logger) error {
	raws, err := f.Fetch(ctx)
	if err != nil {
		return err
	}

	batch, rejected := domain.NewBatch(raws)
	for _, rerr := range rejected {
		logger.Warn("invalid product listing", "error", rerr)
	}

	enc := json.NewEncoder(w)
	for _, p := range batch {
		if err := enc.Encode(p); err != nil {
			return err
		}
	}
	logger.Info("catalog inspected", "fetched", len(raws), "valid", len(batch), "invalid", len(rejected))
	return nil
}
