package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/good-yellow-bee/origami/internal/api"
	"github.com/good-yellow-bee/origami/internal/api/health"
	"github.com/good-yellow-bee/origami/internal/ingest"
	"github.com/good-yellow-bee/origami/internal/metrics"
	"github.com/good-yellow-bee/origami/pkg/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the alert pipeline, reporting API and metrics server",
	Long: `Serve restores persisted history, resumes unfinished escalations and
then processes packets from the configured file and Kafka sources until
interrupted. On shutdown every domain is snapshotted to storage.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	metrics.SetBuildInfo(config.Version, config.Commit, config.BuildTime)

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.restore(ctx); err != nil {
		return fmt.Errorf("restore history: %w", err)
	}

	logger.Info("starting origami", "version", config.Version, "domains", len(a.registry.Domains()),
		"channels", a.dispatcher.Channels())

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.router.Resume(gctx); err != nil && gctx.Err() == nil {
			return fmt.Errorf("resume chains: %w", err)
		}
		return nil
	})

	var sources []ingest.Source
	if len(cfg.Ingest.Files.Paths) > 0 {
		sources = append(sources, ingest.NewFileSource(cfg.Ingest.Files, ingest.Decoder{}, logger))
	}
	if cfg.Ingest.Kafka.Enabled {
		sources = append(sources, ingest.NewKafkaSource(cfg.Ingest.Kafka, ingest.Decoder{}, logger))
	}
	if len(sources) == 0 {
		logger.Warn("no ingest sources configured")
	}
	p := a.pipeline()
	g.Go(func() error {
		if err := p.Run(gctx, sources...); err != nil {
			logger.Error("pipeline finished with errors", "err", err)
		}
		return nil
	})

	if cfg.Domains.Security.Watch && cfg.Domains.Security.RulesFile != "" {
		g.Go(func() error {
			return a.security.Watch(gctx, cfg.Domains.Security.RulesFile, logger)
		})
	}

	if cfg.API.Enabled {
		srv, err := api.New(&cfg.API.Config, a.backend(), logger)
		if err != nil {
			return fmt.Errorf("create api server: %w", err)
		}
		if db := a.db(); db != nil {
			srv.RegisterHealthChecker(health.NewDatabaseChecker(cfg.Storage.Driver, db))
		}
		g.Go(func() error { return srv.Run(gctx) })
	}

	if cfg.Metrics.Enabled {
		ms := metrics.NewServer(cfg.Metrics.Address, logger)
		g.Go(ms.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return ms.Shutdown(shutdownCtx)
		})
	}

	<-gctx.Done()
	runErr := g.Wait()

	saveCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.snapshot(saveCtx); err != nil {
		logger.Error("snapshot failed", "err", err)
		if runErr == nil {
			runErr = err
		}
	}
	logger.Info("origami stopped")
	return runErr
}
