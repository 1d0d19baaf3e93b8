package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/v0gel/mason/internal/cdn"
	"github.com/v0gel/mason/internal/job"
	"github.com/v0gel/mason/internal/lock/lockpg"
	"github.com/v0gel/mason/internal/pipeline"
	"github.com/v0gel/mason/internal/postgresutil"
	"github.com/v0gel/mason/internal/queue/queueamqp"
	"github.com/v0gel/mason/internal/registry/registrypg"
	"github.com/v0gel/mason/internal/storage/storages3"
	"github.com/v0gel/mason/internal/worker"
)

func main() {
	if err := run(os.Environ()); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	os.Exit(0)
}

func run(environ []string) error {
	_ = godotenv.Load()

	cfg, err := parseConfig(environ)
	if err != nil {
		return err
	}

	tube, known := job.TubeFromString(cfg.Tube)
	if !known {
		return fmt.Errorf("unknown tube %q", cfg.Tube)
	}
	if tube != job.TubeBuild && tube != job.TubePreviewBuild {
		return fmt.Errorf("tube %q is not a build tube", cfg.Tube)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgresutil.NewPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	s3Client := storages3.NewClient(cfg.S3.URL)
	store := storages3.New(s3Client)

	q := queueamqp.New(cfg.AMQP.URL, tube)
	defer q.Close()

	pl := &pipeline.Pipeline{
		Queue:    q,
		Tube:     tube,
		Registry: registrypg.New(db),
		Store:    store,
		Purger:   cdn.NewClient(cfg.CDN.PurgeProxy, cfg.CDN.PurgesPerSecond),
		Config: &pipeline.Config{
			WorkDir:        cfg.Build.WorkDir,
			SourceBucket:   cfg.Build.SourceBucket,
			BuildCommand:   cfg.Build.Command,
			InstallCommand: cfg.Build.InstallCommand,
			MaxParallel:    cfg.Build.MaxParallel,
			Production:     cfg.Build.Production,
			Protocol:       cfg.Build.Protocol,
		},
	}

	promRegistry := prometheus.NewRegistry()
	w := &worker.Worker{
		Queue:   q,
		Locks:   lockpg.New(db),
		Tube:    tube,
		Handler: pl,
		Metrics: worker.NewMetrics(promRegistry, tube),
	}

	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}),
	}
	go func() {
		serveErr := metricsServer.ListenAndServe()
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			slog.Error("didn't serve metrics", "err", serveErr)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	slog.Info("starting worker", "tube", tube)
	return w.Run(ctx)
}
