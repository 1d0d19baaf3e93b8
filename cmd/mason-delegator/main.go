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

	"github.com/v0gel/mason/internal/delegator"
	"github.com/v0gel/mason/internal/delegator/delegatorpg"
	"github.com/v0gel/mason/internal/lock/lockpg"
	"github.com/v0gel/mason/internal/postgresutil"
	"github.com/v0gel/mason/internal/queue/queueamqp"
	"github.com/v0gel/mason/internal/registry/registrypg"
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgresutil.NewPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	promRegistry := prometheus.NewRegistry()
	d := &delegator.Delegator{
		Inbox:    delegatorpg.New(db),
		Queue:    queueamqp.NewPublisher(cfg.AMQP.URL),
		Locks:    lockpg.New(db),
		Registry: registrypg.New(db),
		Metrics:  delegator.NewMetrics(promRegistry),
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

	slog.Info("starting delegator")
	return d.Run(ctx)
}
