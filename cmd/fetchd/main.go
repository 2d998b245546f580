// Command fetchd serves the personalized post ranking HTTP endpoint,
// backfilling each newly seen DID's social graph on demand.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/aegis-proto/aegis/internal/backfill"
	"github.com/aegis-proto/aegis/internal/config"
	"github.com/aegis-proto/aegis/internal/fetch"
	"github.com/aegis-proto/aegis/internal/graphdb"
	"github.com/aegis-proto/aegis/internal/metrics"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fetchd exited with error", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadFetch()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	setDefaultLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	if err := metrics.InitTracing(ctx, "aegis-fetchd"); err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	tracer := otel.Tracer("aegis-fetchd")
	log := slog.Default()

	gcfg := graphdb.Config{
		URI:      cfg.Graph.URI,
		User:     cfg.Graph.User,
		Password: cfg.Graph.Password,
	}
	if cfg.Graph.Replica {
		gcfg.ReplicaURI = cfg.Graph.ReplicaURI
	}
	db, err := graphdb.New(ctx, log, tracer, gcfg)
	if err != nil {
		return fmt.Errorf("connect graph database: %w", err)
	}
	defer db.Close(context.Background()) //nolint:errcheck

	xrpcHost := cfg.FeedgenHostname
	if xrpcHost == "" {
		xrpcHost = "https://public.api.bsky.app"
	}
	client := backfill.NewClient(xrpcHost)
	engine := backfill.New(log, tracer, client, db)
	coord := fetch.New(log, tracer, db, engine.IsInFlight)

	var shutOnce sync.Once
	shutdown := func() { shutOnce.Do(stop) }

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-ctx.Done():
		case <-sig:
			log.Info("received shutdown signal")
			shutdown()
		}
	}()

	go metrics.RunServer(ctx, stop, cfg.MetricsAddr)

	onDID := func(did string) {
		go func() {
			bgCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := engine.Backfill(bgCtx, did); err != nil {
				log.Warn("backfill failed", "did", did, "error", err)
			}
		}()
	}

	mux := http.NewServeMux()
	mux.Handle("/fetchPosts", fetch.Handler(log, coord, onDID))

	srv := &http.Server{
		Addr:         cfg.FetchAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("fetch server listening", "addr", cfg.FetchAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		shutdown()
		wg.Wait()
		return fmt.Errorf("fetch server: %w", err)
	}

	wg.Wait()
	log.Info("fetchd shutdown complete")
	return nil
}

func setDefaultLogger(level, format string) {
	opts := &slog.HandlerOptions{}
	switch strings.ToLower(level) {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn", "warning":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
