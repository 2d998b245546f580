// Command ingestd subscribes to the firehose, decodes and filters events,
// and writes graph mutations, running until it receives SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/aegis-proto/aegis/internal/codec"
	"github.com/aegis-proto/aegis/internal/config"
	"github.com/aegis-proto/aegis/internal/dispatch"
	"github.com/aegis-proto/aegis/internal/drift"
	"github.com/aegis-proto/aegis/internal/filter"
	"github.com/aegis-proto/aegis/internal/firehose"
	"github.com/aegis-proto/aegis/internal/graphdb"
	"github.com/aegis-proto/aegis/internal/metrics"
	"github.com/aegis-proto/aegis/internal/processor"
	"github.com/aegis-proto/aegis/internal/retention"
)

func main() {
	if err := run(); err != nil {
		slog.Error("ingestd exited with error", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadIngest()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	setDefaultLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	if err := metrics.InitTracing(ctx, "aegis-ingestd"); err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	tracer := otel.Tracer("aegis-ingestd")
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

	proc := processor.New(log, tracer, db)
	d := dispatch.New(filter.NewChain(nil), proc)

	sweeper := retention.New(log, tracer, db)
	go sweeper.Run(ctx)

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

	monitor := drift.New(log, func(avgMs float64) {
		log.Error("terminating process due to sustained ingest drift", "avg_ms", avgMs)
		shutdown()
	})
	go monitor.Run(ctx)

	go metrics.RunServer(ctx, stop, cfg.MetricsAddr)

	transport := firehose.New(log, tracer, firehose.Config{
		Primary:     cfg.FirehoseHost,
		Secondary:   cfg.FirehoseHostSecondary,
		Collections: cfg.Collections,
		Compress:    cfg.CompressEnable,
	}, "")

	var token processor.Token
	handle := func(ctx context.Context, frame []byte) (int64, error) {
		rec, err := codec.Decode(frame, cfg.CompressEnable)
		if err != nil {
			log.Error("terminating process due to undecodable compressed frame", "err", err)
			shutdown()
			return 0, fmt.Errorf("decode frame: %w", err)
		}
		if rec == nil {
			return 0, nil
		}

		metrics.IngestMessages.WithLabelValues(rec.Kind, metrics.StatusOK).Inc()

		driftMs, next := d.Dispatch(ctx, rec, time.Now().UnixMicro(), token)
		token = next
		monitor.Observe(driftMs)

		if rec.TimeUs > 0 {
			transport.SetCursor(rec.TimeUs)
		}

		return driftMs, nil
	}

	if err := transport.Run(ctx, handle); err != nil {
		return fmt.Errorf("firehose transport: %w", err)
	}

	log.Info("ingestd shutdown complete")
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
