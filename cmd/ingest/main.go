// Command ingest watches a directory for scraped JSON batches and loads them
// into the post store. With NATS configured it also consumes batches published
// on the ingest subject and tells API replicas which views went stale.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/fuad-ontik/Prime-Bank-Backend/engine/aggregate"
	"github.com/fuad-ontik/Prime-Bank-Backend/engine/events"
	"github.com/fuad-ontik/Prime-Bank-Backend/engine/ingest"
	"github.com/fuad-ontik/Prime-Bank-Backend/engine/store"
	"github.com/fuad-ontik/Prime-Bank-Backend/pkg/metrics"
	"github.com/fuad-ontik/Prime-Bank-Backend/pkg/natsutil"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func main() {
	_ = godotenv.Load()
	var (
		dataDir     = flag.String("dir", envOr("INGEST_DIR", "/tmp/bank-data"), "directory to watch for JSON batches")
		interval    = flag.Duration("interval", envDuration("INGEST_INTERVAL", 30*time.Second), "scan interval")
		once        = flag.Bool("once", false, "scan the directory once and exit")
		driver      = flag.String("store", envOr("STORE_DRIVER", "sqlite"), "store driver: memory, sqlite or postgres")
		dsn         = flag.String("dsn", envOr("STORE_DSN", "bank.db"), "store path or connection string")
		natsURL     = flag.String("nats", envOr("NATS_URL", ""), "NATS URL; empty disables the consumer and invalidation fan-out")
		analytics   = flag.String("config", envOr("ANALYTICS_CONFIG", ""), "analytics YAML file")
		metricsPort = flag.String("metrics-port", envOr("METRICS_PORT", "9091"), "metrics port; empty disables")
	)
	flag.Parse()

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(log)

	opts := options{Dir: *dataDir, Interval: *interval, Once: *once, Driver: *driver, DSN: *dsn, NATSURL: *natsURL, Analytics: *analytics, MetricsPort: *metricsPort}
	if err := run(opts, log); err != nil {
		log.Error("ingest exited with error", "err", err)
		os.Exit(1)
	}
}

type options struct {
	Dir, Driver, DSN, NATSURL, Analytics, MetricsPort string
	Interval                                          time.Duration
	Once                                              bool
}

func run(o options, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := metrics.New()
	if o.MetricsPort != "" {
		ms := &http.Server{Addr: ":" + o.MetricsPort, Handler: reg.Handler(), ReadTimeout: 5 * time.Second}
		go func() {
			if err := ms.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", "err", err)
			}
		}()
		defer ms.Close()
	}

	cfg, err := aggregate.LoadConfig(o.Analytics)
	if err != nil {
		return err
	}
	banks, err := cfg.Registry()
	if err != nil {
		return fmt.Errorf("bank registry: %w", err)
	}
	st, err := store.Open(ctx, o.Driver, o.DSN, banks)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	engOpts := aggregate.Options{Logger: log, Metrics: reg}
	var consume func(*ingest.Loader) error
	if o.NATSURL != "" {
		nc, err := natsutil.Connect(o.NATSURL, "bank-ingest", log)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer nc.Drain()
		// No views are served here; signals only go out to the API replicas.
		engOpts.Invalidator = events.New(nc, nil, log, reg)
		consume = func(l *ingest.Loader) error {
			_, err := ingest.StartConsumer(nc, l)
			return err
		}
	}
	// The engine is the sink so every stored item raises an invalidation.
	// It never classifies here.
	eng := aggregate.New(st, nil, banks, cfg, engOpts)
	loader := ingest.NewLoader(ingest.Deps{Sink: eng, Runs: st, Banks: banks, Logger: log, Metrics: reg})

	w := &ingest.Watcher{Dir: o.Dir, Interval: o.Interval, Loader: loader}
	if o.Once {
		n, err := w.Scan(ctx)
		log.Info("ingest: scan done", "files", n)
		return err
	}
	if consume != nil {
		if err := consume(loader); err != nil {
			return fmt.Errorf("ingest consumer: %w", err)
		}
		log.Info("ingest: consuming", "subject", ingest.IngestSubject)
	}
	log.Info("ingest: watching", "dir", o.Dir, "interval", o.Interval, "store", o.Driver)
	return w.Run(ctx)
}
