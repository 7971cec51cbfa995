// Package main implements the bank mentions analytics API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/nats-io/nats.go"

	"github.com/fuad-ontik/Prime-Bank-Backend/engine/aggregate"
	"github.com/fuad-ontik/Prime-Bank-Backend/engine/classify"
	"github.com/fuad-ontik/Prime-Bank-Backend/engine/dashboard"
	"github.com/fuad-ontik/Prime-Bank-Backend/engine/events"
	"github.com/fuad-ontik/Prime-Bank-Backend/engine/graph"
	"github.com/fuad-ontik/Prime-Bank-Backend/engine/ingest"
	"github.com/fuad-ontik/Prime-Bank-Backend/engine/overview"
	"github.com/fuad-ontik/Prime-Bank-Backend/engine/schedule"
	"github.com/fuad-ontik/Prime-Bank-Backend/engine/store"
	"github.com/fuad-ontik/Prime-Bank-Backend/engine/view"
	"github.com/fuad-ontik/Prime-Bank-Backend/pkg/metrics"
	"github.com/fuad-ontik/Prime-Bank-Backend/pkg/natsutil"
	"github.com/fuad-ontik/Prime-Bank-Backend/pkg/ollama"
)

// Config holds all environment-based configuration.
type Config struct {
	Port           string
	MetricsPort    string
	CORSOrigins    []string
	AnalyticsFile  string
	StoreDriver    string
	StoreDSN       string
	Classifier     string
	OllamaURL      string
	OllamaModel    string
	OllamaTimeout  time.Duration
	Summarizer     string
	Schedule       string
	PassBatch      int
	OverviewMaxAge time.Duration
	NATSURL        string
	Neo4jURL       string
	Neo4jUser      string
	Neo4jPass      string
	Neo4jDatabase  string
}

func loadConfig() Config {
	return Config{
		Port:           envOr("PORT", "8080"),
		MetricsPort:    envOr("METRICS_PORT", ""),
		CORSOrigins:    strings.Split(envOr("CORS_ORIGINS", "*"), ","),
		AnalyticsFile:  envOr("ANALYTICS_CONFIG", ""),
		StoreDriver:    envOr("STORE_DRIVER", "memory"),
		StoreDSN:       envOr("STORE_DSN", ""),
		Classifier:     envOr("CLASSIFIER", "keyword"),
		OllamaURL:      envOr("OLLAMA_URL", "http://localhost:11434"),
		OllamaModel:    envOr("OLLAMA_MODEL", "llama3.1"),
		OllamaTimeout:  envDuration("OLLAMA_TIMEOUT", 60*time.Second),
		Summarizer:     envOr("SUMMARIZER", "keyword"),
		Schedule:       envOr("CLASSIFY_SCHEDULE", ""),
		PassBatch:      envInt("CLASSIFY_BATCH", 50),
		OverviewMaxAge: envDuration("OVERVIEW_MAX_AGE", dashboard.DefaultOverviewMaxAge),
		NATSURL:        envOr("NATS_URL", ""),
		Neo4jURL:       envOr("NEO4J_URL", ""),
		Neo4jUser:      envOr("NEO4J_USER", "neo4j"),
		Neo4jPass:      envOr("NEO4J_PASS", "password"),
		Neo4jDatabase:  envOr("NEO4J_DATABASE", ""),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
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
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(loadConfig(), logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := metrics.New()

	acfg, err := aggregate.LoadConfig(cfg.AnalyticsFile)
	if err != nil {
		return err
	}
	banks, err := acfg.Registry()
	if err != nil {
		return fmt.Errorf("bank registry: %w", err)
	}

	// --- Store ---
	st, err := store.Open(ctx, cfg.StoreDriver, cfg.StoreDSN, banks)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	// --- Classifier and summarizer ---
	llm := ollama.New(cfg.OllamaURL, cfg.OllamaModel, cfg.OllamaTimeout)
	classifier, err := newClassifier(cfg, llm, logger)
	if err != nil {
		return err
	}
	var summarizer overview.Summarizer = overview.NewKeyword()
	if cfg.Summarizer == "ollama" {
		summarizer = overview.NewLLM(llm, nil, overview.LLMOpts{Logger: logger})
	}

	// --- Cache, optionally fanned out over NATS ---
	cache := view.New(view.Options{Metrics: reg, Logger: logger})
	var (
		inval view.Invalidator = cache
		nc    *nats.Conn
	)
	if cfg.NATSURL != "" {
		if nc, err = natsutil.Connect(cfg.NATSURL, "bank-api", logger); err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer nc.Drain()
		bc := events.New(nc, cache, logger, reg)
		if err := bc.Start(); err != nil {
			return fmt.Errorf("invalidation bus: %w", err)
		}
		defer bc.Close()
		inval = bc
	}

	// --- Mention graph ---
	var (
		projector *graph.Projector
		reader    dashboard.GraphReader
	)
	if cfg.Neo4jURL != "" {
		driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
		if err != nil {
			return fmt.Errorf("neo4j driver: %w", err)
		}
		defer driver.Close(context.Background())
		projector = graph.New(driver, cfg.Neo4jDatabase, banks, logger, reg)
		if err := projector.Init(ctx); err != nil {
			return fmt.Errorf("neo4j init: %w", err)
		}
		reader = projector
	}

	engOpts := aggregate.Options{Invalidator: inval, Logger: logger, Metrics: reg}
	if projector != nil {
		engOpts.Graph = projector
	}
	eng := aggregate.New(st, classifier, banks, acfg, engOpts)

	loader := ingest.NewLoader(ingest.Deps{Sink: eng, Runs: st, Banks: banks, Logger: logger, Metrics: reg})
	if nc != nil {
		// Scrapers may publish batches instead of calling the ingest endpoints.
		if _, err := ingest.StartConsumer(nc, loader); err != nil {
			return fmt.Errorf("ingest consumer: %w", err)
		}
	}
	svc := dashboard.New(eng, dashboard.Options{
		Cache:          cache,
		Summarizer:     summarizer,
		Loader:         loader,
		Graph:          reader,
		OverviewMaxAge: cfg.OverviewMaxAge,
		Logger:         logger,
	})

	// --- Scheduler ---
	var sched *schedule.Scheduler
	if cfg.Schedule != "" {
		sched = schedule.New(schedule.Options{Logger: logger, Metrics: reg})
		job := schedule.AnalyzeJob(eng, banks.IDs(), aggregate.PassOptions{BatchSize: cfg.PassBatch}, logger)
		if err := sched.AddJob("analyze", cfg.Schedule, job); err != nil {
			return fmt.Errorf("schedule: %w", err)
		}
		sched.Start()
		defer func() { <-sched.Stop().Done() }()
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      newRouter(&server{svc: svc, sched: sched, log: logger}, routerOpts{CORSOrigins: cfg.CORSOrigins, Metrics: reg, ServeMetrics: cfg.MetricsPort == ""}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	if cfg.MetricsPort != "" {
		ms := &http.Server{Addr: ":" + cfg.MetricsPort, Handler: reg.Handler(), ReadTimeout: 5 * time.Second}
		go func() {
			if err := ms.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "err", err)
			}
		}()
		defer ms.Close()
	}

	// --- Graceful shutdown ---
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port, "store", cfg.StoreDriver, "classifier", cfg.Classifier)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

func newClassifier(cfg Config, llm *ollama.Client, logger *slog.Logger) (classify.Classifier, error) {
	switch cfg.Classifier {
	case "", "keyword":
		return classify.NewKeyword(classify.Rules{}), nil
	case "ollama":
		return classify.NewResilient(classify.NewOllama(llm), classify.ResilientOpts{Timeout: cfg.OllamaTimeout, Logger: logger}), nil
	}
	return nil, fmt.Errorf("unknown classifier %q", cfg.Classifier)
}
