// Command backfill re-projects classified posts from the store into the
// Neo4j mention graph. Use it after enabling the graph on an existing store
// or after wiping the graph database.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/joho/godotenv"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/fuad-ontik/Prime-Bank-Backend/engine/aggregate"
	"github.com/fuad-ontik/Prime-Bank-Backend/engine/domain"
	"github.com/fuad-ontik/Prime-Bank-Backend/engine/graph"
	"github.com/fuad-ontik/Prime-Bank-Backend/engine/store"
	"github.com/fuad-ontik/Prime-Bank-Backend/pkg/metrics"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	_ = godotenv.Load()
	var (
		driver    = flag.String("store", envOr("STORE_DRIVER", "sqlite"), "store driver: sqlite or postgres")
		dsn       = flag.String("dsn", envOr("STORE_DSN", "bank.db"), "store path or connection string")
		analytics = flag.String("config", envOr("ANALYTICS_CONFIG", ""), "analytics YAML file")
		banksFlag = flag.String("banks", "", "comma-separated bank ids; empty means all")
		batch     = flag.Int("batch", 200, "posts per graph write")
		dryRun    = flag.Bool("dry-run", false, "count posts without writing to the graph")
	)
	flag.Parse()

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, *driver, *dsn, *analytics, *banksFlag, *batch, *dryRun, log); err != nil {
		log.Error("backfill failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, driver, dsn, analytics, bankList string, batch int, dryRun bool, log *slog.Logger) error {
	cfg, err := aggregate.LoadConfig(analytics)
	if err != nil {
		return err
	}
	banks, err := cfg.Registry()
	if err != nil {
		return fmt.Errorf("bank registry: %w", err)
	}
	st, err := store.Open(ctx, driver, dsn, banks)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ids := banks.IDs()
	if bankList != "" {
		ids = nil
		for _, id := range strings.Split(bankList, ",") {
			id = strings.TrimSpace(id)
			if err := banks.Check(id); err != nil {
				return err
			}
			ids = append(ids, id)
		}
	}

	var sink projector = countOnly{}
	if !dryRun {
		nd, err := neo4j.NewDriverWithContext(
			envOr("NEO4J_URL", "neo4j://localhost:7687"),
			neo4j.BasicAuth(envOr("NEO4J_USER", "neo4j"), envOr("NEO4J_PASS", "password"), ""),
		)
		if err != nil {
			return fmt.Errorf("neo4j connect: %w", err)
		}
		defer nd.Close(ctx)
		g := graph.New(nd, os.Getenv("NEO4J_DATABASE"), banks, log, metrics.New())
		if err := g.Init(ctx); err != nil {
			return fmt.Errorf("neo4j init: %w", err)
		}
		sink = g
	}

	total := 0
	for _, id := range ids {
		n, err := backfill(ctx, st, sink, id, batch)
		total += n
		if err != nil {
			return fmt.Errorf("backfill %s after %d posts: %w", id, n, err)
		}
		log.Info("bank projected", "bank", id, "posts", n, "dry_run", dryRun)
	}
	log.Info("backfill complete", "posts", total, "banks", len(ids))
	return nil
}

type projector interface {
	Project(ctx context.Context, posts []domain.ClassifiedPost) error
}

type countOnly struct{}

func (countOnly) Project(context.Context, []domain.ClassifiedPost) error { return nil }

// backfill pages through a bank's classified posts oldest first and hands each
// page to p. It returns how many posts were projected.
func backfill(ctx context.Context, st store.Store, p projector, bankID string, batch int) (int, error) {
	if batch <= 0 {
		batch = 200
	}
	done := 0
	for {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		page, err := st.Posts(ctx, store.PostQuery{BankID: bankID, State: domain.StateClassified, Offset: done, Limit: batch})
		if err != nil {
			return done, err
		}
		if len(page) == 0 {
			return done, nil
		}
		if err := p.Project(ctx, page); err != nil {
			return done, err
		}
		done += len(page)
		if len(page) < batch {
			return done, nil
		}
	}
}
