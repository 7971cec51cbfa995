// Package graph projects classified posts into a Neo4j mention graph:
//
//	(Post)-[:MENTIONS]->(Bank)
//	(Post)-[:AUTHORED_BY]->(Author)
//	(Post)-[:FROM]->(Location)
//
// The relational store stays the source of truth. The graph is rebuilt by
// projecting posts again, so every write is a MERGE.
package graph

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/fuad-ontik/Prime-Bank-Backend/engine/domain"
	"github.com/fuad-ontik/Prime-Bank-Backend/pkg/metrics"
	"github.com/fuad-ontik/Prime-Bank-Backend/pkg/textnlp"
)

var schema = []string{
	`CREATE CONSTRAINT bank_id IF NOT EXISTS FOR (b:Bank) REQUIRE b.id IS UNIQUE`,
	`CREATE CONSTRAINT post_id IF NOT EXISTS FOR (p:Post) REQUIRE p.id IS UNIQUE`,
	`CREATE CONSTRAINT author_name IF NOT EXISTS FOR (a:Author) REQUIRE a.name IS UNIQUE`,
	`CREATE CONSTRAINT location_name IF NOT EXISTS FOR (l:Location) REQUIRE l.name IS UNIQUE`,
}

const (
	cypherBanks = `UNWIND $banks AS b
MERGE (n:Bank {id: b.id}) SET n.name = b.name`

	cypherPosts = `UNWIND $posts AS row
MERGE (p:Post {id: row.id})
SET p.bank_id = row.bank_id, p.created_at = row.created_at, p.virality = row.virality,
    p.sentiment = row.sentiment, p.emotion = row.emotion, p.category = row.category`

	cypherMentions = `UNWIND $mentions AS m
MATCH (p:Post {id: m.post}), (b:Bank {id: m.bank})
MERGE (p)-[:MENTIONS]->(b)`

	cypherAuthors = `UNWIND $authors AS a
MATCH (p:Post {id: a.post})
MERGE (u:Author {name: a.name})
MERGE (p)-[:AUTHORED_BY]->(u)`

	cypherLocations = `UNWIND $locations AS l
MATCH (p:Post {id: l.post})
MERGE (loc:Location {name: l.name}) SET loc.division = l.division
MERGE (p)-[:FROM]->(loc)`

	cypherMentionCounts = `MATCH (:Post)-[:MENTIONS]->(b:Bank)
RETURN b.id AS bank, count(*) AS count ORDER BY count DESC, bank`

	cypherCoMentions = `MATCH (b:Bank {id: $bank})<-[:MENTIONS]-(p:Post)-[:MENTIONS]->(o:Bank)
RETURN o.id AS bank, count(DISTINCT p) AS count ORDER BY count DESC, bank`
)

// Projector writes the mention graph. It implements aggregate.Sink.
type Projector struct {
	opener SessionOpener
	banks  *domain.Registry
	log    *slog.Logger

	projected metrics.CounterVec
	batches   metrics.CounterVec
}

// New projects through a driver into database; an empty name is the default database.
func New(driver neo4j.DriverWithContext, database string, banks *domain.Registry, log *slog.Logger, reg *metrics.Registry) *Projector {
	return NewWithOpener(driverOpener{driver: driver, database: database}, banks, log, reg)
}

// NewWithOpener creates a Projector using a custom SessionOpener.
func NewWithOpener(o SessionOpener, banks *domain.Registry, log *slog.Logger, reg *metrics.Registry) *Projector {
	if log == nil {
		log = slog.Default()
	}
	if reg == nil {
		reg = metrics.New()
	}
	return &Projector{
		opener:    o,
		banks:     banks,
		log:       log,
		projected: reg.CounterVec("graph_posts_projected_total", "Posts written to the mention graph", "bank"),
		batches:   reg.CounterVec("graph_projections_total", "Projection batches by result", "result"),
	}
}

// Init creates the uniqueness constraints and the Bank nodes.
func (g *Projector) Init(ctx context.Context) error {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	for _, stmt := range schema {
		if _, err := sess.Run(ctx, stmt, nil); err != nil {
			return fmt.Errorf("graph schema: %w", err)
		}
	}
	banks := make([]map[string]any, 0, len(g.banks.IDs()))
	for _, b := range g.banks.Banks() {
		banks = append(banks, map[string]any{"id": b.ID, "name": b.Name})
	}
	if _, err := sess.Run(ctx, cypherBanks, map[string]any{"banks": banks}); err != nil {
		return fmt.Errorf("graph banks: %w", err)
	}
	return nil
}

// rows is one projection batch split by statement.
type rows struct {
	posts, mentions, authors, locations []map[string]any
}

func (g *Projector) rows(posts []domain.ClassifiedPost) rows {
	var r rows
	for _, cp := range posts {
		p := cp.Post
		row := map[string]any{
			"id":         p.ID,
			"bank_id":    p.BankID,
			"created_at": p.CreatedAt.UTC(),
			"virality":   p.Virality(),
		}
		if c := cp.Classification; c != nil {
			row["sentiment"] = string(c.Sentiment)
			row["emotion"] = string(c.Emotion)
			row["category"] = string(c.Category)
		}
		r.posts = append(r.posts, row)

		mentioned := g.banks.Mentions(p.Text)
		if !slices.Contains(mentioned, p.BankID) {
			mentioned = append(mentioned, p.BankID)
		}
		for _, b := range mentioned {
			r.mentions = append(r.mentions, map[string]any{"post": p.ID, "bank": b})
		}

		if name := strings.TrimSpace(p.AuthorName); name != "" {
			r.authors = append(r.authors, map[string]any{"post": p.ID, "name": name})
		}
		if loc := location(p.AuthorLocation); loc != nil {
			loc["post"] = p.ID
			r.locations = append(r.locations, loc)
		}
	}
	return r
}

func location(raw string) map[string]any {
	if place, ok := textnlp.NormalizeLocation(raw); ok {
		return map[string]any{"name": place.City, "division": place.Division}
	}
	if name := textnlp.CleanLocation(raw); name != "" {
		return map[string]any{"name": name, "division": ""}
	}
	return nil
}

// Project merges posts, their bank mentions, authors and locations in one
// write transaction.
func (g *Projector) Project(ctx context.Context, posts []domain.ClassifiedPost) error {
	if len(posts) == 0 {
		return nil
	}
	r := g.rows(posts)

	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	_, err := sess.ExecuteWrite(ctx, func(tx CypherRunner) (any, error) {
		steps := []struct {
			cypher string
			param  string
			rows   []map[string]any
		}{
			{cypherPosts, "posts", r.posts},
			{cypherMentions, "mentions", r.mentions},
			{cypherAuthors, "authors", r.authors},
			{cypherLocations, "locations", r.locations},
		}
		for _, s := range steps {
			if len(s.rows) == 0 {
				continue
			}
			if _, err := tx.Run(ctx, s.cypher, map[string]any{s.param: s.rows}); err != nil {
				return nil, fmt.Errorf("graph %s: %w", s.param, err)
			}
		}
		return nil, nil
	})
	if err != nil {
		g.batches.With("error").Inc()
		return err
	}
	g.batches.With("ok").Inc()
	for _, cp := range posts {
		g.projected.With(cp.BankID).Inc()
	}
	g.log.Debug("graph: projected", "posts", len(posts), "mentions", len(r.mentions))
	return nil
}

// BankCount is a bank with a post count.
type BankCount struct {
	BankID string `json:"bank_id"`
	Posts  int64  `json:"posts"`
}

// MentionCounts returns how many projected posts mention each bank.
func (g *Projector) MentionCounts(ctx context.Context) ([]BankCount, error) {
	return g.counts(ctx, cypherMentionCounts, nil)
}

// CoMentions returns the banks mentioned alongside bankID and in how many posts.
func (g *Projector) CoMentions(ctx context.Context, bankID string) ([]BankCount, error) {
	if err := g.banks.Check(bankID); err != nil {
		return nil, err
	}
	return g.counts(ctx, cypherCoMentions, map[string]any{"bank": bankID})
}

func (g *Projector) counts(ctx context.Context, cypher string, params map[string]any) ([]BankCount, error) {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	result, err := sess.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	out := []BankCount{}
	for result.Next(ctx) {
		rec := result.Record()
		bank, _ := rec.Get("bank")
		count, _ := rec.Get("count")
		id, ok := bank.(string)
		if !ok {
			continue
		}
		n, _ := count.(int64)
		out = append(out, BankCount{BankID: id, Posts: n})
	}
	return out, result.Err()
}
