package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fuad-ontik/Prime-Bank-Backend/engine/domain"
	"github.com/fuad-ontik/Prime-Bank-Backend/pkg/fn"
	"github.com/fuad-ontik/Prime-Bank-Backend/pkg/metrics"
)

// Batch is one scraper delivery: an optional run record and the posts and
// comments it collected.
type Batch struct {
	Run      *domain.ScrapeRun `json:"run,omitempty"`
	Posts    []domain.Post     `json:"posts"`
	Comments []domain.Comment  `json:"comments"`
}

// Rejection names an item that was skipped and why.
type Rejection struct {
	Kind   string `json:"kind"`
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// Report summarises a loaded batch.
type Report struct {
	RunID      string      `json:"run_id,omitempty"`
	Posts      int         `json:"posts_created"`
	Comments   int         `json:"comments_created"`
	Duplicates int         `json:"duplicates"`
	Rejected   []Rejection `json:"rejected,omitempty"`
}

type loaderMetrics struct {
	batches metrics.CounterVec
	items   metrics.CounterVec
}

// Loader writes batches through the post pipeline. It is safe for
// concurrent use.
type Loader struct {
	deps     Deps
	pipeline fn.Stage[domain.Post, Outcome]
	log      *slog.Logger
	m        loaderMetrics
}

func NewLoader(deps Deps) *Loader {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	return &Loader{
		deps:     deps,
		pipeline: NewPipeline(deps),
		log:      deps.Logger,
		m: loaderMetrics{
			batches: deps.Metrics.CounterVec("ingest_batches_total", "Batches loaded by result", "result"),
			items:   deps.Metrics.CounterVec("ingest_items_total", "Posts and comments seen by outcome", "kind", "outcome"),
		},
	}
}

// Load records the batch's run, then stores its posts and comments. Items
// that fail validation are listed in the report and skipped. A store error
// stops the batch; loading it again is safe because ids are deduplicated.
func (l *Loader) Load(ctx context.Context, b Batch) (Report, error) {
	rep, err := l.load(ctx, b)
	switch {
	case err != nil:
		l.m.batches.With("error").Inc()
	case len(rep.Rejected) > 0:
		l.m.batches.With("partial").Inc()
	default:
		l.m.batches.With("ok").Inc()
	}
	return rep, err
}

func (l *Loader) load(ctx context.Context, b Batch) (Report, error) {
	var rep Report
	if b.Run != nil {
		if err := l.recordRun(ctx, *b.Run); err != nil {
			return rep, err
		}
		rep.RunID = b.Run.ID
	}

	postBanks := make(map[string]string, len(b.Posts))
	for _, p := range b.Posts {
		if p.ScrapeRunID == "" {
			p.ScrapeRunID = rep.RunID
		}
		out, err := l.pipeline(ctx, p).Unwrap()
		if err != nil {
			if !Rejected(err) {
				return rep, err
			}
			l.reject(&rep, "post", p.ID, err)
			continue
		}
		postBanks[out.ID] = out.BankID
		l.count(&rep, "post", out.Created)
	}

	for _, c := range b.Comments {
		if c.ScrapeRunID == "" {
			c.ScrapeRunID = rep.RunID
		}
		out, err := l.comment(ctx, c, postBanks)
		if err != nil {
			if !Rejected(err) {
				return rep, err
			}
			l.reject(&rep, "comment", c.ID, err)
			continue
		}
		l.count(&rep, "comment", out.Created)
	}

	l.log.Info("ingest: batch loaded",
		"run_id", rep.RunID,
		"posts", rep.Posts,
		"comments", rep.Comments,
		"duplicates", rep.Duplicates,
		"rejected", len(rep.Rejected),
	)
	return rep, nil
}

// Post stores a single post through the pipeline.
func (l *Loader) Post(ctx context.Context, p domain.Post) (Outcome, error) {
	out, err := l.pipeline(ctx, p).Unwrap()
	l.observe("post", out, err)
	return out, err
}

// Comment stores a single comment. A missing bank id is detected from the text.
func (l *Loader) Comment(ctx context.Context, c domain.Comment) (Outcome, error) {
	out, err := l.comment(ctx, c, nil)
	l.observe("comment", out, err)
	return out, err
}

// comment inherits the bank of its parent post when it carries none.
func (l *Loader) comment(ctx context.Context, c domain.Comment, postBanks map[string]string) (Outcome, error) {
	c.ID = strings.TrimSpace(c.ID)
	c.Text = strings.TrimSpace(c.Text)
	c.BankID = strings.ToLower(strings.TrimSpace(c.BankID))
	if c.BankID == "" {
		if id, ok := postBanks[c.PostID]; ok {
			c.BankID = id
		} else if id, ok := l.deps.Banks.Detect(c.Text); ok {
			c.BankID = id
		}
	}
	if err := domain.ValidateComment(c); err != nil {
		return Outcome{}, err
	}
	if err := l.deps.Banks.Check(c.BankID); err != nil {
		return Outcome{}, err
	}
	created, err := l.deps.Sink.IngestComment(ctx, c)
	if err != nil {
		return Outcome{}, fmt.Errorf("store comment %s: %w", c.ID, err)
	}
	return Outcome{ID: c.ID, BankID: c.BankID, Created: created}, nil
}

// recordRun creates the run on first sight and moves its status on later
// deliveries. Counters are kept by the store as items arrive.
func (l *Loader) recordRun(ctx context.Context, r domain.ScrapeRun) error {
	if l.deps.Runs == nil {
		return errors.New("ingest: batch carries a run but no run store is configured")
	}
	cur, err := l.deps.Runs.Run(ctx, r.ID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		r.PostCount, r.CommentCount = 0, 0
		if err := l.deps.Runs.RecordScrapeRun(ctx, r); err != nil {
			return fmt.Errorf("record run %s: %w", r.ID, err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("load run %s: %w", r.ID, err)
	case cur.Status == r.Status:
		return nil
	}
	if _, err := l.deps.Runs.UpdateRunStatus(ctx, r.ID, r.Status); err != nil {
		if !Rejected(err) {
			return fmt.Errorf("update run %s: %w", r.ID, err)
		}
		l.log.Warn("ingest: run status not applied", "run_id", r.ID, "from", cur.Status, "to", r.Status, "error", err)
	}
	return nil
}

func (l *Loader) reject(rep *Report, kind, id string, err error) {
	rep.Rejected = append(rep.Rejected, Rejection{Kind: kind, ID: id, Reason: err.Error()})
	l.m.items.With(kind, "rejected").Inc()
	l.log.Warn("ingest: item rejected", "kind", kind, "id", id, "error", err)
}

func (l *Loader) observe(kind string, out Outcome, err error) {
	switch {
	case err != nil && Rejected(err):
		l.m.items.With(kind, "rejected").Inc()
	case err != nil:
	case out.Created:
		l.m.items.With(kind, "created").Inc()
	default:
		l.m.items.With(kind, "duplicate").Inc()
	}
}

func (l *Loader) count(rep *Report, kind string, created bool) {
	if !created {
		rep.Duplicates++
		l.m.items.With(kind, "duplicate").Inc()
		return
	}
	if kind == "post" {
		rep.Posts++
	} else {
		rep.Comments++
	}
	l.m.items.With(kind, "created").Inc()
}
