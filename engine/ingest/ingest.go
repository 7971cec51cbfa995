// Package ingest loads scraped posts and comments into the store. Batches
// arrive as JSON files or NATS messages and every post runs through a staged
// pipeline: Normalize, ResolveBank, Validate, Store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/fuad-ontik/Prime-Bank-Backend/engine/domain"
	"github.com/fuad-ontik/Prime-Bank-Backend/pkg/fn"
	"github.com/fuad-ontik/Prime-Bank-Backend/pkg/metrics"
	"github.com/fuad-ontik/Prime-Bank-Backend/pkg/textnlp"
)

// Sink stores posts and comments. *aggregate.Engine implements it so that
// every write invalidates the cached views it touches.
type Sink interface {
	Ingest(ctx context.Context, p domain.Post) (bool, error)
	IngestComment(ctx context.Context, c domain.Comment) (bool, error)
}

// Runs records scrape runs. store.Store implements it.
type Runs interface {
	RecordScrapeRun(ctx context.Context, r domain.ScrapeRun) error
	UpdateRunStatus(ctx context.Context, runID string, status domain.RunStatus) (domain.ScrapeRun, error)
	Run(ctx context.Context, id string) (domain.ScrapeRun, error)
}

// Deps holds the collaborators of the pipeline.
type Deps struct {
	Sink    Sink
	Runs    Runs
	Banks   *domain.Registry
	Logger  *slog.Logger
	Metrics *metrics.Registry
}

// KeywordCount is how many keywords Normalize derives for a post that has none.
const KeywordCount = 5

// Outcome is what the Store stage reports for one post.
type Outcome struct {
	ID      string `json:"id"`
	BankID  string `json:"bank_id"`
	Created bool   `json:"created"`
}

// Normalize trims identifiers and text, lowercases the bank id and derives
// keywords when the scraper sent none.
func Normalize(_ context.Context, p domain.Post) fn.Result[domain.Post] {
	p.ID = strings.TrimSpace(p.ID)
	p.BankID = strings.ToLower(strings.TrimSpace(p.BankID))
	p.Text = strings.TrimSpace(p.Text)
	p.AuthorLocation = strings.TrimSpace(p.AuthorLocation)
	if p.Source == "" {
		p.Source = "facebook"
	}
	if len(p.Keywords) == 0 {
		p.Keywords = textnlp.Keywords(p.Text, KeywordCount)
	} else {
		kw := make([]string, 0, len(p.Keywords))
		for _, k := range p.Keywords {
			k = strings.ToLower(strings.TrimSpace(k))
			if k != "" && !slices.Contains(kw, k) {
				kw = append(kw, k)
			}
		}
		p.Keywords = kw
	}
	return fn.Ok(p)
}

// NewResolveBank fills a missing bank id from the bank patterns found in the
// text and rejects ids the registry does not know.
func NewResolveBank(banks *domain.Registry) fn.Stage[domain.Post, domain.Post] {
	return func(_ context.Context, p domain.Post) fn.Result[domain.Post] {
		if p.BankID == "" {
			id, ok := banks.Detect(p.Text)
			if !ok {
				return fn.Err[domain.Post](domain.NewValidationError("bank_id", "", domain.ErrMissingField))
			}
			p.BankID = id
		}
		if err := banks.Check(p.BankID); err != nil {
			return fn.Err[domain.Post](err)
		}
		return fn.Ok(p)
	}
}

// Validate checks that a post has the fields the store requires.
func Validate(_ context.Context, p domain.Post) fn.Result[domain.Post] {
	if err := domain.ValidatePost(p); err != nil {
		return fn.Err[domain.Post](err)
	}
	return fn.Ok(p)
}

// NewStore returns the stage that writes a post through the sink.
func NewStore(sink Sink) fn.Stage[domain.Post, Outcome] {
	return func(ctx context.Context, p domain.Post) fn.Result[Outcome] {
		created, err := sink.Ingest(ctx, p)
		if err != nil {
			return fn.Err[Outcome](fmt.Errorf("store post %s: %w", p.ID, err))
		}
		return fn.Ok(Outcome{ID: p.ID, BankID: p.BankID, Created: created})
	}
}

// LoggedTap returns a stage that logs entry and exit with duration.
func LoggedTap[T any](name string, log *slog.Logger) fn.Stage[T, T] {
	return func(ctx context.Context, t T) fn.Result[T] {
		log.Debug("stage.enter", "stage", name)
		start := time.Now()
		defer func() {
			log.Debug("stage.exit", "stage", name, "duration", time.Since(start))
		}()
		return fn.Ok(t)
	}
}

// NewPipeline composes the post stages with logging taps between them.
func NewPipeline(deps Deps) fn.Stage[domain.Post, Outcome] {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}

	normalized := fn.Then(LoggedTap[domain.Post]("normalize", log), fn.Stage[domain.Post, domain.Post](Normalize))
	resolved := fn.Then(normalized, fn.Then(LoggedTap[domain.Post]("resolve_bank", log), NewResolveBank(deps.Banks)))
	validated := fn.Then(resolved, fn.Then(LoggedTap[domain.Post]("validate", log), fn.Stage[domain.Post, domain.Post](Validate)))
	stored := fn.Then(validated, fn.Then(LoggedTap[domain.Post]("store", log), NewStore(deps.Sink)))

	return fn.Traced("ingest.post", stored)
}

// Rejected reports whether err is a problem with the item itself rather than
// with the store. Rejected items are skipped; other errors abort the batch.
func Rejected(err error) bool {
	var ve *domain.ValidationError
	return errors.As(err, &ve) || errors.Is(err, domain.ErrUnknownBank)
}
