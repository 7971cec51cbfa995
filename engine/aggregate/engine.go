// Package aggregate classifies stored posts and computes the derived views of
// the dashboard: breakdowns, KPIs, geolocation clusters and action items.
package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fuad-ontik/Prime-Bank-Backend/engine/classify"
	"github.com/fuad-ontik/Prime-Bank-Backend/engine/domain"
	"github.com/fuad-ontik/Prime-Bank-Backend/engine/store"
	"github.com/fuad-ontik/Prime-Bank-Backend/engine/view"
	"github.com/fuad-ontik/Prime-Bank-Backend/pkg/metrics"
)

const tracerName = "github.com/fuad-ontik/Prime-Bank-Backend/engine/aggregate"

// Sink receives posts right after they are classified. The mention graph
// implements it.
type Sink interface {
	Project(ctx context.Context, posts []domain.ClassifiedPost) error
}

// Options carries the optional collaborators of an Engine.
type Options struct {
	Invalidator view.Invalidator
	Graph       Sink
	Logger      *slog.Logger
	Metrics     *metrics.Registry
	Now         func() time.Time
}

type engineMetrics struct {
	passes       metrics.CounterVec
	passDuration metrics.HistogramVec
	classified   metrics.CounterVec
	failed       metrics.CounterVec
	ingested     metrics.CounterVec
	actions      metrics.CounterVec
	running      metrics.GaugeVec
	inFlight     metrics.GaugeVec
}

func newEngineMetrics(reg *metrics.Registry) engineMetrics {
	return engineMetrics{
		passes:       reg.CounterVec("classification_passes_total", "Classification passes by outcome", "bank", "result"),
		passDuration: reg.HistogramVec("classification_pass_duration_seconds", "Classification pass duration", nil, "bank"),
		classified:   reg.CounterVec("posts_classified_total", "Posts classified", "bank"),
		failed:       reg.CounterVec("posts_classification_failed_total", "Posts marked classification_failed", "bank"),
		ingested:     reg.CounterVec("posts_ingested_total", "Posts and comments stored", "bank", "kind"),
		actions:      reg.CounterVec("action_items_created_total", "Action items created", "bank"),
		running:      reg.GaugeVec("classification_pass_running", "1 while a pass runs for the bank", "bank"),
		inFlight:     reg.GaugeVec("classifications_in_flight", "Posts currently with the classifier", "bank"),
	}
}

// Engine is safe for concurrent use.
type Engine struct {
	store      store.Store
	classifier classify.Classifier
	banks      *domain.Registry
	cfg        Config
	inval      view.Invalidator
	graph      Sink
	log        *slog.Logger
	now        func() time.Time
	m          engineMetrics

	mu     sync.Mutex
	passes map[string]time.Time
}

type nopInvalidator struct{}

func (nopInvalidator) Invalidate(view.Invalidation) {}

func New(st store.Store, c classify.Classifier, banks *domain.Registry, cfg Config, opts Options) *Engine {
	if opts.Invalidator == nil {
		opts.Invalidator = nopInvalidator{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if banks == nil {
		banks = domain.DefaultRegistry()
	}
	return &Engine{
		store:      st,
		classifier: c,
		banks:      banks,
		cfg:        cfg,
		inval:      opts.Invalidator,
		graph:      opts.Graph,
		log:        opts.Logger,
		now:        opts.Now,
		m:          newEngineMetrics(opts.Metrics),
		passes:     make(map[string]time.Time),
	}
}

func (e *Engine) Config() Config                { return e.cfg }
func (e *Engine) Banks() *domain.Registry       { return e.banks }
func (e *Engine) Store() store.Store            { return e.store }
func (e *Engine) Invalidator() view.Invalidator { return e.inval }

// Ingest stores a post and invalidates the views covering its timestamp.
func (e *Engine) Ingest(ctx context.Context, p domain.Post) (bool, error) {
	created, err := e.store.Ingest(ctx, p)
	if err != nil || !created {
		return created, err
	}
	e.m.ingested.With(p.BankID, "post").Inc()
	e.inval.Invalidate(view.Invalidation{BankID: p.BankID, From: p.CreatedAt, To: p.CreatedAt, Reason: "ingest"})
	return true, nil
}

// IngestComment stores a comment and invalidates the views covering it.
func (e *Engine) IngestComment(ctx context.Context, c domain.Comment) (bool, error) {
	created, err := e.store.IngestComment(ctx, c)
	if err != nil || !created {
		return created, err
	}
	e.m.ingested.With(c.BankID, "comment").Inc()
	e.inval.Invalidate(view.Invalidation{BankID: c.BankID, From: c.CreatedAt, To: c.CreatedAt, Reason: "comment"})
	return true, nil
}

// ResolveActionItem closes an action item. KPIs of every window count open
// items, so the whole bank is invalidated.
func (e *Engine) ResolveActionItem(ctx context.Context, id string) (domain.ActionItem, error) {
	item, err := e.store.ResolveActionItem(ctx, id)
	if err != nil {
		return item, err
	}
	e.inval.Invalidate(view.Invalidation{BankID: item.BankID, Reason: "action_resolved"})
	return item, nil
}

// acquire takes the per-bank pass slot.
func (e *Engine) acquire(bankID string) (func(), error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if since, busy := e.passes[bankID]; busy {
		return nil, &domain.PassInProgressError{BankID: bankID, Since: since}
	}
	e.passes[bankID] = e.now()
	e.m.running.With(bankID).Set(1)
	return func() {
		e.mu.Lock()
		delete(e.passes, bankID)
		e.mu.Unlock()
		e.m.running.With(bankID).Set(0)
	}, nil
}

// PassRunning reports whether a pass is active for the bank and since when.
func (e *Engine) PassRunning(bankID string) (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	since, ok := e.passes[bankID]
	return since, ok
}

func (e *Engine) checkBank(bankID string) error {
	if bankID == "" {
		return domain.NewValidationError("bank_id", "", domain.ErrMissingField)
	}
	return e.banks.Check(bankID)
}

func (e *Engine) posts(ctx context.Context, bankID string, w domain.Window) ([]domain.ClassifiedPost, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	posts, err := e.store.Posts(ctx, store.PostQuery{BankID: bankID, Window: w})
	if err != nil {
		return nil, fmt.Errorf("load posts: %w", err)
	}
	return posts, nil
}
