// Package dashboard exposes the query and command functions behind the HTTP
// endpoints. Derived views are served through the view cache; raw records and
// the scraping status are read straight from the store.
package dashboard

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/fuad-ontik/Prime-Bank-Backend/engine/aggregate"
	"github.com/fuad-ontik/Prime-Bank-Backend/engine/domain"
	"github.com/fuad-ontik/Prime-Bank-Backend/engine/graph"
	"github.com/fuad-ontik/Prime-Bank-Backend/engine/ingest"
	"github.com/fuad-ontik/Prime-Bank-Backend/engine/overview"
	"github.com/fuad-ontik/Prime-Bank-Backend/engine/store"
	"github.com/fuad-ontik/Prime-Bank-Backend/engine/view"
)

// DefaultOverviewMaxAge bounds how long an AI overview is reused even when no
// invalidation arrives.
const DefaultOverviewMaxAge = 24 * time.Hour

// Cache view names.
const (
	viewSentiments   = "sentiments"
	viewEmotions     = "emotions"
	viewCategories   = "categories"
	viewCategoryPage = "category_posts"
	viewKPI          = "kpi"
	viewMentions     = "bank_mentions"
	viewGeo          = "geolocation"
	viewTopPosts     = "top_posts"
	viewTopComments  = "top_comments"
	viewActions      = "action_items"
	viewOverview     = "ai_overview"
	viewSnapshot     = "snapshot"
)

// ErrGraphDisabled is returned by the graph queries when no mention graph is
// configured.
var ErrGraphDisabled = errors.New("mention graph is not configured")

// GraphReader is the read side of the mention graph.
type GraphReader interface {
	MentionCounts(ctx context.Context) ([]graph.BankCount, error)
	CoMentions(ctx context.Context, bankID string) ([]graph.BankCount, error)
}

// Query selects a bank and a time window. An empty BankID means the
// configured default bank; the zero Window means all time.
type Query struct {
	BankID string
	Window domain.Window
}

// Options carries the optional collaborators of a Service.
type Options struct {
	Cache          *view.Cache
	Summarizer     overview.Summarizer
	Loader         *ingest.Loader
	Graph          GraphReader
	OverviewMaxAge time.Duration
	Logger         *slog.Logger
	Now            func() time.Time
}

// Service is safe for concurrent use.
type Service struct {
	eng        *aggregate.Engine
	st         store.Store
	cache      *view.Cache
	summarizer overview.Summarizer
	loader     *ingest.Loader
	graph      GraphReader
	ovAge      time.Duration
	log        *slog.Logger
	now        func() time.Time
}

// New builds a Service over eng. A nil Cache gets a private one; the caller
// is then responsible for routing invalidations to it through the engine.
func New(eng *aggregate.Engine, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Cache == nil {
		opts.Cache = view.New(view.Options{Logger: opts.Logger, Now: opts.Now})
	}
	if opts.Summarizer == nil {
		opts.Summarizer = overview.NewKeyword()
	}
	if opts.Loader == nil {
		opts.Loader = ingest.NewLoader(ingest.Deps{Sink: eng, Runs: eng.Store(), Banks: eng.Banks(), Logger: opts.Logger})
	}
	if opts.OverviewMaxAge <= 0 {
		opts.OverviewMaxAge = DefaultOverviewMaxAge
	}
	return &Service{
		eng:        eng,
		st:         eng.Store(),
		cache:      opts.Cache,
		summarizer: opts.Summarizer,
		loader:     opts.Loader,
		graph:      opts.Graph,
		ovAge:      opts.OverviewMaxAge,
		log:        opts.Logger,
		now:        opts.Now,
	}
}

// Cache returns the view cache the service reads through.
func (s *Service) Cache() *view.Cache { return s.cache }

func (s *Service) resolve(q Query) (Query, error) {
	q.BankID = strings.ToLower(strings.TrimSpace(q.BankID))
	if q.BankID == "" {
		q.BankID = s.eng.Config().DefaultBank
	}
	if err := s.eng.Banks().Check(q.BankID); err != nil {
		return q, err
	}
	if err := q.Window.Validate(); err != nil {
		return q, err
	}
	return q, nil
}

func (q Query) key(name, filter string) view.Key {
	return view.Key{BankID: q.BankID, Window: q.Window, View: name, Filter: filter}
}

// crossKey names a view that reads every bank's posts, such as KPIs that
// count mentions of all banks. Any bank's change invalidates it.
func (q Query) crossKey(name string) view.Key {
	return view.Key{Window: q.Window, View: name, Filter: q.BankID}
}
