package dashboard

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/fuad-ontik/Prime-Bank-Backend/engine/aggregate"
	"github.com/fuad-ontik/Prime-Bank-Backend/engine/domain"
	"github.com/fuad-ontik/Prime-Bank-Backend/engine/overview"
	"github.com/fuad-ontik/Prime-Bank-Backend/engine/store"
	"github.com/fuad-ontik/Prime-Bank-Backend/engine/view"
)

const (
	DefaultTopPosts = 10
	MaxTopPosts     = 100
)

func (s *Service) Sentiments(ctx context.Context, q Query) (aggregate.SentimentBreakdown, error) {
	q, err := s.resolve(q)
	if err != nil {
		return aggregate.SentimentBreakdown{}, err
	}
	v, _, err := view.Get(ctx, s.cache, q.key(viewSentiments, ""), func(ctx context.Context) (aggregate.SentimentBreakdown, error) {
		return s.eng.ComputeSentimentBreakdown(ctx, q.BankID, q.Window)
	})
	return v, err
}

func (s *Service) Emotions(ctx context.Context, q Query) (aggregate.EmotionBreakdown, error) {
	q, err := s.resolve(q)
	if err != nil {
		return aggregate.EmotionBreakdown{}, err
	}
	v, _, err := view.Get(ctx, s.cache, q.key(viewEmotions, ""), func(ctx context.Context) (aggregate.EmotionBreakdown, error) {
		return s.eng.EmotionBreakdown(ctx, q.BankID, q.Window)
	})
	return v, err
}

func (s *Service) Categories(ctx context.Context, q Query) (aggregate.CategoryBreakdown, error) {
	q, err := s.resolve(q)
	if err != nil {
		return aggregate.CategoryBreakdown{}, err
	}
	v, _, err := view.Get(ctx, s.cache, q.key(viewCategories, ""), func(ctx context.Context) (aggregate.CategoryBreakdown, error) {
		return s.eng.CategoryBreakdown(ctx, q.BankID, q.Window)
	})
	return v, err
}

// TopPosts returns the most viral posts. A limit below 1 takes
// DefaultTopPosts; limits above MaxTopPosts are capped.
func (s *Service) TopPosts(ctx context.Context, q Query, limit int) ([]domain.ClassifiedPost, error) {
	q, err := s.resolve(q)
	if err != nil {
		return nil, err
	}
	limit = topLimit(limit)
	v, _, err := view.Get(ctx, s.cache, q.key(viewTopPosts, strconv.Itoa(limit)), func(ctx context.Context) ([]domain.ClassifiedPost, error) {
		return s.eng.TopPosts(ctx, q.BankID, q.Window, limit)
	})
	return v, err
}

// TopComments returns the comments with the most engagement.
func (s *Service) TopComments(ctx context.Context, q Query, limit int) ([]domain.Comment, error) {
	q, err := s.resolve(q)
	if err != nil {
		return nil, err
	}
	limit = topLimit(limit)
	v, _, err := view.Get(ctx, s.cache, q.key(viewTopComments, strconv.Itoa(limit)), func(ctx context.Context) ([]domain.Comment, error) {
		return s.eng.TopComments(ctx, q.BankID, q.Window, limit)
	})
	return v, err
}

func topLimit(n int) int {
	if n < 1 {
		return DefaultTopPosts
	}
	return min(n, MaxTopPosts)
}

// SentimentAnalysis bundles the three distributions with the top posts.
type SentimentAnalysis struct {
	EmotionDistribution   aggregate.EmotionBreakdown   `json:"emotion_distribution"`
	SentimentDistribution aggregate.SentimentBreakdown `json:"sentiment_distribution"`
	PostCategories        aggregate.CategoryBreakdown  `json:"post_categories"`
	TopPosts              []domain.ClassifiedPost      `json:"top_posts"`
}

func (s *Service) SentimentAnalysis(ctx context.Context, q Query) (SentimentAnalysis, error) {
	var (
		out SentimentAnalysis
		err error
	)
	if out.EmotionDistribution, err = s.Emotions(ctx, q); err != nil {
		return out, err
	}
	if out.SentimentDistribution, err = s.Sentiments(ctx, q); err != nil {
		return out, err
	}
	if out.PostCategories, err = s.Categories(ctx, q); err != nil {
		return out, err
	}
	out.TopPosts, err = s.TopPosts(ctx, q, DefaultTopPosts)
	return out, err
}

// CategoryPosts returns one page of a category's posts, newest first.
func (s *Service) CategoryPosts(ctx context.Context, q Query, category string, page int) (aggregate.CategoryView, error) {
	q, err := s.resolve(q)
	if err != nil {
		return aggregate.CategoryView{}, err
	}
	c := domain.Category(strings.ToLower(strings.TrimSpace(category)))
	if !domain.ValidCategory(c) {
		return aggregate.CategoryView{}, domain.NewValidationError("category", category, domain.ErrInvalidLabel)
	}
	if page < 1 {
		return aggregate.CategoryView{}, domain.NewValidationError("page", strconv.Itoa(page), domain.ErrInvalidPage)
	}
	key := q.key(viewCategoryPage, fmt.Sprintf("%s#%d", c, page))
	v, _, err := view.Get(ctx, s.cache, key, func(ctx context.Context) (aggregate.CategoryView, error) {
		return s.eng.ComputeCategoryView(ctx, q.BankID, c, q.Window, aggregate.PageRequest{Page: page})
	})
	return v, err
}

// KPI depends on every bank's posts through total_mentions_of_all_banks.
func (s *Service) KPI(ctx context.Context, q Query) (domain.KPIs, error) {
	q, err := s.resolve(q)
	if err != nil {
		return domain.KPIs{}, err
	}
	v, _, err := view.Get(ctx, s.cache, q.crossKey(viewKPI), func(ctx context.Context) (domain.KPIs, error) {
		return s.eng.ComputeKPIs(ctx, q.BankID, q.Window)
	})
	return v, err
}

// BankMentions counts mentions of every bank; the query's bank is ignored.
func (s *Service) BankMentions(ctx context.Context, q Query) (aggregate.BankMentions, error) {
	if err := q.Window.Validate(); err != nil {
		return aggregate.BankMentions{}, err
	}
	key := view.Key{Window: q.Window, View: viewMentions}
	v, _, err := view.Get(ctx, s.cache, key, func(ctx context.Context) (aggregate.BankMentions, error) {
		return s.eng.BankMentions(ctx, q.Window)
	})
	return v, err
}

func (s *Service) Geolocation(ctx context.Context, q Query) (aggregate.GeoView, error) {
	q, err := s.resolve(q)
	if err != nil {
		return aggregate.GeoView{}, err
	}
	v, _, err := view.Get(ctx, s.cache, q.key(viewGeo, ""), func(ctx context.Context) (aggregate.GeoView, error) {
		return s.eng.GeolocationClusters(ctx, q.BankID, q.Window)
	})
	return v, err
}

// Snapshot is the combined aggregate view of a bank.
func (s *Service) Snapshot(ctx context.Context, q Query) (domain.AggregateView, error) {
	q, err := s.resolve(q)
	if err != nil {
		return domain.AggregateView{}, err
	}
	v, _, err := view.Get(ctx, s.cache, q.crossKey(viewSnapshot), func(ctx context.Context) (domain.AggregateView, error) {
		return s.eng.Snapshot(ctx, q.BankID, q.Window)
	})
	return v, err
}

// AIOverview summarizes the bank's classified posts. Overviews are reused
// for at most the configured max age even without invalidation.
func (s *Service) AIOverview(ctx context.Context, q Query) (overview.Overview, error) {
	q, err := s.resolve(q)
	if err != nil {
		return overview.Overview{}, err
	}
	v, _, err := view.Get(ctx, s.cache, q.key(viewOverview, ""), func(ctx context.Context) (overview.Overview, error) {
		posts, err := s.st.Posts(ctx, store.PostQuery{BankID: q.BankID, Window: q.Window, State: domain.StateClassified})
		if err != nil {
			return overview.Overview{}, fmt.Errorf("load posts: %w", err)
		}
		bank, _ := s.eng.Banks().Get(q.BankID)
		return s.summarizer.Summarize(ctx, overview.Input{BankID: q.BankID, BankName: bank.Name, Posts: posts})
	}, view.WithMaxAge(s.ovAge))
	return v, err
}

// AIOverviewSection returns one section keyed by its canonical name.
func (s *Service) AIOverviewSection(ctx context.Context, q Query, section string) (map[string]string, error) {
	name, err := overview.SectionName(section)
	if err != nil {
		return nil, err
	}
	o, err := s.AIOverview(ctx, q)
	if err != nil {
		return nil, err
	}
	text, _ := o.Section(name)
	return map[string]string{name: text}, nil
}

// DashboardAIOverview is the overview of every registered bank, keyed by bank id.
func (s *Service) DashboardAIOverview(ctx context.Context, q Query) (map[string]overview.Overview, error) {
	out := make(map[string]overview.Overview)
	for _, id := range s.eng.Banks().IDs() {
		o, err := s.AIOverview(ctx, Query{BankID: id, Window: q.Window})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", id, err)
		}
		out[id] = o
	}
	return out, nil
}

// ActionFilter narrows the action item list. Zero fields do not filter.
type ActionFilter struct {
	Category  string
	Sentiment string
	Status    string
	Limit     int
}

func (f ActionFilter) String() string {
	return strings.ToLower(fmt.Sprintf("%s/%s/%s/%d", f.Category, f.Sentiment, f.Status, f.Limit))
}

// ActionItemView is an action item with the post it was derived from.
type ActionItemView struct {
	domain.ActionItem
	Sentiment  domain.Sentiment `json:"sentiment,omitempty"`
	Emotion    domain.Emotion   `json:"emotion,omitempty"`
	Text       string           `json:"text"`
	AuthorName string           `json:"author_name,omitempty"`
	Keywords   []string         `json:"keywords,omitempty"`
	URL        string           `json:"url,omitempty"`
}

// ActionItems lists the bank's action items, most urgent first.
func (s *Service) ActionItems(ctx context.Context, q Query, f ActionFilter) ([]ActionItemView, error) {
	q, err := s.resolve(q)
	if err != nil {
		return nil, err
	}
	sq := store.ActionItemQuery{BankID: q.BankID}
	if f.Category != "" {
		c := domain.Category(strings.ToLower(f.Category))
		if !domain.ValidCategory(c) {
			return nil, domain.NewValidationError("category", f.Category, domain.ErrInvalidLabel)
		}
		sq.Category = c
	}
	if f.Status != "" {
		st := domain.ActionStatus(strings.ToLower(f.Status))
		if st != domain.ActionOpen && st != domain.ActionResolved {
			return nil, domain.NewValidationError("status", f.Status, domain.ErrInvalidLabel)
		}
		sq.Status = st
	}
	sentiment := domain.Sentiment(strings.ToLower(f.Sentiment))
	if sentiment != "" && !domain.ValidSentiment(sentiment) {
		return nil, domain.NewValidationError("sentiment", f.Sentiment, domain.ErrInvalidLabel)
	}
	if f.Limit < 0 {
		return nil, domain.NewValidationError("limit", strconv.Itoa(f.Limit), domain.ErrOutOfRange)
	}

	// Action items are not bound to a window; the key uses the all-time window.
	key := view.Key{BankID: q.BankID, View: viewActions, Filter: f.String()}
	v, _, err := view.Get(ctx, s.cache, key, func(ctx context.Context) ([]ActionItemView, error) {
		items, err := s.st.ActionItems(ctx, sq)
		if err != nil {
			return nil, fmt.Errorf("load action items: %w", err)
		}
		out := make([]ActionItemView, 0, len(items))
		for _, it := range items {
			av, err := s.actionView(ctx, it)
			if err != nil {
				return nil, err
			}
			if sentiment != "" && av.Sentiment != sentiment {
				continue
			}
			out = append(out, av)
			if f.Limit > 0 && len(out) == f.Limit {
				break
			}
		}
		return out, nil
	})
	return v, err
}

// ActionItem finds an item by its id or by the id of its post.
func (s *Service) ActionItem(ctx context.Context, q Query, id string) (ActionItemView, error) {
	q, err := s.resolve(q)
	if err != nil {
		return ActionItemView{}, err
	}
	it, err := s.st.ActionItem(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		it, err = s.st.ActionItem(ctx, aggregate.ActionItemID(q.BankID, id))
		if errors.Is(err, domain.ErrNotFound) {
			return ActionItemView{}, domain.NotFound("action item", id)
		}
	}
	if err != nil {
		return ActionItemView{}, err
	}
	return s.actionView(ctx, it)
}

func (s *Service) actionView(ctx context.Context, it domain.ActionItem) (ActionItemView, error) {
	av := ActionItemView{ActionItem: it}
	p, err := s.st.Post(ctx, it.PostID)
	if errors.Is(err, domain.ErrNotFound) {
		return av, nil
	}
	if err != nil {
		return av, fmt.Errorf("load post %s: %w", it.PostID, err)
	}
	av.Text, av.AuthorName, av.URL = p.Text, p.AuthorName, p.URL
	av.Keywords = slices.Clone(p.Keywords)
	if p.Classification != nil {
		av.Sentiment, av.Emotion = p.Classification.Sentiment, p.Classification.Emotion
	}
	return av, nil
}

// ScrapingStatus describes a scrape run. It is never cached.
type ScrapingStatus struct {
	RunID           string           `json:"run_id"`
	BankID          string           `json:"bank_id,omitempty"`
	Status          domain.RunStatus `json:"status"`
	LastRun         time.Time        `json:"last_run"`
	FinishedAt      *time.Time       `json:"finished_at,omitempty"`
	DurationSeconds float64          `json:"duration_seconds"`
	PostsScraped    int              `json:"posts_scraped"`
	CommentsScraped int              `json:"comments_scraped"`
	Error           string           `json:"error,omitempty"`
}

// ScrapingStatus reports the given run, or the latest run of any bank when
// runID is empty.
func (s *Service) ScrapingStatus(ctx context.Context, runID string) (ScrapingStatus, error) {
	var (
		r   domain.ScrapeRun
		err error
	)
	if runID != "" {
		r, err = s.st.Run(ctx, runID)
	} else {
		r, err = s.st.LatestRun(ctx, "")
	}
	if err != nil {
		return ScrapingStatus{}, err
	}
	return ScrapingStatus{
		RunID:           r.ID,
		BankID:          r.BankID,
		Status:          r.Status,
		LastRun:         r.StartedAt,
		FinishedAt:      r.FinishedAt,
		DurationSeconds: r.Duration(s.now()).Seconds(),
		PostsScraped:    r.PostCount,
		CommentsScraped: r.CommentCount,
		Error:           r.Error,
	}, nil
}
