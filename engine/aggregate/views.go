package aggregate

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/fuad-ontik/Prime-Bank-Backend/engine/domain"
	"github.com/fuad-ontik/Prime-Bank-Backend/engine/store"
	"github.com/fuad-ontik/Prime-Bank-Backend/engine/view"
	"github.com/fuad-ontik/Prime-Bank-Backend/pkg/fn"
	"github.com/fuad-ontik/Prime-Bank-Backend/pkg/textnlp"
)

// CategoryOther counts posts without a classification.
const CategoryOther = "other"

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return round(100*float64(n)/float64(total), 1)
}

func classifiedOnly(posts []domain.ClassifiedPost) []domain.ClassifiedPost {
	return fn.Filter(posts, func(p domain.ClassifiedPost) bool { return p.Classification != nil })
}

// SentimentBreakdown counts classified posts per sentiment.
type SentimentBreakdown struct {
	Counts       map[domain.Sentiment]int     `json:"counts"`
	Percentages  map[domain.Sentiment]float64 `json:"percentages"`
	Classified   int                          `json:"classified"`
	Completeness domain.Completeness          `json:"completeness"`
}

func (e *Engine) ComputeSentimentBreakdown(ctx context.Context, bankID string, w domain.Window) (SentimentBreakdown, error) {
	if err := e.checkBank(bankID); err != nil {
		return SentimentBreakdown{}, err
	}
	posts, err := e.posts(ctx, bankID, w)
	if err != nil {
		return SentimentBreakdown{}, err
	}
	return sentimentBreakdown(posts), nil
}

func sentimentBreakdown(posts []domain.ClassifiedPost) SentimentBreakdown {
	done := classifiedOnly(posts)
	counts := fn.CountBy(done, func(p domain.ClassifiedPost) domain.Sentiment { return p.Classification.Sentiment })
	b := SentimentBreakdown{
		Counts:       make(map[domain.Sentiment]int, len(domain.Sentiments)),
		Percentages:  make(map[domain.Sentiment]float64, len(domain.Sentiments)),
		Classified:   len(done),
		Completeness: domain.NewCompleteness(posts),
	}
	for _, s := range domain.Sentiments {
		b.Counts[s] = counts[s]
		b.Percentages[s] = percent(counts[s], len(done))
	}
	return b
}

// EmotionBreakdown counts classified posts per emotion.
type EmotionBreakdown struct {
	Counts       map[domain.Emotion]int     `json:"counts"`
	Percentages  map[domain.Emotion]float64 `json:"percentages"`
	Classified   int                        `json:"classified"`
	Completeness domain.Completeness        `json:"completeness"`
}

func (e *Engine) EmotionBreakdown(ctx context.Context, bankID string, w domain.Window) (EmotionBreakdown, error) {
	if err := e.checkBank(bankID); err != nil {
		return EmotionBreakdown{}, err
	}
	posts, err := e.posts(ctx, bankID, w)
	if err != nil {
		return EmotionBreakdown{}, err
	}
	done := classifiedOnly(posts)
	counts := fn.CountBy(done, func(p domain.ClassifiedPost) domain.Emotion { return p.Classification.Emotion })
	b := EmotionBreakdown{
		Counts:       make(map[domain.Emotion]int, len(domain.Emotions)),
		Percentages:  make(map[domain.Emotion]float64, len(domain.Emotions)),
		Classified:   len(done),
		Completeness: domain.NewCompleteness(posts),
	}
	for _, em := range domain.Emotions {
		b.Counts[em] = counts[em]
		b.Percentages[em] = percent(counts[em], len(done))
	}
	return b, nil
}

// CategoryBreakdown counts every post in the window per category; posts
// without a classification land in "other".
type CategoryBreakdown struct {
	Counts       map[string]int      `json:"counts"`
	Percentages  map[string]float64  `json:"percentages"`
	TotalPosts   int                 `json:"total_number_of_posts"`
	Completeness domain.Completeness `json:"completeness"`
}

func (e *Engine) CategoryBreakdown(ctx context.Context, bankID string, w domain.Window) (CategoryBreakdown, error) {
	if err := e.checkBank(bankID); err != nil {
		return CategoryBreakdown{}, err
	}
	posts, err := e.posts(ctx, bankID, w)
	if err != nil {
		return CategoryBreakdown{}, err
	}
	return categoryBreakdown(posts), nil
}

func categoryBreakdown(posts []domain.ClassifiedPost) CategoryBreakdown {
	counts := fn.CountBy(posts, func(p domain.ClassifiedPost) string {
		if p.Classification == nil {
			return CategoryOther
		}
		return string(p.Classification.Category)
	})
	keys := append(fn.Map(domain.Categories, func(c domain.Category) string { return string(c) }), CategoryOther)
	b := CategoryBreakdown{
		Counts:       make(map[string]int, len(keys)),
		Percentages:  make(map[string]float64, len(keys)),
		TotalPosts:   len(posts),
		Completeness: domain.NewCompleteness(posts),
	}
	for _, k := range keys {
		b.Counts[k] = counts[k]
		b.Percentages[k] = percent(counts[k], len(posts))
	}
	return b
}

// PageRequest is a 1-based page. Zero Size takes DefaultPageSize.
type PageRequest struct {
	Page int
	Size int
}

const DefaultPageSize = 20

// CategoryView is one page of the posts classified under a category.
type CategoryView struct {
	Category   domain.Category         `json:"category"`
	Posts      []domain.ClassifiedPost `json:"posts"`
	Page       int                     `json:"page"`
	PageSize   int                     `json:"page_size"`
	Total      int                     `json:"total"`
	TotalPages int                     `json:"total_pages"`
}

// TotalPages returns how many pages of size hold total items.
func TotalPages(total, size int) int {
	if size <= 0 || total <= 0 {
		return 0
	}
	return (total + size - 1) / size
}

func (e *Engine) ComputeCategoryView(ctx context.Context, bankID string, category domain.Category, w domain.Window, pr PageRequest) (CategoryView, error) {
	if err := e.checkBank(bankID); err != nil {
		return CategoryView{}, err
	}
	category = domain.Category(strings.ToLower(string(category)))
	if !domain.ValidCategory(category) {
		return CategoryView{}, domain.NewValidationError("category", string(category), domain.ErrInvalidLabel)
	}
	if pr.Page < 1 {
		return CategoryView{}, domain.NewValidationError("page", fmt.Sprint(pr.Page), domain.ErrInvalidPage)
	}
	if pr.Size <= 0 {
		pr.Size = DefaultPageSize
	}
	if err := w.Validate(); err != nil {
		return CategoryView{}, err
	}
	q := store.PostQuery{BankID: bankID, Window: w, Category: category, Newest: true}
	total, err := e.store.CountPosts(ctx, q)
	if err != nil {
		return CategoryView{}, fmt.Errorf("count category posts: %w", err)
	}
	q.Offset, q.Limit = (pr.Page-1)*pr.Size, pr.Size
	posts, err := e.store.Posts(ctx, q)
	if err != nil {
		return CategoryView{}, fmt.Errorf("load category posts: %w", err)
	}
	if posts == nil {
		posts = []domain.ClassifiedPost{}
	}
	return CategoryView{
		Category:   category,
		Posts:      posts,
		Page:       pr.Page,
		PageSize:   pr.Size,
		Total:      total,
		TotalPages: TotalPages(total, pr.Size),
	}, nil
}

// BankMentions counts, per registered bank, the posts that mention it by
// pattern or were scraped for it.
type BankMentions struct {
	Counts map[string]int `json:"banks"`
	Total  int            `json:"total_bank_mentions"`
}

func (e *Engine) BankMentions(ctx context.Context, w domain.Window) (BankMentions, error) {
	posts, err := e.posts(ctx, "", w)
	if err != nil {
		return BankMentions{}, err
	}
	return e.bankMentions(posts), nil
}

func (e *Engine) bankMentions(posts []domain.ClassifiedPost) BankMentions {
	m := BankMentions{Counts: make(map[string]int)}
	for _, id := range e.banks.IDs() {
		m.Counts[id] = 0
	}
	for _, p := range posts {
		ids := e.banks.Mentions(p.Text)
		if e.banks.Known(p.BankID) && !slices.Contains(ids, p.BankID) {
			ids = append(ids, p.BankID)
		}
		for _, id := range ids {
			m.Counts[id]++
			m.Total++
		}
	}
	return m
}

// ComputeKPIs derives the headline indicators of a bank.
func (e *Engine) ComputeKPIs(ctx context.Context, bankID string, w domain.Window) (domain.KPIs, error) {
	if err := e.checkBank(bankID); err != nil {
		return domain.KPIs{}, err
	}
	all, err := e.posts(ctx, "", w)
	if err != nil {
		return domain.KPIs{}, err
	}
	open, err := e.store.ActionItems(ctx, store.ActionItemQuery{BankID: bankID, Status: domain.ActionOpen})
	if err != nil {
		return domain.KPIs{}, fmt.Errorf("load action items: %w", err)
	}
	return e.kpis(bankID, all, len(open)), nil
}

func (e *Engine) kpis(bankID string, all []domain.ClassifiedPost, openItems int) domain.KPIs {
	mentions := e.bankMentions(all)
	own := fn.Filter(all, func(p domain.ClassifiedPost) bool { return p.BankID == bankID })
	done := classifiedOnly(own)

	var pos, neg int
	var weighted float64
	for _, p := range done {
		switch p.Classification.Sentiment {
		case domain.SentimentPositive:
			pos++
		case domain.SentimentNegative:
			neg++
		}
		weighted += p.Virality() * e.cfg.KPI.SentimentWeights[p.Classification.Sentiment]
	}
	k := domain.KPIs{
		TotalMentionsOfAllBanks:     mentions.Total,
		PostsMentioningBank:         mentions.Counts[bankID],
		BankSentimentScore:          pos - neg,
		EngagementWeightedSentiment: round(weighted, 2),
		ResponseNeeded:              openItems,
	}
	if len(done) > 0 {
		k.NetSentimentScore = round(float64(pos-neg)/float64(len(done)), 3)
	}
	if len(own) > 0 {
		k.ClassificationCoverage = round(float64(len(done))/float64(len(own)), 3)
	}
	return k
}

// GeoView buckets posts by normalized author location.
type GeoView struct {
	Granularity string             `json:"granularity"`
	Buckets     []domain.GeoBucket `json:"buckets"`
	Total       int                `json:"total"`
}

// UnknownLocation is the bucket for posts without an author location.
const UnknownLocation = "unknown"

func (e *Engine) GeolocationClusters(ctx context.Context, bankID string, w domain.Window) (GeoView, error) {
	if err := e.checkBank(bankID); err != nil {
		return GeoView{}, err
	}
	posts, err := e.posts(ctx, bankID, w)
	if err != nil {
		return GeoView{}, err
	}
	return GeoView{Granularity: e.cfg.Geo.Granularity, Buckets: e.geoBuckets(posts), Total: len(posts)}, nil
}

func (e *Engine) geoBuckets(posts []domain.ClassifiedPost) []domain.GeoBucket {
	counts := fn.CountBy(posts, func(p domain.ClassifiedPost) string { return e.locationKey(p.AuthorLocation) })
	buckets := make([]domain.GeoBucket, 0, len(counts))
	for k, n := range counts {
		buckets = append(buckets, domain.GeoBucket{Key: k, Count: n})
	}
	slices.SortFunc(buckets, func(a, b domain.GeoBucket) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Key, b.Key)
	})
	return buckets
}

func (e *Engine) locationKey(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return UnknownLocation
	}
	place, ok := textnlp.NormalizeLocation(raw)
	if e.cfg.Geo.Granularity == GranularityDivision {
		// Places outside the gazetteer have no known division.
		if !ok || place.Division == "" {
			return UnknownLocation
		}
		return place.Division
	}
	if !ok {
		if clean := textnlp.CleanLocation(raw); clean != "" {
			return clean
		}
		return UnknownLocation
	}
	return place.City
}

// TopPosts returns the most viral posts, latest first on ties.
func (e *Engine) TopPosts(ctx context.Context, bankID string, w domain.Window, limit int) ([]domain.ClassifiedPost, error) {
	if err := e.checkBank(bankID); err != nil {
		return nil, err
	}
	posts, err := e.posts(ctx, bankID, w)
	if err != nil {
		return nil, err
	}
	return fn.TopN(posts, limit, func(a, b domain.ClassifiedPost) bool {
		if va, vb := a.Virality(), b.Virality(); va != vb {
			return va > vb
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	}), nil
}

// TopComments returns the comments with the most likes+2*replies, latest
// first on ties.
func (e *Engine) TopComments(ctx context.Context, bankID string, w domain.Window, limit int) ([]domain.Comment, error) {
	if err := e.checkBank(bankID); err != nil {
		return nil, err
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	comments, err := e.store.Comments(ctx, store.CommentQuery{BankID: bankID, Window: w})
	if err != nil {
		return nil, fmt.Errorf("load comments: %w", err)
	}
	return fn.TopN(comments, limit, func(a, b domain.Comment) bool {
		if va, vb := a.Virality(), b.Virality(); va != vb {
			return va > vb
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	}), nil
}

// Snapshot computes the aggregate view of a bank in one read of the store.
func (e *Engine) Snapshot(ctx context.Context, bankID string, w domain.Window) (domain.AggregateView, error) {
	if err := e.checkBank(bankID); err != nil {
		return domain.AggregateView{}, err
	}
	all, err := e.posts(ctx, "", w)
	if err != nil {
		return domain.AggregateView{}, err
	}
	open, err := e.store.ActionItems(ctx, store.ActionItemQuery{BankID: bankID, Status: domain.ActionOpen})
	if err != nil {
		return domain.AggregateView{}, fmt.Errorf("load action items: %w", err)
	}
	own := fn.Filter(all, func(p domain.ClassifiedPost) bool { return p.BankID == bankID })
	sent := sentimentBreakdown(own)
	cats := make(map[domain.Category]int, len(domain.Categories))
	for _, c := range domain.Categories {
		cats[c] = 0
	}
	for _, p := range classifiedOnly(own) {
		cats[p.Classification.Category]++
	}
	return domain.AggregateView{
		Key:             view.Key{BankID: bankID, Window: w, View: "snapshot"}.String(),
		BankID:          bankID,
		Window:          w,
		SentimentCounts: sent.Counts,
		CategoryCounts:  cats,
		KPIs:            e.kpis(bankID, all, len(open)),
		Geolocation:     e.geoBuckets(own),
		ComputedAt:      e.now(),
		SourcePostCount: len(own),
		Completeness:    sent.Completeness,
	}, nil
}
