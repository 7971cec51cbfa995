package dashboard

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fuad-ontik/Prime-Bank-Backend/engine/aggregate"
	"github.com/fuad-ontik/Prime-Bank-Backend/engine/domain"
	"github.com/fuad-ontik/Prime-Bank-Backend/engine/overview"
	"github.com/fuad-ontik/Prime-Bank-Backend/engine/store"
)

// Page sizes of the raw data listings.
const (
	FullDataPageSize = 50
	FullItemPageSize = 25
	DefaultSearch    = 50
	MaxSearch        = 500
)

// Dashboard is the complete data of one bank.
type Dashboard struct {
	BankID            string                 `json:"bank_id"`
	ActionItems       []ActionItemView       `json:"action_items"`
	AIOverview        overview.Overview      `json:"ai_overview"`
	BankMentions      aggregate.BankMentions `json:"bank_mentions"`
	KPI               domain.KPIs            `json:"kpi"`
	Geolocation       aggregate.GeoView      `json:"post_geolocation"`
	ScrapingStatus    *ScrapingStatus        `json:"scraping_status"`
	SentimentAnalysis SentimentAnalysis      `json:"sentiment_analysis"`
	TopComments       []domain.Comment       `json:"top_comments"`
	Completeness      domain.Completeness    `json:"completeness"`
	LastUpdated       time.Time              `json:"last_updated"`
}

func (s *Service) Dashboard(ctx context.Context, q Query) (Dashboard, error) {
	q, err := s.resolve(q)
	if err != nil {
		return Dashboard{}, err
	}
	d := Dashboard{BankID: q.BankID, LastUpdated: s.now().UTC()}
	if d.ActionItems, err = s.ActionItems(ctx, q, ActionFilter{Status: string(domain.ActionOpen)}); err != nil {
		return d, err
	}
	if d.AIOverview, err = s.AIOverview(ctx, q); err != nil {
		return d, err
	}
	if d.BankMentions, err = s.BankMentions(ctx, q); err != nil {
		return d, err
	}
	if d.KPI, err = s.KPI(ctx, q); err != nil {
		return d, err
	}
	if d.Geolocation, err = s.Geolocation(ctx, q); err != nil {
		return d, err
	}
	if d.SentimentAnalysis, err = s.SentimentAnalysis(ctx, q); err != nil {
		return d, err
	}
	if d.TopComments, err = s.TopComments(ctx, q, DefaultTopPosts); err != nil {
		return d, err
	}
	d.Completeness = d.SentimentAnalysis.SentimentDistribution.Completeness
	if st, err := s.ScrapingStatus(ctx, ""); err == nil {
		d.ScrapingStatus = &st
	} else if !isNotFound(err) {
		return d, err
	}
	return d, nil
}

// Label is a named share of a distribution.
type Label struct {
	Name       string  `json:"name"`
	Percentage float64 `json:"percentage"`
}

// Summary is the headline numbers of one bank.
type Summary struct {
	TotalActionItems  int                 `json:"total_action_items"`
	TotalBankMentions int                 `json:"total_bank_mentions"`
	BankMentions      int                 `json:"bank_mentions"`
	SentimentScore    int                 `json:"sentiment_score"`
	PostsScraped      int                 `json:"posts_scraped"`
	ScrapingStatus    domain.RunStatus    `json:"scraping_status,omitempty"`
	TopEmotion        *Label              `json:"top_emotion"`
	DominantSentiment *Label              `json:"dominant_sentiment"`
	Completeness      domain.Completeness `json:"completeness"`
}

func (s *Service) Summary(ctx context.Context, q Query) (Summary, error) {
	q, err := s.resolve(q)
	if err != nil {
		return Summary{}, err
	}
	items, err := s.ActionItems(ctx, q, ActionFilter{Status: string(domain.ActionOpen)})
	if err != nil {
		return Summary{}, err
	}
	mentions, err := s.BankMentions(ctx, q)
	if err != nil {
		return Summary{}, err
	}
	kpi, err := s.KPI(ctx, q)
	if err != nil {
		return Summary{}, err
	}
	emotions, err := s.Emotions(ctx, q)
	if err != nil {
		return Summary{}, err
	}
	sentiments, err := s.Sentiments(ctx, q)
	if err != nil {
		return Summary{}, err
	}
	sum := Summary{
		TotalActionItems:  len(items),
		TotalBankMentions: mentions.Total,
		BankMentions:      mentions.Counts[q.BankID],
		SentimentScore:    kpi.BankSentimentScore,
		TopEmotion:        top(emotions.Counts, emotions.Percentages),
		DominantSentiment: top(sentiments.Counts, sentiments.Percentages),
		Completeness:      sentiments.Completeness,
	}
	if st, err := s.ScrapingStatus(ctx, ""); err == nil {
		sum.PostsScraped, sum.ScrapingStatus = st.PostsScraped, st.Status
	} else if !isNotFound(err) {
		return Summary{}, err
	}
	return sum, nil
}

// top picks the label with the highest count; ties go to the smaller name.
// Nothing is returned when no post is classified.
func top[K ~string](counts map[K]int, pct map[K]float64) *Label {
	var (
		best K
		n    int
	)
	for k, c := range counts {
		if c > n || (c == n && c > 0 && k < best) {
			best, n = k, c
		}
	}
	if n == 0 {
		return nil
	}
	return &Label{Name: string(best), Percentage: pct[best]}
}

// SearchResult is the outcome of a text search.
type SearchResult struct {
	Query string                  `json:"query"`
	Posts []domain.ClassifiedPost `json:"posts"`
	Count int                     `json:"count"`
}

// Search matches text case-insensitively against post text, keywords and
// author names of the bank, newest first.
func (s *Service) Search(ctx context.Context, q Query, text string, limit int) (SearchResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return SearchResult{}, domain.ErrEmptyQuery
	}
	q, err := s.resolve(q)
	if err != nil {
		return SearchResult{}, err
	}
	if limit < 1 {
		limit = DefaultSearch
	}
	limit = min(limit, MaxSearch)
	posts, err := s.st.Posts(ctx, store.PostQuery{BankID: q.BankID, Window: q.Window, Text: text, Newest: true, Limit: limit})
	if err != nil {
		return SearchResult{}, fmt.Errorf("search posts: %w", err)
	}
	if posts == nil {
		posts = []domain.ClassifiedPost{}
	}
	return SearchResult{Query: text, Posts: posts, Count: len(posts)}, nil
}

// Pagination describes a page of a raw data listing.
type Pagination struct {
	CurrentPage   int `json:"current_page"`
	TotalPages    int `json:"total_pages"`
	NumberOfPages int `json:"number_of_pages"`
	ItemsPerPage  int `json:"items_per_page"`
	TotalPosts    int `json:"total_posts"`
	TotalComments int `json:"total_comments"`
}

// FullItem is a post or a comment of the combined listing.
type FullItem struct {
	Type    string                 `json:"type"`
	Post    *domain.ClassifiedPost `json:"post,omitempty"`
	Comment *domain.Comment        `json:"comment,omitempty"`
}

// FullDataPage is a page of posts followed by comments.
type FullDataPage struct {
	Items      []FullItem `json:"items"`
	Pagination Pagination `json:"pagination"`
}

// FullData pages through the bank's posts and then its comments, fifty
// items per page. The comments start on the page where the posts run out.
func (s *Service) FullData(ctx context.Context, q Query, page int) (FullDataPage, error) {
	q, err := s.resolve(q)
	if err != nil {
		return FullDataPage{}, err
	}
	if err := checkPage(page); err != nil {
		return FullDataPage{}, err
	}
	nPosts, nComments, err := s.counts(ctx, q)
	if err != nil {
		return FullDataPage{}, err
	}

	start := (page - 1) * FullDataPageSize
	out := FullDataPage{Items: []FullItem{}}
	if start < nPosts {
		posts, err := s.st.Posts(ctx, store.PostQuery{BankID: q.BankID, Window: q.Window, Newest: true, Offset: start, Limit: FullDataPageSize})
		if err != nil {
			return FullDataPage{}, fmt.Errorf("load posts: %w", err)
		}
		for i := range posts {
			out.Items = append(out.Items, FullItem{Type: "post", Post: &posts[i]})
		}
	}
	if remaining := FullDataPageSize - len(out.Items); remaining > 0 {
		offset := max(0, start-nPosts)
		if offset < nComments {
			comments, err := s.st.Comments(ctx, store.CommentQuery{BankID: q.BankID, Window: q.Window, Newest: true, Offset: offset, Limit: remaining})
			if err != nil {
				return FullDataPage{}, fmt.Errorf("load comments: %w", err)
			}
			for i := range comments {
				out.Items = append(out.Items, FullItem{Type: "comment", Comment: &comments[i]})
			}
		}
	}
	pages := aggregate.TotalPages(nPosts+nComments, FullDataPageSize)
	out.Pagination = Pagination{
		CurrentPage: page, TotalPages: pages, NumberOfPages: pages,
		ItemsPerPage: FullDataPageSize, TotalPosts: nPosts, TotalComments: nComments,
	}
	return out, nil
}

// PostsPage is a page of posts.
type PostsPage struct {
	Items      []domain.ClassifiedPost `json:"items"`
	Pagination Pagination              `json:"pagination"`
}

// FullPosts pages through the bank's posts, twenty-five per page.
func (s *Service) FullPosts(ctx context.Context, q Query, page int) (PostsPage, error) {
	q, err := s.resolve(q)
	if err != nil {
		return PostsPage{}, err
	}
	if err := checkPage(page); err != nil {
		return PostsPage{}, err
	}
	total, err := s.st.CountPosts(ctx, store.PostQuery{BankID: q.BankID, Window: q.Window})
	if err != nil {
		return PostsPage{}, fmt.Errorf("count posts: %w", err)
	}
	items := []domain.ClassifiedPost{}
	if start := (page - 1) * FullItemPageSize; start < total {
		if items, err = s.st.Posts(ctx, store.PostQuery{BankID: q.BankID, Window: q.Window, Newest: true, Offset: start, Limit: FullItemPageSize}); err != nil {
			return PostsPage{}, fmt.Errorf("load posts: %w", err)
		}
	}
	pages := aggregate.TotalPages(total, FullItemPageSize)
	return PostsPage{Items: items, Pagination: Pagination{
		CurrentPage: page, TotalPages: pages, NumberOfPages: pages,
		ItemsPerPage: FullItemPageSize, TotalPosts: total,
	}}, nil
}

// CommentsPage is a page of comments.
type CommentsPage struct {
	Items      []domain.Comment `json:"items"`
	Pagination Pagination       `json:"pagination"`
}

// FullComments pages through the bank's comments, twenty-five per page.
func (s *Service) FullComments(ctx context.Context, q Query, page int) (CommentsPage, error) {
	q, err := s.resolve(q)
	if err != nil {
		return CommentsPage{}, err
	}
	if err := checkPage(page); err != nil {
		return CommentsPage{}, err
	}
	total, err := s.st.CountComments(ctx, store.CommentQuery{BankID: q.BankID, Window: q.Window})
	if err != nil {
		return CommentsPage{}, fmt.Errorf("count comments: %w", err)
	}
	items := []domain.Comment{}
	if start := (page - 1) * FullItemPageSize; start < total {
		if items, err = s.st.Comments(ctx, store.CommentQuery{BankID: q.BankID, Window: q.Window, Newest: true, Offset: start, Limit: FullItemPageSize}); err != nil {
			return CommentsPage{}, fmt.Errorf("load comments: %w", err)
		}
	}
	pages := aggregate.TotalPages(total, FullItemPageSize)
	return CommentsPage{Items: items, Pagination: Pagination{
		CurrentPage: page, TotalPages: pages, NumberOfPages: pages,
		ItemsPerPage: FullItemPageSize, TotalComments: total,
	}}, nil
}

func (s *Service) counts(ctx context.Context, q Query) (posts, comments int, err error) {
	if posts, err = s.st.CountPosts(ctx, store.PostQuery{BankID: q.BankID, Window: q.Window}); err != nil {
		return 0, 0, fmt.Errorf("count posts: %w", err)
	}
	if comments, err = s.st.CountComments(ctx, store.CommentQuery{BankID: q.BankID, Window: q.Window}); err != nil {
		return 0, 0, fmt.Errorf("count comments: %w", err)
	}
	return posts, comments, nil
}

func isNotFound(err error) bool { return errors.Is(err, domain.ErrNotFound) }

func checkPage(page int) error {
	if page < 1 {
		return domain.NewValidationError("page", strconv.Itoa(page), domain.ErrInvalidPage)
	}
	return nil
}

func (s *Service) PostByID(ctx context.Context, id string) (domain.ClassifiedPost, error) {
	return s.st.Post(ctx, id)
}

func (s *Service) CommentByID(ctx context.Context, id string) (domain.Comment, error) {
	return s.st.Comment(ctx, id)
}

func (s *Service) RunByID(ctx context.Context, id string) (domain.ScrapeRun, error) {
	return s.st.Run(ctx, id)
}
