// Package domain defines the core types, error taxonomy and validation for the
// bank mentions pipeline. Store, engine and query layers all speak these types.
package domain

import "time"

// Sentiment is the polarity assigned to a post.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// Sentiments lists every sentiment in display order.
var Sentiments = []Sentiment{SentimentPositive, SentimentNegative, SentimentNeutral}

// Emotion is the dominant emotion detected in a post.
type Emotion string

const (
	EmotionNeutral     Emotion = "neutral"
	EmotionJoy         Emotion = "joy"
	EmotionConfusion   Emotion = "confusion"
	EmotionFrustration Emotion = "frustration"
)

// Emotions lists every emotion in display order.
var Emotions = []Emotion{EmotionNeutral, EmotionJoy, EmotionConfusion, EmotionFrustration}

// Category is the intent bucket of a post.
type Category string

const (
	CategoryComplaint  Category = "complaint"
	CategoryInquiry    Category = "inquiry"
	CategoryPraise     Category = "praise"
	CategorySuggestion Category = "suggestion"
)

// Categories lists every category in display order.
var Categories = []Category{CategoryInquiry, CategoryComplaint, CategoryPraise, CategorySuggestion}

// ValidSentiment reports whether s is a known sentiment.
func ValidSentiment(s Sentiment) bool {
	switch s {
	case SentimentPositive, SentimentNeutral, SentimentNegative:
		return true
	}
	return false
}

// ValidEmotion reports whether e is a known emotion.
func ValidEmotion(e Emotion) bool {
	switch e {
	case EmotionNeutral, EmotionJoy, EmotionConfusion, EmotionFrustration:
		return true
	}
	return false
}

// ValidCategory reports whether c is a known category.
func ValidCategory(c Category) bool {
	switch c {
	case CategoryComplaint, CategoryInquiry, CategoryPraise, CategorySuggestion:
		return true
	}
	return false
}

// PostState tracks a post through classification.
type PostState string

const (
	StateUnclassified         PostState = "unclassified"
	StateClassified           PostState = "classified"
	StateClassificationFailed PostState = "classification_failed"
)

// Post is a single scraped item mentioning a bank. Everything except State is
// immutable once stored.
type Post struct {
	ID             string    `json:"id"`
	Source         string    `json:"source"`
	BankID         string    `json:"bank_id"`
	Text           string    `json:"text"`
	AuthorName     string    `json:"author_name,omitempty"`
	AuthorLocation string    `json:"author_location,omitempty"`
	URL            string    `json:"url,omitempty"`
	Keywords       []string  `json:"keywords,omitempty"`
	Reactions      int       `json:"reactions"`
	Comments       int       `json:"comments"`
	Shares         int       `json:"shares"`
	ViralityScore  float64   `json:"virality_score,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	ScrapeRunID    string    `json:"scrape_run_id,omitempty"`
	State          PostState `json:"state"`
	FailureReason  string    `json:"failure_reason,omitempty"`
}

// Virality returns the scraper-supplied virality score, or an engagement
// estimate when the scraper did not provide one.
func (p Post) Virality() float64 {
	if p.ViralityScore > 0 {
		return p.ViralityScore
	}
	return float64(p.Reactions + 2*p.Comments + 3*p.Shares)
}

// Comment is a reply scraped underneath a post.
type Comment struct {
	ID          string    `json:"id"`
	PostID      string    `json:"post_id"`
	BankID      string    `json:"bank_id"`
	Text        string    `json:"text"`
	AuthorName  string    `json:"author_name,omitempty"`
	URL         string    `json:"url,omitempty"`
	Likes       int       `json:"likes"`
	Replies     int       `json:"replies"`
	CreatedAt   time.Time `json:"created_at"`
	ScrapeRunID string    `json:"scrape_run_id,omitempty"`
}

// Virality weights replies twice as heavily as likes.
func (c Comment) Virality() float64 {
	return float64(c.Likes + 2*c.Replies)
}

// Classification holds the labels derived for exactly one post.
type Classification struct {
	PostID       string    `json:"post_id"`
	Sentiment    Sentiment `json:"sentiment"`
	Emotion      Emotion   `json:"emotion"`
	Category     Category  `json:"category"`
	Confidence   float64   `json:"confidence"`
	ClassifiedAt time.Time `json:"classified_at"`
}

// ClassifiedPost pairs a post with its classification, if any.
type ClassifiedPost struct {
	Post
	Classification *Classification `json:"classification,omitempty"`
}

// RunStatus is the lifecycle of a scrape run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Terminal reports whether no further transition is possible.
func (s RunStatus) Terminal() bool { return s == RunCompleted || s == RunFailed }

// ScrapeRun tracks one execution of the upstream scraper.
type ScrapeRun struct {
	ID           string     `json:"run_id"`
	BankID       string     `json:"bank_id,omitempty"`
	Status       RunStatus  `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	PostCount    int        `json:"post_count"`
	CommentCount int        `json:"comment_count"`
	Error        string     `json:"error,omitempty"`
}

// Duration is the elapsed run time, measured to now for unfinished runs.
func (r ScrapeRun) Duration(now time.Time) time.Duration {
	if r.StartedAt.IsZero() {
		return 0
	}
	if r.FinishedAt != nil {
		return r.FinishedAt.Sub(r.StartedAt)
	}
	return now.Sub(r.StartedAt)
}

// ActionStatus is the follow-up state of an action item.
type ActionStatus string

const (
	ActionOpen     ActionStatus = "open"
	ActionResolved ActionStatus = "resolved"
)

// ActionItem flags a complaint or inquiry that needs follow-up.
type ActionItem struct {
	ID          string       `json:"id"`
	BankID      string       `json:"bank_id"`
	PostID      string       `json:"post_id"`
	Category    Category     `json:"category"`
	Urgency     float64      `json:"urgency"`
	Description string       `json:"description"`
	Status      ActionStatus `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
	ResolvedAt  *time.Time   `json:"resolved_at,omitempty"`
}

// Completeness reports how much of a view's window has been classified.
type Completeness struct {
	Classified int  `json:"classified"`
	Pending    int  `json:"pending"`
	Failed     int  `json:"failed"`
	Complete   bool `json:"complete"`
}

// NewCompleteness tallies post states.
func NewCompleteness(posts []ClassifiedPost) Completeness {
	var c Completeness
	for _, p := range posts {
		switch p.State {
		case StateClassified:
			c.Classified++
		case StateClassificationFailed:
			c.Failed++
		default:
			c.Pending++
		}
	}
	c.Complete = c.Pending == 0 && c.Failed == 0
	return c
}

// GeoBucket counts posts for one location key.
type GeoBucket struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// KPIs are the headline indicators for a bank and window.
type KPIs struct {
	TotalMentionsOfAllBanks     int     `json:"total_mentions_of_all_banks"`
	PostsMentioningBank         int     `json:"posts_mentioning_bank"`
	BankSentimentScore          int     `json:"bank_sentiment_score"`
	NetSentimentScore           float64 `json:"net_sentiment_score"`
	EngagementWeightedSentiment float64 `json:"engagement_weighted_sentiment"`
	ResponseNeeded              int     `json:"response_needed"`
	ClassificationCoverage      float64 `json:"classification_coverage"`
}

// AggregateView is a cached snapshot of the derived views for one key.
type AggregateView struct {
	Key             string            `json:"key"`
	BankID          string            `json:"bank_id"`
	Window          Window            `json:"window"`
	SentimentCounts map[Sentiment]int `json:"sentiment_counts"`
	CategoryCounts  map[Category]int  `json:"category_counts"`
	KPIs            KPIs              `json:"kpis"`
	Geolocation     []GeoBucket       `json:"geolocation_buckets"`
	ComputedAt      time.Time         `json:"computed_at"`
	SourcePostCount int               `json:"source_post_count"`
	Completeness    Completeness      `json:"completeness"`
}
