// Package store persists posts, comments, classifications, scrape runs and
// action items. Memory is the default backend; SQL backs both SQLite and
// Postgres through database/sql.
package store

import (
	"context"
	"iter"
	"time"

	"github.com/fuad-ontik/Prime-Bank-Backend/engine/domain"
)

// DefaultPageSize is how many posts FetchUnclassified pulls per round trip.
const DefaultPageSize = 100

// Store is the Post Store contract shared by every backend.
type Store interface {
	// Ingest stores a post. Duplicate ids are a no-op reported as created=false.
	Ingest(ctx context.Context, p domain.Post) (created bool, err error)
	// IngestComment stores a comment with the same idempotency rule.
	IngestComment(ctx context.Context, c domain.Comment) (created bool, err error)

	// FetchUnclassified yields up to limit unclassified posts of a bank,
	// oldest first. Ranging over the sequence again restarts from the oldest.
	FetchUnclassified(ctx context.Context, bankID string, limit int) iter.Seq2[domain.Post, error]
	SaveClassification(ctx context.Context, c domain.Classification) error
	MarkClassificationFailed(ctx context.Context, postID, reason string) error
	// ResetFailed moves a bank's failed posts back to unclassified.
	ResetFailed(ctx context.Context, bankID string) (int, error)

	Posts(ctx context.Context, q PostQuery) ([]domain.ClassifiedPost, error)
	CountPosts(ctx context.Context, q PostQuery) (int, error)
	Post(ctx context.Context, id string) (domain.ClassifiedPost, error)

	Comments(ctx context.Context, q CommentQuery) ([]domain.Comment, error)
	CountComments(ctx context.Context, q CommentQuery) (int, error)
	Comment(ctx context.Context, id string) (domain.Comment, error)

	RecordScrapeRun(ctx context.Context, r domain.ScrapeRun) error
	UpdateRunStatus(ctx context.Context, runID string, status domain.RunStatus) (domain.ScrapeRun, error)
	Run(ctx context.Context, id string) (domain.ScrapeRun, error)
	// LatestRun returns the most recently started run; an empty bank matches any.
	LatestRun(ctx context.Context, bankID string) (domain.ScrapeRun, error)

	// SaveActionItem inserts the item unless its id already exists.
	SaveActionItem(ctx context.Context, a domain.ActionItem) (created bool, err error)
	ActionItems(ctx context.Context, q ActionItemQuery) ([]domain.ActionItem, error)
	ActionItem(ctx context.Context, id string) (domain.ActionItem, error)
	ResolveActionItem(ctx context.Context, id string) (domain.ActionItem, error)

	Close() error
}

// PostQuery filters posts. Zero fields do not filter.
type PostQuery struct {
	BankID    string
	Window    domain.Window
	State     domain.PostState
	Category  domain.Category
	Sentiment domain.Sentiment
	// Text matches case-insensitively against text, keywords and author name.
	Text   string
	Newest bool
	Offset int
	Limit  int
}

// CommentQuery filters comments. Zero fields do not filter.
type CommentQuery struct {
	BankID string
	PostID string
	Window domain.Window
	Newest bool
	Offset int
	Limit  int
}

// ActionItemQuery filters action items. Results are ordered by urgency, most
// urgent first.
type ActionItemQuery struct {
	BankID   string
	Status   domain.ActionStatus
	Category domain.Category
	Offset   int
	Limit    int
}

// cursor is the keyset position of the last post handed out.
type cursor struct {
	createdAt time.Time
	id        string
}

func (c *cursor) before(p domain.Post) bool {
	if c == nil {
		return true
	}
	if p.CreatedAt.Equal(c.createdAt) {
		return p.ID > c.id
	}
	return p.CreatedAt.After(c.createdAt)
}

// pageFunc fetches up to n unclassified posts of a bank strictly after the cursor.
type pageFunc func(ctx context.Context, bankID string, after *cursor, n int) ([]domain.Post, error)

// unclassifiedSeq turns a page fetcher into a lazy sequence. Every range over
// the result starts from a nil cursor.
func unclassifiedSeq(ctx context.Context, fetch pageFunc, bankID string, limit, pageSize int) iter.Seq2[domain.Post, error] {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return func(yield func(domain.Post, error) bool) {
		var after *cursor
		yielded := 0
		for limit <= 0 || yielded < limit {
			n := pageSize
			if limit > 0 && limit-yielded < n {
				n = limit - yielded
			}
			page, err := fetch(ctx, bankID, after, n)
			if err != nil {
				yield(domain.Post{}, err)
				return
			}
			for _, p := range page {
				if !yield(p, nil) {
					return
				}
				yielded++
			}
			if len(page) < n {
				return
			}
			last := page[len(page)-1]
			after = &cursor{createdAt: last.CreatedAt, id: last.ID}
		}
	}
}

// normTime truncates to the millisecond precision the SQL backends keep.
func normTime(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC().Truncate(time.Millisecond)
}

// checkActionable enforces that action items only point at complaints and inquiries.
func checkActionable(postID string, c *domain.Classification) error {
	if c == nil {
		return domain.NewValidationError("post_id", postID, domain.ErrClassification)
	}
	if c.Category != domain.CategoryComplaint && c.Category != domain.CategoryInquiry {
		return domain.NewValidationError("category", string(c.Category), domain.ErrInvalidLabel)
	}
	return nil
}
