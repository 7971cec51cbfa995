package store

import (
	"cmp"
	"context"
	"iter"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fuad-ontik/Prime-Bank-Backend/engine/domain"
)

// Memory is an in-process Store guarded by a single RWMutex.
type Memory struct {
	mu       sync.RWMutex
	banks    *domain.Registry
	posts    map[string]domain.Post
	cls      map[string]domain.Classification
	comments map[string]domain.Comment
	runs     map[string]domain.ScrapeRun
	actions  map[string]domain.ActionItem
	pageSize int
	now      func() time.Time
}

// NewMemory creates an empty store that accepts posts for the given banks.
func NewMemory(banks *domain.Registry) *Memory {
	return &Memory{
		banks:    banks,
		posts:    make(map[string]domain.Post),
		cls:      make(map[string]domain.Classification),
		comments: make(map[string]domain.Comment),
		runs:     make(map[string]domain.ScrapeRun),
		actions:  make(map[string]domain.ActionItem),
		pageSize: DefaultPageSize,
		now:      time.Now,
	}
}

func (m *Memory) Ingest(_ context.Context, p domain.Post) (bool, error) {
	if err := domain.ValidatePost(p); err != nil {
		return false, err
	}
	if err := m.banks.Check(p.BankID); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.posts[p.ID]; dup {
		return false, nil
	}
	p.CreatedAt = normTime(p.CreatedAt)
	p.Keywords = slices.Clone(p.Keywords)
	p.State = domain.StateUnclassified
	p.FailureReason = ""
	m.posts[p.ID] = p
	if r, ok := m.runs[p.ScrapeRunID]; ok {
		r.PostCount++
		m.runs[r.ID] = r
	}
	return true, nil
}

func (m *Memory) IngestComment(_ context.Context, c domain.Comment) (bool, error) {
	if err := domain.ValidateComment(c); err != nil {
		return false, err
	}
	if err := m.banks.Check(c.BankID); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.comments[c.ID]; dup {
		return false, nil
	}
	c.CreatedAt = normTime(c.CreatedAt)
	m.comments[c.ID] = c
	if r, ok := m.runs[c.ScrapeRunID]; ok {
		r.CommentCount++
		m.runs[r.ID] = r
	}
	return true, nil
}

func (m *Memory) FetchUnclassified(ctx context.Context, bankID string, limit int) iter.Seq2[domain.Post, error] {
	return unclassifiedSeq(ctx, m.unclassifiedPage, bankID, limit, m.pageSize)
}

func (m *Memory) unclassifiedPage(ctx context.Context, bankID string, after *cursor, n int) ([]domain.Post, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	var page []domain.Post
	for _, p := range m.posts {
		if p.BankID == bankID && p.State == domain.StateUnclassified && after.before(p) {
			page = append(page, p)
		}
	}
	m.mu.RUnlock()
	slices.SortFunc(page, byCreated)
	if len(page) > n {
		page = page[:n]
	}
	return page, nil
}

func (m *Memory) SaveClassification(_ context.Context, c domain.Classification) error {
	if err := domain.ValidateClassification(c); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[c.PostID]
	if !ok {
		return domain.NotFound("post", c.PostID)
	}
	if c.ClassifiedAt.IsZero() {
		c.ClassifiedAt = m.now()
	}
	c.ClassifiedAt = normTime(c.ClassifiedAt)
	m.cls[c.PostID] = c
	p.State = domain.StateClassified
	p.FailureReason = ""
	m.posts[p.ID] = p
	return nil
}

func (m *Memory) MarkClassificationFailed(_ context.Context, postID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[postID]
	if !ok {
		return domain.NotFound("post", postID)
	}
	if p.State == domain.StateClassified {
		return nil
	}
	p.State = domain.StateClassificationFailed
	p.FailureReason = reason
	m.posts[postID] = p
	return nil
}

func (m *Memory) ResetFailed(_ context.Context, bankID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, p := range m.posts {
		if p.BankID == bankID && p.State == domain.StateClassificationFailed {
			p.State = domain.StateUnclassified
			p.FailureReason = ""
			m.posts[id] = p
			n++
		}
	}
	return n, nil
}

func (m *Memory) Posts(ctx context.Context, q PostQuery) ([]domain.ClassifiedPost, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := m.matchPosts(q)
	if q.Newest {
		slices.Reverse(out)
	}
	return window(out, q.Offset, q.Limit), nil
}

func (m *Memory) CountPosts(ctx context.Context, q PostQuery) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return len(m.matchPosts(q)), nil
}

func (m *Memory) matchPosts(q PostQuery) []domain.ClassifiedPost {
	needle := strings.ToLower(q.Text)
	m.mu.RLock()
	var out []domain.ClassifiedPost
	for _, p := range m.posts {
		cp := m.withClassification(p)
		if matchPost(cp, q, needle) {
			out = append(out, cp)
		}
	}
	m.mu.RUnlock()
	slices.SortFunc(out, func(a, b domain.ClassifiedPost) int { return byCreated(a.Post, b.Post) })
	return out
}

// withClassification must be called with mu held.
func (m *Memory) withClassification(p domain.Post) domain.ClassifiedPost {
	p.Keywords = slices.Clone(p.Keywords)
	cp := domain.ClassifiedPost{Post: p}
	if c, ok := m.cls[p.ID]; ok {
		cp.Classification = &c
	}
	return cp
}

func matchPost(p domain.ClassifiedPost, q PostQuery, needle string) bool {
	if q.BankID != "" && p.BankID != q.BankID {
		return false
	}
	if !q.Window.Contains(p.CreatedAt) {
		return false
	}
	if q.State != "" && p.State != q.State {
		return false
	}
	if q.Category != "" && (p.Classification == nil || p.Classification.Category != q.Category) {
		return false
	}
	if q.Sentiment != "" && (p.Classification == nil || p.Classification.Sentiment != q.Sentiment) {
		return false
	}
	if needle != "" {
		hay := strings.ToLower(p.Text + "\n" + strings.Join(p.Keywords, " ") + "\n" + p.AuthorName)
		if !strings.Contains(hay, needle) {
			return false
		}
	}
	return true
}

func (m *Memory) Post(_ context.Context, id string) (domain.ClassifiedPost, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.posts[id]
	if !ok {
		return domain.ClassifiedPost{}, domain.NotFound("post", id)
	}
	return m.withClassification(p), nil
}

func (m *Memory) Comments(ctx context.Context, q CommentQuery) ([]domain.Comment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := m.matchComments(q)
	if q.Newest {
		slices.Reverse(out)
	}
	return window(out, q.Offset, q.Limit), nil
}

func (m *Memory) CountComments(ctx context.Context, q CommentQuery) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return len(m.matchComments(q)), nil
}

func (m *Memory) matchComments(q CommentQuery) []domain.Comment {
	m.mu.RLock()
	var out []domain.Comment
	for _, c := range m.comments {
		if q.BankID != "" && c.BankID != q.BankID {
			continue
		}
		if q.PostID != "" && c.PostID != q.PostID {
			continue
		}
		if !q.Window.Contains(c.CreatedAt) {
			continue
		}
		out = append(out, c)
	}
	m.mu.RUnlock()
	slices.SortFunc(out, func(a, b domain.Comment) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return out
}

func (m *Memory) Comment(_ context.Context, id string) (domain.Comment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.comments[id]
	if !ok {
		return domain.Comment{}, domain.NotFound("comment", id)
	}
	return c, nil
}

func (m *Memory) RecordScrapeRun(_ context.Context, r domain.ScrapeRun) error {
	if err := domain.ValidateScrapeRun(r); err != nil {
		return err
	}
	if r.BankID != "" {
		if err := m.banks.Check(r.BankID); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.StartedAt.IsZero() {
		r.StartedAt = m.now()
	}
	r.StartedAt = normTime(r.StartedAt)
	if r.FinishedAt != nil {
		t := normTime(*r.FinishedAt)
		r.FinishedAt = &t
	}
	m.runs[r.ID] = r
	return nil
}

func (m *Memory) UpdateRunStatus(_ context.Context, runID string, status domain.RunStatus) (domain.ScrapeRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[runID]
	if !ok {
		return domain.ScrapeRun{}, domain.NotFound("run", runID)
	}
	if err := domain.CheckTransition(r.Status, status); err != nil {
		return r, err
	}
	if r.Status == status {
		return r, nil
	}
	now := normTime(m.now())
	r.Status = status
	if status == domain.RunRunning {
		r.StartedAt = now
	}
	if status.Terminal() {
		r.FinishedAt = &now
	}
	m.runs[runID] = r
	return r, nil
}

func (m *Memory) Run(_ context.Context, id string) (domain.ScrapeRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[id]
	if !ok {
		return domain.ScrapeRun{}, domain.NotFound("run", id)
	}
	return r, nil
}

func (m *Memory) LatestRun(_ context.Context, bankID string) (domain.ScrapeRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest domain.ScrapeRun
	found := false
	for _, r := range m.runs {
		if bankID != "" && r.BankID != bankID {
			continue
		}
		if !found || r.StartedAt.After(latest.StartedAt) || (r.StartedAt.Equal(latest.StartedAt) && r.ID > latest.ID) {
			latest, found = r, true
		}
	}
	if !found {
		return domain.ScrapeRun{}, domain.NotFound("run", "latest")
	}
	return latest, nil
}

func (m *Memory) SaveActionItem(_ context.Context, a domain.ActionItem) (bool, error) {
	if a.ID == "" {
		return false, domain.NewValidationError("id", "", domain.ErrMissingField)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.actions[a.ID]; dup {
		return false, nil
	}
	if _, ok := m.posts[a.PostID]; !ok {
		return false, domain.NotFound("post", a.PostID)
	}
	var c *domain.Classification
	if got, ok := m.cls[a.PostID]; ok {
		c = &got
	}
	if err := checkActionable(a.PostID, c); err != nil {
		return false, err
	}
	if a.Status == "" {
		a.Status = domain.ActionOpen
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = m.now()
	}
	a.CreatedAt = normTime(a.CreatedAt)
	m.actions[a.ID] = a
	return true, nil
}

func (m *Memory) ActionItems(ctx context.Context, q ActionItemQuery) ([]domain.ActionItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	var out []domain.ActionItem
	for _, a := range m.actions {
		if q.BankID != "" && a.BankID != q.BankID {
			continue
		}
		if q.Status != "" && a.Status != q.Status {
			continue
		}
		if q.Category != "" && a.Category != q.Category {
			continue
		}
		out = append(out, a)
	}
	m.mu.RUnlock()
	slices.SortFunc(out, byUrgency)
	return window(out, q.Offset, q.Limit), nil
}

func (m *Memory) ActionItem(_ context.Context, id string) (domain.ActionItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.actions[id]
	if !ok {
		return domain.ActionItem{}, domain.NotFound("action item", id)
	}
	return a, nil
}

func (m *Memory) ResolveActionItem(_ context.Context, id string) (domain.ActionItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.actions[id]
	if !ok {
		return domain.ActionItem{}, domain.NotFound("action item", id)
	}
	if a.Status == domain.ActionResolved {
		return a, nil
	}
	now := normTime(m.now())
	a.Status = domain.ActionResolved
	a.ResolvedAt = &now
	m.actions[id] = a
	return a, nil
}

func (m *Memory) Close() error { return nil }

func byCreated(a, b domain.Post) int {
	return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
}

func byUrgency(a, b domain.ActionItem) int {
	return cmp.Or(cmp.Compare(b.Urgency, a.Urgency), b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(a.ID, b.ID))
}

// window applies offset and limit; limit <= 0 means no limit.
func window[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
