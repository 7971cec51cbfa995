package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/fuad-ontik/Prime-Bank-Backend/engine/domain"
)

// dialect captures the few differences between SQLite and Postgres.
type dialect struct {
	name   string
	dollar bool // $1 placeholders instead of ?
}

func (d dialect) rebind(q string) string {
	if !d.dollar {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 16)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

// SQL is a Store on top of database/sql.
type SQL struct {
	db       *sql.DB
	dialect  dialect
	banks    *domain.Registry
	pageSize int
	now      func() time.Time
	onClose  func()
}

func newSQL(ctx context.Context, db *sql.DB, d dialect, banks *domain.Registry) (*SQL, error) {
	s := &SQL{db: db, dialect: d, banks: banks, pageSize: DefaultPageSize, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("%s migrate: %w", d.name, err)
	}
	return s, nil
}

func (s *SQL) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// DB exposes the underlying handle for health checks.
func (s *SQL) DB() *sql.DB { return s.db }

func (s *SQL) Close() error {
	err := s.db.Close()
	if s.onClose != nil {
		s.onClose()
	}
	return err
}

func (s *SQL) exec(ctx context.Context, q sqlExecer, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, s.dialect.rebind(query), args...)
}

type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQL) queryRow(ctx context.Context, q sqlExecer, query string, args ...any) *sql.Row {
	return q.QueryRowContext(ctx, s.dialect.rebind(query), args...)
}

func (s *SQL) query(ctx context.Context, q sqlExecer, query string, args ...any) (*sql.Rows, error) {
	return q.QueryContext(ctx, s.dialect.rebind(query), args...)
}

func (s *SQL) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func ms(t time.Time) int64 { return t.UnixMilli() }

func fromMS(v int64) time.Time { return time.UnixMilli(v).UTC() }

func affected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// --- posts ---

func (s *SQL) Ingest(ctx context.Context, p domain.Post) (bool, error) {
	if err := domain.ValidatePost(p); err != nil {
		return false, err
	}
	if err := s.banks.Check(p.BankID); err != nil {
		return false, err
	}
	kw, err := json.Marshal(nonNil(p.Keywords))
	if err != nil {
		return false, fmt.Errorf("encode keywords: %w", err)
	}
	created := false
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := s.exec(ctx, tx, `INSERT INTO posts (id, source, bank_id, text, author_name, author_location, url,
			keywords, reactions, comments, shares, virality_score, created_at, scrape_run_id, state, failure_reason)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '')
			ON CONFLICT(id) DO NOTHING`,
			p.ID, p.Source, p.BankID, p.Text, p.AuthorName, p.AuthorLocation, p.URL,
			string(kw), p.Reactions, p.Comments, p.Shares, p.ViralityScore, ms(p.CreatedAt), p.ScrapeRunID,
			string(domain.StateUnclassified))
		if err != nil {
			return fmt.Errorf("insert post: %w", err)
		}
		n, err := affected(res)
		if err != nil || n == 0 {
			return err
		}
		created = true
		if p.ScrapeRunID != "" {
			if _, err := s.exec(ctx, tx, `UPDATE scrape_runs SET post_count = post_count + 1 WHERE id = ?`, p.ScrapeRunID); err != nil {
				return fmt.Errorf("bump run post count: %w", err)
			}
		}
		return nil
	})
	return created, err
}

func nonNil(kw []string) []string {
	if kw == nil {
		return []string{}
	}
	return kw
}

const postSelect = `SELECT p.id, p.source, p.bank_id, p.text, p.author_name, p.author_location, p.url,
	p.keywords, p.reactions, p.comments, p.shares, p.virality_score, p.created_at, p.scrape_run_id,
	p.state, p.failure_reason,
	c.sentiment, c.emotion, c.category, c.confidence, c.classified_at
	FROM posts p LEFT JOIN classifications c ON c.post_id = p.id`

type scanner interface {
	Scan(dest ...any) error
}

func scanPost(sc scanner) (domain.ClassifiedPost, error) {
	var (
		p              domain.Post
		kw, state      string
		created        int64
		sent, emo, cat sql.NullString
		conf           sql.NullFloat64
		classifiedAt   sql.NullInt64
	)
	err := sc.Scan(&p.ID, &p.Source, &p.BankID, &p.Text, &p.AuthorName, &p.AuthorLocation, &p.URL,
		&kw, &p.Reactions, &p.Comments, &p.Shares, &p.ViralityScore, &created, &p.ScrapeRunID,
		&state, &p.FailureReason,
		&sent, &emo, &cat, &conf, &classifiedAt)
	if err != nil {
		return domain.ClassifiedPost{}, err
	}
	if kw != "" {
		if err := json.Unmarshal([]byte(kw), &p.Keywords); err != nil {
			return domain.ClassifiedPost{}, fmt.Errorf("decode keywords of %s: %w", p.ID, err)
		}
	}
	if len(p.Keywords) == 0 {
		p.Keywords = nil
	}
	p.CreatedAt = fromMS(created)
	p.State = domain.PostState(state)
	cp := domain.ClassifiedPost{Post: p}
	if sent.Valid {
		cp.Classification = &domain.Classification{
			PostID:       p.ID,
			Sentiment:    domain.Sentiment(sent.String),
			Emotion:      domain.Emotion(emo.String),
			Category:     domain.Category(cat.String),
			Confidence:   conf.Float64,
			ClassifiedAt: fromMS(classifiedAt.Int64),
		}
	}
	return cp, nil
}

func collectPosts(rows *sql.Rows) ([]domain.ClassifiedPost, error) {
	defer rows.Close()
	var out []domain.ClassifiedPost
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQL) FetchUnclassified(ctx context.Context, bankID string, limit int) iter.Seq2[domain.Post, error] {
	return unclassifiedSeq(ctx, s.unclassifiedPage, bankID, limit, s.pageSize)
}

func (s *SQL) unclassifiedPage(ctx context.Context, bankID string, after *cursor, n int) ([]domain.Post, error) {
	query := postSelect + ` WHERE p.bank_id = ? AND p.state = ?`
	args := []any{bankID, string(domain.StateUnclassified)}
	if after != nil {
		query += ` AND (p.created_at > ? OR (p.created_at = ? AND p.id > ?))`
		at := ms(after.createdAt)
		args = append(args, at, at, after.id)
	}
	query += ` ORDER BY p.created_at, p.id LIMIT ?`
	args = append(args, n)
	rows, err := s.query(ctx, s.db, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch unclassified: %w", err)
	}
	cps, err := collectPosts(rows)
	if err != nil {
		return nil, fmt.Errorf("fetch unclassified: %w", err)
	}
	out := make([]domain.Post, len(cps))
	for i, cp := range cps {
		out[i] = cp.Post
	}
	return out, nil
}

func (s *SQL) SaveClassification(ctx context.Context, c domain.Classification) error {
	if err := domain.ValidateClassification(c); err != nil {
		return err
	}
	if c.ClassifiedAt.IsZero() {
		c.ClassifiedAt = s.now()
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := s.exec(ctx, tx, `UPDATE posts SET state = ?, failure_reason = '' WHERE id = ?`,
			string(domain.StateClassified), c.PostID)
		if err != nil {
			return fmt.Errorf("update post state: %w", err)
		}
		if n, err := affected(res); err != nil {
			return err
		} else if n == 0 {
			return domain.NotFound("post", c.PostID)
		}
		_, err = s.exec(ctx, tx, `INSERT INTO classifications (post_id, sentiment, emotion, category, confidence, classified_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(post_id) DO UPDATE SET
				sentiment = excluded.sentiment,
				emotion = excluded.emotion,
				category = excluded.category,
				confidence = excluded.confidence,
				classified_at = excluded.classified_at`,
			c.PostID, string(c.Sentiment), string(c.Emotion), string(c.Category), c.Confidence, ms(c.ClassifiedAt))
		if err != nil {
			return fmt.Errorf("save classification: %w", err)
		}
		return nil
	})
}

func (s *SQL) MarkClassificationFailed(ctx context.Context, postID, reason string) error {
	res, err := s.exec(ctx, s.db, `UPDATE posts SET state = ?, failure_reason = ? WHERE id = ? AND state <> ?`,
		string(domain.StateClassificationFailed), reason, postID, string(domain.StateClassified))
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	n, err := affected(res)
	if err != nil || n > 0 {
		return err
	}
	var one int
	err = s.queryRow(ctx, s.db, `SELECT 1 FROM posts WHERE id = ?`, postID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NotFound("post", postID)
	}
	return err
}

func (s *SQL) ResetFailed(ctx context.Context, bankID string) (int, error) {
	res, err := s.exec(ctx, s.db, `UPDATE posts SET state = ?, failure_reason = '' WHERE bank_id = ? AND state = ?`,
		string(domain.StateUnclassified), bankID, string(domain.StateClassificationFailed))
	if err != nil {
		return 0, fmt.Errorf("reset failed: %w", err)
	}
	n, err := affected(res)
	return int(n), err
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func postWhere(q PostQuery) (string, []any) {
	var conds []string
	var args []any
	if q.BankID != "" {
		conds = append(conds, "p.bank_id = ?")
		args = append(args, q.BankID)
	}
	if !q.Window.From.IsZero() {
		conds = append(conds, "p.created_at >= ?")
		args = append(args, ms(q.Window.From))
	}
	if !q.Window.To.IsZero() {
		conds = append(conds, "p.created_at < ?")
		args = append(args, ms(q.Window.To))
	}
	if q.State != "" {
		conds = append(conds, "p.state = ?")
		args = append(args, string(q.State))
	}
	if q.Category != "" {
		conds = append(conds, "c.category = ?")
		args = append(args, string(q.Category))
	}
	if q.Sentiment != "" {
		conds = append(conds, "c.sentiment = ?")
		args = append(args, string(q.Sentiment))
	}
	if q.Text != "" {
		pat := "%" + escapeLike(strings.ToLower(q.Text)) + "%"
		conds = append(conds, `(LOWER(p.text) LIKE ? ESCAPE '\' OR LOWER(p.keywords) LIKE ? ESCAPE '\' OR LOWER(p.author_name) LIKE ? ESCAPE '\')`)
		args = append(args, pat, pat, pat)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// limitClause renders LIMIT/OFFSET. SQLite needs a LIMIT whenever OFFSET is set.
func limitClause(offset, limit int) (string, []any) {
	if offset < 0 {
		offset = 0
	}
	switch {
	case limit > 0:
		return " LIMIT ? OFFSET ?", []any{limit, offset}
	case offset > 0:
		return " LIMIT ? OFFSET ?", []any{math.MaxInt32, offset}
	}
	return "", nil
}

func (s *SQL) Posts(ctx context.Context, q PostQuery) ([]domain.ClassifiedPost, error) {
	where, args := postWhere(q)
	order := " ORDER BY p.created_at, p.id"
	if q.Newest {
		order = " ORDER BY p.created_at DESC, p.id DESC"
	}
	lim, largs := limitClause(q.Offset, q.Limit)
	rows, err := s.query(ctx, s.db, postSelect+where+order+lim, append(args, largs...)...)
	if err != nil {
		return nil, fmt.Errorf("query posts: %w", err)
	}
	out, err := collectPosts(rows)
	if err != nil {
		return nil, fmt.Errorf("scan posts: %w", err)
	}
	return out, nil
}

func (s *SQL) CountPosts(ctx context.Context, q PostQuery) (int, error) {
	where, args := postWhere(q)
	var n int
	err := s.queryRow(ctx, s.db, `SELECT COUNT(*) FROM posts p LEFT JOIN classifications c ON c.post_id = p.id`+where, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count posts: %w", err)
	}
	return n, nil
}

func (s *SQL) Post(ctx context.Context, id string) (domain.ClassifiedPost, error) {
	p, err := scanPost(s.queryRow(ctx, s.db, postSelect+` WHERE p.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ClassifiedPost{}, domain.NotFound("post", id)
	}
	if err != nil {
		return domain.ClassifiedPost{}, fmt.Errorf("get post: %w", err)
	}
	return p, nil
}

// --- comments ---

func (s *SQL) IngestComment(ctx context.Context, c domain.Comment) (bool, error) {
	if err := domain.ValidateComment(c); err != nil {
		return false, err
	}
	if err := s.banks.Check(c.BankID); err != nil {
		return false, err
	}
	created := false
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := s.exec(ctx, tx, `INSERT INTO comments (id, post_id, bank_id, text, author_name, url, likes, replies, created_at, scrape_run_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING`,
			c.ID, c.PostID, c.BankID, c.Text, c.AuthorName, c.URL, c.Likes, c.Replies, ms(c.CreatedAt), c.ScrapeRunID)
		if err != nil {
			return fmt.Errorf("insert comment: %w", err)
		}
		n, err := affected(res)
		if err != nil || n == 0 {
			return err
		}
		created = true
		if c.ScrapeRunID != "" {
			if _, err := s.exec(ctx, tx, `UPDATE scrape_runs SET comment_count = comment_count + 1 WHERE id = ?`, c.ScrapeRunID); err != nil {
				return fmt.Errorf("bump run comment count: %w", err)
			}
		}
		return nil
	})
	return created, err
}

const commentSelect = `SELECT id, post_id, bank_id, text, author_name, url, likes, replies, created_at, scrape_run_id FROM comments`

func scanComment(sc scanner) (domain.Comment, error) {
	var c domain.Comment
	var created int64
	if err := sc.Scan(&c.ID, &c.PostID, &c.BankID, &c.Text, &c.AuthorName, &c.URL, &c.Likes, &c.Replies, &created, &c.ScrapeRunID); err != nil {
		return domain.Comment{}, err
	}
	c.CreatedAt = fromMS(created)
	return c, nil
}

func commentWhere(q CommentQuery) (string, []any) {
	var conds []string
	var args []any
	if q.BankID != "" {
		conds = append(conds, "bank_id = ?")
		args = append(args, q.BankID)
	}
	if q.PostID != "" {
		conds = append(conds, "post_id = ?")
		args = append(args, q.PostID)
	}
	if !q.Window.From.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, ms(q.Window.From))
	}
	if !q.Window.To.IsZero() {
		conds = append(conds, "created_at < ?")
		args = append(args, ms(q.Window.To))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *SQL) Comments(ctx context.Context, q CommentQuery) ([]domain.Comment, error) {
	where, args := commentWhere(q)
	order := " ORDER BY created_at, id"
	if q.Newest {
		order = " ORDER BY created_at DESC, id DESC"
	}
	lim, largs := limitClause(q.Offset, q.Limit)
	rows, err := s.query(ctx, s.db, commentSelect+where+order+lim, append(args, largs...)...)
	if err != nil {
		return nil, fmt.Errorf("query comments: %w", err)
	}
	defer rows.Close()
	var out []domain.Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQL) CountComments(ctx context.Context, q CommentQuery) (int, error) {
	where, args := commentWhere(q)
	var n int
	if err := s.queryRow(ctx, s.db, `SELECT COUNT(*) FROM comments`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count comments: %w", err)
	}
	return n, nil
}

func (s *SQL) Comment(ctx context.Context, id string) (domain.Comment, error) {
	c, err := scanComment(s.queryRow(ctx, s.db, commentSelect+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Comment{}, domain.NotFound("comment", id)
	}
	if err != nil {
		return domain.Comment{}, fmt.Errorf("get comment: %w", err)
	}
	return c, nil
}

// --- scrape runs ---

const runSelect = `SELECT id, bank_id, status, started_at, finished_at, post_count, comment_count, error FROM scrape_runs`

func scanRun(sc scanner) (domain.ScrapeRun, error) {
	var r domain.ScrapeRun
	var status string
	var started int64
	var finished sql.NullInt64
	if err := sc.Scan(&r.ID, &r.BankID, &status, &started, &finished, &r.PostCount, &r.CommentCount, &r.Error); err != nil {
		return domain.ScrapeRun{}, err
	}
	r.Status = domain.RunStatus(status)
	r.StartedAt = fromMS(started)
	if finished.Valid {
		t := fromMS(finished.Int64)
		r.FinishedAt = &t
	}
	return r, nil
}

func nullableMS(t *time.Time) any {
	if t == nil {
		return nil
	}
	return ms(*t)
}

func (s *SQL) RecordScrapeRun(ctx context.Context, r domain.ScrapeRun) error {
	if err := domain.ValidateScrapeRun(r); err != nil {
		return err
	}
	if r.BankID != "" {
		if err := s.banks.Check(r.BankID); err != nil {
			return err
		}
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = s.now()
	}
	_, err := s.exec(ctx, s.db, `INSERT INTO scrape_runs (id, bank_id, status, started_at, finished_at, post_count, comment_count, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			bank_id = excluded.bank_id,
			status = excluded.status,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at,
			post_count = excluded.post_count,
			comment_count = excluded.comment_count,
			error = excluded.error`,
		r.ID, r.BankID, string(r.Status), ms(r.StartedAt), nullableMS(r.FinishedAt), r.PostCount, r.CommentCount, r.Error)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// UpdateRunStatus is a compare-and-set on the current status so concurrent
// updates cannot skip a transition check.
func (s *SQL) UpdateRunStatus(ctx context.Context, runID string, status domain.RunStatus) (domain.ScrapeRun, error) {
	for range 3 {
		r, err := s.Run(ctx, runID)
		if err != nil {
			return domain.ScrapeRun{}, err
		}
		if err := domain.CheckTransition(r.Status, status); err != nil {
			return r, err
		}
		if r.Status == status {
			return r, nil
		}
		now := s.now()
		query := `UPDATE scrape_runs SET status = ?`
		args := []any{string(status)}
		if status == domain.RunRunning {
			query += `, started_at = ?`
			args = append(args, ms(now))
		}
		if status.Terminal() {
			query += `, finished_at = ?`
			args = append(args, ms(now))
		}
		query += ` WHERE id = ? AND status = ?`
		args = append(args, runID, string(r.Status))
		res, err := s.exec(ctx, s.db, query, args...)
		if err != nil {
			return r, fmt.Errorf("update run status: %w", err)
		}
		if n, err := affected(res); err != nil {
			return r, err
		} else if n == 1 {
			return s.Run(ctx, runID)
		}
	}
	return domain.ScrapeRun{}, fmt.Errorf("update run %s: concurrent status change", runID)
}

func (s *SQL) Run(ctx context.Context, id string) (domain.ScrapeRun, error) {
	r, err := scanRun(s.queryRow(ctx, s.db, runSelect+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ScrapeRun{}, domain.NotFound("run", id)
	}
	if err != nil {
		return domain.ScrapeRun{}, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

func (s *SQL) LatestRun(ctx context.Context, bankID string) (domain.ScrapeRun, error) {
	query := runSelect
	var args []any
	if bankID != "" {
		query += ` WHERE bank_id = ?`
		args = append(args, bankID)
	}
	query += ` ORDER BY started_at DESC, id DESC LIMIT 1`
	r, err := scanRun(s.queryRow(ctx, s.db, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ScrapeRun{}, domain.NotFound("run", "latest")
	}
	if err != nil {
		return domain.ScrapeRun{}, fmt.Errorf("latest run: %w", err)
	}
	return r, nil
}

// --- action items ---

const actionSelect = `SELECT id, bank_id, post_id, category, urgency, description, status, created_at, resolved_at FROM action_items`

func scanAction(sc scanner) (domain.ActionItem, error) {
	var a domain.ActionItem
	var cat, status string
	var created int64
	var resolved sql.NullInt64
	if err := sc.Scan(&a.ID, &a.BankID, &a.PostID, &cat, &a.Urgency, &a.Description, &status, &created, &resolved); err != nil {
		return domain.ActionItem{}, err
	}
	a.Category = domain.Category(cat)
	a.Status = domain.ActionStatus(status)
	a.CreatedAt = fromMS(created)
	if resolved.Valid {
		t := fromMS(resolved.Int64)
		a.ResolvedAt = &t
	}
	return a, nil
}

func (s *SQL) SaveActionItem(ctx context.Context, a domain.ActionItem) (bool, error) {
	if a.ID == "" {
		return false, domain.NewValidationError("id", "", domain.ErrMissingField)
	}
	if a.Status == "" {
		a.Status = domain.ActionOpen
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	created := false
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := s.queryRow(ctx, tx, `SELECT COUNT(*) FROM action_items WHERE id = ?`, a.ID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check action item: %w", err)
		}
		if exists > 0 {
			return nil
		}
		cp, err := scanPost(s.queryRow(ctx, tx, postSelect+` WHERE p.id = ?`, a.PostID))
		if errors.Is(err, sql.ErrNoRows) {
			return domain.NotFound("post", a.PostID)
		}
		if err != nil {
			return fmt.Errorf("load post: %w", err)
		}
		if err := checkActionable(a.PostID, cp.Classification); err != nil {
			return err
		}
		res, err := s.exec(ctx, tx, `INSERT INTO action_items (id, bank_id, post_id, category, urgency, description, status, created_at, resolved_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING`,
			a.ID, a.BankID, a.PostID, string(a.Category), a.Urgency, a.Description, string(a.Status), ms(a.CreatedAt), nullableMS(a.ResolvedAt))
		if err != nil {
			return fmt.Errorf("insert action item: %w", err)
		}
		n, err := affected(res)
		created = n == 1
		return err
	})
	return created, err
}

func (s *SQL) ActionItems(ctx context.Context, q ActionItemQuery) ([]domain.ActionItem, error) {
	var conds []string
	var args []any
	if q.BankID != "" {
		conds = append(conds, "bank_id = ?")
		args = append(args, q.BankID)
	}
	if q.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(q.Status))
	}
	if q.Category != "" {
		conds = append(conds, "category = ?")
		args = append(args, string(q.Category))
	}
	query := actionSelect
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY urgency DESC, created_at DESC, id"
	lim, largs := limitClause(q.Offset, q.Limit)
	rows, err := s.query(ctx, s.db, query+lim, append(args, largs...)...)
	if err != nil {
		return nil, fmt.Errorf("query action items: %w", err)
	}
	defer rows.Close()
	var out []domain.ActionItem
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan action item: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQL) ActionItem(ctx context.Context, id string) (domain.ActionItem, error) {
	a, err := scanAction(s.queryRow(ctx, s.db, actionSelect+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ActionItem{}, domain.NotFound("action item", id)
	}
	if err != nil {
		return domain.ActionItem{}, fmt.Errorf("get action item: %w", err)
	}
	return a, nil
}

func (s *SQL) ResolveActionItem(ctx context.Context, id string) (domain.ActionItem, error) {
	_, err := s.exec(ctx, s.db, `UPDATE action_items SET status = ?, resolved_at = ? WHERE id = ? AND status = ?`,
		string(domain.ActionResolved), ms(s.now()), id, string(domain.ActionOpen))
	if err != nil {
		return domain.ActionItem{}, fmt.Errorf("resolve action item: %w", err)
	}
	return s.ActionItem(ctx, id)
}
