package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/fuad-ontik/Prime-Bank-Backend/engine/domain"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func post(id, bank string, offset time.Duration) domain.Post {
	return domain.Post{
		ID:             id,
		Source:         "facebook",
		BankID:         bank,
		Text:           "Prime Bank post " + id,
		AuthorName:     "Author " + id,
		AuthorLocation: "Dhaka",
		Keywords:       []string{"card", "app"},
		Reactions:      3,
		CreatedAt:      t0.Add(offset),
	}
}

func label(id string, s domain.Sentiment, c domain.Category) domain.Classification {
	return domain.Classification{PostID: id, Sentiment: s, Emotion: domain.EmotionNeutral, Category: c, Confidence: 0.9}
}

type factory func(t *testing.T) Store

func backends(t *testing.T) map[string]factory {
	t.Helper()
	out := map[string]factory{
		"memory": func(t *testing.T) Store { return NewMemory(domain.DefaultRegistry()) },
		"sqlite": func(t *testing.T) Store {
			s, err := OpenSQLite(context.Background(), ":memory:", domain.DefaultRegistry())
			if err != nil {
				t.Fatalf("open sqlite: %v", err)
			}
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
	if url := os.Getenv("PRIME_BANK_TEST_PG_URL"); url != "" {
		out["postgres"] = func(t *testing.T) Store {
			s, err := OpenPostgres(context.Background(), url, domain.DefaultRegistry())
			if err != nil {
				t.Fatalf("open postgres: %v", err)
			}
			for _, table := range []string{"action_items", "classifications", "comments", "posts", "scrape_runs"} {
				if _, err := s.DB().Exec("DELETE FROM " + table); err != nil {
					t.Fatalf("truncate %s: %v", table, err)
				}
			}
			t.Cleanup(func() { s.Close() })
			return s
		}
	}
	return out
}

// each runs fn against every available backend.
func each(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) { fn(t, open(t)) })
	}
}

func TestIngestIsIdempotent(t *testing.T) {
	each(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		created, err := s.Ingest(ctx, post("p1", "prime_bank", 0))
		if err != nil || !created {
			t.Fatalf("first ingest: created=%v err=%v", created, err)
		}
		created, err = s.Ingest(ctx, post("p1", "prime_bank", time.Hour))
		if err != nil || created {
			t.Fatalf("duplicate ingest: created=%v err=%v", created, err)
		}
		n, _ := s.CountPosts(ctx, PostQuery{})
		if n != 1 {
			t.Fatalf("expected 1 post, got %d", n)
		}
		got, err := s.Post(ctx, "p1")
		if err != nil {
			t.Fatal(err)
		}
		if !got.CreatedAt.Equal(t0) || got.State != domain.StateUnclassified || len(got.Keywords) != 2 {
			t.Fatalf("unexpected post %+v", got)
		}
	})
}

func TestIngestRejects(t *testing.T) {
	each(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		if _, err := s.Ingest(ctx, post("p1", "nope_bank", 0)); !errors.Is(err, domain.ErrUnknownBank) {
			t.Errorf("expected ErrUnknownBank, got %v", err)
		}
		bad := post("p2", "prime_bank", 0)
		bad.Text = ""
		if _, err := s.Ingest(ctx, bad); !errors.Is(err, domain.ErrMissingField) {
			t.Errorf("expected ErrMissingField, got %v", err)
		}
	})
}

func TestFetchUnclassifiedOrderAndRestart(t *testing.T) {
	each(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		if m, ok := s.(*Memory); ok {
			m.pageSize = 2
		}
		if q, ok := s.(*SQL); ok {
			q.pageSize = 2
		}
		for i := 5; i >= 1; i-- {
			s.Ingest(ctx, post(fmt.Sprintf("p%d", i), "prime_bank", time.Duration(i)*time.Minute))
		}
		s.Ingest(ctx, post("other", "city_bank", 0))
		if err := s.SaveClassification(ctx, label("p3", domain.SentimentPositive, domain.CategoryPraise)); err != nil {
			t.Fatal(err)
		}

		var ids []string
		for p, err := range s.FetchUnclassified(ctx, "prime_bank", 0) {
			if err != nil {
				t.Fatal(err)
			}
			ids = append(ids, p.ID)
		}
		want := []string{"p1", "p2", "p4", "p5"}
		if fmt.Sprint(ids) != fmt.Sprint(want) {
			t.Fatalf("expected %v, got %v", want, ids)
		}

		seq := s.FetchUnclassified(ctx, "prime_bank", 3)
		for range 2 {
			n := 0
			for _, err := range seq {
				if err != nil {
					t.Fatal(err)
				}
				n++
			}
			if n != 3 {
				t.Fatalf("expected limit 3 on every range, got %d", n)
			}
		}
	})
}

func TestClassificationLifecycle(t *testing.T) {
	each(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		s.Ingest(ctx, post("p1", "prime_bank", 0))
		s.Ingest(ctx, post("p2", "prime_bank", time.Minute))

		if err := s.SaveClassification(ctx, label("missing", domain.SentimentNeutral, domain.CategoryInquiry)); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		bad := label("p1", "furious", domain.CategoryInquiry)
		if err := s.SaveClassification(ctx, bad); !errors.Is(err, domain.ErrInvalidLabel) {
			t.Fatalf("expected ErrInvalidLabel, got %v", err)
		}

		if err := s.MarkClassificationFailed(ctx, "p2", "timeout"); err != nil {
			t.Fatal(err)
		}
		p2, _ := s.Post(ctx, "p2")
		if p2.State != domain.StateClassificationFailed || p2.FailureReason != "timeout" {
			t.Fatalf("unexpected failed post %+v", p2.Post)
		}
		n, err := s.ResetFailed(ctx, "prime_bank")
		if err != nil || n != 1 {
			t.Fatalf("reset: n=%d err=%v", n, err)
		}

		if err := s.SaveClassification(ctx, label("p1", domain.SentimentNegative, domain.CategoryComplaint)); err != nil {
			t.Fatal(err)
		}
		p1, _ := s.Post(ctx, "p1")
		if p1.State != domain.StateClassified || p1.Classification == nil || p1.Classification.Category != domain.CategoryComplaint {
			t.Fatalf("unexpected classified post %+v", p1)
		}
		// A failure report arriving after success must not demote the post.
		s.MarkClassificationFailed(ctx, "p1", "late")
		p1, _ = s.Post(ctx, "p1")
		if p1.State != domain.StateClassified {
			t.Fatalf("classified post was demoted to %s", p1.State)
		}
		if err := s.MarkClassificationFailed(ctx, "ghost", "x"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestPostsQuery(t *testing.T) {
	each(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for i := 1; i <= 4; i++ {
			s.Ingest(ctx, post(fmt.Sprintf("p%d", i), "prime_bank", time.Duration(i)*time.Hour))
		}
		special := post("p5", "eastern_bank", 5*time.Hour)
		special.Text = "EBL charged 100% fee"
		special.AuthorName = "Rahim"
		s.Ingest(ctx, special)
		s.SaveClassification(ctx, label("p1", domain.SentimentNegative, domain.CategoryComplaint))
		s.SaveClassification(ctx, label("p2", domain.SentimentPositive, domain.CategoryPraise))

		cases := []struct {
			name string
			q    PostQuery
			want string
		}{
			{"bank", PostQuery{BankID: "eastern_bank"}, "[p5]"},
			{"window", PostQuery{Window: domain.Window{From: t0.Add(2 * time.Hour), To: t0.Add(4 * time.Hour)}}, "[p2 p3]"},
			{"category", PostQuery{Category: domain.CategoryComplaint}, "[p1]"},
			{"sentiment", PostQuery{Sentiment: domain.SentimentPositive}, "[p2]"},
			{"state", PostQuery{BankID: "prime_bank", State: domain.StateUnclassified}, "[p3 p4]"},
			{"newest paged", PostQuery{Newest: true, Offset: 1, Limit: 2}, "[p4 p3]"},
			{"offset only", PostQuery{Offset: 3}, "[p4 p5]"},
			{"text", PostQuery{Text: "ebl"}, "[p5]"},
			{"author", PostQuery{Text: "rahim"}, "[p5]"},
			{"keyword", PostQuery{BankID: "prime_bank", Text: "CARD"}, "[p1 p2 p3 p4]"},
			{"literal percent", PostQuery{Text: "100%"}, "[p5]"},
			{"wildcard escaped", PostQuery{Text: "p_st"}, "[]"},
		}
		for _, tc := range cases {
			got, err := s.Posts(ctx, tc.q)
			if err != nil {
				t.Fatalf("%s: %v", tc.name, err)
			}
			ids := make([]string, len(got))
			for i, p := range got {
				ids[i] = p.ID
			}
			if fmt.Sprint(ids) != tc.want {
				t.Errorf("%s: expected %s, got %v", tc.name, tc.want, ids)
			}
		}
		n, err := s.CountPosts(ctx, PostQuery{BankID: "prime_bank", Limit: 1})
		if err != nil || n != 4 {
			t.Fatalf("count ignores limit: n=%d err=%v", n, err)
		}
	})
}

func TestComments(t *testing.T) {
	each(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		s.RecordScrapeRun(ctx, domain.ScrapeRun{ID: "r1", Status: domain.RunRunning, StartedAt: t0})
		for i := 1; i <= 3; i++ {
			c := domain.Comment{ID: fmt.Sprintf("c%d", i), PostID: "p1", BankID: "prime_bank", Text: "reply", CreatedAt: t0.Add(time.Duration(i) * time.Minute), ScrapeRunID: "r1"}
			if created, err := s.IngestComment(ctx, c); err != nil || !created {
				t.Fatalf("ingest comment: %v %v", created, err)
			}
		}
		if created, _ := s.IngestComment(ctx, domain.Comment{ID: "c1", BankID: "prime_bank", CreatedAt: t0}); created {
			t.Fatal("duplicate comment should not be created")
		}
		got, err := s.Comments(ctx, CommentQuery{BankID: "prime_bank", Newest: true, Limit: 2})
		if err != nil || len(got) != 2 || got[0].ID != "c3" {
			t.Fatalf("unexpected comments %v err=%v", got, err)
		}
		n, _ := s.CountComments(ctx, CommentQuery{PostID: "p1"})
		if n != 3 {
			t.Fatalf("expected 3 comments, got %d", n)
		}
		if _, err := s.Comment(ctx, "zz"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		r, _ := s.Run(ctx, "r1")
		if r.CommentCount != 3 {
			t.Fatalf("expected run comment count 3, got %d", r.CommentCount)
		}
	})
}

func TestScrapeRuns(t *testing.T) {
	each(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		if _, err := s.LatestRun(ctx, ""); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound on empty store, got %v", err)
		}
		s.RecordScrapeRun(ctx, domain.ScrapeRun{ID: "r1", BankID: "prime_bank", Status: domain.RunCompleted, StartedAt: t0})
		s.RecordScrapeRun(ctx, domain.ScrapeRun{ID: "r2", BankID: "prime_bank", Status: domain.RunPending, StartedAt: t0.Add(time.Hour)})

		p := post("p1", "prime_bank", 0)
		p.ScrapeRunID = "r2"
		s.Ingest(ctx, p)

		latest, err := s.LatestRun(ctx, "prime_bank")
		if err != nil || latest.ID != "r2" || latest.PostCount != 1 {
			t.Fatalf("latest: %+v err=%v", latest, err)
		}
		r, err := s.UpdateRunStatus(ctx, "r2", domain.RunRunning)
		if err != nil || r.Status != domain.RunRunning {
			t.Fatalf("pending->running: %+v err=%v", r, err)
		}
		if _, err := s.UpdateRunStatus(ctx, "r2", domain.RunRunning); err != nil {
			t.Fatalf("same status should be a no-op, got %v", err)
		}
		r, err = s.UpdateRunStatus(ctx, "r2", domain.RunCompleted)
		if err != nil || r.FinishedAt == nil {
			t.Fatalf("running->completed: %+v err=%v", r, err)
		}
		if _, err := s.UpdateRunStatus(ctx, "r2", domain.RunRunning); !errors.Is(err, domain.ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition, got %v", err)
		}
		if _, err := s.UpdateRunStatus(ctx, "ghost", domain.RunRunning); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestActionItems(t *testing.T) {
	each(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for _, id := range []string{"p1", "p2", "p3"} {
			s.Ingest(ctx, post(id, "prime_bank", 0))
		}
		s.SaveClassification(ctx, label("p1", domain.SentimentNegative, domain.CategoryComplaint))
		s.SaveClassification(ctx, label("p2", domain.SentimentNeutral, domain.CategoryInquiry))
		s.SaveClassification(ctx, label("p3", domain.SentimentPositive, domain.CategoryPraise))

		item := func(id, postID string, cat domain.Category, urgency float64) domain.ActionItem {
			return domain.ActionItem{ID: id, BankID: "prime_bank", PostID: postID, Category: cat, Urgency: urgency, Description: "follow up", CreatedAt: t0}
		}
		if created, err := s.SaveActionItem(ctx, item("a1", "p1", domain.CategoryComplaint, 0.9)); err != nil || !created {
			t.Fatalf("save a1: %v %v", created, err)
		}
		if created, err := s.SaveActionItem(ctx, item("a1", "p1", domain.CategoryComplaint, 0.9)); err != nil || created {
			t.Fatalf("resave a1 should be a no-op: %v %v", created, err)
		}
		s.SaveActionItem(ctx, item("a2", "p2", domain.CategoryInquiry, 0.6))
		if _, err := s.SaveActionItem(ctx, item("a3", "p3", domain.CategoryPraise, 0.7)); !errors.Is(err, domain.ErrInvalidLabel) {
			t.Fatalf("praise post must not get an action item, got %v", err)
		}

		items, err := s.ActionItems(ctx, ActionItemQuery{BankID: "prime_bank"})
		if err != nil || len(items) != 2 || items[0].ID != "a1" || items[0].Status != domain.ActionOpen {
			t.Fatalf("unexpected items %+v err=%v", items, err)
		}
		items, _ = s.ActionItems(ctx, ActionItemQuery{Category: domain.CategoryInquiry})
		if len(items) != 1 || items[0].ID != "a2" {
			t.Fatalf("category filter: %+v", items)
		}

		a, err := s.ResolveActionItem(ctx, "a1")
		if err != nil || a.Status != domain.ActionResolved || a.ResolvedAt == nil {
			t.Fatalf("resolve: %+v err=%v", a, err)
		}
		open, _ := s.ActionItems(ctx, ActionItemQuery{Status: domain.ActionOpen})
		if len(open) != 1 {
			t.Fatalf("expected 1 open item, got %d", len(open))
		}
		if _, err := s.ResolveActionItem(ctx, "ghost"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestSQLRebind(t *testing.T) {
	d := dialect{dollar: true}
	got := d.rebind("SELECT * FROM posts WHERE id = ? AND bank_id = ?")
	if got != "SELECT * FROM posts WHERE id = $1 AND bank_id = $2" {
		t.Fatalf("unexpected rebind %q", got)
	}
	if (dialect{}).rebind("a = ?") != "a = ?" {
		t.Fatal("sqlite dialect should keep ? placeholders")
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), "oracle", "", domain.DefaultRegistry()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
