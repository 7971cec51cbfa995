package graph

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/fuad-ontik/Prime-Bank-Backend/engine/domain"
	"github.com/fuad-ontik/Prime-Bank-Backend/pkg/metrics"
)

type mockResult struct {
	records []*neo4j.Record
	idx     int
}

func (m *mockResult) Next(context.Context) bool {
	if m.idx < len(m.records) {
		m.idx++
		return true
	}
	return false
}

func (m *mockResult) Record() *neo4j.Record { return m.records[m.idx-1] }
func (m *mockResult) Err() error            { return nil }

// trackingTx records every statement and fails the one containing failOn.
type trackingTx struct {
	queries []string
	params  []map[string]any
	result  *mockResult
	failOn  string
	writes  int
	closed  int
}

func (t *trackingTx) Run(_ context.Context, cypher string, params map[string]any) (CypherResult, error) {
	t.queries = append(t.queries, cypher)
	t.params = append(t.params, params)
	if t.failOn != "" && strings.Contains(cypher, t.failOn) {
		return nil, errors.New("neo4j unavailable")
	}
	if t.result != nil {
		return t.result, nil
	}
	return &mockResult{}, nil
}

func (t *trackingTx) ExecuteWrite(_ context.Context, work func(tx CypherRunner) (any, error)) (any, error) {
	t.writes++
	return work(t)
}

func (t *trackingTx) Close(context.Context) error {
	t.closed++
	return nil
}

type trackingOpener struct{ tx *trackingTx }

func (o trackingOpener) OpenSession(context.Context) CypherSession { return o.tx }

func newTrackingProjector() (*Projector, *trackingTx, *metrics.Registry) {
	tx := &trackingTx{}
	reg := metrics.New()
	return NewWithOpener(trackingOpener{tx}, domain.DefaultRegistry(), nil, reg), tx, reg
}

func classified(id, bank, text, author, loc string) domain.ClassifiedPost {
	return domain.ClassifiedPost{
		Post: domain.Post{
			ID: id, BankID: bank, Text: text, AuthorName: author, AuthorLocation: loc,
			Reactions: 10, CreatedAt: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
		},
		Classification: &domain.Classification{
			PostID: id, Sentiment: domain.SentimentNegative, Emotion: domain.EmotionFrustration, Category: domain.CategoryComplaint,
		},
	}
}

func TestInitCreatesSchemaAndBanks(t *testing.T) {
	g, tx, _ := newTrackingProjector()
	if err := g.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(tx.queries) != len(schema)+1 {
		t.Fatalf("expected %d statements, got %d", len(schema)+1, len(tx.queries))
	}
	banks := tx.params[len(tx.params)-1]["banks"].([]map[string]any)
	if len(banks) != len(domain.DefaultBanks) || banks[0]["id"] != "prime_bank" {
		t.Fatalf("unexpected bank rows %v", banks)
	}
	if tx.closed != 1 {
		t.Fatal("session not closed")
	}
}

func TestProjectWritesMentionsAuthorsLocations(t *testing.T) {
	g, tx, reg := newTrackingProjector()
	posts := []domain.ClassifiedPost{
		classified("p1", "prime_bank", "Prime Bank is slower than BRAC Bank", "Rahim", "Gulshan, Dhaka"),
		classified("p2", "city_bank", "no names in here", "", "Atlantis"),
		classified("p3", "prime_bank", "card blocked", " ", ""),
	}
	if err := g.Project(context.Background(), posts); err != nil {
		t.Fatal(err)
	}
	if tx.writes != 1 {
		t.Fatalf("expected a single write transaction, got %d", tx.writes)
	}
	if len(tx.queries) != 4 {
		t.Fatalf("expected 4 statements, got %d: %v", len(tx.queries), tx.queries)
	}

	rows := tx.params[0]["posts"].([]map[string]any)
	if len(rows) != 3 || rows[0]["sentiment"] != "negative" || rows[0]["virality"] != 10.0 {
		t.Fatalf("unexpected post rows %v", rows)
	}

	mentions := tx.params[1]["mentions"].([]map[string]any)
	var got []string
	for _, m := range mentions {
		got = append(got, m["post"].(string)+">"+m["bank"].(string))
	}
	want := "p1>prime_bank p1>brac_bank p2>city_bank p3>prime_bank"
	if strings.Join(got, " ") != want {
		t.Fatalf("mentions = %v, want %s", got, want)
	}

	authors := tx.params[2]["authors"].([]map[string]any)
	if len(authors) != 1 || authors[0]["name"] != "Rahim" {
		t.Fatalf("blank authors should be skipped: %v", authors)
	}
	locs := tx.params[3]["locations"].([]map[string]any)
	if len(locs) != 2 || locs[0]["name"] != "Dhaka" || locs[0]["division"] != "Dhaka" || locs[1]["name"] != "Atlantis" {
		t.Fatalf("unexpected locations %v", locs)
	}

	out := reg.Render()
	if !strings.Contains(out, `graph_posts_projected_total{bank="prime_bank"} 2`) {
		t.Fatalf("missing projection counter in\n%s", out)
	}
}

func TestProjectEmptyIsNoop(t *testing.T) {
	g, tx, _ := newTrackingProjector()
	if err := g.Project(context.Background(), nil); err != nil || len(tx.queries) != 0 {
		t.Fatalf("err=%v queries=%v", err, tx.queries)
	}
}

func TestProjectStopsOnError(t *testing.T) {
	g, tx, reg := newTrackingProjector()
	tx.failOn = "AUTHORED_BY"
	err := g.Project(context.Background(), []domain.ClassifiedPost{classified("p1", "prime_bank", "x", "Rahim", "")})
	if err == nil || !strings.Contains(err.Error(), "graph authors") {
		t.Fatalf("expected authors error, got %v", err)
	}
	if !strings.Contains(reg.Render(), `graph_projections_total{result="error"} 1`) {
		t.Fatal("error batch not counted")
	}
}

func TestMentionCounts(t *testing.T) {
	g, tx, _ := newTrackingProjector()
	tx.result = &mockResult{records: []*neo4j.Record{
		{Keys: []string{"bank", "count"}, Values: []any{"prime_bank", int64(7)}},
		{Keys: []string{"bank", "count"}, Values: []any{nil, int64(1)}},
		{Keys: []string{"bank", "count"}, Values: []any{"brac_bank", int64(2)}},
	}}
	got, err := g.MentionCounts(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != (BankCount{"prime_bank", 7}) || got[1] != (BankCount{"brac_bank", 2}) {
		t.Fatalf("unexpected counts %v", got)
	}
}

func TestCoMentions(t *testing.T) {
	g, tx, _ := newTrackingProjector()
	if _, err := g.CoMentions(context.Background(), "atlantis"); !errors.Is(err, domain.ErrUnknownBank) {
		t.Fatalf("expected unknown bank, got %v", err)
	}
	got, err := g.CoMentions(context.Background(), "prime_bank")
	if err != nil || len(got) != 0 || got == nil {
		t.Fatalf("expected empty non-nil result, got %v err=%v", got, err)
	}
	if tx.params[0]["bank"] != "prime_bank" {
		t.Fatalf("bank not bound: %v", tx.params[0])
	}
}
