package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fuad-ontik/Prime-Bank-Backend/engine/domain"
)

func TestDelta(t *testing.T) {
	prev := domain.AggregateView{
		BankID:          "prime_bank",
		SourcePostCount: 10,
		SentimentCounts: map[domain.Sentiment]int{domain.SentimentNegative: 4, domain.SentimentNeutral: 2},
		KPIs:            domain.KPIs{BankSentimentScore: -2, ResponseNeeded: 3},
	}
	cur := domain.AggregateView{
		BankID:          "prime_bank",
		SourcePostCount: 13,
		SentimentCounts: map[domain.Sentiment]int{domain.SentimentNegative: 5, domain.SentimentPositive: 2},
		KPIs:            domain.KPIs{BankSentimentScore: -3, ResponseNeeded: 1},
	}
	d := delta(prev, cur)
	if d.NewPosts != 3 || d.ScoreDelta != -1 || d.ResponseDelta != -2 {
		t.Errorf("delta = %+v", d)
	}
	want := map[domain.Sentiment]int{
		domain.SentimentNegative: 1,
		domain.SentimentPositive: 2,
		domain.SentimentNeutral:  -2,
	}
	for s, n := range want {
		if d.SentimentDelta[s] != n {
			t.Errorf("sentiment %s delta = %d, want %d", s, d.SentimentDelta[s], n)
		}
	}

	first := delta(domain.AggregateView{}, cur)
	if first.NewPosts != 13 {
		t.Errorf("first run new posts = %d, want 13", first.NewPosts)
	}
}

func TestRunWritesFiles(t *testing.T) {
	posts := 5
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/snapshot" {
			http.NotFound(w, r)
			return
		}
		bank := r.URL.Query().Get("bank_id")
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    domain.AggregateView{BankID: bank, SourcePostCount: posts},
		})
	}))
	defer srv.Close()

	dir := filepath.Join(t.TempDir(), "data")
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := &collector{client: srv.Client(), api: srv.URL}
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	if err := c.run(dir, []string{"prime_bank", " brac_bank ", ""}, now, log); err != nil {
		t.Fatal(err)
	}
	posts = 8
	if err := c.run(dir, []string{"prime_bank", "brac_bank"}, now.Add(time.Hour), log); err != nil {
		t.Fatal(err)
	}

	var history []Entry
	data, err := os.ReadFile(filepath.Join(dir, "snapshots-history.json"))
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(data, &history); err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 {
		t.Fatalf("history entries = %d, want 2", len(history))
	}
	if got := history[1].Banks; len(got) != 2 || got[0].NewPosts != 3 {
		t.Errorf("second entry = %+v", got)
	}

	var latest map[string]domain.AggregateView
	data, _ = os.ReadFile(filepath.Join(dir, "snapshots-latest.json"))
	if err := json.Unmarshal(data, &latest); err != nil {
		t.Fatal(err)
	}
	if latest["brac_bank"].SourcePostCount != 8 {
		t.Errorf("latest = %+v", latest)
	}
}

func TestRunAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"success":false,"error":"unknown bank"}`)
	}))
	defer srv.Close()
	c := &collector{client: srv.Client(), api: srv.URL}
	err := c.run(t.TempDir(), []string{"nope"}, time.Now(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err == nil {
		t.Fatal("expected error for non-200 response")
	}
}
