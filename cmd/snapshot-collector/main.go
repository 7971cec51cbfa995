// Command snapshot-collector fetches the aggregate snapshot of every bank from
// the API, computes deltas against the previous run and writes JSON files for
// a static dashboard.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fuad-ontik/Prime-Bank-Backend/engine/domain"
)

// Delta is the change of one bank's snapshot between two runs.
type Delta struct {
	BankID         string                   `json:"bank_id"`
	NewPosts       int                      `json:"new_posts"`
	SentimentDelta map[domain.Sentiment]int `json:"sentiment_delta"`
	ScoreDelta     int                      `json:"score_delta"`
	ResponseDelta  int                      `json:"response_needed_delta"`
	CoverageDelta  float64                  `json:"coverage_delta"`
	NewMentionsAll int                      `json:"new_mentions_all_banks"`
}

// Entry is one line of the history file.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Banks     []Delta   `json:"banks"`
}

const maxHistory = 288

func main() {
	var (
		apiURL  = flag.String("api", "http://localhost:8080", "API base URL")
		docsDir = flag.String("docs-dir", "docs", "docs directory for output")
		banks   = flag.String("banks", strings.Join(domain.DefaultRegistry().IDs(), ","), "comma-separated bank ids")
		days    = flag.Int("days", 0, "restrict snapshots to the last n days; 0 means all time")
	)
	flag.Parse()

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	c := &collector{client: &http.Client{Timeout: 30 * time.Second}, api: *apiURL, days: *days}
	if err := c.run(filepath.Join(*docsDir, "data"), strings.Split(*banks, ","), time.Now().UTC(), log); err != nil {
		log.Error("snapshot collection failed", "err", err)
		os.Exit(1)
	}
}

type collector struct {
	client *http.Client
	api    string
	days   int
}

// fetch reads /api/snapshot for one bank and unwraps the response envelope.
func (c *collector) fetch(bank string) (domain.AggregateView, error) {
	q := url.Values{"bank_id": {bank}}
	if c.days > 0 {
		q.Set("days", fmt.Sprint(c.days))
	}
	resp, err := c.client.Get(c.api + "/api/snapshot?" + q.Encode())
	if err != nil {
		return domain.AggregateView{}, fmt.Errorf("fetch %s: %w", bank, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.AggregateView{}, fmt.Errorf("read %s: %w", bank, err)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.AggregateView{}, fmt.Errorf("%s: API returned %d: %s", bank, resp.StatusCode, body)
	}
	var env struct {
		Data domain.AggregateView `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return domain.AggregateView{}, fmt.Errorf("parse %s: %w", bank, err)
	}
	return env.Data, nil
}

func (c *collector) run(dataDir string, banks []string, now time.Time, log *slog.Logger) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}
	latestPath := filepath.Join(dataDir, "snapshots-latest.json")
	historyPath := filepath.Join(dataDir, "snapshots-history.json")
	prevPath := filepath.Join(dataDir, ".snapshots-prev.json")

	current := make(map[string]domain.AggregateView, len(banks))
	for _, b := range banks {
		b = strings.TrimSpace(b)
		if b == "" {
			continue
		}
		v, err := c.fetch(b)
		if err != nil {
			return err
		}
		current[b] = v
	}

	prev := make(map[string]domain.AggregateView)
	if data, err := os.ReadFile(prevPath); err == nil {
		if err := json.Unmarshal(data, &prev); err != nil {
			log.Warn("previous snapshot unreadable, starting over", "err", err)
		}
	}

	entry := Entry{Timestamp: now}
	for _, b := range banks {
		cur, ok := current[strings.TrimSpace(b)]
		if !ok {
			continue
		}
		d := delta(prev[cur.BankID], cur)
		entry.Banks = append(entry.Banks, d)
		log.Info("snapshot collected", "bank", cur.BankID, "posts", cur.SourcePostCount, "new_posts", d.NewPosts)
	}

	latest, err := json.MarshalIndent(current, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(latestPath, latest, 0o644); err != nil {
		return fmt.Errorf("write latest: %w", err)
	}

	var history []Entry
	if data, err := os.ReadFile(historyPath); err == nil {
		json.Unmarshal(data, &history)
	}
	history = append(history, entry)
	if len(history) > maxHistory {
		history = history[len(history)-maxHistory:]
	}
	hist, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(historyPath, hist, 0o644); err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	return os.WriteFile(prevPath, latest, 0o644)
}

// delta compares two snapshots of the same bank. A zero prev counts
// everything in cur as new.
func delta(prev, cur domain.AggregateView) Delta {
	d := Delta{
		BankID:         cur.BankID,
		NewPosts:       cur.SourcePostCount - prev.SourcePostCount,
		SentimentDelta: make(map[domain.Sentiment]int),
		ScoreDelta:     cur.KPIs.BankSentimentScore - prev.KPIs.BankSentimentScore,
		ResponseDelta:  cur.KPIs.ResponseNeeded - prev.KPIs.ResponseNeeded,
		CoverageDelta:  cur.KPIs.ClassificationCoverage - prev.KPIs.ClassificationCoverage,
		NewMentionsAll: cur.KPIs.TotalMentionsOfAllBanks - prev.KPIs.TotalMentionsOfAllBanks,
	}
	for s, n := range cur.SentimentCounts {
		d.SentimentDelta[s] = n - prev.SentimentCounts[s]
	}
	for s, n := range prev.SentimentCounts {
		if _, ok := cur.SentimentCounts[s]; !ok {
			d.SentimentDelta[s] = -n
		}
	}
	return d
}
