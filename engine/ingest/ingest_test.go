package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/fuad-ontik/Prime-Bank-Backend/engine/domain"
	"github.com/fuad-ontik/Prime-Bank-Backend/engine/store"
	"github.com/fuad-ontik/Prime-Bank-Backend/pkg/metrics"
	"github.com/fuad-ontik/Prime-Bank-Backend/pkg/natsutil/natstest"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func validPost() domain.Post {
	return domain.Post{
		ID:             "fb_1",
		BankID:         "prime_bank",
		Text:           "Prime Bank app keeps logging me out before the transfer completes",
		AuthorName:     "Rahim",
		AuthorLocation: "Dhaka, Bangladesh",
		Reactions:      12,
		Comments:       3,
		CreatedAt:      t0,
	}
}

func newLoader(t *testing.T) (*Loader, *store.Memory, *metrics.Registry) {
	t.Helper()
	banks := domain.DefaultRegistry()
	mem := store.NewMemory(banks)
	reg := metrics.New()
	return NewLoader(Deps{Sink: mem, Runs: mem, Banks: banks, Logger: quietLogger(), Metrics: reg}), mem, reg
}

type failingSink struct{ calls atomic.Int32 }

func (f *failingSink) Ingest(context.Context, domain.Post) (bool, error) {
	f.calls.Add(1)
	return false, errors.New("connection refused")
}

func (f *failingSink) IngestComment(context.Context, domain.Comment) (bool, error) {
	return false, errors.New("connection refused")
}

func TestNormalizeStage(t *testing.T) {
	p := validPost()
	p.ID = "  fb_1 "
	p.BankID = " Prime_Bank"
	p.Text = "  Prime Bank card blocked again, card support never answers  "

	got, err := Normalize(context.Background(), p).Unwrap()
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "fb_1" || got.BankID != "prime_bank" || got.Source != "facebook" {
		t.Fatalf("unexpected normalized post %+v", got)
	}
	if !slices.Contains(got.Keywords, "card") {
		t.Fatalf("expected derived keyword card, got %v", got.Keywords)
	}

	p.Keywords = []string{" Card", "card", "", "ATM"}
	got, _ = Normalize(context.Background(), p).Unwrap()
	if !slices.Equal(got.Keywords, []string{"card", "atm"}) {
		t.Fatalf("keywords not cleaned: %v", got.Keywords)
	}
}

func TestResolveBankStage(t *testing.T) {
	resolve := NewResolveBank(domain.DefaultRegistry())
	tests := []struct {
		name    string
		bank    string
		text    string
		want    string
		wantErr error
	}{
		{"explicit", "brac_bank", "no bank named here", "brac_bank", nil},
		{"detected", "", "switched from BRAC Bank last year", "brac_bank", nil},
		{"undetectable", "", "my salary came late", "", domain.ErrMissingField},
		{"unknown", "atlantis_bank", "anything", "", domain.ErrUnknownBank},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPost()
			p.BankID, p.Text = tt.bank, tt.text
			got, err := resolve(context.Background(), p).Unwrap()
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				if !Rejected(err) {
					t.Fatal("resolution errors should count as rejections")
				}
				return
			}
			if err != nil || got.BankID != tt.want {
				t.Fatalf("got %q err=%v, want %q", got.BankID, err, tt.want)
			}
		})
	}
}

func TestValidateStage(t *testing.T) {
	if r := Validate(context.Background(), validPost()); r.IsErr() {
		t.Fatalf("expected ok, got %v", r.Error())
	}
	p := validPost()
	p.CreatedAt = time.Time{}
	if r := Validate(context.Background(), p); !errors.Is(r.Error(), domain.ErrMissingField) {
		t.Fatalf("expected missing created_at, got %v", r.Error())
	}
}

func TestPipelineShortCircuits(t *testing.T) {
	sink := &failingSink{}
	pipe := NewPipeline(Deps{Sink: sink, Banks: domain.DefaultRegistry(), Logger: quietLogger()})

	p := validPost()
	p.Text = ""
	if r := pipe(context.Background(), p); !r.IsErr() {
		t.Fatal("expected validation error")
	}
	if sink.calls.Load() != 0 {
		t.Fatal("store stage must not run after a failed stage")
	}

	_, err := pipe(context.Background(), validPost()).Unwrap()
	if err == nil || Rejected(err) {
		t.Fatalf("store failure should not be a rejection: %v", err)
	}
}

func TestLoadBatch(t *testing.T) {
	l, mem, reg := newLoader(t)
	ctx := context.Background()

	detected := validPost()
	detected.ID, detected.BankID, detected.Text = "fb_2", "", "Eastern Bank hotline is unreachable"
	bad := validPost()
	bad.ID, bad.Text = "fb_3", " "

	b := Batch{
		Run:   &domain.ScrapeRun{ID: "run_1", Status: domain.RunRunning, StartedAt: t0},
		Posts: []domain.Post{validPost(), detected, bad, validPost()},
		Comments: []domain.Comment{
			{ID: "c_1", PostID: "fb_1", Text: "same here", CreatedAt: t0.Add(time.Minute)},
			{ID: "c_2", PostID: "elsewhere", Text: "nothing to go on", CreatedAt: t0},
		},
	}
	rep, err := l.Load(ctx, b)
	if err != nil {
		t.Fatal(err)
	}
	if rep.RunID != "run_1" || rep.Posts != 2 || rep.Comments != 1 || rep.Duplicates != 1 {
		t.Fatalf("unexpected report %+v", rep)
	}
	if len(rep.Rejected) != 2 || rep.Rejected[0].ID != "fb_3" || rep.Rejected[1].Kind != "comment" {
		t.Fatalf("unexpected rejections %+v", rep.Rejected)
	}

	p, err := mem.Post(ctx, "fb_2")
	if err != nil || p.BankID != "eastern_bank" || p.ScrapeRunID != "run_1" {
		t.Fatalf("detected post stored as %+v err=%v", p.Post, err)
	}
	c, err := mem.Comment(ctx, "c_1")
	if err != nil || c.BankID != "prime_bank" {
		t.Fatalf("comment should inherit its post's bank, got %+v err=%v", c, err)
	}
	run, err := mem.Run(ctx, "run_1")
	if err != nil || run.PostCount != 2 || run.CommentCount != 1 {
		t.Fatalf("run counters %+v err=%v", run, err)
	}

	b.Run.Status = domain.RunCompleted
	b.Posts, b.Comments = nil, nil
	if _, err := l.Load(ctx, b); err != nil {
		t.Fatal(err)
	}
	run, _ = mem.Run(ctx, "run_1")
	if run.Status != domain.RunCompleted || run.PostCount != 2 {
		t.Fatalf("second delivery should move status and keep counters: %+v", run)
	}

	out := reg.Render()
	for _, want := range []string{
		`ingest_batches_total{result="partial"} 1`,
		`ingest_items_total{kind="post",outcome="duplicate"} 1`,
		`ingest_items_total{kind="comment",outcome="rejected"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in\n%s", want, out)
		}
	}
}

func TestLoadIgnoresBackwardRunStatus(t *testing.T) {
	l, mem, _ := newLoader(t)
	ctx := context.Background()
	if _, err := l.Load(ctx, Batch{Run: &domain.ScrapeRun{ID: "r", Status: domain.RunCompleted, StartedAt: t0}}); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Load(ctx, Batch{Run: &domain.ScrapeRun{ID: "r", Status: domain.RunRunning, StartedAt: t0}}); err != nil {
		t.Fatalf("a stale status should be logged, not fail the batch: %v", err)
	}
	if run, _ := mem.Run(ctx, "r"); run.Status != domain.RunCompleted {
		t.Fatalf("status moved backwards to %s", run.Status)
	}
}

func TestLoadStopsOnStoreError(t *testing.T) {
	banks := domain.DefaultRegistry()
	l := NewLoader(Deps{Sink: &failingSink{}, Banks: banks, Logger: quietLogger()})
	_, err := l.Load(context.Background(), Batch{Posts: []domain.Post{validPost()}})
	if err == nil || Rejected(err) {
		t.Fatalf("expected a store error, got %v", err)
	}

	_, err = l.Load(context.Background(), Batch{Run: &domain.ScrapeRun{ID: "r", Status: domain.RunPending}})
	if err == nil {
		t.Fatal("a run without a run store should fail")
	}
}

func writeBatch(t *testing.T, dir, name string, b any) {
	t.Helper()
	data, err := json.Marshal(b)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestWatcherScan(t *testing.T) {
	l, mem, _ := newLoader(t)
	dir := t.TempDir()
	writeBatch(t, dir, "001.json", Batch{Posts: []domain.Post{validPost()}})
	if err := os.WriteFile(filepath.Join(dir, "002.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip me"), 0o644); err != nil {
		t.Fatal(err)
	}

	w := &Watcher{Dir: dir, Loader: l}
	n, err := w.Scan(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("loaded %d err=%v", n, err)
	}
	if _, err := mem.Post(context.Background(), "fb_1"); err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{
		filepath.Join(dir, ProcessedDir, "001.json"),
		filepath.Join(dir, FailedDir, "002.json"),
		filepath.Join(dir, "notes.txt"),
	} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("expected %s: %v", p, err)
		}
	}
	if n, _ := w.Scan(context.Background()); n != 0 {
		t.Fatalf("second scan loaded %d files", n)
	}
}

func TestWatcherKeepsFileOnStoreError(t *testing.T) {
	dir := t.TempDir()
	writeBatch(t, dir, "001.json", Batch{Posts: []domain.Post{validPost()}})
	l := NewLoader(Deps{Sink: &failingSink{}, Banks: domain.DefaultRegistry(), Logger: quietLogger()})

	w := &Watcher{Dir: dir, Loader: l}
	if _, err := w.Scan(context.Background()); err == nil {
		t.Fatal("expected the store error to be reported")
	}
	if _, err := os.Stat(filepath.Join(dir, "001.json")); err != nil {
		t.Fatal("file should stay for the next poll")
	}
}

func TestWatcherRunStopsWithContext(t *testing.T) {
	l, _, _ := newLoader(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- (&Watcher{Dir: t.TempDir(), Interval: 10 * time.Millisecond, Loader: l}).Run(ctx) }()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestConsumerLoadsAndReplies(t *testing.T) {
	nc := natstest.Connect(t)
	l, mem, _ := newLoader(t)
	sub, err := StartConsumer(nc, l)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	data, _ := json.Marshal(Batch{Posts: []domain.Post{validPost()}})
	msg, err := nc.Request(IngestSubject, data, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	var r reply
	if err := json.Unmarshal(msg.Data, &r); err != nil || r.Report == nil || r.Report.Posts != 1 {
		t.Fatalf("unexpected reply %s err=%v", msg.Data, err)
	}
	if _, err := mem.Post(context.Background(), "fb_1"); err != nil {
		t.Fatal(err)
	}

	if err := Publish(context.Background(), nc, Batch{Posts: []domain.Post{func() domain.Post {
		p := validPost()
		p.ID = "fb_9"
		return p
	}()}}); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := mem.Post(context.Background(), "fb_9"); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("published batch never loaded")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func dlqSubscribe(t *testing.T, nc *nats.Conn) chan dlqMessage {
	t.Helper()
	ch := make(chan dlqMessage, 4)
	sub, err := nc.Subscribe(DLQSubject, func(m *nats.Msg) {
		var d dlqMessage
		if err := json.Unmarshal(m.Data, &d); err == nil {
			ch <- d
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sub.Unsubscribe() })
	return ch
}

func TestConsumerRetriesThenDeadLetters(t *testing.T) {
	nc := natstest.Connect(t)
	sink := &failingSink{}
	l := NewLoader(Deps{Sink: sink, Banks: domain.DefaultRegistry(), Logger: quietLogger()})
	dlq := dlqSubscribe(t, nc)
	sub, err := StartConsumer(nc, l)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	if err := Publish(context.Background(), nc, Batch{Posts: []domain.Post{validPost()}}); err != nil {
		t.Fatal(err)
	}
	select {
	case d := <-dlq:
		if d.Retries != MaxRetries || d.Error == "" {
			t.Fatalf("unexpected DLQ message %+v", d)
		}
		var b Batch
		if err := json.Unmarshal([]byte(d.Payload), &b); err != nil || len(b.Posts) != 1 {
			t.Fatalf("payload not preserved: %q", d.Payload)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("batch never reached the DLQ")
	}
	if got := sink.calls.Load(); got != MaxRetries {
		t.Fatalf("expected %d load attempts, got %d", MaxRetries, got)
	}
}

func TestConsumerDeadLettersUndecodable(t *testing.T) {
	nc := natstest.Connect(t)
	l, _, _ := newLoader(t)
	dlq := dlqSubscribe(t, nc)
	sub, err := StartConsumer(nc, l)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	if err := nc.Publish(IngestSubject, []byte("<html>")); err != nil {
		t.Fatal(err)
	}
	select {
	case d := <-dlq:
		if d.Payload != "<html>" || d.Retries != 0 {
			t.Fatalf("unexpected DLQ message %+v", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("undecodable batch never reached the DLQ")
	}
}

func TestLoaderSingleItems(t *testing.T) {
	l, _, reg := newLoader(t)
	ctx := context.Background()

	out, err := l.Post(ctx, validPost())
	if err != nil || !out.Created || out.BankID != "prime_bank" {
		t.Fatalf("out=%+v err=%v", out, err)
	}
	if out, _ := l.Post(ctx, validPost()); out.Created {
		t.Fatal("second post should be a duplicate")
	}

	out, err = l.Comment(ctx, domain.Comment{ID: "c_1", PostID: "fb_1", Text: "DBBL never had this problem", CreatedAt: t0})
	if err != nil || out.BankID != "dutch_bangla" {
		t.Fatalf("expected bank detected from text, got %+v err=%v", out, err)
	}
	if _, err := l.Comment(ctx, domain.Comment{ID: "c_2", Text: "me too", CreatedAt: t0}); !errors.Is(err, domain.ErrMissingField) {
		t.Fatalf("expected missing bank, got %v", err)
	}
	if !strings.Contains(reg.Render(), `ingest_items_total{kind="post",outcome="duplicate"} 1`) {
		t.Fatal("single-item outcomes not counted")
	}
}
