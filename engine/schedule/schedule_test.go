package schedule

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fuad-ontik/Prime-Bank-Backend/engine/aggregate"
	"github.com/fuad-ontik/Prime-Bank-Backend/engine/domain"
	"github.com/fuad-ontik/Prime-Bank-Backend/pkg/metrics"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeAnalyzer struct {
	mu      sync.Mutex
	calls   []string
	passErr map[string]error
}

func (f *fakeAnalyzer) RunClassificationPass(_ context.Context, bank string, _ aggregate.PassOptions) (aggregate.PassReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "pass:"+bank)
	if err := f.passErr[bank]; err != nil {
		return aggregate.PassReport{}, err
	}
	return aggregate.PassReport{BankID: bank, Classified: 2}, nil
}

func (f *fakeAnalyzer) DeriveActionItems(_ context.Context, bank string) (aggregate.DeriveReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "derive:"+bank)
	return aggregate.DeriveReport{BankID: bank, Created: 1}, nil
}

func TestAnalyzeJob(t *testing.T) {
	a := &fakeAnalyzer{passErr: map[string]error{
		"brac_bank": &domain.PassInProgressError{BankID: "brac_bank", Since: time.Now()},
		"city_bank": errors.New("database is locked"),
	}}
	job := AnalyzeJob(a, []string{"prime_bank", "brac_bank", "city_bank", "eastern_bank"}, aggregate.PassOptions{}, quiet())

	err := job(context.Background())
	if err == nil || !strings.Contains(err.Error(), "city_bank: database is locked") {
		t.Fatalf("expected city_bank error, got %v", err)
	}
	want := "pass:prime_bank derive:prime_bank pass:brac_bank pass:city_bank pass:eastern_bank derive:eastern_bank"
	if got := strings.Join(a.calls, " "); got != want {
		t.Fatalf("calls = %s\nwant  %s", got, want)
	}
}

func TestAnalyzeJobStopsWhenCancelled(t *testing.T) {
	a := &fakeAnalyzer{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := AnalyzeJob(a, []string{"prime_bank"}, aggregate.PassOptions{}, quiet())(ctx)
	if !errors.Is(err, context.Canceled) || len(a.calls) != 0 {
		t.Fatalf("err=%v calls=%v", err, a.calls)
	}
}

func TestAddJobRejectsBadSpec(t *testing.T) {
	s := New(Options{Logger: quiet()})
	if err := s.AddJob("analyze", "every tuesday", func(context.Context) error { return nil }); err == nil {
		t.Fatal("expected a parse error")
	}
	if len(s.Jobs()) != 0 {
		t.Fatal("a rejected job must not be registered")
	}
}

func TestRunNowAndMetrics(t *testing.T) {
	reg := metrics.New()
	s := New(Options{Logger: quiet(), Metrics: reg})
	boom := errors.New("boom")
	calls := 0
	if err := s.AddJob("analyze", "@every 1h", func(context.Context) error {
		calls++
		if calls == 2 {
			return boom
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	if err := s.RunNow(context.Background(), "analyze"); err != nil {
		t.Fatal(err)
	}
	if err := s.RunNow(context.Background(), "analyze"); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if err := s.RunNow(context.Background(), "missing"); !errors.Is(err, ErrUnknownJob) {
		t.Fatalf("expected ErrUnknownJob, got %v", err)
	}

	out := reg.Render()
	for _, want := range []string{
		`scheduled_job_runs_total{job="analyze",result="ok"} 1`,
		`scheduled_job_runs_total{job="analyze",result="error"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in\n%s", want, out)
		}
	}
}

func TestAddJobReplacesAndRemoves(t *testing.T) {
	s := New(Options{Logger: quiet()})
	nop := func(context.Context) error { return nil }
	if err := s.AddJob("b", "@every 1h", nop); err != nil {
		t.Fatal(err)
	}
	if err := s.AddJob("a", "@daily", nop); err != nil {
		t.Fatal(err)
	}
	if err := s.AddJob("b", "*/5 * * * *", nop); err != nil {
		t.Fatal(err)
	}
	jobs := s.Jobs()
	if len(jobs) != 2 || jobs[0].Name != "a" || jobs[1].Spec != "*/5 * * * *" {
		t.Fatalf("unexpected jobs %+v", jobs)
	}
	s.RemoveJob("a")
	s.RemoveJob("nope")
	if len(s.Jobs()) != 1 {
		t.Fatal("job not removed")
	}
}

func TestCronRunsJob(t *testing.T) {
	s := New(Options{Logger: quiet()})
	var n atomic.Int32
	done := make(chan struct{}, 1)
	if err := s.AddJob("tick", "@every 1s", func(context.Context) error {
		if n.Add(1) == 1 {
			done <- struct{}{}
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	s.Start()
	defer s.Stop()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("cron never ran the job")
	}
	if jobs := s.Jobs(); jobs[0].LastRun.IsZero() {
		t.Fatal("last run not recorded")
	}
}
