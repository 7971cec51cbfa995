package classify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fuad-ontik/Prime-Bank-Backend/engine/domain"
	"github.com/fuad-ontik/Prime-Bank-Backend/pkg/fn"
	"github.com/fuad-ontik/Prime-Bank-Backend/pkg/ollama"
	"github.com/fuad-ontik/Prime-Bank-Backend/pkg/resilience"
)

func TestKeywordClassify(t *testing.T) {
	k := NewKeyword(Rules{})
	cases := []struct {
		text      string
		sentiment domain.Sentiment
		emotion   domain.Emotion
		category  domain.Category
	}{
		{"Prime Bank app is not working, terrible service and slow refunds", domain.SentimentNegative, domain.EmotionFrustration, domain.CategoryComplaint},
		{"How can I open a student account at Prime Bank?", domain.SentimentNeutral, domain.EmotionConfusion, domain.CategoryInquiry},
		{"Thanks Prime Bank, excellent and helpful staff at Gulshan", domain.SentimentPositive, domain.EmotionJoy, domain.CategoryPraise},
		{"Prime Bank should add bKash transfers to the app", domain.SentimentNeutral, domain.EmotionNeutral, domain.CategorySuggestion},
		{"Prime Bank branch opening hours", domain.SentimentNeutral, domain.EmotionNeutral, domain.CategoryInquiry},
	}
	for _, tc := range cases {
		got, err := k.Classify(context.Background(), tc.text)
		if err != nil {
			t.Fatal(err)
		}
		if got.Sentiment != tc.sentiment || got.Emotion != tc.emotion || got.Category != tc.category {
			t.Errorf("%q: got %+v, want %s/%s/%s", tc.text, got, tc.sentiment, tc.emotion, tc.category)
		}
		if err := domain.ValidateClassification(got.Classification("p")); err != nil {
			t.Errorf("%q: labels not valid: %v", tc.text, err)
		}
	}
}

func TestKeywordIsDeterministic(t *testing.T) {
	k := NewKeyword(DefaultRules)
	text := "Why was my card blocked? Worst support ever"
	first, _ := k.Classify(context.Background(), text)
	for range 5 {
		again, _ := k.Classify(context.Background(), text)
		if again != first {
			t.Fatalf("expected %+v, got %+v", first, again)
		}
	}
}

type fakeGen struct {
	out string
	err error
}

func (f fakeGen) Generate(context.Context, ollama.GenerateRequest) (string, error) { return f.out, f.err }

func TestOllamaParsesLabels(t *testing.T) {
	o := NewOllama(fakeGen{out: `{"sentiment":"Negative","emotion":"anger","category":"complaint","confidence":1.4}`})
	got, err := o.Classify(context.Background(), "x")
	if err != nil {
		t.Fatal(err)
	}
	want := Labels{Sentiment: domain.SentimentNegative, Emotion: domain.EmotionNeutral, Category: domain.CategoryComplaint, Confidence: 1}
	if got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}

func TestOllamaErrors(t *testing.T) {
	cases := []struct {
		name      string
		gen       fakeGen
		transient bool
	}{
		{"malformed", fakeGen{out: "not json"}, false},
		{"bad label", fakeGen{out: `{"sentiment":"meh","emotion":"joy","category":"praise"}`}, false},
		{"overloaded", fakeGen{err: &ollama.StatusError{Code: http.StatusTooManyRequests}}, true},
		{"server error", fakeGen{err: &ollama.StatusError{Code: http.StatusBadGateway}}, true},
		{"bad request", fakeGen{err: &ollama.StatusError{Code: http.StatusBadRequest}}, false},
		{"deadline", fakeGen{err: context.DeadlineExceeded}, true},
	}
	for _, tc := range cases {
		_, err := NewOllama(tc.gen).Classify(context.Background(), "x")
		if err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		if domain.IsTransient(err) != tc.transient {
			t.Errorf("%s: transient=%v, want %v (%v)", tc.name, domain.IsTransient(err), tc.transient, err)
		}
	}
}

func TestOllamaOverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"response":"{\"sentiment\":\"positive\",\"emotion\":\"joy\",\"category\":\"praise\",\"confidence\":0.8}","done":true}`))
	}))
	defer srv.Close()
	got, err := NewOllama(ollama.New(srv.URL, "llama3", time.Second)).Classify(context.Background(), "great bank")
	if err != nil || got.Category != domain.CategoryPraise || got.Confidence != 0.8 {
		t.Fatalf("unexpected %+v err=%v", got, err)
	}
}

func fastOpts() ResilientOpts {
	return ResilientOpts{
		Retry:   fn.RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: 2 * time.Millisecond},
		Breaker: resilience.BreakerOpts{FailThreshold: 100, Timeout: time.Minute},
	}
}

func TestResilientRetriesTransient(t *testing.T) {
	var calls atomic.Int32
	inner := Func(func(context.Context, string) (Labels, error) {
		if calls.Add(1) < 3 {
			return Labels{}, domain.Transient("test", errors.New("503"))
		}
		return Labels{Sentiment: domain.SentimentNeutral, Emotion: domain.EmotionNeutral, Category: domain.CategoryInquiry, Confidence: 0.5}, nil
	})
	got, err := NewResilient(inner, fastOpts()).Classify(context.Background(), "x")
	if err != nil || got.Category != domain.CategoryInquiry || calls.Load() != 3 {
		t.Fatalf("expected success on third call, got %+v err=%v calls=%d", got, err, calls.Load())
	}
}

func TestResilientDoesNotRetryPermanent(t *testing.T) {
	var calls atomic.Int32
	inner := Func(func(context.Context, string) (Labels, error) {
		calls.Add(1)
		return Labels{}, errors.New("malformed")
	})
	_, err := NewResilient(inner, fastOpts()).Classify(context.Background(), "x")
	if err == nil || calls.Load() != 1 || Attempts(err) != 1 {
		t.Fatalf("expected one attempt, got calls=%d err=%v", calls.Load(), err)
	}
}

func TestResilientExhaustsAttempts(t *testing.T) {
	inner := Func(func(context.Context, string) (Labels, error) {
		return Labels{}, domain.Transient("test", errors.New("timeout"))
	})
	_, err := NewResilient(inner, fastOpts()).Classify(context.Background(), "x")
	if !domain.IsTransient(err) || Attempts(err) != 3 {
		t.Fatalf("expected transient error after 3 attempts, got %v (attempts %d)", err, Attempts(err))
	}
}

func TestResilientTimeoutIsTransient(t *testing.T) {
	inner := Func(func(ctx context.Context, _ string) (Labels, error) {
		<-ctx.Done()
		return Labels{}, ctx.Err()
	})
	opts := fastOpts()
	opts.Retry.MaxAttempts = 2
	opts.Timeout = 5 * time.Millisecond
	_, err := NewResilient(inner, opts).Classify(context.Background(), "x")
	if !domain.IsTransient(err) || Attempts(err) != 2 {
		t.Fatalf("expected transient timeout after 2 attempts, got %v", err)
	}
}

func TestResilientBreakerOpens(t *testing.T) {
	var calls atomic.Int32
	inner := Func(func(context.Context, string) (Labels, error) {
		calls.Add(1)
		return Labels{}, domain.Transient("test", errors.New("down"))
	})
	opts := fastOpts()
	opts.Retry.MaxAttempts = 1
	opts.Breaker.FailThreshold = 2
	r := NewResilient(inner, opts)
	for range 4 {
		r.Classify(context.Background(), "x")
	}
	if calls.Load() != 2 {
		t.Fatalf("breaker should stop calls after 2 failures, got %d", calls.Load())
	}
	if r.Breaker().State() != resilience.StateOpen {
		t.Fatalf("expected open breaker, got %s", r.Breaker().State())
	}
	_, err := r.Classify(context.Background(), "x")
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}
