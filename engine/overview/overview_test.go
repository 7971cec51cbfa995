package overview

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/fuad-ontik/Prime-Bank-Backend/engine/domain"
	"github.com/fuad-ontik/Prime-Bank-Backend/pkg/ollama"
)

func cp(id, text string, cat domain.Category, s domain.Sentiment, reactions int) domain.ClassifiedPost {
	return domain.ClassifiedPost{
		Post: domain.Post{ID: id, BankID: "prime_bank", Text: text, Reactions: reactions, CreatedAt: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)},
		Classification: &domain.Classification{
			PostID: id, Sentiment: s, Emotion: domain.EmotionFrustration, Category: cat, Confidence: 0.8,
		},
	}
}

func sample() Input {
	return Input{
		BankID:   "prime_bank",
		BankName: "Prime Bank",
		Posts: []domain.ClassifiedPost{
			cp("1", "Prime Bank card blocked at the ATM again", domain.CategoryComplaint, domain.SentimentNegative, 4),
			cp("2", "ATM card blocked, Prime Bank support never answers", domain.CategoryComplaint, domain.SentimentNegative, 9),
			cp("3", "How do I reset my app password?", domain.CategoryInquiry, domain.SentimentNeutral, 1),
			cp("4", "Prime Bank should add Apple Pay", domain.CategorySuggestion, domain.SentimentNeutral, 2),
			{Post: domain.Post{ID: "5", Text: "unclassified"}},
		},
	}
}

func TestKeywordSummarizer(t *testing.T) {
	o, err := NewKeyword().Summarize(context.Background(), sample())
	if err != nil {
		t.Fatal(err)
	}
	if o.Source != SourceKeyword || o.PostCount != 4 || o.BankID != "prime_bank" {
		t.Fatalf("unexpected header %+v", o)
	}
	if !strings.Contains(o.Complaints, "2 of 4") || !strings.Contains(o.Complaints, "support never answers") {
		t.Fatalf("complaints should count and quote the most viral post:\n%s", o.Complaints)
	}
	if strings.Contains(o.Complaints, "prime") {
		t.Fatalf("bank name should not be a theme:\n%s", o.Complaints)
	}
	if !strings.Contains(o.Praise, "No praise yet") {
		t.Fatalf("empty category should say so:\n%s", o.Praise)
	}
	for _, want := range []string{"**Fix atm**", "**Fix blocked**", "**Fix card**", "Apple Pay"} {
		if !strings.Contains(o.Suggestions, want) {
			t.Errorf("suggestions missing %q:\n%s", want, o.Suggestions)
		}
	}
}

func TestKeywordSummarizerEmpty(t *testing.T) {
	o, err := NewKeyword().Summarize(context.Background(), Input{BankID: "brac_bank"})
	if err != nil {
		t.Fatal(err)
	}
	if !o.complete() || !strings.Contains(o.Suggestions, "Keep monitoring") {
		t.Fatalf("empty input should still fill every section: %+v", o)
	}
}

func TestSection(t *testing.T) {
	o := Overview{Inquiry: "i", Praise: "p", Complaints: "c", Suggestions: "s"}
	tests := map[string]string{"inquiries": "i", "Inquiry": "i", "praise": "p", "complaint": "c", "suggestions": "s"}
	for name, want := range tests {
		got, err := o.Section(name)
		if err != nil || got != want {
			t.Errorf("%s: got %q err=%v", name, got, err)
		}
	}
	if _, err := o.Section("rants"); !errors.Is(err, domain.ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
	if n, err := SectionName(" Inquiries "); err != nil || n != SectionInquiry {
		t.Fatalf("SectionName = %q err=%v", n, err)
	}
}

type fakeGen struct {
	reply string
	err   error
	req   ollama.GenerateRequest
}

func (f *fakeGen) Generate(_ context.Context, in ollama.GenerateRequest) (string, error) {
	f.req = in
	return f.reply, f.err
}

func TestLLMSummarizer(t *testing.T) {
	gen := &fakeGen{reply: "```json\n{\"inquiry\":\"- a\",\"praise\":\"- b\",\"complaints\":\"- c\",\"suggestions\":\"- d\"}\n```"}
	o, err := NewLLM(gen, nil, LLMOpts{}).Summarize(context.Background(), sample())
	if err != nil {
		t.Fatal(err)
	}
	if o.Source != SourceLLM || o.Complaints != "- c" || o.PostCount != 4 {
		t.Fatalf("unexpected overview %+v", o)
	}
	if !gen.req.JSON || !strings.Contains(gen.req.Prompt, "[complaint/negative/frustration]") || strings.Contains(gen.req.Prompt, "unclassified") {
		t.Fatalf("unexpected prompt %+v", gen.req)
	}
}

func TestLLMFallsBack(t *testing.T) {
	tests := []struct {
		name string
		gen  *fakeGen
	}{
		{"upstream error", &fakeGen{err: &ollama.StatusError{Code: 503}}},
		{"not json", &fakeGen{reply: "Sure! Here is your analysis"}},
		{"missing section", &fakeGen{reply: `{"inquiry":"- a","praise":"- b","complaints":"- c"}`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, err := NewLLM(tt.gen, nil, LLMOpts{}).Summarize(context.Background(), sample())
			if err != nil {
				t.Fatal(err)
			}
			if o.Source != SourceKeyword || !o.complete() {
				t.Fatalf("expected keyword fallback, got %+v", o)
			}
		})
	}
}

func TestLLMCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewLLM(&fakeGen{err: context.Canceled}, nil, LLMOpts{}).Summarize(ctx, sample())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
