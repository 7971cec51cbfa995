package overview

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fuad-ontik/Prime-Bank-Backend/engine/domain"
	"github.com/fuad-ontik/Prime-Bank-Backend/pkg/fn"
	"github.com/fuad-ontik/Prime-Bank-Backend/pkg/ollama"
	"github.com/fuad-ontik/Prime-Bank-Backend/pkg/textnlp"
)

// Generator is the text generation call the LLM summarizer needs;
// *ollama.Client satisfies it.
type Generator interface {
	Generate(ctx context.Context, in ollama.GenerateRequest) (string, error)
}

const llmSystem = `You are an analyst of customer feedback for retail banks.
Reply with JSON only, no code fences, shaped as
{"inquiry": "...", "praise": "...", "complaints": "...", "suggestions": "..."}.
Every value is 4 to 8 markdown bullet lines starting with "- " and using **bold** for the lead phrase.`

// DefaultMaxPosts bounds how many posts go into one prompt.
const DefaultMaxPosts = 60

// LLM asks a language model for the overview and falls back to another
// Summarizer when the model fails or answers with something unusable.
type LLM struct {
	gen      Generator
	fallback Summarizer
	maxPosts int
	log      *slog.Logger
	now      func() time.Time
}

type LLMOpts struct {
	MaxPosts int
	Logger   *slog.Logger
}

// NewLLM builds an LLM summarizer. A nil fallback uses the Keyword summarizer.
func NewLLM(gen Generator, fallback Summarizer, opts LLMOpts) *LLM {
	if fallback == nil {
		fallback = NewKeyword()
	}
	if opts.MaxPosts <= 0 {
		opts.MaxPosts = DefaultMaxPosts
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &LLM{gen: gen, fallback: fallback, maxPosts: opts.MaxPosts, log: opts.Logger, now: time.Now}
}

type llmOverview struct {
	Inquiry     string `json:"inquiry"`
	Praise      string `json:"praise"`
	Complaints  string `json:"complaints"`
	Suggestions string `json:"suggestions"`
}

func (l *LLM) Summarize(ctx context.Context, in Input) (Overview, error) {
	done := fn.Filter(in.Posts, func(p domain.ClassifiedPost) bool { return p.Classification != nil })
	if len(done) == 0 {
		return l.fallback.Summarize(ctx, in)
	}
	raw, err := l.gen.Generate(ctx, ollama.GenerateRequest{
		System:      llmSystem,
		Prompt:      l.prompt(in, done),
		JSON:        true,
		Temperature: 0.3,
	})
	if err == nil {
		var o Overview
		if o, err = parseOverview(raw); err == nil {
			o.BankID = in.BankID
			o.Source = SourceLLM
			o.PostCount = len(done)
			o.GeneratedAt = l.now()
			return o, nil
		}
	}
	if ctx.Err() != nil {
		return Overview{}, ctx.Err()
	}
	l.log.Warn("llm overview failed, using fallback", "bank", in.BankID, "error", err)
	return l.fallback.Summarize(ctx, in)
}

func (l *LLM) prompt(in Input, posts []domain.ClassifiedPost) string {
	name := in.BankName
	if name == "" {
		name = in.BankID
	}
	top := fn.TopN(posts, l.maxPosts, func(a, b domain.ClassifiedPost) bool { return a.Virality() > b.Virality() })
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze these %d social media posts about %s. Name %s in the analysis.\n", len(top), name, name)
	b.WriteString("Each line is [category/sentiment/emotion] followed by the post text.\n\n")
	for _, p := range top {
		c := p.Classification
		fmt.Fprintf(&b, "[%s/%s/%s] %s\n", c.Category, c.Sentiment, c.Emotion, textnlp.Excerpt(p.Text, 400))
	}
	return b.String()
}

func parseOverview(raw string) (Overview, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimSuffix(strings.TrimPrefix(raw, "```"), "```")
	var lo llmOverview
	if err := json.Unmarshal([]byte(raw), &lo); err != nil {
		return Overview{}, fmt.Errorf("decode overview: %w", err)
	}
	o := Overview{
		Inquiry:     strings.TrimSpace(lo.Inquiry),
		Praise:      strings.TrimSpace(lo.Praise),
		Complaints:  strings.TrimSpace(lo.Complaints),
		Suggestions: strings.TrimSpace(lo.Suggestions),
	}
	if !o.complete() {
		return Overview{}, fmt.Errorf("overview is missing sections")
	}
	return o, nil
}
