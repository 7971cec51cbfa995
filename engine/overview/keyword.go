package overview

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/fuad-ontik/Prime-Bank-Backend/engine/domain"
	"github.com/fuad-ontik/Prime-Bank-Backend/pkg/fn"
	"github.com/fuad-ontik/Prime-Bank-Backend/pkg/textnlp"
)

const (
	themeCount   = 5
	excerptRunes = 160
)

// Keyword builds an overview from counts, recurring terms and the most viral
// post of each category. It needs no network and never fails.
type Keyword struct {
	now func() time.Time
}

func NewKeyword() *Keyword { return &Keyword{now: time.Now} }

func (k *Keyword) Summarize(ctx context.Context, in Input) (Overview, error) {
	if err := ctx.Err(); err != nil {
		return Overview{}, err
	}
	done := fn.Filter(in.Posts, func(p domain.ClassifiedPost) bool { return p.Classification != nil })
	byCat := fn.GroupBy(done, func(p domain.ClassifiedPost) domain.Category { return p.Classification.Category })
	name := in.BankName
	if name == "" {
		name = in.BankID
	}
	skip := textnlp.Tokens(name)

	return Overview{
		BankID:      in.BankID,
		Inquiry:     section("inquiries", name, byCat[domain.CategoryInquiry], len(done), skip),
		Praise:      section("praise", name, byCat[domain.CategoryPraise], len(done), skip),
		Complaints:  section("complaints", name, byCat[domain.CategoryComplaint], len(done), skip),
		Suggestions: suggestions(byCat, skip),
		Source:      SourceKeyword,
		PostCount:   len(done),
		GeneratedAt: k.now(),
	}, nil
}

func themes(posts []domain.ClassifiedPost, skip []string) []string {
	texts := fn.Map(posts, func(p domain.ClassifiedPost) string { return p.Text })
	terms := textnlp.TopTerms(texts, themeCount+len(skip))
	terms = slices.DeleteFunc(terms, func(t string) bool { return slices.Contains(skip, t) })
	if len(terms) > themeCount {
		terms = terms[:themeCount]
	}
	return terms
}

func mentioning(posts []domain.ClassifiedPost, term string) int {
	return len(fn.Filter(posts, func(p domain.ClassifiedPost) bool {
		return textnlp.CountTerms(p.Text, []string{term}) > 0
	}))
}

func mostViral(posts []domain.ClassifiedPost) domain.ClassifiedPost {
	return fn.TopN(posts, 1, func(a, b domain.ClassifiedPost) bool {
		if a.Virality() != b.Virality() {
			return a.Virality() > b.Virality()
		}
		return a.CreatedAt.After(b.CreatedAt)
	})[0]
}

func dominantEmotion(posts []domain.ClassifiedPost) domain.Emotion {
	counts := fn.CountBy(posts, func(p domain.ClassifiedPost) domain.Emotion { return p.Classification.Emotion })
	best := domain.EmotionNeutral
	for _, e := range domain.Emotions {
		if counts[e] > counts[best] {
			best = e
		}
	}
	return best
}

func section(label, bank string, posts []domain.ClassifiedPost, total int, skip []string) string {
	if len(posts) == 0 {
		return fmt.Sprintf("- **No %s yet**: none of the %d classified posts about %s fall in this category", label, total, bank)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "- **Volume**: %d of %d classified posts about %s (%.1f%%)\n", len(posts), total, bank, 100*float64(len(posts))/float64(total))
	if ts := themes(posts, skip); len(ts) > 0 {
		fmt.Fprintf(&b, "- **Recurring themes**: %s\n", strings.Join(ts, ", "))
	}
	fmt.Fprintf(&b, "- **Dominant emotion**: %s\n", dominantEmotion(posts))
	top := mostViral(posts)
	fmt.Fprintf(&b, "- **Most viral**: \"%s\" (virality %.0f)", textnlp.Excerpt(top.Text, excerptRunes), top.Virality())
	return b.String()
}

// suggestions turns recurring complaint and inquiry themes into follow-ups,
// then quotes what customers proposed themselves.
func suggestions(byCat map[domain.Category][]domain.ClassifiedPost, skip []string) string {
	var lines []string
	complaints := byCat[domain.CategoryComplaint]
	for _, t := range themes(complaints, skip) {
		if n := mentioning(complaints, t); n > 1 {
			lines = append(lines, fmt.Sprintf("- **Fix %s**: raised in %d complaints", t, n))
		}
	}
	inquiries := byCat[domain.CategoryInquiry]
	for _, t := range themes(inquiries, skip) {
		if n := mentioning(inquiries, t); n > 1 {
			lines = append(lines, fmt.Sprintf("- **Publish guidance on %s**: asked about in %d inquiries", t, n))
		}
	}
	if ideas := byCat[domain.CategorySuggestion]; len(ideas) > 0 {
		top := mostViral(ideas)
		lines = append(lines, fmt.Sprintf("- **Customer idea**: \"%s\"", textnlp.Excerpt(top.Text, excerptRunes)))
	}
	if len(lines) == 0 {
		return "- **Keep monitoring**: no recurring complaint or inquiry themes yet"
	}
	return strings.Join(lines, "\n")
}
