package classify

import (
	"context"
	"strings"

	"github.com/fuad-ontik/Prime-Bank-Backend/engine/domain"
	"github.com/fuad-ontik/Prime-Bank-Backend/pkg/textnlp"
)

// Rules are the cue lists the Keyword classifier counts. Single words match
// whole tokens; phrases and punctuation match as substrings.
type Rules struct {
	Inquiry    []string `yaml:"inquiry"`
	Praise     []string `yaml:"praise"`
	Complaint  []string `yaml:"complaint"`
	Suggestion []string `yaml:"suggestion"`
	Positive   []string `yaml:"positive"`
	Negative   []string `yaml:"negative"`
	Confusion  []string `yaml:"confusion"`
}

// DefaultRules extends the dashboard's original fallback cue lists.
var DefaultRules = Rules{
	Inquiry:    []string{"how", "when", "where", "what", "why", "can i", "help", "support", "?", "anyone know", "is there"},
	Praise:     []string{"good", "great", "excellent", "thank", "thanks", "appreciate", "best", "amazing", "wonderful", "love", "helpful"},
	Complaint:  []string{"problem", "issue", "error", "wrong", "bad", "terrible", "slow", "delay", "frustrated", "not working", "worst", "failed", "blocked", "charged"},
	Suggestion: []string{"should", "suggest", "recommend", "please add", "would be", "it would", "improve", "wish", "need to"},
	Positive:   []string{"good", "great", "excellent", "thank", "thanks", "appreciate", "best", "amazing", "wonderful", "love", "helpful", "smooth", "easy", "fast", "happy"},
	Negative:   []string{"problem", "issue", "error", "wrong", "bad", "terrible", "slow", "delay", "frustrated", "not working", "worst", "failed", "blocked", "poor", "fraud", "scam", "useless", "disappointed", "angry"},
	Confusion:  []string{"confused", "confusing", "don't understand", "unclear", "not sure"},
}

// Keyword is a deterministic rule-based classifier. It never fails and needs
// no network, so it backs tests and runs as the fallback backend.
type Keyword struct {
	rules Rules
}

// NewKeyword builds a classifier; zero-value rules fall back to DefaultRules.
func NewKeyword(rules Rules) *Keyword {
	if len(rules.Inquiry)+len(rules.Praise)+len(rules.Complaint)+len(rules.Suggestion) == 0 {
		rules = DefaultRules
	}
	return &Keyword{rules: rules}
}

func (k *Keyword) Classify(ctx context.Context, text string) (Labels, error) {
	if err := ctx.Err(); err != nil {
		return Labels{}, err
	}
	text = strings.TrimSpace(text)

	pos := textnlp.CountTerms(text, k.rules.Positive)
	neg := textnlp.CountTerms(text, k.rules.Negative)
	sentiment := domain.SentimentNeutral
	switch {
	case pos > neg:
		sentiment = domain.SentimentPositive
	case neg > pos:
		sentiment = domain.SentimentNegative
	}

	scores := []struct {
		cat domain.Category
		n   int
	}{
		// Ties resolve in this order.
		{domain.CategoryComplaint, textnlp.CountTerms(text, k.rules.Complaint)},
		{domain.CategoryInquiry, textnlp.CountTerms(text, k.rules.Inquiry)},
		{domain.CategorySuggestion, textnlp.CountTerms(text, k.rules.Suggestion)},
		{domain.CategoryPraise, textnlp.CountTerms(text, k.rules.Praise)},
	}
	best, runnerUp := 0, 0
	category := defaultCategory(sentiment)
	for _, s := range scores {
		if s.n > best {
			runnerUp, best = best, s.n
			category = s.cat
		} else if s.n > runnerUp {
			runnerUp = s.n
		}
	}

	confused := textnlp.CountTerms(text, k.rules.Confusion)
	emotion := domain.EmotionNeutral
	switch {
	case sentiment == domain.SentimentNegative:
		emotion = domain.EmotionFrustration
	case confused > 0 || (category == domain.CategoryInquiry && best > 0 && sentiment != domain.SentimentPositive):
		emotion = domain.EmotionConfusion
	case sentiment == domain.SentimentPositive:
		emotion = domain.EmotionJoy
	}

	confidence := 0.4
	if best > 0 {
		confidence = min(0.5+0.1*float64(best-runnerUp+1), 0.9)
	}
	return Labels{Sentiment: sentiment, Emotion: emotion, Category: category, Confidence: confidence}, nil
}

func defaultCategory(s domain.Sentiment) domain.Category {
	switch s {
	case domain.SentimentNegative:
		return domain.CategoryComplaint
	case domain.SentimentPositive:
		return domain.CategoryPraise
	}
	return domain.CategoryInquiry
}
