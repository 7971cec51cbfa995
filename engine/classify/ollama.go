package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/fuad-ontik/Prime-Bank-Backend/engine/domain"
	"github.com/fuad-ontik/Prime-Bank-Backend/pkg/ollama"
)

const systemPrompt = `You label social media posts about Bangladeshi banks.
Reply with a JSON object only:
{"sentiment":"positive|neutral|negative","emotion":"neutral|joy|confusion|frustration","category":"inquiry|complaint|praise|suggestion","confidence":0.0-1.0}`

// Generator is the slice of the Ollama client the classifier needs.
type Generator interface {
	Generate(ctx context.Context, req ollama.GenerateRequest) (string, error)
}

// Ollama classifies with a local LLM. Timeouts, 429 and 5xx responses are
// transient; output that does not parse into known labels is permanent.
type Ollama struct {
	gen Generator
}

func NewOllama(gen Generator) *Ollama { return &Ollama{gen: gen} }

type llmLabels struct {
	Sentiment  string   `json:"sentiment"`
	Emotion    string   `json:"emotion"`
	Category   string   `json:"category"`
	Confidence *float64 `json:"confidence"`
}

func (o *Ollama) Classify(ctx context.Context, text string) (Labels, error) {
	out, err := o.gen.Generate(ctx, ollama.GenerateRequest{
		System:      systemPrompt,
		Prompt:      "Post:\n" + text,
		JSON:        true,
		Temperature: 0,
	})
	if err != nil {
		return Labels{}, classifyErr(ctx, err)
	}
	return parseLabels(out)
}

func classifyErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		// The caller gave up; retrying would not help.
		return ctx.Err()
	}
	var se *ollama.StatusError
	if errors.As(err, &se) {
		if se.Retryable() {
			return domain.Transient("ollama", err)
		}
		return err
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return domain.Transient("ollama", err)
	}
	var oe *net.OpError
	if errors.As(err, &oe) {
		return domain.Transient("ollama", err)
	}
	return err
}

func parseLabels(raw string) (Labels, error) {
	var l llmLabels
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &l); err != nil {
		return Labels{}, fmt.Errorf("ollama: malformed labels %q: %w", raw, err)
	}
	labels := Labels{
		Sentiment:  domain.Sentiment(strings.ToLower(strings.TrimSpace(l.Sentiment))),
		Emotion:    domain.Emotion(strings.ToLower(strings.TrimSpace(l.Emotion))),
		Category:   domain.Category(strings.ToLower(strings.TrimSpace(l.Category))),
		Confidence: 0.5,
	}
	if !domain.ValidSentiment(labels.Sentiment) {
		return Labels{}, domain.NewValidationError("sentiment", l.Sentiment, domain.ErrInvalidLabel)
	}
	if !domain.ValidCategory(labels.Category) {
		return Labels{}, domain.NewValidationError("category", l.Category, domain.ErrInvalidLabel)
	}
	if !domain.ValidEmotion(labels.Emotion) {
		labels.Emotion = domain.EmotionNeutral
	}
	if l.Confidence != nil {
		labels.Confidence = min(max(*l.Confidence, 0), 1)
	}
	return labels, nil
}
