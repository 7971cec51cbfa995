// Package classify turns post text into sentiment, emotion and category
// labels. Backends are interchangeable behind Classifier.
package classify

import (
	"context"
	"errors"
	"fmt"

	"github.com/fuad-ontik/Prime-Bank-Backend/engine/domain"
)

// Labels is the output of one classification.
type Labels struct {
	Sentiment  domain.Sentiment `json:"sentiment"`
	Emotion    domain.Emotion   `json:"emotion"`
	Category   domain.Category  `json:"category"`
	Confidence float64          `json:"confidence"`
}

// Classification binds labels to a post.
func (l Labels) Classification(postID string) domain.Classification {
	return domain.Classification{
		PostID:     postID,
		Sentiment:  l.Sentiment,
		Emotion:    l.Emotion,
		Category:   l.Category,
		Confidence: l.Confidence,
	}
}

// Classifier labels a single text. Implementations must be safe for
// concurrent use. Retryable failures are domain.TransientAdapterError.
type Classifier interface {
	Classify(ctx context.Context, text string) (Labels, error)
}

// Func adapts a plain function to Classifier.
type Func func(ctx context.Context, text string) (Labels, error)

func (f Func) Classify(ctx context.Context, text string) (Labels, error) { return f(ctx, text) }

// AttemptError reports how many tries a failed classification took.
type AttemptError struct {
	Attempts int
	Err      error
}

func (e *AttemptError) Error() string {
	return fmt.Sprintf("after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *AttemptError) Unwrap() error { return e.Err }

// Attempts returns the attempt count recorded in err, or 1.
func Attempts(err error) int {
	var ae *AttemptError
	if errors.As(err, &ae) {
		return ae.Attempts
	}
	return 1
}
