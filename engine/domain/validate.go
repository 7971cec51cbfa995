package domain

import (
	"fmt"
	"strings"
)

// ValidatePost checks the fields a post needs before it can be stored.
func ValidatePost(p Post) error {
	if strings.TrimSpace(p.ID) == "" {
		return NewValidationError("id", p.ID, ErrMissingField)
	}
	if strings.TrimSpace(p.BankID) == "" {
		return NewValidationError("bank_id", p.BankID, ErrMissingField)
	}
	if strings.TrimSpace(p.Text) == "" {
		return NewValidationError("text", p.Text, ErrMissingField)
	}
	if p.CreatedAt.IsZero() {
		return NewValidationError("created_at", "", ErrMissingField)
	}
	return nil
}

// ValidateComment checks the fields a comment needs before it can be stored.
func ValidateComment(c Comment) error {
	if strings.TrimSpace(c.ID) == "" {
		return NewValidationError("id", c.ID, ErrMissingField)
	}
	if strings.TrimSpace(c.BankID) == "" {
		return NewValidationError("bank_id", c.BankID, ErrMissingField)
	}
	if c.CreatedAt.IsZero() {
		return NewValidationError("created_at", "", ErrMissingField)
	}
	return nil
}

// ValidateClassification rejects labels outside the known vocabularies.
func ValidateClassification(c Classification) error {
	if c.PostID == "" {
		return NewValidationError("post_id", "", ErrMissingField)
	}
	if !ValidSentiment(c.Sentiment) {
		return NewValidationError("sentiment", string(c.Sentiment), ErrInvalidLabel)
	}
	if !ValidEmotion(c.Emotion) {
		return NewValidationError("emotion", string(c.Emotion), ErrInvalidLabel)
	}
	if !ValidCategory(c.Category) {
		return NewValidationError("category", string(c.Category), ErrInvalidLabel)
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		return NewValidationError("confidence", fmt.Sprintf("%g", c.Confidence), ErrOutOfRange)
	}
	return nil
}

// ValidateScrapeRun checks a new run record.
func ValidateScrapeRun(r ScrapeRun) error {
	if strings.TrimSpace(r.ID) == "" {
		return NewValidationError("run_id", r.ID, ErrMissingField)
	}
	switch r.Status {
	case RunPending, RunRunning, RunCompleted, RunFailed:
	default:
		return NewValidationError("status", string(r.Status), ErrInvalidLabel)
	}
	return nil
}

// forward lists the allowed next states for each run status.
var forward = map[RunStatus][]RunStatus{
	RunPending: {RunRunning, RunFailed},
	RunRunning: {RunCompleted, RunFailed},
}

// CanTransition reports whether a run may move from one status to another.
// Re-applying the current status is allowed and is a no-op.
func CanTransition(from, to RunStatus) bool {
	if from == to {
		return true
	}
	for _, next := range forward[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckTransition returns a ValidationError wrapping ErrInvalidTransition when
// the move is not allowed.
func CheckTransition(from, to RunStatus) error {
	if !CanTransition(from, to) {
		return NewValidationError("status", fmt.Sprintf("%s->%s", from, to), ErrInvalidTransition)
	}
	return nil
}
