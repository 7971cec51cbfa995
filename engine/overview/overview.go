// Package overview writes the AI overview of a bank: markdown bullet lists of
// what customers ask, praise, complain about, and what the bank could do.
package overview

import (
	"context"
	"strings"
	"time"

	"github.com/fuad-ontik/Prime-Bank-Backend/engine/domain"
)

// Overview sections.
const (
	SectionInquiry     = "inquiry"
	SectionPraise      = "praise"
	SectionComplaints  = "complaints"
	SectionSuggestions = "suggestions"
)

// Sources of an overview.
const (
	SourceKeyword = "keyword"
	SourceLLM     = "llm"
)

type Overview struct {
	BankID      string    `json:"bank_id"`
	Inquiry     string    `json:"inquiry"`
	Praise      string    `json:"praise"`
	Complaints  string    `json:"complaints"`
	Suggestions string    `json:"suggestions"`
	Source      string    `json:"source"`
	PostCount   int       `json:"post_count"`
	GeneratedAt time.Time `json:"generated_at"`
}

// SectionName maps a section name, singular or plural, to its canonical form.
func SectionName(name string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "inquiry", "inquiries":
		return SectionInquiry, nil
	case "praise":
		return SectionPraise, nil
	case "complaint", "complaints":
		return SectionComplaints, nil
	case "suggestion", "suggestions":
		return SectionSuggestions, nil
	}
	return "", domain.NewValidationError("section", name, domain.ErrOutOfRange)
}

// Section returns one section by name. Singular and plural spellings are
// both accepted, so "inquiries" and "complaint" resolve.
func (o Overview) Section(name string) (string, error) {
	canonical, err := SectionName(name)
	if err != nil {
		return "", err
	}
	switch canonical {
	case SectionInquiry:
		return o.Inquiry, nil
	case SectionPraise:
		return o.Praise, nil
	case SectionComplaints:
		return o.Complaints, nil
	}
	return o.Suggestions, nil
}

func (o Overview) complete() bool {
	return o.Inquiry != "" && o.Praise != "" && o.Complaints != "" && o.Suggestions != ""
}

// Input is what a Summarizer reads: the classified posts of one bank.
type Input struct {
	BankID   string
	BankName string
	Posts    []domain.ClassifiedPost
}

// Summarizer produces an Overview.
type Summarizer interface {
	Summarize(ctx context.Context, in Input) (Overview, error)
}
