package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// BankSpec is the configuration form of a bank: id, display name and the
// case-insensitive patterns that count as a mention.
type BankSpec struct {
	ID       string   `yaml:"id" json:"id"`
	Name     string   `yaml:"name" json:"name"`
	Patterns []string `yaml:"patterns" json:"patterns"`
}

// DefaultBanks is the registry used when no configuration file overrides it.
var DefaultBanks = []BankSpec{
	{ID: "prime_bank", Name: "Prime Bank", Patterns: []string{`prime\s*bank`, `primebank`, `@primebank`, `prime\s*b\.?`}},
	{ID: "eastern_bank", Name: "Eastern Bank", Patterns: []string{`eastern\s*bank`, `\bebl\b`, `@easternbank`}},
	{ID: "brac_bank", Name: "BRAC Bank", Patterns: []string{`brac\s*bank`, `@bracbank`}},
	{ID: "city_bank", Name: "City Bank", Patterns: []string{`city\s*bank`, `@citybank`}},
	{ID: "dutch_bangla", Name: "Dutch-Bangla Bank", Patterns: []string{`dutch\s*bangla`, `\bdbbl\b`, `@dutchbangla`}},
}

// Bank is a compiled registry entry.
type Bank struct {
	ID       string
	Name     string
	patterns []*regexp.Regexp
}

// Mentioned reports whether text matches any of the bank's patterns.
func (b Bank) Mentioned(text string) bool {
	for _, p := range b.patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// Registry is the immutable set of banks the pipeline knows about.
type Registry struct {
	banks []Bank
	byID  map[string]int
}

// NewRegistry compiles specs in order. Ids must be unique and non-empty.
func NewRegistry(specs []BankSpec) (*Registry, error) {
	r := &Registry{byID: make(map[string]int, len(specs))}
	for _, s := range specs {
		id := strings.TrimSpace(s.ID)
		if id == "" {
			return nil, NewValidationError("bank.id", s.ID, ErrMissingField)
		}
		if _, dup := r.byID[id]; dup {
			return nil, fmt.Errorf("bank %q registered twice", id)
		}
		b := Bank{ID: id, Name: s.Name}
		if b.Name == "" {
			b.Name = id
		}
		for _, p := range s.Patterns {
			re, err := regexp.Compile(`(?i)` + p)
			if err != nil {
				return nil, fmt.Errorf("bank %q pattern %q: %w", id, p, err)
			}
			b.patterns = append(b.patterns, re)
		}
		r.byID[id] = len(r.banks)
		r.banks = append(r.banks, b)
	}
	return r, nil
}

// MustRegistry is NewRegistry that panics, for package-level defaults.
func MustRegistry(specs []BankSpec) *Registry {
	r, err := NewRegistry(specs)
	if err != nil {
		panic(err)
	}
	return r
}

// DefaultRegistry returns a registry built from DefaultBanks.
func DefaultRegistry() *Registry { return MustRegistry(DefaultBanks) }

// Known reports whether id is registered.
func (r *Registry) Known(id string) bool {
	_, ok := r.byID[id]
	return ok
}

// Check returns an UnknownBankError when id is not registered.
func (r *Registry) Check(id string) error {
	if !r.Known(id) {
		return &UnknownBankError{BankID: id}
	}
	return nil
}

// Get returns the bank with the given id.
func (r *Registry) Get(id string) (Bank, bool) {
	i, ok := r.byID[id]
	if !ok {
		return Bank{}, false
	}
	return r.banks[i], true
}

// Banks returns every bank in registration order.
func (r *Registry) Banks() []Bank {
	out := make([]Bank, len(r.banks))
	copy(out, r.banks)
	return out
}

// IDs returns every bank id in registration order.
func (r *Registry) IDs() []string {
	ids := make([]string, len(r.banks))
	for i, b := range r.banks {
		ids[i] = b.ID
	}
	return ids
}

// Detect returns the first bank mentioned in text.
func (r *Registry) Detect(text string) (string, bool) {
	for _, b := range r.banks {
		if b.Mentioned(text) {
			return b.ID, true
		}
	}
	return "", false
}

// Mentions returns the ids of every bank mentioned in text.
func (r *Registry) Mentions(text string) []string {
	var ids []string
	for _, b := range r.banks {
		if b.Mentioned(text) {
			ids = append(ids, b.ID)
		}
	}
	return ids
}
