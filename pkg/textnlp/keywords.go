package textnlp

import (
	"sort"
	"strings"
	"unicode"
)

// stopwords are dropped before keyword counting.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "been": true, "but": true, "by": true, "can": true, "do": true,
	"for": true, "from": true, "has": true, "have": true, "i": true, "in": true,
	"is": true, "it": true, "its": true, "me": true, "my": true, "no": true,
	"not": true, "of": true, "on": true, "or": true, "our": true, "so": true,
	"that": true, "the": true, "their": true, "them": true, "they": true,
	"this": true, "to": true, "was": true, "we": true, "were": true, "what": true,
	"when": true, "with": true, "you": true, "your": true, "will": true,
	"just": true, "very": true, "about": true, "there": true, "here": true,
	"bank": true, "please": true, "also": true, "all": true, "any": true,
}

// Tokens lowercases text and splits it on anything that is not a letter,
// digit or apostrophe.
func Tokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

// Keywords returns up to n of the most frequent non-stopword tokens of at
// least three characters. Ties are broken alphabetically.
func Keywords(text string, n int) []string {
	return TopTerms([]string{text}, n)
}

// TopTerms is Keywords over a set of documents.
func TopTerms(docs []string, n int) []string {
	counts := make(map[string]int)
	for _, d := range docs {
		for _, tok := range Tokens(d) {
			tok = strings.Trim(tok, "'")
			if len([]rune(tok)) < 3 || stopwords[tok] || isNumber(tok) {
				continue
			}
			counts[tok]++
		}
	}
	terms := make([]string, 0, len(counts))
	for t := range counts {
		terms = append(terms, t)
	}
	sort.Slice(terms, func(i, j int) bool {
		if counts[terms[i]] != counts[terms[j]] {
			return counts[terms[i]] > counts[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if n > 0 && len(terms) > n {
		terms = terms[:n]
	}
	return terms
}

// CountTerms counts how many of terms occur in text. Single words must match
// whole tokens; phrases and punctuation terms match as substrings.
func CountTerms(text string, terms []string) int {
	lower := strings.ToLower(text)
	tokens := make(map[string]bool)
	for _, t := range Tokens(lower) {
		tokens[t] = true
	}
	n := 0
	for _, term := range terms {
		if isWord(term) {
			if tokens[term] {
				n++
			}
			continue
		}
		if strings.Contains(lower, term) {
			n++
		}
	}
	return n
}

// Excerpt shortens text to at most max runes on a word boundary.
func Excerpt(text string, max int) string {
	text = strings.Join(strings.Fields(text), " ")
	r := []rune(text)
	if len(r) <= max {
		return text
	}
	cut := string(r[:max])
	if i := strings.LastIndexByte(cut, ' '); i > max/2 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,.;:") + "..."
}

func isWord(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}

func isNumber(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
