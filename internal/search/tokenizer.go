// Package search implements the inverted-index engine: tokenization,
// per-document and chunked indexing, scored retrieval with filters and
// fuzzy expansion, and the maintenance passes that keep the index healthy.
package search

import (
	"regexp"
	"strings"
)

// nonWord matches runs of anything that is not a letter, digit or
// underscore. Unicode-aware so accented terms survive normalization.
var nonWord = regexp.MustCompile(`[^\p{L}\p{N}_]+`)

// minTokenLen drops short noise tokens before the stop-word pass.
const minTokenLen = 3

// Normalize lowercases content and replaces non-word characters with single
// spaces. Normalizing twice is a fixed point, so tokenization is idempotent
// over its own output.
func Normalize(content string) string {
	lowered := strings.ToLower(content)
	spaced := nonWord.ReplaceAllString(lowered, " ")
	return strings.TrimSpace(spaced)
}

// Tokenize splits content into index terms: normalize, split on whitespace,
// drop tokens shorter than three characters, then drop the language's
// stop words.
func Tokenize(content string, lang Language) []string {
	normalized := Normalize(content)
	if normalized == "" {
		return nil
	}
	stop := stopwordsFor(lang)
	fields := strings.Fields(normalized)
	tokens := fields[:0]
	for _, tok := range fields {
		if len([]rune(tok)) < minTokenLen {
			continue
		}
		if _, skip := stop[tok]; skip {
			continue
		}
		tokens = append(tokens, tok)
	}
	return tokens
}

// TermFrequencies counts occurrences per term in content.
func TermFrequencies(content string, lang Language) map[string]int {
	tokens := Tokenize(content, lang)
	if len(tokens) == 0 {
		return nil
	}
	tf := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		tf[tok]++
	}
	return tf
}

// UniqueTerms returns the distinct terms of content, unordered.
func UniqueTerms(content string, lang Language) []string {
	tf := TermFrequencies(content, lang)
	terms := make([]string, 0, len(tf))
	for term := range tf {
		terms = append(terms, term)
	}
	return terms
}
