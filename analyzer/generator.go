// Copyright 2025 SentryVolt
// SPDX-License-Identifier: Apache-2.0

package analyzer

import (
	"regexp"
	"strings"
)

// CandidatePattern is one generated pattern with a heuristic confidence.
type CandidatePattern struct {
	Pattern    string  `json:"pattern"`
	Confidence float64 `json:"confidence"`
}

var (
	quotedPhrase = regexp.MustCompile(`"([^"]{3,})"|'([^']{3,})'`)
	wordSplit    = regexp.MustCompile(`[^a-zA-Z0-9]+`)
)

var stopwords = map[string]bool{
	"the": true, "and": true, "that": true, "this": true, "with": true,
	"for": true, "from": true, "when": true, "then": true, "should": true,
	"would": true, "could": true, "any": true, "all": true, "detect": true,
	"match": true, "block": true, "rule": true, "text": true, "containing": true,
	"contains": true, "about": true, "like": true, "into": true, "them": true,
}

// GeneratePatterns derives candidate regex patterns from a natural-
// language rule description. Quoted phrases become exact (escaped)
// patterns with high confidence; significant keyword pairs become
// proximity patterns; lone keywords become word-boundary alternations.
// The output is deterministic for a given description.
func GeneratePatterns(description string) []CandidatePattern {
	var candidates []CandidatePattern

	for _, m := range quotedPhrase.FindAllStringSubmatch(description, -1) {
		phrase := m[1]
		if phrase == "" {
			phrase = m[2]
		}
		escaped := regexp.QuoteMeta(strings.TrimSpace(phrase))
		// Collapse literal spaces so minor whitespace changes still match.
		escaped = strings.ReplaceAll(escaped, ` `, `\s+`)
		candidates = append(candidates, CandidatePattern{
			Pattern:    escaped,
			Confidence: 0.9,
		})
	}

	keywords := significantKeywords(description)
	for i := 0; i+1 < len(keywords); i++ {
		candidates = append(candidates, CandidatePattern{
			Pattern:    `\b` + keywords[i] + `\b[\s\S]{0,40}\b` + keywords[i+1] + `\b`,
			Confidence: 0.75,
		})
	}
	if len(keywords) > 0 {
		candidates = append(candidates, CandidatePattern{
			Pattern:    `\b(?:` + strings.Join(keywords, "|") + `)\b`,
			Confidence: 0.6,
		})
	}
	return candidates
}

func significantKeywords(description string) []string {
	// Strip quoted phrases first; they already produced exact patterns.
	stripped := quotedPhrase.ReplaceAllString(description, " ")

	seen := make(map[string]bool)
	var keywords []string
	for _, w := range wordSplit.Split(strings.ToLower(stripped), -1) {
		if len(w) < 4 || stopwords[w] || seen[w] {
			continue
		}
		seen[w] = true
		keywords = append(keywords, regexp.QuoteMeta(w))
		if len(keywords) == 6 {
			break
		}
	}
	return keywords
}
