package cluster

import (
	"math"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"pminsight/internal/normalize"
)

const (
	hintTerms    = 4
	hintMaxChars = 120

	// Terms present in more than this share of the whole corpus carry no
	// signal about any one cluster and are dropped from hints.
	commonTermFrac = 0.6
)

// Hints derives one short extractive phrase per cluster label. texts runs
// parallel to assignments. A term's weight is its count inside the cluster
// times log(n/df)+1 over the whole corpus, so corpus-wide boilerplate is
// down-weighted and the hint names what sets the cluster apart.
func Hints(texts []string, assignments []int) map[int]string {
	n := len(texts)
	if n == 0 || len(assignments) != n {
		return map[int]string{}
	}

	df := make(map[string]int)
	docTokens := make([][]string, n)
	for i, text := range texts {
		tokens := tokenize(text)
		docTokens[i] = tokens
		seen := make(map[string]bool, len(tokens))
		for _, tok := range tokens {
			if !seen[tok] {
				seen[tok] = true
				df[tok]++
			}
		}
	}

	counts := make(map[int]map[string]int)
	for i, label := range assignments {
		terms := counts[label]
		if terms == nil {
			terms = make(map[string]int)
			counts[label] = terms
		}
		for _, tok := range docTokens[i] {
			terms[tok]++
		}
	}

	hints := make(map[int]string, len(counts))
	for label, terms := range counts {
		hints[label] = hintFromTerms(terms, df, n)
	}
	return hints
}

type weightedTerm struct {
	term   string
	weight float64
}

func hintFromTerms(counts, df map[string]int, n int) string {
	ranked := rankTerms(counts, df, n, int(float64(n)*commonTermFrac))
	if len(ranked) == 0 {
		// Tiny corpora can push every term over the cap; rank again
		// without the document-frequency cutoff.
		ranked = rankTerms(counts, df, n, n)
	}
	if len(ranked) > hintTerms {
		ranked = ranked[:hintTerms]
	}
	parts := make([]string, len(ranked))
	for i, t := range ranked {
		parts[i] = t.term
	}
	return normalize.Clip(strings.Join(parts, ", "), hintMaxChars)
}

func rankTerms(counts, df map[string]int, n, dfLimit int) []weightedTerm {
	ranked := make([]weightedTerm, 0, len(counts))
	for term, count := range counts {
		if utf8.RuneCountInString(term) < 2 {
			continue
		}
		d := df[term]
		if d > dfLimit {
			continue
		}
		idf := math.Log(float64(n)/float64(d)) + 1.0
		ranked = append(ranked, weightedTerm{term: term, weight: float64(count) * idf})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].weight != ranked[j].weight {
			return ranked[i].weight > ranked[j].weight
		}
		return ranked[i].term < ranked[j].term
	})
	return ranked
}

func tokenize(s string) []string {
	s = strings.ToLower(s)
	var tokens []string
	var cur strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			cur.WriteRune(r)
		} else {
			if cur.Len() > 0 {
				tokens = append(tokens, cur.String())
				cur.Reset()
			}
		}
	}
	if cur.Len() > 0 {
		tokens = append(tokens, cur.String())
	}
	return tokens
}
