package synth

import (
	"fmt"
	"sort"
	"strings"
)

// stopwords excluded from fallback term extraction.
var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "that": true, "this": true,
	"with": true, "are": true, "was": true, "has": true, "have": true,
	"from": true, "will": true, "its": true, "it's": true, "but": true,
	"not": true, "you": true, "can": true, "just": true, "about": true,
	"into": true, "out": true, "all": true, "more": true, "our": true,
	"they": true, "their": true, "your": true, "what": true, "how": true,
	"when": true, "now": true, "new": true, "who": true, "why": true,
}

// fallbackResult builds a deterministic template synthesis from cluster
// content for when the text service produced nothing usable. It never fails.
func fallbackResult(texts []string) Result {
	terms := topTerms(texts, 3)

	title := "Emerging Topic"
	if len(terms) > 0 {
		title = titleCase(strings.Join(terms, " "))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Trending topic: %s.", title)
	if len(texts) > 0 {
		fmt.Fprintf(&b, " Based on %d recent posts discussing ", len(texts))
		if len(terms) > 0 {
			b.WriteString(strings.Join(terms, ", "))
		} else {
			b.WriteString("a shared topic")
		}
		fmt.Fprintf(&b, ". Sample post: %s", excerpt(texts[0], 140))
	}

	return Result{
		Title:       title,
		Description: b.String(),
		Degraded:    true,
	}
}

// topTerms returns the n most frequent non-stopword terms across the texts,
// ordered by count then alphabetically for determinism.
func topTerms(texts []string, n int) []string {
	counts := make(map[string]int)
	for _, text := range texts {
		for _, word := range strings.Fields(strings.ToLower(text)) {
			word = strings.Trim(word, ".,!?;:\"'()[]#@")
			if len(word) < 3 || stopwords[word] {
				continue
			}
			counts[word]++
		}
	}

	terms := make([]string, 0, len(counts))
	for term := range counts {
		terms = append(terms, term)
	}
	sort.Slice(terms, func(i, j int) bool {
		if counts[terms[i]] != counts[terms[j]] {
			return counts[terms[i]] > counts[terms[j]]
		}
		return terms[i] < terms[j]
	})

	if len(terms) > n {
		terms = terms[:n]
	}
	return terms
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		runes := []rune(w)
		if len(runes) > 0 {
			words[i] = strings.ToUpper(string(runes[0])) + string(runes[1:])
		}
	}
	return strings.Join(words, " ")
}
