package synth

import (
	"fmt"
	"strings"
)

// clusterPrompt builds the single-cluster trend identification prompt. Input
// is capped at maxPosts excerpts of maxExcerpt runes each to keep the token
// budget bounded.
func clusterPrompt(texts []string, maxPosts, maxExcerpt int) string {
	var b strings.Builder
	b.WriteString("These social media posts discuss one emerging topic:\n\n")
	for i, text := range texts {
		if i >= maxPosts {
			break
		}
		fmt.Fprintf(&b, "Post %d: %s\n", i+1, excerpt(text, maxExcerpt))
	}
	b.WriteString("\nName the trend these posts describe. Respond with valid JSON only, in this exact format:\n")
	b.WriteString(`{"title": "Short descriptive title (2-5 words)", "description": "2-4 sentence explanation of what the trend is about and why it matters"}`)
	return b.String()
}

// batchPrompt packs several clusters into one completion. Each cluster block
// carries an index the model must echo back so responses can be demultiplexed.
func batchPrompt(clusters [][]string, maxPosts, maxExcerpt int) string {
	var b strings.Builder
	b.WriteString("Each numbered cluster below groups social media posts about one emerging topic:\n")
	for c, texts := range clusters {
		fmt.Fprintf(&b, "\nCluster %d:\n", c)
		for i, text := range texts {
			if i >= maxPosts {
				break
			}
			fmt.Fprintf(&b, "- %s\n", excerpt(text, maxExcerpt))
		}
	}
	b.WriteString("\nName the trend each cluster describes. Respond with valid JSON only, in this exact format:\n")
	b.WriteString(`{"trends": [{"cluster": 0, "title": "Short descriptive title (2-5 words)", "description": "2-4 sentence explanation"}]}`)
	b.WriteString("\nInclude exactly one entry per cluster, with the cluster's number.")
	return b.String()
}

// excerpt truncates text to limit runes, whitespace-normalized.
func excerpt(text string, limit int) string {
	clean := strings.Join(strings.Fields(text), " ")
	runes := []rune(clean)
	if limit <= 0 || len(runes) <= limit {
		return clean
	}
	return string(runes[:limit]) + "..."
}
