package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// TextFingerprint returns the stable cache key for a piece of text: sha256
// over the case- and whitespace-normalized content.
func TextFingerprint(text string) string {
	sum := sha256.Sum256([]byte(normalize(text)))
	return hex.EncodeToString(sum[:])
}

// ClusterFingerprint returns an order-independent key for a set of member
// post texts, so identical clusters across runs share one description entry.
func ClusterFingerprint(texts []string) string {
	prints := make([]string, len(texts))
	for i, t := range texts {
		prints[i] = TextFingerprint(t)
	}
	sort.Strings(prints)
	sum := sha256.Sum256([]byte(strings.Join(prints, "\n")))
	return hex.EncodeToString(sum[:])
}

func normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}
