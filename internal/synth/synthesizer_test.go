package synth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"trendpulse/internal/cache"
	"trendpulse/internal/metrics"
)

type fakeCompleter struct {
	calls     int
	responses []string
	err       error
}

func (f *fakeCompleter) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if len(f.responses) == 0 {
		return "", errors.New("no canned response")
	}
	resp := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return resp, nil
}

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

func newTestSynthesizer(client Completer, cfg Config) (*Synthesizer, cache.ResponseCache) {
	c := cache.NewMemoryCache(cache.Options{
		EmbeddingTTL:   time.Minute,
		DescriptionTTL: time.Minute,
		MaxEntries:     100,
	}, metrics.New())
	return New(client, c, cfg, testLogger()), c
}

func TestSynthesizeParsesResponse(t *testing.T) {
	client := &fakeCompleter{responses: []string{
		"```json\n{\"title\": \"AI Coding Agents\", \"description\": \"Developers are adopting autonomous coding agents.\"}\n```",
	}}
	s, _ := newTestSynthesizer(client, DefaultConfig())

	res, err := s.Synthesize(context.Background(), []string{"post about agents", "another agent post"})
	if err != nil {
		t.Fatalf("Synthesize returned error: %v", err)
	}
	if res.Degraded {
		t.Fatal("successful synthesis should not be degraded")
	}
	if res.Title != "AI Coding Agents" {
		t.Fatalf("unexpected title: %q", res.Title)
	}
}

func TestSynthesizeCachesResult(t *testing.T) {
	client := &fakeCompleter{responses: []string{
		`{"title": "AI Agents", "description": "Posts about agents."}`,
	}}
	s, _ := newTestSynthesizer(client, DefaultConfig())

	texts := []string{"first post", "second post"}
	if _, err := s.Synthesize(context.Background(), texts); err != nil {
		t.Fatalf("first call: %v", err)
	}
	// Same members in a different order hit the cache.
	res, err := s.Synthesize(context.Background(), []string{"second post", "first post"})
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if res.Title != "AI Agents" {
		t.Fatalf("unexpected cached title: %q", res.Title)
	}
	if client.calls != 1 {
		t.Fatalf("expected 1 completion call, got %d", client.calls)
	}
}

func TestSynthesizeFallsBackOnClientError(t *testing.T) {
	client := &fakeCompleter{err: errors.New("service down")}
	s, _ := newTestSynthesizer(client, DefaultConfig())

	texts := []string{
		"quantum computing breakthrough announced today",
		"new quantum computing results published",
	}
	res, err := s.Synthesize(context.Background(), texts)
	if err != nil {
		t.Fatalf("fallback path returned error: %v", err)
	}
	if !res.Degraded {
		t.Fatal("fallback result should be degraded")
	}
	if res.Title == "" || res.Description == "" {
		t.Fatalf("fallback result incomplete: %+v", res)
	}
	if !strings.Contains(res.Description, "2 recent posts") {
		t.Fatalf("fallback description missing post count: %q", res.Description)
	}
}

func TestSynthesizeFallsBackOnMalformedOutput(t *testing.T) {
	client := &fakeCompleter{responses: []string{"Sure! The trend is about AI."}}
	s, _ := newTestSynthesizer(client, DefaultConfig())

	res, err := s.Synthesize(context.Background(), []string{"some post"})
	if err != nil {
		t.Fatalf("fallback path returned error: %v", err)
	}
	if !res.Degraded {
		t.Fatal("malformed output should degrade")
	}
}

func TestSynthesizeRejectsEmptyCluster(t *testing.T) {
	s, _ := newTestSynthesizer(&fakeCompleter{}, DefaultConfig())
	if _, err := s.Synthesize(context.Background(), nil); err == nil {
		t.Fatal("expected error for zero-member cluster")
	}
}

func TestFallbackDeterministic(t *testing.T) {
	texts := []string{
		"robotics startups raising funding",
		"humanoid robotics demos everywhere",
	}
	a := fallbackResult(texts)
	b := fallbackResult(texts)
	if a != b {
		t.Fatalf("fallback should be deterministic: %+v vs %+v", a, b)
	}
	if !a.Degraded {
		t.Fatal("fallback must be marked degraded")
	}
}

func TestTopTermsOrdering(t *testing.T) {
	texts := []string{
		"llm inference costs dropping",
		"llm training costs rising",
		"llm benchmarks everywhere",
	}
	terms := topTerms(texts, 3)
	if len(terms) != 3 {
		t.Fatalf("expected 3 terms, got %v", terms)
	}
	if terms[0] != "llm" {
		t.Fatalf("most frequent term should lead: %v", terms)
	}
	if terms[1] != "costs" {
		t.Fatalf("second most frequent term should follow: %v", terms)
	}
}

func TestExtractJSON(t *testing.T) {
	raw := "Here you go:\n```json\n{\"title\": \"X\"}\n```\nHope that helps."
	if got := extractJSON(raw); got != `{"title": "X"}` {
		t.Fatalf("unexpected extraction: %q", got)
	}
}

func TestExcerptTruncates(t *testing.T) {
	got := excerpt("one  two\nthree four", 12)
	if got != "one two thre..." {
		t.Fatalf("unexpected excerpt: %q", got)
	}
	if excerpt("short", 12) != "short" {
		t.Fatal("short text should pass through")
	}
}

func TestSynthesizeBatchDemuxes(t *testing.T) {
	client := &fakeCompleter{responses: []string{
		`{"trends": [
			{"cluster": 1, "title": "Second Topic", "description": "About the second."},
			{"cluster": 0, "title": "First Topic", "description": "About the first."}
		]}`,
	}}
	cfg := DefaultConfig()
	cfg.MaxBatchSize = 4
	s, _ := newTestSynthesizer(client, cfg)

	clusters := [][]string{
		{"first cluster post"},
		{"second cluster post"},
	}
	results, errs := s.SynthesizeBatch(context.Background(), clusters)
	for i, err := range errs {
		if err != nil {
			t.Fatalf("cluster %d error: %v", i, err)
		}
	}
	if results[0].Title != "First Topic" || results[1].Title != "Second Topic" {
		t.Fatalf("demux misaligned: %+v", results)
	}
	if client.calls != 1 {
		t.Fatalf("expected 1 batched call, got %d", client.calls)
	}
}

func TestSynthesizeBatchMismatchFallsBackPerCluster(t *testing.T) {
	client := &fakeCompleter{responses: []string{
		// Batch reply drops a cluster; chunk retries per cluster.
		`{"trends": [{"cluster": 0, "title": "Only One", "description": "Missing the other."}]}`,
		`{"title": "First Topic", "description": "About the first."}`,
		`{"title": "Second Topic", "description": "About the second."}`,
	}}
	cfg := DefaultConfig()
	cfg.MaxBatchSize = 4
	s, _ := newTestSynthesizer(client, cfg)

	clusters := [][]string{
		{"first cluster post"},
		{"second cluster post"},
	}
	results, _ := s.SynthesizeBatch(context.Background(), clusters)
	if results[0].Title != "First Topic" || results[1].Title != "Second Topic" {
		t.Fatalf("per-cluster retry misaligned: %+v", results)
	}
	if client.calls != 3 {
		t.Fatalf("expected 3 calls (1 batch + 2 retries), got %d", client.calls)
	}
}

func TestSynthesizeBatchServesCacheHitsWithoutCalls(t *testing.T) {
	client := &fakeCompleter{responses: []string{
		`{"title": "Cached Topic", "description": "Will be cached."}`,
	}}
	cfg := DefaultConfig()
	cfg.MaxBatchSize = 4
	s, _ := newTestSynthesizer(client, cfg)

	texts := []string{"a post to cache"}
	if _, err := s.Synthesize(context.Background(), texts); err != nil {
		t.Fatalf("priming call: %v", err)
	}

	results, errs := s.SynthesizeBatch(context.Background(), [][]string{texts})
	if errs[0] != nil {
		t.Fatalf("cached cluster errored: %v", errs[0])
	}
	if results[0].Title != "Cached Topic" {
		t.Fatalf("unexpected cached result: %+v", results[0])
	}
	if client.calls != 1 {
		t.Fatalf("expected no extra calls, got %d", client.calls)
	}
}

func TestParseBatchSynthesisRejectsDuplicates(t *testing.T) {
	raw := `{"trends": [
		{"cluster": 0, "title": "A", "description": "a"},
		{"cluster": 0, "title": "B", "description": "b"}
	]}`
	if _, err := parseBatchSynthesis(raw, 2); err == nil {
		t.Fatal("expected error for duplicate cluster index")
	}
}

func TestClusterPromptCapsPosts(t *testing.T) {
	texts := make([]string, 30)
	for i := range texts {
		texts[i] = fmt.Sprintf("post number %d", i)
	}
	prompt := clusterPrompt(texts, 20, 200)
	if strings.Contains(prompt, "Post 21:") {
		t.Fatal("prompt should cap at 20 posts")
	}
	if !strings.Contains(prompt, "Post 20:") {
		t.Fatal("prompt should include the 20th post")
	}
}
