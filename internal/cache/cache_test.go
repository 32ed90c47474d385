package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"trendpulse/internal/metrics"
)

func TestTextFingerprintNormalizes(t *testing.T) {
	a := TextFingerprint("AI agents are  everywhere")
	b := TextFingerprint("  ai Agents\tare everywhere\n")
	if a != b {
		t.Fatal("fingerprints should match after normalization")
	}
	if a == TextFingerprint("ai agents are nowhere") {
		t.Fatal("different texts should not collide")
	}
}

func TestClusterFingerprintOrderIndependent(t *testing.T) {
	a := ClusterFingerprint([]string{"first post", "second post", "third post"})
	b := ClusterFingerprint([]string{"third post", "first post", "second post"})
	if a != b {
		t.Fatal("member order should not change the cluster fingerprint")
	}
	if a == ClusterFingerprint([]string{"first post", "second post"}) {
		t.Fatal("different member sets should not collide")
	}
}

func newTestCache(opts Options) *MemoryCache {
	return NewMemoryCache(opts, metrics.New())
}

func TestMemoryCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(Options{EmbeddingTTL: time.Minute, DescriptionTTL: time.Minute, MaxEntries: 10})

	if _, ok := c.GetEmbedding(ctx, "fp"); ok {
		t.Fatal("expected miss on empty cache")
	}

	c.PutEmbedding(ctx, "fp", []float32{1, 2, 3})
	v, ok := c.GetEmbedding(ctx, "fp")
	if !ok || len(v) != 3 || v[2] != 3 {
		t.Fatalf("unexpected embedding: %v ok=%v", v, ok)
	}

	c.PutDescription(ctx, "cfp", Description{Title: "AI Agents", Description: "Posts about agents."})
	d, ok := c.GetDescription(ctx, "cfp")
	if !ok || d.Title != "AI Agents" {
		t.Fatalf("unexpected description: %+v ok=%v", d, ok)
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(Options{EmbeddingTTL: time.Minute, DescriptionTTL: time.Minute, MaxEntries: 10})

	current := time.Now()
	c.now = func() time.Time { return current }

	c.PutEmbedding(ctx, "fp", []float32{1})
	if _, ok := c.GetEmbedding(ctx, "fp"); !ok {
		t.Fatal("expected hit before expiry")
	}

	current = current.Add(2 * time.Minute)
	if _, ok := c.GetEmbedding(ctx, "fp"); ok {
		t.Fatal("expected miss after expiry")
	}
}

func TestMemoryCacheEvictsOldestFirst(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(Options{EmbeddingTTL: time.Minute, DescriptionTTL: time.Minute, MaxEntries: 3})

	for i := 0; i < 4; i++ {
		c.PutEmbedding(ctx, fmt.Sprintf("fp-%d", i), []float32{float32(i)})
	}

	if _, ok := c.GetEmbedding(ctx, "fp-0"); ok {
		t.Fatal("oldest entry should have been evicted")
	}
	for i := 1; i < 4; i++ {
		if _, ok := c.GetEmbedding(ctx, fmt.Sprintf("fp-%d", i)); !ok {
			t.Fatalf("entry fp-%d should have survived", i)
		}
	}
}
