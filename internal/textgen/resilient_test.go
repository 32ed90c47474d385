package textgen

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"

	"trendpulse/internal/metrics"
)

type fakeClient struct {
	embedCalls    int32
	completeCalls int32
	embedFn       func(ctx context.Context, texts []string) ([][]float32, error)
	completeFn    func(ctx context.Context, prompt string, maxTokens int) (string, error)
}

func (f *fakeClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	atomic.AddInt32(&f.embedCalls, 1)
	return f.embedFn(ctx, texts)
}

func (f *fakeClient) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	atomic.AddInt32(&f.completeCalls, 1)
	return f.completeFn(ctx, prompt, maxTokens)
}

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

func fastConfig() ResilientConfig {
	return ResilientConfig{
		EmbedTimeout:    time.Second,
		CompleteTimeout: time.Second,
		MaxRetries:      2,
		RetryBaseDelay:  time.Millisecond,
		RetryMaxDelay:   4 * time.Millisecond,
		BreakerRatio:    0.5,
		BreakerMinCalls: 100,
		BreakerCooldown: time.Minute,
	}
}

func TestEmbedRetriesTransientThenSucceeds(t *testing.T) {
	var failures int32 = 1
	inner := &fakeClient{
		embedFn: func(ctx context.Context, texts []string) ([][]float32, error) {
			if atomic.AddInt32(&failures, -1) >= 0 {
				return nil, &apiError{StatusCode: 503, Body: "unavailable"}
			}
			return [][]float32{{0.1, 0.2}}, nil
		},
	}
	client := NewResilientClient(inner, fastConfig(), testLogger(), metrics.New())

	vectors, err := client.Embed(context.Background(), []string{"hello"})
	if err != nil {
		t.Fatalf("Embed returned error: %v", err)
	}
	if len(vectors) != 1 {
		t.Fatalf("expected 1 vector, got %d", len(vectors))
	}
	if calls := atomic.LoadInt32(&inner.embedCalls); calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
}

func TestEmbedExhaustsRetries(t *testing.T) {
	inner := &fakeClient{
		embedFn: func(ctx context.Context, texts []string) ([][]float32, error) {
			return nil, &apiError{StatusCode: 500, Body: "boom"}
		},
	}
	client := NewResilientClient(inner, fastConfig(), testLogger(), metrics.New())

	_, err := client.Embed(context.Background(), []string{"hello"})
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("expected ErrRetriesExhausted, got %v", err)
	}
	if !Unavailable(err) {
		t.Fatalf("expected Unavailable(err) to be true")
	}
	// 1 initial attempt + 2 retries
	if calls := atomic.LoadInt32(&inner.embedCalls); calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestCompleteNonRetryableFailsOnce(t *testing.T) {
	inner := &fakeClient{
		completeFn: func(ctx context.Context, prompt string, maxTokens int) (string, error) {
			return "", &apiError{StatusCode: 401, Body: "bad key"}
		},
	}
	client := NewResilientClient(inner, fastConfig(), testLogger(), metrics.New())

	_, err := client.Complete(context.Background(), "prompt", 100)
	if !errors.Is(err, ErrNonRetryable) {
		t.Fatalf("expected ErrNonRetryable, got %v", err)
	}
	if calls := atomic.LoadInt32(&inner.completeCalls); calls != 1 {
		t.Fatalf("expected 1 attempt, got %d", calls)
	}
}

func TestRateLimitIsRetried(t *testing.T) {
	inner := &fakeClient{
		completeFn: func(ctx context.Context, prompt string, maxTokens int) (string, error) {
			return "", &apiError{StatusCode: 429, Body: "slow down"}
		},
	}
	client := NewResilientClient(inner, fastConfig(), testLogger(), metrics.New())

	_, err := client.Complete(context.Background(), "prompt", 100)
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("expected ErrRetriesExhausted, got %v", err)
	}
	if calls := atomic.LoadInt32(&inner.completeCalls); calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestCallerDeadlineReportsTimeout(t *testing.T) {
	inner := &fakeClient{
		embedFn: func(ctx context.Context, texts []string) ([][]float32, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	cfg := fastConfig()
	cfg.EmbedTimeout = 10 * time.Second
	client := NewResilientClient(inner, cfg, testLogger(), metrics.New())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.Embed(ctx, []string{"hello"})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestBreakerOpensAndFailsFast(t *testing.T) {
	inner := &fakeClient{
		embedFn: func(ctx context.Context, texts []string) ([][]float32, error) {
			return nil, &apiError{StatusCode: 500, Body: "boom"}
		},
	}
	cfg := fastConfig()
	cfg.MaxRetries = 0
	cfg.BreakerMinCalls = 2
	client := NewResilientClient(inner, cfg, testLogger(), metrics.New())

	for i := 0; i < 2; i++ {
		if _, err := client.Embed(context.Background(), []string{"hello"}); err == nil {
			t.Fatalf("expected failure on call %d", i)
		}
	}
	if state := client.BreakerStates()[OpEmbed]; state != "open" {
		t.Fatalf("expected open breaker, got %s", state)
	}

	before := atomic.LoadInt32(&inner.embedCalls)
	_, err := client.Embed(context.Background(), []string{"hello"})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if after := atomic.LoadInt32(&inner.embedCalls); after != before {
		t.Fatalf("open breaker still reached the service: %d -> %d", before, after)
	}
}

func TestBreakerRecoversAfterCooldown(t *testing.T) {
	var healthy atomic.Bool
	inner := &fakeClient{
		embedFn: func(ctx context.Context, texts []string) ([][]float32, error) {
			if !healthy.Load() {
				return nil, &apiError{StatusCode: 500, Body: "boom"}
			}
			return [][]float32{{1}}, nil
		},
	}
	cfg := fastConfig()
	cfg.MaxRetries = 0
	cfg.BreakerMinCalls = 2
	cfg.BreakerCooldown = 20 * time.Millisecond
	client := NewResilientClient(inner, cfg, testLogger(), metrics.New())

	for i := 0; i < 2; i++ {
		client.Embed(context.Background(), []string{"hello"})
	}
	if state := client.BreakerStates()[OpEmbed]; state != "open" {
		t.Fatalf("expected open breaker, got %s", state)
	}

	healthy.Store(true)
	time.Sleep(40 * time.Millisecond)

	if _, err := client.Embed(context.Background(), []string{"hello"}); err != nil {
		t.Fatalf("half-open trial call failed: %v", err)
	}
	if state := client.BreakerStates()[OpEmbed]; state != "closed" {
		t.Fatalf("expected closed breaker after recovery, got %s", state)
	}
}

func TestBreakerIgnoresNonTransientFailures(t *testing.T) {
	inner := &fakeClient{
		completeFn: func(ctx context.Context, prompt string, maxTokens int) (string, error) {
			return "", &apiError{StatusCode: 400, Body: "bad request"}
		},
	}
	cfg := fastConfig()
	cfg.MaxRetries = 0
	cfg.BreakerMinCalls = 2
	client := NewResilientClient(inner, cfg, testLogger(), metrics.New())

	for i := 0; i < 5; i++ {
		client.Complete(context.Background(), "prompt", 100)
	}
	if state := client.BreakerStates()[OpComplete]; state != "closed" {
		t.Fatalf("bad-input failures tripped the breaker: %s", state)
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, true},
		{"invalid input", errInvalidInput, false},
		{"server error", &apiError{StatusCode: 500}, true},
		{"rate limited", &apiError{StatusCode: 429}, true},
		{"request timeout", &apiError{StatusCode: 408}, true},
		{"unauthorized", &apiError{StatusCode: 401}, false},
		{"bad request", &apiError{StatusCode: 400}, false},
		{"transport", errors.New("connection refused"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isTransient(tt.err); got != tt.want {
				t.Fatalf("isTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestBreakerGaugeExportedBeforeFirstTransition(t *testing.T) {
	m := metrics.New()
	inner := &fakeClient{}
	NewResilientClient(inner, fastConfig(), testLogger(), m)

	// Both operations export a gauge child immediately, each at 0 (closed).
	if n := testutil.CollectAndCount(m.BreakerState); n != 2 {
		t.Fatalf("expected 2 breaker gauge series, got %d", n)
	}
	if v := testutil.ToFloat64(m.BreakerState.WithLabelValues(OpEmbed)); v != 0 {
		t.Fatalf("embed breaker gauge = %v, want 0", v)
	}
	if v := testutil.ToFloat64(m.BreakerState.WithLabelValues(OpComplete)); v != 0 {
		t.Fatalf("complete breaker gauge = %v, want 0", v)
	}
}
