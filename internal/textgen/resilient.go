package textgen

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/sirupsen/logrus"

	"trendpulse/internal/metrics"
)

// Operation names used for breakers, metrics, and RunResult snapshots.
const (
	OpEmbed    = "embed"
	OpComplete = "complete"
)

// ResilientConfig tunes the retry and circuit-breaker wrapping.
type ResilientConfig struct {
	// EmbedTimeout bounds one embedding attempt.
	EmbedTimeout time.Duration
	// CompleteTimeout bounds one completion attempt. Kept aggressive so the
	// pipeline falls back fast instead of waiting out a slow generation.
	CompleteTimeout time.Duration

	// MaxRetries is retries after the first attempt (2 retries = 3 attempts).
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	// BreakerRatio is the failure ratio that opens the circuit.
	BreakerRatio float64
	// BreakerMinCalls is the sample size the ratio is evaluated over.
	BreakerMinCalls int
	// BreakerCooldown is how long the circuit stays open before one
	// half-open trial call is allowed.
	BreakerCooldown time.Duration
}

// DefaultResilientConfig mirrors production policy: 3 attempts backing off
// 1s then 2s under a 4s delay cap, and a 50% breaker over 10 calls with a
// 30s cooldown.
func DefaultResilientConfig() ResilientConfig {
	return ResilientConfig{
		EmbedTimeout:    30 * time.Second,
		CompleteTimeout: 15 * time.Second,
		MaxRetries:      2,
		RetryBaseDelay:  1 * time.Second,
		RetryMaxDelay:   4 * time.Second,
		BreakerRatio:    0.5,
		BreakerMinCalls: 10,
		BreakerCooldown: 30 * time.Second,
	}
}

func normalizeResilientConfig(cfg ResilientConfig) ResilientConfig {
	def := DefaultResilientConfig()
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = def.EmbedTimeout
	}
	if cfg.CompleteTimeout <= 0 {
		cfg.CompleteTimeout = def.CompleteTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = def.RetryBaseDelay
	}
	if cfg.RetryMaxDelay < cfg.RetryBaseDelay {
		cfg.RetryMaxDelay = cfg.RetryBaseDelay
	}
	if cfg.BreakerRatio <= 0 || cfg.BreakerRatio > 1 {
		cfg.BreakerRatio = def.BreakerRatio
	}
	if cfg.BreakerMinCalls <= 0 {
		cfg.BreakerMinCalls = def.BreakerMinCalls
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = def.BreakerCooldown
	}
	return cfg
}

// ResilientClient wraps a raw Client with per-operation timeout, bounded
// retry with exponential backoff, and a circuit breaker per operation. It is
// the only process-wide holder of breaker state and is safe for concurrent
// use across pipeline runs.
type ResilientClient struct {
	inner   Client
	cfg     ResilientConfig
	logger  *logrus.Entry
	metrics *metrics.Metrics

	embedBreaker    circuitbreaker.CircuitBreaker[any]
	completeBreaker circuitbreaker.CircuitBreaker[any]
	embedExec       failsafe.Executor[any]
	completeExec    failsafe.Executor[any]
}

// NewResilientClient wraps inner with the retry and breaker policies.
func NewResilientClient(inner Client, cfg ResilientConfig, logger *logrus.Entry, m *metrics.Metrics) *ResilientClient {
	cfg = normalizeResilientConfig(cfg)

	c := &ResilientClient{
		inner:   inner,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
	}
	c.embedBreaker = c.newBreaker(OpEmbed)
	c.completeBreaker = c.newBreaker(OpComplete)
	c.embedExec = failsafe.With(c.newRetryPolicy(), c.embedBreaker)
	c.completeExec = failsafe.With(c.newRetryPolicy(), c.completeBreaker)

	// Export the closed state up front so the gauge exists before the first
	// transition.
	m.BreakerState.WithLabelValues(OpEmbed).Set(stateGauge(c.embedBreaker.State()))
	m.BreakerState.WithLabelValues(OpComplete).Set(stateGauge(c.completeBreaker.State()))
	return c
}

func (c *ResilientClient) newRetryPolicy() retrypolicy.RetryPolicy[any] {
	return retrypolicy.NewBuilder[any]().
		WithBackoff(c.cfg.RetryBaseDelay, c.cfg.RetryMaxDelay).
		WithMaxRetries(c.cfg.MaxRetries).
		WithJitterFactor(0.1).
		HandleIf(func(_ any, err error) bool {
			return isTransient(err) && !errors.Is(err, circuitbreaker.ErrOpen)
		}).
		ReturnLastFailure().
		Build()
}

func (c *ResilientClient) newBreaker(operation string) circuitbreaker.CircuitBreaker[any] {
	failureThreshold := uint(float64(c.cfg.BreakerMinCalls) * c.cfg.BreakerRatio)
	if failureThreshold < 1 {
		failureThreshold = 1
	}
	return circuitbreaker.NewBuilder[any]().
		WithFailureThresholdRatio(failureThreshold, uint(c.cfg.BreakerMinCalls)).
		WithDelay(c.cfg.BreakerCooldown).
		WithSuccessThreshold(1).
		HandleIf(func(_ any, err error) bool {
			return isTransient(err)
		}).
		OnStateChanged(func(event circuitbreaker.StateChangedEvent) {
			to := stateString(event.NewState)
			c.logger.WithFields(logrus.Fields{
				"operation":  operation,
				"from_state": stateString(event.OldState),
				"to_state":   to,
			}).Warn("text service circuit breaker state change")
			c.metrics.BreakerState.WithLabelValues(operation).Set(stateGauge(event.NewState))
		}).
		Build()
}

// Embed calls the embedding endpoint through the retry and breaker policies.
func (c *ResilientClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	result, err := c.embedExec.WithContext(ctx).Get(func() (any, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.EmbedTimeout)
		defer cancel()
		vectors, embedErr := c.inner.Embed(attemptCtx, texts)
		if embedErr != nil {
			return nil, embedErr
		}
		return vectors, nil
	})
	err = c.finish(ctx, OpEmbed, start, err)
	if err != nil {
		return nil, err
	}
	return result.([][]float32), nil
}

// Complete calls the completion endpoint through the retry and breaker
// policies.
func (c *ResilientClient) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	start := time.Now()
	result, err := c.completeExec.WithContext(ctx).Get(func() (any, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.CompleteTimeout)
		defer cancel()
		text, completeErr := c.inner.Complete(attemptCtx, prompt, maxTokens)
		if completeErr != nil {
			return nil, completeErr
		}
		return text, nil
	})
	err = c.finish(ctx, OpComplete, start, err)
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// BreakerStates reports the current circuit state per operation.
func (c *ResilientClient) BreakerStates() map[string]string {
	return map[string]string{
		OpEmbed:    stateString(c.embedBreaker.State()),
		OpComplete: stateString(c.completeBreaker.State()),
	}
}

// finish records the call outcome and maps the executor error to the public
// taxonomy. Recording happens for short-circuited calls too.
func (c *ResilientClient) finish(ctx context.Context, operation string, start time.Time, err error) error {
	latency := time.Since(start)
	classified := c.classify(ctx, err)

	c.metrics.TextGenLatency.WithLabelValues(operation).Observe(latency.Seconds())
	c.metrics.TextGenCalls.WithLabelValues(operation, resultLabel(classified)).Inc()

	entry := c.logger.WithFields(logrus.Fields{
		"operation":  operation,
		"latency_ms": latency.Milliseconds(),
	})
	if classified != nil {
		entry.WithField("result", resultLabel(classified)).WithError(classified).Warn("text service call failed")
	} else {
		entry.Debug("text service call succeeded")
	}
	return classified
}

func (c *ResilientClient) classify(ctx context.Context, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, circuitbreaker.ErrOpen):
		return fmt.Errorf("%w: %w", ErrCircuitOpen, err)
	case ctx.Err() != nil:
		// The caller's deadline (run budget) expired, as opposed to a
		// per-attempt timeout that exhausted its retries.
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	case !isTransient(err):
		return fmt.Errorf("%w: %w", ErrNonRetryable, err)
	default:
		return fmt.Errorf("%w: %w", ErrRetriesExhausted, err)
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrNonRetryable):
		return "non_retryable"
	default:
		return "retries_exhausted"
	}
}

func stateString(state circuitbreaker.State) string {
	switch state {
	case circuitbreaker.ClosedState:
		return "closed"
	case circuitbreaker.HalfOpenState:
		return "half-open"
	case circuitbreaker.OpenState:
		return "open"
	default:
		return "unknown"
	}
}

func stateGauge(state circuitbreaker.State) float64 {
	switch state {
	case circuitbreaker.HalfOpenState:
		return 1
	case circuitbreaker.OpenState:
		return 2
	default:
		return 0
	}
}
