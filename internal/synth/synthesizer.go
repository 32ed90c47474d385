package synth

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"trendpulse/internal/cache"
)

// Completer is the slice of the text-service client synthesis needs.
type Completer interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// Result is one cluster's synthesized trend text. Degraded marks a template
// fallback that should be regenerated out of band.
type Result struct {
	Title       string
	Description string
	Degraded    bool
}

// Config tunes prompt and batching limits.
type Config struct {
	MaxPostsPerPrompt int
	MaxExcerptLen     int
	MaxOutputTokens   int
	// MaxBatchSize above 1 packs several clusters into one completion call.
	// 1 keeps the per-cluster baseline.
	MaxBatchSize int
}

// DefaultConfig returns the production limits with batching off.
func DefaultConfig() Config {
	return Config{
		MaxPostsPerPrompt: 20,
		MaxExcerptLen:     200,
		MaxOutputTokens:   500,
		MaxBatchSize:      1,
	}
}

// Synthesizer turns clusters of post texts into trend titles and
// descriptions, consulting the response cache before any external call and
// degrading to template text on any client failure. Cluster-to-trend
// creation never blocks on synthesis success.
type Synthesizer struct {
	client Completer
	cache  cache.ResponseCache
	cfg    Config
	logger *logrus.Entry
}

// New creates a synthesizer.
func New(client Completer, responseCache cache.ResponseCache, cfg Config, logger *logrus.Entry) *Synthesizer {
	if cfg.MaxPostsPerPrompt <= 0 {
		cfg.MaxPostsPerPrompt = DefaultConfig().MaxPostsPerPrompt
	}
	if cfg.MaxExcerptLen <= 0 {
		cfg.MaxExcerptLen = DefaultConfig().MaxExcerptLen
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = DefaultConfig().MaxOutputTokens
	}
	if cfg.MaxBatchSize < 1 {
		cfg.MaxBatchSize = 1
	}
	return &Synthesizer{
		client: client,
		cache:  responseCache,
		cfg:    cfg,
		logger: logger,
	}
}

// Synthesize produces trend text for one cluster. The only error returned is
// a zero-member cluster, which is a programming error; text-service failures
// come back as a degraded Result with a nil error.
func (s *Synthesizer) Synthesize(ctx context.Context, texts []string) (Result, error) {
	if len(texts) == 0 {
		return Result{}, fmt.Errorf("cluster has zero members")
	}

	fingerprint := cache.ClusterFingerprint(texts)
	if cached, ok := s.cache.GetDescription(ctx, fingerprint); ok {
		return Result{Title: cached.Title, Description: cached.Description}, nil
	}

	prompt := clusterPrompt(texts, s.cfg.MaxPostsPerPrompt, s.cfg.MaxExcerptLen)
	raw, err := s.client.Complete(ctx, prompt, s.cfg.MaxOutputTokens)
	if err != nil {
		s.logger.WithError(err).Debug("synthesis call failed, using fallback")
		return fallbackResult(texts), nil
	}

	title, description, err := parseSynthesis(raw)
	if err != nil {
		s.logger.WithError(err).Warn("synthesis output malformed, using fallback")
		return fallbackResult(texts), nil
	}

	result := Result{Title: title, Description: description}
	s.cache.PutDescription(ctx, fingerprint, cache.Description{Title: title, Description: description})
	return result, nil
}

// SynthesizeBatch produces trend text for several clusters, packing up to
// MaxBatchSize uncached clusters per completion call. Any demux mismatch
// drops the whole chunk back to per-cluster calls. Results align with the
// input clusters; a zero-member cluster yields an error at its index and a
// zero Result.
func (s *Synthesizer) SynthesizeBatch(ctx context.Context, clusters [][]string) ([]Result, []error) {
	results := make([]Result, len(clusters))
	errs := make([]error, len(clusters))

	if s.cfg.MaxBatchSize <= 1 {
		for i, texts := range clusters {
			results[i], errs[i] = s.Synthesize(ctx, texts)
		}
		return results, errs
	}

	// Serve cache hits and invariant failures first; batch the rest.
	pending := make([]int, 0, len(clusters))
	for i, texts := range clusters {
		if len(texts) == 0 {
			errs[i] = fmt.Errorf("cluster has zero members")
			continue
		}
		if cached, ok := s.cache.GetDescription(ctx, cache.ClusterFingerprint(texts)); ok {
			results[i] = Result{Title: cached.Title, Description: cached.Description}
			continue
		}
		pending = append(pending, i)
	}

	for start := 0; start < len(pending); start += s.cfg.MaxBatchSize {
		end := start + s.cfg.MaxBatchSize
		if end > len(pending) {
			end = len(pending)
		}
		chunk := pending[start:end]
		s.synthesizeChunk(ctx, clusters, chunk, results)
	}
	return results, errs
}

func (s *Synthesizer) synthesizeChunk(ctx context.Context, clusters [][]string, chunk []int, results []Result) {
	chunkClusters := make([][]string, len(chunk))
	for i, idx := range chunk {
		chunkClusters[i] = clusters[idx]
	}

	raw, err := s.client.Complete(ctx, batchPrompt(chunkClusters, s.cfg.MaxPostsPerPrompt, s.cfg.MaxExcerptLen), s.cfg.MaxOutputTokens*len(chunk))
	if err == nil {
		if demuxed, demuxErr := parseBatchSynthesis(raw, len(chunk)); demuxErr == nil {
			for i, idx := range chunk {
				results[idx] = demuxed[i]
				s.cache.PutDescription(ctx, cache.ClusterFingerprint(clusters[idx]), cache.Description{
					Title:       demuxed[i].Title,
					Description: demuxed[i].Description,
				})
			}
			return
		} else {
			s.logger.WithError(demuxErr).Warn("batch synthesis demux failed, retrying per cluster")
		}
	}

	// Batch call failed or could not be demuxed: per-cluster baseline.
	for _, idx := range chunk {
		result, synthErr := s.Synthesize(ctx, clusters[idx])
		if synthErr != nil {
			// Zero-member clusters were already filtered above.
			result = fallbackResult(clusters[idx])
		}
		results[idx] = result
	}
}

type synthesisPayload struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type batchPayload struct {
	Trends []struct {
		Cluster     int    `json:"cluster"`
		Title       string `json:"title"`
		Description string `json:"description"`
	} `json:"trends"`
}

// parseSynthesis extracts {title, description} from a completion response,
// tolerating markdown code fences around the JSON.
func parseSynthesis(raw string) (string, string, error) {
	var payload synthesisPayload
	if err := json.Unmarshal([]byte(extractJSON(raw)), &payload); err != nil {
		return "", "", fmt.Errorf("parse synthesis output: %w", err)
	}
	title := strings.TrimSpace(payload.Title)
	description := strings.TrimSpace(payload.Description)
	if title == "" || description == "" {
		return "", "", fmt.Errorf("synthesis output missing title or description")
	}
	return title, description, nil
}

// parseBatchSynthesis demuxes a batch completion by the echoed cluster index.
func parseBatchSynthesis(raw string, want int) ([]Result, error) {
	var payload batchPayload
	if err := json.Unmarshal([]byte(extractJSON(raw)), &payload); err != nil {
		return nil, fmt.Errorf("parse batch output: %w", err)
	}
	if len(payload.Trends) != want {
		return nil, fmt.Errorf("batch output has %d trends for %d clusters", len(payload.Trends), want)
	}

	results := make([]Result, want)
	seen := make(map[int]bool, want)
	for _, t := range payload.Trends {
		title := strings.TrimSpace(t.Title)
		description := strings.TrimSpace(t.Description)
		if t.Cluster < 0 || t.Cluster >= want || seen[t.Cluster] || title == "" || description == "" {
			return nil, fmt.Errorf("batch output entry for cluster %d is invalid", t.Cluster)
		}
		seen[t.Cluster] = true
		results[t.Cluster] = Result{Title: title, Description: description}
	}
	return results, nil
}

// extractJSON strips code fences and surrounding prose from a model reply.
func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if i := strings.Index(raw, "{"); i >= 0 {
		if j := strings.LastIndex(raw, "}"); j > i {
			return raw[i : j+1]
		}
	}
	return raw
}
