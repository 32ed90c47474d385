package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"trendpulse/internal/cache"
	"trendpulse/internal/cluster"
	"trendpulse/internal/domain/trend"
	"trendpulse/internal/metrics"
	"trendpulse/internal/score"
	"trendpulse/internal/synth"
)

// Embedder is the slice of the text-service client the runner needs for the
// embedding stage.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	BreakerStates() map[string]string
}

// Config tunes one pipeline run.
type Config struct {
	// RunBudget bounds the wall clock of a whole run. Work still pending
	// when it expires degrades instead of extending the run.
	RunBudget    time.Duration
	SynthWorkers int
	// SynthBatchSize above 1 routes synthesis through batched completion
	// calls instead of the concurrent per-cluster baseline.
	SynthBatchSize int
}

// DefaultConfig returns the production run limits.
func DefaultConfig() Config {
	return Config{
		RunBudget:      60 * time.Second,
		SynthWorkers:   4,
		SynthBatchSize: 1,
	}
}

// Runner drives one batch of posts through embedding, clustering, synthesis,
// scoring, and a single transactional commit. A run degrades on text-service
// trouble but only fails on storage errors.
type Runner struct {
	embedder    Embedder
	cache       cache.ResponseCache
	synthesizer *synth.Synthesizer
	scorer      *score.Engine
	store       trend.Store
	publisher   trend.Publisher
	clusterCfg  cluster.Config
	cfg         Config
	logger      *logrus.Entry
	metrics     *metrics.Metrics
}

// NewRunner creates a pipeline runner.
func NewRunner(
	embedder Embedder,
	responseCache cache.ResponseCache,
	synthesizer *synth.Synthesizer,
	scorer *score.Engine,
	store trend.Store,
	publisher trend.Publisher,
	clusterCfg cluster.Config,
	cfg Config,
	logger *logrus.Entry,
	m *metrics.Metrics,
) *Runner {
	if cfg.RunBudget <= 0 {
		cfg.RunBudget = DefaultConfig().RunBudget
	}
	if cfg.SynthWorkers < 1 {
		cfg.SynthWorkers = 1
	}
	if cfg.SynthBatchSize < 1 {
		cfg.SynthBatchSize = 1
	}
	return &Runner{
		embedder:    embedder,
		cache:       responseCache,
		synthesizer: synthesizer,
		scorer:      scorer,
		store:       store,
		publisher:   publisher,
		clusterCfg:  clusterCfg,
		cfg:         cfg,
		logger:      logger,
		metrics:     m,
	}
}

// RunOnce processes one batch of post bundles into committed trends.
func (r *Runner) RunOnce(ctx context.Context, batch []trend.PostBundle) (trend.RunResult, error) {
	start := time.Now()
	result := trend.RunResult{
		RunID: uuid.New().String(),
		State: trend.StateCollecting,
	}
	log := r.logger.WithField("run_id", result.RunID)

	ctx, cancel := context.WithTimeout(ctx, r.cfg.RunBudget)
	defer cancel()

	defer func() {
		result.Duration = time.Since(start)
		result.BreakerStates = r.embedder.BreakerStates()
		r.metrics.RunsTotal.WithLabelValues(string(result.State)).Inc()
		r.metrics.RunDuration.Observe(result.Duration.Seconds())
	}()

	if len(batch) == 0 {
		result.State = trend.StateCommitted
		log.Info("No posts to process")
		return result, nil
	}
	log.WithField("posts", len(batch)).Info("Pipeline run started")

	result.State = trend.StateEmbedding
	included, vectors, excluded := r.embedStage(ctx, log, batch)
	result.ExcludedPosts = excluded
	r.metrics.PostsExcluded.Add(float64(len(excluded)))
	if len(included) == 0 {
		result.State = trend.StateCommitted
		log.WithField("excluded", len(excluded)).Warn("No posts survived embedding")
		return result, nil
	}

	result.State = trend.StateClustering
	groups := cluster.Partition(vectors, r.clusterCfg)

	result.State = trend.StateSynthesizing
	synthResults := r.synthStage(ctx, groups, included)

	result.State = trend.StateScoring
	now := time.Now()
	trends := make([]trend.Trend, 0, len(groups))
	links := make([]trend.PostTrend, 0, len(included))
	scores := make([]trend.TrendScore, 0, len(groups))
	trendScores := make(map[string]float64, len(groups))
	for gi, group := range groups {
		// A cluster without synthesized or fallback text never becomes a
		// trend; empty descriptions are not persisted.
		if synthResults[gi].Title == "" || synthResults[gi].Description == "" {
			log.WithField("cluster", gi).Error("Cluster has no trend text, skipping")
			continue
		}

		members := make([]trend.PostBundle, len(group))
		for mi, idx := range group {
			members[mi] = included[idx]
		}

		t := trend.Trend{
			ID:          uuid.New().String(),
			Title:       synthResults[gi].Title,
			Description: synthResults[gi].Description,
			Degraded:    synthResults[gi].Degraded,
			TotalPosts:  len(members),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		s := r.scorer.Score(members)

		trends = append(trends, t)
		trendScores[t.ID] = s
		scores = append(scores, trend.TrendScore{TrendID: t.ID, Score: s, GeneratedAt: now})
		for _, m := range members {
			links = append(links, trend.PostTrend{PostID: m.Post.ID, TrendID: t.ID, CreatedAt: now})
		}
	}

	// Commit runs on a fresh context so an exhausted run budget never
	// leaves finished work uncommitted.
	commitCtx, commitCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer commitCancel()
	if err := r.store.CommitRun(commitCtx, trends, links, scores); err != nil {
		return result, fmt.Errorf("error committing run: %w", err)
	}
	result.State = trend.StateCommitted
	result.Trends = trends
	result.TrendsCreated = len(trends)
	r.metrics.TrendsCreated.Add(float64(len(trends)))

	degraded := make([]string, 0)
	for _, t := range trends {
		if t.Degraded {
			degraded = append(degraded, t.ID)
		}
		if err := r.publisher.TrendCreated(t, trendScores[t.ID]); err != nil {
			log.WithError(err).WithField("trend_id", t.ID).Warn("Failed to publish trend event")
		}
	}
	result.TrendsDegraded = len(degraded)
	r.metrics.TrendsDegraded.Add(float64(len(degraded)))
	if len(degraded) > 0 {
		if err := r.publisher.RequeueDegraded(degraded); err != nil {
			log.WithError(err).Warn("Failed to requeue degraded trends")
		}
	}

	log.WithFields(logrus.Fields{
		"trends":   result.TrendsCreated,
		"degraded": result.TrendsDegraded,
		"excluded": len(result.ExcludedPosts),
		"duration": time.Since(start).String(),
	}).Info("Pipeline run committed")

	return result, nil
}

// embedStage resolves one vector per post, cache first, then one batched
// call for the misses. If the batch call fails it falls back to per-text
// calls so a bad input only excludes its own post. Returns the surviving
// bundles, their vectors in the same order, and excluded external post IDs.
func (r *Runner) embedStage(ctx context.Context, log *logrus.Entry, batch []trend.PostBundle) ([]trend.PostBundle, [][]float32, []string) {
	fingerprints := make([]string, len(batch))
	vectors := make([][]float32, len(batch))
	resolved := make(map[string][]float32)

	missTexts := make([]string, 0)
	missFPs := make([]string, 0)
	for i, b := range batch {
		fp := cache.TextFingerprint(b.Post.Content)
		fingerprints[i] = fp
		if _, ok := resolved[fp]; ok {
			continue
		}
		if v, ok := r.cache.GetEmbedding(ctx, fp); ok {
			resolved[fp] = v
			continue
		}
		resolved[fp] = nil
		missTexts = append(missTexts, b.Post.Content)
		missFPs = append(missFPs, fp)
	}

	if len(missTexts) > 0 {
		embedded, err := r.embedder.Embed(ctx, missTexts)
		if err == nil {
			for i, fp := range missFPs {
				resolved[fp] = embedded[i]
				r.cache.PutEmbedding(ctx, fp, embedded[i])
			}
		} else {
			log.WithError(err).WithField("texts", len(missTexts)).Warn("Batched embedding failed, retrying per post")
			for i, fp := range missFPs {
				single, err := r.embedder.Embed(ctx, missTexts[i:i+1])
				if err != nil {
					continue
				}
				resolved[fp] = single[0]
				r.cache.PutEmbedding(ctx, fp, single[0])
			}
		}
	}

	included := make([]trend.PostBundle, 0, len(batch))
	vectors = vectors[:0]
	excluded := make([]string, 0)
	for i, b := range batch {
		v := resolved[fingerprints[i]]
		if v == nil {
			excluded = append(excluded, b.Post.ExternalID)
			continue
		}
		included = append(included, b)
		vectors = append(vectors, v)
	}
	return included, vectors, excluded
}

// synthStage produces one synthesis result per group. The baseline fans out
// over a bounded worker pool; batch mode packs clusters into fewer calls.
// Either way a result always comes back for every group, degraded at worst.
func (r *Runner) synthStage(ctx context.Context, groups [][]int, included []trend.PostBundle) []synth.Result {
	clusters := make([][]string, len(groups))
	for gi, group := range groups {
		texts := make([]string, len(group))
		for mi, idx := range group {
			texts[mi] = included[idx].Post.Content
		}
		clusters[gi] = texts
	}

	if r.cfg.SynthBatchSize > 1 {
		results, errs := r.synthesizer.SynthesizeBatch(ctx, clusters)
		for gi, err := range errs {
			if err != nil {
				r.logger.WithError(err).WithField("cluster", gi).Error("Cluster synthesis failed")
			}
		}
		return results
	}

	results := make([]synth.Result, len(groups))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.SynthWorkers)
	for gi := range clusters {
		gi := gi
		g.Go(func() error {
			res, err := r.synthesizer.Synthesize(gctx, clusters[gi])
			if err != nil {
				r.logger.WithError(err).WithField("cluster", gi).Error("Cluster synthesis failed")
				return nil
			}
			results[gi] = res
			return nil
		})
	}
	g.Wait()
	return results
}

// RegenerateDescriptions retries synthesis for trends committed with a
// fallback description. A description is replaced only when the fresh
// attempt is not itself degraded; each replacement is announced with the
// trend's latest persisted score.
func (r *Runner) RegenerateDescriptions(ctx context.Context, trendIDs []string) error {
	for _, id := range trendIDs {
		t, err := r.store.GetTrend(ctx, id)
		if err != nil {
			return fmt.Errorf("error loading trend %s: %w", id, err)
		}
		if t == nil || !t.Degraded {
			continue
		}

		posts, err := r.store.GetTrendPosts(ctx, id)
		if err != nil {
			return fmt.Errorf("error loading posts for trend %s: %w", id, err)
		}
		if len(posts) == 0 {
			continue
		}
		texts := make([]string, len(posts))
		for i, p := range posts {
			texts[i] = p.Content
		}

		res, err := r.synthesizer.Synthesize(ctx, texts)
		if err != nil {
			return fmt.Errorf("error regenerating trend %s: %w", id, err)
		}
		if res.Degraded {
			r.logger.WithField("trend_id", id).Info("Regeneration still degraded, keeping fallback")
			continue
		}

		if err := r.store.UpdateDescription(ctx, id, res.Description, false); err != nil {
			return fmt.Errorf("error updating trend %s: %w", id, err)
		}
		r.logger.WithField("trend_id", id).Info("Regenerated degraded description")

		latest, err := r.store.LatestScore(ctx, id)
		if err != nil {
			r.logger.WithError(err).WithField("trend_id", id).Warn("Failed to load latest score")
			latest = 0
		}
		t.Description = res.Description
		t.Degraded = false
		if err := r.publisher.TrendUpdated(*t, latest); err != nil {
			r.logger.WithError(err).WithField("trend_id", id).Warn("Failed to publish trend update")
		}
	}
	return nil
}
