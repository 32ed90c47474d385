// cmd/pipeline/main.go

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"trendpulse/internal/adapter/source"
	"trendpulse/internal/adapter/storage"
	"trendpulse/internal/cache"
	"trendpulse/internal/cluster"
	"trendpulse/internal/config"
	"trendpulse/internal/events"
	"trendpulse/internal/logging"
	"trendpulse/internal/metrics"
	"trendpulse/internal/pipeline"
	"trendpulse/internal/score"
	"trendpulse/internal/server"
	"trendpulse/internal/synth"
	"trendpulse/internal/textgen"
)

func main() {
	runOnce := flag.Bool("once", false, "collect and process one batch, then exit")
	flag.Parse()

	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	logger := logging.New()
	log := logging.WithService(logger, "pipeline")

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	db, err := initDatabase(ctx, cfg.Database)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize database")
	}
	defer db.Close()

	natsConn, err := initNATS(cfg.NATS, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to NATS")
	}
	defer natsConn.Close()

	var rdb *redis.Client
	if cfg.Cache.Backend == "redis" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
	}

	m := metrics.New()

	responseCache, err := cache.New(cache.Options{
		Backend:        cfg.Cache.Backend,
		EmbeddingTTL:   cfg.Cache.EmbeddingTTL,
		DescriptionTTL: cfg.Cache.DescriptionTTL,
		MaxEntries:     cfg.Cache.MaxEntries,
	}, rdb, logging.WithService(logger, "cache"), m)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize response cache")
	}

	openaiClient := textgen.NewOpenAIClient(textgen.OpenAIConfig{
		APIKey:          cfg.TextGen.APIKey,
		APIURL:          cfg.TextGen.APIURL,
		EmbeddingModel:  cfg.TextGen.EmbeddingModel,
		CompletionModel: cfg.TextGen.CompletionModel,
	})
	textClient := textgen.NewResilientClient(openaiClient, textgen.ResilientConfig{
		EmbedTimeout:    cfg.TextGen.EmbedTimeout,
		CompleteTimeout: cfg.TextGen.CompleteTimeout,
		MaxRetries:      cfg.TextGen.MaxRetries,
		RetryBaseDelay:  cfg.TextGen.RetryBaseDelay,
		RetryMaxDelay:   cfg.TextGen.RetryMaxDelay,
		BreakerRatio:    cfg.TextGen.BreakerRatio,
		BreakerMinCalls: cfg.TextGen.BreakerMinCalls,
		BreakerCooldown: cfg.TextGen.BreakerCooldown,
	}, logging.WithService(logger, "textgen"), m)

	trendStore := storage.NewTrendStore(db)
	postStore := storage.NewPostStore(db)

	publisher := events.NewPublisher(natsConn, events.PublisherConfig{
		EventsTopic: cfg.NATS.EventsTopic,
		RetryTopic:  cfg.Pipeline.RetryTopic,
	})

	synthesizer := synth.New(textClient, responseCache, synth.Config{
		MaxPostsPerPrompt: cfg.Synth.MaxPostsPerPrompt,
		MaxExcerptLen:     cfg.Synth.MaxExcerptLen,
		MaxOutputTokens:   cfg.Synth.MaxOutputTokens,
		MaxBatchSize:      cfg.Synth.MaxBatchSize,
	}, logging.WithService(logger, "synth"))

	scorer := score.NewEngine(score.Weights{
		Like:    cfg.Score.LikeWeight,
		Comment: cfg.Score.CommentWeight,
		Repost:  cfg.Score.RepostWeight,
		Scale:   cfg.Score.ScaleFactor,
	})

	runner := pipeline.NewRunner(
		textClient,
		responseCache,
		synthesizer,
		scorer,
		trendStore,
		publisher,
		cluster.Config{
			MinClusters: cfg.Cluster.MinClusters,
			MaxClusters: cfg.Cluster.MaxClusters,
			Seed:        cfg.Cluster.Seed,
			MaxIter:     cfg.Cluster.MaxIter,
		},
		pipeline.Config{
			RunBudget:      cfg.Pipeline.RunBudget,
			SynthWorkers:   cfg.Pipeline.SynthWorkers,
			SynthBatchSize: cfg.Synth.MaxBatchSize,
		},
		log,
		m,
	)

	twitterSource, err := source.NewTwitterSource(source.TwitterConfig{
		BearerToken: cfg.Twitter.BearerToken,
		SearchTerms: cfg.Twitter.SearchTerms,
		MaxResults:  cfg.Twitter.MaxResults,
	}, logging.WithService(logger, "twitter"))
	if err != nil && *runOnce {
		log.WithError(err).Fatal("Failed to initialize post source")
	}
	if err != nil {
		log.WithError(err).Warn("Post source unavailable, runs must be triggered over NATS")
	}

	if *runOnce {
		if err := runBatch(ctx, runner, twitterSource, postStore, log); err != nil {
			log.WithError(err).Fatal("Pipeline run failed")
		}
		return
	}

	// Degraded descriptions requeue themselves on the retry subject; pick
	// them up out of band so commits never wait on regeneration.
	retrySub, err := natsConn.Subscribe(cfg.Pipeline.RetryTopic, func(msg *nats.Msg) {
		trendIDs, err := events.DecodeRetryEvent(msg.Data)
		if err != nil {
			log.WithError(err).Warn("Dropping malformed retry event")
			return
		}
		retryCtx, retryCancel := context.WithTimeout(ctx, cfg.Pipeline.RunBudget)
		defer retryCancel()
		if err := runner.RegenerateDescriptions(retryCtx, trendIDs); err != nil {
			log.WithError(err).Warn("Description regeneration failed")
		}
	})
	if err != nil {
		log.WithError(err).Fatal("Failed to subscribe to retry subject")
	}
	defer retrySub.Unsubscribe()

	runSub, err := natsConn.Subscribe(cfg.NATS.EventsTopic+".run", func(msg *nats.Msg) {
		if err := runBatch(ctx, runner, twitterSource, postStore, log); err != nil {
			log.WithError(err).Error("Pipeline run failed")
		}
	})
	if err != nil {
		log.WithError(err).Fatal("Failed to subscribe to run subject")
	}
	defer runSub.Unsubscribe()

	// Trends left degraded by earlier runs get one regeneration sweep at
	// startup; later ones arrive over the retry subject.
	go func() {
		ids, err := trendStore.FindDegraded(ctx, 100)
		if err != nil {
			log.WithError(err).Warn("Degraded trend sweep failed")
			return
		}
		if len(ids) == 0 {
			return
		}
		sweepCtx, sweepCancel := context.WithTimeout(ctx, cfg.Pipeline.RunBudget)
		defer sweepCancel()
		if err := runner.RegenerateDescriptions(sweepCtx, ids); err != nil {
			log.WithError(err).Warn("Description regeneration failed")
		}
	}()

	opsServer := server.New(cfg.Server, db, natsConn, rdb, m, logging.WithService(logger, "ops"))
	go func() {
		if err := opsServer.Start(); err != nil {
			// Not Fatal: os.Exit here would skip the deferred connection
			// cleanup. Feed the shutdown path instead.
			log.WithError(err).Error("Ops server failed")
			shutdown <- syscall.SIGTERM
		}
	}()

	<-shutdown
	log.Info("Shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Ops server shutdown error")
	}
	log.Info("Shutdown complete")
}

// runBatch collects recent posts, persists them, and drives one pipeline run
// over everything still unprocessed.
func runBatch(ctx context.Context, runner *pipeline.Runner, src *source.TwitterSource, posts *storage.PostStore, log *logrus.Entry) error {
	if src != nil {
		bundles, err := src.FetchRecent(ctx)
		if err != nil {
			return fmt.Errorf("error collecting posts: %w", err)
		}
		for _, b := range bundles {
			authorID, err := posts.UpsertAuthor(ctx, b.Author)
			if err != nil {
				return fmt.Errorf("error storing author: %w", err)
			}
			b.Post.AuthorID = authorID
			postID, err := posts.InsertPost(ctx, b.Post)
			if err != nil {
				return fmt.Errorf("error storing post: %w", err)
			}
			b.Engagement.PostID = postID
			if err := posts.AddEngagement(ctx, b.Engagement); err != nil {
				return fmt.Errorf("error storing engagement: %w", err)
			}
		}
	}

	batch, err := posts.FetchUnprocessed(ctx, 500)
	if err != nil {
		return fmt.Errorf("error fetching unprocessed posts: %w", err)
	}

	result, err := runner.RunOnce(ctx, batch)
	if err != nil {
		return err
	}
	log.WithField("run_id", result.RunID).WithField("trends", result.TrendsCreated).Info("Run finished")
	return nil
}

// Initialize database connection
func initDatabase(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	connString := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.MaxLifetime

	db, err := pgxpool.ConnectConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	if err := db.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return db, nil
}

// Initialize NATS connection
func initNATS(cfg config.NATSConfig, log *logrus.Entry) (*nats.Conn, error) {
	options := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.WithError(err).Warn("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.WithField("url", nc.ConnectedUrl()).Info("NATS reconnected")
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Info("NATS connection closed")
		}),
	}

	nc, err := nats.Connect(cfg.URL, options...)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to NATS: %w", err)
	}

	return nc, nil
}
