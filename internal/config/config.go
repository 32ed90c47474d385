package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Environment string
	Server      ServerConfig
	Database    DatabaseConfig
	NATS        NATSConfig
	Redis       RedisConfig
	TextGen     TextGenConfig
	Cache       CacheConfig
	Cluster     ClusterConfig
	Synth       SynthConfig
	Score       ScoreConfig
	Pipeline    PipelineConfig
	Twitter     TwitterConfig
}

// ServerConfig holds the ops HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
	SSLMode      string
}

// NATSConfig holds NATS configuration
type NATSConfig struct {
	URL            string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectTimeout time.Duration
	EventsTopic    string
}

// RedisConfig holds the optional redis cache backend configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// TextGenConfig holds configuration for the external text-generation service
type TextGenConfig struct {
	APIKey          string
	APIURL          string
	EmbeddingModel  string
	CompletionModel string
	EmbedTimeout    time.Duration
	CompleteTimeout time.Duration
	MaxRetries      int
	RetryBaseDelay  time.Duration
	RetryMaxDelay   time.Duration
	BreakerRatio    float64
	BreakerMinCalls int
	BreakerCooldown time.Duration
}

// CacheConfig holds response cache configuration
type CacheConfig struct {
	Backend        string // "memory" or "redis"
	EmbeddingTTL   time.Duration
	DescriptionTTL time.Duration
	MaxEntries     int
}

// ClusterConfig holds clustering configuration
type ClusterConfig struct {
	MinClusters int
	MaxClusters int
	Seed        int64
	MaxIter     int
}

// SynthConfig holds trend synthesis configuration
type SynthConfig struct {
	MaxPostsPerPrompt int
	MaxExcerptLen     int
	MaxOutputTokens   int
	MaxBatchSize      int
}

// ScoreConfig holds trend scoring weights
type ScoreConfig struct {
	LikeWeight    float64
	CommentWeight float64
	RepostWeight  float64
	ScaleFactor   float64
}

// PipelineConfig holds orchestration configuration
type PipelineConfig struct {
	RunBudget    time.Duration
	SynthWorkers int
	RetryTopic   string
}

// TwitterConfig holds the post source configuration
type TwitterConfig struct {
	BearerToken string
	SearchTerms []string
	MaxResults  int
}

// Load loads configuration from environment variables
func Load() (Config, error) {
	config := Config{
		Environment: getEnv("APP_ENV", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnvAsInt("DB_PORT", 5432),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", "postgres"),
			Database:     getEnv("DB_NAME", "trendpulse"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  getEnvAsDuration("DB_MAX_LIFETIME", 5*time.Minute),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
		},
		NATS: NATSConfig{
			URL:            getEnv("NATS_URL", "nats://localhost:4222"),
			MaxReconnects:  getEnvAsInt("NATS_MAX_RECONNECTS", 10),
			ReconnectWait:  getEnvAsDuration("NATS_RECONNECT_WAIT", 1*time.Second),
			ConnectTimeout: getEnvAsDuration("NATS_CONNECT_TIMEOUT", 2*time.Second),
			EventsTopic:    getEnv("NATS_EVENTS_TOPIC", "trend"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		TextGen: TextGenConfig{
			APIKey:          getEnv("OPENAI_API_KEY", ""),
			APIURL:          getEnv("OPENAI_API_URL", "https://api.openai.com/v1"),
			EmbeddingModel:  getEnv("OPENAI_EMBEDDING_MODEL", "text-embedding-3-large"),
			CompletionModel: getEnv("OPENAI_COMPLETION_MODEL", "gpt-4o"),
			EmbedTimeout:    getEnvAsDuration("TEXTGEN_EMBED_TIMEOUT", 30*time.Second),
			CompleteTimeout: getEnvAsDuration("TEXTGEN_COMPLETE_TIMEOUT", 15*time.Second),
			MaxRetries:      getEnvAsInt("TEXTGEN_MAX_RETRIES", 2),
			RetryBaseDelay:  getEnvAsDuration("TEXTGEN_RETRY_BASE_DELAY", 1*time.Second),
			RetryMaxDelay:   getEnvAsDuration("TEXTGEN_RETRY_MAX_DELAY", 4*time.Second),
			BreakerRatio:    getEnvAsFloat("TEXTGEN_BREAKER_RATIO", 0.5),
			BreakerMinCalls: getEnvAsInt("TEXTGEN_BREAKER_MIN_CALLS", 10),
			BreakerCooldown: getEnvAsDuration("TEXTGEN_BREAKER_COOLDOWN", 30*time.Second),
		},
		Cache: CacheConfig{
			Backend:        getEnv("CACHE_BACKEND", "memory"),
			EmbeddingTTL:   getEnvAsDuration("CACHE_EMBEDDING_TTL", 24*time.Hour),
			DescriptionTTL: getEnvAsDuration("CACHE_DESCRIPTION_TTL", 24*time.Hour),
			MaxEntries:     getEnvAsInt("CACHE_MAX_ENTRIES", 10000),
		},
		Cluster: ClusterConfig{
			MinClusters: getEnvAsInt("CLUSTER_MIN", 2),
			MaxClusters: getEnvAsInt("CLUSTER_MAX", 8),
			Seed:        int64(getEnvAsInt("CLUSTER_SEED", 42)),
			MaxIter:     getEnvAsInt("CLUSTER_MAX_ITER", 100),
		},
		Synth: SynthConfig{
			MaxPostsPerPrompt: getEnvAsInt("SYNTH_MAX_POSTS_PER_PROMPT", 20),
			MaxExcerptLen:     getEnvAsInt("SYNTH_MAX_EXCERPT_LEN", 200),
			MaxOutputTokens:   getEnvAsInt("SYNTH_MAX_OUTPUT_TOKENS", 500),
			MaxBatchSize:      getEnvAsInt("SYNTH_MAX_BATCH_SIZE", 1),
		},
		Score: ScoreConfig{
			LikeWeight:    getEnvAsFloat("SCORE_LIKE_WEIGHT", 1.0),
			CommentWeight: getEnvAsFloat("SCORE_COMMENT_WEIGHT", 1.1),
			RepostWeight:  getEnvAsFloat("SCORE_REPOST_WEIGHT", 1.2),
			ScaleFactor:   getEnvAsFloat("SCORE_SCALE_FACTOR", 1000.0),
		},
		Pipeline: PipelineConfig{
			RunBudget:    getEnvAsDuration("PIPELINE_RUN_BUDGET", 60*time.Second),
			SynthWorkers: getEnvAsInt("PIPELINE_SYNTH_WORKERS", 4),
			RetryTopic:   getEnv("PIPELINE_RETRY_TOPIC", "trend.description.retry"),
		},
		Twitter: TwitterConfig{
			BearerToken: getEnv("TWITTER_BEARER_TOKEN", ""),
			SearchTerms: getEnvAsSlice("TWITTER_SEARCH_TERMS", []string{"AI", "artificial intelligence", "generative AI"}),
			MaxResults:  getEnvAsInt("TWITTER_MAX_RESULTS", 100),
		},
	}

	return config, validate(config)
}

// validate checks if config is valid
func validate(config Config) error {
	if config.TextGen.APIKey == "" && config.Environment != "development" {
		return fmt.Errorf("OPENAI_API_KEY must be set in non-development environments")
	}
	if config.Cache.Backend != "memory" && config.Cache.Backend != "redis" {
		return fmt.Errorf("unsupported cache backend: %s", config.Cache.Backend)
	}
	if config.Cluster.MinClusters < 1 || config.Cluster.MaxClusters < config.Cluster.MinClusters {
		return fmt.Errorf("invalid cluster bounds: min=%d max=%d", config.Cluster.MinClusters, config.Cluster.MaxClusters)
	}
	if config.Pipeline.SynthWorkers < 1 {
		return fmt.Errorf("pipeline synth workers must be at least 1")
	}
	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	return strings.Split(valueStr, ",")
}
