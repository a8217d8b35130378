package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Neo4j      Neo4jConfig      `mapstructure:"neo4j"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Algorithms AlgorithmConfig  `mapstructure:"recommendation"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Jobs       JobsConfig       `mapstructure:"jobs"`
	Catalog    CatalogConfig    `mapstructure:"catalog"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Security   SecurityConfig   `mapstructure:"security"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	URL            string        `mapstructure:"url"`
	MaxConnections int           `mapstructure:"max_connections"`
	MaxIdleTime    time.Duration `mapstructure:"max_idle_time"`
	MaxLifetime    time.Duration `mapstructure:"max_lifetime"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type RedisConfig struct {
	URL        string        `mapstructure:"url"`
	DB         int           `mapstructure:"db"`
	MaxRetries int           `mapstructure:"max_retries"`
	PoolSize   int           `mapstructure:"pool_size"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type Neo4jConfig struct {
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type KafkaConfig struct {
	Brokers       []string `mapstructure:"brokers"`
	ConsumerGroup string   `mapstructure:"consumer_group"`
	Topics        struct {
		UserInteractions    string `mapstructure:"user_interactions"`
		UserInteractionsDLQ string `mapstructure:"user_interactions_dlq"`
	} `mapstructure:"topics"`
}

// Enabled reports whether interaction events go through Kafka.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0 && k.Topics.UserInteractions != ""
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type AlgorithmConfig struct {
	MinSimilarity              float64        `mapstructure:"min_similarity"`
	MaxNeighbors               int            `mapstructure:"max_neighbors"`
	MinInteractions            int            `mapstructure:"min_interactions"`
	PopularMinRating           float64        `mapstructure:"popular_min_rating"`
	FavoriteMinRating          float64        `mapstructure:"favorite_min_rating"`
	MaxSeedMovies              int            `mapstructure:"max_seed_movies"`
	DefaultLimit               int            `mapstructure:"default_limit"`
	DefaultCollaborativeWeight float64        `mapstructure:"default_collaborative_weight"`
	DiverseUserThreshold       float64        `mapstructure:"diverse_user_threshold"`
	Features                   FeatureConfig  `mapstructure:"features"`
	Profiles                   ProfileWeights `mapstructure:"profiles"`
	Caching                    CachingConfig  `mapstructure:"caching"`
}

type FeatureConfig struct {
	MaxTerms   int `mapstructure:"max_terms"`
	MaxCatalog int `mapstructure:"max_catalog"`
}

// StrategyWeights are the fusion weights of the personalized strategy.
type StrategyWeights struct {
	Collaborative float64 `mapstructure:"collaborative" json:"collaborative"`
	Content       float64 `mapstructure:"content" json:"content"`
	Popularity    float64 `mapstructure:"popularity" json:"popularity"`
}

type ProfileWeights struct {
	NewUser StrategyWeights `mapstructure:"new_user"`
	Diverse StrategyWeights `mapstructure:"diverse"`
	Focused StrategyWeights `mapstructure:"focused"`
}

type CachingConfig struct {
	RecommendationsTTL time.Duration `mapstructure:"recommendations_ttl"`
	WarmTTL            time.Duration `mapstructure:"warm_ttl"`
}

type CacheConfig struct {
	Backend   string `mapstructure:"backend"`
	KeyPrefix string `mapstructure:"key_prefix"`
	MaxItems  int    `mapstructure:"max_items"`
}

type JobsConfig struct {
	MaxUsers        int           `mapstructure:"max_users"`
	MaxCatalog      int           `mapstructure:"max_catalog"`
	WarmUsers       int           `mapstructure:"warm_users"`
	WarmLimit       int           `mapstructure:"warm_limit"`
	WarmConcurrency int           `mapstructure:"warm_concurrency"`
	WriteBatchSize  int           `mapstructure:"write_batch_size"`
	Retry           RetryConfig   `mapstructure:"retry"`
	Cleanup         CleanupConfig `mapstructure:"cleanup"`
}

type RetryConfig struct {
	MaxRetries      int           `mapstructure:"max_retries"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

type CleanupConfig struct {
	CacheMaxAge           time.Duration `mapstructure:"cache_max_age"`
	UserSimilarityMaxAge  time.Duration `mapstructure:"user_similarity_max_age"`
	MovieSimilarityMaxAge time.Duration `mapstructure:"movie_similarity_max_age"`
}

type CatalogConfig struct {
	Breaker BreakerConfig `mapstructure:"breaker"`
}

type BreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MinRequests  uint32        `mapstructure:"min_requests"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
}

type MonitoringConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	MetricsPath string `mapstructure:"metrics_path"`
}

type SecurityConfig struct {
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

func Load() (*Config, error) {
	return LoadWith(viper.GetViper())
}

// LoadWith reads the configuration through v, which may already carry bound flags.
func LoadWith(v *viper.Viper) (*Config, error) {
	v.SetConfigName("app")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	SetDefaults(v)

	// Environment variable overrides
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		// Config file is optional, continue with env vars and defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "development")

	// Database defaults
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.max_idle_time", "15m")
	v.SetDefault("database.max_lifetime", "1h")
	v.SetDefault("database.connect_timeout", "10s")

	// Redis defaults
	v.SetDefault("redis.url", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.timeout", "5s")

	// Kafka defaults
	v.SetDefault("kafka.consumer_group", "recommendation-cache-invalidator")
	v.SetDefault("kafka.topics.user_interactions", "user-interactions")
	v.SetDefault("kafka.topics.user_interactions_dlq", "user-interactions-dlq")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	// Algorithm defaults
	v.SetDefault("recommendation.min_similarity", 0.1)
	v.SetDefault("recommendation.max_neighbors", 10)
	v.SetDefault("recommendation.min_interactions", 5)
	v.SetDefault("recommendation.popular_min_rating", 7.0)
	v.SetDefault("recommendation.favorite_min_rating", 7.0)
	v.SetDefault("recommendation.max_seed_movies", 5)
	v.SetDefault("recommendation.default_limit", 20)
	v.SetDefault("recommendation.default_collaborative_weight", 0.6)
	v.SetDefault("recommendation.diverse_user_threshold", 0.7)
	v.SetDefault("recommendation.features.max_terms", 1000)
	v.SetDefault("recommendation.features.max_catalog", 1000)

	// Personalized weight buckets
	v.SetDefault("recommendation.profiles.new_user.collaborative", 0.2)
	v.SetDefault("recommendation.profiles.new_user.content", 0.5)
	v.SetDefault("recommendation.profiles.new_user.popularity", 0.3)
	v.SetDefault("recommendation.profiles.diverse.collaborative", 0.5)
	v.SetDefault("recommendation.profiles.diverse.content", 0.4)
	v.SetDefault("recommendation.profiles.diverse.popularity", 0.1)
	v.SetDefault("recommendation.profiles.focused.collaborative", 0.7)
	v.SetDefault("recommendation.profiles.focused.content", 0.3)
	v.SetDefault("recommendation.profiles.focused.popularity", 0.0)

	// Caching defaults
	v.SetDefault("recommendation.caching.recommendations_ttl", "1h")
	v.SetDefault("recommendation.caching.warm_ttl", "2h")
	v.SetDefault("cache.backend", "redis")
	v.SetDefault("cache.key_prefix", "rec")
	v.SetDefault("cache.max_items", 10000)

	// Background job defaults
	v.SetDefault("jobs.max_users", 1000)
	v.SetDefault("jobs.max_catalog", 1000)
	v.SetDefault("jobs.warm_users", 100)
	v.SetDefault("jobs.warm_limit", 20)
	v.SetDefault("jobs.warm_concurrency", 4)
	v.SetDefault("jobs.write_batch_size", 500)
	v.SetDefault("jobs.retry.max_retries", 3)
	v.SetDefault("jobs.retry.initial_interval", "1m")
	v.SetDefault("jobs.retry.max_interval", "5m")
	v.SetDefault("jobs.cleanup.cache_max_age", "24h")
	v.SetDefault("jobs.cleanup.user_similarity_max_age", "168h")
	v.SetDefault("jobs.cleanup.movie_similarity_max_age", "720h")

	// Catalog circuit breaker defaults
	v.SetDefault("catalog.breaker.enabled", true)
	v.SetDefault("catalog.breaker.max_requests", 3)
	v.SetDefault("catalog.breaker.interval", "1m")
	v.SetDefault("catalog.breaker.timeout", "30s")
	v.SetDefault("catalog.breaker.min_requests", 10)
	v.SetDefault("catalog.breaker.failure_ratio", 0.6)

	// Monitoring defaults
	v.SetDefault("monitoring.enabled", true)
	v.SetDefault("monitoring.metrics_path", "/metrics")

	// Security defaults
	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "OPTIONS"})
	v.SetDefault("security.cors.allowed_headers", []string{"*"})
}
