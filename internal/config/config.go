package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server     ServerConfig
	Worker     WorkerConfig
	Cluster    ClusterConfig
	Verify     VerifyConfig
	Severity   SeverityConfig
	Risk       RiskConfig
	Geo        GeoConfig
	Kafka      KafkaConfig
	Collection CollectionConfig
	Moderation ModerationConfig
	DB         DatabaseConfig
	API        APIConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type WorkerConfig struct {
	Count      int
	BufferSize int
}

type ClusterConfig struct {
	TimeWindow          time.Duration
	RadiusKM            float64
	SimilarityThreshold float64
	MinRelevance        float64
}

type VerifyConfig struct {
	MinSourceKinds int     // distinct non-weather kinds required
	MinSources     int     // distinct sources of any kind required
	RelevanceFloor float64 // mean member relevance gate
}

type SeverityConfig struct {
	HighParticipants int
}

type RiskConfig struct {
	MinSamples    int
	DefaultWindow time.Duration
}

type GeoConfig struct {
	ResolveTimeout   time.Duration
	CacheSize        int
	NominatimEnabled bool
	NominatimURL     string
}

type KafkaConfig struct {
	Brokers  []string
	Topic    string
	GroupID  string
	DLQTopic string
}

// Enabled reports whether the Kafka intake should run at all.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

type CollectionConfig struct {
	PollInterval time.Duration
	FeedURLs     []string // JSON feed endpoints, optionally prefixed "kind="
	RSSURLs      []string // news RSS endpoints
}

type ModerationConfig struct {
	ConfirmConfidence float64
}

type DatabaseConfig struct {
	Path             string
	MaxUpdateRetries int
}

type APIConfig struct {
	RateLimitRPS int
}

type LoggingConfig struct {
	Level string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "localhost"),
			Port: getEnvInt("SERVER_PORT", 8080),
		},
		Worker: WorkerConfig{
			Count:      getEnvInt("WORKER_COUNT", 4),
			BufferSize: getEnvInt("WORKER_BUFFER_SIZE", 64),
		},
		Cluster: ClusterConfig{
			TimeWindow:          getEnvDuration("CLUSTER_TIME_WINDOW", 6*time.Hour),
			RadiusKM:            getEnvFloat("CLUSTER_RADIUS_KM", 50),
			SimilarityThreshold: getEnvFloat("CLUSTER_SIMILARITY_THRESHOLD", 0.6),
			MinRelevance:        getEnvFloat("CLUSTER_MIN_RELEVANCE", 0.3),
		},
		Verify: VerifyConfig{
			MinSourceKinds: getEnvInt("VERIFY_MIN_SOURCE_KINDS", 2),
			MinSources:     getEnvInt("VERIFY_MIN_SOURCES", 3),
			RelevanceFloor: getEnvFloat("VERIFY_RELEVANCE_FLOOR", 0.5),
		},
		Severity: SeverityConfig{
			HighParticipants: getEnvInt("SEVERITY_HIGH_PARTICIPANTS", 1000),
		},
		Risk: RiskConfig{
			MinSamples:    getEnvInt("RISK_MIN_SAMPLES", 3),
			DefaultWindow: getEnvDuration("RISK_DEFAULT_WINDOW", 24*time.Hour),
		},
		Geo: GeoConfig{
			ResolveTimeout:   getEnvDuration("GEO_RESOLVE_TIMEOUT", 5*time.Second),
			CacheSize:        getEnvInt("GEO_CACHE_SIZE", 4096),
			NominatimEnabled: getEnvBool("GEO_NOMINATIM_ENABLED", false),
			NominatimURL:     getEnv("GEO_NOMINATIM_URL", "https://nominatim.openstreetmap.org/search"),
		},
		Kafka: KafkaConfig{
			Brokers:  getEnvList("KAFKA_BROKERS"),
			Topic:    getEnv("KAFKA_TOPIC", "raw-posts"),
			GroupID:  getEnv("KAFKA_GROUP_ID", "unrest-alert"),
			DLQTopic: getEnv("KAFKA_DLQ_TOPIC", "raw-posts-dlq"),
		},
		Collection: CollectionConfig{
			PollInterval: getEnvDuration("COLLECTION_POLL_INTERVAL", 5*time.Minute),
			FeedURLs:     getEnvList("COLLECTION_FEED_URLS"),
			RSSURLs:      getEnvList("COLLECTION_RSS_URLS"),
		},
		Moderation: ModerationConfig{
			ConfirmConfidence: getEnvFloat("MODERATION_CONFIRM_CONFIDENCE", 0.9),
		},
		DB: DatabaseConfig{
			Path:             getEnv("DB_PATH", "./data/unrest-alerts.db"),
			MaxUpdateRetries: getEnvInt("DB_MAX_UPDATE_RETRIES", 3),
		},
		API: APIConfig{
			RateLimitRPS: getEnvInt("API_RATE_LIMIT_RPS", 5),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Cluster.TimeWindow <= 0 {
		return fmt.Errorf("cluster time window must be positive")
	}
	if c.Cluster.RadiusKM <= 0 {
		return fmt.Errorf("cluster radius must be positive")
	}
	if c.Cluster.SimilarityThreshold < 0 || c.Cluster.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity threshold must be in [0,1]: %f", c.Cluster.SimilarityThreshold)
	}
	if c.Cluster.MinRelevance < 0 || c.Cluster.MinRelevance > 1 {
		return fmt.Errorf("minimum relevance must be in [0,1]: %f", c.Cluster.MinRelevance)
	}

	if c.Verify.MinSourceKinds < 1 {
		return fmt.Errorf("verify min source kinds must be at least 1")
	}
	if c.Verify.MinSources < 1 {
		return fmt.Errorf("verify min sources must be at least 1")
	}
	if c.Verify.RelevanceFloor < 0 || c.Verify.RelevanceFloor > 1 {
		return fmt.Errorf("verify relevance floor must be in [0,1]: %f", c.Verify.RelevanceFloor)
	}

	if c.Risk.MinSamples < 1 {
		return fmt.Errorf("risk min samples must be at least 1")
	}
	if c.Risk.DefaultWindow <= 0 {
		return fmt.Errorf("risk default window must be positive")
	}

	if c.Geo.ResolveTimeout <= 0 {
		return fmt.Errorf("geo resolve timeout must be positive")
	}

	if c.Moderation.ConfirmConfidence < 0 || c.Moderation.ConfirmConfidence > 1 {
		return fmt.Errorf("confirm confidence must be in [0,1]: %f", c.Moderation.ConfirmConfidence)
	}

	if c.Collection.PollInterval < time.Minute {
		return fmt.Errorf("collection poll interval must be at least 1 minute")
	}

	if c.DB.MaxUpdateRetries < 1 {
		return fmt.Errorf("max update retries must be at least 1")
	}

	if c.API.RateLimitRPS < 1 {
		return fmt.Errorf("api rate limit must be at least 1 rps")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
