package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/joho/godotenv"
)

type Config struct {
	AppName                       string   `env:"APP_NAME" env-default:"fern-api"`
	Port                          int      `env:"PORT" env-default:"3004"`
	LogLevel                      string   `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs                    bool     `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int      `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerReadTimeoutSeconds  int      `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerIdleTimeoutSeconds  int      `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"10"`
	MaxHeaderBytes                int      `env:"HTTP_SERVER_MAX_HEADER_BYTES" env-default:"64000"` // 64KB
	ReadHeaderTimeoutSeconds      int      `env:"HTTP_SERVER_READ_HEADER_TIMEOUT_SECONDS" env-default:"10"`
	MaxBodySize                   string   `env:"HTTP_SERVER_MAX_BODY_SIZE" env-default:"32M"`
	AllowOrigins                  []string `env:"HTTP_SERVER_ALLOW_ORIGINS" env-default:"*"`
	AllowMethods                  []string `env:"HTTP_SERVER_ALLOW_METHODS" env-default:"GET,POST"`
	StartupMaxAttempts            int      `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" env-default:"30s"`

	// Ingestion
	EnableStreamingProcessing bool          `env:"ENABLE_STREAMING_PROCESSING" env-default:"true"`
	EnableLanguageFiltering   bool          `env:"ENABLE_LANGUAGE_FILTERING" env-default:"false"`
	AllowedLanguages          []string      `env:"ALLOWED_LANGUAGES" env-default:"en"`
	LanguageFilterMode        string        `env:"LANGUAGE_FILTER_MODE" env-default:"lenient"`
	LanguageMinTextLength     int           `env:"LANGUAGE_MIN_TEXT_LENGTH" env-default:"20"`
	WorkerCount               int           `env:"WORKER_COUNT" env-default:"4"`
	WorkerQueueSize           int           `env:"WORKER_QUEUE_SIZE" env-default:"256"`
	PipelineTimeout           time.Duration `env:"PIPELINE_TIMEOUT" env-default:"2m"`

	// Entity extraction
	EntityDefaultConfidence float64 `env:"ENTITY_DEFAULT_CONFIDENCE" env-default:"0.8"`
	EntityKeepNumeric       bool    `env:"ENTITY_KEEP_NUMERIC" env-default:"false"`

	// Redis (dedup ledger)
	RedisHost      string        `env:"REDIS_HOST" env-default:"localhost"`
	RedisPort      int           `env:"REDIS_PORT" env-default:"6379"`
	RedisPassword  string        `env:"REDIS_PASSWORD" env-default:""`
	RedisDB        int           `env:"REDIS_DB" env-default:"0"`
	DedupTTL       time.Duration `env:"DEDUP_TTL" env-default:"6h"`
	DedupKeyPrefix string        `env:"DEDUP_KEY_PREFIX" env-default:"fern:dedup"`

	// Graph Database (Memgraph)
	GraphDBHost       string `env:"GRAPH_DB_HOST" env-default:"localhost"`
	GraphDBPort       int    `env:"GRAPH_DB_PORT" env-default:"7687"`
	GraphDBUser       string `env:"GRAPH_DB_USER" env-default:""`
	GraphDBPassword   string `env:"GRAPH_DB_PASSWORD" env-default:""`
	GraphDefaultDepth int    `env:"GRAPH_DEFAULT_DEPTH" env-default:"2"`
	GraphMaxDepth     int    `env:"GRAPH_MAX_DEPTH" env-default:"4"`
	GraphSearchLimit  int    `env:"GRAPH_SEARCH_LIMIT" env-default:"10"`

	// PostgreSQL + pgvector (Vector Store)
	DatabaseDriver                string        `env:"DB_DRIVER" env-default:"postgres"`
	DatabaseHost                  string        `env:"DB_HOST" env-default:""`
	DatabasePort                  string        `env:"DB_PORT" env-default:"5432"`
	DatabaseUserName              string        `env:"DB_USER_NAME" env-default:""`
	DatabasePassword              string        `env:"DB_PASSWORD" env-default:""`
	DatabaseName                  string        `env:"DB_NAME" env-default:"fern"`
	DatabaseSSLMode               string        `env:"DB_SQL_MODE" env-default:"disable"`
	DatabaseMaxOpenConns          int           `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	DatabaseMaxIdleConns          int           `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	DatabaseConnMaxLifetime       time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"10s"`
	DatabaseMigrationFolderPath   string        `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	DatabaseMigrationVersion      int           `env:"DB_MIGRATION_VERSION" env-default:"0"`
	DatabaseMigrationForce        int           `env:"DB_MIGRATION_FORCE" env-default:"0"`
	DatabaseMigrationAutoRollback bool          `env:"DB_MIGRATION_AUTO_ROLLBACK" env-default:"true"`

	// Embedding service
	EmbeddingURL        string        `env:"EMBEDDING_URL" env-default:"http://localhost:11434"`
	EmbeddingModel      string        `env:"EMBEDDING_MODEL" env-default:"nomic-embed-text"`
	EmbeddingDimensions int           `env:"EMBEDDING_DIMENSIONS" env-default:"768"`
	EmbeddingTimeout    time.Duration `env:"EMBEDDING_TIMEOUT" env-default:"30s"`
	EmbeddingMaxChars   int           `env:"EMBEDDING_MAX_CHARS" env-default:"8000"`
	EmbeddingMaxRetries int           `env:"EMBEDDING_MAX_RETRIES" env-default:"3"`

	// Generative text service (relationship extraction)
	AnthropicAPIKey           string  `env:"ANTHROPIC_API_KEY" env-default:""`
	LLMModel                  string  `env:"LLM_MODEL" env-default:"claude-3-5-haiku-latest"`
	LLMMaxTokens              int     `env:"LLM_MAX_TOKENS" env-default:"1024"`
	LLMMaxRetries             int     `env:"LLM_MAX_RETRIES" env-default:"3"`
	RelationshipMaxTextChars  int     `env:"RELATIONSHIP_MAX_TEXT_CHARS" env-default:"6000"`
	RelationshipMaxEntities   int     `env:"RELATIONSHIP_MAX_ENTITIES" env-default:"50"`
	RelationshipMinConfidence float64 `env:"RELATIONSHIP_MIN_CONFIDENCE" env-default:"0"`

	// Hybrid search
	SearchVectorLimit   int           `env:"SEARCH_VECTOR_LIMIT" env-default:"10"`
	SearchDefaultLimit  int           `env:"SEARCH_DEFAULT_LIMIT" env-default:"10"`
	SearchBranchTimeout time.Duration `env:"SEARCH_BRANCH_TIMEOUT" env-default:"800ms"`
	SearchVectorWeight  float64       `env:"SEARCH_VECTOR_WEIGHT" env-default:"0.6"`
	SearchGraphWeight   float64       `env:"SEARCH_GRAPH_WEIGHT" env-default:"0.4"`
	SearchBothBonus     float64       `env:"SEARCH_BOTH_BONUS" env-default:"0.2"`

	// Kafka Consumer (crawl lifecycle events, alternative to the webhook)
	KafkaBrokers         []string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	KafkaConsumerEnabled bool     `env:"KAFKA_CONSUMER_ENABLED" env-default:"false"`
	KafkaInputTopic      string   `env:"KAFKA_INPUT_TOPIC" env-default:"crawl-events"`
	KafkaConsumerGroup   string   `env:"KAFKA_CONSUMER_GROUP" env-default:"fern-consumer"`

	// Kafka Producer settings
	KafkaProducerEnabled bool   `env:"KAFKA_PRODUCER_ENABLED" env-default:"false"`
	KafkaOutputTopic     string `env:"KAFKA_OUTPUT_TOPIC" env-default:"knowledge-events"`
	KafkaBatchSize       int    `env:"KAFKA_BATCH_SIZE" env-default:"100"`
	KafkaBatchTimeout    int    `env:"KAFKA_BATCH_TIMEOUT_MS" env-default:"100"`
	KafkaRequiredAcks    int    `env:"KAFKA_REQUIRED_ACKS" env-default:"1"`
	KafkaCompression     string `env:"KAFKA_COMPRESSION" env-default:"snappy"`

	// Tracing
	OTLPEnabled  bool     `env:"OTLP_ENABLED" env-default:"false"`
	OTLPEndpoint string   `env:"OTLP_ENDPOINT" env-default:"localhost:4317"`
	OTLPProtocol string   `env:"OTLP_PROTOCOL" env-default:"grpc"`
	OTLPInsecure bool     `env:"OTLP_INSECURE" env-default:"true"`
	OTLPHeaders  []string `env:"OTLP_HEADERS" env-default:""`
}

// Load reads an optional .env file and binds the environment into a Config.
func Load(envFiles ...string) (*Config, error) {
	// a missing .env is normal outside local development
	_ = godotenv.Load(envFiles...)

	cfg := &Config{}
	if err := ectoenv.BindEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to bind environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	switch strings.ToLower(c.LanguageFilterMode) {
	case "strict", "lenient":
	default:
		return fmt.Errorf("LANGUAGE_FILTER_MODE must be strict or lenient, got %q", c.LanguageFilterMode)
	}
	if c.WorkerCount < 1 {
		return fmt.Errorf("WORKER_COUNT must be positive, got %d", c.WorkerCount)
	}
	if c.GraphDefaultDepth < 1 || c.GraphDefaultDepth > c.GraphMaxDepth {
		return fmt.Errorf("GRAPH_DEFAULT_DEPTH must be between 1 and GRAPH_MAX_DEPTH (%d), got %d", c.GraphMaxDepth, c.GraphDefaultDepth)
	}
	if c.SearchVectorWeight < 0 || c.SearchGraphWeight < 0 || c.SearchBothBonus < 0 {
		return fmt.Errorf("search weights must not be negative")
	}
	return nil
}

// DatabaseDSN builds the lib/pq connection string.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DatabaseHost, c.DatabasePort, c.DatabaseUserName, c.DatabasePassword, c.DatabaseName, c.DatabaseSSLMode)
}
