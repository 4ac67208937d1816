package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the full process configuration, parsed from the environment so
// main stays lean.
type Config struct {
	Server       Server
	Log          Log
	Documents    Documents
	ContentStore ContentStore
	Redis        RedisConfig
	Postgres     Postgres
	Kafka        Kafka
	Workflow     Workflow
	RateLimit    RateLimit
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr          string `env:"DUKCAPIL_ADDR" envDefault:":8080"`
	JWTSigningKey string `env:"DUKCAPIL_JWT_SIGNING_KEY" envDefault:"dev-secret-key-change-in-production"`
	JWTIssuer     string `env:"DUKCAPIL_JWT_ISSUER" envDefault:"dukcapil"`

	ReadHeaderTimeout time.Duration `env:"DUKCAPIL_READ_HEADER_TIMEOUT" envDefault:"5s"`
	ReadTimeout       time.Duration `env:"DUKCAPIL_READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout      time.Duration `env:"DUKCAPIL_WRITE_TIMEOUT" envDefault:"60s"`
	IdleTimeout       time.Duration `env:"DUKCAPIL_IDLE_TIMEOUT" envDefault:"120s"`

	// RegistryOffices are wallet addresses registered as registry offices at
	// startup; further offices are added by an existing one.
	RegistryOffices []string `env:"DUKCAPIL_REGISTRY_OFFICES" envSeparator:","`
}

type Log struct {
	Level  string `env:"DUKCAPIL_LOG_LEVEL" envDefault:"info"`
	Format string `env:"DUKCAPIL_LOG_FORMAT" envDefault:"json"`
}

// Documents configures at-rest encryption of every blob.
type Documents struct {
	Passphrase string `env:"DUKCAPIL_DOCUMENT_PASSPHRASE" envDefault:"dev-passphrase-change-in-production"`
	Salt       string `env:"DUKCAPIL_DOCUMENT_SALT" envDefault:"dukcapil-dev-salt"`
}

// ContentStore selects the blob backend.
type ContentStore struct {
	Driver      string `env:"DUKCAPIL_BLOB_DRIVER" envDefault:"fs"`
	FSRoot      string `env:"DUKCAPIL_BLOB_FS_ROOT" envDefault:"./blobdata"`
	SQLitePath  string `env:"DUKCAPIL_BLOB_SQLITE_PATH" envDefault:"./dukcapil-blobs.db"`
	S3Bucket    string `env:"DUKCAPIL_S3_BUCKET"`
	S3Region    string `env:"DUKCAPIL_S3_REGION" envDefault:"us-east-1"`
	S3Prefix    string `env:"DUKCAPIL_S3_PREFIX" envDefault:"blobs/"`
	S3Endpoint  string `env:"DUKCAPIL_S3_ENDPOINT"`
	S3PathStyle bool   `env:"DUKCAPIL_S3_PATH_STYLE"`
}

// RedisConfig enables the blob read-through cache when URL is set.
type RedisConfig struct {
	URL          string        `env:"DUKCAPIL_REDIS_URL"`
	CacheTTL     time.Duration `env:"DUKCAPIL_REDIS_CACHE_TTL" envDefault:"1h"`
	PoolSize     int           `env:"DUKCAPIL_REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"DUKCAPIL_REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"DUKCAPIL_REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"DUKCAPIL_REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"DUKCAPIL_REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// Postgres holds the ledger database. An empty DSN selects the in-memory ledger.
type Postgres struct {
	DSN          string `env:"DUKCAPIL_DATABASE_URL"`
	MaxOpenConns int    `env:"DUKCAPIL_DATABASE_MAX_OPEN_CONNS" envDefault:"10"`
}

// Kafka enables the audit event sink when Brokers is non-empty.
type Kafka struct {
	Brokers []string `env:"DUKCAPIL_KAFKA_BROKERS" envSeparator:","`
	Topic   string   `env:"DUKCAPIL_KAFKA_AUDIT_TOPIC" envDefault:"dukcapil.audit"`
}

// Workflow holds business rules and protocol limits for the approval pipeline.
type Workflow struct {
	AdulthoodYears      int    `env:"DUKCAPIL_ADULTHOOD_YEARS" envDefault:"17"`
	MinMarriageAge      int    `env:"DUKCAPIL_MIN_MARRIAGE_AGE" envDefault:"19"`
	StrictReferences    bool   `env:"DUKCAPIL_STRICT_REFERENCES" envDefault:"false"`
	HeadDeathPolicy     string `env:"DUKCAPIL_HEAD_DEATH_POLICY" envDefault:"reject"`
	MergeGate           string `env:"DUKCAPIL_MERGE_GATE" envDefault:"head"`
	HistoryCap          int    `env:"DUKCAPIL_HISTORY_CAP" envDefault:"50"`
	IndexCommitAttempts int    `env:"DUKCAPIL_INDEX_COMMIT_ATTEMPTS" envDefault:"5"`
}

// RateLimit throttles state-changing requests per actor. Zero disables it.
type RateLimit struct {
	Writes int           `env:"DUKCAPIL_RATELIMIT_WRITES" envDefault:"60"`
	Window time.Duration `env:"DUKCAPIL_RATELIMIT_WINDOW" envDefault:"1m"`
}

// Load parses the environment into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
