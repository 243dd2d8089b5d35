// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Source, Kafka, Redis, Indexer, Search,
// Collections, etc.).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server      ServerConfig       `yaml:"server"`
	Postgres    PostgresConfig     `yaml:"postgres"`
	Source      SourceConfig       `yaml:"source"`
	Kafka       KafkaConfig        `yaml:"kafka"`
	Redis       RedisConfig        `yaml:"redis"`
	Indexer     IndexerConfig      `yaml:"indexer"`
	Search      SearchConfig       `yaml:"search"`
	Collections []CollectionConfig `yaml:"collections"`
	Logging     LoggingConfig      `yaml:"logging"`
	Tracing     TracingConfig      `yaml:"tracing"`
	Metrics     MetricsConfig      `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	// AllowOrigins enables CORS for browser clients on these origins.
	AllowOrigins []string `yaml:"allowOrigins"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// SourceConfig selects the database the records are read from.
type SourceConfig struct {
	Driver     string `yaml:"driver"`
	SQLitePath string `yaml:"sqlitePath"`
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	IndexRebuild    string `yaml:"indexRebuild"`
	RecordChanges   string `yaml:"recordChanges"`
	IndexComplete   string `yaml:"indexComplete"`
	AnalyticsEvents string `yaml:"analyticsEvents"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// IndexerConfig controls where indexes live and how they are built.
type IndexerConfig struct {
	RootDir        string        `yaml:"rootDir"`
	LockTimeout    time.Duration `yaml:"lockTimeout"`
	BatchSize      int           `yaml:"batchSize"`
	SegmentMaxDocs int           `yaml:"segmentMaxDocs"`
	SourceTimeout  time.Duration `yaml:"sourceTimeout"`
}

// SearchConfig controls query execution, result limits and highlighting.
type SearchConfig struct {
	DefaultLimit    int             `yaml:"defaultLimit"`
	MaxResults      int             `yaml:"maxResults"`
	Timeout         time.Duration   `yaml:"timeout"`
	DefaultOperator string          `yaml:"defaultOperator"`
	Similarity      string          `yaml:"similarity"`
	Highlight       HighlightConfig `yaml:"highlight"`
	RateLimit       float64         `yaml:"rateLimit"`
	RateBurst       int             `yaml:"rateBurst"`
}

type HighlightConfig struct {
	Pre          string `yaml:"pre"`
	Post         string `yaml:"post"`
	FragmentSize int    `yaml:"fragmentSize"`
	Escape       bool   `yaml:"escape"`
}

// CollectionConfig describes one searchable collection: its index
// directory, the fields of its documents and the table its records come
// from.
type CollectionConfig struct {
	Name      string      `yaml:"name"`
	Dir       string      `yaml:"dir"`
	IDField   string      `yaml:"idField"`
	TextField string      `yaml:"textField"`
	Analyzer  string      `yaml:"analyzer"`
	Source    SourceTable `yaml:"source"`
}

type SourceTable struct {
	Table      string `yaml:"table"`
	IDColumn   string `yaml:"idColumn"`
	TextColumn string `yaml:"textColumn"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig controls span tracing (sample rate, endpoint).
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`
	SampleRate float64 `yaml:"sampleRate"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	cfg.resolveCollectionDirs()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Collection returns the collection named name, ignoring case.
func (c *Config) Collection(name string) (CollectionConfig, bool) {
	for _, col := range c.Collections {
		if strings.EqualFold(col.Name, name) {
			return col, true
		}
	}
	return CollectionConfig{}, false
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch c.Source.Driver {
	case DriverPostgres:
	case DriverSQLite:
		if c.Source.SQLitePath == "" {
			return fmt.Errorf("source.sqlitePath is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("source.driver must be %q or %q, got %q", DriverPostgres, DriverSQLite, c.Source.Driver)
	}
	if c.Indexer.RootDir == "" {
		return fmt.Errorf("indexer.rootDir is required")
	}
	if c.Indexer.BatchSize <= 0 {
		return fmt.Errorf("indexer.batchSize must be positive")
	}
	if c.Search.DefaultLimit <= 0 || c.Search.MaxResults < c.Search.DefaultLimit {
		return fmt.Errorf("search.defaultLimit must be positive and not above search.maxResults")
	}
	switch strings.ToUpper(c.Search.DefaultOperator) {
	case "", "AND", "OR":
	default:
		return fmt.Errorf("search.defaultOperator must be AND or OR, got %q", c.Search.DefaultOperator)
	}
	if len(c.Collections) == 0 {
		return fmt.Errorf("at least one collection must be configured")
	}
	seen := make(map[string]bool, len(c.Collections))
	for _, col := range c.Collections {
		key := strings.ToLower(col.Name)
		if col.Name == "" || seen[key] {
			return fmt.Errorf("collection names must be unique and non-empty, got %q", col.Name)
		}
		seen[key] = true
		if col.IDField == "" || col.TextField == "" || col.IDField == col.TextField {
			return fmt.Errorf("collection %s needs distinct idField and textField", col.Name)
		}
		if col.Source.Table == "" || col.Source.IDColumn == "" || col.Source.TextColumn == "" {
			return fmt.Errorf("collection %s needs source table, idColumn and textColumn", col.Name)
		}
	}
	return nil
}

// resolveCollectionDirs places collections without an explicit dir at
// <rootDir>/<Name>Index.
func (c *Config) resolveCollectionDirs() {
	for i := range c.Collections {
		if c.Collections[i].Dir == "" {
			c.Collections[i].Dir = filepath.Join(c.Indexer.RootDir, c.Collections[i].Name+"Index")
		}
	}
}

// defaultConfig returns a Config with defaults for local development. The
// two default collections index question titles and answer bodies.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "qa",
			User:            "qa",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Source: SourceConfig{
			Driver: DriverPostgres,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "qa-search-indexer",
			Topics: KafkaTopics{
				IndexRebuild:    "index.rebuild",
				RecordChanges:   "record.changes",
				IndexComplete:   "index.complete",
				AnalyticsEvents: "analytics-events",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Indexer: IndexerConfig{
			RootDir:        "index",
			LockTimeout:    5 * time.Second,
			BatchSize:      1000,
			SegmentMaxDocs: 50000,
			SourceTimeout:  30 * time.Second,
		},
		Search: SearchConfig{
			DefaultLimit:    10,
			MaxResults:      100,
			Timeout:         5 * time.Second,
			DefaultOperator: "OR",
			Similarity:      "tfidf",
			Highlight: HighlightConfig{
				Pre:          "<span style='color:red'>",
				Post:         "</span>",
				FragmentSize: 100,
			},
			RateLimit: 50,
			RateBurst: 100,
		},
		Collections: []CollectionConfig{
			{
				Name:      "Question",
				IDField:   "questionId",
				TextField: "question",
				Source:    SourceTable{Table: "question", IDColumn: "id", TextColumn: "title"},
			},
			{
				Name:      "Answer",
				IDField:   "answerId",
				TextField: "answer",
				Source:    SourceTable{Table: "answer", IDColumn: "id", TextColumn: "content"},
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads SP_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SP_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SP_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("SP_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("SP_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("SP_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("SP_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("SP_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("SP_SOURCE_DRIVER"); v != "" {
		cfg.Source.Driver = v
	}
	if v := os.Getenv("SP_SOURCE_SQLITE_PATH"); v != "" {
		cfg.Source.SQLitePath = v
	}
	if v := os.Getenv("SP_KAFKA_ENABLED"); v != "" {
		cfg.Kafka.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("SP_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("SP_REDIS_ENABLED"); v != "" {
		cfg.Redis.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("SP_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("SP_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("SP_INDEXER_ROOT_DIR"); v != "" {
		cfg.Indexer.RootDir = v
	}
	if v := os.Getenv("SP_INDEXER_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Indexer.BatchSize = n
		}
	}
	if v := os.Getenv("SP_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SP_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
