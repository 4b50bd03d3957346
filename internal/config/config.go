package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultConfigPath is used when --config is not provided.
	DefaultConfigPath = "config.yml"

	defaultPort       = 2347
	defaultEnv        = "development"
	defaultDBHost     = "127.0.0.1"
	defaultDBPort     = 3306
	defaultDBUser     = "root"
	defaultDBPassword = "password"
	defaultDBName     = "shiftsight"
	defaultDBCharset  = "utf8mb4"
	defaultDBLoc      = "Local"
	defaultRedisHost  = "localhost"
	defaultRedisPort  = 6379

	defaultUploadDir         = "uploads"
	defaultMaxUploadSizeMB   = 10
	defaultBatchSize         = 10
	defaultWindowSize        = 500
	defaultRetentionDays     = 30
	defaultSecondsPerBatch   = 3
	defaultQueueMaxAttempts  = 3
	defaultQueueBackoffMS    = 2000
	defaultProviderModelName = "gpt-4o"
)

// AppConfig holds runtime startup configuration loaded from YAML.
type AppConfig struct {
	Port           int                   `yaml:"port"`
	Env            string                `yaml:"env"` // "development" | "production"
	Database       DatabaseRuntimeConfig `yaml:"database"`
	Redis          RedisRuntimeConfig    `yaml:"redis"`
	JWTSecret      string                `yaml:"jwt_secret"`
	AllowedOrigins []string              `yaml:"allowed_origins"`
	Upload         UploadConfig          `yaml:"upload"`
	Pipeline       PipelineConfig        `yaml:"pipeline"`
	AI             AIConfig              `yaml:"ai"`
	Archive        ArchiveConfig         `yaml:"archive"`
	LegacyMongo    LegacyMongoConfig     `yaml:"legacy_mongo"`
}

type DatabaseRuntimeConfig struct {
	DSN      string            `yaml:"dsn"`
	Host     string            `yaml:"host"`
	Port     int               `yaml:"port"`
	User     string            `yaml:"user"`
	Password string            `yaml:"password"`
	Name     string            `yaml:"name"`
	Charset  string            `yaml:"charset"`
	Loc      string            `yaml:"loc"`
	Params   map[string]string `yaml:"params"`
}

type RedisRuntimeConfig struct {
	URL      string `yaml:"url"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// UploadConfig controls the temporary storage of submitted CSV files.
type UploadConfig struct {
	Dir           string `yaml:"dir"`
	MaxFileSizeMB int64  `yaml:"max_file_size_mb"`
}

// PipelineConfig tunes the CSV analysis pipeline.
type PipelineConfig struct {
	BatchSize          int `yaml:"batch_size"`           // rows per analysis-provider call
	WindowSize         int `yaml:"window_size"`          // rows per ingestion window
	CacheRetentionDays int `yaml:"cache_retention_days"` // cache entry lifetime
	SecondsPerBatch    int `yaml:"seconds_per_batch"`    // upload-time ETA seed
	QueueMaxAttempts   int `yaml:"queue_max_attempts"`
	QueueBackoffMS     int `yaml:"queue_backoff_ms"` // exponential backoff base
}

// AIConfig configures the external analysis providers.
type AIConfig struct {
	Providers     []AIProvider `yaml:"providers"`
	PromptVersion string       `yaml:"prompt_version"`
}

// AIProvider is one configured analysis backend.
type AIProvider struct {
	ID           string `yaml:"id"`
	Type         string `yaml:"type"` // "openai" | "anthropic" | "openai-compatible"
	APIKey       string `yaml:"api_key"`
	Endpoint     string `yaml:"endpoint"`
	DefaultModel string `yaml:"default_model"`
	Enabled      bool   `yaml:"enabled"`
}

// ArchiveConfig optionally mirrors completed audit reports to S3.
type ArchiveConfig struct {
	Enable          bool   `yaml:"enable"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Endpoint        string `yaml:"endpoint"`
	Prefix          string `yaml:"prefix"`
}

// LegacyMongoConfig points at the retired Node deployment's MongoDB,
// used only by the one-shot legacy import.
type LegacyMongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

func (c *AppConfig) IsDev() bool {
	return strings.EqualFold(strings.TrimSpace(c.Env), "development")
}

// Load reads and validates a YAML config file.
func Load(configPath string) (*AppConfig, error) {
	path := strings.TrimSpace(configPath)
	if path == "" {
		path = DefaultConfigPath
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %q: %w", path, err)
	}

	cfg := defaultAppConfig()
	decoder := yaml.NewDecoder(bytes.NewReader(content))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config file %q: %w", path, err)
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d in %q, expected 1-65535", cfg.Port, path)
	}
	if cfg.Database.Port < 1 || cfg.Database.Port > 65535 {
		return nil, fmt.Errorf("invalid database.port %d in %q, expected 1-65535", cfg.Database.Port, path)
	}
	if cfg.Redis.Port < 1 || cfg.Redis.Port > 65535 {
		return nil, fmt.Errorf("invalid redis.port %d in %q, expected 1-65535", cfg.Redis.Port, path)
	}
	if cfg.Pipeline.BatchSize < 1 {
		return nil, fmt.Errorf("invalid pipeline.batch_size %d in %q, expected >= 1", cfg.Pipeline.BatchSize, path)
	}
	if cfg.Pipeline.WindowSize < cfg.Pipeline.BatchSize {
		return nil, fmt.Errorf("pipeline.window_size %d must be >= pipeline.batch_size %d", cfg.Pipeline.WindowSize, cfg.Pipeline.BatchSize)
	}
	if cfg.Pipeline.CacheRetentionDays < 1 {
		return nil, fmt.Errorf("invalid pipeline.cache_retention_days %d in %q, expected >= 1", cfg.Pipeline.CacheRetentionDays, path)
	}
	if cfg.Archive.Enable {
		if cfg.Archive.Bucket == "" || cfg.Archive.Region == "" {
			return nil, fmt.Errorf("archive.bucket and archive.region are required when archive.enable is true")
		}
	}

	return &cfg, nil
}

func defaultAppConfig() AppConfig {
	return AppConfig{
		Port: defaultPort,
		Env:  defaultEnv,
		Database: DatabaseRuntimeConfig{
			Host:     defaultDBHost,
			Port:     defaultDBPort,
			User:     defaultDBUser,
			Password: defaultDBPassword,
			Name:     defaultDBName,
			Charset:  defaultDBCharset,
			Loc:      defaultDBLoc,
		},
		Redis: RedisRuntimeConfig{
			Host: defaultRedisHost,
			Port: defaultRedisPort,
		},
		Upload: UploadConfig{
			Dir:           defaultUploadDir,
			MaxFileSizeMB: defaultMaxUploadSizeMB,
		},
		Pipeline: PipelineConfig{
			BatchSize:          defaultBatchSize,
			WindowSize:         defaultWindowSize,
			CacheRetentionDays: defaultRetentionDays,
			SecondsPerBatch:    defaultSecondsPerBatch,
			QueueMaxAttempts:   defaultQueueMaxAttempts,
			QueueBackoffMS:     defaultQueueBackoffMS,
		},
		AI: AIConfig{
			PromptVersion: "v1",
		},
	}
}

// ActiveProvider returns the first enabled analysis provider, or nil.
func (c *AIConfig) ActiveProvider() *AIProvider {
	for i := range c.Providers {
		if c.Providers[i].Enabled {
			return &c.Providers[i]
		}
	}
	return nil
}

// ModelVersion is the model identifier recorded in cache keys.
func (p *AIProvider) ModelVersion() string {
	if p == nil {
		return defaultProviderModelName
	}
	if m := strings.TrimSpace(p.DefaultModel); m != "" {
		return m
	}
	return defaultProviderModelName
}
