package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"docqa/internal/chunker"
	"docqa/internal/generation"
	"docqa/internal/lock"
	"docqa/internal/logger"
	"docqa/internal/rag"
	"docqa/internal/sections"
	"docqa/internal/service"
	"docqa/internal/store"
	"docqa/internal/summarizer"
)

// FileName is the config file looked up in the working directory.
const FileName = "docqa.yaml"

// StoreConfig selects the content store and its limits.
type StoreConfig struct {
	store.Config  `yaml:",inline"`
	MaxFileBytes  int64 `yaml:"max_file_bytes"`
	RetentionDays int   `yaml:"retention_days"`
	Workers       int   `yaml:"workers"`
}

// ChunkerConfig configures how documents are split into chunks.
type ChunkerConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	BatchSize   int    `yaml:"batch_size"`
}

// GeminiEmbedderConfig configures the Gemini embedder.
type GeminiEmbedderConfig struct {
	APIKeyEnv string `yaml:"api_key_env"`
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type        string                `yaml:"type"`
	MaxFeatures int                   `yaml:"max_features"`
	CacheSize   int                   `yaml:"cache_size"`
	CacheTTL    time.Duration         `yaml:"cache_ttl"`
	OpenAI      *OpenAIEmbedderConfig `yaml:"openai,omitempty"`
	Gemini      *GeminiEmbedderConfig `yaml:"gemini,omitempty"`
}

// VectorStoreConfig selects and configures the vector store implementation.
type VectorStoreConfig struct {
	Type     string          `yaml:"type"`
	Qdrant   *QdrantConfig   `yaml:"qdrant,omitempty"`
	PGVector *PGVectorConfig `yaml:"pgvector,omitempty"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL         string `yaml:"url"`
	APIKey      string `yaml:"api_key"`
	Collection  string `yaml:"collection"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// PGVectorConfig points at a PostgreSQL database with the vector extension.
type PGVectorConfig struct {
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table"`
}

// GenerationConfig is the primary backend plus ordered fallbacks.
type GenerationConfig struct {
	generation.ProviderConfig `yaml:",inline"`
	Fallbacks                 []generation.ProviderConfig `yaml:"fallbacks"`
	RateLimit                 generation.RateLimit        `yaml:"rate_limit"`
}

// LockConfig selects the per-hash lock: "local" or "redis".
type LockConfig struct {
	Type  string           `yaml:"type"`
	Redis lock.RedisConfig `yaml:"redis"`
}

// CleanupConfig schedules retention cleanup. Schedule is a cron spec.
type CleanupConfig struct {
	Schedule string `yaml:"schedule"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Log         logger.Config     `yaml:"log"`
	Store       StoreConfig       `yaml:"store"`
	Chunker     ChunkerConfig     `yaml:"chunker"`
	Embedder    EmbedderConfig    `yaml:"embedder"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Generation  GenerationConfig  `yaml:"generation"`
	Summarizer  summarizer.Config `yaml:"summarizer"`
	RAG         rag.Config        `yaml:"rag"`
	Sections    sections.Config   `yaml:"sections"`
	Lock        LockConfig        `yaml:"lock"`
	Cleanup     CleanupConfig     `yaml:"cleanup"`
}

// Retention is how long stored documents are kept.
func (c *AppConfig) Retention() time.Duration {
	return time.Duration(c.Store.RetentionDays) * 24 * time.Hour
}

// Service returns the pipeline settings.
func (c *AppConfig) Service() service.Config {
	return service.Config{MaxFileBytes: c.Store.MaxFileBytes, Workers: c.Store.Workers, RAG: c.RAG}
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultConfig(), nil
		}
		return nil, err
	}
	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	applyConfigDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadDefault tries ./docqa.yaml first, then ~/.config/docqa/config.yaml.
// If neither exists, it writes defaults to ~/.config/docqa/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	if _, err := os.Stat(FileName); err == nil {
		cfg, err := Load(FileName)
		return cfg, FileName, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "docqa", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{
		Log: logger.Config{Level: "info", Console: true, FileCount: 5, FileSize: 50, KeepDays: 14},
		Store: StoreConfig{
			Config:        store.Config{Driver: store.DriverSQLite},
			MaxFileBytes:  service.DefaultMaxFileBytes,
			RetentionDays: 30,
			Workers:       4,
		},
		Chunker:     ChunkerConfig{Size: chunker.DefaultSize, Overlap: chunker.DefaultOverlap},
		Embedder:    EmbedderConfig{Type: "tfidf", CacheSize: 1024, CacheTTL: 10 * time.Minute},
		VectorStore: VectorStoreConfig{Type: "memory"},
		Generation: GenerationConfig{
			ProviderConfig: generation.ProviderConfig{Type: generation.ExtractiveName, Timeout: 30 * time.Second},
		},
		Summarizer: summarizer.DefaultConfig(),
		RAG:        rag.DefaultConfig(),
		Sections:   sections.DefaultConfig(),
		Lock:       LockConfig{Type: "local"},
		Cleanup:    CleanupConfig{Schedule: "@daily"},
	}
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = store.DriverSQLite
	}
	if cfg.Store.MaxFileBytes <= 0 {
		cfg.Store.MaxFileBytes = service.DefaultMaxFileBytes
	}
	if cfg.Store.RetentionDays <= 0 {
		cfg.Store.RetentionDays = 30
	}
	if cfg.Chunker.Size == 0 {
		cfg.Chunker.Size = chunker.DefaultSize
	}
	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "tfidf"
	}
	if cfg.Embedder.Type == "openai" && cfg.Embedder.OpenAI != nil {
		if cfg.Embedder.OpenAI.BaseURL == "" {
			cfg.Embedder.OpenAI.BaseURL = "https://api.openai.com/v1"
		}
		if cfg.Embedder.OpenAI.APIKeyEnv == "" {
			cfg.Embedder.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
		}
		if cfg.Embedder.OpenAI.Model == "" {
			cfg.Embedder.OpenAI.Model = "text-embedding-3-small"
		}
		if cfg.Embedder.OpenAI.TimeoutSecs == 0 {
			cfg.Embedder.OpenAI.TimeoutSecs = 30
		}
		if cfg.Embedder.OpenAI.BatchSize == 0 {
			cfg.Embedder.OpenAI.BatchSize = 32
		}
	}
	if cfg.Embedder.Type == "gemini" && cfg.Embedder.Gemini != nil && cfg.Embedder.Gemini.APIKeyEnv == "" {
		cfg.Embedder.Gemini.APIKeyEnv = "GEMINI_API_KEY"
	}
	if cfg.VectorStore.Type == "" {
		cfg.VectorStore.Type = "memory"
	}
	if cfg.Generation.Type == "" {
		cfg.Generation.Type = generation.ExtractiveName
	}
	if cfg.Lock.Type == "" {
		cfg.Lock.Type = "local"
	}
	if cfg.Cleanup.Schedule == "" {
		cfg.Cleanup.Schedule = "@daily"
	}
}

// Validate reports the first invalid setting by its yaml key.
func (c *AppConfig) Validate() error {
	switch c.Store.Driver {
	case store.DriverSQLite:
	case store.DriverPostgres:
		if c.Store.DSN == "" {
			return errors.New("store.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver)
	}
	if c.Chunker.Size <= 0 || c.Chunker.Overlap < 0 || c.Chunker.Overlap >= c.Chunker.Size {
		return fmt.Errorf("chunker: overlap %d must be in [0, size %d)", c.Chunker.Overlap, c.Chunker.Size)
	}
	switch c.Embedder.Type {
	case "tfidf":
	case "openai":
		if c.Embedder.OpenAI == nil {
			return errors.New("embedder.openai is required for the openai embedder")
		}
	case "gemini":
		if c.Embedder.Gemini == nil {
			return errors.New("embedder.gemini is required for the gemini embedder")
		}
	default:
		return fmt.Errorf("embedder.type: unknown embedder %q", c.Embedder.Type)
	}
	switch c.VectorStore.Type {
	case "memory":
	case "qdrant":
		if c.VectorStore.Qdrant == nil || c.VectorStore.Qdrant.URL == "" {
			return errors.New("vector_store.qdrant.url is required for the qdrant store")
		}
	case "pgvector":
		if c.VectorStore.PGVector == nil || c.VectorStore.PGVector.DSN == "" {
			return errors.New("vector_store.pgvector.dsn is required for the pgvector store")
		}
	default:
		return fmt.Errorf("vector_store.type: unknown store %q", c.VectorStore.Type)
	}
	switch strings.ToLower(c.Lock.Type) {
	case "local":
	case "redis":
		if c.Lock.Redis.Addr == "" {
			return errors.New("lock.redis.addr is required for the redis lock")
		}
	default:
		return fmt.Errorf("lock.type: unknown lock %q", c.Lock.Type)
	}
	return nil
}
