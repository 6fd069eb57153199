// Package config provides application configuration.
//
// Values are resolved in three layers: built-in defaults, an optional YAML
// file, then environment variables (a .env file is loaded first when present).
package config

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// Config holds all application configuration.
type Config struct {
	Addr       string           `yaml:"addr"`
	LogLevel   string           `yaml:"log_level"`
	LogJSON    bool             `yaml:"log_json"`
	RulesFile  string           `yaml:"rules_file"`
	Store      StoreConfig      `yaml:"store"`
	Engine     EngineConfig     `yaml:"engine"`
	Catalog    CatalogConfig    `yaml:"catalog"`
	Encryption EncryptionConfig `yaml:"encryption"`
	Agent      AgentConfig      `yaml:"agent"`
	Sessions   SessionConfig    `yaml:"sessions"`
}

// StoreConfig selects the durable transcript store.
type StoreConfig struct {
	Backend     string        `yaml:"backend"`
	DBPath      string        `yaml:"db_path"`
	RedisAddr   string        `yaml:"redis_addr"`
	RedisPrefix string        `yaml:"redis_prefix"`
	TTL         time.Duration `yaml:"ttl"`
	Lock        bool          `yaml:"lock"` // Redis distributed lock for multi-replica deployments
	MaskPII     bool          `yaml:"mask_pii"`
	QueueSize   int           `yaml:"queue_size"`
}

// EngineConfig configures the reasoning engine client.
type EngineConfig struct {
	APIKey          string        `yaml:"api_key"`
	BaseURL         string        `yaml:"base_url"`
	Model           string        `yaml:"model"`
	AzureEndpoint   string        `yaml:"azure_endpoint"`
	AzureAPIVersion string        `yaml:"azure_api_version"`
	Timeout         time.Duration `yaml:"timeout"`
}

// CatalogConfig selects the product catalog. An empty URL uses the static catalog.
type CatalogConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
	File   string `yaml:"file"`
	Limit  int    `yaml:"limit"`
}

// EncryptionConfig holds the transcript sealing keys.
type EncryptionConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Key       string `yaml:"-"`
	BackupKey string `yaml:"-"`
}

// AgentConfig bounds the reasoning loop and the material normalizer.
type AgentConfig struct {
	MaxIterations  int  `yaml:"max_iterations"`
	ModelNormalize bool `yaml:"model_normalize"`
}

// SessionConfig controls eviction of idle conversations.
type SessionConfig struct {
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Addr:     ":8080",
		LogLevel: "info",
		Store: StoreConfig{
			Backend:     StoreSQLite,
			DBPath:      "./data/orderdesk.db",
			RedisAddr:   "localhost:6379",
			RedisPrefix: "orderdesk:",
			TTL:         7 * 24 * time.Hour,
			MaskPII:     true,
			QueueSize:   256,
		},
		Engine: EngineConfig{
			Model:           "gpt-4o",
			AzureAPIVersion: "2024-06-01",
			Timeout:         30 * time.Second,
		},
		Catalog:    CatalogConfig{Limit: 5},
		Encryption: EncryptionConfig{Enabled: true},
		Agent:      AgentConfig{MaxIterations: 5, ModelNormalize: true},
		Sessions: SessionConfig{
			IdleTimeout:   30 * time.Minute,
			SweepInterval: time.Minute,
		},
	}
}

// LoadEnvFile loads variables from a .env file without overriding the
// environment. An empty path tries ./.env and ignores its absence.
func LoadEnvFile(path string) error {
	if path == "" {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// Load reads the YAML file at path (optional) and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Addr = getEnv("ORDERDESK_ADDR", c.Addr)
	c.LogLevel = getEnv("ORDERDESK_LOG_LEVEL", c.LogLevel)
	c.LogJSON = getEnvBool("ORDERDESK_LOG_JSON", c.LogJSON)
	c.RulesFile = getEnv("ORDERDESK_RULES_FILE", c.RulesFile)

	c.Store.Backend = strings.ToLower(getEnv("ORDERDESK_STORE", c.Store.Backend))
	c.Store.DBPath = getEnv("DB_PATH", c.Store.DBPath)
	c.Store.RedisAddr = getEnv("REDIS_ADDR", c.Store.RedisAddr)
	c.Store.RedisPrefix = getEnv("ORDERDESK_REDIS_PREFIX", c.Store.RedisPrefix)
	c.Store.TTL = getEnvDuration("ORDERDESK_SESSION_TTL", c.Store.TTL)
	c.Store.Lock = getEnvBool("ORDERDESK_REDIS_LOCK", c.Store.Lock)
	c.Store.MaskPII = getEnvBool("ORDERDESK_MASK_PII", c.Store.MaskPII)
	c.Store.QueueSize = getEnvInt("ORDERDESK_QUEUE_SIZE", c.Store.QueueSize)

	// Azure settings win over plain OpenAI when both are present.
	c.Engine.APIKey = getEnv("OPENAI_API_KEY", c.Engine.APIKey)
	c.Engine.BaseURL = getEnv("OPENAI_BASE_URL", c.Engine.BaseURL)
	c.Engine.Model = getEnv("OPENAI_MODEL", c.Engine.Model)
	c.Engine.AzureEndpoint = getEnv("AZURE_OPENAI_ENDPOINT", c.Engine.AzureEndpoint)
	c.Engine.APIKey = getEnv("AZURE_OPENAI_KEY", c.Engine.APIKey)
	c.Engine.AzureAPIVersion = getEnv("AZURE_OPENAI_API_VERSION", c.Engine.AzureAPIVersion)
	c.Engine.Model = getEnv("AZURE_OPENAI_DEPLOYMENT", c.Engine.Model)
	c.Engine.Timeout = getEnvDuration("ORDERDESK_ENGINE_TIMEOUT", c.Engine.Timeout)

	c.Catalog.URL = getEnv("ORDERDESK_CATALOG_URL", c.Catalog.URL)
	c.Catalog.APIKey = getEnv("ORDERDESK_CATALOG_API_KEY", c.Catalog.APIKey)
	c.Catalog.File = getEnv("ORDERDESK_CATALOG_FILE", c.Catalog.File)
	c.Catalog.Limit = getEnvInt("ORDERDESK_CATALOG_LIMIT", c.Catalog.Limit)

	c.Encryption.Enabled = getEnvBool("ENCRYPTION_ENABLED", c.Encryption.Enabled)
	c.Encryption.Key = getEnv("ENCRYPTION_KEY", c.Encryption.Key)
	c.Encryption.BackupKey = getEnv("ENCRYPTION_KEY_BACKUP", c.Encryption.BackupKey)

	c.Agent.MaxIterations = getEnvInt("ORDERDESK_MAX_ITERATIONS", c.Agent.MaxIterations)
	c.Agent.ModelNormalize = getEnvBool("ORDERDESK_MODEL_NORMALIZE", c.Agent.ModelNormalize)

	c.Sessions.IdleTimeout = getEnvDuration("ORDERDESK_IDLE_TIMEOUT", c.Sessions.IdleTimeout)
	c.Sessions.SweepInterval = getEnvDuration("ORDERDESK_SWEEP_INTERVAL", c.Sessions.SweepInterval)
}

// Validate checks that all required configuration fields are set.
// The engine API key is checked by EngineReady, since some commands run offline.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.New("ORDERDESK_ADDR cannot be empty")
	}
	switch c.Store.Backend {
	case StoreMemory:
	case StoreSQLite:
		if c.Store.DBPath == "" {
			return errors.New("DB_PATH cannot be empty")
		}
	case StoreRedis:
		if c.Store.RedisAddr == "" {
			return errors.New("REDIS_ADDR cannot be empty")
		}
	default:
		return fmt.Errorf("unknown store backend %q (memory, sqlite, redis)", c.Store.Backend)
	}
	if c.Store.Lock && c.Store.Backend != StoreRedis {
		return errors.New("the distributed lock requires the redis store")
	}
	if c.Store.QueueSize <= 0 {
		return errors.New("ORDERDESK_QUEUE_SIZE must be > 0")
	}
	if c.Agent.MaxIterations <= 0 {
		return errors.New("ORDERDESK_MAX_ITERATIONS must be > 0")
	}
	if c.Engine.Timeout <= 0 {
		return errors.New("ORDERDESK_ENGINE_TIMEOUT must be > 0")
	}
	if c.Catalog.Limit <= 0 {
		return errors.New("ORDERDESK_CATALOG_LIMIT must be > 0")
	}
	if c.Sessions.IdleTimeout <= 0 || c.Sessions.SweepInterval <= 0 {
		return errors.New("session idle timeout and sweep interval must be > 0")
	}
	if c.Encryption.Enabled && c.Store.Backend != StoreMemory {
		if c.Encryption.Key == "" {
			return errors.New("ENCRYPTION_KEY is required when encryption is enabled (set ENCRYPTION_ENABLED=false for development)")
		}
		if _, _, err := c.Encryption.Keys(); err != nil {
			return err
		}
	}
	return nil
}

// EngineReady reports whether the reasoning engine can be constructed.
func (c *Config) EngineReady() error {
	if c.Engine.APIKey == "" {
		return errors.New("OPENAI_API_KEY or AZURE_OPENAI_KEY is required")
	}
	return nil
}

// Keys decodes the active and backup keys. Each must decode to 32 bytes from
// hex or from standard or URL-safe base64.
func (e EncryptionConfig) Keys() (active []byte, fallback [][]byte, err error) {
	active, err = DecodeKey(e.Key)
	if err != nil {
		return nil, nil, fmt.Errorf("ENCRYPTION_KEY: %w", err)
	}
	if e.BackupKey != "" {
		backup, err := DecodeKey(e.BackupKey)
		if err != nil {
			return nil, nil, fmt.Errorf("ENCRYPTION_KEY_BACKUP: %w", err)
		}
		fallback = append(fallback, backup)
	}
	return active, fallback, nil
}

// DecodeKey decodes a 32-byte key.
func DecodeKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if b, err := hex.DecodeString(s); err == nil && len(b) == 32 {
		return b, nil
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		if b, err := enc.DecodeString(s); err == nil && len(b) == 32 {
			return b, nil
		}
	}
	return nil, errors.New("key must be 32 bytes encoded as hex or base64")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
