// Package config loads application configuration with multi-source priority.
//
// Sources, highest priority first:
//  1. Environment variables (DOCCHAT_* prefix)
//  2. Config file (~/.docchat/config.yaml, overridable with DOCCHAT_CONFIG)
//  3. Built-in defaults
//
// Sensitive values (the cookie secret) are never logged; see Redacted().
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Sentinel errors returned by Load and Validate. Check with errors.Is.
var (
	// ErrMissingSecret indicates the session cookie secret is not set.
	ErrMissingSecret = errors.New("missing cookie secret")

	// ErrWeakSecret indicates the cookie secret is shorter than MinSecretLength.
	ErrWeakSecret = errors.New("cookie secret too short")

	// ErrInvalidChunking indicates chunk size/overlap are out of range.
	ErrInvalidChunking = errors.New("invalid chunking parameters")

	// ErrInvalidTopK indicates the retrieval top-k is out of range.
	ErrInvalidTopK = errors.New("invalid top-k")

	// ErrInvalidModelName indicates the generation model name is empty.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidEmbedderModel indicates the embedder model name is empty.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidUploadLimit indicates the upload size limit is non-positive.
	ErrInvalidUploadLimit = errors.New("invalid max upload size")

	// ErrInvalidAddr indicates the listen address is malformed.
	ErrInvalidAddr = errors.New("invalid listen address")
)

const (
	// MinSecretLength is the minimum accepted cookie secret length in bytes.
	// 32 bytes gives the HMAC-SHA256 token signatures full-strength keys.
	MinSecretLength = 32

	// DefaultChunkSize is the target chunk window in characters.
	DefaultChunkSize = 1000

	// DefaultChunkOverlap is the overlap carried between adjacent chunks.
	DefaultChunkOverlap = 200

	// DefaultTopK is the number of chunks retrieved per question.
	DefaultTopK = 5

	// MaxTopK bounds retrieval so a misconfigured value cannot drag the
	// whole collection into every prompt.
	MaxTopK = 50

	// DefaultMaxUploadBytes limits a single upload request body (10 MiB).
	DefaultMaxUploadBytes = 10 << 20

	// DefaultSessionTTL matches the session cookie lifetime.
	DefaultSessionTTL = 7 * 24 * time.Hour
)

// Config holds all application settings.
type Config struct {
	// HTTP
	Addr        string   `mapstructure:"addr"`
	CORSOrigins []string `mapstructure:"cors_origins"`
	Dev         bool     `mapstructure:"dev"` // disables the Secure cookie flag

	// Storage locations
	DataDir   string `mapstructure:"data_dir"`   // chromem collections + session db
	UploadDir string `mapstructure:"upload_dir"` // raw uploaded files

	// Model configuration
	ModelName     string  `mapstructure:"model_name"`
	EmbedderModel string  `mapstructure:"embedder_model"`
	Temperature   float64 `mapstructure:"temperature"`

	// Retrieval tuning
	ChunkSize    int `mapstructure:"chunk_size"`
	ChunkOverlap int `mapstructure:"chunk_overlap"`
	TopK         int `mapstructure:"top_k"`

	// Uploads
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes"`

	// Sessions
	CookieSecret    string        `mapstructure:"cookie_secret"`
	SessionTTL      time.Duration `mapstructure:"session_ttl"`      // 0 disables expiry
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"` // 0 disables the sweeper
	MemorySessions  bool          `mapstructure:"memory_sessions"`  // in-memory store instead of sqlite

	// Logging
	LogJSON  bool   `mapstructure:"log_json"`
	LogLevel string `mapstructure:"log_level"`
}

// Load reads configuration from defaults, the config file, and environment.
func Load() (*Config, error) {
	v := viper.New()

	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	base := filepath.Join(home, ".docchat")

	v.SetDefault("addr", "127.0.0.1:8000")
	v.SetDefault("cors_origins", []string{"http://localhost:5173"})
	v.SetDefault("dev", false)
	v.SetDefault("data_dir", filepath.Join(base, "data"))
	v.SetDefault("upload_dir", filepath.Join(base, "uploads"))
	v.SetDefault("model_name", "googleai/gemini-2.5-flash")
	v.SetDefault("embedder_model", "gemini-embedding-001")
	v.SetDefault("temperature", 0.2)
	v.SetDefault("chunk_size", DefaultChunkSize)
	v.SetDefault("chunk_overlap", DefaultChunkOverlap)
	v.SetDefault("top_k", DefaultTopK)
	v.SetDefault("max_upload_bytes", DefaultMaxUploadBytes)
	v.SetDefault("session_ttl", DefaultSessionTTL)
	v.SetDefault("cleanup_interval", time.Hour)
	v.SetDefault("memory_sessions", false)
	v.SetDefault("log_json", false)
	v.SetDefault("log_level", "info")

	if path := os.Getenv("DOCCHAT_CONFIG"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(base)
	}

	v.SetEnvPrefix("DOCCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// No config file is fine: defaults + env carry the day.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// Validate checks ranges and required values for running the server.
func (c *Config) Validate() error {
	if c.Addr == "" || !strings.Contains(c.Addr, ":") {
		return fmt.Errorf("%w: %q", ErrInvalidAddr, c.Addr)
	}
	if c.ModelName == "" {
		return ErrInvalidModelName
	}
	if c.EmbedderModel == "" {
		return ErrInvalidEmbedderModel
	}
	if c.ChunkSize <= 0 || c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: size=%d overlap=%d (overlap must be >= 0 and < size)",
			ErrInvalidChunking, c.ChunkSize, c.ChunkOverlap)
	}
	if c.TopK <= 0 || c.TopK > MaxTopK {
		return fmt.Errorf("%w: %d (must be 1..%d)", ErrInvalidTopK, c.TopK, MaxTopK)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidUploadLimit, c.MaxUploadBytes)
	}
	if c.CookieSecret == "" {
		return ErrMissingSecret
	}
	if len(c.CookieSecret) < MinSecretLength {
		return fmt.Errorf("%w: got %d bytes, need %d", ErrWeakSecret, len(c.CookieSecret), MinSecretLength)
	}
	return nil
}

// SessionDBPath returns the sqlite database location for session persistence.
func (c *Config) SessionDBPath() string {
	return filepath.Join(c.DataDir, "sessions.db")
}

// VectorDBPath returns the chromem persistence directory.
func (c *Config) VectorDBPath() string {
	return filepath.Join(c.DataDir, "vectors")
}

// Redacted returns a copy safe for logging.
func (c *Config) Redacted() Config {
	out := *c
	if out.CookieSecret != "" {
		out.CookieSecret = "[redacted]"
	}
	return out
}
