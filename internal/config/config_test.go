package config

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Addr:           "127.0.0.1:8000",
		ModelName:      "googleai/gemini-2.5-flash",
		EmbedderModel:  "gemini-embedding-001",
		ChunkSize:      1000,
		ChunkOverlap:   200,
		TopK:           5,
		MaxUploadBytes: 10 << 20,
		CookieSecret:   strings.Repeat("s", MinSecretLength),
		SessionTTL:     7 * 24 * time.Hour,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing addr", mutate: func(c *Config) { c.Addr = "" }, wantErr: ErrInvalidAddr},
		{name: "addr without port", mutate: func(c *Config) { c.Addr = "localhost" }, wantErr: ErrInvalidAddr},
		{name: "missing model", mutate: func(c *Config) { c.ModelName = "" }, wantErr: ErrInvalidModelName},
		{name: "missing embedder", mutate: func(c *Config) { c.EmbedderModel = "" }, wantErr: ErrInvalidEmbedderModel},
		{name: "zero chunk size", mutate: func(c *Config) { c.ChunkSize = 0 }, wantErr: ErrInvalidChunking},
		{name: "overlap >= size", mutate: func(c *Config) { c.ChunkOverlap = c.ChunkSize }, wantErr: ErrInvalidChunking},
		{name: "negative overlap", mutate: func(c *Config) { c.ChunkOverlap = -1 }, wantErr: ErrInvalidChunking},
		{name: "zero top-k", mutate: func(c *Config) { c.TopK = 0 }, wantErr: ErrInvalidTopK},
		{name: "excessive top-k", mutate: func(c *Config) { c.TopK = MaxTopK + 1 }, wantErr: ErrInvalidTopK},
		{name: "zero upload limit", mutate: func(c *Config) { c.MaxUploadBytes = 0 }, wantErr: ErrInvalidUploadLimit},
		{name: "missing secret", mutate: func(c *Config) { c.CookieSecret = "" }, wantErr: ErrMissingSecret},
		{name: "short secret", mutate: func(c *Config) { c.CookieSecret = "short" }, wantErr: ErrWeakSecret},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	// Point at a nonexistent config file so a developer's real one cannot
	// leak into the test.
	t.Setenv("DOCCHAT_CONFIG", filepath.Join(t.TempDir(), "none.yaml"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.ChunkSize != DefaultChunkSize {
		t.Errorf("ChunkSize = %d, want %d", cfg.ChunkSize, DefaultChunkSize)
	}
	if cfg.ChunkOverlap != DefaultChunkOverlap {
		t.Errorf("ChunkOverlap = %d, want %d", cfg.ChunkOverlap, DefaultChunkOverlap)
	}
	if cfg.TopK != DefaultTopK {
		t.Errorf("TopK = %d, want %d", cfg.TopK, DefaultTopK)
	}
	if cfg.SessionTTL != DefaultSessionTTL {
		t.Errorf("SessionTTL = %v, want %v", cfg.SessionTTL, DefaultSessionTTL)
	}
	if cfg.MaxUploadBytes != DefaultMaxUploadBytes {
		t.Errorf("MaxUploadBytes = %d, want %d", cfg.MaxUploadBytes, DefaultMaxUploadBytes)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("DOCCHAT_CONFIG", filepath.Join(t.TempDir(), "none.yaml"))
	t.Setenv("DOCCHAT_TOP_K", "9")
	t.Setenv("DOCCHAT_MODEL_NAME", "googleai/gemini-2.5-pro")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.TopK != 9 {
		t.Errorf("TopK = %d, want 9 from environment", cfg.TopK)
	}
	if cfg.ModelName != "googleai/gemini-2.5-pro" {
		t.Errorf("ModelName = %q, want env override", cfg.ModelName)
	}
}

func TestRedacted(t *testing.T) {
	cfg := validConfig()
	red := cfg.Redacted()

	if red.CookieSecret == cfg.CookieSecret {
		t.Error("Redacted() kept the cookie secret")
	}
	if cfg.CookieSecret == "[redacted]" {
		t.Error("Redacted() mutated the original")
	}
	if red.Addr != cfg.Addr {
		t.Error("Redacted() altered a non-sensitive field")
	}
}

func TestDerivedPaths(t *testing.T) {
	cfg := &Config{DataDir: "/var/lib/docchat"}

	if got := cfg.SessionDBPath(); !strings.HasPrefix(got, "/var/lib/docchat") {
		t.Errorf("SessionDBPath() = %q, want under DataDir", got)
	}
	if got := cfg.VectorDBPath(); !strings.HasPrefix(got, "/var/lib/docchat") {
		t.Errorf("VectorDBPath() = %q, want under DataDir", got)
	}
	if cfg.SessionDBPath() == cfg.VectorDBPath() {
		t.Error("session db and vector dir collide")
	}
}
