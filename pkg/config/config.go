package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all meshbridge configuration.
type Config struct {
	Listen       string         `yaml:"listen"`
	DataDir      string         `yaml:"data_dir"`
	StaticPrefix string         `yaml:"static_prefix"`
	Placeholder  string         `yaml:"placeholder"`
	Remote       RemoteConfig   `yaml:"remote"`
	Cache        CacheConfig    `yaml:"cache"`
	Sessions     SessionsConfig `yaml:"sessions"`
	Generate     GenerateConfig `yaml:"generate"`
	Server       ServerConfig   `yaml:"server"`
	Ledger       LedgerConfig   `yaml:"ledger"`
	Log          LogConfig      `yaml:"log"`
}

// RemoteConfig points at the Gradio Space that does the actual generation.
type RemoteConfig struct {
	BaseURL         string        `yaml:"base_url"`
	APIPrefix       string        `yaml:"api_prefix"`
	APIName         string        `yaml:"api_name"`
	HFToken         string        `yaml:"hf_token"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	DownloadTimeout time.Duration `yaml:"download_timeout"`
}

// CacheConfig selects and configures the cache backend.
// Backend is "file" (default), "sqlite" or "redis".
type CacheConfig struct {
	Backend   string      `yaml:"backend"`
	IndexPath string      `yaml:"index_path"`
	DBPath    string      `yaml:"db_path"`
	Redis     RedisConfig `yaml:"redis"`
}

// RedisConfig is used when the cache backend is redis.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// SessionsConfig controls session persistence.
type SessionsConfig struct {
	Dir string `yaml:"dir"`
}

// GenerateConfig tunes the generation service.
type GenerateConfig struct {
	BatchConcurrency int `yaml:"batch_concurrency"`
}

// ServerConfig controls the HTTP surface.
type ServerConfig struct {
	CORSOrigins []string        `yaml:"cors_origins"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig is a per-client-IP token bucket.
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled"`
	RPS     float64 `yaml:"rps"`
	Burst   int     `yaml:"burst"`
}

// LedgerConfig controls the SQLite generation ledger.
type LedgerConfig struct {
	Enabled bool   `yaml:"enabled"`
	DBPath  string `yaml:"db_path"`
}

// LogConfig controls the zap logger. Format is "json" or "console".
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen:       ":8000",
		DataDir:      ".",
		StaticPrefix: "/static",
		Remote: RemoteConfig{
			BaseURL:         "https://hysts-shap-e.hf.space",
			APIPrefix:       "/gradio_api",
			APIName:         "text-to-3d",
			RequestTimeout:  10 * time.Minute,
			DownloadTimeout: 600 * time.Second,
		},
		Cache: CacheConfig{
			Backend: "file",
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "meshbridge:cache:",
			},
		},
		Generate: GenerateConfig{
			BatchConcurrency: 1,
		},
		Server: ServerConfig{
			RateLimit: RateLimitConfig{RPS: 2, Burst: 4},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault loads path, falling back to Default when the file does not
// exist and the caller did not ask for it explicitly.
func LoadOrDefault(path string, explicit bool) (*Config, error) {
	cfg, err := Load(path)
	if err != nil && !explicit && errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// StaticDir is the directory served under StaticPrefix.
func (c *Config) StaticDir() string {
	return filepath.Join(c.DataDir, "static")
}

// ModelsDir is where materialized assets are written.
func (c *Config) ModelsDir() string {
	return filepath.Join(c.StaticDir(), "models")
}

// SessionsDir returns the session directory, defaulting under DataDir.
func (c *Config) SessionsDir() string {
	if c.Sessions.Dir != "" {
		return c.Sessions.Dir
	}
	return filepath.Join(c.DataDir, "sessions")
}

// CacheIndexPath returns the file cache index path, defaulting under DataDir.
func (c *Config) CacheIndexPath() string {
	if c.Cache.IndexPath != "" {
		return c.Cache.IndexPath
	}
	return filepath.Join(c.DataDir, "cache_index.json")
}

// CacheDBPath returns the SQLite cache path, defaulting under DataDir.
func (c *Config) CacheDBPath() string {
	if c.Cache.DBPath != "" {
		return c.Cache.DBPath
	}
	return filepath.Join(c.DataDir, "meshbridge.db")
}

// LedgerDBPath returns the ledger database path, defaulting under DataDir.
func (c *Config) LedgerDBPath() string {
	if c.Ledger.DBPath != "" {
		return c.Ledger.DBPath
	}
	return filepath.Join(c.DataDir, "meshbridge.db")
}

// PlaceholderPath returns the quota fallback asset, defaulting to
// placeholder.glb in the models directory.
func (c *Config) PlaceholderPath() string {
	if c.Placeholder != "" {
		return c.Placeholder
	}
	return filepath.Join(c.ModelsDir(), "placeholder.glb")
}

// EnsureDirs creates the directories the bridge writes into.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.StaticDir(), c.ModelsDir(), c.SessionsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}
