package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	DefaultConfigDir  = ".painscan"
	DefaultConfigFile = "config.json"
	DefaultStoreFile  = ".painscan/scans.json"
	DefaultDBFile     = ".painscan/painscan.db"
	DefaultCacheDir   = ".painscan/checkouts"
	EnvPrefix         = "PAINSCAN"
)

// Load reads the config file (if any) and returns a populated Config.
// The configPath flag may override the default location. Every key can be
// overridden from the environment, e.g. PAINSCAN_ANALYZER_MODE=hybrid.
func Load(configPath string) (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("cannot determine home directory: %w", err)
	}

	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(filepath.Join(home, DefaultConfigDir))
	}

	setDefaults(v, home)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file exists but is malformed.
			if !isNotExist(err) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	expandPaths(&cfg, home)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values that would only fail later at runtime.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "file", "sqlite", "mysql":
	default:
		return fmt.Errorf("invalid store driver %q (valid: file, sqlite, mysql)", c.Store.Driver)
	}
	switch c.Analyzer.Mode {
	case "pattern", "ai", "hybrid":
	default:
		return fmt.Errorf("invalid analyzer mode %q (valid: pattern, ai, hybrid)", c.Analyzer.Mode)
	}
	if c.Pipeline.BatchSize <= 0 {
		return fmt.Errorf("pipeline.batch_size must be positive, got %d", c.Pipeline.BatchSize)
	}
	if c.Pipeline.MaxConcurrentScans <= 0 {
		return fmt.Errorf("pipeline.max_concurrent_scans must be positive, got %d", c.Pipeline.MaxConcurrentScans)
	}
	return nil
}

// Save writes the config to disk as JSON.
func Save(cfg *Config, configPath string) error {
	path, err := ConfigPath(configPath)
	if err != nil {
		return fmt.Errorf("cannot determine home directory: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("serialising config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// ConfigPath returns the effective config file path.
func ConfigPath(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, DefaultConfigDir, DefaultConfigFile), nil
}

// Redacted returns a copy safe to print: every credential is masked.
func (c Config) Redacted() Config {
	out := c
	out.AI.OpenAIKey = mask(c.AI.OpenAIKey)
	out.AI.AnthropicKey = mask(c.AI.AnthropicKey)
	out.Database.DSN = mask(c.Database.DSN)
	out.Git.GitHub = make([]GitHubConfig, len(c.Git.GitHub))
	for i, g := range c.Git.GitHub {
		out.Git.GitHub[i] = GitHubConfig{Token: mask(g.Token), Host: g.Host}
	}
	out.Git.GitLab = make([]GitLabConfig, len(c.Git.GitLab))
	for i, g := range c.Git.GitLab {
		out.Git.GitLab[i] = GitLabConfig{Token: mask(g.Token), Host: g.Host}
	}
	out.Notify.Webhook.Secret = mask(c.Notify.Webhook.Secret)
	out.Archive.SecretKey = mask(c.Archive.SecretKey)
	return out
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****"
}

// setDefaults populates viper with sensible out-of-the-box values.
func setDefaults(v *viper.Viper, home string) {
	v.SetDefault("store.driver", "file")
	v.SetDefault("store.path", filepath.Join(home, DefaultStoreFile))

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", filepath.Join(home, DefaultDBFile))
	v.SetDefault("database.dsn", "")

	v.SetDefault("ai.provider", "")
	v.SetDefault("ai.openai_api_key", "")
	v.SetDefault("ai.anthropic_api_key", "")
	v.SetDefault("ai.model", "")
	v.SetDefault("ai.base_url", "")
	v.SetDefault("ai.ollama_url", "http://localhost:11434")
	v.SetDefault("ai.optimize_for_local", false)
	v.SetDefault("ai.timeout_seconds", 60)

	v.SetDefault("git.cache_dir", filepath.Join(home, DefaultCacheDir))
	v.SetDefault("git.clone_timeout_seconds", 120)

	v.SetDefault("analyzer.mode", "pattern")
	v.SetDefault("analyzer.fallback", true)
	v.SetDefault("analyzer.max_findings", 60)
	v.SetDefault("analyzer.max_per_rule", 10)
	v.SetDefault("analyzer.ai_files", 8)
	v.SetDefault("analyzer.metadata_ttl_seconds", 600)
	v.SetDefault("analyzer.hybrid.enhance_on", []string{"hardcoded-secret", "sql-injection", "eval-usage"})
	v.SetDefault("analyzer.hybrid.min_signal", 3)

	v.SetDefault("pipeline.batch_size", 5)
	v.SetDefault("pipeline.batch_pause_ms", 1000)
	v.SetDefault("pipeline.max_concurrent_scans", 4)

	v.SetDefault("gateway.port", 6080)
	v.SetDefault("gateway.bind", "127.0.0.1")

	v.SetDefault("archive.prefix", "scans")
	v.SetDefault("archive.region", "us-east-1")
}

// expandPaths resolves ~ in configured paths.
func expandPaths(cfg *Config, home string) {
	cfg.Store.Path = expandHome(cfg.Store.Path, home)
	cfg.Database.Path = expandHome(cfg.Database.Path, home)
	cfg.Git.CacheDir = expandHome(cfg.Git.CacheDir, home)
}

func expandHome(path, home string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}

func isNotExist(err error) bool {
	return os.IsNotExist(err) || strings.Contains(err.Error(), "no such file")
}
