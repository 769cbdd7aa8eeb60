package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Defaults applied when neither the environment nor the config file
// provides a value.
const (
	DefaultModel       = "gpt-4.1-mini"
	DefaultParallelism = 3
	DefaultMaxFiles    = 50
	DefaultMaxTokens   = 5000

	DefaultShellRateWindow = time.Minute
	DefaultShellRateLimit  = 50
)

// RateLimit bounds how many shell runs a single client may start per window.
type RateLimit struct {
	Window   time.Duration `json:"-"`
	WindowMs int64         `json:"window_ms"`
	MaxCalls int           `json:"max_calls"`
}

// Config holds all runtime configuration. It is constructed once at startup
// and passed explicitly to the components that need it; nothing reads the
// environment after Load returns.
type Config struct {
	DataDir string `json:"-"`

	// Review defaults
	DefaultModel string `json:"default_model,omitempty"`
	Parallelism  int    `json:"parallelism,omitempty"`
	MaxFiles     int    `json:"max_files,omitempty"`
	MaxTokens    int    `json:"max_tokens,omitempty"`

	// Model access. When AllowExternalSend is false or the key is empty the
	// model client runs in preview mode and never leaves the process.
	OpenAIAPIKey      string `json:"openai_api_key,omitempty"`
	OpenAIBaseURL     string `json:"openai_base_url,omitempty"`
	AllowExternalSend bool   `json:"allow_external_send"`

	// Shell command subsystem
	ShellEnabled   bool      `json:"shell_enabled"`
	ShellRateLimit RateLimit `json:"shell_rate_limit"`

	// Repo auto-discovery root. Empty means the user home directory.
	ScanRoot string `json:"scan_root,omitempty"`
}

// DefaultDataDir resolves the data directory: $REVIEWD_DATA if set,
// otherwise ~/.reviewd.
func DefaultDataDir() (string, error) {
	if dir := os.Getenv("REVIEWD_DATA"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, ".reviewd"), nil
}

// Load builds the configuration from defaults, the optional JSON config file
// under dataDir, and environment variables (highest priority). A .env file
// in the working directory is folded into the environment first.
func Load(dataDir string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DataDir:      dataDir,
		DefaultModel: DefaultModel,
		Parallelism:  DefaultParallelism,
		MaxFiles:     DefaultMaxFiles,
		MaxTokens:    DefaultMaxTokens,
		ShellRateLimit: RateLimit{
			Window:   DefaultShellRateWindow,
			MaxCalls: DefaultShellRateLimit,
		},
	}

	if err := cfg.mergeFile(filepath.Join(dataDir, "config", "config.json")); err != nil {
		return nil, err
	}
	cfg.mergeEnv()

	if cfg.ShellRateLimit.WindowMs > 0 {
		cfg.ShellRateLimit.Window = time.Duration(cfg.ShellRateLimit.WindowMs) * time.Millisecond
	}
	if cfg.Parallelism < 1 {
		cfg.Parallelism = DefaultParallelism
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) mergeEnv() {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.OpenAIAPIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		c.OpenAIBaseURL = v
	}
	if v := os.Getenv("REVIEWD_MODEL"); v != "" {
		c.DefaultModel = v
	}
	if v := os.Getenv("REVIEWD_SCAN_ROOT"); v != "" {
		c.ScanRoot = v
	}
	if v := os.Getenv("ENABLE_SHELL_API"); v == "true" {
		c.ShellEnabled = true
	}
	if v := os.Getenv("ALLOW_EXTERNAL_SEND"); v == "true" {
		c.AllowExternalSend = true
	}
	if n, err := strconv.Atoi(os.Getenv("REVIEWD_PARALLELISM")); err == nil && n > 0 {
		c.Parallelism = n
	}
	if n, err := strconv.Atoi(os.Getenv("SHELL_RATE_LIMIT")); err == nil && n > 0 {
		c.ShellRateLimit.MaxCalls = n
	}
	if n, err := strconv.ParseInt(os.Getenv("SHELL_RATE_WINDOW_MS"), 10, 64); err == nil && n > 0 {
		c.ShellRateLimit.Window = time.Duration(n) * time.Millisecond
	}
}

// EnsureDirs creates the data and config directories if missing.
func (c *Config) EnsureDirs() error {
	if err := os.MkdirAll(filepath.Join(c.DataDir, "config"), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return nil
}
