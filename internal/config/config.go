// ABOUTME: Configuration loading and parsing for kbchat
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the complete kbchat configuration
type Config struct {
	Server     ServerConfig     `yaml:"server" toml:"server"`
	Chat       ChatConfig       `yaml:"chat" toml:"chat"`
	Uploads    UploadsConfig    `yaml:"uploads" toml:"uploads"`
	Transcript TranscriptConfig `yaml:"transcript" toml:"transcript"`
	Logging    LoggingConfig    `yaml:"logging" toml:"logging"`
}

// ServerConfig holds the assistant server connection settings
type ServerConfig struct {
	BaseURL           string        `yaml:"base_url" toml:"base_url"`
	Token             string        `yaml:"token" toml:"token"`
	RequestTimeoutRaw string        `yaml:"request_timeout" toml:"request_timeout"`
	RequestTimeout    time.Duration `yaml:"-" toml:"-"`
}

// ChatConfig holds chat session defaults
type ChatConfig struct {
	RAGEnabled bool `yaml:"rag_enabled" toml:"rag_enabled"`
}

// UploadsConfig holds upload queue settings
type UploadsConfig struct {
	FailureGraceRaw string        `yaml:"failure_grace" toml:"failure_grace"`
	FailureGrace    time.Duration `yaml:"-" toml:"-"`
}

// TranscriptConfig holds the local transcript ledger settings
type TranscriptConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			BaseURL:           "http://localhost:8000",
			RequestTimeoutRaw: "30s",
			RequestTimeout:    30 * time.Second,
		},
		Chat: ChatConfig{RAGEnabled: true},
		Uploads: UploadsConfig{
			FailureGraceRaw: "3s",
			FailureGrace:    3 * time.Second,
		},
		Transcript: TranscriptConfig{
			Enabled: true,
			Path:    filepath.Join(DataDir(), "transcript.db"),
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, anything else as YAML. Keys absent
// from the file keep their Default values.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.Transcript.Path = expandHome(cfg.Transcript.Path)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadDefault loads the file at Path. A missing file yields Default, unless
// its location was given explicitly through KBCHAT_CONFIG.
func LoadDefault() (*Config, error) {
	path := Path()
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, os.ErrNotExist) && os.Getenv("KBCHAT_CONFIG") == "" {
		return Default(), nil
	}
	return nil, err
}

// Path returns the config file location.
// Priority: KBCHAT_CONFIG env var > XDG_CONFIG_HOME/kbchat/config.yaml > ~/.config/kbchat/config.yaml
func Path() string {
	if envPath := os.Getenv("KBCHAT_CONFIG"); envPath != "" {
		return envPath
	}
	return filepath.Join(configDir(), "kbchat", "config.yaml")
}

// DataDir returns the kbchat data directory.
// Priority: XDG_DATA_HOME/kbchat > ~/.local/share/kbchat
func DataDir() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "kbchat")
}

func configDir() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "."
		}
		dir = filepath.Join(homeDir, ".config")
	}
	return dir
}

// Token returns the bearer token to use: the configured one, else
// KBCHAT_TOKEN, else the contents of <config dir>/kbchat/token.
func (c *Config) Token() string {
	if c.Server.Token != "" {
		return c.Server.Token
	}
	if token := os.Getenv("KBCHAT_TOKEN"); token != "" {
		return token
	}
	data, err := os.ReadFile(filepath.Join(configDir(), "kbchat", "token"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(homeDir, strings.TrimPrefix(p, "~"))
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}
	u, err := url.Parse(c.Server.BaseURL)
	if err != nil {
		return fmt.Errorf("server.base_url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server.base_url must use http or https scheme")
	}

	if c.Server.RequestTimeout < 0 {
		return fmt.Errorf("server.request_timeout must not be negative")
	}
	if c.Uploads.FailureGrace < 0 {
		return fmt.Errorf("uploads.failure_grace must not be negative")
	}

	if c.Transcript.Enabled && c.Transcript.Path == "" {
		return fmt.Errorf("transcript.path is required when transcript is enabled")
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Server.RequestTimeoutRaw != "" {
		cfg.Server.RequestTimeout, err = time.ParseDuration(cfg.Server.RequestTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing request_timeout %q: %w", cfg.Server.RequestTimeoutRaw, err)
		}
	}

	if cfg.Uploads.FailureGraceRaw != "" {
		cfg.Uploads.FailureGrace, err = time.ParseDuration(cfg.Uploads.FailureGraceRaw)
		if err != nil {
			return fmt.Errorf("parsing failure_grace %q: %w", cfg.Uploads.FailureGraceRaw, err)
		}
	}

	return nil
}
