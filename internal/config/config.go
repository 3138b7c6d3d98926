package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Provider        string            `mapstructure:"provider" yaml:"provider"`
	Model           string            `mapstructure:"model" yaml:"model,omitempty"`
	OpenAI          OpenAIConfig      `mapstructure:"openai" yaml:"openai"`
	Gemini          GeminiConfig      `mapstructure:"gemini" yaml:"gemini"`
	Anthropic       AnthropicConfig   `mapstructure:"anthropic" yaml:"anthropic"`
	Generation      GenerationConfig  `mapstructure:"generation" yaml:"generation"`
	Scheduler       SchedulerConfig   `mapstructure:"scheduler" yaml:"scheduler"`
	ApprovalMode    string            `mapstructure:"approval_mode" yaml:"approval_mode"`
	Tools           ToolsConfig       `mapstructure:"tools" yaml:"tools"`
	MaxSessionTurns int               `mapstructure:"max_session_turns" yaml:"max_session_turns"`
	LoopDetection   bool              `mapstructure:"loop_detection" yaml:"loop_detection"`
	Compression     CompressionConfig `mapstructure:"compression" yaml:"compression"`
	Retry           RetryConfig       `mapstructure:"retry" yaml:"retry"`
	Session         SessionConfig     `mapstructure:"session" yaml:"session"`
	Debug           bool              `mapstructure:"debug" yaml:"debug"`
	LogFile         string            `mapstructure:"log_file" yaml:"log_file,omitempty"`
	MCP             MCPConfig         `mapstructure:"mcp" yaml:"mcp"`
}

type OpenAIConfig struct {
	APIKey         string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	BaseURL        string `mapstructure:"base_url" yaml:"base_url,omitempty"`
	Model          string `mapstructure:"model" yaml:"model"`
	EmbeddingModel string `mapstructure:"embedding_model" yaml:"embedding_model"`
}

type GeminiConfig struct {
	APIKey         string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	Model          string `mapstructure:"model" yaml:"model"`
	EmbeddingModel string `mapstructure:"embedding_model" yaml:"embedding_model"`
}

type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	Model  string `mapstructure:"model" yaml:"model"`
}

// GenerationConfig holds sampling defaults sent with every request.
// Zero TopK means the backend default.
type GenerationConfig struct {
	Temperature       float64 `mapstructure:"temperature" yaml:"temperature"`
	TopP              float64 `mapstructure:"top_p" yaml:"top_p"`
	TopK              int     `mapstructure:"top_k" yaml:"top_k,omitempty"`
	MaxOutputTokens   int     `mapstructure:"max_output_tokens" yaml:"max_output_tokens"`
	SystemInstruction string  `mapstructure:"system_instruction" yaml:"system_instruction,omitempty"`
}

// SchedulerConfig bounds tool-call confirmation and execution.
// A zero timeout disables it; zero MaxConcurrency means unbounded.
type SchedulerConfig struct {
	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout" yaml:"confirm_timeout"`
	ExecuteTimeout time.Duration `mapstructure:"execute_timeout" yaml:"execute_timeout"`
	MaxConcurrency int           `mapstructure:"max_concurrency" yaml:"max_concurrency"`
}

type ToolsConfig struct {
	Enabled         []string `mapstructure:"enabled" yaml:"enabled"`
	AllowedCommands []string `mapstructure:"allowed_commands" yaml:"allowed_commands,omitempty"`
	AllowedPaths    []string `mapstructure:"allowed_paths" yaml:"allowed_paths,omitempty"`
}

// CompressionConfig controls history summarisation. A zero TokenLimit
// disables it.
type CompressionConfig struct {
	TokenLimit int     `mapstructure:"token_limit" yaml:"token_limit"`
	Threshold  float64 `mapstructure:"threshold" yaml:"threshold"`
	KeepRecent int     `mapstructure:"keep_recent" yaml:"keep_recent"`
}

type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	BaseBackoff time.Duration `mapstructure:"base_backoff" yaml:"base_backoff"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff" yaml:"max_backoff"`
}

type SessionConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path,omitempty"` // default: $XDG_DATA_HOME/noma/sessions.db
}

type MCPConfig struct {
	Servers map[string]MCPServerConfig `mapstructure:"servers" yaml:"servers,omitempty"`
}

// MCPServerConfig describes one stdio MCP server.
type MCPServerConfig struct {
	Command string            `mapstructure:"command" yaml:"command"`
	Args    []string          `mapstructure:"args" yaml:"args,omitempty"`
	Env     map[string]string `mapstructure:"env" yaml:"env,omitempty"`
	Enabled *bool             `mapstructure:"enabled" yaml:"enabled,omitempty"`
}

// IsEnabled reports whether the server should be started. Servers are on unless disabled.
func (s MCPServerConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// Approval modes.
const (
	ApprovalDefault  = "default"
	ApprovalAutoEdit = "auto_edit"
	ApprovalYolo     = "yolo"
)

// Providers.
const (
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"
)

// DefaultTools lists the built-in tools enabled out of the box.
var DefaultTools = []string{"read_file", "write_file", "glob", "shell"}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", ProviderOpenAI)
	v.SetDefault("model", "")
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.embedding_model", "text-embedding-3-small")
	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.model", "gemini-2.5-flash")
	v.SetDefault("gemini.embedding_model", "gemini-embedding-001")
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5")
	v.SetDefault("generation.temperature", 0.7)
	v.SetDefault("generation.top_p", 1.0)
	v.SetDefault("generation.top_k", 0)
	v.SetDefault("generation.max_output_tokens", 4096)
	v.SetDefault("generation.system_instruction", "")
	v.SetDefault("scheduler.confirm_timeout", 10*time.Minute)
	v.SetDefault("scheduler.execute_timeout", 5*time.Minute)
	v.SetDefault("scheduler.max_concurrency", 4)
	v.SetDefault("approval_mode", ApprovalDefault)
	v.SetDefault("tools.enabled", DefaultTools)
	v.SetDefault("tools.allowed_commands", []string{})
	v.SetDefault("tools.allowed_paths", []string{})
	v.SetDefault("max_session_turns", 0)
	v.SetDefault("loop_detection", true)
	v.SetDefault("compression.token_limit", 0)
	v.SetDefault("compression.threshold", 0.7)
	v.SetDefault("compression.keep_recent", 4)
	v.SetDefault("retry.max_attempts", 5)
	v.SetDefault("retry.base_backoff", time.Second)
	v.SetDefault("retry.max_backoff", 30*time.Second)
	v.SetDefault("session.enabled", true)
	v.SetDefault("session.path", "")
	v.SetDefault("debug", false)
	v.SetDefault("log_file", "")
}

func bindEnv(v *viper.Viper) error {
	v.SetEnvPrefix("NOMA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// first set variable wins
	bindings := map[string][]string{
		"openai.api_key":    {"NOMA_OPENAI_API_KEY", "OPENAI_API_KEY", "NOMA_API_KEY"},
		"openai.base_url":   {"NOMA_OPENAI_BASE_URL", "OPENAI_BASE_URL"},
		"gemini.api_key":    {"NOMA_GEMINI_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY"},
		"anthropic.api_key": {"NOMA_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}
	return nil
}

// Load reads configuration from the default locations, the environment and defaults.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile reads configuration from path, or searches the default
// locations when path is empty. A missing default file is not an error.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		configDir, err := GetConfigDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get config dir: %w", err)
		}
		v.SetConfigName("config")
		v.AddConfigPath(configDir)
		v.AddConfigPath(".")
	}

	setDefaults(v)
	if err := bindEnv(v); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.OpenAI.APIKey = expandEnv(cfg.OpenAI.APIKey)
	cfg.Gemini.APIKey = expandEnv(cfg.Gemini.APIKey)
	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks enumerated values and numeric bounds.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderOpenAI, ProviderGemini, ProviderAnthropic:
	default:
		return fmt.Errorf("config: unknown provider %q", c.Provider)
	}
	switch c.ApprovalMode {
	case ApprovalDefault, ApprovalAutoEdit, ApprovalYolo:
	default:
		return fmt.Errorf("config: unknown approval_mode %q", c.ApprovalMode)
	}
	if c.Scheduler.ConfirmTimeout < 0 || c.Scheduler.ExecuteTimeout < 0 {
		return fmt.Errorf("config: scheduler timeouts must not be negative")
	}
	if c.Scheduler.MaxConcurrency < 0 {
		return fmt.Errorf("config: scheduler.max_concurrency must not be negative")
	}
	if c.Compression.TokenLimit < 0 || c.Compression.Threshold < 0 || c.Compression.Threshold > 1 {
		return fmt.Errorf("config: compression.token_limit must not be negative and compression.threshold must be within 0..1")
	}
	if c.MaxSessionTurns < 0 {
		return fmt.Errorf("config: max_session_turns must not be negative")
	}
	for name, server := range c.MCP.Servers {
		if server.Command == "" {
			return fmt.Errorf("config: mcp server %q has no command", name)
		}
	}
	return nil
}

// ApplyOverrides applies provider and model overrides from the command line.
func (c *Config) ApplyOverrides(provider, model string) {
	if provider != "" {
		c.Provider = provider
	}
	if model != "" {
		c.Model = model
	}
}

// ActiveModel returns the model for the selected provider.
func (c *Config) ActiveModel() string {
	if c.Model != "" {
		return c.Model
	}
	switch c.Provider {
	case ProviderGemini:
		return c.Gemini.Model
	case ProviderAnthropic:
		return c.Anthropic.Model
	default:
		return c.OpenAI.Model
	}
}

// Redacted returns a copy safe to print, with API keys masked.
func (c *Config) Redacted() *Config {
	out := *c
	out.OpenAI.APIKey = mask(c.OpenAI.APIKey)
	out.Gemini.APIKey = mask(c.Gemini.APIKey)
	out.Anthropic.APIKey = mask(c.Anthropic.APIKey)
	return &out
}

func mask(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}

// Marshal renders the config as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// LoadDotEnv loads .env files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
		if dir, err := GetConfigDir(); err == nil {
			paths = append(paths, filepath.Join(dir, ".env"))
		}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// expandEnv expands ${VAR} or $VAR in a string
func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return os.Getenv(s[2 : len(s)-1])
	}
	if strings.HasPrefix(s, "$") {
		return os.Getenv(s[1:])
	}
	return s
}

// GetConfigDir returns the XDG config directory for noma.
// Uses $XDG_CONFIG_HOME if set, otherwise ~/.config
func GetConfigDir() (string, error) {
	if xdgHome := os.Getenv("XDG_CONFIG_HOME"); xdgHome != "" {
		return filepath.Join(xdgHome, "noma"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".config", "noma"), nil
}

// GetConfigPath returns the path where the config file should be located
func GetConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.yaml"), nil
}

// GetDataDir returns the XDG data directory for noma.
// Uses $XDG_DATA_HOME if set, otherwise ~/.local/share
func GetDataDir() (string, error) {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "noma"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".local", "share", "noma"), nil
}

// Defaults returns the configuration produced by an empty file and environment.
func Defaults() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// defaults are static and always decode
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Save writes cfg to path as YAML, creating parent directories.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := cfg.Marshal()
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}
