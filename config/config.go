package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"chatdesk/model"
)

type SystemConfig struct {
	DataDirectory string `toml:"data_directory"`
}

type StreamConfig struct {
	MaxConcurrent int `toml:"max_concurrent"`
}

type ChatConfig struct {
	ContextMessages int     `toml:"context_messages"`
	DefaultProvider string  `toml:"default_provider,omitempty"`
	DefaultModel    string  `toml:"default_model,omitempty"`
	Temperature     float64 `toml:"temperature,omitempty"`
}

type ProviderConfig struct {
	ID      string `toml:"id"`
	Name    string `toml:"name"`
	APIType string `toml:"api_type"`
	APIKey  string `toml:"api_key,omitempty"`
	BaseURL string `toml:"base_url"`
	Enabled bool   `toml:"enabled"`
}

type UserConfig struct {
	Stream    StreamConfig     `toml:"stream"`
	Chat      ChatConfig       `toml:"chat"`
	Providers []ProviderConfig `toml:"providers"`
}

type Config struct {
	DataDirectory        string
	Debug                bool
	MaxConcurrentStreams int
	ContextMessages      int
	DefaultProvider      string
	DefaultModel         string
	Temperature          float64
	Providers            []ProviderConfig
}

const (
	DefaultMaxConcurrentStreams = 10
	DefaultContextMessages      = 20
)

func (c *Config) DataDir() string {
	return ExpandPath(c.DataDirectory)
}

// Descriptors converts the configured providers into registry descriptors.
// API keys from CHATDESK_<ID>_API_KEY take precedence over the file.
func (c *Config) Descriptors() []model.Provider {
	result := make([]model.Provider, 0, len(c.Providers))
	for _, p := range c.Providers {
		apiKey := p.APIKey
		if key := os.Getenv(apiKeyEnvVar(p.ID)); key != "" {
			apiKey = key
		}
		result = append(result, model.Provider{
			ID:      p.ID,
			Name:    p.Name,
			APIType: p.APIType,
			APIKey:  apiKey,
			BaseURL: p.BaseURL,
			Enabled: p.Enabled,
		})
	}
	return result
}

func apiKeyEnvVar(providerID string) string {
	id := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(providerID))
	return "CHATDESK_" + id + "_API_KEY"
}

func (c *Config) applyEnvOverrides() {
	if dataDir := os.Getenv("CHATDESK_DATA_DIR"); dataDir != "" {
		c.DataDirectory = dataDir
	}
	if raw := os.Getenv("CHATDESK_MAX_STREAMS"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			c.MaxConcurrentStreams = n
		}
	}
	c.Debug = CheckDebug()
}

func CheckDebug() bool {
	debug := os.Getenv("CHATDESK_DEBUG")
	return debug == "true" || debug == "1"
}

func (c *Config) applyUserConfig(userCfg *UserConfig) {
	if userCfg.Stream.MaxConcurrent > 0 {
		c.MaxConcurrentStreams = userCfg.Stream.MaxConcurrent
	}
	if userCfg.Chat.ContextMessages > 0 {
		c.ContextMessages = userCfg.Chat.ContextMessages
	}
	c.DefaultProvider = userCfg.Chat.DefaultProvider
	c.DefaultModel = userCfg.Chat.DefaultModel
	c.Temperature = userCfg.Chat.Temperature
	c.Providers = userCfg.Providers
}

// Load reads the system config for the data directory, then the user config
// inside it. Environment variables override both.
func Load() (*Config, error) {
	cfg := &Config{
		DataDirectory:        DefaultSystemConfig().DataDirectory,
		MaxConcurrentStreams: DefaultMaxConcurrentStreams,
		ContextMessages:      DefaultContextMessages,
	}

	if os.Getenv("CHATDESK_DATA_DIR") == "" {
		systemCfg, err := LoadSystemConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to load system config: %w", err)
		}
		cfg.DataDirectory = systemCfg.DataDirectory
	}
	cfg.applyEnvOverrides()

	dataDir := cfg.DataDir()
	if err := EnsureDir(dataDir); err != nil {
		return nil, fmt.Errorf("failed to prepare data directory: %w", err)
	}

	userCfg, err := LoadUserConfig(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	}
	cfg.applyUserConfig(userCfg)

	// Env wins over the file for the stream cap too.
	cfg.applyEnvOverrides()

	return cfg, nil
}
