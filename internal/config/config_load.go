package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Workspace:     "~/.aeon/workspace",
			Provider:      "anthropic",
			Model:         "claude-sonnet-4-5-20250929",
			MaxTokens:     8192,
			Temperature:   0.7,
			ContextWindow: 200000,
			ModelTiers: map[string]string{
				"high": "claude-opus-4-1-20250805",
				"mid":  "claude-sonnet-4-5-20250929",
				"low":  "claude-haiku-4-5-20251001",
			},
		},
		Gateway: GatewayConfig{
			Host:                    "0.0.0.0",
			Port:                    18790,
			MaxMessageChars:         32000,
			MaxToolIterations:       10,
			MaxToolResultChars:      8000,
			AutoContinueEnabled:     true,
			AutoContinueMax:         1,
			ActiveChannelTimeoutSec: 1800,
			MaxHistoryMessages:      50,
			HistoryCharBudget:       200000,
			InjectionAction:         "warn",
			StopPhrases:             []string{"stop talking to me", "do not respond"},
		},
		Tools: ToolsConfig{
			Security: ToolSecurityConfig{
				DefaultMode:         "allow",
				MaxExecutionSeconds: 30,
				LogAllCalls:         true,
			},
		},
		Memory: MemoryConfig{
			Embedding: EmbeddingConfig{
				Provider: "openai",
				Model:    "text-embedding-3-small",
			},
			MaxResults: 35,
			MinScore:   0.5,
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars (secrets never
// live in the file).
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config. Env vars take
// precedence over file values and are the only source for secrets.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envStr("AEON_ANTHROPIC_API_KEY", &c.Providers.Anthropic.APIKey)
	envStr("AEON_ANTHROPIC_BASE_URL", &c.Providers.Anthropic.APIBase)
	envStr("AEON_OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)
	envStr("AEON_OPENAI_BASE_URL", &c.Providers.OpenAI.APIBase)

	envStr("AEON_GATEWAY_TOKEN", &c.Gateway.Token)
	envStr("AEON_TELEGRAM_TOKEN", &c.Channels.Telegram.Token)
	envStr("AEON_DISCORD_TOKEN", &c.Channels.Discord.Token)
	envStr("AEON_SLACK_BOT_TOKEN", &c.Channels.Slack.BotToken)
	envStr("AEON_SLACK_APP_TOKEN", &c.Channels.Slack.AppToken)

	if c.Channels.Telegram.Token != "" {
		c.Channels.Telegram.Enabled = true
	}
	if c.Channels.Discord.Token != "" {
		c.Channels.Discord.Enabled = true
	}
	if c.Channels.Slack.BotToken != "" && c.Channels.Slack.AppToken != "" {
		c.Channels.Slack.Enabled = true
	}

	envStr("AEON_PROVIDER", &c.Agent.Provider)
	envStr("AEON_MODEL", &c.Agent.Model)
	envStr("AEON_WORKSPACE", &c.Agent.Workspace)

	envStr("AEON_HOST", &c.Gateway.Host)
	if v := os.Getenv("AEON_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}
	if v := os.Getenv("AEON_OWNER_IDS"); v != "" {
		c.Gateway.OwnerIDs = strings.Split(v, ",")
	}

	// Relational store.
	envStr("AEON_POSTGRES_DSN", &c.Database.PostgresDSN)

	// Semantic memory graph store.
	envStr("AEON_NEO4J_URI", &c.Graph.URI)
	envStr("AEON_NEO4J_USER", &c.Graph.Username)
	envStr("AEON_NEO4J_PASSWORD", &c.Graph.Password)

	// Embedding/search-result cache.
	envStr("AEON_REDIS_URL", &c.Cache.RedisURL)
	envStr("AEON_EMBEDDING_API_KEY", &c.Memory.Embedding.APIKey)

	// Telemetry.
	envStr("AEON_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("AEON_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("AEON_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("AEON_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("AEON_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}
}

// Save writes the config to a JSON file. Secrets (tagged `json:"-"`) are
// never serialized, so this is always safe to write to disk.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Hash returns a SHA-256 hash of the config for optimistic concurrency /
// hot-reload change detection.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

// WorkspacePath returns the expanded workspace path.
func (c *Config) WorkspacePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.Agent.Workspace)
}

// ApplyEnvOverrides re-applies environment variable overrides onto the
// config. Call this after a hot-reload to restore runtime secrets.
func (c *Config) ApplyEnvOverrides() {
	c.applyEnvOverrides()
}

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
