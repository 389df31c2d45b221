package config

import (
	"encoding/json"
	"fmt"
	"sync"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the Aeon gateway.
type Config struct {
	Agent     AgentConfig     `json:"agent"`
	Channels  ChannelsConfig  `json:"channels"`
	Providers ProvidersConfig `json:"providers"`
	Gateway   GatewayConfig   `json:"gateway"`
	Tools     ToolsConfig     `json:"tools"`
	Memory    MemoryConfig    `json:"memory"`
	Database  DatabaseConfig  `json:"database,omitempty"`
	Graph     GraphConfig     `json:"graph,omitempty"`
	Cache     CacheConfig     `json:"cache,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	mu        sync.RWMutex
}

// DatabaseConfig configures the Postgres chat-history / identity store.
// PostgresDSN is NEVER read from config.json (secret) — only from env AEON_POSTGRES_DSN.
type DatabaseConfig struct {
	PostgresDSN string `json:"-"` // from env AEON_POSTGRES_DSN only
}

// GraphConfig configures the Neo4j-backed semantic memory store.
type GraphConfig struct {
	URI      string `json:"uri,omitempty"`  // bolt://host:7687
	Username string `json:"-"`              // from env AEON_NEO4J_USER only
	Password string `json:"-"`              // from env AEON_NEO4J_PASSWORD only
	Database string `json:"database,omitempty"`
}

// CacheConfig configures the Redis cache used by the embedding client.
type CacheConfig struct {
	RedisURL string `json:"-"` // from env AEON_REDIS_URL only
}

// AgentConfig holds the single orchestrator's defaults. Aeon is a single-tenant,
// single-orchestrator gateway — there is no per-agent override list.
type AgentConfig struct {
	Workspace     string  `json:"workspace"`
	Provider      string  `json:"provider"`
	Model         string  `json:"model"`
	MaxTokens     int     `json:"max_tokens"`
	Temperature   float64 `json:"temperature"`
	ContextWindow int     `json:"context_window"`
	SystemPrompt  string  `json:"system_prompt,omitempty"`

	// ModelTiers maps a per-turn tier label ("high", "mid", "low") to the
	// model name the orchestrator should use instead of Model for that turn.
	// A tier with no entry here falls back to Model.
	ModelTiers map[string]string `json:"model_tiers,omitempty"`
}

// MemoryConfig configures the semantic memory pipeline.
type MemoryConfig struct {
	Enabled    *bool          `json:"enabled,omitempty"` // default true (nil = enabled)
	Embedding  EmbeddingConfig `json:"embedding"`
	MaxResults int            `json:"max_results,omitempty"` // candidates returned per search (default 35)
	MinScore   float64        `json:"min_score,omitempty"`   // minimum cosine similarity (default 0.5)
}

// EmbeddingConfig configures the remote embedding provider used by C3.
type EmbeddingConfig struct {
	Provider string `json:"provider,omitempty"` // "openai" (default)
	Model    string `json:"model,omitempty"`    // default "text-embedding-3-small"
	APIBase  string `json:"api_base,omitempty"`
	APIKey   string `json:"-"` // from env AEON_EMBEDDING_API_KEY only
}

// TelemetryConfig configures OpenTelemetry export for traces and spans.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"`
	Protocol    string            `json:"protocol,omitempty"` // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`
	ServiceName string            `json:"service_name,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
// Used by the hot-reload watcher so existing pointers into Config stay valid.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Agent = src.Agent
	c.Channels = src.Channels
	c.Providers = src.Providers
	c.Gateway = src.Gateway
	c.Tools = src.Tools
	c.Memory = src.Memory
	c.Database = src.Database
	c.Graph = src.Graph
	c.Cache = src.Cache
	c.Telemetry = src.Telemetry
}

// Snapshot returns a copy of the config safe to read without external locking.
func (c *Config) Snapshot() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp := *c
	cp.mu = sync.RWMutex{}
	return cp
}
