package config

// ChannelsConfig contains per-adapter configuration. Chat-adapter SDKs are
// external collaborators; only the fields the gateway needs to enforce policy
// and route turns live here.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
	Slack    SlackConfig    `json:"slack"`
}

type TelegramConfig struct {
	Enabled        bool                `json:"enabled"`
	Token          string              `json:"-"` // from env AEON_TELEGRAM_TOKEN only
	AllowFrom      FlexibleStringSlice `json:"allow_from"`
	DMPolicy       string              `json:"dm_policy,omitempty"`       // "open" (default), "allowlist", "disabled"
	GroupPolicy    string              `json:"group_policy,omitempty"`    // "open" (default), "allowlist", "disabled"
	RequireMention *bool               `json:"require_mention,omitempty"` // require @bot mention in groups (default true)
	MaxMessageChars int                `json:"max_message_chars,omitempty"` // adapter max chunk length (default 4096)
}

type DiscordConfig struct {
	Enabled         bool                `json:"enabled"`
	Token           string              `json:"-"` // from env AEON_DISCORD_TOKEN only
	AllowFrom       FlexibleStringSlice `json:"allow_from"`
	AllowedServers  FlexibleStringSlice `json:"allowed_servers,omitempty"` // guild id allowlist
	DMPolicy        string              `json:"dm_policy,omitempty"`
	GroupPolicy     string              `json:"group_policy,omitempty"`
	RequireMention  *bool               `json:"require_mention,omitempty"`
	MaxMessageChars int                 `json:"max_message_chars,omitempty"` // adapter max chunk length (default 2000)
}

type SlackConfig struct {
	Enabled         bool                `json:"enabled"`
	BotToken        string              `json:"-"` // from env AEON_SLACK_BOT_TOKEN only
	AppToken        string              `json:"-"` // from env AEON_SLACK_APP_TOKEN only
	AllowFrom       FlexibleStringSlice `json:"allow_from"`
	DMPolicy        string              `json:"dm_policy,omitempty"`
	GroupPolicy     string              `json:"group_policy,omitempty"`
	RequireMention  bool                `json:"require_mention,omitempty"`
	MaxMessageChars int                 `json:"max_message_chars,omitempty"` // adapter max chunk length (default 4000)
}

// ProvidersConfig maps provider name to its config.
type ProvidersConfig struct {
	Anthropic ProviderConfig `json:"anthropic"`
	OpenAI    ProviderConfig `json:"openai"`
}

type ProviderConfig struct {
	APIKey  string `json:"-"` // from env only, see config_load.go
	APIBase string `json:"api_base,omitempty"`
}

// HasAnyProvider returns true if at least one provider has an API key configured.
func (c *Config) HasAnyProvider() bool {
	p := c.Providers
	return p.Anthropic.APIKey != "" || p.OpenAI.APIKey != ""
}

// GatewayConfig controls the gateway server and the tool-calling loop.
type GatewayConfig struct {
	Host            string   `json:"host"`
	Port            int      `json:"port"`
	Token           string   `json:"-"`                           // env AEON_GATEWAY_TOKEN; the WS/HTTP server does not check it
	OwnerIDs        []string `json:"owner_ids,omitempty"`          // sender IDs considered "owner"
	AllowedOrigins  []string `json:"allowed_origins,omitempty"`    // WebSocket CORS allowlist (empty = allow all)
	MaxMessageChars int      `json:"max_message_chars,omitempty"`  // max user message characters (default 32000)
	RateLimitRPM    int      `json:"rate_limit_rpm,omitempty"`     // per-client WS RPC rate limit, requests/min (0 = disabled)

	// Tool-calling loop.
	MaxToolIterations  int  `json:"max_tool_iterations,omitempty"`  // bound on the Think→Act→Observe loop (default 10)
	MaxToolResultChars int  `json:"max_tool_result_chars,omitempty"` // truncate tool output fed back to the model (default 8000)
	AutoContinueEnabled bool `json:"auto_continue_enabled,omitempty"`
	AutoContinueMax    int  `json:"auto_continue_max,omitempty"` // max recursive auto-continues per top-level call (default 1)

	// Conversation activation and history trimming.
	ActiveChannelTimeoutSec int `json:"active_channel_timeout_sec,omitempty"` // clears "active" flag after mention (default 1800 = 30m)
	MaxHistoryMessages      int `json:"max_history_messages,omitempty"`       // messages loaded from history; in-memory hard cap is twice this (default 50)
	HistoryCharBudget       int `json:"history_char_budget,omitempty"`        // soft char cap for in-memory history, never trims below 2 messages (default 200000)

	StopPhrases     []string `json:"stop_phrases,omitempty"`     // case-insensitive substrings that end the active window; the turn gets a short acknowledgement instead of a model reply
	InjectionAction string   `json:"injection_action,omitempty"` // prompt injection action: "log", "warn" (default), "block", "off"
}

// ToolsConfig controls the tool-safety policy and tool executor.
type ToolsConfig struct {
	Security ToolSecurityConfig          `json:"security"`
	McpServers map[string]*MCPServerConfig `json:"mcp_servers,omitempty"` // external MCP server connections (extension point)
}

// ToolSecurityConfig is the 4-step policy model: block → allow → approve → default.
type ToolSecurityConfig struct {
	DefaultMode         string   `json:"default_mode,omitempty"`          // "allow", "block" (alias "deny") or "approve" when no rule matches
	AllowList           []string `json:"allow_list,omitempty"`            // tool names or glob patterns, always allowed
	BlockList           []string `json:"block_list,omitempty"`            // tool names or glob patterns, always blocked
	ApprovalRequired    []string `json:"approval_required,omitempty"`     // tool names or glob patterns requiring explicit approval
	MaxExecutionSeconds int      `json:"max_execution_seconds,omitempty"` // per-call deadline (default 30)
	LogAllCalls         bool     `json:"log_all_calls,omitempty"`
}

// MCPServerConfig configures a single external MCP server connection,
// extending the tool registry beyond the builtin filesystem/shell/web tools.
type MCPServerConfig struct {
	Transport  string            `json:"transport"` // "stdio", "sse", "streamable-http"
	Command    string            `json:"command,omitempty"`
	Args       []string          `json:"args,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	URL        string            `json:"url,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Enabled    *bool             `json:"enabled,omitempty"`
	ToolPrefix string            `json:"tool_prefix,omitempty"`
	TimeoutSec int               `json:"timeout_sec,omitempty"`
}

// IsEnabled returns whether this MCP server is enabled (default true).
func (c *MCPServerConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}
