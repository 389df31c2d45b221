package cmd

import (
	"bufio"
	"context"
	"database/sql"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/aeon/internal/bus"
	"github.com/nextlevelbuilder/aeon/internal/channels"
	"github.com/nextlevelbuilder/aeon/internal/channels/discord"
	"github.com/nextlevelbuilder/aeon/internal/channels/slack"
	"github.com/nextlevelbuilder/aeon/internal/channels/telegram"
	"github.com/nextlevelbuilder/aeon/internal/chathistory"
	"github.com/nextlevelbuilder/aeon/internal/cli"
	"github.com/nextlevelbuilder/aeon/internal/config"
	"github.com/nextlevelbuilder/aeon/internal/gateway"
	"github.com/nextlevelbuilder/aeon/internal/identity"
	"github.com/nextlevelbuilder/aeon/internal/mcp"
	"github.com/nextlevelbuilder/aeon/internal/memory"
	"github.com/nextlevelbuilder/aeon/internal/orchestrator"
	"github.com/nextlevelbuilder/aeon/internal/pgdb"
	"github.com/nextlevelbuilder/aeon/internal/providers"
	"github.com/nextlevelbuilder/aeon/internal/sessions"
	"github.com/nextlevelbuilder/aeon/internal/telemetry"
	"github.com/nextlevelbuilder/aeon/internal/tools"
	"github.com/nextlevelbuilder/aeon/pkg/protocol"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the agent gateway",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

// runServe wires every plane together and drives the bus consumer loop. It
// degrades gracefully: a missing Postgres DSN disables identity/history, a
// missing Neo4j URI disables the memory plane entirely, but the gateway
// still runs a bare Think→Act→Observe loop over the CLI channel.
func runServe() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if watcher, err := config.Watch(cfgPath, cfg); err != nil {
		slog.Warn("config: hot-reload disabled", "error", err)
	} else {
		defer watcher.Stop()
	}
	if !cfg.HasAnyProvider() {
		slog.Error("no provider API key configured (set AEON_ANTHROPIC_API_KEY or AEON_OPENAI_API_KEY)")
		os.Exit(1)
	}

	providerRegistry := providers.NewRegistry()
	registerProviders(providerRegistry, cfg)
	defaultProvider, err := providerRegistry.Default()
	if err != nil {
		slog.Error("no providers registered", "error", err)
		os.Exit(1)
	}

	db := openPostgres(cfg)
	var identityResolver *identity.Resolver
	var historyStore *chathistory.Store
	if db != nil {
		identityResolver = identity.New(db)
		historyStore = chathistory.New(db)
	}

	memorySvc := setupMemory(cfg, defaultProvider, db)

	toolRegistry := tools.NewRegistry()
	registerBuiltinTools(toolRegistry, cfg)
	policy := tools.NewPolicyEngine(cfg.Tools.Security)
	executor := tools.NewExecutor(toolRegistry, policy, db, cfg.Tools.Security.MaxExecutionSeconds, cfg.Gateway.MaxToolResultChars, cfg.Tools.Security.LogAllCalls)

	orch := orchestrator.New(defaultProvider, executor, toolRegistry)
	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.Setup(context.Background(), cfg.Telemetry)
		if err != nil {
			slog.Warn("telemetry disabled", "error", err)
		} else {
			defer shutdown(context.Background())
			orch.SetTracer(telemetry.NewTracer("aeon"))
		}
	}
	msgBus := bus.New()
	sessionMgr := sessions.NewManager()

	gw := gateway.New(identityResolver, historyStore, memorySvc, orch, sessionMgr, msgBus, gateway.Options{
		SystemPrompt:            cfg.Agent.SystemPrompt,
		Model:                   cfg.Agent.Model,
		ModelTiers:              cfg.Agent.ModelTiers,
		MaxToolIterations:       cfg.Gateway.MaxToolIterations,
		AutoContinueEnabled:     cfg.Gateway.AutoContinueEnabled,
		AutoContinueMax:         cfg.Gateway.AutoContinueMax,
		MaxMessageChars:         cfg.Gateway.MaxMessageChars,
		MaxHistoryMessages:      cfg.Gateway.MaxHistoryMessages,
		HistoryCharBudget:       cfg.Gateway.HistoryCharBudget,
		ActiveChannelTimeoutSec: cfg.Gateway.ActiveChannelTimeoutSec,
		StopPhrases:             cfg.Gateway.StopPhrases,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if len(cfg.Tools.McpServers) > 0 {
		mcpMgr := mcp.NewManager(toolRegistry)
		mcpMgr.ConnectAll(ctx, cfg.Tools.McpServers)
		gw.SetMCPManager(mcpMgr)
		defer mcpMgr.Close()
	}

	if cfg.Gateway.Port > 0 {
		server := gateway.NewServer(gw, msgBus, gateway.ServerOptions{
			Host:           cfg.Gateway.Host,
			Port:           cfg.Gateway.Port,
			AllowedOrigins: cfg.Gateway.AllowedOrigins,
			RateLimitRPM:   cfg.Gateway.RateLimitRPM,
		})
		go func() {
			if err := server.Start(ctx); err != nil {
				slog.Error("gateway server stopped", "error", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	channelMgr := channels.NewManager(msgBus)
	channelMgr.RegisterChannel("cli", cli.NewStdioChannel(msgBus, bufio.NewReader(os.Stdin), os.Stdout))
	registerPlatformChannels(channelMgr, cfg, msgBus, sessionMgr)
	if err := channelMgr.StartAll(ctx); err != nil {
		slog.Error("failed to start channels", "error", err)
		os.Exit(1)
	}
	defer channelMgr.StopAll(context.Background())

	slog.Info("aeon gateway starting",
		"version", Version,
		"model", cfg.Agent.Model,
		"provider", defaultProvider.Name(),
		"tools", len(toolRegistry.List()),
		"memory_enabled", memorySvc != nil,
		"history_enabled", historyStore != nil,
	)

	for {
		in, ok := msgBus.ConsumeInbound(ctx)
		if !ok {
			slog.Info("gateway stopped")
			return
		}
		go func(in bus.InboundMessage) {
			emit := func(e orchestrator.Event) {
				msgBus.Broadcast(bus.Event{Name: protocol.EventChat, Payload: gateway.WireEvent(e)})
			}
			if _, err := gw.Handle(ctx, in, emit); err != nil {
				slog.Warn("turn failed", "channel", in.Channel, "error", err)
				msgBus.PublishOutbound(bus.OutboundMessage{
					Channel: in.Channel,
					ChatID:  in.ChatID,
					Content: "Sorry, something went wrong handling that message. Please try again.",
				})
			}
		}(in)
	}
}

// registerPlatformChannels registers Telegram/Discord/Slack adapters when
// their tokens are configured. None are required: the CLI channel alone is
// enough to drive the gateway. sessionMgr is shared with the gateway so a
// mention in a group chat and the adapter's own active-window check agree
// on the same session state.
func registerPlatformChannels(mgr *channels.Manager, cfg *config.Config, msgBus *bus.MessageBus, sessionMgr *sessions.Manager) {
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token != "" {
		ch, err := telegram.New(cfg.Channels.Telegram, msgBus, sessionMgr)
		if err != nil {
			slog.Error("failed to create telegram channel", "error", err)
		} else {
			mgr.RegisterChannel("telegram", ch)
		}
	}
	if cfg.Channels.Discord.Enabled && cfg.Channels.Discord.Token != "" {
		ch, err := discord.New(cfg.Channels.Discord, msgBus, sessionMgr)
		if err != nil {
			slog.Error("failed to create discord channel", "error", err)
		} else {
			mgr.RegisterChannel("discord", ch)
		}
	}
	if cfg.Channels.Slack.Enabled {
		ch, err := slack.New(cfg.Channels.Slack, msgBus, sessionMgr)
		if err != nil {
			slog.Error("failed to create slack channel", "error", err)
		} else {
			mgr.RegisterChannel("slack", ch)
		}
	}
}

func registerProviders(reg *providers.Registry, cfg *config.Config) {
	if cfg.Providers.Anthropic.APIKey != "" {
		reg.Register("anthropic", providers.NewAnthropicProvider(
			cfg.Providers.Anthropic.APIKey,
			providers.WithAnthropicModel(cfg.Agent.Model),
			providers.WithAnthropicBaseURL(cfg.Providers.Anthropic.APIBase),
		))
	}
	if cfg.Providers.OpenAI.APIKey != "" {
		reg.Register("openai", providers.NewOpenAIProvider("openai", cfg.Providers.OpenAI.APIKey, cfg.Providers.OpenAI.APIBase, cfg.Agent.Model))
	}
}

// openPostgres returns nil (not an error) when no DSN is configured, so the
// gateway can still run without identity/history/audit persistence.
func openPostgres(cfg *config.Config) *sql.DB {
	if cfg.Database.PostgresDSN == "" {
		slog.Warn("AEON_POSTGRES_DSN not set, identity/history/audit disabled")
		return nil
	}
	db, err := pgdb.Open(cfg.Database.PostgresDSN)
	if err != nil {
		slog.Error("failed to open postgres", "error", err)
		os.Exit(1)
	}
	return db
}

func registerBuiltinTools(reg *tools.Registry, cfg *config.Config) {
	workspace := config.ExpandHome(cfg.Agent.Workspace)
	if err := os.MkdirAll(workspace, 0755); err != nil {
		slog.Warn("failed to create workspace", "path", workspace, "error", err)
	}

	reg.Register(tools.NewReadFileTool(workspace, true))
	reg.Register(tools.NewWriteFileTool(workspace, true))
	reg.Register(tools.NewListFilesTool(workspace, true))
	reg.Register(tools.NewEditTool(workspace, true))
	reg.Register(tools.NewExecTool(workspace, true))
	reg.Register(tools.NewWebFetchTool(tools.WebFetchConfig{}))
}

// setupMemory wires the semantic memory plane. It returns nil if
// Neo4j isn't configured: the gateway then runs with tool calling and chat
// history only, no long-term memory.
func setupMemory(cfg *config.Config, provider providers.Provider, db *sql.DB) *memory.Service {
	if cfg.Memory.Enabled != nil && !*cfg.Memory.Enabled {
		return nil
	}
	if cfg.Graph.URI == "" {
		slog.Warn("AEON_NEO4J_URI not set, semantic memory disabled")
		return nil
	}

	store, err := memory.NewStore(cfg.Graph.URI, cfg.Graph.Username, cfg.Graph.Password, cfg.Graph.Database)
	if err != nil {
		slog.Error("failed to connect to neo4j", "error", err)
		os.Exit(1)
	}
	store.SetEntityLLM(provider, cfg.Agent.Model)
	if err := store.EnsureSchema(context.Background()); err != nil {
		slog.Warn("memory schema setup failed", "error", err)
	}

	var redisClient *goredis.Client
	if cfg.Cache.RedisURL != "" {
		opts, err := goredis.ParseURL(cfg.Cache.RedisURL)
		if err != nil {
			slog.Warn("invalid AEON_REDIS_URL, embedding cache disabled", "error", err)
		} else {
			redisClient = goredis.NewClient(opts)
		}
	}

	embedder := memory.NewEmbeddingClient(cfg.Memory.Embedding.APIBase, cfg.Memory.Embedding.APIKey, cfg.Memory.Embedding.Model, redisClient)
	searchCache := memory.NewSearchCache(redisClient)

	return &memory.Service{
		Store:       store,
		Embedder:    embedder,
		SearchCache: searchCache,
		Extractor:   memory.NewExtractor(provider, cfg.Agent.Model),
		Reconciler:  memory.NewReconciler(store, embedder, provider, cfg.Agent.Model, db),
		Emotional:   memory.NewEmotionalTracker(store, embedder),
		Topics:      memory.NewTopicTracker(store, embedder, provider, cfg.Agent.Model),
		MaxResults:  cfg.Memory.MaxResults,
		MinScore:    cfg.Memory.MinScore,
	}
}
