// Package main provides the CLI entry point for the assistant server.
//
// The assistant exposes an OpenAI-shaped chat endpoint backed by a
// tool-calling planner over tenant-scoped datasets.
//
// # Basic Usage
//
// Start the server:
//
//	assistant serve --config assistant.yaml
//
// Print build information:
//
//	assistant version
//
// # Environment Variables
//
// The configuration file is expanded with os.ExpandEnv before parsing,
// so secrets such as the LLM API key and database DSNs can be supplied
// as ${VAR} references.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/bindevz/tilsoftai/internal/auth"
	"github.com/bindevz/tilsoftai/internal/compaction"
	"github.com/bindevz/tilsoftai/internal/config"
	"github.com/bindevz/tilsoftai/internal/contracts"
	"github.com/bindevz/tilsoftai/internal/conversation"
	"github.com/bindevz/tilsoftai/internal/datasets"
	"github.com/bindevz/tilsoftai/internal/dispatch"
	"github.com/bindevz/tilsoftai/internal/handlers"
	"github.com/bindevz/tilsoftai/internal/httpapi"
	"github.com/bindevz/tilsoftai/internal/invoker"
	"github.com/bindevz/tilsoftai/internal/llm"
	"github.com/bindevz/tilsoftai/internal/observability"
	"github.com/bindevz/tilsoftai/internal/planner"
	"github.com/bindevz/tilsoftai/internal/plans"
	"github.com/bindevz/tilsoftai/internal/source"
	"github.com/bindevz/tilsoftai/internal/tools"
)

// Build information - populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"     // Semantic version (e.g., "v1.0.0")
	commit  = "none"    // Git commit SHA
	date    = "unknown" // Build timestamp
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "assistant",
		Short: "LLM-driven data assistant with governed tool execution",
		Long: `The assistant serves an OpenAI-compatible chat endpoint. Each turn
runs a bounded tool-calling loop: the model plans, tools materialize
and analyze tenant-scoped datasets, and a final synthesis pass writes
the answer. Writes are two-phase and require an explicit CONFIRM reply.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(buildServeCmd(), buildVersionCmd())
	return rootCmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("assistant %s\ncommit: %s\nbuilt:  %s\n", version, commit, date)
		},
	}
}

// buildServeCmd creates the "serve" command that starts the HTTP server.
func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the assistant HTTP server",
		Long: `Start the assistant with the configured dataset backend, confirmation
plan store, and atomic query source.

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  assistant serve

  # Start with custom config
  assistant serve --config /etc/assistant/production.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "assistant.yaml",
		"Path to YAML configuration file")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.AddSource,
	})
	metrics := observability.NewMetrics()
	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		Endpoint:       cfg.Tracing.Endpoint,
	})

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Dataset store: Redis with in-process failover when configured,
	// otherwise pure in-memory.
	var store datasets.Store = datasets.NewMemoryStore()
	var redisClient *redis.Client
	if cfg.Datasets.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Datasets.RedisAddr,
			Password: cfg.Datasets.RedisPassword,
			DB:       cfg.Datasets.RedisDB,
		})
		defer redisClient.Close()
		store = datasets.NewFailoverStore(datasets.NewRedisStore(redisClient), store, logger)
		logger.Info(ctx, "dataset store using redis", "addr", cfg.Datasets.RedisAddr)
	}

	var results datasets.ResultCache
	if cfg.Cache.Enabled == nil || *cfg.Cache.Enabled {
		results = datasets.NewMemoryResultCache()
		if redisClient != nil {
			results = datasets.NewTieredResultCache(
				datasets.NewRedisResultCache(redisClient, logger), results)
		}
	}

	planStore, closePlans, err := openPlanStore(cfg.Plans)
	if err != nil {
		return err
	}
	if closePlans != nil {
		defer closePlans()
	}

	var querySource *source.SQLSource
	if cfg.Source.PostgresDSN != "" {
		db, err := source.Open(cfg.Source.PostgresDSN)
		if err != nil {
			return fmt.Errorf("open query source: %w", err)
		}
		defer db.Close()
		querySource = source.New(db, queryDefs(cfg), store, logger, metrics)
		logger.Info(ctx, "query source enabled", "queries", len(cfg.Source.Queries))
	}

	validator, err := contracts.NewValidator(cfg.Contracts.EnforcedKinds)
	if err != nil {
		return fmt.Errorf("load response contracts: %w", err)
	}

	registry := tools.NewRegistry()
	dispatcher := dispatch.NewDispatcher()
	if err := handlers.RegisterAll(registry, dispatcher, handlers.Deps{
		Store:              store,
		Results:            results,
		Source:             querySource,
		Plans:              planStore,
		Logger:             logger,
		Metrics:            metrics,
		WriteRoles:         cfg.Auth.WriteRoles,
		PlanTTL:            cfg.Plans.TTL,
		QueryFilterAliases: cfg.Source.FilterAliases,
	}); err != nil {
		return fmt.Errorf("register tools: %w", err)
	}

	inv := invoker.New(registry, dispatcher, validator,
		compaction.NewCompactor(0), logger, metrics, tracer)

	provider := llm.NewOpenAIProvider(llm.OpenAIConfig{
		APIKey:     cfg.LLM.APIKey,
		BaseURL:    cfg.LLM.BaseURL,
		Model:      cfg.LLM.Model,
		MaxRetries: cfg.LLM.MaxRetries,
		RetryDelay: cfg.LLM.RetryDelay,
	}, logger, metrics)

	pl := planner.New(provider, inv, registry,
		conversation.NewStore(cfg.Planner.ConversationTTL), logger, metrics,
		planner.Config{
			Model:                cfg.LLM.Model,
			MaxSteps:             cfg.Planner.MaxSteps,
			MaxTokens:            cfg.Planner.MaxTokens,
			ToolTemperature:      cfg.Planner.ToolTemperature,
			SynthesisTemperature: cfg.Planner.SynthesisTemperature,
		})

	srv := httpapi.New(pl, auth.NewRoleResolver(cfg.Auth.JWTSecret),
		logger, metrics, tracer, cfg.Server, cfg.LLM.Model)

	logger.Info(ctx, "assistant starting",
		"version", version, "model", cfg.LLM.Model, "tools", len(registry.Names()))

	serveErr := srv.Start(ctx)
	if err := shutdownTracer(context.Background()); err != nil {
		logger.Warn(ctx, "tracer shutdown failed", "error", err)
	}
	return serveErr
}

// openPlanStore picks the confirmation plan backend: SQLite when a path
// is configured, in-memory otherwise.
func openPlanStore(cfg config.PlansConfig) (plans.Store, func() error, error) {
	if cfg.SQLitePath == "" {
		return plans.NewMemoryStore(), nil, nil
	}
	db, err := sql.Open("sqlite", cfg.SQLitePath)
	if err != nil {
		return nil, nil, fmt.Errorf("open plan store: %w", err)
	}
	sqlStore, err := plans.NewSQLStore(db)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("init plan store: %w", err)
	}
	return sqlStore, db.Close, nil
}

// queryDefs maps the configured query catalog into source declarations,
// defaulting each TTL to the dataset TTL.
func queryDefs(cfg *config.Config) []source.QueryDef {
	defs := make([]source.QueryDef, 0, len(cfg.Source.Queries))
	for _, entry := range cfg.Source.Queries {
		ttl := entry.TTL
		if ttl <= 0 {
			ttl = cfg.Datasets.TTL
		}
		defs = append(defs, source.QueryDef{
			Name:   entry.Name,
			SQL:    entry.SQL,
			Params: entry.Params,
			TTL:    ttl,
		})
	}
	return defs
}
