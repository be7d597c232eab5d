package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/vinodismyname/mcpkpi/internal/catalog"
	"github.com/vinodismyname/mcpkpi/internal/dataset"
	"github.com/vinodismyname/mcpkpi/internal/engine"
	"github.com/vinodismyname/mcpkpi/internal/formula"
	"github.com/vinodismyname/mcpkpi/internal/match"
	"github.com/vinodismyname/mcpkpi/internal/registry"
	"github.com/vinodismyname/mcpkpi/internal/runtime"
	"github.com/vinodismyname/mcpkpi/internal/security"
	"github.com/vinodismyname/mcpkpi/internal/telemetry"
	"github.com/vinodismyname/mcpkpi/pkg/version"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	var (
		useStdio        bool
		catalogPath     string
		shutdownTimeout time.Duration
	)

	flag.BoolVar(&useStdio, "stdio", false, "Run server over stdio transport")
	flag.StringVar(&catalogPath, "catalog", os.Getenv("MCPKPI_CATALOG"), "Path to a user KPI catalog (YAML); merged over the builtin catalog")
	flag.DurationVar(&shutdownTimeout, "shutdown-timeout", 5*time.Second, "Graceful shutdown timeout")
	flag.Parse()

	logger := zlog.With().Str("service", "mcpkpi-server").Logger()
	ctx := logger.WithContext(context.Background())

	// Security: validate allow-list directories on startup (fail-safe on error)
	secMgr, err := security.NewManagerFromEnv()
	if err != nil {
		logger.Error().Err(err).Msg("security: failed to initialize manager from env")
		fmt.Fprintln(os.Stderr, "invalid security configuration; set MCPKPI_ALLOWED_DIRS")
		os.Exit(1)
	}
	if err := secMgr.ValidateConfig(); err != nil {
		logger.Error().Err(err).Msg("security: invalid allow-list configuration")
		fmt.Fprintln(os.Stderr, "no allowed directories configured; set MCPKPI_ALLOWED_DIRS")
		os.Exit(1)
	}
	logger.Info().Strs("allowed_dirs", secMgr.AllowedDirectories()).Msg("security allow-list configured")

	limits := runtime.NewLimits(10, 4)
	runtimeController := runtime.NewController(limits)
	runtimeMW := runtime.NewMiddleware(runtimeController)

	store, err := catalog.NewStore(catalogPath)
	if err != nil {
		logger.Error().Err(err).Str("catalog", catalogPath).Msg("catalog: failed to load")
		fmt.Fprintln(os.Stderr, "invalid KPI catalog:", err)
		os.Exit(1)
	}
	logger.Info().Int("kpis", len(store.Names())).Str("user_catalog", catalogPath).Msg("KPI catalog loaded")

	mgr := dataset.NewManager(0, 0, runtimeController, secMgr, nil)
	mgr.Start()
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := mgr.Close(closeCtx); err != nil {
			logger.Warn().Err(err).Msg("dataset manager shutdown incomplete")
		}
	}()

	toolRegistry := registry.New()

	matcher := &match.Matcher{
		FuzzyThreshold:    limits.FuzzyThreshold,
		SemanticThreshold: limits.SemanticThreshold,
	}
	var oracle match.OracleMapper
	var generator match.KPIGenerator
	if model := buildModel(logger); model != nil {
		toolRegistry.WithModel(model)
		if embedder, err := embeddings.NewEmbedder(model); err != nil {
			logger.Warn().Err(err).Msg("embedding layer unavailable; semantic matching disabled")
		} else {
			matcher.Semantic = match.NewEmbeddingMatcher(embedder)
		}
		oracle = withTimeout(match.NewLLMOracle(model), limits.OracleTimeout)
		generator = withGeneratorTimeout(match.NewKPIGenerator(model), limits.OracleTimeout)
	} else {
		logger.Info().Msg("no LLM configured; semantic, oracle, and generation layers disabled")
	}

	eng := engine.New(engine.Config{
		Matcher:              matcher,
		Oracle:               oracle,
		Generator:            generator,
		Evaluator:            &formula.Evaluator{MaxSteps: limits.MaxEvalSteps},
		MinTrendPeriods:      limits.MinTrendPeriods,
		MaxConcurrentPeriods: limits.MaxConcurrentPeriods,
	})

	customFilter := registry.NewCustomKPIFilterFromEnv()
	telemetryHooks := telemetry.NewHooks(logger)

	srv := server.NewMCPServer(
		"MCP KPI Engine Server",
		version.Version(),
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithHooks(buildHooks(logger, telemetryHooks)),
		server.WithToolHandlerMiddleware(runtimeMW.ToolMiddleware),
		server.WithToolFilter(func(ctx context.Context, tools []mcp.Tool) []mcp.Tool { return customFilter.FilterTools(ctx, tools) }),
	)

	registry.RegisterKPITools(srv, toolRegistry, runtimeController.LimitsSnapshot(), mgr, store, eng, telemetryHooks)

	logger.Info().
		Ctx(ctx).
		Str("version", version.Version()).
		Int("max_concurrent_requests", limits.MaxConcurrentRequests).
		Int("max_open_datasets", limits.MaxOpenDatasets).
		Int("max_concurrent_periods", limits.MaxConcurrentPeriods).
		Bool("stdio", useStdio).
		Msg("server bootstrap configured")

	if useStdio {
		telemetryHooks.OnServerStart()
		if err := server.ServeStdio(srv); err != nil {
			// Use stderr for transport errors so clients don't misinterpret output
			fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
			os.Exit(1)
		}
		telemetryHooks.OnServerStop()
		return
	}

	// If no transport flags provided, print usage and exit non-zero
	fmt.Fprintln(os.Stderr, "no transport selected; use --stdio to run over stdio")
	os.Exit(2)
}

// buildModel constructs the optional LLM backing the semantic and oracle
// matching layers. Absence of credentials is a supported configuration.
func buildModel(logger zerolog.Logger) *openai.LLM {
	if os.Getenv("OPENAI_API_KEY") == "" {
		return nil
	}
	model, err := openai.New()
	if err != nil {
		logger.Warn().Err(err).Msg("LLM initialization failed; matching layers degraded")
		return nil
	}
	return model
}

// withTimeout bounds every oracle call so a slow provider cannot stall the
// matching stage.
func withTimeout(oracle match.OracleMapper, timeout time.Duration) match.OracleMapper {
	return func(ctx context.Context, placeholders, columns []string) map[string]string {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return oracle(ctx, placeholders, columns)
	}
}

// withGeneratorTimeout applies the same per-call budget to KPI generation.
func withGeneratorTimeout(gen match.KPIGenerator, timeout time.Duration) match.KPIGenerator {
	return func(ctx context.Context, columns []string, samples map[string][]string) []catalog.Definition {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return gen(ctx, columns, samples)
	}
}

// buildHooks constructs mcp-go server hooks for basic telemetry.
func buildHooks(logger zerolog.Logger, th *telemetry.Hooks) *server.Hooks {
	hooks := &server.Hooks{}

	hooks.AddOnRegisterSession(func(ctx context.Context, session server.ClientSession) {
		th.OnSessionStart(session.SessionID())
	})

	hooks.AddOnUnregisterSession(func(ctx context.Context, session server.ClientSession) {
		th.OnSessionEnd(session.SessionID())
	})

	hooks.AddAfterListTools(func(ctx context.Context, id any, req *mcp.ListToolsRequest, res *mcp.ListToolsResult) {
		// Keep it light: tool count only
		logger.Info().Int("tools", len(res.Tools)).Msg("list_tools served")
	})

	hooks.AddAfterCallTool(func(ctx context.Context, id any, req *mcp.CallToolRequest, res *mcp.CallToolResult) {
		th.OnToolCall(req.Params.Name, res != nil && res.IsError)
	})

	hooks.AddOnError(func(ctx context.Context, id any, method mcp.MCPMethod, message any, err error) {
		logger.Error().Str("method", string(method)).Err(err).Msg("request error")
	})

	return hooks
}
