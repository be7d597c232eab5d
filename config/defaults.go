package config

import "time"

// Default runtime limits and guardrails for the MCP KPI Analysis Server.
// These values are conservative and can be overridden by future configuration
// mechanisms (env, CLI, or files). They are referenced by internal/runtime
// and the engine packages.

const (
	// Concurrency
	DefaultMaxConcurrentRequests = 10
	DefaultMaxOpenDatasets       = 4
	DefaultMaxConcurrentPeriods  = 4

	// Payload and row limits
	DefaultMaxPayloadBytes = 128 * 1024 // 128KB
	DefaultMaxRowsPerLoad  = 200_000
	DefaultPreviewRowLimit = 10 // First 10 rows by default
	DefaultPeriodPageSize  = 12 // Periods returned per trend page
)

const (
	// Matching thresholds. Fuzzy scores are 0-100 token-set ratios; the
	// semantic threshold applies to cosine similarity in [0,1].
	DefaultFuzzyThreshold    = 60
	DefaultSemanticThreshold = 0.80

	// A weekly or monthly trend KPI needs at least this many distinct
	// periods before it is reported as calculable.
	DefaultMinTrendPeriods = 2

	// When fewer than this share of the selected catalog is calculable,
	// detection asks the LLM generator to propose KPIs from the dataset's
	// own columns.
	DefaultGenerationMatchRate = 0.30

	// Sample budget handed to the generator: up to this many columns, with
	// up to this many example values each.
	DefaultGenerationSampleColumns = 10
	DefaultGenerationSampleValues  = 3
)

const (
	// Formula evaluation
	DefaultMaxEvalSteps = uint64(500_000)
	DefaultRoundDigits  = 4
)

const (
	// Timeouts
	DefaultOperationTimeout      = 30 * time.Second
	DefaultAcquireRequestTimeout = 2 * time.Second
	DefaultOracleTimeout         = 20 * time.Second

	// Dataset handle lifecycle
	DefaultDatasetIdleTTL       = 10 * time.Minute
	DefaultDatasetCleanupPeriod = time.Minute
)
