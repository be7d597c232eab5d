package runtime

import (
	"context"
	"time"

	"github.com/vinodismyname/mcpkpi/config"
	"golang.org/x/sync/semaphore"
)

// Limits captures the concurrency and calculation guardrails configured for the server.
type Limits struct {
	// Concurrency caps
	MaxConcurrentRequests int
	MaxOpenDatasets       int
	MaxConcurrentPeriods  int

	// Payload and row bounds
	MaxPayloadBytes int
	MaxRowsPerLoad  int
	PreviewRowLimit int
	PeriodPageSize  int

	// Matching and evaluation
	FuzzyThreshold    int
	SemanticThreshold float64
	MinTrendPeriods   int
	MaxEvalSteps      uint64

	// Timeouts
	OperationTimeout      time.Duration
	AcquireRequestTimeout time.Duration
	OracleTimeout         time.Duration
}

// NewLimits initializes Limits with sensible fallbacks when values are unset.
func NewLimits(maxConcurrentRequests, maxOpenDatasets int) Limits {
	if maxConcurrentRequests <= 0 {
		maxConcurrentRequests = config.DefaultMaxConcurrentRequests
	}
	if maxOpenDatasets <= 0 {
		maxOpenDatasets = config.DefaultMaxOpenDatasets
	}

	return Limits{
		MaxConcurrentRequests: maxConcurrentRequests,
		MaxOpenDatasets:       maxOpenDatasets,
		MaxConcurrentPeriods:  config.DefaultMaxConcurrentPeriods,
		MaxPayloadBytes:       config.DefaultMaxPayloadBytes,
		MaxRowsPerLoad:        config.DefaultMaxRowsPerLoad,
		PreviewRowLimit:       config.DefaultPreviewRowLimit,
		PeriodPageSize:        config.DefaultPeriodPageSize,
		FuzzyThreshold:        config.DefaultFuzzyThreshold,
		SemanticThreshold:     config.DefaultSemanticThreshold,
		MinTrendPeriods:       config.DefaultMinTrendPeriods,
		MaxEvalSteps:          config.DefaultMaxEvalSteps,
		OperationTimeout:      config.DefaultOperationTimeout,
		AcquireRequestTimeout: config.DefaultAcquireRequestTimeout,
		OracleTimeout:         config.DefaultOracleTimeout,
	}
}

// Controller coordinates runtime semaphores for request and dataset guardrails.
type Controller struct {
	limits           Limits
	requestSemaphore *semaphore.Weighted
	datasetSemaphore *semaphore.Weighted
}

// NewController constructs a Controller backed by weighted semaphores.
func NewController(limits Limits) *Controller {
	return &Controller{
		limits:           limits,
		requestSemaphore: semaphore.NewWeighted(int64(limits.MaxConcurrentRequests)),
		datasetSemaphore: semaphore.NewWeighted(int64(limits.MaxOpenDatasets)),
	}
}

// AcquireRequest reserves capacity for an incoming request.
func (c *Controller) AcquireRequest(ctx context.Context) error {
	return c.requestSemaphore.Acquire(ctx, 1)
}

// ReleaseRequest frees previously-acquired request capacity.
func (c *Controller) ReleaseRequest() {
	c.requestSemaphore.Release(1)
}

// AcquireDataset reserves an open dataset slot.
func (c *Controller) AcquireDataset(ctx context.Context) error {
	return c.datasetSemaphore.Acquire(ctx, 1)
}

// ReleaseDataset frees an open dataset slot.
func (c *Controller) ReleaseDataset() {
	c.datasetSemaphore.Release(1)
}

// LimitsSnapshot exposes the configured guardrails for telemetry and discovery.
func (c *Controller) LimitsSnapshot() Limits {
	return c.limits
}
