package engine

import (
	"github.com/vinodismyname/mcpkpi/config"
	"github.com/vinodismyname/mcpkpi/internal/formula"
	"github.com/vinodismyname/mcpkpi/internal/match"
)

// Config wires the engine's collaborators. Matcher and Evaluator are
// required; Oracle is optional and nil disables the oracle layer.
type Config struct {
	Matcher   *match.Matcher
	Oracle    match.OracleMapper
	Evaluator *formula.Evaluator

	// Generator is the optional LLM proposer behind DetectKPIs; nil
	// disables the generation phase.
	Generator match.KPIGenerator

	// GenerationMatchRate is the calculable share of the selected catalog
	// below which DetectKPIs consults the generator.
	// Zero means config.DefaultGenerationMatchRate.
	GenerationMatchRate float64

	// MinTrendPeriods gates weekly/monthly KPIs on time coverage.
	// Zero means config.DefaultMinTrendPeriods.
	MinTrendPeriods int

	// MaxConcurrentPeriods bounds the trend calculation fan-out.
	// Zero means config.DefaultMaxConcurrentPeriods.
	MaxConcurrentPeriods int
}

// Engine runs the matching stage, dependency ordering, and evaluation. It
// holds no per-dataset state and is safe for concurrent use as long as the
// injected matcher layers are.
type Engine struct {
	matcher              *match.Matcher
	oracle               match.OracleMapper
	eval                 *formula.Evaluator
	generator            match.KPIGenerator
	generationMatchRate  float64
	minTrendPeriods      int
	maxConcurrentPeriods int
}

func New(cfg Config) *Engine {
	e := &Engine{
		matcher:              cfg.Matcher,
		oracle:               cfg.Oracle,
		eval:                 cfg.Evaluator,
		generator:            cfg.Generator,
		generationMatchRate:  cfg.GenerationMatchRate,
		minTrendPeriods:      cfg.MinTrendPeriods,
		maxConcurrentPeriods: cfg.MaxConcurrentPeriods,
	}
	if e.matcher == nil {
		e.matcher = &match.Matcher{}
	}
	if e.eval == nil {
		e.eval = &formula.Evaluator{}
	}
	if e.generationMatchRate <= 0 {
		e.generationMatchRate = config.DefaultGenerationMatchRate
	}
	if e.minTrendPeriods <= 0 {
		e.minTrendPeriods = config.DefaultMinTrendPeriods
	}
	if e.maxConcurrentPeriods <= 0 {
		e.maxConcurrentPeriods = config.DefaultMaxConcurrentPeriods
	}
	return e
}
