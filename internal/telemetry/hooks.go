package telemetry

import (
	"time"

	"github.com/rs/zerolog"
)

// Hooks implements mcp-go server lifecycle callbacks for basic telemetry and logging.
// It is intentionally minimal; metrics backends can be added later under this package.
type Hooks struct {
	logger zerolog.Logger
}

// NewHooks constructs a Hooks instance with the provided logger.
func NewHooks(logger zerolog.Logger) *Hooks {
	return &Hooks{logger: logger}
}

// OnServerStart is called when the server begins accepting connections.
func (h *Hooks) OnServerStart() {
	h.logger.Info().Msg("MCP server starting")
}

// OnServerStop is called during server shutdown.
func (h *Hooks) OnServerStop() {
	h.logger.Info().Msg("MCP server stopping")
}

// OnSessionStart records the start of a client session.
func (h *Hooks) OnSessionStart(sessionID string) {
	h.logger.Info().Str("session_id", sessionID).Msg("session started")
}

// OnSessionEnd records the end of a client session.
func (h *Hooks) OnSessionEnd(sessionID string) {
	h.logger.Info().Str("session_id", sessionID).Msg("session ended")
}

// OnToolCall logs tool invocations and their outcomes.
func (h *Hooks) OnToolCall(toolName string, isError bool) {
	if isError {
		h.logger.Warn().Str("tool", toolName).Msg("tool call returned an error result")
		return
	}
	h.logger.Info().Str("tool", toolName).Msg("tool call completed")
}

// OnCalculation logs one engine invocation: how many KPIs were evaluated and
// how many periods were covered (0 for whole-dataset calculations).
func (h *Hooks) OnCalculation(datasetID string, kpis, periods int, duration time.Duration) {
	h.logger.Info().
		Str("dataset_id", datasetID).
		Int("kpis", kpis).
		Int("periods", periods).
		Dur("duration", duration).
		Msg("calculation completed")
}
