package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Middleware enforces runtime limits for tool calls using the Controller.
// It bounds global concurrency and applies a per-call deadline sized to the
// tool: calls that run the matching pipeline may consult the LLM oracle, so
// they get the oracle budget on top of the base operation timeout.
type Middleware struct {
	ctrl *Controller
}

// NewMiddleware constructs a Middleware bound to the provided Controller.
func NewMiddleware(ctrl *Controller) *Middleware {
	return &Middleware{ctrl: ctrl}
}

// matchingTools run the matching stage and may block on an oracle or
// generation call.
var matchingTools = map[string]bool{
	"detect_kpis":          true,
	"calculate_kpis":       true,
	"calculate_kpis_trend": true,
}

// deadlineFor returns the time budget for one tool call. Zero disables the
// deadline.
func (m *Middleware) deadlineFor(tool string) time.Duration {
	d := m.ctrl.limits.OperationTimeout
	if d > 0 && matchingTools[tool] {
		d += m.ctrl.limits.OracleTimeout
	}
	return d
}

// ToolMiddleware implements mcp-go's tool handler middleware interface.
// It acquires a request slot, applies the tool's deadline, and guarantees
// release.
func (m *Middleware) ToolMiddleware(next server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		acquireCtx := ctx
		if m.ctrl.limits.AcquireRequestTimeout > 0 {
			var cancel context.CancelFunc
			acquireCtx, cancel = context.WithTimeout(ctx, m.ctrl.limits.AcquireRequestTimeout)
			defer cancel()
		}

		if err := m.ctrl.AcquireRequest(acquireCtx); err != nil {
			msg := fmt.Sprintf("BUSY_RESOURCE: concurrent request limit reached (max=%d). Please retry shortly.", m.ctrl.limits.MaxConcurrentRequests)
			return mcp.NewToolResultError(msg), nil
		}
		defer m.ctrl.ReleaseRequest()

		callCtx := ctx
		cancel := func() {}
		if d := m.deadlineFor(req.Params.Name); d > 0 {
			callCtx, cancel = context.WithTimeout(ctx, d)
		}
		defer cancel()

		res, err := next(callCtx, req)

		// Prefer a tool-level timeout error over a transport error so the
		// client can retry with a smaller dataset or KPI selection.
		if err == context.DeadlineExceeded || (callCtx.Err() == context.DeadlineExceeded && err == nil && res == nil) {
			return mcp.NewToolResultError("TIMEOUT: operation exceeded configured time limit"), nil
		}

		return res, err
	}
}
