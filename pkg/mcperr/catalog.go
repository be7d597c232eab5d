package mcperr

import (
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Code defines a canonical MCP error code used across tools.
type Code string

const (
	// Validation & Input
	Validation    Code = "VALIDATION"
	InvalidHandle Code = "INVALID_HANDLE"
	InvalidColumn Code = "INVALID_COLUMN"
	CursorInvalid Code = "CURSOR_INVALID"

	// Resource & Limits
	BusyResource    Code = "BUSY_RESOURCE"
	Timeout         Code = "TIMEOUT"
	LimitExceeded   Code = "LIMIT_EXCEEDED"
	PayloadTooLarge Code = "PAYLOAD_TOO_LARGE"

	// IO & Formats
	OpenFailed        Code = "OPEN_FAILED"
	UnsupportedFormat Code = "UNSUPPORTED_FORMAT"
	PermissionDenied  Code = "PERMISSION_DENIED"

	// Catalog & Configuration
	CatalogInvalid     Code = "CATALOG_INVALID"
	CircularDependency Code = "CIRCULAR_DEPENDENCY"

	// Matching & Calculation
	MatchingFailed    Code = "MATCHING_FAILED"
	CalculationFailed Code = "CALCULATION_FAILED"
	NoTimeAxis        Code = "NO_TIME_AXIS"
)

// Entry documents a code's standard message, retry semantics, and next steps.
type Entry struct {
	Code      Code
	Message   string
	Retryable bool
	NextSteps []string
}

// catalog maps canonical codes to guidance. Messages can be overridden per error.
var catalog = map[Code]Entry{
	Validation:    {Code: Validation, Message: "invalid inputs", Retryable: true, NextSteps: []string{"Correct the inputs per schema and retry", "See examples in tool description"}},
	InvalidHandle: {Code: InvalidHandle, Message: "dataset handle not found or expired", Retryable: true, NextSteps: []string{"Reopen the dataset via path and retry"}},
	InvalidColumn: {Code: InvalidColumn, Message: "column not found in dataset", Retryable: true, NextSteps: []string{"Call describe_dataset to verify column names"}},
	CursorInvalid: {Code: CursorInvalid, Message: "cursor is invalid for current context", Retryable: true, NextSteps: []string{"Restart pagination from the first page", "Reopen the dataset if the handle expired"}},

	BusyResource:    {Code: BusyResource, Message: "concurrent request limit reached", Retryable: true, NextSteps: []string{"Retry after a short delay"}},
	Timeout:         {Code: Timeout, Message: "operation exceeded configured time limit", Retryable: true, NextSteps: []string{"Select fewer KPIs or a smaller dataset", "Disable the oracle layer for faster matching"}},
	LimitExceeded:   {Code: LimitExceeded, Message: "operation exceeded configured limits", Retryable: true, NextSteps: []string{"Reduce rows, periods, or selected KPIs"}},
	PayloadTooLarge: {Code: PayloadTooLarge, Message: "payload exceeds configured size", Retryable: true, NextSteps: []string{"Paginate trend results with smaller pages"}},

	OpenFailed:        {Code: OpenFailed, Message: "failed to open dataset", Retryable: true, NextSteps: []string{"Verify path, permissions, and format"}},
	UnsupportedFormat: {Code: UnsupportedFormat, Message: "unsupported dataset format", Retryable: false, NextSteps: []string{"Convert to .xlsx or .csv and retry"}},
	PermissionDenied:  {Code: PermissionDenied, Message: "insufficient permissions to access path", Retryable: false, NextSteps: []string{"Adjust permissions or choose an allowed directory"}},

	CatalogInvalid:     {Code: CatalogInvalid, Message: "KPI catalog definition is invalid", Retryable: false, NextSteps: []string{"Fix the definition fields (name, formula, columns) and reload"}},
	CircularDependency: {Code: CircularDependency, Message: "KPI definitions contain a dependency cycle", Retryable: false, NextSteps: []string{"Break the cycle in the KPI catalog; no KPIs were evaluated"}},

	MatchingFailed:    {Code: MatchingFailed, Message: "column matching failed", Retryable: true, NextSteps: []string{"Verify the dataset has headers", "Provide an oracle mapping or lower the threshold"}},
	CalculationFailed: {Code: CalculationFailed, Message: "KPI calculation failed", Retryable: true, NextSteps: []string{"Inspect per-KPI errors in the result map"}},
	NoTimeAxis:        {Code: NoTimeAxis, Message: "no usable date/time column found", Retryable: false, NextSteps: []string{"Use calculate_kpis for a single aggregate result", "Add or rename a date column"}},
}

// normalize builds a standard error string including next steps for MCP clients that
// surface only a message string. Format: "CODE: message" followed by a guidance tail.
func normalize(code Code, msg string) string {
	base := strings.TrimSpace(msg)
	e, ok := catalog[code]
	if !ok {
		// Unknown code; preserve as-is
		if base == "" {
			return string(code)
		}
		return fmt.Sprintf("%s: %s", string(code), base)
	}
	if base == "" {
		base = e.Message
	}
	// Append compact nextSteps guidance inline to aid clients lacking structured fields.
	guidance := ""
	if len(e.NextSteps) > 0 {
		guidance = " | nextSteps: " + strings.Join(e.NextSteps, "; ")
	}
	return fmt.Sprintf("%s: %s%s", e.Code, base, guidance)
}

// FromText parses a "CODE: message" string, enriches it with catalog guidance,
// and returns an MCP tool error result.
func FromText(text string) *mcp.CallToolResult {
	t := strings.TrimSpace(text)
	if t == "" {
		return mcp.NewToolResultError(normalize(Validation, ""))
	}
	parts := strings.SplitN(t, ":", 2)
	if len(parts) == 0 {
		return mcp.NewToolResultError(normalize(Validation, t))
	}
	code := Code(strings.TrimSpace(parts[0]))
	msg := ""
	if len(parts) > 1 {
		msg = strings.TrimSpace(parts[1])
	}
	return mcp.NewToolResultError(normalize(code, msg))
}

// New returns an MCP error result for a given code and optional message override.
func New(code Code, message string) *mcp.CallToolResult {
	return mcp.NewToolResultError(normalize(code, message))
}

// Wrapf formats details and returns an MCP error result for the code.
func Wrapf(code Code, format string, args ...any) *mcp.CallToolResult {
	return mcp.NewToolResultError(normalize(code, fmt.Sprintf(format, args...)))
}
