package registry

import (
	"context"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// CustomKPIFilter conditionally hides catalog-mutating tools unless
// explicitly enabled. Enable by setting MCPKPI_ENABLE_CUSTOM_KPIS=true.
type CustomKPIFilter struct {
	allowCustom bool
}

// NewCustomKPIFilterFromEnv constructs a filter using MCPKPI_ENABLE_CUSTOM_KPIS.
func NewCustomKPIFilterFromEnv() *CustomKPIFilter {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("MCPKPI_ENABLE_CUSTOM_KPIS")))
	allow := v == "1" || v == "true" || v == "yes"
	return &CustomKPIFilter{allowCustom: allow}
}

// FilterTools implements server tool filtering semantics. When custom KPIs
// are disabled, tools with the register_ prefix are excluded from discovery.
func (f *CustomKPIFilter) FilterTools(ctx context.Context, tools []mcp.Tool) []mcp.Tool {
	if f.allowCustom {
		return tools
	}
	out := make([]mcp.Tool, 0, len(tools))
	for _, t := range tools {
		if strings.HasPrefix(strings.ToLower(t.Name), "register_") {
			continue
		}
		out = append(out, t)
	}
	return out
}
