// Package engine drives KPI matching, ordering, and evaluation against a
// dataset, whole-dataset or independently per time period.
package engine

import (
	"github.com/vinodismyname/mcpkpi/internal/match"
)

// Outcome is the result of evaluating one calculable KPI. Exactly one of
// Scalar or Groups is meaningful when Err is empty; Groups is non-nil for
// categorical KPIs.
type Outcome struct {
	// Value is always serialized for scalar outcomes: zero is a legitimate
	// KPI result and must stay distinguishable from "no value".
	Value  float64            `json:"value"`
	Groups map[string]float64 `json:"groups,omitempty"`
	Err    string             `json:"error,omitempty"`
}

// OK reports whether evaluation produced a usable result.
func (o *Outcome) OK() bool { return o != nil && o.Err == "" }

// Categorical reports whether the outcome is a per-group breakdown.
func (o *Outcome) Categorical() bool { return o != nil && o.Groups != nil }

// Status is one KPI's fate against one dataset or period. It is created by
// the matching stage, which decides Calculable and fills Bindings, and its
// Outcome is set exactly once by evaluation. A fresh Status set is built per
// period; statuses never carry values across periods.
type Status struct {
	Name    string `json:"name"`
	Derived bool   `json:"derived,omitempty"`
	// Generated marks a KPI proposed by the LLM generator during detection
	// rather than drawn from the catalog.
	Generated  bool `json:"generated,omitempty"`
	Calculable bool `json:"calculable"`
	// Reason explains a non-calculable verdict in human terms.
	Reason string `json:"reason,omitempty"`
	// Bindings maps each formula placeholder to the normalized dataset
	// column it resolved to. Unresolved placeholders are absent.
	Bindings map[string]string       `json:"bindings,omitempty"`
	Matches  map[string]match.Result `json:"matches,omitempty"`
	Outcome  *Outcome                `json:"outcome,omitempty"`
}

// binding returns the column bound to a placeholder, if any.
func (s *Status) binding(placeholder string) (string, bool) {
	col, ok := s.Bindings[placeholder]
	return col, ok
}
