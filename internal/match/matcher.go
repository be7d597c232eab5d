package match

import (
	"context"

	fuzzy "github.com/paul-mannino/go-fuzzywuzzy"
	"github.com/vinodismyname/mcpkpi/config"
)

// Method identifies which layer produced a match.
type Method string

const (
	MethodExact    Method = "exact"
	MethodFuzzy    Method = "fuzzy"
	MethodSemantic Method = "semantic"
	MethodOracle   Method = "oracle"
)

// Result is the outcome of resolving one placeholder. Confidence is on a
// 0-100 scale regardless of the producing layer.
type Result struct {
	Column     string  `json:"column"`
	Method     Method  `json:"method"`
	Confidence float64 `json:"confidence"`
}

// SemanticMatcher scores a text against candidates in an embedding space,
// returning the best candidate and its cosine similarity in [0,1]. An empty
// candidate means nothing cleared the implementation's own bar, if any.
type SemanticMatcher interface {
	Match(ctx context.Context, text string, candidates []string) (string, float64, error)
}

// Matcher resolves placeholders against available columns. Layers run in
// order and the first acceptable result wins; a miss on every layer is a
// normal outcome, not an error. The zero value uses default thresholds and
// no semantic layer.
type Matcher struct {
	// FuzzyThreshold is the minimum token-set ratio (0-100) for the fuzzy
	// layer. Zero means config.DefaultFuzzyThreshold.
	FuzzyThreshold int

	// Semantic is the optional embedding layer; nil disables it.
	Semantic SemanticMatcher

	// SemanticThreshold is the minimum cosine similarity in [0,1].
	// Zero means config.DefaultSemanticThreshold.
	SemanticThreshold float64
}

// Match resolves a placeholder against the available columns, which are
// expected to be normalized already. The placeholder is normalized here.
func (m *Matcher) Match(ctx context.Context, placeholder string, columns []string) (Result, bool) {
	if len(columns) == 0 {
		return Result{}, false
	}
	target := Normalize(placeholder)

	// Exact layer.
	for _, col := range columns {
		if col == target {
			return Result{Column: col, Method: MethodExact, Confidence: 100}, true
		}
	}

	// Fuzzy layer: best token-set ratio over all candidates.
	threshold := m.FuzzyThreshold
	if threshold <= 0 {
		threshold = config.DefaultFuzzyThreshold
	}
	bestScore := -1
	bestCol := ""
	for _, col := range columns {
		score := fuzzy.TokenSetRatio(target, col)
		if score > bestScore {
			bestScore = score
			bestCol = col
		}
	}
	if bestScore >= threshold {
		return Result{Column: bestCol, Method: MethodFuzzy, Confidence: float64(bestScore)}, true
	}

	// Semantic layer.
	if m.Semantic != nil {
		semThreshold := m.SemanticThreshold
		if semThreshold <= 0 {
			semThreshold = config.DefaultSemanticThreshold
		}
		col, sim, err := m.Semantic.Match(ctx, target, columns)
		if err == nil && col != "" && sim >= semThreshold {
			return Result{Column: col, Method: MethodSemantic, Confidence: sim * 100}, true
		}
		// Semantic failures degrade to "no match from this layer".
	}

	return Result{}, false
}
