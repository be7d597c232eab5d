package engine

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/vinodismyname/mcpkpi/internal/catalog"
	"github.com/vinodismyname/mcpkpi/internal/dataset"
	"github.com/vinodismyname/mcpkpi/internal/formula"
	"github.com/vinodismyname/mcpkpi/internal/graph"
)

// Calculate runs the whole pipeline against a dataset: matching, dependency
// ordering, then evaluation in order. Every calculable KPI gets an Outcome;
// evaluation failures are recorded on the Status and never abort the run.
// The only error is a dependency cycle.
func (e *Engine) Calculate(ctx context.Context, d *dataset.Dataset, defs map[string]catalog.Definition) (map[string]*Status, error) {
	statuses, err := e.MatchKPIs(ctx, d, defs)
	if err != nil {
		return nil, err
	}

	depGraph := make(map[string][]string, len(statuses))
	for name := range statuses {
		depGraph[name] = defs[name].Dependencies
	}
	order, err := graph.TopoSort(depGraph)
	if err != nil {
		return nil, err
	}

	_, normIndex := normalizeColumns(d)
	cols := buildColumns(d, normIndex)
	for _, name := range order {
		st := statuses[name]
		if !st.Calculable {
			continue
		}
		expr := render(defs[name], st, statuses)
		res, err := e.eval.Eval(name, expr, cols)
		switch {
		case err != nil:
			st.Outcome = &Outcome{Err: err.Error()}
		case res.Categorical():
			st.Outcome = &Outcome{Groups: res.Groups}
		default:
			st.Outcome = &Outcome{Value: res.Scalar}
		}
	}
	return statuses, nil
}

// buildColumns exposes every dataset column to the sandbox under its
// normalized name.
func buildColumns(d *dataset.Dataset, normIndex map[string]string) map[string]*formula.Column {
	cols := make(map[string]*formula.Column, len(normIndex))
	for norm, real := range normIndex {
		raw, ok := d.Strings(real)
		if !ok {
			continue
		}
		cols[norm] = formula.NewColumn(norm, raw)
	}
	return cols
}

// formulaToken matches, in precedence order, dependency references, column
// references, quoted names, and bare identifiers. Substitution happens in a
// single pass over the template so replacement text is never rescanned.
var formulaToken = regexp.MustCompile(`kpis\[[^\]]*\]|df\[[^\]]*\]|'[^']*'|"[^"]*"|[A-Za-z_][A-Za-z0-9_]*`)

// render substitutes placeholder and dependency references into the formula
// template. References that cannot be substituted, an unmatched placeholder
// or a failed dependency, are deliberately left in place so evaluation
// fails on that KPI alone with a pointed message.
func render(def catalog.Definition, st *Status, statuses map[string]*Status) string {
	single := ""
	if len(def.Columns) == 1 {
		single = def.Columns[0]
	}
	return formulaToken.ReplaceAllStringFunc(def.Formula, func(tok string) string {
		switch {
		case strings.HasPrefix(tok, "kpis["):
			dep := unquote(tok[len("kpis[") : len(tok)-1])
			if depSt, ok := statuses[dep]; ok && depSt.Outcome.OK() && !depSt.Outcome.Categorical() {
				return "(" + strconv.FormatFloat(depSt.Outcome.Value, 'f', -1, 64) + ")"
			}
			return tok
		case strings.HasPrefix(tok, "df["):
			ph := unquote(tok[len("df[") : len(tok)-1])
			if col, ok := st.binding(ph); ok {
				return columnRef(col)
			}
			return tok
		case strings.HasPrefix(tok, "'") || strings.HasPrefix(tok, `"`):
			if col, ok := st.binding(unquote(tok)); ok {
				return columnRef(col)
			}
			return tok
		default:
			if col, ok := st.binding(tok); ok {
				return columnRef(col)
			}
			if tok == "col" && single != "" {
				if col, ok := st.binding(single); ok {
					return columnRef(col)
				}
			}
			return tok
		}
	})
}

func columnRef(col string) string {
	return `df["` + col + `"]`
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
