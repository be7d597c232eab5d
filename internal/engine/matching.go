package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/vinodismyname/mcpkpi/internal/catalog"
	"github.com/vinodismyname/mcpkpi/internal/dataset"
	"github.com/vinodismyname/mcpkpi/internal/graph"
	"github.com/vinodismyname/mcpkpi/internal/match"
)

// MatchKPIs decides, for every catalog definition, whether it can be
// calculated against the dataset, and binds its placeholders to columns.
// Base KPIs that cannot be matched are kept with Calculable=false and a
// reason; derived KPIs that cannot be matched are dropped entirely, a
// failed derived KPI carries no useful partial information. The only error
// is a dependency cycle, which is a catalog defect rather than a per-KPI
// outcome.
func (e *Engine) MatchKPIs(ctx context.Context, d *dataset.Dataset, defs map[string]catalog.Definition) (map[string]*Status, error) {
	normCols, normIndex := normalizeColumns(d)
	statuses := make(map[string]*Status, len(defs))

	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)

	// Base pass: direct matching, collecting misses for the oracle.
	missed := make(map[string]bool)
	for _, name := range names {
		def := defs[name]
		if def.Derived() {
			continue
		}
		st := &Status{
			Name:     name,
			Bindings: make(map[string]string, len(def.Columns)),
			Matches:  make(map[string]match.Result, len(def.Columns)),
		}
		for _, ph := range def.Columns {
			if res, ok := e.matcher.Match(ctx, ph, normCols); ok {
				st.Bindings[ph] = res.Column
				st.Matches[ph] = res
			} else {
				missed[ph] = true
			}
		}
		statuses[name] = st
	}

	// The oracle runs once per matching stage over every placeholder the
	// direct layers could not resolve, including placeholders the derived
	// pass may need.
	for _, name := range names {
		def := defs[name]
		if !def.Derived() {
			continue
		}
		for _, ph := range def.Columns {
			missed[ph] = true
		}
	}
	mapping := e.consultOracle(ctx, missed, normCols)

	// Finalize base KPIs.
	for _, name := range names {
		def := defs[name]
		if def.Derived() {
			continue
		}
		st := statuses[name]
		applyOracle(st, def, mapping)
		e.finalizeBase(d, normIndex, def, st)
	}

	// Derived pass in dependency order so a derived KPI depending on
	// another derived KPI sees its dependency's verdict.
	depGraph := make(map[string][]string, len(defs))
	for name, def := range defs {
		depGraph[name] = def.Dependencies
	}
	order, err := graph.TopoSort(depGraph)
	if err != nil {
		return nil, err
	}
	for _, name := range order {
		def := defs[name]
		if !def.Derived() {
			continue
		}
		if st, ok := e.matchDerived(ctx, d, normIndex, normCols, def, statuses, mapping); ok {
			statuses[name] = st
		}
	}
	return statuses, nil
}

// matchDerived resolves one derived KPI. ok=false means the KPI is dropped.
func (e *Engine) matchDerived(ctx context.Context, d *dataset.Dataset, normIndex map[string]string, normCols []string, def catalog.Definition, statuses map[string]*Status, mapping map[string]string) (*Status, bool) {
	for _, dep := range def.Dependencies {
		depSt, ok := statuses[dep]
		if !ok || !depSt.Calculable {
			return nil, false
		}
	}

	// Dependencies widen the candidate pool with the columns they bound,
	// and a placeholder already bound by a dependency is reused as is.
	depBindings := make(map[string]string)
	depMatches := make(map[string]match.Result)
	pool := append([]string(nil), normCols...)
	seen := make(map[string]bool, len(normCols))
	for _, col := range normCols {
		seen[col] = true
	}
	for _, dep := range def.Dependencies {
		depSt := statuses[dep]
		for ph, col := range depSt.Bindings {
			if _, ok := depBindings[ph]; !ok {
				depBindings[ph] = col
				depMatches[ph] = depSt.Matches[ph]
			}
			if !seen[col] {
				seen[col] = true
				pool = append(pool, col)
			}
		}
	}

	st := &Status{
		Name:     def.Name,
		Derived:  true,
		Bindings: make(map[string]string, len(def.Columns)),
		Matches:  make(map[string]match.Result, len(def.Columns)),
	}
	for _, ph := range def.Columns {
		if col, ok := depBindings[ph]; ok {
			st.Bindings[ph] = col
			st.Matches[ph] = depMatches[ph]
			continue
		}
		if res, ok := e.matcher.Match(ctx, ph, pool); ok {
			st.Bindings[ph] = res.Column
			st.Matches[ph] = res
			continue
		}
		if col, ok := mapping[ph]; ok {
			st.Bindings[ph] = col
			st.Matches[ph] = match.Result{Column: col, Method: match.MethodOracle, Confidence: 100}
		}
	}
	if len(st.Bindings) != len(def.Columns) {
		return nil, false
	}
	if ok, _ := e.trendEligible(d, normIndex, def, st); !ok {
		return nil, false
	}
	st.Calculable = true
	return st, true
}

// finalizeBase settles a base KPI's verdict after all layers ran.
func (e *Engine) finalizeBase(d *dataset.Dataset, normIndex map[string]string, def catalog.Definition, st *Status) {
	if len(st.Bindings) != len(def.Columns) {
		var unresolved []string
		for _, ph := range def.Columns {
			if _, ok := st.binding(ph); !ok {
				unresolved = append(unresolved, ph)
			}
		}
		st.Reason = fmt.Sprintf("no column match for: %s", strings.Join(unresolved, ", "))
		return
	}
	if ok, reason := e.trendEligible(d, normIndex, def, st); !ok {
		st.Reason = reason
		return
	}
	st.Calculable = true
}

// consultOracle makes the stage's single batched oracle call and keeps only
// mappings onto real columns.
func (e *Engine) consultOracle(ctx context.Context, missed map[string]bool, normCols []string) map[string]string {
	if e.oracle == nil || len(missed) == 0 {
		return nil
	}
	placeholders := make([]string, 0, len(missed))
	for ph := range missed {
		placeholders = append(placeholders, ph)
	}
	sort.Strings(placeholders)
	valid := make(map[string]bool, len(normCols))
	for _, col := range normCols {
		valid[col] = true
	}
	mapping := e.oracle(ctx, placeholders, normCols)
	for ph, col := range mapping {
		if !valid[col] {
			delete(mapping, ph)
		}
	}
	return mapping
}

func applyOracle(st *Status, def catalog.Definition, mapping map[string]string) {
	for _, ph := range def.Columns {
		if _, ok := st.binding(ph); ok {
			continue
		}
		if col, ok := mapping[ph]; ok {
			st.Bindings[ph] = col
			st.Matches[ph] = match.Result{Column: col, Method: match.MethodOracle, Confidence: 100}
		}
	}
}

// trendEligible enforces the time-window policy: a KPI named for a weekly
// or monthly cadence that binds a date-like column is only calculable when
// the data spans enough distinct periods to show a trend. Bindings are
// checked in declaration order so the verdict is reproducible when more
// than one bound column is date-like.
func (e *Engine) trendEligible(d *dataset.Dataset, normIndex map[string]string, def catalog.Definition, st *Status) (bool, string) {
	cadence := cadenceFromName(def.Name)
	if cadence == "" {
		return true, ""
	}
	for _, ph := range def.Columns {
		col, ok := st.binding(ph)
		if !ok {
			continue
		}
		real, ok := normIndex[col]
		if !ok {
			continue
		}
		times, parsed, total := d.Times(real)
		if total == 0 || parsed*2 <= total {
			continue
		}
		distinct := make(map[string]bool)
		for _, ts := range times {
			distinct[periodStart(ts, cadence).Format(periodKeyLayout)] = true
		}
		if len(distinct) < e.minTrendPeriods {
			return false, fmt.Sprintf("needs at least %d distinct %s periods, found %d", e.minTrendPeriods, cadence, len(distinct))
		}
		return true, ""
	}
	return true, ""
}

// cadenceFromName reads a leading period token off the KPI name.
func cadenceFromName(name string) Granularity {
	fields := strings.Fields(strings.ToLower(name))
	if len(fields) == 0 {
		return ""
	}
	switch fields[0] {
	case "weekly":
		return GranularityWeekly
	case "monthly":
		return GranularityMonthly
	}
	return ""
}

// normalizeColumns returns the normalized column pool and an index back to
// the dataset's real column names. On a normalization collision the first
// column in dataset order wins.
func normalizeColumns(d *dataset.Dataset) ([]string, map[string]string) {
	real := d.Columns()
	norm := make([]string, 0, len(real))
	index := make(map[string]string, len(real))
	for _, col := range real {
		n := match.Normalize(col)
		if _, ok := index[n]; ok {
			continue
		}
		index[n] = col
		norm = append(norm, n)
	}
	return norm, index
}
