package engine

import (
	"context"

	"github.com/vinodismyname/mcpkpi/config"
	"github.com/vinodismyname/mcpkpi/internal/catalog"
	"github.com/vinodismyname/mcpkpi/internal/dataset"
	"github.com/vinodismyname/mcpkpi/internal/match"
)

// DetectKPIs is the hybrid detection entry point: it runs the matching stage
// and, when the selected catalog covers the dataset poorly (calculable share
// below the generation rate), asks the generator to propose KPIs from the
// dataset's own columns. Accepted proposals are matched like base KPIs,
// merged into the status map marked Generated, and returned alongside so
// callers can register the ones they want. Calculation never generates;
// adopting a proposal goes through the catalog like any user definition.
func (e *Engine) DetectKPIs(ctx context.Context, d *dataset.Dataset, defs map[string]catalog.Definition) (map[string]*Status, []catalog.Definition, error) {
	statuses, err := e.MatchKPIs(ctx, d, defs)
	if err != nil {
		return nil, nil, err
	}
	if e.generator == nil || len(defs) == 0 {
		return statuses, nil, nil
	}

	calculable := 0
	for _, st := range statuses {
		if st.Calculable {
			calculable++
		}
	}
	if float64(calculable) >= e.generationMatchRate*float64(len(defs)) {
		return statuses, nil, nil
	}

	proposals := e.generator(ctx, d.Columns(), sampleValues(d, config.DefaultGenerationSampleColumns, config.DefaultGenerationSampleValues))
	if len(proposals) == 0 {
		return statuses, nil, nil
	}

	normCols, normIndex := normalizeColumns(d)
	var accepted []catalog.Definition
	for _, def := range proposals {
		if def.Derived() {
			continue
		}
		if _, ok := statuses[def.Name]; ok {
			continue
		}
		st := &Status{
			Name:      def.Name,
			Generated: true,
			Bindings:  make(map[string]string, len(def.Columns)),
			Matches:   make(map[string]match.Result, len(def.Columns)),
		}
		for _, ph := range def.Columns {
			if res, ok := e.matcher.Match(ctx, ph, normCols); ok {
				st.Bindings[ph] = res.Column
				st.Matches[ph] = res
			}
		}
		e.finalizeBase(d, normIndex, def, st)
		// Proposals are built from the dataset's own columns, so anything
		// that still fails to bind is noise rather than a useful verdict.
		if !st.Calculable {
			continue
		}
		statuses[def.Name] = st
		accepted = append(accepted, def)
	}
	return statuses, accepted, nil
}

// sampleValues collects up to maxValues non-blank example values for each of
// the first maxColumns columns, the context the generator judges columns by.
func sampleValues(d *dataset.Dataset, maxColumns, maxValues int) map[string][]string {
	samples := make(map[string][]string)
	for i, col := range d.Columns() {
		if i >= maxColumns {
			break
		}
		raw, ok := d.Strings(col)
		if !ok {
			continue
		}
		var vals []string
		for _, s := range raw {
			if s == "" {
				continue
			}
			vals = append(vals, s)
			if len(vals) >= maxValues {
				break
			}
		}
		if len(vals) > 0 {
			samples[col] = vals
		}
	}
	return samples
}
