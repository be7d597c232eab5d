package match

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"

	"github.com/vinodismyname/mcpkpi/internal/catalog"
)

// KPIGenerator proposes additional KPI definitions built from the dataset's
// own columns, for datasets the catalog covers poorly. samples carries a few
// example values per column so the model can judge what each column holds.
// Like the oracle, generation is best effort: a broken backend surfaces as
// an empty slice, never an error.
type KPIGenerator func(ctx context.Context, columns []string, samples map[string][]string) []catalog.Definition

const generatorPromptTemplate = `You propose KPI definitions for a tabular dataset.

Columns with sample values:
%s

Each KPI formula is a single expression over df[column] references and these
aggregate functions: sum, mean, count, count_distinct, median, std,
group_sum, group_mean, group_count. Use only the columns listed above.

Reply with a JSON array of KPI objects, each with fields "name", "formula",
"columns" (the df[...] names the formula uses), "description", and
"category". Propose 3 to 8 KPIs. Reply with JSON only, no commentary.`

// NewKPIGenerator builds a KPIGenerator over a language model. Malformed
// replies and provider errors are logged and swallowed; proposals that fail
// definition validation or declare dependencies are discarded, the model is
// only ever asked for KPIs computable from the dataset alone.
func NewKPIGenerator(model llms.Model) KPIGenerator {
	return func(ctx context.Context, columns []string, samples map[string][]string) []catalog.Definition {
		if model == nil || len(columns) == 0 {
			return nil
		}
		reply, err := llms.GenerateFromSinglePrompt(ctx, model, generatorPrompt(columns, samples),
			llms.WithTemperature(0),
			llms.WithJSONMode(),
		)
		if err != nil {
			log.Debug().Err(err).Msg("KPI generation call failed")
			return nil
		}
		var proposals []catalog.Definition
		if err := json.Unmarshal([]byte(stripFences(reply)), &proposals); err != nil {
			log.Debug().Err(err).Str("reply", reply).Msg("KPI generation reply not valid JSON")
			return nil
		}
		out := make([]catalog.Definition, 0, len(proposals))
		for _, def := range proposals {
			if def.Derived() {
				continue
			}
			if err := def.Validate(); err != nil {
				log.Debug().Err(err).Str("kpi", def.Name).Msg("generated KPI rejected")
				continue
			}
			out = append(out, def)
		}
		return out
	}
}

func generatorPrompt(columns []string, samples map[string][]string) string {
	var b strings.Builder
	for _, col := range columns {
		b.WriteString("- ")
		b.WriteString(col)
		if vals, ok := samples[col]; ok && len(vals) > 0 {
			b.WriteString(" (e.g. ")
			b.WriteString(strings.Join(vals, ", "))
			b.WriteString(")")
		}
		b.WriteString("\n")
	}
	return fmt.Sprintf(generatorPromptTemplate, strings.TrimRight(b.String(), "\n"))
}
