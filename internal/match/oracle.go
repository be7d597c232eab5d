package match

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
)

// OracleMapper resolves a batch of still-unmatched placeholders against the
// available columns in one shot. The returned map holds only the
// placeholders the oracle could map; missing keys mean no mapping. The
// oracle is best effort: implementations must never fail the pipeline, so a
// broken backend surfaces as an empty map.
type OracleMapper func(ctx context.Context, placeholders, columns []string) map[string]string

const oraclePromptTemplate = `You map metric placeholder names to dataset column names.

Placeholders:
%s

Available columns:
%s

Reply with a single JSON object mapping each placeholder to the best
matching column name, exactly as it appears in the list. Omit placeholders
that have no plausible column. Reply with JSON only, no commentary.`

// NewLLMOracle builds an OracleMapper over a language model. All errors and
// malformed replies are logged and swallowed; mappings to columns not in
// the candidate list are discarded.
func NewLLMOracle(model llms.Model) OracleMapper {
	return func(ctx context.Context, placeholders, columns []string) map[string]string {
		if model == nil || len(placeholders) == 0 || len(columns) == 0 {
			return nil
		}
		prompt := fmt.Sprintf(oraclePromptTemplate,
			"- "+strings.Join(placeholders, "\n- "),
			"- "+strings.Join(columns, "\n- "),
		)
		reply, err := llms.GenerateFromSinglePrompt(ctx, model, prompt,
			llms.WithTemperature(0),
			llms.WithJSONMode(),
		)
		if err != nil {
			log.Debug().Err(err).Msg("oracle mapping call failed")
			return nil
		}
		raw := stripFences(reply)
		var parsed map[string]string
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			log.Debug().Err(err).Str("reply", reply).Msg("oracle reply not valid JSON")
			return nil
		}
		valid := make(map[string]bool, len(columns))
		for _, col := range columns {
			valid[col] = true
		}
		out := make(map[string]string, len(parsed))
		for ph, col := range parsed {
			if valid[col] {
				out[ph] = col
			}
		}
		return out
	}
}

// stripFences unwraps a ```json ... ``` fenced block if the model added one.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.Index(s, "\n"); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
