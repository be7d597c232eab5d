package formula

import (
	"fmt"
	"math"

	"go.starlark.net/starlark"

	"github.com/vinodismyname/mcpkpi/config"
)

// Result is one evaluation outcome: either a scalar or a categorical
// breakdown, never both.
type Result struct {
	Scalar float64
	Groups map[string]float64
}

// Categorical reports whether the result is a per-group breakdown.
func (r Result) Categorical() bool { return r.Groups != nil }

// Evaluator runs formulas in the sandbox. The zero value applies the
// default step budget and rounding.
type Evaluator struct {
	// MaxSteps caps Starlark execution steps per formula.
	MaxSteps uint64
	// RoundDigits is the decimal precision applied to every numeric result.
	RoundDigits int
}

// Eval evaluates one expression against the given columns. df entries are
// exposed to the expression as df["name"]. Every failure mode, parse
// errors, type errors, step budget exhaustion, non-finite results, comes
// back as an error; Eval never panics on bad formula text.
func (e *Evaluator) Eval(name, expr string, df map[string]*Column) (Result, error) {
	maxSteps := e.MaxSteps
	if maxSteps == 0 {
		maxSteps = config.DefaultMaxEvalSteps
	}

	dfDict := starlark.NewDict(len(df))
	for colName, col := range df {
		if err := dfDict.SetKey(starlark.String(colName), col); err != nil {
			return Result{}, fmt.Errorf("bind column %q: %w", colName, err)
		}
	}
	env := Builtins()
	env["df"] = dfDict

	thread := &starlark.Thread{Name: name}
	thread.SetMaxExecutionSteps(maxSteps)

	val, err := starlark.Eval(thread, name, expr, env)
	if err != nil {
		return Result{}, fmt.Errorf("evaluate: %w", err)
	}
	return e.coerce(val)
}

// coerce maps a sandbox value onto a Result. A bare column aggregates by
// sum, a dict becomes a categorical breakdown, numbers pass through.
func (e *Evaluator) coerce(val starlark.Value) (Result, error) {
	digits := e.RoundDigits
	if digits == 0 {
		digits = config.DefaultRoundDigits
	}

	switch v := val.(type) {
	case starlark.Float:
		return e.scalar(float64(v), digits)
	case starlark.Int:
		f, ok := starlark.AsFloat(v)
		if !ok {
			return Result{}, fmt.Errorf("integer result out of range: %s", v.String())
		}
		return e.scalar(f, digits)
	case *Column:
		var total float64
		for _, f := range v.Floats() {
			total += f
		}
		return e.scalar(total, digits)
	case *starlark.Dict:
		groups := make(map[string]float64, v.Len())
		for _, item := range v.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return Result{}, fmt.Errorf("group key must be a string, got %s", item[0].Type())
			}
			f, ok := starlark.AsFloat(item[1])
			if !ok {
				return Result{}, fmt.Errorf("group %q value must be numeric, got %s", string(key), item[1].Type())
			}
			if !isFinite(f) {
				return Result{}, fmt.Errorf("group %q value is not finite", string(key))
			}
			groups[string(key)] = roundTo(f, digits)
		}
		return Result{Groups: groups}, nil
	default:
		return Result{}, fmt.Errorf("formula result must be a number, column, or group dict, got %s", val.Type())
	}
}

func (e *Evaluator) scalar(f float64, digits int) (Result, error) {
	if !isFinite(f) {
		return Result{}, fmt.Errorf("result is not finite")
	}
	return Result{Scalar: roundTo(f, digits)}, nil
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func roundTo(f float64, digits int) float64 {
	shift := math.Pow(10, float64(digits))
	return math.Round(f*shift) / shift
}
