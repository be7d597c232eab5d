package formula

import (
	"fmt"
	"math"
	"sort"

	"go.starlark.net/starlark"
)

// Builtins returns the aggregate functions available to formulas. The
// returned dict is fresh per call so evaluations never share state.
func Builtins() starlark.StringDict {
	return starlark.StringDict{
		"sum":            starlark.NewBuiltin("sum", builtinSum),
		"mean":           starlark.NewBuiltin("mean", builtinMean),
		"avg":            starlark.NewBuiltin("avg", builtinMean),
		"count":          starlark.NewBuiltin("count", builtinCount),
		"count_distinct": starlark.NewBuiltin("count_distinct", builtinCountDistinct),
		"median":         starlark.NewBuiltin("median", builtinMedian),
		"std":            starlark.NewBuiltin("std", builtinStd),
		"group_sum":      starlark.NewBuiltin("group_sum", builtinGroupSum),
		"group_mean":     starlark.NewBuiltin("group_mean", builtinGroupMean),
		"group_count":    starlark.NewBuiltin("group_count", builtinGroupCount),
	}
}

// numericArg extracts the numeric values of the single argument, which may
// be a column or any iterable of numbers.
func numericArg(fnName string, args starlark.Tuple, kwargs []starlark.Tuple) ([]float64, error) {
	var v starlark.Value
	if err := starlark.UnpackPositionalArgs(fnName, args, kwargs, 1, &v); err != nil {
		return nil, err
	}
	if col, ok := v.(*Column); ok {
		return col.Floats(), nil
	}
	iter, ok := v.(starlark.Iterable)
	if !ok {
		return nil, fmt.Errorf("%s: want column or iterable, got %s", fnName, v.Type())
	}
	var out []float64
	it := iter.Iterate()
	defer it.Done()
	var elem starlark.Value
	for it.Next(&elem) {
		f, ok := starlark.AsFloat(elem)
		if !ok {
			return nil, fmt.Errorf("%s: non-numeric element %s", fnName, elem.Type())
		}
		out = append(out, f)
	}
	return out, nil
}

func columnArg(fnName string, v starlark.Value) (*Column, error) {
	col, ok := v.(*Column)
	if !ok {
		return nil, fmt.Errorf("%s: want column, got %s", fnName, v.Type())
	}
	return col, nil
}

func builtinSum(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	vals, err := numericArg(fn.Name(), args, kwargs)
	if err != nil {
		return nil, err
	}
	var total float64
	for _, f := range vals {
		total += f
	}
	return starlark.Float(total), nil
}

func builtinMean(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	vals, err := numericArg(fn.Name(), args, kwargs)
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("%s: no numeric values", fn.Name())
	}
	var total float64
	for _, f := range vals {
		total += f
	}
	return starlark.Float(total / float64(len(vals))), nil
}

// builtinCount counts non-blank cells, numeric or not.
func builtinCount(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var v starlark.Value
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &v); err != nil {
		return nil, err
	}
	if col, ok := v.(*Column); ok {
		n := 0
		for _, s := range col.raw {
			if s != "" {
				n++
			}
		}
		return starlark.MakeInt(n), nil
	}
	if seq, ok := v.(starlark.Sequence); ok {
		return starlark.MakeInt(seq.Len()), nil
	}
	return nil, fmt.Errorf("%s: want column or sequence, got %s", fn.Name(), v.Type())
}

func builtinCountDistinct(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var v starlark.Value
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &v); err != nil {
		return nil, err
	}
	col, err := columnArg(fn.Name(), v)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(col.raw))
	for _, s := range col.raw {
		if s != "" {
			seen[s] = struct{}{}
		}
	}
	return starlark.MakeInt(len(seen)), nil
}

func builtinMedian(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	vals, err := numericArg(fn.Name(), args, kwargs)
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("%s: no numeric values", fn.Name())
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return starlark.Float(sorted[mid]), nil
	}
	return starlark.Float((sorted[mid-1] + sorted[mid]) / 2), nil
}

// builtinStd is the sample standard deviation.
func builtinStd(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	vals, err := numericArg(fn.Name(), args, kwargs)
	if err != nil {
		return nil, err
	}
	if len(vals) < 2 {
		return nil, fmt.Errorf("%s: need at least two numeric values", fn.Name())
	}
	var total float64
	for _, f := range vals {
		total += f
	}
	mean := total / float64(len(vals))
	var sq float64
	for _, f := range vals {
		sq += (f - mean) * (f - mean)
	}
	return starlark.Float(math.Sqrt(sq / float64(len(vals)-1))), nil
}

func builtinGroupSum(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	return groupReduce(fn, args, kwargs, func(sums []float64, _ []int) []float64 {
		return sums
	})
}

func builtinGroupMean(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	return groupReduce(fn, args, kwargs, func(sums []float64, counts []int) []float64 {
		out := make([]float64, len(sums))
		for i := range sums {
			out[i] = sums[i] / float64(counts[i])
		}
		return out
	})
}

// groupReduce buckets values by group key, keeping keys in first-seen order,
// and finishes each bucket's running sum and count through finish.
func groupReduce(fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple, finish func(sums []float64, counts []int) []float64) (starlark.Value, error) {
	var keysVal, valsVal starlark.Value
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 2, &keysVal, &valsVal); err != nil {
		return nil, err
	}
	keys, err := columnArg(fn.Name(), keysVal)
	if err != nil {
		return nil, err
	}
	vals, err := columnArg(fn.Name(), valsVal)
	if err != nil {
		return nil, err
	}
	if keys.Len() != vals.Len() {
		return nil, fmt.Errorf("%s: column length mismatch: %d vs %d", fn.Name(), keys.Len(), vals.Len())
	}

	index := make(map[string]int)
	var order []string
	var sums []float64
	var counts []int
	for i, key := range keys.raw {
		if key == "" || !vals.valid[i] {
			continue
		}
		slot, ok := index[key]
		if !ok {
			slot = len(order)
			index[key] = slot
			order = append(order, key)
			sums = append(sums, 0)
			counts = append(counts, 0)
		}
		sums[slot] += vals.nums[i]
		counts[slot]++
	}

	finished := finish(sums, counts)
	dict := starlark.NewDict(len(order))
	for i, key := range order {
		if err := dict.SetKey(starlark.String(key), starlark.Float(finished[i])); err != nil {
			return nil, err
		}
	}
	return dict, nil
}

func builtinGroupCount(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var keysVal starlark.Value
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &keysVal); err != nil {
		return nil, err
	}
	keys, err := columnArg(fn.Name(), keysVal)
	if err != nil {
		return nil, err
	}
	index := make(map[string]int)
	var order []string
	var counts []int
	for _, key := range keys.raw {
		if key == "" {
			continue
		}
		slot, ok := index[key]
		if !ok {
			slot = len(order)
			index[key] = slot
			order = append(order, key)
			counts = append(counts, 0)
		}
		counts[slot]++
	}
	dict := starlark.NewDict(len(order))
	for i, key := range order {
		if err := dict.SetKey(starlark.String(key), starlark.MakeInt(counts[i])); err != nil {
			return nil, err
		}
	}
	return dict, nil
}
