// Package formula evaluates KPI formulas inside a restricted Starlark
// sandbox. Formulas are single expressions over dataset columns and a small
// set of aggregate builtins; they cannot import, define functions, loop, or
// touch anything outside the values handed to them.
package formula

import (
	"fmt"
	"math"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/vinodismyname/mcpkpi/internal/dataset"
)

// Column is a dataset column exposed to the sandbox. It keeps the raw cell
// text alongside the parsed numeric view so aggregates over identifiers and
// categories (count, group keys) see text while arithmetic sees numbers.
// Cells that fail numeric parsing are carried with valid=false and drop out
// of arithmetic and numeric aggregates.
type Column struct {
	name  string
	raw   []string
	nums  []float64
	valid []bool
}

// NewColumn parses raw cell text into a Column.
func NewColumn(name string, raw []string) *Column {
	c := &Column{
		name:  name,
		raw:   raw,
		nums:  make([]float64, len(raw)),
		valid: make([]bool, len(raw)),
	}
	for i, s := range raw {
		if f, ok := dataset.ParseNumber(s); ok {
			c.nums[i] = f
			c.valid[i] = true
		}
	}
	return c
}

// Name returns the column's dataset name.
func (c *Column) Name() string { return c.name }

// Floats returns the parsed numeric values in row order.
func (c *Column) Floats() []float64 {
	out := make([]float64, 0, len(c.nums))
	for i, ok := range c.valid {
		if ok {
			out = append(out, c.nums[i])
		}
	}
	return out
}

// Raw returns the underlying cell text.
func (c *Column) Raw() []string { return c.raw }

// starlark.Value

func (c *Column) String() string {
	return fmt.Sprintf("column(%q, len=%d)", c.name, len(c.raw))
}

func (c *Column) Type() string          { return "column" }
func (c *Column) Freeze()               {}
func (c *Column) Truth() starlark.Bool  { return len(c.raw) > 0 }
func (c *Column) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: column") }

// starlark.Indexable

func (c *Column) Len() int { return len(c.raw) }

func (c *Column) Index(i int) starlark.Value {
	if c.valid[i] {
		return starlark.Float(c.nums[i])
	}
	return starlark.String(c.raw[i])
}

// starlark.Iterable. Iteration yields only the parsed numeric values so the
// universe builtins (min, max) aggregate over numbers.
func (c *Column) Iterate() starlark.Iterator {
	return &columnIterator{col: c}
}

type columnIterator struct {
	col *Column
	pos int
}

func (it *columnIterator) Next(p *starlark.Value) bool {
	for it.pos < len(it.col.raw) {
		i := it.pos
		it.pos++
		if it.col.valid[i] {
			*p = starlark.Float(it.col.nums[i])
			return true
		}
	}
	return false
}

func (it *columnIterator) Done() {}

// starlark.HasBinary: elementwise arithmetic against scalars and other
// columns. Rows invalid on either side stay invalid in the result, as does
// division by zero.
func (c *Column) Binary(op syntax.Token, y starlark.Value, side starlark.Side) (starlark.Value, error) {
	switch op {
	case syntax.PLUS, syntax.MINUS, syntax.STAR, syntax.SLASH, syntax.PERCENT:
	default:
		return nil, nil
	}

	switch other := y.(type) {
	case starlark.Float:
		return c.elementwise(op, func(int) (float64, bool) { return float64(other), true }, side)
	case starlark.Int:
		f, _ := starlark.AsFloat(other)
		return c.elementwise(op, func(int) (float64, bool) { return f, true }, side)
	case *Column:
		if other.Len() != c.Len() {
			return nil, fmt.Errorf("column length mismatch: %d vs %d", c.Len(), other.Len())
		}
		return c.elementwise(op, func(i int) (float64, bool) { return other.nums[i], other.valid[i] }, side)
	default:
		return nil, nil
	}
}

func (c *Column) elementwise(op syntax.Token, operand func(int) (float64, bool), side starlark.Side) (starlark.Value, error) {
	out := &Column{
		name:  c.name,
		raw:   c.raw,
		nums:  make([]float64, len(c.nums)),
		valid: make([]bool, len(c.nums)),
	}
	for i := range c.nums {
		rhs, rhsOK := operand(i)
		if !c.valid[i] || !rhsOK {
			continue
		}
		left, right := c.nums[i], rhs
		if side == starlark.Right {
			left, right = right, left
		}
		switch op {
		case syntax.PLUS:
			out.nums[i] = left + right
		case syntax.MINUS:
			out.nums[i] = left - right
		case syntax.STAR:
			out.nums[i] = left * right
		case syntax.SLASH, syntax.PERCENT:
			if right == 0 {
				continue
			}
			if op == syntax.SLASH {
				out.nums[i] = left / right
			} else {
				out.nums[i] = math.Mod(left, right)
			}
		}
		out.valid[i] = true
	}
	return out, nil
}

var (
	_ starlark.Value     = (*Column)(nil)
	_ starlark.Indexable = (*Column)(nil)
	_ starlark.Iterable  = (*Column)(nil)
	_ starlark.HasBinary = (*Column)(nil)
)
