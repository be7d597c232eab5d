package formula

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func testColumns() map[string]*Column {
	return map[string]*Column{
		"Selling Price": NewColumn("Selling Price", []string{"100", "250.5", "49.5", ""}),
		"Quantity":      NewColumn("Quantity", []string{"1", "2", "3", "4"}),
		"Order Id":      NewColumn("Order Id", []string{"A-1", "A-1", "B-2", "C-3"}),
		"Category":      NewColumn("Category", []string{"Toys", "Toys", "Books", ""}),
	}
}

func TestEvalSum(t *testing.T) {
	var e Evaluator
	res, err := e.Eval("t", `sum(df["Selling Price"])`, testColumns())
	require.NoError(t, err)
	require.False(t, res.Categorical())
	require.Equal(t, 400.0, res.Scalar)
}

func TestEvalArithmetic(t *testing.T) {
	var e Evaluator
	res, err := e.Eval("t", `sum(df["Selling Price"] * df["Quantity"])`, testColumns())
	require.NoError(t, err)
	require.Equal(t, 100*1+250.5*2+49.5*3.0, res.Scalar)
}

func TestEvalScalarExpression(t *testing.T) {
	var e Evaluator
	res, err := e.Eval("t", `(10.0 / 3.0) * 2`, testColumns())
	require.NoError(t, err)
	require.Equal(t, 6.6667, res.Scalar)
}

func TestEvalMean(t *testing.T) {
	var e Evaluator
	res, err := e.Eval("t", `mean(df["Quantity"])`, testColumns())
	require.NoError(t, err)
	require.Equal(t, 2.5, res.Scalar)
}

func TestEvalCountDistinct(t *testing.T) {
	var e Evaluator
	res, err := e.Eval("t", `count_distinct(df["Order Id"])`, testColumns())
	require.NoError(t, err)
	require.Equal(t, 3.0, res.Scalar)
}

func TestEvalCountSkipsBlanks(t *testing.T) {
	var e Evaluator
	res, err := e.Eval("t", `count(df["Selling Price"])`, testColumns())
	require.NoError(t, err)
	require.Equal(t, 3.0, res.Scalar)
}

func TestEvalMedianAndStd(t *testing.T) {
	var e Evaluator
	res, err := e.Eval("t", `median(df["Quantity"])`, testColumns())
	require.NoError(t, err)
	require.Equal(t, 2.5, res.Scalar)

	res, err = e.Eval("t", `std(df["Quantity"])`, testColumns())
	require.NoError(t, err)
	require.InDelta(t, 1.2910, res.Scalar, 0.0001)
}

func TestEvalBareColumnSums(t *testing.T) {
	var e Evaluator
	res, err := e.Eval("t", `df["Selling Price"]`, testColumns())
	require.NoError(t, err)
	require.Equal(t, 400.0, res.Scalar)
}

func TestEvalGroupSum(t *testing.T) {
	var e Evaluator
	res, err := e.Eval("t", `group_sum(df["Category"], df["Selling Price"])`, testColumns())
	require.NoError(t, err)
	require.True(t, res.Categorical())
	require.Equal(t, map[string]float64{"Toys": 350.5, "Books": 49.5}, res.Groups)
}

func TestEvalGroupMean(t *testing.T) {
	var e Evaluator
	res, err := e.Eval("t", `group_mean(df["Category"], df["Quantity"])`, testColumns())
	require.NoError(t, err)
	require.Equal(t, map[string]float64{"Toys": 1.5, "Books": 3}, res.Groups)
}

func TestEvalGroupCount(t *testing.T) {
	var e Evaluator
	res, err := e.Eval("t", `group_count(df["Category"])`, testColumns())
	require.NoError(t, err)
	require.Equal(t, map[string]float64{"Toys": 2, "Books": 1}, res.Groups)
}

func TestEvalRoundsToFourDecimals(t *testing.T) {
	var e Evaluator
	res, err := e.Eval("t", `1.0 / 3.0`, nil)
	require.NoError(t, err)
	require.Equal(t, 0.3333, res.Scalar)
}

func TestEvalUniverseBuiltins(t *testing.T) {
	var e Evaluator
	res, err := e.Eval("t", `max(df["Quantity"]) - min(df["Quantity"])`, testColumns())
	require.NoError(t, err)
	require.Equal(t, 3.0, res.Scalar)

	res, err = e.Eval("t", `len(df["Quantity"])`, testColumns())
	require.NoError(t, err)
	require.Equal(t, 4.0, res.Scalar)
}

func TestEvalUnknownColumnFails(t *testing.T) {
	var e Evaluator
	_, err := e.Eval("t", `sum(df["Missing"])`, testColumns())
	require.Error(t, err)
}

func TestEvalSyntaxErrorFails(t *testing.T) {
	var e Evaluator
	_, err := e.Eval("t", `sum(df["Quantity"`, testColumns())
	require.Error(t, err)
}

func TestEvalDivisionByZeroNotFinite(t *testing.T) {
	var e Evaluator
	_, err := e.Eval("t", `1.0 / 0.0`, nil)
	require.Error(t, err)
}

func TestEvalRejectsStatements(t *testing.T) {
	var e Evaluator
	for _, src := range []string{
		`x = 1`,
		"def f():\n    return 1",
		`import os`,
	} {
		_, err := e.Eval("t", src, nil)
		require.Error(t, err, "source %q", src)
	}
}

func TestEvalNoHostEscape(t *testing.T) {
	var e Evaluator
	_, err := e.Eval("t", `open("/etc/passwd")`, nil)
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "undefined") || strings.Contains(err.Error(), "open"))
}

func TestEvalStepBudget(t *testing.T) {
	e := Evaluator{MaxSteps: 100}
	_, err := e.Eval("t", `sum([x * x for x in range(100000)])`, nil)
	require.Error(t, err)
}

func TestEvalStringResultRejected(t *testing.T) {
	var e Evaluator
	_, err := e.Eval("t", `"hello"`, nil)
	require.Error(t, err)
}

func TestColumnElementwiseAgainstScalar(t *testing.T) {
	var e Evaluator
	res, err := e.Eval("t", `sum(df["Quantity"] * 10)`, testColumns())
	require.NoError(t, err)
	require.Equal(t, 100.0, res.Scalar)

	res, err = e.Eval("t", `sum(100 - df["Quantity"])`, testColumns())
	require.NoError(t, err)
	require.Equal(t, 390.0, res.Scalar)
}

func TestColumnDivisionSkipsZeroDenominator(t *testing.T) {
	cols := map[string]*Column{
		"A": NewColumn("A", []string{"10", "20"}),
		"B": NewColumn("B", []string{"2", "0"}),
	}
	var e Evaluator
	res, err := e.Eval("t", `sum(df["A"] / df["B"])`, cols)
	require.NoError(t, err)
	require.Equal(t, 5.0, res.Scalar)
}

func TestColumnLengthMismatch(t *testing.T) {
	cols := map[string]*Column{
		"A": NewColumn("A", []string{"1", "2"}),
		"B": NewColumn("B", []string{"1"}),
	}
	var e Evaluator
	_, err := e.Eval("t", `sum(df["A"] + df["B"])`, cols)
	require.Error(t, err)
}

func TestParsesCurrencyAndPercent(t *testing.T) {
	cols := map[string]*Column{
		"Price": NewColumn("Price", []string{"$1,200.50", "15%", "n/a"}),
	}
	var e Evaluator
	res, err := e.Eval("t", `sum(df["Price"])`, cols)
	require.NoError(t, err)
	require.Equal(t, 1215.5, res.Scalar)
}
