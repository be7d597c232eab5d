package engine

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vinodismyname/mcpkpi/internal/catalog"
	"github.com/vinodismyname/mcpkpi/internal/dataset"
	"github.com/vinodismyname/mcpkpi/internal/match"
)

func mkDataset(t *testing.T, header []string, records [][]string) *dataset.Dataset {
	t.Helper()
	d, err := dataset.New(header, records)
	require.NoError(t, err)
	return d
}

func defsOf(defs ...catalog.Definition) map[string]catalog.Definition {
	out := make(map[string]catalog.Definition, len(defs))
	for _, def := range defs {
		out[def.Name] = def
	}
	return out
}

func TestMatchKPIsBaseExactAndFuzzy(t *testing.T) {
	d := mkDataset(t,
		[]string{"selling_price", "order_id"},
		[][]string{{"10", "A"}, {"20", "B"}},
	)
	defs := defsOf(
		catalog.Definition{Name: "Total Revenue", Formula: "sum(df[selling_price])", Columns: []string{"selling_price"}},
		catalog.Definition{Name: "Unmatched", Formula: "sum(df[warehouse_zone])", Columns: []string{"warehouse_zone"}},
	)
	statuses, err := New(Config{}).MatchKPIs(context.Background(), d, defs)
	require.NoError(t, err)

	rev := statuses["Total Revenue"]
	require.True(t, rev.Calculable)
	require.Equal(t, "Selling Price", rev.Bindings["selling_price"])

	un := statuses["Unmatched"]
	require.False(t, un.Calculable)
	require.Contains(t, un.Reason, "warehouse_zone")
}

func TestMatchKPIsDerivedRequiresCalculableDeps(t *testing.T) {
	d := mkDataset(t,
		[]string{"selling_price"},
		[][]string{{"10"}},
	)
	defs := defsOf(
		catalog.Definition{Name: "Total Revenue", Formula: "sum(df[selling_price])", Columns: []string{"selling_price"}},
		catalog.Definition{Name: "Total Orders", Formula: "count_distinct(df[order_id])", Columns: []string{"order_id"}},
		catalog.Definition{Name: "Average Order Value", Formula: "kpis[Total Revenue] / kpis[Total Orders]", Dependencies: []string{"Total Revenue", "Total Orders"}},
	)
	statuses, err := New(Config{}).MatchKPIs(context.Background(), d, defs)
	require.NoError(t, err)

	require.True(t, statuses["Total Revenue"].Calculable)
	require.False(t, statuses["Total Orders"].Calculable)
	// Non-calculable derived KPIs are dropped, not reported.
	require.NotContains(t, statuses, "Average Order Value")
}

func TestMatchKPIsDerivedReusesDependencyBindings(t *testing.T) {
	d := mkDataset(t,
		[]string{"selling_price", "quantity"},
		[][]string{{"10", "2"}},
	)
	defs := defsOf(
		catalog.Definition{Name: "Total Revenue", Formula: "sum(df[selling_price])", Columns: []string{"selling_price"}},
		catalog.Definition{Name: "Revenue Share", Formula: "sum(df[selling_price]) / kpis[Total Revenue]", Columns: []string{"selling_price"}, Dependencies: []string{"Total Revenue"}},
	)
	statuses, err := New(Config{}).MatchKPIs(context.Background(), d, defs)
	require.NoError(t, err)

	share := statuses["Revenue Share"]
	require.True(t, share.Calculable)
	require.Equal(t, "Selling Price", share.Bindings["selling_price"])
	require.Equal(t, statuses["Total Revenue"].Matches["selling_price"], share.Matches["selling_price"])
}

func TestMatchKPIsOracleBatch(t *testing.T) {
	d := mkDataset(t,
		[]string{"purchase_amount"},
		[][]string{{"10"}},
	)
	calls := 0
	oracle := func(_ context.Context, placeholders, columns []string) map[string]string {
		calls++
		require.Equal(t, []string{"selling_price"}, placeholders)
		require.Equal(t, []string{"Purchase Amount"}, columns)
		return map[string]string{"selling_price": "Purchase Amount"}
	}
	defs := defsOf(
		catalog.Definition{Name: "Total Revenue", Formula: "sum(df[selling_price])", Columns: []string{"selling_price"}},
	)
	statuses, err := New(Config{Oracle: oracle}).MatchKPIs(context.Background(), d, defs)
	require.NoError(t, err)
	require.Equal(t, 1, calls)

	rev := statuses["Total Revenue"]
	require.True(t, rev.Calculable)
	require.Equal(t, "Purchase Amount", rev.Bindings["selling_price"])
	require.Equal(t, match.MethodOracle, rev.Matches["selling_price"].Method)
}

func TestMatchKPIsTimeWindowPolicy(t *testing.T) {
	// A single month of data cannot show a monthly trend.
	d := mkDataset(t,
		[]string{"order_date", "selling_price"},
		[][]string{
			{"2024-01-02", "10"},
			{"2024-01-20", "20"},
		},
	)
	defs := defsOf(
		catalog.Definition{Name: "Monthly Revenue", Formula: "sum(df[selling_price])", Columns: []string{"order_date", "selling_price"}},
	)
	statuses, err := New(Config{}).MatchKPIs(context.Background(), d, defs)
	require.NoError(t, err)

	st := statuses["Monthly Revenue"]
	require.False(t, st.Calculable)
	require.Contains(t, st.Reason, "monthly")

	// Two months of data clears the gate.
	d = mkDataset(t,
		[]string{"order_date", "selling_price"},
		[][]string{
			{"2024-01-02", "10"},
			{"2024-02-20", "20"},
		},
	)
	statuses, err = New(Config{}).MatchKPIs(context.Background(), d, defs)
	require.NoError(t, err)
	require.True(t, statuses["Monthly Revenue"].Calculable)
}

func TestMatchKPIsTrendVerdictFollowsColumnOrder(t *testing.T) {
	// Two date-like columns disagree on monthly coverage: start_date spans
	// two months, end_date only one. The first declared placeholder decides.
	d := mkDataset(t,
		[]string{"start_date", "end_date", "value"},
		[][]string{
			{"2024-01-02", "2024-01-05", "10"},
			{"2024-02-20", "2024-01-25", "20"},
		},
	)

	defs := defsOf(
		catalog.Definition{Name: "Monthly Volume", Formula: "sum(df[value])", Columns: []string{"end_date", "start_date", "value"}},
	)
	statuses, err := New(Config{}).MatchKPIs(context.Background(), d, defs)
	require.NoError(t, err)
	st := statuses["Monthly Volume"]
	require.False(t, st.Calculable)
	require.Contains(t, st.Reason, "monthly")

	defs = defsOf(
		catalog.Definition{Name: "Monthly Volume", Formula: "sum(df[value])", Columns: []string{"start_date", "end_date", "value"}},
	)
	statuses, err = New(Config{}).MatchKPIs(context.Background(), d, defs)
	require.NoError(t, err)
	require.True(t, statuses["Monthly Volume"].Calculable)
}

func TestMatchKPIsCycleIsFatal(t *testing.T) {
	d := mkDataset(t, []string{"x"}, [][]string{{"1"}})
	defs := defsOf(
		catalog.Definition{Name: "A", Formula: "kpis[B]", Dependencies: []string{"B"}},
		catalog.Definition{Name: "B", Formula: "kpis[A]", Dependencies: []string{"A"}},
	)
	_, err := New(Config{}).MatchKPIs(context.Background(), d, defs)
	require.Error(t, err)
	require.Contains(t, err.Error(), "circular dependency")
}

func TestCalculateDependencyChain(t *testing.T) {
	d := mkDataset(t, []string{"x"}, [][]string{{"1"}, {"2"}, {"3"}})
	defs := defsOf(
		catalog.Definition{Name: "A", Formula: "df[x] + 1", Columns: []string{"x"}},
		catalog.Definition{Name: "B", Formula: "kpis[A] * 2", Dependencies: []string{"A"}},
	)
	statuses, err := New(Config{}).Calculate(context.Background(), d, defs)
	require.NoError(t, err)

	a := statuses["A"]
	require.True(t, a.Calculable)
	require.True(t, a.Outcome.OK())
	require.Equal(t, 9.0, a.Outcome.Value)

	b := statuses["B"]
	require.True(t, b.Calculable)
	require.True(t, b.Outcome.OK())
	require.Equal(t, 18.0, b.Outcome.Value)
}

func TestCalculateFailedDependencyFailsCleanly(t *testing.T) {
	// x has no numeric values, so mean(A) fails; B references A's value
	// and must fail on its own without aborting the run.
	d := mkDataset(t,
		[]string{"x", "y"},
		[][]string{{"", "1"}, {"", "2"}},
	)
	defs := defsOf(
		catalog.Definition{Name: "A", Formula: "mean(df[x])", Columns: []string{"x"}},
		catalog.Definition{Name: "B", Formula: "kpis[A] * 2", Dependencies: []string{"A"}},
		catalog.Definition{Name: "C", Formula: "sum(df[y])", Columns: []string{"y"}},
	)
	statuses, err := New(Config{}).Calculate(context.Background(), d, defs)
	require.NoError(t, err)

	require.False(t, statuses["A"].Outcome.OK())
	require.NotEmpty(t, statuses["A"].Outcome.Err)

	require.False(t, statuses["B"].Outcome.OK())
	require.NotEmpty(t, statuses["B"].Outcome.Err)

	// Sibling KPIs are unaffected.
	require.True(t, statuses["C"].Outcome.OK())
	require.Equal(t, 3.0, statuses["C"].Outcome.Value)
}

func TestCalculateCategorical(t *testing.T) {
	d := mkDataset(t,
		[]string{"category", "selling_price"},
		[][]string{{"Toys", "10"}, {"Toys", "15"}, {"Books", "5"}},
	)
	defs := defsOf(
		catalog.Definition{Name: "Revenue By Category", Formula: "group_sum(df[category], df[selling_price])", Columns: []string{"category", "selling_price"}, Type: "categorical"},
	)
	statuses, err := New(Config{}).Calculate(context.Background(), d, defs)
	require.NoError(t, err)

	st := statuses["Revenue By Category"]
	require.True(t, st.Outcome.OK())
	require.True(t, st.Outcome.Categorical())
	require.Equal(t, map[string]float64{"Toys": 25, "Books": 5}, st.Outcome.Groups)
}

type fixedSemantic struct {
	column string
	sim    float64
}

func (f fixedSemantic) Match(context.Context, string, []string) (string, float64, error) {
	return f.column, f.sim, nil
}

func TestCalculateGenericColumnAlias(t *testing.T) {
	d := mkDataset(t,
		[]string{"Order Date", "Total Sales"},
		[][]string{
			{"2024-01-01", "100.1234"},
			{"2024-01-02", "200.2"},
		},
	)
	defs := defsOf(
		catalog.Definition{Name: "Total Revenue", Formula: "sum(col)", Columns: []string{"amount"}},
	)
	eng := New(Config{Matcher: &match.Matcher{Semantic: fixedSemantic{column: "Total Sales", sim: 0.92}}})
	statuses, err := eng.Calculate(context.Background(), d, defs)
	require.NoError(t, err)

	st := statuses["Total Revenue"]
	require.True(t, st.Calculable)
	require.Equal(t, "Total Sales", st.Bindings["amount"])
	require.True(t, st.Outcome.OK())
	require.InDelta(t, 300.3234, st.Outcome.Value, 1e-9)
}

func TestStatusZeroOutcomeKeepsValueField(t *testing.T) {
	// A KPI that evaluates to exactly zero still reports its value; the
	// absence of the field would be indistinguishable from "no result".
	st := &Status{Name: "Net Adjustment", Calculable: true, Outcome: &Outcome{Value: 0}}
	b, err := json.Marshal(st)
	require.NoError(t, err)
	require.Contains(t, string(b), `"value":0`)
}

func TestRenderSubstitution(t *testing.T) {
	st := &Status{
		Bindings: map[string]string{"selling_price": "Unit Price"},
	}
	deps := map[string]*Status{
		"Total Orders": {Outcome: &Outcome{Value: 42}},
		"Broken":       {Outcome: &Outcome{Err: "boom"}},
	}

	def := catalog.Definition{Formula: "sum(df[selling_price]) / kpis[Total Orders]", Columns: []string{"selling_price"}}
	require.Equal(t, `sum(df["Unit Price"]) / (42)`, render(def, st, deps))

	def = catalog.Definition{Formula: "sum('selling_price') + selling_price[0]", Columns: []string{"selling_price"}}
	require.Equal(t, `sum(df["Unit Price"]) + df["Unit Price"][0]`, render(def, st, deps))

	// Failed dependencies and unmatched placeholders stay in place.
	def = catalog.Definition{Formula: "kpis[Broken] + df[unknown_thing]", Columns: []string{"unknown_thing"}}
	require.Equal(t, "kpis[Broken] + df[unknown_thing]", render(def, st, deps))
}
