package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vinodismyname/mcpkpi/internal/catalog"
)

func TestDetectKPIsGeneratesOnLowCoverage(t *testing.T) {
	d := mkDataset(t,
		[]string{"freight_cost", "shipment_id"},
		[][]string{{"12.5", "S1"}, {"9", "S2"}},
	)
	defs := defsOf(
		catalog.Definition{Name: "Warehouse Utilization", Formula: "mean(df[warehouse_zone])", Columns: []string{"warehouse_zone"}},
	)

	var gotColumns []string
	var gotSamples map[string][]string
	gen := func(_ context.Context, columns []string, samples map[string][]string) []catalog.Definition {
		gotColumns = columns
		gotSamples = samples
		return []catalog.Definition{
			{Name: "Total Freight", Formula: "sum(df[freight_cost])", Columns: []string{"freight_cost"}},
			{Name: "Warehouse Utilization", Formula: "count(df[shipment_id])", Columns: []string{"shipment_id"}},
			{Name: "Freight Share", Formula: "kpis[Total Freight] / 2", Dependencies: []string{"Total Freight"}},
			{Name: "Dock Time", Formula: "mean(df[dock_minutes])", Columns: []string{"dock_minutes"}},
		}
	}

	eng := New(Config{Generator: gen})
	statuses, generated, err := eng.DetectKPIs(context.Background(), d, defs)
	require.NoError(t, err)

	require.Equal(t, []string{"freight_cost", "shipment_id"}, gotColumns)
	require.Equal(t, []string{"12.5", "9"}, gotSamples["freight_cost"])

	// Only the proposal that binds cleanly and is not already in the
	// status map survives.
	require.Len(t, generated, 1)
	require.Equal(t, "Total Freight", generated[0].Name)

	st := statuses["Total Freight"]
	require.NotNil(t, st)
	require.True(t, st.Generated)
	require.True(t, st.Calculable)
	require.Equal(t, "Freight Cost", st.Bindings["freight_cost"])

	// The catalog KPI of the same name kept its original verdict.
	require.False(t, statuses["Warehouse Utilization"].Generated)
	require.NotContains(t, statuses, "Freight Share")
	require.NotContains(t, statuses, "Dock Time")
}

func TestDetectKPIsSkipsGenerationOnGoodCoverage(t *testing.T) {
	d := mkDataset(t,
		[]string{"freight_cost"},
		[][]string{{"12.5"}},
	)
	defs := defsOf(
		catalog.Definition{Name: "Total Freight", Formula: "sum(df[freight_cost])", Columns: []string{"freight_cost"}},
	)

	calls := 0
	gen := func(context.Context, []string, map[string][]string) []catalog.Definition {
		calls++
		return nil
	}

	statuses, generated, err := New(Config{Generator: gen}).DetectKPIs(context.Background(), d, defs)
	require.NoError(t, err)
	require.Zero(t, calls)
	require.Empty(t, generated)
	require.True(t, statuses["Total Freight"].Calculable)
}

func TestDetectKPIsNoGeneratorMatchesOnly(t *testing.T) {
	d := mkDataset(t, []string{"freight_cost"}, [][]string{{"12.5"}})
	defs := defsOf(
		catalog.Definition{Name: "Warehouse Utilization", Formula: "mean(df[warehouse_zone])", Columns: []string{"warehouse_zone"}},
	)
	statuses, generated, err := New(Config{}).DetectKPIs(context.Background(), d, defs)
	require.NoError(t, err)
	require.Empty(t, generated)
	require.False(t, statuses["Warehouse Utilization"].Calculable)
}

func TestSampleValuesSkipsBlanksAndCaps(t *testing.T) {
	d := mkDataset(t,
		[]string{"a", "b", "c"},
		[][]string{
			{"", "1", "x"},
			{"10", "2", ""},
			{"20", "3", ""},
			{"30", "4", ""},
		},
	)
	samples := sampleValues(d, 2, 2)
	require.Equal(t, []string{"10", "20"}, samples["a"])
	require.Equal(t, []string{"1", "2"}, samples["b"])
	require.NotContains(t, samples, "c")
}
