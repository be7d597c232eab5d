package dataset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestNew_PadsAndDisambiguates(t *testing.T) {
	d, err := New(
		[]string{"Order Date", "Amount", "Amount", ""},
		[][]string{
			{"2024-01-02", "10.5"},
			{"2024-01-03", "20", "30", "x", "dropped"},
		},
	)
	require.NoError(t, err)
	require.Equal(t, []string{"Order Date", "Amount", "Amount 2", "Column 4"}, d.Columns())
	require.Equal(t, 2, d.Rows())

	vals, ok := d.Strings("Amount 2")
	require.True(t, ok)
	require.Equal(t, []string{"", "30"}, vals)
}

func TestNumbers_SkipsUnparseable(t *testing.T) {
	d, err := New([]string{"Price"}, [][]string{{"$1,200.50"}, {"n/a"}, {""}, {"15%"}})
	require.NoError(t, err)

	vals, parsed, total := d.Numbers("Price")
	require.Equal(t, 3, total) // blanks excluded
	require.Equal(t, 2, parsed)
	require.Equal(t, []float64{1200.50, 15}, vals)
}

func TestTimes_ParsesCommonLayouts(t *testing.T) {
	d, err := New([]string{"When"}, [][]string{{"2024-03-01"}, {"03/15/2024"}, {"not a date"}})
	require.NoError(t, err)

	vals, parsed, total := d.Times("When")
	require.Equal(t, 3, total)
	require.Equal(t, 2, parsed)
	require.Len(t, vals, 2)
	require.Equal(t, 2024, vals[0].Year())
}

func TestSubset_SharesBackingAndChains(t *testing.T) {
	d, err := New([]string{"X"}, [][]string{{"1"}, {"2"}, {"3"}, {"4"}})
	require.NoError(t, err)

	sub := d.Subset([]int{1, 3})
	require.Equal(t, 2, sub.Rows())
	vals, ok := sub.Strings("X")
	require.True(t, ok)
	require.Equal(t, []string{"2", "4"}, vals)

	// Subsetting a subset resolves through to the parent rows.
	sub2 := sub.Subset([]int{1})
	vals, ok = sub2.Strings("X")
	require.True(t, ok)
	require.Equal(t, []string{"4"}, vals)

	// Out-of-range indices are dropped, not panicked on.
	require.Equal(t, 0, sub.Subset([]int{99}).Rows())
}

func TestRenameColumns_DisambiguatesCollisions(t *testing.T) {
	d, err := New([]string{"total_sales", "Total Sales"}, [][]string{{"1", "2"}})
	require.NoError(t, err)

	renamed := d.RenameColumns(func(string) string { return "Total Sales" })
	cols := renamed.Columns()
	require.Equal(t, "Total Sales", cols[0])
	require.NotEqual(t, cols[0], cols[1])
}

func TestLoadWorkbook(t *testing.T) {
	f := excelize.NewFile()
	sh := "Orders"
	f.SetSheetName("Sheet1", sh)
	require.NoError(t, f.SetSheetRow(sh, "A1", &[]string{"Order Date", "Total Sales"}))
	require.NoError(t, f.SetSheetRow(sh, "A2", &[]string{"2024-01-02", "100"}))
	require.NoError(t, f.SetSheetRow(sh, "A3", &[]string{"2024-01-09", "250"}))

	dir := t.TempDir()
	path := filepath.Join(dir, "orders.xlsx")
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	d, err := LoadWorkbook(path, "", 0)
	require.NoError(t, err)
	require.Equal(t, []string{"Order Date", "Total Sales"}, d.Columns())
	require.Equal(t, 2, d.Rows())

	vals, parsed, total := d.Numbers("Total Sales")
	require.Equal(t, 2, parsed)
	require.Equal(t, 2, total)
	require.Equal(t, []float64{100, 250}, vals)
}

func TestLoadCSV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orders.csv")
	csv := "date,amount\n2024-01-02,10\n2024-01-03,20\n2024-01-04,30\n"
	require.NoError(t, os.WriteFile(path, []byte(csv), 0o644))

	d, err := LoadCSV(path, 2)
	require.NoError(t, err)
	require.Equal(t, 2, d.Rows()) // maxRows bound applied

	d, err = Load(path, 0)
	require.NoError(t, err)
	require.Equal(t, 3, d.Rows())
}

func TestLoad_UnsupportedFormat(t *testing.T) {
	_, err := Load("data.parquet", 0)
	require.Error(t, err)
}
