package match

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"selling_price", "Selling Price"},
		{"order-date", "Order Date"},
		{"totalRevenue", "Total Revenue"},
		{"  Total   Revenue  ", "Total Revenue"},
		{"qty (units)", "Qty Units"},
		{"REGION", "Region"},
		{"order_id#", "Order Id"},
		// Acronym runs split as one token, not per letter.
		{"OrderID", "Order Id"},
		{"XMLHttpRequest", "Xml Http Request"},
		{"", ""},
		{"%", ""},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, Normalize(tc.in), "input %q", tc.in)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"selling_price", "totalRevenue", "Order Date", "qty (units)",
		"a_b-c", "XMLHttpRequest", "column 12", "REGION",
	}
	for _, in := range inputs {
		once := Normalize(in)
		require.Equal(t, once, Normalize(once), "input %q", in)
	}
}

func TestNormalizeAll(t *testing.T) {
	got := NormalizeAll([]string{"order_id", "sellingPrice"})
	require.Equal(t, []string{"Order Id", "Selling Price"}, got)
}
