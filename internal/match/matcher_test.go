package match

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubSemantic struct {
	col string
	sim float64
	err error
}

func (s stubSemantic) Match(context.Context, string, []string) (string, float64, error) {
	return s.col, s.sim, s.err
}

func TestMatcherExact(t *testing.T) {
	m := &Matcher{}
	cols := NormalizeAll([]string{"selling_price", "order_id"})
	res, ok := m.Match(context.Background(), "Selling Price", cols)
	require.True(t, ok)
	require.Equal(t, "Selling Price", res.Column)
	require.Equal(t, MethodExact, res.Method)
	require.Equal(t, float64(100), res.Confidence)
}

func TestMatcherNormalizesPlaceholder(t *testing.T) {
	m := &Matcher{}
	res, ok := m.Match(context.Background(), "selling_price", []string{"Selling Price"})
	require.True(t, ok)
	require.Equal(t, MethodExact, res.Method)
}

func TestMatcherFuzzy(t *testing.T) {
	m := &Matcher{}
	cols := []string{"Unit Selling Price", "Order Date"}
	res, ok := m.Match(context.Background(), "selling price", cols)
	require.True(t, ok)
	require.Equal(t, "Unit Selling Price", res.Column)
	require.Equal(t, MethodFuzzy, res.Method)
	require.GreaterOrEqual(t, res.Confidence, float64(60))
}

func TestMatcherNoMatchWithoutSemantic(t *testing.T) {
	m := &Matcher{}
	_, ok := m.Match(context.Background(), "Gross Margin", []string{"Zebra", "Quokka"})
	require.False(t, ok)
}

func TestMatcherSemanticLayer(t *testing.T) {
	m := &Matcher{Semantic: stubSemantic{col: "Selling Price", sim: 0.91}}
	res, ok := m.Match(context.Background(), "Revenue Amount", []string{"Selling Price", "Order Id"})
	require.True(t, ok)
	require.Equal(t, "Selling Price", res.Column)
	require.Equal(t, MethodSemantic, res.Method)
	require.InDelta(t, 91.0, res.Confidence, 0.001)
}

func TestMatcherSemanticBelowThreshold(t *testing.T) {
	m := &Matcher{Semantic: stubSemantic{col: "Selling Price", sim: 0.42}}
	_, ok := m.Match(context.Background(), "Gross Margin", []string{"Zebra", "Quokka"})
	require.False(t, ok)
}

func TestMatcherSemanticErrorDegrades(t *testing.T) {
	m := &Matcher{Semantic: stubSemantic{err: errors.New("backend down")}}
	_, ok := m.Match(context.Background(), "Gross Margin", []string{"Zebra", "Quokka"})
	require.False(t, ok)
}

func TestMatcherEmptyColumns(t *testing.T) {
	m := &Matcher{}
	_, ok := m.Match(context.Background(), "Selling Price", nil)
	require.False(t, ok)
}
