package graph

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTopoSortLinearChain(t *testing.T) {
	order, err := TopoSort(map[string][]string{
		"Average Order Value": {"Total Revenue", "Total Orders"},
		"Total Revenue":       nil,
		"Total Orders":        nil,
	})
	require.NoError(t, err)
	require.Equal(t, []string{"Total Orders", "Total Revenue", "Average Order Value"}, order)
}

func TestTopoSortDeterministic(t *testing.T) {
	deps := map[string][]string{"C": nil, "A": nil, "B": nil}
	first, err := TopoSort(deps)
	require.NoError(t, err)
	require.Equal(t, []string{"A", "B", "C"}, first)
	for i := 0; i < 20; i++ {
		again, err := TopoSort(deps)
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

func TestTopoSortDependencyAlwaysPrecedes(t *testing.T) {
	deps := map[string][]string{
		"D": {"B", "C"},
		"C": {"A"},
		"B": {"A"},
		"A": nil,
		"E": {"D"},
	}
	order, err := TopoSort(deps)
	require.NoError(t, err)
	pos := make(map[string]int, len(order))
	for i, n := range order {
		pos[n] = i
	}
	for node, requires := range deps {
		for _, dep := range requires {
			require.Less(t, pos[dep], pos[node], "%s must precede %s", dep, node)
		}
	}
}

func TestTopoSortIgnoresUnknownDeps(t *testing.T) {
	order, err := TopoSort(map[string][]string{
		"A": {"Not In Set"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"A"}, order)
}

func TestTopoSortCycle(t *testing.T) {
	_, err := TopoSort(map[string][]string{
		"A": {"B"},
		"B": {"A"},
		"C": nil,
	})
	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	require.Equal(t, []string{"A", "B"}, cycleErr.Remaining)
	require.Contains(t, err.Error(), "circular dependency")
}

func TestTopoSortSelfCycle(t *testing.T) {
	_, err := TopoSort(map[string][]string{"A": {"A"}})
	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	require.Equal(t, []string{"A"}, cycleErr.Remaining)
}
