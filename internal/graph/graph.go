// Package graph orders KPI definitions so every dependency is calculated
// before its dependents.
package graph

import (
	"fmt"
	"sort"
	"strings"
)

// CycleError reports a circular dependency. Remaining lists the nodes that
// could not be ordered, sorted for stable messages.
type CycleError struct {
	Remaining []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("circular dependency involving: %s", strings.Join(e.Remaining, ", "))
}

// TopoSort returns the nodes in dependency order using Kahn's algorithm.
// deps maps each node to the nodes it depends on; dependencies outside the
// node set are ignored, they are someone else's problem. Ties break
// lexicographically so the order is deterministic regardless of map
// iteration. A cycle yields a *CycleError.
func TopoSort(deps map[string][]string) ([]string, error) {
	indegree := make(map[string]int, len(deps))
	dependents := make(map[string][]string, len(deps))
	for node := range deps {
		indegree[node] = 0
	}
	for node, requires := range deps {
		for _, dep := range requires {
			if _, known := indegree[dep]; !known {
				continue
			}
			indegree[node]++
			dependents[dep] = append(dependents[dep], node)
		}
	}

	var ready []string
	for node, n := range indegree {
		if n == 0 {
			ready = append(ready, node)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(deps))
	for len(ready) > 0 {
		node := ready[0]
		ready = ready[1:]
		order = append(order, node)

		var unlocked []string
		for _, dependent := range dependents[node] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				unlocked = append(unlocked, dependent)
			}
		}
		if len(unlocked) > 0 {
			ready = append(ready, unlocked...)
			sort.Strings(ready)
		}
	}

	if len(order) != len(deps) {
		var remaining []string
		for node, n := range indegree {
			if n > 0 {
				remaining = append(remaining, node)
			}
		}
		sort.Strings(remaining)
		return nil, &CycleError{Remaining: remaining}
	}
	return order, nil
}
