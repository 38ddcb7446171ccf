// Package dependency orders named nodes (tables) so that every node comes
// after the nodes it depends on.
package dependency

import (
	"fmt"
	"strings"
)

// Node is a named vertex and the names it depends on.
type Node struct {
	Name         string
	Dependencies []string
}

// ValidationError represents a dependency validation error.
type ValidationError struct {
	Type    string   // "circular", "missing", "invalid"
	Nodes   []string // Nodes involved in the error
	Message string   // Human-readable error message
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Result contains the outcome of dependency resolution.
type Result struct {
	Ordered  []string          // Node names in dependency-resolved order
	Warnings []ValidationError // Non-fatal issues
	Errors   []ValidationError // Fatal issues
}

// HasErrors returns true if there are any errors.
func (r *Result) HasErrors() bool {
	return len(r.Errors) > 0
}

// HasWarnings returns true if there are any warnings.
func (r *Result) HasWarnings() bool {
	return len(r.Warnings) > 0
}

// Resolve validates dependencies and returns node names in topological order.
// Ties are broken by input position so unrelated nodes keep their declared
// order. Self-references are ignored. With errors, the input order is
// returned as a best-effort fallback.
func Resolve(nodes []Node) Result {
	result := Result{
		Ordered:  names(nodes),
		Warnings: []ValidationError{},
		Errors:   []ValidationError{},
	}
	if len(nodes) == 0 {
		return result
	}

	position := make(map[string]int, len(nodes))
	for i, n := range nodes {
		position[n.Name] = i
	}

	graph := make(map[string][]string, len(nodes))
	for _, n := range nodes {
		var deps []string
		seen := make(map[string]bool)
		for _, dep := range n.Dependencies {
			if dep == n.Name || seen[dep] {
				continue
			}
			seen[dep] = true
			if _, ok := position[dep]; !ok {
				result.Warnings = append(result.Warnings, ValidationError{
					Type:    "missing",
					Nodes:   []string{n.Name, dep},
					Message: fmt.Sprintf("%q depends on %q which is not part of the set", n.Name, dep),
				})
				continue
			}
			deps = append(deps, dep)
		}
		graph[n.Name] = deps
	}

	if cycles := detectCycles(nodes, graph); len(cycles) > 0 {
		for _, cycle := range cycles {
			result.Errors = append(result.Errors, ValidationError{
				Type:    "circular",
				Nodes:   cycle,
				Message: fmt.Sprintf("circular dependency detected: %s", strings.Join(cycle, " -> ")),
			})
		}
		return result
	}

	ordered, err := topologicalSort(nodes, graph, position)
	if err != nil {
		result.Errors = append(result.Errors, ValidationError{
			Type:    "invalid",
			Nodes:   []string{},
			Message: fmt.Sprintf("failed to order nodes: %v", err),
		})
		return result
	}

	result.Ordered = ordered
	return result
}

func names(nodes []Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Name
	}
	return out
}

// detectCycles returns each cycle found as the list of node names forming it,
// with the first name repeated at the end.
func detectCycles(nodes []Node, graph map[string][]string) [][]string {
	var cycles [][]string
	visited := make(map[string]bool)
	recStack := make(map[string]bool)
	var path []string

	var dfs func(node string) bool
	dfs = func(node string) bool {
		visited[node] = true
		recStack[node] = true
		path = append(path, node)

		for _, dep := range graph[node] {
			if !visited[dep] {
				if dfs(dep) {
					return true
				}
			} else if recStack[dep] {
				for i, n := range path {
					if n == dep {
						cycle := make([]string, len(path)-i, len(path)-i+1)
						copy(cycle, path[i:])
						cycles = append(cycles, append(cycle, dep))
						break
					}
				}
				return true
			}
		}

		path = path[:len(path)-1]
		recStack[node] = false
		return false
	}

	// Walk in input order so reported cycles are deterministic.
	for _, n := range nodes {
		if !visited[n.Name] {
			path = path[:0]
			dfs(n.Name)
		}
	}
	return cycles
}

// topologicalSort performs Kahn's algorithm, always taking the ready node
// with the lowest input position.
func topologicalSort(nodes []Node, graph map[string][]string, position map[string]int) ([]string, error) {
	inDegree := make(map[string]int, len(nodes))
	dependents := make(map[string][]string, len(nodes))
	for _, n := range nodes {
		inDegree[n.Name] = len(graph[n.Name])
		for _, dep := range graph[n.Name] {
			dependents[dep] = append(dependents[dep], n.Name)
		}
	}

	var ready []string
	for _, n := range nodes {
		if inDegree[n.Name] == 0 {
			ready = append(ready, n.Name)
		}
	}

	result := make([]string, 0, len(nodes))
	for len(ready) > 0 {
		best := 0
		for i := 1; i < len(ready); i++ {
			if position[ready[i]] < position[ready[best]] {
				best = i
			}
		}
		current := ready[best]
		ready = append(ready[:best], ready[best+1:]...)
		result = append(result, current)

		for _, dependent := range dependents[current] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	if len(result) != len(nodes) {
		return nil, fmt.Errorf("topological sort failed: processed %d of %d nodes", len(result), len(nodes))
	}
	return result, nil
}

// ValidateGraph performs validation on a dependency graph without ordering.
// Returns any circular or missing dependency errors.
func ValidateGraph(nodes []Node) []ValidationError {
	result := Resolve(nodes)
	var allErrors []ValidationError
	allErrors = append(allErrors, result.Errors...)
	allErrors = append(allErrors, result.Warnings...)
	return allErrors
}
