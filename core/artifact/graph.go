package artifact

import (
	"fmt"
	"sort"
	"strings"

	schemarun "github.com/Merlins-Owl/Method-VI-sub002/core/schema/v1/run"
)

// checkAcyclic rejects the envelope if accepting it would complete a cycle
// anywhere in the accumulated dependency graph, not just among the
// envelope's own outgoing edges.
func checkAcyclic(envelope schemarun.Artifact, index Index) []Violation {
	adjacency := make(map[string][]string, len(index.Dependencies)+1)
	for id, dependencies := range index.Dependencies {
		adjacency[id] = sortedCopy(dependencies)
	}
	if envelope.ArtifactID != "" && len(envelope.DependsOn) > 0 {
		merged := append(sortedCopy(adjacency[envelope.ArtifactID]), envelope.DependsOn...)
		adjacency[envelope.ArtifactID] = sortedCopy(merged)
	}

	cycle := findCycle(adjacency)
	if len(cycle) == 0 {
		return nil
	}
	return []Violation{{
		Code:      CodeCircularDependency,
		Field:     "depends_on",
		Message:   fmt.Sprintf("accepting this artifact completes a dependency cycle: %s", strings.Join(cycle, " -> ")),
		CyclePath: cycle,
	}}
}

const (
	colorWhite = 0
	colorGray  = 1
	colorBlack = 2
)

type traversalFrame struct {
	node     string
	nextEdge int
}

// findCycle runs an iterative depth-first traversal with an explicit
// on-path stack and back-edge detection. Node and edge order are sorted, so
// the same graph always yields the same witness cycle. The returned path is
// the sub-path from the revisited node forward, closed with that node.
func findCycle(adjacency map[string][]string) []string {
	nodes := make([]string, 0, len(adjacency))
	nodeSet := make(map[string]struct{}, len(adjacency))
	for id, dependencies := range adjacency {
		if _, seen := nodeSet[id]; !seen {
			nodeSet[id] = struct{}{}
			nodes = append(nodes, id)
		}
		for _, dependency := range dependencies {
			if _, seen := nodeSet[dependency]; !seen {
				nodeSet[dependency] = struct{}{}
				nodes = append(nodes, dependency)
			}
		}
	}
	sort.Strings(nodes)

	colors := make(map[string]int, len(nodes))
	for _, start := range nodes {
		if colors[start] != colorWhite {
			continue
		}

		stack := []traversalFrame{{node: start}}
		colors[start] = colorGray
		path := []string{start}

		for len(stack) > 0 {
			frame := &stack[len(stack)-1]
			edges := adjacency[frame.node]
			if frame.nextEdge < len(edges) {
				next := edges[frame.nextEdge]
				frame.nextEdge++
				switch colors[next] {
				case colorWhite:
					colors[next] = colorGray
					stack = append(stack, traversalFrame{node: next})
					path = append(path, next)
				case colorGray:
					return closeCycle(path, next)
				}
				continue
			}
			colors[frame.node] = colorBlack
			stack = stack[:len(stack)-1]
			path = path[:len(path)-1]
		}
	}
	return nil
}

func closeCycle(path []string, revisited string) []string {
	start := 0
	for i, node := range path {
		if node == revisited {
			start = i
			break
		}
	}
	cycle := make([]string, 0, len(path)-start+1)
	cycle = append(cycle, path[start:]...)
	cycle = append(cycle, revisited)
	return cycle
}

func sortedCopy(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	duplicate := make([]string, len(values))
	copy(duplicate, values)
	sort.Strings(duplicate)
	return duplicate
}
