package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/curator-health/curator/pkg/artifact"
)

// CommitGraph orders the writes of a plan so that every artifact is written
// after the artifacts it references. Writes at the same level do not
// reference one another.
type CommitGraph struct {
	// writes maps identity keys to planned writes
	writes map[string]*PlannedWrite

	// position preserves the plan's original order for tie-breaking
	position map[string]int

	// adjacencyList maps keys to the writes that reference them
	adjacencyList map[string][]string

	// reverseAdjacencyList maps keys to the writes they reference
	reverseAdjacencyList map[string][]string

	// inDegree tracks the number of unwritten references of each write
	inDegree map[string]int

	// levels holds keys grouped by commit level
	levels [][]string
}

// NewCommitGraph creates an empty commit graph.
func NewCommitGraph() *CommitGraph {
	return &CommitGraph{
		writes:               make(map[string]*PlannedWrite),
		position:             make(map[string]int),
		adjacencyList:        make(map[string][]string),
		reverseAdjacencyList: make(map[string][]string),
		inDegree:             make(map[string]int),
	}
}

// Order returns writes sorted into commit order. References to artifacts
// outside writes are ignored.
func (g *CommitGraph) Order(writes []PlannedWrite) ([]PlannedWrite, error) {
	if len(writes) == 0 {
		return nil, nil
	}

	if err := g.initialize(writes); err != nil {
		return nil, err
	}

	if err := g.detectCycles(); err != nil {
		return nil, err
	}

	g.computeLevels()

	ordered := make([]PlannedWrite, 0, len(writes))
	for _, level := range g.levels {
		for _, key := range level {
			ordered = append(ordered, *g.writes[key])
		}
	}
	return ordered, nil
}

func (g *CommitGraph) initialize(writes []PlannedWrite) error {
	keys := make([]string, 0, len(writes))
	for i := range writes {
		key := writes[i].After.Key()
		if _, exists := g.writes[key]; exists {
			return artifact.NewInvalidStateError(fmt.Sprintf("plan writes %s twice", key)).
				WithReference(writes[i].After.Reference)
		}
		g.writes[key] = &writes[i]
		g.position[key] = i
		g.adjacencyList[key] = nil
		g.reverseAdjacencyList[key] = nil
		g.inDegree[key] = 0
		keys = append(keys, key)
	}

	// Iterate in plan order so adjacency lists are deterministic.
	for _, key := range keys {
		seen := make(map[string]bool)
		for _, rel := range g.writes[key].After.Relationships {
			target := rel.Target.Key()
			if target == key || seen[target] {
				continue
			}
			if _, planned := g.writes[target]; !planned {
				continue
			}
			seen[target] = true
			g.adjacencyList[target] = append(g.adjacencyList[target], key)
			g.reverseAdjacencyList[key] = append(g.reverseAdjacencyList[key], target)
			g.inDegree[key]++
		}
	}

	return nil
}

// detectCycles uses depth-first search to reject circular references.
func (g *CommitGraph) detectCycles() error {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	keys := make([]string, 0, len(g.writes))
	for key := range g.writes {
		keys = append(keys, key)
	}
	g.sortByPosition(keys)

	for _, key := range keys {
		if visited[key] {
			continue
		}
		if cycle := g.detectCyclesUtil(key, visited, recStack, nil); cycle != nil {
			refs := make([]artifact.Reference, len(cycle))
			for i, k := range cycle {
				refs[i] = g.writes[k].After.Reference
			}
			return artifact.NewCyclicDependencyError(refs)
		}
	}

	return nil
}

func (g *CommitGraph) detectCyclesUtil(key string, visited, recStack map[string]bool, path []string) []string {
	visited[key] = true
	recStack[key] = true
	path = append(path, key)

	for _, dependent := range g.adjacencyList[key] {
		if !visited[dependent] {
			if cycle := g.detectCyclesUtil(dependent, visited, recStack, path); cycle != nil {
				return cycle
			}
		} else if recStack[dependent] {
			for i, k := range path {
				if k == dependent {
					return append(append([]string(nil), path[i:]...), dependent)
				}
			}
		}
	}

	recStack[key] = false
	return nil
}

// computeLevels assigns commit levels with Kahn's algorithm. Within a level
// writes keep their plan order.
func (g *CommitGraph) computeLevels() {
	inDegree := make(map[string]int, len(g.inDegree))
	for key, degree := range g.inDegree {
		inDegree[key] = degree
	}

	var current []string
	for key, degree := range inDegree {
		if degree == 0 {
			current = append(current, key)
		}
	}

	for len(current) > 0 {
		g.sortByPosition(current)
		g.levels = append(g.levels, current)

		var next []string
		for _, key := range current {
			for _, dependent := range g.adjacencyList[key] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		current = next
	}
}

func (g *CommitGraph) sortByPosition(keys []string) {
	sort.Slice(keys, func(i, j int) bool {
		return g.position[keys[i]] < g.position[keys[j]]
	})
}

// Levels returns the computed commit levels.
func (g *CommitGraph) Levels() [][]string {
	return g.levels
}

// ToDOT renders the commit graph for Graphviz, one cluster per level.
func (g *CommitGraph) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph CommitGraph {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for level, keys := range g.levels {
		sb.WriteString(fmt.Sprintf("  subgraph cluster_level_%d {\n", level))
		sb.WriteString(fmt.Sprintf("    label=\"Level %d\";\n", level))
		sb.WriteString("    style=dashed;\n")

		for _, key := range keys {
			w := g.writes[key]
			action := "update"
			if w.Create {
				action = "create"
			}
			sb.WriteString(fmt.Sprintf("    %q [label=%q, fillcolor=%q, style=\"filled,rounded\"];\n",
				key, key+"\\n"+action, statusColor(w.After.Status)))
		}

		sb.WriteString("  }\n\n")
	}

	for _, key := range g.sortedKeys() {
		for _, target := range g.reverseAdjacencyList[key] {
			sb.WriteString(fmt.Sprintf("  %q -> %q;\n", key, target))
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

// ToDOT renders the commit graph of the plan's writes.
func (p *Plan) ToDOT() (string, error) {
	g := NewCommitGraph()
	if _, err := g.Order(p.Writes); err != nil {
		return "", err
	}
	return g.ToDOT(), nil
}

func (g *CommitGraph) sortedKeys() []string {
	var keys []string
	for _, level := range g.levels {
		keys = append(keys, level...)
	}
	return keys
}
