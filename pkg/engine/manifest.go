package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/curator-health/curator/pkg/artifact"
)

// Manifest is the resolved dependency closure of a root artifact for one
// operation. It is built fresh per operation and never persisted.
type Manifest struct {
	Root artifact.Reference `json:"root"`

	// Nodes maps identity keys to resolved artifacts.
	Nodes map[string]artifact.Node `json:"-"`

	// Order lists the keys of Nodes in traversal pre-order.
	Order []string `json:"order"`

	Edges      []Edge       `json:"edges,omitempty"`
	Unresolved []Unresolved `json:"unresolved,omitempty"`
	Warnings   []Warning    `json:"warnings,omitempty"`
}

func newManifest(root artifact.Reference) *Manifest {
	return &Manifest{
		Root:  root,
		Nodes: make(map[string]artifact.Node),
	}
}

func (m *Manifest) add(node artifact.Node) {
	key := node.Key()
	if _, exists := m.Nodes[key]; exists {
		return
	}
	m.Nodes[key] = node
	m.Order = append(m.Order, key)
}

// Node returns the resolved artifact for ref.
func (m *Manifest) Node(ref artifact.Reference) (artifact.Node, bool) {
	n, ok := m.Nodes[ref.Key()]
	return n, ok
}

// RootNode returns the resolved root artifact.
func (m *Manifest) RootNode() artifact.Node {
	if len(m.Order) == 0 {
		return artifact.Node{}
	}
	return m.Nodes[m.Order[0]]
}

// Artifacts returns the resolved artifacts in traversal order.
func (m *Manifest) Artifacts() []artifact.Node {
	nodes := make([]artifact.Node, 0, len(m.Order))
	for _, key := range m.Order {
		nodes = append(nodes, m.Nodes[key])
	}
	return nodes
}

// EdgesFrom returns the followed, bound edges declared by ref.
func (m *Manifest) EdgesFrom(ref artifact.Reference) []Edge {
	var edges []Edge
	for _, e := range m.Edges {
		if e.Followed && !e.Bound.IsZero() && e.From.Key() == ref.Key() {
			edges = append(edges, e)
		}
	}
	return edges
}

// Complete reports whether every followed dependency was bound.
func (m *Manifest) Complete() bool {
	return len(m.Unresolved) == 0
}

// Len returns the number of resolved artifacts.
func (m *Manifest) Len() int {
	return len(m.Order)
}

// fingerprintEntry is the stable projection of a node hashed by
// Fingerprint. Repository bookkeeping (ID, Source, Revision) is excluded.
type fingerprintEntry struct {
	Reference     artifact.Reference      `json:"reference"`
	Status        artifact.Status         `json:"status"`
	Experimental  bool                    `json:"experimental"`
	Relationships []artifact.Relationship `json:"relationships,omitempty"`
	Title         string                  `json:"title,omitempty"`
	Logic         string                  `json:"logic,omitempty"`
}

// Fingerprint returns a content hash of the manifest. Two resolutions of
// the same root against unchanged repositories have equal fingerprints.
func (m *Manifest) Fingerprint() string {
	doc := struct {
		Root       artifact.Reference `json:"root"`
		Entries    []fingerprintEntry `json:"entries"`
		Edges      []Edge             `json:"edges"`
		Unresolved []string           `json:"unresolved"`
	}{
		Root:  m.Root,
		Edges: m.Edges,
	}

	for _, n := range m.Artifacts() {
		doc.Entries = append(doc.Entries, fingerprintEntry{
			Reference:     n.Reference,
			Status:        n.Status,
			Experimental:  n.Experimental,
			Relationships: n.Relationships,
			Title:         n.Title,
			Logic:         n.Logic,
		})
	}
	for _, u := range m.Unresolved {
		doc.Unresolved = append(doc.Unresolved, u.From.Key()+" -> "+u.Declared.Key())
	}

	data, err := json.Marshal(doc)
	if err != nil {
		// Every field is a plain value; marshalling cannot fail.
		panic(fmt.Sprintf("manifest fingerprint: %v", err))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ToDOT renders the manifest as a Graphviz digraph. Followed edges are
// solid, lineage edges dotted and unresolved dependencies dashed red.
func (m *Manifest) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph Manifest {\n")
	sb.WriteString("  rankdir=LR;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for _, key := range m.Order {
		n := m.Nodes[key]
		sb.WriteString(fmt.Sprintf("  %q [label=%q, fillcolor=%q, style=\"filled,rounded\"];\n",
			key, n.Reference.URL+"\\n"+n.Reference.Version, statusColor(n.Status)))
	}
	sb.WriteString("\n")

	for _, e := range m.Edges {
		switch {
		case e.Followed && !e.Bound.IsZero():
			sb.WriteString(fmt.Sprintf("  %q -> %q [label=%q];\n", e.From.Key(), e.Bound.Key(), e.Relationship.Kind))
		case !e.Followed:
			sb.WriteString(fmt.Sprintf("  %q -> %q [label=%q, style=dotted, color=gray];\n",
				e.From.Key(), e.Relationship.Target.Key(), e.Relationship.Kind))
		}
	}
	for _, u := range m.Unresolved {
		sb.WriteString(fmt.Sprintf("  %q -> %q [style=dashed, color=red];\n", u.From.Key(), u.Declared.Key()))
	}

	sb.WriteString("}\n")
	return sb.String()
}

// statusColor returns a color for visualizing lifecycle status.
func statusColor(status artifact.Status) string {
	switch status {
	case artifact.StatusDraft:
		return "lightblue"
	case artifact.StatusActive:
		return "lightgreen"
	case artifact.StatusRetired:
		return "lightcoral"
	default:
		return "lightgray"
	}
}
