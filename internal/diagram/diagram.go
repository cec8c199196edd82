package diagram

import "strings"

// Attribute is a field of an entity node, e.g. a table column.
type Attribute struct {
	Name  string `json:"name"`
	IsKey bool   `json:"isKey,omitempty"`
}

// Node is one element of a concept diagram. The renderer is a black box that
// consumes nodes, edges, and a set of highlighted IDs.
type Node struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Type       string      `json:"type,omitempty"`
	Attributes []Attribute `json:"attributes,omitempty"`
}

// Edge connects two nodes by ID.
type Edge struct {
	Source      string `json:"source"`
	Target      string `json:"target"`
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
}

// Graph is the diagram data contract shared with the renderer.
type Graph struct {
	Nodes     []Node `json:"nodes"`
	Edges     []Edge `json:"edges"`
	Narration string `json:"narration,omitempty"`
}

// MatchWord returns the ID of the first node whose name matches the word,
// case-insensitively, either exactly or by containment. Returns "" when no
// node matches.
func (g *Graph) MatchWord(word string) string {
	if g == nil {
		return ""
	}
	w := strings.ToLower(strings.Trim(word, ".,!?;:"))
	if w == "" {
		return ""
	}
	for _, n := range g.Nodes {
		name := strings.ToLower(n.Name)
		if name == "" {
			continue
		}
		if name == w || strings.Contains(name, w) || strings.Contains(w, name) {
			return n.ID
		}
	}
	return ""
}

// NodeIDs returns the IDs of all nodes in the graph.
func (g *Graph) NodeIDs() []string {
	if g == nil {
		return nil
	}
	ids := make([]string, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		ids = append(ids, n.ID)
	}
	return ids
}
