package diagram

import "testing"

func TestMatchWord(t *testing.T) {
	g := NewCatalog().Get("er")

	cases := []struct {
		word string
		want string
	}{
		{"Student", "student"},
		// trailing punctuation is stripped before matching
		{"student,", "student"},
		{"enrollment", "enrollment"},
		// containment runs against the node name, not word stems
		{"enrolls", ""},
		{"course.", "course"},
		{"database", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := g.MatchWord(tc.word); got != tc.want {
			t.Errorf("MatchWord(%q) = %q, want %q", tc.word, got, tc.want)
		}
	}
}

func TestMatchWordNilGraph(t *testing.T) {
	var g *Graph
	if got := g.MatchWord("student"); got != "" {
		t.Fatalf("nil graph matched %q", got)
	}
}

func TestCatalogPutGet(t *testing.T) {
	c := NewCatalog()
	if c.Get("er") == nil {
		t.Fatal("built-in er topic missing")
	}
	if c.Get("unknown") != nil {
		t.Fatal("unknown topic returned a graph")
	}

	c.Put("sharding", &Graph{Nodes: []Node{{ID: "shard-1", Name: "Shard 1"}}})
	g := c.Get("sharding")
	if g == nil || len(g.Nodes) != 1 {
		t.Fatalf("Put/Get round trip failed: %+v", g)
	}
}
