package diagram

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// Catalog holds the diagram for each topic. Topics can be loaded from a JSON
// file mapping topic name to graph; a built-in ER example is always present
// so the gateway works out of the box.
type Catalog struct {
	mu     sync.RWMutex
	topics map[string]*Graph
}

// NewCatalog creates a catalog seeded with the built-in topics.
func NewCatalog() *Catalog {
	c := &Catalog{topics: make(map[string]*Graph)}
	c.topics["er"] = builtinER()
	return c
}

// LoadFile merges topic graphs from a JSON file into the catalog.
func (c *Catalog) LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read topics file: %w", err)
	}
	var topics map[string]*Graph
	if err := json.Unmarshal(raw, &topics); err != nil {
		return fmt.Errorf("parse topics file: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for name, g := range topics {
		c.topics[name] = g
	}
	return nil
}

// Get returns the graph for a topic, or nil when the topic is unknown.
func (c *Catalog) Get(topic string) *Graph {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.topics[topic]
}

// Put registers or replaces a topic's graph.
func (c *Catalog) Put(topic string, g *Graph) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics[topic] = g
}

// Topics lists the known topic names.
func (c *Catalog) Topics() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.topics))
	for name := range c.topics {
		names = append(names, name)
	}
	return names
}

func builtinER() *Graph {
	return &Graph{
		Nodes: []Node{
			{ID: "student", Name: "Student", Type: "entity", Attributes: []Attribute{
				{Name: "student_id", IsKey: true},
				{Name: "name"},
				{Name: "email"},
			}},
			{ID: "course", Name: "Course", Type: "entity", Attributes: []Attribute{
				{Name: "course_id", IsKey: true},
				{Name: "title"},
			}},
			{ID: "enrollment", Name: "Enrollment", Type: "relationship"},
		},
		Edges: []Edge{
			{Source: "student", Target: "enrollment", Type: "participates"},
			{Source: "course", Target: "enrollment", Type: "participates"},
		},
		Narration: "A student enrolls in a course through the enrollment relationship.",
	}
}
