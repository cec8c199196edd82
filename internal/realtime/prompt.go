package realtime

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/conceptviz/narration-gateway/internal/diagram"
)

// BuildContextPrompt assembles the opening message for a live session: the
// topic, the user's question, and the diagram structure so the model can
// reference node IDs the renderer understands.
func BuildContextPrompt(topic, doubt string, g *diagram.Graph) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\nDoubt: %s\n\n", topic, doubt)

	if g != nil {
		b.WriteString("Visualization Context:\n")
		if len(g.Nodes) > 0 {
			b.WriteString("Nodes:\n")
			for _, n := range g.Nodes {
				typ := n.Type
				if typ == "" {
					typ = "N/A"
				}
				fmt.Fprintf(&b, "- %s (ID: %s, Type: %s)\n", n.Name, n.ID, typ)
				if len(n.Attributes) > 0 {
					b.WriteString("  Attributes:\n")
					for _, a := range n.Attributes {
						key := ""
						if a.IsKey {
							key = " (Primary Key)"
						}
						fmt.Fprintf(&b, "  - %s%s\n", a.Name, key)
					}
				}
			}
		}
		if len(g.Edges) > 0 {
			b.WriteString("\nEdges:\n")
			for _, e := range g.Edges {
				desc := ""
				if e.Description != "" {
					desc = ", " + e.Description
				}
				fmt.Fprintf(&b, "- %s -> %s (Type: %s%s)\n", e.Source, e.Target, e.Type, desc)
			}
		}
		if g.Narration != "" {
			b.WriteString("\nVisualization Description:\n")
			b.WriteString(g.Narration + "\n")
		}
	}

	b.WriteString("\nPlease answer the doubt, mentioning node names when you reference parts of the visualization.")
	return b.String()
}

// ContextMessages builds the two opening data-channel messages: the user
// message carrying the prompt, then the trigger for the model to respond.
func ContextMessages(prompt string) ([][]byte, error) {
	create := map[string]any{
		"type":     "conversation.item.create",
		"event_id": uuid.NewString(),
		"item": map[string]any{
			"type": "message",
			"role": "user",
			"content": []map[string]any{
				{"type": "input_text", "text": prompt},
			},
		},
	}
	respond := map[string]any{
		"type":     "response.create",
		"event_id": uuid.NewString(),
	}

	first, err := json.Marshal(create)
	if err != nil {
		return nil, fmt.Errorf("marshal item create: %w", err)
	}
	second, err := json.Marshal(respond)
	if err != nil {
		return nil, fmt.Errorf("marshal response create: %w", err)
	}
	return [][]byte{first, second}, nil
}
