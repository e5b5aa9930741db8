// ABOUTME: Pure assembly of the full panel sequence into a linear story graph
// ABOUTME: Recomputed from scratch on every call; identical input yields an identical document

package story

import (
	"fmt"
	"strings"
)

// NodeKindChoice is the only node kind the assembler emits: every node
// presents an ordered choice list, which for a linear story is a single
// Continue transition (or none on the terminal node).
const NodeKindChoice = "choice"

// ContinueLabel is the label on the sole choice of every non-terminal node.
const ContinueLabel = "Continue"

// Choice is one selectable transition out of a node.
type Choice struct {
	Label string `json:"label"`
	Key   string `json:"key"`
}

// Node is a single story node in the assembled document.
type Node struct {
	Text    string   `json:"text"`
	Kind    string   `json:"type"`
	Choices []Choice `json:"choices"`
	Photo   string   `json:"photo,omitempty"`
}

// Meta describes the story document.
type Meta struct {
	Title string `json:"title"`
	Intro string `json:"intro"`
}

// Graph is the complete assembled story document. Callbacks map each
// node's incoming transition key to the node it leads to.
type Graph struct {
	Meta      Meta              `json:"meta"`
	Nodes     map[string]Node   `json:"nodes"`
	Callbacks map[string]string `json:"callbacks"`
}

// NodeID returns the id for the panel at 1-based position i.
func NodeID(i int) string {
	return fmt.Sprintf("node_%04d", i)
}

// TransitionKey returns the callback key that leads to the node at
// 1-based position i.
func TransitionKey(storyID string, i int) string {
	return fmt.Sprintf("%s:goto:%04d", storyID, i)
}

// Assemble compiles the full panel sequence into a story graph of
// sequentially linked nodes. It is a pure function of its input: node ids
// derive from panel positions, every node but the last carries a single
// Continue choice pointing at the next node, and the last node's choice
// list is empty.
func Assemble(storyID, title string, panels []Panel) Graph {
	nodes := make(map[string]Node, len(panels))
	callbacks := make(map[string]string)

	for i, p := range panels {
		pos := i + 1
		id := NodeID(pos)

		text := p.Text
		if p.Speaker != "" {
			text = strings.TrimSpace(p.Speaker + "\n\n" + p.Text)
		}

		choices := []Choice{}
		if pos < len(panels) {
			choices = append(choices, Choice{
				Label: ContinueLabel,
				Key:   TransitionKey(storyID, pos+1),
			})
		}

		nodes[id] = Node{
			Text:    text,
			Kind:    NodeKindChoice,
			Choices: choices,
			Photo:   p.PhotoURL,
		}

		if pos > 1 {
			callbacks[TransitionKey(storyID, pos)] = id
		}
	}

	intro := ""
	if len(panels) > 0 {
		intro = NodeID(1)
	}

	return Graph{
		Meta:      Meta{Title: title, Intro: intro},
		Nodes:     nodes,
		Callbacks: callbacks,
	}
}
