package engine

import (
	"fmt"
	"strings"
	"time"
)

// NodeKind selects the executor for a node.
type NodeKind string

const (
	// KindLocal dispatches to a registered outlet function.
	KindLocal NodeKind = "local"
	// KindHTTP dispatches via HTTP POST to a remote gear.
	KindHTTP NodeKind = "http"
)

// NodeData carries the authoring-side linkage from a node to its gear.
type NodeData struct {
	GearID string `json:"gearId,omitempty"`
}

// Node is a vertex in a patch. kind=local requires Fn, kind=http requires URL.
type Node struct {
	ID   string   `json:"id"`
	Kind NodeKind `json:"kind"`
	Fn   string   `json:"fn,omitempty"`
	URL  string   `json:"url,omitempty"`
	Data NodeData `json:"data,omitempty"`
}

// Edge is a directed dependency between two nodes. Multi-edges between the
// same pair are allowed; their order in the edge list is significant for
// multi-parent input resolution.
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// Definition is an immutable patch revision: the DAG plus metadata.
type Definition struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Nodes       []Node    `json:"nodes"`
	Edges       []Edge    `json:"edges"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Validate checks structural invariants of a definition: nodes and edges are
// present (a decoded null is rejected), node ids are unique and non-empty,
// every edge references known nodes, and each node carries what its kind needs.
func (d *Definition) Validate() error {
	if d == nil {
		return &InvalidPatchError{Reason: "definition is nil"}
	}
	if d.Nodes == nil {
		return &InvalidPatchError{Reason: "nodes must be an array"}
	}
	if d.Edges == nil {
		return &InvalidPatchError{Reason: "edges must be an array"}
	}
	seen := make(map[string]struct{}, len(d.Nodes))
	for _, n := range d.Nodes {
		if strings.TrimSpace(n.ID) == "" {
			return &InvalidPatchError{Reason: "node id must be non-empty"}
		}
		if _, dup := seen[n.ID]; dup {
			return &InvalidPatchError{Reason: fmt.Sprintf("duplicate node id %q", n.ID)}
		}
		seen[n.ID] = struct{}{}
		switch n.Kind {
		case KindLocal:
			if n.Fn == "" {
				return &InvalidPatchError{Reason: fmt.Sprintf("node %q: kind=local requires fn", n.ID)}
			}
		case KindHTTP:
			if n.URL == "" {
				return &InvalidPatchError{Reason: fmt.Sprintf("node %q: kind=http requires url", n.ID)}
			}
		default:
			return &InvalidPatchError{Reason: fmt.Sprintf("node %q: unknown kind %q", n.ID, n.Kind)}
		}
	}
	for _, e := range d.Edges {
		if _, ok := seen[e.Source]; !ok {
			return &InvalidPatchError{Reason: fmt.Sprintf("edge references unknown source %q", e.Source)}
		}
		if _, ok := seen[e.Target]; !ok {
			return &InvalidPatchError{Reason: fmt.Sprintf("edge references unknown target %q", e.Target)}
		}
	}
	return nil
}
