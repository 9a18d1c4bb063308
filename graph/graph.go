// Package graph defines the declarative job graph document submitted to the
// compute server: named nodes with a kind, typed inputs, and connections
// between node outputs and node inputs.
package graph

import (
	"encoding/json"
	"fmt"

	"github.com/xraph/atelier"
)

// NodeRef is a connection: it wires the output slot of another node into an
// input. On the wire it is the two-element array [nodeID, outputSlot].
type NodeRef struct {
	Node string
	Slot int
}

// MarshalJSON encodes the ref in its wire form.
func (r NodeRef) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{r.Node, r.Slot})
}

// UnmarshalJSON decodes the [nodeID, outputSlot] wire form.
func (r *NodeRef) UnmarshalJSON(data []byte) error {
	var raw [2]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if err := json.Unmarshal(raw[0], &r.Node); err != nil {
		return fmt.Errorf("node ref id: %w", err)
	}
	if err := json.Unmarshal(raw[1], &r.Slot); err != nil {
		return fmt.Errorf("node ref slot: %w", err)
	}
	return nil
}

// NodeSpec describes one node: its operator kind and its named inputs.
// An input value is either a plain JSON value or a NodeRef connection.
type NodeSpec struct {
	Kind   string         `json:"class_type"`
	Inputs map[string]any `json:"inputs"`
}

// JobGraph maps node id to node spec. Key order carries no meaning.
type JobGraph map[string]*NodeSpec

// Validate checks the structural invariants: every node has a non-empty kind.
func (g JobGraph) Validate() error {
	for id, node := range g {
		if node == nil {
			return atelier.Errorf(atelier.KindValidation, "graph", "node %q is null", id)
		}
		if node.Kind == "" {
			return atelier.Errorf(atelier.KindValidation, "graph", "node %q has no kind", id)
		}
	}
	return nil
}

// Clone deep-copies the graph so overrides never touch the caller's document.
func (g JobGraph) Clone() JobGraph {
	out := make(JobGraph, len(g))
	for id, node := range g {
		if node == nil {
			out[id] = nil
			continue
		}
		cp := &NodeSpec{Kind: node.Kind}
		if node.Inputs != nil {
			cp.Inputs = make(map[string]any, len(node.Inputs))
			for k, v := range node.Inputs {
				cp.Inputs[k] = copyValue(v)
			}
		}
		out[id] = cp
	}
	return out
}

func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(val))
		for k, e := range val {
			m[k] = copyValue(e)
		}
		return m
	case []any:
		s := make([]any, len(val))
		for i, e := range val {
			s[i] = copyValue(e)
		}
		return s
	default:
		// Scalars and NodeRef are value types.
		return val
	}
}

// IsRef reports whether an input value is a connection, either as a typed
// NodeRef or in its decoded wire form: a two-element array whose first
// element is a node id string and whose second is a numeric slot.
func IsRef(v any) bool {
	switch val := v.(type) {
	case NodeRef, *NodeRef:
		return true
	case []any:
		if len(val) != 2 {
			return false
		}
		if _, ok := val[0].(string); !ok {
			return false
		}
		switch val[1].(type) {
		case float64, int, int64, json.Number:
			return true
		}
	}
	return false
}

// Parse decodes a job graph from its JSON document form.
func Parse(data []byte) (JobGraph, error) {
	var g JobGraph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, atelier.E(atelier.KindValidation, "graph", "malformed job graph document", err)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}
