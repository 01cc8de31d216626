package telaio

import "fmt"

// GraphSpec is the already-resolved description of a graph instance: which
// extensions exist, which group (and therefore which thread) hosts each, and
// how message names wire outputs to inputs. Producing this structure, from
// a file or an API call, is a loader concern; the engine only
// validates referential integrity and consumes it.
type GraphSpec struct {
	Name        string           `json:"name" yaml:"name"`
	Nodes       []NodeSpec       `json:"nodes" yaml:"nodes"`
	Connections []ConnectionSpec `json:"connections" yaml:"connections"`
}

// NodeSpec declares one extension instance.
type NodeSpec struct {
	// Name is the instance name, unique within the graph.
	Name string `json:"name" yaml:"name"`

	// Addon names the registered factory that builds the instance.
	Addon string `json:"addon" yaml:"addon"`

	// Group assigns the node to an extension group. Every node of a group
	// runs on that group's dedicated thread.
	Group string `json:"group" yaml:"group"`
}

// ConnectionSpec wires one output of one node to the inputs of others:
// messages of the given kind and name emitted by Source are delivered to
// every node in Dests. An empty Name matches any message name of that kind.
type ConnectionSpec struct {
	Source string   `json:"source" yaml:"source"`
	Kind   string   `json:"kind" yaml:"kind"`
	Name   string   `json:"name,omitempty" yaml:"name,omitempty"`
	Dests  []string `json:"dests" yaml:"dests"`
}

func kindFromSpec(s string) (MsgKind, bool) {
	switch s {
	case "cmd":
		return KindCmd, true
	case "data":
		return KindData, true
	case "audio_frame":
		return KindAudioFrame, true
	case "video_frame":
		return KindVideoFrame, true
	default:
		return KindInvalid, false
	}
}

// validate checks referential integrity: unique node names, non-empty groups,
// connections that only mention declared nodes, and routable kinds
// (cmd results travel on the correlation table, never on a connection).
func (g *GraphSpec) validate() error {
	if g.Name == "" {
		return fmt.Errorf("%w: graph has no name", ErrInvalidGraph)
	}
	if len(g.Nodes) == 0 {
		return fmt.Errorf("%w: graph %q has no nodes", ErrInvalidGraph, g.Name)
	}

	nodes := make(map[string]NodeSpec, len(g.Nodes))
	for _, n := range g.Nodes {
		if n.Name == "" || n.Addon == "" || n.Group == "" {
			return fmt.Errorf("%w: node %+v must have name, addon and group", ErrInvalidGraph, n)
		}
		if _, dup := nodes[n.Name]; dup {
			return fmt.Errorf("%w: duplicate node %q", ErrInvalidGraph, n.Name)
		}
		nodes[n.Name] = n
	}

	for _, c := range g.Connections {
		if _, ok := kindFromSpec(c.Kind); !ok {
			return fmt.Errorf("%w: connection from %q has unroutable kind %q", ErrInvalidGraph, c.Source, c.Kind)
		}
		if _, ok := nodes[c.Source]; !ok {
			return fmt.Errorf("%w: connection source %q is not a node", ErrInvalidGraph, c.Source)
		}
		if len(c.Dests) == 0 {
			return fmt.Errorf("%w: connection from %q has no destinations", ErrInvalidGraph, c.Source)
		}
		for _, d := range c.Dests {
			if _, ok := nodes[d]; !ok {
				return fmt.Errorf("%w: connection destination %q is not a node", ErrInvalidGraph, d)
			}
		}
	}
	return nil
}

// groups returns group names in first-appearance order with their nodes.
func (g *GraphSpec) groups() ([]string, map[string][]NodeSpec) {
	var order []string
	byGroup := make(map[string][]NodeSpec)
	for _, n := range g.Nodes {
		if _, seen := byGroup[n.Group]; !seen {
			order = append(order, n.Group)
		}
		byGroup[n.Group] = append(byGroup[n.Group], n)
	}
	return order, byGroup
}

// routeKey identifies one outbound edge class of one node.
type routeKey struct {
	source string
	kind   MsgKind
	name   string // "" matches any name
}
