package core

import (
	"fmt"
	"strings"
)

// TopologyEntry is one adjacency row: a node and its ordered successors.
// Successors may be other node IDs or one of the two sink identifiers.
type TopologyEntry struct {
	ID         string   `yaml:"id"`
	Downstream []string `yaml:"downstream"`
}

// Topology is the directed catchment graph. Regular nodes are every key
// that is not a sink; sinks (plant, overflow) never appear in the order.
type Topology struct {
	plantID    string
	overflowID string

	keys       []string
	downstream map[string][]string
	upstream   map[string][]string
	order      []string
}

// NewTopology validates the adjacency rows and computes the upstream index
// and the visiting order. Entry order is the insertion order used to break
// ties between roots.
func NewTopology(entries []TopologyEntry, plantID, overflowID string) (*Topology, error) {
	if plantID == "" || overflowID == "" {
		return nil, fmt.Errorf("%w: plant and overflow identifiers are required", ErrConfiguration)
	}
	if plantID == overflowID {
		return nil, fmt.Errorf("%w: plant and overflow share identifier %q", ErrConfiguration, plantID)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: empty topology", ErrConfiguration)
	}

	t := &Topology{
		plantID:    plantID,
		overflowID: overflowID,
		downstream: make(map[string][]string, len(entries)),
		upstream:   make(map[string][]string),
	}

	for _, e := range entries {
		id := strings.TrimSpace(e.ID)
		if id == "" {
			return nil, fmt.Errorf("%w: topology entry with empty id", ErrConfiguration)
		}
		if t.IsSink(id) {
			for _, d := range e.Downstream {
				if d == id {
					return nil, fmt.Errorf("%w: sink %q maps to itself", ErrConfiguration, id)
				}
			}
			if len(e.Downstream) > 0 {
				return nil, fmt.Errorf("%w: sink %q cannot have successors", ErrConfiguration, id)
			}
			continue
		}
		if _, dup := t.downstream[id]; dup {
			return nil, fmt.Errorf("%w: duplicate node %q", ErrConfiguration, id)
		}
		seen := make(map[string]bool, len(e.Downstream))
		next := make([]string, 0, len(e.Downstream))
		for _, d := range e.Downstream {
			d = strings.TrimSpace(d)
			if d == "" {
				return nil, fmt.Errorf("%w: node %q has an empty successor", ErrConfiguration, id)
			}
			if d == id {
				return nil, fmt.Errorf("%w: node %q routes to itself", ErrConfiguration, id)
			}
			if seen[d] {
				return nil, fmt.Errorf("%w: node %q lists successor %q twice", ErrConfiguration, id, d)
			}
			seen[d] = true
			next = append(next, d)
		}
		t.keys = append(t.keys, id)
		t.downstream[id] = next
	}

	if len(t.keys) == 0 {
		return nil, fmt.Errorf("%w: topology has no flow nodes", ErrConfiguration)
	}

	for _, src := range t.keys {
		for _, dst := range t.downstream[src] {
			if t.IsSink(dst) {
				continue
			}
			if _, ok := t.downstream[dst]; !ok {
				return nil, fmt.Errorf("%w: node %q references unknown successor %q", ErrConfiguration, src, dst)
			}
			t.upstream[dst] = append(t.upstream[dst], src)
		}
	}

	order, err := t.sort()
	if err != nil {
		return nil, err
	}
	t.order = order
	return t, nil
}

// sort runs a depth-first post-order traversal from every node in insertion
// order and reverses it, so the nodes farthest from the plant come first.
// A back edge to a node still on the stack is a cycle.
func (t *Topology) sort() ([]string, error) {
	const (
		unvisited = iota
		onStack
		done
	)
	mark := make(map[string]int, len(t.keys))
	post := make([]string, 0, len(t.keys))

	var visit func(id string) error
	visit = func(id string) error {
		switch mark[id] {
		case done:
			return nil
		case onStack:
			return fmt.Errorf("%w: cycle through node %q", ErrConfiguration, id)
		}
		mark[id] = onStack
		for _, next := range t.downstream[id] {
			if t.IsSink(next) {
				continue
			}
			if err := visit(next); err != nil {
				return err
			}
		}
		mark[id] = done
		post = append(post, id)
		return nil
	}

	for _, id := range t.keys {
		if err := visit(id); err != nil {
			return nil, err
		}
	}

	for i, j := 0, len(post)-1; i < j; i, j = i+1, j-1 {
		post[i], post[j] = post[j], post[i]
	}
	return post, nil
}

// PlantID returns the plant sink identifier.
func (t *Topology) PlantID() string { return t.plantID }

// OverflowID returns the overflow sink identifier.
func (t *Topology) OverflowID() string { return t.overflowID }

// IsSink reports whether id is the plant or overflow identifier.
func (t *Topology) IsSink(id string) bool {
	return id == t.plantID || id == t.overflowID
}

// Has reports whether id is a regular node.
func (t *Topology) Has(id string) bool {
	_, ok := t.downstream[id]
	return ok
}

// Nodes returns the regular node IDs in insertion order.
func (t *Topology) Nodes() []string {
	return append([]string(nil), t.keys...)
}

// Order returns the upstream-before-downstream visiting order.
func (t *Topology) Order() []string {
	return append([]string(nil), t.order...)
}

// Downstream returns the ordered successors of id.
func (t *Topology) Downstream(id string) []string {
	return append([]string(nil), t.downstream[id]...)
}

// Upstream returns the direct predecessors of id in insertion order.
func (t *Topology) Upstream(id string) []string {
	return append([]string(nil), t.upstream[id]...)
}

// Edges returns every (source, target) pair including sink targets, in
// insertion order.
func (t *Topology) Edges() [][2]string {
	var out [][2]string
	for _, src := range t.keys {
		for _, dst := range t.downstream[src] {
			out = append(out, [2]string{src, dst})
		}
	}
	return out
}
