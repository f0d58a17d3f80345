package dag

import (
	"fmt"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/encoding"
	"gonum.org/v1/gonum/graph/encoding/dot"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// Graph is a directed graph whose nodes and edges carry DOT attributes.
type Graph struct {
	*simple.DirectedGraph
	name  string
	attrs encoding.Attributes
}

func New(name string) *Graph {
	return &Graph{DirectedGraph: simple.NewDirectedGraph(), name: name}
}

// AddNodeWithID adds a node with a caller-chosen id and the given attributes.
func (g *Graph) AddNodeWithID(id int64, attrs ...encoding.Attribute) (*Node, error) {
	n := &Node{Node: simple.Node(id)}
	for _, attr := range attrs {
		if err := n.SetAttribute(attr); err != nil {
			return nil, err
		}
	}
	g.DirectedGraph.AddNode(n)
	return n, nil
}

// Link adds the edge from -> to. Both nodes must already exist.
func (g *Graph) Link(from, to int64) error {
	f := g.Node(from)
	if f == nil {
		return fmt.Errorf("node %d does not exist", from)
	}
	t := g.Node(to)
	if t == nil {
		return fmt.Errorf("node %d does not exist", to)
	}
	g.SetEdge(g.NewEdge(f, t))
	return nil
}

// Order returns the node ids in topological order.
func (g *Graph) Order() ([]int64, error) {
	sorted, err := topo.Sort(g)
	if err != nil {
		return nil, fmt.Errorf("topological sort failed (cycle detected?): %w", err)
	}
	ids := make([]int64, len(sorted))
	for i, n := range sorted {
		ids[i] = n.ID()
	}
	return ids, nil
}

func (g *Graph) DOTID() string {
	return g.name
}

func (g *Graph) DOTAttributers() (encoding.Attributer, encoding.Attributer, encoding.Attributer) {
	return &g.attrs, &encoding.Attributes{}, &encoding.Attributes{}
}

func (g *Graph) SetAttribute(attr encoding.Attribute) error {
	return g.attrs.SetAttribute(attr)
}

type Node struct {
	graph.Node
	attrs encoding.Attributes
}

func (n *Node) Attributes() []encoding.Attribute {
	return n.attrs.Attributes()
}

func (n *Node) SetAttribute(attr encoding.Attribute) error {
	return n.attrs.SetAttribute(attr)
}

// ExportToDot exports the graph to Graphviz .dot format.
func (g *Graph) ExportToDot() (string, error) {
	data, err := dot.Marshal(g, g.name, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to export graph to DOT format: %v", err)
	}
	return string(data), nil
}
