package topology

import (
	"sort"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// LinkKind distinguishes access links from backbone links
type LinkKind string

const (
	HostLink   LinkKind = "host"
	SwitchLink LinkKind = "switch"
)

// Link is a realized edge between two instantiated nodes
type Link struct {
	A    string
	B    string
	Kind LinkKind
}

// SwitchNode is an instantiated switch
type SwitchNode struct {
	Name   string
	DPID   string // Normalized datapath ID
	Handle Node
}

// HostNode is an instantiated host
type HostNode struct {
	Name   string
	Switch string // Switch the host is attached to
	IP     string // Resolved dotted quad
	MAC    string // Normalized MAC
	Handle Node
}

// Graph is the realized topology handed over to the emulation engine
type Graph struct {
	Name        string
	Switches    map[string]SwitchNode
	SwitchOrder []string
	Hosts       map[string]HostNode
	HostOrder   []string
	Links       []Link
}

func newGraph(name string) *Graph {
	return &Graph{
		Name:     name,
		Switches: make(map[string]SwitchNode),
		Hosts:    make(map[string]HostNode),
	}
}

// SwitchLinks returns the switch to switch edges in creation order
func (g *Graph) SwitchLinks() []Link {
	return g.linksOf(SwitchLink)
}

// HostLinks returns the host to switch edges in creation order
func (g *Graph) HostLinks() []Link {
	return g.linksOf(HostLink)
}

func (g *Graph) linksOf(kind LinkKind) []Link {
	links := []Link{}
	for _, l := range g.Links {
		if l.Kind == kind {
			links = append(links, l)
		}
	}
	return links
}

// HasLink reports whether an edge exists between a and b in either direction
func (g *Graph) HasLink(a, b string) bool {
	for _, l := range g.Links {
		if (l.A == a && l.B == b) || (l.A == b && l.B == a) {
			return true
		}
	}
	return false
}

// switchAdjacency is the undirected backbone used for structural checks
type switchAdjacency struct {
	names []string
	ids   map[string]int64
	g     *simple.UndirectedGraph
}

func newSwitchAdjacency(names []string) *switchAdjacency {
	a := &switchAdjacency{
		names: names,
		ids:   make(map[string]int64, len(names)),
		g:     simple.NewUndirectedGraph(),
	}
	for i, name := range names {
		a.ids[name] = int64(i)
		a.g.AddNode(simple.Node(i))
	}
	return a
}

// add records an undirected edge and reports false if it was already present
func (a *switchAdjacency) add(x, y string) bool {
	xid, yid := a.ids[x], a.ids[y]
	if a.g.HasEdgeBetween(xid, yid) {
		return false
	}
	a.g.SetEdge(simple.Edge{F: simple.Node(xid), T: simple.Node(yid)})
	return true
}

// components groups switch names by connectivity, in declaration order
func (a *switchAdjacency) components() [][]string {
	var groups [][]string
	for _, component := range topo.ConnectedComponents(a.g) {
		members := make([]bool, len(a.names))
		for _, n := range component {
			members[n.ID()] = true
		}
		var group []string
		for i, name := range a.names {
			if members[i] {
				group = append(group, name)
			}
		}
		groups = append(groups, group)
	}
	sortGroups(groups, a.ids)
	return groups
}

// hasCycle reports whether the backbone contains at least one loop
func (a *switchAdjacency) hasCycle(edgeCount int) bool {
	return edgeCount > len(a.names)-len(topo.ConnectedComponents(a.g))
}

func sortGroups(groups [][]string, ids map[string]int64) {
	sort.Slice(groups, func(i, j int) bool {
		return ids[groups[i][0]] < ids[groups[j][0]]
	})
}
