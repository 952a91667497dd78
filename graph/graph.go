// Package graph holds the in-memory graph algorithms: loading a
// namespace-scoped weighted view of the store, shortest paths, community
// detection, and centrality measures. All algorithms are deterministic
// for a given graph: node order is fixed by sorting ids up front.
package graph

import (
	"context"
	"fmt"
	"sort"

	"graphrag/store"
)

// Edge is a weighted half-edge in the adjacency list.
type Edge struct {
	To     int
	Weight float64
}

// Graph is an undirected weighted view of one namespace, with nodes
// addressed by compact index. IDs is sorted so index order is stable
// across loads of the same data.
type Graph struct {
	IDs   []string
	Index map[string]int
	Adj   [][]Edge

	// TotalWeight is the sum of undirected edge weights.
	TotalWeight float64
}

// Load builds a Graph from the backend for one namespace. When labels is
// non-empty only nodes with those labels participate; edges touching
// excluded nodes are dropped. maxNodes caps the load (0 = no cap).
func Load(ctx context.Context, b store.Backend, namespace string, labels []string, maxNodes int) (*Graph, error) {
	nodes, err := b.ScanNodes(ctx, store.NodeFilter{
		Namespace: namespace,
		Labels:    labels,
		Limit:     maxNodes,
	})
	if err != nil {
		return nil, fmt.Errorf("graph.Load: scanning nodes: %w", err)
	}

	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.ID)
	}
	sort.Strings(ids)

	g := &Graph{
		IDs:   ids,
		Index: make(map[string]int, len(ids)),
		Adj:   make([][]Edge, len(ids)),
	}
	for i, id := range ids {
		g.Index[id] = i
	}

	edges, err := b.ScanEdges(ctx, store.EdgeFilter{Namespace: namespace})
	if err != nil {
		return nil, fmt.Errorf("graph.Load: scanning edges: %w", err)
	}

	for _, e := range edges {
		si, okS := g.Index[e.SourceID]
		ti, okT := g.Index[e.TargetID]
		if !okS || !okT || si == ti {
			continue
		}
		w := e.Confidence
		if w <= 0 {
			w = 0.5
		}
		g.Adj[si] = append(g.Adj[si], Edge{To: ti, Weight: w})
		g.Adj[ti] = append(g.Adj[ti], Edge{To: si, Weight: w})
		g.TotalWeight += w
	}

	// Neighbour order must not depend on edge scan order.
	for i := range g.Adj {
		sort.Slice(g.Adj[i], func(a, b int) bool { return g.Adj[i][a].To < g.Adj[i][b].To })
	}

	return g, nil
}

// Order returns the node count.
func (g *Graph) Order() int { return len(g.IDs) }

// Degree returns the unweighted degree of node i.
func (g *Graph) Degree(i int) int { return len(g.Adj[i]) }

// WeightedDegree returns the sum of incident edge weights of node i.
func (g *Graph) WeightedDegree(i int) float64 {
	var k float64
	for _, e := range g.Adj[i] {
		k += e.Weight
	}
	return k
}
