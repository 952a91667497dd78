package layout

import (
	"context"
	"fmt"
	"log/slog"

	"graphrag/graph"
	"graphrag/store"
)

// maxLayoutNodes caps how many nodes a layout pass loads.
const maxLayoutNodes = 1500

// upsertBatch is the write-back batch size.
const upsertBatch = 200

// Layout scheme names.
const (
	SchemeHybrid    = "hybrid"
	SchemeClustered = "clustered"
)

// Apply computes positions for a namespace with the given scheme and
// writes x, y, a nested layout{x,y} map, degree, and degree_norm into
// node properties. It returns the number of nodes updated. The clustered scheme reads louvain
// memberships and falls back to hybrid when there are none.
func Apply(ctx context.Context, b store.Backend, namespace, scheme string) (int, error) {
	nodes, err := b.ScanNodes(ctx, store.NodeFilter{Namespace: namespace, Limit: maxLayoutNodes})
	if err != nil {
		return 0, fmt.Errorf("layout: scanning nodes: %w", err)
	}
	if len(nodes) == 0 {
		return 0, nil
	}
	edges, err := b.ScanEdges(ctx, store.EdgeFilter{Namespace: namespace})
	if err != nil {
		return 0, fmt.Errorf("layout: scanning edges: %w", err)
	}

	var pos map[string]Point
	switch scheme {
	case SchemeClustered:
		ms, err := b.ListMemberships(ctx, namespace, "louvain")
		if err != nil {
			return 0, fmt.Errorf("layout: loading memberships: %w", err)
		}
		pos = Clustered(nodes, edges, ms)
	case SchemeHybrid, "":
		pos = Hybrid(nodes, edges)
	default:
		return 0, fmt.Errorf("layout: unknown scheme %q", scheme)
	}

	degree := make(map[string]int, len(nodes))
	maxDegree := 0
	for _, e := range edges {
		degree[e.SourceID]++
		degree[e.TargetID]++
	}
	for _, d := range degree {
		if d > maxDegree {
			maxDegree = d
		}
	}

	for i := range nodes {
		n := &nodes[i]
		if n.Properties == nil {
			n.Properties = map[string]any{}
		}
		p := pos[n.ID]
		n.Properties["x"] = p.X
		n.Properties["y"] = p.Y
		n.Properties["layout"] = map[string]any{"x": p.X, "y": p.Y}
		n.Properties["degree"] = degree[n.ID]
		if maxDegree > 0 {
			n.Properties["degree_norm"] = float64(degree[n.ID]) / float64(maxDegree)
		} else {
			n.Properties["degree_norm"] = 0.0
		}
	}

	if err := writeBack(ctx, b, nodes); err != nil {
		return 0, err
	}

	slog.Info("layout applied", "namespace", namespace, "scheme", scheme, "nodes", len(nodes))
	return len(nodes), nil
}

// ApplyCentrality computes pagerank and betweenness for a namespace and
// writes the raw scores, their min-max normalised *_norm variants, and
// the folded importance into node properties. Measures skipped for
// graph size are left untouched.
func ApplyCentrality(ctx context.Context, b store.Backend, namespace string) (int, error) {
	g, err := graph.Load(ctx, b, namespace, nil, 0)
	if err != nil {
		return 0, err
	}
	if g.Order() == 0 {
		return 0, nil
	}
	c := graph.ComputeCentrality(g)

	nodes, err := b.ScanNodes(ctx, store.NodeFilter{Namespace: namespace})
	if err != nil {
		return 0, fmt.Errorf("layout: scanning nodes: %w", err)
	}

	updated := 0
	var batch []store.Node
	for i := range nodes {
		n := nodes[i]
		if _, ok := g.Index[n.ID]; !ok {
			continue
		}
		if n.Properties == nil {
			n.Properties = map[string]any{}
		}
		if c.PageRank != nil {
			n.Properties["pagerank"] = c.PageRank[n.ID]
			n.Properties["pagerank_norm"] = c.PageRankNorm[n.ID]
		}
		if c.Betweenness != nil {
			n.Properties["betweenness"] = c.Betweenness[n.ID]
			n.Properties["betweenness_norm"] = c.BetweennessNorm[n.ID]
		}
		if v, ok := c.Importance[n.ID]; ok {
			n.Properties["importance"] = v
		}
		batch = append(batch, n)
		updated++
	}

	if err := writeBack(ctx, b, batch); err != nil {
		return 0, err
	}

	slog.Info("centrality applied", "namespace", namespace, "nodes", updated)
	return updated, nil
}

func writeBack(ctx context.Context, b store.Backend, nodes []store.Node) error {
	for start := 0; start < len(nodes); start += upsertBatch {
		end := start + upsertBatch
		if end > len(nodes) {
			end = len(nodes)
		}
		chunk := nodes[start:end]
		if err := b.Update(ctx, func(tx store.Tx) error {
			return tx.UpsertNodes(chunk)
		}); err != nil {
			return fmt.Errorf("layout: writing node properties: %w", err)
		}
	}
	return nil
}
