package graph

import (
	"context"
	"fmt"
	"sort"

	"graphrag/store"
)

// DefaultMaxDepth bounds shortest-path searches when the caller does not
// specify a depth.
const DefaultMaxDepth = 4

// maxVisitedNodes is the BFS frontier guard: a search that touches this
// many nodes gives up and reports no path.
const maxVisitedNodes = 5000

// ShortestPath returns the node ids along a shortest undirected path from
// sourceID to targetID within a namespace, or nil when no path exists
// within maxDepth hops. Backends exposing a native shortest-path
// primitive are used directly; otherwise the search runs BFS over a
// scanned adjacency list.
func ShortestPath(ctx context.Context, b store.Backend, sourceID, targetID string, maxDepth int, namespace string) ([]string, error) {
	if sourceID == "" || targetID == "" {
		return nil, fmt.Errorf("graph.ShortestPath: source and target are required")
	}
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	if sourceID == targetID {
		return []string{sourceID}, nil
	}

	if pf, ok := b.(store.PathFinder); ok {
		return pf.NativeShortestPath(ctx, sourceID, targetID, maxDepth, namespace)
	}

	edges, err := b.ScanEdges(ctx, store.EdgeFilter{Namespace: namespace})
	if err != nil {
		return nil, fmt.Errorf("graph.ShortestPath: scanning edges: %w", err)
	}

	neighbours := make(map[string][]string)
	for _, e := range edges {
		neighbours[e.SourceID] = append(neighbours[e.SourceID], e.TargetID)
		neighbours[e.TargetID] = append(neighbours[e.TargetID], e.SourceID)
	}
	for id := range neighbours {
		sort.Strings(neighbours[id])
	}

	prev := map[string]string{sourceID: sourceID}
	queue := []string{sourceID}
	visited := 1

	for depth := 0; depth < maxDepth && len(queue) > 0; depth++ {
		var next []string
		for _, id := range queue {
			for _, nid := range neighbours[id] {
				if _, seen := prev[nid]; seen {
					continue
				}
				prev[nid] = id
				if nid == targetID {
					return rebuildPath(prev, sourceID, targetID), nil
				}
				visited++
				if visited >= maxVisitedNodes {
					return nil, nil
				}
				next = append(next, nid)
			}
		}
		queue = next
	}

	return nil, nil
}

// rebuildPath walks the predecessor map back from target to source.
func rebuildPath(prev map[string]string, sourceID, targetID string) []string {
	var rev []string
	for id := targetID; ; id = prev[id] {
		rev = append(rev, id)
		if id == sourceID {
			break
		}
	}
	path := make([]string, len(rev))
	for i, id := range rev {
		path[len(rev)-1-i] = id
	}
	return path
}
