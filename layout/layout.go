// Package layout computes 2D positions for graph visualisation. Two
// schemes are provided: a hybrid layout anchoring sections on a ring
// with a spring pass for everything else, and a clustered layout that
// places each community on its own ring segment. Positions are
// deterministic: initial placement is hash-jittered, never random.
package layout

import (
	"hash/fnv"
	"math"
	"sort"

	"graphrag/store"
)

// Point is a 2D node position.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Hybrid places section nodes evenly on a ring and runs a spring pass
// over the remaining nodes, seeded near their section anchor when one is
// connected and hash-jittered otherwise. Section anchors stay pinned.
func Hybrid(nodes []store.Node, edges []store.Edge) map[string]Point {
	if len(nodes) == 0 {
		return map[string]Point{}
	}

	var sections []string
	for _, n := range nodes {
		if n.Label == store.LabelSection {
			sections = append(sections, n.ID)
		}
	}
	sort.Strings(sections)

	pos := make(map[string]Point, len(nodes))
	pinned := make(map[string]bool, len(sections))

	radius := 1 + 0.2*math.Log(float64(len(sections))+1)
	for i, id := range sections {
		angle := 2 * math.Pi * float64(i) / float64(len(sections))
		pos[id] = Point{X: radius * math.Cos(angle), Y: radius * math.Sin(angle)}
		pinned[id] = true
	}

	// Anchor non-section nodes near a connected section when possible.
	sectionOf := make(map[string]string)
	for _, e := range edges {
		if pinned[e.TargetID] && !pinned[e.SourceID] {
			if _, ok := sectionOf[e.SourceID]; !ok {
				sectionOf[e.SourceID] = e.TargetID
			}
		}
		if pinned[e.SourceID] && !pinned[e.TargetID] {
			if _, ok := sectionOf[e.TargetID]; !ok {
				sectionOf[e.TargetID] = e.SourceID
			}
		}
	}

	for _, n := range nodes {
		if pinned[n.ID] {
			continue
		}
		jx, jy := jitter(n.ID)
		if anchor, ok := sectionOf[n.ID]; ok {
			a := pos[anchor]
			pos[n.ID] = Point{X: a.X + jx, Y: a.Y + jy}
		} else {
			pos[n.ID] = Point{X: jx, Y: jy}
		}
	}

	spring(pos, pinned, edges, 1.0)
	return pos
}

// Clustered lays each cluster out on its own region of a larger ring,
// running an independent spring pass per cluster scaled by cluster size.
// Without any memberships it falls back to Hybrid.
func Clustered(nodes []store.Node, edges []store.Edge, memberships []store.Membership) map[string]Point {
	if len(memberships) == 0 {
		return Hybrid(nodes, edges)
	}

	clusterOf := make(map[string]string, len(memberships))
	for _, m := range memberships {
		clusterOf[m.NodeID] = m.ClusterID
	}

	byCluster := make(map[string][]store.Node)
	var loose []store.Node
	for _, n := range nodes {
		if cid, ok := clusterOf[n.ID]; ok {
			byCluster[cid] = append(byCluster[cid], n)
		} else {
			loose = append(loose, n)
		}
	}

	clusterIDs := make([]string, 0, len(byCluster))
	for cid := range byCluster {
		clusterIDs = append(clusterIDs, cid)
	}
	sort.Strings(clusterIDs)

	pos := make(map[string]Point, len(nodes))
	ringRadius := 4 + math.Log(float64(len(clusterIDs))+1)

	for ci, cid := range clusterIDs {
		members := byCluster[cid]
		angle := 2 * math.Pi * float64(ci) / float64(len(clusterIDs))
		cx := ringRadius * math.Cos(angle)
		cy := ringRadius * math.Sin(angle)

		inCluster := make(map[string]bool, len(members))
		local := make(map[string]Point, len(members))
		for _, n := range members {
			inCluster[n.ID] = true
			jx, jy := jitter(n.ID)
			local[n.ID] = Point{X: jx, Y: jy}
		}

		var clusterEdges []store.Edge
		for _, e := range edges {
			if inCluster[e.SourceID] && inCluster[e.TargetID] {
				clusterEdges = append(clusterEdges, e)
			}
		}

		scale := 1.2 + 0.15*math.Log(float64(len(members))+1)
		spring(local, nil, clusterEdges, 1.0)
		for id, p := range local {
			pos[id] = Point{X: cx + p.X*scale, Y: cy + p.Y*scale}
		}
	}

	// Nodes outside every cluster sit jittered near the origin.
	for _, n := range loose {
		jx, jy := jitter(n.ID)
		pos[n.ID] = Point{X: jx, Y: jy}
	}

	return pos
}

// jitter derives a stable offset in [-0.5,0.5)^2 from a node id.
func jitter(id string) (float64, float64) {
	h := fnv.New64a()
	h.Write([]byte(id))
	v := h.Sum64()
	x := float64(v&0xFFFFFFFF)/float64(1<<32) - 0.5
	y := float64(v>>32)/float64(1<<32) - 0.5
	return x, y
}
