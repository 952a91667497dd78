package graph

import (
	"log/slog"
	"sort"
)

// localMovingPasses caps the number of full local-moving sweeps. The
// optimisation usually converges well before this.
const localMovingPasses = 20

// Louvain partitions the graph by greedy modularity optimisation and
// returns, per node index, a community label in 0..k-1 together with the
// modularity of the final partition. Labels are assigned by community
// size descending (ties broken by smallest member index) so the result
// is stable for a given graph.
func Louvain(g *Graph) ([]int, float64) {
	n := g.Order()
	if n == 0 {
		return nil, 0
	}

	community := make([]int, n)
	for i := range community {
		community[i] = i
	}

	m2 := 2 * g.TotalWeight
	if m2 == 0 {
		// No edges: every node is its own community.
		return relabelBySize(community), 0
	}

	// Weighted degree per node and total incident weight per community.
	ki := make([]float64, n)
	commStrength := make([]float64, n)
	for i := 0; i < n; i++ {
		ki[i] = g.WeightedDegree(i)
		commStrength[i] = ki[i]
	}

	for pass := 0; pass < localMovingPasses; pass++ {
		moved := false

		for i := 0; i < n; i++ {
			cur := community[i]

			// Weight from i into each neighbouring community.
			weightTo := make(map[int]float64)
			for _, e := range g.Adj[i] {
				weightTo[community[e.To]] += e.Weight
			}

			// Gain of leaving the current community.
			commStrength[cur] -= ki[i]
			base := weightTo[cur]/m2 - commStrength[cur]*ki[i]/(m2*m2)

			bestComm := cur
			bestGain := 0.0

			// Deterministic candidate order.
			cands := make([]int, 0, len(weightTo))
			for c := range weightTo {
				cands = append(cands, c)
			}
			sort.Ints(cands)

			for _, c := range cands {
				if c == cur {
					continue
				}
				gain := weightTo[c]/m2 - commStrength[c]*ki[i]/(m2*m2) - base
				if gain > bestGain {
					bestGain = gain
					bestComm = c
				}
			}

			commStrength[bestComm] += ki[i]
			if bestComm != cur {
				community[i] = bestComm
				moved = true
			}
		}

		if !moved {
			break
		}
	}

	labels := relabelBySize(community)
	q := Modularity(g, labels)

	slog.Debug("community detection finished",
		"nodes", n, "communities", communityCount(labels), "modularity", q)

	return labels, q
}

// Modularity computes the weighted modularity of a partition given as a
// per-node community label.
func Modularity(g *Graph, labels []int) float64 {
	if g.TotalWeight == 0 || len(labels) != g.Order() {
		return 0
	}
	m := g.TotalWeight

	in := make(map[int]float64)  // internal edge weight per community
	tot := make(map[int]float64) // total incident weight per community

	for i := range g.Adj {
		tot[labels[i]] += g.WeightedDegree(i)
		for _, e := range g.Adj[i] {
			if i < e.To && labels[i] == labels[e.To] {
				in[labels[i]] += e.Weight
			}
		}
	}

	var q float64
	for c, w := range tot {
		q += in[c]/m - (w/(2*m))*(w/(2*m))
	}
	return q
}

// relabelBySize renumbers community labels to 0..k-1 ordered by member
// count descending; ties go to the community with the smallest member
// index.
func relabelBySize(community []int) []int {
	members := make(map[int][]int)
	for i, c := range community {
		members[c] = append(members[c], i)
	}

	order := make([]int, 0, len(members))
	for c := range members {
		order = append(order, c)
	}
	sort.Slice(order, func(a, b int) bool {
		ma, mb := members[order[a]], members[order[b]]
		if len(ma) != len(mb) {
			return len(ma) > len(mb)
		}
		return ma[0] < mb[0]
	})

	rank := make(map[int]int, len(order))
	for i, c := range order {
		rank[c] = i
	}

	out := make([]int, len(community))
	for i, c := range community {
		out[i] = rank[c]
	}
	return out
}

func communityCount(labels []int) int {
	seen := make(map[int]struct{})
	for _, c := range labels {
		seen[c] = struct{}{}
	}
	return len(seen)
}
