package graph

import (
	"math/rand"
)

const (
	pageRankDamping    = 0.85
	pageRankIterations = 100

	// maxPageRankNodes caps PageRank; larger graphs skip it.
	maxPageRankNodes = 5000

	// Exact Brandes betweenness up to this order, sampled up to
	// maxBetweennessNodes, skipped beyond.
	exactBetweennessNodes = 1200
	maxBetweennessNodes   = 8000
)

// Centrality holds per-node centrality measures: the raw scores plus
// min-max normalised [0,1] variants. A nil map means the measure was
// skipped for graph size.
type Centrality struct {
	PageRank    map[string]float64
	Betweenness map[string]float64

	PageRankNorm    map[string]float64
	BetweennessNorm map[string]float64

	// Importance is the mean of the normalised measures present for
	// each node.
	Importance map[string]float64
}

// ComputeCentrality computes PageRank and betweenness for the graph,
// keeps both raw and normalised scores, and folds the normalised ones
// into a single importance score. Results are deterministic:
// betweenness sampling is seeded from the graph order.
func ComputeCentrality(g *Graph) *Centrality {
	c := &Centrality{Importance: make(map[string]float64, g.Order())}

	if n := g.Order(); n > 0 && n <= maxPageRankNodes {
		raw := pageRank(g)
		c.PageRank = keyed(g, raw)
		c.PageRankNorm = normalize(g, raw)
	}
	if n := g.Order(); n > 0 && n <= maxBetweennessNodes {
		raw := betweenness(g)
		c.Betweenness = keyed(g, raw)
		c.BetweennessNorm = normalize(g, raw)
	}

	for _, id := range g.IDs {
		var sum float64
		var parts int
		if c.PageRankNorm != nil {
			sum += c.PageRankNorm[id]
			parts++
		}
		if c.BetweennessNorm != nil {
			sum += c.BetweennessNorm[id]
			parts++
		}
		if parts > 0 {
			c.Importance[id] = sum / float64(parts)
		}
	}
	return c
}

// pageRank runs weighted power iteration with uniform teleport.
func pageRank(g *Graph) []float64 {
	n := g.Order()
	rank := make([]float64, n)
	next := make([]float64, n)
	for i := range rank {
		rank[i] = 1.0 / float64(n)
	}

	outWeight := make([]float64, n)
	for i := 0; i < n; i++ {
		outWeight[i] = g.WeightedDegree(i)
	}

	for iter := 0; iter < pageRankIterations; iter++ {
		base := (1 - pageRankDamping) / float64(n)
		var dangling float64
		for i := 0; i < n; i++ {
			next[i] = base
			if outWeight[i] == 0 {
				dangling += rank[i]
			}
		}
		// Dangling mass is spread uniformly.
		spread := pageRankDamping * dangling / float64(n)
		for i := 0; i < n; i++ {
			next[i] += spread
		}
		for i := 0; i < n; i++ {
			if outWeight[i] == 0 {
				continue
			}
			share := pageRankDamping * rank[i] / outWeight[i]
			for _, e := range g.Adj[i] {
				next[e.To] += share * e.Weight
			}
		}
		rank, next = next, rank
	}
	return rank
}

// betweenness runs Brandes' algorithm over unweighted hops. Graphs
// larger than exactBetweennessNodes use a deterministic source sample.
func betweenness(g *Graph) []float64 {
	n := g.Order()
	bc := make([]float64, n)

	sources := make([]int, n)
	for i := range sources {
		sources[i] = i
	}
	scale := 1.0
	if n > exactBetweennessNodes {
		k := int(0.02 * float64(n))
		if k < 10 {
			k = 10
		}
		rng := rand.New(rand.NewSource(int64(n)))
		rng.Shuffle(n, func(a, b int) { sources[a], sources[b] = sources[b], sources[a] })
		sources = sources[:k]
		scale = float64(n) / float64(k)
	}

	dist := make([]int, n)
	sigma := make([]float64, n)
	delta := make([]float64, n)
	preds := make([][]int, n)

	for _, s := range sources {
		for i := 0; i < n; i++ {
			dist[i] = -1
			sigma[i] = 0
			delta[i] = 0
			preds[i] = preds[i][:0]
		}
		dist[s] = 0
		sigma[s] = 1

		var stack []int
		queue := []int{s}
		for len(queue) > 0 {
			v := queue[0]
			queue = queue[1:]
			stack = append(stack, v)
			for _, e := range g.Adj[v] {
				w := e.To
				if dist[w] < 0 {
					dist[w] = dist[v] + 1
					queue = append(queue, w)
				}
				if dist[w] == dist[v]+1 {
					sigma[w] += sigma[v]
					preds[w] = append(preds[w], v)
				}
			}
		}

		for i := len(stack) - 1; i >= 0; i-- {
			w := stack[i]
			for _, v := range preds[w] {
				delta[v] += sigma[v] / sigma[w] * (1 + delta[w])
			}
			if w != s {
				bc[w] += delta[w] * scale
			}
		}
	}

	// Each undirected pair was counted twice.
	for i := range bc {
		bc[i] /= 2
	}
	return bc
}

// keyed maps positional values onto node ids.
func keyed(g *Graph, vals []float64) map[string]float64 {
	out := make(map[string]float64, len(vals))
	for i, v := range vals {
		out[g.IDs[i]] = v
	}
	return out
}

// normalize min-max scales values into [0,1] keyed by node id. A flat
// distribution maps to all zeros.
func normalize(g *Graph, vals []float64) map[string]float64 {
	lo, hi := vals[0], vals[0]
	for _, v := range vals {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	out := make(map[string]float64, len(vals))
	span := hi - lo
	for i, v := range vals {
		if span > 0 {
			out[g.IDs[i]] = (v - lo) / span
		} else {
			out[g.IDs[i]] = 0
		}
	}
	return out
}
