// Package retrieval finds graph nodes relevant to a free-text query.
// Strategies run as a fallback chain ordered from most to least
// semantic: external vector index, store-native embedding search,
// name substring match, and BM25 over chunk text. The first strategy
// producing results wins; the chain taken is recorded in Meta.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"graphrag/llm"
	"graphrag/store"
	"graphrag/vector"
)

const (
	// DefaultTopK is the result count when the caller does not set one.
	DefaultTopK = 10

	// nameScanFactor over-fetches name matches before truncation.
	nameScanFactor = 5

	// maxIncidentEdges bounds the edge set attached to a result page.
	maxIncidentEdges = 300

	// maxBM25Chunks caps the chunk corpus loaded for lexical scoring.
	maxBM25Chunks = 4000
)

// Strategy names, in chain order.
const (
	StrategyVectorIndex  = "qdrant"
	StrategyEmbedding    = "embedding"
	StrategyNameContains = "name_contains"
	StrategyBM25         = "bm25"
)

// Result is a retrieved node with its score and the strategy that
// produced it.
type Result struct {
	Node   store.Node `json:"node"`
	Score  float64    `json:"score"`
	Source string     `json:"source"`
}

// Attempt records one strategy's outcome in the chain.
type Attempt struct {
	Strategy  string `json:"strategy"`
	Results   int    `json:"results"`
	ElapsedMs int64  `json:"elapsed_ms"`
	Error     string `json:"error,omitempty"`
}

// Meta describes how a retrieval was answered.
type Meta struct {
	Chain     []Attempt `json:"chain"`
	Strategy  string    `json:"strategy"`
	Namespace string    `json:"namespace"`
	TopK      int       `json:"top_k"`
}

// Options configures a retrieval.
type Options struct {
	Namespace      string
	TopK           int
	LabelFilter    []string
	RelationFilter []string
	IncludeEdges   bool
}

func (o Options) labelAllowed(label string) bool {
	if len(o.LabelFilter) == 0 {
		return true
	}
	for _, l := range o.LabelFilter {
		if l == label {
			return true
		}
	}
	return false
}

// Engine runs the retrieval chain. The vector index and embedder are
// optional; strategies missing a dependency are skipped, not failed.
type Engine struct {
	store    store.Backend
	embedder llm.Provider
	index    vector.Index
}

// New creates a retrieval engine. Pass nil embedder or index to disable
// the corresponding strategies.
func New(b store.Backend, embedder llm.Provider, index vector.Index) *Engine {
	return &Engine{store: b, embedder: embedder, index: index}
}

// Retrieve runs the strategy chain for query and returns scored nodes,
// edges incident to them (when requested), and chain metadata.
func (e *Engine) Retrieve(ctx context.Context, query string, opts Options) ([]Result, []store.Edge, *Meta, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil, nil, fmt.Errorf("retrieval: query is required")
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}

	meta := &Meta{Namespace: opts.Namespace, TopK: opts.TopK}

	// The query embedding is shared by the two semantic strategies.
	var queryVec []float32
	embed := func() []float32 {
		if queryVec != nil || e.embedder == nil {
			return queryVec
		}
		vecs, err := e.embedder.Embed(ctx, []string{query})
		if err != nil || len(vecs) == 0 {
			slog.Warn("retrieval: query embedding failed", "error", err)
			return nil
		}
		queryVec = vecs[0]
		return queryVec
	}

	strategies := []struct {
		name string
		run  func() ([]Result, error)
	}{
		{StrategyVectorIndex, func() ([]Result, error) { return e.searchVectorIndex(ctx, embed(), opts) }},
		{StrategyEmbedding, func() ([]Result, error) { return e.searchEmbedding(ctx, embed(), opts) }},
		{StrategyNameContains, func() ([]Result, error) { return e.searchByName(ctx, query, opts) }},
		{StrategyBM25, func() ([]Result, error) { return e.searchBM25(ctx, query, opts) }},
	}

	var results []Result
	for _, s := range strategies {
		start := time.Now()
		got, err := s.run()
		att := Attempt{Strategy: s.name, Results: len(got), ElapsedMs: time.Since(start).Milliseconds()}
		if err != nil {
			att.Error = err.Error()
			slog.Warn("retrieval: strategy failed", "strategy", s.name, "error", err)
		}
		meta.Chain = append(meta.Chain, att)
		if len(got) > 0 {
			results = got
			meta.Strategy = s.name
			break
		}
	}

	if len(results) > opts.TopK {
		results = results[:opts.TopK]
	}

	var edges []store.Edge
	if opts.IncludeEdges && len(results) > 0 {
		ids := make([]string, len(results))
		for i, r := range results {
			ids[i] = r.Node.ID
		}
		var err error
		edges, err = e.store.ScanEdges(ctx, store.EdgeFilter{
			Namespace:   opts.Namespace,
			Relations:   opts.RelationFilter,
			TouchingIDs: ids,
			Limit:       maxIncidentEdges,
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("retrieval: loading incident edges: %w", err)
		}
	}

	return results, edges, meta, nil
}

// searchVectorIndex queries the external vector index.
func (e *Engine) searchVectorIndex(ctx context.Context, vec []float32, opts Options) ([]Result, error) {
	if e.index == nil || len(vec) == 0 {
		return nil, nil
	}
	hits, err := e.index.Search(ctx, opts.Namespace, vec, opts.TopK)
	if err != nil {
		return nil, err
	}
	return e.resolveHits(ctx, hits, StrategyVectorIndex, opts)
}

// searchEmbedding uses the backend's native embedding search.
func (e *Engine) searchEmbedding(ctx context.Context, vec []float32, opts Options) ([]Result, error) {
	vs, ok := e.store.(store.VectorSearcher)
	if !ok || len(vec) == 0 {
		return nil, nil
	}
	scored, err := vs.SearchEmbedding(ctx, opts.Namespace, vec, opts.TopK)
	if err != nil {
		return nil, err
	}
	hits := make([]vector.Hit, len(scored))
	for i, s := range scored {
		hits[i] = vector.Hit{NodeID: s.ID, Score: s.Score}
	}
	return e.resolveHits(ctx, hits, StrategyEmbedding, opts)
}

// searchByName matches nodes whose name contains the query, preferring
// exact matches. Chunk and section nodes are excluded; their content is
// the BM25 strategy's job.
func (e *Engine) searchByName(ctx context.Context, query string, opts Options) ([]Result, error) {
	nodes, err := e.store.ScanNodes(ctx, store.NodeFilter{
		Namespace:    opts.Namespace,
		Labels:       opts.LabelFilter,
		NameContains: query,
		Limit:        opts.TopK * nameScanFactor,
	})
	if err != nil {
		return nil, err
	}

	var out []Result
	for _, n := range nodes {
		if n.Label == store.LabelChunk || n.Label == store.LabelSection {
			continue
		}
		score := 0.5
		if strings.EqualFold(n.Name, query) {
			score = 1.0
		}
		out = append(out, Result{Node: n, Score: score, Source: StrategyNameContains})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

// searchBM25 ranks chunk nodes lexically.
func (e *Engine) searchBM25(ctx context.Context, query string, opts Options) ([]Result, error) {
	chunks, err := e.store.ScanNodes(ctx, store.NodeFilter{
		Namespace: opts.Namespace,
		Labels:    []string{store.LabelChunk},
		Limit:     maxBM25Chunks,
	})
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	idx := newBM25(chunks)
	scored := idx.search(query, opts.TopK)

	out := make([]Result, 0, len(scored))
	for _, s := range scored {
		out = append(out, Result{Node: chunks[s.doc], Score: s.score, Source: StrategyBM25})
	}
	return out, nil
}

// resolveHits turns scored ids into full nodes, dropping ids the store
// no longer knows or the label filter excludes.
func (e *Engine) resolveHits(ctx context.Context, hits []vector.Hit, source string, opts Options) ([]Result, error) {
	var out []Result
	for _, h := range hits {
		n, err := e.store.GetNode(ctx, h.NodeID)
		if err != nil {
			return nil, err
		}
		if n == nil || !opts.labelAllowed(n.Label) {
			continue
		}
		out = append(out, Result{Node: *n, Score: h.Score, Source: source})
	}
	return out, nil
}

// Similar returns the nodes nearest to an existing node. Nodes with an
// embedding use vector similarity; nodes without fall back to their
// strongest direct neighbours.
func (e *Engine) Similar(ctx context.Context, nodeID, namespace string, topK int) ([]Result, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}
	n, err := e.store.GetNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, fmt.Errorf("retrieval: node %s: %w", nodeID, store.ErrNotFound)
	}

	if len(n.Embedding) > 0 {
		var hits []vector.Hit
		if e.index != nil {
			hits, err = e.index.Search(ctx, namespace, n.Embedding, topK+1)
		} else if vs, ok := e.store.(store.VectorSearcher); ok {
			var scored []store.ScoredID
			scored, err = vs.SearchEmbedding(ctx, namespace, n.Embedding, topK+1)
			for _, s := range scored {
				hits = append(hits, vector.Hit{NodeID: s.ID, Score: s.Score})
			}
		}
		if err != nil {
			return nil, err
		}
		filtered := hits[:0]
		for _, h := range hits {
			if h.NodeID != nodeID {
				filtered = append(filtered, h)
			}
		}
		if len(filtered) > topK {
			filtered = filtered[:topK]
		}
		if len(filtered) > 0 {
			return e.resolveHits(ctx, filtered, StrategyEmbedding, Options{})
		}
	}

	// No embedding signal: strongest direct neighbours.
	edges, err := e.store.ScanEdges(ctx, store.EdgeFilter{
		Namespace:   namespace,
		TouchingIDs: []string{nodeID},
		Limit:       maxIncidentEdges,
	})
	if err != nil {
		return nil, err
	}
	best := make(map[string]float64)
	for _, edge := range edges {
		other := edge.TargetID
		if other == nodeID {
			other = edge.SourceID
		}
		if other == nodeID {
			continue
		}
		if edge.Confidence > best[other] {
			best[other] = edge.Confidence
		}
	}
	ids := make([]string, 0, len(best))
	for id := range best {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if best[ids[i]] != best[ids[j]] {
			return best[ids[i]] > best[ids[j]]
		}
		return ids[i] < ids[j]
	})
	if len(ids) > topK {
		ids = ids[:topK]
	}

	var out []Result
	for _, id := range ids {
		nb, err := e.store.GetNode(ctx, id)
		if err != nil {
			return nil, err
		}
		if nb == nil {
			continue
		}
		out = append(out, Result{Node: *nb, Score: best[id], Source: "neighbors"})
	}
	return out, nil
}
