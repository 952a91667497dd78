// Package query sits above the retriever: it resolves query modes,
// consults imported index artifacts when present, rescores the
// candidate union with mode-dependent weights, and synthesises answers.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"graphrag/llm"
	"graphrag/retrieval"
	"graphrag/store"
)

// Query modes.
const (
	ModeAuto   = "auto"
	ModeGlobal = "global"
	ModeLocal  = "local"
	ModeDrift  = "drift"
)

// autoGlobalMaxTokens routes short queries to global mode.
const autoGlobalMaxTokens = 4

// retrieverExpansion widens the retriever candidate pool before
// rescoring truncates it back to top_k.
const retrieverExpansion = 3

// longNamePenalty applies to names longer than longNameLimit runes.
const (
	longNameLimit   = 80
	longNamePenalty = 0.05
)

// relationWeights score edge relations during rescoring.
var relationWeights = map[string]float64{
	store.RelRoleAt:      0.9,
	store.RelUsesTech:    0.85,
	store.RelCoOccurs:    0.75,
	store.RelRelatedTo:   0.6,
	store.RelHasEntity:   0.5,
	store.RelContains:    0.45,
	store.RelMentionedIn: 0.4,
}

const defaultRelationWeight = 0.6

// modeWeights maps a mode to its {centrality, relation, overlap}
// rescoring weights.
var modeWeights = map[string][3]float64{
	ModeGlobal: {0.45, 0.35, 0.20},
	ModeLocal:  {0.35, 0.45, 0.20},
	ModeDrift:  {0.25, 0.25, 0.50},
}

// Candidate is one scored query result with its score breakdown.
type Candidate struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Label   string  `json:"label"`
	Score   float64 `json:"score"`
	DegNorm float64 `json:"deg_norm"`
	Rel     float64 `json:"rel"`
	Overlap float64 `json:"overlap"`
	Source  string  `json:"source"`
}

// Response is the query operation result.
type Response struct {
	Results         []Candidate `json:"results"`
	ModeUsed        string      `json:"mode_used"`
	ReasoningChain  []string    `json:"reasoning_chain"`
	TotalConsidered int         `json:"total_considered"`
	DurationS       float64     `json:"duration_s"`
}

// Adapter combines artifact-based and retriever-based candidates under
// one scoring scheme.
type Adapter struct {
	store     store.Backend
	retriever *retrieval.Engine
	embedder  llm.Provider
	artifacts *ArtifactCache
}

// NewAdapter creates a query adapter. artifacts may be nil when no
// index run has produced any.
func NewAdapter(b store.Backend, r *retrieval.Engine, embedder llm.Provider, artifacts *ArtifactCache) *Adapter {
	return &Adapter{store: b, retriever: r, embedder: embedder, artifacts: artifacts}
}

// ResolveMode turns auto into a concrete mode based on query length.
func ResolveMode(mode, query string) (string, error) {
	switch mode {
	case "", ModeAuto:
		if len(strings.Fields(query)) <= autoGlobalMaxTokens {
			return ModeGlobal, nil
		}
		return ModeLocal, nil
	case ModeGlobal, ModeLocal, ModeDrift:
		return mode, nil
	default:
		return "", fmt.Errorf("query: unknown mode %q: %w", mode, store.ErrInvalidInput)
	}
}

// Query runs mode resolution, candidate collection, and rescoring.
func (a *Adapter) Query(ctx context.Context, queryText, mode string, topK int, namespace string) (*Response, error) {
	start := time.Now()
	queryText = strings.TrimSpace(queryText)
	if queryText == "" {
		return nil, fmt.Errorf("query: empty query: %w", store.ErrInvalidInput)
	}
	if topK <= 0 {
		topK = retrieval.DefaultTopK
	}

	used, err := ResolveMode(mode, queryText)
	if err != nil {
		return nil, err
	}
	weights := modeWeights[used]

	chain := []string{
		fmt.Sprintf("mode %s resolved to %s", orAuto(mode), used),
		fmt.Sprintf("weights centrality=%.2f relation=%.2f overlap=%.2f", weights[0], weights[1], weights[2]),
	}

	// Source 1: structured artifact search, when artifacts exist.
	var candidates []Candidate
	if a.artifacts != nil {
		hits, err := a.artifacts.Search(ctx, a.embedder, queryText, topK*retrieverExpansion)
		if err != nil {
			slog.Warn("query: artifact search failed", "error", err)
			chain = append(chain, "artifact search failed, falling back to retriever")
		} else if len(hits) > 0 {
			chain = append(chain, fmt.Sprintf("artifact search produced %d candidates", len(hits)))
			candidates = a.resolveArtifactHits(ctx, hits, namespace)
		}
	}

	// Source 2: retriever with an expanded pool.
	if len(candidates) == 0 {
		results, _, meta, err := a.retriever.Retrieve(ctx, queryText, retrieval.Options{
			Namespace: namespace,
			TopK:      topK * retrieverExpansion,
		})
		if err != nil {
			return nil, err
		}
		chain = append(chain, fmt.Sprintf("retriever strategy %s produced %d candidates", meta.Strategy, len(results)))
		for _, r := range results {
			candidates = append(candidates, Candidate{
				ID:     r.Node.ID,
				Name:   r.Node.Name,
				Label:  r.Node.Label,
				Source: "retriever",
			})
		}
	}

	total := len(candidates)
	queryTokens := tokenSet(queryText)

	for i := range candidates {
		a.rescore(ctx, &candidates[i], namespace, queryTokens, weights)
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	return &Response{
		Results:         candidates,
		ModeUsed:        used,
		ReasoningChain:  chain,
		TotalConsidered: total,
		DurationS:       time.Since(start).Seconds(),
	}, nil
}

// rescore fills the candidate's breakdown and final score.
func (a *Adapter) rescore(ctx context.Context, c *Candidate, namespace string, queryTokens map[string]struct{}, weights [3]float64) {
	if c.ID != "" {
		if n, err := a.store.GetNode(ctx, c.ID); err == nil && n != nil {
			if v, ok := n.Properties["degree_norm"].(float64); ok {
				c.DegNorm = v
			}
		}
		edges, err := a.store.ScanEdges(ctx, store.EdgeFilter{
			Namespace:   namespace,
			TouchingIDs: []string{c.ID},
		})
		if err == nil {
			var sum float64
			for _, e := range edges {
				w, ok := relationWeights[e.Relation]
				if !ok {
					w = defaultRelationWeight
				}
				sum += w
			}
			c.Rel = math.Log1p(sum) / 4
		}
	}

	c.Overlap = overlap(queryTokens, tokenSet(c.Name))

	c.Score = weights[0]*c.DegNorm + weights[1]*c.Rel + weights[2]*c.Overlap
	if len([]rune(c.Name)) > longNameLimit {
		c.Score -= longNamePenalty
	}
}

// resolveArtifactHits maps artifact entity names onto stored nodes by
// case-insensitive name. Unresolved hits are kept without a node id.
func (a *Adapter) resolveArtifactHits(ctx context.Context, hits []ArtifactHit, namespace string) []Candidate {
	out := make([]Candidate, 0, len(hits))
	for _, h := range hits {
		c := Candidate{Name: h.Name, Label: h.Label, Source: "artifacts"}
		nodes, err := a.store.ScanNodes(ctx, store.NodeFilter{
			Namespace:    namespace,
			NameContains: h.Name,
			Limit:        5,
		})
		if err == nil {
			for _, n := range nodes {
				if strings.EqualFold(n.Name, h.Name) {
					c.ID = n.ID
					c.Label = n.Label
					break
				}
			}
		}
		out = append(out, c)
	}
	return out
}

func tokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, t := range strings.Fields(strings.ToLower(text)) {
		set[strings.Trim(t, ".,;:!?\"'()")] = struct{}{}
	}
	delete(set, "")
	return set
}

func overlap(query, name map[string]struct{}) float64 {
	if len(query) == 0 {
		return 0
	}
	var hit int
	for t := range query {
		if _, ok := name[t]; ok {
			hit++
		}
	}
	return float64(hit) / float64(len(query))
}

func orAuto(mode string) string {
	if mode == "" {
		return ModeAuto
	}
	return mode
}
