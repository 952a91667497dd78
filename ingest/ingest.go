// Package ingest turns raw document text into graph state: chunks,
// extracted entities, and the relationship edges between them. One
// document is processed in one store transaction; a re-ingest replaces
// the document's chunk and section nodes wholesale.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"graphrag/chunker"
	"graphrag/events"
	"graphrag/extract"
	"graphrag/layout"
	"graphrag/llm"
	"graphrag/metrics"
	"graphrag/store"
	"graphrag/vector"
)

const (
	// mentionChunkCap bounds MENTIONED_IN edges per entity.
	mentionChunkCap = 5
	// mentionEntityCap bounds how many entities are substring-matched
	// against chunk text.
	mentionEntityCap = 300

	confContains  = 0.9
	confMention   = 0.6
	confCoOccurs  = 0.55
	confHasEntity = 0.5
	confRoleAt    = 0.65
	confUsesTech  = 0.55
)

// Options control one ingest call.
type Options struct {
	DocID             string
	Namespace         string
	Metadata          map[string]any
	ForceHeuristic    bool
	DisableEmbeddings bool
	ComputeLayout     bool
}

// Stats summarizes what one ingest wrote.
type Stats struct {
	Nodes int    `json:"nodes"`
	Edges int    `json:"edges"`
	Store string `json:"store"`
}

// Result is the outcome of one ingest call.
type Result struct {
	Success             bool   `json:"success"`
	Stats               Stats  `json:"stats"`
	ExtractionReasoning string `json:"extraction_reasoning"`
	Namespace           string `json:"namespace"`
	DocID               string `json:"doc_id"`
}

// Ingestor runs the document pipeline. extractor may be nil (heuristic
// only), embedder may be nil (embeddings disabled), index and reg may
// be nil.
type Ingestor struct {
	store     store.Backend
	chunker   *chunker.Chunker
	extractor extract.Extractor
	heuristic extract.Extractor
	embedder  llm.Provider
	index     vector.Index
	bus       *events.Bus
	metrics   *metrics.Registry
	storeKind string

	embedMu    sync.Mutex
	embedCache map[string][]float32
}

// New assembles an ingestor. storeKind names the backend in stats
// output ("sqlite" or "memory").
func New(b store.Backend, c *chunker.Chunker, extractor extract.Extractor, embedder llm.Provider,
	index vector.Index, bus *events.Bus, reg *metrics.Registry, storeKind string) *Ingestor {
	if c == nil {
		c = chunker.New(0)
	}
	return &Ingestor{
		store:      b,
		chunker:    c,
		extractor:  extractor,
		heuristic:  extract.NewHeuristic(),
		embedder:   embedder,
		index:      index,
		bus:        bus,
		metrics:    reg,
		storeKind:  storeKind,
		embedCache: make(map[string][]float32),
	}
}

// Ingest runs the full pipeline for one document.
func (in *Ingestor) Ingest(ctx context.Context, text string, opts Options) (*Result, error) {
	start := time.Now()
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("ingest: empty document text: %w", store.ErrInvalidInput)
	}
	if opts.DocID == "" {
		return nil, fmt.Errorf("ingest: missing doc id: %w", store.ErrInvalidInput)
	}

	chunks := in.chunker.Chunk(text)

	extraction := in.extract(ctx, text, opts.ForceHeuristic)
	for i := range extraction.Entities {
		extraction.Entities[i].Label = extract.Classify(extraction.Entities[i].Name, extraction.Entities[i].Label)
	}

	var embeddings [][]float32
	if in.embedder != nil && !opts.DisableEmbeddings {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Text
		}
		embeddings = in.embedTexts(ctx, texts)
	}

	plan := in.plan(opts, chunks, embeddings, extraction)

	prev, err := in.store.IngestLogEntry(ctx, opts.DocID, opts.Namespace)
	if err != nil {
		in.countError()
		return nil, fmt.Errorf("ingest: reading ingest log: %w", err)
	}
	logEntry := in.nextLogEntry(prev, opts, text)

	if err := in.store.Update(ctx, func(tx store.Tx) error {
		if err := tx.DeleteDocScoped(opts.DocID); err != nil {
			return err
		}
		if err := plan.apply(tx); err != nil {
			return err
		}
		return tx.PutIngestLog(logEntry)
	}); err != nil {
		in.countError()
		return nil, fmt.Errorf("ingest %s: %w", opts.DocID, err)
	}

	in.postCommit(ctx, opts, plan)

	if in.metrics != nil {
		in.metrics.ObserveSeconds(metrics.IngestTotal, metrics.IngestSeconds, time.Since(start).Seconds())
	}
	slog.Info("document ingested", "doc_id", opts.DocID, "namespace", opts.Namespace,
		"chunks", len(chunks), "entities", len(extraction.Entities),
		"nodes", plan.nodeCount(), "edges", len(plan.edges))

	return &Result{
		Success:             true,
		Stats:               Stats{Nodes: plan.nodeCount(), Edges: len(plan.edges), Store: in.storeKind},
		ExtractionReasoning: extraction.Reasoning,
		Namespace:           opts.Namespace,
		DocID:               opts.DocID,
	}, nil
}

// extract runs the configured extractor, falling back to the heuristic
// on failure or when forced.
func (in *Ingestor) extract(ctx context.Context, text string, forceHeuristic bool) *extract.Result {
	if !forceHeuristic && in.extractor != nil {
		res, err := in.extractor.Extract(ctx, text)
		if err == nil {
			return res
		}
		slog.Warn("model extraction failed, using heuristic", "error", err)
	}
	res, err := in.heuristic.Extract(ctx, text)
	if err != nil {
		// The heuristic extractor cannot actually fail; guard anyway.
		return &extract.Result{Reasoning: "extraction unavailable"}
	}
	return res
}

// embedTexts resolves embeddings through the process-lifetime cache.
// Failed batches cache empty vectors so the same text is not retried.
func (in *Ingestor) embedTexts(ctx context.Context, texts []string) [][]float32 {
	out := make([][]float32, len(texts))

	in.embedMu.Lock()
	var missing []string
	missingAt := make(map[string][]int)
	for i, t := range texts {
		if vec, ok := in.embedCache[t]; ok {
			out[i] = vec
			continue
		}
		if len(missingAt[t]) == 0 {
			missing = append(missing, t)
		}
		missingAt[t] = append(missingAt[t], i)
	}
	in.embedMu.Unlock()

	if len(missing) == 0 {
		return out
	}

	vecs, err := in.embedder.Embed(ctx, missing)
	if err != nil || len(vecs) != len(missing) {
		slog.Warn("embedding failed, caching empty vectors", "count", len(missing), "error", err)
		vecs = make([][]float32, len(missing))
	}

	in.embedMu.Lock()
	for i, t := range missing {
		in.embedCache[t] = vecs[i]
		for _, at := range missingAt[t] {
			out[at] = vecs[i]
		}
	}
	in.embedMu.Unlock()
	return out
}

// nextLogEntry computes the ingest log row: a changed content hash
// flips the row to stale and records the previous hash in meta.
func (in *Ingestor) nextLogEntry(prev *store.IngestLogEntry, opts Options, text string) store.IngestLogEntry {
	sum := sha256.Sum256([]byte(text))
	hash := hex.EncodeToString(sum[:])

	entry := store.IngestLogEntry{
		DocID:       opts.DocID,
		Namespace:   opts.Namespace,
		ContentHash: hash,
		Status:      store.StatusIngested,
		Meta:        map[string]any{},
	}
	if prev != nil {
		entry.FirstSeenAt = prev.FirstSeenAt
		for k, v := range prev.Meta {
			entry.Meta[k] = v
		}
		if prev.ContentHash != hash {
			entry.Status = store.StatusStale
			entry.Meta["prev_hash"] = prev.ContentHash
		} else {
			entry.Status = prev.Status
		}
	}
	return entry
}

// postCommit mirrors embeddings to the vector index, refreshes layout,
// and broadcasts events. All of it is best-effort.
func (in *Ingestor) postCommit(ctx context.Context, opts Options, p *writePlan) {
	if in.index != nil && len(p.points) > 0 {
		if err := in.index.Upsert(ctx, opts.Namespace, p.points); err != nil {
			slog.Warn("vector index upsert failed", "doc_id", opts.DocID, "error", err)
		}
	}

	if opts.ComputeLayout {
		if _, err := layout.Apply(ctx, in.store, opts.Namespace, layout.SchemeHybrid); err != nil {
			slog.Warn("layout recompute failed", "namespace", opts.Namespace, "error", err)
		}
		if _, err := layout.ApplyCentrality(ctx, in.store, opts.Namespace); err != nil {
			slog.Warn("centrality recompute failed", "namespace", opts.Namespace, "error", err)
		}
	}

	if in.bus != nil {
		for _, c := range p.chunks {
			in.bus.Publish(events.Event{Name: "node_added", Data: map[string]any{
				"node_id": c.ID, "doc_id": opts.DocID, "namespace": opts.Namespace,
			}})
		}
		if len(p.edges) > 0 {
			in.bus.Publish(events.Event{Name: "edges_added", Data: map[string]any{
				"count": len(p.edges), "doc_id": opts.DocID, "namespace": opts.Namespace,
			}})
		}
	}
}

func (in *Ingestor) countError() {
	if in.metrics != nil {
		in.metrics.Inc(metrics.IngestErrors, 1)
	}
}

// edgeID builds the deterministic edge id for an endpoint pair and
// relation, matching what repeated ingests and artifact imports write.
func edgeID(srcID, tgtID, relation string) string {
	return fmt.Sprintf("rel::%s::%s::%s", srcID, tgtID, relation)
}

// orderedPair canonicalises an unordered pair so each pair emits at
// most one edge regardless of encounter order.
func orderedPair(a, b string) (string, string) {
	if a > b {
		return b, a
	}
	return a, b
}
