// Package graphrag assembles the GraphRAG service: a knowledge-graph
// ingestion and retrieval engine over SQLite (or an in-memory graph
// store), with optional LLM extraction, embeddings, an external vector
// index, community detection, and a CSV-artifact index pipeline.
package graphrag

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"graphrag/chunker"
	"graphrag/cluster"
	"graphrag/events"
	"graphrag/extract"
	"graphrag/graph"
	"graphrag/index"
	"graphrag/ingest"
	"graphrag/layout"
	"graphrag/llm"
	"graphrag/metrics"
	"graphrag/parser"
	"graphrag/query"
	"graphrag/retrieval"
	"graphrag/snapshot"
	"graphrag/store"
	"graphrag/vector"
)

// Service wires every component behind one façade. All operations are
// namespace-scoped; an empty namespace falls back to the configured
// default.
type Service struct {
	cfg       Config
	store     store.Backend
	storeKind string

	chat  llm.Provider
	embed llm.Provider

	parsers      *parser.Registry
	ingestor     *ingest.Ingestor
	retriever    *retrieval.Engine
	adapter      *query.Adapter
	answerer     *query.Answerer
	clusters     *cluster.Service
	summarizer   *cluster.Summarizer
	snapshots    *snapshot.Service
	orchestrator *index.Orchestrator
	bus          *events.Bus
	reg          *metrics.Registry

	schedOnce sync.Once
	schedStop chan struct{}
}

// New builds a Service from config. Optional upstreams (chat model,
// embeddings, vector index, external indexer) are wired only when
// configured; everything else degrades to local fallbacks.
func New(cfg Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		backend   store.Backend
		storeKind string
		err       error
	)
	switch cfg.GraphStore {
	case StoreGraphNative:
		backend = store.NewMemory()
		storeKind = "memory"
	default:
		backend, err = store.OpenSQLite(cfg.DBPath, cfg.EmbeddingDim)
		if err != nil {
			return nil, fmt.Errorf("opening store: %w", err)
		}
		storeKind = "sqlite"
	}

	var chat llm.Provider
	if cfg.Chat.Provider != "" {
		chat, err = llm.NewProvider(llm.Config(cfg.Chat))
		if err != nil {
			backend.Close()
			return nil, fmt.Errorf("creating chat provider: %w", err)
		}
	}
	var embed llm.Provider
	if cfg.EmbeddingsEnabled() {
		embed, err = llm.NewProvider(llm.Config(cfg.Embedding))
		if err != nil {
			backend.Close()
			return nil, fmt.Errorf("creating embedding provider: %w", err)
		}
	}

	var vindex vector.Index
	if cfg.VectorStoreURL != "" {
		q, err := vector.NewQdrant(cfg.VectorStoreURL, cfg.VectorCollection, cfg.VectorStoreAPIKey)
		if err != nil {
			slog.Warn("vector index unavailable, continuing without it", "error", err)
		} else {
			if err := q.Ensure(context.Background(), cfg.EmbeddingDim); err != nil {
				slog.Warn("vector collection ensure failed", "error", err)
			}
			vindex = q
		}
	}

	var extractor extract.Extractor
	if chat != nil {
		extractor = extract.NewLLM(chat, cfg.Chat.Model)
	}

	bus := events.NewBus()
	reg := metrics.New()

	retriever := retrieval.New(backend, embed, vindex)
	artifacts := query.NewArtifactCache(filepath.Join(cfg.ArtifactsDir, "latest"))
	artifacts.Metrics = reg

	clusters := cluster.NewService(backend)
	summarizer := cluster.NewSummarizer(backend, chat)
	summarizer.RateLimitPerMin = cfg.ClusterSummaryRateLimitPerMin
	summarizer.DailyTokenBudget = cfg.ClusterSummaryDailyTokenBudget
	summarizer.PerSummaryCap = cfg.ClusterSummaryMaxTokensPer

	var primary index.Pipeline
	if cfg.IndexerBin != "" && cfg.APIKey != "" {
		primary = &index.CLIPipeline{Bin: cfg.IndexerBin, APIKey: cfg.APIKey}
	}

	s := &Service{
		cfg:          cfg,
		store:        backend,
		storeKind:    storeKind,
		chat:         chat,
		embed:        embed,
		parsers:      parser.NewRegistry(),
		ingestor:     ingest.New(backend, chunker.New(0), extractor, embed, vindex, bus, reg, storeKind),
		retriever:    retriever,
		adapter:      query.NewAdapter(backend, retriever, embed, artifacts),
		answerer:     query.NewAnswerer(retriever, chat),
		clusters:     clusters,
		summarizer:   summarizer,
		snapshots:    snapshot.NewService(backend, clusters.LastModularity),
		orchestrator: index.New(backend, cfg.ArtifactsDir, primary, &index.FallbackPipeline{Store: backend}, reg),
		bus:          bus,
		reg:          reg,
		schedStop:    make(chan struct{}),
	}
	return s, nil
}

// Store exposes the backend for tooling and tests.
func (s *Service) Store() store.Backend { return s.store }

// Metrics returns the metrics registry.
func (s *Service) Metrics() *metrics.Registry { return s.reg }

// Events returns the event bus.
func (s *Service) Events() *events.Bus { return s.bus }

// Close stops the scheduler and the backend.
func (s *Service) Close() error {
	select {
	case <-s.schedStop:
	default:
		close(s.schedStop)
	}
	return s.store.Close()
}

func (s *Service) ns(namespace string) string {
	if namespace == "" {
		return s.cfg.DefaultNamespace
	}
	return namespace
}

func (s *Service) guard() error {
	if !s.cfg.Enabled {
		return ErrDisabled
	}
	return nil
}

// Ingest runs the document pipeline on raw text and triggers a
// background cluster recompute check.
func (s *Service) Ingest(ctx context.Context, text string, opts ingest.Options) (*ingest.Result, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	opts.Namespace = s.ns(opts.Namespace)
	res, err := s.ingestor.Ingest(ctx, text, opts)
	if err != nil {
		return nil, err
	}
	s.clusters.TriggerBackgroundRecompute(ctx, opts.Namespace)
	return res, nil
}

// IngestFile parses an uploaded file (txt/md/pdf/xlsx) into text and
// ingests it. The doc id defaults to the file's base name.
func (s *Service) IngestFile(ctx context.Context, path string, opts ingest.Options) (*ingest.Result, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	text, err := s.parsers.ParseFile(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	if opts.DocID == "" {
		opts.DocID = filepath.Base(path)
	}
	return s.Ingest(ctx, text, opts)
}

// Query runs the retrieval strategy chain.
func (s *Service) Query(ctx context.Context, q string, opts retrieval.Options) ([]retrieval.Result, []store.Edge, *retrieval.Meta, error) {
	if err := s.guard(); err != nil {
		return nil, nil, nil, err
	}
	start := time.Now()
	opts.Namespace = s.ns(opts.Namespace)
	results, edges, meta, err := s.retriever.Retrieve(ctx, q, opts)
	if err == nil {
		s.reg.ObserveSeconds(metrics.RetrievalTotal, metrics.RetrievalSeconds, time.Since(start).Seconds())
	}
	return results, edges, meta, err
}

// Query2 runs the mode-aware query adapter.
func (s *Service) Query2(ctx context.Context, q, mode string, topK int, namespace string) (*query.Response, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	resp, err := s.adapter.Query(ctx, q, mode, topK, s.ns(namespace))
	if err != nil {
		return nil, err
	}
	switch resp.ModeUsed {
	case query.ModeGlobal:
		s.reg.Inc(metrics.QueryModeGlobal, 1)
	case query.ModeLocal:
		s.reg.Inc(metrics.QueryModeLocal, 1)
	case query.ModeDrift:
		s.reg.Inc(metrics.QueryModeDrift, 1)
	}
	return resp, nil
}

// Answer retrieves context and synthesizes an answer with the chat
// model.
func (s *Service) Answer(ctx context.Context, question string, topK int, namespace string) (*query.AnswerResult, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	start := time.Now()
	res, err := s.answerer.Answer(ctx, question, topK, s.ns(namespace))
	if err == nil {
		s.reg.ObserveSeconds(metrics.AnswerTotal, metrics.AnswerSeconds, time.Since(start).Seconds())
	}
	return res, err
}

// Path finds the shortest undirected path between two nodes.
func (s *Service) Path(ctx context.Context, sourceID, targetID string, maxDepth int, namespace string) ([]string, []store.Edge, error) {
	if err := s.guard(); err != nil {
		return nil, nil, err
	}
	namespace = s.ns(namespace)
	ids, err := graph.ShortestPath(ctx, s.store, sourceID, targetID, maxDepth, namespace)
	if err != nil || len(ids) == 0 {
		return ids, nil, err
	}
	edges, err := s.store.ScanEdges(ctx, store.EdgeFilter{Namespace: namespace, TouchingIDs: ids})
	if err != nil {
		return ids, nil, err
	}
	onPath := make(map[string]bool, len(ids))
	for _, id := range ids {
		onPath[id] = true
	}
	var pathEdges []store.Edge
	for _, e := range edges {
		if onPath[e.SourceID] && onPath[e.TargetID] {
			pathEdges = append(pathEdges, e)
		}
	}
	return ids, pathEdges, nil
}

// Similar returns nodes similar to the given node.
func (s *Service) Similar(ctx context.Context, nodeID string, topK int, namespace string) ([]retrieval.Result, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	return s.retriever.Similar(ctx, nodeID, s.ns(namespace), topK)
}

// Clusters computes (or serves cached) community structure.
func (s *Service) Clusters(ctx context.Context, namespace string, force bool) (*cluster.Result, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	res, err := s.clusters.GetClusters(ctx, s.ns(namespace), force)
	if err == nil && force {
		s.reg.Inc(metrics.ClusterRecomputes, 1)
	}
	return res, err
}

// SummarizeClusters labels the requested clusters (all when ids is
// empty).
func (s *Service) SummarizeClusters(ctx context.Context, namespace string, clusterIDs []string, maxTokens int) ([]cluster.Summary, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	namespace = s.ns(namespace)
	res, err := s.clusters.GetClusters(ctx, namespace, false)
	if err != nil {
		return nil, err
	}
	targets := res.Clusters
	if len(clusterIDs) > 0 {
		want := make(map[string]bool, len(clusterIDs))
		for _, id := range clusterIDs {
			want[id] = true
		}
		targets = targets[:0:0]
		for _, c := range res.Clusters {
			if want[c.ID] {
				targets = append(targets, c)
			}
		}
	}
	return s.summarizer.Summarize(ctx, namespace, targets, maxTokens)
}

// RecomputeLayout recomputes positions for the namespace.
func (s *Service) RecomputeLayout(ctx context.Context, namespace, scheme string) (int, error) {
	if err := s.guard(); err != nil {
		return 0, err
	}
	return layout.Apply(ctx, s.store, s.ns(namespace), scheme)
}

// ComputeCentrality refreshes centrality properties for the namespace.
func (s *Service) ComputeCentrality(ctx context.Context, namespace string) (int, error) {
	if err := s.guard(); err != nil {
		return 0, err
	}
	return layout.ApplyCentrality(ctx, s.store, s.ns(namespace))
}

// CreateSnapshot records current graph state.
func (s *Service) CreateSnapshot(ctx context.Context, namespace string) (*store.Snapshot, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	return s.snapshots.Create(ctx, s.ns(namespace))
}

// ListSnapshots returns recent snapshots, newest first.
func (s *Service) ListSnapshots(ctx context.Context, namespace string, limit int) ([]store.Snapshot, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	return s.snapshots.List(ctx, s.ns(namespace), limit)
}

// DiffSnapshots compares two snapshots.
func (s *Service) DiffSnapshots(ctx context.Context, aID, bID string) (*snapshot.Diff, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	return s.snapshots.DiffSnapshots(ctx, aID, bID)
}

// RunIndex triggers one orchestrator run.
func (s *Service) RunIndex(ctx context.Context, opts index.Options) (*index.Report, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	opts.Namespace = s.ns(opts.Namespace)
	return s.orchestrator.Orchestrate(ctx, opts), nil
}

// IndexStatus returns the last run report.
func (s *Service) IndexStatus() (index.Report, error) {
	if err := s.guard(); err != nil {
		return index.Report{}, err
	}
	return s.orchestrator.Status(), nil
}

// IndexLog tails the latest run log.
func (s *Service) IndexLog(n int) ([]string, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	return s.orchestrator.Log(n)
}

// Reset wipes all graph state. Explicit administrative operation.
func (s *Service) Reset(ctx context.Context) error {
	if err := s.guard(); err != nil {
		return err
	}
	slog.Warn("resetting all graph state")
	return s.store.BulkReset(ctx)
}

// StartScheduler launches the periodic index run when configured. At
// most one scheduler runs per process.
func (s *Service) StartScheduler() {
	interval := time.Duration(s.cfg.IndexScheduleIntervalSeconds) * time.Second
	if interval <= 0 || !s.cfg.Enabled {
		return
	}
	s.schedOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-s.schedStop:
					return
				case <-ticker.C:
					report := s.orchestrator.Orchestrate(context.Background(),
						index.Options{Namespace: s.cfg.DefaultNamespace})
					slog.Info("scheduled index run", "status", report.Status)
				}
			}
		}()
	})
}

// cursor helpers for paged node/edge listings. Cursors are plain
// offsets; an empty next cursor means the listing is exhausted.

func decodeCursor(c string) int {
	n, err := strconv.Atoi(c)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func nextCursor(offset, got, limit int) string {
	if got < limit {
		return ""
	}
	return strconv.Itoa(offset + got)
}

// NodePage is one page of a node listing.
type NodePage struct {
	Nodes      []store.Node `json:"nodes"`
	NextCursor string       `json:"next_cursor,omitempty"`
}

// EdgePage is one page of an edge listing.
type EdgePage struct {
	Edges      []store.Edge `json:"edges"`
	NextCursor string       `json:"next_cursor,omitempty"`
}

// Nodes lists nodes with cursor pagination.
func (s *Service) Nodes(ctx context.Context, namespace, cursor string, limit int, labels []string) (*NodePage, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	offset := decodeCursor(cursor)
	nodes, err := s.store.ScanNodes(ctx, store.NodeFilter{
		Namespace: s.ns(namespace),
		Labels:    labels,
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		return nil, err
	}
	return &NodePage{Nodes: nodes, NextCursor: nextCursor(offset, len(nodes), limit)}, nil
}

// Edges lists edges with cursor pagination.
func (s *Service) Edges(ctx context.Context, namespace, cursor string, limit int, relations []string) (*EdgePage, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	offset := decodeCursor(cursor)
	edges, err := s.store.ScanEdges(ctx, store.EdgeFilter{
		Namespace: s.ns(namespace),
		Relations: relations,
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		return nil, err
	}
	return &EdgePage{Edges: edges, NextCursor: nextCursor(offset, len(edges), limit)}, nil
}

// Viewport is an optional spatial window over laid-out nodes.
type Viewport struct {
	MinX, MinY, MaxX, MaxY float64
	HasBounds              bool
}

// GraphView is a sampled subgraph for visualization.
type GraphView struct {
	Nodes []store.Node `json:"nodes"`
	Edges []store.Edge `json:"edges"`
	Total int          `json:"total"`
}

const maxViewportNodes = 500

// Graph samples nodes (optionally within a viewport window) and the
// edges among them.
func (s *Service) Graph(ctx context.Context, namespace string, labels []string, vp Viewport, limit int) (*GraphView, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > maxViewportNodes {
		limit = maxViewportNodes
	}
	namespace = s.ns(namespace)

	total, err := s.store.CountNodes(ctx, namespace)
	if err != nil {
		return nil, err
	}

	nodes, err := s.store.ScanNodes(ctx, store.NodeFilter{Namespace: namespace, Labels: labels})
	if err != nil {
		return nil, err
	}
	if vp.HasBounds {
		inView := nodes[:0:0]
		for _, n := range nodes {
			x, okX := n.Properties["x"].(float64)
			y, okY := n.Properties["y"].(float64)
			if okX && okY && x >= vp.MinX && x <= vp.MaxX && y >= vp.MinY && y <= vp.MaxY {
				inView = append(inView, n)
			}
		}
		nodes = inView
	}
	if len(nodes) > limit {
		nodes = nodes[:limit]
	}

	keep := make(map[string]bool, len(nodes))
	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		keep[n.ID] = true
		ids = append(ids, n.ID)
	}
	var viewEdges []store.Edge
	if len(ids) > 0 {
		edges, err := s.store.ScanEdges(ctx, store.EdgeFilter{Namespace: namespace, TouchingIDs: ids})
		if err != nil {
			return nil, err
		}
		for _, e := range edges {
			if keep[e.SourceID] && keep[e.TargetID] {
				viewEdges = append(viewEdges, e)
			}
		}
	}
	return &GraphView{Nodes: nodes, Edges: viewEdges, Total: total}, nil
}
